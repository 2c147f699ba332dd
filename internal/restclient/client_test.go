package restclient

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, sleeps *[]time.Duration) *Client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return New(logger, WithSleep(func(ctx context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer tok")
	resp, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL, Header: hdr})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	var out struct{ OK bool }
	if err := resp.Decode(&out); err != nil || !out.OK {
		t.Fatalf("decode: %v %+v", err, out)
	}
}

func TestTransientRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := newTestClient(t, &sleeps)
	if _, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if len(sleeps) != 2 {
		t.Fatalf("sleeps = %v, want 2 entries", sleeps)
	}
	if sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
		t.Errorf("backoff = %v, want [2s 4s]", sleeps)
	}
}

func TestAttemptCeiling(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	_, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
	if StatusOf(err) != http.StatusInternalServerError {
		t.Errorf("status = %d", StatusOf(err))
	}
}

func TestFatalNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	_, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestRateLimitHonorsRetryAfterSeconds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := newTestClient(t, &sleeps)
	if _, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(sleeps) != 1 || sleeps[0] != 7*time.Second {
		t.Errorf("sleeps = %v, want [7s]", sleeps)
	}
}

func TestRateLimitDurationForm(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "2m59.56s")
	wait, ok := parseRetryAfter(resp)
	if !ok {
		t.Fatal("expected parse")
	}
	// 179.56s + 2s buffer
	if wait < 181*time.Second || wait > 182*time.Second {
		t.Errorf("wait = %v", wait)
	}
}

func TestRateLimitCapped(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "900")
	wait, ok := parseRetryAfter(resp)
	if !ok || wait != 300*time.Second {
		t.Errorf("wait = %v ok=%v, want 300s", wait, ok)
	}
}

func TestForbiddenWithExhaustedQuotaIsRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	var sleeps []time.Duration
	c := newTestClient(t, &sleeps)
	if _, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestPlainForbiddenIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	_, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL})
	if !IsFatal(err) {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestFallbackPolicySubstitutes(t *testing.T) {
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		model := r.URL.Query().Get("model")
		models = append(models, model)
		if model != "good" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(t, nil)
	policy := &FallbackPolicy{
		Matches:    func(e *APIError) bool { return e.StatusCode == http.StatusBadRequest },
		Alternates: []string{"alsobad", "good"},
		Apply: func(req *Request, alt string) bool {
			req.URL = srv.URL + "?model=" + alt
			return true
		},
	}
	_, err := c.DoWithFallback(context.Background(), Request{Method: "GET", URL: srv.URL + "?model=dead"}, policy)
	if err != nil {
		t.Fatalf("DoWithFallback: %v", err)
	}
	want := []string{"dead", "alsobad", "good"}
	if len(models) != len(want) {
		t.Fatalf("models = %v", models)
	}
	for i := range want {
		if models[i] != want[i] {
			t.Errorf("models[%d] = %q, want %q", i, models[i], want[i])
		}
	}
}

func TestContextCancelDuringSleep(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	c := New(logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, Request{Method: "GET", URL: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestEveryResponseLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := New(logger, WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL + "/ok?token=sekrit"}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	logs := buf.String()
	if !strings.Contains(logs, "http response") || !strings.Contains(logs, "status=200") {
		t.Errorf("success response not logged:\n%s", logs)
	}
	if strings.Contains(logs, "sekrit") {
		t.Errorf("query string leaked into logs:\n%s", logs)
	}

	buf.Reset()
	if _, err := c.Do(context.Background(), Request{Method: "GET", URL: srv.URL + "/missing"}); err == nil {
		t.Fatal("want error for 404")
	}
	logs = buf.String()
	if !strings.Contains(logs, "level=WARN") || !strings.Contains(logs, "status=404") {
		t.Errorf("fatal first attempt not logged:\n%s", logs)
	}
}
