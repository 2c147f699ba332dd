package restclient

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrorClass categorizes outbound API failures for retry decision-making.
type ErrorClass string

const (
	// ErrorClassTransient indicates network failures or 5xx responses.
	// Transient failures are retried with exponential backoff.
	ErrorClassTransient ErrorClass = "TRANSIENT"

	// ErrorClassRateLimited indicates the remote rejected the call for
	// quota reasons (429, or 403 with an exhausted rate-limit header).
	// Rate-limited failures are retried after the advertised reset delay.
	ErrorClassRateLimited ErrorClass = "RATE_LIMITED"

	// ErrorClassFatal indicates failures that will not heal with a retry
	// (401, 403, 404, 400). Fatal failures surface immediately.
	ErrorClassFatal ErrorClass = "FATAL"
)

// APIError is the typed error returned for non-2xx responses.
type APIError struct {
	Class      ErrorClass
	StatusCode int
	Method     string
	URL        string
	Body       string

	// RetryAfter is the delay the remote asked for, when advertised.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// IsFatal reports whether err is an APIError that will not heal with a retry.
func IsFatal(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == ErrorClassFatal
}

// IsRateLimited reports whether err is an APIError caused by quota exhaustion.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Class == ErrorClassRateLimited
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// classifyStatus maps an HTTP response to an ErrorClass.
// 403 is fatal except when the rate-limit remaining header reads zero,
// which GitHub uses for secondary rate limiting.
func classifyStatus(resp *http.Response) ErrorClass {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimited
	case resp.StatusCode == http.StatusForbidden:
		if strings.TrimSpace(resp.Header.Get("X-RateLimit-Remaining")) == "0" {
			return ErrorClassRateLimited
		}
		return ErrorClassFatal
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest:
		return ErrorClassFatal
	case resp.StatusCode >= 500:
		return ErrorClassTransient
	default:
		return ErrorClassFatal
	}
}

var durationForm = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+(?:\.\d+)?)s)?$`)

const (
	// retryAfterBuffer pads the advertised reset so the retry lands after
	// the window actually reopens.
	retryAfterBuffer = 2 * time.Second

	// retryAfterCap bounds how long a single rate-limit wait can be.
	retryAfterCap = 300 * time.Second
)

// parseRetryAfter extracts the wait duration a response advertises.
// Accepts integer seconds ("59") and Go-style duration forms ("2m59.56s")
// from either Retry-After or the rate-limit reset headers. Returns the
// padded, capped delay and whether a usable value was found.
func parseRetryAfter(resp *http.Response) (time.Duration, bool) {
	candidates := []string{
		resp.Header.Get("Retry-After"),
		resp.Header.Get("X-RateLimit-Reset-After"),
	}
	for _, raw := range candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
			return padAndCap(time.Duration(secs) * time.Second), true
		}
		if d, ok := parseDurationForm(raw); ok {
			return padAndCap(d), true
		}
	}
	return 0, false
}

func parseDurationForm(raw string) (time.Duration, bool) {
	m := durationForm.FindStringSubmatch(raw)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, false
	}
	var total time.Duration
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		total += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mins, _ := strconv.Atoi(m[2])
		total += time.Duration(mins) * time.Minute
	}
	if m[3] != "" {
		secs, _ := strconv.ParseFloat(m[3], 64)
		total += time.Duration(secs * float64(time.Second))
	}
	return total, true
}

func padAndCap(d time.Duration) time.Duration {
	d += retryAfterBuffer
	if d > retryAfterCap {
		return retryAfterCap
	}
	return d
}
