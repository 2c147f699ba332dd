package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/basket/go-steward/internal/restclient"
)

// Message is one turn in a chat completion conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Client talks to an OpenAI-compatible chat completions endpoint. When
// the configured model is decommissioned or rejected, fallback models
// are tried in order.
type Client struct {
	rc             *restclient.Client
	baseURL        string
	apiKey         string
	model          string
	fallbackModels []string
	maxTokens      int
	temperature    float64
	logger         *slog.Logger
}

func NewClient(rc *restclient.Client, baseURL, apiKey, model string, fallbacks []string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rc:             rc,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		model:          model,
		fallbackModels: fallbacks,
		maxTokens:      4096,
		temperature:    0.7,
		logger:         logger,
	}
}

// SetSampling overrides the default token and temperature settings.
func (c *Client) SetSampling(maxTokens int, temperature float64) {
	if maxTokens > 0 {
		c.maxTokens = maxTokens
	}
	c.temperature = temperature
}

// Model returns the primary configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends the conversation and returns the assistant's reply.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+c.apiKey)
	hdr.Set("Content-Type", "application/json")

	req := restclient.Request{
		Method: "POST",
		URL:    c.baseURL + "/chat/completions",
		Header: hdr,
		Body:   payload,
	}

	resp, err := c.rc.DoWithFallback(ctx, req, c.modelFallback(messages))
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	c.logger.Debug("completion finished",
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens)
	return out.Choices[0].Message.Content, nil
}

// modelFallback routes around decommissioned-model rejections by
// re-encoding the request body with each alternate model.
func (c *Client) modelFallback(messages []Message) *restclient.FallbackPolicy {
	if len(c.fallbackModels) == 0 {
		return nil
	}
	return &restclient.FallbackPolicy{
		Matches: func(e *restclient.APIError) bool {
			if e.StatusCode != http.StatusBadRequest && e.StatusCode != http.StatusNotFound {
				return false
			}
			body := strings.ToLower(e.Body)
			return strings.Contains(body, "decommission") ||
				strings.Contains(body, "model_not_found") ||
				strings.Contains(body, "does not exist") ||
				strings.Contains(body, "invalid model")
		},
		Alternates: c.fallbackModels,
		Apply: func(req *restclient.Request, alt string) bool {
			c.logger.Warn("model unavailable, trying alternate", "model", alt)
			req.Body = chatRequest{
				Model:       alt,
				Messages:    messages,
				MaxTokens:   c.maxTokens,
				Temperature: c.temperature,
			}
			return true
		},
	}
}
