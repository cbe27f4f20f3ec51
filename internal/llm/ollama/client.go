// Package ollama implements the triage.Completer contract against a local
// Ollama-compatible chat endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/MaxMed21M/Teletriagem-MVP/internal/triage"
)

// Client talks to an Ollama chat endpoint. All transport failures are mapped
// onto the triage error vocabulary, and a circuit breaker sheds load while
// the backend is down.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// New creates a client for the given base URL (e.g. http://127.0.0.1:11434)
// and model name.
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			// Per-call deadlines come from the request context.
			Timeout: 0,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "ollama",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Message is one chat turn in the Ollama wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the payload sent to /api/chat.
type Request struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

// Response is the non-streaming payload returned by /api/chat.
type Response struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// CircuitOpen reports whether the breaker currently rejects calls.
func (c *Client) CircuitOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

// Complete sends one prompt exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, req *triage.CompletionRequest) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	out, err := c.breaker.Execute(func() (any, error) {
		return c.send(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: circuit open", triage.ErrLLMUnavailable)
		}
		return "", err
	}
	return out.(string), nil
}

func (c *Client) send(ctx context.Context, req *triage.CompletionRequest) (string, error) {
	messages := make([]Message, 0, 2)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	options := map[string]any{
		"temperature": req.Temperature,
		"top_p":       req.TopP,
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(Request{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", mapTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", mapTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: ollama status %d: %s",
			triage.ErrLLMUnavailable, resp.StatusCode, truncate(respBody, 256))
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("%w: unmarshal response: %v", triage.ErrLLMUnavailable, err)
	}
	return out.Message.Content, nil
}

// Ping checks backend reachability via the version endpoint.
func (c *Client) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/version", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return mapTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama status %d", triage.ErrLLMUnavailable, resp.StatusCode)
	}
	return nil
}

func mapTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", triage.ErrLLMTimeout, err)
	}
	return fmt.Errorf("%w: %v", triage.ErrLLMUnavailable, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
