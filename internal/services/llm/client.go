package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docflow/internal/services"
)

const (
	defaultBaseURL    = "https://openrouter.ai/api/v1/chat/completions"
	defaultTimeout    = 120 * time.Second
	refineTemperature = 0.3
	opComplete        = "llm complete"
	maxErrorBody      = 512
)

// Config holds the endpoint and credentials of an OpenAI-compatible
// chat completion API.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

func (c Config) normalized() Config {
	out := Config{
		APIKey:         strings.TrimSpace(c.APIKey),
		BaseURL:        strings.TrimSpace(c.BaseURL),
		Model:          strings.TrimSpace(c.Model),
		Referer:        strings.TrimSpace(c.Referer),
		Title:          strings.TrimSpace(c.Title),
		TimeoutSeconds: c.TimeoutSeconds,
	}
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	return out
}

func (c Config) timeout() time.Duration {
	if c.TimeoutSeconds > 0 {
		return time.Duration(c.TimeoutSeconds) * time.Second
	}
	return defaultTimeout
}

// Client performs single completion attempts. Retries belong to the caller.
type Client struct {
	cfg  Config
	http *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient builds a client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg = cfg.normalized()
	c := &Client{cfg: cfg, http: &http.Client{Timeout: cfg.timeout()}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns the model's plain-text answer.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, false)
}

// CompleteJSON asks the model for a JSON object and returns it unparsed.
func (c *Client) CompleteJSON(ctx context.Context, system, user string) (string, error) {
	return c.complete(ctx, system, user, true)
}

// HealthCheck confirms the key and model answer a trivial JSON prompt.
func (c *Client) HealthCheck(ctx context.Context) error {
	content, err := c.CompleteJSON(ctx, "Reply with JSON only.", `Reply with {"ok":true}`)
	if err != nil {
		return err
	}
	var ack struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(content, &ack); err != nil {
		return fmt.Errorf("llm health: %w", err)
	}
	if !ack.OK {
		return errors.New("llm health: model did not acknowledge")
	}
	return nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string            `json:"model"`
	Messages       []message         `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type completionChoice struct {
	Message struct {
		Content string `json:"content"`
		Refusal string `json:"refusal"`
	} `json:"message"`
	// Some providers answer with the streaming shape even for stream=false.
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// content returns the first non-blank answer among the choices.
func (r completionResponse) content() (string, string, string) {
	var finish, refusal string
	for _, ch := range r.Choices {
		if finish == "" {
			finish = ch.FinishReason
		}
		if refusal == "" {
			refusal = strings.TrimSpace(ch.Message.Refusal)
		}
		for _, text := range []string{ch.Message.Content, ch.Delta.Content} {
			if text = strings.TrimSpace(text); text != "" {
				return text, finish, refusal
			}
		}
	}
	return "", finish, refusal
}

func (c *Client) complete(ctx context.Context, system, user string, jsonOnly bool) (string, error) {
	system, user = strings.TrimSpace(system), strings.TrimSpace(user)
	if system == "" || user == "" {
		return "", services.Wrap(services.ErrValidation, "", opComplete, "system and user prompts required", nil)
	}
	if c.cfg.APIKey == "" {
		return "", services.Wrap(services.ErrConfiguration, "", opComplete, "api key required", nil)
	}
	req := completionRequest{
		Model:       c.cfg.Model,
		Messages:    []message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		Temperature: refineTemperature,
	}
	if jsonOnly {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	resp, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	text, finish, refusal := resp.content()
	if text == "" {
		detail := fmt.Sprintf("model returned no content (finish_reason=%q refusal=%q)", finish, refusal)
		return "", services.WrapRecoverable(services.ErrUpstream, "", opComplete, detail, nil)
	}
	return text, nil
}

// statusError is a non-2xx completion response.
type statusError struct {
	code  int
	body  string
	delay time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.code, e.body)
}

// RetryAfter exposes the server's Retry-After hint to retry.Policy.
func (e *statusError) RetryAfter() time.Duration { return e.delay }

// post sends one request and classifies every failure: 408, 429 and 5xx
// are recoverable, other statuses and undecodable bodies are not.
func (c *Client) post(ctx context.Context, payload completionRequest) (completionResponse, error) {
	var out completionResponse
	body, err := json.Marshal(payload)
	if err != nil {
		return out, services.Wrap(services.ErrValidation, "", opComplete, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return out, services.Wrap(services.ErrConfiguration, "", opComplete, "build request", err)
	}
	c.setHeaders(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return out, services.ClassifyTransport(opComplete, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, services.WrapRecoverable(services.ErrUpstream, "", opComplete, "read response", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		serr := &statusError{code: resp.StatusCode, body: snippet(string(raw), maxErrorBody), delay: retryAfter(resp.Header.Get("Retry-After"))}
		switch {
		case resp.StatusCode == http.StatusRequestTimeout,
			resp.StatusCode == http.StatusTooManyRequests,
			resp.StatusCode >= http.StatusInternalServerError:
			return out, services.WrapRecoverable(services.ErrUpstream, "", opComplete, "transient http status", serr)
		default:
			return out, services.Wrap(services.ErrUpstream, "", opComplete, "request rejected", serr)
		}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, services.Wrap(services.ErrUpstream, "", opComplete, "malformed response: "+snippet(string(raw), 160), err)
	}
	if out.Error != nil {
		return out, services.Wrap(services.ErrUpstream, "", opComplete, "api error: "+strings.TrimSpace(out.Error.Message), nil)
	}
	return out, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
}

// retryAfter accepts delta-seconds or an HTTP date; anything else is zero.
func retryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if when, err := http.ParseTime(value); err == nil {
		return max(time.Until(when), 0)
	}
	return 0
}
