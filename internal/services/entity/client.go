package entity

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"docflow/internal/services"
)

const (
	// DefaultType is assigned when the service omits an entity type.
	DefaultType = "ORGANIZATION"

	operationIdentify = "entity identify"
	operationAnalyze  = "entity analyze"
)

// Entity is one recognised name with its proposed translation.
type Entity struct {
	Source     string `json:"source"`
	Target     string `json:"target,omitempty"`
	SourceURL  string `json:"sourceUrl,omitempty"`
	Confidence string `json:"confidence,omitempty"`
	Type       string `json:"type"`
}

// AnalyzeRequest selects the deep lookup input: the full document text, or
// a curated list of names for manual adjustment. Names wins when both are set.
type AnalyzeRequest struct {
	Text  string
	Names []string
}

// Config configures the entity lookup client.
type Config struct {
	BaseURL string
}

// Client calls the entity lookup service.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an entity client. Per-call deadlines come from the
// caller's context.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg:        Config{BaseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")},
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type wireEntity struct {
	ChineseName string `json:"chinese_name"`
	EnglishName string `json:"english_name"`
	Source      string `json:"source"`
	Confidence  string `json:"confidence"`
	Type        string `json:"type"`
}

type lookupResponse struct {
	services.Envelope
	Entities []wireEntity `json:"entities"`
	Count    int          `json:"count"`
}

type lookupRequest struct {
	Text     string   `json:"text,omitempty"`
	Entities []string `json:"entities,omitempty"`
}

// Identify returns entity names found in text without external verification.
func (c *Client) Identify(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return c.lookup(ctx, "identify", operationIdentify, lookupRequest{Text: text})
}

// Analyze performs the full lookup with external sources and confidence.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) ([]Entity, error) {
	names := cleanNames(req.Names)
	if len(names) > 0 {
		return c.lookup(ctx, "analyze", operationAnalyze, lookupRequest{Entities: names})
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	return c.lookup(ctx, "analyze", operationAnalyze, lookupRequest{Text: req.Text})
}

func (c *Client) lookup(ctx context.Context, path, operation string, req lookupRequest) ([]Entity, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "api", "entity", path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", operation, "build url", err)
	}
	var resp lookupResponse
	if err := services.PostJSON(ctx, c.httpClient, endpoint, operation, req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Envelope.Err(operation); err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(resp.Entities))
	for _, item := range resp.Entities {
		source := strings.TrimSpace(item.ChineseName)
		if source == "" {
			continue
		}
		kind := strings.TrimSpace(item.Type)
		if kind == "" {
			kind = DefaultType
		}
		out = append(out, Entity{
			Source:     source,
			Target:     strings.TrimSpace(item.EnglishName),
			SourceURL:  strings.TrimSpace(item.Source),
			Confidence: strings.TrimSpace(item.Confidence),
			Type:       kind,
		})
	}
	return out, nil
}

// HealthCheck probes GET <base>/health.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "health")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "", "entity health", "build url", err)
	}
	return services.GetJSON(ctx, c.httpClient, endpoint, "entity health", nil)
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
