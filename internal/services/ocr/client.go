package ocr

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"docflow/internal/services"
)

const operationExtract = "ocr extract"

// Config configures the HTTP OCR client.
type Config struct {
	BaseURL   string
	Languages []string
}

// Client calls an OCR service that accepts a base64 page image and answers
// with {success, regions, error, recoverable}.
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

// NewClient constructs an HTTP OCR client. Per-call deadlines come from the
// caller's context.
func NewClient(cfg Config, opts ...Option) *Client {
	client := &Client{
		cfg: Config{
			BaseURL:   strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			Languages: append([]string(nil), cfg.Languages...),
		},
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) Name() string { return "http" }

type extractRequest struct {
	Page      int      `json:"page"`
	Filename  string   `json:"filename,omitempty"`
	Image     string   `json:"image"`
	Languages []string `json:"languages,omitempty"`
}

type extractResponse struct {
	services.Envelope
	Regions  []Region `json:"regions"`
	Language string   `json:"language"`
}

// Extract sends one page to the service.
func (c *Client) Extract(ctx context.Context, page Page) (Result, error) {
	image, err := page.LoadImage()
	if err != nil {
		return Result{}, err
	}
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "ocr")
	if err != nil {
		return Result{}, services.Wrap(services.ErrConfiguration, "", operationExtract, "build url", err)
	}
	req := extractRequest{
		Page:      page.Number,
		Filename:  filepath.Base(page.Path),
		Image:     base64.StdEncoding.EncodeToString(image),
		Languages: c.cfg.Languages,
	}
	var resp extractResponse
	if err := services.PostJSON(ctx, c.httpClient, endpoint, operationExtract, req, &resp); err != nil {
		return Result{}, err
	}
	if err := resp.Envelope.Err(operationExtract); err != nil {
		return Result{}, err
	}
	for i := range resp.Regions {
		resp.Regions[i].Page = page.Number
	}
	return Result{Regions: resp.Regions, Language: resp.Language}, nil
}

// HealthCheck probes GET <base>/health.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, "health")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "", "ocr health", "build url", err)
	}
	return services.GetJSON(ctx, c.httpClient, endpoint, "ocr health", nil)
}
