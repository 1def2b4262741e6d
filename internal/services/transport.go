package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

const maxErrorBody = 512

// Envelope is the status block shared by the OCR and entity service
// responses.
type Envelope struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// Err converts an unsuccessful envelope into a classified error.
func (e Envelope) Err(operation string) error {
	if e.Success {
		return nil
	}
	message := strings.TrimSpace(e.Error)
	if message == "" {
		message = "service reported failure"
	}
	if e.Recoverable {
		return WrapRecoverable(ErrUpstream, "", operation, message, nil)
	}
	return Wrap(ErrUpstream, "", operation, message, nil)
}

// PostJSON sends body as JSON and decodes the response into out. Transport
// failures and non-2xx statuses are classified with ClassifyTransport and
// ClassifyStatus.
func PostJSON(ctx context.Context, client *http.Client, endpoint, operation string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return Wrap(ErrValidation, "", operation, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Wrap(ErrConfiguration, "", operation, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rid, ok := RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	return doJSON(client, req, operation, out)
}

// GetJSON issues a GET and decodes the response into out when out is non-nil.
func GetJSON(ctx context.Context, client *http.Client, endpoint, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Wrap(ErrConfiguration, "", operation, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(client, req, operation, out)
}

func doJSON(client *http.Client, req *http.Request, operation string, out any) error {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return ClassifyTransport(operation, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return ClassifyTransport(operation, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return ClassifyStatus(operation, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return Wrap(ErrUpstream, "", operation, "malformed response", err)
	}
	return nil
}

// ClassifyStatus maps an HTTP status onto the error taxonomy: 408, 429 and
// 5xx are recoverable, other statuses are fatal.
func ClassifyStatus(operation string, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody] + "..."
	}
	cause := fmt.Errorf("http %d: %s", status, snippet)
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return Wrap(ErrUpstreamTimeout, "", operation, "service timed out", cause)
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return WrapRecoverable(ErrUpstream, "", operation, "transient service failure", cause)
	default:
		return Wrap(ErrUpstream, "", operation, "request rejected", cause)
	}
}

// ClassifyTransport maps client-side failures: deadlines and network
// timeouts become ErrUpstreamTimeout, connection failures are recoverable
// upstream errors, and caller cancellation passes through untouched.
func ClassifyTransport(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(ErrUpstreamTimeout, "", operation, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(ErrUpstreamTimeout, "", operation, "request timed out", err)
		}
		return WrapRecoverable(ErrUpstream, "", operation, "transport error", err)
	}
	return WrapRecoverable(ErrUpstream, "", operation, "transport error", err)
}
