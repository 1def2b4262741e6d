package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/events"
)

const userAgent = "docflow/0.1.0"

// Notifier pushes ntfy messages for the transitions an operator cares
// about: documents waiting on entity confirmation, completed documents, and
// failures. It implements events.Sink.
type Notifier struct {
	endpoint string
	client   *http.Client
	rules    Rules
}

// Rules selects which transitions produce a notification.
type Rules struct {
	Completed            bool
	Failed               bool
	ConfirmationRequired bool
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// New builds a notifier from config. It returns nil when no topic is
// configured; callers skip wiring a nil notifier.
func New(cfg *config.Config) *Notifier {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		rules: Rules{
			Completed:            cfg.Notifications.Completed,
			Failed:               cfg.Notifications.Failed,
			ConfirmationRequired: cfg.Notifications.ConfirmationRequired,
		},
	}
}

func (n *Notifier) Name() string { return "ntfy" }

// Deliver sends a notification when evt is a transition matching the rules.
func (n *Notifier) Deliver(ctx context.Context, evt events.Event) error {
	if n == nil || evt.Kind != events.KindTransition {
		return nil
	}
	data, ok := n.format(evt)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *Notifier) format(evt events.Event) (payload, bool) {
	label := strings.TrimSpace(evt.Name)
	if label == "" {
		label = evt.DocumentID
	}
	switch evt.Stage {
	case "entity_pending_confirm":
		if !n.rules.ConfirmationRequired {
			return payload{}, false
		}
		return payload{
			title:   "docflow - Confirmation Needed",
			message: fmt.Sprintf("Entities ready for review: %s", label),
			tags:    []string{"docflow", "entities", "review"},
		}, true
	case "refined":
		if !n.rules.Completed {
			return payload{}, false
		}
		return payload{
			title:    "docflow - Complete",
			message:  fmt.Sprintf("Refinement complete: %s", label),
			tags:     []string{"docflow", "workflow", "completed"},
			priority: "high",
		}, true
	case "failed":
		if !n.rules.Failed {
			return payload{}, false
		}
		var builder strings.Builder
		builder.WriteString("Processing failed: ")
		builder.WriteString(label)
		if evt.LastError != nil {
			builder.WriteString("\n")
			if evt.LastError.Stage != "" {
				builder.WriteString(evt.LastError.Stage)
				builder.WriteString(": ")
			}
			builder.WriteString(strings.TrimSpace(evt.LastError.Message))
		}
		return payload{
			title:    "docflow - Error",
			message:  builder.String(),
			tags:     []string{"docflow", "error", "alert"},
			priority: "high",
		}, true
	default:
		return payload{}, false
	}
}

func (n *Notifier) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
