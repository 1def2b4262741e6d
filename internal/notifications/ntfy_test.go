package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docflow/internal/config"
	"docflow/internal/events"
	"docflow/internal/notifications"
)

func TestNewReturnsNilWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	if notifications.New(&cfg) != nil {
		t.Fatal("expected nil notifier without a topic")
	}
}

func TestNotifierFormatsTransitions(t *testing.T) {
	tests := []struct {
		name          string
		event         events.Event
		expectTitle   string
		expectMessage string
		expectTags    string
		expectSent    bool
	}{
		{
			name:          "confirmation required",
			event:         events.Event{Kind: events.KindTransition, DocumentID: "d1", Name: "report.pdf", Stage: "entity_pending_confirm"},
			expectTitle:   "docflow - Confirmation Needed",
			expectMessage: "Entities ready for review: report.pdf",
			expectTags:    "docflow,entities,review",
			expectSent:    true,
		},
		{
			name:          "completed",
			event:         events.Event{Kind: events.KindTransition, DocumentID: "d2", Stage: "refined"},
			expectTitle:   "docflow - Complete",
			expectMessage: "Refinement complete: d2",
			expectTags:    "docflow,workflow,completed",
			expectSent:    true,
		},
		{
			name: "failed",
			event: events.Event{Kind: events.KindTransition, DocumentID: "d3", Name: "scan.png", Stage: "failed",
				LastError: &events.ErrorInfo{Stage: "extracting", Message: "no text regions"}},
			expectTitle:   "docflow - Error",
			expectMessage: "Processing failed: scan.png\nextracting: no text regions",
			expectTags:    "docflow,error,alert",
			expectSent:    true,
		},
		{
			name:  "intermediate stage ignored",
			event: events.Event{Kind: events.KindTransition, DocumentID: "d4", Stage: "extracted"},
		},
		{
			name:  "progress ignored",
			event: events.Event{Kind: events.KindProgress, DocumentID: "d5", Stage: "refined"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var (
				sent    bool
				title   string
				tags    string
				message string
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sent = true
				title = r.Header.Get("Title")
				tags = r.Header.Get("Tags")
				body, _ := io.ReadAll(r.Body)
				message = string(body)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.Completed = true
			cfg.Notifications.Failed = true
			cfg.Notifications.ConfirmationRequired = true
			notifier := notifications.New(&cfg)
			if err := notifier.Deliver(context.Background(), tc.event); err != nil {
				t.Fatalf("Deliver returned error: %v", err)
			}
			if sent != tc.expectSent {
				t.Fatalf("sent = %v, want %v", sent, tc.expectSent)
			}
			if !tc.expectSent {
				return
			}
			if title != tc.expectTitle || tags != tc.expectTags || message != tc.expectMessage {
				t.Fatalf("unexpected notification title=%q tags=%q message=%q", title, tags, message)
			}
		})
	}
}

func TestNotifierRespectsRules(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Completed = false
	notifier := notifications.New(&cfg)
	if err := notifier.Deliver(context.Background(), events.Event{Kind: events.KindTransition, Stage: "refined"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if called {
		t.Fatal("expected completed notification to be suppressed")
	}
}

func TestNotifierReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("denied"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Failed = true
	err := notifications.New(&cfg).Deliver(context.Background(), events.Event{Kind: events.KindTransition, Stage: "failed"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
