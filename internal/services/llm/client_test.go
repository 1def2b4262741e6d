package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docflow/internal/retry"
	"docflow/internal/services"
)

func completionHandler(t *testing.T, content string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}
}

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "```json\n{\"ok\":true}\n```"))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	err := client.HealthCheck(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestClientClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		recoverable bool
	}{
		{"unauthorized", http.StatusUnauthorized, false},
		{"bad request", http.StatusBadRequest, false},
		{"request timeout", http.StatusRequestTimeout, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
			_, err := client.Complete(context.Background(), "sys", "user")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, services.ErrUpstream) {
				t.Fatalf("expected upstream marker, got %v", err)
			}
			if services.IsRecoverable(err) != tc.recoverable {
				t.Fatalf("recoverable = %v, want %v (%v)", services.IsRecoverable(err), tc.recoverable, err)
			}
		})
	}
}

func TestRetryPolicyHonoursRetryAfter(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		completionHandler(t, "[0] Hello")(w, r)
	}))
	defer server.Close()

	var delays []time.Duration
	policy := retry.Default(0)
	policy.Sleeper = func(d time.Duration) { delays = append(delays, d) }

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	result, err := retry.DoValue(context.Background(), policy, "refine", func(ctx context.Context) (Result, error) {
		return client.Refine(ctx, RefineRequest{Regions: []Region{{ID: 0, Text: "你好"}}})
	})
	if err != nil {
		t.Fatalf("Refine returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(delays) != 1 || delays[0] != 3*time.Second {
		t.Fatalf("expected Retry-After delay of 3s, got %v", delays)
	}
	if result.RefinedText != "Hello" {
		t.Fatalf("unexpected refined text %q", result.RefinedText)
	}
}

func TestRefineInjectsGuidanceAndParsesLines(t *testing.T) {
	var prompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req completionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		prompt = req.Messages[1].Content
		completionHandler(t, "[2] Tencent reported growth\nnoise line\n[1] Annual report\n[9] stray")(w, r)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	result, err := client.Refine(context.Background(), RefineRequest{
		Regions: []Region{
			{ID: 1, Text: "年度报告", Draft: "Annual Report"},
			{ID: 2, Text: "腾讯报告增长", Draft: "Tengxun growth"},
		},
		Guidance: []Term{{Source: "腾讯", Target: "Tencent"}},
	})
	if err != nil {
		t.Fatalf("Refine returned error: %v", err)
	}
	if !strings.Contains(prompt, "腾讯 => Tencent") || !strings.Contains(prompt, "[1] 年度报告") {
		t.Fatalf("prompt missing guidance or regions: %q", prompt)
	}
	if result.RefinedText != "Annual report\nTencent reported growth" {
		t.Fatalf("unexpected refined text %q", result.RefinedText)
	}
	if len(result.PerRegion) != 2 || result.PerRegion[0].Original != "Annual Report" {
		t.Fatalf("unexpected per-region results %+v", result.PerRegion)
	}
}

func TestRefineRejectsUnparseableOutput(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "I cannot help with that."))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL})
	_, err := client.Refine(context.Background(), RefineRequest{Regions: []Region{{ID: 0, Text: "文本"}}})
	if err == nil {
		t.Fatal("expected error for unparseable output")
	}
	if services.IsRecoverable(err) {
		t.Fatalf("malformed output must be fatal, got %v", err)
	}
}

func TestParseRefineOutputJSONFallback(t *testing.T) {
	regions := []Region{{ID: 4, Text: "a"}, {ID: 5, Text: "b"}}
	got := ParseRefineOutput("```json\n{\"translations\":[{\"id\":5,\"translation\":\"B\"},{\"id\":4,\"translation\":\"A\"}]}\n```", regions)
	if len(got) != 2 || got[0].ID != 4 || got[1].Translation != "B" {
		t.Fatalf("unexpected parse %+v", got)
	}
}

func TestBatches(t *testing.T) {
	var regions []Region
	for i := 0; i < 65; i++ {
		regions = append(regions, Region{ID: i, Text: "x"})
	}
	regions = append(regions, Region{ID: 99, Text: "  "})
	batches := Batches(regions, DefaultBatchSize)
	if len(batches) != 3 || len(batches[0]) != 30 || len(batches[2]) != 5 {
		t.Fatalf("unexpected batch layout: %d batches", len(batches))
	}
}

func TestDecodeJSONExtractsObject(t *testing.T) {
	var payload struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON(`Sure! {"ok": true} hope that helps`, &payload); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if !payload.OK {
		t.Fatal("expected ok=true")
	}
	if err := DecodeJSON("   ", &payload); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestDecodeJSONSkipsBracketsInStrings(t *testing.T) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := DecodeJSON("note [draft]: {\"text\": \"a } b\"} end", &payload); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if payload.Text != "a } b" {
		t.Fatalf("unexpected text %q", payload.Text)
	}
}

func TestStripFence(t *testing.T) {
	tests := map[string]string{
		"```\n[0] Hi\n```":     "[0] Hi",
		"```text\n[1] Yo\n```": "[1] Yo",
		"[2] plain":            "[2] plain",
	}
	for in, want := range tests {
		if got := stripFence(in); got != want {
			t.Fatalf("stripFence(%q) = %q, want %q", in, got, want)
		}
	}
}
