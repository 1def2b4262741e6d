package refinement_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"docflow/internal/config"
	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/refinement"
	"docflow/internal/services"
	"docflow/internal/services/llm"
	"docflow/internal/services/ocr"
	"docflow/internal/stage"
	"docflow/internal/stageexec"
	"docflow/internal/testsupport"
)

type fakeModel struct {
	mu       sync.Mutex
	requests []llm.RefineRequest
	fail     func(call int) error
}

func (f *fakeModel) Refine(_ context.Context, req llm.RefineRequest) (llm.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	call := len(f.requests)
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return llm.Result{}, err
		}
	}
	out := make([]llm.RegionResult, 0, len(req.Regions))
	for _, region := range req.Regions {
		out = append(out, llm.RegionResult{ID: region.ID, Translation: "EN " + region.Text, Original: region.Text})
	}
	return llm.Merge(out), nil
}

func (f *fakeModel) HealthCheck(context.Context) error { return nil }

func extractionPayload(count int) stage.ExtractionPayload {
	regions := make([]ocr.Region, count)
	for i := range regions {
		regions[i] = ocr.Region{ID: i, Src: fmt.Sprintf("区域%d", i)}
	}
	return stage.ExtractionPayload{Engine: "fake", PageCount: 1, Regions: regions}
}

func newConfig(t *testing.T) *config.Config {
	return testsupport.NewConfig(t, testsupport.WithMutation(func(c *config.Config) {
		c.LLM.BatchSize = 2
		c.LLM.Model = "test-model"
	}))
}

func runRefine(t *testing.T, cfg *config.Config, store *document.Store, model refinement.Model, id string, publisher events.Publisher) (*document.Record, error) {
	t.Helper()
	return stageexec.Run(context.Background(), stageexec.Options{
		Logger:            logging.NewNop(),
		Store:             store,
		Publisher:         publisher,
		Handler:           refinement.NewRefiner(cfg, logging.NewNop(), model),
		DocumentID:        id,
		ExpectedVersion:   -1,
		HeartbeatInterval: time.Hour,
	})
}

func TestRefineWithoutEntities(t *testing.T) {
	cfg := newConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := testsupport.NewDocument(t, store, "report.pdf", false)
	rec = testsupport.MoveTo(t, store, rec.ID, document.StageExtracted, map[document.Slot]any{
		document.SlotExtraction: extractionPayload(5),
	})
	model := &fakeModel{}
	recorder := &testsupport.EventRecorder{}

	final, err := runRefine(t, cfg, store, model, rec.ID, recorder)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	if final.Stage != document.StageRefined || final.Version != rec.Version+1 || final.EffectiveProgress() != 100 {
		t.Fatalf("unexpected record %+v", final)
	}
	if len(model.requests) != 3 {
		t.Fatalf("expected 3 batches of at most 2, got %d", len(model.requests))
	}
	for _, req := range model.requests {
		if len(req.Guidance) != 0 {
			t.Fatalf("unconfirmed document must not send guidance: %+v", req.Guidance)
		}
	}
	payload, err := stage.DecodePayload[stage.RefinementPayload](final, document.SlotRefinement, "test")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.PerRegion) != 5 || payload.Guided || payload.Model != "test-model" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if lines := strings.Split(payload.RefinedText, "\n"); len(lines) != 5 || lines[0] != "EN 区域0" || lines[4] != "EN 区域4" {
		t.Fatalf("unexpected refined text %q", payload.RefinedText)
	}

	var progress []int
	for _, evt := range recorder.Events() {
		if evt.Kind == events.KindProgress {
			progress = append(progress, evt.Progress)
		}
	}
	if !reflect.DeepEqual(progress, []int{79, 89, 99}) {
		t.Fatalf("unexpected progress %v", progress)
	}
}

func TestRefineUsesConfirmedGuidance(t *testing.T) {
	cfg := newConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := testsupport.NewDocument(t, store, "report.pdf", true)
	rec = testsupport.MoveTo(t, store, rec.ID, document.StageEntityPendingConfirm, map[document.Slot]any{
		document.SlotExtraction: extractionPayload(2),
		document.SlotEntity:     stage.EntityPayload{Mode: "fast"},
	})
	model := &fakeModel{}

	_, err := runRefine(t, cfg, store, model, rec.ID, nil)
	if !errors.Is(err, services.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation required, got %v", err)
	}
	stored, _ := store.Get(context.Background(), rec.ID)
	if stored.Version != rec.Version || len(model.requests) != 0 {
		t.Fatal("rejected refinement must not write or call the model")
	}

	gate := entities.NewGate(store, nil, logging.NewNop())
	if _, err := gate.Confirm(context.Background(), rec.ID, rec.Version, []stage.GuidanceEntry{{Source: "华为", Target: "Huawei"}}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	final, err := runRefine(t, cfg, store, model, rec.ID, nil)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}
	want := []llm.Term{{Source: "华为", Target: "Huawei"}}
	if len(model.requests) != 1 || !reflect.DeepEqual(model.requests[0].Guidance, want) {
		t.Fatalf("expected guidance %+v, got %+v", want, model.requests)
	}
	payload, _ := stage.DecodePayload[stage.RefinementPayload](final, document.SlotRefinement, "test")
	if !payload.Guided {
		t.Fatal("payload must record that guidance was used")
	}
}

func TestRefineGuidanceDisabledByConfig(t *testing.T) {
	cfg := newConfig(t)
	cfg.Workflow.UseEntityGuidance = false
	store := testsupport.MustOpenStore(t, cfg)
	rec := testsupport.NewDocument(t, store, "report.pdf", true)
	rec = testsupport.MoveTo(t, store, rec.ID, document.StageEntityPendingConfirm, map[document.Slot]any{
		document.SlotExtraction: extractionPayload(1),
		document.SlotEntity:     stage.EntityPayload{Mode: "fast"},
	})
	gate := entities.NewGate(store, nil, logging.NewNop())
	if _, err := gate.Confirm(context.Background(), rec.ID, rec.Version, []stage.GuidanceEntry{{Source: "华为", Target: "Huawei"}}); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	model := &fakeModel{}
	if _, err := runRefine(t, cfg, store, model, rec.ID, nil); err != nil {
		t.Fatalf("refine: %v", err)
	}
	if len(model.requests[0].Guidance) != 0 {
		t.Fatal("guidance must not be sent when disabled")
	}
}

func TestRefineBatchFailure(t *testing.T) {
	tests := []struct {
		name        string
		fail        func(call int) error
		wantCalls   int
		recoverable bool
	}{
		{
			name: "transient then success",
			fail: func(call int) error {
				if call == 2 {
					return services.WrapRecoverable(services.ErrUpstream, "", "llm complete", "status 503", nil)
				}
				return nil
			},
			wantCalls: 4,
		},
		{
			name: "malformed output",
			fail: func(call int) error {
				if call == 2 {
					return services.Wrap(services.ErrUpstream, "", "llm refine", "no [id] lines", nil)
				}
				return nil
			},
			wantCalls: 2,
		},
		{
			name: "rate limited throughout",
			fail: func(call int) error {
				if call >= 2 {
					return services.WrapRecoverable(services.ErrUpstream, "", "llm complete", "status 429", nil)
				}
				return nil
			},
			wantCalls:   5,
			recoverable: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newConfig(t)
			store := testsupport.MustOpenStore(t, cfg)
			rec := testsupport.NewDocument(t, store, "report.pdf", false)
			testsupport.MoveTo(t, store, rec.ID, document.StageExtracted, map[document.Slot]any{
				document.SlotExtraction: extractionPayload(6),
			})
			model := &fakeModel{fail: tc.fail}

			final, err := runRefine(t, cfg, store, model, rec.ID, nil)
			if len(model.requests) != tc.wantCalls {
				t.Fatalf("expected %d calls, got %d", tc.wantCalls, len(model.requests))
			}
			if tc.name == "transient then success" {
				if err != nil || final.Stage != document.StageRefined {
					t.Fatalf("expected success, got %v %+v", err, final)
				}
				return
			}
			if err == nil || final.Stage != document.StageFailed || final.LastError.Recoverable != tc.recoverable {
				t.Fatalf("unexpected outcome %v %+v", err, final)
			}
			if final.Payload(document.SlotRefinement) != nil {
				t.Fatal("failed refinement must not write a payload")
			}
		})
	}
}

func TestRefinePreconditions(t *testing.T) {
	cfg := newConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := testsupport.NewDocument(t, store, "report.pdf", false)
	if _, err := runRefine(t, cfg, store, &fakeModel{}, rec.ID, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error at uploaded, got %v", err)
	}
}

func TestRefineChecksStageBeforeConfirmation(t *testing.T) {
	cfg := newConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	model := &fakeModel{}

	failed := testsupport.NewDocument(t, store, "failed.pdf", true)
	failedRec := testsupport.MoveTo(t, store, failed.ID, document.StageFailed, nil)
	if _, err := runRefine(t, cfg, store, model, failed.ID, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("failed document: expected validation error, got %v", err)
	}
	if stored, _ := store.Get(context.Background(), failed.ID); stored.Version != failedRec.Version || stored.Stage != document.StageFailed {
		t.Fatalf("rejected refine changed the record: %+v", stored)
	}

	uploaded := testsupport.NewDocument(t, store, "uploaded.pdf", true)
	if _, err := runRefine(t, cfg, store, model, uploaded.ID, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("uploaded document: expected validation error, got %v", err)
	}

	pending := testsupport.NewDocument(t, store, "pending.pdf", true)
	testsupport.MoveTo(t, store, pending.ID, document.StageExtracted, map[document.Slot]any{
		document.SlotExtraction: extractionPayload(1),
	})
	if _, err := runRefine(t, cfg, store, model, pending.ID, nil); !errors.Is(err, services.ErrConfirmationRequired) {
		t.Fatalf("extracted unconfirmed document: expected confirmation required, got %v", err)
	}
	if len(model.requests) != 0 {
		t.Fatalf("model must not be called, got %d requests", len(model.requests))
	}
}
