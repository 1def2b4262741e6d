package entities_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/services/entity"
	"docflow/internal/services/ocr"
	"docflow/internal/stage"
	"docflow/internal/stageexec"
	"docflow/internal/testsupport"
)

type fakeLookup struct {
	mu       sync.Mutex
	identify func(text string) ([]entity.Entity, error)
	analyze  func(req entity.AnalyzeRequest) ([]entity.Entity, error)
	calls    []string
}

func (f *fakeLookup) Identify(_ context.Context, text string) ([]entity.Entity, error) {
	f.record("identify")
	return f.identify(text)
}

func (f *fakeLookup) Analyze(_ context.Context, req entity.AnalyzeRequest) ([]entity.Entity, error) {
	f.record("analyze")
	return f.analyze(req)
}

func (f *fakeLookup) HealthCheck(context.Context) error { return nil }

func (f *fakeLookup) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

var extraction = stage.ExtractionPayload{
	Engine:    "fake",
	PageCount: 1,
	Regions:   []ocr.Region{{ID: 0, Src: "华为技术有限公司"}, {ID: 1, Src: "发布年度报告"}},
}

func extractedDocument(t *testing.T) (*document.Store, *document.Record) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := testsupport.NewDocument(t, store, "report.pdf", true)
	rec = testsupport.MoveTo(t, store, rec.ID, document.StageExtracted, map[document.Slot]any{
		document.SlotExtraction: extraction,
	})
	return store, rec
}

func runRecognition(t *testing.T, store *document.Store, lookup entities.Lookup, req entities.Request, id string) (*document.Record, error) {
	t.Helper()
	return runRecognitionWith(t, store, lookup, req, id, nil)
}

func runRecognitionWith(t *testing.T, store *document.Store, lookup entities.Lookup, req entities.Request, id string, publisher events.Publisher) (*document.Record, error) {
	t.Helper()
	recognizer := entities.NewRecognizer(testsupport.NewConfig(t), logging.NewNop(), lookup)
	return stageexec.Run(context.Background(), stageexec.Options{
		Logger:            logging.NewNop(),
		Store:             store,
		Publisher:         publisher,
		Handler:           recognizer.Handler(req),
		DocumentID:        id,
		ExpectedVersion:   -1,
		HeartbeatInterval: time.Hour,
	})
}

func huawei(string) ([]entity.Entity, error) {
	return []entity.Entity{{Source: "华为技术有限公司", Target: "Huawei Technologies Co., Ltd.", Type: "ORGANIZATION"}}, nil
}

func TestFastModeStopsForConfirmation(t *testing.T) {
	store, rec := extractedDocument(t)
	var gotText string
	lookup := &fakeLookup{identify: func(text string) ([]entity.Entity, error) {
		gotText = text
		return huawei(text)
	}}

	final, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeFast}, rec.ID)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if final.Stage != document.StageEntityPendingConfirm || !final.EntityRecognitionEnabled || final.EntityRecognitionConfirmed {
		t.Fatalf("unexpected record %+v", final)
	}
	if final.Version != rec.Version+1 || final.EntityMode != "fast" {
		t.Fatalf("unexpected version/mode %d %s", final.Version, final.EntityMode)
	}
	if gotText != "华为技术有限公司 发布年度报告" {
		t.Fatalf("unexpected lookup text %q", gotText)
	}
	payload, err := stage.DecodePayload[stage.EntityPayload](final, document.SlotEntity, "test")
	if err != nil || len(payload.Entities) != 1 || len(payload.Guidance) != 0 {
		t.Fatalf("unexpected payload %+v (%v)", payload, err)
	}
}

func TestDeepModeConfirmsThroughGate(t *testing.T) {
	store, rec := extractedDocument(t)
	lookup := &fakeLookup{analyze: func(req entity.AnalyzeRequest) ([]entity.Entity, error) {
		if req.Text == "" || len(req.Names) != 0 {
			t.Errorf("deep mode must analyse the document text, got %+v", req)
		}
		return huawei(req.Text)
	}}

	recorder := &testsupport.EventRecorder{}
	final, err := runRecognitionWith(t, store, lookup, entities.Request{Mode: entities.ModeDeep}, rec.ID, recorder)
	if err != nil {
		t.Fatalf("recognize: %v", err)
	}
	if final.Stage != document.StageEntityConfirmed || !final.EntityRecognitionConfirmed {
		t.Fatalf("deep mode must end confirmed, got %+v", final)
	}
	wantStages := []string{"entity_recognizing", "entity_confirmed"}
	if got := recorder.Transitions(); !reflect.DeepEqual(got, wantStages) {
		t.Fatalf("deep mode transitions = %v, want %v", got, wantStages)
	}
	if final.Version != rec.Version+1 {
		t.Fatalf("deep mode must commit once: version %d -> %d", rec.Version, final.Version)
	}
	payload, _ := stage.DecodePayload[stage.EntityPayload](final, document.SlotEntity, "test")
	want := []stage.GuidanceEntry{{Source: "华为技术有限公司", Target: "Huawei Technologies Co., Ltd."}}
	if !reflect.DeepEqual(payload.Guidance, want) {
		t.Fatalf("unexpected guidance %+v", payload.Guidance)
	}
}

func TestManualAdjust(t *testing.T) {
	store, rec := extractedDocument(t)
	lookup := &fakeLookup{
		identify: huawei,
		analyze: func(req entity.AnalyzeRequest) ([]entity.Entity, error) {
			return []entity.Entity{{Source: req.Names[0], Target: "ZTE", Type: "ORGANIZATION"}}, nil
		},
	}

	if _, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeManualAdjust, Names: []string{"中兴"}}, rec.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("manual adjustment from extracted must be rejected, got %v", err)
	}

	if _, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeFast}, rec.ID); err != nil {
		t.Fatalf("fast: %v", err)
	}
	if _, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeManualAdjust, Names: []string{" ", ""}}, rec.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty names must be rejected, got %v", err)
	}

	final, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeManualAdjust, Names: []string{"中兴", "不存在"}}, rec.ID)
	if err != nil {
		t.Fatalf("manual adjust: %v", err)
	}
	if final.Stage != document.StageEntityPendingConfirm || final.EntityMode != "manual_adjust" {
		t.Fatalf("unexpected record %+v", final)
	}
	payload, _ := stage.DecodePayload[stage.EntityPayload](final, document.SlotEntity, "test")
	if len(payload.Entities) != 1 || !reflect.DeepEqual(payload.Requested, []string{"中兴", "不存在"}) {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if got := lookup.calls; !reflect.DeepEqual(got, []string{"identify", "analyze"}) {
		t.Fatalf("unexpected lookup calls %v", got)
	}
}

func TestRecoverableFailureDegradesToExtracted(t *testing.T) {
	store, rec := extractedDocument(t)
	lookup := &fakeLookup{identify: func(string) ([]entity.Entity, error) {
		return nil, services.WrapRecoverable(services.ErrUpstreamTimeout, "", "entity identify", "timeout", nil)
	}}

	final, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeFast}, rec.ID)
	if !errors.Is(err, services.ErrUpstreamTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if final.Stage != document.StageExtracted || final.EntityRecognitionEnabled {
		t.Fatalf("expected rollback to extracted with recognition off, got %+v", final)
	}
	if final.LastError == nil || !final.LastError.Recoverable || final.LastError.Stage != "entity_recognizing" {
		t.Fatalf("unexpected last error %+v", final.LastError)
	}
	if len(lookup.calls) != 4 {
		t.Fatalf("expected four attempts, got %d", len(lookup.calls))
	}
	if !document.Allows(final, document.ActionRefine) {
		t.Fatal("degraded document must be refinable")
	}
}

func TestFatalFailureFailsDocument(t *testing.T) {
	store, rec := extractedDocument(t)
	lookup := &fakeLookup{identify: func(string) ([]entity.Entity, error) {
		return nil, services.Wrap(services.ErrUpstream, "", "entity identify", "malformed response", nil)
	}}

	final, err := runRecognition(t, store, lookup, entities.Request{Mode: entities.ModeFast}, rec.ID)
	if !errors.Is(err, services.ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if final.Stage != document.StageFailed || final.LastError.Recoverable {
		t.Fatalf("unexpected record %+v", final)
	}
}

func pendingDocument(t *testing.T, entitiesFound []entity.Entity) (*document.Store, *document.Record, *entities.Gate, *testsupport.EventRecorder) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	rec := testsupport.NewDocument(t, store, "report.pdf", true)
	rec = testsupport.MoveTo(t, store, rec.ID, document.StageEntityPendingConfirm, map[document.Slot]any{
		document.SlotExtraction: extraction,
		document.SlotEntity:     stage.EntityPayload{Mode: "fast", Entities: entitiesFound},
	})
	recorder := &testsupport.EventRecorder{}
	return store, rec, entities.NewGate(store, recorder, logging.NewNop()), recorder
}

func TestConfirmStoresDeduplicatedGuidance(t *testing.T) {
	store, rec, gate, recorder := pendingDocument(t, nil)

	version, err := gate.Confirm(context.Background(), rec.ID, rec.Version, []stage.GuidanceEntry{
		{Source: "ＡＢＣ公司", Target: "ABC Corp"},
		{Source: "abc公司", Target: "duplicate"},
		{Source: "华为", Target: " Huawei "},
		{Source: "空", Target: ""},
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if version != rec.Version+1 {
		t.Fatalf("expected version %d, got %d", rec.Version+1, version)
	}
	stored, _ := store.Get(context.Background(), rec.ID)
	if stored.Stage != document.StageEntityConfirmed || !stored.EntityRecognitionConfirmed {
		t.Fatalf("unexpected record %+v", stored)
	}
	payload, _ := stage.DecodePayload[stage.EntityPayload](stored, document.SlotEntity, "test")
	want := []stage.GuidanceEntry{{Source: "ABC公司", Target: "ABC Corp"}, {Source: "华为", Target: "Huawei"}}
	if !reflect.DeepEqual(payload.Guidance, want) {
		t.Fatalf("unexpected guidance %+v", payload.Guidance)
	}
	if got := recorder.Transitions(); !reflect.DeepEqual(got, []string{"entity_confirmed"}) {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	_, rec, gate, recorder := pendingDocument(t, nil)
	ctx := context.Background()

	first, err := gate.Confirm(ctx, rec.ID, rec.Version, []stage.GuidanceEntry{})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	for _, expected := range []int64{rec.Version, first} {
		again, err := gate.Confirm(ctx, rec.ID, expected, nil)
		if err != nil || again != first {
			t.Fatalf("repeat confirm with %d: got %d, %v", expected, again, err)
		}
	}
	if _, err := gate.Confirm(ctx, rec.ID, first+5, nil); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("future version must conflict, got %v", err)
	}
	if len(recorder.Events()) != 1 {
		t.Fatalf("no-op confirms must not publish, got %d events", len(recorder.Events()))
	}
}

func TestConfirmRejections(t *testing.T) {
	store, rec, gate, _ := pendingDocument(t, nil)
	ctx := context.Background()

	if _, err := gate.Confirm(ctx, rec.ID, rec.Version-1, nil); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("stale version must conflict, got %v", err)
	}

	other := testsupport.NewDocument(t, store, "plain.pdf", true)
	other = testsupport.MoveTo(t, store, other.ID, document.StageExtracted, nil)
	if _, err := gate.Confirm(ctx, other.ID, other.Version, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("confirm outside entity_pending_confirm must fail validation, got %v", err)
	}
	stored, _ := store.Get(ctx, other.ID)
	if stored.Version != other.Version || stored.EntityRecognitionConfirmed {
		t.Fatalf("rejected confirm must not write, got %+v", stored)
	}
}

func TestSkipReturnsToExtracted(t *testing.T) {
	_, rec, gate, _ := pendingDocument(t, []entity.Entity{{Source: "华为", Target: "Huawei"}})

	updated, err := gate.Skip(context.Background(), rec.ID, rec.Version)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if updated.Stage != document.StageExtracted || updated.EntityRecognitionEnabled || updated.EntityRecognitionConfirmed {
		t.Fatalf("unexpected record %+v", updated)
	}
	if !document.Allows(updated, document.ActionRefine) {
		t.Fatal("skipped document must be refinable")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    entities.Mode
		wantErr bool
	}{
		{"", entities.ModeFast, false},
		{"DEEP", entities.ModeDeep, false},
		{" manual_adjust ", entities.ModeManualAdjust, false},
		{"slow", "", true},
	}
	for _, tc := range tests {
		got, err := entities.ParseMode(tc.in, entities.ModeFast)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("ParseMode(%q) = %q, %v", tc.in, got, err)
		}
	}
}
