package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"docflow/internal/config"
	"docflow/internal/document"
)

// MustOpenStore opens a document.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *document.Store {
	t.Helper()

	store, err := document.Open(cfg)
	if err != nil {
		t.Fatalf("document.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDocument registers a document for tests using the provided store.
func NewDocument(t testing.TB, store *document.Store, name string, entityEnabled bool) *document.Record {
	t.Helper()
	return NewDocumentAt(t, store, "/tmp/"+name, entityEnabled)
}

// NewDocumentAt registers a document whose source is the file at path.
func NewDocumentAt(t testing.TB, store *document.Store, path string, entityEnabled bool) *document.Record {
	t.Helper()

	rec, err := store.Create(context.Background(), document.NewDocument{
		Name:                     filepath.Base(path),
		SourcePath:               path,
		EntityRecognitionEnabled: entityEnabled,
	})
	if err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return rec
}

// Advance applies mutate to the current record through the guard and fails
// the test on error. Busy stages are entered with a fresh lease.
func Advance(t testing.TB, store *document.Store, id string, mutate func(*document.Record)) *document.Record {
	t.Helper()

	ctx := context.Background()
	current, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	probe := current.Clone()
	mutate(probe)
	req := document.AdvanceRequest{
		ID:              id,
		ExpectedVersion: current.Version,
		Holder:          current.Holder,
		Mutate: func(rec *document.Record) error {
			mutate(rec)
			return nil
		},
	}
	if probe.Stage.Busy() && !current.Stage.Busy() {
		req.Lease = true
		req.Holder = uuid.NewString()
	}
	updated, err := store.TryAdvance(ctx, req)
	if err != nil {
		t.Fatalf("store.TryAdvance(%s -> %s): %v", current.Stage, probe.Stage, err)
	}
	return updated
}

// MoveTo walks the record to stage along the shortest default path, writing
// payloads as supplied in the map when the path passes the producing stage.
// StageFailed is reached through a fatal extraction failure.
func MoveTo(t testing.TB, store *document.Store, id string, target document.Stage, payloads map[document.Slot]any) *document.Record {
	t.Helper()

	steps := map[document.Stage][]document.Stage{
		document.StageExtracting:           {document.StageExtracting},
		document.StageExtracted:            {document.StageExtracting, document.StageExtracted},
		document.StageEntityRecognizing:    {document.StageExtracting, document.StageExtracted, document.StageEntityRecognizing},
		document.StageEntityPendingConfirm: {document.StageExtracting, document.StageExtracted, document.StageEntityRecognizing, document.StageEntityPendingConfirm},
		document.StageRefining:             {document.StageExtracting, document.StageExtracted, document.StageRefining},
		document.StageRefined:              {document.StageExtracting, document.StageExtracted, document.StageRefining, document.StageRefined},
		document.StageFailed:               {document.StageExtracting, document.StageFailed},
	}
	path, ok := steps[target]
	if !ok {
		t.Fatalf("MoveTo: unsupported target %s", target)
	}
	var rec *document.Record
	for _, stage := range path {
		next := stage
		rec = Advance(t, store, id, func(r *document.Record) {
			if next == document.StageEntityRecognizing {
				r.EntityRecognitionEnabled = true
			}
			if next == document.StageFailed {
				r.Fail("upstream", "ocr service rejected the page", false)
				return
			}
			r.Stage = next
			switch next {
			case document.StageExtracted:
				setPayload(t, r, document.SlotExtraction, payloads)
			case document.StageEntityPendingConfirm:
				setPayload(t, r, document.SlotEntity, payloads)
			case document.StageRefined:
				setPayload(t, r, document.SlotRefinement, payloads)
			}
		})
	}
	return rec
}

func setPayload(t testing.TB, rec *document.Record, slot document.Slot, payloads map[document.Slot]any) {
	t.Helper()
	value, ok := payloads[slot]
	if !ok {
		return
	}
	if err := rec.SetPayload(slot, value); err != nil {
		t.Fatalf("SetPayload(%s): %v", slot, err)
	}
}
