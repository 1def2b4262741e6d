package splitting_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"docflow/internal/document"
	"docflow/internal/logging"
	"docflow/internal/services"
	"docflow/internal/splitting"
	"docflow/internal/stage"
	"docflow/internal/stageexec"
	"docflow/internal/testsupport"
)

func runSplit(t *testing.T, store *document.Store, handler *splitting.Splitter, id string) (*document.Record, error) {
	t.Helper()
	return stageexec.Run(context.Background(), stageexec.Options{
		Logger:            logging.NewNop(),
		Store:             store,
		Handler:           handler,
		DocumentID:        id,
		ExpectedVersion:   -1,
		HeartbeatInterval: time.Hour,
	})
}

func TestSplitNonPDFIsSinglePage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	source := filepath.Join(testsupport.BaseDir(cfg), "scan.png")
	testsupport.WriteFile(t, source, []byte("\x89PNG\r\n\x1a\nfake"))
	rec := testsupport.NewDocumentAt(t, store, source, false)

	final, err := runSplit(t, store, splitting.NewSplitter(cfg, logging.NewNop()), rec.ID)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if final.Stage != document.StageSplitCompleted || final.Version != 1 {
		t.Fatalf("unexpected record %+v", final)
	}
	payload, err := stage.DecodePayload[stage.SplitPayload](final, document.SlotSplit, "test")
	if err != nil {
		t.Fatalf("decode split payload: %v", err)
	}
	if payload.PageCount != 1 || len(payload.Pages) != 1 || payload.Pages[0] != source {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSplitPDFUsesPageFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	source := filepath.Join(testsupport.BaseDir(cfg), "contract.pdf")
	testsupport.WriteFile(t, source, []byte("%PDF-1.7\n"))
	rec := testsupport.NewDocumentAt(t, store, source, false)

	var gotOutDir string
	restore := splitting.SetSplitterForTests(func(src, outDir string) (stage.SplitPayload, error) {
		gotOutDir = outDir
		pages := make([]string, 3)
		for i := range pages {
			pages[i] = filepath.Join(outDir, fmt.Sprintf("contract_%d.pdf", i+1))
		}
		return stage.SplitPayload{PageCount: 3, Pages: pages}, nil
	})
	defer restore()

	final, err := runSplit(t, store, splitting.NewSplitter(cfg, logging.NewNop()), rec.ID)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if want := filepath.Join(cfg.DocumentWorkDir(rec.ID), "pages"); gotOutDir != want {
		t.Fatalf("expected pages under %s, got %s", want, gotOutDir)
	}
	payload, _ := stage.DecodePayload[stage.SplitPayload](final, document.SlotSplit, "test")
	if payload.PageCount != 3 || len(payload.Pages) != 3 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestSplitCorruptPDFFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	source := filepath.Join(testsupport.BaseDir(cfg), "broken.pdf")
	testsupport.WriteFile(t, source, []byte("%PDF-1.7\n"))
	rec := testsupport.NewDocumentAt(t, store, source, false)

	calls := 0
	restore := splitting.SetSplitterForTests(func(string, string) (stage.SplitPayload, error) {
		calls++
		return stage.SplitPayload{}, errors.New("xref table corrupt")
	})
	defer restore()

	final, err := runSplit(t, store, splitting.NewSplitter(cfg, logging.NewNop()), rec.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("corrupt input must not be retried, got %d calls", calls)
	}
	if final.Stage != document.StageFailed || final.LastError == nil || final.LastError.Recoverable {
		t.Fatalf("unexpected record %+v", final)
	}
}

func TestSplitPreconditions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	handler := splitting.NewSplitter(cfg, logging.NewNop())

	missing := testsupport.NewDocument(t, store, "missing.pdf", false)
	if _, err := runSplit(t, store, handler, missing.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing source, got %v", err)
	}

	source := filepath.Join(testsupport.BaseDir(cfg), "late.png")
	testsupport.WriteFile(t, source, []byte("png"))
	rec := testsupport.NewDocumentAt(t, store, source, false)
	testsupport.MoveTo(t, store, rec.ID, document.StageExtracted, nil)
	if _, err := runSplit(t, store, handler, rec.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error after extraction, got %v", err)
	}
	stored, _ := store.Get(context.Background(), rec.ID)
	if stored.Version != 1 {
		t.Fatalf("precondition failure must not write, version %d", stored.Version)
	}
}
