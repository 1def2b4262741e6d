package splitting

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"docflow/internal/config"
	"docflow/internal/document"
	"docflow/internal/logging"
	"docflow/internal/retry"
	"docflow/internal/services"
	"docflow/internal/stage"
)

const stageName = "splitting"

var pdfMagic = []byte("%PDF-")

// Splitter is the stage handler that breaks a source document into pages.
type Splitter struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewSplitter constructs the splitting handler.
func NewSplitter(cfg *config.Config, logger *slog.Logger) *Splitter {
	return &Splitter{cfg: cfg, logger: logging.NewComponentLogger(logger, stageName)}
}

// Name implements stage.Handler.
func (s *Splitter) Name() string { return stageName }

// Prepare requires an uploaded record whose source file exists.
func (s *Splitter) Prepare(_ context.Context, rec *document.Record) error {
	if err := stage.RequireStage(rec, stageName, document.StageUploaded); err != nil {
		return err
	}
	return requireSource(rec.SourcePath)
}

// Claim moves the record into the splitting stage.
func (s *Splitter) Claim(rec *document.Record) error {
	rec.Stage = document.StageSplitting
	return nil
}

// Execute splits the source into the document work directory.
func (s *Splitter) Execute(ctx context.Context, rec *document.Record, progress stage.Reporter) (stage.Commit, error) {
	logger := logging.WithContext(ctx, s.logger)
	pdf, err := isPDF(rec.SourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "inspect source", "source file could not be read", err)
	}

	payload := stage.SplitPayload{PageCount: 1, Pages: []string{rec.SourcePath}}
	if pdf {
		outDir := filepath.Join(s.cfg.DocumentWorkDir(rec.ID), "pages")
		policy := stage.RetryPolicy(s.cfg, s.cfg.AdapterTimeouts().Split, logger)
		policy.Retryable = retry.Recoverable
		payload, err = retry.DoValue(ctx, policy, "split pdf", func(ctx context.Context) (stage.SplitPayload, error) {
			return splitWithContext(ctx, rec.SourcePath, outDir)
		})
		if err != nil {
			if services.Kind(err) == "internal" {
				return nil, services.Wrap(services.ErrValidation, stageName, "split pdf", "source PDF could not be split", err)
			}
			return nil, err
		}
	}
	progress.Progress(ctx, 18)

	logger.Info("source split into pages",
		logging.String(logging.FieldEventType, "split_complete"),
		logging.Bool("pdf", pdf),
		logging.Int("page_count", payload.PageCount),
	)
	return func(r *document.Record) error {
		r.Stage = document.StageSplitCompleted
		return r.SetPayload(document.SlotSplit, payload)
	}, nil
}

// HealthCheck reports whether the work directory is configured.
func (s *Splitter) HealthCheck(context.Context) stage.Health {
	if s.cfg == nil {
		return stage.Unhealthy(stageName, "configuration unavailable")
	}
	if strings.TrimSpace(s.cfg.Paths.WorkDir) == "" {
		return stage.Unhealthy(stageName, "work directory not configured")
	}
	return stage.Healthy(stageName)
}

// splitPDF is replaced in tests.
var splitPDF = func(source, outDir string) (stage.SplitPayload, error) {
	if err := os.RemoveAll(outDir); err != nil {
		return stage.SplitPayload{}, fmt.Errorf("clear page directory: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return stage.SplitPayload{}, fmt.Errorf("create page directory: %w", err)
	}
	pageCount, err := api.PageCountFile(source)
	if err != nil {
		return stage.SplitPayload{}, fmt.Errorf("count pages: %w", err)
	}
	if pageCount <= 0 {
		return stage.SplitPayload{}, fmt.Errorf("pdf has no pages")
	}
	if err := api.SplitFile(source, outDir, 1, nil); err != nil {
		return stage.SplitPayload{}, fmt.Errorf("split pdf: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	pages := make([]string, 0, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := filepath.Join(outDir, fmt.Sprintf("%s_%d.pdf", base, i))
		if _, err := os.Stat(page); err != nil {
			return stage.SplitPayload{}, fmt.Errorf("page %d missing after split: %w", i, err)
		}
		pages = append(pages, page)
	}
	return stage.SplitPayload{PageCount: pageCount, Pages: pages}, nil
}

// splitWithContext runs pdfcpu, which has no cancellation hook, in a
// goroutine so the attempt deadline still bounds the call.
func splitWithContext(ctx context.Context, source, outDir string) (stage.SplitPayload, error) {
	type result struct {
		payload stage.SplitPayload
		err     error
	}
	done := make(chan result, 1)
	go func() {
		payload, err := splitPDF(source, outDir)
		done <- result{payload: payload, err: err}
	}()
	select {
	case <-ctx.Done():
		return stage.SplitPayload{}, ctx.Err()
	case res := <-done:
		return res.payload, res.err
	}
}

func requireSource(path string) error {
	if strings.TrimSpace(path) == "" {
		return services.Wrap(services.ErrValidation, stageName, "precondition", "document has no source file", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, stageName, "precondition",
			fmt.Sprintf("source file %s is not readable", path), err)
	}
	if info.IsDir() {
		return services.Wrap(services.ErrValidation, stageName, "precondition",
			fmt.Sprintf("source %s is a directory", path), nil)
	}
	return nil
}

func isPDF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return bytes.Equal(head[:n], pdfMagic), nil
}
