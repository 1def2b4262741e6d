package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"docflow/internal/config"
	"docflow/internal/daemon"
	"docflow/internal/document"
	"docflow/internal/entities"
	"docflow/internal/events"
	"docflow/internal/extraction"
	"docflow/internal/logging"
	"docflow/internal/notifications"
	"docflow/internal/preflight"
	"docflow/internal/refinement"
	"docflow/internal/services/entity"
	"docflow/internal/services/llm"
	"docflow/internal/services/ocr"
	"docflow/internal/services/ocr/tesseract"
	"docflow/internal/splitting"
	"docflow/internal/workflow"
)

const logFileName = "docflowd.log"

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel      string
	SkipPreflight bool
}

// Run starts the docflow daemon runtime loop and blocks until the context
// is cancelled or the process receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logCfg := *cfg
	if strings.TrimSpace(opts.LogLevel) != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&logCfg, logFileName)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := document.Open(cfg)
	if err != nil {
		logger.Error("open document store", logging.Error(err))
		return err
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "docflowd.pid")
	if err := writePIDFile(pidPath); err != nil {
		_ = store.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if !opts.SkipPreflight {
		logPreflight(signalCtx, logger, cfg)
	}

	hub, closeSinks := NewEventHub(signalCtx, cfg, logger)
	defer closeSinks()

	stages, err := BuildStages(cfg, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	manager := workflow.NewManager(cfg, store, logger, hub, stages)

	d, err := daemon.New(cfg, store, logger, manager, hub)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and state directory access"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("docflow daemon shutting down")
	return nil
}

// BuildStages constructs every stage executor from configuration. The OCR
// engine is chosen by ocr.engine.
func BuildStages(cfg *config.Config, logger *slog.Logger) (workflow.StageSet, error) {
	engine, err := NewOCREngine(cfg)
	if err != nil {
		return workflow.StageSet{}, err
	}
	lookup := entity.NewClient(entity.Config{BaseURL: cfg.Entity.BaseURL})
	model := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Referer:        cfg.LLM.Referer,
		Title:          cfg.LLM.Title,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	return workflow.StageSet{
		Splitter:  splitting.NewSplitter(cfg, logger),
		Extractor: extraction.NewExtractor(cfg, logger, engine),
		Entities:  entities.NewRecognizer(cfg, logger, lookup),
		Refiner:   refinement.NewRefiner(cfg, logger, model),
	}, nil
}

// NewOCREngine returns the configured extraction engine.
func NewOCREngine(cfg *config.Config) (ocr.Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.OCR.Engine)) {
	case config.OCREngineHTTP:
		return ocr.NewClient(ocr.Config{BaseURL: cfg.OCR.BaseURL, Languages: cfg.OCR.Languages}), nil
	case config.OCREngineTesseract:
		return tesseract.New(cfg.OCR.Languages), nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine %q", cfg.OCR.Engine)
	}
}

// NewEventHub builds the event hub with the log sink plus the optional ntfy
// and Redis sinks. The returned function closes the sinks that hold
// connections; the daemon closes the hub itself.
func NewEventHub(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*events.Hub, func()) {
	hub := events.NewHub(cfg.Events.BufferSize, cfg.Events.SinkQueueSize, logger)
	hub.AddSink(events.NewLogSink(logger))

	if notifier := notifications.New(cfg); notifier != nil {
		hub.AddSink(notifier)
	}

	closer := func() {}
	if cfg.RedisEnabled() {
		sink, err := events.NewRedisSink(ctx, events.RedisConfig{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
			Channel:  cfg.Events.Channel,
			Source:   cfg.Events.Source,
		})
		if err != nil {
			logging.WarnWithContext(logger, "redis event sink unavailable", "redis_sink_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check events.redis_addr"),
			)
		} else {
			hub.AddSink(sink)
			closer = func() {
				if err := sink.Close(); err != nil {
					logger.Warn("failed to close redis sink", logging.Error(err))
				}
			}
		}
	}
	return hub, closer
}

func logPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	results := preflight.RunAll(ctx, cfg)
	for _, result := range results {
		if result.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
			)
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		)
	}
	logger.Info("preflight complete",
		logging.String(logging.FieldEventType, "preflight_complete"),
		logging.Int("checks", len(results)),
		logging.Int("failed", len(preflight.Failed(results))),
	)
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
