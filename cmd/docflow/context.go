package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"docflow/internal/config"
	"docflow/internal/daemonrun"
	"docflow/internal/document"
	"docflow/internal/events"
	"docflow/internal/logging"
	"docflow/internal/workflow"
)

type commandContext struct {
	configFlag *string
	showEvents bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore opens the document store for read-only commands.
func (c *commandContext) withStore(fn func(*document.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := document.Open(cfg)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close()
	return fn(store)
}

// withManager builds a workflow manager over the shared store. The manager
// is never started; commands call its operations directly. Events are
// flushed to the configured sinks before the store closes.
func (c *commandContext) withManager(cmd *cobra.Command, fn func(context.Context, *workflow.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	// Stage logs stay quiet unless they warn; command output goes to stdout.
	logger, err := logging.New(logging.Options{
		Level:  cliLogLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	store, err := document.Open(cfg)
	if err != nil {
		return fmt.Errorf("open document store: %w", err)
	}
	defer store.Close()

	stages, err := daemonrun.BuildStages(cfg, logger)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	hub, closeSinks := daemonrun.NewEventHub(ctx, cfg, logger)
	defer closeSinks()
	defer hub.Close()

	manager := workflow.NewManager(cfg, store, logger, hub, stages)
	runErr := fn(ctx, manager)
	if c.showEvents {
		printHubEvents(cmd, hub)
	}
	return runErr
}

// printHubEvents lists the events this command published, including those
// of a failed operation.
func printHubEvents(cmd *cobra.Command, hub *events.Hub) {
	published, _, err := hub.Fetch(cmd.Context(), 0, 0, false)
	if err != nil || len(published) == 0 {
		return
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Events", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, evt := range published {
		writeEventLine(out, evt, colorize)
	}
}

func cliLogLevel(configured string) string {
	if strings.EqualFold(strings.TrimSpace(configured), "debug") {
		return "debug"
	}
	return "warn"
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
