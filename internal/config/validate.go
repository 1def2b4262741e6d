package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateOCR(); err != nil {
		return err
	}
	if err := c.validateEntity(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateOCR() error {
	switch c.OCR.Engine {
	case OCREngineHTTP:
		if c.OCR.BaseURL == "" {
			return errors.New("ocr.base_url must be set when ocr.engine is \"http\"")
		}
	case OCREngineTesseract:
		if len(c.OCR.Languages) == 0 {
			return errors.New("ocr.languages must list at least one tesseract language")
		}
	default:
		return fmt.Errorf("ocr.engine %q is not supported (use http or tesseract)", c.OCR.Engine)
	}
	return nil
}

func (c *Config) validateEntity() error {
	switch c.Entity.DefaultMode {
	case "fast", "deep":
	default:
		return fmt.Errorf("entity.default_mode %q must be fast or deep", c.Entity.DefaultMode)
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must be zero or greater")
	}
	if c.Retry.BaseDelayMilli < 0 || c.Retry.MaxDelayMilli < 0 {
		return errors.New("retry delays must be zero or greater")
	}
	if c.Retry.MaxDelayMilli > 0 && c.Retry.BaseDelayMilli > c.Retry.MaxDelayMilli {
		return errors.New("retry.base_delay_ms must not exceed retry.max_delay_ms")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"ocr.page_timeout_seconds":          c.OCR.PageTimeoutSeconds,
		"ocr.concurrency":                   c.OCR.Concurrency,
		"entity.fast_timeout_seconds":       c.Entity.FastTimeoutSeconds,
		"entity.deep_timeout_seconds":       c.Entity.DeepTimeoutSeconds,
		"llm.timeout_seconds":               c.LLM.TimeoutSeconds,
		"notifications.request_timeout":     c.Notifications.RequestTimeout,
		"workflow.poll_interval":            c.Workflow.PollInterval,
		"workflow.heartbeat_interval":       c.Workflow.HeartbeatInterval,
		"workflow.heartbeat_timeout":        c.Workflow.HeartbeatTimeout,
		"workflow.max_concurrent_documents": c.Workflow.MaxConcurrentDocuments,
		"workflow.split_timeout_seconds":    c.Workflow.SplitTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must be greater than workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if c.Events.BufferSize <= 0 {
		return errors.New("events.buffer_size must be positive")
	}
	if c.Events.SinkQueueSize <= 0 {
		return errors.New("events.sink_queue_size must be positive")
	}
	if c.Events.RedisDB < 0 {
		return errors.New("events.redis_db must be zero or greater")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", strings.TrimSpace(key))
		}
	}
	return nil
}
