package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAdapters()
	c.normalizeEvents()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAdapters() {
	c.OCR.Engine = strings.ToLower(strings.TrimSpace(c.OCR.Engine))
	if c.OCR.Engine == "" {
		c.OCR.Engine = defaultOCREngine
	}
	c.OCR.BaseURL = strings.TrimRight(strings.TrimSpace(c.OCR.BaseURL), "/")
	langs := make([]string, 0, len(c.OCR.Languages))
	for _, lang := range c.OCR.Languages {
		if lang = strings.TrimSpace(lang); lang != "" {
			langs = append(langs, lang)
		}
	}
	c.OCR.Languages = langs

	c.Entity.BaseURL = strings.TrimRight(strings.TrimSpace(c.Entity.BaseURL), "/")
	c.Entity.DefaultMode = strings.ToLower(strings.TrimSpace(c.Entity.DefaultMode))
	if c.Entity.DefaultMode == "" {
		c.Entity.DefaultMode = defaultEntityMode
	}

	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("DOCFLOW_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if c.LLM.BatchSize <= 0 {
		c.LLM.BatchSize = defaultLLMBatchSize
	}
}

func (c *Config) normalizeEvents() {
	c.Events.RedisAddr = strings.TrimSpace(c.Events.RedisAddr)
	if c.Events.RedisAddr == "" {
		if value, ok := os.LookupEnv("DOCFLOW_REDIS_ADDR"); ok {
			c.Events.RedisAddr = strings.TrimSpace(value)
		}
	}
	c.Events.Channel = strings.TrimSpace(c.Events.Channel)
	if c.Events.Channel == "" {
		c.Events.Channel = defaultEventChannel
	}
	c.Events.Source = strings.TrimSpace(c.Events.Source)
	if c.Events.Source == "" {
		c.Events.Source = defaultEventSource
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
