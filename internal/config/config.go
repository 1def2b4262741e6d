package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	WorkDir  string `toml:"work_dir"`
	LogDir   string `toml:"log_dir"`
}

// OCR configures the optical-extraction adapter.
type OCR struct {
	Engine             string   `toml:"engine"`
	BaseURL            string   `toml:"base_url"`
	Languages          []string `toml:"languages"`
	PageTimeoutSeconds int      `toml:"page_timeout_seconds"`
	Concurrency        int      `toml:"concurrency"`
}

// Entity configures the entity-lookup adapter.
type Entity struct {
	BaseURL            string `toml:"base_url"`
	DefaultMode        string `toml:"default_mode"`
	FastTimeoutSeconds int    `toml:"fast_timeout_seconds"`
	DeepTimeoutSeconds int    `toml:"deep_timeout_seconds"`
}

// LLM contains the language-model connection settings used by refinement.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	BatchSize      int    `toml:"batch_size"`
}

// Retry configures the backoff applied around every adapter call.
type Retry struct {
	MaxRetries     int `toml:"max_retries"`
	BaseDelayMilli int `toml:"base_delay_ms"`
	MaxDelayMilli  int `toml:"max_delay_ms"`
}

// Workflow contains configuration for daemon timing and pipeline defaults.
type Workflow struct {
	PollInterval             int  `toml:"poll_interval"`
	HeartbeatInterval        int  `toml:"heartbeat_interval"`
	HeartbeatTimeout         int  `toml:"heartbeat_timeout"`
	MaxConcurrentDocuments   int  `toml:"max_concurrent_documents"`
	AutoAdvance              bool `toml:"auto_advance"`
	SplitPDFs                bool `toml:"split_pdfs"`
	SplitTimeoutSeconds      int  `toml:"split_timeout_seconds"`
	EntityRecognitionDefault bool `toml:"entity_recognition_default"`
	UseEntityGuidance        bool `toml:"use_entity_guidance"`
}

// Events configures progress event fan-out.
type Events struct {
	BufferSize    int    `toml:"buffer_size"`
	SinkQueueSize int    `toml:"sink_queue_size"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Channel       string `toml:"channel"`
	Source        string `toml:"source"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic            string `toml:"ntfy_topic"`
	RequestTimeout       int    `toml:"request_timeout"`
	Completed            bool   `toml:"completed"`
	Failed               bool   `toml:"failed"`
	ConfirmationRequired bool   `toml:"confirmation_required"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for docflow.
//
// Configuration sections by subsystem:
//   - Paths: database, page work area, and log directories
//   - OCR, Entity, LLM: external adapter endpoints and timeouts
//   - Retry: backoff shared by every adapter call
//   - Workflow: daemon polling, lease heartbeats, and pipeline defaults
//   - Events: in-memory buffer sizes and the optional Redis sink
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	OCR           OCR           `toml:"ocr"`
	Entity        Entity        `toml:"entity"`
	LLM           LLM           `toml:"llm"`
	Retry         Retry         `toml:"retry"`
	Workflow      Workflow      `toml:"workflow"`
	Events        Events        `toml:"events"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("docflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon and CLI operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DocumentWorkDir returns the per-document scratch directory for split pages.
func (c *Config) DocumentWorkDir(documentID string) string {
	return filepath.Join(c.Paths.WorkDir, documentID)
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "docflowd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Timeouts groups the per-attempt adapter deadlines.
type Timeouts struct {
	Split      time.Duration
	OCRPage    time.Duration
	EntityFast time.Duration
	EntityDeep time.Duration
	Refinement time.Duration
}

// AdapterTimeouts returns the per-attempt deadlines as durations.
func (c *Config) AdapterTimeouts() Timeouts {
	return Timeouts{
		Split:      seconds(c.Workflow.SplitTimeoutSeconds),
		OCRPage:    seconds(c.OCR.PageTimeoutSeconds),
		EntityFast: seconds(c.Entity.FastTimeoutSeconds),
		EntityDeep: seconds(c.Entity.DeepTimeoutSeconds),
		Refinement: seconds(c.LLM.TimeoutSeconds),
	}
}

// RetryBackoff returns the base and maximum retry delays.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Retry.BaseDelayMilli) * time.Millisecond,
		time.Duration(c.Retry.MaxDelayMilli) * time.Millisecond
}

// RedisEnabled reports whether the Redis event sink is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Events.RedisAddr) != ""
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

const redacted = "********"

// Encode renders the configuration as TOML with secrets masked.
func (c *Config) Encode() ([]byte, error) {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = redacted
	}
	if masked.Events.RedisPassword != "" {
		masked.Events.RedisPassword = redacted
	}
	data, err := toml.Marshal(masked)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
