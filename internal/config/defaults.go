package config

const (
	defaultConfigPath             = "~/.config/docflow/config.toml"
	defaultStateDir               = "~/.local/share/docflow"
	defaultWorkDir                = "~/.local/share/docflow/work"
	defaultLogDir                 = "~/.local/share/docflow/logs"
	defaultOCREngine              = OCREngineHTTP
	defaultOCRBaseURL             = "http://127.0.0.1:8866"
	defaultOCRPageTimeoutSeconds  = 60
	defaultOCRConcurrency         = 4
	defaultEntityBaseURL          = "http://127.0.0.1:8867"
	defaultEntityMode             = "fast"
	defaultEntityFastTimeout      = 10
	defaultEntityDeepTimeout      = 120
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMTitle               = "docflow"
	defaultLLMTimeoutSeconds      = 120
	defaultLLMBatchSize           = 30
	defaultRetryMaxRetries        = 3
	defaultRetryBaseDelayMilli    = 1000
	defaultRetryMaxDelayMilli     = 8000
	defaultWorkflowPollInterval   = 5
	defaultHeartbeatInterval      = 15
	defaultHeartbeatTimeout       = 180
	defaultMaxConcurrentDocuments = 2
	defaultSplitTimeoutSeconds    = 60
	defaultEventBufferSize        = 512
	defaultSinkQueueSize          = 256
	defaultEventChannel           = "docflow:documents"
	defaultEventSource            = "docflow"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Supported OCR engines.
const (
	OCREngineHTTP      = "http"
	OCREngineTesseract = "tesseract"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			WorkDir:  defaultWorkDir,
			LogDir:   defaultLogDir,
		},
		OCR: OCR{
			Engine:             defaultOCREngine,
			BaseURL:            defaultOCRBaseURL,
			Languages:          []string{"eng"},
			PageTimeoutSeconds: defaultOCRPageTimeoutSeconds,
			Concurrency:        defaultOCRConcurrency,
		},
		Entity: Entity{
			BaseURL:            defaultEntityBaseURL,
			DefaultMode:        defaultEntityMode,
			FastTimeoutSeconds: defaultEntityFastTimeout,
			DeepTimeoutSeconds: defaultEntityDeepTimeout,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			BatchSize:      defaultLLMBatchSize,
		},
		Retry: Retry{
			MaxRetries:     defaultRetryMaxRetries,
			BaseDelayMilli: defaultRetryBaseDelayMilli,
			MaxDelayMilli:  defaultRetryMaxDelayMilli,
		},
		Workflow: Workflow{
			PollInterval:           defaultWorkflowPollInterval,
			HeartbeatInterval:      defaultHeartbeatInterval,
			HeartbeatTimeout:       defaultHeartbeatTimeout,
			MaxConcurrentDocuments: defaultMaxConcurrentDocuments,
			AutoAdvance:            true,
			SplitPDFs:              true,
			SplitTimeoutSeconds:    defaultSplitTimeoutSeconds,
			UseEntityGuidance:      true,
		},
		Events: Events{
			BufferSize:    defaultEventBufferSize,
			SinkQueueSize: defaultSinkQueueSize,
			Channel:       defaultEventChannel,
			Source:        defaultEventSource,
		},
		Notifications: Notifications{
			RequestTimeout:       10,
			Completed:            true,
			Failed:               true,
			ConfirmationRequired: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
