package stage

import (
	"log/slog"
	"time"

	"docflow/internal/config"
	"docflow/internal/logging"
	"docflow/internal/retry"
)

// RetryPolicy builds the adapter retry policy from cfg with the supplied
// per-attempt timeout. Retries are logged at warn level on logger.
func RetryPolicy(cfg *config.Config, attemptTimeout time.Duration, logger *slog.Logger) retry.Policy {
	policy := retry.Default(attemptTimeout)
	if cfg != nil {
		policy.MaxRetries = cfg.Retry.MaxRetries
		policy.BaseDelay, policy.MaxDelay = cfg.RetryBackoff()
	}
	if logger != nil {
		policy.OnRetry = func(attempt int, delay time.Duration, err error) {
			logger.Warn("adapter call failed; retrying",
				logging.String(logging.FieldEventType, "adapter_retry"),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "transient upstream failure"),
			)
		}
	}
	return policy
}
