package preflight

import (
	"context"
	"strings"

	"docflow/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	if strings.EqualFold(cfg.OCR.Engine, config.OCREngineHTTP) {
		results = append(results, CheckOCR(ctx, cfg.OCR.BaseURL))
	}
	results = append(results, CheckEntityService(ctx, cfg.Entity.BaseURL))
	results = append(results, CheckLLM(ctx, "Refinement LLM", cfg.LLM))

	if cfg.RedisEnabled() {
		results = append(results, CheckRedis(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, result := range results {
		if !result.Passed {
			out = append(out, result)
		}
	}
	return out
}
