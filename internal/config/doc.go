// Package config reads docflow's TOML configuration.
//
// Load applies Default, decodes the file (unknown keys are errors), applies
// the DOCFLOW_LLM_API_KEY and DOCFLOW_REDIS_ADDR environment overrides,
// expands ~ in paths, and validates the result. Encode prints the effective
// settings with secrets masked.
package config
