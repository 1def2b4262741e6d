// Package llm provides an OpenAI-compatible chat client used by the
// refinement stage.
//
// # Refinement Protocol
//
// Regions are sent in batches (DefaultBatchSize) as `[id] source text` lines
// and the model answers with one `[id] translation` line per region. Approved
// entity guidance is injected into the prompt so names are translated
// consistently. JSON replies (`{"translations":[{"id":..,"translation":..}]}`)
// are accepted as a fallback.
//
// # Errors
//
// Every call is a single attempt. Failures are reported as services errors:
// HTTP 408/429/5xx, empty completions, and transport errors are recoverable,
// other 4xx responses and unparseable replies are fatal. Status errors expose
// RetryAfter so retry.Policy honours the server's hint.
//
// # Entry Points
//
// NewClient: construct client from Config.
// Client.Refine: translate one batch of regions.
// Client.CompleteJSON: send system/user prompts, receive JSON response.
// Client.HealthCheck: verify API key and model availability.
package llm
