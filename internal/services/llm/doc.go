// Package llm is the gateway between the classification engine and the
// language model.
//
// # Providers
//
// A Provider performs one completion call and reports token usage. Two are
// available: the Anthropic Messages API through the official SDK, and the
// OpenRouter chat completions endpoint over plain HTTP. Providers never
// retry; the Gateway owns retries.
//
// # Entry Points
//
// New / NewFromConfig: construct a Gateway around a Provider.
// Gateway.ClassifyBatch: classify a batch of item summaries for one
// collection and recover the decisions from the model text.
// Gateway.RefineOne: re-evaluate a single borderline item with a detailed
// prompt.
// Gateway.Ping: minimal completion used by health checks.
// Gateway.Usage / Gateway.ResetUsage: running token and cost totals.
//
// # Retry Behaviour
//
// Up to five attempts with a delay of min(2^attempt, 30) seconds. Network
// failures, 408/429/5xx responses and responses whose JSON cannot be
// recovered are retried. Authentication failures and content-policy
// rejections are critical and abort at once. Token-limit overruns are
// validation errors carrying a hint to reduce the batch size.
package llm
