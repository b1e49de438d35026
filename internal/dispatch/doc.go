// Package dispatch sends documents to downstream pipeline stages and
// classifies every HTTP outcome as success, retryable, or terminal. Retryable
// outcomes are retried in place with exponential backoff up to the configured
// attempt cap; the caller records exactly one stage status per returned
// outcome.
package dispatch
