// Package config loads and validates chartflow stage configuration.
//
// Configuration comes from a TOML file layered over built-in defaults, with
// environment overrides for the pipeline knobs (MAX_RETRIES, RETRY_DELAY,
// RETRY_BACKOFF, BATCH_SIZE, MAX_CONCURRENT, BATCH_DELAY and the per-call
// timeouts) so deployments can tune dispatch behavior without editing files.
// Every stage instance runs from one Config value resolved at startup;
// nothing reads ambient environment state after Load returns.
package config
