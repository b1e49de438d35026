// Package batch fans work out over a bounded worker window. Items are split
// into fixed-size batches processed sequentially with a pause between them,
// while a weighted semaphore caps concurrency across the whole run.
package batch
