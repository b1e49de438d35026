package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"chartflow/internal/config"
	"chartflow/internal/logging"
)

// Result pairs one processed item with its outcome. Item failures never abort
// the run; the caller inspects the collected results.
type Result struct {
	Index      int
	DocumentID string
	Err        error
}

// Scheduler processes document batches with bounded concurrency.
type Scheduler struct {
	batchSize  int
	batchDelay time.Duration
	sem        *semaphore.Weighted
	sleeper    func(time.Duration)
	logger     *slog.Logger
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithSleeper overrides how inter-batch pauses are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(s *Scheduler) {
		s.sleeper = sleeper
	}
}

// WithLogger attaches a logger for batch progress.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "batch")
		}
	}
}

// NewScheduler builds a scheduler from the pipeline settings.
func NewScheduler(cfg *config.Config, opts ...Option) *Scheduler {
	batchSize := cfg.Pipeline.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	maxConcurrent := cfg.Pipeline.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	s := &Scheduler{
		batchSize:  batchSize,
		batchDelay: time.Duration(cfg.Pipeline.BatchDelay * float64(time.Second)),
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes every document id through fn, batch by batch. The semaphore
// spans the whole run, so a slow batch cannot overshoot the concurrency cap
// even while the next batch starts filling the window. Results come back in
// input order. A canceled context stops admitting work; items never started
// report the context error.
func (s *Scheduler) Run(ctx context.Context, documentIDs []string, fn func(context.Context, string) error) []Result {
	results := make([]Result, len(documentIDs))
	for i, id := range documentIDs {
		results[i] = Result{Index: i, DocumentID: id}
	}
	if len(documentIDs) == 0 || fn == nil {
		return results
	}

	for start := 0; start < len(documentIDs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(documentIDs) {
			end = len(documentIDs)
		}
		s.logger.Debug("processing batch",
			logging.Int("batch_start", start),
			logging.Int("batch_size", end-start),
			logging.String(logging.FieldEventType, "batch_start"))

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				results[i].Err = err
				continue
			}
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer s.sem.Release(1)
				results[idx].Err = fn(ctx, documentIDs[idx])
			}(i)
		}
		wg.Wait()

		if end < len(documentIDs) {
			if err := s.pause(ctx); err != nil {
				for i := end; i < len(documentIDs); i++ {
					results[i].Err = err
				}
				return results
			}
		}
	}
	return results
}

// Failed filters results down to the ones that returned an error.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

func (s *Scheduler) pause(ctx context.Context) error {
	if s.batchDelay <= 0 {
		return nil
	}
	if ctx == nil {
		return errors.New("batch pause: nil context")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.sleeper != nil {
		s.sleeper(s.batchDelay)
		return ctx.Err()
	}
	timer := time.NewTimer(s.batchDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
