// Package logging assembles structured slog loggers shared by every chartflow
// component.
//
// It owns the console and JSON handlers, centralizes level plumbing, and
// exposes context-aware helpers so pipeline code automatically tags log lines
// with document IDs, stage names, and correlation IDs. A no-op logger is
// available for tests and wiring code that cannot fail.
package logging
