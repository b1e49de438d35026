// Package daemon ties a stage instance together: it enforces single-instance
// execution with a file lock, runs the HTTP API server, and owns the
// coordinator's lifecycle during shutdown.
package daemon
