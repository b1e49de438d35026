// Package services holds the shared error taxonomy and context plumbing used
// by stage code and the HTTP surface.
//
// Errors are tagged with sentinel markers (validation, configuration,
// not-found, transient, timeout) via Wrap so callers can classify failures
// without string matching. Context helpers carry document and stage
// identifiers across call boundaries for structured logging.
package services
