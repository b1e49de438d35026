// Package docstore persists documents and per-stage processing statuses in
// SQLite and exposes the pipeline status transition rules.
//
// The Store owns database connections, schema initialization, and the
// append-history/latest-wins semantics for stage status records: every status
// write inserts an audit row while a single "latest" row per (document, stage)
// pair stays authoritative for display. Coarse document status changes always
// flow through Advance so out-of-order callbacks cannot regress visible
// progress; concurrent writers serialize through single-row compare-and-set
// updates rather than application locks.
//
// Treat this package as the single source of truth for pipeline status
// semantics; new statuses or stages must update both the transition tables
// and schema.sql (bump schemaVersion).
package docstore
