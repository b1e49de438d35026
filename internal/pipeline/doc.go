// Package pipeline coordinates document flow across stages. The ingestion
// instance owns the document record and orchestrates the chain: it dispatches
// each stage, absorbs stage callbacks, and chains the next dispatch when a
// stage completes. Downstream instances run their local worker and report the
// outcome back to the origin. Status writes funnel through the store's state
// machine, so late or duplicate callbacks cannot regress visible progress.
package pipeline
