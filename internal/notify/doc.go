// Package notify carries cross-stage housekeeping calls: stage outcome
// reports back to the ingestion origin and deletion fan-out to downstream
// stages. Callers get a noop implementation when the relevant stage URLs are
// not configured, so pipeline code never branches on notification settings.
package notify
