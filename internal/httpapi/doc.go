// Package httpapi exposes the stage instance's HTTP surface: the public
// document endpoints served by the ingestion origin (upload, listing, status,
// deletion, processing triggers) and the internal cross-stage endpoints every
// instance serves (dispatch intake, status callbacks, deletion fan-out).
package httpapi
