package testsupport

import (
	"context"
	"testing"

	"chartflow/internal/config"
	"chartflow/internal/docstore"
)

// MustOpenStore opens a docstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *docstore.Store {
	t.Helper()

	store, err := docstore.Open(cfg)
	if err != nil {
		t.Fatalf("docstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewDocument creates and persists a document for tests using the provided store.
func NewDocument(t testing.TB, store *docstore.Store, filename string) *docstore.Document {
	t.Helper()

	doc := docstore.NewDocument(filename)
	if err := store.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("store.CreateDocument: %v", err)
	}
	return doc
}
