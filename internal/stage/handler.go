package stage

import (
	"context"
	"log/slog"

	"chartflow/internal/docstore"
)

// Handler is the contract the pipeline coordinator needs from the local
// stage worker. Process performs this instance's share of the work for one
// document; the coordinator owns every status write and downstream call.
type Handler interface {
	Process(ctx context.Context, doc *docstore.Document) error
	HealthCheck(ctx context.Context) Health
}

// LoggerAware lets the coordinator hand a contextual logger to handlers that
// want one.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}

// Func adapts a plain function into a Handler that always reports ready.
type Func struct {
	Name string
	Fn   func(context.Context, *docstore.Document) error
}

func (f Func) Process(ctx context.Context, doc *docstore.Document) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, doc)
}

func (f Func) HealthCheck(context.Context) Health {
	return Healthy(f.Name)
}
