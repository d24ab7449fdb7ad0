package dom

import "context"

// Source produces document snapshots. A live browser returns a fresh
// snapshot on every call; a static source always returns the same one.
type Source interface {
	Snapshot(ctx context.Context) (*Document, error)
}

// Static adapts a single document to Source.
func Static(doc *Document) Source { return staticSource{doc: doc} }

type staticSource struct{ doc *Document }

func (s staticSource) Snapshot(ctx context.Context) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.doc, nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Document, error)

func (f SourceFunc) Snapshot(ctx context.Context) (*Document, error) { return f(ctx) }
