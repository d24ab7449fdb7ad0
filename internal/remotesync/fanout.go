package remotesync

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Fanout forwards each batch to every syncer concurrently. A failing syncer
// does not stop the others; their errors are joined.
type Fanout []Syncer

func (f Fanout) Sync(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return ErrNoUpdates
	}
	errs := make([]error, len(f))
	var g errgroup.Group
	for i, s := range f {
		g.Go(func() error {
			errs[i] = s.Sync(ctx, updates)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
