package remotesync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (c *countingSyncer) Sync(context.Context, []Update) error {
	c.calls.Add(1)
	return c.err
}

func TestFanout(t *testing.T) {
	ctx := context.Background()

	t.Run("every syncer receives the batch", func(t *testing.T) {
		a, b := &countingSyncer{}, &countingSyncer{}
		assert.NoError(t, Fanout{a, b}.Sync(ctx, sample))
		assert.EqualValues(t, 1, a.calls.Load())
		assert.EqualValues(t, 1, b.calls.Load())
	})

	t.Run("one failure is reported, the rest still run", func(t *testing.T) {
		boom := errors.New("db down")
		a, b := &countingSyncer{err: boom}, &countingSyncer{}
		err := Fanout{a, b}.Sync(ctx, sample)
		assert.ErrorIs(t, err, boom)
		assert.EqualValues(t, 1, b.calls.Load())
	})

	t.Run("empty batch", func(t *testing.T) {
		a := &countingSyncer{}
		assert.ErrorIs(t, Fanout{a}.Sync(ctx, nil), ErrNoUpdates)
		assert.Zero(t, a.calls.Load())
	})

	t.Run("no syncers", func(t *testing.T) {
		assert.NoError(t, Fanout{}.Sync(ctx, sample))
	})
}
