package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/scanner"
	"github.com/xkilldash9x/relocator/internal/search"
)

var base = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func openLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "nested", "history.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func session(id string, started time.Time) *scanner.Session {
	done := started.Add(3 * time.Second)
	return &scanner.Session{
		ID:          id,
		StartedAt:   started,
		CompletedAt: &done,
		Status:      scanner.StatusCompleted,
		Progress:    100,
		Results: []scanner.Result{
			{
				TargetID:     "sendButton",
				Candidates:   []string{`[data-testid="send"]`, `button[aria-label="Enviar"]`},
				BestSelector: `[data-testid="send"]`,
				Validated:    true,
				Duration:     1500 * time.Microsecond,
				ElementFound: true,
				ElementCount: 1,
				Layer:        search.LayerSpecific,
			},
			{
				TargetID:         "typingIndicator",
				ValidationErrors: []string{"no candidate element found"},
			},
		},
	}
}

func TestRecordAndRead(t *testing.T) {
	ctx := context.Background()
	l := openLog(t)
	s := session("s1", base)
	require.NoError(t, l.Record(ctx, s))

	results, err := l.Results(ctx, "s1")
	require.NoError(t, err)
	want := []scanner.Result{
		s.Results[0],
		{TargetID: "typingIndicator", Candidates: []string{}, ValidationErrors: []string{"no candidate element found"}},
	}
	want[0].ValidationErrors = []string{}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	list, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s1", list[0].ID)
	assert.True(t, list[0].StartedAt.Equal(base))
	require.NotNil(t, list[0].CompletedAt)
	assert.True(t, list[0].CompletedAt.Equal(base.Add(3*time.Second)))
	assert.Equal(t, scanner.StatusCompleted, list[0].Status)
	assert.Equal(t, 1, list[0].Validated)
	assert.Equal(t, 2, list[0].Total)
	assert.Empty(t, list[0].Errors)
}

func TestRecordReplaces(t *testing.T) {
	ctx := context.Background()
	l := openLog(t)
	s := session("s1", base)
	require.NoError(t, l.Record(ctx, s))

	s.Status = scanner.StatusFailed
	s.Errors = []string{"only 0 of 15 critical targets validated"}
	s.Results = s.Results[:1]
	require.NoError(t, l.Record(ctx, s))

	list, err := l.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, scanner.StatusFailed, list[0].Status)
	assert.Equal(t, 1, list[0].Total)
	assert.Equal(t, s.Errors, list[0].Errors)
}

func TestUnknownSession(t *testing.T) {
	_, err := openLog(t).Results(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentAndPrune(t *testing.T) {
	ctx := context.Background()
	l := openLog(t)
	for i := 0; i < 5; i++ {
		// Sub-second offsets check the text ordering of timestamps.
		started := base.Add(time.Duration(i) * 500 * time.Millisecond)
		require.NoError(t, l.Record(ctx, session(fmt.Sprintf("s%d", i), started)))
	}

	list, err := l.Recent(ctx, 3)
	require.NoError(t, err)
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"s4", "s3", "s2"}, ids)

	removed, err := l.Prune(ctx, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, removed)

	list, err = l.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = l.Results(ctx, "s0")
	assert.ErrorIs(t, err, ErrNotFound)
}
