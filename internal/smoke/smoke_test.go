package smoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/fixture"
	"github.com/xkilldash9x/relocator/internal/wait"
)

var chains = map[string][]string{
	"searchBox":      {`[data-testid="chat-list-search"]`},
	"chatListItem":   {`[data-testid="cell-frame-container"]`},
	"chatHeaderName": {`[data-testid="conversation-info-header-chat-title"]`},
	"messageIn":      {`.message-in`},
	"messageOut":     {`.message-out`},
	"composeBox":     {`[data-qa="compose"]`, `[data-testid="conversation-compose-box-input"]`},
	"sendButton":     {`[data-testid="send"]`},
}

func manager(t *testing.T, overrides map[string][]string) *chain.Manager {
	t.Helper()
	doc := chain.NewDocument(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))
	for id, sels := range chains {
		if o, ok := overrides[id]; ok {
			sels = o
		}
		doc.Selectors[id] = &chain.Definition{ID: id, Description: id, Selectors: sels, Status: chain.StatusWorking}
	}
	m, err := chain.Open(context.Background(), zap.NewNop(), chain.NewMemoryStore(doc))
	require.NoError(t, err)
	return m
}

type call struct {
	action, selector, text string
}

type recordingInteractor struct {
	calls []call
	err   error
}

func (r *recordingInteractor) Type(_ context.Context, selector, text string) error {
	r.calls = append(r.calls, call{"type", selector, text})
	return r.err
}

func (r *recordingInteractor) Click(_ context.Context, selector string) error {
	r.calls = append(r.calls, call{"click", selector, ""})
	return r.err
}

func quick(contact, message string) config.SmokeConfig {
	return config.SmokeConfig{
		Contact:       contact,
		Message:       message,
		HeaderTimeout: 50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
}

func TestRunRoundTrip(t *testing.T) {
	in := &recordingInteractor{}
	r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), in)

	report, err := r.Run(context.Background(), quick("ana", "Olá!"))
	require.NoError(t, err)
	assert.True(t, report.Passed)
	require.Len(t, report.Steps, len(Steps()))
	for i, s := range report.Steps {
		assert.Equal(t, Steps()[i], s.Step)
		assert.True(t, s.Passed, "step %s: %s", s.Step, s.Error)
	}

	assert.Equal(t, "Ana Souza", report.Steps[2].Detail)
	assert.Equal(t, `1 message(s), last "Oi, tudo bem? 14:30"`, report.Steps[3].Detail)
	assert.Equal(t, []call{
		{"type", `[data-testid="chat-list-search"]`, "ana"},
		{"click", `[data-testid="cell-frame-container"]`, ""},
		{"type", `[data-testid="conversation-compose-box-input"]`, "Olá!"},
		{"click", `[data-testid="send"]`, ""},
	}, in.calls)
}

func TestRunWithoutMessage(t *testing.T) {
	in := &recordingInteractor{}
	r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), in)

	report, err := r.Run(context.Background(), quick("Ana", ""))
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Len(t, in.calls, 2, "only search and open interact")
	assert.Contains(t, report.Steps[5].Detail, "nothing sent")
}

func TestRunFailures(t *testing.T) {
	t.Run("broken chain skips the rest", func(t *testing.T) {
		in := &recordingInteractor{}
		m := manager(t, map[string][]string{"chatListItem": {".gone"}})
		r := New(zap.NewNop(), m, dom.Static(fixture.Page(t)), in)

		report, err := r.Run(context.Background(), quick("Ana", "x"))
		require.NoError(t, err)
		assert.False(t, report.Passed)
		assert.True(t, report.Steps[0].Passed)
		assert.False(t, report.Steps[1].Passed)
		assert.Contains(t, report.Steps[1].Error, "no working selector for chatListItem")
		for _, s := range report.Steps[2:] {
			assert.True(t, s.Skipped)
		}
	})

	t.Run("header names someone else", func(t *testing.T) {
		r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), &recordingInteractor{})

		report, err := r.Run(context.Background(), quick("Bruno", ""))
		require.NoError(t, err)
		assert.False(t, report.Passed)
		assert.Equal(t, `conversation header does not name the contact: got "Ana Souza"`, report.Steps[2].Error)
	})

	t.Run("interactor error", func(t *testing.T) {
		in := &recordingInteractor{err: errors.New("node detached")}
		r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), in)

		report, err := r.Run(context.Background(), quick("Ana", ""))
		require.NoError(t, err)
		assert.Equal(t, "failed to type the contact: node detached", report.Steps[0].Error)
	})

	t.Run("snapshot error", func(t *testing.T) {
		src := dom.SourceFunc(func(context.Context) (*dom.Document, error) { return nil, errors.New("target closed") })
		r := New(zap.NewNop(), manager(t, nil), src, &recordingInteractor{})

		report, err := r.Run(context.Background(), quick("Ana", ""))
		require.NoError(t, err)
		assert.Contains(t, report.Steps[0].Error, "target closed")
	})

	t.Run("missing contact", func(t *testing.T) {
		r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), &recordingInteractor{})
		_, err := r.Run(context.Background(), quick(" ", ""))
		assert.ErrorIs(t, err, ErrNoContact)
	})
}

func TestRunWaitsOnClock(t *testing.T) {
	clock := wait.NewFakeClock(time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))
	r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), &recordingInteractor{}, WithClock(clock))
	cfg := quick("Ana", "")
	cfg.SearchWait = time.Second

	done := make(chan *Report, 1)
	go func() {
		report, _ := r.Run(context.Background(), cfg)
		done <- report
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)
	report := <-done
	assert.True(t, report.Passed)
	assert.Equal(t, time.Second, report.Steps[0].Duration)
}

func TestRunCancelled(t *testing.T) {
	clock := wait.NewFakeClock(time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC))
	r := New(zap.NewNop(), manager(t, nil), dom.Static(fixture.Page(t)), &recordingInteractor{}, WithClock(clock))
	cfg := quick("Ana", "")
	cfg.SearchWait = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, cfg)
		errc <- err
	}()
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
