package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/arbiter"
	"github.com/xkilldash9x/relocator/internal/chain"
	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/fixture"
	"github.com/xkilldash9x/relocator/internal/generator"
	"github.com/xkilldash9x/relocator/internal/remotesync"
	"github.com/xkilldash9x/relocator/internal/search"
	"github.com/xkilldash9x/relocator/internal/targets"
	"github.com/xkilldash9x/relocator/internal/validator"
	"github.com/xkilldash9x/relocator/internal/wait"
)

const ownOnly = `<html><body>
<div id="relocator-panel"><footer><button data-testid="send" aria-label="Enviar">Enviar</button></footer></div>
</body></html>`

func newOrchestrator(t *testing.T, searchOpts []search.Option, opts ...Option) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	filter := exclusion.New("")
	arb := arbiter.New(logger, filter, arbiter.DefaultPolicy())
	searchOpts = append([]search.Option{search.WithContext(arb)}, searchOpts...)
	return New(logger, filter,
		search.New(logger, filter, searchOpts...),
		generator.New(filter, 0),
		validator.New(logger, filter),
		arb,
		opts...,
	)
}

func lookup(t *testing.T, ids ...string) []targets.Target {
	t.Helper()
	out, err := targets.Select(ids)
	require.NoError(t, err)
	return out
}

func configFor(t *testing.T, ids ...string) Config {
	cfg := DefaultConfig()
	cfg.Targets = lookup(t, ids...)
	return cfg
}

type recordingObserver struct {
	progress []int
	statuses []string
	onStatus func()
}

func (r *recordingObserver) OnProgress(p int) { r.progress = append(r.progress, p) }
func (r *recordingObserver) OnStatus(s string) {
	r.statuses = append(r.statuses, s)
	if r.onStatus != nil {
		r.onStatus()
	}
}

type mockSyncer struct{ mock.Mock }

func (m *mockSyncer) Sync(ctx context.Context, updates []remotesync.Update) error {
	return m.Called(ctx, updates).Error(0)
}

type panicPixel struct{}

func (panicPixel) Locate(context.Context, *dom.Document, targets.Target) (search.PixelResult, error) {
	panic("capture crashed")
}

func TestScanAllKnownTargets(t *testing.T) {
	obs := &recordingObserver{}
	o := newOrchestrator(t, nil, WithObserver(obs), WithClock(wait.NewFakeClock(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))))
	assert.Equal(t, StatusIdle, o.Status())
	assert.Nil(t, o.Session())

	results, err := o.ScanAll(context.Background(), fixture.Page(t), configFor(t, "sendButton", "composeBox", "chatList"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	want := map[string]string{
		"sendButton": `[data-testid="send"]`,
		"composeBox": `[data-testid="conversation-compose-box-input"]`,
		"chatList":   "#pane-side",
	}
	for _, r := range results {
		assert.True(t, r.Validated, r.TargetID)
		assert.Equal(t, want[r.TargetID], r.BestSelector, r.TargetID)
		assert.Equal(t, 1, r.ElementCount, r.TargetID)
		assert.True(t, r.ElementFound)
		assert.Equal(t, search.LayerSpecific, r.Layer)
		assert.Contains(t, r.Candidates, r.BestSelector)
	}

	assert.Equal(t, []int{33, 67, 100}, obs.progress)
	assert.Equal(t, "Scan completed", obs.statuses[len(obs.statuses)-1])

	s := o.Session()
	require.NotNil(t, s)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, 100, s.Progress)
	assert.Len(t, s.Results, 3)
	assert.NotEmpty(t, s.ID)
	require.NotNil(t, s.CompletedAt)
	assert.Empty(t, s.Errors)
}

func TestScanAllExclusivity(t *testing.T) {
	o := newOrchestrator(t, nil)
	doc := fixture.Page(t)
	cfg := DefaultConfig()
	cfg.RequireCritical = false

	results, err := o.ScanAll(context.Background(), doc, cfg)
	require.NoError(t, err)
	require.Len(t, results, len(targets.All()))

	owners := map[string]string{}
	filter := exclusion.New("")
	for i, r := range results {
		assert.Equal(t, cfg.Targets[i].ID, r.TargetID, "results keep input order")
		if !r.Validated {
			continue
		}
		prev, dup := owners[r.BestSelector]
		assert.False(t, dup, "%q chosen for both %s and %s", r.BestSelector, prev, r.TargetID)
		owners[r.BestSelector] = r.TargetID

		res := doc.Query(r.BestSelector)
		require.NoError(t, res.Err)
		assert.NotEmpty(t, filter.FilterOwn(res.Nodes), "%s: %q only matches own elements", r.TargetID, r.BestSelector)
	}
}

func TestScanAllSkipsOutOfContextDecoys(t *testing.T) {
	o := newOrchestrator(t, nil)
	doc := fixture.Document(t, `<html><body>
<div id="pane-side">
	<button class="fwd" aria-label="Enviar arquivo 1">f</button>
	<button class="fwd" aria-label="Enviar arquivo 2">f</button>
	<button class="fwd" aria-label="Enviar arquivo 3">f</button>
	<button class="fwd" aria-label="Enviar arquivo 4">f</button>
	<button class="fwd" aria-label="Enviar arquivo 5">f</button>
</div>
<div id="main"><footer><button class="snd" aria-label="Enviar">Enviar</button></footer></div>
</body></html>`)

	results, err := o.ScanAll(context.Background(), doc, configFor(t, "sendButton"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	require.True(t, r.Validated, "%v", r.ValidationErrors)
	assert.Equal(t, search.LayerSpecific, r.Layer)
	assert.Same(t, doc.QueryOne("footer .snd"), doc.QueryOne(r.BestSelector))
	for _, c := range r.Candidates {
		assert.NotContains(t, c, "fwd")
		assert.NotContains(t, c, "arquivo")
	}
}

func TestScanAllCriticalTier(t *testing.T) {
	o := newOrchestrator(t, nil)
	doc := fixture.Document(t, ownOnly)

	results, err := o.ScanAll(context.Background(), doc, configFor(t, "sendButton"))
	assert.ErrorIs(t, err, ErrCriticalTierFailed)
	require.Len(t, results, 1)
	assert.False(t, results[0].Validated)
	assert.Equal(t, []string{ErrNoCandidates.Error()}, results[0].ValidationErrors)
	assert.Empty(t, results[0].Candidates)

	s := o.Session()
	assert.Equal(t, StatusFailed, s.Status)
	assert.Contains(t, s.Errors, "only 0 of 1 critical targets validated")

	cfg := configFor(t, "sendButton")
	cfg.RequireCritical = false
	_, err = o.ScanAll(context.Background(), doc, cfg)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status())
}

func TestScanAllImportantRate(t *testing.T) {
	o := newOrchestrator(t, nil)
	cfg := configFor(t, "chatUnreadBadge")
	cfg.MinImportantRate = 1

	_, err := o.ScanAll(context.Background(), fixture.Document(t, ownOnly), cfg)
	require.NoError(t, err, "the important tier never fails a session")
	s := o.Session()
	assert.Equal(t, StatusCompleted, s.Status)
	require.Len(t, s.Errors, 1)
	assert.Contains(t, s.Errors[0], "only 0 of 1 important targets validated")
}

func TestScanAllRecoversPerTarget(t *testing.T) {
	o := newOrchestrator(t, []search.Option{search.WithPixel(panicPixel{})})
	cfg := configFor(t, "sendButton", "chatList")
	cfg.RequireCritical = false

	results, err := o.ScanAll(context.Background(), fixture.Document(t, ownOnly), cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "sendButton", results[0].TargetID)
	assert.False(t, results[0].Validated)
	assert.Empty(t, results[0].Candidates)
	assert.Equal(t, []string{"capture crashed"}, results[0].ValidationErrors)
	assert.Equal(t, "chatList", results[1].TargetID, "the scan continued")

	assert.Contains(t, o.Session().Errors, "error scanning sendButton: capture crashed")
}

func TestScanAllBusy(t *testing.T) {
	obs := &recordingObserver{}
	o := newOrchestrator(t, nil, WithObserver(obs))
	var nested error
	obs.onStatus = func() {
		if nested == nil {
			_, nested = o.ScanAll(context.Background(), fixture.Page(t), configFor(t, "chatList"))
		}
	}

	_, err := o.ScanAll(context.Background(), fixture.Page(t), configFor(t, "chatList"))
	require.NoError(t, err)
	assert.ErrorIs(t, nested, ErrScanInProgress)

	obs.onStatus = nil
	_, err = o.ScanAll(context.Background(), fixture.Page(t), configFor(t, "chatList"))
	assert.NoError(t, err, "the orchestrator is free again")
}

func TestScanAllCancelled(t *testing.T) {
	t.Run("before the first target", func(t *testing.T) {
		o := newOrchestrator(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results, err := o.ScanAll(ctx, fixture.Page(t), configFor(t, "chatList", "sendButton"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, results)

		s := o.Session()
		assert.Equal(t, StatusCompleted, s.Status, "only the critical verdict fails a session")
		assert.Equal(t, []string{"scan interrupted after 0 of 2 targets: context canceled"}, s.Errors)
		assert.NotNil(t, s.CompletedAt)
	})

	t.Run("between targets keeps partial results", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		obs := &recordingObserver{}
		obs.onStatus = func() {
			if len(obs.statuses) == 2 {
				cancel()
			}
		}
		manager, err := chain.Open(ctx, zap.NewNop(), chain.NewMemoryStore(chain.NewDocument(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC))))
		require.NoError(t, err)
		o := newOrchestrator(t, nil, WithObserver(obs), WithChain(manager))
		cfg := configFor(t, "chatList", "sendButton", "composeBox")
		cfg.PersistWinners = true

		results, err := o.ScanAll(ctx, fixture.Page(t), cfg)
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, results, 2, "the target in flight when cancel arrived is recorded")
		assert.True(t, results[0].Validated)
		assert.Equal(t, "sendButton", results[1].TargetID)
		assert.False(t, results[1].Validated)
		assert.Equal(t, []string{context.Canceled.Error()}, results[1].ValidationErrors)

		s := o.Session()
		assert.Equal(t, StatusCompleted, s.Status)
		assert.Len(t, s.Results, 2)
		assert.Equal(t, []string{"scan interrupted after 2 of 3 targets: context canceled"}, s.Errors)
		assert.Empty(t, manager.IDs(), "nothing is promoted from an interrupted scan")
	})

	t.Run("during the last critical target", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		obs := &recordingObserver{}
		obs.onStatus = func() {
			if len(obs.statuses) == 2 {
				cancel()
			}
		}
		o := newOrchestrator(t, nil, WithObserver(obs))

		results, err := o.ScanAll(ctx, fixture.Page(t), configFor(t, "chatList", "sendButton"))
		assert.ErrorIs(t, err, context.Canceled)
		require.Len(t, results, 2)
		assert.False(t, results[1].Validated)

		s := o.Session()
		assert.Equal(t, StatusCompleted, s.Status, "a cancelled critical target is not a critical failure")
		assert.Equal(t, []string{"scan interrupted after 2 of 2 targets: context canceled"}, s.Errors)
	})
}

func TestScanAllPersistsWinners(t *testing.T) {
	ctx := context.Background()
	store := chain.NewMemoryStore(&chain.Document{
		Version:   "2026.10.18",
		UpdatedAt: "2026-10-18T00:00:00Z",
		Selectors: map[string]*chain.Definition{
			"sendButton": {ID: "sendButton", Description: "Send button", Selectors: []string{".send-v1"}, Status: chain.StatusBroken},
			"chatList":   {ID: "chatList", Description: "Conversation list", Selectors: []string{"#pane-side"}, Status: chain.StatusWorking},
		},
	})
	manager, err := chain.Open(ctx, zap.NewNop(), store)
	require.NoError(t, err)

	syncer := &mockSyncer{}
	syncer.On("Sync", mock.Anything, []remotesync.Update{
		{TargetID: "sendButton", NewSelector: `[data-testid="send"]`, OldSelector: ".send-v1", Validated: true},
		{TargetID: "composeBox", NewSelector: `[data-testid="conversation-compose-box-input"]`, Validated: true},
	}).Return(remotesync.ErrQueued).Once()

	o := newOrchestrator(t, nil, WithChain(manager), WithSyncer(syncer))
	cfg := configFor(t, "sendButton", "composeBox", "chatList")
	cfg.PersistWinners = true

	_, err = o.ScanAll(ctx, fixture.Page(t), cfg)
	require.NoError(t, err, "a deferred sync does not fail the scan")
	syncer.AssertExpectations(t)

	def, ok := manager.Definition("sendButton")
	require.True(t, ok)
	assert.Equal(t, []string{`[data-testid="send"]`, ".send-v1"}, def.Selectors)
	assert.Equal(t, chain.StatusWorking, def.Status)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, persisted.Selectors, "composeBox")
	assert.Equal(t, []string{"#pane-side"}, persisted.Selectors["chatList"].Selectors)

	_, err = o.ScanAll(ctx, fixture.Page(t), cfg)
	require.NoError(t, err)
	syncer.AssertNumberOfCalls(t, "Sync", 1)
}

func TestScanAllRefreshesValidatedHead(t *testing.T) {
	ctx := context.Background()
	checked := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	store := chain.NewMemoryStore(&chain.Document{
		Version:   "2026.10.18",
		UpdatedAt: "2026-10-18T00:00:00Z",
		Selectors: map[string]*chain.Definition{
			"sendButton": {ID: "sendButton", Description: "Send button", Selectors: []string{`[data-testid="send"]`, ".send-v1"}, Status: chain.StatusBroken},
		},
	})
	manager, err := chain.Open(ctx, zap.NewNop(), store, chain.WithClock(wait.NewFakeClock(checked)))
	require.NoError(t, err)

	syncer := &mockSyncer{}
	o := newOrchestrator(t, nil, WithChain(manager), WithSyncer(syncer))
	cfg := configFor(t, "sendButton")
	cfg.PersistWinners = true

	results, err := o.ScanAll(ctx, fixture.Page(t), cfg)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Validated)
	require.Equal(t, `[data-testid="send"]`, results[0].BestSelector)

	syncer.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)

	persisted, err := store.Load(ctx)
	require.NoError(t, err)
	def := persisted.Selectors["sendButton"]
	assert.Equal(t, chain.StatusWorking, def.Status)
	require.NotNil(t, def.LastVerified)
	assert.True(t, def.LastVerified.Equal(checked))
	assert.Equal(t, []string{`[data-testid="send"]`, ".send-v1"}, def.Selectors)
}

func TestScanAllStability(t *testing.T) {
	doc := fixture.Page(t)
	calls := 0
	src := dom.SourceFunc(func(ctx context.Context) (*dom.Document, error) {
		calls++
		if calls%2 == 0 {
			return nil, errors.New("tab closed")
		}
		return doc, nil
	})
	o := newOrchestrator(t, nil, WithSource(src))
	cfg := configFor(t, "chatList")
	cfg.StabilityIterations = 1

	results, err := o.ScanAll(context.Background(), doc, cfg)
	require.NoError(t, err)
	assert.True(t, results[0].Validated)
	assert.Equal(t, 1, calls)
}

func TestValidateCandidate(t *testing.T) {
	o := newOrchestrator(t, nil)
	page := fixture.Page(t)
	q := func(doc *dom.Document, sel string) *html.Node {
		n := doc.QueryOne(sel)
		require.NotNil(t, n, sel)
		return n
	}
	sendBtn := q(page, `footer [data-testid="send"]`)
	attach := q(page, `[data-testid="attach"]`)

	hidden := fixture.Document(t, `<html><body><footer><button aria-label="Enviar" style="display:none">x</button></footer></body></html>`)
	generic := fixture.Document(t, `<html><body><div id="main"><div data-testid="msg-container" style="width:300px;height:100px">
		<span class="t">14:30</span>
		<span class="t" style="display:none">14:31</span>
		<span class="t" style="display:none">14:32</span>
		<span class="t" style="display:none">14:33</span>
	</div></div></body></html>`)

	tests := []struct {
		name   string
		doc    *dom.Document
		target string
		sel    string
		source *html.Node
		want   error
	}{
		{"valid", page, "sendButton", `[data-testid="send"]`, sendBtn, nil},
		{"own element", page, "sendButton", `[data-testid="send"]`, q(page, ".relocator-btn"), validator.ErrOwnElement},
		{"only own matches", page, "sendButton", ".relocator-btn", sendBtn, ErrNoMatches},
		{"malformed", page, "sendButton", "div[[", sendBtn, ErrNoMatches},
		{"expected missing", page, "sendButton", `[data-testid="attach"]`, sendBtn, validator.ErrExpectedNotFound},
		{"hidden first match", hidden, "sendButton", `[aria-label="Enviar"]`, q(hidden, "button"), ErrNotRendered},
		{"personalised label", page, "composeBox", `[aria-label="Digitar na conversa com Ana Souza"]`, q(page, `[contenteditable="true"]`), ErrLabelTooSpecific},
		{"attach is not send", page, "sendButton", `[data-testid="attach"]`, attach, ErrOutOfContext},
		{"first match elsewhere", page, "sendButton", "button", sendBtn, ErrOutOfContext},
		{"too generic", generic, "messageTimestamp", ".t", q(generic, ".t"), ErrTooGeneric},
		{"not unique", page, "messageContainer", `[data-testid="msg-container"]`, q(page, ".message-in"), validator.ErrNotUnique},
		{"optional targets allow many", page, "messageStatus", `[data-testid="msg-status"]`, q(page, `[data-testid="msg-status"]`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, ok := targets.Lookup(tt.target)
			require.True(t, ok)
			err := o.validateCandidate(tt.doc, tt.sel, tt.source, target)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCandidatesCapAndOrder(t *testing.T) {
	o := newOrchestrator(t, nil)
	doc := fixture.Page(t)
	nodes := doc.Query(`[data-testid="msg-container"]`).Nodes
	require.Len(t, nodes, 2)

	cands := o.candidates(doc, nodes, Config{MaxCandidates: 4, ElementsPerTarget: 5})
	require.Len(t, cands, 4)
	assert.Equal(t, `[data-testid="msg-container"]`, cands[0].selector)
	assert.Same(t, nodes[0], cands[0].source)

	seen := map[string]bool{}
	for _, c := range cands {
		assert.False(t, seen[c.selector], "duplicate %s", c.selector)
		seen[c.selector] = true
	}

	one := o.candidates(doc, nodes, Config{MaxCandidates: 50, ElementsPerTarget: 1})
	for _, c := range one {
		assert.Same(t, nodes[0], c.source)
	}
}

func configScan(ids []string) config.ScanConfig {
	return config.ScanConfig{Targets: ids, RequireCritical: true}
}

func TestConfigFromScan(t *testing.T) {
	cfg, err := ConfigFromScan(configScan(nil))
	require.NoError(t, err)
	assert.Len(t, cfg.Targets, len(targets.All()))
	assert.Equal(t, DefaultMaxCandidates, cfg.MaxCandidates)
	assert.Equal(t, DefaultElementsPerTarget, cfg.ElementsPerTarget)

	cfg, err = ConfigFromScan(configScan([]string{"sendButton", "chatList"}))
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "sendButton", cfg.Targets[0].ID)

	_, err = ConfigFromScan(configScan([]string{"nope"}))
	assert.Error(t, err)
}
