package arbiter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/fixture"
	"github.com/xkilldash9x/relocator/internal/targets"
)

func newArbiter(t *testing.T) *Arbiter {
	t.Helper()
	return New(zaptest.NewLogger(t), exclusion.New(""), DefaultPolicy())
}

func target(t *testing.T, id string) targets.Target {
	t.Helper()
	tg, ok := targets.Lookup(id)
	require.True(t, ok, id)
	return tg
}

// volumePage renders n status icons inside #main; the ones flagged bad are
// hidden so they fail the precision check.
func volumePage(t *testing.T, n int, bad func(i int) bool) *dom.Document {
	t.Helper()
	var b strings.Builder
	b.WriteString(`<html><body><div id="main">`)
	for i := 0; i < n; i++ {
		if bad(i) {
			b.WriteString(`<span class="tick" style="display:none"></span>`)
		} else {
			b.WriteString(`<span class="tick"></span>`)
		}
	}
	b.WriteString(`</div></body></html>`)
	return fixture.Document(t, b.String())
}

func TestSpecificity(t *testing.T) {
	a := newArbiter(t)
	status := target(t, "messageStatus")

	tests := []struct {
		name      string
		count     int
		bad       func(i int) bool
		accepted  bool
		precision float64
		reason    string
	}{
		{
			name:  "120 matches at 60 percent",
			count: 120, bad: func(i int) bool { return i%10 < 4 },
			precision: 0.6, reason: "below",
		},
		{
			name:  "100 matches at 90 percent is too generic",
			count: 100, bad: func(i int) bool { return i == 5 || i == 55 },
			precision: 0.9, reason: "too generic",
		},
		{
			name:  "30 matches at 90 percent passes",
			count: 30, bad: func(i int) bool { return i == 0 || i == 1 },
			accepted: true, precision: 0.9,
		},
		{
			name:  "small sets are checked in full",
			count: 5, bad: func(i int) bool { return i == 4 },
			accepted: true, precision: 0.8,
		},
		{
			name:  "small set below the floor",
			count: 4, bad: func(i int) bool { return i < 2 },
			precision: 0.5, reason: "below",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := volumePage(t, tt.count, tt.bad)
			v := a.AcceptSelector(doc, ".tick", status)
			assert.Equal(t, tt.accepted, v.Accepted, v.Reason)
			assert.Equal(t, tt.count, v.MatchCount)
			assert.InDelta(t, tt.precision, v.Precision, 0.001)
			if tt.reason != "" {
				assert.Contains(t, v.Reason, tt.reason)
			}
		})
	}

	t.Run("large sets use a fixed sample", func(t *testing.T) {
		doc := volumePage(t, 120, func(int) bool { return false })
		v := a.AcceptSelector(doc, ".tick", status)
		assert.Equal(t, 20, v.Sampled)
		assert.Equal(t, v, a.AcceptSelector(doc, ".tick", status))
	})

	t.Run("malformed selector", func(t *testing.T) {
		doc := volumePage(t, 1, func(int) bool { return false })
		v := a.AcceptSelector(doc, "span[[", status)
		assert.False(t, v.Accepted)
		assert.Zero(t, v.MatchCount)
	})

	t.Run("no matches", func(t *testing.T) {
		doc := volumePage(t, 1, func(int) bool { return false })
		assert.False(t, a.AcceptSelector(doc, ".missing", status).Accepted)
	})
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.SpecificityConfig{MinPrecision: 0.9, SampleSize: 30})
	assert.Equal(t, 0.9, p.MinPrecision)
	assert.Equal(t, 30, p.SampleSize)
	assert.Equal(t, DefaultPolicy().HighVolumeThreshold, p.HighVolumeThreshold)
	assert.Equal(t, DefaultPolicy().MaxLabelWords, p.MaxLabelWords)
}

func TestLabelTooSpecific(t *testing.T) {
	a := newArbiter(t)
	compose := target(t, "composeBox")
	search := target(t, "searchBox")
	header := target(t, "chatHeaderInfo")

	assert.True(t, a.LabelTooSpecific("Digitar na conversa com Ana Souza", compose))
	assert.True(t, a.LabelTooSpecific("Type a message to Bob", search))
	assert.False(t, a.LabelTooSpecific("Type a message to Bob", header), "marker only applies to inputs")
	assert.True(t, a.LabelTooSpecific("one two three four five", header))
	assert.False(t, a.LabelTooSpecific("Dados do perfil", header))
	assert.False(t, a.LabelTooSpecific("", compose))
}

func TestContextRoot(t *testing.T) {
	a := newArbiter(t)
	doc := fixture.Page(t)

	assert.Equal(t, "pane-side", dom.ID(a.ContextRoot(doc, target(t, "searchBox"))))
	assert.Equal(t, "main", dom.ID(a.ContextRoot(doc, target(t, "messageText"))))
	assert.Equal(t, "footer", dom.Tag(a.ContextRoot(doc, target(t, "sendButton"))))
	assert.Equal(t, "footer", dom.Tag(a.ContextRoot(doc, target(t, "typingIndicator"))))
	assert.Equal(t, "pane-side", dom.ID(a.ContextRoot(doc, target(t, "chatUnreadBadge"))))

	bare := fixture.Document(t, `<html><body><p>nothing</p></body></html>`)
	assert.Nil(t, a.ContextRoot(bare, target(t, "chatList")))
}

func TestInContext(t *testing.T) {
	a := newArbiter(t)
	doc := fixture.Page(t)
	tests := []struct {
		target   string
		selector string
		want     []bool
	}{
		{"messageIn", `#main [data-testid="msg-container"]`, []bool{true, false}},
		{"messageOut", `#main [data-testid="msg-container"]`, []bool{false, true}},
		{"messageText", `[data-testid="msg-text"]`, []bool{true, true, false}},
		{"messageTimestamp", `[data-testid="msg-time"]`, []bool{true, true}},
		{"messageTimestamp", `[data-testid="msg-text"]`, []bool{false, false, false}},
		{"messageContainer", `[data-testid="msg-meta"]`, []bool{true, true}},
		{"messageContainer", `[data-testid="scroll-to-top"]`, []bool{false}},
		{"conversationPanel", `[role="log"], [role="application"]`, []bool{true, true}},
		{"conversationPanel", `[data-testid="chat-list"]`, []bool{false}},
		{"composeBox", `[contenteditable]`, []bool{true}},
		{"composeBox", `[data-testid="chat-list-search"]`, []bool{false}},
		{"sendButton", `footer button`, []bool{false, true}},
		{"sendButton", `[data-testid="send"]`, []bool{true, false}},
		{"chatHeader", `[data-testid="conversation-info-header"]`, []bool{true}},
		{"chatHeader", `[aria-label="Pesquisar"]`, []bool{false}},
		{"scrollContainer", `[data-testid="conversation-panel-messages"]`, []bool{true}},
		{"chatList", `[role="listbox"], [role="log"]`, []bool{true, false}},
		{"searchBox", `input`, []bool{true}},
		{"chatHeaderInfo", `button`, []bool{true, true, true, true, false}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s %s", tt.target, tt.selector), func(t *testing.T) {
			nodes := doc.Query(tt.selector).Nodes
			require.Len(t, nodes, len(tt.want))
			for i, n := range nodes {
				assert.Equal(t, tt.want[i], a.InContext(doc, n, target(t, tt.target)), "match %d", i)
			}
		})
	}

	t.Run("missing region accepts", func(t *testing.T) {
		bare := fixture.Document(t, `<html><body><span class="x">1</span></body></html>`)
		assert.True(t, a.InContext(bare, bare.QueryOne(".x"), target(t, "chatUnreadBadge")))
	})
}

func TestIsClockTime(t *testing.T) {
	assert.True(t, IsClockTime("14:30"))
	assert.True(t, IsClockTime(" 9:05 "))
	assert.False(t, IsClockTime("14:3"))
	assert.False(t, IsClockTime("at 14:30"))
}
