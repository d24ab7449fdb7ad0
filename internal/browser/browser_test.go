package browser

import (
	"testing"

	"github.com/chromedp/cdproto/domsnapshot"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/relocator/internal/config"
	"github.com/xkilldash9x/relocator/internal/dom"
)

// Strings table shared by the snapshot fixtures.
var strs = []string{
	"#document", "HTML", "BODY", "BUTTON", "data-testid", "send", "#text", "Send",
	"block", "visible", "1", "inline-block", "SPAN", "none", "0.5", "html", "!doctype",
}

func idx(i int) domsnapshot.StringIndex { return domsnapshot.StringIndex(i) }

func messengerSnapshot() []*domsnapshot.DocumentSnapshot {
	return []*domsnapshot.DocumentSnapshot{{
		ScrollOffsetY: 500,
		Nodes: &domsnapshot.NodeTreeSnapshot{
			//             doc  doctype html body button text span
			ParentIndex: []int64{-1, 0, 0, 2, 3, 4, 3},
			NodeType:    []int64{9, 10, 1, 1, 1, 3, 1},
			NodeName:    []domsnapshot.StringIndex{idx(0), idx(15), idx(1), idx(2), idx(3), idx(6), idx(12)},
			NodeValue:   []domsnapshot.StringIndex{-1, -1, -1, -1, -1, idx(7), -1},
			Attributes: []domsnapshot.ArrayOfStrings{
				nil, nil, nil, nil, {int64(idx(4)), int64(idx(5))}, nil, nil,
			},
		},
		Layout: &domsnapshot.LayoutTreeSnapshot{
			NodeIndex: []int64{2, 3, 4, 5, 6},
			Styles: []domsnapshot.ArrayOfStrings{
				{int64(idx(8)), int64(idx(9)), int64(idx(10))},
				{int64(idx(8)), int64(idx(9)), int64(idx(10))},
				{int64(idx(11)), int64(idx(9)), int64(idx(14))},
				{},
				{int64(idx(13)), int64(idx(9)), int64(idx(10))},
			},
			Bounds: []domsnapshot.Rectangle{
				{0, 0, 1280, 1300},
				{0, 0, 1280, 1300},
				{100, 600, 40, 40},
				{105, 610, 30, 20},
				{0, 0, 0, 0},
			},
		},
	}}
}

func TestFromSnapshot(t *testing.T) {
	doc, err := FromSnapshot(messengerSnapshot(), strs, dom.Rect{Width: 1280, Height: 800})
	require.NoError(t, err)

	button := doc.QueryOne(`[data-testid="send"]`)
	require.NotNil(t, button)
	assert.Equal(t, "button", dom.Tag(button))
	assert.Equal(t, "Send", doc.TrimmedText(button))

	style := doc.Style(button)
	assert.True(t, style.Visible())
	assert.Equal(t, "inline-block", style.Display)
	assert.InDelta(t, 0.5, style.Opacity, 1e-9)
	assert.Equal(t, dom.Rect{X: 100, Y: 100, Width: 40, Height: 40}, style.Rect, "bounds are shifted by the scroll offset")

	span := doc.QueryOne("span")
	require.NotNil(t, span)
	assert.False(t, doc.Visible(span))

	assert.Same(t, button, doc.ElementFromPoint(120, 120))
	assert.Equal(t, dom.Rect{Width: 1280, Height: 800}, doc.Viewport())
}

func TestFromSnapshotMissingLayout(t *testing.T) {
	docs := messengerSnapshot()
	docs[0].Layout = nil
	doc, err := FromSnapshot(docs, strs, dom.Rect{Width: 1280, Height: 800})
	require.NoError(t, err)

	button := doc.QueryOne("button")
	require.NotNil(t, button)
	assert.False(t, doc.Visible(button), "nodes without layout are hidden")
}

func TestFromSnapshotEmpty(t *testing.T) {
	_, err := FromSnapshot(nil, nil, dom.Rect{})
	assert.Error(t, err)

	_, err = FromSnapshot([]*domsnapshot.DocumentSnapshot{{}}, nil, dom.Rect{})
	assert.Error(t, err)
}

func TestDefaultAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	t.Run("minimal", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{Headless: true})
		assert.Len(t, opts, base+1)
	})

	t.Run("full", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{
			ViewportWidth:  1440,
			ViewportHeight: 900,
			ExecPath:       "/usr/bin/chromium",
			UserDataDir:    "/tmp/profile",
			Args:           []string{"no-sandbox", "disable-gpu"},
		})
		assert.Len(t, opts, base+1+1+1+1+2)
	})

	t.Run("viewport needs both sides", func(t *testing.T) {
		opts := DefaultAllocatorOptions(config.BrowserConfig{ViewportWidth: 1440})
		assert.Len(t, opts, base+1)
	})
}
