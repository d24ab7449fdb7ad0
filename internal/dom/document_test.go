package dom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/relocator/internal/dom"
)

const layoutHTML = `
<html><head><title>t</title></head>
<body>
	<div id="side" style="left:0px;top:0px;width:400px;height:800px">
		<div class="row row" style="top:10px;height:60px">
			<span class="badge" style="left:360px;top:20px;width:20px;height:20px">3</span>
		</div>
	</div>
	<div id="main" style="left:400px;width:880px;height:800px">
		<p hidden>gone</p>
		<div style="display:none"><span class="inner">nested</span></div>
		<div style="visibility:hidden"><span class="ghost">ghost</span></div>
		<div style="opacity: 0 !important" class="faded">faded</div>
		<div class="zero" style="height:0px">zero</div>
	</div>
</body></html>`

func mustParse(t *testing.T, s string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString(s)
	require.NoError(t, err)
	return doc
}

func TestQuery(t *testing.T) {
	doc := mustParse(t, layoutHTML)

	t.Run("matches elements", func(t *testing.T) {
		res := doc.Query(".badge")
		require.NoError(t, res.Err)
		require.Equal(t, 1, res.Len())
		assert.Equal(t, "3", doc.Text(res.First()))
	})

	t.Run("malformed selector is a result, not a panic", func(t *testing.T) {
		res := doc.Query("div[[")
		assert.True(t, res.Malformed())
		assert.ErrorIs(t, res.Err, dom.ErrMalformedSelector)
		assert.Zero(t, res.Len())
		assert.Nil(t, res.First())
	})

	t.Run("scoped query excludes the scope itself", func(t *testing.T) {
		main := doc.QueryOne("#main")
		require.NotNil(t, main)
		res := doc.QueryWithin(main, "div")
		assert.Equal(t, 4, res.Len())
		for _, n := range res.Nodes {
			assert.NotEqual(t, main, n)
		}
		assert.Zero(t, doc.QueryWithin(nil, "div").Len())
	})

	t.Run("ancestors outside the scope still participate", func(t *testing.T) {
		row := doc.QueryOne(".row")
		res := doc.QueryWithin(row, "#side .badge")
		assert.Equal(t, 1, res.Len())
	})
}

func TestTraversalHelpers(t *testing.T) {
	doc := mustParse(t, layoutHTML)
	badge := doc.QueryOne(".badge")
	require.NotNil(t, badge)

	assert.Equal(t, "side", dom.ID(doc.Closest(badge, "[id]")))
	assert.Equal(t, badge, doc.Closest(badge, ".badge"), "closest is inclusive")
	assert.Nil(t, doc.Closest(badge, "#main"))
	assert.True(t, dom.Contains(doc.QueryOne("#side"), badge))
	assert.False(t, dom.Contains(doc.QueryOne("#main"), badge))
	assert.Equal(t, "div", dom.Tag(dom.ParentElement(badge)))
	assert.Equal(t, []string{"row"}, dom.Classes(dom.ParentElement(badge)))
	assert.True(t, doc.Matches(badge, "span.badge"))
	assert.False(t, doc.Matches(badge, "span["))
	assert.Len(t, dom.Children(doc.QueryOne("#main")), 5)
	assert.NotNil(t, doc.Body())
}

func TestRenderInformation(t *testing.T) {
	doc := mustParse(t, layoutHTML)

	tests := []struct {
		name     string
		selector string
		visible  bool
	}{
		{"positioned badge", ".badge", true},
		{"hidden attribute", "p", false},
		{"inside display none", ".inner", false},
		{"inherited visibility", ".ghost", false},
		{"zero opacity", ".faded", false},
		{"zero height", ".zero", false},
		{"title in head", "title", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := doc.QueryOne(tt.selector)
			require.NotNil(t, n)
			assert.Equal(t, tt.visible, doc.Visible(n))
		})
	}

	t.Run("boxes are offset from the parent box", func(t *testing.T) {
		r := doc.Rect(doc.QueryOne(".badge"))
		assert.Equal(t, dom.Rect{X: 360, Y: 30, Width: 20, Height: 20}, r)
		assert.Equal(t, 380.0, r.Right())
		assert.Equal(t, 50.0, r.Bottom())
	})

	t.Run("descendants of display none have no box", func(t *testing.T) {
		assert.True(t, doc.Rect(doc.QueryOne(".inner")).Empty())
	})

	t.Run("body fills the viewport", func(t *testing.T) {
		assert.Equal(t, doc.Viewport(), doc.Rect(doc.Body()))
	})

	t.Run("custom viewport", func(t *testing.T) {
		small, err := dom.ParseString(layoutHTML, dom.WithViewport(640, 480))
		require.NoError(t, err)
		assert.Equal(t, dom.Rect{Width: 640, Height: 480}, small.Viewport())
	})
}

func TestElementFromPoint(t *testing.T) {
	doc := mustParse(t, layoutHTML)

	assert.Equal(t, doc.QueryOne(".badge"), doc.ElementFromPoint(370, 40))
	assert.Equal(t, "side", dom.ID(doc.ElementFromPoint(100, 500)))
	assert.Nil(t, doc.ElementFromPoint(5000, 5000))
}

func TestRevision(t *testing.T) {
	a := mustParse(t, layoutHTML)
	b := mustParse(t, layoutHTML)
	assert.NotEqual(t, a.Revision(), b.Revision())
}

func TestEscaping(t *testing.T) {
	doc := mustParse(t, `<html><body>
		<div id="1st" class="a:b" data-label='say "hi"'>x</div>
		<div id="-9" class="w-50%">y</div>
	</body></html>`)

	tests := []struct {
		name     string
		selector string
	}{
		{"leading digit id", "#" + dom.EscapeIdent("1st")},
		{"colon in class", "." + dom.EscapeIdent("a:b")},
		{"quoted attribute", dom.AttrEquals("data-label", `say "hi"`)},
		{"dash digit id", "#" + dom.EscapeIdent("-9")},
		{"percent class", "." + dom.EscapeIdent("w-50%")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := doc.Query(tt.selector)
			require.NoError(t, res.Err, tt.selector)
			assert.Equal(t, 1, res.Len(), tt.selector)
		})
	}
}
