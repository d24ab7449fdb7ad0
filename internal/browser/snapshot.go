package browser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/domsnapshot"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/relocator/internal/dom"
)

// snapshotStyles are requested from CaptureSnapshot in this order.
var snapshotStyles = []string{"display", "visibility", "opacity"}

const (
	nodeElement  = 1
	nodeText     = 3
	nodeComment  = 8
	nodeDocument = 9
	nodeDoctype  = 10
)

// FromSnapshot rebuilds the main frame of a DOM snapshot as a document.
// Layout bounds are shifted by the scroll offset so rectangles are in
// viewport coordinates. Nodes without a layout object are hidden.
func FromSnapshot(docs []*domsnapshot.DocumentSnapshot, strs []string, viewport dom.Rect) (*dom.Document, error) {
	if len(docs) == 0 || docs[0] == nil || docs[0].Nodes == nil {
		return nil, fmt.Errorf("snapshot has no document")
	}
	snap := docs[0]
	str := func(i domsnapshot.StringIndex) string {
		if i < 0 || int(i) >= len(strs) {
			return ""
		}
		return strs[i]
	}

	tree := snap.Nodes
	nodes := make([]*html.Node, len(tree.NodeType))
	var root *html.Node
	for i, kind := range tree.NodeType {
		var n *html.Node
		switch kind {
		case nodeDocument:
			n = &html.Node{Type: html.DocumentNode}
		case nodeDoctype:
			n = &html.Node{Type: html.DoctypeNode, Data: strings.ToLower(str(tree.NodeName[i]))}
		case nodeElement:
			name := strings.ToLower(str(tree.NodeName[i]))
			n = &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
			if i < len(tree.Attributes) {
				attrs := tree.Attributes[i]
				for j := 0; j+1 < len(attrs); j += 2 {
					n.Attr = append(n.Attr, html.Attribute{Key: str(domsnapshot.StringIndex(attrs[j])), Val: str(domsnapshot.StringIndex(attrs[j+1]))})
				}
			}
		case nodeText:
			n = &html.Node{Type: html.TextNode, Data: str(tree.NodeValue[i])}
		case nodeComment:
			n = &html.Node{Type: html.CommentNode, Data: str(tree.NodeValue[i])}
		default:
			continue
		}
		nodes[i] = n

		parent := int64(-1)
		if i < len(tree.ParentIndex) {
			parent = tree.ParentIndex[i]
		}
		switch {
		case parent < 0:
			if root == nil {
				root = n
			}
		case int(parent) < len(nodes) && nodes[parent] != nil:
			nodes[parent].AppendChild(n)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("snapshot has no root node")
	}

	render := make(map[*html.Node]dom.Render)
	if lay := snap.Layout; lay != nil {
		for j, idx := range lay.NodeIndex {
			if idx < 0 || int(idx) >= len(nodes) || nodes[idx] == nil || nodes[idx].Type != html.ElementNode {
				continue
			}
			r := dom.Render{Opacity: 1}
			if j < len(lay.Styles) {
				styles := lay.Styles[j]
				if len(styles) > 0 {
					r.Display = str(domsnapshot.StringIndex(styles[0]))
				}
				if len(styles) > 1 {
					r.Visibility = str(domsnapshot.StringIndex(styles[1]))
				}
				if len(styles) > 2 {
					if v, err := strconv.ParseFloat(str(domsnapshot.StringIndex(styles[2])), 64); err == nil {
						r.Opacity = v
					}
				}
			}
			if j < len(lay.Bounds) && len(lay.Bounds[j]) == 4 {
				b := lay.Bounds[j]
				r.Rect = dom.Rect{X: b[0] - snap.ScrollOffsetX, Y: b[1] - snap.ScrollOffsetY, Width: b[2], Height: b[3]}
			}
			render[nodes[idx]] = r
		}
	}
	return dom.FromTree(root, render, viewport), nil
}
