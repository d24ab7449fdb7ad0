package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// XPath builds an absolute XPath for n, anchored at the nearest ancestor with
// a document-unique id. It is used for human-readable diagnostics next to
// the CSS selectors the engine actually persists.
func (d *Document) XPath(node *html.Node) string {
	if node == nil || node.Type != html.ElementNode {
		return ""
	}

	var path []string
	for n := node; n != nil && n.Type != html.DocumentNode; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)

		if id := htmlquery.SelectAttr(n, "id"); id != "" && d.idIsUnique(id) {
			path = append(path, fmt.Sprintf("//*[@id=%s]", xpathLiteral(id)))
			break
		}

		// XPath indices are 1-based and count same-tag siblings only.
		index := 1
		for prev := n.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.ToLower(prev.Data) == tag {
				index++
			}
		}
		path = append(path, fmt.Sprintf("%s[%d]", tag, index))
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	xpath := strings.Join(path, "/")
	if !strings.HasPrefix(xpath, "//*[@id=") {
		xpath = "/" + xpath
	}
	return xpath
}

// FindXPath evaluates an XPath expression and returns the first match.
func (d *Document) FindXPath(expr string) (*html.Node, error) {
	return htmlquery.Query(d.root, expr)
}

func (d *Document) idIsUnique(id string) bool {
	return len(htmlquery.Find(d.root, fmt.Sprintf("//*[@id=%s]", xpathLiteral(id)))) == 1
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
