package search

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/targets"
)

var categoryRoles = map[targets.Category][]string{
	targets.Navigation: {"listbox", "list", "navigation"},
	targets.Message:    {"log", "application", "article"},
	targets.Input:      {"textbox", "button"},
	targets.Metadata:   {"status", "timer"},
	targets.UI:         {"banner", "region", "complementary"},
}

var landmarks = map[targets.Category]string{
	targets.Navigation: `nav, [role="navigation"]`,
	targets.Message:    `main, [role="main"], [role="application"]`,
	targets.Input:      `footer, [role="contentinfo"]`,
	targets.Metadata:   `[role="status"], [role="timer"]`,
	targets.UI:         `header, [role="banner"], [role="region"]`,
}

const focusableSelector = `button:not([disabled]), input:not([disabled]), a[href], ` +
	`[tabindex]:not([tabindex="-1"]), [contenteditable="true"], ` +
	`select:not([disabled]), textarea:not([disabled])`

// labelKeywords lists the words an accessible label must contain for a
// target. Targets identified purely by structure have none.
var labelKeywords = map[string][]string{
	"conversationPanel": {},
	"chatHeader":        {},
	"chatHeaderName":    {},
	"scrollContainer":   {},
	"messageContainer":  {},
	"messageIn":         {},
	"messageOut":        {},
	"messageText":       {},
	"messageTimestamp":  {},
	"messageStatus":     {},
	"composeBox":        {"digitar na conversa", "type a message", "type message"},
	"sendButton":        {"enviar", "send"},
	"chatHeaderInfo":    {"info", "informação", "information"},
	"typingIndicator":   {"digitando", "typing", "escrevendo", "writing"},
}

var stopwords = map[string]struct{}{
	"de": {}, "da": {}, "do": {}, "em": {}, "na": {}, "no": {}, "para": {}, "com": {},
	"o": {}, "a": {}, "os": {}, "as": {},
	"the": {}, "of": {}, "in": {}, "on": {}, "for": {}, "with": {}, "and": {},
}

// keywordsFor returns the label keywords of a target, deriving them from the
// description when no explicit list exists.
func keywordsFor(t targets.Target) []string {
	if kw, ok := labelKeywords[t.ID]; ok {
		return kw
	}
	var out []string
	for _, w := range strings.Fields(strings.ToLower(t.Description)) {
		w = strings.Trim(w, "()[],.;:")
		if _, stop := stopwords[w]; stop || len([]rune(w)) <= 3 {
			continue
		}
		out = append(out, w)
	}
	return out
}

// accessibility gathers elements by ARIA role, focusability, landmark and
// live region, keeping those whose accessible name mentions a keyword.
func accessibility(doc *dom.Document, t targets.Target) []*html.Node {
	keywords := keywordsFor(t)
	named := func(n *html.Node) bool { return accessibleNameMatches(doc, n, keywords) }

	var out []*html.Node
	for _, role := range categoryRoles[t.Category] {
		out = append(out, keep(all(doc, dom.AttrEquals("role", role)), named)...)
	}

	if root := categoryRoot(doc, t.Category); root != nil {
		out = append(out, keep(doc.QueryWithin(root, focusableSelector).Nodes, func(n *html.Node) bool {
			return isFocusable(doc, n) && named(n)
		})...)
	}

	if sel, ok := landmarks[t.Category]; ok {
		out = append(out, keep(all(doc, sel), named)...)
	}

	if t.Category == targets.Message {
		for _, region := range all(doc, "[aria-live]") {
			out = append(out, region)
			out = append(out, doc.QueryWithin(region, `[role="article"], [role="listitem"]`).Nodes...)
		}
	}
	return unique(out)
}

func accessibleNameMatches(doc *dom.Document, n *html.Node, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	name := strings.ToLower(strings.Join([]string{
		dom.Attr(n, "aria-label"),
		dom.Attr(n, "title"),
		dom.Attr(n, "placeholder"),
		doc.TrimmedText(n),
	}, " "))
	for _, k := range keywords {
		if strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// isFocusable reports rendered elements that take keyboard focus.
func isFocusable(doc *dom.Document, n *html.Node) bool {
	r := doc.Style(n)
	if r.Display == "none" || r.Visibility == "hidden" {
		return false
	}
	switch dom.Tag(n) {
	case "button", "input", "select", "textarea":
		if !dom.HasAttr(n, "disabled") {
			return true
		}
	case "a":
		if dom.HasAttr(n, "href") {
			return true
		}
	}
	if v, err := strconv.Atoi(dom.Attr(n, "tabindex")); err == nil && v >= 0 {
		return true
	}
	return dom.Attr(n, "contenteditable") == "true"
}
