package arbiter

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// check is one extra condition an in-region element must pass.
type check func(doc *dom.Document, n *html.Node) bool

type contextRule struct {
	root   string
	checks []check
}

// searchLabels mark the sidebar search and compose inputs, which share
// markup with the header and must not be mistaken for it.
var searchLabels = []string{"digitar na conversa", "pesquisar", "search"}

var attachLabels = []string{"anexar", "attach", "emoticon", "emoji"}

func contextRules() (map[string]contextRule, map[targets.Category]contextRule) {
	messageGroup := []check{outside(SidebarSelector), notButton, inside(MainSelector)}
	message := func(extra check) contextRule {
		return contextRule{root: MainSelector, checks: append(append([]check{}, messageGroup...), extra)}
	}

	rules := map[string]contextRule{
		"conversationPanel": message(isConversationPanel),
		"messageContainer":  message(hasAncestor(messageTurnSelectors)),
		"messageIn":         message(onSide(false)),
		"messageOut":        message(onSide(true)),
		"messageText":       message(isMessageText),
		"messageTimestamp":  message(isTimestamp),
		"messageStatus":     {root: MainSelector},

		"chatHeader":     {root: MainSelector, checks: []check{outside(SidebarSelector), labelFreeOf(searchLabels), inside(MainSelector)}},
		"chatHeaderName": {root: MainSelector, checks: []check{outside(SidebarSelector), labelFreeOf(searchLabels), inside(MainSelector)}},
		"chatHeaderInfo": {root: MainSelector},

		"scrollContainer": {root: MainSelector, checks: []check{labelFreeOf([]string{"pesquisar", "search", "digitar na conversa"}), inside(MainSelector)}},
		"searchBox":       {root: SidebarSelector},

		"composeBox": {root: FooterSelector, checks: []check{inside(FooterSelector), func(_ *dom.Document, n *html.Node) bool {
			return dom.Attr(n, "contenteditable") == "true"
		}}},
		"sendButton":      {root: FooterSelector, checks: []check{inside(FooterSelector), isSendButton}},
		"typingIndicator": {root: FooterSelector},

		"chatList":        {root: SidebarSelector},
		"chatListItem":    {root: SidebarSelector},
		"chatName":        {root: SidebarSelector},
		"chatLastMessage": {root: SidebarSelector},
		"chatUnreadBadge": {root: SidebarSelector},
	}

	byCategory := map[targets.Category]contextRule{
		targets.Navigation: {root: SidebarSelector},
		targets.Input:      {root: FooterSelector},
		targets.Message:    {root: MainSelector},
		targets.UI:         {root: MainSelector},
		targets.Metadata:   {root: MainSelector},
	}
	return rules, byCategory
}

func inside(selector string) check {
	return func(doc *dom.Document, n *html.Node) bool { return doc.Closest(n, selector) != nil }
}

func outside(selector string) check {
	return func(doc *dom.Document, n *html.Node) bool { return doc.Closest(n, selector) == nil }
}

func hasAncestor(selector string) check { return inside(selector) }

func notButton(_ *dom.Document, n *html.Node) bool { return dom.Tag(n) != "button" }

func labelFreeOf(words []string) check {
	return func(_ *dom.Document, n *html.Node) bool {
		label := strings.ToLower(dom.Attr(n, "aria-label"))
		for _, w := range words {
			if strings.Contains(label, w) {
				return false
			}
		}
		return true
	}
}

func isConversationPanel(doc *dom.Document, n *html.Node) bool {
	if dom.Attr(n, "data-testid") == "conversation-panel-messages" {
		return true
	}
	switch dom.Attr(n, "role") {
	case "log", "application":
		return true
	}
	return doc.Closest(n, PanelSelector) != nil
}

// onSide splits messages by the horizontal position of their container:
// received messages sit in the left half of the viewport.
func onSide(outgoing bool) check {
	return func(doc *dom.Document, n *html.Node) bool {
		box := doc.Closest(n, MessageSelector)
		if box == nil {
			box = n
		}
		left := doc.Rect(box).Left() < doc.Viewport().Width/2
		return left != outgoing
	}
}

func isMessageText(doc *dom.Document, n *html.Node) bool {
	if doc.Closest(n, MessageSelector) == nil {
		return false
	}
	text := doc.TrimmedText(n)
	return text != "" && !IsClockTime(text)
}

func isTimestamp(doc *dom.Document, n *html.Node) bool {
	return IsClockTime(doc.TrimmedText(n)) && doc.Closest(n, MessageSelector) != nil
}

func isSendButton(_ *dom.Document, n *html.Node) bool {
	if dom.Tag(n) != "button" && dom.Attr(n, "role") != "button" {
		return false
	}
	label := strings.ToLower(dom.Attr(n, "aria-label"))
	for _, w := range attachLabels {
		if strings.Contains(label, w) {
			return false
		}
	}
	return strings.Contains(label, "enviar") || strings.Contains(label, "send")
}
