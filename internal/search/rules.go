package search

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/arbiter"
	"github.com/xkilldash9x/relocator/internal/dom"
)

const (
	headerSelector       = arbiter.MainSelector + " header"
	scrollSelector       = `[data-testid="conversation-panel-messages"], [role="log"]`
	headerInfoSelector   = `[data-testid="conversation-info-button"], ` + arbiter.MainSelector + ` header [aria-label*="info"], ` + arbiter.MainSelector + ` header [aria-label*="Dados"]`
	statusIconSelector   = `[data-icon*="check"]`
	typingWords          = "digitando"
	searchPlaceholderKey = "pesquisar"
)

func navigationStrategy() strategy {
	items := func(doc *dom.Document) []*html.Node { return all(doc, arbiter.ListItemSelector) }

	badgeInItems := func(doc *dom.Document) []*html.Node {
		var out []*html.Node
		for _, item := range items(doc) {
			out = append(out, keep(doc.QueryWithin(item, "span, div").Nodes, func(n *html.Node) bool {
				r := doc.Rect(n)
				return isCounter(doc, n) && r.Width < 30 && r.Height < 30
			})...)
		}
		return out
	}
	secondSpans := func(doc *dom.Document, minLen int) []*html.Node {
		var out []*html.Node
		for _, item := range items(doc) {
			if s := nthSpan(item, 1); s != nil && len([]rune(doc.TrimmedText(s))) > minLen {
				out = append(out, s)
			}
		}
		return out
	}

	return ruleStrategy{
		specific: map[string]finder{
			"chatList": func(doc *dom.Document) []*html.Node {
				return union(all(doc, arbiter.SidebarSelector), all(doc, `[data-testid="chat-list"]`), all(doc, `[role="listbox"]`))
			},
			"chatListItem": items,
			"chatUnreadBadge": func(doc *dom.Document) []*html.Node {
				return union(all(doc, `[data-testid="icon-unread-count"]`), badgeInItems(doc))
			},
			"chatLastMessage": func(doc *dom.Document) []*html.Node {
				return union(all(doc, `[data-testid="subtitle"]`), secondSpans(doc, 5))
			},
			// List entries come first so the header title, which repeats the
			// open contact's name, is only a last resort.
			"chatName": func(doc *dom.Document) []*html.Node {
				return union(
					within(doc, arbiter.ListItemSelector, "span[title], span[dir=auto]"),
					all(doc, `[data-testid="conversation-info-header-chat-title"]`),
				)
			},
		},
		pattern: map[string]finder{
			"chatUnreadBadge": func(doc *dom.Document) []*html.Node {
				var out []*html.Node
				for _, item := range items(doc) {
					out = append(out, keep(doc.QueryWithin(item, "span").Nodes, func(n *html.Node) bool {
						return isCounter(doc, n) && doc.Rect(n).Width < 30
					})...)
				}
				return out
			},
			"chatLastMessage": func(doc *dom.Document) []*html.Node { return secondSpans(doc, 0) },
		},
		semantic: map[string]finder{
			"chatUnreadBadge": func(doc *dom.Document) []*html.Node {
				return keep(within(doc, arbiter.SidebarSelector, "span, div"), func(n *html.Node) bool {
					return isCounter(doc, n) || labelContains(n, "não lidas", "unread")
				})
			},
			"chatLastMessage": func(doc *dom.Document) []*html.Node {
				var spans []*html.Node
				for _, item := range items(doc) {
					spans = append(spans, keep(doc.QueryWithin(item, "span").Nodes, func(n *html.Node) bool {
						return len([]rune(doc.TrimmedText(n))) > 5
					})...)
				}
				return union(all(doc, `[data-testid*="subtitle"]`), spans)
			},
		},
		visual: map[string]finder{
			"chatUnreadBadge": func(doc *dom.Document) []*html.Node {
				var out []*html.Node
				for _, item := range items(doc) {
					box := doc.Rect(item)
					out = append(out, keep(dom.Descendants(item), func(n *html.Node) bool {
						r := doc.Rect(n)
						return r.Width > 0 && r.Width < 30 && r.Right() > box.Right()-50 && isCounter(doc, n)
					})...)
				}
				return out
			},
		},
		hierarchy: map[string]predicate{
			"chatUnreadBadge": isCounter,
			"chatLastMessage": func(doc *dom.Document, n *html.Node) bool {
				l := len([]rune(doc.TrimmedText(n)))
				return dom.Tag(n) == "span" && l > 5 && l < 100
			},
		},
	}
}

func messageStrategy() strategy {
	containers := func(doc *dom.Document) []*html.Node { return all(doc, arbiter.MessageSelector) }

	return ruleStrategy{
		specific: map[string]finder{
			"conversationPanel": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, arbiter.PanelSelector),
					all(doc, `[role="application"]`),
					all(doc, `[role="log"]`),
					all(doc, arbiter.MainSelector+` [role="region"], `+arbiter.MainSelector+` div[style*="overflow"]`),
				)
			},
			"messageContainer": containers,
			"messageIn": func(doc *dom.Document) []*html.Node {
				return keep(containers(doc), func(n *html.Node) bool { return incoming(doc, n) })
			},
			"messageOut": func(doc *dom.Document) []*html.Node {
				return keep(containers(doc), func(n *html.Node) bool { return !incoming(doc, n) })
			},
			"messageText": func(doc *dom.Document) []*html.Node { return all(doc, `[data-testid="msg-text"]`) },
		},
		semantic: map[string]finder{
			"conversationPanel": func(doc *dom.Document) []*html.Node {
				m := arbiter.MainSelector
				return all(doc, m+` [role="application"], `+m+` [role="log"], `+m+` div[style*="overflow"]`)
			},
		},
	}
}

func inputStrategy() strategy {
	return ruleStrategy{
		specific: map[string]finder{
			"searchBox": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="chat-list-search"]`),
					all(doc, `input[placeholder*="Pesquisar"], input[aria-label*="Pesquisar"]`),
					keep(within(doc, arbiter.SidebarSelector, `input[type="text"], input:not([type])`), func(n *html.Node) bool {
						return strings.Contains(strings.ToLower(dom.Attr(n, "placeholder")), searchPlaceholderKey) ||
							labelContains(n, searchPlaceholderKey)
					}),
				)
			},
			"composeBox": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="conversation-compose-box-input"]`),
					all(doc, arbiter.FooterSelector+` [contenteditable="true"]`),
				)
			},
			"sendButton": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="send"]`),
					keep(all(doc, "button"), func(n *html.Node) bool { return labelContains(n, "enviar", "send") }),
				)
			},
		},
	}
}

func metadataStrategy() strategy {
	return ruleStrategy{
		specific: map[string]finder{
			"messageStatus": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="msg-status"]`),
					all(doc, `[data-icon="check"], [data-icon="double-check"]`),
				)
			},
			"messageTimestamp": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="msg-meta"]`),
					all(doc, `[data-testid="msg-time"]`),
					keep(within(doc, arbiter.MessageSelector, "span"), func(n *html.Node) bool {
						return arbiter.IsClockTime(doc.TrimmedText(n))
					}),
				)
			},
		},
		pattern: map[string]finder{
			"messageStatus": func(doc *dom.Document) []*html.Node {
				var out []*html.Node
				for _, c := range all(doc, arbiter.MessageSelector) {
					if outgoing(doc, c) {
						out = append(out, doc.QueryWithin(c, statusIconSelector+", svg").Nodes...)
					}
				}
				return out
			},
		},
		semantic: map[string]finder{
			"messageStatus": func(doc *dom.Document) []*html.Node {
				return all(doc, `[data-icon="check"], [data-icon="double-check"], `+statusIconSelector)
			},
		},
		visual: map[string]finder{
			"messageStatus": func(doc *dom.Document) []*html.Node {
				var out []*html.Node
				for _, c := range all(doc, arbiter.MessageSelector) {
					if !outgoing(doc, c) {
						continue
					}
					box := doc.Rect(c)
					out = append(out, keep(dom.Descendants(c), func(n *html.Node) bool {
						r := doc.Rect(n)
						return !r.Empty() && r.Width < 20 && r.Height < 20 &&
							r.Bottom() > box.Bottom()-10 && r.Right() > box.Right()-30
					})...)
				}
				return out
			},
		},
		hierarchy: map[string]predicate{
			"messageStatus": func(_ *dom.Document, n *html.Node) bool {
				return strings.Contains(dom.Attr(n, "data-icon"), "check")
			},
		},
	}
}

func uiStrategy() strategy {
	scrollChildren := func(doc *dom.Document, within float64, sel string) []*html.Node {
		var out []*html.Node
		for _, c := range all(doc, scrollSelector) {
			top := doc.Rect(c).Top()
			out = append(out, keep(doc.QueryWithin(c, sel).Nodes, func(n *html.Node) bool {
				r := doc.Rect(n)
				return !r.Empty() && r.Top() <= top+within
			})...)
		}
		return out
	}
	footerTyping := func(doc *dom.Document) []*html.Node {
		return keep(all(doc, arbiter.FooterSelector+" [aria-label]"), func(n *html.Node) bool {
			return labelContains(n, typingWords, "typing")
		})
	}

	return ruleStrategy{
		specific: map[string]finder{
			"chatHeader": func(doc *dom.Document) []*html.Node {
				return all(doc, arbiter.HeaderSelector)
			},
			"chatHeaderName": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="conversation-info-header-chat-title"]`),
					within(doc, arbiter.HeaderSelector, "span[title]"),
				)
			},
			"chatHeaderInfo": func(doc *dom.Document) []*html.Node {
				return union(all(doc, headerInfoSelector), all(doc, headerSelector+" button"))
			},
			"scrollContainer": func(doc *dom.Document) []*html.Node {
				return union(all(doc, arbiter.PanelSelector), all(doc, `[role="log"]`))
			},
			"scrollToTop": func(doc *dom.Document) []*html.Node {
				return union(
					all(doc, `[data-testid="scroll-to-top"]`),
					scrollChildren(doc, 100, `button, div[role="button"]`),
				)
			},
			"typingIndicator": func(doc *dom.Document) []*html.Node {
				return union(all(doc, `[data-testid="typing"]`), footerTyping(doc))
			},
		},
		pattern: map[string]finder{
			"scrollToTop": func(doc *dom.Document) []*html.Node {
				return scrollChildren(doc, 50, `button, [role="button"]`)
			},
			"typingIndicator": func(doc *dom.Document) []*html.Node {
				return keep(all(doc, arbiter.FooterSelector+" span, "+arbiter.FooterSelector+" div"), func(n *html.Node) bool {
					return textContains(doc, n, typingWords, "typing")
				})
			},
		},
		semantic: map[string]finder{
			"chatHeaderInfo":  func(doc *dom.Document) []*html.Node { return all(doc, headerInfoSelector) },
			"typingIndicator": footerTyping,
		},
		visual: map[string]finder{
			"scrollToTop": func(doc *dom.Document) []*html.Node {
				var out []*html.Node
				for _, c := range all(doc, scrollSelector) {
					top := doc.Rect(c).Top()
					out = append(out, keep(dom.Children(c), func(n *html.Node) bool {
						r := doc.Rect(n)
						return !r.Empty() && r.Top() <= top+100
					})...)
				}
				return out
			},
		},
	}
}
