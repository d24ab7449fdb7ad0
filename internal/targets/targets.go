// Package targets defines the named UI regions the engine keeps locators for.
// The catalog is fixed at startup and never mutated.
package targets

import (
	"fmt"
	"strings"
)

// Priority orders targets by how much the rest of the system depends on them.
type Priority string

const (
	Critical  Priority = "critical"
	Important Priority = "important"
	Optional  Priority = "optional"
)

// Label is the short tier name used in reports.
func (p Priority) Label() string {
	switch p {
	case Critical:
		return "P0"
	case Important:
		return "P1"
	case Optional:
		return "P2"
	default:
		return "P?"
	}
}

// ParsePriority accepts either the tier name or its P0/P1/P2 label.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "p0":
		return Critical, nil
	case "important", "p1":
		return Important, nil
	case "optional", "p2":
		return Optional, nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

// Category groups targets that share discovery and context rules.
type Category string

const (
	Navigation Category = "navigation"
	Message    Category = "message"
	Input      Category = "input"
	Metadata   Category = "metadata"
	UI         Category = "ui"
)

// Hints carry optional descriptive signals about a target.
type Hints struct {
	Location        string   `json:"location,omitempty" yaml:"location,omitempty"`
	Characteristics []string `json:"characteristics,omitempty" yaml:"characteristics,omitempty"`
	VisualCues      string   `json:"visualCues,omitempty" yaml:"visualCues,omitempty"`
}

// Target describes one UI region.
type Target struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description" yaml:"description"`
	Priority    Priority `json:"priority" yaml:"priority"`
	Category    Category `json:"category" yaml:"category"`
	Required    bool     `json:"required" yaml:"required"`
	Hints       Hints    `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// IsTopPriority reports whether the costly pixel fallback may be used.
func (t Target) IsTopPriority() bool {
	return t.Priority == Critical || t.Priority == Important
}

// catalog is copied out by All so callers cannot mutate it.
var catalog = []Target{
	{
		ID: "chatList", Description: "Conversation list (left sidebar)",
		Priority: Critical, Category: Navigation, Required: true,
		Hints: Hints{Location: "left sidebar", Characteristics: []string{"data-testid=chat-list", "role=listbox"}},
	},
	{
		ID: "chatListItem", Description: "Single entry in the conversation list",
		Priority: Critical, Category: Navigation, Required: true,
		Hints: Hints{Location: "inside the conversation list", Characteristics: []string{"data-testid=cell-frame-container"}},
	},
	{
		ID: "conversationPanel", Description: "Main conversation panel",
		Priority: Critical, Category: Message, Required: true,
		Hints: Hints{
			Location:        "central area where messages appear",
			Characteristics: []string{"data-testid=conversation-panel-messages", "role=application", "role=log"},
			VisualCues:      "scrollable container in the centre of the screen holding messages",
		},
	},
	{
		ID: "messageContainer", Description: "Single message container",
		Priority: Critical, Category: Message, Required: true,
		Hints: Hints{Characteristics: []string{"data-testid=msg-container"}},
	},
	{
		ID: "messageIn", Description: "Received message",
		Priority: Critical, Category: Message, Required: true,
		Hints: Hints{VisualCues: "left side, white or grey background", Characteristics: []string{`class*="message-in"`}},
	},
	{
		ID: "messageOut", Description: "Sent message",
		Priority: Critical, Category: Message, Required: true,
		Hints: Hints{VisualCues: "right side, green background", Characteristics: []string{`class*="message-out"`}},
	},
	{
		ID: "messageText", Description: "Message text",
		Priority: Critical, Category: Message, Required: true,
		Hints: Hints{Characteristics: []string{"data-testid=msg-text"}},
	},
	{
		ID: "searchBox", Description: "Contact search box",
		Priority: Critical, Category: Input, Required: true,
		Hints: Hints{
			Location:        "left sidebar, above the conversation list",
			Characteristics: []string{"data-testid=chat-list-search", `input[placeholder*="Pesquisar"]`, `input[aria-label*="Pesquisar"]`},
		},
	},
	{
		ID: "composeBox", Description: "Message compose field",
		Priority: Critical, Category: Input, Required: true,
		Hints: Hints{Location: "footer, text field", Characteristics: []string{"contenteditable=true", "data-testid=conversation-compose-box-input"}},
	},
	{
		ID: "sendButton", Description: "Send button",
		Priority: Critical, Category: Input, Required: true,
		Hints: Hints{Location: "next to the compose field", Characteristics: []string{"data-testid=send", `aria-label*="Enviar"`}},
	},
	{
		ID: "chatHeader", Description: "Conversation header",
		Priority: Critical, Category: UI, Required: true,
		Hints: Hints{Location: "top of the conversation", Characteristics: []string{"data-testid=conversation-info-header"}},
	},
	{
		ID: "chatHeaderName", Description: "Contact name in the header",
		Priority: Critical, Category: UI, Required: true,
		Hints: Hints{Location: "inside the header", Characteristics: []string{"data-testid=conversation-info-header-chat-title"}},
	},
	{
		ID: "scrollContainer", Description: "Scrollable message container",
		Priority: Critical, Category: UI, Required: true,
		Hints: Hints{Location: "inside the conversation panel", Characteristics: []string{"role=log", "overflow"}},
	},
	{
		ID: "chatName", Description: "Contact name in the list",
		Priority: Critical, Category: Navigation, Required: true,
		Hints: Hints{Location: "inside the list entry", Characteristics: []string{"data-testid=conversation-info-header-chat-title"}},
	},
	{
		ID: "messageTimestamp", Description: "Message timestamp",
		Priority: Critical, Category: Metadata, Required: true,
		Hints: Hints{
			Location:        "below the message",
			Characteristics: []string{"data-testid=msg-meta", "data-testid=msg-time"},
			VisualCues:      `span with a clock time (e.g. "14:30") inside msg-container`,
		},
	},
	{
		ID: "chatUnreadBadge", Description: "Unread counter badge",
		Priority: Important, Category: Navigation,
		Hints: Hints{
			Location:        "inside the list entry",
			Characteristics: []string{"data-testid=icon-unread-count"},
			VisualCues:      "small element (width < 30px) holding a number",
		},
	},
	{
		ID: "chatLastMessage", Description: "Last message preview in the list",
		Priority: Important, Category: Navigation,
		Hints: Hints{
			Location:        "inside the list entry",
			Characteristics: []string{"data-testid=subtitle"},
			VisualCues:      "second or third span inside the list entry",
		},
	},
	{
		ID: "messageStatus", Description: "Delivery status (sent, delivered, read)",
		Priority: Important, Category: Metadata,
		Hints: Hints{
			Location:        "inside a sent message",
			Characteristics: []string{"data-testid=msg-status", "data-icon=check"},
			VisualCues:      "small element in the bottom-right corner of sent messages",
		},
	},
	{
		ID: "scrollToTop", Description: "Scroll-to-top indicator",
		Priority: Important, Category: UI,
		Hints: Hints{
			Location:        "top of the message container",
			Characteristics: []string{"data-testid=scroll-to-top"},
			VisualCues:      "button or indicator pinned near the top of the scroll container",
		},
	},
	{
		ID: "chatHeaderInfo", Description: "Conversation info button",
		Priority: Optional, Category: UI,
		Hints: Hints{Location: "in the header", Characteristics: []string{`aria-label*="info"`}, VisualCues: "button inside the conversation header"},
	},
	{
		ID: "typingIndicator", Description: "Typing indicator",
		Priority: Optional, Category: UI,
		Hints: Hints{
			Location:        "in the conversation footer",
			Characteristics: []string{"data-testid=typing", `aria-label*="digitando"`},
			VisualCues:      `footer element showing "typing..." or similar`,
		},
	},
}

var essentialIDs = []string{
	"searchBox",
	"chatList", "chatListItem", "chatName", "chatUnreadBadge",
	"conversationPanel", "messageContainer",
	"messageIn", "messageOut", "messageText", "messageTimestamp",
	"composeBox", "sendButton",
}

// All returns the full catalog in scan order.
func All() []Target {
	out := make([]Target, len(catalog))
	copy(out, catalog)
	for i := range out {
		out[i].Hints.Characteristics = append([]string(nil), catalog[i].Hints.Characteristics...)
	}
	return out
}

// Lookup finds a target by id.
func Lookup(id string) (Target, bool) {
	for _, t := range All() {
		if t.ID == id {
			return t, true
		}
	}
	return Target{}, false
}

// ByPriority returns the targets of one tier, in catalog order.
func ByPriority(p Priority) []Target {
	var out []Target
	for _, t := range All() {
		if t.Priority == p {
			out = append(out, t)
		}
	}
	return out
}

// CriticalTargets returns the P0 tier.
func CriticalTargets() []Target { return ByPriority(Critical) }

// Essential returns the targets needed for basic automation: search,
// navigation, message reading and sending.
func Essential() []Target {
	want := make(map[string]struct{}, len(essentialIDs))
	for _, id := range essentialIDs {
		want[id] = struct{}{}
	}
	var out []Target
	for _, t := range All() {
		if _, ok := want[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Select resolves a list of ids against the catalog, preserving the caller's
// order. An empty list selects the whole catalog.
func Select(ids []string) ([]Target, error) {
	if len(ids) == 0 {
		return All(), nil
	}
	out := make([]Target, 0, len(ids))
	for _, id := range ids {
		t, ok := Lookup(strings.TrimSpace(id))
		if !ok {
			return nil, fmt.Errorf("unknown target %q", id)
		}
		out = append(out, t)
	}
	return out, nil
}
