// Package arbiter decides whether an element lies in the region a target
// belongs to, whether a selector is specific enough, and which target owns a
// selector during a scan.
package arbiter

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/relocator/internal/dom"
	"github.com/xkilldash9x/relocator/internal/exclusion"
	"github.com/xkilldash9x/relocator/internal/targets"
)

// Region roots shared by the context rules and the search layers.
const (
	SidebarSelector      = "#pane-side"
	MainSelector         = "#main"
	FooterSelector       = "footer"
	PanelSelector        = `[data-testid="conversation-panel-messages"]`
	MessageSelector      = `[data-testid="msg-container"]`
	ListItemSelector     = `[data-testid="cell-frame-container"]`
	HeaderSelector       = `[data-testid="conversation-info-header"]`
	messageTurnSelectors = `[data-testid="msg-container"], [data-testid="conversation-turn"], [role="row"]`
)

var clockTime = regexp.MustCompile(`^\d{1,2}:\d{2}$`)

// IsClockTime reports text shaped like a message timestamp, e.g. "14:30".
func IsClockTime(text string) bool { return clockTime.MatchString(strings.TrimSpace(text)) }

// personalizationMarkers are label fragments that embed a contact name.
var personalizationMarkers = []string{"digitar na conversa com", "type a message to"}

// Arbiter applies the context, specificity and label rules. It holds no
// per-scan state; exclusivity lives in Ledger.
type Arbiter struct {
	filter exclusion.Filter
	policy Policy
	rules  map[string]contextRule
	byCat  map[targets.Category]contextRule
	logger *zap.Logger
}

// New returns an Arbiter using policy.
func New(logger *zap.Logger, filter exclusion.Filter, policy Policy) *Arbiter {
	rules, byCat := contextRules()
	return &Arbiter{
		filter: filter,
		policy: policy,
		rules:  rules,
		byCat:  byCat,
		logger: logger.Named("arbiter"),
	}
}

// Policy returns the thresholds in force.
func (a *Arbiter) Policy() Policy { return a.policy }

// LabelTooSpecific rejects accessible labels that encode per-conversation
// data: long labels, and input labels naming the open contact.
func (a *Arbiter) LabelTooSpecific(label string, target targets.Target) bool {
	lower := strings.ToLower(strings.TrimSpace(label))
	if target.ID == "composeBox" || target.Category == targets.Input {
		for _, m := range personalizationMarkers {
			if strings.Contains(lower, m) {
				return true
			}
		}
	}
	return len(strings.Fields(label)) >= a.policy.MaxLabelWords
}

// ContextRoot returns the region element the target must live in, or nil
// when the target has no rule or the region is absent.
func (a *Arbiter) ContextRoot(doc *dom.Document, target targets.Target) *html.Node {
	rule, ok := a.ruleFor(target)
	if !ok {
		return nil
	}
	return doc.QueryOne(rule.root)
}

// InContext reports whether n lies in the target's region and passes the
// target's extra checks. Targets whose region is missing from the page are
// not constrained.
func (a *Arbiter) InContext(doc *dom.Document, n *html.Node, target targets.Target) bool {
	rule, ok := a.ruleFor(target)
	if !ok {
		return true
	}
	root := doc.QueryOne(rule.root)
	if root == nil {
		return true
	}
	if !dom.Contains(root, n) {
		return false
	}
	for _, check := range rule.checks {
		if !check(doc, n) {
			return false
		}
	}
	return true
}

func (a *Arbiter) ruleFor(target targets.Target) (contextRule, bool) {
	if r, ok := a.rules[target.ID]; ok {
		return r, true
	}
	r, ok := a.byCat[target.Category]
	return r, ok
}
