package arbiter

import "sync"

// Ledger records which target owns each selector within one scan session so
// that no selector resolves two targets.
type Ledger struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{owners: make(map[string]string)}
}

// Claim assigns selector to targetID. It returns false when another target
// already holds it; re-claiming by the same target succeeds.
func (l *Ledger) Claim(selector, targetID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner, ok := l.owners[selector]; ok && owner != targetID {
		return false
	}
	l.owners[selector] = targetID
	return true
}

// Owner returns the target holding selector.
func (l *Ledger) Owner(selector string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[selector]
	return owner, ok
}

// TakenByOther reports whether selector belongs to a target other than
// targetID.
func (l *Ledger) TakenByOther(selector, targetID string) bool {
	owner, ok := l.Owner(selector)
	return ok && owner != targetID
}

// Reset forgets every claim. Called at the start of each full scan.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owners = make(map[string]string)
}

// Len is the number of claimed selectors.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.owners)
}
