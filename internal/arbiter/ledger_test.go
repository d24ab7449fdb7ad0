package arbiter

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger(t *testing.T) {
	l := NewLedger()
	assert.True(t, l.Claim(`[data-testid="send"]`, "sendButton"))
	assert.True(t, l.Claim(`[data-testid="send"]`, "sendButton"), "re-claim by the owner")
	assert.False(t, l.Claim(`[data-testid="send"]`, "chatHeaderInfo"))

	owner, ok := l.Owner(`[data-testid="send"]`)
	assert.True(t, ok)
	assert.Equal(t, "sendButton", owner)
	assert.True(t, l.TakenByOther(`[data-testid="send"]`, "chatHeaderInfo"))
	assert.False(t, l.TakenByOther(`[data-testid="send"]`, "sendButton"))
	assert.False(t, l.TakenByOther("footer", "sendButton"))
	assert.Equal(t, 1, l.Len())

	l.Reset()
	assert.Zero(t, l.Len())
	assert.True(t, l.Claim(`[data-testid="send"]`, "chatHeaderInfo"))
}

func TestLedgerConcurrentClaims(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	wins := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if l.Claim(".shared", id) {
				wins <- id
			}
		}(fmt.Sprintf("target-%d", i))
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	assert.Len(t, winners, 1)
}
