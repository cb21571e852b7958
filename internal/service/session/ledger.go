package session

import (
	"sync"

	"github.com/zhouzirui/indiana-oracle/backend/internal/model/conversation"
)

// Ledger is the ordered turn history of one session.
type Ledger struct {
	mu    sync.RWMutex
	turns []conversation.Turn
	next  int
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records a turn and returns it with its ordinal.
func (l *Ledger) Append(role conversation.Role, content string) conversation.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	turn := conversation.Turn{Role: role, Content: content, Ordinal: l.next}
	l.next++
	l.turns = append(l.turns, turn)
	return turn
}

// Snapshot returns a copy of the turns in order.
func (l *Ledger) Snapshot() []conversation.Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]conversation.Turn(nil), l.turns...)
}

// Reset empties the ledger. Ordinals restart at zero.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = nil
	l.next = 0
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
