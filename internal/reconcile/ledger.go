package reconcile

import (
	"fmt"
	"sync"
	"time"
)

// Ledger records every inbound event already applied during the current chat
// session, making transport redelivery idempotent. It is cleared whenever the
// active chat changes.
type Ledger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{seen: make(map[string]struct{})}
}

// Mark records the key and reports whether it was new. A false return means
// the event was already applied and must be discarded.
func (l *Ledger) Mark(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.seen[key]; ok {
		return false
	}
	l.seen[key] = struct{}{}
	return true
}

// Seen reports whether the key has been applied, without recording it.
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.seen[key]
	return ok
}

// Clear drops all recorded keys for a fresh chat context.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seen = make(map[string]struct{})
}

// MessageKey is the composite dedup key for events carrying a server id.
func MessageKey(chatID, id string) string {
	return fmt.Sprintf("%s|id|%s", chatID, id)
}

// TextKey is the fallback dedup key for id-less events, bucketed to the
// second so a tight redelivery collapses onto one key.
func TextKey(chatID, text string, at time.Time) string {
	return fmt.Sprintf("%s|tx|%s|%d", chatID, text, at.Unix())
}
