package memory

import (
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/autoreply/internal/store"
)

// Recorder receives one call per ledger append.
type Recorder interface {
	Record(contactID, name string, fromMe bool, at time.Time)
}

// Ledger is the append-only, capped message log per contact. It is the source
// of truth for profiling and is safe for concurrent use.
type Ledger struct {
	mu          sync.Mutex
	store       store.Store
	recorder    Recorder
	histories   map[string]*ContactHistory
	maxMessages int
	now         func() time.Time
}

type Option func(*Ledger)

// WithClock overrides time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMaxMessages(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxMessages = n
		}
	}
}

// NewLedger loads the history document from st. A missing or corrupt document
// starts an empty ledger. rec may be nil.
func NewLedger(st store.Store, rec Recorder, opts ...Option) *Ledger {
	l := &Ledger{
		store:       st,
		recorder:    rec,
		histories:   make(map[string]*ContactHistory),
		maxMessages: DefaultMaxMessages,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	loaded := make(map[string]*ContactHistory)
	if store.LoadOrEmpty(st, store.KeyHistory, &loaded) {
		for id, h := range loaded {
			if h == nil {
				continue
			}
			if over := len(h.Messages) - l.maxMessages; over > 0 {
				h.Messages = h.Messages[over:]
			}
			l.histories[id] = h
		}
		log.Printf("[ledger] loaded history for %d contacts", len(l.histories))
	}
	return l
}

// Append records one message and persists the ledger.
func (l *Ledger) Append(contactID, name, text string, fromMe bool, messageType string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	h, ok := l.histories[contactID]
	if !ok {
		h = &ContactHistory{
			Name:             name,
			Messages:         make([]MessageEntry, 0, 1),
			FirstInteraction: now,
			LastInteraction:  now,
		}
		l.histories[contactID] = h
	}
	if now.After(h.LastInteraction) {
		h.LastInteraction = now
	}

	h.Messages = append(h.Messages, NewMessageEntry(text, fromMe, messageType, now))
	if over := len(h.Messages) - l.maxMessages; over > 0 {
		h.Messages = append([]MessageEntry(nil), h.Messages[over:]...)
	}

	if l.recorder != nil {
		l.recorder.Record(contactID, name, fromMe, now)
	}

	l.saveLocked()
}

// RecentWindow returns up to the last n entries for contactID, oldest first.
func (l *Ledger) RecentWindow(contactID string, n int) []MessageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.histories[contactID]
	if !ok || n <= 0 {
		return []MessageEntry{}
	}
	start := len(h.Messages) - n
	if start < 0 {
		start = 0
	}
	return append([]MessageEntry(nil), h.Messages[start:]...)
}

// Len returns the size of the capped history for contactID.
func (l *Ledger) Len(contactID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if h, ok := l.histories[contactID]; ok {
		return len(h.Messages)
	}
	return 0
}

// History returns a copy of one contact's history.
func (l *Ledger) History(contactID string) (ContactHistory, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.histories[contactID]
	if !ok {
		return ContactHistory{}, false
	}
	return h.clone(), true
}

// Histories returns a deep copy of every contact's history.
func (l *Ledger) Histories() map[string]ContactHistory {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]ContactHistory, len(l.histories))
	for id, h := range l.histories {
		out[id] = h.clone()
	}
	return out
}

// Flush persists the ledger immediately.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Save(store.KeyHistory, l.histories)
}

func (l *Ledger) saveLocked() {
	if err := l.store.Save(store.KeyHistory, l.histories); err != nil {
		log.Printf("[ledger] save history failed: %v", err)
	}
}
