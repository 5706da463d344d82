package gateway

import (
	"strings"
	"sync"

	"github.com/stellarlinkco/autoreply/internal/bus"
)

const wildcardMonitor = "*"

// Monitor decides which senders get automatic replies. Entries are display
// names (case-insensitive), phone numbers (compared digits only) or sender
// ids. "ALL" or "*" matches everyone.
type Monitor struct {
	all     bool
	names   map[string]struct{}
	numbers map[string]struct{}
}

func NewMonitor(entries []string) *Monitor {
	m := &Monitor{
		names:   make(map[string]struct{}),
		numbers: make(map[string]struct{}),
	}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.EqualFold(entry, "ALL") || entry == wildcardMonitor {
			m.all = true
			continue
		}
		if num := normalizeNumber(entry); isNumber(num) {
			m.numbers[num] = struct{}{}
		}
		m.names[strings.ToLower(entry)] = struct{}{}
	}
	return m
}

// All reports whether the wildcard is set.
func (m *Monitor) All() bool {
	return m.all
}

func (m *Monitor) Match(msg bus.InboundMessage) bool {
	if m.all {
		return true
	}
	for _, name := range []string{msg.SenderName, msg.SenderID} {
		if name == "" {
			continue
		}
		if _, ok := m.names[strings.ToLower(strings.TrimSpace(name))]; ok {
			return true
		}
	}
	if num := normalizeNumber(msg.SenderNumber); num != "" {
		if _, ok := m.numbers[num]; ok {
			return true
		}
	}
	return false
}

func normalizeNumber(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '+', ' ', '-':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Dedup remembers message ids that already have a handler. It lives for the
// process only.
type Dedup struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewDedup() *Dedup {
	return &Dedup{ids: make(map[string]struct{})}
}

func (d *Dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.ids[id]
	return ok
}

// Claim marks id as handled and reports whether the caller got it first.
func (d *Dedup) Claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.ids[id]; ok {
		return false
	}
	d.ids[id] = struct{}{}
	return true
}

// Release forgets id so a redelivery is handled again.
func (d *Dedup) Release(id string) {
	d.mu.Lock()
	delete(d.ids, id)
	d.mu.Unlock()
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}
