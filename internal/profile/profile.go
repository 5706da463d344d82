// Package profile derives a relationship and communication-style profile for
// each contact from the recent chat history.
package profile

import (
	"log"
	"sync"
	"time"

	"github.com/stellarlinkco/autoreply/internal/memory"
	"github.com/stellarlinkco/autoreply/internal/store"
)

// Relationship levels.
const (
	Acquaintance = "acquaintance"
	Friend       = "friend"
	CloseFriend  = "close_friend"
	Family       = "family"
)

// Formality levels.
const (
	Formal   = "formal"
	Informal = "informal"
	Neutral  = "neutral"
)

const (
	SpeedFast   = "fast"
	SpeedNormal = "normal"

	LengthShort  = "short"
	LengthMedium = "medium"
	LengthLong   = "long"

	DefaultGreeting = "hi"

	// WindowSize is how many recent entries a build looks at.
	WindowSize = 20
)

type CommunicationStyle struct {
	AvgMessageLength  float64 `json:"avgMessageLength"`
	UsesEmojis        bool    `json:"usesEmojis"`
	AsksQuestions     bool    `json:"asksQuestions"`
	PreferredGreeting string  `json:"preferredGreeting,omitempty"`
	FormalityLevel    string  `json:"formalityLevel,omitempty"`
}

type Preferences struct {
	ResponseSpeed  string `json:"responseSpeed,omitempty"`
	ResponseLength string `json:"responseLength,omitempty"`
}

type ContactProfile struct {
	Name               string             `json:"name"`
	Number             string             `json:"number"`
	RelationshipLevel  string             `json:"relationshipLevel"`
	CommunicationStyle CommunicationStyle `json:"communicationStyle"`
	Preferences        Preferences        `json:"preferences"`
	LastUpdated        time.Time          `json:"lastUpdated"`
}

// sameDerived reports whether two profiles agree on everything except LastUpdated.
func (p ContactProfile) sameDerived(o ContactProfile) bool {
	p.LastUpdated = o.LastUpdated
	return p == o
}

// History is the read side of the chat ledger.
type History interface {
	RecentWindow(contactID string, n int) []memory.MessageEntry
	Len(contactID string) int
}

// Builder owns the profiles document.
type Builder struct {
	mu       sync.Mutex
	store    store.Store
	history  History
	profiles map[string]ContactProfile
	now      func() time.Time
}

type Option func(*Builder)

// WithClock overrides time.Now (for testing).
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

func NewBuilder(st store.Store, history History, opts ...Option) *Builder {
	b := &Builder{
		store:    st,
		history:  history,
		profiles: make(map[string]ContactProfile),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	loaded := make(map[string]ContactProfile)
	if store.LoadOrEmpty(st, store.KeyProfiles, &loaded) {
		b.profiles = loaded
		log.Printf("[profile] loaded %d profiles", len(loaded))
	}
	return b
}

// Build recomputes the profile for contactID from its recent window and
// persists the result. With an empty window the stored (or seeded) profile
// is returned unchanged.
func (b *Builder) Build(contactID, name, number string) ContactProfile {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.profiles[contactID]
	if !ok {
		current = ContactProfile{
			Name:              name,
			Number:            number,
			RelationshipLevel: Acquaintance,
			LastUpdated:       b.now(),
		}
	}

	window := b.history.RecentWindow(contactID, WindowSize)
	if len(window) > 0 {
		base := current
		if name != "" {
			base.Name = name
		}
		if number != "" {
			base.Number = number
		}
		next := derive(base, window, b.history.Len(contactID))
		if !ok || !next.sameDerived(current) {
			next.LastUpdated = b.now()
		}
		current = next
	}

	b.profiles[contactID] = current
	if err := b.store.Save(store.KeyProfiles, b.profiles); err != nil {
		log.Printf("[profile] save profiles failed: %v", err)
	}
	return current
}

func derive(base ContactProfile, window []memory.MessageEntry, interactions int) ContactProfile {
	var all, theirs, mine []string
	usesEmojis, asksQuestions := false, false
	for _, e := range window {
		all = append(all, e.Text)
		if e.FromMe {
			mine = append(mine, e.Text)
			continue
		}
		theirs = append(theirs, e.Text)
		usesEmojis = usesEmojis || e.HasEmoji
		asksQuestions = asksQuestions || e.HasQuestion
	}

	out := base
	out.RelationshipLevel = ClassifyRelationship(base.Name, interactions, HasPersonalContent(all))
	out.CommunicationStyle = CommunicationStyle{
		AvgMessageLength:  AverageLength(theirs),
		UsesEmojis:        usesEmojis,
		AsksQuestions:     asksQuestions,
		PreferredGreeting: PreferredGreeting(theirs),
		FormalityLevel:    FormalityLevel(theirs),
	}
	out.Preferences = Preferences{
		ResponseSpeed:  ResponseSpeed(all),
		ResponseLength: ResponseLength(mine),
	}
	return out
}

func (b *Builder) Get(contactID string) (ContactProfile, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.profiles[contactID]
	return p, ok
}

// Profiles returns a copy of every stored profile.
func (b *Builder) Profiles() map[string]ContactProfile {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]ContactProfile, len(b.profiles))
	for id, p := range b.profiles {
		out[id] = p
	}
	return out
}

func (b *Builder) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.Save(store.KeyProfiles, b.profiles)
}
