// Package analytics keeps running message and response counters per contact
// and per day.
package analytics

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/stellarlinkco/autoreply/internal/store"
)

// DayLayout is the key format of Store.DailyStats. Days are UTC.
const DayLayout = "2006-01-02"

type ContactStats struct {
	Name          string `json:"name"`
	MessageCount  int    `json:"messageCount"`
	ResponseCount int    `json:"responseCount"`
	// AvgResponseTime is reserved and never computed.
	AvgResponseTime float64 `json:"avgResponseTime"`
}

type DayStats struct {
	Messages       int        `json:"messages"`
	Responses      int        `json:"responses"`
	UniqueContacts ContactSet `json:"uniqueContacts"`
}

// ContactSet is a set of contact ids stored as a sorted JSON array.
type ContactSet map[string]struct{}

func (s ContactSet) Add(id string) { s[id] = struct{}{} }

func (s ContactSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s ContactSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *ContactSet) UnmarshalJSON(data []byte) error {
	set := make(ContactSet)
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		// Older documents stored the set as an object.
		var obj map[string]any
		if objErr := json.Unmarshal(data, &obj); objErr != nil {
			return err
		}
		for id := range obj {
			set.Add(id)
		}
		*s = set
		return nil
	}
	for _, id := range ids {
		set.Add(id)
	}
	*s = set
	return nil
}

// Store is the persisted analytics document. Counters only ever increase.
type Store struct {
	TotalMessages       int                     `json:"totalMessages"`
	TotalResponses      int                     `json:"totalResponses"`
	ContactInteractions map[string]ContactStats `json:"contactInteractions"`
	// ResponseTypes counts sent replies by source (ai, fallback, simple).
	ResponseTypes map[string]int      `json:"responseTypes"`
	DailyStats    map[string]DayStats `json:"dailyStats"`
}

func newStore() Store {
	return Store{
		ContactInteractions: make(map[string]ContactStats),
		ResponseTypes:       make(map[string]int),
		DailyStats:          make(map[string]DayStats),
	}
}

func (s Store) clone() Store {
	out := newStore()
	out.TotalMessages = s.TotalMessages
	out.TotalResponses = s.TotalResponses
	for id, c := range s.ContactInteractions {
		out.ContactInteractions[id] = c
	}
	for k, n := range s.ResponseTypes {
		out.ResponseTypes[k] = n
	}
	for day, d := range s.DailyStats {
		set := make(ContactSet, len(d.UniqueContacts))
		for id := range d.UniqueContacts {
			set.Add(id)
		}
		d.UniqueContacts = set
		out.DailyStats[day] = d
	}
	return out
}

// DayKey returns the DailyStats key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Aggregator owns the analytics document. Every mutation is persisted.
type Aggregator struct {
	mu    sync.Mutex
	store store.Store
	data  Store
}

func NewAggregator(st store.Store) *Aggregator {
	a := &Aggregator{store: st, data: newStore()}

	var loaded Store
	if store.LoadOrEmpty(st, store.KeyAnalytics, &loaded) {
		a.data.TotalMessages = loaded.TotalMessages
		a.data.TotalResponses = loaded.TotalResponses
		for id, c := range loaded.ContactInteractions {
			a.data.ContactInteractions[id] = c
		}
		for k, n := range loaded.ResponseTypes {
			a.data.ResponseTypes[k] = n
		}
		for day, d := range loaded.DailyStats {
			if d.UniqueContacts == nil {
				d.UniqueContacts = make(ContactSet)
			}
			a.data.DailyStats[day] = d
		}
		log.Printf("[analytics] loaded: %d messages, %d responses", a.data.TotalMessages, a.data.TotalResponses)
	}
	return a
}

// Record counts one ledger append.
func (a *Aggregator) Record(contactID, name string, fromMe bool, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.data.TotalMessages++
	if fromMe {
		a.data.TotalResponses++
	}

	c, ok := a.data.ContactInteractions[contactID]
	if !ok {
		c = ContactStats{Name: name}
	}
	c.MessageCount++
	if fromMe {
		c.ResponseCount++
	}
	a.data.ContactInteractions[contactID] = c

	day := DayKey(at)
	d, ok := a.data.DailyStats[day]
	if !ok {
		d = DayStats{UniqueContacts: make(ContactSet)}
	}
	d.Messages++
	if fromMe {
		d.Responses++
	}
	d.UniqueContacts.Add(contactID)
	a.data.DailyStats[day] = d

	a.saveLocked()
}

// RecordResponseType counts one sent reply by its source.
func (a *Aggregator) RecordResponseType(kind string) {
	if kind == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.data.ResponseTypes[kind]++
	a.saveLocked()
}

// Snapshot returns a deep copy of the analytics document.
func (a *Aggregator) Snapshot() Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.clone()
}

func (a *Aggregator) Contact(contactID string) (ContactStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.data.ContactInteractions[contactID]
	return c, ok
}

func (a *Aggregator) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Save(store.KeyAnalytics, a.data)
}

func (a *Aggregator) saveLocked() {
	if err := a.store.Save(store.KeyAnalytics, a.data); err != nil {
		log.Printf("[analytics] save failed: %v", err)
	}
}
