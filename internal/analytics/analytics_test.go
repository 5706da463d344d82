package analytics

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stellarlinkco/autoreply/internal/memory"
	"github.com/stellarlinkco/autoreply/internal/profile"
	"github.com/stellarlinkco/autoreply/internal/store"
)

type brokenStore struct{}

func (brokenStore) Load(key string, v any) error { return store.ErrNotFound }
func (brokenStore) Save(key string, v any) error {
	return &store.WriteError{Key: key, Err: errors.New("read-only")}
}
func (brokenStore) Close() error { return nil }

func newTestAggregator(t *testing.T) (*Aggregator, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore error: %v", err)
	}
	return NewAggregator(st), st
}

func TestRecord_Counters(t *testing.T) {
	a, _ := newTestAggregator(t)
	day1 := time.Date(2026, 4, 1, 23, 30, 0, 0, time.UTC)
	day2 := day1.Add(time.Hour)

	a.Record("c1", "Mom", false, day1)
	a.Record("c1", "Mom", true, day1)
	a.Record("c2", "Bob", false, day1)
	a.Record("c2", "Bobby", false, day2)

	s := a.Snapshot()
	if s.TotalMessages != 4 || s.TotalResponses != 1 {
		t.Errorf("totals = %d/%d, want 4/1", s.TotalMessages, s.TotalResponses)
	}

	c1, ok := a.Contact("c1")
	if !ok || c1.Name != "Mom" || c1.MessageCount != 2 || c1.ResponseCount != 1 || c1.AvgResponseTime != 0 {
		t.Errorf("c1 = %+v", c1)
	}
	c2, _ := a.Contact("c2")
	if c2.Name != "Bob" {
		t.Errorf("contact name should keep first seen value, got %q", c2.Name)
	}

	d1 := s.DailyStats["2026-04-01"]
	if d1.Messages != 3 || d1.Responses != 1 || len(d1.UniqueContacts) != 2 {
		t.Errorf("day1 = %+v", d1)
	}
	d2 := s.DailyStats["2026-04-02"]
	if d2.Messages != 1 || len(d2.UniqueContacts) != 1 {
		t.Errorf("day2 = %+v", d2)
	}
}

func TestDayKey_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	at := time.Date(2026, 4, 2, 3, 0, 0, 0, loc)
	if got := DayKey(at); got != "2026-04-01" {
		t.Errorf("DayKey = %q, want 2026-04-01", got)
	}
}

func TestRecordResponseType(t *testing.T) {
	a, _ := newTestAggregator(t)
	a.RecordResponseType("ai")
	a.RecordResponseType("ai")
	a.RecordResponseType("fallback")
	a.RecordResponseType("")

	got := a.Snapshot().ResponseTypes
	if got["ai"] != 2 || got["fallback"] != 1 || len(got) != 2 {
		t.Errorf("responseTypes = %v", got)
	}
}

func TestSnapshot_IsCopy(t *testing.T) {
	a, _ := newTestAggregator(t)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	a.Record("c1", "A", false, at)

	s := a.Snapshot()
	s.DailyStats[DayKey(at)].UniqueContacts.Add("intruder")
	s.ContactInteractions["c1"] = ContactStats{Name: "changed"}

	again := a.Snapshot()
	if len(again.DailyStats[DayKey(at)].UniqueContacts) != 1 {
		t.Error("snapshot shares unique contact set")
	}
	if again.ContactInteractions["c1"].Name != "A" {
		t.Error("snapshot shares contact map")
	}
}

func TestAggregator_PersistAndReload(t *testing.T) {
	a, st := newTestAggregator(t)
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	a.Record("c2", "B", false, at)
	a.Record("c1", "A", true, at)
	a.RecordResponseType("simple")

	var raw map[string]any
	if err := st.Load(store.KeyAnalytics, &raw); err != nil {
		t.Fatalf("load raw: %v", err)
	}
	day := raw["dailyStats"].(map[string]any)["2026-04-01"].(map[string]any)
	ids := day["uniqueContacts"].([]any)
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c2" {
		t.Errorf("uniqueContacts persisted as %v, want sorted array", ids)
	}

	reloaded := NewAggregator(st)
	s := reloaded.Snapshot()
	if s.TotalMessages != 2 || s.TotalResponses != 1 || s.ResponseTypes["simple"] != 1 {
		t.Errorf("reloaded = %+v", s)
	}
	if _, ok := s.DailyStats["2026-04-01"].UniqueContacts["c1"]; !ok {
		t.Error("unique contacts lost on reload")
	}

	reloaded.Record("c3", "C", false, at)
	if n := len(reloaded.Snapshot().DailyStats["2026-04-01"].UniqueContacts); n != 3 {
		t.Errorf("unique contacts after reload+record = %d, want 3", n)
	}
}

func TestContactSet_UnmarshalObject(t *testing.T) {
	var set ContactSet
	if err := json.Unmarshal([]byte(`{}`), &set); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	if set == nil || len(set) != 0 {
		t.Errorf("set = %v, want empty", set)
	}
	if err := json.Unmarshal([]byte(`["b","a"]`), &set); err != nil {
		t.Fatalf("unmarshal array: %v", err)
	}
	if got := set.Sorted(); len(got) != 2 || got[0] != "a" {
		t.Errorf("sorted = %v", got)
	}
	if err := json.Unmarshal([]byte(`42`), &set); err == nil {
		t.Error("expected error for number")
	}
}

func TestAggregator_SaveFailureKeepsCounting(t *testing.T) {
	a := NewAggregator(brokenStore{})
	a.Record("c1", "A", false, time.Now())
	a.Record("c1", "A", false, time.Now())

	if got := a.Snapshot().TotalMessages; got != 2 {
		t.Errorf("totalMessages = %d, want 2", got)
	}
	if err := a.Flush(); err == nil {
		t.Error("Flush should return the write error")
	}
}

func TestTotalMessagesMatchesLedgerAppends(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a := NewAggregator(st)
	ledger := memory.NewLedger(st, a)

	appends := 0
	for i := 0; i < 60; i++ {
		ledger.Append([]string{"a", "b", "c"}[i%3], "X", "msg", i%4 == 0, "")
		appends++
	}
	if got := a.Snapshot().TotalMessages; got != appends {
		t.Errorf("totalMessages = %d, want %d", got, appends)
	}
}

func TestBuildStats(t *testing.T) {
	last := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	histories := map[string]memory.ContactHistory{
		"c1": {Name: "Mom", LastInteraction: last, Messages: []memory.MessageEntry{
			{Text: "hi", FromMe: false}, {Text: "hey", FromMe: true}, {Text: "?", FromMe: false},
		}},
		"c2": {Name: "", Messages: []memory.MessageEntry{{Text: "yo"}}},
	}
	profiles := map[string]profile.ContactProfile{
		"c1": {Name: "Mom", RelationshipLevel: profile.Family, CommunicationStyle: profile.CommunicationStyle{UsesEmojis: true}},
		"c3": {Name: "Ghost"},
	}
	data := Store{TotalMessages: 4, TotalResponses: 1, ResponseTypes: map[string]int{"ai": 1}}

	stats := BuildStats(histories, profiles, data)

	if stats.TotalContacts != 2 || stats.TotalMessages != 4 || stats.TotalResponses != 1 {
		t.Errorf("totals = %+v", stats)
	}
	mom := stats.Contacts["Mom"]
	if mom.TotalMessages != 3 || mom.MyMessages != 1 || mom.TheirMessages != 2 {
		t.Errorf("mom counts = %+v", mom)
	}
	if mom.RelationshipLevel != profile.Family || !mom.CommunicationStyle.UsesEmojis || !mom.LastInteraction.Equal(last) {
		t.Errorf("mom profile fields = %+v", mom)
	}
	if c2, ok := stats.Contacts["c2"]; !ok || c2.RelationshipLevel != "unknown" {
		t.Errorf("unnamed contact = %+v, ok=%v", c2, ok)
	}
	if stats.Relationships[profile.Family] != 1 || stats.Relationships["unknown"] != 1 {
		t.Errorf("relationships = %v", stats.Relationships)
	}
	if stats.ResponseTypes["ai"] != 1 {
		t.Errorf("responseTypes = %v", stats.ResponseTypes)
	}
}

func TestExportContact(t *testing.T) {
	histories := map[string]memory.ContactHistory{"c1": {Name: "Mom"}}
	profiles := map[string]profile.ContactProfile{"c1": {Name: "Mom", RelationshipLevel: profile.Family}}
	data := Store{ContactInteractions: map[string]ContactStats{"c1": {Name: "Mom", MessageCount: 2}}}

	out := ExportContact("c1", histories, profiles, data)
	if out.ChatHistory == nil || out.Profile == nil || out.Analytics == nil {
		t.Fatalf("export = %+v, want all parts", out)
	}
	if out.Analytics.MessageCount != 2 {
		t.Errorf("analytics = %+v", out.Analytics)
	}

	missing := ExportContact("nobody", histories, profiles, data)
	raw, err := json.Marshal(missing)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"chatHistory":null,"profile":null,"analytics":null}` {
		t.Errorf("missing export = %s", raw)
	}
}

func TestDailyReport(t *testing.T) {
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	a := NewAggregator(brokenStore{})
	a.Record("c1", "A", false, at)
	a.Record("c1", "A", true, at)
	a.RecordResponseType("ai")

	got := DailyReport(a.Snapshot(), "2026-04-01")
	want := "2026-04-01: 2 messages, 1 responses, 1 contacts (all-time replies: ai=1)"
	if got != want {
		t.Errorf("DailyReport = %q, want %q", got, want)
	}
	if got := DailyReport(a.Snapshot(), "2026-04-02"); !strings.Contains(got, "no activity") {
		t.Errorf("empty day = %q", got)
	}
}
