package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stellarlinkco/autoreply/internal/memory"
	"github.com/stellarlinkco/autoreply/internal/profile"
)

const unknownRelationship = "unknown"

type ContactSummary struct {
	TotalMessages      int                        `json:"totalMessages"`
	MyMessages         int                        `json:"myMessages"`
	TheirMessages      int                        `json:"theirMessages"`
	RelationshipLevel  string                     `json:"relationshipLevel"`
	LastInteraction    time.Time                  `json:"lastInteraction"`
	CommunicationStyle profile.CommunicationStyle `json:"communicationStyle"`
}

// Stats is the overview printed by the stats command. Contacts are keyed by
// display name.
type Stats struct {
	Contacts       map[string]ContactSummary `json:"contacts"`
	Relationships  map[string]int            `json:"relationships"`
	ResponseTypes  map[string]int            `json:"responseTypes"`
	TotalContacts  int                       `json:"totalContacts"`
	TotalMessages  int                       `json:"totalMessages"`
	TotalResponses int                       `json:"totalResponses"`
}

func BuildStats(histories map[string]memory.ContactHistory, profiles map[string]profile.ContactProfile, data Store) Stats {
	stats := Stats{
		Contacts:       make(map[string]ContactSummary, len(histories)),
		Relationships:  make(map[string]int),
		ResponseTypes:  make(map[string]int, len(data.ResponseTypes)),
		TotalContacts:  len(histories),
		TotalMessages:  data.TotalMessages,
		TotalResponses: data.TotalResponses,
	}

	for id, h := range histories {
		summary := ContactSummary{
			TotalMessages:     len(h.Messages),
			RelationshipLevel: unknownRelationship,
			LastInteraction:   h.LastInteraction,
		}
		for _, m := range h.Messages {
			if m.FromMe {
				summary.MyMessages++
			} else {
				summary.TheirMessages++
			}
		}
		if p, ok := profiles[id]; ok {
			if p.RelationshipLevel != "" {
				summary.RelationshipLevel = p.RelationshipLevel
			}
			summary.CommunicationStyle = p.CommunicationStyle
		}

		name := h.Name
		if name == "" {
			name = id
		}
		stats.Contacts[name] = summary
	}

	for _, p := range profiles {
		level := p.RelationshipLevel
		if level == "" {
			level = unknownRelationship
		}
		stats.Relationships[level]++
	}
	for k, n := range data.ResponseTypes {
		stats.ResponseTypes[k] = n
	}
	return stats
}

// Export bundles everything known about one contact. Absent parts are nil.
type Export struct {
	ChatHistory *memory.ContactHistory  `json:"chatHistory"`
	Profile     *profile.ContactProfile `json:"profile"`
	Analytics   *ContactStats           `json:"analytics"`
}

func ExportContact(contactID string, histories map[string]memory.ContactHistory, profiles map[string]profile.ContactProfile, data Store) Export {
	var out Export
	if h, ok := histories[contactID]; ok {
		out.ChatHistory = &h
	}
	if p, ok := profiles[contactID]; ok {
		out.Profile = &p
	}
	if c, ok := data.ContactInteractions[contactID]; ok {
		out.Analytics = &c
	}
	return out
}

// DailyReport summarizes one day of activity in a single line.
func DailyReport(data Store, day string) string {
	d, ok := data.DailyStats[day]
	if !ok || d.Messages == 0 {
		return fmt.Sprintf("%s: no activity", day)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d messages, %d responses, %d contacts", day, d.Messages, d.Responses, len(d.UniqueContacts))
	if len(data.ResponseTypes) > 0 {
		kinds := make([]string, 0, len(data.ResponseTypes))
		for k := range data.ResponseTypes {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = fmt.Sprintf("%s=%d", k, data.ResponseTypes[k])
		}
		fmt.Fprintf(&b, " (all-time replies: %s)", strings.Join(parts, " "))
	}
	return b.String()
}
