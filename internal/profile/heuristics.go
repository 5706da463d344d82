package profile

import (
	"strings"
	"unicode/utf8"
)

const (
	closeFriendInteractions = 30
	friendInteractions      = 15

	shortReplyLength = 30
	longReplyLength  = 80
)

// HasPersonalContent reports whether any text mentions a personal topic.
func HasPersonalContent(texts []string) bool {
	return anyMatch(texts, func(t string) bool { return personalPattern.MatchString(t) })
}

// ClassifyRelationship derives the relationship level. A family word in the
// contact's name always wins; otherwise interactions is compared against the
// close-friend and friend thresholds.
func ClassifyRelationship(name string, interactions int, personal bool) string {
	switch {
	case familyPattern.MatchString(name):
		return Family
	case interactions > closeFriendInteractions && personal:
		return CloseFriend
	case interactions > friendInteractions:
		return Friend
	default:
		return Acquaintance
	}
}

// PreferredGreeting returns the most frequent greeting across texts. Every
// match counts; ties keep the greeting seen first.
func PreferredGreeting(texts []string) string {
	counts := make(map[string]int)
	var order []string
	for _, t := range texts {
		for _, m := range greetingPattern.FindAllString(t, -1) {
			g := strings.ToLower(m)
			if counts[g] == 0 {
				order = append(order, g)
			}
			counts[g]++
		}
	}

	best := DefaultGreeting
	bestCount := 0
	for _, g := range order {
		if counts[g] > bestCount {
			best, bestCount = g, counts[g]
		}
	}
	return best
}

// FormalityLevel scores each text against the formal and informal word lists.
func FormalityLevel(texts []string) string {
	formal, informal := 0, 0
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, w := range FormalWords {
			if strings.Contains(lower, w) {
				formal++
			}
		}
		for _, w := range InformalWords {
			if strings.Contains(lower, w) {
				informal++
			}
		}
	}

	switch {
	case formal > informal:
		return Formal
	case informal > formal:
		return Informal
	default:
		return Neutral
	}
}

func ResponseSpeed(texts []string) string {
	if anyMatch(texts, func(t string) bool { return urgencyPattern.MatchString(t) }) {
		return SpeedFast
	}
	return SpeedNormal
}

// ResponseLength buckets the average length of our own messages.
func ResponseLength(myTexts []string) string {
	if len(myTexts) == 0 {
		return LengthMedium
	}
	avg := AverageLength(myTexts)
	switch {
	case avg < shortReplyLength:
		return LengthShort
	case avg > longReplyLength:
		return LengthLong
	default:
		return LengthMedium
	}
}

// AverageLength is the mean rune length of texts, 0 for none.
func AverageLength(texts []string) float64 {
	if len(texts) == 0 {
		return 0
	}
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	return float64(total) / float64(len(texts))
}

func anyMatch(texts []string, match func(string) bool) bool {
	for _, t := range texts {
		if match(t) {
			return true
		}
	}
	return false
}
