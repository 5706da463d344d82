// Package memory keeps the per-contact chat history ledger.
package memory

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultMaxMessages = 50
	DefaultMessageType = "text"

	shortMessageRunes = 20
)

var emojiPattern = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}]`)

// MessageEntry is one ledger record. Derived fields are fixed at insertion.
type MessageEntry struct {
	Text        string    `json:"text"`
	FromMe      bool      `json:"fromMe"`
	Timestamp   time.Time `json:"timestamp"`
	MessageType string    `json:"messageType"`
	WordCount   int       `json:"wordCount"`
	HasEmoji    bool      `json:"hasEmoji"`
	HasQuestion bool      `json:"hasQuestion"`
	IsShort     bool      `json:"isShort"`
}

// ContactHistory is the capped, oldest-first message log for one contact.
type ContactHistory struct {
	Name             string         `json:"name"`
	Messages         []MessageEntry `json:"messages"`
	FirstInteraction time.Time      `json:"firstInteraction"`
	LastInteraction  time.Time      `json:"lastInteraction"`
}

func NewMessageEntry(text string, fromMe bool, messageType string, at time.Time) MessageEntry {
	if strings.TrimSpace(messageType) == "" {
		messageType = DefaultMessageType
	}
	return MessageEntry{
		Text:        text,
		FromMe:      fromMe,
		Timestamp:   at,
		MessageType: messageType,
		WordCount:   len(strings.Split(text, " ")),
		HasEmoji:    HasEmoji(text),
		HasQuestion: strings.Contains(text, "?"),
		IsShort:     utf8.RuneCountInString(text) <= shortMessageRunes,
	}
}

func HasEmoji(text string) bool {
	return emojiPattern.MatchString(text)
}

func (h ContactHistory) clone() ContactHistory {
	out := h
	out.Messages = append([]MessageEntry(nil), h.Messages...)
	return out
}
