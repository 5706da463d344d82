package backend

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/autoreply/internal/responder"
)

// Persona is the system prompt for model-backed generators.
const Persona = `You are responding as the owner of this WhatsApp account. Your responses should be:
- Natural and conversational, matching the user's established communication style
- Brief (1-2 sentences usually, max 3) unless the context requires longer responses
- Appropriate to the relationship level with the contact
- In the same language as the incoming message
- Sound like a real person, not an AI assistant
- Maintain consistency with your past communication patterns`

const maxQuotedRunes = 150

var (
	urgentWords   = []string{"urgent", "emergency", "asap", "immediately", "help", "problem", "issue", "quickly"}
	positiveWords = []string{"good", "great", "awesome", "happy", "excited", "love", "thank"}
	negativeWords = []string{"bad", "terrible", "sad", "angry", "upset", "disappointed", "hate"}

	questionKinds = []struct {
		kind  string
		words []string
	}{
		{"timing", []string{"when", "what time", "schedule"}},
		{"location", []string{"where", "location"}},
		{"explanation", []string{"how", "why"}},
		{"request", []string{"can you", "could you", "will you"}},
	}
)

// MessageAnalysis is a rough read of the incoming message.
type MessageAnalysis struct {
	Urgency      string
	Sentiment    string
	QuestionType string
}

func AnalyzeMessage(text string) MessageAnalysis {
	lower := strings.ToLower(text)
	a := MessageAnalysis{Urgency: "normal", Sentiment: "neutral", QuestionType: "none"}

	if countContained(lower, urgentWords) > 0 {
		a.Urgency = "high"
	}

	pos, neg := countContained(lower, positiveWords), countContained(lower, negativeWords)
	switch {
	case pos > neg:
		a.Sentiment = "positive"
	case neg > pos:
		a.Sentiment = "negative"
	}

	if strings.Contains(text, "?") {
		a.QuestionType = "general"
		for _, q := range questionKinds {
			if countContained(lower, q.words) > 0 {
				a.QuestionType = q.kind
				break
			}
		}
	}
	return a
}

// BuildPrompt renders the user prompt for one generation request.
func BuildPrompt(req responder.Request) string {
	name := req.ContactName
	if name == "" {
		name = "this contact"
	}
	p := req.Profile

	var b strings.Builder
	fmt.Fprintf(&b, "You are chatting with %s.", name)

	if len(req.History) == 0 {
		b.WriteString(" This is the start of your conversation.\n")
	} else {
		fmt.Fprintf(&b, "\n\nRelationship level: %s\n", p.RelationshipLevel)

		style := p.CommunicationStyle
		b.WriteString("\nTheir communication style:\n")
		if style.FormalityLevel != "" {
			fmt.Fprintf(&b, "- Formality: %s\n", style.FormalityLevel)
		}
		fmt.Fprintf(&b, "- Emoji usage: %s\n", yesNo(style.UsesEmojis))
		if style.PreferredGreeting != "" {
			fmt.Fprintf(&b, "- Usual greeting: %s\n", style.PreferredGreeting)
		}
		if style.AvgMessageLength > 0 {
			fmt.Fprintf(&b, "- Average message length: %.0f characters\n", style.AvgMessageLength)
		}
		if p.Preferences.ResponseLength != "" {
			fmt.Fprintf(&b, "- Your replies to them are usually %s\n", p.Preferences.ResponseLength)
		}

		b.WriteString("\nRecent conversation:\n")
		for _, m := range req.History {
			sender := name
			if m.FromMe {
				sender = "You"
			}
			fmt.Fprintf(&b, "%s: %s\n", sender, truncate(m.Text, maxQuotedRunes))
		}
	}

	a := AnalyzeMessage(req.Message)
	fmt.Fprintf(&b, "\nMessage analysis:\n- Urgency level: %s\n- Sentiment: %s\n- Question type: %s\n",
		a.Urgency, a.Sentiment, a.QuestionType)
	fmt.Fprintf(&b, "\nNew message from %s: %q\n", name, req.Message)
	fmt.Fprintf(&b, `
Respond naturally as the phone owner:
- Match the formality level of your past messages
- Maintain consistency with emoji usage
- Consider the relationship level with %s
- Don't mention you're an AI or analyzing communication patterns
- If asked about availability, respond based on the relationship level
- Keep responses appropriate to the urgency and sentiment of their message`, name)

	return b.String()
}

func countContained(s string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(s, w) {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
