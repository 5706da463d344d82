package profile

import (
	"regexp"
	"strings"
)

// Keyword tables. Word tables are matched case-insensitively on word
// boundaries; FormalWords and InformalWords by plain substring.
var (
	PersonalTopics = []string{"family", "work", "home", "feeling", "love", "miss", "tired", "busy", "personal"}
	FamilyNames    = []string{"mom", "dad", "mother", "father", "sister", "brother", "family"}
	Greetings      = []string{"hi", "hello", "hey", "good morning", "good evening", "sup", "wassup"}
	FormalWords    = []string{"please", "thank you", "thanks", "appreciate", "sincerely"}
	InformalWords  = []string{"gonna", "wanna", "yeah", "yep", "lol", "haha", "sup"}
	UrgencyWords   = []string{"urgent", "asap", "quickly", "immediately", "hurry"}
)

var (
	personalPattern = wordPattern(PersonalTopics)
	familyPattern   = wordPattern(FamilyNames)
	greetingPattern = wordPattern(Greetings)
	urgencyPattern  = wordPattern(UrgencyWords)
)

func wordPattern(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}
