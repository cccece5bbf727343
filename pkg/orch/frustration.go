package orch

import "strings"

// frustrationPhrases are matched case-insensitively against an answer. A hit
// force-accepts the answer regardless of the Reviewer's verdict, so the
// interview never grinds a candidate through follow-ups they resent.
var frustrationPhrases = []string{
	"i already said",
	"i already told you",
	"i just told you",
	"as i said",
	"stop asking",
	"why do you keep asking",
	"this is frustrating",
	"this is annoying",
	"i don't want to answer",
	"i won't answer",
	"next question",
	"move on",
	"enough of this",
	"skip this",
}

// IsFrustrated reports whether an answer reads as user frustration.
func IsFrustrated(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range frustrationPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
