package generate

import (
	"regexp"
	"strings"

	"github.com/ashita-ai/kioku/internal/model"
)

// MaxQueryChars bounds the sanitised query length.
const MaxQueryChars = 500

// injectionPatterns match instruction-override shapes that must never
// reach the generator inside a user query. Matches are removed, not
// rejected: the surrounding troubleshooting text is usually still a
// legitimate query.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(?:all\s+|previous\s+|the\s+)*instructions`),
	regexp.MustCompile(`(?i)disregard\s+(?:all\s+|previous\s+|the\s+)*(?:instructions|context|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\b`),
	regexp.MustCompile(`(?i)\b(?:system|assistant)\s*:`),
}

// SanitizeQuery strips injection-shaped substrings, collapses whitespace,
// and caps length. Every query passes through here exactly once, before
// routing; the raw text is kept separately for audit.
func SanitizeQuery(text string) string {
	for _, p := range injectionPatterns {
		text = p.ReplaceAllString(text, " ")
	}
	text = strings.Join(strings.Fields(text), " ")
	return strings.TrimSpace(model.Truncate(text, MaxQueryChars))
}
