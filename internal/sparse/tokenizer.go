package sparse

import "strings"

// minTokenLen drops one- and two-character fragments ("a", "to", "pg")
// that carry no ranking signal and bloat the vocabulary.
const minTokenLen = 2

// stopwords is the shared English stop-word list. Contraction stems
// (aren, don, isn) appear bare because punctuation is stripped before
// the stop-word check.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all also am an and any are aren
		as at be because been before being below between both but by can
		cannot could couldn did didn do does doesn doing don down during
		each few for from further had hadn has hasn have haven having he
		her here hers herself him himself his how i if in into is isn it
		its itself just me more most my myself no nor not now of off on
		once only or other our ours ourselves out over own same she should
		shouldn so some such than that the their theirs them themselves
		then there these they this those through to too under until up
		very was wasn we were weren what when where which while who whom
		why will with won would wouldn you your yours yourself yourselves
	`) {
		stopwords[w] = struct{}{}
	}
}

func normalizeRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
		return r
	case r >= 'A' && r <= 'Z':
		return r + ('a' - 'A')
	default:
		return ' '
	}
}

// Tokenize lowercases, strips punctuation, splits on whitespace, and drops
// stop-words and short fragments. No stemming: "timeout" and "timeouts"
// are distinct terms, which keeps scores reproducible across releases.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.Map(normalizeRune, text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= minTokenLen {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// ngrams returns the 1-grams and 2-grams of tokens; bigrams are joined
// with a single space ("upi timeout").
func ngrams(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	out := make([]string, 0, 2*len(tokens)-1)
	out = append(out, tokens...)
	for i := 0; i+1 < len(tokens); i++ {
		out = append(out, tokens[i]+" "+tokens[i+1])
	}
	return out
}
