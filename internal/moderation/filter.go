// Package moderation provides content filtering for chat messages. It
// screens outbound messages against a blocklist of words and phrases and a
// set of flood heuristics before they are persisted or delivered.
package moderation

import "strings"

// FilterResult is the outcome of screening one message.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or the name of the matched check
}

// Filter screens message text against a blocklist. Single-word terms are
// matched token-by-token; multi-word terms are matched as whole-word
// sequences. Matching is case-insensitive and ignores surrounding
// punctuation, but never matches inside a longer word.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// defaultTerms is the built-in blocklist used by NewFilter. Deployments
// with their own policy should use NewFilterWithTerms.
var defaultTerms = []string{
	"kill yourself",
	"kys",
	"go die",
	"neck yourself",
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms creates a Filter from the given terms. Terms containing
// whitespace are treated as phrases; all terms are lowercased.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.ContainsRune(term, ' ') {
			f.phrases = append(f.phrases, term)
		} else {
			f.words[term] = struct{}{}
		}
	}
	return f
}

// Check screens text and returns a blocking result on the first match:
// blocklist keywords and phrases first, then flood patterns. A zero-value
// result means the message is clean.
func (f *Filter) Check(text string) FilterResult {
	tokens := tokenize(text)

	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: tok}
		}
	}

	if len(f.phrases) > 0 {
		// Join tokens so phrase matching respects word boundaries:
		// "kill yourselves" must not match the phrase "kill yourself".
		joined := " " + strings.Join(tokens, " ") + " "
		for _, phrase := range f.phrases {
			if strings.Contains(joined, " "+phrase+" ") {
				return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: phrase}
			}
		}
	}

	return f.checkSpamPatterns(text)
}

// tokenize lowercases text and splits it into words, stripping leading and
// trailing punctuation from each token.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		tok := strings.Trim(field, ".,;:!?'\"()[]{}<>")
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}
