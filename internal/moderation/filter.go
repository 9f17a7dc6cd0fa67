// Package moderation flags chat messages that look like spam or contain
// blocked terms. Flagging never stops delivery; roomwatch only logs and
// counts what it sees.
package moderation

import (
	"strings"
	"unicode"
)

// Verdict is the outcome of a scan.
type Verdict struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason,omitempty"` // "blocked_term" or "spam_pattern"
	Term    string `json:"term,omitempty"`   // matched term or spam check name
}

// Reasons reported in Verdict.Reason.
const (
	ReasonBlockedTerm = "blocked_term"
	ReasonSpam        = "spam_pattern"
)

// defaultTerms is a deliberately short starter list; deployments extend it
// through NewFilterWithTerms.
var defaultTerms = []string{
	"spam",
	"scam",
	"free money",
	"send nudes",
	"click here",
}

var leet = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
)

// Filter matches whole words and multi-word phrases, case-insensitively and
// through simple leetspeak substitutions.
type Filter struct {
	words   map[string]struct{}
	phrases []string
}

// NewFilter returns a filter loaded with the default terms.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms builds a filter from terms. Blank terms are skipped.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, t := range terms {
		t = strings.Join(strings.Fields(strings.ToLower(t)), " ")
		switch {
		case t == "":
		case strings.Contains(t, " "):
			f.phrases = append(f.phrases, t)
		default:
			f.words[t] = struct{}{}
		}
	}
	return f
}

// Check runs the term list, then the spam patterns. The first hit wins.
func (f *Filter) Check(text string) Verdict {
	if term, ok := f.matchTerms(tokenize(text)); ok {
		return Verdict{Flagged: true, Reason: ReasonBlockedTerm, Term: term}
	}
	if term, ok := f.matchTerms(tokenize(leet.Replace(strings.ToLower(text)))); ok {
		return Verdict{Flagged: true, Reason: ReasonBlockedTerm, Term: term}
	}
	return checkSpamPatterns(text)
}

func (f *Filter) matchTerms(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	if len(f.phrases) == 0 {
		return "", false
	}
	joined := " " + strings.Join(tokens, " ") + " "
	for _, p := range f.phrases {
		if strings.Contains(joined, " "+p+" ") {
			return p, true
		}
	}
	return "", false
}

// tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var defaultFilter = NewFilter()

// Scan checks text with the default filter.
func Scan(text string) Verdict {
	return defaultFilter.Check(text)
}
