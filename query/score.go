package query

import (
	"strings"
	"unicode"
)

const (
	// saturation constant of tf/(tf+k)
	tfK = 1.0
	// weight of an exact phrase occurrence
	phraseBonus = 0.2
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "can": true, "do": true, "does": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "our": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "we": true, "what": true, "when": true, "where": true, "which": true,
	"who": true, "why": true, "will": true, "with": true, "you": true, "your": true,
	"about": true, "there": true, "tell": true, "please": true,
}

type token struct {
	term       string
	start, end int // byte offsets in the source text
}

// tokenize splits text into lowercase alphanumeric terms, dropping stop words.
func tokenize(text string) []token {
	out := make([]token, 0, len(text)/6)
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		term := strings.ToLower(text[start:end])
		if !stopWords[term] {
			out = append(out, token{term: term, start: start, end: end})
		}
		start = -1
	}
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return out
}

// Terms returns the distinct query terms of question in order of first appearance.
func Terms(question string) []string {
	return distinctTerms(tokenize(question))
}

func distinctTerms(tokens []token) []string {
	seen := make(map[string]bool)
	terms := make([]string, 0)
	for _, t := range tokens {
		if !seen[t.term] {
			seen[t.term] = true
			terms = append(terms, t.term)
		}
	}
	return terms
}

func termSequence(tokens []token) []string {
	seq := make([]string, len(tokens))
	for i, t := range tokens {
		seq[i] = t.term
	}
	return seq
}

// Score rates how well document text answers question, in [0,1]. It is deterministic and
// non-decreasing in the number of occurrences of every query term.
func Score(question, text string) float64 {
	return scoreTokens(tokenize(question), tokenize(text))
}

func scoreTokens(questionTokens, docTokens []token) float64 {
	terms := distinctTerms(questionTokens)
	if len(terms) == 0 {
		return 0
	}
	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t] = 0
	}
	for _, t := range docTokens {
		if _, ok := tf[t.term]; ok {
			tf[t.term]++
		}
	}
	var sum float64
	for _, t := range terms {
		f := float64(tf[t])
		sum += f / (f + tfK)
	}
	score := sum / float64(len(terms))

	if len(questionTokens) > 1 {
		hit := 0.0
		if containsPhrase(termSequence(docTokens), termSequence(questionTokens)) {
			hit = 1
		}
		score = score*(1-phraseBonus) + phraseBonus*hit
	}
	return score
}

func containsPhrase(doc, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(doc) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(doc); i++ {
		for j, p := range phrase {
			if doc[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// snippet returns a whitespace-collapsed window of text around the first token that
// matches one of terms, or the head of text when none does.
func snippet(text string, docTokens []token, terms []string, radius int) string {
	if len(docTokens) == 0 {
		return ""
	}
	want := make(map[string]bool, len(terms))
	for _, t := range terms {
		want[t] = true
	}
	hit := 0
	for i, t := range docTokens {
		if want[t.term] {
			hit = i
			break
		}
	}
	from := max(0, hit-radius)
	to := min(len(docTokens)-1, hit+2*radius)
	s := strings.Join(strings.Fields(text[docTokens[from].start:docTokens[to].end]), " ")
	if from > 0 {
		s = "…" + s
	}
	if to < len(docTokens)-1 {
		s += "…"
	}
	return s
}
