package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/moyoez/docdrop/types"
)

type staticCorpus map[string][]types.CorpusDocument

func (s staticCorpus) ReadyDocuments(_ context.Context, owner string) ([]types.CorpusDocument, error) {
	return s[owner], nil
}

type failingCorpus struct{}

func (failingCorpus) ReadyDocuments(context.Context, string) ([]types.CorpusDocument, error) {
	return nil, errors.New("database is closed")
}

func newEngine(docs ...types.CorpusDocument) *Engine {
	return NewEngine(staticCorpus{"o": docs}, types.QueryConfig{TopK: 3, MinRelevance: 0.05})
}

func TestQueryRefundPolicyScenario(t *testing.T) {
	e := newEngine(
		types.CorpusDocument{FileID: "1", FileName: "terms.txt", Text: "Our refund policy allows returns within 30 days of purchase."},
		types.CorpusDocument{FileID: "2", FileName: "menu.txt", Text: "Lunch is served from noon. Try the soup of the day."},
	)
	ans, err := e.Query(context.Background(), "o", "refund policy")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.TotalFiles != 2 {
		t.Errorf("expected totalFiles 2, got %d", ans.TotalFiles)
	}
	if len(ans.Sources) != 1 || ans.Sources[0].FileName != "terms.txt" {
		t.Fatalf("expected only terms.txt as source, got %+v", ans.Sources)
	}
	if !strings.Contains(ans.Answer, "terms.txt") || !strings.Contains(ans.Answer, "refund policy") {
		t.Errorf("answer should quote the matching file: %q", ans.Answer)
	}
}

func TestQueryEmptyCorpus(t *testing.T) {
	ans, err := newEngine().Query(context.Background(), "o", "anything")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer != NoFilesAnswer || ans.TotalFiles != 0 {
		t.Errorf("unexpected answer %+v", ans)
	}
	if ans.Sources == nil || len(ans.Sources) != 0 {
		t.Errorf("sources must be an empty list, got %#v", ans.Sources)
	}
}

func TestQueryNothingRelevant(t *testing.T) {
	e := newEngine(types.CorpusDocument{FileID: "1", FileName: "a.txt", Text: "completely unrelated words"})
	ans, err := e.Query(context.Background(), "o", "quarterly revenue")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.Answer != NoRelevantAnswer || len(ans.Sources) != 0 || ans.TotalFiles != 1 {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestQueryEmptyQuestion(t *testing.T) {
	if _, err := newEngine().Query(context.Background(), "o", "   "); !errors.Is(err, types.ErrEmptyQuestion) {
		t.Fatalf("expected ErrEmptyQuestion, got %v", err)
	}
}

func TestQueryCorpusError(t *testing.T) {
	e := NewEngine(failingCorpus{}, types.QueryConfig{})
	if _, err := e.Query(context.Background(), "o", "q"); err == nil {
		t.Fatal("expected corpus error to propagate")
	}
}

func TestQueryTotalFilesCountsEveryReadyDocument(t *testing.T) {
	docs := make([]types.CorpusDocument, 0, 6)
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		docs = append(docs, types.CorpusDocument{FileID: name, FileName: name + ".txt", Text: strings.Repeat("invoice ", i+1)})
	}
	ans, err := newEngine(docs...).Query(context.Background(), "o", "invoice")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.TotalFiles != 6 {
		t.Errorf("expected totalFiles 6, got %d", ans.TotalFiles)
	}
	if len(ans.Sources) != 3 {
		t.Fatalf("expected top 3 sources, got %d", len(ans.Sources))
	}
	if ans.Sources[0].FileName != "f.txt" {
		t.Errorf("document with most occurrences should rank first, got %s", ans.Sources[0].FileName)
	}
}

func TestQueryIsScopedToOwner(t *testing.T) {
	e := NewEngine(staticCorpus{
		"alice": {{FileID: "1", FileName: "a.txt", Text: "secret plan"}},
	}, types.QueryConfig{TopK: 3, MinRelevance: 0.05})
	ans, err := e.Query(context.Background(), "bob", "secret plan")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if ans.TotalFiles != 0 || len(ans.Sources) != 0 {
		t.Errorf("bob must not see alice's files: %+v", ans)
	}
}

func TestScoreBounds(t *testing.T) {
	cases := []struct{ q, text string }{
		{"refund", ""},
		{"refund", "refund"},
		{"refund policy", strings.Repeat("refund policy ", 500)},
		{"the of and", "the of and"},
		{"Ünïcode wörds", "ünïcode wörds here"},
	}
	for _, c := range cases {
		s := Score(c.q, c.text)
		if s < 0 || s > 1 {
			t.Errorf("Score(%q, %q) = %v out of [0,1]", c.q, c.text, s)
		}
	}
	if Score("the of and", "the of and") != 0 {
		t.Error("stop-word-only question should score zero")
	}
}

func TestScoreMonotonicInTermOccurrences(t *testing.T) {
	base := "shipping takes five days. contact support for a refund."
	prev := Score("refund policy", base)
	text := base
	for i := 0; i < 10; i++ {
		text += " refund"
		if i%2 == 0 {
			text += " policy"
		}
		s := Score("refund policy", text)
		if s < prev {
			t.Fatalf("score decreased from %v to %v after adding occurrences", prev, s)
		}
		prev = s
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	text := "alpha beta gamma alpha delta"
	first := Score("alpha gamma", text)
	for i := 0; i < 50; i++ {
		if s := Score("alpha gamma", text); s != first {
			t.Fatalf("score changed between runs: %v vs %v", first, s)
		}
	}
}

func TestPhraseBonus(t *testing.T) {
	together := Score("refund policy", "the refund policy is strict")
	apart := Score("refund policy", "the policy on a refund is strict")
	if together <= apart {
		t.Errorf("exact phrase should outscore scattered terms: %v <= %v", together, apart)
	}
}

func TestRankTiesBreakByFilename(t *testing.T) {
	docs := []types.CorpusDocument{
		{FileID: "2", FileName: "b.txt", Text: "budget"},
		{FileID: "1", FileName: "a.txt", Text: "budget"},
	}
	ranked := Rank(docs, "budget", 3, 0.05)
	if len(ranked) != 2 || ranked[0].Doc.FileName != "a.txt" {
		t.Fatalf("expected a.txt first, got %+v", ranked)
	}
}

func TestSnippetWindow(t *testing.T) {
	words := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		words = append(words, "filler")
	}
	words[60] = "needle"
	text := strings.Join(words, " ")
	ranked := Rank([]types.CorpusDocument{{FileID: "1", FileName: "hay.txt", Text: text}}, "needle", 1, 0)
	if len(ranked) != 1 {
		t.Fatalf("expected a match")
	}
	s := ranked[0].Snippet
	if !strings.Contains(s, "needle") || !strings.HasPrefix(s, "…") || !strings.HasSuffix(s, "…") {
		t.Errorf("unexpected snippet %q", s)
	}
}
