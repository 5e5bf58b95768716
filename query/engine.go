// Package query answers questions over a caller's ready documents with a lexical
// relevance score.
package query

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/moyoez/docdrop/metrics"
	"github.com/moyoez/docdrop/tool"
	"github.com/moyoez/docdrop/types"
)

const (
	NoFilesAnswer    = "No files are available to search yet. Upload a document and try again."
	NoRelevantAnswer = "No relevant content found in your uploaded files for this question."
	snippetRadius    = 12
	defaultTopK      = 3
	scorePrecision   = 1e4
)

// Corpus supplies the ready documents visible to an owner.
type Corpus interface {
	ReadyDocuments(ctx context.Context, owner string) ([]types.CorpusDocument, error)
}

type Engine struct {
	Corpus       Corpus
	TopK         int
	MinRelevance float64
	Metrics      *metrics.Metrics
}

func NewEngine(corpus Corpus, cfg types.QueryConfig) *Engine {
	return &Engine{
		Corpus:       corpus,
		TopK:         cfg.TopK,
		MinRelevance: cfg.MinRelevance,
	}
}

// Ranked is one selected document and its score.
type Ranked struct {
	Doc     types.CorpusDocument
	Score   float64
	Snippet string
}

// Rank scores every document against question and returns those with a positive score
// of at least minRelevance, best first (ties by filename), at most topK.
func Rank(docs []types.CorpusDocument, question string, topK int, minRelevance float64) []Ranked {
	qTokens := tokenize(question)
	terms := distinctTerms(qTokens)
	if len(terms) == 0 {
		return nil
	}
	ranked := make([]Ranked, 0, len(docs))
	for _, d := range docs {
		dTokens := tokenize(d.Text)
		score := math.Round(scoreTokens(qTokens, dTokens)*scorePrecision) / scorePrecision
		if score <= 0 || score < minRelevance {
			continue
		}
		ranked = append(ranked, Ranked{Doc: d, Score: score, Snippet: snippet(d.Text, dTokens, terms, snippetRadius)})
	}
	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := strings.Compare(a.Doc.FileName, b.Doc.FileName); c != 0 {
			return c
		}
		return strings.Compare(a.Doc.FileID, b.Doc.FileID)
	})
	if topK > 0 && len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked
}

// Query answers question for owner. TotalFiles always counts every ready document the
// owner can see, whether or not it was selected.
func (e *Engine) Query(ctx context.Context, owner, question string) (*types.QueryAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, types.ErrEmptyQuestion
	}
	docs, err := e.Corpus.ReadyDocuments(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	answer := &types.QueryAnswer{
		Question:   question,
		Sources:    []types.QuerySource{},
		TotalFiles: len(docs),
	}
	if len(docs) == 0 {
		answer.Answer = NoFilesAnswer
		e.Metrics.Query("no_files")
		return answer, nil
	}

	topK := e.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	ranked := Rank(docs, question, topK, e.MinRelevance)
	if len(ranked) == 0 {
		answer.Answer = NoRelevantAnswer
		e.Metrics.Query("no_match")
		tool.DefaultLogger.Debugf("[Query] %q matched none of %d files", question, len(docs))
		return answer, nil
	}

	parts := make([]string, 0, len(ranked))
	for _, r := range ranked {
		answer.Sources = append(answer.Sources, types.QuerySource{
			FileId:         r.Doc.FileID,
			FileName:       r.Doc.FileName,
			FileType:       r.Doc.FileType,
			RelevanceScore: r.Score,
		})
		parts = append(parts, fmt.Sprintf("From %s: %s", r.Doc.FileName, r.Snippet))
	}
	answer.Answer = strings.Join(parts, "\n\n")
	e.Metrics.Query("answered")
	tool.DefaultLogger.Debugf("[Query] %q matched %d of %d files", question, len(ranked), len(docs))
	return answer, nil
}
