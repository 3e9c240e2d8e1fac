// Package reranker re-orders hybrid search hits by lexical overlap with
// the query, blended with the fused retrieval score.
package reranker

import (
	"context"
	"sort"

	"github.com/fyrsmithlabs/repoindex/internal/sparse"
	"github.com/fyrsmithlabs/repoindex/internal/vectorstore"
)

// Reranker re-orders retrieval hits.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []vectorstore.ScoredChunk, topK int) ([]vectorstore.ScoredChunk, error)
}

// overlapWeight blends the term-overlap score against the retrieval
// score. Equal weighting keeps semantic ranking influential while
// boosting exact term matches.
const overlapWeight = 0.5

// TermOverlap reranks by the fraction of query terms present in each
// chunk, using the same tokenizer as the sparse encoder.
type TermOverlap struct{}

// NewTermOverlap creates a term-overlap reranker.
func NewTermOverlap() *TermOverlap {
	return &TermOverlap{}
}

// Rerank blends each hit's retrieval score with its query-term overlap
// and returns the top K hits sorted by the blended score.
func (r *TermOverlap) Rerank(ctx context.Context, query string, hits []vectorstore.ScoredChunk, topK int) ([]vectorstore.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(hits) {
		topK = len(hits)
	}

	queryTerms := termSet(query)
	if len(queryTerms) == 0 {
		out := append([]vectorstore.ScoredChunk(nil), hits...)
		return out[:topK], nil
	}

	type blended struct {
		hit   vectorstore.ScoredChunk
		score float32
	}
	scored := make([]blended, len(hits))
	for i, hit := range hits {
		overlap := overlapFraction(queryTerms, hit.Text)
		scored[i] = blended{
			hit:   hit,
			score: (1-overlapWeight)*hit.Score + overlapWeight*overlap,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	out := make([]vectorstore.ScoredChunk, topK)
	for i := 0; i < topK; i++ {
		out[i] = scored[i].hit
		out[i].Score = scored[i].score
	}
	return out, nil
}

func termSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range sparse.Tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

// overlapFraction returns the fraction of query terms appearing in text.
func overlapFraction(queryTerms map[string]struct{}, text string) float32 {
	if len(queryTerms) == 0 {
		return 0
	}
	found := make(map[string]struct{})
	for _, tok := range sparse.Tokenize(text) {
		if _, ok := queryTerms[tok]; ok {
			found[tok] = struct{}{}
		}
	}
	return float32(len(found)) / float32(len(queryTerms))
}
