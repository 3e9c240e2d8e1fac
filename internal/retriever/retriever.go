// Package retriever answers queries against an indexed repository using
// hybrid dense+sparse search.
package retriever

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/repoindex/internal/embeddings"
	"github.com/fyrsmithlabs/repoindex/internal/sparse"
	"github.com/fyrsmithlabs/repoindex/internal/vectorstore"
)

// ErrEmptyQuery is returned for a blank query string.
var ErrEmptyQuery = errors.New("retriever: empty query")

// DefaultTopK is the result count when the caller passes k <= 0.
const DefaultTopK = 10

// Querier is the vector-store surface the retriever reads from.
type Querier interface {
	Query(ctx context.Context, collection string, dense []float32, sparseIndices []uint32, sparseValues []float32, k int) ([]vectorstore.ScoredChunk, error)
}

// Reranker optionally re-orders fused hits before they are returned.
type Reranker interface {
	Rerank(ctx context.Context, query string, hits []vectorstore.ScoredChunk, topK int) ([]vectorstore.ScoredChunk, error)
}

// Retriever embeds queries on both legs and runs fused searches.
type Retriever struct {
	embedder embeddings.Embedder
	encoder  *sparse.Encoder
	querier  Querier
	reranker Reranker
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithReranker re-orders results with the given reranker. The retriever
// then over-fetches so the reranker has candidates to demote.
func WithReranker(r Reranker) Option {
	return func(rt *Retriever) { rt.reranker = r }
}

// New creates a Retriever. The sparse encoder must be the fitted state
// persisted by the ingestion run for the same collection; pass nil to
// search on the dense leg only.
func New(embedder embeddings.Embedder, encoder *sparse.Encoder, querier Querier, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, encoder: encoder, querier: querier}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search returns the top k chunks for the query.
func (r *Retriever) Search(ctx context.Context, collection, query string, k int) ([]vectorstore.ScoredChunk, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultTopK
	}

	dense, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var sv sparse.Vector
	if r.encoder != nil {
		sv, err = r.encoder.EncodeQuery(query)
		if err != nil {
			return nil, fmt.Errorf("encoding query terms: %w", err)
		}
	}

	fetchK := k
	if r.reranker != nil {
		fetchK = 2 * k
	}

	results, err := r.querier.Query(ctx, collection, dense, sv.Indices, sv.Values, fetchK)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", collection, err)
	}

	if r.reranker != nil {
		results, err = r.reranker.Rerank(ctx, query, results, k)
		if err != nil {
			return nil, fmt.Errorf("reranking: %w", err)
		}
	}
	return results, nil
}
