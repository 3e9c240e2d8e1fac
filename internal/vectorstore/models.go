package vectorstore

import "github.com/fyrsmithlabs/repoindex/internal/sparse"

// Named vectors stored per point. Every point carries both a dense
// embedding and a sparse BM25 vector under these names.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// Payload keys stored alongside each point.
const (
	PayloadText       = "text"
	PayloadSource     = "source"
	PayloadChunkIndex = "chunk_index"
)

// ChunkPoint is one indexed chunk: deterministic ID, both vector
// representations, and the payload reconstructed at query time.
type ChunkPoint struct {
	// ID is a UUID string. The same chunk always maps to the same ID so
	// rebuilds overwrite rather than accumulate.
	ID string

	// Text is the chunk content.
	Text string

	// Source is the repository-relative path the chunk came from.
	Source string

	// ChunkIndex is the chunk's position within the corpus.
	ChunkIndex int

	// Dense is the embedding vector.
	Dense []float32

	// Sparse is the BM25 term vector.
	Sparse sparse.Vector
}

// ScoredChunk is a query hit with its fused relevance score.
type ScoredChunk struct {
	ID         string
	Score      float32
	Text       string
	Source     string
	ChunkIndex int
}

// CollectionInfo summarizes a collection's state.
type CollectionInfo struct {
	Name        string
	PointsCount uint64
	Status      string
}
