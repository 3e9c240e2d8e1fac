package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/repoindex/internal/chunk"
	"github.com/fyrsmithlabs/repoindex/internal/fetch"
	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/vectorstore"
)

type fakeFetcher struct {
	files []fetch.File
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ gitref.Ref) ([]fetch.File, error) {
	return f.files, f.err
}

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return vecs, nil
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func (e *fakeEmbedder) Dimension() int { return 4 }
func (e *fakeEmbedder) Close() error   { return nil }

type fakeStore struct {
	mu          sync.Mutex
	collections map[string][]vectorstore.ChunkPoint
	deletes     []string
	waitErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{collections: make(map[string][]vectorstore.ChunkPoint)}
}

func (s *fakeStore) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.collections[name]
	return ok, nil
}

func (s *fakeStore) CreateHybridCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = nil
	return nil
}

func (s *fakeStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	s.deletes = append(s.deletes, name)
	return nil
}

func (s *fakeStore) WaitReady(_ context.Context, _ string) error {
	return s.waitErr
}

func (s *fakeStore) UpsertBatch(_ context.Context, collection string, points []vectorstore.ChunkPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[collection] = append(s.collections[collection], points...)
	return nil
}

func (s *fakeStore) points(collection string) []vectorstore.ChunkPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]vectorstore.ChunkPoint(nil), s.collections[collection]...)
}

func syntheticRepo() []fetch.File {
	var source strings.Builder
	for i := 0; i < 50; i++ {
		fmt.Fprintf(&source, "line %d of meaningful application logic\n", i)
	}
	return []fetch.File{
		{Path: "a.py", Content: []byte(source.String())},
		{Path: "logo.png", Content: []byte{0x89, 0x50, 0x4E, 0x47, 0x00, 0x01}},
		{Path: "vendor/.git/config", Content: []byte("[core]\n\trepositoryformatversion = 0\n")},
	}
}

func newTestPipeline(t *testing.T, fetcher fetch.Fetcher, embedder *fakeEmbedder, store Store, opts Options) *Pipeline {
	t.Helper()
	if opts.ArtifactDir == "" {
		opts.ArtifactDir = t.TempDir()
	}
	opts.EmbedRetries = 1
	return New(fetcher, embedder, store, nil, NewMetrics(nil), opts)
}

func TestIngestSyntheticRepo(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store, Options{})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, 3, result.FilesTotal)
	assert.Equal(t, 1, result.FilesKept)
	assert.Equal(t, 1, result.FilesSkipped["extension"])
	assert.Equal(t, 1, result.FilesSkipped["directory"])

	assert.Greater(t, result.ChunksTotal, 0)
	assert.Equal(t, result.ChunksTotal, result.ChunksIndexed)
	assert.True(t, result.Complete())

	assert.Equal(t, "acme_widgets", result.Collection)
	assert.Len(t, store.points("acme_widgets"), result.ChunksTotal)
}

func TestIngestIdempotent(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store, Options{})

	first, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	firstIDs := pointIDs(store.points(first.Collection))

	second, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	secondIDs := pointIDs(store.points(second.Collection))

	assert.Equal(t, first.ChunksTotal, second.ChunksTotal)
	assert.ElementsMatch(t, firstIDs, secondIDs)
}

func TestIngestRebuildReplacesPriorChunks(t *testing.T) {
	store := newFakeStore()
	fetcher := &fakeFetcher{files: syntheticRepo()}
	p := newTestPipeline(t, fetcher, &fakeEmbedder{}, store, Options{})

	_, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	fetcher.files = []fetch.File{
		{Path: "new.py", Content: []byte("entirely different content now\n")},
	}
	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	// The old collection was dropped; only new chunks are queryable.
	assert.Contains(t, store.deletes, "acme_widgets")
	assert.Len(t, store.points("acme_widgets"), result.ChunksTotal)
	for _, point := range store.points("acme_widgets") {
		assert.Contains(t, point.Text, "different content")
	}
}

func TestIngestInvalidReference(t *testing.T) {
	p := newTestPipeline(t, &fakeFetcher{}, &fakeEmbedder{}, newFakeStore(), Options{})

	_, err := p.Ingest(context.Background(), "not a url")
	assert.ErrorIs(t, err, gitref.ErrInvalidReference)
}

func TestIngestFetchFailureCreatesNothing(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeFetcher{err: fetch.ErrBranchNotFound}, &fakeEmbedder{}, store, Options{})

	_, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	assert.ErrorIs(t, err, fetch.ErrBranchNotFound)
	assert.Empty(t, store.collections)
}

func TestIngestProvisioningFailureCleansUp(t *testing.T) {
	store := newFakeStore()
	store.waitErr = vectorstore.ErrProvisioningTimeout
	p := newTestPipeline(t, &fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store, Options{})

	_, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	assert.ErrorIs(t, err, vectorstore.ErrProvisioningTimeout)

	// The half-provisioned collection is not left behind.
	assert.Empty(t, store.collections)
	assert.Contains(t, store.deletes, "acme_widgets")
}

func TestIngestEmbeddingFailureIsPartial(t *testing.T) {
	store := newFakeStore()
	embedder := &fakeEmbedder{err: errors.New("model offline")}
	p := newTestPipeline(t, &fakeFetcher{files: syntheticRepo()}, embedder, store, Options{})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, 0, result.ChunksIndexed)
	assert.Greater(t, result.ChunksTotal, 0)
	assert.False(t, result.Complete())
}

func TestIngestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := newFakeStore()
	p := New(&fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store, nil, metrics,
		Options{ArtifactDir: t.TempDir(), EmbedRetries: 1})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.filesClassified.WithLabelValues("extension")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.filesClassified.WithLabelValues("directory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.filesClassified.WithLabelValues("none")))
	assert.Equal(t, float64(result.ChunksIndexed), testutil.ToFloat64(metrics.chunksIndexed))
}

func TestIngestPersistsSparseState(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	p := New(&fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store, nil, NewMetrics(nil),
		Options{ArtifactDir: dir, EmbedRetries: 1})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.FileExists(t, EncoderPath(dir, result.Collection))
}

func TestIngestPersistsCorpusArtifacts(t *testing.T) {
	dir := t.TempDir()
	store := newFakeStore()
	p := New(&fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store, nil, NewMetrics(nil),
		Options{ArtifactDir: dir, EmbedRetries: 1})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	raw, err := os.ReadFile(CorpusPath(dir, result.Collection))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "===== FILE: a.py =====")
	assert.Contains(t, string(raw), "line 0 of meaningful application logic\n")

	flat, err := os.ReadFile(FlattenedPath(dir, result.Collection))
	require.NoError(t, err)
	assert.Contains(t, string(flat), "===== FILE: a.py =====")
	assert.NotContains(t, string(flat), "\n")
}

func TestIngestExtractsNotebookCells(t *testing.T) {
	notebook := `{
  "cells": [
    {"cell_type": "code", "source": ["import numpy as np\n", "np.zeros(3)\n"],
     "outputs": [{"data": {"image/png": "iVBORw0KGgoAAAANSUhEUg"}}]},
    {"cell_type": "markdown", "source": "## Results"}
  ],
  "nbformat": 4
}`
	dir := t.TempDir()
	store := newFakeStore()
	files := []fetch.File{{Path: "analysis.ipynb", Content: []byte(notebook)}}
	p := New(&fakeFetcher{files: files}, &fakeEmbedder{}, store, nil, NewMetrics(nil),
		Options{ArtifactDir: dir, EmbedRetries: 1})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesKept)

	flat, err := os.ReadFile(FlattenedPath(dir, result.Collection))
	require.NoError(t, err)
	assert.Contains(t, string(flat), "import numpy as np")
	assert.Contains(t, string(flat), "## Results")
	assert.NotContains(t, string(flat), "iVBORw0KGgo")
	assert.NotContains(t, string(flat), "cell_type")
}

func TestIngestAttributesChunkSources(t *testing.T) {
	store := newFakeStore()
	files := append(syntheticRepo(), fetch.File{
		Path:    "docs/guide.md",
		Content: []byte("# Guide\n" + strings.Repeat("usage notes for the widget tool\n", 30)),
	})
	p := newTestPipeline(t, &fakeFetcher{files: files}, &fakeEmbedder{}, store, Options{})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)

	points := store.points(result.Collection)
	require.NotEmpty(t, points)

	seen := map[string]bool{}
	for _, point := range points {
		assert.NotEmpty(t, point.Source)
		seen[point.Source] = true
	}
	assert.True(t, seen["a.py"])
	assert.True(t, seen["docs/guide.md"])
}

func TestChunkSources(t *testing.T) {
	chunks := []chunk.Chunk{
		{Index: 0, Text: "===== FILE: a.py ===== alpha body"},
		{Index: 1, Text: "alpha tail ===== FILE: docs/b.md ===== beta"},
		{Index: 2, Text: "more beta content"},
	}

	sources := chunkSources(chunks)
	assert.Equal(t, []string{"a.py", "a.py", "docs/b.md"}, sources)
}

func TestIngestCollectionOverride(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store,
		Options{Collection: "custom_corpus"})

	result, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	require.NoError(t, err)
	assert.Equal(t, "custom_corpus", result.Collection)
	assert.Len(t, store.points("custom_corpus"), result.ChunksTotal)
	assert.Empty(t, store.points("acme_widgets"))
}

func TestIngestCollectionOverrideInvalid(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(t, &fakeFetcher{files: syntheticRepo()}, &fakeEmbedder{}, store,
		Options{Collection: "Not Valid!"})

	_, err := p.Ingest(context.Background(), "https://github.com/acme/widgets")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidCollectionName)
	assert.Empty(t, store.collections)
}

func pointIDs(points []vectorstore.ChunkPoint) []string {
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	return ids
}
