// Package pipeline orchestrates repository ingestion: fetch, classify,
// normalize, chunk, encode, and index into a hybrid collection.
//
// A rebuild is all-or-nothing at the collection level: any existing
// collection under the target name is dropped before indexing, and a
// fatal failure mid-build deletes the partially-created collection so a
// half-built index is never left queryable. Individual chunk batches
// may fail after retries without aborting the run; the result then
// reports a partial-success count.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/repoindex/internal/chunk"
	"github.com/fyrsmithlabs/repoindex/internal/classify"
	"github.com/fyrsmithlabs/repoindex/internal/embeddings"
	"github.com/fyrsmithlabs/repoindex/internal/fetch"
	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/logging"
	"github.com/fyrsmithlabs/repoindex/internal/normalize"
	"github.com/fyrsmithlabs/repoindex/internal/sparse"
	"github.com/fyrsmithlabs/repoindex/internal/vectorstore"
)

// Store is the index surface the pipeline writes to.
type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateHybridCollection(ctx context.Context, name string) error
	DeleteCollection(ctx context.Context, name string) error
	WaitReady(ctx context.Context, name string) error
	UpsertBatch(ctx context.Context, collection string, points []vectorstore.ChunkPoint) error
}

// Options tunes an ingestion pipeline.
type Options struct {
	// Collection overrides the name derived from the repository
	// reference. Must satisfy the store's naming rules.
	Collection string

	// ChunkSize and ChunkOverlap are measured in characters.
	ChunkSize    int
	ChunkOverlap int

	// BatchSize is the number of chunks embedded and upserted together.
	BatchSize int

	// EmbedRetries bounds retry attempts per batch on embedding failure.
	EmbedRetries int

	// ArtifactDir receives the per-collection run artifacts: the raw
	// corpus, the flattened corpus, and the fitted sparse-encoder state.
	ArtifactDir string

	// Classify overrides the classification rules.
	Classify *classify.Config

	// Progress, if set, is called as each stage begins.
	Progress func(stage string)
}

func (o *Options) applyDefaults() {
	if o.ChunkSize == 0 {
		o.ChunkSize = chunk.DefaultChunkSize
	}
	if o.ChunkOverlap == 0 {
		o.ChunkOverlap = chunk.DefaultChunkOverlap
	}
	if o.BatchSize == 0 {
		o.BatchSize = 64
	}
	if o.EmbedRetries == 0 {
		o.EmbedRetries = 3
	}
	if o.ArtifactDir == "" {
		o.ArtifactDir = "artifacts"
	}
	if o.Classify == nil {
		o.Classify = classify.DefaultConfig()
	}
	if o.Progress == nil {
		o.Progress = func(string) {}
	}
}

// Result summarizes an ingestion run.
type Result struct {
	Collection    string
	FilesTotal    int
	FilesKept     int
	FilesSkipped  map[string]int
	ChunksTotal   int
	ChunksIndexed int
	Duration      time.Duration
}

// Complete reports whether every chunk made it into the index.
func (r *Result) Complete() bool {
	return r.ChunksIndexed == r.ChunksTotal
}

// Pipeline ingests repositories into hybrid collections.
type Pipeline struct {
	fetcher  fetch.Fetcher
	embedder embeddings.Embedder
	store    Store
	logger   *zap.Logger
	metrics  *Metrics
	opts     Options

	// rebuilds serializes concurrent rebuilds of the same collection.
	rebuildMu sync.Mutex
	rebuilds  map[string]*sync.Mutex
}

// New creates a Pipeline.
func New(fetcher fetch.Fetcher, embedder embeddings.Embedder, store Store, logger *zap.Logger, metrics *Metrics, opts Options) *Pipeline {
	opts.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{
		fetcher:  fetcher,
		embedder: embedder,
		store:    store,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
		rebuilds: make(map[string]*sync.Mutex),
	}
}

// Ingest runs the full pipeline for one repository URL and rebuilds its
// collection from scratch.
func (p *Pipeline) Ingest(ctx context.Context, repoURL string) (*Result, error) {
	start := time.Now()

	ref, err := gitref.Parse(repoURL)
	if err != nil {
		p.metrics.runsTotal.WithLabelValues("invalid_reference").Inc()
		return nil, err
	}

	collection := ref.Collection()
	if p.opts.Collection != "" {
		if err := vectorstore.ValidateCollectionName(p.opts.Collection); err != nil {
			p.metrics.runsTotal.WithLabelValues("invalid_reference").Inc()
			return nil, err
		}
		collection = p.opts.Collection
	}
	result := &Result{
		Collection:   collection,
		FilesSkipped: make(map[string]int),
	}

	unlock := p.lockCollection(collection)
	defer unlock()

	// Downstream components without a logger of their own use the
	// pipeline's.
	ctx = logging.WithLogger(ctx, p.logger)

	p.opts.Progress("fetch")
	files, err := p.fetcher.Fetch(ctx, ref)
	if err != nil {
		p.metrics.runsTotal.WithLabelValues("fetch_failed").Inc()
		return nil, fmt.Errorf("fetching %s: %w", ref, err)
	}
	result.FilesTotal = len(files)

	p.opts.Progress("classify")
	kept := p.classifyFiles(files, result)

	p.opts.Progress("normalize")
	raw := normalize.BuildCorpus(kept)
	corpus := normalize.Flatten(normalize.CollapseWhitespace(raw))
	if err := p.dumpCorpus(collection, raw, corpus); err != nil {
		p.logger.Warn("persisting corpus artifacts failed", zap.Error(err))
	}

	p.opts.Progress("chunk")
	splitter := chunk.NewSplitter(p.opts.ChunkSize, p.opts.ChunkOverlap)
	chunks := splitter.Split(corpus)
	sources := chunkSources(chunks)
	result.ChunksTotal = len(chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	p.opts.Progress("encode")
	encoder := sparse.NewEncoder()
	if len(texts) > 0 {
		encoder.Fit(texts)
		if err := p.dumpEncoder(encoder, collection); err != nil {
			p.logger.Warn("persisting sparse encoder state failed", zap.Error(err))
		}
	}

	p.opts.Progress("index")
	if err := p.rebuildCollection(ctx, collection); err != nil {
		p.metrics.runsTotal.WithLabelValues("index_failed").Inc()
		return nil, err
	}

	indexed, err := p.indexChunks(ctx, collection, chunks, sources, encoder)
	if err != nil {
		// Fatal mid-build: remove the partial collection before reporting.
		p.cleanupCollection(collection)
		p.metrics.runsTotal.WithLabelValues("index_failed").Inc()
		return nil, err
	}
	result.ChunksIndexed = indexed
	result.Duration = time.Since(start)

	p.metrics.runDuration.Observe(result.Duration.Seconds())
	if result.Complete() {
		p.metrics.runsTotal.WithLabelValues("ok").Inc()
	} else {
		p.metrics.runsTotal.WithLabelValues("partial").Inc()
	}

	p.logger.Info("ingestion finished",
		zap.String("collection", collection),
		zap.Int("files_total", result.FilesTotal),
		zap.Int("files_kept", result.FilesKept),
		zap.Int("chunks_total", result.ChunksTotal),
		zap.Int("chunks_indexed", result.ChunksIndexed),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// classifyFiles applies the classifier to every fetched file and returns
// the kept files as normalizer entries, preserving fetch order.
func (p *Pipeline) classifyFiles(files []fetch.File, result *Result) []normalize.Entry {
	kept := make([]normalize.Entry, 0, len(files))
	for _, file := range files {
		sample := file.Content
		if len(sample) > p.opts.Classify.SampleSize {
			sample = sample[:p.opts.Classify.SampleSize]
		}

		decision := p.opts.Classify.Classify(file.Path, sample)
		reason := string(decision.Reason)
		p.metrics.filesClassified.WithLabelValues(reason).Inc()

		if !decision.Keep {
			result.FilesSkipped[reason]++
			p.logger.Debug("skipping file",
				zap.String("path", file.Path),
				zap.String("reason", reason))
			continue
		}
		result.FilesKept++
		content := string(file.Content)
		// Notebooks contribute their cell sources, not the raw JSON
		// with its metadata and encoded outputs.
		if strings.HasSuffix(strings.ToLower(file.Path), ".ipynb") {
			if cells, ok := normalize.NotebookCells(file.Content); ok {
				content = cells
			}
		}
		kept = append(kept, normalize.Entry{Path: file.Path, Content: content})
	}
	return kept
}

// rebuildCollection drops any existing collection and provisions a fresh
// hybrid one, waiting until it is ready.
func (p *Pipeline) rebuildCollection(ctx context.Context, collection string) error {
	exists, err := p.store.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("checking collection: %w", err)
	}
	if exists {
		p.logger.Info("dropping existing collection", zap.String("collection", collection))
		if err := p.store.DeleteCollection(ctx, collection); err != nil {
			return fmt.Errorf("dropping collection: %w", err)
		}
	}

	if err := p.store.CreateHybridCollection(ctx, collection); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	if err := p.store.WaitReady(ctx, collection); err != nil {
		p.cleanupCollection(collection)
		return err
	}
	return nil
}

// indexChunks embeds, encodes, and upserts chunks in batches. Batch
// failures after retries are counted, not fatal; context cancellation is.
func (p *Pipeline) indexChunks(ctx context.Context, collection string, chunks []chunk.Chunk, sources []string, encoder *sparse.Encoder) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	var indexed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	for startIdx := 0; startIdx < len(chunks); startIdx += p.opts.BatchSize {
		endIdx := startIdx + p.opts.BatchSize
		if endIdx > len(chunks) {
			endIdx = len(chunks)
		}
		batch := chunks[startIdx:endIdx]
		batchSources := sources[startIdx:endIdx]

		g.Go(func() error {
			if err := p.indexBatch(gctx, collection, batch, batchSources, encoder); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.metrics.chunksFailed.Add(float64(len(batch)))
				p.logger.Error("chunk batch failed",
					zap.Int("first_chunk", batch[0].Index),
					zap.Int("size", len(batch)),
					zap.Error(err))
				return nil
			}
			indexed.Add(int64(len(batch)))
			p.metrics.chunksIndexed.Add(float64(len(batch)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(indexed.Load()), fmt.Errorf("indexing interrupted: %w", err)
	}
	return int(indexed.Load()), nil
}

// indexBatch embeds one batch with bounded-backoff retries, encodes its
// sparse vectors, and upserts the points.
func (p *Pipeline) indexBatch(ctx context.Context, collection string, batch []chunk.Chunk, sources []string, encoder *sparse.Encoder) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	dense, err := p.embedWithRetry(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding batch: %w", err)
	}

	points := make([]vectorstore.ChunkPoint, len(batch))
	for i, c := range batch {
		sv, err := encoder.Encode(c.Text)
		if err != nil {
			return fmt.Errorf("encoding sparse vector: %w", err)
		}
		points[i] = vectorstore.ChunkPoint{
			ID:         chunkID(collection, c.Index, c.Text),
			Text:       c.Text,
			Source:     sources[i],
			ChunkIndex: c.Index,
			Dense:      dense[i],
			Sparse:     sv,
		}
	}

	return p.store.UpsertBatch(ctx, collection, points)
}

func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := 500 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < p.opts.EmbedRetries; attempt++ {
		vecs, err := p.embedder.EmbedDocuments(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if attempt == p.opts.EmbedRetries-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", p.opts.EmbedRetries, lastErr)
}

// cleanupCollection best-effort deletes a collection after a fatal
// failure, with its own timeout since the run context may be dead.
func (p *Pipeline) cleanupCollection(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.store.DeleteCollection(ctx, collection); err != nil {
		p.logger.Error("cleaning up partial collection failed",
			zap.String("collection", collection),
			zap.Error(err))
	}
}

func (p *Pipeline) dumpEncoder(encoder *sparse.Encoder, collection string) error {
	if err := os.MkdirAll(p.opts.ArtifactDir, 0o755); err != nil {
		return err
	}
	return encoder.Dump(EncoderPath(p.opts.ArtifactDir, collection))
}

// dumpCorpus persists the marker-delimited raw corpus and its flattened
// form so a run's text artifacts can be inspected and reprocessed.
func (p *Pipeline) dumpCorpus(collection, raw, flattened string) error {
	if err := os.MkdirAll(p.opts.ArtifactDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(CorpusPath(p.opts.ArtifactDir, collection), []byte(raw), 0o644); err != nil {
		return err
	}
	return os.WriteFile(FlattenedPath(p.opts.ArtifactDir, collection), []byte(flattened), 0o644)
}

// EncoderPath returns where a collection's fitted sparse state lives.
func EncoderPath(artifactDir, collection string) string {
	return filepath.Join(artifactDir, collection+"_bm25.json")
}

// CorpusPath returns where a collection's raw combined corpus lives.
func CorpusPath(artifactDir, collection string) string {
	return filepath.Join(artifactDir, collection+"_corpus.txt")
}

// FlattenedPath returns where a collection's flattened corpus lives.
func FlattenedPath(artifactDir, collection string) string {
	return filepath.Join(artifactDir, collection+"_flattened.txt")
}

// fileMarkerPattern matches the provenance markers the normalizer
// inserts, which survive flattening as a run of tokens.
var fileMarkerPattern = regexp.MustCompile(`={5} FILE: (\S+) ={5}`)

// chunkSources attributes each chunk to the file whose region it starts
// in, derived from the nearest preceding provenance marker. A chunk
// that begins at a marker belongs to that marker's file.
func chunkSources(chunks []chunk.Chunk) []string {
	sources := make([]string, len(chunks))
	current := ""
	for i, c := range chunks {
		matches := fileMarkerPattern.FindAllStringSubmatchIndex(c.Text, -1)
		if len(matches) > 0 && matches[0][0] == 0 {
			current = c.Text[matches[0][2]:matches[0][3]]
		}
		sources[i] = current
		if len(matches) > 0 {
			last := matches[len(matches)-1]
			current = c.Text[last[2]:last[3]]
		}
	}
	return sources
}

func (p *Pipeline) lockCollection(collection string) func() {
	p.rebuildMu.Lock()
	mu, ok := p.rebuilds[collection]
	if !ok {
		mu = &sync.Mutex{}
		p.rebuilds[collection] = mu
	}
	p.rebuildMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// chunkID derives a stable UUID from the collection, chunk index, and
// chunk text, so rebuilding unchanged content produces identical IDs.
func chunkID(collection string, index int, text string) string {
	name := collection + "#" + strconv.Itoa(index) + "#" + text
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
