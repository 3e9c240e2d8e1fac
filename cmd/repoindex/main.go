// Package main implements the repoindex CLI: ingest a repository into a
// hybrid search index, query it, and generate interview questions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoindex/internal/config"
	"github.com/fyrsmithlabs/repoindex/internal/embeddings"
	"github.com/fyrsmithlabs/repoindex/internal/fetch"
	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/interview"
	"github.com/fyrsmithlabs/repoindex/internal/logging"
	"github.com/fyrsmithlabs/repoindex/internal/pipeline"
	"github.com/fyrsmithlabs/repoindex/internal/reranker"
	"github.com/fyrsmithlabs/repoindex/internal/retriever"
	"github.com/fyrsmithlabs/repoindex/internal/sparse"
	"github.com/fyrsmithlabs/repoindex/internal/vectorstore"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "repoindex",
	Short:   "Repository ingestion and hybrid indexing",
	Long:    `repoindex fetches a repository, filters it down to its text corpus, and builds a hybrid dense+sparse search index in Qdrant.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(interviewCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <repo-url>",
	Short: "Fetch a repository and rebuild its search index",
	Long: `Fetch a repository, classify and normalize its text files, chunk the
corpus, and rebuild the hybrid index for the derived collection name.

Examples:
  repoindex ingest https://github.com/acme/widgets
  repoindex ingest https://github.com/acme/widgets/tree/develop`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <repo-url> <query>",
	Short: "Search an indexed repository",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runSearch,
}

var interviewCmd = &cobra.Command{
	Use:   "interview <repo-url> <topic>",
	Short: "Generate interview questions about an indexed repository",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runInterview,
}

var (
	searchTopK int

	ingestStrategy     string
	ingestCollection   string
	ingestChunkSize    int
	ingestChunkOverlap int
	ingestWorkdir      string
)

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top", retriever.DefaultTopK, "number of results")
	interviewCmd.Flags().IntVar(&searchTopK, "top", retriever.DefaultTopK, "context chunks to retrieve")

	ingestCmd.Flags().StringVar(&ingestStrategy, "strategy", "", "fetch strategy: archive, listing, or clone")
	ingestCmd.Flags().StringVar(&ingestCollection, "collection", "", "override the derived collection name")
	ingestCmd.Flags().IntVar(&ingestChunkSize, "chunk-size", 0, "chunk size in characters")
	ingestCmd.Flags().IntVar(&ingestChunkOverlap, "chunk-overlap", 0, "chunk overlap in characters")
	ingestCmd.Flags().StringVar(&ingestWorkdir, "workdir", "", "directory for corpus and sparse-encoder artifacts")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	// Flags override the loaded config for this run.
	if ingestStrategy != "" {
		cfg.Fetch.Strategy = ingestStrategy
	}
	if ingestChunkSize > 0 {
		cfg.Chunk.Size = ingestChunkSize
	}
	if ingestChunkOverlap > 0 {
		cfg.Chunk.Overlap = ingestChunkOverlap
	}
	if ingestWorkdir != "" {
		cfg.Pipeline.ArtifactDir = ingestWorkdir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	fetcher, err := buildFetcher(cfg)
	if err != nil {
		return err
	}

	embedder, err := embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{
		Model:     cfg.Embedding.Model,
		CacheDir:  cfg.Embedding.CacheDir,
		MaxLength: cfg.Embedding.MaxLength,
	})
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	defer embedder.Close()

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	p := pipeline.New(fetcher, embedder, store, logger, nil, pipeline.Options{
		Collection:   ingestCollection,
		ChunkSize:    cfg.Chunk.Size,
		ChunkOverlap: cfg.Chunk.Overlap,
		BatchSize:    cfg.Pipeline.BatchSize,
		ArtifactDir:  cfg.Pipeline.ArtifactDir,
		Progress: func(stage string) {
			fmt.Fprintf(cmd.OutOrStdout(), "==> %s\n", stage)
		},
	})

	result, err := p.Ingest(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"Indexed %s: %d/%d files kept, %d/%d chunks indexed (%.1fs)\n",
		result.Collection, result.FilesKept, result.FilesTotal,
		result.ChunksIndexed, result.ChunksTotal, result.Duration.Seconds())
	if !result.Complete() {
		fmt.Fprintln(cmd.OutOrStdout(), "WARNING: partial index; re-run ingest to retry failed batches")
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	results, err := search(cmd, cfg, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}

	for i, hit := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.4f] %s (chunk %d)\n    %s\n",
			i+1, hit.Score, hit.Source, hit.ChunkIndex, hit.Text)
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
	}
	return nil
}

func runInterview(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	results, err := search(cmd, cfg, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return fmt.Errorf("no indexed context found; run ingest first")
	}

	chunks := make([]string, len(results))
	for i, hit := range results {
		chunks[i] = hit.Text
	}

	apiKey := os.Getenv(cfg.Interview.APIKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("environment variable %s is not set", cfg.Interview.APIKeyEnv)
	}

	llm, err := openai.New(
		openai.WithModel(cfg.Interview.Model),
		openai.WithBaseURL("https://api.groq.com/openai/v1"),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return fmt.Errorf("initializing LLM client: %w", err)
	}

	gen := interview.New(llm, cfg.Interview.Questions)
	questions, err := gen.Generate(cmd.Context(), chunks)
	if err != nil {
		return err
	}

	for i, q := range questions {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, q)
	}
	return nil
}

// search wires embedder, sparse state, and store for a read-only query.
func search(cmd *cobra.Command, cfg *config.Config, repoURL, query string) ([]vectorstore.ScoredChunk, error) {
	ref, err := gitref.Parse(repoURL)
	if err != nil {
		return nil, err
	}
	collection := ref.Collection()

	embedder, err := embeddings.NewFastEmbedProvider(embeddings.FastEmbedConfig{
		Model:     cfg.Embedding.Model,
		CacheDir:  cfg.Embedding.CacheDir,
		MaxLength: cfg.Embedding.MaxLength,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	defer embedder.Close()

	store, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	// Missing sparse state degrades to dense-only search.
	encoder, err := sparse.Load(pipeline.EncoderPath(cfg.Pipeline.ArtifactDir, collection))
	if err != nil {
		encoder = nil
	}

	r := retriever.New(embedder, encoder, store, retriever.WithReranker(reranker.NewTermOverlap()))
	return r.Search(cmd.Context(), collection, query, searchTopK)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// buildFetcher constructs the configured strategy. No logger is passed:
// the fetchers pull the pipeline's logger from the request context.
func buildFetcher(cfg *config.Config) (fetch.Fetcher, error) {
	switch cfg.Fetch.Strategy {
	case "listing":
		return fetch.NewListingFetcher(
			fetch.WithToken(cfg.Fetch.Token),
			fetch.WithConcurrency(cfg.Fetch.Concurrency),
		)
	case "clone":
		return fetch.NewCloneFetcher(nil, nil), nil
	default:
		return fetch.NewArchiveFetcher(), nil
	}
}

func buildStore(cfg *config.Config) (*vectorstore.Store, error) {
	store, err := vectorstore.NewStore(vectorstore.Config{
		Host:             cfg.Qdrant.Host,
		Port:             cfg.Qdrant.Port,
		UseTLS:           cfg.Qdrant.UseTLS,
		VectorSize:       uint64(cfg.Qdrant.VectorSize),
		ProvisionTimeout: cfg.Qdrant.ProvisionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant: %w", err)
	}
	return store, nil
}
