// Package vectorstore provides hybrid dense+sparse storage on Qdrant.
//
// Each collection carries two named vectors per point: a dense embedding
// scored by dot product and a sparse BM25 vector. Queries prefetch both
// legs and fuse them with reciprocal rank fusion server-side, so hybrid
// ranking needs a single round trip over gRPC.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("repoindex.vectorstore.qdrant")

// Store is a hybrid vector store backed by Qdrant's native gRPC client.
//
// The gRPC transport (port 6334) avoids the HTTP layer's payload limits,
// which matters when upserting whole-repository chunk batches.
type Store struct {
	client *qdrant.Client
	config Config

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewStore creates a Store, connects to Qdrant, and verifies health.
func NewStore(config Config) (*Store, error) {
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		fmt.Fprintf(os.Stderr, "WARNING: Qdrant gRPC using plaintext (TLS disabled). Insecure for production.\n")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &Store{client: client, config: config}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	return store, nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Store.HealthCheck")
	defer span.End()

	_, err := s.client.HealthCheck(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *Store) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *Store) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *Store) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *Store) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// CreateHybridCollection creates a collection with a named dense vector
// (dot product distance) and a named sparse vector.
func (s *Store) CreateHybridCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Store.CreateHybridCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		span.RecordError(err)
		return err
	}

	err := s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				DenseVectorName: {
					Size:     s.config.VectorSize,
					Distance: qdrant.Distance_Dot,
				},
			}),
			SparseVectorsConfig: qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
				SparseVectorName: {},
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %q: %w", name, err)
	}

	span.SetStatus(codes.Ok, "created")
	return nil
}

// DeleteCollection removes a collection. Deleting a collection that does
// not exist is not an error.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Store.DeleteCollection",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	if err := ValidateCollectionName(name); err != nil {
		span.RecordError(err)
		return err
	}

	err := s.retryOperation(ctx, "delete_collection", func() error {
		return s.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %q: %w", name, err)
	}

	span.SetStatus(codes.Ok, "deleted")
	return nil
}

// CollectionExists reports whether the named collection exists.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Store.CollectionExists",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var opErr error
		exists, opErr = s.client.CollectionExists(ctx, name)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("checking collection %q: %w", name, err)
	}
	return exists, nil
}

// ListCollections returns the names of all collections.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Store.ListCollections")
	defer span.End()

	var names []string
	err := s.retryOperation(ctx, "list_collections", func() error {
		var opErr error
		names, opErr = s.client.ListCollections(ctx)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	return names, nil
}

// WaitReady polls until the collection reaches green status or the
// provisioning timeout elapses.
func (s *Store) WaitReady(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "Store.WaitReady",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	deadline := time.Now().Add(s.config.ProvisionTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		info, err := s.client.GetCollectionInfo(ctx, name)
		if err == nil && info.GetStatus() == qdrant.CollectionStatus_Green {
			span.SetStatus(codes.Ok, "ready")
			return nil
		}

		if time.Now().After(deadline) {
			span.SetStatus(codes.Error, "provisioning timeout")
			return fmt.Errorf("%w: collection %q not ready after %s", ErrProvisioningTimeout, name, s.config.ProvisionTimeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for collection %q: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}

// UpsertBatch writes a batch of chunk points with both named vectors and
// waits for the write to be applied.
func (s *Store) UpsertBatch(ctx context.Context, collection string, points []ChunkPoint) error {
	ctx, span := tracer.Start(ctx, "Store.UpsertBatch",
		trace.WithAttributes(attribute.String("collection", collection)))
	span.SetAttributes(attribute.Int("points", len(points)))
	defer span.End()

	if len(points) == 0 {
		return ErrEmptyPoints
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				DenseVectorName:  qdrant.NewVectorDense(p.Dense),
				SparseVectorName: qdrant.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				PayloadText:       p.Text,
				PayloadSource:     p.Source,
				PayloadChunkIndex: int64(p.ChunkIndex),
			}),
		})
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, opErr := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         qdrantPoints,
			Wait:           qdrant.PtrOf(true),
		})
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points into %q: %w", len(points), collection, err)
	}

	span.SetStatus(codes.Ok, "upserted")
	return nil
}

// Query runs a hybrid search: dense and sparse prefetch legs fused with
// reciprocal rank fusion, returning the top k chunks with payloads.
func (s *Store) Query(ctx context.Context, collection string, dense []float32, sparseIndices []uint32, sparseValues []float32, k int) ([]ScoredChunk, error) {
	ctx, span := tracer.Start(ctx, "Store.Query",
		trace.WithAttributes(attribute.String("collection", collection)))
	span.SetAttributes(attribute.Int("k", k))
	defer span.End()

	if k <= 0 {
		k = 10
	}
	limit := uint64(k)

	prefetch := []*qdrant.PrefetchQuery{
		{
			Query: qdrant.NewQueryDense(dense),
			Using: qdrant.PtrOf(DenseVectorName),
			Limit: qdrant.PtrOf(limit),
		},
	}
	if len(sparseIndices) > 0 {
		prefetch = append(prefetch, &qdrant.PrefetchQuery{
			Query: qdrant.NewQuerySparse(sparseIndices, sparseValues),
			Using: qdrant.PtrOf(SparseVectorName),
			Limit: qdrant.PtrOf(limit),
		})
	}

	var hits []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		var opErr error
		hits, opErr = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Prefetch:       prefetch,
			Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
			Limit:          qdrant.PtrOf(limit),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %q: %w", collection, err)
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		payload := hit.GetPayload()
		results = append(results, ScoredChunk{
			ID:         hit.GetId().GetUuid(),
			Score:      hit.GetScore(),
			Text:       payload[PayloadText].GetStringValue(),
			Source:     payload[PayloadSource].GetStringValue(),
			ChunkIndex: int(payload[PayloadChunkIndex].GetIntegerValue()),
		})
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "queried")
	return results, nil
}

// GetCollectionInfo returns point count and status for a collection.
func (s *Store) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	ctx, span := tracer.Start(ctx, "Store.GetCollectionInfo",
		trace.WithAttributes(attribute.String("collection", name)))
	defer span.End()

	var info *qdrant.CollectionInfo
	err := s.retryOperation(ctx, "get_collection_info", func() error {
		var opErr error
		info, opErr = s.client.GetCollectionInfo(ctx, name)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting collection %q: %w", name, err)
	}

	return &CollectionInfo{
		Name:        name,
		PointsCount: info.GetPointsCount(),
		Status:      info.GetStatus().String(),
	}, nil
}

