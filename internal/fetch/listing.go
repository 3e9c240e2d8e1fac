package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/repoindex/internal/classify"
	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/logging"
)

// DefaultConcurrency bounds parallel per-file downloads in the listing
// strategy.
const DefaultConcurrency = 8

// ListingFetcher walks the remote directory-tree API depth-first,
// pruning denylisted directories before recursing and skipping
// denylisted extensions before any content download.
type ListingFetcher struct {
	client      *github.Client
	limiter     *RateLimiter
	classes     *classify.Config
	logger      *zap.Logger
	concurrency int
}

// ListingOption configures a ListingFetcher.
type ListingOption func(*ListingFetcher) error

// WithToken authenticates API requests with a personal access token.
func WithToken(token string) ListingOption {
	return func(f *ListingFetcher) error {
		if token == "" {
			return nil
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		f.client = github.NewClient(oauth2.NewClient(context.Background(), ts))
		return nil
	}
}

// WithBaseURL points the API client at a different endpoint. Used for
// GitHub Enterprise hosts and for tests.
func WithBaseURL(raw string) ListingOption {
	return func(f *ListingFetcher) error {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parsing base URL: %w", err)
		}
		f.client.BaseURL = u
		return nil
	}
}

// WithConcurrency sets the parallel download limit.
func WithConcurrency(n int) ListingOption {
	return func(f *ListingFetcher) error {
		if n > 0 {
			f.concurrency = n
		}
		return nil
	}
}

// WithClassifyConfig overrides the pruning rules.
func WithClassifyConfig(cfg *classify.Config) ListingOption {
	return func(f *ListingFetcher) error {
		f.classes = cfg
		return nil
	}
}

// WithListingLogger pins a logger. Without one, each fetch uses the
// logger carried by its context.
func WithListingLogger(logger *zap.Logger) ListingOption {
	return func(f *ListingFetcher) error {
		f.logger = logger
		return nil
	}
}

// NewListingFetcher creates a listing-strategy fetcher.
func NewListingFetcher(opts ...ListingOption) (*ListingFetcher, error) {
	f := &ListingFetcher{
		client:      github.NewClient(nil),
		limiter:     NewRateLimiter(),
		classes:     classify.DefaultConfig(),
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *ListingFetcher) log(ctx context.Context) *zap.Logger {
	if f.logger != nil {
		return f.logger
	}
	return logging.FromContext(ctx)
}

type treeEntry struct {
	path string
	sha  string
}

// Fetch lists the tree for the first candidate branch that exists, then
// downloads retained blobs with bounded concurrency. Individual blob
// failures are logged and skipped.
func (f *ListingFetcher) Fetch(ctx context.Context, ref gitref.Ref) ([]File, error) {
	branch, entries, err := f.resolveTree(ctx, ref)
	if err != nil {
		return nil, err
	}

	files := make([]File, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			if err := f.limiter.Wait(gctx); err != nil {
				return err
			}
			content, err := f.fetchBlob(gctx, ref, entry.sha)
			if err != nil {
				f.log(gctx).Warn("skipping file",
					zap.String("path", entry.path),
					zap.String("branch", branch),
					zap.Error(err))
				return nil
			}
			files[i] = File{Path: entry.path, Content: content}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("downloading files: %w", err)
	}

	// Preserve listing order, dropping slots whose download was skipped.
	out := files[:0]
	for _, file := range files {
		if file.Path != "" {
			out = append(out, file)
		}
	}
	return out, nil
}

// resolveTree walks candidate branches until one yields a root listing.
func (f *ListingFetcher) resolveTree(ctx context.Context, ref gitref.Ref) (string, []treeEntry, error) {
	var lastErr error
	for _, branch := range ref.BranchCandidates() {
		entries, err := f.walkDir(ctx, ref, branch, "")
		if err != nil {
			if isNotFound(err) {
				lastErr = err
				continue
			}
			return "", nil, fmt.Errorf("listing %s@%s: %w", ref, branch, err)
		}
		return branch, entries, nil
	}
	return "", nil, fmt.Errorf("%w: tried %v: %v", ErrBranchNotFound, ref.BranchCandidates(), lastErr)
}

// walkDir lists one directory and recurses depth-first. Denylisted
// directories are pruned here so their subtrees are never requested.
func (f *ListingFetcher) walkDir(ctx context.Context, ref gitref.Ref, branch, dir string) ([]treeEntry, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	_, listing, resp, err := f.client.Repositories.GetContents(ctx, ref.Owner, ref.Name, dir,
		&github.RepositoryContentGetOptions{Ref: branch})
	if resp != nil {
		f.limiter.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return nil, err
	}

	var entries []treeEntry
	for _, item := range listing {
		switch item.GetType() {
		case "dir":
			if f.classes.SkipDir(item.GetName()) {
				continue
			}
			sub, err := f.walkDir(ctx, ref, branch, item.GetPath())
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				f.log(ctx).Warn("skipping directory",
					zap.String("path", item.GetPath()),
					zap.Error(err))
				continue
			}
			entries = append(entries, sub...)
		case "file":
			if f.classes.SkipExtension(item.GetPath()) {
				continue
			}
			entries = append(entries, treeEntry{path: item.GetPath(), sha: item.GetSHA()})
		}
	}
	return entries, nil
}

// fetchBlob downloads and decodes one blob by SHA.
func (f *ListingFetcher) fetchBlob(ctx context.Context, ref gitref.Ref, sha string) ([]byte, error) {
	blob, resp, err := f.client.Git.GetBlob(ctx, ref.Owner, ref.Name, sha)
	if resp != nil {
		f.limiter.UpdateFromResponse(resp.Response)
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", sha, err)
	}

	if blob.GetEncoding() == "base64" {
		raw := strings.ReplaceAll(blob.GetContent(), "\n", "")
		return base64.StdEncoding.DecodeString(raw)
	}
	return []byte(blob.GetContent()), nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
