package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/logging"
)

// maxArchiveFileSize caps a single extracted file to guard against
// decompression bombs.
const maxArchiveFileSize = 32 * 1024 * 1024

// ArchiveFetcher downloads one zip snapshot of a branch and extracts
// every file. Extension and directory filtering happens later, during
// classification, since the whole archive arrives in one request anyway.
type ArchiveFetcher struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL func(ref gitref.Ref, branch string) string
}

// ArchiveOption configures an ArchiveFetcher.
type ArchiveOption func(*ArchiveFetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ArchiveOption {
	return func(f *ArchiveFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithArchiveURL overrides how archive URLs are built. Used in tests to
// point at a local server.
func WithArchiveURL(build func(ref gitref.Ref, branch string) string) ArchiveOption {
	return func(f *ArchiveFetcher) {
		if build != nil {
			f.baseURL = build
		}
	}
}

// WithArchiveLogger pins a logger. Without one, each fetch uses the
// logger carried by its context.
func WithArchiveLogger(logger *zap.Logger) ArchiveOption {
	return func(f *ArchiveFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewArchiveFetcher creates an archive-strategy fetcher.
func NewArchiveFetcher(opts ...ArchiveOption) *ArchiveFetcher {
	f := &ArchiveFetcher{
		client: &http.Client{Timeout: 5 * time.Minute},
		baseURL: func(ref gitref.Ref, branch string) string {
			return ref.ArchiveURL(branch)
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch tries each candidate branch's archive in order. A missing
// archive (404) moves to the next candidate; download or extraction
// failure is fatal. The temp file is removed regardless of outcome.
func (f *ArchiveFetcher) Fetch(ctx context.Context, ref gitref.Ref) ([]File, error) {
	candidates := ref.BranchCandidates()
	for _, branch := range candidates {
		files, found, err := f.fetchBranch(ctx, ref, branch)
		if err != nil {
			return nil, err
		}
		if found {
			return files, nil
		}
		f.log(ctx).Debug("archive not found, trying next branch",
			zap.String("repo", ref.String()),
			zap.String("branch", branch))
	}
	return nil, fmt.Errorf("%w: tried %v", ErrBranchNotFound, candidates)
}

func (f *ArchiveFetcher) log(ctx context.Context) *zap.Logger {
	if f.logger != nil {
		return f.logger
	}
	return logging.FromContext(ctx)
}

func (f *ArchiveFetcher) fetchBranch(ctx context.Context, ref gitref.Ref, branch string) (files []File, found bool, err error) {
	url := f.baseURL(ref, branch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("%w: %s returned %s", ErrDownloadFailed, url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "repoindex-archive-*.zip")
	if err != nil {
		return nil, false, fmt.Errorf("%w: creating temp file: %v", ErrDownloadFailed, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	files, err = extractZip(tmp.Name())
	if err != nil {
		return nil, false, err
	}
	return files, true, nil
}

// extractZip reads every regular file from the archive, stripping the
// top-level "<repo>-<branch>/" directory GitHub adds.
func extractZip(path string) ([]File, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
	}
	defer reader.Close()

	var files []File
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}

		name := stripArchiveRoot(entry.Name)
		if name == "" || !validArchivePath(name) {
			continue
		}
		if entry.UncompressedSize64 > maxArchiveFileSize {
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", ErrArchiveCorrupt, entry.Name, err)
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArchiveFileSize))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrArchiveCorrupt, entry.Name, err)
		}

		files = append(files, File{Path: name, Content: content})
	}
	return files, nil
}

// stripArchiveRoot removes the single top-level directory component.
func stripArchiveRoot(name string) string {
	name = filepath.ToSlash(name)
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return ""
}

// validArchivePath rejects absolute paths and traversal segments.
func validArchivePath(name string) bool {
	if strings.HasPrefix(name, "/") {
		return false
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}
