// Package fetch acquires repository file trees from remote hosts.
//
// Three interchangeable strategies implement the same Fetcher contract:
// recursive API listing (per-file downloads, prunes excluded subtrees
// before fetching), archive download (one zip snapshot of a branch),
// and a shallow git clone. The rest of the pipeline is strategy-
// agnostic: it sees an ordered sequence of files either way.
package fetch

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/repoindex/internal/gitref"
)

// Sentinel errors for acquisition failures.
var (
	// ErrBranchNotFound is returned when every candidate branch was tried
	// and none exists on the remote.
	ErrBranchNotFound = errors.New("fetch: branch not found")

	// ErrDownloadFailed is returned when an archive download fails for a
	// reason other than a missing branch.
	ErrDownloadFailed = errors.New("fetch: download failed")

	// ErrArchiveCorrupt is returned when a downloaded archive cannot be read.
	ErrArchiveCorrupt = errors.New("fetch: archive corrupt")
)

// File is one repository file: its repository-relative path (forward
// slashes) and raw content.
type File struct {
	Path    string
	Content []byte
}

// Fetcher acquires a repository's files.
type Fetcher interface {
	// Fetch returns the repository's files in traversal order. Per-file
	// failures are skipped with a warning; reference and archive level
	// failures are fatal.
	Fetch(ctx context.Context, ref gitref.Ref) ([]File, error)
}
