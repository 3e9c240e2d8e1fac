package fetch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoindex/internal/classify"
	"github.com/fyrsmithlabs/repoindex/internal/gitref"
	"github.com/fyrsmithlabs/repoindex/internal/logging"
)

// CloneFetcher acquires files via a shallow single-branch clone into a
// temp directory, then walks the worktree. Useful where the hosting
// API is unavailable but the git transport is.
type CloneFetcher struct {
	classes *classify.Config
	logger  *zap.Logger
}

// NewCloneFetcher creates a clone-strategy fetcher. A nil logger means
// each fetch uses the logger carried by its context.
func NewCloneFetcher(classes *classify.Config, logger *zap.Logger) *CloneFetcher {
	if classes == nil {
		classes = classify.DefaultConfig()
	}
	return &CloneFetcher{classes: classes, logger: logger}
}

func (f *CloneFetcher) log(ctx context.Context) *zap.Logger {
	if f.logger != nil {
		return f.logger
	}
	return logging.FromContext(ctx)
}

// Fetch clones the first candidate branch that exists, depth 1, and
// walks the worktree lexically. The clone directory is removed before
// returning.
func (f *CloneFetcher) Fetch(ctx context.Context, ref gitref.Ref) ([]File, error) {
	dir, err := os.MkdirTemp("", "repoindex-clone-*")
	if err != nil {
		return nil, fmt.Errorf("%w: creating temp dir: %v", ErrDownloadFailed, err)
	}
	defer os.RemoveAll(dir)

	candidates := ref.BranchCandidates()
	var cloned bool
	for _, branch := range candidates {
		_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           ref.CloneURL(),
			Depth:         1,
			SingleBranch:  true,
			ReferenceName: plumbing.NewBranchReferenceName(branch),
		})
		if err == nil {
			cloned = true
			break
		}
		if !isMissingBranch(err) {
			return nil, fmt.Errorf("%w: cloning %s: %v", ErrDownloadFailed, ref.CloneURL(), err)
		}
		f.log(ctx).Debug("branch missing, trying next",
			zap.String("repo", ref.String()),
			zap.String("branch", branch))
		// PlainClone may leave partial state behind on failure.
		if err := resetDir(dir); err != nil {
			return nil, fmt.Errorf("%w: resetting clone dir: %v", ErrDownloadFailed, err)
		}
	}
	if !cloned {
		return nil, fmt.Errorf("%w: tried %v", ErrBranchNotFound, candidates)
	}

	return f.walkTree(dir, f.log(ctx))
}

// walkTree collects files from the clone, pruning denylisted
// directories and skipping denylisted extensions. Read errors on
// individual files are logged and skipped.
func (f *CloneFetcher) walkTree(root string, logger *zap.Logger) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && f.classes.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if f.classes.SkipExtension(rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping file", zap.String("path", rel), zap.Error(err))
			return nil
		}
		files = append(files, File{Path: rel, Content: content})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking clone: %w", err)
	}
	return files, nil
}

func isMissingBranch(err error) bool {
	return errors.Is(err, plumbing.ErrReferenceNotFound) ||
		errors.Is(err, git.ErrRepositoryNotExists) ||
		errors.Is(err, transport.ErrEmptyRemoteRepository) ||
		errors.Is(err, git.NoMatchingRefSpecError{})
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.Mkdir(dir, 0o755)
}
