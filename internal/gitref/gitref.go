// Package gitref parses repository hosting URLs into structured references.
package gitref

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidReference indicates a URL that does not identify a repository.
var ErrInvalidReference = errors.New("invalid repository reference")

// DefaultBranchCandidates are tried in order when a URL carries no branch.
var DefaultBranchCandidates = []string{"main", "master"}

// slugInvalidChars matches everything a collection name cannot contain.
var slugInvalidChars = regexp.MustCompile(`[^a-z0-9_]+`)

// Ref identifies a repository on a hosting provider.
//
// Owner and Name are always non-empty for a Ref produced by Parse.
// Branch is empty when the URL did not pin one; callers resolve it
// against DefaultBranchCandidates.
type Ref struct {
	Host   string
	Owner  string
	Name   string
	Branch string
}

// Parse extracts a Ref from a repository URL.
//
// Accepted forms:
//
//	https://github.com/owner/repo
//	https://github.com/owner/repo.git
//	https://github.com/owner/repo/tree/branch
//	https://github.com/owner/repo/tree/branch/sub/path
//
// Returns ErrInvalidReference when owner or repo cannot be extracted.
func Parse(rawURL string) (Ref, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Ref{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidReference, u.Scheme)
	}
	if u.Host == "" {
		return Ref{}, fmt.Errorf("%w: missing host in %q", ErrInvalidReference, rawURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("%w: %q has no owner/repo path", ErrInvalidReference, rawURL)
	}

	ref := Ref{
		Host:  u.Host,
		Owner: parts[0],
		Name:  strings.TrimSuffix(parts[1], ".git"),
	}
	if ref.Name == "" {
		return Ref{}, fmt.Errorf("%w: empty repository name in %q", ErrInvalidReference, rawURL)
	}

	// Optional /tree/<branch>[/path] tail pins a branch.
	if len(parts) >= 4 && parts[2] == "tree" && parts[3] != "" {
		ref.Branch = parts[3]
	}

	return ref, nil
}

// String returns the canonical owner/name form.
func (r Ref) String() string {
	return r.Owner + "/" + r.Name
}

// BranchCandidates returns the ordered list of branches to try:
// the pinned branch if any, otherwise the conventional defaults.
func (r Ref) BranchCandidates() []string {
	if r.Branch != "" {
		return []string{r.Branch}
	}
	return DefaultBranchCandidates
}

// ArchiveURL returns the zip snapshot URL for a branch.
func (r Ref) ArchiveURL(branch string) string {
	return fmt.Sprintf("https://%s/%s/%s/archive/refs/heads/%s.zip", r.Host, r.Owner, r.Name, branch)
}

// CloneURL returns the HTTPS clone URL.
func (r Ref) CloneURL() string {
	return fmt.Sprintf("https://%s/%s/%s.git", r.Host, r.Owner, r.Name)
}

// Collection derives a vector collection name from the reference.
// The result matches the store's ^[a-z0-9_]{1,64}$ naming rule.
func (r Ref) Collection() string {
	slug := strings.ToLower(r.Owner + "_" + r.Name)
	slug = slugInvalidChars.ReplaceAllString(slug, "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 64 {
		slug = slug[:64]
	}
	if slug == "" {
		slug = "repo"
	}
	return slug
}
