// Package classify decides which repository files belong in the text corpus.
//
// Classification combines three checks, in order: a media/binary extension
// denylist, a vendor-directory denylist, and a byte-sampling heuristic for
// binary content. The heuristic is tunable and documented as best-effort:
// false positives and false negatives are accepted, not defects.
package classify

import (
	"path"
	"strings"
)

// Reason records why a file was kept or skipped.
type Reason string

const (
	// ReasonNone means the file passed every check and is kept.
	ReasonNone Reason = "none"
	// ReasonExtension means the file extension is on a denylist.
	ReasonExtension Reason = "extension"
	// ReasonDirectory means a path segment is a denied vendor directory.
	ReasonDirectory Reason = "directory"
	// ReasonBinary means the byte-sample heuristic flagged the content.
	ReasonBinary Reason = "binary-heuristic"
)

// Decision is the outcome of classifying a single file.
type Decision struct {
	Path   string
	Keep   bool
	Reason Reason
}

// DefaultSampleSize is the number of leading bytes inspected by the
// binary-content heuristic.
const DefaultSampleSize = 4096

// DefaultBinaryThreshold is the non-text byte fraction above which a
// sample is treated as binary.
const DefaultBinaryThreshold = 0.30

// defaultMediaExts are image/audio/video/archive/document formats that are
// never text, plus tabular binary-ish exports the corpus does not want.
var defaultMediaExts = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg", ".webp",
	".ico", ".tiff", ".tif", ".mp3", ".mp4", ".wav", ".avi",
	".mov", ".zip", ".tar", ".gz", ".rar", ".7z", ".pdf",
	".csv", ".tsv",
	".woff", ".woff2", ".ttf", ".eot",
}

// defaultArtifactExts are compiled or serialized build artifacts.
var defaultArtifactExts = []string{
	".exe", ".dll", ".so", ".dylib", ".class", ".jar",
	".pyc", ".pyo", ".o", ".a", ".db", ".sqlite", ".bin",
}

// defaultSkipDirs are vendor directories whose subtrees are never ingested:
// version-control metadata, dependency caches, bytecode caches, and
// generated build output.
var defaultSkipDirs = []string{
	".git", ".svn", ".hg",
	"node_modules", "vendor",
	"__pycache__", ".venv", "venv",
	".idea", ".vscode", ".cache",
	"dist", "build", ".next", "target",
}

// Config holds the closed sets and heuristic tuning used for classification.
//
// The zero value is not usable; construct with DefaultConfig and adjust.
type Config struct {
	MediaExts       map[string]bool
	ArtifactExts    map[string]bool
	SkipDirs        map[string]bool
	SampleSize      int
	BinaryThreshold float64
}

// DefaultConfig returns the stock denylists and heuristic parameters.
func DefaultConfig() *Config {
	return &Config{
		MediaExts:       toSet(defaultMediaExts),
		ArtifactExts:    toSet(defaultArtifactExts),
		SkipDirs:        toSet(defaultSkipDirs),
		SampleSize:      DefaultSampleSize,
		BinaryThreshold: DefaultBinaryThreshold,
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// SkipExtension reports whether the path's extension is on either denylist.
// Fetchers call this before downloading file content.
func (c *Config) SkipExtension(relPath string) bool {
	ext := strings.ToLower(path.Ext(relPath))
	return c.MediaExts[ext] || c.ArtifactExts[ext]
}

// SkipDir reports whether a directory name is a denied vendor directory.
// Fetchers call this to prune traversal before descending.
func (c *Config) SkipDir(name string) bool {
	return c.SkipDirs[name]
}

// Classify decides KEEP or SKIP for a file given its repository-relative
// path and a leading byte sample (up to SampleSize bytes).
//
// Callers that fail to read a sample should treat the file as
// SKIP(ReasonBinary): the heuristic fails safe toward exclusion.
func (c *Config) Classify(relPath string, sample []byte) Decision {
	if c.SkipExtension(relPath) {
		return Decision{Path: relPath, Keep: false, Reason: ReasonExtension}
	}

	for _, seg := range strings.Split(path.Clean(relPath), "/") {
		if c.SkipDirs[seg] {
			return Decision{Path: relPath, Keep: false, Reason: ReasonDirectory}
		}
	}

	if IsBinary(sample, c.BinaryThreshold) {
		return Decision{Path: relPath, Keep: false, Reason: ReasonBinary}
	}

	return Decision{Path: relPath, Keep: true, Reason: ReasonNone}
}

// IsBinary applies the non-text byte heuristic to a sample.
//
// An empty sample is text (empty files are kept). Any NUL byte means
// binary. Otherwise bytes outside tab/LF/CR, printable ASCII, and the
// >=0x80 range (assumed multi-byte text encoding) count as non-text; the
// sample is binary when their fraction exceeds threshold.
func IsBinary(sample []byte, threshold float64) bool {
	if len(sample) == 0 {
		return false
	}

	nonText := 0
	for _, b := range sample {
		switch {
		case b == 0x00:
			return true
		case b == '\t' || b == '\n' || b == '\r':
		case b >= 0x20 && b <= 0x7e:
		case b >= 0x80:
		default:
			nonText++
		}
	}

	return float64(nonText)/float64(len(sample)) > threshold
}
