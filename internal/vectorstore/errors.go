package vectorstore

import (
	"errors"
	"fmt"
	"regexp"

	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the Qdrant connection could not be established.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrCollectionNotFound indicates the named collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName indicates a collection name failing validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyPoints indicates an upsert with no points.
	ErrEmptyPoints = errors.New("empty or nil points")

	// ErrProvisioningTimeout indicates a collection did not become ready in time.
	ErrProvisioningTimeout = errors.New("collection provisioning timed out")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects: uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts and temporary unavailability.
// Returns false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}
