package vectorstore

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestValidateCollectionName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "myrepo", false},
		{"valid with underscores", "owner_repo_main", false},
		{"valid with numbers", "repo123", false},
		{"valid max length", strings.Repeat("a", 64), false},
		{"empty", "", true},
		{"uppercase", "MyRepo", true},
		{"hyphen", "my-repo", true},
		{"path traversal", "../etc", true},
		{"spaces", "my repo", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCollectionName(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCollectionName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(grpccodes.Unavailable, "down"), true},
		{"deadline exceeded", status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{"aborted", status.Error(grpccodes.Aborted, "conflict"), true},
		{"resource exhausted", status.Error(grpccodes.ResourceExhausted, "quota"), true},
		{"invalid argument", status.Error(grpccodes.InvalidArgument, "bad"), false},
		{"not found", status.Error(grpccodes.NotFound, "missing"), false},
		{"permission denied", status.Error(grpccodes.PermissionDenied, "no"), false},
		{"plain error", errors.New("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, uint64(384), cfg.VectorSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.ProvisionTimeout)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{Host: "localhost", Port: 6334, VectorSize: 384}
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Host = ""
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Port = 99999
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.VectorSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestCircuitBreaker(t *testing.T) {
	s := &Store{config: Config{CircuitBreakerThreshold: 3}}

	assert.False(t, s.isCircuitOpen())

	s.recordFailure()
	s.recordFailure()
	assert.False(t, s.isCircuitOpen())

	s.recordFailure()
	assert.True(t, s.isCircuitOpen())

	s.resetCircuitBreaker()
	assert.False(t, s.isCircuitOpen())
}

func TestCircuitBreakerReopensAfterCooldown(t *testing.T) {
	s := &Store{config: Config{CircuitBreakerThreshold: 1}}
	s.recordFailure()
	assert.True(t, s.isCircuitOpen())

	// Backdate the failure past the cooldown window.
	s.circuitBreaker.mu.Lock()
	s.circuitBreaker.lastFail = time.Now().Add(-31 * time.Second)
	s.circuitBreaker.mu.Unlock()

	assert.False(t, s.isCircuitOpen())
}
