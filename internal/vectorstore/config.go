package vectorstore

import (
	"fmt"
	"time"
)

// Config holds configuration for the Qdrant gRPC client.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// VectorSize is the dimensionality of dense embeddings. Must match
	// the embedder's output dimension.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum retry attempts for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff duration, doubling per retry.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	MaxMessageSize int

	// CircuitBreakerThreshold is the failure count before opening the circuit.
	CircuitBreakerThreshold int

	// ProvisionTimeout bounds how long WaitReady polls for a collection
	// to reach green status.
	ProvisionTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.ProvisionTimeout == 0 {
		c.ProvisionTimeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}
