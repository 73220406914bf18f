package shared

import (
	"context"
	"time"
)

// IdempotencyStore remembers recently processed identifiers (inbound data
// packet ids, consumed event ids) so replays can be dropped.
type IdempotencyStore interface {
	// MarkProcessed marks an identifier as processed with a TTL.
	// Returns true if it was newly marked, false if it was already known.
	MarkProcessed(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// IsProcessed checks whether an identifier has already been processed
	IsProcessed(ctx context.Context, id string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for duplicate suppression
type IdempotencyConfig struct {
	// TTL is the time-to-live for processed identifiers. After this duration
	// the same identifier is accepted again.
	TTL time.Duration

	// Enabled determines whether duplicate suppression is active
	Enabled bool
}

// DefaultIdempotencyConfig returns the default duplicate-suppression configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
