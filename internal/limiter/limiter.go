// Package limiter throttles repeated failures per hashed client address.
package limiter

import (
	"context"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ScopeReissue keys counters for failed refresh-token exchanges.
const ScopeReissue = "reissue"

// Limiter counts failures per (scope, client) and places temporary blocks.
type Limiter interface {
	// Allow reports whether the client may try again, with the remaining block if not.
	Allow(ctx context.Context, scope string, clientHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, scope string, clientHash []byte) error
	// Failure records a failed attempt and reports whether it triggered a block.
	Failure(ctx context.Context, scope string, clientHash []byte) (bool, time.Duration, error)
}

// HashClient returns a stable digest of a client address so raw addresses never reach storage.
func HashClient(addr string) []byte {
	h := blake2b.Sum256([]byte(addr))
	return h[:]
}
