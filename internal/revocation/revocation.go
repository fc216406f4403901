// Package revocation keeps a TTL-bounded denylist of access tokens revoked
// before their natural expiry. Entries expire on their own; no cleanup job runs.
package revocation

import (
	"context"
	"time"
)

// KeyPrefix namespaces denylist entries inside a shared key/value store.
const KeyPrefix = "blacklist:"

// Store is a denylist keyed by access token.
type Store interface {
	// Put records token with a reason tag for ttl. A non-positive ttl is a no-op:
	// the token already fails validation.
	Put(ctx context.Context, token, reason string, ttl time.Duration) error
	// Contains reports whether token is currently revoked.
	Contains(ctx context.Context, token string) (bool, error)
	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

func key(token string) string { return KeyPrefix + token }
