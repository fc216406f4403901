// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a compare-and-swap update lost against a concurrent writer.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., provider identity taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates a missing principal or a revoked access token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidToken indicates a token failed its signature, shape or expiry check.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenNotFound indicates a refresh token unknown to the account store
	// (already rotated, cleared on logout, or never issued).
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrUnsupportedProvider indicates an identity provider without a registered adapter.
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrInvalidArgument indicates a malformed caller payload, such as provider
	// attributes without a user id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRateLimited indicates a temporary lock due to repeated failures.
	ErrRateLimited = errors.New("rate limited")
)
