// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/and161185/linkgate/internal/model"
)

// AccountRepository persists accounts. Default lookups only see ACTIVE rows;
// FindByProviderIncludingDeleted is the single path that bypasses that filter.
// Absence is reported as errs.ErrNotFound.
type AccountRepository interface {
	// FindByProviderIncludingDeleted loads an account by provider identity regardless of status.
	FindByProviderIncludingDeleted(ctx context.Context, provider, providerID string) (*model.Account, error)
	// FindByID loads an ACTIVE account by ID.
	FindByID(ctx context.Context, id int64) (*model.Account, error)
	// FindByRefreshToken loads the ACTIVE account currently holding an unexpired refresh token.
	FindByRefreshToken(ctx context.Context, token string) (*model.Account, error)
	// Create inserts a new account and fills its ID; errs.ErrAlreadyExists on identity conflict.
	Create(ctx context.Context, a *model.Account) error
	// Save writes profile, status and provider credentials of an existing account.
	Save(ctx context.Context, a *model.Account) error
	// SetRefreshToken stores the account's refresh token; an empty token clears it.
	SetRefreshToken(ctx context.Context, id int64, token string, expiresAt time.Time) error
	// RotateRefreshToken replaces oldToken with newToken only if oldToken is still
	// the stored one; errs.ErrVersionConflict otherwise.
	RotateRefreshToken(ctx context.Context, id int64, oldToken, newToken string, expiresAt time.Time) error
	// SoftDelete marks the account DELETED, stamps deleted_at and clears every token.
	SoftDelete(ctx context.Context, id int64) error
}
