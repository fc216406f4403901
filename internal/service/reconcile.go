package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/metrics"
	"github.com/and161185/linkgate/internal/model"
	"github.com/and161185/linkgate/internal/repository"
)

// createAttempts bounds insert retries when concurrent first logins race on the
// (provider, provider_id) unique constraint.
const createAttempts = 2

// Reconciler maps a normalized provider identity onto exactly one internal account.
type Reconciler struct {
	accounts repository.AccountRepository
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewReconciler constructs a Reconciler.
func NewReconciler(accounts repository.AccountRepository, log *zap.Logger, m *metrics.Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{accounts: accounts, log: log, metrics: m}
}

// Reconcile finds, reactivates or creates the account for ident and returns it
// after it is committed.
//
//   - ACTIVE account: provider credentials are refreshed, the display name is kept.
//   - DELETED account: reactivated, display name and email reset from the provider.
//   - unknown identity: created as ACTIVE ROLE_USER named "provider:providerID".
func (r *Reconciler) Reconcile(ctx context.Context, ident model.NormalizedIdentity, creds model.ProviderTokens) (*model.Account, error) {
	if ident.Provider == "" || ident.ProviderID == "" {
		return nil, errors.New("reconcile: empty provider identity")
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		existing, err := r.accounts.FindByProviderIncludingDeleted(ctx, ident.Provider, ident.ProviderID)
		switch {
		case err == nil:
			return r.refresh(ctx, existing, ident, creds)
		case !errors.Is(err, errs.ErrNotFound):
			r.metrics.Reconcile(ident.Provider, "failed")
			return nil, fmt.Errorf("reconcile: lookup: %w", err)
		}

		a := &model.Account{
			Username:             model.UsernameFor(ident.Provider, ident.ProviderID),
			DisplayName:          displayName(ident),
			Email:                ident.Email,
			Provider:             ident.Provider,
			ProviderID:           ident.ProviderID,
			Role:                 model.RoleUser,
			Status:               model.StatusActive,
			ProviderAccessToken:  creds.AccessToken,
			ProviderRefreshToken: creds.RefreshToken,
		}
		err = r.accounts.Create(ctx, a)
		if err == nil {
			r.metrics.Reconcile(ident.Provider, "created")
			r.log.Info("account created",
				zap.Int64("account_id", a.ID),
				zap.String("username", a.Username),
			)
			return a, nil
		}
		if !errors.Is(err, errs.ErrAlreadyExists) {
			r.metrics.Reconcile(ident.Provider, "failed")
			return nil, fmt.Errorf("reconcile: create: %w", err)
		}
		r.log.Info("concurrent first login, retrying as lookup",
			zap.String("provider", ident.Provider),
			zap.Int("attempt", attempt+1),
		)
	}

	r.metrics.Reconcile(ident.Provider, "failed")
	return nil, fmt.Errorf("reconcile: %s: %w", model.UsernameFor(ident.Provider, ident.ProviderID), errs.ErrVersionConflict)
}

func (r *Reconciler) refresh(ctx context.Context, a *model.Account, ident model.NormalizedIdentity, creds model.ProviderTokens) (*model.Account, error) {
	if creds.AccessToken != "" {
		a.ProviderAccessToken = creds.AccessToken
	}
	// providers do not reissue a refresh token on every login
	if creds.RefreshToken != "" {
		a.ProviderRefreshToken = creds.RefreshToken
	}

	outcome := "updated"
	if a.Status == model.StatusDeleted {
		a.Status = model.StatusActive
		a.DeletedAt = nil
		a.DisplayName = displayName(ident)
		if ident.Email != "" {
			a.Email = ident.Email
		}
		outcome = "reactivated"
	}

	if err := r.accounts.Save(ctx, a); err != nil {
		r.metrics.Reconcile(ident.Provider, "failed")
		return nil, fmt.Errorf("reconcile: save: %w", err)
	}
	r.metrics.Reconcile(ident.Provider, outcome)
	if outcome == "reactivated" {
		r.log.Info("account reactivated",
			zap.Int64("account_id", a.ID),
			zap.String("username", a.Username),
		)
	}
	return a, nil
}

func displayName(ident model.NormalizedIdentity) string {
	if ident.DisplayName != "" {
		return ident.DisplayName
	}
	return model.UsernameFor(ident.Provider, ident.ProviderID)
}
