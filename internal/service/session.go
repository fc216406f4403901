// Package service contains application services for identity reconciliation
// and the session token lifecycle.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/limiter"
	"github.com/and161185/linkgate/internal/metrics"
	"github.com/and161185/linkgate/internal/model"
	"github.com/and161185/linkgate/internal/provider"
	"github.com/and161185/linkgate/internal/repository"
	"github.com/and161185/linkgate/internal/revocation"
)

// withdrawWriteTimeout bounds the soft delete and denylist write that follow
// provider unlink.
const withdrawWriteTimeout = 10 * time.Second

// TokenIssuer creates and inspects service-local tokens.
type TokenIssuer interface {
	CreateAccessToken(p model.Principal) (string, time.Time, error)
	CreateRefreshToken() (string, time.Time, error)
	ValidateRefreshToken(tok string) bool
	RemainingTime(tok string) time.Duration
	ParsePrincipal(tok string) (model.Principal, error)
}

// Unlinker revokes provider-side authorization. It never reports failure.
type Unlinker interface {
	Unlink(ctx context.Context, provider, providerID, accessToken, refreshToken string)
}

// LoginRequest is a completed provider handshake.
type LoginRequest struct {
	Provider   string
	Attributes map[string]any
	Tokens     model.ProviderTokens
}

// LoginResult is what the caller needs to finish the browser redirect.
type LoginResult struct {
	Account     *model.Account
	Tokens      model.TokenPair
	Attributes  map[string]any // raw provider attributes for the session principal
	RedirectURL string
}

// SessionService defines login completion and token lifecycle operations.
type SessionService interface {
	// Login reconciles the provider identity and issues a fresh token pair.
	Login(ctx context.Context, req LoginRequest) (LoginResult, error)
	// Authenticate turns an access token into a principal, rejecting revoked tokens.
	Authenticate(ctx context.Context, accessToken string) (model.Principal, error)
	// Reissue rotates the refresh token and issues a new pair.
	Reissue(ctx context.Context, accessToken, refreshToken string) (model.TokenPair, error)
	// ReissueFrom is Reissue with failed attempts throttled per client address.
	ReissueFrom(ctx context.Context, clientAddr, accessToken, refreshToken string) (model.TokenPair, error)
	// Logout clears the stored refresh token and revokes the presented access token.
	Logout(ctx context.Context, p *model.Principal, accessToken string) error
	// Withdraw unlinks the provider, soft-deletes the account and revokes the access token.
	Withdraw(ctx context.Context, p *model.Principal, accessToken string) error
}

// SessionDeps groups SessionServiceImpl collaborators.
type SessionDeps struct {
	Accounts    repository.AccountRepository
	Providers   *provider.Registry
	Reconciler  *Reconciler
	Tokens      TokenIssuer
	Revoked     revocation.Store
	Unlinker    Unlinker
	Limiter     limiter.Limiter // optional
	CallbackURL string
	Log         *zap.Logger
	Metrics     *metrics.Metrics
}

type SessionServiceImpl struct {
	accounts    repository.AccountRepository
	providers   *provider.Registry
	reconciler  *Reconciler
	tokens      TokenIssuer
	revoked     revocation.Store
	unlinker    Unlinker
	lim         limiter.Limiter
	callbackURL string
	log         *zap.Logger
	metrics     *metrics.Metrics
}

// NewSessionService constructs SessionService with required dependencies.
func NewSessionService(d SessionDeps) *SessionServiceImpl {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Providers == nil {
		d.Providers = provider.Default()
	}
	if d.Reconciler == nil {
		d.Reconciler = NewReconciler(d.Accounts, d.Log, d.Metrics)
	}
	return &SessionServiceImpl{
		accounts:    d.Accounts,
		providers:   d.Providers,
		reconciler:  d.Reconciler,
		tokens:      d.Tokens,
		revoked:     d.Revoked,
		unlinker:    d.Unlinker,
		lim:         d.Limiter,
		callbackURL: d.CallbackURL,
		log:         d.Log,
		metrics:     d.Metrics,
	}
}

// Login normalizes the provider payload, reconciles the account and stores the
// new refresh token before returning the pair.
func (s *SessionServiceImpl) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	ident, err := s.providers.Normalize(req.Provider, req.Attributes)
	if err != nil {
		s.metrics.Session("login", "rejected")
		return LoginResult{}, err
	}
	acc, err := s.reconciler.Reconcile(ctx, ident, req.Tokens)
	if err != nil {
		s.metrics.Session("login", "error")
		return LoginResult{}, err
	}

	pair, refreshExp, err := s.issuePair(acc.Principal())
	if err != nil {
		s.metrics.Session("login", "error")
		return LoginResult{}, err
	}
	if err := s.accounts.SetRefreshToken(ctx, acc.ID, pair.RefreshToken, refreshExp); err != nil {
		s.metrics.Session("login", "error")
		return LoginResult{}, fmt.Errorf("login: store refresh token: %w", err)
	}

	redirect, err := RedirectURL(s.callbackURL, pair)
	if err != nil {
		s.metrics.Session("login", "error")
		return LoginResult{}, err
	}

	s.metrics.Session("login", "ok")
	s.log.Info("login completed",
		zap.Int64("account_id", acc.ID),
		zap.String("username", acc.Username),
	)
	return LoginResult{Account: acc, Tokens: pair, Attributes: ident.Attributes, RedirectURL: redirect}, nil
}

// Authenticate validates accessToken and checks it against the denylist.
func (s *SessionServiceImpl) Authenticate(ctx context.Context, accessToken string) (model.Principal, error) {
	p, err := s.tokens.ParsePrincipal(accessToken)
	if err != nil {
		return model.Principal{}, err
	}
	revoked, err := s.revoked.Contains(ctx, accessToken)
	if err != nil {
		return model.Principal{}, fmt.Errorf("authenticate: revocation lookup: %w", err)
	}
	if revoked {
		return model.Principal{}, fmt.Errorf("%w: access token revoked", errs.ErrUnauthorized)
	}
	return p, nil
}

// Reissue exchanges a live refresh token for a new pair. The presented refresh
// token is consumed: a second use, or a use racing a winning rotation, fails
// with ErrTokenNotFound.
func (s *SessionServiceImpl) Reissue(ctx context.Context, accessToken, refreshToken string) (model.TokenPair, error) {
	pair, err := s.reissue(ctx, accessToken, refreshToken)
	if err != nil {
		s.metrics.Session("reissue", resultOf(err))
		return model.TokenPair{}, err
	}
	s.metrics.Session("reissue", "ok")
	return pair, nil
}

func (s *SessionServiceImpl) reissue(ctx context.Context, accessToken, refreshToken string) (model.TokenPair, error) {
	if accessToken != "" {
		revoked, err := s.revoked.Contains(ctx, accessToken)
		if err != nil {
			return model.TokenPair{}, fmt.Errorf("reissue: revocation lookup: %w", err)
		}
		if revoked {
			return model.TokenPair{}, fmt.Errorf("%w: access token revoked", errs.ErrUnauthorized)
		}
	}

	if !s.tokens.ValidateRefreshToken(refreshToken) {
		return model.TokenPair{}, errs.ErrInvalidToken
	}

	acc, err := s.accounts.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.TokenPair{}, errs.ErrTokenNotFound
		}
		return model.TokenPair{}, fmt.Errorf("reissue: lookup: %w", err)
	}

	pair, refreshExp, err := s.issuePair(acc.Principal())
	if err != nil {
		return model.TokenPair{}, err
	}
	if err := s.accounts.RotateRefreshToken(ctx, acc.ID, refreshToken, pair.RefreshToken, refreshExp); err != nil {
		if errors.Is(err, errs.ErrVersionConflict) || errors.Is(err, errs.ErrNotFound) {
			return model.TokenPair{}, errs.ErrTokenNotFound
		}
		return model.TokenPair{}, fmt.Errorf("reissue: rotate: %w", err)
	}
	return pair, nil
}

// Logout forgets the account's refresh token and denylists accessToken for the
// rest of its natural lifetime.
func (s *SessionServiceImpl) Logout(ctx context.Context, p *model.Principal, accessToken string) error {
	if p == nil {
		s.metrics.Session("logout", "unauthorized")
		return fmt.Errorf("%w: login required", errs.ErrUnauthorized)
	}

	if err := s.accounts.SetRefreshToken(ctx, p.AccountID, "", time.Time{}); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.metrics.Session("logout", "unauthorized")
			return fmt.Errorf("%w: account is gone", errs.ErrUnauthorized)
		}
		s.metrics.Session("logout", "error")
		return fmt.Errorf("logout: clear refresh token: %w", err)
	}

	if accessToken != "" {
		s.blacklist(ctx, accessToken, model.ReasonLogout)
	}

	s.metrics.Session("logout", "ok")
	s.log.Info("logout completed", zap.Int64("account_id", p.AccountID), zap.String("username", p.Username))
	return nil
}

// Withdraw runs best-effort provider unlink, then soft-deletes the account.
// Neither the unlink outcome nor the caller's deadline affects deletion once
// the account is loaded; the Unlinker bounds its own provider calls.
func (s *SessionServiceImpl) Withdraw(ctx context.Context, p *model.Principal, accessToken string) error {
	if p == nil {
		s.metrics.Session("withdraw", "unauthorized")
		return fmt.Errorf("%w: login required", errs.ErrUnauthorized)
	}

	// the principal is a token projection without provider credentials
	acc, err := s.accounts.FindByID(ctx, p.AccountID)
	if err != nil {
		s.metrics.Session("withdraw", resultOf(err))
		return fmt.Errorf("withdraw: load account %d: %w", p.AccountID, err)
	}

	s.log.Info("withdraw started",
		zap.Int64("account_id", acc.ID),
		zap.String("username", acc.Username),
		zap.String("provider", acc.Provider),
	)

	// From here on the caller's deadline no longer applies: a client giving up
	// while a provider is slow must not leave the account active.
	detached := context.WithoutCancel(ctx)
	if s.unlinker != nil {
		s.unlinker.Unlink(detached, acc.Provider, acc.ProviderID, acc.ProviderAccessToken, acc.ProviderRefreshToken)
	}

	wctx, cancel := context.WithTimeout(detached, withdrawWriteTimeout)
	defer cancel()
	if err := s.accounts.SoftDelete(wctx, acc.ID); err != nil {
		s.metrics.Session("withdraw", resultOf(err))
		return fmt.Errorf("withdraw: soft delete: %w", err)
	}

	if accessToken != "" {
		s.blacklist(wctx, accessToken, model.ReasonWithdraw)
	}

	s.metrics.Session("withdraw", "ok")
	s.log.Info("withdraw completed", zap.Int64("account_id", acc.ID))
	return nil
}

// blacklist denylists tok until it would expire anyway. Already expired tokens
// are skipped; a store failure is logged and tolerated because the token still
// expires on its own.
func (s *SessionServiceImpl) blacklist(ctx context.Context, tok, reason string) {
	ttl := s.tokens.RemainingTime(tok)
	if ttl <= 0 {
		s.metrics.Revocation(reason, "skipped")
		return
	}
	if err := s.revoked.Put(ctx, tok, reason, ttl); err != nil {
		s.metrics.Revocation(reason, "failed")
		s.log.Warn("access token revocation failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	s.metrics.Revocation(reason, "stored")
	s.log.Info("access token revoked", zap.String("reason", reason), zap.Duration("ttl", ttl))
}

func (s *SessionServiceImpl) issuePair(p model.Principal) (model.TokenPair, time.Time, error) {
	access, exp, err := s.tokens.CreateAccessToken(p)
	if err != nil {
		return model.TokenPair{}, time.Time{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.tokens.CreateRefreshToken()
	if err != nil {
		return model.TokenPair{}, time.Time{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return model.TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresAt: exp}, refreshExp, nil
}

// RedirectURL appends the token pair to the configured callback as query parameters.
func RedirectURL(callback string, pair model.TokenPair) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("callback url: %w", err)
	}
	q := u.Query()
	q.Set("accessToken", pair.AccessToken)
	q.Set("refreshToken", pair.RefreshToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func resultOf(err error) string {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, errs.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, errs.ErrTokenNotFound), errors.Is(err, errs.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
