package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/limiter"
	"github.com/and161185/linkgate/internal/model"
)

// ReissueFrom is Reissue guarded by the failure limiter. Only presenting a bad
// or spent refresh token counts as a failure; backend errors do not.
func (s *SessionServiceImpl) ReissueFrom(ctx context.Context, clientAddr, accessToken, refreshToken string) (model.TokenPair, error) {
	if s.lim == nil || clientAddr == "" {
		return s.Reissue(ctx, accessToken, refreshToken)
	}
	client := limiter.HashClient(clientAddr)

	allowed, _, err := s.lim.Allow(ctx, limiter.ScopeReissue, client)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("reissue: limiter: %w", err)
	}
	if !allowed {
		s.metrics.Session("reissue", "rate_limited")
		return model.TokenPair{}, errs.ErrRateLimited
	}

	pair, err := s.Reissue(ctx, accessToken, refreshToken)
	if err != nil {
		if errors.Is(err, errs.ErrInvalidToken) || errors.Is(err, errs.ErrTokenNotFound) {
			blocked, _, ferr := s.lim.Failure(ctx, limiter.ScopeReissue, client)
			if ferr != nil {
				s.log.Warn("reissue limiter failure not recorded", zap.Error(ferr))
			} else if blocked {
				s.log.Info("client blocked after repeated reissue failures")
			}
		}
		return model.TokenPair{}, err
	}

	if err := s.lim.Success(ctx, limiter.ScopeReissue, client); err != nil {
		s.log.Warn("reissue limiter reset failed", zap.Error(err))
	}
	return pair, nil
}
