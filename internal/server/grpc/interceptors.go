package grpcserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
)

// Authenticator resolves an access token to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (model.Principal, error)
}

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, never payloads or tokens
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remoteAddr(ctx)),
		}
		if p := PrincipalFromCtx(ctx); p != nil {
			fields = append(fields, zap.Int64("account_id", p.AccountID))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// AuthUnary puts the bearer token and, when it authenticates, the principal
// into the request context. Invalid or revoked tokens leave the request
// anonymous so handlers decide whether that is acceptable. A revocation
// backend failure aborts the call.
func AuthUnary(auth Authenticator, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		tok := bearerToken(ctx)
		if tok == "" {
			return next(ctx, req)
		}
		ctx = WithAccessToken(ctx, tok)

		p, err := auth.Authenticate(ctx, tok)
		switch {
		case err == nil:
			ctx = WithPrincipal(ctx, p)
		case errors.Is(err, errs.ErrInvalidToken), errors.Is(err, errs.ErrUnauthorized):
		default:
			log.Error("authenticate", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Internal, "internal")
		}
		return next(ctx, req)
	}
}

// EdgeUnary admits Login only from callers presenting the edge secret in
// EdgeKeyHeader. Login attributes are trusted as provider-verified, so an
// anonymous caller must never reach it. An empty secret closes Login entirely.
// Other methods pass through.
func EdgeUnary(secret string, log *zap.Logger) grpc.UnaryServerInterceptor {
	want := blake2b.Sum256([]byte(secret))
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if info.FullMethod != SessionLoginFullMethod {
			return next(ctx, req)
		}
		key := edgeKey(ctx)
		if key == "" {
			log.Warn("login without edge key", zap.String("peer", remoteAddr(ctx)))
			return nil, status.Error(codes.Unauthenticated, "edge key required")
		}
		got := blake2b.Sum256([]byte(key))
		if secret == "" || subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			log.Warn("login with wrong edge key", zap.String("peer", remoteAddr(ctx)))
			return nil, status.Error(codes.PermissionDenied, "login is restricted to the edge")
		}
		return next(ctx, req)
	}
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}
