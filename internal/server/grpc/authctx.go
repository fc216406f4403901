package grpcserver

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"

	"github.com/and161185/linkgate/internal/model"
)

type ctxKey string

const (
	principalKey   ctxKey = "lg.principal"
	accessTokenKey ctxKey = "lg.accessToken"
)

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx returns the authenticated caller, or nil when the request
// carried no usable access token.
func PrincipalFromCtx(ctx context.Context) *model.Principal {
	p, ok := ctx.Value(principalKey).(model.Principal)
	if !ok {
		return nil
	}
	return &p
}

// WithAccessToken stores the raw bearer token in context.
func WithAccessToken(ctx context.Context, tok string) context.Context {
	return context.WithValue(ctx, accessTokenKey, tok)
}

// AccessTokenFromCtx returns the bearer token, or "" if none was sent.
func AccessTokenFromCtx(ctx context.Context) string {
	tok, _ := ctx.Value(accessTokenKey).(string)
	return tok
}

// bearerToken extracts "authorization: Bearer <token>" from incoming metadata.
// The scheme is matched case-insensitively; anything else yields "".
func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t
			}
		}
	}
	return ""
}

// EdgeKeyHeader carries the shared secret of the trusted login edge.
const EdgeKeyHeader = "x-linkgate-edge-key"

// edgeKey returns the first edge key value in incoming metadata, or "".
func edgeKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(EdgeKeyHeader); len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}
