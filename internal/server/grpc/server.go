// Package grpcserver exposes the linkgate session API over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
	"github.com/and161185/linkgate/internal/service"
)

// Server wires the session service into gRPC handlers.
type Server struct {
	sessions service.SessionService
	log      *zap.Logger
}

var _ SessionServer = (*Server)(nil)

// New constructs the handler set.
func New(sessions service.SessionService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sessions: sessions, log: log}
}

// Options tunes NewGRPCServer.
type Options struct {
	Dev        bool   // registers reflection
	EdgeSecret string // required by Login callers, see EdgeUnary
}

// NewGRPCServer builds a grpc.Server with the interceptor chain, the session
// service and the health service registered.
func NewGRPCServer(sessions service.SessionService, log *zap.Logger, o Options, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if log == nil {
		log = zap.NewNop()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		AuthUnary(sessions, log),
		LoggingUnary(log),
		EdgeUnary(o.EdgeSecret, log),
	))
	s := grpc.NewServer(opts...)
	RegisterSessionServer(s, New(sessions, log))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	if o.Dev {
		reflection.Register(s)
	}
	return s, hs
}

// Login completes a provider handshake performed by the edge. The request
// carries {"provider", "attributes", "accessToken", "refreshToken"} where the
// tokens are the provider's own credentials. EdgeUnary guards it.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["provider"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "empty provider")
	}
	attrs := fields["attributes"].GetStructValue().AsMap()
	if len(attrs) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty attributes")
	}

	res, err := s.sessions.Login(ctx, service.LoginRequest{
		Provider:   name,
		Attributes: attrs,
		Tokens: model.ProviderTokens{
			AccessToken:  fields["accessToken"].GetStringValue(),
			RefreshToken: fields["refreshToken"].GetStringValue(),
		},
	})
	if err != nil {
		return nil, s.toStatus(ctx, "login", err)
	}

	out, err := pairStruct(res.Tokens, map[string]any{
		"accountId":   res.Account.ID,
		"username":    res.Account.Username,
		"redirectUrl": res.RedirectURL,
	})
	if err != nil {
		return nil, s.toStatus(ctx, "login", err)
	}
	return out, nil
}

// Reissue exchanges the refresh token in the request for a new pair. The
// current access token, if sent, is checked against the denylist.
func (s *Server) Reissue(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.Unauthenticated, "invalid refresh token")
	}
	pair, err := s.sessions.ReissueFrom(ctx, clientHost(ctx), AccessTokenFromCtx(ctx), req.GetValue())
	if err != nil {
		return nil, s.toStatus(ctx, "reissue", err)
	}
	out, err := pairStruct(pair, nil)
	if err != nil {
		return nil, s.toStatus(ctx, "reissue", err)
	}
	return out, nil
}

// Logout ends the caller's session.
func (s *Server) Logout(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.sessions.Logout(ctx, PrincipalFromCtx(ctx), AccessTokenFromCtx(ctx)); err != nil {
		return nil, s.toStatus(ctx, "logout", err)
	}
	return &emptypb.Empty{}, nil
}

// Withdraw deletes the caller's account.
func (s *Server) Withdraw(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.sessions.Withdraw(ctx, PrincipalFromCtx(ctx), AccessTokenFromCtx(ctx)); err != nil {
		return nil, s.toStatus(ctx, "withdraw", err)
	}
	return &emptypb.Empty{}, nil
}

// toStatus maps service errors to gRPC codes. Unexpected errors are logged
// and reported with a fixed message.
func (s *Server) toStatus(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrInvalidToken):
		return status.Error(codes.Unauthenticated, "invalid refresh token")
	case errors.Is(err, errs.ErrTokenNotFound):
		return status.Error(codes.NotFound, "refresh token not found")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "account not found")
	case errors.Is(err, errs.ErrUnsupportedProvider):
		return status.Error(codes.InvalidArgument, "unsupported provider")
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, "invalid provider attributes")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	default:
		s.log.Error(op+" failed", zap.String("peer", remoteAddr(ctx)), zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
}

func pairStruct(pair model.TokenPair, extra map[string]any) (*structpb.Struct, error) {
	m := map[string]any{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresAt":    pair.ExpiresAt.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		m[k] = v
	}
	return structpb.NewStruct(m)
}

// clientHost is the peer address without its port, so reconnects from one
// host share limiter counters.
func clientHost(ctx context.Context) string {
	addr := remoteAddr(ctx)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
