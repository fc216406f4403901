package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
	grpcserver "github.com/and161185/linkgate/internal/server/grpc"
	"github.com/and161185/linkgate/internal/service"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "linkgate")
}

func TestSessionStore(t *testing.T) {
	base := withTmpConfig(t)
	require.Equal(t, base, cfgDir())

	_, err := loadSession()
	require.ErrorContains(t, err, "login first")

	want := session{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute).UTC().Truncate(time.Second)}
	require.NoError(t, saveSession(want))
	got, err := loadSession()
	require.NoError(t, err)
	require.Equal(t, want, got)

	fi, err := os.Stat(sessionPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	require.NoError(t, clearSession())
	require.NoError(t, clearSession())
	_, err = loadSession()
	require.Error(t, err)
}

func TestReadAllFileAndStdin(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "attrs.json")
	require.NoError(t, os.WriteFile(tmp, []byte(`{"sub":"1"}`), 0o600))
	b, err := readAll(tmp)
	require.NoError(t, err)
	require.Equal(t, `{"sub":"1"}`, string(b))

	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	require.NoError(t, err)
	require.Equal(t, "from-stdin", string(b))
}

// stubSessions issues JWT-shaped access tokens so whoami can decode them.
type stubSessions struct {
	mu      sync.Mutex
	n       int
	live    map[string]model.Principal // access token -> principal
	refresh map[string]model.Principal // refresh token -> principal
	ended   []string
}

func newStub() *stubSessions {
	return &stubSessions{live: map[string]model.Principal{}, refresh: map[string]model.Principal{}}
}

func (s *stubSessions) pair(p model.Principal) model.TokenPair {
	s.n++
	at, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": fmt.Sprint(p.AccountID), "username": p.Username, "role": string(p.Role), "n": s.n,
	}).SignedString([]byte("k"))
	rt := fmt.Sprintf("rt-%d", s.n)
	s.live[at], s.refresh[rt] = p, p
	return model.TokenPair{AccessToken: at, RefreshToken: rt, ExpiresAt: time.Now().Add(time.Hour)}
}

func (s *stubSessions) Login(_ context.Context, req service.LoginRequest) (service.LoginResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := model.Principal{AccountID: 1, Username: req.Provider + ":" + fmt.Sprint(req.Attributes["sub"]), Role: model.RoleUser}
	return service.LoginResult{
		Account: &model.Account{ID: 1, Username: p.Username},
		Tokens:  s.pair(p),
	}, nil
}

func (s *stubSessions) Authenticate(_ context.Context, tok string) (model.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.live[tok]
	if !ok {
		return model.Principal{}, errs.ErrInvalidToken
	}
	return p, nil
}

func (s *stubSessions) Reissue(ctx context.Context, at, rt string) (model.TokenPair, error) {
	return s.ReissueFrom(ctx, "", at, rt)
}

func (s *stubSessions) ReissueFrom(_ context.Context, _, _, rt string) (model.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.refresh[rt]
	if !ok {
		return model.TokenPair{}, errs.ErrTokenNotFound
	}
	delete(s.refresh, rt)
	return s.pair(p), nil
}

func (s *stubSessions) end(op string, p *model.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		return errs.ErrUnauthorized
	}
	s.ended = append(s.ended, op)
	return nil
}

func (s *stubSessions) Logout(_ context.Context, p *model.Principal, _ string) error {
	return s.end("logout", p)
}

func (s *stubSessions) Withdraw(_ context.Context, p *model.Principal, _ string) error {
	return s.end("withdraw", p)
}

func startServer(t *testing.T, stub *stubSessions) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv, _ := grpcserver.NewGRPCServer(stub, zaptest.NewLogger(t), grpcserver.Options{EdgeSecret: edgeSecret})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

const edgeSecret = "cli-edge-0123456789abcdef01234567"

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(append([]string{"--plaintext", "--addr", addr, "--timeout", "5s"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCommands_SessionLifecycle(t *testing.T) {
	withTmpConfig(t)
	stub := newStub()
	addr := startServer(t, stub)

	attrs := filepath.Join(t.TempDir(), "attrs.json")
	require.NoError(t, os.WriteFile(attrs, []byte(`{"sub":"g123","name":"Kim"}`), 0o600))

	out, err := run(t, addr, "login", "--provider", "google", "--attributes", attrs, "--edge-key", edgeSecret)
	require.NoError(t, err)
	var login map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &login))
	require.Equal(t, "google:g123", login["username"])

	first, err := loadSession()
	require.NoError(t, err)

	out, err = run(t, addr, "whoami")
	require.NoError(t, err)
	require.Contains(t, out, `"username": "google:g123"`)

	_, err = run(t, addr, "reissue")
	require.NoError(t, err)
	second, err := loadSession()
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// a spent refresh token is rejected
	require.NoError(t, saveSession(first))
	_, err = run(t, addr, "reissue")
	require.Equal(t, codes.NotFound, status.Code(err))
	require.NoError(t, saveSession(second))

	_, err = run(t, addr, "logout")
	require.NoError(t, err)
	_, err = loadSession()
	require.Error(t, err)
	require.Equal(t, []string{"logout"}, stub.ended)
}

func TestCommands_WithdrawNeedsValidToken(t *testing.T) {
	withTmpConfig(t)
	addr := startServer(t, newStub())

	_, err := run(t, addr, "withdraw")
	require.ErrorContains(t, err, "login first")

	require.NoError(t, saveSession(session{AccessToken: "forged", RefreshToken: "rt-x", ExpiresAt: time.Now().Add(time.Hour)}))
	_, err = run(t, addr, "withdraw")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = loadSession()
	require.NoError(t, err, "a failed withdraw keeps the stored session")
}

func TestCommands_LoginNeedsEdgeKey(t *testing.T) {
	withTmpConfig(t)
	t.Setenv("LINKGATE_EDGE_SECRET", "")
	addr := startServer(t, newStub())

	attrs := filepath.Join(t.TempDir(), "attrs.json")
	require.NoError(t, os.WriteFile(attrs, []byte(`{"sub":"g123"}`), 0o600))

	_, err := run(t, addr, "login", "--provider", "google", "--attributes", attrs)
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = run(t, addr, "login", "--provider", "google", "--attributes", attrs, "--edge-key", "wrong")
	require.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = loadSession()
	require.Error(t, err, "a rejected login stores nothing")
}

func TestCommands_LoginRequiresProvider(t *testing.T) {
	withTmpConfig(t)
	_, err := run(t, "127.0.0.1:1", "login")
	require.ErrorContains(t, err, "provider")
}
