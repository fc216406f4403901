// Package unlink revokes this application's authorization at the identity
// provider when an account is withdrawn. It is best effort: failures are
// logged and counted, never returned.
package unlink

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/and161185/linkgate/internal/metrics"
	"github.com/and161185/linkgate/internal/provider"
)

const defaultTimeout = 5 * time.Second

// Credentials are the OAuth2 client registration for one provider.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Endpoints locate a provider's token and revocation endpoints.
type Endpoints struct {
	TokenURL  string // refresh grant; empty disables refresh
	RevokeURL string // for facebook, the Graph API base URL
}

// DefaultEndpoints are the production endpoints per provider.
var DefaultEndpoints = map[string]Endpoints{
	provider.Google:   {TokenURL: "https://oauth2.googleapis.com/token", RevokeURL: "https://oauth2.googleapis.com/revoke"},
	provider.Naver:    {TokenURL: "https://nid.naver.com/oauth2.0/token", RevokeURL: "https://nid.naver.com/oauth2.0/token"},
	provider.Kakao:    {TokenURL: "https://kauth.kakao.com/oauth/token", RevokeURL: "https://kapi.kakao.com/v1/user/unlink"},
	provider.Facebook: {RevokeURL: "https://graph.facebook.com"},
}

// Config parameterizes an Orchestrator.
type Config struct {
	Credentials map[string]Credentials
	Endpoints   map[string]Endpoints // merged over DefaultEndpoints
	Timeout     time.Duration        // bounds refresh and revoke together
	HTTPClient  *http.Client
}

// Orchestrator refreshes the provider access token when possible and then
// calls the provider's revoke endpoint.
type Orchestrator struct {
	creds     map[string]Credentials
	endpoints map[string]Endpoints
	timeout   time.Duration
	client    *http.Client
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// New constructs an Orchestrator.
func New(cfg Config, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	eps := make(map[string]Endpoints, len(DefaultEndpoints))
	for k, v := range DefaultEndpoints {
		eps[k] = v
	}
	for k, v := range cfg.Endpoints {
		eps[k] = v
	}
	creds := make(map[string]Credentials, len(cfg.Credentials))
	for k, v := range cfg.Credentials {
		creds[strings.ToLower(k)] = v
	}
	return &Orchestrator{
		creds:     creds,
		endpoints: eps,
		timeout:   cfg.Timeout,
		client:    cfg.HTTPClient,
		log:       log,
		metrics:   m,
	}
}

// Unlink revokes the grant for (provider, providerID). A failed refresh falls
// back to accessToken; an unknown provider is logged and skipped.
func (o *Orchestrator) Unlink(ctx context.Context, providerName, providerID, accessToken, refreshToken string) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	log := o.log.With(zap.String("provider", name))

	defer func() {
		if r := recover(); r != nil {
			o.metrics.Unlink(name, "revoke", "panic")
			log.Error("unlink panicked", zap.Any("reason", r))
		}
	}()

	ep, ok := o.endpoints[name]
	if !ok {
		o.metrics.Unlink(name, "revoke", "unsupported")
		log.Warn("unlink skipped: unsupported provider")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	token := accessToken
	if refreshToken != "" && ep.TokenURL != "" {
		fresh, err := o.refresh(ctx, name, ep, refreshToken)
		switch {
		case err != nil:
			o.metrics.Unlink(name, "refresh", "failed")
			log.Warn("provider token refresh failed, using stored access token", zap.Error(err))
		case fresh != "":
			o.metrics.Unlink(name, "refresh", "ok")
			token = fresh
		}
	}

	if token == "" {
		o.metrics.Unlink(name, "revoke", "skipped")
		log.Warn("unlink skipped: no provider access token")
		return
	}

	if err := o.revoke(ctx, name, ep, providerID, token); err != nil {
		o.metrics.Unlink(name, "revoke", "failed")
		log.Error("provider unlink failed", zap.Error(err))
		return
	}
	o.metrics.Unlink(name, "revoke", "ok")
	log.Info("provider unlink completed")
}

func (o *Orchestrator) refresh(ctx context.Context, name string, ep Endpoints, refreshToken string) (string, error) {
	c := o.creds[name]
	conf := oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  ep.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (o *Orchestrator) revoke(ctx context.Context, name string, ep Endpoints, providerID, token string) error {
	req, err := o.revokeRequest(ctx, name, ep, providerID, token)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("revoke: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (o *Orchestrator) revokeRequest(ctx context.Context, name string, ep Endpoints, providerID, token string) (*http.Request, error) {
	switch name {
	case provider.Google:
		u, err := withQuery(ep.RevokeURL, url.Values{"token": {token}})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil

	case provider.Naver:
		c := o.creds[name]
		u, err := withQuery(ep.RevokeURL, url.Values{
			"grant_type":       {"delete"},
			"client_id":        {c.ClientID},
			"client_secret":    {c.ClientSecret},
			"access_token":     {token},
			"service_provider": {"NAVER"},
		})
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodPost, u, nil)

	case provider.Kakao:
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.RevokeURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil

	case provider.Facebook:
		if providerID == "" {
			return nil, fmt.Errorf("revoke: empty facebook user id")
		}
		base := strings.TrimRight(ep.RevokeURL, "/") + "/" + url.PathEscape(providerID) + "/permissions"
		u, err := withQuery(base, url.Values{"access_token": {token}})
		if err != nil {
			return nil, err
		}
		return http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)

	default:
		return nil, fmt.Errorf("revoke: no request shape for %q", name)
	}
}

func withQuery(raw string, v url.Values) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, vs := range v {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
