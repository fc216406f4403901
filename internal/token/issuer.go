// Package token issues and inspects service-local credentials: short-lived
// HS256 access JWTs and opaque, store-backed refresh tokens.
package token

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/linkgate/internal/crypto"
	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
)

// refreshTokenBytes is the entropy of a refresh token before encoding.
const refreshTokenBytes = 32

// Claims are embedded into access tokens.
type Claims struct {
	Username string     `json:"username,omitempty"`
	Role     model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Config parameterizes an Issuer.
type Config struct {
	Secret     []byte           // HS256 key, process-wide
	Issuer     string           // "iss"; not checked when empty
	AccessTTL  time.Duration    // minutes
	RefreshTTL time.Duration    // days
	Now        func() time.Time // defaults to time.Now
}

// Issuer creates and validates tokens. It is a pure function of its secret and clock.
type Issuer struct {
	secret     []byte
	iss        string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer constructs an Issuer. Zero TTLs fall back to 30 minutes and 14 days.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token: empty signing secret")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 30 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 14 * 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{
		secret:     append([]byte(nil), cfg.Secret...),
		iss:        cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (i *Issuer) AccessTTL() time.Duration { return i.accessTTL }

// CreateAccessToken signs an access token carrying the principal's id and role.
func (i *Issuer) CreateAccessToken(p model.Principal) (string, time.Time, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", time.Time{}, err
	}
	now := i.now()
	exp := now.Add(i.accessTTL)
	claims := Claims{
		Username: p.Username,
		Role:     p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.iss,
			Subject:   p.Subject(),
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// CreateRefreshToken returns a random opaque token and the expiry the store
// should enforce. It carries no claims and cannot be verified offline.
func (i *Issuer) CreateRefreshToken() (string, time.Time, error) {
	tok, err := crypto.RandToken(refreshTokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, i.now().Add(i.refreshTTL), nil
}

// ValidateToken reports whether tok is a well-signed, unexpired access token.
func (i *Issuer) ValidateToken(tok string) bool {
	_, err := i.parse(tok, true)
	return err == nil
}

// ValidateRefreshToken checks the shape of an opaque refresh token. Whether it
// is still live is decided by the account store alone.
func (i *Issuer) ValidateRefreshToken(tok string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(tok)
	return err == nil && len(raw) == refreshTokenBytes
}

// RemainingTime returns exp minus now. It is non-positive for expired,
// malformed or foreign tokens.
func (i *Issuer) RemainingTime(tok string) time.Duration {
	c, err := i.parse(tok, false)
	if err != nil || c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(i.now())
}

// ParsePrincipal validates an access token and returns the identity it carries.
func (i *Issuer) ParsePrincipal(tok string) (model.Principal, error) {
	c, err := i.parse(tok, true)
	if err != nil {
		return model.Principal{}, fmt.Errorf("%w: %v", errs.ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return model.Principal{}, fmt.Errorf("%w: bad subject", errs.ErrInvalidToken)
	}
	return model.Principal{AccountID: id, Username: c.Username, Role: c.Role}, nil
}

func (i *Issuer) parse(tok string, validateClaims bool) (*Claims, error) {
	if tok == "" {
		return nil, errors.New("empty token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if validateClaims {
		opts = append(opts, jwt.WithExpirationRequired())
		if i.iss != "" {
			opts = append(opts, jwt.WithIssuer(i.iss))
		}
	} else {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	var c Claims
	parsed, err := jwt.ParseWithClaims(tok, &c, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return &c, nil
}
