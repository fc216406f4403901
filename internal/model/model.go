// Package model defines domain entities used by services and repositories.
package model

import (
	"strconv"
	"time"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive  AccountStatus = "ACTIVE"
	StatusDeleted AccountStatus = "DELETED"
)

// Role is the authorization tier embedded into access tokens.
type Role string

const (
	RoleUser  Role = "ROLE_USER"
	RoleAdmin Role = "ROLE_ADMIN"
)

// Revocation reasons stored as blacklist values.
const (
	ReasonLogout   = "logout"
	ReasonWithdraw = "withdraw"
)

// Account is the internal identity record reconciled from an external provider.
// Empty strings stand for NULL columns.
type Account struct {
	ID                   int64         // PK (BIGSERIAL)
	Username             string        // "provider:providerID", unique
	DisplayName          string        // user-visible name
	Email                string        // optional
	Provider             string        // google, naver, kakao, facebook
	ProviderID           string        // provider-scoped id; (Provider, ProviderID) unique across all statuses
	Role                 Role          // authorization tier
	Status               AccountStatus // ACTIVE | DELETED
	DeletedAt            *time.Time    // set iff Status == DELETED
	RefreshTokenDigest   []byte        // digest of the service refresh token, nil when none
	ProviderAccessToken  string        // provider credential, used only for unlink
	ProviderRefreshToken string        // provider credential, used only for unlink
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Active reports whether the account is visible to default lookups.
func (a *Account) Active() bool { return a.Status == StatusActive }

// Principal projects the account into the identity carried by access tokens.
func (a *Account) Principal() Principal {
	return Principal{AccountID: a.ID, Username: a.Username, Role: a.Role}
}

// UsernameFor synthesizes the globally unique username of a provider identity.
func UsernameFor(provider, providerID string) string {
	return provider + ":" + providerID
}

// NormalizedIdentity is a provider payload mapped onto a uniform shape.
type NormalizedIdentity struct {
	Provider    string
	ProviderID  string
	DisplayName string
	Email       string         // empty when the provider withheld it
	Attributes  map[string]any // raw payload, handed back to the caller untouched
}

// ProviderTokens are the credentials returned by the provider during login.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string // providers do not always reissue one
}

// TokenPair collects issued access/refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// Principal is the minimal authenticated identity derived from an access token.
type Principal struct {
	AccountID int64
	Username  string
	Role      Role
}

// Subject renders the account id as a JWT subject.
func (p Principal) Subject() string { return strconv.FormatInt(p.AccountID, 10) }
