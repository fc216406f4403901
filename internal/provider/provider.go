// Package provider maps provider-specific user attribute payloads onto model.NormalizedIdentity.
// Adapters are pure: no I/O, no persistence, no auth decisions.
package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/and161185/linkgate/internal/errs"
	"github.com/and161185/linkgate/internal/model"
)

// Provider names used as registry keys and stored in accounts.provider.
const (
	Google   = "google"
	Naver    = "naver"
	Kakao    = "kakao"
	Facebook = "facebook"
)

// UserInfo normalizes the attribute layout of a single provider.
type UserInfo interface {
	// Name returns the provider identifier (e.g. "google").
	Name() string
	// Normalize extracts id, email and display name from raw attributes.
	Normalize(attrs map[string]any) (model.NormalizedIdentity, error)
}

// Registry holds the known adapters and dispatches by provider name.
type Registry struct {
	adapters map[string]UserInfo
}

// NewRegistry registers the given adapters by name. Later entries win on duplicates.
func NewRegistry(list ...UserInfo) *Registry {
	m := make(map[string]UserInfo, len(list))
	for _, a := range list {
		m[a.Name()] = a
	}
	return &Registry{adapters: m}
}

// Default returns a registry with every built-in adapter.
func Default() *Registry {
	return NewRegistry(GoogleUserInfo{}, NaverUserInfo{}, KakaoUserInfo{}, FacebookUserInfo{})
}

// Get returns the adapter for name or ErrUnsupportedProvider.
func (r *Registry) Get(name string) (UserInfo, error) {
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedProvider, name)
	}
	return a, nil
}

// Normalize selects the adapter for provider and applies it to attrs.
func (r *Registry) Normalize(provider string, attrs map[string]any) (model.NormalizedIdentity, error) {
	a, err := r.Get(provider)
	if err != nil {
		return model.NormalizedIdentity{}, err
	}
	return a.Normalize(attrs)
}

func missingID(provider string) error {
	return fmt.Errorf("%w: %s attributes carry no user id", errs.ErrInvalidArgument, provider)
}

// nested returns attrs[key] as a map, or nil when absent or differently shaped.
func nested(attrs map[string]any, key string) map[string]any {
	if attrs == nil {
		return nil
	}
	m, _ := attrs[key].(map[string]any)
	return m
}

// str renders scalar attribute values as strings. Numeric ids arrive as
// float64 or json.Number depending on how the payload was decoded.
func str(attrs map[string]any, key string) string {
	if attrs == nil {
		return ""
	}
	switch v := attrs[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}
