package provider

import "github.com/and161185/linkgate/internal/model"

// GoogleUserInfo reads OIDC userinfo claims. Older userinfo endpoints use "id" instead of "sub".
type GoogleUserInfo struct{}

func (GoogleUserInfo) Name() string { return Google }

func (GoogleUserInfo) Normalize(attrs map[string]any) (model.NormalizedIdentity, error) {
	id := str(attrs, "sub")
	if id == "" {
		id = str(attrs, "id")
	}
	if id == "" {
		return model.NormalizedIdentity{}, missingID(Google)
	}
	return model.NormalizedIdentity{
		Provider:    Google,
		ProviderID:  id,
		DisplayName: str(attrs, "name"),
		Email:       str(attrs, "email"),
		Attributes:  attrs,
	}, nil
}
