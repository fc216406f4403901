package provider

import "github.com/and161185/linkgate/internal/model"

// FacebookUserInfo reads the flat Graph API /me payload.
type FacebookUserInfo struct{}

func (FacebookUserInfo) Name() string { return Facebook }

func (FacebookUserInfo) Normalize(attrs map[string]any) (model.NormalizedIdentity, error) {
	id := str(attrs, "id")
	if id == "" {
		return model.NormalizedIdentity{}, missingID(Facebook)
	}
	return model.NormalizedIdentity{
		Provider:    Facebook,
		ProviderID:  id,
		DisplayName: str(attrs, "name"),
		Email:       str(attrs, "email"),
		Attributes:  attrs,
	}, nil
}
