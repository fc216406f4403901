package provider

import "github.com/and161185/linkgate/internal/model"

// NaverUserInfo unwraps the "response" envelope Naver puts around the profile.
type NaverUserInfo struct{}

func (NaverUserInfo) Name() string { return Naver }

func (NaverUserInfo) Normalize(attrs map[string]any) (model.NormalizedIdentity, error) {
	resp := nested(attrs, "response")
	id := str(resp, "id")
	if id == "" {
		return model.NormalizedIdentity{}, missingID(Naver)
	}
	return model.NormalizedIdentity{
		Provider:    Naver,
		ProviderID:  id,
		DisplayName: str(resp, "name"),
		Email:       str(resp, "email"),
		Attributes:  resp,
	}, nil
}
