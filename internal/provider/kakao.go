package provider

import "github.com/and161185/linkgate/internal/model"

// KakaoUserInfo splits the profile across "properties" (nickname) and
// "kakao_account" (email, only when the consent item was granted).
type KakaoUserInfo struct{}

func (KakaoUserInfo) Name() string { return Kakao }

func (KakaoUserInfo) Normalize(attrs map[string]any) (model.NormalizedIdentity, error) {
	id := str(attrs, "id")
	if id == "" {
		return model.NormalizedIdentity{}, missingID(Kakao)
	}

	account := nested(attrs, "kakao_account")
	name := str(nested(attrs, "properties"), "nickname")
	if name == "" {
		name = str(nested(account, "profile"), "nickname")
	}

	return model.NormalizedIdentity{
		Provider:    Kakao,
		ProviderID:  id,
		DisplayName: name,
		Email:       str(account, "email"),
		Attributes:  attrs,
	}, nil
}
