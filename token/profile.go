package token

import (
	"strings"

	"github.com/jrsteele09/go-storemap-client/internal/utils"
)

// RoleClaimURI is the role claim name issued by ASP.NET identity backends.
const RoleClaimURI = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"

// UserProfile is the display projection of the access token's claims.
// It is never authoritative: the server enforces authorization.
type UserProfile struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	UserName   string `json:"userName,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Picture    string `json:"picture,omitempty"`
	Audience   string `json:"aud,omitempty"`
	Issuer     string `json:"iss,omitempty"`
	IssuedAt   int64  `json:"iat,omitempty"`
	ExpiresAt  int64  `json:"exp,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

// Roles splits the comma separated Role field.
func (p *UserProfile) Roles() []string {
	if p == nil || p.Role == "" {
		return nil
	}
	parts := strings.Split(p.Role, ",")
	roles := make([]string, 0, len(parts))
	for _, r := range parts {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}

// HasRole compares case-insensitively.
func (p *UserProfile) HasRole(role string) bool {
	for _, r := range p.Roles() {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// DisplayName is the best human readable name available.
func (p *UserProfile) DisplayName() string {
	if p == nil {
		return ""
	}
	return utils.FirstNonEmpty(p.Name, p.UserName, p.Email, p.ID)
}

// ProfileFromClaims maps the claim names used by the backend and by federated
// providers onto a UserProfile.
func ProfileFromClaims(claims map[string]any) *UserProfile {
	str := func(names ...string) string {
		for _, n := range names {
			if v := claimString(claims[n]); v != "" {
				return v
			}
		}
		return ""
	}

	return &UserProfile{
		ID:         str("sub", "id", "nameid"),
		Name:       str("name", "given_name"),
		UserName:   str("preferred_username", "unique_name", "userName"),
		Email:      str("email"),
		Role:       str("role", RoleClaimURI),
		Picture:    str("picture"),
		Audience:   str("aud"),
		Issuer:     str("iss"),
		IssuedAt:   claimInt(claims["iat"]),
		ExpiresAt:  claimInt(claims["exp"]),
		GivenName:  str("given_name"),
		FamilyName: str("family_name"),
	}
}

// MergeProviderProfile fills the gaps in fromToken with values from provider.
// Access-token claims always win on conflicts.
func MergeProviderProfile(fromToken, provider *UserProfile) *UserProfile {
	if fromToken == nil {
		return provider
	}
	merged := *fromToken
	if provider == nil {
		return &merged
	}

	merged.ID = utils.FirstNonEmpty(merged.ID, provider.ID)
	merged.Name = utils.FirstNonEmpty(merged.Name, provider.Name)
	merged.UserName = utils.FirstNonEmpty(merged.UserName, provider.UserName)
	merged.Email = utils.FirstNonEmpty(merged.Email, provider.Email)
	merged.Picture = utils.FirstNonEmpty(merged.Picture, provider.Picture)
	merged.GivenName = utils.FirstNonEmpty(merged.GivenName, provider.GivenName)
	merged.FamilyName = utils.FirstNonEmpty(merged.FamilyName, provider.FamilyName)
	return &merged
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		return strings.Join(utils.ToStringSlice(t), ",")
	case []string:
		return strings.Join(t, ",")
	default:
		return ""
	}
}

func claimInt(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
