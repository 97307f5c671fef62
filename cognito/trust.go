package cognito

import (
	"fmt"
	"strings"
)

// TrustAnchor identifies the one user pool whose keys and tokens are trusted.
type TrustAnchor struct {
	Region     string `json:"region"`
	UserPoolID string `json:"user_pool_id"`
}

// Issuer returns the canonical issuer string tokens from this pool carry in iss.
func (a TrustAnchor) Issuer() string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", a.Region, a.UserPoolID)
}

// JWKSURL returns the pool's well-known key set endpoint.
func (a TrustAnchor) JWKSURL() string {
	return a.Issuer() + "/.well-known/jwks.json"
}

// Complete reports whether both region and pool id are known.
func (a TrustAnchor) Complete() bool {
	return a.Region != "" && a.UserPoolID != ""
}

// AudienceSet is the ordered list of client ids permitted to present tokens.
type AudienceSet []string

// NewAudienceSet builds an AudienceSet, dropping empty and duplicate ids while
// keeping first-seen order.
func NewAudienceSet(ids ...string) AudienceSet {
	set := make(AudienceSet, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || set.Contains(id) {
			continue
		}
		set = append(set, id)
	}
	return set
}

// Contains reports exact membership.
func (s AudienceSet) Contains(aud string) bool {
	for _, id := range s {
		if id == aud {
			return true
		}
	}
	return false
}

// TrustConfig is the resolved, read-only trust setup for the process.
type TrustConfig struct {
	Anchor    TrustAnchor `json:"anchor"`
	Audiences AudienceSet `json:"audiences"`
}

// Problems lists what is missing from the configuration. Empty means complete.
func (c TrustConfig) Problems() []string {
	var problems []string
	if c.Anchor.Region == "" {
		problems = append(problems, "issuer region is not configured")
	}
	if c.Anchor.UserPoolID == "" {
		problems = append(problems, "user pool id is not configured")
	}
	if len(c.Audiences) == 0 {
		problems = append(problems, "no client ids are configured")
	}
	return problems
}

// Complete reports whether the configuration can verify anything at all.
func (c TrustConfig) Complete() bool {
	return len(c.Problems()) == 0
}

// Validate returns a ConfigurationInvalid error describing every missing piece.
func (c TrustConfig) Validate() error {
	problems := c.Problems()
	if len(problems) == 0 {
		return nil
	}
	return newError(KindConfigurationInvalid, strings.Join(problems, "; "), nil)
}
