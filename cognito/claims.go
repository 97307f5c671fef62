package cognito

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenUseID is the token_use value Cognito puts on ID tokens
const tokenUseID = "id"

// Claims represents the claims of a Cognito ID token
type Claims struct {
	jwt.RegisteredClaims
	TokenUse        string    `json:"token_use"`
	AuthTime        int64     `json:"auth_time,omitempty"`
	Email           string    `json:"email,omitempty"`
	EmailVerified   claimBool `json:"email_verified,omitempty"`
	CognitoUsername string    `json:"cognito:username,omitempty"`
	PhoneNumber     string    `json:"phone_number,omitempty"`
	Picture         string    `json:"picture,omitempty"`

	// Custom attributes
	Role         string `json:"custom:role,omitempty"`
	Organization string `json:"custom:organization,omitempty"`
}

// claimBool accepts both JSON booleans and the "true"/"false" strings some
// Cognito attributes are emitted as.
type claimBool bool

func (b *claimBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = claimBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("email_verified: expected bool or string, got %s", data)
	}
	if s == "" {
		*b = false
		return nil
	}
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("email_verified: %w", err)
	}
	*b = claimBool(parsed)
	return nil
}

// VerifiedClaims are the claims of a token that passed signature, expiry,
// issuer and audience checks. Audience is the configured client id that matched.
type VerifiedClaims struct {
	Subject  string
	TokenUse string
	Issuer   string
	Audience string
	Expiry   time.Time
	Claims   *Claims
}

func newVerifiedClaims(claims *Claims, audience string) *VerifiedClaims {
	verified := &VerifiedClaims{
		Subject:  claims.Subject,
		TokenUse: claims.TokenUse,
		Issuer:   claims.Issuer,
		Audience: audience,
		Claims:   claims,
	}
	if claims.ExpiresAt != nil {
		verified.Expiry = claims.ExpiresAt.Time
	}
	return verified
}

// Identity is the application-level user built from a verified ID token.
type Identity struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name"`
	Role          string `json:"role"`
	TenantID      string `json:"tenant_id"`
	PictureURL    string `json:"picture_url"`
	PhoneNumber   string `json:"phone_number"`
	EmailVerified bool   `json:"email_verified"`
}

// ProjectIdentity maps verified claims onto an Identity. Tokens whose
// token_use is not "id" are rejected even when otherwise valid; absent claims
// become zero values.
func ProjectIdentity(verified *VerifiedClaims) (*Identity, error) {
	if verified == nil || verified.Claims == nil {
		return nil, newError(KindNotAnIdentityToken, "no claims to project", nil)
	}
	if verified.TokenUse != tokenUseID {
		return nil, newError(KindNotAnIdentityToken, fmt.Sprintf("token_use is %q, expected %q", verified.TokenUse, tokenUseID), nil)
	}

	claims := verified.Claims
	return &Identity{
		ID:            verified.Subject,
		Email:         claims.Email,
		DisplayName:   claims.CognitoUsername,
		Role:          claims.Role,
		TenantID:      claims.Organization,
		PictureURL:    claims.Picture,
		PhoneNumber:   claims.PhoneNumber,
		EmailVerified: bool(claims.EmailVerified),
	}, nil
}

// peekAudience reads the aud claim without any validation. Diagnostics only.
func peekAudience(tokenString string) string {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	return strings.Join(claims.Audience, ",")
}
