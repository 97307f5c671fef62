package cognito

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifiedFrom(claims *Claims) *VerifiedClaims {
	return newVerifiedClaims(claims, "clientA")
}

func TestProjectIdentity(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    testAnchor().Issuer(),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
		TokenUse:        "id",
		Email:           "test@example.com",
		EmailVerified:   true,
		CognitoUsername: "testuser",
		PhoneNumber:     "+15555550100",
		Picture:         "https://example.com/avatar.png",
		Role:            "admin",
		Organization:    "org-42",
	}

	verified := verifiedFrom(claims)
	assert.Equal(t, "clientA", verified.Audience)
	assert.Equal(t, expiry, verified.Expiry)

	identity, err := ProjectIdentity(verified)
	require.NoError(t, err)

	assert.Equal(t, &Identity{
		ID:            "user-123",
		Email:         "test@example.com",
		DisplayName:   "testuser",
		Role:          "admin",
		TenantID:      "org-42",
		PictureURL:    "https://example.com/avatar.png",
		PhoneNumber:   "+15555550100",
		EmailVerified: true,
	}, identity)
}

func TestProjectIdentity_AbsentClaimsAreZero(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
		TokenUse:         "id",
	}

	identity, err := ProjectIdentity(verifiedFrom(claims))
	require.NoError(t, err)
	assert.Equal(t, &Identity{ID: "user-123"}, identity)
}

func TestProjectIdentity_RejectsNonIDTokens(t *testing.T) {
	tests := []struct {
		name     string
		tokenUse string
	}{
		{name: "access token", tokenUse: "access"},
		{name: "missing token_use", tokenUse: ""},
		{name: "unexpected value", tokenUse: "refresh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := &Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123"},
				TokenUse:         tt.tokenUse,
				Email:            "test@example.com",
			}
			identity, err := ProjectIdentity(verifiedFrom(claims))
			assert.Nil(t, identity)
			assert.ErrorIs(t, err, ErrNotAnIdentityToken)
		})
	}
}

func TestProjectIdentity_NilInput(t *testing.T) {
	_, err := ProjectIdentity(nil)
	assert.ErrorIs(t, err, ErrNotAnIdentityToken)

	_, err = ProjectIdentity(&VerifiedClaims{TokenUse: "id"})
	assert.ErrorIs(t, err, ErrNotAnIdentityToken)
}

func TestClaims_UnmarshalCognitoPayload(t *testing.T) {
	payload := `{
		"sub": "user-123",
		"aud": "clientA",
		"token_use": "id",
		"email": "test@example.com",
		"email_verified": "true",
		"cognito:username": "testuser",
		"custom:role": "viewer",
		"custom:organization": "org-7"
	}`

	var claims Claims
	require.NoError(t, json.Unmarshal([]byte(payload), &claims))

	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{"clientA"}, claims.Audience)
	assert.True(t, bool(claims.EmailVerified))
	assert.Equal(t, "testuser", claims.CognitoUsername)
	assert.Equal(t, "viewer", claims.Role)
	assert.Equal(t, "org-7", claims.Organization)
}

func TestClaimBool(t *testing.T) {
	tests := []struct {
		input   string
		want    bool
		wantErr bool
	}{
		{input: `true`, want: true},
		{input: `false`, want: false},
		{input: `"true"`, want: true},
		{input: `"false"`, want: false},
		{input: `""`, want: false},
		{input: `"yes please"`, wantErr: true},
		{input: `42`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var b claimBool
			err := json.Unmarshal([]byte(tt.input), &b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, bool(b))
		})
	}
}

func TestPeekAudience(t *testing.T) {
	privateKey := generateTestKey(t)
	token := createTestToken(t, privateKey, testKid, func(c *Claims) {
		c.Audience = jwt.ClaimStrings{"one", "two"}
	})

	assert.Equal(t, "one,two", peekAudience(token))
	assert.Equal(t, "", peekAudience("garbage"))
}
