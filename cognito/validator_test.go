package cognito

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestVerify_Success(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tokenString := createTestToken(t, privateKey, testKid, nil)

	claims, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
	require.NoError(t, err)
	assert.Equal(t, "8f6c2a9e-1111-2222-3333-444455556666", claims.Subject)
	assert.Equal(t, "id", claims.TokenUse)
	assert.Equal(t, "clientA", claims.Audience)
	assert.Equal(t, testAnchor().Issuer(), claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.Expiry, time.Minute)
}

func TestVerify_MatchesLaterAudience(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) {
		c.Audience = jwt.ClaimStrings{"clientB"}
	})

	claims, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB"))
	require.NoError(t, err)
	assert.Equal(t, "clientB", claims.Audience)

	t.Run("third of three", func(t *testing.T) {
		tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) {
			c.Audience = jwt.ClaimStrings{"clientC"}
		})
		claims, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB", "clientC"))
		require.NoError(t, err)
		assert.Equal(t, "clientC", claims.Audience)
	})
}

func TestVerify_AudienceMismatch(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) {
		c.Audience = jwt.ClaimStrings{"someone-else"}
	})

	_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAudienceMismatch)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Detail, "someone-else")
	assert.Contains(t, verr.Detail, "2 configured client ids")
}

func TestVerify_ExpiredShortCircuits(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tests := []struct {
		name     string
		audience string
	}{
		{name: "audience matches", audience: "clientA"},
		{name: "audience matches nothing", audience: "unknown-client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) {
				c.Audience = jwt.ClaimStrings{tt.audience}
				c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Hour))
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))
			})

			_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB"))
			assert.ErrorIs(t, err, ErrTokenExpired)
			assert.NotErrorIs(t, err, ErrAudienceMismatch)
		})
	}
}

func TestVerify_IssuerMismatch(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) {
		c.Issuer = "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_other"
		c.Audience = jwt.ClaimStrings{"clientB"}
	})

	_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB"))
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestVerify_MissingIssuerOrAudience(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	t.Run("no iss claim is an issuer mismatch", func(t *testing.T) {
		tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) { c.Issuer = "" })

		_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
		assert.ErrorIs(t, err, ErrIssuerMismatch)
	})

	t.Run("no aud claim is malformed", func(t *testing.T) {
		tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) { c.Audience = nil })

		_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB"))
		assert.ErrorIs(t, err, ErrMalformedToken)
	})
}

func TestVerify_ConfigurationInvalid(t *testing.T) {
	privateKey := generateTestKey(t)
	tokenString := createTestToken(t, privateKey, testKid, nil)

	tests := []struct {
		name      string
		anchor    TrustAnchor
		audiences AudienceSet
		detail    string
	}{
		{
			name:      "empty audience set",
			anchor:    testAnchor(),
			audiences: AudienceSet{},
			detail:    "no client ids",
		},
		{
			name:      "nil audience set",
			anchor:    testAnchor(),
			audiences: nil,
			detail:    "no client ids",
		},
		{
			name:      "missing pool id",
			anchor:    TrustAnchor{Region: testRegion},
			audiences: NewAudienceSet("clientA"),
			detail:    "user pool id",
		},
		{
			name:      "missing region",
			anchor:    TrustAnchor{UserPoolID: testPoolID},
			audiences: NewAudienceSet("clientA"),
			detail:    "region",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newJWKSServer(t, publicJWK(privateKey, testKid))
			verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

			_, err := verifier.Verify(context.Background(), tokenString, tt.anchor, tt.audiences)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfigurationInvalid)
			assert.Contains(t, err.Error(), tt.detail)
			assert.Equal(t, int32(0), server.hits.Load(), "no network call expected")
		})
	}
}

func TestVerify_MalformedToken(t *testing.T) {
	privateKey := generateTestKey(t)
	fetcher := &staticFetcher{}
	verifier := NewTokenVerifier(fetcher, zap.NewNop())

	t.Run("garbage", func(t *testing.T) {
		_, err := verifier.Verify(context.Background(), "not-a-jwt", testAnchor(), NewAudienceSet("clientA"))
		assert.ErrorIs(t, err, ErrMalformedToken)
	})

	t.Run("no kid in header", func(t *testing.T) {
		tokenString := createTestToken(t, privateKey, "", nil)
		_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
		assert.ErrorIs(t, err, ErrMalformedToken)
		assert.Contains(t, err.Error(), "no key id")
	})

	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestVerify_UnknownSigningKey(t *testing.T) {
	privateKey := generateTestKey(t)
	otherKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(otherKey, "other-kid"))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tokenString := createTestToken(t, privateKey, testKid, nil)

	_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
	assert.ErrorIs(t, err, ErrUnknownSigningKey)
	// The fresh fetch is within the minimum refresh interval, so no refetch happens
	assert.Equal(t, int32(1), server.hits.Load())
}

func TestVerify_PicksUpRotatedKey(t *testing.T) {
	oldKey := generateTestKey(t)
	newKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(oldKey, "old-kid"))
	verifier := NewTokenVerifier(newTestFetcher(server, WithMinRefreshInterval(0)), zap.NewNop())

	_, err := verifier.Verify(context.Background(), createTestToken(t, oldKey, "old-kid", nil), testAnchor(), NewAudienceSet("clientA"))
	require.NoError(t, err)

	server.setKeys(publicJWK(newKey, "new-kid"))

	claims, err := verifier.Verify(context.Background(), createTestToken(t, newKey, "new-kid", nil), testAnchor(), NewAudienceSet("clientA"))
	require.NoError(t, err)
	assert.Equal(t, "clientA", claims.Audience)
	assert.Equal(t, int32(2), server.hits.Load())
}

func TestVerify_InvalidSignature(t *testing.T) {
	publishedKey := generateTestKey(t)
	forgingKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(publishedKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	tokenString := createTestToken(t, forgingKey, testKid, nil)

	_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA", "clientB"))
	assert.ErrorIs(t, err, ErrMalformedToken)
	assert.Contains(t, err.Error(), "signature")
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testAnchor().Issuer(),
			Audience:  jwt.ClaimStrings{"clientA"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TokenUse: "id",
	})
	token.Header["kid"] = testKid
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerify_KeySetFailuresPropagate(t *testing.T) {
	privateKey := generateTestKey(t)
	tokenString := createTestToken(t, privateKey, testKid, nil)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "unavailable", err: newError(KindKeySetUnavailable, "down", nil), want: ErrKeySetUnavailable},
		{name: "malformed", err: newError(KindKeySetMalformed, "garbage", nil), want: ErrKeySetMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifier := NewTokenVerifier(&staticFetcher{err: tt.err}, zap.NewNop())
			_, err := verifier.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
			assert.ErrorIs(t, err, tt.want)

			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.True(t, kind.Dependency())
		})
	}
}

func TestVerify_Idempotent(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	verifier := NewTokenVerifier(newTestFetcher(server), zap.NewNop())
	tokenString := createTestToken(t, privateKey, testKid, nil)
	audiences := NewAudienceSet("clientA", "clientB")

	first, err := verifier.Verify(context.Background(), tokenString, testAnchor(), audiences)
	require.NoError(t, err)
	firstIdentity, err := ProjectIdentity(first)
	require.NoError(t, err)

	second, err := verifier.Verify(context.Background(), tokenString, testAnchor(), audiences)
	require.NoError(t, err)
	secondIdentity, err := ProjectIdentity(second)
	require.NoError(t, err)

	assert.Equal(t, firstIdentity, secondIdentity)
	assert.Equal(t, NewAudienceSet("clientA", "clientB"), audiences)
}

func TestVerify_Leeway(t *testing.T) {
	privateKey := generateTestKey(t)
	server := newJWKSServer(t, publicJWK(privateKey, testKid))
	tokenString := createTestToken(t, privateKey, testKid, func(c *Claims) {
		c.IssuedAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
	})

	strict := NewTokenVerifier(newTestFetcher(server), zap.NewNop())
	_, err := strict.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
	assert.ErrorIs(t, err, ErrTokenExpired)

	lenient := NewTokenVerifier(newTestFetcher(server), zap.NewNop(), WithLeeway(time.Minute))
	_, err = lenient.Verify(context.Background(), tokenString, testAnchor(), NewAudienceSet("clientA"))
	assert.NoError(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		claims  *Claims
		outcome attemptOutcome
		kind    ErrorKind
	}{
		{"expired", jwt.ErrTokenExpired, nil, attemptFatal, KindTokenExpired},
		{"issuer", jwt.ErrTokenInvalidIssuer, nil, attemptFatal, KindIssuerMismatch},
		{"audience", jwt.ErrTokenInvalidAudience, nil, attemptNextAudience, KindAudienceMismatch},
		{"expired and audience", errors.Join(jwt.ErrTokenInvalidAudience, jwt.ErrTokenExpired), nil, attemptFatal, KindTokenExpired},
		{"issuer and audience", errors.Join(jwt.ErrTokenInvalidAudience, jwt.ErrTokenInvalidIssuer), nil, attemptFatal, KindIssuerMismatch},
		{"missing issuer", jwt.ErrTokenRequiredClaimMissing, &Claims{}, attemptFatal, KindIssuerMismatch},
		{"missing audience", jwt.ErrTokenRequiredClaimMissing, nil, attemptFatal, KindMalformedToken},
		{"signature", jwt.ErrTokenSignatureInvalid, nil, attemptFatal, KindMalformedToken},
		{"not yet valid", jwt.ErrTokenNotValidYet, nil, attemptFatal, KindMalformedToken},
		{"unknown", errors.New("boom"), nil, attemptFatal, KindMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := tt.claims
			if claims == nil {
				claims = &Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: testAnchor().Issuer()}}
			}
			outcome, err := classify(tt.err, testAnchor().Issuer(), claims)
			assert.Equal(t, tt.outcome, outcome)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
