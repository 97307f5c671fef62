package cognito

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testRegion = "us-east-1"
	testPoolID = "us-east-1_test123"
	testKid    = "test-kid-123"
)

func testAnchor() TrustAnchor {
	return TrustAnchor{Region: testRegion, UserPoolID: testPoolID}
}

// Test helper to generate RSA key pair
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey
}

func publicJWK(privateKey *rsa.PrivateKey, kid string) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       &privateKey.PublicKey,
		KeyID:     kid,
		Algorithm: "RS256",
		Use:       "sig",
	}
}

// jwksServer serves a replaceable key set and counts requests.
type jwksServer struct {
	*httptest.Server
	mu   sync.Mutex
	set  jose.JSONWebKeySet
	hits atomic.Int32
}

func newJWKSServer(t *testing.T, keys ...jose.JSONWebKey) *jwksServer {
	t.Helper()
	s := &jwksServer{set: jose.JSONWebKeySet{Keys: keys}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.set)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) setKeys(keys ...jose.JSONWebKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = jose.JSONWebKeySet{Keys: keys}
}

func (s *jwksServer) endpoint(TrustAnchor) string {
	return s.URL
}

func newTestFetcher(s *jwksServer, opts ...FetcherOption) *HTTPKeySetFetcher {
	opts = append([]FetcherOption{
		WithEndpoint(s.endpoint),
		WithTimeout(5 * time.Second),
	}, opts...)
	return NewHTTPKeySetFetcher(opts...)
}

// Test helper to create a signed ID token
func createTestToken(t *testing.T, privateKey *rsa.PrivateKey, kid string, mutate func(*Claims)) string {
	t.Helper()
	now := time.Now()

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testAnchor().Issuer(),
			Subject:   "8f6c2a9e-1111-2222-3333-444455556666",
			Audience:  jwt.ClaimStrings{"clientA"},
			ExpiresAt: jwt.NewNumericDate(now.Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		TokenUse:        "id",
		AuthTime:        now.Unix(),
		Email:           "test@example.com",
		EmailVerified:   true,
		CognitoUsername: "testuser",
		PhoneNumber:     "+15555550100",
		Picture:         "https://example.com/avatar.png",
		Role:            "admin",
		Organization:    "org-42",
	}
	if mutate != nil {
		mutate(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}

	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}

// staticFetcher returns a fixed key set and counts calls.
type staticFetcher struct {
	keys  KeySet
	err   error
	calls atomic.Int32
}

func (f *staticFetcher) Fetch(context.Context, TrustAnchor) (KeySet, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.keys, nil
}
