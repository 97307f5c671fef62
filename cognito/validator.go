package cognito

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// attemptOutcome classifies one verification attempt against one audience.
type attemptOutcome int

const (
	// attemptOK means the token verified against this audience
	attemptOK attemptOutcome = iota
	// attemptNextAudience means only the audience differed; try the next one
	attemptNextAudience
	// attemptFatal means the failure does not depend on the audience; stop
	attemptFatal
)

// TokenVerifier validates Cognito ID tokens against a trust anchor and a set of
// acceptable audiences.
//
// The at_hash claim is deliberately not checked: ID tokens are presented
// without the access token they were issued alongside.
type TokenVerifier struct {
	keys   KeySetFetcher
	logger *zap.Logger
	leeway time.Duration
	now    func() time.Time
}

// VerifierOption configures a TokenVerifier
type VerifierOption func(*TokenVerifier)

// WithLeeway allows for clock skew when checking exp, nbf and iat.
func WithLeeway(leeway time.Duration) VerifierOption {
	return func(v *TokenVerifier) {
		v.leeway = leeway
	}
}

// WithTimeFunc replaces time.Now for claim validation.
func WithTimeFunc(now func() time.Time) VerifierOption {
	return func(v *TokenVerifier) {
		v.now = now
	}
}

// NewTokenVerifier creates a verifier that obtains keys from the given fetcher.
func NewTokenVerifier(keys KeySetFetcher, logger *zap.Logger, opts ...VerifierOption) *TokenVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &TokenVerifier{
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the token's signature, expiry, issuer and audience and returns
// its claims. Audiences are tried in order; expiry and issuer failures stop the
// search immediately since they cannot depend on the audience tried.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string, anchor TrustAnchor, audiences AudienceSet) (*VerifiedClaims, error) {
	// Configuration is checked before touching the network
	if err := (TrustConfig{Anchor: anchor, Audiences: audiences}).Validate(); err != nil {
		return nil, err
	}

	kid, err := keyIDFromHeader(tokenString)
	if err != nil {
		return nil, err
	}

	key, err := v.signingKey(ctx, anchor, kid)
	if err != nil {
		return nil, err
	}

	issuer := anchor.Issuer()
	var lastErr error
	for _, audience := range audiences {
		claims, outcome, err := v.attempt(tokenString, key, issuer, audience)
		switch outcome {
		case attemptOK:
			v.logger.Debug("token verified",
				zap.String("audience", audience),
				zap.String("sub", claims.Subject),
				zap.String("token_use", claims.TokenUse))
			return claims, nil
		case attemptFatal:
			return nil, err
		case attemptNextAudience:
			lastErr = err
		}
	}

	claimed := peekAudience(tokenString)
	v.logger.Debug("token audience matched no configured client id",
		zap.String("token_audience", claimed),
		zap.Strings("expected_audiences", audiences))
	return nil, newError(KindAudienceMismatch,
		fmt.Sprintf("token audience %q matches none of %d configured client ids", claimed, len(audiences)),
		lastErr)
}

// keyIDFromHeader reads the kid from the token header without verifying anything.
func keyIDFromHeader(tokenString string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return "", newError(KindMalformedToken, "cannot decode token", err)
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", newError(KindMalformedToken, "token header has no key id", nil)
	}
	return kid, nil
}

// signingKey locates the key named by kid, refreshing a cached key set once
// when the kid is unknown so rotated keys are picked up.
func (v *TokenVerifier) signingKey(ctx context.Context, anchor TrustAnchor, kid string) (SigningKey, error) {
	keys, err := v.keys.Fetch(ctx, anchor)
	if err != nil {
		return SigningKey{}, err
	}
	if key, ok := keys.Lookup(kid); ok {
		return key, nil
	}

	if refresher, ok := v.keys.(KeySetRefresher); ok {
		keys, err = refresher.Refresh(ctx, anchor)
		if err != nil {
			return SigningKey{}, err
		}
		if key, ok := keys.Lookup(kid); ok {
			return key, nil
		}
	}

	v.logger.Debug("no key found for kid",
		zap.String("kid", kid),
		zap.Strings("available_kids", keys.KeyIDs()))
	return SigningKey{}, newError(KindUnknownSigningKey, fmt.Sprintf("no key with kid %q in key set", kid), nil)
}

// attempt runs full verification for a single audience.
func (v *TokenVerifier) attempt(tokenString string, key SigningKey, issuer, audience string) (*VerifiedClaims, attemptOutcome, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(allowedMethods(key)),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)

	claims := &Claims{}
	_, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return key.Key, nil
	})
	if err == nil {
		return newVerifiedClaims(claims, audience), attemptOK, nil
	}

	outcome, verr := classify(err, issuer, claims)
	return nil, outcome, verr
}

// classify maps a golang-jwt error onto an outcome and a typed error. Claim
// errors arrive joined, so audience-independent failures are checked first.
// claims holds whatever was decoded before validation failed.
func classify(err error, issuer string, claims *Claims) (attemptOutcome, error) {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return attemptFatal, newError(KindTokenExpired, "token has expired", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return attemptFatal, newError(KindIssuerMismatch, fmt.Sprintf("expected issuer %s", issuer), err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return attemptFatal, newError(KindMalformedToken, "token is not valid yet", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing) && claims != nil && claims.Issuer == "":
		return attemptFatal, newError(KindIssuerMismatch, fmt.Sprintf("token has no issuer, expected %s", issuer), err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return attemptFatal, newError(KindMalformedToken, "token is missing a required claim", err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return attemptNextAudience, newError(KindAudienceMismatch, "audience mismatch", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return attemptFatal, newError(KindMalformedToken, "signature verification failed", err)
	default:
		return attemptFatal, newError(KindMalformedToken, "token verification failed", err)
	}
}

// allowedMethods pins the signing algorithm to the key, never to the token header.
func allowedMethods(key SigningKey) []string {
	if key.Algorithm != "" {
		return []string{key.Algorithm}
	}
	switch key.Key.(type) {
	case *rsa.PublicKey:
		return []string{"RS256", "RS384", "RS512"}
	case *ecdsa.PublicKey:
		return []string{"ES256", "ES384", "ES512"}
	case ed25519.PublicKey:
		return []string{"EdDSA"}
	default:
		return []string{"RS256"}
	}
}
