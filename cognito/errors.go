package cognito

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an identity token was rejected
type ErrorKind string

const (
	KindConfigurationInvalid ErrorKind = "configuration_invalid"
	KindMalformedToken       ErrorKind = "malformed_token"
	KindKeySetUnavailable    ErrorKind = "key_set_unavailable"
	KindKeySetMalformed      ErrorKind = "key_set_malformed"
	KindUnknownSigningKey    ErrorKind = "unknown_signing_key"
	KindTokenExpired         ErrorKind = "token_expired"
	KindIssuerMismatch       ErrorKind = "issuer_mismatch"
	KindAudienceMismatch     ErrorKind = "audience_mismatch"
	KindNotAnIdentityToken   ErrorKind = "not_an_identity_token"
)

// Dependency reports whether the failure was caused by the issuer's key set
// endpoint rather than by the presented token.
func (k ErrorKind) Dependency() bool {
	return k == KindKeySetUnavailable || k == KindKeySetMalformed
}

// Error is the typed failure returned by the verifier, the key set fetcher
// and the claims projector.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

var (
	// ErrConfigurationInvalid is returned when the trust anchor or audience set is incomplete
	ErrConfigurationInvalid = newError(KindConfigurationInvalid, "trust configuration incomplete", nil)

	// ErrMalformedToken is returned when the token cannot be parsed or verified structurally
	ErrMalformedToken = newError(KindMalformedToken, "malformed token", nil)

	// ErrKeySetUnavailable is returned when the JWKS endpoint cannot be reached
	ErrKeySetUnavailable = newError(KindKeySetUnavailable, "key set unavailable", nil)

	// ErrKeySetMalformed is returned when the JWKS response cannot be parsed
	ErrKeySetMalformed = newError(KindKeySetMalformed, "key set malformed", nil)

	// ErrUnknownSigningKey is returned when no key matches the token's kid
	ErrUnknownSigningKey = newError(KindUnknownSigningKey, "unknown signing key", nil)

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = newError(KindTokenExpired, "token expired", nil)

	// ErrIssuerMismatch is returned when the token issuer is not the trusted pool
	ErrIssuerMismatch = newError(KindIssuerMismatch, "issuer mismatch", nil)

	// ErrAudienceMismatch is returned when no configured audience matches
	ErrAudienceMismatch = newError(KindAudienceMismatch, "audience mismatch", nil)

	// ErrNotAnIdentityToken is returned when token_use is not "id"
	ErrNotAnIdentityToken = newError(KindNotAnIdentityToken, "not an identity token", nil)
)

// KindOf returns the kind of a verification error, or false for foreign errors.
func KindOf(err error) (ErrorKind, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Kind, true
	}
	return "", false
}
