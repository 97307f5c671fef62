package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/upb/queue-trigger-api/cognito"
	"github.com/upb/queue-trigger-api/services"
)

// Reason says why a request could not be authenticated
type Reason string

const (
	// ReasonNoToken means the request carried no token at all
	ReasonNoToken Reason = "no_token"
	// ReasonInternal means an unexpected fault, not attributable to the caller
	ReasonInternal Reason = "internal"

	ReasonConfigurationInvalid Reason = Reason(cognito.KindConfigurationInvalid)
	ReasonMalformedToken       Reason = Reason(cognito.KindMalformedToken)
	ReasonKeySetUnavailable    Reason = Reason(cognito.KindKeySetUnavailable)
	ReasonKeySetMalformed      Reason = Reason(cognito.KindKeySetMalformed)
	ReasonUnknownSigningKey    Reason = Reason(cognito.KindUnknownSigningKey)
	ReasonTokenExpired         Reason = Reason(cognito.KindTokenExpired)
	ReasonIssuerMismatch       Reason = Reason(cognito.KindIssuerMismatch)
	ReasonAudienceMismatch     Reason = Reason(cognito.KindAudienceMismatch)
	ReasonNotAnIdentityToken   Reason = Reason(cognito.KindNotAnIdentityToken)
)

var publicMessages = map[Reason]string{
	ReasonNoToken:            "Missing identity token",
	ReasonMalformedToken:     "Invalid identity token",
	ReasonKeySetUnavailable:  "Unable to verify identity token",
	ReasonKeySetMalformed:    "Unable to verify identity token",
	ReasonUnknownSigningKey:  "Identity token signed with an unknown key",
	ReasonTokenExpired:       "Identity token has expired",
	ReasonIssuerMismatch:     "Identity token was not issued by the trusted user pool",
	ReasonAudienceMismatch:   "Identity token was not issued for this application",
	ReasonNotAnIdentityToken: "Token is not an identity token",
	ReasonInternal:           "An internal error occurred",
}

// Failure is the outcome of a rejected authentication attempt.
type Failure struct {
	Reason Reason
	Detail string
	Err    error
}

// Error implements the error interface
func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("authentication failed: %s: %s", f.Reason, f.Detail)
	}
	return fmt.Sprintf("authentication failed: %s", f.Reason)
}

// Unwrap implements errors.Unwrap
func (f *Failure) Unwrap() error {
	return f.Err
}

// StatusCode is 401 for every anticipated failure and 500 otherwise.
func (f *Failure) StatusCode() int {
	if f.Reason == ReasonInternal {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// Dependency reports whether the issuer's key set endpoint caused the failure.
func (f *Failure) Dependency() bool {
	return cognito.ErrorKind(f.Reason).Dependency()
}

// PublicMessage is safe to return to the caller. Configuration problems are
// spelled out so a broken deployment can be diagnosed from the response.
func (f *Failure) PublicMessage() string {
	if f.Reason == ReasonConfigurationInvalid {
		return "Authentication is not configured: " + f.Detail
	}
	if msg, ok := publicMessages[f.Reason]; ok {
		return msg
	}
	return publicMessages[ReasonInternal]
}

// DomainError converts the failure for handlers.HandleServiceError
func (f *Failure) DomainError() *services.DomainError {
	errType := services.ErrorTypeUnauthorized
	if f.StatusCode() == http.StatusInternalServerError {
		errType = services.ErrorTypeInternal
	}
	return services.NewDomainError(errType, f.PublicMessage(), f).
		WithDetail("reason", string(f.Reason))
}

// failureFrom wraps a verifier or projector error.
func failureFrom(err error) *Failure {
	var verr *cognito.Error
	if errors.As(err, &verr) {
		return &Failure{Reason: Reason(verr.Kind), Detail: verr.Detail, Err: err}
	}
	return &Failure{Reason: ReasonInternal, Detail: "unexpected verification error", Err: err}
}
