// Package auth turns a request's identity token into an Identity or a
// typed Failure that the HTTP layer can render.
package auth

import (
	"context"
	"fmt"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/queue-trigger-api/cognito"
	"go.uber.org/zap"
)

// Verifier validates a raw token for the given trust anchor and audiences
type Verifier interface {
	Verify(ctx context.Context, token string, anchor cognito.TrustAnchor, audiences cognito.AudienceSet) (*cognito.VerifiedClaims, error)
}

// TrustSource supplies the published trust configuration
type TrustSource interface {
	Load() (cognito.TrustConfig, bool)
}

// Authenticator is the single place where verification errors become
// authentication failures.
type Authenticator struct {
	verifier Verifier
	trust    TrustSource
	logger   *zap.Logger
}

// NewAuthenticator creates a new Authenticator
func NewAuthenticator(verifier Verifier, trust TrustSource, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		verifier: verifier,
		trust:    trust,
		logger:   logger,
	}
}

// ExtractToken returns the token carried by a header value. Both a bare token
// and "Bearer <token>" are accepted.
func ExtractToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// Authenticate verifies the token in rawHeader and projects its identity.
// An empty header yields a NoToken failure without consulting the verifier.
// Every returned error is a *Failure.
func (a *Authenticator) Authenticate(ctx context.Context, rawHeader string) (identity *cognito.Identity, err error) {
	defer func() {
		if r := recover(); r != nil {
			identity = nil
			err = a.reject(ctx, &Failure{
				Reason: ReasonInternal,
				Detail: "panic during authentication",
				Err:    fmt.Errorf("panic: %v", r),
			})
		}
	}()

	token := ExtractToken(rawHeader)
	if token == "" {
		return nil, a.reject(ctx, &Failure{Reason: ReasonNoToken})
	}

	var trust cognito.TrustConfig
	if a.trust != nil {
		trust, _ = a.trust.Load()
	}

	verified, verr := a.verifier.Verify(ctx, token, trust.Anchor, trust.Audiences)
	if verr != nil {
		return nil, a.reject(ctx, failureFrom(verr))
	}

	identity, perr := cognito.ProjectIdentity(verified)
	if perr != nil {
		return nil, a.reject(ctx, failureFrom(perr))
	}

	a.logger.Debug("request authenticated",
		zap.String("sub", identity.ID),
		zap.String("audience", verified.Audience))
	return identity, nil
}

// reject logs the failure at a level matching who is at fault.
func (a *Authenticator) reject(ctx context.Context, failure *Failure) *Failure {
	fields := []zap.Field{
		zap.String("reason", string(failure.Reason)),
		zap.String("detail", failure.Detail),
	}
	if requestID := chimiddleware.GetReqID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	switch {
	case failure.Reason == ReasonInternal:
		a.logger.Error("authentication failed", append(fields, zap.String("fault", "internal"), zap.Error(failure.Err))...)
	case failure.Dependency():
		a.logger.Error("authentication failed", append(fields, zap.String("fault", "dependency"), zap.Error(failure.Err))...)
	case failure.Reason == ReasonNoToken:
		a.logger.Info("authentication failed", append(fields, zap.String("fault", "client"))...)
	default:
		a.logger.Warn("authentication failed", append(fields, zap.String("fault", "client"))...)
	}
	return failure
}
