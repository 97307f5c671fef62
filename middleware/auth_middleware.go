package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/upb/queue-trigger-api/auth"
	"github.com/upb/queue-trigger-api/cognito"
	"github.com/upb/queue-trigger-api/utils"
	"go.uber.org/zap"
)

// DefaultTokenHeader carries the identity token when no header is configured.
// Authorization is left to the access token.
const DefaultTokenHeader = "X-Id-Token"

// Authenticator turns a raw header value into an identity
type Authenticator interface {
	// Authenticate returns an identity or an *auth.Failure
	Authenticate(ctx context.Context, rawHeader string) (*cognito.Identity, error)
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	authenticator Authenticator
	header        string
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware reading the token from header
func NewAuthMiddleware(authenticator Authenticator, header string, logger *zap.Logger) *AuthMiddleware {
	if header == "" {
		header = DefaultTokenHeader
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthMiddleware{
		authenticator: authenticator,
		header:        header,
		logger:        logger,
	}
}

// Header returns the name of the header the token is read from
func (m *AuthMiddleware) Header() string {
	return m.header
}

// RequireIdentity is a middleware that requires a verified identity token.
// Failures are rendered here; the authenticator has already logged them.
func (m *AuthMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := m.authenticator.Authenticate(ctx, r.Header.Get(m.header))
		if err != nil {
			m.writeFailure(w, r, err)
			return
		}
		if identity == nil {
			m.logger.Error("authenticator returned neither identity nor error",
				zap.String("request_id", GetRequestIDFromContext(ctx)))
			_ = utils.WriteInternalServerError(w, "")
			return
		}

		m.logger.Debug("identity attached to request",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.String("sub", identity.ID))

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

func (m *AuthMiddleware) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var failure *auth.Failure
	if !errors.As(err, &failure) {
		m.logger.Error("unexpected authentication error",
			zap.String("request_id", GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	if failure.StatusCode() == http.StatusInternalServerError {
		_ = utils.WriteInternalServerError(w, failure.PublicMessage())
		return
	}

	if failure.Reason == auth.ReasonNoToken {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	_ = utils.WriteUnauthorized(w, failure.PublicMessage(), map[string]interface{}{
		"reason": string(failure.Reason),
	})
}
