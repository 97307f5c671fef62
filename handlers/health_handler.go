package handlers

import (
	"net/http"
	"time"

	"github.com/upb/queue-trigger-api/cognito"
	"github.com/upb/queue-trigger-api/services"
	"github.com/upb/queue-trigger-api/utils"
	"go.uber.org/zap"
)

// TrustSource exposes the published trust configuration
type TrustSource interface {
	Load() (cognito.TrustConfig, bool)
}

// KeyCache reports key set cache statistics
type KeyCache interface {
	CacheStats() map[string]interface{}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks,omitempty"`
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	trust  TrustSource
	keys   KeyCache
	logger *zap.Logger
	now    func() time.Time
}

// NewHealthHandler creates a new HealthHandler. keys may be nil.
func NewHealthHandler(trust TrustSource, keys KeyCache, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		trust:  trust,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
}

// HandleHealth handles GET /health
// Liveness only; always 200 while the process serves requests.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// HandleReadiness handles GET /readyz
// Ready once a complete trust configuration has been published.
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.trust == nil {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeUnavailable,
			"trust configuration not published", services.ErrTrustNotConfigured), h.logger)
		return
	}

	cfg, ok := h.trust.Load()
	if !ok {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeUnavailable,
			"trust configuration not published", services.ErrTrustNotConfigured), h.logger)
		return
	}

	if problems := cfg.Problems(); len(problems) > 0 {
		HandleServiceError(w, services.NewDomainError(services.ErrorTypeUnavailable,
			services.ErrTrustNotConfigured.Message, services.ErrTrustNotConfigured).
			WithDetail("problems", problems), h.logger)
		return
	}

	checks := map[string]interface{}{
		"issuer":    cfg.Anchor.Issuer(),
		"audiences": len(cfg.Audiences),
	}
	if h.keys != nil {
		checks["key_cache"] = h.keys.CacheStats()
	}

	if err := utils.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ready",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}
