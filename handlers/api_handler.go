package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/upb/queue-trigger-api/middleware"
	"github.com/upb/queue-trigger-api/services"
	"github.com/upb/queue-trigger-api/utils"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the bytes read from a webhook request.
const maxWebhookBody = 1 << 20

const redacted = "[redacted]"

// APIHandler serves the application's own routes
type APIHandler struct {
	redactHeaders map[string]struct{}
	logger        *zap.Logger
}

// NewAPIHandler creates an APIHandler. Values of redactHeaders are masked
// when request headers are echoed back, as are Authorization and Cookie.
func NewAPIHandler(logger *zap.Logger, redactHeaders ...string) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	redact := map[string]struct{}{"Authorization": {}, "Cookie": {}}
	for _, name := range redactHeaders {
		if name != "" {
			redact[http.CanonicalHeaderKey(name)] = struct{}{}
		}
	}
	return &APIHandler{redactHeaders: redact, logger: logger}
}

// WebhookResponse is the body returned by POST /webhook
type WebhookResponse struct {
	Message string            `json:"message"`
	Data    interface{}       `json:"data"`
	Headers map[string]string `json:"headers"`
}

// APIResponse is the body returned by GET /api/*
type APIResponse struct {
	Message     string            `json:"message"`
	Method      string            `json:"method"`
	QueryParams map[string]string `json:"query_params"`
	Path        string            `json:"path"`
	User        interface{}       `json:"user"`
}

// HandleRoot handles GET /
func (h *APIHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "Hello from the queue trigger API!"})
}

// HandleWebhook handles POST /webhook
// JSON bodies are echoed as data; anything else is returned under raw_body.
func (h *APIHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleServiceError(w, services.NewDomainError(services.ErrorTypeValidation,
				"request body too large", err), h.logger)
			return
		}
		HandleServiceError(w, services.WrapInternal("failed to read webhook body", err), h.logger)
		return
	}

	var data interface{} = map[string]interface{}{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &data); err != nil {
			data = map[string]interface{}{"raw_body": string(body)}
		}
	}

	h.logger.Info("webhook received",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int("bytes", len(body)))

	_ = utils.WriteJSON(w, http.StatusOK, WebhookResponse{
		Message: "Webhook received",
		Data:    data,
		Headers: h.flattenHeaders(r),
	})
}

// HandleAPI handles GET /api/*
// Mounted behind AuthMiddleware.RequireIdentity, so an identity is present.
func (h *APIHandler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	path := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	query := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			query[key] = values[len(values)-1]
		}
	}

	_ = utils.WriteJSON(w, http.StatusOK, APIResponse{
		Message:     "API endpoint: /" + path,
		Method:      r.Method,
		QueryParams: query,
		Path:        path,
		User:        identity,
	})
}

// HandleNotFound is the router's fallback
func (h *APIHandler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	HandleServiceError(w, services.ErrRouteNotFound, h.logger)
}

func (h *APIHandler) flattenHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header)+1)
	for name, values := range r.Header {
		if _, ok := h.redactHeaders[name]; ok {
			headers[strings.ToLower(name)] = redacted
			continue
		}
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	if r.Host != "" {
		headers["host"] = r.Host
	}
	return headers
}
