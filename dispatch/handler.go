package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"github.com/upb/queue-trigger-api/services"
	"go.uber.org/zap"
)

var _ lambda.Handler = (*Handler)(nil)

// Handler is the Lambda entry point. It classifies each payload and routes
// it to the HTTP router or the queue replayer.
type Handler struct {
	router   http.Handler
	replayer *Replayer
	basePath string
	logger   *zap.Logger
}

// NewHandler creates a Handler. basePath, when set, is stripped from
// incoming API Gateway paths.
func NewHandler(router http.Handler, basePath string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		router:   router,
		replayer: NewReplayer(router, basePath, logger),
		basePath: basePath,
		logger:   logger,
	}
}

// Invoke implements lambda.Handler. Handled failures become HTTP-shaped
// responses; a nil error is returned for everything except encoding faults.
func (h *Handler) Invoke(ctx context.Context, payload []byte) (response []byte, err error) {
	requestID := invocationID(ctx)
	logger := h.logger.With(zap.String("request_id", requestID))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("panic while processing event", zap.Any("panic", p))
			response, err = internalError()
		}
	}()

	kind := Classify(payload)
	logger.Info("received event", zap.String("kind", string(kind)), zap.Int("bytes", len(payload)))

	switch kind {
	case EventQueue:
		return h.handleQueue(ctx, payload, requestID, logger)
	case EventHTTPv1:
		return h.handleV1(ctx, payload, logger)
	case EventHTTPv2:
		return h.handleV2(ctx, payload, logger)
	default:
		keys := eventKeys(payload)
		logger.Warn("unknown event type", zap.Strings("event_keys", keys))
		return marshalProxyResponse(http.StatusBadRequest, map[string]interface{}{
			"error":      services.GetErrorMessage(services.ErrUnknownEventType),
			"event_keys": keys,
		})
	}
}

func (h *Handler) handleQueue(ctx context.Context, payload []byte, requestID string, logger *zap.Logger) ([]byte, error) {
	var event events.SQSEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error("failed to decode SQS event", zap.Error(err))
		return internalError()
	}

	summary := h.replayer.Replay(ctx, event, requestID)
	logger.Info("processed queue records", zap.Int("processed_count", summary.ProcessedCount))
	return marshalProxyResponse(http.StatusOK, summary)
}

func (h *Handler) handleV1(ctx context.Context, payload []byte, logger *zap.Logger) ([]byte, error) {
	var event events.APIGatewayProxyRequest
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error("failed to decode API Gateway v1 event", zap.Error(err))
		return internalError()
	}

	req, err := requestFromV1(ctx, event, h.basePath)
	if err != nil {
		logger.Warn("failed to convert API Gateway v1 event", zap.Error(err))
		return marshalProxyResponse(http.StatusBadRequest, map[string]string{"error": "Malformed request"})
	}

	return json.Marshal(responseV1(serve(h.router, req)))
}

func (h *Handler) handleV2(ctx context.Context, payload []byte, logger *zap.Logger) ([]byte, error) {
	var event events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(payload, &event); err != nil {
		logger.Error("failed to decode API Gateway v2 event", zap.Error(err))
		return internalError()
	}

	req, err := requestFromV2(ctx, event, h.basePath)
	if err != nil {
		logger.Warn("failed to convert API Gateway v2 event", zap.Error(err))
		resp, _ := marshalBody(map[string]string{"error": "Malformed request"})
		return json.Marshal(events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       resp,
		})
	}

	return json.Marshal(responseV2(serve(h.router, req)))
}

// invocationID is the Lambda request id, or a fresh UUID outside Lambda.
func invocationID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}

func marshalBody(body interface{}) (string, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode response body: %w", err)
	}
	return string(encoded), nil
}

func marshalProxyResponse(status int, body interface{}) ([]byte, error) {
	encoded, err := marshalBody(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       encoded,
	})
}

// internalError never carries the cause; it has already been logged.
func internalError() ([]byte, error) {
	return marshalProxyResponse(http.StatusInternalServerError, map[string]string{
		"error": "Internal server error",
	})
}
