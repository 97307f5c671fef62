package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// Envelope sources written by the API Gateway to SQS integrations
const (
	SourceAPIGatewayV1 = "ApiGatewayV1SQSLambda"
	SourceHTTPAPIV2    = "HttpApiV2SQSLambda"
)

const sqsEventSource = "aws:sqs"

// Per-message outcomes reported in the replay summary
const (
	StatusProcessed     = "processed"
	StatusProcessedText = "processed_as_text"
	StatusReplayed      = "processed_via_router"
	StatusUnknownSource = "unknown_source"
	StatusError         = "error"
	StatusReplayFailed  = "router_error"
)

const (
	defaultReplayPath    = "/webhook"
	defaultReplayMethod  = http.MethodPost
	defaultV1ContentType = "application/json"
)

// Envelope is the JSON body an API Gateway integration puts on the queue.
// Headers, Path and Method are optional; without them the message is
// replayed as POST /webhook.
type Envelope struct {
	Source        string            `json:"source"`
	JSONPayload   json.RawMessage   `json:"jsonPayload,omitempty"`
	Base64Payload string            `json:"base64payload,omitempty"`
	ContentType   string            `json:"contentType,omitempty"`
	MessageBody   json.RawMessage   `json:"MessageBody,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Path          string            `json:"path,omitempty"`
	Method        string            `json:"method,omitempty"`
}

// MessageResult reports what happened to one queue record
type MessageResult struct {
	MessageID      string      `json:"messageId"`
	Body           interface{} `json:"body"`
	Status         string      `json:"status"`
	Source         string      `json:"source,omitempty"`
	ResponseStatus int         `json:"response_status,omitempty"`
	ResponseBody   interface{} `json:"response_body,omitempty"`
	Error          string      `json:"error,omitempty"`
}

// Summary is the body returned for a queue invocation
type Summary struct {
	Message        string          `json:"message"`
	ProcessedCount int             `json:"processed_count"`
	Messages       []MessageResult `json:"messages"`
	RequestID      string          `json:"request_id"`
}

// Replayer rebuilds HTTP requests from queued envelopes and serves them
// through the router, so replayed requests pass the same authentication.
type Replayer struct {
	router   http.Handler
	basePath string
	logger   *zap.Logger
}

// NewReplayer creates a Replayer for the given router
func NewReplayer(router http.Handler, basePath string, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replayer{router: router, basePath: basePath, logger: logger}
}

// Replay processes every SQS record in order. Records from other event
// sources are skipped. A failing record never stops the batch.
func (r *Replayer) Replay(ctx context.Context, event events.SQSEvent, requestID string) Summary {
	results := make([]MessageResult, 0, len(event.Records))

	for _, record := range event.Records {
		if record.EventSource != sqsEventSource {
			r.logger.Debug("skipping non-sqs record", zap.String("event_source", record.EventSource))
			continue
		}
		results = append(results, r.processRecord(ctx, record))
	}

	return Summary{
		Message:        "SQS messages processed successfully",
		ProcessedCount: len(results),
		Messages:       results,
		RequestID:      requestID,
	}
}

func (r *Replayer) processRecord(ctx context.Context, record events.SQSMessage) MessageResult {
	messageID := record.MessageId
	if messageID == "" {
		messageID = "unknown"
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(record.Body), &parsed); err != nil {
		r.logger.Info("queue message is not JSON", zap.String("message_id", messageID))
		return MessageResult{MessageID: messageID, Body: record.Body, Status: StatusProcessedText}
	}

	source, isEnvelope := envelopeSource(parsed)
	if !isEnvelope {
		return MessageResult{MessageID: messageID, Body: parsed, Status: StatusProcessed}
	}

	r.logger.Info("replaying API Gateway envelope",
		zap.String("message_id", messageID),
		zap.String("source", source))

	var envelope Envelope
	if err := json.Unmarshal([]byte(record.Body), &envelope); err != nil {
		return MessageResult{MessageID: messageID, Body: parsed, Status: StatusError, Error: err.Error()}
	}

	return r.replay(ctx, messageID, parsed, envelope)
}

func (r *Replayer) replay(ctx context.Context, messageID string, parsed interface{}, envelope Envelope) (result MessageResult) {
	result = MessageResult{MessageID: messageID, Body: parsed, Source: envelope.Source}

	var body, contentType string
	switch envelope.Source {
	case SourceAPIGatewayV1:
		body, contentType = v1Body(envelope), envelope.ContentType
		if contentType == "" {
			contentType = defaultV1ContentType
		}
	case SourceHTTPAPIV2:
		body, contentType = v2Body(envelope), "application/json"
	default:
		result.Status = StatusUnknownSource
		return result
	}

	req, err := r.buildRequest(ctx, messageID, envelope, body, contentType)
	if err != nil {
		r.logger.Warn("failed to rebuild request", zap.String("message_id", messageID), zap.Error(err))
		result.Status = StatusError
		result.Error = err.Error()
		return result
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("router panicked during replay",
				zap.String("message_id", messageID),
				zap.Any("panic", p))
			result.Status = StatusReplayFailed
			result.Error = "replayed request failed"
			result.ResponseStatus = 0
			result.ResponseBody = nil
		}
	}()

	rec := serve(r.router, req)
	result.Status = StatusReplayed
	result.ResponseStatus = rec.Code
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		var decoded interface{}
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err == nil {
			result.ResponseBody = decoded
			return result
		}
	}
	result.ResponseBody = rec.Body.String()
	return result
}

func (r *Replayer) buildRequest(ctx context.Context, messageID string, envelope Envelope, body, contentType string) (*http.Request, error) {
	method := strings.ToUpper(envelope.Method)
	if method == "" {
		method = defaultReplayMethod
	}
	path := envelope.Path
	if path == "" {
		path = defaultReplayPath
	}

	req, err := http.NewRequestWithContext(ctx, method, StripBasePath(path, r.basePath), bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, fmt.Errorf("invalid replay target %s %s: %w", method, path, err)
	}
	for name, value := range envelope.Headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("Content-Type", contentType)
	if req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, messageID)
	}
	req.RequestURI = req.URL.RequestURI()
	return req, nil
}

// envelopeSource reports whether a parsed body is an API Gateway envelope.
func envelopeSource(parsed interface{}) (string, bool) {
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return "", false
	}
	source, ok := obj["source"].(string)
	if !ok {
		return "", false
	}
	return source, source == SourceAPIGatewayV1 || source == SourceHTTPAPIV2
}

// v1Body prefers the base64 payload and falls back to its raw text when it
// does not decode to UTF-8. An empty jsonPayload yields an empty body.
func v1Body(envelope Envelope) string {
	if envelope.Base64Payload != "" {
		decoded, err := base64.StdEncoding.DecodeString(envelope.Base64Payload)
		if err != nil || !utf8.Valid(decoded) {
			return envelope.Base64Payload
		}
		return string(decoded)
	}
	if isEmptyJSON(envelope.JSONPayload) {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, envelope.JSONPayload); err != nil {
		return string(envelope.JSONPayload)
	}
	return compact.String()
}

// v2Body returns MessageBody as sent. A JSON string is unquoted; any other
// JSON value is forwarded as its encoding.
func v2Body(envelope Envelope) string {
	if len(envelope.MessageBody) == 0 || string(envelope.MessageBody) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(envelope.MessageBody, &s); err == nil {
		return s
	}
	return string(envelope.MessageBody)
}
