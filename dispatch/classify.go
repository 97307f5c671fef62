// Package dispatch adapts Lambda invocations to the HTTP route table.
// API Gateway events are served directly; SQS records that carry an
// API Gateway envelope are replayed through the same router.
package dispatch

import (
	"bytes"
	"encoding/json"
	"sort"
)

// EventKind is the source an invocation payload came from
type EventKind string

const (
	EventQueue   EventKind = "sqs"
	EventHTTPv1  EventKind = "api_gateway_v1"
	EventHTTPv2  EventKind = "api_gateway_v2"
	EventUnknown EventKind = "unknown"
)

// Classify inspects the top-level keys of a payload. Queue events win over
// HTTP shapes; payloads that are not JSON objects are unknown.
func Classify(payload []byte) EventKind {
	fields, ok := topLevel(payload)
	if !ok {
		return EventUnknown
	}

	if records, ok := fields["Records"]; ok && !isEmptyJSON(records) {
		return EventQueue
	}

	_, hasMethod := fields["httpMethod"]
	_, hasPath := fields["path"]
	if hasMethod && hasPath {
		return EventHTTPv1
	}

	if rc, ok := fields["requestContext"]; ok {
		if inner, ok := topLevel(rc); ok {
			if _, ok := inner["http"]; ok {
				return EventHTTPv2
			}
		}
	}

	_, hasVersion := fields["version"]
	_, hasRouteKey := fields["routeKey"]
	if hasVersion && hasRouteKey {
		return EventHTTPv2
	}

	return EventUnknown
}

// eventKeys lists the payload's top-level keys, sorted, for diagnostics.
func eventKeys(payload []byte) []string {
	fields, _ := topLevel(payload)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func topLevel(payload []byte) (map[string]json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// isEmptyJSON treats null, false, 0, "", [] and {} as empty.
func isEmptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "false", "0", `""`, "[]", "{}":
		return true
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	switch t := v.(type) {
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	case float64:
		return t == 0
	}
	return false
}
