package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
)

// requestIDHeader is read by chi's RequestID middleware
const requestIDHeader = "X-Request-Id"

// StripBasePath removes an API mapping prefix such as "/pipeline-1".
// Paths outside the prefix are returned unchanged.
func StripBasePath(path, basePath string) string {
	basePath = strings.TrimRight(basePath, "/")
	if basePath == "" {
		return ensureLeadingSlash(path)
	}
	if path == basePath {
		return "/"
	}
	if strings.HasPrefix(path, basePath+"/") {
		return path[len(basePath):]
	}
	return ensureLeadingSlash(path)
}

func ensureLeadingSlash(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}

func decodeBody(body string, isBase64 bool) ([]byte, error) {
	if !isBase64 {
		return []byte(body), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 body: %w", err)
	}
	return decoded, nil
}

// encodeBody returns text bodies as-is and base64-encodes everything else.
func encodeBody(body []byte) (string, bool) {
	if utf8.Valid(body) {
		return string(body), false
	}
	return base64.StdEncoding.EncodeToString(body), true
}

// requestFromV1 builds an *http.Request from a REST API (v1) proxy event.
func requestFromV1(ctx context.Context, e events.APIGatewayProxyRequest, basePath string) (*http.Request, error) {
	body, err := decodeBody(e.Body, e.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if len(e.MultiValueQueryStringParameters) > 0 {
		for key, values := range e.MultiValueQueryStringParameters {
			for _, v := range values {
				query.Add(key, v)
			}
		}
	} else {
		for key, v := range e.QueryStringParameters {
			query.Set(key, v)
		}
	}

	u := url.URL{Path: StripBasePath(e.Path, basePath), RawQuery: query.Encode()}
	req, err := http.NewRequestWithContext(ctx, e.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if len(e.MultiValueHeaders) > 0 {
		for name, values := range e.MultiValueHeaders {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	} else {
		for name, v := range e.Headers {
			req.Header.Set(name, v)
		}
	}

	finishRequest(req, e.RequestContext.Identity.SourceIP, e.RequestContext.RequestID)
	return req, nil
}

// requestFromV2 builds an *http.Request from an HTTP API (v2) event.
func requestFromV2(ctx context.Context, e events.APIGatewayV2HTTPRequest, basePath string) (*http.Request, error) {
	body, err := decodeBody(e.Body, e.IsBase64Encoded)
	if err != nil {
		return nil, err
	}

	// rawPath is still percent-encoded; parsing the target decodes it once.
	rawPath := e.RawPath
	if rawPath == "" {
		rawPath = (&url.URL{Path: e.RequestContext.HTTP.Path}).EscapedPath()
	}
	target := StripBasePath(rawPath, basePath)
	if e.RawQueryString != "" {
		target += "?" + e.RawQueryString
	}

	req, err := http.NewRequestWithContext(ctx, e.RequestContext.HTTP.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for name, v := range e.Headers {
		req.Header.Set(name, v)
	}
	if len(e.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(e.Cookies, "; "))
	}

	finishRequest(req, e.RequestContext.HTTP.SourceIP, e.RequestContext.RequestID)
	return req, nil
}

func finishRequest(req *http.Request, sourceIP, requestID string) {
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
	}
	if sourceIP != "" {
		req.RemoteAddr = sourceIP + ":0"
	}
	if requestID != "" && req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, requestID)
	}
	req.RequestURI = req.URL.RequestURI()
}

// serve runs the request through the router and captures the response.
func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func responseV1(rec *httptest.ResponseRecorder) events.APIGatewayProxyResponse {
	res := rec.Result()
	body, isBase64 := encodeBody(rec.Body.Bytes())

	headers := make(map[string]string, len(res.Header))
	multi := make(map[string][]string, len(res.Header))
	for name, values := range res.Header {
		headers[name] = strings.Join(values, ",")
		multi[name] = append([]string(nil), values...)
	}

	return events.APIGatewayProxyResponse{
		StatusCode:        res.StatusCode,
		Headers:           headers,
		MultiValueHeaders: multi,
		Body:              body,
		IsBase64Encoded:   isBase64,
	}
}

func responseV2(rec *httptest.ResponseRecorder) events.APIGatewayV2HTTPResponse {
	res := rec.Result()
	body, isBase64 := encodeBody(rec.Body.Bytes())

	headers := make(map[string]string, len(res.Header))
	var cookies []string
	for name, values := range res.Header {
		if name == "Set-Cookie" {
			cookies = append(cookies, values...)
			continue
		}
		headers[name] = strings.Join(values, ",")
	}

	return events.APIGatewayV2HTTPResponse{
		StatusCode:      res.StatusCode,
		Headers:         headers,
		Body:            body,
		IsBase64Encoded: isBase64,
		Cookies:         cookies,
	}
}
