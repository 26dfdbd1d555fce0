// Package lambdafn serves the catalog API from AWS Lambda behind an API
// Gateway HTTP API (payload format 2.0).
package lambdafn

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
)

// Handler adapts API Gateway events to an http.Handler.
type Handler struct {
	handler http.Handler
	logger  zerolog.Logger
}

// NewHandler creates a new Lambda handler around h.
func NewHandler(h http.Handler, logger zerolog.Logger) *Handler {
	return &Handler{
		handler: h,
		logger:  logger,
	}
}

// Handle serves one API Gateway request.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	req, err := toRequest(ctx, event)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("request_id", event.RequestContext.RequestID).
			Msg("rejecting malformed gateway event")
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusBadRequest,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"error":"invalid_request","message":"malformed request"}`,
		}, nil
	}

	rec := newRecorder()
	h.handler.ServeHTTP(rec, req)

	h.logger.Debug().
		Str("request_id", event.RequestContext.RequestID).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status_code", rec.status).
		Msg("gateway request served")

	return rec.response(), nil
}

// toRequest converts a gateway event to an *http.Request.
func toRequest(ctx context.Context, event events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		body = decoded
	}

	method := event.RequestContext.HTTP.Method
	if method == "" {
		return nil, fmt.Errorf("missing method")
	}
	path := event.RawPath
	if path == "" {
		path = event.RequestContext.HTTP.Path
	}
	target := path
	if event.RawQueryString != "" {
		target += "?" + event.RawQueryString
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range event.Headers {
		req.Header.Set(k, v)
	}
	if len(event.Cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	req.RemoteAddr = event.RequestContext.HTTP.SourceIP
	req.RequestURI = target
	return req, nil
}

// recorder is a minimal http.ResponseWriter buffering the response.
type recorder struct {
	header      http.Header
	body        bytes.Buffer
	status      int
	wroteHeader bool
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *recorder) Write(p []byte) (int, error) {
	r.WriteHeader(http.StatusOK)
	return r.body.Write(p)
}

func (r *recorder) response() events.APIGatewayV2HTTPResponse {
	headers := make(map[string]string, len(r.header))
	for k, v := range r.header {
		if k == "Set-Cookie" {
			// Cookie values may contain commas; API Gateway wants them apart.
			continue
		}
		headers[k] = strings.Join(v, ",")
	}
	return events.APIGatewayV2HTTPResponse{
		StatusCode: r.status,
		Headers:    headers,
		Cookies:    r.header.Values("Set-Cookie"),
		Body:       r.body.String(),
	}
}
