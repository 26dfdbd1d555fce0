package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/pagination"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

const contentTypeJSON = "application/json"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ListResponse is the body of a list read. ContinuationToken is null once
// the read is exhausted.
type ListResponse struct {
	Items             []product.Product `json:"items"`
	ContinuationToken *string           `json:"continuation_token"`
}

func newListResponse(page pagination.Page) ListResponse {
	res := ListResponse{Items: page.Items}
	if res.Items == nil {
		res.Items = []product.Product{}
	}
	if page.ContinuationToken != "" {
		token := page.ContinuationToken
		res.ContinuationToken = &token
	}
	return res
}

func writeJSON(w http.ResponseWriter, logger zerolog.Logger, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn().Err(err).Msg("error encoding response")
	}
}

// writeError maps err onto its HTTP status. Store and transport detail is
// never sent to the client for 5xx responses.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	se := store.AsError("", err)
	status := se.Kind.Status()
	if se.Status == http.StatusRequestEntityTooLarge {
		status = se.Status
	}
	body := ErrorResponse{Error: se.Kind.String(), Message: se.Message}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
		body.Message = "store unavailable"
	}
	writeJSON(w, logger, status, body)
}

// formatETag renders a version tag as an HTTP entity tag.
func formatETag(etag string) string {
	return `"` + etag + `"`
}

// parseETag extracts the version tag from an If-Match header. "*" and an
// absent header both yield "".
func parseETag(header string) string {
	v := strings.TrimSpace(header)
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	if v == "*" {
		return ""
	}
	return v
}
