// Package api exposes the catalog over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/batch"
	"github.com/jacentio/catalog/pagination"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	maxBodyBytes           = 4 << 20
)

// Catalog is the service the API fronts.
type Catalog interface {
	Get(ctx context.Context, id, partitionKey string) (product.Product, error)
	Create(ctx context.Context, d product.Draft) (product.Product, error)
	Update(ctx context.Context, id, partitionKey string, patch map[string]any, expectedETag string) (product.Product, error)
	Delete(ctx context.Context, id, partitionKey, ifMatch string) error
	List(ctx context.Context, partitionKey, token string, pageSize int) (pagination.Page, error)
	Batch(ctx context.Context, requests []batch.WriteRequest) (batch.Result, error)
}

// Server is the catalog HTTP server.
type Server struct {
	catalog    Catalog
	logger     zerolog.Logger
	httpServer *http.Server
	addr       string
}

// NewServer creates a server that will listen on addr.
func NewServer(c Catalog, addr string, logger zerolog.Logger) *Server {
	return &Server{
		catalog: c,
		logger:  logger,
		addr:    addr,
	}
}

// Handler returns the router, for embedding in other servers and for tests.
func (s *Server) Handler() http.Handler {
	return s.createRouter()
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.createRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server started")
	return nil
}

// Stop drains in-flight requests, giving up after timeout.
func (s *Server) Stop(timeout time.Duration) error {
	if s.httpServer == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/livez", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/items", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)

		r.Post("/batch", s.handleBatchCreate)
		r.Patch("/batch", s.handleBatchUpdate)
		r.Delete("/batch", s.handleBatchDelete)

		r.Get("/{id}", s.handleGet)
		r.Patch("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageSize := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, s.logger, store.Invalid("list", "limit must be an integer"))
			return
		}
		pageSize = n
		if pageSize == 0 {
			writeError(w, s.logger, store.Invalid("list", "limit must be positive"))
			return
		}
	}

	page, err := s.catalog.List(r.Context(), q.Get("key"), q.Get("token"), pageSize)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, newListResponse(page))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.catalog.Get(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("ETag", formatETag(p.ETag))
	writeJSON(w, s.logger, http.StatusOK, p)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var d product.Draft
	if err := decodeBody(w, r, &d); err != nil {
		writeError(w, s.logger, err)
		return
	}
	p, err := s.catalog.Create(r.Context(), d)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("ETag", formatETag(p.ETag))
	w.Header().Set("Location", "/items/"+p.ID+"?key="+url.QueryEscape(p.Category))
	writeJSON(w, s.logger, http.StatusCreated, p)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, s.logger, err)
		return
	}
	etag := parseETag(r.Header.Get("If-Match"))
	if etag == "" {
		writeError(w, s.logger, store.Invalid("update", "If-Match header with the expected version tag is required"))
		return
	}

	p, err := s.catalog.Update(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("key"), patch, etag)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.Header().Set("ETag", formatETag(p.ETag))
	writeJSON(w, s.logger, http.StatusOK, p)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.catalog.Delete(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("key"), parseETag(r.Header.Get("If-Match")))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateItem is one entry of a batch update body.
type UpdateItem struct {
	ID           string         `json:"id"`
	Key          string         `json:"key"`
	Patch        map[string]any `json:"patch"`
	ExpectedETag string         `json:"expected_version_tag"`
}

// DeleteItem is one entry of a batch delete body.
type DeleteItem struct {
	ID           string `json:"id"`
	Key          string `json:"key"`
	ExpectedETag string `json:"expected_version_tag,omitempty"`
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var drafts []product.Draft
	if err := decodeBody(w, r, &drafts); err != nil {
		writeError(w, s.logger, err)
		return
	}
	reqs := make([]batch.WriteRequest, len(drafts))
	for i, d := range drafts {
		reqs[i] = batch.Create(d)
	}
	s.runBatch(w, r, reqs)
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var items []UpdateItem
	if err := decodeBody(w, r, &items); err != nil {
		writeError(w, s.logger, err)
		return
	}
	reqs := make([]batch.WriteRequest, len(items))
	for i, it := range items {
		reqs[i] = batch.Update(it.ID, it.Key, it.Patch, it.ExpectedETag)
	}
	s.runBatch(w, r, reqs)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var items []DeleteItem
	if err := decodeBody(w, r, &items); err != nil {
		writeError(w, s.logger, err)
		return
	}
	reqs := make([]batch.WriteRequest, len(items))
	for i, it := range items {
		reqs[i] = batch.Delete(it.ID, it.Key).IfMatch(it.ExpectedETag)
	}
	s.runBatch(w, r, reqs)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, reqs []batch.WriteRequest) {
	res, err := s.catalog.Batch(r.Context(), reqs)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, res)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			se := store.Invalid("decode", "request body exceeds %d bytes", tooLarge.Limit)
			se.Status = http.StatusRequestEntityTooLarge
			return se
		}
		return store.Invalid("decode", "invalid request body: %v", err)
	}
	return nil
}
