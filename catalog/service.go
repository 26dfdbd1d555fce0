// Package catalog is the service layer behind the HTTP API: single-item
// reads and writes, ETag-guarded updates, batched writes and paged lists.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/batch"
	"github.com/jacentio/catalog/gate"
	"github.com/jacentio/catalog/pagination"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

// Config holds service settings.
type Config struct {
	Batch      batch.Config
	Pagination pagination.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Batch:      batch.DefaultConfig(),
		Pagination: pagination.DefaultConfig(),
	}
}

// Service implements the catalog operations on an injected store.
type Service struct {
	store   store.Store
	schema  *product.Schema
	gate    *gate.Gate
	batches *batch.Processor
	pages   *pagination.Manager
	now     func() time.Time
	newID   func() string
	logger  zerolog.Logger
}

// New wires a Service over s.
func New(s store.Store, cfg Config, logger zerolog.Logger) *Service {
	schema := product.DefaultSchema()
	g := gate.New(s, logger.With().Str("component", "gate").Logger())
	exec := batch.NewExecutor(s, g, schema, cfg.Batch, logger.With().Str("component", "batch").Logger())
	return &Service{
		store:   s,
		schema:  schema,
		gate:    g,
		batches: batch.NewProcessor(exec, cfg.Batch, logger.With().Str("component", "batch").Logger()),
		pages:   pagination.NewManager(s, cfg.Pagination, logger.With().Str("component", "pagination").Logger()),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logger,
	}
}

// Get returns one item.
func (s *Service) Get(ctx context.Context, id, partitionKey string) (product.Product, error) {
	key, err := itemKey("read", id, partitionKey)
	if err != nil {
		return product.Product{}, err
	}
	doc, err := s.store.Read(ctx, id, key)
	if err != nil {
		return product.Product{}, store.AsError("read", err)
	}
	p, err := product.FromDocument(doc)
	if err != nil {
		s.logger.Error().Err(err).Str("id", id).Str("partition", key).Msg("stored record failed validation")
		return product.Product{}, store.Unavailable("read", err)
	}
	return p, nil
}

// Create stores a new item and returns it with its first ETag.
func (s *Service) Create(ctx context.Context, d product.Draft) (product.Product, error) {
	if err := d.Validate(); err != nil {
		return product.Product{}, err
	}
	p := d.Product(s.newID(), s.now())
	doc, err := s.store.Create(ctx, p.Category, p.Document())
	if err != nil {
		return product.Product{}, store.AsError("create", err)
	}
	created, err := product.FromDocument(doc)
	if err != nil {
		s.logger.Warn().Err(err).Str("id", p.ID).Msg("created record failed validation")
		p.ETag = doc.ETag()
		return p, nil
	}
	return created, nil
}

// Update applies a raw patch if the item's ETag still equals expectedETag.
func (s *Service) Update(ctx context.Context, id, partitionKey string, patch map[string]any, expectedETag string) (product.Product, error) {
	delta, err := s.schema.NewDelta(patch)
	if err != nil {
		return product.Product{}, err
	}
	return s.gate.ConditionalUpdate(ctx, id, partitionKey, delta, expectedETag)
}

// Delete removes an item. A non-empty ifMatch makes the delete conditional.
func (s *Service) Delete(ctx context.Context, id, partitionKey, ifMatch string) error {
	key, err := itemKey("delete", id, partitionKey)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, key, ifMatch); err != nil {
		return store.AsError("delete", err)
	}
	return nil
}

// List returns one page of items, optionally restricted to a partition.
func (s *Service) List(ctx context.Context, partitionKey, token string, pageSize int) (pagination.Page, error) {
	filter := pagination.Filter{}
	if partitionKey != "" {
		key, err := product.ParseKey("list", partitionKey)
		if err != nil {
			return pagination.Page{}, err
		}
		filter = pagination.ByPartition(key)
	}
	return s.pages.ListPage(ctx, filter, token, pageSize)
}

// Batch runs a mixed write batch. Failed requests are reported in the
// result; the error is only set when the batch as a whole is rejected.
func (s *Service) Batch(ctx context.Context, requests []batch.WriteRequest) (batch.Result, error) {
	return s.batches.Run(ctx, requests)
}

func itemKey(op, id, partitionKey string) (string, error) {
	if !product.ValidID(id) {
		return "", store.Invalid(op, "id %q is not a valid item id", id)
	}
	return product.ParseKey(op, partitionKey)
}
