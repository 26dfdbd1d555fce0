// Package pagination serves list reads one page at a time with opaque,
// forward-only continuation tokens.
package pagination

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/internal/cursor"
	"github.com/jacentio/catalog/internal/metrics"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

// Config bounds page sizes.
type Config struct {
	// DefaultPageSize is used when the caller doesn't ask for a size.
	// Default: 50
	DefaultPageSize int

	// MaxPageSize is the largest page a caller may request.
	// Default: 100
	MaxPageSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{DefaultPageSize: 50, MaxPageSize: 100}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.MaxPageSize < 1 {
		c.MaxPageSize = 100
	}
	if c.DefaultPageSize < 1 {
		c.DefaultPageSize = 50
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
}

// Filter selects which items a list read returns. The zero value matches
// every item.
type Filter struct {
	key string
}

// ByPartition matches items whose partition key equals key, ignoring case.
func ByPartition(key string) Filter {
	return Filter{key: product.NormalizeKey(key)}
}

// PartitionKey returns the normalized key, or "" for an unfiltered read.
func (f Filter) PartitionKey() string {
	return f.key
}

// Page is one page of items. An empty ContinuationToken means there is
// nothing more to read; a page may be empty while a token is still present.
type Page struct {
	Items             []product.Product
	ContinuationToken string
}

// Manager reads pages from the store.
type Manager struct {
	store  store.Store
	config Config
	logger zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(s store.Store, config Config, logger zerolog.Logger) *Manager {
	config.validate()
	return &Manager{
		store:  s,
		config: config,
		logger: logger,
	}
}

// ListPage returns exactly one store page. An empty token starts a fresh
// read; otherwise the token must have been issued for the same filter and
// page size. A pageSize of 0 selects the default.
func (m *Manager) ListPage(ctx context.Context, filter Filter, token string, pageSize int) (Page, error) {
	if pageSize == 0 {
		pageSize = m.config.DefaultPageSize
	}
	if pageSize < 1 || pageSize > m.config.MaxPageSize {
		return Page{}, store.Invalid("list", "page size must be between 1 and %d", m.config.MaxPageSize)
	}

	fingerprint := cursor.Fingerprint(filter.key, pageSize)
	var start string
	if token != "" {
		t, err := cursor.Decode(token)
		if err != nil {
			return Page{}, store.Invalid("list", "malformed continuation token")
		}
		if t.Fingerprint != fingerprint {
			return Page{}, store.Invalid("list", "continuation token was issued for a different filter or page size")
		}
		start = t.Store
	}

	qp, err := m.store.Query(ctx, store.QueryRequest{
		PartitionKey: filter.key,
		Limit:        pageSize,
		StartToken:   start,
	})
	if err != nil {
		se := store.AsError("list", err)
		if se.Kind == store.KindStoreUnavailable {
			m.logger.Error().Err(err).Str("partition", filter.key).Msg("list query failed")
		}
		return Page{}, se
	}

	page := Page{Items: make([]product.Product, 0, len(qp.Documents))}
	for _, doc := range qp.Documents {
		p, err := product.FromDocument(doc)
		if err != nil {
			metrics.PageRecordsSkipped.Inc()
			m.logger.Warn().Err(err).
				Str("id", doc.ID()).
				Str("partition", filter.key).
				Msg("skipping invalid record")
			continue
		}
		page.Items = append(page.Items, p)
	}
	if qp.NextToken != "" {
		page.ContinuationToken = cursor.Encode(cursor.Token{
			Fingerprint: fingerprint,
			Store:       qp.NextToken,
		})
	}
	return page, nil
}
