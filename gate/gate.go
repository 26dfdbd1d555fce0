// Package gate enforces optimistic concurrency on updates: a change is only
// applied when the caller's version tag still matches the stored one.
package gate

import (
	"context"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/internal/metrics"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

// Gate builds and submits ETag-guarded patches.
type Gate struct {
	store  store.Store
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a Gate over s.
func New(s store.Store, logger zerolog.Logger) *Gate {
	return &Gate{
		store:  s,
		now:    time.Now,
		logger: logger,
	}
}

// PatchOp builds the conditional patch for one update. Only the delta's
// fields and the modification time are written.
func (g *Gate) PatchOp(id string, delta product.Delta, expectedETag string) (store.Operation, error) {
	if !product.ValidID(id) {
		return store.Operation{}, store.Invalid("update", "id %q is not a valid item id", id)
	}
	if delta.Empty() {
		return store.Operation{}, store.Invalid("update", "patch has no fields")
	}
	if expectedETag == "" {
		return store.Operation{}, store.Invalid("update", "expected version tag is required")
	}

	set := delta.Fields()
	set = append(set, store.Field{
		Name:  product.AttrLastModified,
		Value: strfmt.DateTime(g.now().UTC()).String(),
	})
	return store.Operation{
		Kind:    store.OpPatch,
		ID:      id,
		Set:     set,
		IfMatch: expectedETag,
	}, nil
}

// ConditionalUpdate applies delta to the item if its ETag still equals
// expectedETag. A mismatch is reported as PreconditionFailed and never retried.
func (g *Gate) ConditionalUpdate(ctx context.Context, id, partitionKey string, delta product.Delta, expectedETag string) (product.Product, error) {
	op, err := g.PatchOp(id, delta, expectedETag)
	if err != nil {
		metrics.ConditionalUpdates.WithLabelValues("invalid").Inc()
		return product.Product{}, err
	}
	key := product.NormalizeKey(partitionKey)
	if key == "" {
		metrics.ConditionalUpdates.WithLabelValues("invalid").Inc()
		return product.Product{}, store.Invalid("update", "partition key is required")
	}

	doc, err := g.store.Patch(ctx, id, key, op.Set, op.IfMatch)
	if err != nil {
		se := store.AsError("update", err)
		metrics.ConditionalUpdates.WithLabelValues(se.Kind.String()).Inc()
		ev := g.logger.Debug()
		if se.Kind == store.KindStoreUnavailable {
			ev = g.logger.Error()
		}
		ev.Err(err).
			Str("id", id).
			Str("partition", key).
			Int("status", se.Status).
			Msg("conditional update failed")
		return product.Product{}, se
	}

	p, err := product.FromDocument(doc)
	if err != nil {
		// The write is applied; report it even if the stored record is odd.
		g.logger.Warn().Err(err).Str("id", id).Msg("updated record failed validation")
		p = product.Partial(doc, id, key)
	}
	metrics.ConditionalUpdates.WithLabelValues("applied").Inc()
	return p, nil
}
