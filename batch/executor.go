package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jacentio/catalog/gate"
	"github.com/jacentio/catalog/internal/metrics"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

// Outcome is the result of one request within its group.
type Outcome struct {
	Index        int
	Kind         store.OpKind
	ID           string
	PartitionKey string
	Succeeded    bool

	// Item is the persisted item after a create or update.
	Item *product.Product

	// Err classifies a failure.
	Err *store.Error

	// Unknown is set when the store may or may not have applied the write.
	Unknown bool
}

// Executor submits one partition group to the store.
type Executor struct {
	store  store.Store
	gate   *gate.Gate
	schema *product.Schema
	maxOps int
	now    func() time.Time
	newID  func() string
	logger zerolog.Logger
}

// NewExecutor creates an Executor. Updates are built through g so batched
// updates carry the same preconditions as single ones.
func NewExecutor(s store.Store, g *gate.Gate, schema *product.Schema, cfg Config, logger zerolog.Logger) *Executor {
	cfg.validate()
	return &Executor{
		store:  s,
		gate:   g,
		schema: schema,
		maxOps: cfg.MaxOpsPerBatch,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger,
	}
}

type pending struct {
	slot int
	op   store.Operation
}

// Execute runs every request of g and returns one outcome per entry, in
// entry order. Invalid requests fail without reaching the store; the rest are
// submitted in order, in chunks of at most MaxOpsPerBatch.
func (e *Executor) Execute(ctx context.Context, g Group) []Outcome {
	outcomes := make([]Outcome, len(g.Entries))
	queue := make([]pending, 0, len(g.Entries))

	for i, entry := range g.Entries {
		req := entry.Request
		outcomes[i] = Outcome{
			Index:        entry.Index,
			Kind:         req.Kind,
			ID:           req.ID,
			PartitionKey: g.PartitionKey,
		}
		op, err := e.prepare(g.PartitionKey, req)
		if err != nil {
			outcomes[i].Err = store.AsError(req.Kind.String(), err)
			continue
		}
		outcomes[i].ID = op.ID
		queue = append(queue, pending{slot: i, op: op})
	}

	for start := 0; start < len(queue); start += e.maxOps {
		end := min(start+e.maxOps, len(queue))
		e.submit(ctx, g.PartitionKey, queue[start:end], outcomes)
	}

	for _, o := range outcomes {
		result := "succeeded"
		switch {
		case o.Unknown:
			result = "unknown"
		case !o.Succeeded:
			result = "failed"
		}
		metrics.BatchOperations.WithLabelValues(o.Kind.String(), result).Inc()
	}
	return outcomes
}

func (e *Executor) prepare(key string, req WriteRequest) (store.Operation, error) {
	if key == "" {
		return store.Operation{}, store.Invalid(req.Kind.String(), "partition key is required")
	}

	switch req.Kind {
	case store.OpCreate:
		if err := req.Draft.Validate(); err != nil {
			return store.Operation{}, err
		}
		p := req.Draft.Product(e.newID(), e.now())
		return store.Operation{Kind: store.OpCreate, ID: p.ID, Document: p.Document()}, nil

	case store.OpPatch:
		delta, err := e.schema.NewDelta(req.Patch)
		if err != nil {
			return store.Operation{}, err
		}
		return e.gate.PatchOp(req.ID, delta, req.ExpectedETag)

	case store.OpDelete:
		if !product.ValidID(req.ID) {
			return store.Operation{}, store.Invalid("delete", "id %q is not a valid item id", req.ID)
		}
		return store.Operation{Kind: store.OpDelete, ID: req.ID, IfMatch: req.ExpectedETag}, nil
	}
	return store.Operation{}, store.Invalid("batch", "unknown request kind %d", req.Kind)
}

func (e *Executor) submit(ctx context.Context, key string, chunk []pending, outcomes []Outcome) {
	if err := ctx.Err(); err != nil {
		metrics.BatchSubmissions.WithLabelValues("skipped").Inc()
		e.failAll(chunk, outcomes, store.Unavailable("batch", err), true)
		return
	}

	ops := make([]store.Operation, len(chunk))
	for i, p := range chunk {
		ops[i] = p.op
	}

	results, err := e.store.BatchExecute(ctx, key, ops)
	if err != nil {
		var be *store.BatchError
		if errors.As(err, &be) && len(be.Results) == len(chunk) {
			metrics.BatchSubmissions.WithLabelValues("rejected").Inc()
			e.logger.Debug().
				Str("partition", key).
				Int("operations", len(chunk)).
				Int("failed_index", be.FailedIndex).
				Msg("store rejected batch")
			for i, p := range chunk {
				r := be.Results[i]
				status := r.Status
				if r.OK() {
					// Nothing in a rejected batch was applied.
					status = http.StatusFailedDependency
				}
				outcomes[p.slot].Err = store.FromStatus(p.op.Kind.String(), status, r.Message)
			}
			return
		}

		se := store.AsError("batch", err)
		unknown := se.Kind == store.KindStoreUnavailable
		if unknown {
			metrics.BatchSubmissions.WithLabelValues("unknown").Inc()
		} else {
			metrics.BatchSubmissions.WithLabelValues("rejected").Inc()
		}
		e.logger.Error().Err(err).
			Str("partition", key).
			Int("operations", len(chunk)).
			Bool("outcome_unknown", unknown).
			Msg("batch submission failed")
		e.failAll(chunk, outcomes, se, unknown)
		return
	}

	if len(results) != len(chunk) {
		metrics.BatchSubmissions.WithLabelValues("unknown").Inc()
		e.logger.Error().
			Str("partition", key).
			Int("operations", len(chunk)).
			Int("results", len(results)).
			Msg("store returned mismatched batch results")
		e.failAll(chunk, outcomes, store.Unavailable("batch",
			fmt.Errorf("store returned %d results for %d operations", len(results), len(chunk))), true)
		return
	}

	metrics.BatchSubmissions.WithLabelValues("committed").Inc()
	for i, p := range chunk {
		r := results[i]
		o := &outcomes[p.slot]
		if !r.OK() {
			o.Err = store.FromStatus(p.op.Kind.String(), r.Status, r.Message)
			continue
		}
		o.Succeeded = true
		if p.op.Kind == store.OpDelete {
			continue
		}
		item, err := product.FromDocument(r.Document)
		if err != nil {
			e.logger.Warn().Err(err).Str("id", p.op.ID).Msg("written record failed validation")
			item = product.Partial(r.Document, p.op.ID, key)
		}
		o.Item = &item
	}
}

func (e *Executor) failAll(chunk []pending, outcomes []Outcome, err *store.Error, unknown bool) {
	for _, p := range chunk {
		outcomes[p.slot].Err = err
		outcomes[p.slot].Unknown = unknown
	}
}
