package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/catalog/gate"
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
	"github.com/jacentio/catalog/store/memstore"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// sequentialIDs is shared by concurrently running groups.
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("00000000-0000-4000-8000-%012d", n.Add(1))
	}
}

func newTestExecutor(s store.Store, maxOps int) *Executor {
	e := NewExecutor(s, gate.New(s, zerolog.Nop()), product.DefaultSchema(),
		Config{MaxOpsPerBatch: maxOps}, zerolog.Nop())
	e.now = func() time.Time { return testNow }
	e.newID = sequentialIDs()
	return e
}

func seed(t *testing.T, s store.Store, category string, n int) []product.Product {
	t.Helper()
	next := sequentialIDs()
	out := make([]product.Product, 0, n)
	for i := 0; i < n; i++ {
		id := "ffffffff" + next()[8:]
		p := product.Draft{Category: category, Name: fmt.Sprintf("item %d", i), Price: 1}.Product(id, testNow)
		doc, err := s.Create(context.Background(), p.Category, p.Document())
		require.NoError(t, err)
		p.ETag = doc.ETag()
		out = append(out, p)
	}
	return out
}

func group(key string, reqs ...WriteRequest) Group {
	g := Group{PartitionKey: key}
	for i, r := range reqs {
		g.Entries = append(g.Entries, Entry{Index: i, Request: r})
	}
	return g
}

func TestExecute_MixedGroupCommits(t *testing.T) {
	s := memstore.New()
	items := seed(t, s, "tools", 2)
	e := newTestExecutor(s, 100)

	outcomes := e.Execute(context.Background(), group("tools",
		Create(product.Draft{Category: "tools", Name: "Saw", Price: 20}),
		Update(items[0].ID, "tools", map[string]any{"price": 5.0}, items[0].ETag),
		Delete(items[1].ID, "tools").IfMatch(items[1].ETag),
	))
	require.Len(t, outcomes, 3)

	for i, o := range outcomes {
		assert.True(t, o.Succeeded, "outcome %d: %v", i, o.Err)
		assert.Nil(t, o.Err)
		assert.Equal(t, i, o.Index)
	}
	require.NotNil(t, outcomes[0].Item)
	assert.Equal(t, "Saw", outcomes[0].Item.Name)
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", outcomes[0].ID)
	require.NotNil(t, outcomes[1].Item)
	assert.Equal(t, 5.0, outcomes[1].Item.Price)
	assert.NotEqual(t, items[0].ETag, outcomes[1].Item.ETag)
	assert.Nil(t, outcomes[2].Item)

	assert.Equal(t, []int{3}, s.BatchSizes())
	assert.Equal(t, 2, s.Len())
}

func TestExecute_OneFailureRollsBackGroup(t *testing.T) {
	s := memstore.New()
	items := seed(t, s, "tools", 2)
	e := newTestExecutor(s, 100)

	outcomes := e.Execute(context.Background(), group("tools",
		Create(product.Draft{Category: "tools", Name: "Saw", Price: 20}),
		Update(items[0].ID, "tools", map[string]any{"price": 5.0}, "stale"),
		Delete(items[1].ID, "tools"),
	))

	for _, o := range outcomes {
		assert.False(t, o.Succeeded)
		assert.False(t, o.Unknown)
	}
	assert.Equal(t, store.KindPartialBatchFailure, outcomes[0].Err.Kind)
	assert.Equal(t, store.KindPreconditionFailed, outcomes[1].Err.Kind)
	assert.Equal(t, store.KindPartialBatchFailure, outcomes[2].Err.Kind)
	assert.Equal(t, http.StatusFailedDependency, outcomes[2].Err.Status)

	// Nothing applied.
	assert.Equal(t, 2, s.Len())
	doc, err := s.Read(context.Background(), items[0].ID, "tools")
	require.NoError(t, err)
	assert.Equal(t, items[0].ETag, doc.ETag())
}

func TestExecute_InvalidRequestsNeverReachStore(t *testing.T) {
	s := memstore.New()
	items := seed(t, s, "tools", 1)
	e := newTestExecutor(s, 100)

	outcomes := e.Execute(context.Background(), group("tools",
		Create(product.Draft{Category: "tools", Name: "", Price: 1}),
		Update(items[0].ID, "tools", map[string]any{"category": "garden"}, items[0].ETag),
		Update(items[0].ID, "tools", map[string]any{"price": 2.0}, ""),
		Delete("not-a-uuid", "tools"),
		Update(items[0].ID, "tools", map[string]any{"price": 3.0}, items[0].ETag),
	))

	for i := 0; i < 4; i++ {
		assert.False(t, outcomes[i].Succeeded)
		assert.Equal(t, store.KindInvalidRequest, outcomes[i].Err.Kind, "outcome %d", i)
	}
	assert.True(t, outcomes[4].Succeeded)
	assert.Equal(t, []int{1}, s.BatchSizes())
}

func TestExecute_AllInvalidMakesNoStoreCall(t *testing.T) {
	s := memstore.New()
	e := newTestExecutor(s, 100)

	outcomes := e.Execute(context.Background(), group("tools", Delete("bad", "tools")))
	require.Len(t, outcomes, 1)
	assert.Equal(t, store.KindInvalidRequest, outcomes[0].Err.Kind)
	assert.Equal(t, 0, s.Calls(memstore.MethodBatch))
}

func TestExecute_EmptyPartitionKey(t *testing.T) {
	s := memstore.New()
	e := newTestExecutor(s, 100)

	outcomes := e.Execute(context.Background(), group("", Create(product.Draft{Name: "x", Price: 1})))
	assert.Equal(t, store.KindInvalidRequest, outcomes[0].Err.Kind)
	assert.Equal(t, 0, s.TotalCalls())
}

func TestExecute_Chunks(t *testing.T) {
	s := memstore.New()
	e := newTestExecutor(s, 2)

	var reqs []WriteRequest
	for i := 0; i < 5; i++ {
		reqs = append(reqs, Create(product.Draft{Category: "tools", Name: fmt.Sprint(i), Price: 1}))
	}
	outcomes := e.Execute(context.Background(), group("tools", reqs...))

	for _, o := range outcomes {
		assert.True(t, o.Succeeded)
	}
	assert.Equal(t, []int{2, 2, 1}, s.BatchSizes())
	assert.Equal(t, 5, s.Len())
}

func TestExecute_TransportErrorIsUnknown(t *testing.T) {
	s := memstore.New()
	calls := 0
	s.FailBatches(func(string, []store.Operation) error {
		calls++
		if calls == 2 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	e := newTestExecutor(s, 2)

	var reqs []WriteRequest
	for i := 0; i < 6; i++ {
		reqs = append(reqs, Create(product.Draft{Category: "tools", Name: fmt.Sprint(i), Price: 1}))
	}
	outcomes := e.Execute(context.Background(), group("tools", reqs...))

	// Only the failing chunk is affected.
	for _, i := range []int{0, 1, 4, 5} {
		assert.True(t, outcomes[i].Succeeded, "outcome %d", i)
	}
	for _, i := range []int{2, 3} {
		assert.False(t, outcomes[i].Succeeded)
		assert.True(t, outcomes[i].Unknown)
		assert.Equal(t, store.KindStoreUnavailable, outcomes[i].Err.Kind)
	}
}

func TestExecute_DefiniteRejectionIsNotUnknown(t *testing.T) {
	s := memstore.New()
	s.FailBatches(func(string, []store.Operation) error {
		return store.Invalid("batch", "item too large")
	})
	e := newTestExecutor(s, 100)

	outcomes := e.Execute(context.Background(), group("tools", Create(product.Draft{Category: "tools", Name: "x", Price: 1})))
	assert.False(t, outcomes[0].Unknown)
	assert.Equal(t, store.KindInvalidRequest, outcomes[0].Err.Kind)
}

func TestExecute_CancelledContext(t *testing.T) {
	s := memstore.New()
	e := newTestExecutor(s, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := e.Execute(ctx, group("tools", Create(product.Draft{Category: "tools", Name: "x", Price: 1})))
	assert.True(t, outcomes[0].Unknown)
	assert.Equal(t, store.KindStoreUnavailable, outcomes[0].Err.Kind)
	assert.Equal(t, 0, s.Calls(memstore.MethodBatch))
}

// shortStore answers every batch with one result too few.
type shortStore struct {
	*memstore.Store
}

func (s shortStore) BatchExecute(ctx context.Context, pk string, ops []store.Operation) ([]store.OperationResult, error) {
	results, err := s.Store.BatchExecute(ctx, pk, ops)
	if err != nil || len(results) == 0 {
		return results, err
	}
	return results[1:], nil
}

func TestExecute_MismatchedResultsAreUnknown(t *testing.T) {
	e := newTestExecutor(shortStore{memstore.New()}, 100)

	outcomes := e.Execute(context.Background(), group("tools",
		Create(product.Draft{Category: "tools", Name: "a", Price: 1}),
		Create(product.Draft{Category: "tools", Name: "b", Price: 1}),
	))
	for _, o := range outcomes {
		assert.False(t, o.Succeeded)
		assert.True(t, o.Unknown)
	}
}

// okRejectStore rejects batches but reports an OK status for a sibling.
type okRejectStore struct {
	*memstore.Store
}

func (okRejectStore) BatchExecute(_ context.Context, _ string, ops []store.Operation) ([]store.OperationResult, error) {
	results := make([]store.OperationResult, len(ops))
	for i := range results {
		results[i] = store.OperationResult{Status: http.StatusOK}
	}
	results[0] = store.OperationResult{Status: http.StatusConflict, Message: "item already exists"}
	return nil, &store.BatchError{FailedIndex: 0, Results: results}
}

func TestExecute_RejectedBatchNeverReportsSuccess(t *testing.T) {
	e := newTestExecutor(okRejectStore{memstore.New()}, 100)

	outcomes := e.Execute(context.Background(), group("tools",
		Create(product.Draft{Category: "tools", Name: "a", Price: 1}),
		Create(product.Draft{Category: "tools", Name: "b", Price: 1}),
	))
	assert.Equal(t, store.KindAlreadyExists, outcomes[0].Err.Kind)
	assert.False(t, outcomes[1].Succeeded)
	assert.Equal(t, store.KindPartialBatchFailure, outcomes[1].Err.Kind)
}
