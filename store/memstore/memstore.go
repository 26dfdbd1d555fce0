// Package memstore provides an in-memory store.Store for local development
// and tests. Batches are all-or-nothing per call, mirroring the DynamoDB
// implementation.
package memstore

import (
	"context"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jacentio/catalog/store"
)

const rolledBack = "rolled back: another operation in the batch failed"

// Method names accepted by Calls.
const (
	MethodRead   = "read"
	MethodCreate = "create"
	MethodPatch  = "patch"
	MethodDelete = "delete"
	MethodBatch  = "batch"
	MethodQuery  = "query"
)

// Store is a concurrency-safe in-memory store.
type Store struct {
	mu         sync.Mutex
	partitions map[string]map[string]store.Document
	calls      map[string]int
	batchSizes []int

	partitionAttr string
	maxOps        int
	newETag       func() string

	batchErr   func(partitionKey string, ops []store.Operation) error
	queryErr   error
	beforeExec func(partitionKey string)
}

// Option configures a Store.
type Option func(*Store)

// WithPartitionAttr sets the attribute written with the partition key. Default: "category".
func WithPartitionAttr(attr string) Option {
	return func(s *Store) { s.partitionAttr = attr }
}

// WithMaxOps caps the operations per batch. Default: store.MaxTransactItems.
func WithMaxOps(n int) Option {
	return func(s *Store) { s.maxOps = n }
}

// WithETags replaces the ETag generator.
func WithETags(next func() string) Option {
	return func(s *Store) { s.newETag = next }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		partitions:    make(map[string]map[string]store.Document),
		calls:         make(map[string]int),
		partitionAttr: "category",
		maxOps:        store.MaxTransactItems,
		newETag:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailBatches makes BatchExecute return whatever fn returns, when non-nil,
// before touching any data.
func (s *Store) FailBatches(fn func(partitionKey string, ops []store.Operation) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchErr = fn
}

// FailQueries makes every Query return err until called again with nil.
func (s *Store) FailQueries(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryErr = err
}

// BeforeBatch registers a hook run, without the lock held, at the start of each BatchExecute.
func (s *Store) BeforeBatch(fn func(partitionKey string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeExec = fn
}

// Seed stores doc as-is, bypassing validation. Used to plant malformed records.
func (s *Store) Seed(partitionKey string, doc store.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.partitions[partitionKey]
	if p == nil {
		p = make(map[string]store.Document)
		s.partitions[partitionKey] = p
	}
	p[doc.ID()] = doc.Clone()
}

// Calls returns how many times a method has been invoked.
func (s *Store) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls returns the number of store calls of any kind.
func (s *Store) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// BatchSizes returns the operation count of every BatchExecute call so far.
func (s *Store) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batchSizes...)
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.partitions {
		n += len(p)
	}
	return n
}

// Partitions returns the number of non-empty partitions.
func (s *Store) Partitions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partitions)
}

// commit installs p as the contents of a partition. Empty partitions are
// dropped so that failed or emptying writes leave nothing behind.
func (s *Store) commit(key string, p map[string]store.Document) {
	if len(p) == 0 {
		delete(s.partitions, key)
		return
	}
	s.partitions[key] = p
}

func (s *Store) Read(ctx context.Context, id, partitionKey string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("read", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodRead]++

	doc, ok := s.partitions[partitionKey][id]
	if !ok {
		return nil, store.NewError(store.KindNotFound, "read", "item not found")
	}
	return doc.Clone(), nil
}

func (s *Store) Create(ctx context.Context, partitionKey string, doc store.Document) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("create", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodCreate]++

	p := s.partitions[partitionKey]
	if p == nil {
		p = make(map[string]store.Document)
	}
	res := s.applyCreate(p, partitionKey, store.Operation{Kind: store.OpCreate, ID: doc.ID(), Document: doc})
	if !res.OK() {
		return nil, store.FromStatus("create", res.Status, res.Message)
	}
	s.commit(partitionKey, p)
	return res.Document, nil
}

func (s *Store) Patch(ctx context.Context, id, partitionKey string, set []store.Field, ifMatch string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("update", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodPatch]++

	res := s.applyPatch(s.partitions[partitionKey], store.Operation{Kind: store.OpPatch, ID: id, Set: set, IfMatch: ifMatch})
	if !res.OK() {
		return nil, store.FromStatus("update", res.Status, res.Message)
	}
	return res.Document, nil
}

func (s *Store) Delete(ctx context.Context, id, partitionKey, ifMatch string) error {
	if err := ctx.Err(); err != nil {
		return store.Unavailable("delete", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodDelete]++

	p := s.partitions[partitionKey]
	res := s.applyDelete(p, store.Operation{Kind: store.OpDelete, ID: id, IfMatch: ifMatch})
	if !res.OK() {
		return store.FromStatus("delete", res.Status, res.Message)
	}
	s.commit(partitionKey, p)
	return nil
}

// BatchExecute applies ops to a staged copy of the partition and commits only
// when every operation succeeds.
func (s *Store) BatchExecute(ctx context.Context, partitionKey string, ops []store.Operation) ([]store.OperationResult, error) {
	s.mu.Lock()
	hook := s.beforeExec
	s.mu.Unlock()
	if hook != nil {
		hook(partitionKey)
	}
	if err := ctx.Err(); err != nil {
		return nil, store.Unavailable("batch", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodBatch]++
	s.batchSizes = append(s.batchSizes, len(ops))

	if s.batchErr != nil {
		if err := s.batchErr(partitionKey, ops); err != nil {
			return nil, err
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}
	if len(ops) > s.maxOps {
		return nil, store.Invalid("batch", "batch of %d operations exceeds limit of %d", len(ops), s.maxOps)
	}

	staged := make(map[string]store.Document, len(s.partitions[partitionKey]))
	for id, doc := range s.partitions[partitionKey] {
		staged[id] = doc
	}

	results := make([]store.OperationResult, len(ops))
	for i, op := range ops {
		var res store.OperationResult
		switch op.Kind {
		case store.OpCreate:
			res = s.applyCreate(staged, partitionKey, op)
		case store.OpPatch:
			res = s.applyPatch(staged, op)
		case store.OpDelete:
			res = s.applyDelete(staged, op)
		default:
			res = store.OperationResult{Status: http.StatusBadRequest, Message: "unknown operation kind"}
		}
		if !res.OK() {
			for j := range results {
				results[j] = store.OperationResult{Status: http.StatusFailedDependency, Message: rolledBack}
			}
			results[i] = res
			return nil, &store.BatchError{FailedIndex: i, Results: results}
		}
		results[i] = res
	}

	s.commit(partitionKey, staged)
	return results, nil
}

// Query pages through items ordered by (partition key, id).
func (s *Store) Query(ctx context.Context, req store.QueryRequest) (store.QueryPage, error) {
	if err := ctx.Err(); err != nil {
		return store.QueryPage{}, store.Unavailable("query", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[MethodQuery]++

	if s.queryErr != nil {
		return store.QueryPage{}, s.queryErr
	}

	after := ""
	if req.StartToken != "" {
		raw, err := base64.RawURLEncoding.DecodeString(req.StartToken)
		if err != nil || len(raw) == 0 {
			return store.QueryPage{}, store.Invalid("query", "malformed start token")
		}
		after = string(raw)
	}

	var keys []string
	for pk, p := range s.partitions {
		if req.PartitionKey != "" && pk != req.PartitionKey {
			continue
		}
		for id := range p {
			keys = append(keys, pk+"\x00"+id)
		}
	}
	sort.Strings(keys)

	page := store.QueryPage{Documents: []store.Document{}}
	for i, k := range keys {
		if after != "" && k <= after {
			continue
		}
		if req.Limit > 0 && len(page.Documents) == req.Limit {
			// Something remains: resume after the last key handed out.
			page.NextToken = base64.RawURLEncoding.EncodeToString([]byte(keys[i-1]))
			break
		}
		pk, id, _ := strings.Cut(k, "\x00")
		page.Documents = append(page.Documents, s.partitions[pk][id].Clone())
	}
	return page, nil
}

func (s *Store) applyCreate(p map[string]store.Document, partitionKey string, op store.Operation) store.OperationResult {
	id := op.Document.ID()
	if id == "" {
		return store.OperationResult{Status: http.StatusBadRequest, Message: "document has no id"}
	}
	if op.ID != "" && op.ID != id {
		return store.OperationResult{Status: http.StatusBadRequest, Message: "operation id does not match document id"}
	}
	if _, exists := p[id]; exists {
		return store.OperationResult{Status: http.StatusConflict, Message: "item already exists"}
	}
	doc := op.Document.Clone()
	doc[s.partitionAttr] = partitionKey
	doc[store.AttrETag] = s.newETag()
	p[id] = doc
	return store.OperationResult{Status: http.StatusCreated, Document: doc.Clone()}
}

func (s *Store) applyPatch(p map[string]store.Document, op store.Operation) store.OperationResult {
	if len(op.Set) == 0 {
		return store.OperationResult{Status: http.StatusBadRequest, Message: "patch has no fields"}
	}
	for _, f := range op.Set {
		if f.Name == store.AttrID || f.Name == store.AttrETag || f.Name == s.partitionAttr {
			return store.OperationResult{Status: http.StatusBadRequest, Message: "field " + f.Name + " cannot be patched"}
		}
	}
	cur, ok := p[op.ID]
	if !ok {
		return store.OperationResult{Status: http.StatusNotFound, Message: "item not found"}
	}
	if op.IfMatch != "" && cur.ETag() != op.IfMatch {
		return store.OperationResult{Status: http.StatusPreconditionFailed, Message: "version tag does not match"}
	}
	doc := cur.Clone()
	for _, f := range op.Set {
		doc[f.Name] = f.Value
	}
	doc[store.AttrETag] = s.newETag()
	p[op.ID] = doc
	return store.OperationResult{Status: http.StatusOK, Document: doc.Clone()}
}

func (s *Store) applyDelete(p map[string]store.Document, op store.Operation) store.OperationResult {
	cur, ok := p[op.ID]
	if !ok {
		return store.OperationResult{Status: http.StatusNotFound, Message: "item not found"}
	}
	if op.IfMatch != "" && cur.ETag() != op.IfMatch {
		return store.OperationResult{Status: http.StatusPreconditionFailed, Message: "version tag does not match"}
	}
	delete(p, op.ID)
	return store.OperationResult{Status: http.StatusNoContent}
}

var _ store.Store = (*Store)(nil)
