package store

import (
	"context"
	"net/http"
)

const (
	// AttrID is the item id attribute (the range key within a partition).
	AttrID = "id"

	// AttrETag is the store-assigned version tag, replaced on every write.
	AttrETag = "_etag"
)

// Document is one stored item as a flat attribute map.
type Document map[string]any

// ID returns the document's id attribute.
func (d Document) ID() string {
	s, _ := d[AttrID].(string)
	return s
}

// ETag returns the document's current version tag.
func (d Document) ETag() string {
	s, _ := d[AttrETag].(string)
	return s
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Field is a single attribute assignment in a patch.
type Field struct {
	Name  string
	Value any
}

// OpKind is the kind of a batched operation.
type OpKind int

const (
	OpCreate OpKind = iota
	OpPatch
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpPatch:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Operation is one entry of a partition-scoped batch.
type Operation struct {
	Kind OpKind

	// ID identifies the target item. For creates it must match Document's id.
	ID string

	// Document is the full item for creates.
	Document Document

	// Set lists the fields replaced by a patch.
	Set []Field

	// IfMatch makes a patch or delete conditional on the item's current ETag.
	// Empty means unconditional.
	IfMatch string
}

// OperationResult is the store's answer for one operation of a batch.
type OperationResult struct {
	// Status is an HTTP-style status code (201 created, 200 patched,
	// 204 deleted, 4xx/5xx on failure).
	Status int

	// Document is the persisted item after a successful create or patch.
	Document Document

	// Message is the store's explanation for a failure.
	Message string
}

// OK reports whether the operation was applied.
func (r OperationResult) OK() bool {
	return r.Status >= http.StatusOK && r.Status < http.StatusMultipleChoices
}

// QueryRequest describes a single page read.
type QueryRequest struct {
	// PartitionKey restricts the read to one partition. Empty reads across partitions.
	PartitionKey string

	// Limit bounds the number of records returned.
	Limit int

	// StartToken resumes a previous read. Empty starts from the beginning.
	StartToken string
}

// QueryPage is one page of raw records. An empty NextToken means the read is exhausted.
type QueryPage struct {
	Documents []Document
	NextToken string
}

// Store is the partitioned, ETag-versioned item store the catalog runs on.
//
// BatchExecute applies ops atomically within one partition. When the store
// rejects the batch it returns a *BatchError carrying a result per operation;
// any other error is a transport failure and the outcome is unknown.
type Store interface {
	Read(ctx context.Context, id, partitionKey string) (Document, error)
	Create(ctx context.Context, partitionKey string, doc Document) (Document, error)
	Patch(ctx context.Context, id, partitionKey string, set []Field, ifMatch string) (Document, error)
	Delete(ctx context.Context, id, partitionKey, ifMatch string) error
	BatchExecute(ctx context.Context, partitionKey string, ops []Operation) ([]OperationResult, error)
	Query(ctx context.Context, req QueryRequest) (QueryPage, error)
}
