// Package batch runs heterogeneous write batches against the store: requests
// are grouped by partition key, each group is submitted as one atomic store
// batch, and groups run concurrently with failures isolated per group.
package batch

import (
	"github.com/jacentio/catalog/product"
	"github.com/jacentio/catalog/store"
)

// WriteRequest is one requested write. Build it with Create, Update or Delete.
type WriteRequest struct {
	Kind store.OpKind

	// ID targets an existing item. Unused for creates, which get a fresh id.
	ID string

	// PartitionKey as supplied by the caller; normalized when grouping.
	PartitionKey string

	// Draft is the new item for creates.
	Draft product.Draft

	// Patch holds the raw field assignments for updates.
	Patch map[string]any

	// ExpectedETag guards updates (required) and deletes (optional).
	ExpectedETag string
}

// Create requests a new item in the draft's category.
func Create(d product.Draft) WriteRequest {
	return WriteRequest{Kind: store.OpCreate, PartitionKey: d.Category, Draft: d}
}

// Update requests a conditional patch of an existing item.
func Update(id, partitionKey string, patch map[string]any, expectedETag string) WriteRequest {
	return WriteRequest{
		Kind:         store.OpPatch,
		ID:           id,
		PartitionKey: partitionKey,
		Patch:        patch,
		ExpectedETag: expectedETag,
	}
}

// Delete requests removal of an item.
func Delete(id, partitionKey string) WriteRequest {
	return WriteRequest{Kind: store.OpDelete, ID: id, PartitionKey: partitionKey}
}

// IfMatch returns a copy of r guarded by etag.
func (r WriteRequest) IfMatch(etag string) WriteRequest {
	r.ExpectedETag = etag
	return r
}

// Entry is a request together with its position in the submitted batch.
type Entry struct {
	Index   int
	Request WriteRequest
}

// Group holds the requests that share a normalized partition key, in
// submission order.
type Group struct {
	PartitionKey string
	Entries      []Entry
}

// Partition splits requests into per-partition groups. Keys that differ only
// in case land in the same group. Groups are ordered by first appearance.
// Payloads are not validated here.
func Partition(requests []WriteRequest) []Group {
	if len(requests) == 0 {
		return []Group{}
	}
	var groups []Group
	index := make(map[string]int)
	for i, r := range requests {
		key := product.NormalizeKey(r.PartitionKey)
		gi, ok := index[key]
		if !ok {
			gi = len(groups)
			index[key] = gi
			groups = append(groups, Group{PartitionKey: key})
		}
		groups[gi].Entries = append(groups[gi].Entries, Entry{Index: i, Request: r})
	}
	return groups
}
