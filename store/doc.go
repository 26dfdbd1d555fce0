// Package store defines the partitioned, ETag-versioned item store the catalog
// is built on, and provides its DynamoDB implementation.
//
// Items live in partitions identified by a partition key. Every write replaces
// the item's ETag, and patches or deletes may be made conditional on the ETag
// the caller last saw.
//
// # Batches
//
// [Store.BatchExecute] applies a list of operations to one partition as a
// single atomic unit. When the store rejects the batch it returns a
// [*BatchError] with a result per operation: the operation that caused the
// rejection carries its own status, the others carry 424 Failed Dependency.
// Any other error means the request may or may not have been applied.
//
// With DynamoDB a batch is one TransactWriteItems call, so at most
// [MaxTransactItems] operations fit in a batch:
//
//	client, _ := store.NewClient(ctx, store.ClientOptions{Region: "eu-west-1"})
//	s := store.NewDynamo(client, store.DefaultConfig())
//	results, err := s.BatchExecute(ctx, "tools", ops)
//
// # Errors
//
// Failures are reported as [*Error] values classified by [Kind]. Each kind
// matches a sentinel with errors.Is:
//
//   - [ErrNotFound] - item doesn't exist
//   - [ErrAlreadyExists] - create hit an existing id
//   - [ErrPreconditionFailed] - ETag mismatch
//   - [ErrInvalidRequest] - input rejected before or by the store
//   - [ErrStoreUnavailable] - transport failure, outcome unknown
//   - [ErrPartialBatchFailure] - rolled back because a sibling failed
package store
