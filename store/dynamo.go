package store

import (
	"context"
	"errors"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

// Dynamo implements Store on a single DynamoDB table keyed by
// (partition key attribute, id).
type Dynamo struct {
	client  Client
	config  Config
	newETag func() string
}

// NewDynamo creates a new DynamoDB-backed store.
func NewDynamo(client Client, config Config) *Dynamo {
	config.validate()
	return &Dynamo{
		client:  client,
		config:  config,
		newETag: uuid.NewString,
	}
}

// Config returns the validated configuration in use.
func (s *Dynamo) Config() Config {
	return s.config
}

func (s *Dynamo) key(id, partitionKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		s.config.PartitionKeyAttr: &types.AttributeValueMemberS{Value: partitionKey},
		AttrID:                    &types.AttributeValueMemberS{Value: id},
	}
}

// Read returns the item with a strongly consistent read.
func (s *Dynamo) Read(ctx context.Context, id, partitionKey string) (Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.Table),
		Key:            s.key(id, partitionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.mapError("read", err)
	}
	if out.Item == nil {
		return nil, NewError(KindNotFound, "read", "item not found")
	}
	doc, err := unmarshalDocument(out.Item)
	if err != nil {
		return nil, Unavailable("read", err)
	}
	return doc, nil
}

// Create writes a new item and assigns its first ETag.
func (s *Dynamo) Create(ctx context.Context, partitionKey string, doc Document) (Document, error) {
	item, err := s.prepareCreate(partitionKey, doc)
	if err != nil {
		return nil, err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return nil, Invalid("create", "marshal item: %v", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.config.Table),
		Item:                     av,
		ConditionExpression:      aws.String(ItemAbsentCondition()),
		ExpressionAttributeNames: conditionNames(""),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, NewError(KindAlreadyExists, "create", "item already exists")
		}
		return nil, s.mapError("create", err)
	}
	return item, nil
}

// Patch replaces the given fields and the ETag of an existing item.
func (s *Dynamo) Patch(ctx context.Context, id, partitionKey string, set []Field, ifMatch string) (Document, error) {
	input, err := s.updateInput(id, partitionKey, set, ifMatch, s.newETag())
	if err != nil {
		return nil, err
	}

	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           input.TableName,
		Key:                                 input.Key,
		UpdateExpression:                    input.UpdateExpression,
		ConditionExpression:                 input.ConditionExpression,
		ExpressionAttributeNames:            input.ExpressionAttributeNames,
		ExpressionAttributeValues:           input.ExpressionAttributeValues,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return nil, s.mapConditionalError("update", err)
	}
	doc, err := unmarshalDocument(out.Attributes)
	if err != nil {
		return nil, Unavailable("update", err)
	}
	return doc, nil
}

// Delete removes an item, optionally guarded by its ETag.
func (s *Dynamo) Delete(ctx context.Context, id, partitionKey, ifMatch string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                           aws.String(s.config.Table),
		Key:                                 s.key(id, partitionKey),
		ConditionExpression:                 aws.String(ItemExistsCondition(ifMatch)),
		ExpressionAttributeNames:            conditionNames(ifMatch),
		ExpressionAttributeValues:           conditionValues(ifMatch),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		return s.mapConditionalError("delete", err)
	}
	return nil
}

// BatchExecute submits ops as one DynamoDB transaction scoped to a partition.
// Patched items are read back after commit so callers see the persisted state.
func (s *Dynamo) BatchExecute(ctx context.Context, partitionKey string, ops []Operation) ([]OperationResult, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	if len(ops) > s.config.MaxOpsPerBatch {
		return nil, Invalid("batch", "batch of %d operations exceeds limit of %d", len(ops), s.config.MaxOpsPerBatch)
	}

	items := make([]types.TransactWriteItem, 0, len(ops))
	written := make([]Document, len(ops))
	for i, op := range ops {
		item, doc, err := s.transactItem(partitionKey, op)
		if err != nil {
			return nil, rejectAt(i, len(ops), err)
		}
		items = append(items, item)
		written[i] = doc
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems:      items,
		ClientRequestToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		var txErr *types.TransactionCanceledException
		if errors.As(err, &txErr) && len(txErr.CancellationReasons) == len(ops) {
			return nil, s.mapCancellation(ops, txErr.CancellationReasons)
		}
		return nil, s.mapError("batch", err)
	}

	return s.batchResults(ctx, partitionKey, ops, written), nil
}

// Query reads one page, from a single partition when PartitionKey is set and
// from the whole table otherwise.
func (s *Dynamo) Query(ctx context.Context, req QueryRequest) (QueryPage, error) {
	start, err := decodeStartKey(req.StartToken)
	if err != nil {
		return QueryPage{}, Invalid("query", "%v", err)
	}
	var limit *int32
	if req.Limit > 0 {
		limit = aws.Int32(int32(req.Limit))
	}

	var (
		raws []map[string]types.AttributeValue
		last map[string]types.AttributeValue
	)
	if req.PartitionKey == "" {
		out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.config.Table),
			Limit:             limit,
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return QueryPage{}, s.mapError("query", err)
		}
		raws, last = out.Items, out.LastEvaluatedKey
	} else {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.config.Table),
			KeyConditionExpression: aws.String("#pk = :pk"),
			ExpressionAttributeNames: map[string]string{
				"#pk": s.config.PartitionKeyAttr,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: req.PartitionKey},
			},
			Limit:             limit,
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return QueryPage{}, s.mapError("query", err)
		}
		raws, last = out.Items, out.LastEvaluatedKey
	}

	page := QueryPage{Documents: make([]Document, 0, len(raws))}
	for _, raw := range raws {
		doc, err := unmarshalDocument(raw)
		if err != nil {
			// Undecodable records are passed on empty; callers validate each record.
			doc = Document{}
		}
		page.Documents = append(page.Documents, doc)
	}
	if page.NextToken, err = encodeStartKey(last); err != nil {
		return QueryPage{}, Unavailable("query", err)
	}
	return page, nil
}

func (s *Dynamo) prepareCreate(partitionKey string, doc Document) (Document, error) {
	if doc.ID() == "" {
		return nil, Invalid("create", "document has no id")
	}
	item := doc.Clone()
	item[s.config.PartitionKeyAttr] = partitionKey
	item[AttrETag] = s.newETag()
	return item, nil
}

func (s *Dynamo) updateInput(id, partitionKey string, set []Field, ifMatch, newETag string) (*types.Update, error) {
	if len(set) == 0 {
		return nil, Invalid("update", "patch has no fields")
	}
	for _, f := range set {
		if f.Name == s.config.PartitionKeyAttr {
			return nil, Invalid("update", "partition key %q cannot be patched", f.Name)
		}
	}
	expr, names, values, err := patchExpression(set, newETag)
	if err != nil {
		return nil, Invalid("update", "%v", err)
	}
	return &types.Update{
		TableName:                           aws.String(s.config.Table),
		Key:                                 s.key(id, partitionKey),
		UpdateExpression:                    aws.String(expr),
		ConditionExpression:                 aws.String(ItemExistsCondition(ifMatch)),
		ExpressionAttributeNames:            mergeExprNames(names, conditionNames(ifMatch)),
		ExpressionAttributeValues:           mergeExprValues(values, conditionValues(ifMatch)),
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	}, nil
}

// transactItem translates one operation. The returned document is what the
// caller sees on success: the full item for creates and the new ETag for patches.
func (s *Dynamo) transactItem(partitionKey string, op Operation) (types.TransactWriteItem, Document, error) {
	switch op.Kind {
	case OpCreate:
		doc, err := s.prepareCreate(partitionKey, op.Document)
		if err != nil {
			return types.TransactWriteItem{}, nil, err
		}
		if op.ID != "" && op.ID != doc.ID() {
			return types.TransactWriteItem{}, nil, Invalid("create", "operation id %q does not match document id %q", op.ID, doc.ID())
		}
		av, err := attributevalue.MarshalMap(doc)
		if err != nil {
			return types.TransactWriteItem{}, nil, Invalid("create", "marshal item: %v", err)
		}
		return types.TransactWriteItem{
			Put: &types.Put{
				TableName:                           aws.String(s.config.Table),
				Item:                                av,
				ConditionExpression:                 aws.String(ItemAbsentCondition()),
				ExpressionAttributeNames:            conditionNames(""),
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		}, doc, nil

	case OpPatch:
		etag := s.newETag()
		update, err := s.updateInput(op.ID, partitionKey, op.Set, op.IfMatch, etag)
		if err != nil {
			return types.TransactWriteItem{}, nil, err
		}
		doc := Document{
			AttrID:                    op.ID,
			s.config.PartitionKeyAttr: partitionKey,
			AttrETag:                  etag,
		}
		return types.TransactWriteItem{Update: update}, doc, nil

	case OpDelete:
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName:                           aws.String(s.config.Table),
				Key:                                 s.key(op.ID, partitionKey),
				ConditionExpression:                 aws.String(ItemExistsCondition(op.IfMatch)),
				ExpressionAttributeNames:            conditionNames(op.IfMatch),
				ExpressionAttributeValues:           conditionValues(op.IfMatch),
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			},
		}, nil, nil
	}
	return types.TransactWriteItem{}, nil, Invalid("batch", "unknown operation kind %d", op.Kind)
}

func (s *Dynamo) batchResults(ctx context.Context, partitionKey string, ops []Operation, written []Document) []OperationResult {
	var patched []string
	for _, op := range ops {
		if op.Kind == OpPatch {
			patched = append(patched, op.ID)
		}
	}
	current := s.readBack(ctx, partitionKey, patched)

	results := make([]OperationResult, len(ops))
	for i, op := range ops {
		switch op.Kind {
		case OpCreate:
			results[i] = OperationResult{Status: http.StatusCreated, Document: written[i]}
		case OpPatch:
			doc := written[i]
			// A concurrent writer may already have replaced our version.
			if cur, ok := current[op.ID]; ok && cur.ETag() == doc.ETag() {
				doc = cur
			}
			results[i] = OperationResult{Status: http.StatusOK, Document: doc}
		case OpDelete:
			results[i] = OperationResult{Status: http.StatusNoContent}
		}
	}
	return results
}

// readBack fetches patched items after commit. Failures are not fatal: the
// write has already been applied and callers still get the new ETag.
func (s *Dynamo) readBack(ctx context.Context, partitionKey string, ids []string) map[string]Document {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]map[string]types.AttributeValue, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id, partitionKey))
	}
	out, err := s.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
		RequestItems: map[string]types.KeysAndAttributes{
			s.config.Table: {Keys: keys, ConsistentRead: aws.Bool(true)},
		},
	})
	if err != nil {
		return nil
	}
	docs := make(map[string]Document, len(ids))
	for _, raw := range out.Responses[s.config.Table] {
		doc, err := unmarshalDocument(raw)
		if err != nil {
			continue
		}
		docs[doc.ID()] = doc
	}
	return docs
}

// mapCancellation decodes a cancelled transaction into one result per operation.
func (s *Dynamo) mapCancellation(ops []Operation, reasons []types.CancellationReason) *BatchError {
	results := make([]OperationResult, len(ops))
	failed := -1
	for i, reason := range reasons {
		status, msg := reasonStatus(ops[i], reason)
		results[i] = OperationResult{Status: status, Message: msg}
		if status != http.StatusFailedDependency && failed < 0 {
			failed = i
		}
	}
	return &BatchError{FailedIndex: failed, Results: results}
}

func reasonStatus(op Operation, reason types.CancellationReason) (int, string) {
	code := aws.ToString(reason.Code)
	msg := aws.ToString(reason.Message)
	switch code {
	case "", "None":
		return http.StatusFailedDependency, "rolled back: another operation in the batch failed"
	case "ConditionalCheckFailed":
		if op.Kind == OpCreate {
			return http.StatusConflict, "item already exists"
		}
		if len(reason.Item) == 0 {
			return http.StatusNotFound, "item not found"
		}
		return http.StatusPreconditionFailed, "version tag does not match"
	case "ValidationError":
		return http.StatusBadRequest, msg
	case "ThrottlingError", "ProvisionedThroughputExceeded", "RequestLimitExceeded", "TransactionConflict":
		return http.StatusTooManyRequests, code + ": " + msg
	default:
		return http.StatusInternalServerError, code + ": " + msg
	}
}

// rejectAt fails a batch locally before anything is sent.
func rejectAt(index, n int, err error) *BatchError {
	results := make([]OperationResult, n)
	for i := range results {
		results[i] = OperationResult{
			Status:  http.StatusFailedDependency,
			Message: "rolled back: another operation in the batch failed",
		}
	}
	se := AsError("batch", err)
	results[index] = OperationResult{Status: se.Status, Message: se.Message}
	return &BatchError{FailedIndex: index, Results: results}
}

func (s *Dynamo) mapConditionalError(op string, err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		if len(condErr.Item) == 0 {
			return NewError(KindNotFound, op, "item not found")
		}
		return NewError(KindPreconditionFailed, op, "version tag does not match")
	}
	return s.mapError(op, err)
}

// mapError classifies errors that are not condition failures. Requests the
// service rejected as malformed are definite; everything else leaves the
// outcome unknown.
func (s *Dynamo) mapError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
		return &Error{
			Kind:    KindInvalidRequest,
			Op:      op,
			Status:  http.StatusBadRequest,
			Message: apiErr.ErrorMessage(),
			Err:     err,
		}
	}
	return Unavailable(op, err)
}

func unmarshalDocument(raw map[string]types.AttributeValue) (Document, error) {
	var doc Document
	if err := attributevalue.UnmarshalMap(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
