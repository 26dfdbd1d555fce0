package store

import (
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Condition Tests ---

func TestItemExistsCondition(t *testing.T) {
	assert.Equal(t, "attribute_exists(#id)", ItemExistsCondition(""))
	assert.Equal(t, "attribute_exists(#id) AND #etag = :etag", ItemExistsCondition("abc"))
}

func TestConditionNamesAndValues(t *testing.T) {
	assert.Equal(t, map[string]string{"#id": "id"}, conditionNames(""))
	assert.Nil(t, conditionValues(""))

	assert.Equal(t, map[string]string{"#id": "id", "#etag": "_etag"}, conditionNames("v1"))
	values := conditionValues("v1")
	require.Contains(t, values, ":etag")
	assert.Equal(t, "v1", values[":etag"].(*types.AttributeValueMemberS).Value)
}

// --- patchExpression Tests ---

func TestPatchExpression(t *testing.T) {
	expr, names, values, err := patchExpression([]Field{
		{Name: "name", Value: "Hammer"},
		{Name: "price", Value: 12.5},
	}, "new-tag")
	require.NoError(t, err)

	assert.Equal(t, "SET #attr0 = :val0, #attr1 = :val1, #new_etag = :new_etag", expr)
	assert.Equal(t, "name", names["#attr0"])
	assert.Equal(t, "price", names["#attr1"])
	assert.Equal(t, "_etag", names["#new_etag"])
	assert.Equal(t, "Hammer", values[":val0"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "12.5", values[":val1"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "new-tag", values[":new_etag"].(*types.AttributeValueMemberS).Value)
}

func TestPatchExpression_RejectsManagedFields(t *testing.T) {
	for _, field := range []string{AttrID, AttrETag} {
		_, _, _, err := patchExpression([]Field{{Name: field, Value: "x"}}, "t")
		assert.Error(t, err, field)
	}
}

// --- merge helpers ---

func TestMergeExprValues_NilWhenEmpty(t *testing.T) {
	assert.Nil(t, mergeExprValues(nil, map[string]types.AttributeValue{}))
}

func TestMergeExprNames_LaterWins(t *testing.T) {
	merged := mergeExprNames(map[string]string{"#a": "x"}, map[string]string{"#a": "y", "#b": "z"})
	assert.Equal(t, map[string]string{"#a": "y", "#b": "z"}, merged)
}

// --- start key tokens ---

func TestStartKeyRoundTrip(t *testing.T) {
	key := map[string]types.AttributeValue{
		"category": &types.AttributeValueMemberS{Value: "tools"},
		"id":       &types.AttributeValueMemberS{Value: "b7a1"},
	}
	token, err := encodeStartKey(key)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := decodeStartKey(token)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestStartKey_Empty(t *testing.T) {
	token, err := encodeStartKey(nil)
	require.NoError(t, err)
	assert.Empty(t, token)

	key, err := decodeStartKey("")
	require.NoError(t, err)
	assert.Nil(t, key)
}

func TestDecodeStartKey_Malformed(t *testing.T) {
	for _, token := range []string{"!!!", "bm90LWpzb24", "e30"} {
		_, err := decodeStartKey(token)
		assert.Error(t, err, token)
	}
}

func TestEncodeStartKey_NonStringAttribute(t *testing.T) {
	_, err := encodeStartKey(map[string]types.AttributeValue{
		"n": &types.AttributeValueMemberN{Value: "1"},
	})
	assert.Error(t, err)
}

// --- cancellation reasons ---

func TestReasonStatus(t *testing.T) {
	withItem := map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "x"}}
	tests := []struct {
		name   string
		op     Operation
		reason types.CancellationReason
		status int
	}{
		{"none", Operation{Kind: OpCreate}, types.CancellationReason{Code: aws.String("None")}, http.StatusFailedDependency},
		{"nil code", Operation{Kind: OpPatch}, types.CancellationReason{}, http.StatusFailedDependency},
		{"create conflict", Operation{Kind: OpCreate}, types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}, http.StatusConflict},
		{"patch missing", Operation{Kind: OpPatch}, types.CancellationReason{Code: aws.String("ConditionalCheckFailed")}, http.StatusNotFound},
		{"patch stale", Operation{Kind: OpPatch}, types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Item: withItem}, http.StatusPreconditionFailed},
		{"delete stale", Operation{Kind: OpDelete}, types.CancellationReason{Code: aws.String("ConditionalCheckFailed"), Item: withItem}, http.StatusPreconditionFailed},
		{"validation", Operation{Kind: OpPatch}, types.CancellationReason{Code: aws.String("ValidationError")}, http.StatusBadRequest},
		{"throttled", Operation{Kind: OpPatch}, types.CancellationReason{Code: aws.String("ThrottlingError")}, http.StatusTooManyRequests},
		{"conflict", Operation{Kind: OpPatch}, types.CancellationReason{Code: aws.String("TransactionConflict")}, http.StatusTooManyRequests},
		{"other", Operation{Kind: OpPatch}, types.CancellationReason{Code: aws.String("ItemCollectionSizeLimitExceeded")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := reasonStatus(tt.op, tt.reason)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestRejectAt(t *testing.T) {
	be := rejectAt(1, 3, Invalid("create", "document has no id"))
	assert.Equal(t, 1, be.FailedIndex)
	require.Len(t, be.Results, 3)
	assert.Equal(t, http.StatusFailedDependency, be.Results[0].Status)
	assert.Equal(t, http.StatusBadRequest, be.Results[1].Status)
	assert.Equal(t, "document has no id", be.Results[1].Message)
	assert.Equal(t, http.StatusFailedDependency, be.Results[2].Status)
}

// --- Config ---

func TestConfigValidate(t *testing.T) {
	var c Config
	c.validate()
	assert.Equal(t, DefaultConfig(), c)

	c = Config{Table: "t", PartitionKeyAttr: "pk", MaxOpsPerBatch: 500}
	c.validate()
	assert.Equal(t, "t", c.Table)
	assert.Equal(t, "pk", c.PartitionKeyAttr)
	assert.Equal(t, MaxTransactItems, c.MaxOpsPerBatch)
}

func TestBatchErrorMessage(t *testing.T) {
	be := &BatchError{FailedIndex: 0, Results: []OperationResult{{Status: 409, Message: "item already exists"}}}
	assert.Contains(t, be.Error(), "409")

	var target *BatchError
	assert.True(t, errors.As(error(be), &target))
}
