package store

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// ItemExistsCondition returns the condition expression guarding patches and
// deletes. With ifMatch set the stored ETag must also equal :etag.
func ItemExistsCondition(ifMatch string) string {
	if ifMatch == "" {
		return "attribute_exists(#id)"
	}
	return "attribute_exists(#id) AND #etag = :etag"
}

// ItemAbsentCondition returns the condition expression guarding creates.
func ItemAbsentCondition() string {
	return "attribute_not_exists(#id)"
}

func conditionNames(ifMatch string) map[string]string {
	names := map[string]string{"#id": AttrID}
	if ifMatch != "" {
		names["#etag"] = AttrETag
	}
	return names
}

func conditionValues(ifMatch string) map[string]types.AttributeValue {
	if ifMatch == "" {
		return nil
	}
	return map[string]types.AttributeValue{
		":etag": &types.AttributeValueMemberS{Value: ifMatch},
	}
}

// patchExpression builds a SET expression that assigns every field in set and
// replaces the ETag with newETag.
func patchExpression(set []Field, newETag string) (string, map[string]string, map[string]types.AttributeValue, error) {
	names := map[string]string{"#new_etag": AttrETag}
	values := map[string]types.AttributeValue{
		":new_etag": &types.AttributeValueMemberS{Value: newETag},
	}

	clauses := make([]string, 0, len(set)+1)
	for i, f := range set {
		if f.Name == AttrID || f.Name == AttrETag {
			return "", nil, nil, fmt.Errorf("field %q is managed by the store", f.Name)
		}
		av, err := attributevalue.Marshal(f.Value)
		if err != nil {
			return "", nil, nil, fmt.Errorf("marshal field %q: %w", f.Name, err)
		}
		nameKey := fmt.Sprintf("#attr%d", i)
		valueKey := fmt.Sprintf(":val%d", i)
		names[nameKey] = f.Name
		values[valueKey] = av
		clauses = append(clauses, fmt.Sprintf("%s = %s", nameKey, valueKey))
	}
	clauses = append(clauses, "#new_etag = :new_etag")

	return "SET " + strings.Join(clauses, ", "), names, values, nil
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
// Returns nil when there is nothing to merge so the SDK omits the field.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	var result map[string]types.AttributeValue
	for _, m := range maps {
		for k, v := range m {
			if result == nil {
				result = make(map[string]types.AttributeValue)
			}
			result[k] = v
		}
	}
	return result
}

// encodeStartKey turns a LastEvaluatedKey into an opaque store token.
// Keys in this table are always string attributes.
func encodeStartKey(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	flat := make(map[string]string, len(key))
	for k, v := range key {
		s, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("key attribute %q is not a string", k)
		}
		flat[k] = s.Value
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeStartKey reverses encodeStartKey.
func decodeStartKey(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode start key: %w", err)
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("decode start key: %w", err)
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("decode start key: empty key")
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for k, v := range flat {
		key[k] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}
