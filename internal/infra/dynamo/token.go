package dynamo

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EncodeToken turns a LastEvaluatedKey into an opaque continuation token.
// An empty key yields an empty token (no more pages).
func EncodeToken(lastKey map[string]types.AttributeValue) (string, error) {
	if len(lastKey) == 0 {
		return "", nil
	}
	var plain map[string]any
	if err := attributevalue.UnmarshalMap(lastKey, &plain); err != nil {
		return "", fmt.Errorf("unmarshal last key: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("marshal last key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeToken is the inverse of EncodeToken.
func DecodeToken(token string) (map[string]types.AttributeValue, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var plain map[string]any
	if err := json.Unmarshal(raw, &plain); err != nil || len(plain) == 0 {
		return nil, ErrInvalidToken
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return key, nil
}
