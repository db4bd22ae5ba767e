// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/xataio/searchsync/internal/json"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

// JSONPathFieldResolver extracts a value out of a json or jsonb column with a
// gjson path.
type JSONPathFieldResolver struct {
	path string
}

var (
	jsonPathResolverParams = []string{"path"}
	errPathMustBeProvided  = errors.New("path parameter must be provided")
)

func NewJSONPathFieldResolver(params Parameters) (*JSONPathFieldResolver, error) {
	if err := validateParameters(params, jsonPathResolverParams); err != nil {
		return nil, err
	}
	path, _, err := FindParameter[string](params, "path")
	if err != nil {
		return nil, fmt.Errorf("path must be a string: %w", err)
	}
	if path == "" {
		return nil, errPathMustBeProvided
	}
	return &JSONPathFieldResolver{path: path}, nil
}

func (r *JSONPathFieldResolver) Resolve(value any, _ orchestrator.Record) (any, error) {
	var raw []byte
	switch val := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = val
	case string:
		raw = []byte(val)
	default:
		var err error
		if raw, err = json.Marshal(val); err != nil {
			return nil, fmt.Errorf("marshalling value to JSON: %w", err)
		}
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: value is not valid JSON", ErrUnsupportedValueType)
	}

	result := gjson.GetBytes(raw, r.path)
	if !result.Exists() {
		return nil, nil
	}
	return result.Value(), nil
}
