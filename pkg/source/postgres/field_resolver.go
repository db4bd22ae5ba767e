// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"errors"
	"fmt"
	"slices"

	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

// FieldResolver derives the value of one index field from a record.
type FieldResolver interface {
	Resolve(value any, record orchestrator.Record) (any, error)
}

type FieldResolverType string

const (
	ColumnResolver   FieldResolverType = "column"
	TemplateResolver FieldResolverType = "template"
	MaskingResolver  FieldResolverType = "masking"
	JSONPathResolver FieldResolverType = "json_path"
	LiteralResolver  FieldResolverType = "literal"
)

// Parameters is the resolver config of a field mapping.
type Parameters map[string]any

const typeParameter = "type"

var (
	ErrInvalidParameters        = errors.New("invalid field resolver parameters")
	ErrUnsupportedValueType     = errors.New("unsupported value type for field resolver")
	errUnsupportedFieldResolver = errors.New("unsupported field resolver")
)

// NewFieldResolver builds the resolver described by the field mapping resolver
// config. Fields with no config copy the source column as is.
func NewFieldResolver(fm engine.FieldMapping) (FieldResolver, error) {
	params := Parameters(fm.ResolverConfig)
	resolverType, found, err := FindParameter[string](params, typeParameter)
	if err != nil {
		return nil, fmt.Errorf("field %s: resolver type must be a string: %w", fm.IndexFieldName, err)
	}
	if !found {
		resolverType = string(ColumnResolver)
		if _, hasTemplate := params["template"]; hasTemplate {
			resolverType = string(TemplateResolver)
		}
	}

	var resolver FieldResolver
	switch FieldResolverType(resolverType) {
	case ColumnResolver:
		resolver, err = columnFieldResolver{}, validateParameters(params, nil)
	case TemplateResolver:
		resolver, err = NewTemplateFieldResolver(params)
	case MaskingResolver:
		resolver, err = NewMaskingFieldResolver(params)
	case JSONPathResolver:
		resolver, err = NewJSONPathFieldResolver(params)
	case LiteralResolver:
		resolver, err = NewLiteralFieldResolver(params)
	default:
		err = fmt.Errorf("%w: %q", errUnsupportedFieldResolver, resolverType)
	}
	if err != nil {
		return nil, engine.NewValidationError("field %s: %v", fm.IndexFieldName, err)
	}
	return resolver, nil
}

type columnFieldResolver struct{}

func (columnFieldResolver) Resolve(value any, _ orchestrator.Record) (any, error) {
	return value, nil
}

func FindParameter[T any](params Parameters, name string) (T, bool, error) {
	valAny, found := params[name]
	if !found {
		return *new(T), false, nil
	}

	val, ok := valAny.(T)
	if !ok {
		return *new(T), true, ErrInvalidParameters
	}

	return val, true, nil
}

func FindParameterWithDefault[T any](params Parameters, name string, defaultVal T) (T, error) {
	val, found, err := FindParameter[T](params, name)
	if err != nil {
		return val, err
	}
	if !found {
		return defaultVal, nil
	}
	return val, nil
}

func validateParameters(params Parameters, allowed []string) error {
	for name := range params {
		if name == typeParameter || slices.Contains(allowed, name) {
			continue
		}
		return fmt.Errorf("%w: unexpected parameter %q", ErrInvalidParameters, name)
	}
	return nil
}
