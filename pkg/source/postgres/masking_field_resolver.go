// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ggwhite/go-masker"

	"github.com/xataio/searchsync/pkg/orchestrator"
)

// MaskingFieldResolver hides personal data before it is copied into a
// publicly searchable index.
type MaskingFieldResolver struct {
	mask func(string) string
}

const defaultMasking = "default"

var maskingResolverParams = []string{"masking_type"}

func maskingFunctions() map[string]func(string) string {
	m := masker.New()
	return map[string]func(string) string{
		"password":    m.Password,
		"name":        m.Name,
		"address":     m.Address,
		"email":       m.Email,
		"mobile":      m.Mobile,
		"tel":         m.Telephone,
		"id":          m.ID,
		"credit_card": m.CreditCard,
		"url":         m.URL,
		defaultMasking: func(v string) string {
			return strings.Repeat("*", len(v))
		},
	}
}

func NewMaskingFieldResolver(params Parameters) (*MaskingFieldResolver, error) {
	if err := validateParameters(params, maskingResolverParams); err != nil {
		return nil, err
	}
	maskingType, err := FindParameterWithDefault(params, "masking_type", defaultMasking)
	if err != nil {
		return nil, fmt.Errorf("masking_type must be a string: %w", err)
	}

	fns := maskingFunctions()
	mask, found := fns[maskingType]
	if !found {
		return nil, fmt.Errorf("%w: masking_type %q, expected one of %s",
			ErrInvalidParameters, maskingType, strings.Join(slices.Sorted(maps.Keys(fns)), ", "))
	}
	return &MaskingFieldResolver{mask: mask}, nil
}

func (r *MaskingFieldResolver) Resolve(value any, _ orchestrator.Record) (any, error) {
	switch val := value.(type) {
	case nil:
		return nil, nil
	case string:
		return r.mask(val), nil
	case []byte:
		return r.mask(string(val)), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValueType, value)
	}
}
