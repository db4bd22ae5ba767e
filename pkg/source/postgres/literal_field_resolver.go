// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"errors"

	"github.com/xataio/searchsync/pkg/orchestrator"
)

type LiteralFieldResolver struct {
	literal any
}

var (
	literalResolverParams = []string{"value"}
	errLiteralMustBeSet   = errors.New("value parameter must be provided")
)

func NewLiteralFieldResolver(params Parameters) (*LiteralFieldResolver, error) {
	if err := validateParameters(params, literalResolverParams); err != nil {
		return nil, err
	}
	literal, found := params["value"]
	if !found || literal == nil {
		return nil, errLiteralMustBeSet
	}
	return &LiteralFieldResolver{literal: literal}, nil
}

func (r *LiteralFieldResolver) Resolve(_ any, _ orchestrator.Record) (any, error) {
	return r.literal, nil
}
