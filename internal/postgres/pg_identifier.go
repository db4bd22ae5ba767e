// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

// QualifiedName is a relation name with an optional schema.
type QualifiedName struct {
	schema string
	name   string
}

var errInvalidQualifiedName = errors.New("expected [schema.]name")

func NewQualifiedName(s string) (*QualifiedName, error) {
	parts := strings.Split(s, ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, errInvalidQualifiedName
		}
	}
	switch len(parts) {
	case 1:
		return &QualifiedName{name: parts[0]}, nil
	case 2:
		return &QualifiedName{schema: parts[0], name: parts[1]}, nil
	default:
		return nil, errInvalidQualifiedName
	}
}

func (qn *QualifiedName) Schema() string {
	return qn.schema
}

func (qn *QualifiedName) Name() string {
	return qn.name
}

// Quoted returns the name ready to be used in a query.
func (qn *QualifiedName) Quoted() string {
	if qn.schema == "" {
		return QuoteIdentifier(qn.name)
	}
	return QuoteIdentifier(qn.schema) + "." + QuoteIdentifier(qn.name)
}

// QuoteIdentifier quotes s unless it already is.
func QuoteIdentifier(s string) string {
	if isQuoted(s) {
		return s
	}
	return pq.QuoteIdentifier(s)
}

func isQuoted(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)
}
