// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"

	"github.com/xataio/searchsync/pkg/engine"
)

// Record is a raw row of the system of record.
type Record map[string]any

// Criteria selects the live records that belong in an index. It is the
// index source criteria, handed over untouched.
type Criteria map[string]any

// Source gives access to the live records of the system of record. The IDs it
// returns are the objectIDs of the documents resolved out of the records.
type Source interface {
	Count(ctx context.Context, criteria Criteria) (int, error)
	IDs(ctx context.Context, criteria Criteria) ([]string, error)
	// Fetch returns a page of records in a stable order.
	Fetch(ctx context.Context, criteria Criteria, offset, limit int) ([]Record, error)
	// Get returns the record with the given id, or nil when it is gone or no
	// longer matches the criteria.
	Get(ctx context.Context, criteria Criteria, id string) (Record, error)
}

// Resolver maps a record onto the document indexed for it.
type Resolver interface {
	Resolve(ctx context.Context, record Record, idx *engine.Index) (engine.Document, error)
}
