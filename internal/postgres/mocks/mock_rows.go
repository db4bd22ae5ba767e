// SPDX-License-Identifier: Apache-2.0

package mocks

import (
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Rows struct {
	CloseFn             func()
	ErrFn               func() error
	FieldDescriptionsFn func() []pgconn.FieldDescription
	NextFn              func(i uint) bool
	ScanFn              func(dest ...any) error
	ValuesFn            func() ([]any, error)
	RawValuesFn         func() [][]byte
	nextCalls           uint
}

func (m *Rows) Close() {
	if m.CloseFn != nil {
		m.CloseFn()
	}
}

func (m *Rows) Err() error {
	if m.ErrFn != nil {
		return m.ErrFn()
	}
	return nil
}

func (m *Rows) CommandTag() pgconn.CommandTag {
	return pgconn.CommandTag{}
}

func (m *Rows) FieldDescriptions() []pgconn.FieldDescription {
	return m.FieldDescriptionsFn()
}

func (m *Rows) Next() bool {
	m.nextCalls++
	return m.NextFn(m.nextCalls)
}

func (m *Rows) Scan(dest ...any) error {
	return m.ScanFn(dest...)
}

func (m *Rows) Values() ([]any, error) {
	return m.ValuesFn()
}

func (m *Rows) RawValues() [][]byte {
	return m.RawValuesFn()
}

func (m *Rows) Conn() *pgx.Conn {
	return &pgx.Conn{}
}

// NewRows returns rows holding the values on input, one slice per row in
// column order.
func NewRows(columns []string, values [][]any) *Rows {
	fields := make([]pgconn.FieldDescription, 0, len(columns))
	for _, c := range columns {
		fields = append(fields, pgconn.FieldDescription{Name: c})
	}
	rows := &Rows{
		FieldDescriptionsFn: func() []pgconn.FieldDescription { return fields },
		NextFn:              func(i uint) bool { return i <= uint(len(values)) },
	}
	current := func() []any { return values[rows.nextCalls-1] }
	rows.ValuesFn = func() ([]any, error) { return current(), nil }
	rows.ScanFn = func(dest ...any) error {
		if len(dest) == 1 {
			if scanner, ok := dest[0].(pgx.RowScanner); ok {
				return scanner.ScanRow(rows)
			}
		}
		row := current()
		if len(dest) != len(row) {
			return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(row))
		}
		for i, d := range dest {
			reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
		}
		return nil
	}
	return rows
}
