// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	pglib "github.com/xataio/searchsync/internal/postgres"
	"github.com/xataio/searchsync/pkg/engine"
	"github.com/xataio/searchsync/pkg/orchestrator"
)

const defaultIDColumn = "id"

// Criteria is the decoded form of the index source criteria.
type Criteria struct {
	// Table holds the records, optionally schema qualified.
	Table    string `mapstructure:"table"`
	IDColumn string `mapstructure:"id_column"`
	// Columns restricts the selected columns. All columns are read when
	// empty.
	Columns []string `mapstructure:"columns"`
	// Filter is a SQL predicate written by the operator. Args are bound to
	// its $1..$n placeholders.
	Filter string `mapstructure:"filter"`
	Args   []any  `mapstructure:"args"`
}

func parseCriteria(c orchestrator.Criteria) (*Criteria, error) {
	criteria := &Criteria{}
	if err := mapstructure.Decode(map[string]any(c), criteria); err != nil {
		return nil, engine.NewValidationError("invalid source criteria: %v", err)
	}
	if strings.TrimSpace(criteria.Table) == "" {
		return nil, engine.NewValidationError("source criteria: table is required")
	}
	if criteria.IDColumn == "" {
		criteria.IDColumn = defaultIDColumn
	}
	return criteria, nil
}

func (c *Criteria) table() (string, error) {
	qn, err := pglib.NewQualifiedName(c.Table)
	if err != nil {
		return "", engine.NewValidationError("source criteria: table %q: %v", c.Table, err)
	}
	return qn.Quoted(), nil
}

func (c *Criteria) idColumn() string {
	return pglib.QuoteIdentifier(c.IDColumn)
}

func (c *Criteria) columns() string {
	if len(c.Columns) == 0 {
		return "*"
	}
	quoted := make([]string, 0, len(c.Columns)+1)
	hasID := false
	for _, col := range c.Columns {
		if col == c.IDColumn {
			hasID = true
		}
		quoted = append(quoted, pglib.QuoteIdentifier(col))
	}
	if !hasID {
		quoted = append([]string{c.idColumn()}, quoted...)
	}
	return strings.Join(quoted, ", ")
}

// where returns the WHERE clause for the criteria plus the extra conditions,
// which must use placeholders numbered after the criteria args.
func (c *Criteria) where(extra ...string) string {
	conditions := make([]string, 0, len(extra)+1)
	if strings.TrimSpace(c.Filter) != "" {
		conditions = append(conditions, "("+c.Filter+")")
	}
	conditions = append(conditions, extra...)
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}

func (c *Criteria) countQuery() (string, error) {
	table, err := c.table()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT count(*) FROM %s%s", table, c.where()), nil
}

func (c *Criteria) idsQuery() (string, error) {
	table, err := c.table()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SELECT %[1]s::text FROM %[2]s%[3]s ORDER BY %[1]s", c.idColumn(), table, c.where()), nil
}

func (c *Criteria) fetchQuery() (string, []any, error) {
	table, err := c.table()
	if err != nil {
		return "", nil, err
	}
	n := len(c.Args)
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT $%d OFFSET $%d",
		c.columns(), table, c.where(), c.idColumn(), n+1, n+2)
	return query, c.Args, nil
}

func (c *Criteria) getQuery() (string, error) {
	table, err := c.table()
	if err != nil {
		return "", err
	}
	idCondition := fmt.Sprintf("%s::text = $%d", c.idColumn(), len(c.Args)+1)
	return fmt.Sprintf("SELECT %s FROM %s%s LIMIT 1", c.columns(), table, c.where(idCondition)), nil
}
