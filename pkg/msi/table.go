package msi

import (
	"github.com/kolide/msikit/pkg/msi/schema"
)

// Row is a single record. Cells are positional, in schema column order.
type Row []schema.Value

// Table is a schema plus the rows collected for it.
type Table struct {
	Schema *schema.Table
	rows   []Row
}

func newTable(s *schema.Table) *Table {
	return &Table{Schema: s}
}

// Name returns the table name.
func (t *Table) Name() string { return t.Schema.Name }

// Add appends a row. The number of values must match the number of
// columns and every value must be acceptable for its column. The
// returned Row shares storage with the table, so callers may patch
// cells in place.
func (t *Table) Add(values ...schema.Value) (Row, error) {
	if len(values) != len(t.Schema.Columns) {
		return nil, invalidf("table %s: expected %d values, got %d",
			t.Schema.Name, len(t.Schema.Columns), len(values))
	}
	for i, c := range t.Schema.Columns {
		if err := values[i].Check(c); err != nil {
			return nil, invalidf("table %s: %v", t.Schema.Name, err)
		}
	}

	row := Row(values)
	t.rows = append(t.rows, row)
	return row, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Rows returns the rows in the order they are written: insertion order
// for every table except Directory, which is written in reverse.
func (t *Table) Rows() []Row {
	if t.Schema.Name != schema.Directory {
		return t.rows
	}
	reversed := make([]Row, len(t.rows))
	for i, r := range t.rows {
		reversed[len(t.rows)-1-i] = r
	}
	return reversed
}
