package domain

import "slices"

// RawRow maps origin column names to cell values. A column absent from the
// map is a missing cell, which is distinct from an empty one.
type RawRow map[string]string

// RawTable is a decoded feed before normalization.
type RawTable struct {
	Columns []string
	Rows    []RawRow
}

// HasColumn reports whether the header declares the column.
func (t RawTable) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}
