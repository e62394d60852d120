package types

import (
	"fmt"
	"strings"
)

// ColumnDef defines a column in a table schema.
type ColumnDef struct {
	Name     string
	DataType DataType
	Nullable bool
}

// TypeString renders the column type as written in DDL.
func (c ColumnDef) TypeString() string {
	if c.Nullable {
		return "Nullable(" + c.DataType.Name() + ")"
	}
	return c.DataType.Name()
}

// Schema defines the columns of a table and its key. The key columns are
// unique within one leaf partition and define the order of ordered scans.
type Schema struct {
	Columns []ColumnDef
	OrderBy []string // key column names; empty means all columns
}

// ColumnIndex returns the position of a column by name (case-insensitive), or -1.
func (s *Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// GetColumnDef returns the ColumnDef for a column name.
func (s *Schema) GetColumnDef(name string) (ColumnDef, bool) {
	if i := s.ColumnIndex(name); i >= 0 {
		return s.Columns[i], true
	}
	return ColumnDef{}, false
}

// ColumnNames returns all column names in order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// KeyIndexes returns the column positions of the key.
func (s *Schema) KeyIndexes() []int {
	if len(s.OrderBy) == 0 {
		idx := make([]int, len(s.Columns))
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, 0, len(s.OrderBy))
	for _, name := range s.OrderBy {
		if i := s.ColumnIndex(name); i >= 0 {
			idx = append(idx, i)
		}
	}
	return idx
}

// Validate checks column names are unique and key columns exist.
func (s *Schema) Validate() error {
	if len(s.Columns) == 0 {
		return fmt.Errorf("table must have at least one column")
	}
	seen := make(map[string]bool, len(s.Columns))
	for _, c := range s.Columns {
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return fmt.Errorf("duplicate column %s", c.Name)
		}
		seen[lower] = true
	}
	for _, k := range s.OrderBy {
		if s.ColumnIndex(k) < 0 {
			return fmt.Errorf("ORDER BY column %s not in schema", k)
		}
	}
	return nil
}

// Row is one table row, positionally aligned with Schema.Columns.
type Row []Value

// Clone returns a copy of the row that shares no backing array.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// CompareRowsOn compares two rows on the given column positions in order.
func CompareRowsOn(s *Schema, cols []int, a, b Row) int {
	for _, c := range cols {
		if cmp := CompareValues(s.Columns[c].DataType, a[c], b[c]); cmp != 0 {
			return cmp
		}
	}
	return 0
}

// CheckRow verifies a row matches the schema's arity, types and nullability.
func (s *Schema) CheckRow(r Row) error {
	if len(r) != len(s.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(r), len(s.Columns))
	}
	for i, c := range s.Columns {
		if r[i] == nil {
			if !c.Nullable {
				return fmt.Errorf("column %s cannot be NULL", c.Name)
			}
			continue
		}
		if !matchesNative(c.DataType, r[i]) {
			return fmt.Errorf("column %s: value %v (%T) is not %s", c.Name, r[i], r[i], c.DataType.Name())
		}
	}
	return nil
}

func matchesNative(dt DataType, v Value) bool {
	switch v.(type) {
	case uint8:
		return dt == TypeUInt8
	case uint16:
		return dt == TypeUInt16
	case uint32:
		return dt == TypeUInt32 || dt == TypeDateTime
	case uint64:
		return dt == TypeUInt64
	case int8:
		return dt == TypeInt8
	case int16:
		return dt == TypeInt16
	case int32:
		return dt == TypeInt32
	case int64:
		return dt == TypeInt64
	case float32:
		return dt == TypeFloat32
	case float64:
		return dt == TypeFloat64
	case string:
		return dt == TypeString
	}
	return false
}
