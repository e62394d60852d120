package partition

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Leaf is one physical partition of a bound table.
type Leaf struct {
	ID     int
	Name   string // <part> or <part>#SP#<sub>
	Part   int
	Sub    int
	Engine uint8
}

// ListEntry maps one LIST value to its partition.
type ListEntry struct {
	Value int64
	Part  int
}

// TupleEntry maps one COLUMNS tuple (a RANGE bound or a LIST value) to its
// partition.
type TupleEntry struct {
	Tuple []types.Value
	Part  int
}

// Level is one bound partitioning function: the top level or the
// subpartition level of a table.
type Level struct {
	Method Method
	// Expr is set for RANGE, LIST and HASH without COLUMNS.
	Expr *expr.Compiled
	// Cols holds the column indexes for KEY and COLUMNS modes, and
	// ColTypes their types.
	Cols     []int
	ColTypes []types.DataType
}

// Table is a definition bound to a schema with its derived boundary
// arrays. A Table is never modified after Bind returns.
type Table struct {
	Def    *Definition
	Schema *types.Schema

	Top Level
	Sub *Level

	NumParts int
	NumSubs  int // 0 when not subpartitioned

	// RangeBounds are the upper bounds of a scalar RANGE table. When
	// RangeMax is set the last partition is unbounded and RangeBounds has
	// one entry less than NumParts.
	RangeBounds []int64
	RangeMax    bool
	// RangeTuples are the upper bounds of a RANGE COLUMNS table.
	RangeTuples [][]types.Value

	// ListValues is sorted by value; NullPart is the partition listing
	// NULL, or -1.
	ListValues []ListEntry
	ListTuples []TupleEntry
	NullPart   int

	Leaves []Leaf
}

// Bind validates def against schema and builds the boundary arrays.
func Bind(def *Definition, schema *types.Schema) (*Table, error) {
	if len(def.Partitions) == 0 {
		return nil, errkind.ErrDefinition.New("at least one partition is required")
	}
	t := &Table{Def: def, Schema: schema, NullPart: -1, NumParts: len(def.Partitions)}

	top, err := bindLevel(def.Method, schema)
	if err != nil {
		return nil, err
	}
	t.Top = *top

	if def.Sub != nil {
		if def.Method.Kind != KindRange && def.Method.Kind != KindList {
			return nil, errkind.ErrDefinition.New("only RANGE and LIST tables can be subpartitioned")
		}
		if def.Sub.Kind != KindHash && def.Sub.Kind != KindKey {
			return nil, errkind.ErrDefinition.New("subpartitions must use HASH or KEY")
		}
		sub, err := bindLevel(*def.Sub, schema)
		if err != nil {
			return nil, err
		}
		t.Sub = sub
		t.NumSubs = def.NumSubpartitions()
		if t.NumSubs == 0 {
			return nil, errkind.ErrDefinition.New("subpartitioned table needs at least one subpartition")
		}
	}

	if err := t.buildLeaves(); err != nil {
		return nil, err
	}
	if err := t.BuildBoundaries(); err != nil {
		return nil, err
	}
	return t, nil
}

func bindLevel(m Method, schema *types.Schema) (*Level, error) {
	lvl := &Level{Method: m}
	if m.Columns && m.Kind != KindRange && m.Kind != KindList {
		return nil, errkind.ErrDefinition.New("COLUMNS is only valid for RANGE and LIST")
	}
	if m.Linear && m.Kind != KindHash && m.Kind != KindKey {
		return nil, errkind.ErrDefinition.New("LINEAR is only valid for HASH and KEY")
	}

	if m.Kind == KindKey || m.Columns {
		cols := m.ColList
		if len(cols) == 0 {
			if m.Columns {
				return nil, errkind.ErrDefinition.New("COLUMNS needs at least one column")
			}
			cols = make([]string, 0, len(schema.Columns))
			for _, i := range schema.KeyIndexes() {
				cols = append(cols, schema.Columns[i].Name)
			}
		}
		seen := make(map[int]bool)
		for _, name := range cols {
			idx := schema.ColumnIndex(name)
			if idx < 0 {
				return nil, errkind.ErrDefinition.New(fmt.Sprintf("partitioning column %s not found", name))
			}
			if seen[idx] {
				return nil, errkind.ErrDefinition.New(fmt.Sprintf("duplicate partitioning column %s", name))
			}
			seen[idx] = true
			dt := schema.Columns[idx].DataType
			if m.Columns && dt.IsFloat() {
				return nil, errkind.ErrDefinition.New(fmt.Sprintf("column %s of type %s is not allowed in COLUMNS partitioning", name, dt.Name()))
			}
			lvl.Cols = append(lvl.Cols, idx)
			lvl.ColTypes = append(lvl.ColTypes, dt)
		}
		return lvl, nil
	}

	if strings.TrimSpace(m.Expr) == "" {
		return nil, errkind.ErrDefinition.New(m.Kind.String() + " partitioning needs an expression")
	}
	pe, err := parser.ParseExpression(m.Expr)
	if err != nil {
		return nil, errkind.ErrDefinition.New(fmt.Sprintf("partition expression: %v", err))
	}
	c, err := expr.Compile(pe, schema)
	if err != nil {
		return nil, errkind.ErrDefinition.New(fmt.Sprintf("partition expression: %v", err))
	}
	if !c.Deterministic {
		return nil, errkind.ErrDefinition.New("partition function is not deterministic: " + c.String())
	}
	if len(c.Columns) == 0 {
		return nil, errkind.ErrDefinition.New("partition expression must reference a column")
	}
	for _, idx := range c.Columns {
		col := schema.Columns[idx]
		if col.DataType.IsFloat() {
			return nil, errkind.ErrDefinition.New(fmt.Sprintf("column %s of type %s is not allowed in a partition expression", col.Name, col.DataType.Name()))
		}
	}
	if !c.Type.IsInteger() {
		return nil, errkind.ErrDefinition.New(fmt.Sprintf("partition expression %s must return an integer, got %s", c, c.Type.Name()))
	}
	lvl.Expr = c
	return lvl, nil
}

func (t *Table) buildLeaves() error {
	names := make(map[string]bool)
	engine := -1
	check := func(kind, name string, e uint8) error {
		if name == "" {
			return errkind.ErrDefinition.New(kind + " name must not be empty")
		}
		if strings.ContainsAny(name, "#/\x00") {
			return errkind.ErrDefinition.New(fmt.Sprintf("invalid %s name %q", kind, name))
		}
		key := strings.ToLower(name)
		if names[key] {
			return errkind.ErrDefinition.New(fmt.Sprintf("duplicate partition name %s", name))
		}
		names[key] = true
		if engine >= 0 && int(e) != engine {
			return errkind.ErrDefinition.New("mixing storage engines across partitions is not allowed")
		}
		engine = int(e)
		return nil
	}

	for pi, p := range t.Def.Partitions {
		if t.Sub == nil {
			if len(p.Subpartitions) > 0 {
				return errkind.ErrDefinition.New(fmt.Sprintf("partition %s has subpartitions but the table is not subpartitioned", p.Name))
			}
			if err := check("partition", p.Name, p.Engine); err != nil {
				return err
			}
			t.Leaves = append(t.Leaves, Leaf{ID: len(t.Leaves), Name: p.Name, Part: pi, Engine: p.Engine})
			continue
		}
		if err := check("partition", p.Name, p.Engine); err != nil {
			return err
		}
		if len(p.Subpartitions) != t.NumSubs {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s has %d subpartitions, expected %d", p.Name, len(p.Subpartitions), t.NumSubs))
		}
		for si, sp := range p.Subpartitions {
			if err := check("subpartition", sp.Name, sp.Engine); err != nil {
				return err
			}
			t.Leaves = append(t.Leaves, Leaf{ID: len(t.Leaves), Name: LeafName(p.Name, sp.Name), Part: pi, Sub: si, Engine: sp.Engine})
		}
	}
	return nil
}

// BuildBoundaries derives the sorted RANGE and LIST arrays. It is
// idempotent for an unchanged definition.
func (t *Table) BuildBoundaries() error {
	t.RangeBounds, t.RangeMax, t.RangeTuples = nil, false, nil
	t.ListValues, t.ListTuples, t.NullPart = nil, nil, -1

	switch t.Top.Method.Kind {
	case KindRange:
		if t.Top.Method.Columns {
			return t.buildRangeTuples()
		}
		return t.buildRangeBounds()
	case KindList:
		if t.Top.Method.Columns {
			return t.buildListTuples()
		}
		return t.buildListValues()
	default:
		for _, p := range t.Def.Partitions {
			if len(p.LessThan) > 0 || len(p.Values) > 0 {
				return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: VALUES is only allowed for RANGE and LIST", p.Name))
			}
		}
	}
	return nil
}

func (t *Table) buildRangeBounds() error {
	n := len(t.Def.Partitions)
	for i, p := range t.Def.Partitions {
		if len(p.Values) > 0 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: VALUES IN is not allowed for RANGE", p.Name))
		}
		if len(p.LessThan) != 1 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s needs exactly one VALUES LESS THAN value", p.Name))
		}
		lit := p.LessThan[0]
		if lit.Max {
			if i != n-1 {
				return errkind.ErrDefinition.New("MAXVALUE can only be used in the last partition")
			}
			t.RangeMax = true
			continue
		}
		v, err := literalInt(lit)
		if err != nil {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: %v", p.Name, err))
		}
		if i > 0 && v <= t.RangeBounds[i-1] {
			return errkind.ErrDefinition.New("VALUES LESS THAN value must be strictly increasing for each partition")
		}
		t.RangeBounds = append(t.RangeBounds, v)
	}
	return nil
}

func (t *Table) buildRangeTuples() error {
	width := len(t.Top.Cols)
	for i, p := range t.Def.Partitions {
		if len(p.Values) > 0 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: VALUES IN is not allowed for RANGE", p.Name))
		}
		if len(p.LessThan) != width {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: expected %d values in VALUES LESS THAN", p.Name, width))
		}
		tuple, err := t.literalTuple(p.LessThan, false)
		if err != nil {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: %v", p.Name, err))
		}
		if i > 0 && CompareTuples(t.Top.ColTypes, tuple, t.RangeTuples[i-1]) <= 0 {
			return errkind.ErrDefinition.New("VALUES LESS THAN value must be strictly increasing for each partition")
		}
		t.RangeTuples = append(t.RangeTuples, tuple)
	}
	return nil
}

func (t *Table) buildListValues() error {
	for pi, p := range t.Def.Partitions {
		if len(p.LessThan) > 0 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: VALUES LESS THAN is not allowed for LIST", p.Name))
		}
		if len(p.Values) == 0 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s needs VALUES IN", p.Name))
		}
		for _, tuple := range p.Values {
			if len(tuple) != 1 {
				return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: LIST values must be scalars", p.Name))
			}
			lit := tuple[0]
			if lit.Max {
				return errkind.ErrDefinition.New("MAXVALUE is not allowed in VALUES IN")
			}
			if lit.Null {
				if t.NullPart >= 0 {
					return errkind.ErrDefinition.New("multiple definition of same constant in list partitioning: NULL")
				}
				t.NullPart = pi
				continue
			}
			v, err := literalInt(lit)
			if err != nil {
				return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: %v", p.Name, err))
			}
			t.ListValues = append(t.ListValues, ListEntry{Value: v, Part: pi})
		}
	}
	sort.Slice(t.ListValues, func(i, j int) bool { return t.ListValues[i].Value < t.ListValues[j].Value })
	for i := 1; i < len(t.ListValues); i++ {
		if t.ListValues[i].Value == t.ListValues[i-1].Value {
			return errkind.ErrDefinition.New(fmt.Sprintf("multiple definition of same constant in list partitioning: %d", t.ListValues[i].Value))
		}
	}
	return nil
}

func (t *Table) buildListTuples() error {
	width := len(t.Top.Cols)
	for pi, p := range t.Def.Partitions {
		if len(p.LessThan) > 0 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: VALUES LESS THAN is not allowed for LIST", p.Name))
		}
		if len(p.Values) == 0 {
			return errkind.ErrDefinition.New(fmt.Sprintf("partition %s needs VALUES IN", p.Name))
		}
		for _, lits := range p.Values {
			if len(lits) != width {
				return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: expected %d values in VALUES IN", p.Name, width))
			}
			tuple, err := t.literalTuple(lits, true)
			if err != nil {
				return errkind.ErrDefinition.New(fmt.Sprintf("partition %s: %v", p.Name, err))
			}
			t.ListTuples = append(t.ListTuples, TupleEntry{Tuple: tuple, Part: pi})
		}
	}
	sort.SliceStable(t.ListTuples, func(i, j int) bool {
		return CompareTuples(t.Top.ColTypes, t.ListTuples[i].Tuple, t.ListTuples[j].Tuple) < 0
	})
	for i := 1; i < len(t.ListTuples); i++ {
		if CompareTuples(t.Top.ColTypes, t.ListTuples[i].Tuple, t.ListTuples[i-1].Tuple) == 0 {
			return errkind.ErrDefinition.New("multiple definition of same constant in list partitioning: " +
				FormatTuple(t.Top.ColTypes, t.ListTuples[i].Tuple))
		}
	}
	return nil
}

// literalTuple types a COLUMNS tuple. LIST tuples may hold NULL but not
// MAXVALUE; RANGE tuples may hold MAXVALUE but not NULL.
func (t *Table) literalTuple(lits []Literal, list bool) ([]types.Value, error) {
	tuple := make([]types.Value, len(lits))
	for i, lit := range lits {
		switch {
		case lit.Max:
			if list {
				return nil, fmt.Errorf("MAXVALUE is not allowed in VALUES IN")
			}
			tuple[i] = MaxValue
		case lit.Null:
			if !list {
				return nil, fmt.Errorf("NULL is not allowed in VALUES LESS THAN")
			}
			tuple[i] = nil
		default:
			v, err := types.CoerceValue(t.Top.ColTypes[i], lit.Text)
			if err != nil {
				return nil, err
			}
			tuple[i] = v
		}
	}
	return tuple, nil
}

func literalInt(lit Literal) (int64, error) {
	if lit.Null {
		return 0, fmt.Errorf("NULL is not allowed here")
	}
	n, err := strconv.ParseInt(lit.Text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not an integer", lit.Text)
	}
	return n, nil
}

// NumLeaves returns the leaf count.
func (t *Table) NumLeaves() int { return len(t.Leaves) }

// LeafID flattens a partition and subpartition index.
func (t *Table) LeafID(part, sub int) int {
	return part*max(1, t.NumSubs) + sub
}

// PartitionLeaves returns the leaf ids of a top-level partition.
func (t *Table) PartitionLeaves(part int) (from, to int) {
	w := max(1, t.NumSubs)
	return part * w, part*w + w
}

// LeafNames returns the leaf names in id order.
func (t *Table) LeafNames() []string {
	names := make([]string, len(t.Leaves))
	for i, l := range t.Leaves {
		names[i] = l.Name
	}
	return names
}

// Engine returns the engine id shared by every leaf.
func (t *Table) Engine() uint8 {
	return t.Leaves[0].Engine
}

// ResolveNames turns a PARTITION (names) clause into a leaf set. A
// partition name selects all of its subpartitions.
func (t *Table) ResolveNames(names []string) (*LeafSet, error) {
	if len(names) == 0 {
		return AllLeaves(t.NumLeaves()), nil
	}
	set := NewLeafSet(t.NumLeaves())
	for _, name := range names {
		found := false
		for pi, p := range t.Def.Partitions {
			if strings.EqualFold(p.Name, name) {
				from, to := t.PartitionLeaves(pi)
				set.AddRange(from, to)
				found = true
				break
			}
			for si, sp := range p.Subpartitions {
				if strings.EqualFold(sp.Name, name) {
					set.Add(t.LeafID(pi, si))
					found = true
				}
			}
		}
		if !found {
			return nil, errkind.ErrDefinition.New("unknown partition '" + name + "'")
		}
	}
	return set, nil
}

// DescribeBound renders the boundary of a partition for introspection.
func (t *Table) DescribeBound(part int) string {
	p := t.Def.Partitions[part]
	switch t.Top.Method.Kind {
	case KindRange:
		return "LESS THAN " + literalList(p.LessThan)
	case KindList:
		parts := make([]string, len(p.Values))
		for i, v := range p.Values {
			parts[i] = literalList(v)
		}
		return "IN (" + strings.Join(parts, ", ") + ")"
	}
	return ""
}

func literalList(lits []Literal) string {
	parts := make([]string, len(lits))
	for i, l := range lits {
		parts[i] = l.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
