package partition

import (
	"fmt"
	"strconv"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// EngineResolver maps an ENGINE = name clause to an engine id.
type EngineResolver func(name string) (uint8, error)

// SinglePartition is the definition of a table created without PARTITION
// BY: one KEY partition over the table key.
func SinglePartition(engine uint8) *Definition {
	return &Definition{
		Method:     Method{Kind: KindKey},
		Partitions: []Partition{{Name: "p0", Engine: engine}},
	}
}

// FromAST converts a parsed PARTITION BY clause into a normalized
// definition: every partition and subpartition is named and has an engine.
func FromAST(spec *parser.PartitionSpec, schema *types.Schema, engine uint8, resolve EngineResolver) (*Definition, error) {
	top, err := methodFromAST(spec.Method)
	if err != nil {
		return nil, err
	}
	def := &Definition{Method: top}
	if spec.Sub != nil {
		sub, err := methodFromAST(*spec.Sub)
		if err != nil {
			return nil, err
		}
		def.Sub = &sub
	}

	conv, err := newConverter(def, schema, engine, resolve)
	if err != nil {
		return nil, err
	}
	conv.numSubs = spec.NumSubpartitions
	if def.Sub != nil && conv.numSubs == 0 {
		conv.numSubs = 1
		for _, p := range spec.Partitions {
			if len(p.Subpartitions) > 0 {
				conv.numSubs = len(p.Subpartitions)
				break
			}
		}
	}

	switch {
	case len(spec.Partitions) > 0:
		if spec.NumPartitions > 0 && spec.NumPartitions != len(spec.Partitions) {
			return nil, errkind.ErrDefinition.New(fmt.Sprintf("PARTITIONS %d does not match the %d partitions defined", spec.NumPartitions, len(spec.Partitions)))
		}
		for _, n := range spec.Partitions {
			p, err := conv.partition(n)
			if err != nil {
				return nil, err
			}
			def.Partitions = append(def.Partitions, p)
		}
	case top.Kind == KindRange || top.Kind == KindList:
		return nil, errkind.ErrDefinition.New(fmt.Sprintf("for %s partitions each partition must be defined", top.Kind))
	default:
		n := max(spec.NumPartitions, 1)
		def.Partitions = conv.generated(0, n)
	}
	return def, nil
}

// PartitionsFromAST converts partition definitions of an ALTER TABLE
// against the bound table t.
func (t *Table) PartitionsFromAST(nodes []parser.PartitionDefNode, resolve EngineResolver) ([]Partition, error) {
	conv, err := newConverter(t.Def, t.Schema, t.Engine(), resolve)
	if err != nil {
		return nil, err
	}
	conv.numSubs = t.NumSubs
	out := make([]Partition, 0, len(nodes))
	for _, n := range nodes {
		p, err := conv.partition(n)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func methodFromAST(m parser.PartitionMethod) (Method, error) {
	kind, err := ParseKind(m.Kind)
	if err != nil {
		return Method{}, errkind.ErrDefinition.New(err.Error())
	}
	out := Method{Kind: kind, Linear: m.Linear, Columns: m.Columns}
	if m.Expr != nil {
		out.Expr = parser.ExprToSQL(m.Expr)
	}
	out.ColList = append([]string(nil), m.ColList...)
	return out, nil
}

type astConverter struct {
	def      *Definition
	schema   *types.Schema
	colTypes []types.DataType
	numSubs  int
	engine   uint8
	resolve  EngineResolver
}

func newConverter(def *Definition, schema *types.Schema, engine uint8, resolve EngineResolver) (*astConverter, error) {
	c := &astConverter{def: def, schema: schema, engine: engine, resolve: resolve}
	if def.Method.Columns {
		for _, name := range def.Method.ColList {
			cd, ok := schema.GetColumnDef(name)
			if !ok {
				return nil, errkind.ErrDefinition.New(fmt.Sprintf("partitioning column %s not found", name))
			}
			c.colTypes = append(c.colTypes, cd.DataType)
		}
	}
	return c, nil
}

func (c *astConverter) engineFor(name string, fallback uint8) (uint8, error) {
	if name == "" {
		return fallback, nil
	}
	if c.resolve == nil {
		return 0, errkind.ErrDefinition.New("unknown storage engine " + name)
	}
	id, err := c.resolve(name)
	if err != nil {
		return 0, errkind.ErrDefinition.New(err.Error())
	}
	return id, nil
}

func (c *astConverter) partition(n parser.PartitionDefNode) (Partition, error) {
	eng, err := c.engineFor(n.Engine, c.engine)
	if err != nil {
		return Partition{}, err
	}
	p := Partition{Name: n.Name, Engine: eng}

	for _, e := range n.LessThan {
		lit, err := c.literal(e, len(p.LessThan))
		if err != nil {
			return Partition{}, errkind.ErrDefinition.New(fmt.Sprintf("partition %s: %v", n.Name, err))
		}
		p.LessThan = append(p.LessThan, lit)
	}
	for _, tuple := range n.In {
		lits := make([]Literal, len(tuple))
		for i, e := range tuple {
			lit, err := c.literal(e, i)
			if err != nil {
				return Partition{}, errkind.ErrDefinition.New(fmt.Sprintf("partition %s: %v", n.Name, err))
			}
			lits[i] = lit
		}
		p.Values = append(p.Values, lits)
	}

	if c.def.Sub == nil {
		if len(n.Subpartitions) > 0 {
			return Partition{}, errkind.ErrDefinition.New(fmt.Sprintf("partition %s: subpartitions require SUBPARTITION BY", n.Name))
		}
		return p, nil
	}
	if len(n.Subpartitions) == 0 {
		for j := 0; j < c.numSubs; j++ {
			p.Subpartitions = append(p.Subpartitions, Subpartition{Name: n.Name + "sp" + strconv.Itoa(j), Engine: eng})
		}
		return p, nil
	}
	for _, sn := range n.Subpartitions {
		se, err := c.engineFor(sn.Engine, eng)
		if err != nil {
			return Partition{}, err
		}
		p.Subpartitions = append(p.Subpartitions, Subpartition{Name: sn.Name, Engine: se})
	}
	return p, nil
}

// generated names n partitions starting at p<from>.
func (c *astConverter) generated(from, n int) []Partition {
	parts := make([]Partition, 0, n)
	for i := from; i < from+n; i++ {
		name := "p" + strconv.Itoa(i)
		p := Partition{Name: name, Engine: c.engine}
		for j := 0; j < c.numSubs && c.def.Sub != nil; j++ {
			p.Subpartitions = append(p.Subpartitions, Subpartition{Name: name + "sp" + strconv.Itoa(j), Engine: c.engine})
		}
		parts = append(parts, p)
	}
	return parts
}

// literal evaluates a constant VALUES expression. pos is the tuple
// position, used to type COLUMNS values.
func (c *astConverter) literal(e parser.Expression, pos int) (Literal, error) {
	if _, ok := e.(*parser.MaxValueExpr); ok {
		return Literal{Max: true}, nil
	}
	if cols := parser.ExtractColumnRefs(e); len(cols) > 0 {
		return Literal{}, fmt.Errorf("constant expected, found column %s", cols[0])
	}
	v, dt, err := expr.Eval(e, c.schema, nil)
	if err != nil {
		return Literal{}, err
	}
	if v == nil {
		return Literal{Null: true}, nil
	}

	if c.def.Method.Columns {
		if pos >= len(c.colTypes) {
			return Literal{}, fmt.Errorf("too many values, expected %d", len(c.colTypes))
		}
		ct := c.colTypes[pos]
		cv, err := types.CoerceValue(ct, v)
		if err != nil {
			return Literal{}, err
		}
		return Literal{Text: types.ValueToString(ct, cv)}, nil
	}

	switch {
	case dt.IsInteger():
		n, err := types.ToInt64(dt, v)
		if err != nil {
			return Literal{}, err
		}
		return Literal{Text: strconv.FormatInt(n, 10)}, nil
	case dt.IsFloat():
		f, _ := types.ToFloat64(dt, v)
		if f != float64(int64(f)) {
			return Literal{}, fmt.Errorf("value %v must be an integer", f)
		}
		return Literal{Text: strconv.FormatInt(int64(f), 10)}, nil
	}
	return Literal{}, fmt.Errorf("value %s must be an integer", types.ValueToString(dt, v))
}
