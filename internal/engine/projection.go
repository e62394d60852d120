package engine

import (
	"fmt"

	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// ProjectionOperator selects and computes output columns from SELECT expressions.
type ProjectionOperator struct {
	input  Operator
	schema *types.Schema
	exprs  []parser.Expression

	names []string
	types []types.DataType
	star  bool
}

func NewProjectionOperator(input Operator, selectExpr []parser.SelectExpr, schema *types.Schema) (*ProjectionOperator, error) {
	p := &ProjectionOperator{input: input, schema: schema}
	if len(selectExpr) == 1 {
		if _, ok := selectExpr[0].Expr.(*parser.StarExpr); ok {
			p.star = true
			p.names = schema.ColumnNames()
			for _, c := range schema.Columns {
				p.types = append(p.types, c.DataType)
			}
			return p, nil
		}
	}
	for _, se := range selectExpr {
		if _, ok := se.Expr.(*parser.StarExpr); ok {
			return nil, fmt.Errorf("* must be the only select expression")
		}
		for _, col := range parser.ExtractColumnRefs(se.Expr) {
			if schema.ColumnIndex(col) < 0 {
				return nil, fmt.Errorf("column %s not found", col)
			}
		}
		name := se.Alias
		if name == "" {
			name = parser.ExprToSQL(se.Expr)
		}
		p.names = append(p.names, name)
		p.exprs = append(p.exprs, se.Expr)
		dt := types.TypeString
		if ref, ok := se.Expr.(*parser.ColumnRef); ok {
			dt = schema.Columns[schema.ColumnIndex(ref.Name)].DataType
		}
		p.types = append(p.types, dt)
	}
	return p, nil
}

// OutputNames returns the output column names.
func (p *ProjectionOperator) OutputNames() []string { return p.names }

// OutputTypes returns the output column types. Computed columns take the
// type of their first non-NULL value.
func (p *ProjectionOperator) OutputTypes() []types.DataType { return p.types }

func (p *ProjectionOperator) Open() error {
	return p.input.Open()
}

func (p *ProjectionOperator) Next() (types.Row, error) {
	row, err := p.input.Next()
	if err != nil || row == nil || p.star {
		return row, err
	}
	out := make(types.Row, len(p.exprs))
	for i, e := range p.exprs {
		v, dt, err := expr.Eval(e, p.schema, row)
		if err != nil {
			return nil, err
		}
		if v != nil {
			p.types[i] = dt
		}
		out[i] = v
	}
	return out, nil
}

func (p *ProjectionOperator) Close() error {
	return p.input.Close()
}
