package engine

import (
	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// FilterOperator returns only the rows matching a WHERE expression.
type FilterOperator struct {
	input  Operator
	expr   parser.Expression
	schema *types.Schema
}

func NewFilterOperator(input Operator, e parser.Expression, schema *types.Schema) *FilterOperator {
	return &FilterOperator{input: input, expr: e, schema: schema}
}

func (f *FilterOperator) Open() error {
	return f.input.Open()
}

func (f *FilterOperator) Next() (types.Row, error) {
	for {
		row, err := f.input.Next()
		if err != nil || row == nil {
			return row, err
		}
		ok, err := expr.Matches(f.expr, f.schema, row)
		if err != nil {
			return nil, err
		}
		if ok {
			return row, nil
		}
	}
}

func (f *FilterOperator) Close() error {
	return f.input.Close()
}
