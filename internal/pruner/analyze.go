package pruner

import (
	"strings"

	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// maxRects bounds the disjunctive form of a condition. A condition that
// would need more rectangles restricts nothing.
const maxRects = 256

type rpnFunction uint8

const (
	rpnInRange     rpnFunction = iota // column value is in range
	rpnInSet                          // column value is one of several points
	rpnUnknown                        // no restriction
	rpnAnd                            // intersection of the top two items
	rpnOr                             // union of the top two items
	rpnAlwaysFalse                    // matches nothing
)

type rpnNode struct {
	function rpnFunction
	column   int
	ranges   []Range
}

// Condition is a WHERE clause compiled into RPN over per-column ranges,
// the same shape as a primary key condition.
type Condition struct {
	schema *types.Schema
	rpn    []rpnNode
}

// NewCondition compiles a WHERE expression.
func NewCondition(where parser.Expression, schema *types.Schema) *Condition {
	c := &Condition{schema: schema}
	if where == nil {
		c.rpn = append(c.rpn, rpnNode{function: rpnUnknown})
		return c
	}
	c.compileExpr(where)
	return c
}

func (c *Condition) compileExpr(e parser.Expression) {
	switch x := e.(type) {
	case *parser.BinaryExpr:
		op := strings.ToUpper(x.Op)
		if op == "AND" || op == "OR" {
			c.compileExpr(x.Left)
			c.compileExpr(x.Right)
			fn := rpnAnd
			if op == "OR" {
				fn = rpnOr
			}
			c.rpn = append(c.rpn, rpnNode{function: fn})
			return
		}
		col, lit, flipped := c.extractColLit(x.Left, x.Right)
		if col < 0 {
			c.unknown()
			return
		}
		if flipped {
			op = flipOperator(op)
		}
		c.comparison(col, op, lit)

	case *parser.BetweenExpr:
		col := c.columnOf(x.Expr)
		lo, lok := c.constant(x.Low)
		hi, hok := c.constant(x.High)
		if x.Not || col < 0 || !lok || !hok {
			c.unknown()
			return
		}
		if lo == nil || hi == nil {
			c.rpn = append(c.rpn, rpnNode{function: rpnAlwaysFalse})
			return
		}
		dt := c.schema.Columns[col].DataType
		clo, lok := coerce(dt, lo)
		chi, hok := coerce(dt, hi)
		if !lok || !hok {
			c.unknown()
			return
		}
		c.rpn = append(c.rpn, rpnNode{function: rpnInRange, column: col, ranges: []Range{{
			Left: clo, Right: chi, LeftIncluded: true, RightIncluded: true, DataType: dt,
		}}})

	case *parser.InExpr:
		col := c.columnOf(x.Expr)
		if x.Not || col < 0 {
			c.unknown()
			return
		}
		dt := c.schema.Columns[col].DataType
		var points []Range
		for _, item := range x.List {
			v, ok := c.constant(item)
			if !ok {
				c.unknown()
				return
			}
			if v == nil {
				continue
			}
			cv, ok := coerce(dt, v)
			if !ok {
				c.unknown()
				return
			}
			points = append(points, PointRange(dt, cv))
		}
		if len(points) == 0 {
			c.rpn = append(c.rpn, rpnNode{function: rpnAlwaysFalse})
			return
		}
		c.rpn = append(c.rpn, rpnNode{function: rpnInSet, column: col, ranges: points})

	case *parser.IsNullExpr:
		col := c.columnOf(x.Expr)
		if col < 0 {
			c.unknown()
			return
		}
		dt := c.schema.Columns[col].DataType
		r := NullRange(dt)
		if x.Not {
			r = NotNullRange(dt)
		}
		c.rpn = append(c.rpn, rpnNode{function: rpnInRange, column: col, ranges: []Range{r}})

	default:
		// NOT, functions over columns and anything else restrict nothing.
		c.unknown()
	}
}

func (c *Condition) unknown() {
	c.rpn = append(c.rpn, rpnNode{function: rpnUnknown})
}

func (c *Condition) comparison(col int, op string, lit types.Value) {
	if lit == nil {
		c.rpn = append(c.rpn, rpnNode{function: rpnAlwaysFalse})
		return
	}
	dt := c.schema.Columns[col].DataType
	coerced, ok := coerce(dt, lit)
	if !ok {
		c.unknown()
		return
	}
	r, ok := opValueToRange(op, coerced, dt)
	if !ok {
		// != and friends
		c.unknown()
		return
	}
	c.rpn = append(c.rpn, rpnNode{function: rpnInRange, column: col, ranges: []Range{r}})
}

// coerce converts a constant into the column's domain. It refuses a
// number against a String column, which the row filter compares as a
// number and so cannot be mapped onto string ranges.
func coerce(dt types.DataType, v types.Value) (types.Value, bool) {
	if _, isString := v.(string); dt == types.TypeString && !isString {
		return nil, false
	}
	cv, err := types.CoerceValue(dt, v)
	return cv, err == nil
}

// extractColLit matches "column op constant" in either order.
func (c *Condition) extractColLit(left, right parser.Expression) (col int, lit types.Value, flipped bool) {
	if col := c.columnOf(left); col >= 0 {
		if v, ok := c.constant(right); ok {
			return col, v, false
		}
	}
	if col := c.columnOf(right); col >= 0 {
		if v, ok := c.constant(left); ok {
			return col, v, true
		}
	}
	return -1, nil, false
}

func (c *Condition) columnOf(e parser.Expression) int {
	ref, ok := e.(*parser.ColumnRef)
	if !ok {
		return -1
	}
	return c.schema.ColumnIndex(ref.Name)
}

// constant evaluates a deterministic expression without column references.
func (c *Condition) constant(e parser.Expression) (types.Value, bool) {
	if len(parser.ExtractColumnRefs(e)) > 0 {
		return nil, false
	}
	compiled, err := expr.Compile(e, c.schema)
	if err != nil || !compiled.Deterministic {
		return nil, false
	}
	v, _, err := compiled.Eval(nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Rectangles evaluates the condition into a union of hyperrectangles.
// The union covers every row that can satisfy the condition.
func (c *Condition) Rectangles() []Hyperrectangle {
	full := []Hyperrectangle{{}}
	stack := make([][]Hyperrectangle, 0, len(c.rpn))
	for _, node := range c.rpn {
		switch node.function {
		case rpnInRange, rpnInSet:
			rects := make([]Hyperrectangle, 0, len(node.ranges))
			for _, r := range node.ranges {
				if !r.IsEmpty() {
					rects = append(rects, Hyperrectangle{node.column: r})
				}
			}
			if len(rects) > maxRects {
				rects = full
			}
			stack = append(stack, rects)
		case rpnUnknown:
			stack = append(stack, full)
		case rpnAlwaysFalse:
			stack = append(stack, nil)
		case rpnAnd, rpnOr:
			if len(stack) < 2 {
				return full
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]
			if node.function == rpnAnd {
				stack = append(stack, andRects(a, b))
			} else {
				stack = append(stack, orRects(a, b))
			}
		}
	}
	if len(stack) != 1 {
		return full
	}
	return stack[0]
}

func andRects(a, b []Hyperrectangle) []Hyperrectangle {
	if len(a)*len(b) > maxRects {
		// Keep the narrower side; still a superset.
		if len(a) <= len(b) {
			return a
		}
		return b
	}
	out := make([]Hyperrectangle, 0, len(a)*len(b))
	for _, x := range a {
		for _, y := range b {
			if r, ok := x.intersect(y); ok {
				out = append(out, r)
			}
		}
	}
	return out
}

func orRects(a, b []Hyperrectangle) []Hyperrectangle {
	if len(a)+len(b) > maxRects {
		return []Hyperrectangle{{}}
	}
	out := make([]Hyperrectangle, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
