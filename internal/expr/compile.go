package expr

import (
	"fmt"
	"math"
	"strings"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Monotonicity describes how an expression of one column moves when the
// column value grows.
type Monotonicity uint8

const (
	NotMonotonic Monotonicity = iota
	Increasing
	Decreasing
)

func (m Monotonicity) String() string {
	switch m {
	case Increasing:
		return "increasing"
	case Decreasing:
		return "decreasing"
	default:
		return "not monotonic"
	}
}

func (m Monotonicity) flip() Monotonicity {
	switch m {
	case Increasing:
		return Decreasing
	case Decreasing:
		return Increasing
	}
	return m
}

// Compiled is an expression bound to a schema together with the static
// facts the partitioning layer needs about it.
type Compiled struct {
	Expr   parser.Expression
	Schema *types.Schema
	Type   types.DataType

	// Columns are the schema indexes referenced, in first-appearance order.
	Columns []int

	Deterministic bool

	// Monotonic is only set for expressions over exactly one column.
	Monotonic Monotonicity
	// Strict reports that distinct inputs give distinct outputs.
	Strict bool
	// NullOnNonNull reports that a non-NULL input can produce NULL.
	NullOnNonNull bool
}

// Compile resolves columns and functions, infers the result type and
// analyses monotonicity.
func Compile(e parser.Expression, s *types.Schema) (*Compiled, error) {
	if e == nil {
		return nil, fmt.Errorf("empty expression")
	}
	c := &Compiled{Expr: e, Schema: s, Deterministic: true}
	for _, name := range parser.ExtractColumnRefs(e) {
		idx := s.ColumnIndex(name)
		if idx < 0 {
			return nil, fmt.Errorf("column %s not found", name)
		}
		c.Columns = append(c.Columns, idx)
	}
	dt, err := c.infer(e)
	if err != nil {
		return nil, err
	}
	c.Type = dt
	if len(c.Columns) == 1 {
		c.Monotonic, c.Strict = c.monotonicity(e)
	}
	return c, nil
}

// Column returns the single referenced column, or -1.
func (c *Compiled) Column() int {
	if len(c.Columns) != 1 {
		return -1
	}
	return c.Columns[0]
}

// String renders the expression as SQL.
func (c *Compiled) String() string {
	return parser.ExprToSQL(c.Expr)
}

// Eval evaluates the expression for a row.
func (c *Compiled) Eval(row types.Row) (types.Value, types.DataType, error) {
	return Eval(c.Expr, c.Schema, row)
}

// EvalInt evaluates an integer-valued expression. null is true when the
// result is NULL. A UInt64 result above the Int64 range fails with
// errkind.ErrAboveInt64.
func (c *Compiled) EvalInt(row types.Row) (n int64, null bool, err error) {
	v, dt, err := c.Eval(row)
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, true, nil
	}
	if !dt.IsInteger() {
		return 0, false, fmt.Errorf("expression %s returned %s, not an integer", c, dt.Name())
	}
	if u, ok := v.(uint64); ok && u > math.MaxInt64 {
		return 0, false, errkind.ErrAboveInt64.New(u)
	}
	n, err = types.ToInt64(dt, v)
	return n, false, err
}

// EvalAt evaluates a single-column expression with that column set to v.
func (c *Compiled) EvalAt(v types.Value) (n int64, null bool, err error) {
	col := c.Column()
	if col < 0 {
		return 0, false, fmt.Errorf("expression %s does not reference exactly one column", c)
	}
	row := make(types.Row, len(c.Schema.Columns))
	row[col] = v
	return c.EvalInt(row)
}

func (c *Compiled) infer(e parser.Expression) (types.DataType, error) {
	switch x := e.(type) {
	case *parser.LiteralExpr:
		switch x.Value.(type) {
		case nil, int64:
			return types.TypeInt64, nil
		case float64:
			return types.TypeFloat64, nil
		case string:
			return types.TypeString, nil
		}
		return 0, fmt.Errorf("unknown literal type: %T", x.Value)

	case *parser.ColumnRef:
		return c.Schema.Columns[c.Schema.ColumnIndex(x.Name)].DataType, nil

	case *parser.BinaryExpr:
		lt, err := c.infer(x.Left)
		if err != nil {
			return 0, err
		}
		rt, err := c.infer(x.Right)
		if err != nil {
			return 0, err
		}
		op := strings.ToUpper(x.Op)
		if op == "AND" || op == "OR" || isComparison(op) {
			return types.TypeInt64, nil
		}
		if lt == types.TypeString || rt == types.TypeString {
			return 0, fmt.Errorf("operator %s is not defined for String", x.Op)
		}
		if op == "/" || op == "%" {
			c.NullOnNonNull = true
		}
		return arithmeticType(op, lt, rt), nil

	case *parser.UnaryExpr:
		t, err := c.infer(x.Expr)
		if err != nil {
			return 0, err
		}
		if x.Op == "-" {
			if t == types.TypeString {
				return 0, fmt.Errorf("unary minus is not defined for String")
			}
			if t.IsInteger() {
				return types.TypeInt64, nil
			}
			return types.TypeFloat64, nil
		}
		return types.TypeInt64, nil

	case *parser.FunctionCall:
		info, ok := functions[x.Name]
		if !ok {
			return 0, fmt.Errorf("unknown scalar function: %s", x.Name)
		}
		if info.arity >= 0 && len(x.Args) != info.arity {
			return 0, fmt.Errorf("%s requires %d argument(s), got %d", x.Name, info.arity, len(x.Args))
		}
		if !info.deterministic {
			c.Deterministic = false
		}
		argTypes := make([]types.DataType, len(x.Args))
		for i, a := range x.Args {
			t, err := c.infer(a)
			if err != nil {
				return 0, err
			}
			argTypes[i] = t
		}
		switch x.Name {
		case "intdiv", "mod":
			if d, ok := constInt(x.Args[1]); !ok || d == 0 {
				c.NullOnNonNull = true
			}
		case "toyear", "tomonth", "toyyyymm", "toyyyymmdd", "todays":
			if argTypes[0] == types.TypeString {
				c.NullOnNonNull = true
			} else if !argTypes[0].IsInteger() {
				return 0, fmt.Errorf("%s expects a DateTime, got %s", x.Name, argTypes[0].Name())
			}
		}
		return info.resultType(argTypes), nil

	case *parser.InExpr:
		if _, err := c.infer(x.Expr); err != nil {
			return 0, err
		}
		for _, item := range x.List {
			if _, err := c.infer(item); err != nil {
				return 0, err
			}
		}
		return types.TypeInt64, nil

	case *parser.BetweenExpr:
		for _, sub := range []parser.Expression{x.Expr, x.Low, x.High} {
			if _, err := c.infer(sub); err != nil {
				return 0, err
			}
		}
		return types.TypeInt64, nil

	case *parser.IsNullExpr:
		if _, err := c.infer(x.Expr); err != nil {
			return 0, err
		}
		return types.TypeInt64, nil
	}
	return 0, fmt.Errorf("unsupported expression: %s", parser.ExprToSQL(e))
}

// monotonicity derives the direction of a single-column expression.
func (c *Compiled) monotonicity(e parser.Expression) (Monotonicity, bool) {
	switch x := e.(type) {
	case *parser.ColumnRef:
		return Increasing, true

	case *parser.UnaryExpr:
		if x.Op != "-" {
			return NotMonotonic, false
		}
		m, strict := c.monotonicity(x.Expr)
		return m.flip(), strict

	case *parser.BinaryExpr:
		lc, lconst := constInt(x.Left)
		rc, rconst := constInt(x.Right)
		switch x.Op {
		case "+":
			if rconst {
				return c.monotonicity(x.Left)
			}
			if lconst {
				return c.monotonicity(x.Right)
			}
		case "-":
			if rconst {
				return c.monotonicity(x.Left)
			}
			if lconst {
				m, strict := c.monotonicity(x.Right)
				return m.flip(), strict
			}
		case "*":
			inner, k := x.Left, rc
			if lconst {
				inner, k = x.Right, lc
			} else if !rconst {
				return NotMonotonic, false
			}
			m, strict := c.monotonicity(inner)
			switch {
			case k > 0:
				return m, strict
			case k < 0:
				return m.flip(), strict
			}
		}
		return NotMonotonic, false

	case *parser.FunctionCall:
		switch x.Name {
		case "intdiv":
			d, ok := constInt(x.Args[1])
			if !ok || d == 0 {
				return NotMonotonic, false
			}
			m, _ := c.monotonicity(x.Args[0])
			if d < 0 {
				m = m.flip()
			}
			return m, false
		default:
			if info, ok := functions[x.Name]; ok && info.dateLike {
				m, _ := c.monotonicity(x.Args[0])
				return m, false
			}
		}
	}
	return NotMonotonic, false
}

// constInt reports the value of an integer literal, looking through a
// unary minus.
func constInt(e parser.Expression) (int64, bool) {
	switch x := e.(type) {
	case *parser.LiteralExpr:
		n, ok := x.Value.(int64)
		return n, ok
	case *parser.UnaryExpr:
		if x.Op == "-" {
			n, ok := constInt(x.Expr)
			return -n, ok
		}
	}
	return 0, false
}
