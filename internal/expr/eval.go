// Package expr evaluates parsed expressions over rows.
package expr

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Eval evaluates an expression for a single row. A nil result is NULL.
func Eval(e parser.Expression, s *types.Schema, row types.Row) (types.Value, types.DataType, error) {
	switch x := e.(type) {
	case *parser.LiteralExpr:
		switch v := x.Value.(type) {
		case nil:
			return nil, types.TypeInt64, nil
		case int64:
			return v, types.TypeInt64, nil
		case float64:
			return v, types.TypeFloat64, nil
		case string:
			return v, types.TypeString, nil
		default:
			return nil, 0, fmt.Errorf("unknown literal type: %T", x.Value)
		}

	case *parser.ColumnRef:
		idx := s.ColumnIndex(x.Name)
		if idx < 0 {
			return nil, 0, fmt.Errorf("column %s not found", x.Name)
		}
		return row[idx], s.Columns[idx].DataType, nil

	case *parser.BinaryExpr:
		return evalBinary(x, s, row)

	case *parser.UnaryExpr:
		return evalUnary(x, s, row)

	case *parser.FunctionCall:
		return evalScalarFunc(x, s, row)

	case *parser.InExpr:
		return evalIn(x, s, row)

	case *parser.BetweenExpr:
		v, dt, err := Eval(x.Expr, s, row)
		if err != nil {
			return nil, 0, err
		}
		lo, lodt, err := Eval(x.Low, s, row)
		if err != nil {
			return nil, 0, err
		}
		hi, hidt, err := Eval(x.High, s, row)
		if err != nil {
			return nil, 0, err
		}
		if v == nil || lo == nil || hi == nil {
			return nil, types.TypeInt64, nil
		}
		c1, err := CompareMixed(dt, v, lodt, lo)
		if err != nil {
			return nil, 0, err
		}
		c2, err := CompareMixed(dt, v, hidt, hi)
		if err != nil {
			return nil, 0, err
		}
		in := c1 >= 0 && c2 <= 0
		return boolToInt(in != x.Not), types.TypeInt64, nil

	case *parser.IsNullExpr:
		v, _, err := Eval(x.Expr, s, row)
		if err != nil {
			return nil, 0, err
		}
		return boolToInt((v == nil) != x.Not), types.TypeInt64, nil

	case *parser.StarExpr:
		return nil, 0, fmt.Errorf("* cannot be evaluated as an expression")

	case *parser.MaxValueExpr:
		return nil, 0, fmt.Errorf("MAXVALUE is only valid in VALUES LESS THAN")

	default:
		return nil, 0, fmt.Errorf("unsupported expression type: %T", e)
	}
}

func evalBinary(e *parser.BinaryExpr, s *types.Schema, row types.Row) (types.Value, types.DataType, error) {
	lv, ldt, err := Eval(e.Left, s, row)
	if err != nil {
		return nil, 0, err
	}
	rv, rdt, err := Eval(e.Right, s, row)
	if err != nil {
		return nil, 0, err
	}

	op := strings.ToUpper(e.Op)

	// Three-valued boolean operators
	if op == "AND" || op == "OR" {
		lb, lnull, err := toTriBool(lv)
		if err != nil {
			return nil, 0, err
		}
		rb, rnull, err := toTriBool(rv)
		if err != nil {
			return nil, 0, err
		}
		if op == "AND" {
			if (!lnull && !lb) || (!rnull && !rb) {
				return int64(0), types.TypeInt64, nil
			}
			if lnull || rnull {
				return nil, types.TypeInt64, nil
			}
			return int64(1), types.TypeInt64, nil
		}
		if (!lnull && lb) || (!rnull && rb) {
			return int64(1), types.TypeInt64, nil
		}
		if lnull || rnull {
			return nil, types.TypeInt64, nil
		}
		return int64(0), types.TypeInt64, nil
	}

	if lv == nil || rv == nil {
		if isComparison(op) {
			return nil, types.TypeInt64, nil
		}
		return nil, arithmeticType(op, ldt, rdt), nil
	}

	if isComparison(op) {
		cmp, err := CompareMixed(ldt, lv, rdt, rv)
		if err != nil {
			return nil, 0, err
		}
		return evalComparison(op, cmp)
	}

	// Integer arithmetic stays exact; anything involving a float or a
	// division is done in float64.
	if ldt.IsInteger() && rdt.IsInteger() && op != "/" {
		a, err := intOperand(ldt, lv)
		if err != nil {
			return nil, 0, err
		}
		b, err := intOperand(rdt, rv)
		if err != nil {
			return nil, 0, err
		}
		var (
			n  int64
			ok = true
		)
		switch op {
		case "+":
			n, ok = addInt64(a, b)
		case "-":
			n, ok = subInt64(a, b)
		case "*":
			n, ok = mulInt64(a, b)
		case "%":
			if b == 0 {
				return nil, types.TypeInt64, nil
			}
			n = a % b
		default:
			return nil, 0, fmt.Errorf("unknown binary operator: %s", op)
		}
		if !ok {
			return nil, 0, errkind.ErrOutOfRange.New(fmt.Sprintf("%d %s %d", a, op, b))
		}
		return n, types.TypeInt64, nil
	}

	lf, err := types.ToFloat64(ldt, lv)
	if err != nil {
		return nil, 0, fmt.Errorf("left operand: %w", err)
	}
	rf, err := types.ToFloat64(rdt, rv)
	if err != nil {
		return nil, 0, fmt.Errorf("right operand: %w", err)
	}

	switch op {
	case "+":
		return lf + rf, types.TypeFloat64, nil
	case "-":
		return lf - rf, types.TypeFloat64, nil
	case "*":
		return lf * rf, types.TypeFloat64, nil
	case "/":
		if rf == 0 {
			return nil, types.TypeFloat64, nil
		}
		return lf / rf, types.TypeFloat64, nil
	case "%":
		if rf == 0 {
			return nil, types.TypeFloat64, nil
		}
		return math.Mod(lf, rf), types.TypeFloat64, nil
	default:
		return nil, 0, fmt.Errorf("unknown binary operator: %s", op)
	}
}

// intOperand converts an integer operand of arithmetic to int64.
func intOperand(dt types.DataType, v types.Value) (int64, error) {
	if u, ok := v.(uint64); ok && u > math.MaxInt64 {
		return 0, errkind.ErrOutOfRange.New(fmt.Sprintf("%d does not fit Int64", u))
	}
	return types.ToInt64(dt, v)
}

func addInt64(a, b int64) (int64, bool) {
	c := a + b
	return c, (c > a) == (b > 0)
}

func subInt64(a, b int64) (int64, bool) {
	c := a - b
	return c, (c < a) == (b > 0)
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	c := a * b
	if c/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return c, false
	}
	return c, true
}

func isComparison(op string) bool {
	switch op {
	case "=", "!=", "<>", "<", ">", "<=", ">=":
		return true
	}
	return false
}

func arithmeticType(op string, l, r types.DataType) types.DataType {
	if l.IsInteger() && r.IsInteger() && op != "/" {
		return types.TypeInt64
	}
	return types.TypeFloat64
}

func evalComparison(op string, cmp int) (types.Value, types.DataType, error) {
	switch op {
	case "=":
		return boolToInt(cmp == 0), types.TypeInt64, nil
	case "!=", "<>":
		return boolToInt(cmp != 0), types.TypeInt64, nil
	case "<":
		return boolToInt(cmp < 0), types.TypeInt64, nil
	case ">":
		return boolToInt(cmp > 0), types.TypeInt64, nil
	case "<=":
		return boolToInt(cmp <= 0), types.TypeInt64, nil
	case ">=":
		return boolToInt(cmp >= 0), types.TypeInt64, nil
	default:
		return nil, 0, fmt.Errorf("unknown comparison operator: %s", op)
	}
}

func evalUnary(e *parser.UnaryExpr, s *types.Schema, row types.Row) (types.Value, types.DataType, error) {
	v, dt, err := Eval(e.Expr, s, row)
	if err != nil {
		return nil, 0, err
	}
	switch strings.ToUpper(e.Op) {
	case "-":
		if dt.IsInteger() {
			if v == nil {
				return nil, types.TypeInt64, nil
			}
			n, err := intOperand(dt, v)
			if err != nil {
				return nil, 0, err
			}
			if n == math.MinInt64 {
				return nil, 0, errkind.ErrOutOfRange.New(fmt.Sprintf("-(%d)", n))
			}
			return -n, types.TypeInt64, nil
		}
		if v == nil {
			return nil, types.TypeFloat64, nil
		}
		f, err := types.ToFloat64(dt, v)
		if err != nil {
			return nil, 0, err
		}
		return -f, types.TypeFloat64, nil
	case "NOT":
		b, null, err := toTriBool(v)
		if err != nil {
			return nil, 0, err
		}
		if null {
			return nil, types.TypeInt64, nil
		}
		return boolToInt(!b), types.TypeInt64, nil
	default:
		return nil, 0, fmt.Errorf("unknown unary operator: %s", e.Op)
	}
}

func evalIn(e *parser.InExpr, s *types.Schema, row types.Row) (types.Value, types.DataType, error) {
	v, dt, err := Eval(e.Expr, s, row)
	if err != nil {
		return nil, 0, err
	}
	if v == nil {
		return nil, types.TypeInt64, nil
	}
	sawNull := false
	for _, item := range e.List {
		iv, idt, err := Eval(item, s, row)
		if err != nil {
			return nil, 0, err
		}
		if iv == nil {
			sawNull = true
			continue
		}
		cmp, err := CompareMixed(dt, v, idt, iv)
		if err != nil {
			return nil, 0, err
		}
		if cmp == 0 {
			return boolToInt(!e.Not), types.TypeInt64, nil
		}
	}
	if sawNull {
		return nil, types.TypeInt64, nil
	}
	return boolToInt(e.Not), types.TypeInt64, nil
}

// CompareMixed compares two non-NULL values of possibly different types the
// way a comparison predicate does. A string compared with a DateTime or a
// number is parsed into that domain first, integers compare exactly and
// everything else numeric compares as float64.
func CompareMixed(adt types.DataType, a types.Value, bdt types.DataType, b types.Value) (int, error) {
	if adt == bdt {
		return types.CompareValues(adt, a, b), nil
	}
	if adt == types.TypeString || bdt == types.TypeString {
		if adt == types.TypeDateTime || bdt == types.TypeDateTime {
			ca, err := types.CoerceValue(types.TypeDateTime, a)
			if err != nil {
				return 0, err
			}
			cb, err := types.CoerceValue(types.TypeDateTime, b)
			if err != nil {
				return 0, err
			}
			return types.CompareValues(types.TypeDateTime, ca, cb), nil
		}
		var err error
		if adt == types.TypeString {
			a, adt, err = numericString(a.(string))
		} else {
			b, bdt, err = numericString(b.(string))
		}
		if err != nil {
			return 0, err
		}
		return CompareMixed(adt, a, bdt, b)
	}
	if adt.IsInteger() && bdt.IsInteger() {
		if adt == types.TypeUInt64 || bdt == types.TypeUInt64 {
			return compareWithUint64(adt, a, bdt, b), nil
		}
		x, _ := types.ToInt64(adt, a)
		y, _ := types.ToInt64(bdt, b)
		return cmpInt(x, y), nil
	}
	x, err := types.ToFloat64(adt, a)
	if err != nil {
		return 0, err
	}
	y, err := types.ToFloat64(bdt, b)
	if err != nil {
		return 0, err
	}
	switch {
	case x < y:
		return -1, nil
	case x > y:
		return 1, nil
	}
	return 0, nil
}

// numericString parses s as the narrowest of Int64, UInt64 and Float64
// that holds it.
func numericString(s string) (types.Value, types.DataType, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, types.TypeInt64, nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, types.TypeUInt64, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, types.TypeFloat64, nil
	}
	return nil, 0, fmt.Errorf("cannot compare %q with a number", s)
}

func compareWithUint64(adt types.DataType, a types.Value, bdt types.DataType, b types.Value) int {
	if adt == types.TypeUInt64 && bdt == types.TypeUInt64 {
		return types.CompareValues(adt, a, b)
	}
	if adt == types.TypeUInt64 {
		return -compareWithUint64(bdt, b, adt, a)
	}
	x, _ := types.ToInt64(adt, a)
	y := b.(uint64)
	if x < 0 || y > math.MaxInt64 {
		return -1
	}
	return cmpInt(x, int64(y))
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ToBool converts a non-NULL Value to a boolean.
func ToBool(v types.Value) (bool, error) {
	switch val := v.(type) {
	case int64:
		return val != 0, nil
	case float64:
		return val != 0, nil
	case uint8:
		return val != 0, nil
	case uint16:
		return val != 0, nil
	case uint32:
		return val != 0, nil
	case uint64:
		return val != 0, nil
	case int8:
		return val != 0, nil
	case int16:
		return val != 0, nil
	case int32:
		return val != 0, nil
	case float32:
		return val != 0, nil
	case string:
		return val != "", nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
}

func toTriBool(v types.Value) (b bool, null bool, err error) {
	if v == nil {
		return false, true, nil
	}
	b, err = ToBool(v)
	return b, false, err
}

// Matches evaluates a predicate; NULL counts as not matching. A nil
// predicate matches every row.
func Matches(pred parser.Expression, s *types.Schema, row types.Row) (bool, error) {
	if pred == nil {
		return true, nil
	}
	v, _, err := Eval(pred, s, row)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, nil
	}
	return ToBool(v)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
