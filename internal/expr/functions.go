package expr

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

type scalarFunc func(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error)

// funcInfo describes one scalar function.
type funcInfo struct {
	arity         int // -1 for variadic
	eval          scalarFunc
	resultType    func(argTypes []types.DataType) types.DataType
	deterministic bool
	// dateLike functions are non-decreasing in their single argument.
	dateLike bool
}

var functions map[string]funcInfo

func init() {
	functions = map[string]funcInfo{
		"toyear":     {arity: 1, eval: dateFunc(func(t time.Time) types.Value { return uint16(t.Year()) }, types.TypeUInt16), resultType: fixed(types.TypeUInt16), deterministic: true, dateLike: true},
		"tomonth":    {arity: 1, eval: dateFunc(func(t time.Time) types.Value { return uint8(t.Month()) }, types.TypeUInt8), resultType: fixed(types.TypeUInt8), deterministic: true},
		"toyyyymm":   {arity: 1, eval: dateFunc(func(t time.Time) types.Value { return uint32(t.Year()*100 + int(t.Month())) }, types.TypeUInt32), resultType: fixed(types.TypeUInt32), deterministic: true, dateLike: true},
		"toyyyymmdd": {arity: 1, eval: dateFunc(func(t time.Time) types.Value { return uint32(t.Year()*10000 + int(t.Month())*100 + t.Day()) }, types.TypeUInt32), resultType: fixed(types.TypeUInt32), deterministic: true, dateLike: true},
		"todays":     {arity: 1, eval: dateFunc(func(t time.Time) types.Value { return t.Unix() / 86400 }, types.TypeInt64), resultType: fixed(types.TypeInt64), deterministic: true, dateLike: true},
		"intdiv":     {arity: 2, eval: scalarIntDiv, resultType: fixed(types.TypeInt64), deterministic: true},
		"mod":        {arity: 2, eval: scalarMod, resultType: fixed(types.TypeInt64), deterministic: true},
		"abs":        {arity: 1, eval: scalarAbs, resultType: absType, deterministic: true},
		"tostring":   {arity: 1, eval: scalarToString, resultType: fixed(types.TypeString), deterministic: true},
		"rand":       {arity: 0, eval: scalarRand, resultType: fixed(types.TypeFloat64)},
		"now":        {arity: 0, eval: scalarNow, resultType: fixed(types.TypeDateTime)},
	}
}

func fixed(dt types.DataType) func([]types.DataType) types.DataType {
	return func([]types.DataType) types.DataType { return dt }
}

func absType(argTypes []types.DataType) types.DataType {
	if len(argTypes) == 1 && argTypes[0].IsFloat() {
		return types.TypeFloat64
	}
	return types.TypeInt64
}

// evalScalarFunc evaluates a scalar function call for a single row.
func evalScalarFunc(fc *parser.FunctionCall, s *types.Schema, row types.Row) (types.Value, types.DataType, error) {
	info, ok := functions[fc.Name]
	if !ok {
		return nil, 0, fmt.Errorf("unknown scalar function: %s", fc.Name)
	}
	if info.arity >= 0 && len(fc.Args) != info.arity {
		return nil, 0, fmt.Errorf("%s requires %d argument(s), got %d", fc.Name, info.arity, len(fc.Args))
	}

	args := make([]types.Value, len(fc.Args))
	argTypes := make([]types.DataType, len(fc.Args))
	for i, argExpr := range fc.Args {
		v, dt, err := Eval(argExpr, s, row)
		if err != nil {
			return nil, 0, fmt.Errorf("evaluating arg %d of %s: %w", i, fc.Name, err)
		}
		args[i] = v
		argTypes[i] = dt
	}
	for _, a := range args {
		if a == nil {
			return nil, info.resultType(argTypes), nil
		}
	}
	return info.eval(args, argTypes)
}

// toTime interprets a DateTime, an integer timestamp or a date string.
// ok is false for strings that are not dates.
func toTime(v types.Value, dt types.DataType) (t time.Time, ok bool, err error) {
	if dt == types.TypeString {
		t, perr := types.ParseDateTime(v.(string))
		if perr != nil {
			return time.Time{}, false, nil
		}
		return t, true, nil
	}
	n, err := types.ToInt64(dt, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected numeric datetime, got %T", v)
	}
	return time.Unix(n, 0).UTC(), true, nil
}

func dateFunc(fn func(time.Time) types.Value, result types.DataType) scalarFunc {
	return func(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
		t, ok, err := toTime(args[0], argTypes[0])
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, result, nil
		}
		return fn(t), result, nil
	}
}

func scalarIntDiv(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
	a, err := intOperand(argTypes[0], args[0])
	if err != nil {
		return nil, 0, err
	}
	b, err := intOperand(argTypes[1], args[1])
	if err != nil {
		return nil, 0, err
	}
	if b == 0 {
		return nil, types.TypeInt64, nil
	}
	if a == math.MinInt64 && b == -1 {
		return nil, 0, errkind.ErrOutOfRange.New(fmt.Sprintf("intDiv(%d, -1)", a))
	}
	return floorDiv(a, b), types.TypeInt64, nil
}

// floorDiv rounds toward negative infinity so intDiv stays monotonic
// across zero.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func scalarMod(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
	a, err := intOperand(argTypes[0], args[0])
	if err != nil {
		return nil, 0, err
	}
	b, err := intOperand(argTypes[1], args[1])
	if err != nil {
		return nil, 0, err
	}
	if b == 0 {
		return nil, types.TypeInt64, nil
	}
	return a % b, types.TypeInt64, nil
}

func scalarAbs(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
	if argTypes[0].IsFloat() {
		f, _ := types.ToFloat64(argTypes[0], args[0])
		if f < 0 {
			f = -f
		}
		return f, types.TypeFloat64, nil
	}
	n, err := intOperand(argTypes[0], args[0])
	if err != nil {
		return nil, 0, err
	}
	if n == math.MinInt64 {
		return nil, 0, errkind.ErrOutOfRange.New(fmt.Sprintf("abs(%d)", n))
	}
	if n < 0 {
		n = -n
	}
	return n, types.TypeInt64, nil
}

func scalarToString(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
	return types.ValueToString(argTypes[0], args[0]), types.TypeString, nil
}

func scalarRand(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
	return rand.Float64(), types.TypeFloat64, nil
}

func scalarNow(args []types.Value, argTypes []types.DataType) (types.Value, types.DataType, error) {
	return uint32(time.Now().Unix()), types.TypeDateTime, nil
}
