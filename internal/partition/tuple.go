package partition

import (
	"strings"

	"github.com/harshithgowdakt/partdb/internal/types"
)

type maxValue struct{}

// MaxValue is the MAXVALUE sentinel inside a COLUMNS tuple. It orders
// after every value, NULL orders before every value.
var MaxValue types.Value = maxValue{}

// IsMaxValue reports whether v is the MAXVALUE sentinel.
func IsMaxValue(v types.Value) bool {
	_, ok := v.(maxValue)
	return ok
}

// CompareTuples compares two tuples element by element. dts gives the type
// of each position. A shorter tuple that is a prefix of a longer one
// compares equal.
func CompareTuples(dts []types.DataType, a, b []types.Value) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if c := compareElem(dts[i], a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareElem(dt types.DataType, a, b types.Value) int {
	am, bm := IsMaxValue(a), IsMaxValue(b)
	switch {
	case am && bm:
		return 0
	case am:
		return 1
	case bm:
		return -1
	}
	return types.CompareValues(dt, a, b)
}

// FormatTuple renders a tuple for messages.
func FormatTuple(dts []types.DataType, t []types.Value) string {
	parts := make([]string, len(t))
	for i, v := range t {
		if IsMaxValue(v) {
			parts[i] = "MAXVALUE"
			continue
		}
		parts[i] = types.ValueToString(dts[i], v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
