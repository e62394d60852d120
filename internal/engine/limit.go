package engine

import "github.com/harshithgowdakt/partdb/internal/types"

// LimitOperator limits the number of output rows.
type LimitOperator struct {
	input   Operator
	limit   int64
	emitted int64
}

func NewLimitOperator(input Operator, limit int64) *LimitOperator {
	return &LimitOperator{input: input, limit: limit}
}

func (l *LimitOperator) Open() error {
	l.emitted = 0
	return l.input.Open()
}

func (l *LimitOperator) Next() (types.Row, error) {
	if l.emitted >= l.limit {
		return nil, nil
	}
	row, err := l.input.Next()
	if err != nil || row == nil {
		return row, err
	}
	l.emitted++
	return row, nil
}

func (l *LimitOperator) Close() error {
	return l.input.Close()
}
