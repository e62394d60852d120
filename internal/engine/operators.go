package engine

import "github.com/harshithgowdakt/partdb/internal/types"

// Operator is a pull-based iterator producing rows.
type Operator interface {
	Open() error
	// Next returns the next row, or nil when exhausted.
	Next() (types.Row, error)
	Close() error
}

// drain reads every row of an opened operator.
func drain(op Operator) ([]types.Row, error) {
	var rows []types.Row
	for {
		row, err := op.Next()
		if err != nil {
			return nil, err
		}
		if row == nil {
			return rows, nil
		}
		rows = append(rows, row)
	}
}
