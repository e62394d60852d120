package engine

import (
	"fmt"
	"sort"

	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// SortOperator sorts by ORDER BY columns. It materializes all input rows first.
type SortOperator struct {
	input  Operator
	keys   []sortKey
	schema *types.Schema

	rows []types.Row
	pos  int
	done bool
}

type sortKey struct {
	col  int
	desc bool
}

func NewSortOperator(input Operator, orderBy []parser.OrderByExpr, schema *types.Schema) (*SortOperator, error) {
	s := &SortOperator{input: input, schema: schema}
	for _, ob := range orderBy {
		idx := schema.ColumnIndex(ob.Column)
		if idx < 0 {
			return nil, fmt.Errorf("ORDER BY column %s not found", ob.Column)
		}
		s.keys = append(s.keys, sortKey{col: idx, desc: ob.Desc})
	}
	return s, nil
}

func (s *SortOperator) Open() error {
	s.rows, s.pos, s.done = nil, 0, false
	return s.input.Open()
}

func (s *SortOperator) Next() (types.Row, error) {
	if !s.done {
		s.done = true
		rows, err := drain(s.input)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(rows, func(i, j int) bool {
			for _, k := range s.keys {
				c := types.CompareValues(s.schema.Columns[k.col].DataType, rows[i][k.col], rows[j][k.col])
				if c == 0 {
					continue
				}
				if k.desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		s.rows = rows
	}
	if s.pos >= len(s.rows) {
		return nil, nil
	}
	s.pos++
	return s.rows[s.pos-1], nil
}

func (s *SortOperator) Close() error {
	return s.input.Close()
}

// keyOrdered reports whether an ORDER BY is an ascending prefix of the
// table key, which a merged scan already delivers.
func keyOrdered(orderBy []parser.OrderByExpr, schema *types.Schema) bool {
	key := schema.KeyIndexes()
	if len(orderBy) > len(key) {
		return false
	}
	for i, ob := range orderBy {
		if ob.Desc || schema.ColumnIndex(ob.Column) != key[i] {
			return false
		}
	}
	return true
}
