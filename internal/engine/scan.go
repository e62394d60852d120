package engine

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/dispatch"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// TableScanOperator reads the pruned leaves of an open table. An ordered
// scan merges the leaves in key order.
type TableScanOperator struct {
	h       *dispatch.Handle
	ordered bool
	log     *logrus.Entry

	s    dispatch.Scanner
	rows int
}

func NewTableScanOperator(h *dispatch.Handle, ordered bool, log *logrus.Entry) *TableScanOperator {
	return &TableScanOperator{h: h, ordered: ordered, log: log}
}

func (s *TableScanOperator) Open() error {
	read := s.h.ReadSet()
	s.log.Debugf("opening table scan: %d of %d leaves %s, ordered=%v",
		read.Count(), s.h.Table().NumLeaves(), read, s.ordered)
	sc, err := s.h.Scan(s.ordered)
	if err != nil {
		return err
	}
	s.s, s.rows = sc, 0
	return nil
}

func (s *TableScanOperator) Next() (types.Row, error) {
	row, _, err := s.s.Next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.rows++
	return row, nil
}

func (s *TableScanOperator) Close() error {
	if s.s == nil {
		return nil
	}
	s.log.Debugf("table scan read %d rows", s.rows)
	err := s.s.Close()
	s.s = nil
	return err
}
