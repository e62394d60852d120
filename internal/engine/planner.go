package engine

import (
	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/dispatch"
	"github.com/harshithgowdakt/partdb/internal/parser"
)

// PlanSelect converts a SELECT AST into an operator tree over an open
// table whose read set is already pruned. It returns the root operator
// and the projection that names the output.
func PlanSelect(stmt *parser.SelectStmt, h *dispatch.Handle, log *logrus.Entry) (Operator, *ProjectionOperator, error) {
	schema := h.Table().Schema

	// A merged scan delivers key order, so an ORDER BY on a key prefix
	// needs no sort and a LIMIT stops reading early.
	ordered := len(stmt.OrderBy) > 0 && keyOrdered(stmt.OrderBy, schema)
	log.Debugf("planning select: order by %v, merged scan=%v", stmt.OrderBy, ordered)

	var op Operator = NewTableScanOperator(h, ordered, log)
	if stmt.Where != nil {
		op = NewFilterOperator(op, stmt.Where, schema)
	}
	if len(stmt.OrderBy) > 0 && !ordered {
		s, err := NewSortOperator(op, stmt.OrderBy, schema)
		if err != nil {
			return nil, nil, err
		}
		op = s
	}
	if stmt.Limit != nil {
		op = NewLimitOperator(op, *stmt.Limit)
	}
	proj, err := NewProjectionOperator(op, stmt.Columns, schema)
	if err != nil {
		return nil, nil, err
	}
	return proj, proj, nil
}
