package parser

import (
	"strconv"
	"strings"
)

// SelectToSQL renders a SelectStmt back into SQL that parses to the same
// statement.
func SelectToSQL(stmt *SelectStmt) string {
	if stmt == nil {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for i, se := range stmt.Columns {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(ExprToSQL(se.Expr))
		if se.Alias != "" {
			sb.WriteString(" AS ")
			sb.WriteString(se.Alias)
		}
	}

	sb.WriteString(" FROM ")
	sb.WriteString(stmt.From)
	if len(stmt.Partitions) > 0 {
		sb.WriteString(" PARTITION (")
		sb.WriteString(strings.Join(stmt.Partitions, ", "))
		sb.WriteString(")")
	}

	if stmt.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(ExprToSQL(stmt.Where))
	}

	for i, ob := range stmt.OrderBy {
		if i == 0 {
			sb.WriteString(" ORDER BY ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(ob.Column)
		if ob.Desc {
			sb.WriteString(" DESC")
		}
	}

	if stmt.Limit != nil {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.FormatInt(*stmt.Limit, 10))
	}
	return sb.String()
}
