package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Statement is the top-level AST node.
type Statement interface {
	statementNode()
}

// --- Statements ---

// CreateTableStmt represents CREATE TABLE.
type CreateTableStmt struct {
	TableName   string
	IfNotExists bool
	Columns     []ColumnDefNode
	Engine      string         // "Memory", "File"
	OrderBy     []string       // key columns
	Partition   *PartitionSpec // nil for a single-partition table
}

func (*CreateTableStmt) statementNode() {}

// ColumnDefNode defines a column in a CREATE TABLE.
type ColumnDefNode struct {
	Name     string
	TypeName string
}

// PartitionSpec is the PARTITION BY clause.
type PartitionSpec struct {
	Method           PartitionMethod
	NumPartitions    int              // PARTITIONS n, 0 when absent
	Sub              *PartitionMethod // SUBPARTITION BY, nil when absent
	NumSubpartitions int              // SUBPARTITIONS m, 0 when absent
	Partitions       []PartitionDefNode
}

// PartitionMethod is one partitioning function: RANGE, LIST, HASH or KEY.
type PartitionMethod struct {
	Kind    string // RANGE, LIST, HASH, KEY
	Linear  bool
	Columns bool       // RANGE COLUMNS / LIST COLUMNS
	Expr    Expression // RANGE, LIST, HASH
	ColList []string   // KEY, RANGE COLUMNS, LIST COLUMNS
}

// PartitionDefNode is one PARTITION p ... entry.
type PartitionDefNode struct {
	Name          string
	LessThan      []Expression   // VALUES LESS THAN (...); MaxValueExpr for MAXVALUE
	In            [][]Expression // VALUES IN (...); one tuple per listed value
	Engine        string
	Subpartitions []SubpartitionDefNode
}

// SubpartitionDefNode is one SUBPARTITION s entry.
type SubpartitionDefNode struct {
	Name   string
	Engine string
}

// InsertStmt represents INSERT INTO ... VALUES ...
type InsertStmt struct {
	TableName  string
	Partitions []string       // PARTITION (names) restriction
	Columns    []string       // explicit column list, or nil for all
	Values     [][]Expression // list of row-value-lists
}

func (*InsertStmt) statementNode() {}

// SelectStmt represents SELECT.
type SelectStmt struct {
	Columns    []SelectExpr
	From       string // table name
	Partitions []string
	Where      Expression
	OrderBy    []OrderByExpr
	Limit      *int64
}

func (*SelectStmt) statementNode() {}

// SelectExpr represents a single item in the SELECT list.
type SelectExpr struct {
	Expr  Expression
	Alias string // AS alias, or empty
}

// OrderByExpr represents a single ORDER BY item.
type OrderByExpr struct {
	Column string
	Desc   bool
}

// UpdateStmt represents UPDATE ... SET ...
type UpdateStmt struct {
	TableName  string
	Partitions []string
	Set        []Assignment
	Where      Expression
}

func (*UpdateStmt) statementNode() {}

// Assignment is col = expr in an UPDATE.
type Assignment struct {
	Column string
	Value  Expression
}

// DeleteStmt represents DELETE FROM.
type DeleteStmt struct {
	TableName  string
	Partitions []string
	Where      Expression
}

func (*DeleteStmt) statementNode() {}

// AlterAction identifies the partition maintenance command of an ALTER TABLE.
type AlterAction uint8

const (
	AlterAddPartition  AlterAction = iota // ADD PARTITION (defs)
	AlterAddPartitions                    // ADD PARTITION PARTITIONS n
	AlterDropPartition                    // DROP PARTITION names
	AlterReorganize                       // REORGANIZE PARTITION names INTO (defs)
	AlterCoalesce                         // COALESCE PARTITION n
	AlterRebuild                          // REBUILD PARTITION names|ALL
)

var alterActionNames = map[AlterAction]string{
	AlterAddPartition:  "ADD PARTITION",
	AlterAddPartitions: "ADD PARTITIONS",
	AlterDropPartition: "DROP PARTITION",
	AlterReorganize:    "REORGANIZE PARTITION",
	AlterCoalesce:      "COALESCE PARTITION",
	AlterRebuild:       "REBUILD PARTITION",
}

func (a AlterAction) String() string {
	if s, ok := alterActionNames[a]; ok {
		return s
	}
	return "UNKNOWN"
}

// AlterTableStmt represents ALTER TABLE t <partition command>.
type AlterTableStmt struct {
	TableName  string
	Action     AlterAction
	Names      []string           // DROP / REORGANIZE / REBUILD targets
	All        bool               // REBUILD PARTITION ALL
	Count      int                // ADD PARTITION PARTITIONS n, COALESCE PARTITION n
	Partitions []PartitionDefNode // ADD / REORGANIZE ... INTO
}

func (*AlterTableStmt) statementNode() {}

// ExplainStmt represents EXPLAIN SELECT; it reports the leaves a scan would touch.
type ExplainStmt struct {
	Select *SelectStmt
}

func (*ExplainStmt) statementNode() {}

// DropTableStmt represents DROP TABLE.
type DropTableStmt struct {
	TableName string
	IfExists  bool
}

func (*DropTableStmt) statementNode() {}

// RenameTableStmt represents RENAME TABLE a TO b.
type RenameTableStmt struct {
	From string
	To   string
}

func (*RenameTableStmt) statementNode() {}

// ShowTablesStmt represents SHOW TABLES.
type ShowTablesStmt struct{}

func (*ShowTablesStmt) statementNode() {}

// ShowPartitionsStmt represents SHOW PARTITIONS FROM t.
type ShowPartitionsStmt struct {
	TableName string
}

func (*ShowPartitionsStmt) statementNode() {}

// ShowTableStatusStmt represents SHOW TABLE STATUS t.
type ShowTableStatusStmt struct {
	TableName string
}

func (*ShowTableStatusStmt) statementNode() {}

// --- Expressions ---

// Expression is a node in an expression tree.
type Expression interface {
	exprNode()
}

// ColumnRef references a column by name.
type ColumnRef struct {
	Name string
}

func (*ColumnRef) exprNode() {}

// LiteralExpr is a literal value (int64, float64, string, or nil for NULL).
type LiteralExpr struct {
	Value interface{}
}

func (*LiteralExpr) exprNode() {}

// BinaryExpr is a binary operation.
type BinaryExpr struct {
	Op    string // +, -, *, /, %, =, !=, <, >, <=, >=, AND, OR
	Left  Expression
	Right Expression
}

func (*BinaryExpr) exprNode() {}

// UnaryExpr is a unary operation.
type UnaryExpr struct {
	Op   string // NOT, -
	Expr Expression
}

func (*UnaryExpr) exprNode() {}

// FunctionCall represents a function invocation.
type FunctionCall struct {
	Name string // lower-cased
	Args []Expression
}

func (*FunctionCall) exprNode() {}

// InExpr is expr [NOT] IN (list).
type InExpr struct {
	Expr Expression
	List []Expression
	Not  bool
}

func (*InExpr) exprNode() {}

// BetweenExpr is expr [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expression
	Low  Expression
	High Expression
	Not  bool
}

func (*BetweenExpr) exprNode() {}

// IsNullExpr is expr IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (*IsNullExpr) exprNode() {}

// MaxValueExpr is MAXVALUE inside VALUES LESS THAN.
type MaxValueExpr struct{}

func (*MaxValueExpr) exprNode() {}

// StarExpr represents * in SELECT *.
type StarExpr struct{}

func (*StarExpr) exprNode() {}

// ExprToSQL converts an Expression AST back to its SQL text representation.
func ExprToSQL(expr Expression) string {
	if expr == nil {
		return ""
	}
	switch e := expr.(type) {
	case *ColumnRef:
		return e.Name
	case *LiteralExpr:
		switch v := e.Value.(type) {
		case nil:
			return "NULL"
		case string:
			return "'" + strings.ReplaceAll(v, "'", "''") + "'"
		case int64:
			return strconv.FormatInt(v, 10)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return fmt.Sprintf("%v", v)
		}
	case *FunctionCall:
		return e.Name + "(" + exprListToSQL(e.Args) + ")"
	case *BinaryExpr:
		return "(" + ExprToSQL(e.Left) + " " + e.Op + " " + ExprToSQL(e.Right) + ")"
	case *UnaryExpr:
		if e.Op == "-" {
			return "-" + ExprToSQL(e.Expr)
		}
		return e.Op + " " + ExprToSQL(e.Expr)
	case *InExpr:
		op := " IN ("
		if e.Not {
			op = " NOT IN ("
		}
		return ExprToSQL(e.Expr) + op + exprListToSQL(e.List) + ")"
	case *BetweenExpr:
		op := " BETWEEN "
		if e.Not {
			op = " NOT BETWEEN "
		}
		return ExprToSQL(e.Expr) + op + ExprToSQL(e.Low) + " AND " + ExprToSQL(e.High)
	case *IsNullExpr:
		if e.Not {
			return ExprToSQL(e.Expr) + " IS NOT NULL"
		}
		return ExprToSQL(e.Expr) + " IS NULL"
	case *MaxValueExpr:
		return "MAXVALUE"
	case *StarExpr:
		return "*"
	default:
		return "?"
	}
}

func exprListToSQL(list []Expression) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = ExprToSQL(a)
	}
	return strings.Join(parts, ", ")
}

// ExtractColumnRefs returns the distinct column names referenced by an
// expression, in first-appearance order.
func ExtractColumnRefs(expr Expression) []string {
	var cols []string
	seen := make(map[string]bool)
	var walk func(Expression)
	walk = func(e Expression) {
		switch x := e.(type) {
		case *ColumnRef:
			key := strings.ToLower(x.Name)
			if !seen[key] {
				seen[key] = true
				cols = append(cols, x.Name)
			}
		case *BinaryExpr:
			walk(x.Left)
			walk(x.Right)
		case *UnaryExpr:
			walk(x.Expr)
		case *FunctionCall:
			for _, a := range x.Args {
				walk(a)
			}
		case *InExpr:
			walk(x.Expr)
			for _, a := range x.List {
				walk(a)
			}
		case *BetweenExpr:
			walk(x.Expr)
			walk(x.Low)
			walk(x.High)
		case *IsNullExpr:
			walk(x.Expr)
		}
	}
	walk(expr)
	return cols
}
