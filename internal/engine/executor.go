// Package engine executes parsed statements against the catalog.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/catalog"
	"github.com/harshithgowdakt/partdb/internal/dispatch"
	"github.com/harshithgowdakt/partdb/internal/metrics"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Options configure an Executor.
type Options struct {
	// DefaultEngine is used by CREATE TABLE without ENGINE.
	DefaultEngine string
	// SkipUnroutable makes a multi-row INSERT leave out rows without a
	// partition instead of failing.
	SkipUnroutable bool
	// LockTimeout bounds the wait for leaf locks.
	LockTimeout time.Duration
	Log         *logrus.Entry
	Metrics     *metrics.Metrics
}

// Result holds the result of executing a statement.
type Result struct {
	Columns []string
	Types   []types.DataType
	Rows    []types.Row
	Message string // for statements that return no rows
}

// Executor runs statements. It is safe for concurrent use.
type Executor struct {
	cat  *catalog.Catalog
	opts Options
	log  *logrus.Entry
	m    *metrics.Metrics
}

func New(cat *catalog.Catalog, opts Options) *Executor {
	if opts.DefaultEngine == "" {
		opts.DefaultEngine = "Memory"
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 50 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{cat: cat, opts: opts, log: opts.Log.WithField("component", "engine"), m: opts.Metrics}
}

// Query parses and runs one statement.
func (e *Executor) Query(ctx context.Context, sql string) (*Result, error) {
	stmt, err := parser.ParseSQL(sql)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, stmt)
}

// Execute runs a parsed statement.
func (e *Executor) Execute(ctx context.Context, stmt parser.Statement) (*Result, error) {
	res, err := e.execute(ctx, stmt)
	e.m.Query(statementKind(stmt), err)
	return res, err
}

func (e *Executor) execute(ctx context.Context, stmt parser.Statement) (*Result, error) {
	switch s := stmt.(type) {
	case *parser.CreateTableStmt:
		return e.executeCreate(s)
	case *parser.InsertStmt:
		return e.executeInsert(ctx, s)
	case *parser.SelectStmt:
		return e.executeSelect(ctx, s)
	case *parser.UpdateStmt:
		return e.executeUpdate(ctx, s)
	case *parser.DeleteStmt:
		return e.executeDelete(ctx, s)
	case *parser.AlterTableStmt:
		return e.executeAlter(ctx, s)
	case *parser.ExplainStmt:
		return e.executeExplain(ctx, s)
	case *parser.DropTableStmt:
		if err := e.cat.Drop(ctx, s.TableName, s.IfExists); err != nil {
			return nil, err
		}
		return ok(), nil
	case *parser.RenameTableStmt:
		if err := e.cat.Rename(ctx, s.From, s.To); err != nil {
			return nil, err
		}
		return ok(), nil
	case *parser.ShowTablesStmt:
		return e.executeShowTables(), nil
	case *parser.ShowPartitionsStmt:
		return e.executeShowPartitions(ctx, s.TableName)
	case *parser.ShowTableStatusStmt:
		return e.executeShowTableStatus(ctx, s.TableName)
	default:
		return nil, fmt.Errorf("unsupported statement type: %T", stmt)
	}
}

func statementKind(stmt parser.Statement) string {
	switch stmt.(type) {
	case *parser.CreateTableStmt:
		return "create"
	case *parser.InsertStmt:
		return "insert"
	case *parser.SelectStmt:
		return "select"
	case *parser.UpdateStmt:
		return "update"
	case *parser.DeleteStmt:
		return "delete"
	case *parser.AlterTableStmt:
		return "alter"
	case *parser.ExplainStmt:
		return "explain"
	case *parser.DropTableStmt:
		return "drop"
	case *parser.RenameTableStmt:
		return "rename"
	}
	return "show"
}

func ok() *Result { return &Result{Message: "OK"} }

// table is one statement's access to a table: the catalog reference and
// the open leaves, narrowed by the PARTITION clause.
type table struct {
	ref *catalog.Ref
	h   *dispatch.Handle

	ctx    context.Context
	cancel context.CancelFunc
	locked backend.LockMode
}

func (e *Executor) open(ctx context.Context, name string, partitions []string, mode backend.OpenMode) (*table, error) {
	ref, err := e.cat.Acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	h, err := ref.Open(mode)
	if err != nil {
		ref.Release()
		return nil, err
	}
	if err := h.UsePartitions(partitions); err != nil {
		h.Close()
		ref.Release()
		return nil, err
	}
	t := &table{ref: ref, h: h}
	t.ctx, t.cancel = context.WithTimeout(ctx, e.opts.LockTimeout)
	return t, nil
}

// lock locks the lock set of the statement.
func (t *table) lock(mode backend.LockMode) error {
	if err := t.h.Lock(t.ctx, mode); err != nil {
		return err
	}
	t.locked = mode
	return nil
}

func (t *table) close() error {
	if t.locked != 0 {
		t.h.Unlock(t.locked)
	}
	t.cancel()
	err := t.h.Close()
	t.ref.Release()
	return err
}

func (t *table) schema() *types.Schema { return t.h.Table().Schema }
