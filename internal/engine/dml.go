package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/expr"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/types"
)

var emptySchema = &types.Schema{}

func (e *Executor) executeInsert(ctx context.Context, stmt *parser.InsertStmt) (res *Result, err error) {
	t, err := e.open(ctx, stmt.TableName, stmt.Partitions, backend.ReadWrite)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := t.close(); err == nil && cerr != nil {
			res, err = nil, cerr
		}
	}()
	schema := t.schema()

	colNames := stmt.Columns
	if len(colNames) == 0 {
		colNames = schema.ColumnNames()
	}
	idx := make([]int, len(colNames))
	for i, name := range colNames {
		if idx[i] = schema.ColumnIndex(name); idx[i] < 0 {
			return nil, fmt.Errorf("column %s not found in table %s", name, stmt.TableName)
		}
	}

	rows := make([]types.Row, 0, len(stmt.Values))
	for r, values := range stmt.Values {
		if len(values) != len(colNames) {
			return nil, fmt.Errorf("row %d: expected %d values, got %d", r, len(colNames), len(values))
		}
		row, err := defaultRow(schema)
		if err != nil {
			return nil, err
		}
		for i, ve := range values {
			v, _, err := expr.Eval(ve, emptySchema, nil)
			if err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", r, colNames[i], err)
			}
			col := schema.Columns[idx[i]]
			if row[idx[i]], err = types.CoerceValue(col.DataType, v); err != nil {
				return nil, fmt.Errorf("row %d, column %s: %w", r, col.Name, err)
			}
		}
		if err := schema.CheckRow(row); err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		rows = append(rows, row)
	}

	if err := t.lock(backend.LockExclusive); err != nil {
		return nil, err
	}
	written, skipped, err := t.h.Insert(rows, e.opts.SkipUnroutable)
	e.m.Routed(stmt.TableName, written)
	if errkind.Is(err, errkind.ErrNoMatchingPartition) {
		e.m.Rejected(stmt.TableName, 1)
	}
	if err != nil {
		return nil, err
	}
	e.m.Rejected(stmt.TableName, skipped)
	msg := fmt.Sprintf("OK. %d rows inserted.", written)
	if skipped > 0 {
		msg = fmt.Sprintf("OK. %d rows inserted, %d rows without a partition skipped.", written, skipped)
	}
	return &Result{Message: msg}, nil
}

// defaultRow returns a row of NULLs for nullable columns and zero values
// for the others.
func defaultRow(s *types.Schema) (types.Row, error) {
	row := make(types.Row, len(s.Columns))
	for i, c := range s.Columns {
		if c.Nullable {
			continue
		}
		var err error
		if c.DataType == types.TypeString {
			row[i] = ""
		} else if row[i], err = types.CoerceValue(c.DataType, int64(0)); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (e *Executor) executeSelect(ctx context.Context, stmt *parser.SelectStmt) (res *Result, err error) {
	t, err := e.open(ctx, stmt.From, stmt.Partitions, backend.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := t.close(); err == nil && cerr != nil {
			res, err = nil, cerr
		}
	}()

	read := t.h.PruneReads(stmt.Where)
	e.m.Scanned(read.Count())
	op, proj, err := PlanSelect(stmt, t.h, e.log.WithField("table", stmt.From))
	if err != nil {
		return nil, err
	}
	if err := t.lock(backend.LockShared); err != nil {
		return nil, err
	}
	if err := op.Open(); err != nil {
		return nil, err
	}
	rows, err := drain(op)
	if cerr := op.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	return &Result{Columns: proj.OutputNames(), Types: proj.OutputTypes(), Rows: rows}, nil
}

// matching collects the rows an UPDATE or DELETE applies to before any
// of them is changed.
func (e *Executor) matching(t *table, where parser.Expression) ([]types.Row, error) {
	read := t.h.PruneReads(where)
	e.m.Scanned(read.Count())
	var op Operator = NewTableScanOperator(t.h, false, e.log)
	if where != nil {
		op = NewFilterOperator(op, where, t.schema())
	}
	if err := op.Open(); err != nil {
		return nil, err
	}
	rows, err := drain(op)
	if cerr := op.Close(); err == nil {
		err = cerr
	}
	return rows, err
}

func (e *Executor) executeUpdate(ctx context.Context, stmt *parser.UpdateStmt) (res *Result, err error) {
	t, err := e.open(ctx, stmt.TableName, stmt.Partitions, backend.ReadWrite)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := t.close(); err == nil && cerr != nil {
			res, err = nil, cerr
		}
	}()
	schema := t.schema()

	set := make([]int, len(stmt.Set))
	for i, a := range stmt.Set {
		if set[i] = schema.ColumnIndex(a.Column); set[i] < 0 {
			return nil, fmt.Errorf("column %s not found in table %s", a.Column, stmt.TableName)
		}
	}
	if err := t.lock(backend.LockExclusive); err != nil {
		return nil, err
	}
	rows, err := e.matching(t, stmt.Where)
	if err != nil {
		return nil, err
	}

	updated := 0
	for _, old := range rows {
		nw := old.Clone()
		for i, a := range stmt.Set {
			v, _, err := expr.Eval(a.Value, schema, old)
			if err != nil {
				return nil, err
			}
			col := schema.Columns[set[i]]
			if nw[set[i]], err = types.CoerceValue(col.DataType, v); err != nil {
				return nil, fmt.Errorf("column %s: %w", col.Name, err)
			}
		}
		if err := schema.CheckRow(nw); err != nil {
			return nil, err
		}
		if err := t.h.Update(old, nw); err != nil {
			if errkind.Is(err, errkind.ErrPartialMove) {
				e.m.PartialMove()
			}
			return nil, fmt.Errorf("after %d rows updated: %w", updated, err)
		}
		updated++
	}
	return &Result{Message: fmt.Sprintf("OK. %d rows updated.", updated)}, nil
}

func (e *Executor) executeDelete(ctx context.Context, stmt *parser.DeleteStmt) (res *Result, err error) {
	t, err := e.open(ctx, stmt.TableName, stmt.Partitions, backend.ReadWrite)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := t.close(); err == nil && cerr != nil {
			res, err = nil, cerr
		}
	}()
	if err := t.lock(backend.LockExclusive); err != nil {
		return nil, err
	}
	rows, err := e.matching(t, stmt.Where)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := t.h.Delete(row); err != nil {
			return nil, fmt.Errorf("after %d rows deleted: %w", i, err)
		}
	}
	return &Result{Message: fmt.Sprintf("OK. %d rows deleted.", len(rows))}, nil
}

// executeExplain lists the leaves a SELECT would read, without opening them.
func (e *Executor) executeExplain(ctx context.Context, stmt *parser.ExplainStmt) (*Result, error) {
	ref, err := e.cat.Acquire(ctx, stmt.Select.From)
	if err != nil {
		return nil, err
	}
	defer ref.Release()
	snap := ref.Snapshot()
	tbl := snap.Table

	lock, err := tbl.ResolveNames(stmt.Select.Partitions)
	if err != nil {
		return nil, err
	}
	read := snap.Pruner.Prune(stmt.Select.Where, lock)
	e.log.WithFields(logrus.Fields{
		"query":  parser.SelectToSQL(stmt.Select),
		"leaves": read.Count(),
		"of":     tbl.NumLeaves(),
	}).Debug("explain")
	res := &Result{
		Columns: []string{"leaf", "partition", "subpartition", "bound"},
		Types:   []types.DataType{types.TypeUInt64, types.TypeString, types.TypeString, types.TypeString},
	}
	for id, ok := read.Next(0); ok; id, ok = read.Next(id + 1) {
		leaf := tbl.Leaves[id]
		part := tbl.Def.Partitions[leaf.Part]
		sub := ""
		if tbl.Sub != nil {
			sub = part.Subpartitions[leaf.Sub].Name
		}
		res.Rows = append(res.Rows, types.Row{uint64(id), part.Name, sub, tbl.DescribeBound(leaf.Part)})
	}
	return res, nil
}
