package engine

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/harshithgowdakt/partdb/internal/backend"
	"github.com/harshithgowdakt/partdb/internal/catalog"
	"github.com/harshithgowdakt/partdb/internal/dispatch"
	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/parser"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/types"
)

func (e *Executor) executeCreate(stmt *parser.CreateTableStmt) (*Result, error) {
	schema := &types.Schema{OrderBy: stmt.OrderBy}
	for _, col := range stmt.Columns {
		dt, nullable, err := types.ParseColumnType(col.TypeName)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		schema.Columns = append(schema.Columns, types.ColumnDef{Name: col.Name, DataType: dt, Nullable: nullable})
	}
	if err := schema.Validate(); err != nil {
		return nil, errkind.ErrDefinition.New(err.Error())
	}

	engines := e.cat.Engines()
	engineName := stmt.Engine
	if engineName == "" {
		engineName = e.opts.DefaultEngine
	}
	engine, err := engines.ResolveID(engineName)
	if err != nil {
		return nil, errkind.ErrDefinition.New(err.Error())
	}

	def := partition.SinglePartition(engine)
	if stmt.Partition != nil {
		def, err = partition.FromAST(stmt.Partition, schema, engine, engines.ResolveID)
		if err != nil {
			return nil, err
		}
	}
	if err := e.cat.Create(stmt.TableName, catalog.NewMeta(schema, def), stmt.IfNotExists); err != nil {
		return nil, err
	}
	return ok(), nil
}

func (e *Executor) executeAlter(ctx context.Context, stmt *parser.AlterTableStmt) (*Result, error) {
	resolve := e.cat.Engines().ResolveID
	build := func(t *partition.Table) (*partition.Change, error) {
		switch stmt.Action {
		case parser.AlterAddPartition:
			parts, err := t.PartitionsFromAST(stmt.Partitions, resolve)
			if err != nil {
				return nil, err
			}
			return partition.AddPartitions(t.Def, parts)
		case parser.AlterAddPartitions:
			return partition.AddHashPartitions(t.Def, stmt.Count)
		case parser.AlterDropPartition:
			return partition.DropPartitions(t.Def, stmt.Names)
		case parser.AlterReorganize:
			parts, err := t.PartitionsFromAST(stmt.Partitions, resolve)
			if err != nil {
				return nil, err
			}
			return partition.Reorganize(t.Def, stmt.Names, parts)
		case parser.AlterCoalesce:
			return partition.Coalesce(t.Def, stmt.Count)
		case parser.AlterRebuild:
			if stmt.All {
				return partition.Rebuild(t.Def, nil)
			}
			return partition.Rebuild(t.Def, stmt.Names)
		}
		return nil, fmt.Errorf("unsupported ALTER TABLE action %s", stmt.Action)
	}
	res, err := e.cat.Alter(ctx, stmt.TableName, stmt.Action.String(), build)
	if err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("OK. %d leaf partitions, %d rows moved.", res.Table.NumLeaves(), res.Moved)}, nil
}

func (e *Executor) executeShowTables() *Result {
	res := &Result{
		Columns: []string{"name", "engine", "status"},
		Types:   []types.DataType{types.TypeString, types.TypeString, types.TypeString},
	}
	for _, t := range e.cat.Tables() {
		status := "OK"
		if t.Disabled != nil {
			status = "DISABLED: " + t.Disabled.Error()
		}
		res.Rows = append(res.Rows, types.Row{t.Name, t.Engine, status})
	}
	return res
}

// PartitionInfo is the introspection record of one leaf partition.
type PartitionInfo struct {
	Leaf         int    `json:"leaf"`
	Partition    string `json:"partition"`
	Subpartition string `json:"subpartition,omitempty"`
	Engine       string `json:"engine"`
	Bound        string `json:"bound,omitempty"`
	Rows         uint64 `json:"rows"`
	DataBytes    uint64 `json:"data_bytes"`
	UpdateTime   string `json:"update_time,omitempty"`
	Durable      bool   `json:"durable"`
}

// Partitions returns the leaves of a table with their stats.
func (e *Executor) Partitions(ctx context.Context, name string) ([]PartitionInfo, error) {
	t, err := e.open(ctx, name, nil, backend.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer t.close()
	leaves, err := t.h.LeafInfo()
	if err != nil {
		return nil, err
	}
	return e.describeLeaves(t.h, leaves), nil
}

func (e *Executor) describeLeaves(h *dispatch.Handle, leaves []dispatch.LeafStats) []PartitionInfo {
	tbl := h.Table()
	engineName := ""
	if eng, err := e.cat.Engines().ByID(tbl.Engine()); err == nil {
		engineName = eng.Name()
	}
	out := make([]PartitionInfo, 0, len(leaves))
	for _, l := range leaves {
		leaf := tbl.Leaves[l.ID]
		part := tbl.Def.Partitions[leaf.Part]
		info := PartitionInfo{
			Leaf:      l.ID,
			Partition: part.Name,
			Engine:    engineName,
			Bound:     tbl.DescribeBound(leaf.Part),
			Rows:      l.Rows,
			DataBytes: l.DataBytes,
			Durable:   l.Durable,
		}
		if tbl.Sub != nil {
			info.Subpartition = part.Subpartitions[leaf.Sub].Name
		}
		if !l.UpdateTime.IsZero() {
			info.UpdateTime = l.UpdateTime.UTC().Format(types.DateTimeLayout)
		}
		out = append(out, info)
	}
	return out
}

func (e *Executor) executeShowPartitions(ctx context.Context, name string) (*Result, error) {
	infos, err := e.Partitions(ctx, name)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Columns: []string{"leaf", "partition", "subpartition", "engine", "bound", "rows", "data_bytes", "update_time"},
		Types: []types.DataType{types.TypeUInt64, types.TypeString, types.TypeString, types.TypeString,
			types.TypeString, types.TypeUInt64, types.TypeUInt64, types.TypeString},
	}
	for _, p := range infos {
		res.Rows = append(res.Rows, types.Row{uint64(p.Leaf), p.Partition, p.Subpartition, p.Engine,
			p.Bound, p.Rows, p.DataBytes, p.UpdateTime})
	}
	return res, nil
}

func (e *Executor) executeShowTableStatus(ctx context.Context, name string) (*Result, error) {
	t, err := e.open(ctx, name, nil, backend.ReadOnly)
	if err != nil {
		return nil, err
	}
	defer t.close()
	st, err := t.h.Info()
	if err != nil {
		return nil, err
	}
	tbl := t.h.Table()
	update := ""
	if !st.UpdateTime.IsZero() {
		update = st.UpdateTime.UTC().Format(types.DateTimeLayout)
	}
	return &Result{
		Columns: []string{"name", "partitioning", "partitions", "leaves", "rows", "data_bytes", "size", "update_time", "durable"},
		Types: []types.DataType{types.TypeString, types.TypeString, types.TypeUInt64, types.TypeUInt64,
			types.TypeUInt64, types.TypeUInt64, types.TypeString, types.TypeString, types.TypeUInt8},
		Rows: []types.Row{{name, tbl.Def.Method.String(), uint64(tbl.NumParts), uint64(tbl.NumLeaves()),
			st.Rows, st.DataBytes, humanize.IBytes(st.DataBytes), update, boolByte(st.Durable)}},
	}, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
