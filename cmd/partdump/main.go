package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/harshithgowdakt/partdb/internal/backend/filestore"
	"github.com/harshithgowdakt/partdb/internal/catalog"
	"github.com/harshithgowdakt/partdb/internal/ddllog"
	"github.com/harshithgowdakt/partdb/internal/partition"
)

type frameJSON struct {
	Offset   int    `json:"offset"`
	Size     int    `json:"size"`
	Method   string `json:"method"`
	RawBytes uint32 `json:"raw_bytes"`
}

type leafJSON struct {
	Name     string      `json:"name"`
	Engine   uint8       `json:"engine"`
	Path     string      `json:"path"`
	Exists   bool        `json:"exists"`
	FileSize string      `json:"file_size,omitempty"`
	NumFrame int         `json:"frames"`
	TornTail int         `json:"torn_tail_bytes,omitempty"`
	Frames   []frameJSON `json:"frame_list,omitempty"`
	Error    string      `json:"error,omitempty"`
}

type opJSON struct {
	Root     *ddllog.Root   `json:"root"`
	Rollback []ddllog.Entry `json:"rollback"`
	Forward  []ddllog.Entry `json:"forward"`
}

type tableJSON struct {
	Table     string        `json:"table"`
	Meta      *catalog.Meta `json:"definition,omitempty"`
	MetaError string        `json:"definition_error,omitempty"`
	Par       []leafJSON    `json:"leaves"`
	ParError  string        `json:"par_error,omitempty"`
	Shadows   []string      `json:"shadow_files,omitempty"`
	Pending   *opJSON       `json:"pending_operation,omitempty"`
}

type dirJSON struct {
	Tables  []string       `json:"tables"`
	Pending []*opJSON      `json:"pending_operations"`
	Entries []ddllog.Entry `json:"log_entries"`
}

var (
	dataDir  string
	leafName string
)

var rootCmd = &cobra.Command{
	Use:   "partdump [table]",
	Short: "Dump the on-disk state of a partdb data directory as JSON",
	Long: "Without a table, lists the tables and the DDL log. With a table, dumps its definition, " +
		"boundary file, leaf files and outstanding operation. The server must not be running.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ddl, err := ddllog.Open(filepath.Join(dataDir, catalog.LogFile), nil)
		if err != nil {
			return err
		}
		defer ddl.Close()
		if len(args) == 0 {
			return dumpDir(ddl)
		}
		return dumpTable(ddl, args[0])
	},
}

func init() {
	rootCmd.Flags().StringVar(&dataDir, "data-dir", "./partdb-data", "Database data directory")
	rootCmd.Flags().StringVar(&leafName, "leaf", "", "Leaf whose frames are listed one by one")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func dumpDir(ddl *ddllog.Log) error {
	out := dirJSON{Tables: []string{}, Pending: []*opJSON{}}
	defs, err := filepath.Glob(filepath.Join(dataDir, "*.def"))
	if err != nil {
		return err
	}
	for _, d := range defs {
		out.Tables = append(out.Tables, strings.TrimSuffix(filepath.Base(d), ".def"))
	}
	sort.Strings(out.Tables)

	roots, err := ddl.Pending()
	if err != nil {
		return err
	}
	for _, r := range roots {
		op, err := operation(ddl, r)
		if err != nil {
			return err
		}
		out.Pending = append(out.Pending, op)
	}
	if out.Entries, err = ddl.Entries(); err != nil {
		return err
	}
	return emit(out)
}

func operation(ddl *ddllog.Log, r *ddllog.Root) (*opJSON, error) {
	op := &opJSON{Root: r}
	var err error
	if op.Rollback, err = ddl.Chain(r.Rollback); err != nil {
		return nil, err
	}
	if op.Forward, err = ddl.Chain(r.Forward); err != nil {
		return nil, err
	}
	return op, nil
}

func dumpTable(ddl *ddllog.Log, table string) error {
	base := filepath.Join(dataDir, table)
	out := tableJSON{Table: table, Par: []leafJSON{}}

	if meta, err := catalog.ReadMeta(partition.DefPath(base)); err != nil {
		out.MetaError = err.Error()
	} else {
		out.Meta = meta
	}

	pf, err := partition.ReadParFile(partition.ParPath(base))
	if err != nil {
		out.ParError = err.Error()
	} else {
		for i, name := range pf.Names {
			out.Par = append(out.Par, inspectLeaf(base, name, pf.Engines[i]))
		}
	}

	for _, p := range []string{partition.DefPath(base), partition.ParPath(base)} {
		if _, err := os.Stat(partition.ShadowPath(p)); err == nil {
			out.Shadows = append(out.Shadows, filepath.Base(partition.ShadowPath(p)))
		}
	}

	root, err := ddl.Root(table)
	if err != nil {
		return err
	}
	if root != nil {
		if out.Pending, err = operation(ddl, root); err != nil {
			return err
		}
	}
	return emit(out)
}

func inspectLeaf(base, name string, engine uint8) leafJSON {
	path := partition.LeafPath(base, name)
	l := leafJSON{Name: name, Engine: engine, Path: filepath.Base(path)}
	st, err := os.Stat(path)
	if err != nil {
		return l
	}
	l.Exists = true
	l.FileSize = humanize.IBytes(uint64(st.Size()))
	if engine != filestore.ID {
		return l
	}
	frames, tail, err := filestore.Frames(path)
	if err != nil {
		l.Error = err.Error()
		return l
	}
	l.NumFrame = len(frames)
	l.TornTail = tail
	if name == leafName {
		for _, f := range frames {
			l.Frames = append(l.Frames, frameJSON{
				Offset:   f.Offset,
				Size:     f.Size,
				Method:   fmt.Sprintf("0x%02x", f.Method),
				RawBytes: f.RawSize,
			})
		}
	}
	return l
}

func emit(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
