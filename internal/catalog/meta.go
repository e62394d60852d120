package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/harshithgowdakt/partdb/internal/errkind"
	"github.com/harshithgowdakt/partdb/internal/partition"
	"github.com/harshithgowdakt/partdb/internal/types"
)

// Meta is the content of a table's definition file. It does not carry the
// table name, which is the file name.
type Meta struct {
	Columns   []ColumnMeta          `json:"columns"`
	OrderBy   []string              `json:"order_by,omitempty"`
	Partition *partition.Definition `json:"partition"`
}

// ColumnMeta is one column as written in DDL.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// NewMeta describes a schema partitioned by def.
func NewMeta(schema *types.Schema, def *partition.Definition) *Meta {
	m := &Meta{OrderBy: schema.OrderBy, Partition: def}
	for _, c := range schema.Columns {
		m.Columns = append(m.Columns, ColumnMeta{Name: c.Name, Type: c.TypeString()})
	}
	return m
}

// Schema rebuilds the table schema.
func (m *Meta) Schema() (*types.Schema, error) {
	s := &types.Schema{OrderBy: m.OrderBy}
	for _, c := range m.Columns {
		dt, nullable, err := types.ParseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		s.Columns = append(s.Columns, types.ColumnDef{Name: c.Name, DataType: dt, Nullable: nullable})
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithPartition returns a copy of m partitioned by def.
func (m *Meta) WithPartition(def *partition.Definition) *Meta {
	c := *m
	c.Partition = def
	return &c
}

func (m *Meta) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ReadMeta loads a definition file.
func ReadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errkind.ErrCorruption.New(path, err.Error())
	}
	if m.Partition == nil || len(m.Columns) == 0 {
		return nil, errkind.ErrCorruption.New(path, "missing columns or partitioning")
	}
	return &m, nil
}

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether a table name can be used as a file name
// prefix.
func ValidName(name string) error {
	if !validName.MatchString(name) || len(name) > 64 {
		return errkind.ErrDefinition.New(fmt.Sprintf("invalid table name %q", name))
	}
	return nil
}
