// Package partition holds partition definitions and the bound boundary
// tables derived from them.
package partition

import (
	"fmt"
	"strings"
)

// Kind is the partitioning method.
type Kind uint8

const (
	KindRange Kind = iota
	KindList
	KindHash
	KindKey
)

var kindNames = map[Kind]string{
	KindRange: "RANGE",
	KindList:  "LIST",
	KindHash:  "HASH",
	KindKey:   "KEY",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind maps a method keyword to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown partitioning method %q", s)
}

// State is the lifecycle state of one partition inside an alteration.
type State uint8

const (
	StateNormal State = iota
	StateToBeAdded
	StateToBeDropped
	StateToBeReorganized
	StateChanged
	StateDropped
)

var stateNames = [...]string{"NORMAL", "TO_BE_ADDED", "TO_BE_DROPPED", "TO_BE_REORGANIZED", "CHANGED", "DROPPED"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// Method is one partitioning function.
type Method struct {
	Kind    Kind     `json:"kind"`
	Linear  bool     `json:"linear,omitempty"`
	Columns bool     `json:"columns,omitempty"`  // RANGE COLUMNS / LIST COLUMNS
	Expr    string   `json:"expr,omitempty"`     // RANGE, LIST, HASH
	ColList []string `json:"col_list,omitempty"` // KEY and COLUMNS modes
}

// String renders the method the way it is written in DDL.
func (m Method) String() string {
	var b strings.Builder
	if m.Linear {
		b.WriteString("LINEAR ")
	}
	b.WriteString(m.Kind.String())
	if m.Columns {
		b.WriteString(" COLUMNS")
	}
	b.WriteString("(")
	if m.Expr != "" {
		b.WriteString(m.Expr)
	} else {
		b.WriteString(strings.Join(m.ColList, ", "))
	}
	b.WriteString(")")
	return b.String()
}

// Literal is a boundary or list value as stored in a definition. It is
// typed only when the definition is bound to a schema.
type Literal struct {
	Null bool   `json:"null,omitempty"`
	Max  bool   `json:"max,omitempty"`
	Text string `json:"text,omitempty"`
}

func (l Literal) String() string {
	switch {
	case l.Null:
		return "NULL"
	case l.Max:
		return "MAXVALUE"
	}
	return l.Text
}

// Subpartition is one subpartition of a partition.
type Subpartition struct {
	Name   string `json:"name"`
	Engine uint8  `json:"engine"`
}

// Partition is one top-level partition.
type Partition struct {
	Name          string         `json:"name"`
	Engine        uint8          `json:"engine"`
	State         State          `json:"state,omitempty"`
	LessThan      []Literal      `json:"less_than,omitempty"` // RANGE
	Values        [][]Literal    `json:"values,omitempty"`    // LIST, one tuple per value
	Subpartitions []Subpartition `json:"subpartitions,omitempty"`
}

// Definition is the declarative partitioning of a table. It is treated as
// an immutable value: alterations build a new Definition.
type Definition struct {
	Method     Method      `json:"method"`
	Sub        *Method     `json:"sub,omitempty"`
	Partitions []Partition `json:"partitions"`
}

// NumSubpartitions returns the subpartition count per partition, 0 when
// the table is not subpartitioned.
func (d *Definition) NumSubpartitions() int {
	if d.Sub == nil || len(d.Partitions) == 0 {
		return 0
	}
	return len(d.Partitions[0].Subpartitions)
}

// NumLeaves returns parts * max(1, subparts).
func (d *Definition) NumLeaves() int {
	return len(d.Partitions) * max(1, d.NumSubpartitions())
}

// LeafNames returns the leaf names in partition-major order. A leaf of a
// subpartitioned table is named <part>#SP#<sub>.
func (d *Definition) LeafNames() []string {
	names := make([]string, 0, d.NumLeaves())
	for _, p := range d.Partitions {
		if d.Sub == nil {
			names = append(names, p.Name)
			continue
		}
		for _, sp := range p.Subpartitions {
			names = append(names, LeafName(p.Name, sp.Name))
		}
	}
	return names
}

// LeafEngines returns the engine id of every leaf in partition-major order.
func (d *Definition) LeafEngines() []uint8 {
	engines := make([]uint8, 0, d.NumLeaves())
	for _, p := range d.Partitions {
		if d.Sub == nil {
			engines = append(engines, p.Engine)
			continue
		}
		for _, sp := range p.Subpartitions {
			engines = append(engines, sp.Engine)
		}
	}
	return engines
}

// PartitionIndex finds a partition by name (case-insensitive), or -1.
func (d *Definition) PartitionIndex(name string) int {
	for i, p := range d.Partitions {
		if strings.EqualFold(p.Name, name) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	c := &Definition{Method: cloneMethod(d.Method)}
	if d.Sub != nil {
		sub := cloneMethod(*d.Sub)
		c.Sub = &sub
	}
	c.Partitions = make([]Partition, len(d.Partitions))
	for i, p := range d.Partitions {
		c.Partitions[i] = p.clone()
	}
	return c
}

func cloneMethod(m Method) Method {
	m.ColList = append([]string(nil), m.ColList...)
	return m
}

func (p Partition) clone() Partition {
	c := p
	c.LessThan = append([]Literal(nil), p.LessThan...)
	if p.Values != nil {
		c.Values = make([][]Literal, len(p.Values))
		for i, v := range p.Values {
			c.Values[i] = append([]Literal(nil), v...)
		}
	}
	c.Subpartitions = append([]Subpartition(nil), p.Subpartitions...)
	return c
}

// LeafName joins a partition and subpartition name.
func LeafName(part, sub string) string {
	if sub == "" {
		return part
	}
	return part + "#SP#" + sub
}

// LeafPath returns the storage path of a leaf of the table at base.
func LeafPath(base, leaf string) string {
	return base + "#P#" + leaf
}

// Suffixes of leaves that exist only while an alteration runs.
const (
	TempSuffix = "#TMP"
	OldSuffix  = "#OLD"
)

// DefPath is the definition file of the table at base.
func DefPath(base string) string { return base + ".def" }

// ParPath is the boundary file of the table at base.
func ParPath(base string) string { return base + ".par" }

// ShadowPath is where a new version of a definition or boundary file is
// written before it replaces the live one.
func ShadowPath(path string) string { return path + "~" }
