package partition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/harshithgowdakt/partdb/internal/errkind"
)

// Change is a planned alteration: the new definition plus, for every old
// and new partition, what happens to it. Old and New are never the same
// value; the old definition is left untouched.
type Change struct {
	Old *Definition
	New *Definition

	// OldStates is NORMAL for partitions carried over unchanged,
	// TO_BE_DROPPED for partitions whose rows are discarded and
	// TO_BE_REORGANIZED for partitions whose rows are rerouted.
	OldStates []State
	// NewStates is NORMAL for carried over partitions, TO_BE_ADDED or
	// CHANGED for partitions built from scratch.
	NewStates []State
	// Source maps a NORMAL new partition to its old partition index and is
	// -1 for the others.
	Source []int
}

func newChange(old, nw *Definition) *Change {
	c := &Change{
		Old:       old,
		New:       nw,
		OldStates: make([]State, len(old.Partitions)),
		NewStates: make([]State, len(nw.Partitions)),
		Source:    make([]int, len(nw.Partitions)),
	}
	for i := range c.Source {
		c.Source[i] = -1
	}
	return c
}

// keep marks new partition ni as the unchanged copy of old partition oi.
func (c *Change) keep(ni, oi int) {
	c.NewStates[ni] = StateNormal
	c.Source[ni] = oi
	c.OldStates[oi] = StateNormal
}

// fresh marks new partition ni as built from scratch.
func (c *Change) fresh(ni int) {
	if c.Old.PartitionIndex(c.New.Partitions[ni].Name) >= 0 {
		c.NewStates[ni] = StateChanged
	} else {
		c.NewStates[ni] = StateToBeAdded
	}
}

// Moves reports whether any rows have to be copied.
func (c *Change) Moves() bool {
	for _, s := range c.OldStates {
		if s == StateToBeReorganized {
			return true
		}
	}
	return false
}

func finalize(d *Definition) {
	for i := range d.Partitions {
		d.Partitions[i].State = StateNormal
	}
}

func requireKind(d *Definition, op string, kinds ...Kind) error {
	for _, k := range kinds {
		if d.Method.Kind == k {
			return nil
		}
	}
	return errkind.ErrDefinition.New(fmt.Sprintf("%s is not supported for %s partitioning", op, d.Method.Kind))
}

// AddPartitions appends partitions to a RANGE or LIST table. When the last
// RANGE partition is unbounded it is split: it keeps its name and takes
// the first new bound, and the last added partition becomes unbounded.
func AddPartitions(old *Definition, parts []Partition) (*Change, error) {
	if err := requireKind(old, "ADD PARTITION", KindRange, KindList); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errkind.ErrDefinition.New("no partitions to add")
	}
	nw := old.Clone()
	last := len(old.Partitions) - 1
	split := old.Method.Kind == KindRange && lastIsMax(old)

	if !split {
		nw.Partitions = append(nw.Partitions, clonePartitions(parts)...)
		c := newChange(old, nw)
		for i := range old.Partitions {
			c.keep(i, i)
		}
		for i := len(old.Partitions); i < len(nw.Partitions); i++ {
			c.fresh(i)
		}
		finalize(nw)
		return c, nil
	}

	for _, p := range parts {
		if isMax(p.LessThan) {
			return nil, errkind.ErrDefinition.New("MAXVALUE can only be used in the last partition")
		}
	}
	added := clonePartitions(parts)
	nw.Partitions[last].LessThan = append([]Literal(nil), added[0].LessThan...)
	for i := 0; i < len(added)-1; i++ {
		added[i].LessThan = append([]Literal(nil), added[i+1].LessThan...)
	}
	added[len(added)-1].LessThan = append([]Literal(nil), old.Partitions[last].LessThan...)
	nw.Partitions = append(nw.Partitions, added...)

	c := newChange(old, nw)
	for i := 0; i < last; i++ {
		c.keep(i, i)
	}
	c.OldStates[last] = StateToBeReorganized
	for i := last; i < len(nw.Partitions); i++ {
		c.fresh(i)
	}
	finalize(nw)
	return c, nil
}

// AddHashPartitions grows a HASH or KEY table by n partitions. Every row is
// redistributed.
func AddHashPartitions(old *Definition, n int) (*Change, error) {
	if err := requireKind(old, "ADD PARTITION PARTITIONS", KindHash, KindKey); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errkind.ErrDefinition.New("number of partitions to add must be positive")
	}
	nw := old.Clone()
	engine := old.Partitions[0].Engine
	for i := 0; i < n; i++ {
		nw.Partitions = append(nw.Partitions, Partition{Name: freeName(nw, len(nw.Partitions)), Engine: engine})
	}
	return redistributeAll(old, nw), nil
}

// Coalesce removes the last n partitions of a HASH or KEY table. Every row
// is redistributed.
func Coalesce(old *Definition, n int) (*Change, error) {
	if err := requireKind(old, "COALESCE PARTITION", KindHash, KindKey); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errkind.ErrDefinition.New("number of partitions to coalesce must be positive")
	}
	if n >= len(old.Partitions) {
		return nil, errkind.ErrDefinition.New("cannot remove all partitions, use DROP TABLE instead")
	}
	nw := old.Clone()
	nw.Partitions = nw.Partitions[:len(nw.Partitions)-n]
	return redistributeAll(old, nw), nil
}

func redistributeAll(old, nw *Definition) *Change {
	c := newChange(old, nw)
	for i := range old.Partitions {
		c.OldStates[i] = StateToBeReorganized
	}
	for i := range nw.Partitions {
		c.fresh(i)
	}
	finalize(nw)
	return c
}

// DropPartitions removes RANGE or LIST partitions together with their rows.
func DropPartitions(old *Definition, names []string) (*Change, error) {
	if err := requireKind(old, "DROP PARTITION", KindRange, KindList); err != nil {
		return nil, err
	}
	drop, err := resolvePartitions(old, names)
	if err != nil {
		return nil, err
	}
	if len(drop) == len(old.Partitions) {
		return nil, errkind.ErrDefinition.New("cannot remove all partitions, use DROP TABLE instead")
	}
	nw := &Definition{Method: cloneMethod(old.Method)}
	if old.Sub != nil {
		sub := cloneMethod(*old.Sub)
		nw.Sub = &sub
	}
	var keptFrom []int
	for i, p := range old.Partitions {
		if !drop[i] {
			nw.Partitions = append(nw.Partitions, p.clone())
			keptFrom = append(keptFrom, i)
		}
	}
	c := newChange(old, nw)
	for ni, oi := range keptFrom {
		c.keep(ni, oi)
	}
	for i := range drop {
		c.OldStates[i] = StateToBeDropped
	}
	finalize(nw)
	return c, nil
}

// Reorganize replaces the named partitions with parts. For RANGE tables
// the named partitions must be adjacent. Rows of the replaced partitions
// are rerouted into the new ones.
func Reorganize(old *Definition, names []string, parts []Partition) (*Change, error) {
	if err := requireKind(old, "REORGANIZE PARTITION", KindRange, KindList); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errkind.ErrDefinition.New("REORGANIZE PARTITION needs INTO partitions")
	}
	set, err := resolvePartitions(old, names)
	if err != nil {
		return nil, err
	}
	first, lastIdx := len(old.Partitions), -1
	for i := range set {
		first = min(first, i)
		lastIdx = max(lastIdx, i)
	}
	if old.Method.Kind == KindRange && lastIdx-first+1 != len(set) {
		return nil, errkind.ErrDefinition.New("when reorganizing a set of RANGE partitions they must be in consecutive order")
	}

	nw := &Definition{Method: cloneMethod(old.Method)}
	if old.Sub != nil {
		sub := cloneMethod(*old.Sub)
		nw.Sub = &sub
	}
	var sources []int
	for i, p := range old.Partitions {
		if i == first {
			for range parts {
				sources = append(sources, -1)
			}
			nw.Partitions = append(nw.Partitions, clonePartitions(parts)...)
		}
		if set[i] {
			continue
		}
		nw.Partitions = append(nw.Partitions, p.clone())
		sources = append(sources, i)
	}
	c := newChange(old, nw)
	for ni, oi := range sources {
		if oi >= 0 {
			c.keep(ni, oi)
		} else {
			c.fresh(ni)
		}
	}
	for i := range set {
		c.OldStates[i] = StateToBeReorganized
	}
	finalize(nw)
	return c, nil
}

// Rebuild copies the named partitions, or every partition when names is
// empty, into fresh leaves of the same name.
func Rebuild(old *Definition, names []string) (*Change, error) {
	set := make(map[int]bool)
	if len(names) == 0 {
		for i := range old.Partitions {
			set[i] = true
		}
	} else {
		var err error
		if set, err = resolvePartitions(old, names); err != nil {
			return nil, err
		}
	}
	nw := old.Clone()
	c := newChange(old, nw)
	for i := range old.Partitions {
		if set[i] {
			c.OldStates[i] = StateToBeReorganized
			c.fresh(i)
		} else {
			c.keep(i, i)
		}
	}
	finalize(nw)
	return c, nil
}

func resolvePartitions(d *Definition, names []string) (map[int]bool, error) {
	if len(names) == 0 {
		return nil, errkind.ErrDefinition.New("no partitions named")
	}
	set := make(map[int]bool, len(names))
	for _, name := range names {
		i := d.PartitionIndex(name)
		if i < 0 {
			return nil, errkind.ErrDefinition.New("unknown partition '" + name + "'")
		}
		if set[i] {
			return nil, errkind.ErrDefinition.New("duplicate partition name " + name)
		}
		set[i] = true
	}
	return set, nil
}

func lastIsMax(d *Definition) bool {
	return isMax(d.Partitions[len(d.Partitions)-1].LessThan)
}

// isMax reports a bound that is MAXVALUE in every position.
func isMax(lits []Literal) bool {
	if len(lits) == 0 {
		return false
	}
	for _, l := range lits {
		if !l.Max {
			return false
		}
	}
	return true
}

func clonePartitions(parts []Partition) []Partition {
	out := make([]Partition, len(parts))
	for i, p := range parts {
		out[i] = p.clone()
	}
	return out
}

// freeName returns the first p<n> not used by a partition or subpartition.
func freeName(d *Definition, n int) string {
	for ; ; n++ {
		name := "p" + strconv.Itoa(n)
		used := false
		for _, p := range d.Partitions {
			if strings.EqualFold(p.Name, name) {
				used = true
				break
			}
			for _, sp := range p.Subpartitions {
				if strings.EqualFold(sp.Name, name) {
					used = true
				}
			}
		}
		if !used {
			return name
		}
	}
}
