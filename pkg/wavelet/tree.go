// Package wavelet implements the sparse multi-resolution wavelet tree
// that is the trans-dimensional model representation: a rooted
// quadtree of 2D wavelet coefficients where presence of a coefficient
// requires presence of its parent.
package wavelet

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/aeminvert/rjmcmc/pkg/grid"
)

// ChangeKind enumerates the mutation that produced a ChangeRecord.
type ChangeKind int

const (
	ChangeRootValue ChangeKind = iota
	ChangeBirth
	ChangeDeath
	ChangeValue
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRootValue:
		return "root-value-change"
	case ChangeBirth:
		return "birth"
	case ChangeDeath:
		return "death"
	case ChangeValue:
		return "value-change"
	default:
		return "unknown"
	}
}

// ChangeRecord describes the delta produced by the most recent
// mutating call on a Tree.
type ChangeRecord struct {
	Kind      ChangeKind
	Idx       int
	NewValue  float64
	OldValue  float64 // valid for Death and Value changes
	HasOld    bool
	LiveAfter []int // sorted live indices after the change
}

// InvalidMove is returned when a mutation would violate the tree
// property (parent-missing on insert, child-present on delete).
type InvalidMove struct {
	Op  string
	Idx int
	Msg string
}

func (e *InvalidMove) Error() string {
	return fmt.Sprintf("wavelet: invalid move %s(idx=%d): %s", e.Op, e.Idx, e.Msg)
}

// Tree is a sparse, rooted quadtree over 2D wavelet coefficients.
type Tree struct {
	ix     Indexer
	values map[int]float64

	birthEligible map[int]struct{} // indices whose parent is live
	deathEligible map[int]struct{} // live leaves (no live child)

	last ChangeRecord
}

// New creates an empty Tree (root uninitialised) for the given
// geometry. Call Init before using it.
func New(g grid.Geometry) *Tree {
	return &Tree{
		ix:            NewIndexer(g),
		values:        make(map[int]float64),
		birthEligible: make(map[int]struct{}),
		deathEligible: make(map[int]struct{}),
	}
}

// Init sets the root-level coefficient to vRoot and empties every
// other index.
func (t *Tree) Init(vRoot float64) {
	t.values = map[int]float64{0: vRoot}
	t.birthEligible = make(map[int]struct{})
	t.deathEligible = make(map[int]struct{})
	for _, child := range t.ix.ChildrenOf(0) {
		t.birthEligible[child] = struct{}{}
	}
	// The root is never death-eligible, so the death-eligible set
	// starts empty.
	t.last = ChangeRecord{Kind: ChangeRootValue, Idx: 0, NewValue: vRoot, LiveAfter: t.liveSorted()}
}

func (t *Tree) liveSorted() []int {
	out := make([]int, 0, len(t.values))
	for idx := range t.values {
		out = append(out, idx)
	}
	sortInts(out)
	return out
}

// Contains reports whether idx is live.
func (t *Tree) Contains(idx int) bool {
	_, ok := t.values[idx]
	return ok
}

// Value returns the coefficient value at idx (0 if not live).
func (t *Tree) Value(idx int) float64 { return t.values[idx] }

// NCoeff is the number of live coefficients, |A|.
func (t *Tree) NCoeff() int { return len(t.values) }

// LiveIndices returns a sorted snapshot of every currently live index,
// for moves (like Value) that choose uniformly among A rather than
// among the birth/death-eligible sets.
func (t *Tree) LiveIndices() []int { return t.liveSorted() }

// MaxDepth is Dmax.
func (t *Tree) MaxDepth() int { return t.ix.MaxDepth() }

// DepthOf, ParentOf, ChildrenOf, ToCoord, FromCoord delegate to the
// tree's Indexer.
func (t *Tree) DepthOf(idx int) int       { return t.ix.DepthOf(idx) }
func (t *Tree) ParentOf(idx int) int      { return t.ix.ParentOf(idx) }
func (t *Tree) ChildrenOf(idx int) []int  { return t.ix.ChildrenOf(idx) }
func (t *Tree) To2D(idx int) (int, int) {
	c := t.ix.ToCoord(idx)
	return c.Row, c.Col
}
func (t *Tree) From2D(depth, row, col int) int {
	return t.ix.FromCoord(Coord{Depth: depth, Row: row, Col: col})
}

// BirthEligibleCount is |birth-eligible set|: indices whose parent is
// live and which are not themselves live.
func (t *Tree) BirthEligibleCount() int { return len(t.birthEligible) }

// DeathEligibleCount is |death-eligible set|: live leaves, excluding
// the root.
func (t *Tree) DeathEligibleCount() int { return len(t.deathEligible) }

// BirthEligibleIndices returns a snapshot slice of the birth-eligible
// set, for uniform sampling by the proposal engine.
func (t *Tree) BirthEligibleIndices() []int {
	out := make([]int, 0, len(t.birthEligible))
	for idx := range t.birthEligible {
		out = append(out, idx)
	}
	return out
}

// DeathEligibleIndices returns a snapshot slice of the death-eligible
// set.
func (t *Tree) DeathEligibleIndices() []int {
	out := make([]int, 0, len(t.deathEligible))
	for idx := range t.deathEligible {
		out = append(out, idx)
	}
	return out
}

// Insert adds idx=v to the tree. Fails with *InvalidMove if idx is
// already live, parent(idx) is not live, or idx exceeds Dmax.
func (t *Tree) Insert(idx int, v float64) error {
	if t.Contains(idx) {
		return &InvalidMove{Op: "insert", Idx: idx, Msg: "already live"}
	}
	if t.DepthOf(idx) > t.MaxDepth() {
		return &InvalidMove{Op: "insert", Idx: idx, Msg: "depth exceeds Dmax"}
	}
	parent := t.ParentOf(idx)
	if parent != -1 && !t.Contains(parent) {
		return &InvalidMove{Op: "insert", Idx: idx, Msg: "parent not live"}
	}

	t.values[idx] = v
	delete(t.birthEligible, idx)

	// idx is a new leaf unless it already had live children (impossible
	// right after insertion), so it is death-eligible...
	t.deathEligible[idx] = struct{}{}
	// ...and it enables its own children for birth.
	for _, child := range t.ChildrenOf(idx) {
		t.birthEligible[child] = struct{}{}
	}
	// The parent (if any) is no longer a leaf.
	if parent != -1 {
		delete(t.deathEligible, parent)
	}

	t.last = ChangeRecord{Kind: ChangeBirth, Idx: idx, NewValue: v, LiveAfter: t.liveSorted()}
	return nil
}

// Remove deletes idx from the tree. Fails with *InvalidMove if idx is
// not live, idx is the root, or idx has a live child.
func (t *Tree) Remove(idx int) error {
	if !t.Contains(idx) {
		return &InvalidMove{Op: "remove", Idx: idx, Msg: "not live"}
	}
	if idx == 0 {
		return &InvalidMove{Op: "remove", Idx: idx, Msg: "root is never death-eligible"}
	}
	for _, child := range t.ChildrenOf(idx) {
		if t.Contains(child) {
			return &InvalidMove{Op: "remove", Idx: idx, Msg: "has a live child"}
		}
	}

	old := t.values[idx]
	delete(t.values, idx)
	delete(t.deathEligible, idx)
	t.birthEligible[idx] = struct{}{}
	for _, child := range t.ChildrenOf(idx) {
		delete(t.birthEligible, child)
	}

	parent := t.ParentOf(idx)
	if parent > 0 && t.hasNoLiveChildren(parent) {
		t.deathEligible[parent] = struct{}{}
	}

	t.last = ChangeRecord{Kind: ChangeDeath, Idx: idx, OldValue: old, HasOld: true, LiveAfter: t.liveSorted()}
	return nil
}

func (t *Tree) hasNoLiveChildren(idx int) bool {
	for _, child := range t.ChildrenOf(idx) {
		if t.Contains(child) {
			return false
		}
	}
	return true
}

// Update changes the value of a live index idx (root or otherwise).
func (t *Tree) Update(idx int, v float64) error {
	old, ok := t.values[idx]
	if !ok {
		return &InvalidMove{Op: "update", Idx: idx, Msg: "not live"}
	}
	t.values[idx] = v
	kind := ChangeValue
	if idx == 0 {
		kind = ChangeRootValue
	}
	t.last = ChangeRecord{Kind: kind, Idx: idx, NewValue: v, OldValue: old, HasOld: true, LiveAfter: t.liveSorted()}
	return nil
}

// LastPerturbation returns the delta of the most recent mutating call.
func (t *Tree) LastPerturbation() ChangeRecord { return t.last }

// MapToArray writes the current sparse values into out[0:N), zeroing
// every position not live.
func (t *Tree) MapToArray(out []float64) {
	for i := range out {
		out[i] = 0
	}
	for idx, v := range t.values {
		out[idx] = v
	}
}

// Clone returns a deep copy of the tree, used to give each replica its
// own initial tree and to snapshot a tree into an INITIALISE record.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		ix:            t.ix,
		values:        make(map[int]float64, len(t.values)),
		birthEligible: make(map[int]struct{}, len(t.birthEligible)),
		deathEligible: make(map[int]struct{}, len(t.deathEligible)),
		last:          t.last,
	}
	for k, v := range t.values {
		c.values[k] = v
	}
	for k := range t.birthEligible {
		c.birthEligible[k] = struct{}{}
	}
	for k := range t.deathEligible {
		c.deathEligible[k] = struct{}{}
	}
	return c
}

// CopyFrom replaces t's contents with a deep copy of other's, without
// allocating a new Tree (used by resample, via chain.State.CopyModelFrom,
// to transplant a whole model in place).
func (t *Tree) CopyFrom(other *Tree) {
	t.ix = other.ix
	t.values = make(map[int]float64, len(other.values))
	for k, v := range other.values {
		t.values[k] = v
	}
	t.birthEligible = make(map[int]struct{}, len(other.birthEligible))
	for k := range other.birthEligible {
		t.birthEligible[k] = struct{}{}
	}
	t.deathEligible = make(map[int]struct{}, len(other.deathEligible))
	for k := range other.deathEligible {
		t.deathEligible[k] = struct{}{}
	}
	t.last = other.last
}

// --- binary serialization -------------------------------------------------
//
// Format: magic(4) version(1) geometry{dx(1) dy(1) depth(f64)} count(u32)
// then count * {idx(u32) value(f64)} sorted by idx ascending.

var treeMagic = [4]byte{'A', 'W', 'T', '1'}

// Save writes the tree to path in the binary tree format.
func (t *Tree) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavelet: save %s: %w", path, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := t.WriteTo(w); err != nil {
		return err
	}
	return w.Flush()
}

// WriteTo encodes the tree onto w.
func (t *Tree) WriteTo(w io.Writer) error {
	if _, err := w.Write(treeMagic[:]); err != nil {
		return err
	}
	hdr := []byte{1, byte(t.ix.g.DegreeX), byte(t.ix.g.DegreeY)}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.ix.g.Depth); err != nil {
		return err
	}
	idxs := t.liveSorted()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(idxs))); err != nil {
		return err
	}
	for _, idx := range idxs {
		if err := binary.Write(w, binary.LittleEndian, uint32(idx)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, t.values[idx]); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces t's contents with the tree stored at path.
func (t *Tree) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("wavelet: load %s: %w", path, err)
	}
	defer f.Close()
	return t.ReadFrom(bufio.NewReader(f))
}

// LoadPromote loads a previously saved sparse tree, rejecting any
// coefficient whose depth exceeds the current tree's Dmax.
func (t *Tree) LoadPromote(path string) error {
	tmp := New(t.ix.g)
	if err := tmp.Load(path); err != nil {
		return err
	}
	for idx := range tmp.values {
		if tmp.DepthOf(idx) > t.MaxDepth() {
			return &InvalidMove{Op: "load_promote", Idx: idx, Msg: "depth exceeds current Dmax"}
		}
	}
	t.CopyFrom(tmp)
	return nil
}

// ReadFrom decodes a tree from r, replacing t's contents.
func (t *Tree) ReadFrom(r io.Reader) error {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fmt.Errorf("wavelet: read magic: %w", err)
	}
	if magic != treeMagic {
		return fmt.Errorf("wavelet: bad magic %v", magic)
	}
	hdr := make([]byte, 3)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return fmt.Errorf("wavelet: read header: %w", err)
	}
	dx, dy := int(hdr[1]), int(hdr[2])
	var depth float64
	if err := binary.Read(r, binary.LittleEndian, &depth); err != nil {
		return err
	}
	g, err := grid.New(dx, dy, depth)
	if err != nil {
		return fmt.Errorf("wavelet: decode geometry: %w", err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return err
	}

	fresh := New(g)
	fresh.values = make(map[int]float64, count)
	for i := uint32(0); i < count; i++ {
		var idx uint32
		var v float64
		if err := binary.Read(r, binary.LittleEndian, &idx); err != nil {
			return err
		}
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return err
		}
		fresh.values[int(idx)] = v
	}
	fresh.recomputeEligibility()
	t.CopyFrom(fresh)
	return nil
}

// recomputeEligibility rebuilds birth/death eligible sets from
// scratch, used after a bulk load.
func (t *Tree) recomputeEligibility() {
	t.birthEligible = make(map[int]struct{})
	t.deathEligible = make(map[int]struct{})
	for idx := range t.values {
		if t.hasNoLiveChildren(idx) && idx != 0 {
			t.deathEligible[idx] = struct{}{}
		}
		for _, child := range t.ChildrenOf(idx) {
			if !t.Contains(child) {
				t.birthEligible[child] = struct{}{}
			}
		}
	}
}

func sortInts(s []int) { sort.Ints(s) }
