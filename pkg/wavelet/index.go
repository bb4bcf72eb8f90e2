package wavelet

import "github.com/aeminvert/rjmcmc/pkg/grid"

// Coord identifies a wavelet coefficient by its scale (Depth) and its
// row/column position within that scale's coefficient grid.
type Coord struct {
	Depth int
	Row   int
	Col   int
}

// Indexer converts between linear coefficient indices (0..N) and their
// (depth, row, col) coordinates, for a fixed image Geometry. It is the
// single source of truth shared by WaveletTree, the prior, and the
// postprocessor's dense-array reconstruction.
type Indexer struct {
	g grid.Geometry
}

// NewIndexer builds an Indexer for the given geometry.
func NewIndexer(g grid.Geometry) Indexer { return Indexer{g: g} }

// MaxDepth is Dmax, the deepest scale present in the tree.
func (ix Indexer) MaxDepth() int { return ix.g.MaxDepth }

// N is the total coefficient count, W*H.
func (ix Indexer) N() int { return ix.g.N() }

// rowGrowing reports whether the row (height / depth-axis) resolution
// doubles going from depth-1 to depth.
func (ix Indexer) rowGrowing(depth int) bool { return depth <= ix.g.DegreeY }

// colGrowing reports whether the column (width / lateral-axis)
// resolution doubles going from depth-1 to depth.
func (ix Indexer) colGrowing(depth int) bool { return depth <= ix.g.DegreeX }

// resolution returns the coefficient grid size (rows, cols) present at
// and below the given depth (i.e. the cumulative resolution through
// that scale). resolution(-1) is (0, 0) by convention.
func (ix Indexer) resolution(depth int) (rows, cols int) {
	if depth < 0 {
		return 0, 0
	}
	rows = 1 << depth
	if rows > ix.g.Height {
		rows = ix.g.Height
	}
	cols = 1 << depth
	if cols > ix.g.Width {
		cols = ix.g.Width
	}
	return rows, cols
}

// levelStart returns the linear index of the first coefficient
// introduced at the given depth, and newCount returns how many
// coefficients are introduced at that depth.
func (ix Indexer) levelStart(depth int) int {
	prevRows, prevCols := ix.resolution(depth - 1)
	return prevRows * prevCols
}

func (ix Indexer) newCount(depth int) int {
	rows, cols := ix.resolution(depth)
	return rows*cols - ix.levelStart(depth)
}

// DepthOf returns the scale of a linear coefficient index.
func (ix Indexer) DepthOf(idx int) int {
	for d := 0; d <= ix.g.MaxDepth; d++ {
		rows, cols := ix.resolution(d)
		if idx < rows*cols {
			return d
		}
	}
	return ix.g.MaxDepth
}

// ToCoord decomposes a linear index into its (depth, row, col) triple.
func (ix Indexer) ToCoord(idx int) Coord {
	depth := ix.DepthOf(idx)
	offset := idx - ix.levelStart(depth)
	oldRows, oldCols := ix.resolution(depth - 1)
	_, newCols := ix.resolution(depth)

	rectA := oldRows * (newCols - oldCols)
	if offset < rectA && newCols > oldCols {
		r := offset / (newCols - oldCols)
		c := oldCols + offset%(newCols-oldCols)
		return Coord{Depth: depth, Row: r, Col: c}
	}
	offset -= rectA
	r := oldRows + offset/newCols
	c := offset % newCols
	return Coord{Depth: depth, Row: r, Col: c}
}

// FromCoord is the inverse of ToCoord: it computes the linear index of
// a (depth, row, col) coordinate. It does not validate that the
// coordinate is actually "new" at that depth (use Valid for that).
func (ix Indexer) FromCoord(c Coord) int {
	oldRows, oldCols := ix.resolution(c.Depth - 1)
	newCols := 1 << c.Depth
	if newCols > ix.g.Width {
		newCols = ix.g.Width
	}

	start := ix.levelStart(c.Depth)
	if c.Row < oldRows {
		// Lives in the "new columns, old rows" rectangle.
		return start + c.Row*(newCols-oldCols) + (c.Col - oldCols)
	}
	rectA := oldRows * (newCols - oldCols)
	return start + rectA + (c.Row-oldRows)*newCols + c.Col
}

// Valid reports whether a (depth, row, col) coordinate addresses a
// coefficient actually introduced at that depth.
func (ix Indexer) Valid(c Coord) bool {
	if c.Depth < 0 || c.Depth > ix.g.MaxDepth {
		return false
	}
	rows, cols := ix.resolution(c.Depth)
	if c.Row < 0 || c.Row >= rows || c.Col < 0 || c.Col >= cols {
		return false
	}
	oldRows, oldCols := ix.resolution(c.Depth - 1)
	return c.Row >= oldRows || c.Col >= oldCols
}

// ParentOf returns the index of idx's parent, or -1 if idx is the
// root (depth 0).
func (ix Indexer) ParentOf(idx int) int {
	c := ix.ToCoord(idx)
	if c.Depth == 0 {
		return -1
	}
	pr, pc := c.Row, c.Col
	if ix.rowGrowing(c.Depth) {
		pr = c.Row / 2
	}
	if ix.colGrowing(c.Depth) {
		pc = c.Col / 2
	}
	return ix.FromCoord(Coord{Depth: c.Depth - 1, Row: pr, Col: pc})
}

// ChildrenOf returns the indices of idx's children at idx's depth+1.
// The result has length 1, 2 or 4 depending on whether the row and/or
// column axis is still growing at that depth, and is empty once idx is
// at MaxDepth.
func (ix Indexer) ChildrenOf(idx int) []int {
	c := ix.ToCoord(idx)
	childDepth := c.Depth + 1
	if childDepth > ix.g.MaxDepth {
		return nil
	}

	var rows, cols []int
	if ix.rowGrowing(childDepth) {
		rows = []int{2 * c.Row, 2*c.Row + 1}
	} else {
		rows = []int{c.Row}
	}
	if ix.colGrowing(childDepth) {
		cols = []int{2 * c.Col, 2*c.Col + 1}
	} else {
		cols = []int{c.Col}
	}

	out := make([]int, 0, len(rows)*len(cols))
	for _, r := range rows {
		for _, cc := range cols {
			out = append(out, ix.FromCoord(Coord{Depth: childDepth, Row: r, Col: cc}))
		}
	}
	return out
}
