package wavelet

// Reconstruct applies the inverse 2-D wavelet transform to a dense
// coefficient array (as produced by Tree.MapToArray), yielding the
// dense image (row-major, Height*Width) the forward model and the
// postprocessor both consume. At each depth the previously
// reconstructed (oldRows x oldCols) image is combined with that
// depth's newly introduced detail coefficients: column-direction
// synthesis first (if the column axis still doubles at this depth),
// then row-direction synthesis (if the row axis still doubles),
// matching the coefficient layout Indexer.ToCoord assigns.
func Reconstruct(ix Indexer, kernel Kernel, coeffs []float64) []float64 {
	img := []float64{coeffs[0]}
	rows, cols := 1, 1

	for d := 1; d <= ix.g.MaxDepth; d++ {
		oldRows, oldCols := rows, cols
		newRows, newCols := ix.resolution(d)
		base := ix.levelStart(d)

		cur := img
		curCols := oldCols
		if ix.colGrowing(d) && newCols > oldCols {
			detailWidth := newCols - oldCols
			next := make([]float64, oldRows*newCols)
			for r := 0; r < oldRows; r++ {
				low := cur[r*curCols : r*curCols+oldCols]
				high := coeffs[base+r*detailWidth : base+r*detailWidth+detailWidth]
				x := kernel.Synthesis(low, high)
				copy(next[r*newCols:(r+1)*newCols], x)
			}
			cur = next
			curCols = newCols
			base += oldRows * detailWidth
		}

		if ix.rowGrowing(d) && newRows > oldRows {
			detailHeight := newRows - oldRows
			result := make([]float64, newRows*curCols)
			low := make([]float64, oldRows)
			high := make([]float64, detailHeight)
			for c := 0; c < curCols; c++ {
				for r := 0; r < oldRows; r++ {
					low[r] = cur[r*curCols+c]
				}
				for r := 0; r < detailHeight; r++ {
					high[r] = coeffs[base+r*curCols+c]
				}
				x := kernel.Synthesis(low, high)
				for r := 0; r < newRows; r++ {
					result[r*curCols+c] = x[r]
				}
			}
			cur = result
		}

		img = cur
		rows, cols = newRows, newCols
	}
	return img
}

// Decompose is the exact inverse of Reconstruct: given a dense image,
// it produces the dense coefficient array a full Tree over the same
// geometry would hold if every coefficient were live. It exists for
// testing Reconstruct's idempotence and for seeding an initial tree
// from a loaded starting image.
func Decompose(ix Indexer, kernel Kernel, image []float64) []float64 {
	coeffs := make([]float64, ix.g.N())
	rows, cols := ix.g.Height, ix.g.Width
	cur := make([]float64, len(image))
	copy(cur, image)
	curCols := cols

	type level struct {
		d               int
		oldRows, oldCols int
	}
	var levels []level
	r, c := 1, 1
	for d := 1; d <= ix.g.MaxDepth; d++ {
		nr, nc := ix.resolution(d)
		levels = append(levels, level{d: d, oldRows: r, oldCols: c})
		r, c = nr, nc
	}

	for i := len(levels) - 1; i >= 0; i-- {
		lv := levels[i]
		newRows, newCols := ix.resolution(lv.d)
		base := ix.levelStart(lv.d)
		rectALen := 0
		if ix.colGrowing(lv.d) && newCols > lv.oldCols {
			rectALen = lv.oldRows * (newCols - lv.oldCols)
		}

		// Undo row-direction synthesis first: it was the last step
		// Reconstruct applied, so its detail occupies rectB, after
		// rectA, in the per-depth coefficient block.
		if ix.rowGrowing(lv.d) && newRows > lv.oldRows {
			detailHeight := newRows - lv.oldRows
			rowBase := base + rectALen
			next := make([]float64, lv.oldRows*curCols)
			for c := 0; c < curCols; c++ {
				x := make([]float64, newRows)
				for rr := 0; rr < newRows; rr++ {
					x[rr] = cur[rr*curCols+c]
				}
				low, high := kernel.Analysis(x)
				for rr := 0; rr < lv.oldRows; rr++ {
					next[rr*curCols+c] = low[rr]
				}
				for rr := 0; rr < detailHeight; rr++ {
					coeffs[rowBase+rr*curCols+c] = high[rr]
				}
			}
			cur = next
			rows = lv.oldRows
		}

		if ix.colGrowing(lv.d) && newCols > lv.oldCols {
			detailWidth := newCols - lv.oldCols
			next := make([]float64, rows*lv.oldCols)
			for rr := 0; rr < rows; rr++ {
				x := cur[rr*curCols : rr*curCols+newCols]
				low, high := kernel.Analysis(x)
				copy(next[rr*lv.oldCols:(rr+1)*lv.oldCols], low)
				copy(coeffs[base+rr*detailWidth:base+(rr+1)*detailWidth], high)
			}
			cur = next
			curCols = lv.oldCols
		}

		rows, cols = lv.oldRows, lv.oldCols
	}
	coeffs[0] = cur[0]
	return coeffs
}
