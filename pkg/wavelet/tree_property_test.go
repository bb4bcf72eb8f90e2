//go:build property
// +build property

package wavelet

import (
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestInsertThenRemoveIsIdempotent checks the tree-property invariant:
// inserting a birth-eligible leaf and immediately removing it again
// must reproduce the exact live-coefficient map the tree started with,
// for any root value and insertion value drawn from gopter's
// generators.
func TestInsertThenRemoveIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("insert followed by remove restores the tree", prop.ForAll(
		func(vRoot, vChild float64) bool {
			g := mustGeom(t, 3, 3, 100)
			tr := New(g)
			tr.Init(vRoot)
			before := snapshot(tr)

			child := tr.ChildrenOf(0)[0]
			if err := tr.Insert(child, vChild); err != nil {
				return false
			}
			if err := tr.Remove(child); err != nil {
				return false
			}

			return mapsEqual(before, snapshot(tr))
		},
		gen.Float64Range(-10, 10),
		gen.Float64Range(-10, 10),
	))

	properties.TestingRun(t)
}

// TestSaveLoadRoundTripsExactly checks that any tree grown by a
// sequence of births keeps its exact coefficient map through a
// Save/Load round trip through the binary tree format.
func TestSaveLoadRoundTripsExactly(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("save then load reproduces the live coefficient map", prop.ForAll(
		func(vRoot float64, values []float64) bool {
			g := mustGeom(t, 3, 3, 100)
			tr := New(g)
			tr.Init(vRoot)

			for _, v := range values {
				eligible := tr.BirthEligibleIndices()
				if len(eligible) == 0 {
					break
				}
				if err := tr.Insert(eligible[0], v); err != nil {
					return false
				}
			}

			path := filepath.Join(t.TempDir(), "tree.dat")
			if err := tr.Save(path); err != nil {
				return false
			}

			loaded := New(g)
			if err := loaded.Load(path); err != nil {
				return false
			}

			return mapsEqual(snapshot(tr), snapshot(loaded))
		},
		gen.Float64Range(-10, 10),
		gen.SliceOfN(5, gen.Float64Range(-10, 10)),
	))

	properties.TestingRun(t)
}

func snapshot(t *Tree) map[int]float64 {
	out := make(map[int]float64, len(t.values))
	for k, v := range t.values {
		out[k] = v
	}
	return out
}

func mapsEqual(a, b map[int]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
