package molecule

import (
	"math"

	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// standardValence lists the allowed valences of common organic elements.
// Elements not listed are not checked.
var standardValence = map[mtypes.Element][]int{
	mtypes.H:  {1},
	mtypes.B:  {3},
	mtypes.C:  {4},
	mtypes.N:  {3, 5},
	mtypes.O:  {2},
	mtypes.F:  {1},
	mtypes.Si: {4},
	mtypes.P:  {3, 5},
	mtypes.S:  {2, 4, 6},
	mtypes.Cl: {1, 3, 5, 7},
	mtypes.Br: {1, 3, 5},
	mtypes.I:  {1, 3, 5, 7},
}

// ValenceErrors returns the indices of atoms whose bond order sum, adjusted
// for formal charge and radicals, matches none of the element's standard
// valences. Only explicit hydrogens are counted, so an atom may fall short of
// its valence; only excess is reported.
func (g *Graph) ValenceErrors() []int {
	sums := make([]float64, len(g.Atoms))
	for _, b := range g.Bonds {
		o := b.Type.Order()
		sums[b.A1] += o
		sums[b.A2] += o
	}
	var bad []int
	for i, a := range g.Atoms {
		allowed, ok := standardValence[a.Element]
		if !ok {
			continue
		}
		used := int(math.Floor(sums[i])) + int(a.Radical)
		// a formal charge widens the limit by its magnitude
		charge := int(a.Charge)
		if charge < 0 {
			charge = -charge
		}
		limit := allowed[len(allowed)-1] + charge
		if used > limit {
			bad = append(bad, i)
		}
	}
	return bad
}
