package canon

import (
	"math/rand/v2"

	"github.com/turtacn/molident/internal/domain/molecule"
)

// Seed feeds the generator of the seed table. Changing it changes every
// structure hash ever persisted.
const Seed = 2016932201

// Multipliers of the hash combinators. All are odd so that multiplication is
// a bijection modulo 2^32.
const (
	selfMul      uint32 = 179424673
	bondMul      uint32 = 179426549
	combineMul   uint32 = 179425027
	layerMul     uint32 = 179424691
	memberMul    uint32 = 179426081
	layerFoldMul uint32 = 104917
)

// Slots of the seed table used for bonds. Elements occupy the low slots.
const (
	bondSlotBase    = 128
	bondSlotUnknown = bondSlotBase - 1
)

// seeds is indexed by element for atoms, by bond slot for bonds and by BFS
// distance for hung layers.
var seeds = newSeedTable(Seed)

func newSeedTable(seed uint64) [molecule.MaxAtoms]uint32 {
	var t [molecule.MaxAtoms]uint32
	rng := rand.New(rand.NewPCG(seed, seed))
	for i := range t {
		v := rng.Uint32()
		for v == 0 {
			v = rng.Uint32()
		}
		t[i] = v
	}
	return t
}
