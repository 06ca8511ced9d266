package molecule

import (
	"slices"

	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// ErrTopologyMismatch is returned by Merge when the two records cannot be put
// in atom-for-atom correspondence.
var ErrTopologyMismatch = errors.New(errors.ErrCodeTopologyMismatch, "atom correspondence could not be established")

// Matcher proposes atom correspondences between two graphs: mapping[i] is
// the atom of b paired with atom i of a. variant selects one of the variants
// proposals; variants is 0 when none can succeed. Proposals are not required
// to preserve bonds. The canonicalizer workspace implements it.
type Matcher interface {
	MatchVariant(a, b *Graph, exact bool, variant int) (mapping []int, variants int, ok bool)
}

// MaxMatchVariants bounds the proposals FindMapping tries per pair of graphs.
const MaxMatchVariants = 256

// FindMapping asks m for proposals in variant order and returns the first
// one that carries every atom and bond of a onto b.
func FindMapping(m Matcher, a, b *Graph, exact bool) ([]int, bool) {
	if a == nil || b == nil {
		return nil, false
	}
	total := 1
	for v := 0; v < total && v < MaxMatchVariants; v++ {
		mapping, variants, ok := m.MatchVariant(a, b, exact, v)
		if variants == 0 {
			return nil, false
		}
		total = variants
		if ok && elementsPreserved(a, b, mapping) && BondsPreserved(a, b, mapping, exact) {
			return mapping, true
		}
	}
	return nil, false
}

// BondsPreserved reports whether mapping carries every bond of a onto a bond
// of b, with the same type when exact is set.
func BondsPreserved(a, b *Graph, mapping []int, exact bool) bool {
	if len(a.Bonds) != len(b.Bonds) || len(mapping) != a.Len() {
		return false
	}
	for _, bond := range a.Bonds {
		j := b.FindBond(mapping[bond.A1], mapping[bond.A2])
		if j < 0 {
			return false
		}
		if exact && b.Bonds[j].Type != bond.Type {
			return false
		}
	}
	return true
}

// elementsPreserved reports whether mapping is a bijection onto the atoms of
// b that keeps every element.
func elementsPreserved(a, b *Graph, mapping []int) bool {
	if len(mapping) != a.Len() || a.Len() != b.Len() {
		return false
	}
	used := make([]bool, b.Len())
	for i, j := range mapping {
		if j < 0 || j >= len(used) || used[j] || a.Atoms[i].Element != b.Atoms[j].Element {
			return false
		}
		used[j] = true
	}
	return true
}

// mergedFlags are OR-ed into the destination unconditionally.
const mergedFlags = mtypes.HasSkeletalFormula | mtypes.ShowInExplorer |
	mtypes.ShowInConstructor | mtypes.ForceIncludeInBuild

// adoptedFlags are replaced by the source's when the destination has no
// geometry and takes the source payload wholesale.
const adoptedFlags = mtypes.HasParticleCharge | mtypes.HasAtomCharges |
	mtypes.Has2D | mtypes.Has3D | mtypes.HasTopology | mtypes.HasRadicalAtoms

// MergeResult is the outcome of a successful Merge.
type MergeResult struct {
	Record *Record

	// Rehash is set when the payload topology was replaced and the hashes of
	// Record were reset to "not computed".
	Rehash bool

	// Mapping is the atom correspondence used to copy per-atom data, nil when
	// none was needed.
	Mapping []int
}

// Merge fills the data missing from dest with data from src and returns the
// result as a new record; neither input is modified. The id, charge and
// existing hashes of dest are kept.
//
// Name, chemical formula and CAS numbers are taken when absent. When dest
// lacks 2-D or 3-D positions that src has, the atoms are matched (exact bond
// orders first, then ignoring them if allowAutofix; every proposal of m is
// checked against the bonds before use) and the missing positions,
// plus zero charges and radicals, are copied along the mapping. A dest without
// any geometry adopts the source payload wholesale.
//
// ErrTopologyMismatch is returned when no correspondence exists.
func Merge(dest, src *Record, allowAutofix bool, m Matcher) (MergeResult, error) {
	out := dest.Clone()

	if out.Name == "" {
		out.Name = src.Name
	}
	for _, cas := range src.CAS {
		if !slices.Contains(out.CAS, cas) {
			out.CAS = append(out.CAS, cas)
		}
	}
	if !out.Flags.Has(mtypes.HasChemicalFormula) {
		out.Formula = src.Formula
		out.Flags |= src.Flags & mtypes.HasChemicalFormula
	}
	out.Flags |= src.Flags & mergedFlags

	missing := out.Flags&mtypes.GeometryFlags != mtypes.GeometryFlags
	available := src.Flags.Any(mtypes.GeometryFlags) && src.Graph != nil
	if !missing || !available {
		return MergeResult{Record: out}, nil
	}

	if !out.Flags.Any(mtypes.GeometryFlags) || out.Graph == nil {
		out.Graph = src.Graph.Clone()
		out.Flags = out.Flags&^adoptedFlags | src.Flags&adoptedFlags
		out.ResetHashes()
		return MergeResult{Record: out, Rehash: true}, nil
	}

	mapping, ok := mapAtoms(out, src, true, m)
	if !ok && allowAutofix {
		mapping, ok = mapAtoms(out, src, false, m)
	}
	if !ok {
		return MergeResult{}, ErrTopologyMismatch.WithDetailf("dest %d, source %d", dest.ID, src.ID)
	}

	atoms := out.Graph.Atoms
	sAtoms := src.Graph.Atoms
	switch {
	case !out.Flags.Has(mtypes.Has2D) && src.Flags.Has(mtypes.Has2D):
		for i := range atoms {
			atoms[i].Flat = sAtoms[mapping[i]].Flat
		}
		out.Flags |= mtypes.Has2D | mtypes.HasTopology
	case !out.Flags.Has(mtypes.Has3D) && src.Flags.Has(mtypes.Has3D):
		for i := range atoms {
			atoms[i].Position = sAtoms[mapping[i]].Position
		}
		out.Flags |= mtypes.Has3D | mtypes.HasTopology
	}

	if src.Flags.Has(mtypes.HasAtomCharges) {
		out.Flags |= src.Flags & (mtypes.HasParticleCharge | mtypes.HasAtomCharges)
		for i := range atoms {
			if atoms[i].Charge == 0 {
				atoms[i].Charge = sAtoms[mapping[i]].Charge
			}
		}
	}
	if src.Flags.Has(mtypes.HasRadicalAtoms) {
		out.Flags |= mtypes.HasRadicalAtoms
		for i := range atoms {
			if atoms[i].Radical == 0 {
				atoms[i].Radical = sAtoms[mapping[i]].Radical
			}
		}
	}
	return MergeResult{Record: out, Mapping: mapping}, nil
}

func mapAtoms(dest, src *Record, exact bool, m Matcher) ([]int, bool) {
	h1, h2 := dest.StructureHashFor(exact), src.StructureHashFor(exact)
	if h1 != 0 && h2 != 0 && h1 != h2 {
		return nil, false
	}
	if dest.Graph.Len() != src.Graph.Len() {
		return nil, false
	}
	return FindMapping(m, dest.Graph, src.Graph, exact)
}
