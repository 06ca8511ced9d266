package canon

import (
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// Match returns a correspondence carrying every atom and bond of a onto b,
// trying the numbering variants of b in order.
func (w *Workspace) Match(a, b *molecule.Graph, exact bool) ([]int, bool) {
	return molecule.FindMapping(w, a, b, exact)
}

// MatchVariant pairs the canonical numberings of a and b: mapping[i] is the
// atom of b at the canonical position of atom i of a. a is always numbered
// with variant 0 and b with variant, so iterating variant over [0, variants)
// enumerates the correspondences of a symmetric graph. variants is 0 when the
// graphs cannot match under any variant.
//
// Elements are verified along the mapping; bonds are not (see VerifyBonds).
// Disconnected graphs never match.
func (w *Workspace) MatchVariant(a, b *molecule.Graph, exact bool, variant int) (mapping []int, variants int, ok bool) {
	if a == nil || b == nil {
		return nil, 0, false
	}
	if a.Len() != b.Len() || len(a.Bonds) != len(b.Bonds) {
		return nil, 0, false
	}
	if a.AtomsHash() != b.AtomsHash() {
		return nil, 0, false
	}

	r1, err := w.Canonicalize(a, exact, 0)
	if err != nil {
		return nil, 0, false
	}
	r2, err := w.Canonicalize(b, exact, variant)
	if err != nil || r1.Hash != r2.Hash {
		return nil, 0, false
	}

	mapping = make([]int, len(r1.Permutation))
	for i, ai := range r1.Permutation {
		mapping[ai] = r2.Permutation[i]
	}
	for i := range a.Atoms {
		if a.Atoms[i].Element != b.Atoms[mapping[i]].Element {
			return nil, r2.TotalVariants, false
		}
	}
	return mapping, r2.TotalVariants, true
}

// AreEqual reports whether two records describe the same structure. Stored
// structure hashes are compared first when both are computed.
func (w *Workspace) AreEqual(a, b *molecule.Record, exact bool) bool {
	if !a.HasPayload() || !b.HasPayload() {
		return false
	}
	h1, h2 := a.StructureHashFor(exact), b.StructureHashFor(exact)
	if h1 != 0 && h2 != 0 && h1 != h2 {
		return false
	}
	_, ok := w.Match(a.Graph, b.Graph, exact)
	return ok
}

// HashRecord computes the three hashes of r from its payload and marks the
// topology flag when the graph has bonds. A disconnected graph stores
// NotConnectedHash and is not an error.
func (w *Workspace) HashRecord(r *molecule.Record) error {
	if !r.HasPayload() {
		return molecule.ErrInvalidGraph.WithDetailf("record %d has no payload", r.ID)
	}
	r.AtomsHash = r.Graph.AtomsHash()
	for _, exact := range []bool{false, true} {
		res, err := w.Canonicalize(r.Graph, exact, 0)
		if err != nil && !errors.Is(err, ErrDisconnected) {
			return err
		}
		if exact {
			r.StructureHashExact = res.Hash
		} else {
			r.StructureHash = res.Hash
		}
	}
	if len(r.Graph.Bonds) > 0 {
		r.Flags |= mtypes.HasTopology
	}
	return nil
}

// VerifyBonds reports whether mapping carries every bond of a onto a bond of
// b, with the same type when exact is set.
func VerifyBonds(a, b *molecule.Graph, mapping []int, exact bool) bool {
	return molecule.BondsPreserved(a, b, mapping, exact)
}
