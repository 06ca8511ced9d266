package molecule

import (
	"math/rand/v2"
	"slices"
	"strings"

	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// Record is one entry of the molecule database.
//
// A hash value of 0 means "not computed". Hashes are derived from Graph and
// must be recomputed whenever Graph changes; Merge reports when that is needed.
type Record struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Charge int8   `json:"charge,omitempty"`

	// AtomsHash depends on the element composition only.
	AtomsHash uint32 `json:"atoms_hash"`
	// StructureHash covers topology and elements, ignoring bond orders.
	StructureHash uint32 `json:"structure_hash"`
	// StructureHashExact also covers bond orders.
	StructureHashExact uint32 `json:"structure_hash_exact"`

	Flags   mtypes.Flags `json:"flags"`
	Formula string       `json:"formula,omitempty"`
	CAS     []uint32     `json:"cas,omitempty"`

	// Graph is the payload. nil means it has not been loaded.
	Graph *Graph `json:"graph,omitempty"`

	// Offset locates the payload inside its bucket. Set by the binary store.
	Offset uint16 `json:"-"`
}

// HasPayload reports whether the graph has been loaded.
func (r *Record) HasPayload() bool { return r.Graph != nil }

// Clone returns a deep copy, payload included.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.CAS = slices.Clone(r.CAS)
	c.Graph = r.Graph.Clone()
	return &c
}

// Kind classifies the record by its net charge.
func (r *Record) Kind() mtypes.Kind { return mtypes.KindOfCharge(r.Charge) }

// ResetHashes marks every hash as not computed.
func (r *Record) ResetHashes() {
	r.AtomsHash, r.StructureHash, r.StructureHashExact = 0, 0, 0
}

// StructureHashFor returns the exact or the bond-order-free hash.
func (r *Record) StructureHashFor(exact bool) uint32 {
	if exact {
		return r.StructureHashExact
	}
	return r.StructureHash
}

// HashesEqual reports whether all three hashes are computed on both records
// and equal pairwise.
func (r *Record) HashesEqual(other *Record) bool {
	pairs := [3][2]uint32{
		{r.StructureHashExact, other.StructureHashExact},
		{r.StructureHash, other.StructureHash},
		{r.AtomsHash, other.AtomsHash},
	}
	for _, p := range pairs {
		if p[0] == 0 || p[1] == 0 || p[0] != p[1] {
			return false
		}
	}
	return true
}

// NamesEqual compares unified names.
func (r *Record) NamesEqual(other *Record) bool {
	if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(other.Name) == "" {
		return false
	}
	return UnifiedName(r.Name) == UnifiedName(other.Name)
}

// HasCAS reports whether cas is one of the record's registry numbers.
func (r *Record) HasCAS(cas uint32) bool { return slices.Contains(r.CAS, cas) }

// MolecularFormula renders the formula from the payload using the ordering
// encoded in Flags. An explicit Formula takes precedence when the
// HasChemicalFormula flag is set.
func (r *Record) MolecularFormula(formatted bool) string {
	if r.Flags.Has(mtypes.HasChemicalFormula) && r.Formula != "" {
		if formatted {
			return FormatFormula(r.Formula)
		}
		return r.Formula
	}
	if r.Graph == nil {
		return ""
	}
	return Formula(r.Graph.Elements(), r.Flags.Ordering(), formatted)
}

// SyncPayloadFlags derives HasTopology, HasAtomCharges and HasRadicalAtoms
// from the payload. Geometry flags are left alone because zero coordinates
// are legitimate.
func (r *Record) SyncPayloadFlags() {
	if r.Graph == nil {
		return
	}
	var charges, radicals bool
	for _, a := range r.Graph.Atoms {
		charges = charges || a.Charge != 0
		radicals = radicals || a.Radical != 0
	}
	f := r.Flags
	f = f.Set(mtypes.HasTopology, len(r.Graph.Bonds) > 0)
	f = f.Set(mtypes.HasAtomCharges, charges)
	f = f.Set(mtypes.HasRadicalAtoms, radicals)
	f = f.Set(mtypes.HasParticleCharge, r.Charge != 0)
	r.Flags = f
}

// NetCharge sums the formal charges of the payload atoms.
func (r *Record) NetCharge() int {
	if r.Graph == nil {
		return int(r.Charge)
	}
	total := 0
	for _, a := range r.Graph.Atoms {
		total += int(a.Charge)
	}
	return total
}

// Shuffle relabels the payload atoms in a random order drawn from rng and
// returns the permutation applied (new atom i was old atom perm[i]). Hashes
// are left untouched since they do not depend on atom order.
func (r *Record) Shuffle(rng *rand.Rand) []int {
	if r.Graph == nil {
		return nil
	}
	perm := rng.Perm(len(r.Graph.Atoms))
	shuffled, err := r.Graph.Permute(perm)
	if err != nil {
		return nil
	}
	r.Graph = shuffled
	return perm
}
