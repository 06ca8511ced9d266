// Package molecule is the domain model of the structure engine: the atom/bond
// graph of one molecule, the record that carries its identity and hashes, and
// the pure operations on them (composition hash, CAS numbers, formula text,
// name normalisation, merge).
package molecule

import (
	"fmt"

	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// MaxAtoms is the hard cap on atoms per graph. Canonicalization scratch
// buffers are sized to it.
const MaxAtoms = 256

// MaxBonds is the number of bonds a payload can record (one length byte).
const MaxBonds = 255

// ErrInvalidGraph is returned by Validate and wraps the specific violation.
var ErrInvalidGraph = errors.New(errors.ErrCodeInvalidGraph, "invalid molecular graph")

// Vec3 is a 3-D position in angstroms.
type Vec3 [3]float32

// Vec2 is a 2-D layout position.
type Vec2 [2]float32

// Atom is one node of a Graph.
type Atom struct {
	Element  mtypes.Element `json:"element"`
	Position Vec3           `json:"position"`
	Flat     Vec2           `json:"flat"`
	Charge   int8           `json:"charge,omitempty"`
	Radical  int8           `json:"radical,omitempty"`
}

// Bond is an undirected edge between two atoms of the same Graph. (A1, A2)
// and (A2, A1) describe the same bond.
type Bond struct {
	A1   uint8           `json:"a1"`
	A2   uint8           `json:"a2"`
	Type mtypes.BondType `json:"type"`
}

// Other returns the endpoint of b that is not atom. The result is undefined
// when atom is not an endpoint.
func (b Bond) Other(atom int) int {
	if int(b.A1) == atom {
		return int(b.A2)
	}
	return int(b.A1)
}

// Connects reports whether b joins i and j in either direction.
func (b Bond) Connects(i, j int) bool {
	return (int(b.A1) == i && int(b.A2) == j) || (int(b.A1) == j && int(b.A2) == i)
}

// Graph is the atom/bond structure of one molecule.
type Graph struct {
	Atoms []Atom `json:"atoms"`
	Bonds []Bond `json:"bonds"`
}

// NewGraph builds a graph from element symbols and bonds, mostly for tests and
// the CLI. Unknown symbols are reported as ErrInvalidGraph.
func NewGraph(symbols []string, bonds ...Bond) (*Graph, error) {
	g := &Graph{Atoms: make([]Atom, len(symbols)), Bonds: append([]Bond(nil), bonds...)}
	for i, s := range symbols {
		e, ok := mtypes.ParseElement(s)
		if !ok {
			return nil, ErrInvalidGraph.WithDetailf("atom %d: unknown element %q", i, s)
		}
		g.Atoms[i].Element = e
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the structural invariants: at most MaxAtoms atoms and
// MaxBonds bonds, known elements and bond types, endpoints in range and no
// self loops.
func (g *Graph) Validate() error {
	if g == nil {
		return ErrInvalidGraph.WithDetail("nil graph")
	}
	if len(g.Atoms) > MaxAtoms {
		return ErrInvalidGraph.WithDetailf("%d atoms exceeds the %d atom limit", len(g.Atoms), MaxAtoms)
	}
	if len(g.Bonds) > MaxBonds {
		return ErrInvalidGraph.WithDetailf("%d bonds exceeds the %d bond limit", len(g.Bonds), MaxBonds)
	}
	for i, a := range g.Atoms {
		if !a.Element.Valid() {
			return ErrInvalidGraph.WithDetailf("atom %d: invalid element %d", i, a.Element)
		}
	}
	n := len(g.Atoms)
	for i, b := range g.Bonds {
		if int(b.A1) >= n || int(b.A2) >= n {
			return ErrInvalidGraph.WithDetailf("bond %d: endpoint out of range (%d-%d, %d atoms)", i, b.A1, b.A2, n)
		}
		if b.A1 == b.A2 {
			return ErrInvalidGraph.WithDetailf("bond %d: self loop on atom %d", i, b.A1)
		}
		if !b.Type.Valid() {
			return ErrInvalidGraph.WithDetailf("bond %d: invalid bond type %d", i, b.Type)
		}
	}
	return nil
}

// Len returns the number of atoms.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Atoms)
}

// Empty reports whether g has no atoms.
func (g *Graph) Empty() bool { return g.Len() == 0 }

// Clone returns a deep copy.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	return &Graph{
		Atoms: append([]Atom(nil), g.Atoms...),
		Bonds: append([]Bond(nil), g.Bonds...),
	}
}

// Elements returns the element of every atom in order.
func (g *Graph) Elements() []mtypes.Element {
	out := make([]mtypes.Element, len(g.Atoms))
	for i, a := range g.Atoms {
		out[i] = a.Element
	}
	return out
}

// Degree returns the number of bonds incident to atom i.
func (g *Graph) Degree(i int) int {
	d := 0
	for _, b := range g.Bonds {
		if int(b.A1) == i || int(b.A2) == i {
			d++
		}
	}
	return d
}

// Neighbors returns the atoms bonded to atom i, in bond order.
func (g *Graph) Neighbors(i int) []int {
	var out []int
	for _, b := range g.Bonds {
		switch i {
		case int(b.A1):
			out = append(out, int(b.A2))
		case int(b.A2):
			out = append(out, int(b.A1))
		}
	}
	return out
}

// FindBond returns the index of the bond joining i and j, or -1.
func (g *Graph) FindBond(i, j int) int {
	for k, b := range g.Bonds {
		if b.Connects(i, j) {
			return k
		}
	}
	return -1
}

// ContainsBondedAtoms reports whether some bond joins an atom of element e1
// with an atom of element e2.
func (g *Graph) ContainsBondedAtoms(e1, e2 mtypes.Element) bool {
	for _, b := range g.Bonds {
		x, y := g.Atoms[b.A1].Element, g.Atoms[b.A2].Element
		if (x == e1 && y == e2) || (x == e2 && y == e1) {
			return true
		}
	}
	return false
}

// Permute returns the graph relabelled so that new atom i is old atom
// perm[i]. perm must be a permutation of [0, Len()).
func (g *Graph) Permute(perm []int) (*Graph, error) {
	n := len(g.Atoms)
	if len(perm) != n {
		return nil, ErrInvalidGraph.WithDetailf("permutation length %d, graph has %d atoms", len(perm), n)
	}
	inverse := make([]int, n)
	for i := range inverse {
		inverse[i] = -1
	}
	out := &Graph{Atoms: make([]Atom, n), Bonds: make([]Bond, len(g.Bonds))}
	for i, old := range perm {
		if old < 0 || old >= n || inverse[old] >= 0 {
			return nil, ErrInvalidGraph.WithDetail(fmt.Sprintf("not a permutation at position %d", i))
		}
		inverse[old] = i
		out.Atoms[i] = g.Atoms[old]
	}
	for k, b := range g.Bonds {
		out.Bonds[k] = Bond{A1: uint8(inverse[b.A1]), A2: uint8(inverse[b.A2]), Type: b.Type}
	}
	return out, nil
}

// WithBondType returns a copy where every bond has type t. Used to compare
// structures while ignoring bond orders.
func (g *Graph) WithBondType(t mtypes.BondType) *Graph {
	c := g.Clone()
	for i := range c.Bonds {
		c.Bonds[i].Type = t
	}
	return c
}

// Connected reports whether every atom is reachable from atom 0. Empty and
// single-atom graphs are connected.
func (g *Graph) Connected() bool {
	n := len(g.Atoms)
	if n <= 1 {
		return true
	}
	seen := make([]bool, n)
	queue := make([]int, 0, n)
	seen[0] = true
	queue = append(queue, 0)
	for head := 0; head < len(queue); head++ {
		for _, nb := range g.Neighbors(queue[head]) {
			if !seen[nb] {
				seen[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	return len(queue) == n
}
