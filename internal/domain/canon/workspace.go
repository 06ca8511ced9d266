// Package canon computes canonical structure hashes and atom numberings of
// molecular graphs.
//
// The hash of a graph is invariant under relabeling of its atoms. Atoms are
// refined by neighbourhood hashing, then by "hanging" the graph from every
// atom and hashing the resulting BFS layers. Atoms that remain tied after
// that are genuinely symmetric; the tie is broken by complementing the hash
// of one of them. Ties are always between atoms of the same element. Which one is chosen by the caller-supplied variant, so all
// equally valid numberings of a symmetric graph can be enumerated.
package canon

import (
	"cmp"
	"slices"
	"time"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
)

// NotConnectedHash is the structure hash of a graph whose atoms do not form
// a single connected component.
const NotConnectedHash uint32 = 0xFFFFFFFE

// ErrDisconnected is returned by Canonicalize for graphs with more than one
// connected component. The accompanying Result carries NotConnectedHash.
var ErrDisconnected = errors.New(errors.ErrCodeDisconnectedGraph, "molecular graph is not connected")

// Result is the outcome of one canonicalization.
type Result struct {
	Hash uint32

	// Permutation lists original atom indices in canonical order: atom
	// Permutation[i] of the input sits at canonical position i.
	Permutation []int

	// TotalVariants is the number of equally valid numberings. Variants
	// [0, TotalVariants) select between them.
	TotalVariants int
}

// Observer receives one call per canonicalization.
type Observer interface {
	ObserveCanonicalization(exact bool, elapsed time.Duration, variants int)
}

// Workspace holds the scratch state of the canonicalizer. A Workspace is not
// safe for concurrent use; use one per goroutine or Acquire one from the pool.
type Workspace struct {
	observer Observer

	n      int
	nBonds int

	hash  [molecule.MaxAtoms]uint32
	next  [molecule.MaxAtoms]uint32
	elem  [molecule.MaxAtoms]int
	order [molecule.MaxAtoms]int
	deg   [molecule.MaxAtoms]int

	// adjacency in compressed rows: the neighbours of atom a are
	// adj[adjStart[a]:adjStart[a+1]]
	adjStart [molecule.MaxAtoms + 1]int
	adj      [2 * molecule.MaxBonds]int
	adjSlot  [2 * molecule.MaxBonds]int

	bondA1   [molecule.MaxBonds]int
	bondA2   [molecule.MaxBonds]int
	bondSlot [molecule.MaxBonds]int

	layer     [molecule.MaxAtoms]int
	layerHash [molecule.MaxAtoms]uint32
	queue     [molecule.MaxAtoms]int
}

// NewWorkspace returns an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{}
}

// SetObserver installs o, or removes the current observer when o is nil.
func (w *Workspace) SetObserver(o Observer) {
	w.observer = o
}

// Canonicalize hashes g and computes its canonical numbering. exact selects
// whether bond types take part. variant picks one of the Result.TotalVariants
// numberings; out-of-range values wrap around.
//
// The empty graph hashes to 0. A disconnected graph yields ErrDisconnected
// together with a Result holding NotConnectedHash and no permutation.
func (w *Workspace) Canonicalize(g *molecule.Graph, exact bool, variant int) (Result, error) {
	if err := g.Validate(); err != nil {
		return Result{}, err
	}
	start := time.Now()
	res, err := w.canonicalize(g, exact, variant)
	if w.observer != nil {
		w.observer.ObserveCanonicalization(exact, time.Since(start), res.TotalVariants)
	}
	return res, err
}

func (w *Workspace) canonicalize(g *molecule.Graph, exact bool, variant int) (Result, error) {
	if g.Empty() {
		return Result{Permutation: []int{}, TotalVariants: 1}, nil
	}
	if variant < 0 {
		variant = 0
	}
	w.load(g, exact)

	w.simplePass()
	w.sort()
	w.simplePass()
	w.sort()

	if !w.connected() {
		return Result{Hash: NotConnectedHash, TotalVariants: 1}, ErrDisconnected
	}

	// every round splits at least one class, so n+1 rounds always suffice
	total := 1
	classes := 0
	var hash uint32
	for round := 0; round <= w.n; round++ {
		w.hungPass()
		w.sort()
		hash = w.combine()
		if w.unique() {
			break
		}
		// ties are broken only once hanging stops refining them
		if c := w.classes(); c > classes {
			classes = c
			continue
		}
		target, elem, variants := w.tiedGroup()
		total *= variants
		w.complement(target, elem, variant%variants)
		variant /= variants
		w.sort()
		hash = w.combine()
		classes = w.classes()
	}

	if hash == 0 || hash == NotConnectedHash {
		hash ^= 1
	}
	return Result{
		Hash:          hash,
		Permutation:   slices.Clone(w.order[:w.n]),
		TotalVariants: total,
	}, nil
}

func (w *Workspace) load(g *molecule.Graph, exact bool) {
	n := len(g.Atoms)
	w.n = n
	w.nBonds = len(g.Bonds)

	for i, a := range g.Atoms {
		w.hash[i] = seeds[a.Element]
		w.elem[i] = int(a.Element)
		w.order[i] = i
		w.deg[i] = 0
	}
	for i, b := range g.Bonds {
		slot := bondSlotUnknown
		if exact {
			slot = bondSlotBase + int(b.Type)
		}
		w.bondA1[i], w.bondA2[i], w.bondSlot[i] = int(b.A1), int(b.A2), slot
		w.deg[b.A1]++
		w.deg[b.A2]++
	}

	w.adjStart[0] = 0
	for a := 0; a < n; a++ {
		w.adjStart[a+1] = w.adjStart[a] + w.deg[a]
	}
	// fill pointers, reusing layer as a cursor per atom
	for a := 0; a < n; a++ {
		w.layer[a] = w.adjStart[a]
	}
	for i := 0; i < w.nBonds; i++ {
		a1, a2, slot := w.bondA1[i], w.bondA2[i], w.bondSlot[i]
		w.adj[w.layer[a1]], w.adjSlot[w.layer[a1]] = a2, slot
		w.layer[a1]++
		w.adj[w.layer[a2]], w.adjSlot[w.layer[a2]] = a1, slot
		w.layer[a2]++
	}
}

// simplePass folds every bond and neighbour into the atom hashes. All
// neighbour hashes are read from the previous generation. The element seed
// is added again in every pass.
func (w *Workspace) simplePass() {
	for a := 0; a < w.n; a++ {
		h := w.hash[a]*selfMul + seeds[w.elem[a]]
		for k := w.adjStart[a]; k < w.adjStart[a+1]; k++ {
			h += bondTerm(seeds[w.adjSlot[k]], w.hash[w.adj[k]])
		}
		w.next[a] = h
	}
	copy(w.hash[:w.n], w.next[:w.n])
}

// bondTerm binds the seed of a bond to the hash at its far end. Swapping
// the bond types of two neighbours changes the sum of their terms.
func bondTerm(bondSeed, far uint32) uint32 {
	return (bondSeed*bondMul ^ far) * (bondSeed | 1)
}

// less orders atoms by descending hash, then by ascending element.
func (w *Workspace) less(a, b int) int {
	if c := cmp.Compare(w.hash[b], w.hash[a]); c != 0 {
		return c
	}
	return cmp.Compare(w.elem[a], w.elem[b])
}

// sort orders atoms by less. Ties keep their previous order.
func (w *Workspace) sort() {
	slices.SortStableFunc(w.order[:w.n], w.less)
}

// combine folds the sorted hashes starting from the lowest.
func (w *Workspace) combine() uint32 {
	var h uint32
	for i := w.n - 1; i >= 0; i-- {
		h = h*combineMul + w.hash[w.order[i]]
	}
	return h
}

// classes counts the distinct (hash, element) pairs. Atoms must be sorted.
func (w *Workspace) classes() int {
	c := 0
	for i := 0; i < w.n; i++ {
		if i == 0 || w.less(w.order[i-1], w.order[i]) != 0 {
			c++
		}
	}
	return c
}

// unique reports whether no two atoms of degree other than 1 share both
// hash and element. Terminal atoms cannot break a symmetry and are exempt.
func (w *Workspace) unique() bool {
	_, _, count := w.tiedGroup()
	return count == 1
}

// tiedGroup returns the lowest hash shared by several non-terminal atoms of
// one element, that element and the number of such atoms. count is 1 when
// there is no tie.
func (w *Workspace) tiedGroup() (hash uint32, elem, count int) {
	prev := -1
	for i := w.n - 1; i >= 0; i-- {
		a := w.order[i]
		if w.deg[a] == 1 {
			continue
		}
		if prev >= 0 && w.hash[a] == w.hash[prev] && w.elem[a] == w.elem[prev] {
			hash, elem = w.hash[a], w.elem[a]
			for j := 0; j < w.n; j++ {
				if w.deg[j] != 1 && w.hash[j] == hash && w.elem[j] == elem {
					count++
				}
			}
			return hash, elem, count
		}
		prev = a
	}
	return 0, 0, 1
}

// complement flips the hash of the pick-th non-terminal atom of elem holding
// target, counting in sorted order from the lowest.
func (w *Workspace) complement(target uint32, elem, pick int) {
	for i := w.n - 1; i >= 0; i-- {
		a := w.order[i]
		if w.deg[a] == 1 || w.hash[a] != target || w.elem[a] != elem {
			continue
		}
		if pick == 0 {
			w.hash[a] = ^target
			return
		}
		pick--
	}
}

// hang assigns every atom its BFS distance from root and returns the number
// of layers. Unreached atoms keep layer -1.
func (w *Workspace) hang(root int) int {
	for a := 0; a < w.n; a++ {
		w.layer[a] = -1
	}
	w.layer[root] = 0
	w.queue[0] = root
	head, tail := 0, 1
	layers := 0
	for head < tail {
		a := w.queue[head]
		head++
		l := w.layer[a]
		if l+1 > layers {
			layers = l + 1
		}
		for k := w.adjStart[a]; k < w.adjStart[a+1]; k++ {
			nb := w.adj[k]
			if w.layer[nb] < 0 {
				w.layer[nb] = l + 1
				w.queue[tail] = nb
				tail++
			}
		}
	}
	return layers
}

func (w *Workspace) connected() bool {
	w.hang(0)
	for a := 0; a < w.n; a++ {
		if w.layer[a] < 0 {
			return false
		}
	}
	return true
}

// hungHash hashes the graph as seen from root: the root's own hash, the
// members of every BFS layer and every bond with the layers of its ends. The
// bond seed multiplies the term of its ends so bond types stay attached to
// the atoms they join.
func (w *Workspace) hungHash(root int) uint32 {
	layers := w.hang(root)
	h := w.hash[root]

	for i := 0; i < layers; i++ {
		w.layerHash[i] = seeds[i]
	}
	for a := 0; a < w.n; a++ {
		l := w.layer[a]
		w.layerHash[l] += seeds[l]*layerMul + w.hash[a]*memberMul
	}
	for i := 0; i < layers; i++ {
		h = h*layerFoldMul + w.layerHash[i]
	}

	for i := 0; i < w.nBonds; i++ {
		a1, a2 := w.bondA1[i], w.bondA2[i]
		x := (seeds[w.layer[a1]]*layerMul + w.hash[a1]) ^ (seeds[w.layer[a2]]*layerMul + w.hash[a2])
		bs := seeds[w.bondSlot[i]]
		h += (x*memberMul + bs) * (bs | 1)
	}
	return h
}

// hungPass replaces every hash by its hung hash. All hung hashes of a pass
// are computed from the same generation.
func (w *Workspace) hungPass() {
	for a := 0; a < w.n; a++ {
		w.next[a] = w.hungHash(a)
	}
	copy(w.hash[:w.n], w.next[:w.n])
}
