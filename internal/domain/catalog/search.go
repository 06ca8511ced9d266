package catalog

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/molecule"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// FindByID returns the record with the given id.
func (x *Index) FindByID(id uint64) (*molecule.Record, error) {
	lo, hi := 0, len(x.byID)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		r := x.records[x.byID[mid]]
		switch {
		case id < r.ID:
			hi = mid
		case id > r.ID:
			lo = mid + 1
		default:
			x.observe("id", true)
			return r, nil
		}
	}
	x.observe("id", false)
	return nil, ErrNotFound.WithDetailf("id %d", id)
}

// FindByName returns the first record, in name order, whose name equals the
// unified form of name.
func (x *Index) FindByName(name string) (*molecule.Record, error) {
	key := molecule.UnifiedName(name)
	lo, hi := 0, len(x.records)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if strings.Compare(x.records[mid].Name, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(x.records) && x.records[lo].Name == key {
		x.observe("name", true)
		return x.records[lo], nil
	}
	x.observe("name", false)
	return nil, ErrNotFound.WithDetailf("name %q", key)
}

// FindByIDOrName looks token up as an id when it parses as one and as a name
// otherwise.
func (x *Index) FindByIDOrName(token string) (*molecule.Record, error) {
	if id, err := strconv.ParseUint(token, 10, 64); err == nil {
		return x.FindByID(id)
	}
	return x.FindByName(token)
}

// atomsRange returns the half-open range of byAtoms holding hash.
func (x *Index) atomsRange(hash uint32) (int, int) {
	lo, hi := 0, len(x.byAtoms)
	center := -1
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		h := x.records[x.byAtoms[mid]].AtomsHash
		if hash < h {
			hi = mid
		} else if hash > h {
			lo = mid + 1
		} else {
			center = mid
			break
		}
	}
	if center < 0 {
		return 0, 0
	}
	start, end := center, center+1
	for start > 0 && x.records[x.byAtoms[start-1]].AtomsHash == hash {
		start--
	}
	for end < len(x.byAtoms) && x.records[x.byAtoms[end]].AtomsHash == hash {
		end++
	}
	return start, end
}

// FindByGraph returns the first record, in atoms-hash order, whose structure
// equals g. Candidates must carry every flag of filter.
func (x *Index) FindByGraph(ctx context.Context, g *molecule.Graph, exact bool, filter mtypes.Flags) (*molecule.Record, error) {
	c := x.Search(g, exact, filter)
	defer c.Close()
	r, ok := c.Next(ctx)
	x.observe("graph", ok)
	if !ok {
		if err := c.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound.WithDetail("no record with this structure")
	}
	return r, nil
}

// FindAllByGraph yields every record whose structure equals g. Iteration
// stops early when ctx is done.
func (x *Index) FindAllByGraph(ctx context.Context, g *molecule.Graph, exact bool, filter mtypes.Flags) iter.Seq[*molecule.Record] {
	return func(yield func(*molecule.Record) bool) {
		c := x.Search(g, exact, filter)
		defer c.Close()
		for {
			r, ok := c.Next(ctx)
			if !ok || !yield(r) {
				return
			}
		}
	}
}

// Cursor is a resumable structure search. Each Next call inspects candidates
// until one matches; the caller may stop between calls and continue later.
type Cursor struct {
	x      *Index
	query  *molecule.Graph
	exact  bool
	filter mtypes.Flags

	pos, end int
	hash     uint32
	hashed   bool
	ws       *canon.Workspace
	err      error
}

// Search starts a structure search for g. Close releases the cursor.
func (x *Index) Search(g *molecule.Graph, exact bool, filter mtypes.Flags) *Cursor {
	c := &Cursor{x: x, query: g, exact: exact, filter: filter}
	if g == nil {
		return c
	}
	c.pos, c.end = x.atomsRange(g.AtomsHash())
	return c
}

// Next returns the next matching record. It returns false when the
// candidates are exhausted or ctx is done; Err tells the two apart.
func (c *Cursor) Next(ctx context.Context) (*molecule.Record, bool) {
	for ; c.pos < c.end; c.pos++ {
		if err := ctx.Err(); err != nil {
			c.err = err
			return nil, false
		}
		r := c.x.records[c.x.byAtoms[c.pos]]
		if !r.Flags.Matches(c.filter) || !c.x.ensurePayload(ctx, r) {
			continue
		}
		if !c.hashed {
			// the query is hashed at most once, on the first surviving candidate
			c.ws = canon.Acquire()
			res, err := c.ws.Canonicalize(c.query, c.exact, 0)
			if err != nil {
				c.pos = c.end
				return nil, false
			}
			c.hash, c.hashed = res.Hash, true
		}
		if r.StructureHashFor(c.exact) != c.hash {
			continue
		}
		if _, ok := c.ws.Match(c.query, r.Graph, c.exact); ok {
			c.pos++
			return r, true
		}
	}
	return nil, false
}

// Err returns the context error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the canonicalizer workspace held by the cursor.
func (c *Cursor) Close() {
	if c.ws != nil {
		canon.Release(c.ws)
		c.ws = nil
	}
}
