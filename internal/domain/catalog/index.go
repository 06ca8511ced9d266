// Package catalog keeps the in-memory record index: records ordered by name
// plus two 16-bit permutations ordering them by id and by atoms hash.
//
// An Index is not safe for concurrent mutation. Queries read the
// permutations built by the last Sort; after Add or any other change to the
// records Sort must run again before querying. Queries on a stale index
// return unspecified results.
package catalog

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
)

// MaxRecords is the largest collection the 16-bit permutations address.
const MaxRecords = 65535

var (
	// ErrNotFound is returned by the lookups.
	ErrNotFound = errors.New(errors.ErrCodeMoleculeNotFound, "molecule record not found")

	// ErrTooManyRecords is returned by Sort when the collection exceeds MaxRecords.
	ErrTooManyRecords = errors.New(errors.ErrCodeTooManyRecords, "record count exceeds the 16-bit index")

	// ErrInconsistentOrder is returned by Restore for permutations that do not
	// match the records.
	ErrInconsistentOrder = errors.New(errors.ErrCodeCorruptStore, "index permutation is inconsistent")
)

// LookupObserver is notified of every lookup. kind is "id", "name" or "graph".
type LookupObserver interface {
	ObserveLookup(kind string, found bool)
}

// PayloadLoader fills in the graph of a record whose payload has not been
// read yet.
type PayloadLoader interface {
	LoadPayload(ctx context.Context, r *molecule.Record) error
}

// Index is the RecordIndex.
type Index struct {
	records []*molecule.Record
	byID    []uint16
	byAtoms []uint16

	ids      map[uint64]struct{}
	observer LookupObserver
	loader   PayloadLoader
}

// New returns an index over records, sorted.
func New(records ...*molecule.Record) (*Index, error) {
	idx := &Index{ids: make(map[uint64]struct{}, len(records))}
	idx.Add(records...)
	if err := idx.Sort(); err != nil {
		return nil, err
	}
	return idx, nil
}

// Restore rebuilds an index from records already in name order and their
// persisted permutations. The permutations are checked against the records.
func Restore(records []*molecule.Record, byID, byAtoms []uint16) (*Index, error) {
	n := len(records)
	if n > MaxRecords {
		return nil, ErrTooManyRecords.WithDetailf("%d records", n)
	}
	if len(byID) != n || len(byAtoms) != n {
		return nil, ErrInconsistentOrder.WithDetailf("%d records, %d id entries, %d atoms entries", n, len(byID), len(byAtoms))
	}
	if err := checkPermutation(records, byID, func(r *molecule.Record) uint64 { return r.ID }); err != nil {
		return nil, err.WithDetail("id order")
	}
	if err := checkPermutation(records, byAtoms, func(r *molecule.Record) uint64 { return uint64(r.AtomsHash) }); err != nil {
		return nil, err.WithDetail("atoms hash order")
	}
	idx := &Index{records: records, byID: byID, byAtoms: byAtoms, ids: make(map[uint64]struct{}, n)}
	for _, r := range records {
		idx.ids[r.ID] = struct{}{}
	}
	return idx, nil
}

func checkPermutation(records []*molecule.Record, perm []uint16, key func(*molecule.Record) uint64) *errors.AppError {
	seen := make([]bool, len(records))
	for i, p := range perm {
		if int(p) >= len(records) || seen[p] {
			return ErrInconsistentOrder
		}
		seen[p] = true
		if i > 0 && key(records[perm[i-1]]) > key(records[p]) {
			return ErrInconsistentOrder
		}
	}
	return nil
}

// SetObserver installs o, or removes the observer when o is nil.
func (x *Index) SetObserver(o LookupObserver) {
	x.observer = o
}

// SetPayloadLoader installs l for records loaded without their graph.
// Structure searches skip records whose payload cannot be loaded.
func (x *Index) SetPayloadLoader(l PayloadLoader) {
	x.loader = l
}

func (x *Index) ensurePayload(ctx context.Context, r *molecule.Record) bool {
	if r.HasPayload() {
		return true
	}
	if x.loader == nil {
		return false
	}
	return x.loader.LoadPayload(ctx, r) == nil && r.HasPayload()
}

func (x *Index) observe(kind string, found bool) {
	if x.observer != nil {
		x.observer.ObserveLookup(kind, found)
	}
}

// Len returns the number of records.
func (x *Index) Len() int { return len(x.records) }

// Records returns the records in name order. The slice is shared with the
// index.
func (x *Index) Records() []*molecule.Record { return x.records }

// IDOrder returns the id-sorted permutation.
func (x *Index) IDOrder() []uint16 { return x.byID }

// AtomsOrder returns the atoms-hash-sorted permutation.
func (x *Index) AtomsOrder() []uint16 { return x.byAtoms }

// Sort orders the records by name (ordinal comparison) and rebuilds both
// permutations. Ties keep their current relative order.
func (x *Index) Sort() error {
	n := len(x.records)
	if n > MaxRecords {
		return ErrTooManyRecords.WithDetailf("%d records", n)
	}
	slices.SortStableFunc(x.records, func(a, b *molecule.Record) int {
		return strings.Compare(a.Name, b.Name)
	})

	x.byID = identity(x.byID, n)
	slices.SortStableFunc(x.byID, func(a, b uint16) int {
		return cmp.Compare(x.records[a].ID, x.records[b].ID)
	})
	x.byAtoms = identity(x.byAtoms, n)
	slices.SortStableFunc(x.byAtoms, func(a, b uint16) int {
		return cmp.Compare(x.records[a].AtomsHash, x.records[b].AtomsHash)
	})
	return nil
}

func identity(buf []uint16, n int) []uint16 {
	if cap(buf) < n {
		buf = make([]uint16, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = uint16(i)
	}
	return buf
}

// Add appends records. Sort must be called before the next query.
func (x *Index) Add(records ...*molecule.Record) {
	if x.ids == nil {
		x.ids = make(map[uint64]struct{}, len(records))
	}
	for _, r := range records {
		x.records = append(x.records, r)
		x.ids[r.ID] = struct{}{}
	}
}

// Contains reports whether a record with id has been added, sorted or not.
func (x *Index) Contains(id uint64) bool {
	_, ok := x.ids[id]
	return ok
}

// Remove drops the record with the given id and re-sorts. It reports whether
// a record was removed.
func (x *Index) Remove(id uint64) (bool, error) {
	i := slices.IndexFunc(x.records, func(r *molecule.Record) bool { return r.ID == id })
	if i < 0 {
		return false, nil
	}
	x.records = slices.Delete(x.records, i, i+1)
	delete(x.ids, id)
	return true, x.Sort()
}

// FilterOut drops every record matching pred and re-sorts. It returns the
// number of records dropped.
func (x *Index) FilterOut(pred func(*molecule.Record) bool) (int, error) {
	before := len(x.records)
	x.records = slices.DeleteFunc(x.records, func(r *molecule.Record) bool {
		if pred(r) {
			delete(x.ids, r.ID)
			return true
		}
		return false
	})
	return before - len(x.records), x.Sort()
}

// NewID draws a random id that is neither 0 nor used by a record of the
// index, including records added since the last Sort.
func (x *Index) NewID(rng *rand.Rand) uint64 {
	for {
		id := rng.Uint64()
		if id == 0 {
			continue
		}
		if _, used := x.ids[id]; !used {
			return id
		}
	}
}
