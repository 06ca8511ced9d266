package binstore

import (
	"fmt"
	"math"

	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

const (
	// Buckets is the number of payload streams; a record lives in bucket id % Buckets.
	Buckets = 256

	// IndexBlob names the index stream.
	IndexBlob = "Index"

	// MaxBucketOffset bounds the start offset of a payload inside its bucket.
	MaxBucketOffset = math.MaxUint16

	// MaxStoredAtoms is the largest atom count the one-byte payload header holds.
	MaxStoredAtoms = math.MaxUint8

	quantSteps = math.MaxInt16
	quantPad   = 0.1
)

var (
	// ErrTooManyRecords is returned by Save before anything is written.
	ErrTooManyRecords = catalog.ErrTooManyRecords

	// ErrBucketOverflow is returned when a payload would start past MaxBucketOffset.
	ErrBucketOverflow = errors.New(errors.ErrCodeBucketOverflow, "bucket offset exceeds 16 bits")

	// ErrPayloadTooLarge is returned for graphs the payload header cannot describe.
	ErrPayloadTooLarge = errors.New(errors.ErrCodeBucketOverflow, "payload exceeds the storable atom count")

	// ErrCorruptStore is returned for truncated or inconsistent streams.
	ErrCorruptStore = errors.New(errors.ErrCodeCorruptStore, "binary store is corrupt")

	// ErrTooManyCAS is returned by Save for a record whose CAS list does not
	// fit the one-byte count of the index.
	ErrTooManyCAS = errors.New(errors.ErrCodeInvalidCAS, "too many CAS numbers for one record")

	// ErrBlobNotFound is returned by backends for a missing stream.
	ErrBlobNotFound = errors.New(errors.ErrCodeBlobNotFound, "blob not found")
)

// BucketName returns the stream name of bucket i.
func BucketName(i int) string {
	return fmt.Sprintf("Bucket_%03d", i)
}

// BucketOf returns the bucket holding the payload of the record with id.
func BucketOf(id uint64) int {
	return int(id % Buckets)
}

// MaxStoredCAS is the largest CAS list the one-byte index count holds.
const MaxStoredCAS = math.MaxUint8

// encodeIndex writes the records, already in name order, followed by both
// permutations of x.
func encodeIndex(x *catalog.Index) ([]byte, error) {
	records := x.Records()
	w := &writer{buf: make([]byte, 0, 64*len(records)+4)}
	w.i32(int32(len(records)))
	for _, r := range records {
		w.u32(r.AtomsHash)
		w.u32(r.StructureHash)
		w.u32(r.StructureHashExact)
		w.u16(r.Offset)
		w.u64(r.ID)
		w.str(r.Name)
		w.u16(uint16(r.Flags))
		if r.Flags.Has(mtypes.HasChemicalFormula) {
			w.str(r.Formula)
		}
		if r.Flags.Has(mtypes.HasParticleCharge) {
			w.i8(r.Charge)
		}
		if len(r.CAS) > MaxStoredCAS {
			return nil, ErrTooManyCAS.WithDetailf("record %d has %d", r.ID, len(r.CAS))
		}
		w.u8(uint8(len(r.CAS)))
		for _, c := range r.CAS {
			w.u32(c)
		}
	}
	for _, p := range x.IDOrder() {
		w.u16(p)
	}
	for _, p := range x.AtomsOrder() {
		w.u16(p)
	}
	return w.buf, nil
}

// decodeIndex reads an index stream. Records come back without payloads.
func decodeIndex(buf []byte) (*catalog.Index, error) {
	rd := newReader(buf, 0)
	n := int(rd.i32())
	if rd.err != nil || n < 0 || n > catalog.MaxRecords {
		return nil, ErrCorruptStore.WithDetailf("index: record count %d", n)
	}
	records := make([]*molecule.Record, n)
	for i := range records {
		r := &molecule.Record{}
		r.AtomsHash = rd.u32()
		r.StructureHash = rd.u32()
		r.StructureHashExact = rd.u32()
		r.Offset = rd.u16()
		r.ID = rd.u64()
		r.Name = rd.str()
		r.Flags = mtypes.Flags(rd.u16())
		if r.Flags.Has(mtypes.HasChemicalFormula) {
			r.Formula = rd.str()
		}
		if r.Flags.Has(mtypes.HasParticleCharge) {
			r.Charge = rd.i8()
		}
		if count := int(rd.u8()); count > 0 {
			r.CAS = make([]uint32, count)
			for j := range r.CAS {
				r.CAS[j] = rd.u32()
			}
		}
		if rd.err != nil {
			return nil, ErrCorruptStore.WithDetailf("index: record %d truncated", i)
		}
		records[i] = r
	}
	byID := make([]uint16, n)
	for i := range byID {
		byID[i] = rd.u16()
	}
	byAtoms := make([]uint16, n)
	for i := range byAtoms {
		byAtoms[i] = rd.u16()
	}
	if rd.err != nil {
		return nil, ErrCorruptStore.WithDetail("index: permutations truncated")
	}
	return catalog.Restore(records, byID, byAtoms)
}

// appendPayload writes the graph of r at the end of w. Geometry, charges and
// radicals are written only when r.Flags announces them.
func appendPayload(w *writer, r *molecule.Record) error {
	g := r.Graph
	n := len(g.Atoms)
	if n > MaxStoredAtoms {
		return ErrPayloadTooLarge.WithDetailf("record %d: %d atoms", r.ID, n)
	}
	w.u8(uint8(n))
	for _, a := range g.Atoms {
		w.u8(uint8(a.Element))
	}

	if n > 1 && r.Flags.Has(mtypes.Has3D) {
		writeAxes(w, n, 3, func(i, axis int) float32 { return g.Atoms[i].Position[axis] })
	}
	if n > 1 && r.Flags.Has(mtypes.Has2D) {
		writeAxes(w, n, 2, func(i, axis int) float32 { return g.Atoms[i].Flat[axis] })
	}
	if r.Flags.Has(mtypes.HasAtomCharges) {
		for _, a := range g.Atoms {
			w.i8(a.Charge)
		}
	}
	if r.Flags.Has(mtypes.HasRadicalAtoms) {
		for _, a := range g.Atoms {
			w.i8(a.Radical)
		}
	}
	if n > 1 {
		w.u8(uint8(len(g.Bonds)))
		for _, b := range g.Bonds {
			w.u8(b.A1)
			w.u8(b.A2)
			w.i8(int8(b.Type))
		}
	}
	return nil
}

// writeAxes stores per-atom coordinates. With more than two atoms every axis
// is quantised to int16 against its own scale.
func writeAxes(w *writer, n, dims int, coord func(i, axis int) float32) {
	if n <= 2 {
		for i := 0; i < n; i++ {
			for axis := 0; axis < dims; axis++ {
				w.f32(coord(i, axis))
			}
		}
		return
	}
	var scale [3]float32
	for axis := 0; axis < dims; axis++ {
		var m float32
		for i := 0; i < n; i++ {
			if v := float32(math.Abs(float64(coord(i, axis)))); v > m {
				m = v
			}
		}
		scale[axis] = (m + quantPad) / quantSteps
		w.f32(scale[axis])
	}
	for i := 0; i < n; i++ {
		for axis := 0; axis < dims; axis++ {
			w.i16(int16(coord(i, axis) / scale[axis]))
		}
	}
}

func readAxes(rd *reader, n, dims int, set func(i, axis int, v float32)) {
	if n <= 2 {
		for i := 0; i < n; i++ {
			for axis := 0; axis < dims; axis++ {
				set(i, axis, rd.f32())
			}
		}
		return
	}
	var scale [3]float32
	for axis := 0; axis < dims; axis++ {
		scale[axis] = rd.f32()
	}
	for i := 0; i < n; i++ {
		for axis := 0; axis < dims; axis++ {
			set(i, axis, float32(rd.i16())*scale[axis])
		}
	}
}

// decodePayload reads the graph of r from its bucket stream.
func decodePayload(bucket []byte, r *molecule.Record) (*molecule.Graph, error) {
	rd := newReader(bucket, int(r.Offset))
	n := int(rd.u8())
	g := &molecule.Graph{Atoms: make([]molecule.Atom, n)}
	for i := range g.Atoms {
		g.Atoms[i].Element = mtypes.Element(rd.u8())
	}
	if n > 1 && r.Flags.Has(mtypes.Has3D) {
		readAxes(rd, n, 3, func(i, axis int, v float32) { g.Atoms[i].Position[axis] = v })
	}
	if n > 1 && r.Flags.Has(mtypes.Has2D) {
		readAxes(rd, n, 2, func(i, axis int, v float32) { g.Atoms[i].Flat[axis] = v })
	}
	if r.Flags.Has(mtypes.HasAtomCharges) {
		for i := range g.Atoms {
			g.Atoms[i].Charge = rd.i8()
		}
	}
	if r.Flags.Has(mtypes.HasRadicalAtoms) {
		for i := range g.Atoms {
			g.Atoms[i].Radical = rd.i8()
		}
	}
	if n > 1 {
		g.Bonds = make([]molecule.Bond, rd.u8())
		for i := range g.Bonds {
			g.Bonds[i] = molecule.Bond{A1: rd.u8(), A2: rd.u8(), Type: mtypes.BondType(rd.i8())}
		}
	} else {
		g.Bonds = []molecule.Bond{}
	}
	if rd.err != nil {
		return nil, ErrCorruptStore.WithDetailf("record %d: payload truncated at offset %d", r.ID, r.Offset)
	}
	if err := g.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCorruptStore, fmt.Sprintf("record %d: invalid payload", r.ID))
	}
	return g, nil
}
