// Package binstore persists a record collection in the bucketed binary
// layout: one index stream holding every record header in name order plus
// the id and atoms-hash permutations, and 256 bucket streams holding the
// graph payloads. A record's payload lives in bucket id % 256 at the 16-bit
// offset stored in its header.
package binstore

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// Include decides which records are published.
type Include func(*molecule.Record) bool

// DefaultInclude publishes records carrying at least one of
// ForceIncludeInBuild, ShowInConstructor or ShowInExplorer.
func DefaultInclude(r *molecule.Record) bool {
	return r.Flags.Any(mtypes.DefaultInclude)
}

// IncludeFlags publishes records carrying at least one bit of mask.
func IncludeFlags(mask mtypes.Flags) Include {
	return func(r *molecule.Record) bool { return r.Flags.Any(mask) }
}

// IncludeAll publishes every record with a payload.
func IncludeAll(*molecule.Record) bool { return true }

const ioParallelism = 16

// Save publishes records to sink. The input is not modified: a working copy
// is filtered (records without a payload or rejected by include are
// dropped), sorted and written. Nothing is written when the filtered
// collection cannot be indexed or encoded. The index stream is written last.
// When a write fails and sink already held a store, the buckets written so
// far are put back so the previous store still loads. The returned index
// holds the working copies with their bucket offsets.
func Save(ctx context.Context, sink BlobSink, records []*molecule.Record, include Include) (*catalog.Index, error) {
	if include == nil {
		include = DefaultInclude
	}
	working := make([]*molecule.Record, 0, len(records))
	for _, r := range records {
		if r == nil || !r.HasPayload() || !include(r) {
			continue
		}
		c := *r
		c.SyncPayloadFlags()
		working = append(working, &c)
	}
	if len(working) > catalog.MaxRecords {
		return nil, ErrTooManyRecords.WithDetailf("%d records to publish", len(working))
	}
	x, err := catalog.New(working...)
	if err != nil {
		return nil, err
	}

	buckets := make([]writer, Buckets)
	for _, r := range x.Records() {
		if err := r.Graph.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidGraph, "record "+r.Name)
		}
		b := &buckets[BucketOf(r.ID)]
		off := b.len()
		if off >= MaxBucketOffset {
			return nil, ErrBucketOverflow.WithDetailf("bucket %d at offset %d, record %d", BucketOf(r.ID), off, r.ID)
		}
		r.Offset = uint16(off)
		if err := appendPayload(b, r); err != nil {
			return nil, err
		}
	}
	index, err := encodeIndex(x)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prev, err := snapshot(ctx, sink)
	if err != nil {
		return nil, err
	}
	if err := writeStreams(ctx, sink, buckets, index); err != nil {
		if prev != nil {
			if rerr := prev.restore(ctx, sink); rerr != nil {
				return nil, errors.Wrap(rerr, errors.ErrCodeCorruptStore, "restore previous buckets after failed save: "+err.Error())
			}
		}
		return nil, err
	}
	return x, nil
}

func writeStreams(ctx context.Context, sink BlobSink, buckets []writer, index []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ioParallelism)
	for i := range buckets {
		name, data := BucketName(i), buckets[i].buf
		g.Go(func() error {
			return sink.Put(gctx, name, data)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return sink.Put(ctx, IndexBlob, index)
}

// previous holds the bucket streams of the store a Save replaces.
type previous struct {
	data [Buckets][]byte
	have [Buckets]bool
}

// snapshot reads the buckets of the store held by sink. It returns nil when
// sink cannot be read back or holds no index.
func snapshot(ctx context.Context, sink BlobSink) (*previous, error) {
	src, ok := sink.(BlobSource)
	if !ok {
		return nil, nil
	}
	_, err := src.Get(ctx, IndexBlob)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p := &previous{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ioParallelism)
	for i := 0; i < Buckets; i++ {
		g.Go(func() error {
			data, err := src.Get(gctx, BucketName(i))
			if errors.Is(err, ErrBlobNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			p.data[i], p.have[i] = data, true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return p, nil
}

// restore writes the saved buckets back. It runs even when ctx is already
// canceled.
func (p *previous) restore(ctx context.Context, sink BlobSink) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(ioParallelism)
	for i := 0; i < Buckets; i++ {
		if !p.have[i] {
			continue
		}
		name, data := BucketName(i), p.data[i]
		g.Go(func() error {
			return sink.Put(gctx, name, data)
		})
	}
	return g.Wait()
}

// LoadIndex reads only the index stream. Records come back without their
// payload; install a PayloadReader to fetch graphs on demand.
func LoadIndex(ctx context.Context, src BlobSource) (*catalog.Index, error) {
	data, err := src.Get(ctx, IndexBlob)
	if err != nil {
		return nil, err
	}
	return decodeIndex(data)
}

// Load reads the index and then every bucket in parallel. A missing or
// corrupt bucket fails the whole load.
func Load(ctx context.Context, src BlobSource) (*catalog.Index, error) {
	x, err := LoadIndex(ctx, src)
	if err != nil {
		return nil, err
	}
	var members [Buckets][]*molecule.Record
	for _, r := range x.Records() {
		b := BucketOf(r.ID)
		members[b] = append(members[b], r)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ioParallelism)
	for i := 0; i < Buckets; i++ {
		name, recs := BucketName(i), members[i]
		g.Go(func() error {
			data, err := src.Get(gctx, name)
			if err != nil {
				return err
			}
			for _, r := range recs {
				graph, err := decodePayload(data, r)
				if err != nil {
					return err
				}
				r.Graph = graph
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return x, nil
}

// PayloadReader loads single payloads from a source, keeping every bucket it
// has fetched. It implements catalog.PayloadLoader and is safe for
// concurrent use.
type PayloadReader struct {
	src   BlobSource
	group singleflight.Group

	mu      sync.RWMutex
	buckets map[int][]byte
}

// NewPayloadReader returns a reader over src.
func NewPayloadReader(src BlobSource) *PayloadReader {
	return &PayloadReader{src: src, buckets: make(map[int][]byte)}
}

// LoadPayload fills r.Graph from the bucket of r.
func (p *PayloadReader) LoadPayload(ctx context.Context, r *molecule.Record) error {
	data, err := p.bucket(ctx, BucketOf(r.ID))
	if err != nil {
		return err
	}
	g, err := decodePayload(data, r)
	if err != nil {
		return err
	}
	r.Graph = g
	return nil
}

// Cached returns the number of buckets fetched so far.
func (p *PayloadReader) Cached() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.buckets)
}

func (p *PayloadReader) bucket(ctx context.Context, i int) ([]byte, error) {
	p.mu.RLock()
	data, ok := p.buckets[i]
	p.mu.RUnlock()
	if ok {
		return data, nil
	}
	name := BucketName(i)
	// the fetch is shared with other callers and outlives a canceled ctx
	v, err, _ := p.group.Do(name, func() (interface{}, error) {
		data, err := p.src.Get(context.WithoutCancel(ctx), name)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.buckets[i] = data
		p.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
