package registry

import (
	"context"
	"iter"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// Outcome tells what the importer did with one incoming record.
type Outcome string

const (
	// OutcomeInserted: no duplicate was found and the record was added.
	OutcomeInserted Outcome = "inserted"
	// OutcomeMerged: data was merged into an existing record.
	OutcomeMerged Outcome = "merged"
	// OutcomeRehashed: a merge replaced the payload and the hashes were recomputed.
	OutcomeRehashed Outcome = "rehashed"
	// OutcomeConflict: a duplicate was found but the atoms could not be matched.
	OutcomeConflict Outcome = "conflict"
	// OutcomeRejected: the record could not be hashed.
	OutcomeRejected Outcome = "rejected"
)

// MergeObserver is told the outcome of every imported record.
type MergeObserver interface {
	ObserveMerge(result string)
}

// ImportOptions tunes an Importer.
type ImportOptions struct {
	// Exact compares bond orders when looking for duplicates.
	Exact bool
	// AllowAutofix lets a merge fall back to a bond-order-free atom match.
	AllowAutofix bool
	// CheckValence sets IncorrectValence on records with overloaded atoms.
	CheckValence bool
	// Workers bounds the parallel hashing. Zero means GOMAXPROCS.
	Workers int
	// Checkpoint is the number of records hashed together and processed
	// before the index is sorted again.
	Checkpoint int
	// Flags are set on every incoming record, typically publish flags such
	// as ShowInExplorer.
	Flags mtypes.Flags
}

// DefaultImportOptions returns exact matching with valence checks.
func DefaultImportOptions() ImportOptions {
	return ImportOptions{Exact: true, CheckValence: true, Checkpoint: 1000}
}

// Result reports one processed record.
type Result struct {
	// Source is the incoming record.
	Source *molecule.Record
	// Record is the indexed record: Source itself when inserted, the
	// existing record when merged, nil otherwise.
	Record  *molecule.Record
	Outcome Outcome
	// Err explains a conflict or a rejection.
	Err error
}

// Stats counts outcomes.
type Stats map[Outcome]int

// Total returns the number of processed records.
func (s Stats) Total() int {
	n := 0
	for _, v := range s {
		n += v
	}
	return n
}

// Importer adds records to an index, merging each one into an existing
// record of the same structure when there is one. Records are hashed in
// parallel, one checkpoint at a time; the index is sorted after every
// checkpoint and whenever iteration stops, so it stays queryable even after
// a cancellation.
//
// An Importer is resumable: All may be called again with the rest of the
// input and continues on the same index. It is not safe for concurrent use.
type Importer struct {
	x        *catalog.Index
	opts     ImportOptions
	log      logging.Logger
	observer MergeObserver
	rng      *rand.Rand

	// records added since the last sort, by structure hash
	pending map[uint32][]*molecule.Record
	changed map[uint64]*molecule.Record
	stats   Stats
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithMergeObserver reports outcomes to o.
func WithMergeObserver(o MergeObserver) ImporterOption {
	return func(im *Importer) { im.observer = o }
}

// WithRand sets the source of new record ids.
func WithRand(rng *rand.Rand) ImporterOption {
	return func(im *Importer) { im.rng = rng }
}

// NewImporter returns an importer adding to x.
func NewImporter(x *catalog.Index, opts ImportOptions, log logging.Logger, options ...ImporterOption) *Importer {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Checkpoint <= 0 {
		opts.Checkpoint = DefaultImportOptions().Checkpoint
	}
	im := &Importer{
		x:       x,
		opts:    opts,
		log:     log.Named("importer"),
		pending: make(map[uint32][]*molecule.Record),
		changed: make(map[uint64]*molecule.Record),
		stats:   make(Stats),
	}
	for _, o := range options {
		o(im)
	}
	if im.rng == nil {
		im.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return im
}

// Index returns the index being filled.
func (im *Importer) Index() *catalog.Index { return im.x }

// Stats returns the outcome counts so far.
func (im *Importer) Stats() Stats { return im.stats }

// Changed returns the records inserted or modified so far, in no
// particular order.
func (im *Importer) Changed() []*molecule.Record {
	out := make([]*molecule.Record, 0, len(im.changed))
	for _, r := range im.changed {
		out = append(out, r)
	}
	return out
}

// All imports records and yields one Result per record. A fatal error, such
// as ctx being done or the index outgrowing catalog.MaxRecords, is yielded
// with a nil Result and ends the iteration. Breaking out of the loop is
// allowed; the index is sorted before All returns either way. Records of the
// current checkpoint that were not yielded yet are dropped.
func (im *Importer) All(ctx context.Context, records iter.Seq[*molecule.Record]) iter.Seq2[*Result, error] {
	return func(yield func(*Result, error) bool) {
		batch := make([]*molecule.Record, 0, im.opts.Checkpoint)
		stopped := false

		flush := func() bool {
			defer func() { batch = batch[:0] }()
			hashErrs, err := im.hashBatch(ctx, batch)
			if err != nil {
				yield(nil, err)
				return false
			}
			for i, r := range batch {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return false
				}
				res := im.add(ctx, r, hashErrs[i])
				if !yield(res, nil) {
					return false
				}
			}
			if err := im.checkpoint(); err != nil {
				yield(nil, err)
				return false
			}
			return true
		}

		defer func() {
			if stopped {
				if err := im.checkpoint(); err != nil {
					im.log.Error("failed to sort index after import stopped", logging.Err(err))
				}
			}
		}()

		for r := range records {
			if err := ctx.Err(); err != nil {
				stopped = true
				yield(nil, err)
				return
			}
			batch = append(batch, r)
			if len(batch) == im.opts.Checkpoint && !flush() {
				stopped = true
				return
			}
		}
		if len(batch) > 0 && !flush() {
			stopped = true
		}
	}
}

// Run imports every record and returns the outcome counts.
func (im *Importer) Run(ctx context.Context, records iter.Seq[*molecule.Record]) (Stats, error) {
	for res, err := range im.All(ctx, records) {
		if err != nil {
			return im.stats, err
		}
		if res.Outcome == OutcomeConflict || res.Outcome == OutcomeRejected {
			im.log.Warn("record not imported",
				logging.String("name", res.Source.Name),
				logging.String("outcome", string(res.Outcome)),
				logging.Err(res.Err))
		}
	}
	im.log.Info("import finished",
		logging.Int("inserted", im.stats[OutcomeInserted]),
		logging.Int("merged", im.stats[OutcomeMerged]+im.stats[OutcomeRehashed]),
		logging.Int("conflicts", im.stats[OutcomeConflict]),
		logging.Int("rejected", im.stats[OutcomeRejected]),
		logging.Int("records", im.x.Len()))
	return im.stats, nil
}

// hashBatch prepares and hashes batch in parallel. Per-record failures are
// returned positionally; the error is set only when ctx is done.
func (im *Importer) hashBatch(ctx context.Context, batch []*molecule.Record) ([]error, error) {
	errs := make([]error, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.opts.Workers)
	for i, r := range batch {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			errs[i] = im.prepare(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return errs, ctx.Err()
}

func (im *Importer) prepare(r *molecule.Record) error {
	if !r.HasPayload() {
		return molecule.ErrInvalidGraph.WithDetailf("record %q has no structure", r.Name)
	}
	if err := r.Graph.Validate(); err != nil {
		return err
	}
	r.Name = molecule.UnifiedName(r.Name)
	r.Flags |= im.opts.Flags
	r.SyncPayloadFlags()
	if im.opts.CheckValence {
		r.Flags = r.Flags.Set(mtypes.IncorrectValence, len(r.Graph.ValenceErrors()) > 0)
	}
	ws := canon.Acquire()
	defer canon.Release(ws)
	return ws.HashRecord(r)
}

func (im *Importer) add(ctx context.Context, r *molecule.Record, hashErr error) *Result {
	res := &Result{Source: r}
	defer func() {
		im.stats[res.Outcome]++
		if im.observer != nil {
			im.observer.ObserveMerge(string(res.Outcome))
		}
	}()

	if hashErr != nil {
		res.Outcome, res.Err = OutcomeRejected, hashErr
		return res
	}

	dup := im.findDuplicate(ctx, r)
	if dup == nil {
		if r.ID == 0 || im.x.Contains(r.ID) {
			r.ID = im.x.NewID(im.rng)
		}
		im.x.Add(r)
		h := r.StructureHashFor(im.opts.Exact)
		im.pending[h] = append(im.pending[h], r)
		im.changed[r.ID] = r
		res.Record, res.Outcome = r, OutcomeInserted
		return res
	}

	ws := canon.Acquire()
	defer canon.Release(ws)
	merged, err := molecule.Merge(dup, r, im.opts.AllowAutofix, ws)
	if err != nil {
		res.Outcome, res.Err = OutcomeConflict, err
		return res
	}
	res.Outcome = OutcomeMerged
	if merged.Rehash {
		if err := ws.HashRecord(merged.Record); err != nil {
			res.Outcome, res.Err = OutcomeConflict, err
			return res
		}
		res.Outcome = OutcomeRehashed
	}
	*dup = *merged.Record
	im.changed[dup.ID] = dup
	res.Record = dup
	if merged.Rehash {
		// the atoms order of the index may be stale now
		if err := im.checkpoint(); err != nil {
			res.Err = err
		}
	}
	return res
}

// findDuplicate looks r up among the sorted records, then among the
// records added since the last sort.
func (im *Importer) findDuplicate(ctx context.Context, r *molecule.Record) *molecule.Record {
	h := r.StructureHashFor(im.opts.Exact)
	if h == 0 || h == canon.NotConnectedHash {
		return nil
	}
	if dup, err := im.x.FindByGraph(ctx, r.Graph, im.opts.Exact, mtypes.FlagsNone); err == nil {
		return dup
	}
	candidates := im.pending[h]
	if len(candidates) == 0 {
		return nil
	}
	ws := canon.Acquire()
	defer canon.Release(ws)
	for _, c := range candidates {
		if ws.AreEqual(c, r, im.opts.Exact) {
			return c
		}
	}
	return nil
}

func (im *Importer) checkpoint() error {
	clear(im.pending)
	return im.x.Sort()
}
