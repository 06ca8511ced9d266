// Package registry is the application service over the molecule database:
// importing structures with duplicate merging, building and publishing
// binary databases, loading them and answering lookups.
package registry

import (
	"context"
	"iter"
	"sync/atomic"
	"time"

	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/database/redis"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/internal/infrastructure/storage/binstore"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// ErrNoRepository is returned by operations that need an authoring database
// when none is configured.
var ErrNoRepository = errors.New(errors.ErrCodeServiceUnavailable, "no authoring database configured")

// Locker hands out the lock serialising publishes of one database.
type Locker interface {
	NewPublishLock(database string, opts ...redis.LockOption) redis.DistributedLock
}

// ManifestStore records what was published.
type ManifestStore interface {
	Put(ctx context.Context, m redis.Manifest) error
	Get(ctx context.Context, database string) (*redis.Manifest, error)
}

// Metrics receives service-level measurements.
type Metrics interface {
	MergeObserver
	SetRecords(n int)
}

// PublishResult describes a finished publish.
type PublishResult struct {
	Database string
	Records  int
	Checksum uint64
	Index    *catalog.Index
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	Database string
	Records  int
	Checksum uint64
	// HashMismatches lists the records whose stored hashes differ from the
	// ones recomputed from their payload.
	HashMismatches []uint64
	// ManifestChecksum is set when a manifest was found.
	ManifestChecksum *uint64
}

// OK reports whether the store passed every check.
func (r *VerifyReport) OK() bool {
	return len(r.HashMismatches) == 0 && (r.ManifestChecksum == nil || *r.ManifestChecksum == r.Checksum)
}

// Service coordinates the store, the authoring repository and publish
// coordination. Only the store is required.
type Service struct {
	store     *binstore.Store
	repo      molecule.RecordRepository
	locks     Locker
	manifests ManifestStore
	metrics   Metrics
	log       logging.Logger

	database   string
	location   string
	publisher  string
	lockTTL    time.Duration
	lockWait   time.Duration
	importOpts ImportOptions

	current atomic.Pointer[catalog.Index]
}

// Option configures a Service.
type Option func(*Service)

func WithRepository(repo molecule.RecordRepository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithPublishCoordination serialises publishes through locks and records
// them in manifests. Either may be nil.
func WithPublishCoordination(locks Locker, manifests ManifestStore) Option {
	return func(s *Service) { s.locks, s.manifests = locks, manifests }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithDatabase names the published database and where it lives.
func WithDatabase(name, location string) Option {
	return func(s *Service) { s.database, s.location = name, location }
}

func WithPublisher(name string) Option {
	return func(s *Service) { s.publisher = name }
}

// WithLockTiming sets the publish lock lease and how long to wait for it.
func WithLockTiming(ttl, wait time.Duration) Option {
	return func(s *Service) { s.lockTTL, s.lockWait = ttl, wait }
}

func WithImportOptions(opts ImportOptions) Option {
	return func(s *Service) { s.importOpts = opts }
}

// NewService returns a service over store.
func NewService(store *binstore.Store, log logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Service{
		store:      store,
		log:        log.Named("registry"),
		database:   "main",
		lockTTL:    30 * time.Second,
		lockWait:   10 * time.Second,
		importOpts: DefaultImportOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Database returns the name of the published database.
func (s *Service) Database() string { return s.database }

// Load reads the published database and makes it the one lookups use.
func (s *Service) Load(ctx context.Context) (*catalog.Index, error) {
	x, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.setCurrent(x)
	return x, nil
}

func (s *Service) setCurrent(x *catalog.Index) {
	s.current.Store(x)
	if s.metrics != nil {
		x.SetObserver(lookupObserver(s.metrics))
		s.metrics.SetRecords(x.Len())
	}
}

func lookupObserver(m Metrics) catalog.LookupObserver {
	if o, ok := m.(catalog.LookupObserver); ok {
		return o
	}
	return nil
}

func (s *Service) index(ctx context.Context) (*catalog.Index, error) {
	if x := s.current.Load(); x != nil {
		return x, nil
	}
	return s.Load(ctx)
}

// Find looks token up as an id or a name in the published database.
func (s *Service) Find(ctx context.Context, token string) (*molecule.Record, error) {
	x, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	return x.FindByIDOrName(token)
}

// FindStructure returns every published record whose structure equals g.
func (s *Service) FindStructure(ctx context.Context, g *molecule.Graph, exact bool) ([]*molecule.Record, error) {
	x, err := s.index(ctx)
	if err != nil {
		return nil, err
	}
	var out []*molecule.Record
	for r := range x.FindAllByGraph(ctx, g, exact, mtypes.FlagsNone) {
		out = append(out, r)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Import merges records into the authoring repository when one is
// configured, and otherwise into the published database, which is then
// republished. Without a repository the published database is the only copy
// of the records, so the republish keeps every record regardless of the
// store's include predicate. Nothing is written when the import fails.
func (s *Service) Import(ctx context.Context, records iter.Seq[*molecule.Record]) (Stats, error) {
	var (
		existing []*molecule.Record
		err      error
	)
	if s.repo != nil {
		existing, err = s.listAll(ctx)
	} else {
		existing, err = s.loadFull(ctx)
	}
	if err != nil {
		return nil, err
	}
	x, err := catalog.New(existing...)
	if err != nil {
		return nil, err
	}

	var opts []ImporterOption
	if s.metrics != nil {
		opts = append(opts, WithMergeObserver(s.metrics))
	}
	im := NewImporter(x, s.importOpts, s.log, opts...)
	stats, err := im.Run(ctx, records)
	if err != nil {
		return stats, err
	}

	if s.repo != nil {
		if err := s.repo.SaveAll(ctx, im.Changed()); err != nil {
			return stats, err
		}
		return stats, nil
	}
	if _, err := s.publish(ctx, x.Records(), binstore.IncludeAll); err != nil {
		return stats, err
	}
	return stats, nil
}

// loadFull reads the published records with their payloads. A database that
// does not exist yet reads as empty.
func (s *Service) loadFull(ctx context.Context) ([]*molecule.Record, error) {
	x, err := binstore.Load(ctx, s.store.Backend())
	if errors.Is(err, binstore.ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return x.Records(), nil
}

func (s *Service) listAll(ctx context.Context) ([]*molecule.Record, error) {
	var out []*molecule.Record
	for offset := 0; ; offset += molecule.MaxPageSize {
		page, err := s.repo.List(ctx, molecule.WithPagination(offset, molecule.MaxPageSize))
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < molecule.MaxPageSize {
			return out, nil
		}
	}
}

// Build publishes the content of the authoring repository. Records stored
// without hashes are hashed first.
func (s *Service) Build(ctx context.Context) (*PublishResult, error) {
	if s.repo == nil {
		return nil, ErrNoRepository
	}
	records, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	ws := canon.Acquire()
	defer canon.Release(ws)
	for _, r := range records {
		if r.StructureHash != 0 || !r.HasPayload() {
			continue
		}
		if err := ws.HashRecord(r); err != nil {
			return nil, errors.Wrapf(err, errors.ErrCodeInvalidGraph, "record %d", r.ID)
		}
	}
	return s.Publish(ctx, records)
}

// Publish saves the records accepted by the store's include predicate as the
// binary database, holding the publish lock of the database when
// coordination is configured, and records the manifest.
func (s *Service) Publish(ctx context.Context, records []*molecule.Record) (*PublishResult, error) {
	return s.publish(ctx, records, nil)
}

// publish is Publish with an explicit include predicate. nil selects the
// store's own.
func (s *Service) publish(ctx context.Context, records []*molecule.Record, include binstore.Include) (*PublishResult, error) {
	var res *PublishResult
	publish := func(ctx context.Context) error {
		var (
			x   *catalog.Index
			err error
		)
		if include == nil {
			x, err = s.store.Save(ctx, records)
		} else {
			x, err = s.store.SaveWith(ctx, records, include)
		}
		if err != nil {
			return err
		}
		sum, err := binstore.Checksum(ctx, s.store.Backend())
		if err != nil {
			return err
		}
		res = &PublishResult{Database: s.database, Records: x.Len(), Checksum: sum, Index: x}
		if s.manifests != nil {
			err = s.manifests.Put(ctx, redis.Manifest{
				Database:    s.database,
				Location:    s.location,
				Records:     x.Len(),
				Checksum:    sum,
				Publisher:   s.publisher,
				PublishedAt: time.Now(),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if s.locks != nil {
		lock := s.locks.NewPublishLock(s.database,
			redis.WithLockTTL(s.lockTTL),
			redis.WithWatchdog(true),
			redis.WithRetryDelay(100*time.Millisecond),
			redis.WithRetryCount(int(s.lockWait/(100*time.Millisecond))))
		err = redis.WithLock(ctx, lock, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		return nil, err
	}

	s.setCurrent(res.Index)
	s.log.Info("database published",
		logging.String("database", res.Database),
		logging.Int("records", res.Records),
		logging.Uint64("checksum", res.Checksum))
	return res, nil
}

// Verify reloads the published database with its payloads, recomputes every
// record's hashes and compares the store checksum with the manifest.
func (s *Service) Verify(ctx context.Context) (*VerifyReport, error) {
	x, err := binstore.Load(ctx, s.store.Backend())
	if err != nil {
		return nil, err
	}
	sum, err := binstore.Checksum(ctx, s.store.Backend())
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{Database: s.database, Records: x.Len(), Checksum: sum}

	ws := canon.Acquire()
	defer canon.Release(ws)
	for _, r := range x.Records() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fresh := r.Clone()
		err := ws.HashRecord(fresh)
		if err != nil || fresh.AtomsHash != r.AtomsHash ||
			fresh.StructureHash != r.StructureHash || fresh.StructureHashExact != r.StructureHashExact {
			report.HashMismatches = append(report.HashMismatches, r.ID)
		}
	}

	if s.manifests != nil {
		m, err := s.manifests.Get(ctx, s.database)
		switch {
		case err == nil:
			report.ManifestChecksum = &m.Checksum
		case !errors.IsNotFound(err):
			return nil, err
		}
	}
	if !report.OK() {
		s.log.Warn("database verification failed",
			logging.String("database", s.database),
			logging.Int("hash_mismatches", len(report.HashMismatches)))
	}
	return report, nil
}
