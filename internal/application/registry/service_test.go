package registry

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/molident/internal/domain/canon"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/database/redis"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/internal/infrastructure/storage/binstore"
	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

// memRepository is an in-memory molecule.RecordRepository.
type memRepository struct {
	mu      sync.Mutex
	records map[uint64]*molecule.Record
	saves   int
}

func newMemRepository(records ...*molecule.Record) *memRepository {
	m := &memRepository{records: make(map[uint64]*molecule.Record)}
	for _, r := range records {
		m.records[r.ID] = r.Clone()
	}
	return m
}

func (m *memRepository) Save(_ context.Context, r *molecule.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r.Clone()
	return nil
}

func (m *memRepository) SaveAll(ctx context.Context, records []*molecule.Record) error {
	m.mu.Lock()
	m.saves++
	m.mu.Unlock()
	for _, r := range records {
		if err := m.Save(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *memRepository) FindByID(_ context.Context, id uint64) (*molecule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, molecule.ErrRecordNotFound
	}
	return r.Clone(), nil
}

func (m *memRepository) List(_ context.Context, opts ...molecule.QueryOption) ([]*molecule.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := molecule.ApplyOptions(opts...)
	ids := make([]uint64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	if q.Offset >= len(ids) {
		return nil, nil
	}
	ids = ids[q.Offset:]
	if q.Limit > 0 && q.Limit < len(ids) {
		ids = ids[:q.Limit]
	}
	out := make([]*molecule.Record, len(ids))
	for i, id := range ids {
		out[i] = m.records[id].Clone()
	}
	return out, nil
}

func (m *memRepository) Delete(_ context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memRepository) Count(_ context.Context, _ ...molecule.QueryOption) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.records)), nil
}

type fakeMetrics struct {
	recordingMerges
	records []int
	lookups int
}

func (f *fakeMetrics) SetRecords(n int)          { f.records = append(f.records, n) }
func (f *fakeMetrics) ObserveLookup(string, bool) { f.lookups++ }

type ServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	backend *binstore.MemBackend
	store   *binstore.Store
	mr      *miniredis.Miniredis
	client  *redis.Client
}

func (s *ServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = binstore.NewMemBackend()
	s.store = binstore.NewStore(s.backend, nil, binstore.WithInclude(binstore.IncludeAll))

	s.mr = miniredis.RunT(s.T())
	client, err := redis.NewClient(&redis.RedisConfig{Addr: s.mr.Addr()}, logging.NewNopLogger())
	s.Require().NoError(err)
	s.client = client
}

func (s *ServiceTestSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *ServiceTestSuite) coordinated(opts ...Option) *Service {
	opts = append([]Option{
		WithPublishCoordination(redis.NewLockFactory(s.client, nil), redis.NewManifestRegistry(s.client, nil)),
		WithDatabase("organics", "mem://organics"),
		WithPublisher("test"),
	}, opts...)
	return NewService(s.store, nil, opts...)
}

func (s *ServiceTestSuite) TestImportPublishesLocally() {
	t := s.T()
	metrics := &fakeMetrics{}
	svc := NewService(s.store, nil, WithMetrics(metrics))

	stats, err := svc.Import(s.ctx, slices.Values([]*molecule.Record{water(t, mtypes.Has3D), ethanol(t)}))
	s.Require().NoError(err)
	s.Equal(2, stats[OutcomeInserted])

	r, err := svc.Find(s.ctx, "Water")
	s.Require().NoError(err)
	s.True(r.HasPayload())

	// a second import merges into the published records
	stats, err = svc.Import(s.ctx, slices.Values([]*molecule.Record{water2D(t, 11)}))
	s.Require().NoError(err)
	s.Equal(1, stats[OutcomeMerged])

	x, err := NewService(s.store, nil).Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, x.Len())
	reloaded, err := x.FindByName("water")
	s.Require().NoError(err)
	s.True(reloaded.Flags.Has(mtypes.Has2D | mtypes.Has3D))
	s.Equal(reloaded.ID, r.ID)

	s.Equal([]string{"inserted", "inserted", "merged"}, metrics.outcomes)
	s.Equal([]int{2, 2}, metrics.records)
	s.Positive(metrics.lookups)
}

func (s *ServiceTestSuite) TestImportLocallyKeepsUnflaggedRecords() {
	t := s.T()
	store := binstore.NewStore(s.backend, nil)
	svc := NewService(store, nil)

	_, err := svc.Import(s.ctx, slices.Values([]*molecule.Record{water(t, 0)}))
	s.Require().NoError(err)
	_, err = svc.Import(s.ctx, slices.Values([]*molecule.Record{ethanol(t)}))
	s.Require().NoError(err)

	x, err := NewService(store, nil).Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, x.Len())
	_, err = x.FindByName("water")
	s.NoError(err)

	// an explicit publish still applies the store's predicate
	res, err := svc.Publish(s.ctx, x.Records())
	s.Require().NoError(err)
	s.Zero(res.Records)
}

func (s *ServiceTestSuite) TestImportOversizedRecordKeepsDatabase() {
	t := s.T()
	svc := NewService(s.store, nil)
	_, err := svc.Import(s.ctx, slices.Values([]*molecule.Record{water(t, 0)}))
	s.Require().NoError(err)

	symbols := make([]string, molecule.MaxAtoms)
	var bonds []molecule.Bond
	for i := range symbols {
		symbols[i] = "C"
		if i > 0 {
			bonds = append(bonds, bond(uint8(i-1), uint8(i), mtypes.BondSingle))
		}
	}
	big := newRecord(t, "polyyne", 0, symbols, bonds...)

	_, err = svc.Import(s.ctx, slices.Values([]*molecule.Record{big}))
	s.ErrorIs(err, binstore.ErrPayloadTooLarge)

	x, err := NewService(s.store, nil).Load(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, x.Len())
	_, err = x.FindByName("water")
	s.NoError(err)
}

func (s *ServiceTestSuite) TestFindStructure() {
	t := s.T()
	svc := NewService(s.store, nil)
	_, err := svc.Import(s.ctx, slices.Values([]*molecule.Record{water(t, 0), ethanol(t)}))
	s.Require().NoError(err)

	query := ethanol(t)
	query.Shuffle(randFor(3))
	found, err := svc.FindStructure(s.ctx, query.Graph, true)
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("Ethanol", found[0].Name)

	found, err = svc.FindStructure(s.ctx, hcn(t, mtypes.BondTriple, 0).Graph, true)
	s.Require().NoError(err)
	s.Empty(found)
}

func (s *ServiceTestSuite) TestFindWithoutDatabase() {
	_, err := NewService(s.store, nil).Find(s.ctx, "water")
	s.True(errors.Is(err, binstore.ErrBlobNotFound))
}

func (s *ServiceTestSuite) TestPublishWritesManifest() {
	t := s.T()
	svc := s.coordinated()
	res, err := svc.Publish(s.ctx, []*molecule.Record{hashed(t, water(t, 0)), hashed(t, ethanol(t))})
	s.Require().NoError(err)
	s.Equal(2, res.Records)
	s.Equal("organics", res.Database)

	sum, err := binstore.Checksum(s.ctx, s.backend)
	s.Require().NoError(err)
	s.Equal(sum, res.Checksum)

	m, err := redis.NewManifestRegistry(s.client, nil).Get(s.ctx, "organics")
	s.Require().NoError(err)
	s.Equal(res.Checksum, m.Checksum)
	s.Equal(2, m.Records)
	s.Equal("mem://organics", m.Location)
	s.Equal("test", m.Publisher)

	s.False(s.mr.Exists("molident:lock:publish:organics"), "lock released")
}

func (s *ServiceTestSuite) TestPublishWaitsForLock() {
	t := s.T()
	other := redis.NewLockFactory(s.client, nil).NewPublishLock("organics", redis.WithLockTTL(time.Minute))
	ok, err := other.TryLock(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok)

	svc := s.coordinated(WithLockTiming(time.Second, 0))
	_, err = svc.Publish(s.ctx, []*molecule.Record{hashed(t, water(t, 0))})
	s.True(errors.Is(err, redis.ErrLockNotAcquired))
	_, err = s.backend.Get(s.ctx, binstore.IndexBlob)
	s.True(errors.Is(err, binstore.ErrBlobNotFound), "nothing written without the lock")

	s.Require().NoError(other.Unlock(s.ctx))
	_, err = svc.Publish(s.ctx, []*molecule.Record{hashed(t, water(t, 0))})
	s.NoError(err)
}

func (s *ServiceTestSuite) TestBuildFromRepository() {
	t := s.T()
	w := water(t, mtypes.ShowInExplorer)
	w.ID, w.Name = 1, "Water"
	e := ethanol(t)
	e.ID, e.Name = 2, "Ethanol"
	repo := newMemRepository(w, e)

	svc := s.coordinated(WithRepository(repo))
	res, err := svc.Build(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, res.Records)

	report, err := svc.Verify(s.ctx)
	s.Require().NoError(err)
	s.True(report.OK())
	s.Equal(2, report.Records)
	s.Require().NotNil(report.ManifestChecksum)
	s.Equal(res.Checksum, *report.ManifestChecksum)
}

func (s *ServiceTestSuite) TestBuildWithoutRepository() {
	_, err := NewService(s.store, nil).Build(s.ctx)
	s.True(errors.Is(err, ErrNoRepository))
}

func (s *ServiceTestSuite) TestImportIntoRepository() {
	t := s.T()
	existing := hashed(t, water(t, mtypes.Has3D))
	existing.ID, existing.Name = 9, "Water"
	repo := newMemRepository(existing)
	svc := NewService(s.store, nil, WithRepository(repo))

	stats, err := svc.Import(s.ctx, slices.Values([]*molecule.Record{water2D(t, 1), ethanol(t)}))
	s.Require().NoError(err)
	s.Equal(1, stats[OutcomeMerged])
	s.Equal(1, stats[OutcomeInserted])
	s.Equal(1, repo.saves)

	n, err := repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), n)
	merged, err := repo.FindByID(s.ctx, 9)
	s.Require().NoError(err)
	s.True(merged.Flags.Has(mtypes.Has2D))
	s.Equal([]uint32{1000}, merged.CAS)

	_, err = s.backend.Get(s.ctx, binstore.IndexBlob)
	s.True(errors.Is(err, binstore.ErrBlobNotFound), "repository imports do not publish")
}

func (s *ServiceTestSuite) TestImportCanceledWritesNothing() {
	t := s.T()
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := NewService(s.store, nil).Import(ctx, slices.Values([]*molecule.Record{water(t, 0)}))
	s.ErrorIs(err, context.Canceled)
	_, err = s.backend.Get(s.ctx, binstore.IndexBlob)
	s.True(errors.Is(err, binstore.ErrBlobNotFound))
}

func (s *ServiceTestSuite) TestVerifyDetectsDamage() {
	t := s.T()
	w := hashed(t, water(t, 0))
	w.ID = 5
	w.StructureHash ^= 0x10
	_, err := binstore.Save(s.ctx, s.backend, []*molecule.Record{w, hashed(t, ethanol(t))}, binstore.IncludeAll)
	s.Require().NoError(err)

	manifests := redis.NewManifestRegistry(s.client, nil)
	s.Require().NoError(manifests.Put(s.ctx, redis.Manifest{Database: "organics", Checksum: 1, PublishedAt: time.Now()}))

	report, err := s.coordinated().Verify(s.ctx)
	s.Require().NoError(err)
	s.False(report.OK())
	s.Equal([]uint64{5}, report.HashMismatches)
	s.Equal(uint64(1), *report.ManifestChecksum)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func hashed(t *testing.T, r *molecule.Record) *molecule.Record {
	t.Helper()
	require.NoError(t, canon.HashRecord(r))
	if r.ID == 0 {
		r.ID = randFor(uint64(len(r.Graph.Atoms))).Uint64()
	}
	return r
}

func TestVerifyReport_OK(t *testing.T) {
	sum := uint64(7)
	assert.True(t, (&VerifyReport{Checksum: 7}).OK())
	assert.True(t, (&VerifyReport{Checksum: 7, ManifestChecksum: &sum}).OK())
	assert.False(t, (&VerifyReport{Checksum: 8, ManifestChecksum: &sum}).OK())
	assert.False(t, (&VerifyReport{HashMismatches: []uint64{1}}).OK())
}
