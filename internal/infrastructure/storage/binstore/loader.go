package binstore

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/molident/internal/domain/catalog"
	"github.com/turtacn/molident/internal/domain/molecule"
	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
)

// Observer is notified after every store operation. op is "save", "load" or
// "load_index"; records is the size of the resulting index.
type Observer interface {
	ObserveStore(op string, records int, elapsed time.Duration, err error)
}

// Store ties a backend to logging, metrics and load deduplication.
type Store struct {
	backend  Backend
	log      logging.Logger
	observer Observer
	include  Include
	lazy     bool

	group singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithObserver installs a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithInclude replaces the publish predicate.
func WithInclude(inc Include) Option {
	return func(s *Store) { s.include = inc }
}

// WithLazyPayloads makes Load read only the index and fetch payloads on
// first use.
func WithLazyPayloads(lazy bool) Option {
	return func(s *Store) { s.lazy = lazy }
}

// NewStore wraps backend.
func NewStore(backend Backend, log logging.Logger, opts ...Option) *Store {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &Store{backend: backend, log: log, include: DefaultInclude}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// Save publishes the records accepted by the store's include predicate. See
// the package-level Save.
func (s *Store) Save(ctx context.Context, records []*molecule.Record) (*catalog.Index, error) {
	return s.SaveWith(ctx, records, s.include)
}

// SaveWith publishes the records accepted by include.
func (s *Store) SaveWith(ctx context.Context, records []*molecule.Record, include Include) (*catalog.Index, error) {
	start := time.Now()
	x, err := Save(ctx, s.backend, records, include)
	n := 0
	if x != nil {
		n = x.Len()
	}
	s.finish("save", n, start, err, logging.Int("input", len(records)))
	return x, err
}

// Load reads the published collection. Concurrent calls share one read and
// receive the same index, which callers must treat as read-only.
func (s *Store) Load(ctx context.Context) (*catalog.Index, error) {
	op := "load"
	if s.lazy {
		op = "load_index"
	}
	// the shared read must not fail because the caller that started it
	// gave up
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(op, func() (interface{}, error) {
		start := time.Now()
		x, err := s.load(shared)
		n := 0
		if x != nil {
			n = x.Len()
		}
		s.finish(op, n, start, err)
		return x, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*catalog.Index), nil
	}
}

func (s *Store) load(ctx context.Context) (*catalog.Index, error) {
	if !s.lazy {
		return Load(ctx, s.backend)
	}
	x, err := LoadIndex(ctx, s.backend)
	if err != nil {
		return nil, err
	}
	x.SetPayloadLoader(NewPayloadReader(s.backend))
	return x, nil
}

func (s *Store) finish(op string, records int, start time.Time, err error, extra ...logging.Field) {
	elapsed := time.Since(start)
	if s.observer != nil {
		s.observer.ObserveStore(op, records, elapsed, err)
	}
	fields := append([]logging.Field{
		logging.String("op", op),
		logging.Int("records", records),
		logging.Duration("elapsed", elapsed),
	}, extra...)
	if err != nil {
		s.log.Error("binary store operation failed", append(fields, logging.Err(err))...)
		return
	}
	s.log.Info("binary store operation completed", fields...)
}
