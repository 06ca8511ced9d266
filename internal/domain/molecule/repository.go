package molecule

import (
	"context"
	"time"

	"github.com/turtacn/molident/pkg/errors"
	mtypes "github.com/turtacn/molident/pkg/types/molecule"
)

var ErrRecordNotFound = errors.New(errors.ErrCodeMoleculeNotFound, "molecule record not found")

// RecordRepository is the authoring store builds are produced from.
type RecordRepository interface {
	// Save inserts r or replaces the record with the same ID.
	Save(ctx context.Context, r *Record) error
	// SaveAll stores every record in one transaction.
	SaveAll(ctx context.Context, records []*Record) error
	FindByID(ctx context.Context, id uint64) (*Record, error)
	List(ctx context.Context, opts ...QueryOption) ([]*Record, error)
	Delete(ctx context.Context, id uint64) error
	Count(ctx context.Context, opts ...QueryOption) (int64, error)
}

// MaxPageSize bounds a single List call.
const MaxPageSize = 10000

// QueryOptions encapsulates query parameters.
type QueryOptions struct {
	Offset       int
	Limit        int
	NameKeyword  string
	AnyFlags     mtypes.Flags
	UpdatedSince time.Time
}

// QueryOption is a functional option for QueryOptions.
type QueryOption func(*QueryOptions)

// WithPagination sets pagination options. A limit below 1 lists everything.
func WithPagination(offset, limit int) QueryOption {
	return func(o *QueryOptions) {
		if offset < 0 {
			offset = 0
		}
		if limit < 0 {
			limit = 0
		}
		if limit > MaxPageSize {
			limit = MaxPageSize
		}
		o.Offset = offset
		o.Limit = limit
	}
}

// WithNameFilter keeps records whose name contains keyword, ignoring case.
func WithNameFilter(keyword string) QueryOption {
	return func(o *QueryOptions) { o.NameKeyword = keyword }
}

// WithAnyFlags keeps records carrying at least one bit of mask.
func WithAnyFlags(mask mtypes.Flags) QueryOption {
	return func(o *QueryOptions) { o.AnyFlags = mask }
}

// WithUpdatedSince keeps records modified at or after t.
func WithUpdatedSince(t time.Time) QueryOption {
	return func(o *QueryOptions) { o.UpdatedSince = t }
}

// ApplyOptions applies the functional options to create QueryOptions.
func ApplyOptions(opts ...QueryOption) QueryOptions {
	var o QueryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
