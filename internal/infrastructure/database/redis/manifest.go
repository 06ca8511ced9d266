package redis

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/pkg/errors"
)

var ErrManifestNotFound = errors.New(errors.ErrCodeNotFound, "database manifest not found")

// Manifest describes the last publish of a binary database.
type Manifest struct {
	Database    string
	Location    string
	Records     int
	Checksum    uint64
	Publisher   string
	PublishedAt time.Time
}

// ManifestRegistry keeps one manifest per database in a redis hash, plus a
// set of every database name.
type ManifestRegistry struct {
	client *Client
	logger logging.Logger
}

func NewManifestRegistry(client *Client, log logging.Logger) *ManifestRegistry {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ManifestRegistry{client: client, logger: log}
}

func (r *ManifestRegistry) key(database string) string {
	return r.client.Key("manifest", database)
}

func (r *ManifestRegistry) setKey() string {
	return r.client.Key("databases")
}

// Put records m, replacing the previous manifest of the same database.
func (r *ManifestRegistry) Put(ctx context.Context, m Manifest) error {
	if m.Database == "" {
		return errors.New(errors.ErrCodeValidation, "manifest without database name")
	}
	key := r.key(m.Database)
	err := r.client.transaction(ctx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, map[string]interface{}{
			"database":     m.Database,
			"location":     m.Location,
			"records":      m.Records,
			"checksum":     strconv.FormatUint(m.Checksum, 16),
			"publisher":    m.Publisher,
			"published_at": m.PublishedAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.SAdd(ctx, r.setKey(), m.Database)
	})
	if errors.Is(err, ErrClientClosed) {
		return err
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to store manifest")
	}
	r.logger.Debug("manifest stored", logging.String("database", m.Database), logging.Int("records", m.Records))
	return nil
}

// Get returns the manifest of database.
func (r *ManifestRegistry) Get(ctx context.Context, database string) (*Manifest, error) {
	fields, err := r.client.hashFields(ctx, r.key(database))
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read manifest")
	}
	if len(fields) == 0 {
		return nil, ErrManifestNotFound.WithDetail(database)
	}
	m := &Manifest{
		Database:  fields["database"],
		Location:  fields["location"],
		Publisher: fields["publisher"],
	}
	if m.Records, err = strconv.Atoi(fields["records"]); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "manifest records")
	}
	if m.Checksum, err = strconv.ParseUint(fields["checksum"], 16, 64); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "manifest checksum")
	}
	if m.PublishedAt, err = time.Parse(time.RFC3339Nano, fields["published_at"]); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "manifest timestamp")
	}
	return m, nil
}

// List returns the names of every database with a manifest, sorted.
func (r *ManifestRegistry) List(ctx context.Context) ([]string, error) {
	names, err := r.client.setMembers(ctx, r.setKey())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to list databases")
	}
	sort.Strings(names)
	return names, nil
}

// Delete forgets database.
func (r *ManifestRegistry) Delete(ctx context.Context, database string) error {
	return r.client.transaction(ctx, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, r.key(database))
		pipe.SRem(ctx, r.setKey(), database)
	})
}
