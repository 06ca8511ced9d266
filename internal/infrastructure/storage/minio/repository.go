package minio

import (
	"bytes"
	"context"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"

	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/internal/infrastructure/storage/binstore"
	"github.com/turtacn/molident/pkg/errors"
)

// CompressedSuffix is appended to the object key of zstd-compressed blobs.
const CompressedSuffix = ".zst"

const contentType = "application/octet-stream"

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
)

func codecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Name       string
	Size       int64
	ETag       string
	Compressed bool
}

// ObjectStore keeps the streams of one binary database under a key prefix.
// It implements binstore.Backend.
type ObjectStore struct {
	api      MinIOAPI
	bucket   string
	prefix   string
	compress bool
	logger   logging.Logger
}

// StoreOption configures an ObjectStore.
type StoreOption func(*ObjectStore)

// WithCompression stores blobs zstd-compressed under a ".zst" key.
func WithCompression(on bool) StoreOption {
	return func(s *ObjectStore) { s.compress = on }
}

var _ binstore.Backend = (*ObjectStore)(nil)

// NewObjectStore returns a store writing to bucket under prefix.
func NewObjectStore(api MinIOAPI, bucket, prefix string, log logging.Logger, opts ...StoreOption) *ObjectStore {
	if log == nil {
		log = logging.NewNopLogger()
	}
	s := &ObjectStore{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ObjectStore) key(name string) string {
	k := path.Join(s.prefix, name)
	if s.compress {
		k += CompressedSuffix
	}
	return k
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

// Put uploads one stream.
func (s *ObjectStore) Put(ctx context.Context, name string, data []byte) error {
	if s.compress {
		enc, _ := codecs()
		data = enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	key := s.key(name)
	_, err := s.api.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "upload failed: "+key)
	}
	return nil
}

// Get downloads one stream. Missing objects are reported as
// binstore.ErrBlobNotFound.
func (s *ObjectStore) Get(ctx context.Context, name string) ([]byte, error) {
	key := s.key(name)
	obj, err := s.api.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, binstore.ErrBlobNotFound.WithDetail(key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "download failed: "+key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, binstore.ErrBlobNotFound.WithDetail(key)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "download failed: "+key)
	}
	if s.compress {
		_, dec := codecs()
		data, err = dec.DecodeAll(data, nil)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeCorruptStore, "decompress "+key)
		}
	}
	return data, nil
}

// Stat returns the metadata of one stream.
func (s *ObjectStore) Stat(ctx context.Context, name string) (*ObjectInfo, error) {
	key := s.key(name)
	info, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, binstore.ErrBlobNotFound.WithDetail(key)
		}
		return nil, err
	}
	return &ObjectInfo{Name: name, Size: info.Size, ETag: info.ETag, Compressed: s.compress}, nil
}

// Exists reports whether the stream is stored.
func (s *ObjectStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Stat(ctx, name)
	if errors.Is(err, binstore.ErrBlobNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns the stream names stored under the prefix, sorted, without the
// compression suffix.
func (s *ObjectStore) List(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		name = strings.TrimSuffix(name, CompressedSuffix)
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes one stream. Missing streams are not an error.
func (s *ObjectStore) Delete(ctx context.Context, name string) error {
	err := s.api.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// Purge removes every stream of the database.
func (s *ObjectStore) Purge(ctx context.Context) (int, error) {
	names, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if err := s.Delete(ctx, name); err != nil {
			return 0, err
		}
	}
	s.logger.Info("purged database objects", logging.String("prefix", s.prefix), logging.Int("objects", len(names)))
	return len(names), nil
}
