package binstore

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/molident/pkg/errors"
)

// BlobSink receives the streams of a store being saved.
type BlobSink interface {
	Put(ctx context.Context, name string, data []byte) error
}

// BlobSource serves the streams of a saved store. Missing streams are
// reported as ErrBlobNotFound.
type BlobSource interface {
	Get(ctx context.Context, name string) ([]byte, error)
}

// Backend is a store location that can be both written and read.
type Backend interface {
	BlobSink
	BlobSource
}

// DirBackend keeps every stream as a file in one directory.
type DirBackend struct {
	root string
}

// NewDirBackend returns a backend rooted at dir. The directory is created on
// the first Put.
func NewDirBackend(dir string) *DirBackend {
	return &DirBackend{root: dir}
}

// Root returns the directory of the backend.
func (d *DirBackend) Root() string { return d.root }

// Put writes data to a temporary file and renames it into place.
func (d *DirBackend) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.root, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "create store directory")
	}
	f, err := os.CreateTemp(d.root, "."+name+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "create "+name)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrCodeInternal, "write "+name)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrCodeInternal, "close "+name)
	}
	if err := os.Rename(tmp, filepath.Join(d.root, name)); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, errors.ErrCodeInternal, "rename "+name)
	}
	return nil
}

// Get reads the whole stream.
func (d *DirBackend) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.root, name))
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, ErrBlobNotFound.WithDetail(name)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "read "+name)
	}
	return data, nil
}

// Delete removes a stream. Deleting a missing stream is not an error.
func (d *DirBackend) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(d.root, name))
	if err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, errors.ErrCodeInternal, "delete "+name)
	}
	return nil
}

// MemBackend keeps streams in memory. Data is copied in and out.
type MemBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{blobs: make(map[string][]byte)}
}

// Put stores a copy of data.
func (m *MemBackend) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.mu.Lock()
	m.blobs[name] = cp
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the stream.
func (m *MemBackend) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound.WithDetail(name)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Delete removes a stream.
func (m *MemBackend) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

// Names lists the stored streams with the given prefix, sorted.
func (m *MemBackend) Names(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
