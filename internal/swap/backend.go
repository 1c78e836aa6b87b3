package swap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotFound is returned by a BlobStore for unknown keys.
var ErrNotFound = errors.New("swap: blob not found")

// BlobStore is the backing store for swapped tiles.
type BlobStore interface {
	Put(ctx context.Context, key uint64, blob []byte) error
	Get(ctx context.Context, key uint64) ([]byte, error)
	Delete(ctx context.Context, key uint64) error
	Close() error
}

// FileStore keeps blobs in a seekable stream supplied by the host, such as
// a temporary file.
type FileStore struct {
	mu     sync.Mutex
	rws    io.ReadWriteSeeker
	alloc  chunkAllocator
	chunks map[uint64]chunk
}

// NewFileStore wraps rws, which is assumed empty.
func NewFileStore(rws io.ReadWriteSeeker) *FileStore {
	return &FileStore{rws: rws, chunks: make(map[uint64]chunk)}
}

func (f *FileStore) Put(_ context.Context, key uint64, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if old, ok := f.chunks[key]; ok {
		f.alloc.release(old)
		delete(f.chunks, key)
	}
	c := f.alloc.alloc(int64(len(blob)))
	if _, err := f.rws.Seek(c.off, io.SeekStart); err != nil {
		f.alloc.release(c)
		return fmt.Errorf("swap: seek: %w", err)
	}
	if _, err := f.rws.Write(blob); err != nil {
		f.alloc.release(c)
		return fmt.Errorf("swap: write: %w", err)
	}
	f.chunks[key] = c
	return nil
}

func (f *FileStore) Get(_ context.Context, key uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[key]
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := f.rws.Seek(c.off, io.SeekStart); err != nil {
		return nil, fmt.Errorf("swap: seek: %w", err)
	}
	buf := make([]byte, c.size)
	if _, err := io.ReadFull(f.rws, buf); err != nil {
		return nil, fmt.Errorf("swap: read: %w", err)
	}
	return buf, nil
}

func (f *FileStore) Delete(_ context.Context, key uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chunks[key]
	if !ok {
		return ErrNotFound
	}
	f.alloc.release(c)
	delete(f.chunks, key)
	return nil
}

// Usage returns the bytes held by live blobs and the bytes of released
// ranges waiting for reuse.
func (f *FileStore) Usage() (live, free int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks {
		live += c.size
	}
	return live, f.alloc.freeBytes()
}

// Close closes the underlying stream if it is an io.Closer.
func (f *FileStore) Close() error {
	if c, ok := f.rws.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
