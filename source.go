package snapsync

import (
	"context"
	"fmt"
	"sync"
)

// AssetSource resolves checksums the local store has not seen. It is the
// seam to the real transport: implementations may be I/O-bound and must
// honor ctx so a slow fetch never blocks unrelated sessions.
type AssetSource interface {
	// Fetch returns the encoded bytes for sum. A checksum the source
	// cannot resolve is a protocol error reported as ErrAssetNotFound,
	// not a retryable miss.
	Fetch(ctx context.Context, sum Checksum) ([]byte, error)
}

// AssetSink accepts encoded assets keyed by their checksum. Solution
// builders publish through it.
type AssetSink interface {
	// Put stores data and returns its checksum.
	Put(data []byte) (Checksum, error)
}

// SourceFunc adapts a function to the AssetSource interface.
type SourceFunc func(ctx context.Context, sum Checksum) ([]byte, error)

func (f SourceFunc) Fetch(ctx context.Context, sum Checksum) ([]byte, error) {
	return f(ctx, sum)
}

// MemorySource is an in-memory AssetSource and AssetSink. It models the
// host side of the synchronization seam in-process and backs tests and
// the CLI pack path.
type MemorySource struct {
	objects sync.Map // Checksum -> []byte
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Put stores data keyed by its checksum.
func (m *MemorySource) Put(data []byte) (Checksum, error) {
	sum := ChecksumBytes(data)
	m.objects.LoadOrStore(sum, data)
	return sum, nil
}

// Fetch returns the bytes stored for sum.
func (m *MemorySource) Fetch(ctx context.Context, sum Checksum) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.objects.Load(sum)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, sum.Short())
	}
	return v.([]byte), nil
}

// Len returns the number of stored objects.
func (m *MemorySource) Len() int {
	count := 0
	m.objects.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Objects returns a copy of the stored objects, keyed by checksum string.
func (m *MemorySource) Objects() map[string][]byte {
	out := make(map[string][]byte)
	m.objects.Range(func(k, v any) bool {
		out[string(k.(Checksum))] = v.([]byte)
		return true
	})
	return out
}
