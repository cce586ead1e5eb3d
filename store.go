package snapsync

import (
	"fmt"
	"sync"

	"github.com/aweris/snapsync/internal/compression"
)

// AssetStore is the local, session-scoped map from checksum to resolved
// asset bytes. Entries are immutable once published and verified against
// their checksum on Put, so every hit is known-good content. The store
// never evicts; memory is bounded by session teardown via Clear.
//
// A single store may back multiple sessions (e.g., a host and a worker
// service sharing one process); sessions are isolated partitions.
type AssetStore struct {
	sessions sync.Map // session id -> *sessionAssets
	codec    *compression.Codec
}

type sessionAssets struct {
	objects sync.Map // Checksum -> []byte (possibly compressed)
}

// NewAssetStore creates a store. Compression level <= 0 stores assets raw.
func NewAssetStore(compressionLevel int) (*AssetStore, error) {
	codec, err := compression.New(compressionLevel)
	if err != nil {
		return nil, fmt.Errorf("create codec: %w", err)
	}
	return &AssetStore{codec: codec}, nil
}

func (s *AssetStore) session(id string) *sessionAssets {
	if v, ok := s.sessions.Load(id); ok {
		return v.(*sessionAssets)
	}
	v, _ := s.sessions.LoadOrStore(id, &sessionAssets{})
	return v.(*sessionAssets)
}

// Get returns the asset bytes for sum in the given session, or a miss.
func (s *AssetStore) Get(session string, sum Checksum) ([]byte, bool) {
	v, ok := s.session(session).objects.Load(sum)
	if !ok {
		return nil, false
	}
	return s.codec.Decode(v.([]byte)), true
}

// Has reports whether sum is cached in the given session.
func (s *AssetStore) Has(session string, sum Checksum) bool {
	_, ok := s.session(session).objects.Load(sum)
	return ok
}

// Put stores asset bytes under sum. Put is idempotent: re-storing an
// existing checksum is a no-op. Data hashing to a different checksum than
// sum is a protocol violation and fails with ErrChecksumMismatch without
// storing anything.
func (s *AssetStore) Put(session string, sum Checksum, data []byte) error {
	if actual := ChecksumBytes(data); actual != sum {
		return fmt.Errorf("%w: put %s, content hashes to %s", ErrChecksumMismatch, sum.Short(), actual.Short())
	}

	sess := s.session(session)
	if _, ok := sess.objects.Load(sum); ok {
		return nil
	}
	sess.objects.LoadOrStore(sum, s.codec.Encode(data))
	return nil
}

// Len returns the number of assets cached for a session.
func (s *AssetStore) Len(session string) int {
	count := 0
	s.session(session).objects.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Clear removes every asset belonging to the session. This is the only
// way entries leave the store.
func (s *AssetStore) Clear(session string) {
	s.sessions.Delete(session)
}

// Close releases compression resources.
func (s *AssetStore) Close() error {
	return s.codec.Close()
}
