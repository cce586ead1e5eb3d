package snapsync

import "github.com/google/uuid"

// DefaultConcurrency bounds parallel child materialization per node.
const DefaultConcurrency = 4

// DefaultCompressionLevel is the zstd level for locally cached assets.
const DefaultCompressionLevel = 2

// Options configures a Service.
type Options struct {
	// Session scopes the service's asset cache. Defaults to a fresh id.
	Session string

	// Store is a shared asset store. When nil, the service owns a private
	// store created with CompressionLevel.
	Store *AssetStore

	// Tracker is a shared primary-branch cell. When nil, the service owns
	// a private tracker.
	Tracker *BranchTracker

	// Concurrency bounds parallel child materialization.
	Concurrency int

	// CompressionLevel applies to a service-owned store (<= 0 disables).
	CompressionLevel int
}

// Option is a functional option for configuring New.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Session:          uuid.NewString(),
		Concurrency:      DefaultConcurrency,
		CompressionLevel: DefaultCompressionLevel,
	}
}

// WithSession sets the session id scoping the asset cache.
func WithSession(id string) Option {
	return func(o *Options) {
		if id != "" {
			o.Session = id
		}
	}
}

// WithAssetStore shares an asset store between services (e.g., a host and
// worker service in one process).
func WithAssetStore(store *AssetStore) Option {
	return func(o *Options) { o.Store = store }
}

// WithBranchTracker shares a primary-branch cell between services.
func WithBranchTracker(tracker *BranchTracker) Option {
	return func(o *Options) { o.Tracker = tracker }
}

// WithConcurrency sets the number of parallel child materializations.
func WithConcurrency(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithCompression sets the zstd level for a service-owned store.
func WithCompression(level int) Option {
	return func(o *Options) { o.CompressionLevel = level }
}
