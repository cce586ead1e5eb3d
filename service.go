package snapsync

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"
)

// Service is the synchronization entry point. It materializes snapshots by
// checksum, caching shared immutable nodes in a process-wide arena so
// unchanged subtrees are a single instance no matter how many snapshots
// reference them.
type Service struct {
	source   AssetSource
	store    *AssetStore
	branches *BranchTracker

	session     string
	concurrency int
	ownStore    bool

	nodes      sync.Map // Checksum -> *MaterializedNode (shared arena)
	workspaces sync.Map // Checksum -> *Workspace (no-overlay cache)
	flight     singleflight.Group

	updateMu sync.Mutex // serializes primary branch updates
}

// New creates a service resolving missing assets through source.
func New(source AssetSource, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("snapsync: nil asset source")
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	store := options.Store
	ownStore := false
	if store == nil {
		var err error
		store, err = NewAssetStore(options.CompressionLevel)
		if err != nil {
			return nil, err
		}
		ownStore = true
	}

	tracker := options.Tracker
	if tracker == nil {
		tracker = NewBranchTracker()
	}

	return &Service{
		source:      source,
		store:       store,
		branches:    tracker,
		session:     options.Session,
		concurrency: options.Concurrency,
		ownStore:    ownStore,
	}, nil
}

// GetSnapshot returns the workspace for the solution rooted at sum.
//
// With a nil overlay, repeated calls for the same checksum return the
// identical workspace instance. With an overlay, every call returns a
// fresh workspace wrapping the same shared nodes; the overlay never
// propagates into subtrees.
//
// Concurrent calls for the same uncached checksum single-flight: one
// materialization runs and every caller receives its result, so each
// required checksum is fetched at most once.
func (s *Service) GetSnapshot(ctx context.Context, sum Checksum, overlay *Overlay) (*Workspace, error) {
	if !sum.Valid() {
		return nil, fmt.Errorf("%w: malformed root checksum %q", ErrNotCanonical, sum)
	}

	if overlay == nil {
		ws, err := s.sharedWorkspace(ctx, sum)
		if err != nil {
			return nil, err
		}
		s.tagBranch(ws)
		return ws, nil
	}

	root, err := s.materialize(ctx, sum)
	if err != nil {
		return nil, err
	}
	ws := newWorkspace(root, overlay)
	s.tagBranch(ws)
	return ws, nil
}

// UpdatePrimaryBranch designates the snapshot rooted at sum as the primary
// branch: the one mirroring the live host state. The snapshot is
// materialized (or reused) without an overlay, then the tracker's
// (checksum, branch id) pair flips atomically to a freshly minted id.
//
// Updates are totally ordered; concurrent callers serialize. Repeating the
// current primary checksum is a no-op.
func (s *Service) UpdatePrimaryBranch(ctx context.Context, sum Checksum) error {
	if !sum.Valid() {
		return fmt.Errorf("%w: malformed checksum %q", ErrNotCanonical, sum)
	}

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if current, _ := s.branches.Primary(); current == sum {
		return nil
	}

	ws, err := s.sharedWorkspace(ctx, sum)
	if err != nil {
		return err
	}

	ws.setBranch(s.branches.promote(sum))
	return nil
}

// CurrentPrimaryBranchID returns the tracker's primary branch id.
func (s *Service) CurrentPrimaryBranchID() BranchID {
	return s.branches.CurrentPrimaryBranchID()
}

// Session returns the session id scoping this service's asset cache.
func (s *Service) Session() string {
	return s.session
}

// Close tears down the session: cached assets are released. Materialized
// nodes remain valid for workspaces still holding them.
func (s *Service) Close() error {
	s.store.Clear(s.session)
	if s.ownStore {
		return s.store.Close()
	}
	return nil
}

// sharedWorkspace returns the cached no-overlay workspace for sum,
// materializing it on first use. Identity is stable: every caller gets the
// same instance.
func (s *Service) sharedWorkspace(ctx context.Context, sum Checksum) (*Workspace, error) {
	if v, ok := s.workspaces.Load(sum); ok {
		return v.(*Workspace), nil
	}

	root, err := s.materialize(ctx, sum)
	if err != nil {
		return nil, err
	}

	v, _ := s.workspaces.LoadOrStore(sum, newWorkspace(root, nil))
	return v.(*Workspace), nil
}

// materialize resolves sum to its shared materialized node, deduplicating
// concurrent requests per checksum.
//
// The flight body runs on a context detached from the caller: a cancelled
// leader abandons its wait immediately while the in-flight materialization
// completes for the remaining waiters, so follower requests neither
// deadlock nor fail on someone else's cancellation.
func (s *Service) materialize(ctx context.Context, sum Checksum) (*MaterializedNode, error) {
	if v, ok := s.nodes.Load(sum); ok {
		return v.(*MaterializedNode), nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(string(sum), func() (any, error) {
		return s.build(flightCtx, sum)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*MaterializedNode), nil
	}
}

// build loads, validates, and materializes the subtree rooted at sum.
// Failure anywhere aborts the whole build; neither the asset store nor the
// node arena ever holds a partially validated entry.
func (s *Service) build(ctx context.Context, sum Checksum) (*MaterializedNode, error) {
	// A flight for another root may have published the node meanwhile.
	if v, ok := s.nodes.Load(sum); ok {
		return v.(*MaterializedNode), nil
	}

	data, ok := s.store.Get(s.session, sum)
	if !ok {
		fetched, err := s.source.Fetch(ctx, sum)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", sum.Short(), err)
		}
		// Integrity check before anything is cached. A source handing back
		// bytes for the wrong checksum is corruption, not a miss.
		if actual := ChecksumBytes(fetched); actual != sum {
			return nil, fmt.Errorf("%w: fetched %s, content hashes to %s",
				ErrChecksumMismatch, sum.Short(), actual.Short())
		}
		if err := s.store.Put(s.session, sum, fetched); err != nil {
			return nil, err
		}
		data = fetched
	}

	node, err := DecodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", sum.Short(), err)
	}

	children := make([]*MaterializedNode, len(node.Children))
	if len(node.Children) > 0 {
		p := pool.New().WithMaxGoroutines(s.concurrency).WithContext(ctx).WithCancelOnError()
		for i, childSum := range node.Children {
			i, childSum := i, childSum
			p.Go(func(ctx context.Context) error {
				child, err := s.materialize(ctx, childSum)
				if err != nil {
					return err
				}
				children[i] = child
				return nil
			})
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	mat := &MaterializedNode{
		sum:      sum,
		kind:     node.Kind,
		name:     node.Name,
		attrs:    node.Attrs,
		payload:  node.Payload,
		children: children,
	}

	// Re-hash the materialized node before publication. This catches any
	// asymmetry between decode and the canonical encoding.
	verify, err := Compute(mat.snapshotNode())
	if err != nil {
		return nil, err
	}
	if verify != sum {
		return nil, fmt.Errorf("%w: materialized %s re-hashes to %s",
			ErrChecksumMismatch, sum.Short(), verify.Short())
	}

	v, _ := s.nodes.LoadOrStore(sum, mat)
	return v.(*MaterializedNode), nil
}

// tagBranch stamps ws with its branch identity: the primary id when the
// workspace mirrors the tracker's primary checksum, otherwise a non-primary
// id. An existing non-primary id is kept; a stale primary id is replaced.
func (s *Service) tagBranch(ws *Workspace) {
	primarySum, primaryID := s.branches.Primary()
	if ws.RootChecksum() == primarySum {
		ws.setBranch(primaryID)
		return
	}
	if cur := ws.Branch(); cur == "" || cur == primaryID {
		ws.setBranch(newBranchID())
	}
}
