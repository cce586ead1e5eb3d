package snapsync_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/snapsync"
)

// buildTestSolution publishes a two-project solution into a fresh in-memory
// source and returns it with the root checksum.
func buildTestSolution(t *testing.T) (*snapsync.MemorySource, snapsync.Checksum) {
	t.Helper()

	src := snapsync.NewMemorySource()
	builder := snapsync.NewSolution().SetName("app").SetOption("strict", "false")

	builder.AddProject("core").
		SetMeta("lang", "go").
		AddDocument("main.go", []byte("package main\n")).
		AddDocument("util.go", []byte("package main\n\nfunc helper() {}\n"))

	builder.AddProject("cli").
		AddDocument("cmd.go", []byte("package cli\n"))

	root, err := builder.Build(src)
	require.NoError(t, err)
	return src, root
}

// countingSource records how many times each checksum is fetched.
type countingSource struct {
	inner snapsync.AssetSource

	mu     sync.Mutex
	counts map[snapsync.Checksum]int
}

func newCountingSource(inner snapsync.AssetSource) *countingSource {
	return &countingSource{inner: inner, counts: make(map[snapsync.Checksum]int)}
}

func (c *countingSource) Fetch(ctx context.Context, sum snapsync.Checksum) ([]byte, error) {
	c.mu.Lock()
	c.counts[sum]++
	c.mu.Unlock()
	return c.inner.Fetch(ctx, sum)
}

func (c *countingSource) fetchCounts() map[snapsync.Checksum]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[snapsync.Checksum]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func TestGetSnapshot_IdentityReuse(t *testing.T) {
	src, root := buildTestSolution(t)

	svc, err := snapsync.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()

	ws1, err := svc.GetSnapshot(ctx, root, nil)
	require.NoError(t, err)
	ws2, err := svc.GetSnapshot(ctx, root, nil)
	require.NoError(t, err)

	require.Same(t, ws1, ws2)
	assert.Equal(t, root, ws1.RootChecksum())
}

func TestGetSnapshot_MaterializesTree(t *testing.T) {
	src, root := buildTestSolution(t)

	svc, err := snapsync.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ws, err := svc.GetSnapshot(context.Background(), root, nil)
	require.NoError(t, err)

	projects := ws.Projects()
	require.Len(t, projects, 2)
	assert.Equal(t, "core", projects[0].Name())
	assert.Equal(t, "cli", projects[1].Name())

	lang, ok := projects[0].Attr("lang")
	require.True(t, ok)
	assert.Equal(t, "go", lang)

	docs := projects[0].Children()
	require.Len(t, docs, 2)
	assert.Equal(t, "main.go", docs[0].Name())
	assert.Equal(t, []byte("package main\n"), docs[0].Payload())

	strict, ok := ws.Option("strict")
	require.True(t, ok)
	assert.Equal(t, "false", strict)
}

func TestGetSnapshot_OverlayIsolation(t *testing.T) {
	src, root := buildTestSolution(t)

	svc, err := snapsync.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()

	wsA, err := svc.GetSnapshot(ctx, root, snapsync.NewOverlay().Set("strict", "true"))
	require.NoError(t, err)
	wsB, err := svc.GetSnapshot(ctx, root, snapsync.NewOverlay().Set("strict", "false"))
	require.NoError(t, err)

	// Distinct workspaces over the same content.
	require.NotSame(t, wsA, wsB)
	assert.Equal(t, wsA.RootChecksum(), wsB.RootChecksum())

	// Unchanged subtrees are the identical shared instances.
	require.Same(t, wsA.Projects()[0], wsB.Projects()[0])
	require.Same(t, wsA.Root(), wsB.Root())

	strictA, _ := wsA.Option("strict")
	strictB, _ := wsB.Option("strict")
	assert.Equal(t, "true", strictA)
	assert.Equal(t, "false", strictB)

	// Mutating one overlay's options is invisible elsewhere.
	wsA.SetOption("strict", "changed")
	strictB, _ = wsB.Option("strict")
	assert.Equal(t, "false", strictB)

	base, err := svc.GetSnapshot(ctx, root, nil)
	require.NoError(t, err)
	strictBase, _ := base.Option("strict")
	assert.Equal(t, "false", strictBase)
}

func TestGetSnapshot_StructuralSharingAcrossRoots(t *testing.T) {
	src := snapsync.NewMemorySource()
	shared := []byte("package shared\n")

	b1 := snapsync.NewSolution()
	b1.AddProject("core").AddDocument("shared.go", shared)
	root1, err := b1.Build(src)
	require.NoError(t, err)

	b2 := snapsync.NewSolution()
	p := b2.AddProject("core")
	p.AddDocument("shared.go", shared)
	p.AddDocument("extra.go", []byte("package extra\n"))
	root2, err := b2.Build(src)
	require.NoError(t, err)
	require.NotEqual(t, root1, root2)

	svc, err := snapsync.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()

	ws1, err := svc.GetSnapshot(ctx, root1, nil)
	require.NoError(t, err)
	ws2, err := svc.GetSnapshot(ctx, root2, nil)
	require.NoError(t, err)

	doc1 := ws1.Projects()[0].Children()[0]
	doc2 := ws2.Projects()[0].Children()[0]
	require.Equal(t, doc1.Checksum(), doc2.Checksum())

	// Same checksum, same instance, even across unrelated roots.
	require.Same(t, doc1, doc2)
}

func TestGetSnapshot_SingleFlight(t *testing.T) {
	src, root := buildTestSolution(t)
	counting := newCountingSource(src)

	svc, err := snapsync.New(counting)
	require.NoError(t, err)
	defer svc.Close()

	const callers = 16
	var wg sync.WaitGroup
	results := make([]*snapsync.Workspace, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.GetSnapshot(context.Background(), root, nil)
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i])
	}

	for sum, count := range counting.fetchCounts() {
		assert.Equal(t, 1, count, "checksum %s fetched %d times", sum.Short(), count)
	}
}

func TestGetSnapshot_SecondServiceUsesSharedStore(t *testing.T) {
	src, root := buildTestSolution(t)
	store, err := snapsync.NewAssetStore(0)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	svc1, err := snapsync.New(src, snapsync.WithAssetStore(store), snapsync.WithSession("shared"))
	require.NoError(t, err)
	_, err = svc1.GetSnapshot(ctx, root, nil)
	require.NoError(t, err)

	// A second service on the same session resolves everything locally.
	counting := newCountingSource(src)
	svc2, err := snapsync.New(counting, snapsync.WithAssetStore(store), snapsync.WithSession("shared"))
	require.NoError(t, err)

	_, err = svc2.GetSnapshot(ctx, root, nil)
	require.NoError(t, err)
	assert.Empty(t, counting.fetchCounts())
}

func TestGetSnapshot_Corruption(t *testing.T) {
	src, root := buildTestSolution(t)
	store, err := snapsync.NewAssetStore(0)
	require.NoError(t, err)
	defer store.Close()

	// Serve the wrong bytes for every checksum.
	corrupt := snapsync.SourceFunc(func(ctx context.Context, sum snapsync.Checksum) ([]byte, error) {
		data, err := src.Fetch(ctx, sum)
		if err != nil {
			return nil, err
		}
		corrupted := append([]byte(nil), data...)
		return append(corrupted, '!'), nil
	})

	svc, err := snapsync.New(corrupt, snapsync.WithAssetStore(store), snapsync.WithSession("s"))
	require.NoError(t, err)

	_, err = svc.GetSnapshot(context.Background(), root, nil)
	require.ErrorIs(t, err, snapsync.ErrChecksumMismatch)

	// Nothing was cached for the corrupted request.
	assert.Equal(t, 0, store.Len("s"))

	// A later request through an honest source succeeds from scratch.
	honest, err := snapsync.New(src, snapsync.WithAssetStore(store), snapsync.WithSession("s"))
	require.NoError(t, err)
	ws, err := honest.GetSnapshot(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, root, ws.RootChecksum())
}

func TestGetSnapshot_AssetNotFound(t *testing.T) {
	empty := snapsync.NewMemorySource()
	_, root := buildTestSolution(t)

	svc, err := snapsync.New(empty)
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.GetSnapshot(context.Background(), root, nil)
	require.ErrorIs(t, err, snapsync.ErrAssetNotFound)
}

func TestGetSnapshot_MalformedChecksum(t *testing.T) {
	svc, err := snapsync.New(snapsync.NewMemorySource())
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.GetSnapshot(context.Background(), "not-a-checksum", nil)
	require.ErrorIs(t, err, snapsync.ErrNotCanonical)
}

func TestGetSnapshot_Cancellation(t *testing.T) {
	src, root := buildTestSolution(t)

	release := make(chan struct{})
	slow := snapsync.SourceFunc(func(ctx context.Context, sum snapsync.Checksum) ([]byte, error) {
		select {
		case <-release:
			return src.Fetch(ctx, sum)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	svc, err := snapsync.New(slow)
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = svc.GetSnapshot(ctx, root, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The in-flight materialization survives the cancelled caller; once the
	// source unblocks, later callers get the finished result.
	close(release)
	require.Eventually(t, func() bool {
		_, err := svc.GetSnapshot(context.Background(), root, nil)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBranchSemantics(t *testing.T) {
	src := snapsync.NewMemorySource()

	b1 := snapsync.NewSolution()
	b1.AddProject("core").AddDocument("a.go", []byte("package a\n"))
	c1, err := b1.Build(src)
	require.NoError(t, err)

	b2 := snapsync.NewSolution()
	b2.AddProject("core").AddDocument("b.go", []byte("package b\n"))
	c2, err := b2.Build(src)
	require.NoError(t, err)

	svc, err := snapsync.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()

	require.NoError(t, svc.UpdatePrimaryBranch(ctx, c1))

	ws1, err := svc.GetSnapshot(ctx, c1, nil)
	require.NoError(t, err)
	assert.Equal(t, svc.CurrentPrimaryBranchID(), ws1.Branch())

	ws2, err := svc.GetSnapshot(ctx, c2, nil)
	require.NoError(t, err)
	assert.NotEqual(t, svc.CurrentPrimaryBranchID(), ws2.Branch())

	// Idempotent: repeating the checksum keeps the id.
	idBefore := svc.CurrentPrimaryBranchID()
	require.NoError(t, svc.UpdatePrimaryBranch(ctx, c1))
	assert.Equal(t, idBefore, svc.CurrentPrimaryBranchID())

	// Flip: c2 becomes primary, c1 falls off.
	require.NoError(t, svc.UpdatePrimaryBranch(ctx, c2))

	ws2, err = svc.GetSnapshot(ctx, c2, nil)
	require.NoError(t, err)
	assert.Equal(t, svc.CurrentPrimaryBranchID(), ws2.Branch())

	ws1, err = svc.GetSnapshot(ctx, c1, nil)
	require.NoError(t, err)
	assert.NotEqual(t, svc.CurrentPrimaryBranchID(), ws1.Branch())
}

func TestBranchSemantics_OverlayWorkspaces(t *testing.T) {
	src, root := buildTestSolution(t)

	svc, err := snapsync.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	require.NoError(t, svc.UpdatePrimaryBranch(ctx, root))

	// Overlay snapshots of the primary checksum carry the primary id too.
	ws, err := svc.GetSnapshot(ctx, root, snapsync.NewOverlay().Set("strict", "true"))
	require.NoError(t, err)
	assert.Equal(t, svc.CurrentPrimaryBranchID(), ws.Branch())
}

func TestService_SharedBranchTracker(t *testing.T) {
	src, root := buildTestSolution(t)
	tracker := snapsync.NewBranchTracker()

	host, err := snapsync.New(src, snapsync.WithBranchTracker(tracker))
	require.NoError(t, err)
	defer host.Close()

	worker, err := snapsync.New(src, snapsync.WithBranchTracker(tracker))
	require.NoError(t, err)
	defer worker.Close()

	require.NoError(t, host.UpdatePrimaryBranch(context.Background(), root))
	assert.Equal(t, host.CurrentPrimaryBranchID(), worker.CurrentPrimaryBranchID())
}

func TestService_CloseClearsSession(t *testing.T) {
	src, root := buildTestSolution(t)
	store, err := snapsync.NewAssetStore(0)
	require.NoError(t, err)
	defer store.Close()

	svc, err := snapsync.New(src, snapsync.WithAssetStore(store), snapsync.WithSession("teardown"))
	require.NoError(t, err)

	_, err = svc.GetSnapshot(context.Background(), root, nil)
	require.NoError(t, err)
	require.Greater(t, store.Len("teardown"), 0)

	require.NoError(t, svc.Close())
	assert.Equal(t, 0, store.Len("teardown"))
}
