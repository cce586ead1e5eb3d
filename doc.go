// Package snapsync provides checksum-addressed snapshot synchronization and
// caching for hierarchical, immutable object graphs.
//
// A solution (projects holding documents and option sets) is encoded as a
// DAG of content-addressed nodes. A host process builds and publishes the
// graph; a worker process materializes it on demand, fetching only the
// nodes it has not seen before. Identical checksums always resolve to
// identical in-memory instances, so unchanged subtrees are shared across
// every snapshot that references them.
//
// Basic usage (worker side):
//
//	svc, _ := snapsync.New(source)
//
//	// Materialize a snapshot; repeated calls return the same instance.
//	ws, _ := svc.GetSnapshot(ctx, root, nil)
//
//	// Per-call option overlays get isolated workspaces over shared nodes.
//	ws2, _ := svc.GetSnapshot(ctx, root, snapsync.NewOverlay().Set("strict", "true"))
//
//	// Mark the snapshot mirroring the live host state.
//	svc.UpdatePrimaryBranch(ctx, root)
//	ws.Branch() == svc.CurrentPrimaryBranchID() // true
//
// Host side:
//
//	src := snapsync.NewMemorySource()
//	sol := snapsync.NewSolution()
//	sol.AddProject("core").AddDocument("main.go", []byte("package main"))
//	root, _ := sol.Build(src)
package snapsync
