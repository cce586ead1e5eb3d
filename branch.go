package snapsync

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// BranchID is an opaque branch identity. Exactly one value is primary at
// any time; a snapshot is on the primary branch iff its id equals the
// tracker's current primary id.
type BranchID string

func newBranchID() BranchID {
	return BranchID(uuid.NewString())
}

type branchState struct {
	checksum Checksum
	id       BranchID
}

// BranchTracker is the single process-wide cell holding the current primary
// (checksum, branch id) pair. It is an explicit, injectable handle, so one
// tracker may be shared by several services. Updates are a single atomic
// pointer swap; readers never observe a half-updated pair.
type BranchTracker struct {
	state atomic.Pointer[branchState]
}

// NewBranchTracker creates a tracker with no primary checksum and a fresh,
// non-associated branch id.
func NewBranchTracker() *BranchTracker {
	t := &BranchTracker{}
	t.state.Store(&branchState{id: newBranchID()})
	return t
}

// CurrentPrimaryBranchID returns the primary branch id. Safe under
// concurrent reads.
func (t *BranchTracker) CurrentPrimaryBranchID() BranchID {
	return t.state.Load().id
}

// Primary returns the current primary checksum and branch id as one
// consistent pair.
func (t *BranchTracker) Primary() (Checksum, BranchID) {
	st := t.state.Load()
	return st.checksum, st.id
}

// promote atomically installs sum as the primary checksum under a freshly
// minted branch id and returns that id.
func (t *BranchTracker) promote(sum Checksum) BranchID {
	st := &branchState{checksum: sum, id: newBranchID()}
	t.state.Store(st)
	return st.id
}
