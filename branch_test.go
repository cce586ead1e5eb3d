package snapsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aweris/snapsync"
)

func TestBranchTracker_InitialState(t *testing.T) {
	tracker := snapsync.NewBranchTracker()

	sum, id := tracker.Primary()
	assert.Empty(t, sum)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, tracker.CurrentPrimaryBranchID())
}

func TestBranchTracker_FreshIDs(t *testing.T) {
	a := snapsync.NewBranchTracker()
	b := snapsync.NewBranchTracker()

	require.NotEqual(t, a.CurrentPrimaryBranchID(), b.CurrentPrimaryBranchID())
}
