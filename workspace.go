package snapsync

import (
	"sync"
	"sync/atomic"
)

// Overlay is a per-call option customization. It never affects checksum
// identity; supplying one forces an isolated Workspace over the same
// shared nodes.
type Overlay struct {
	values map[string]string
}

// NewOverlay creates an empty overlay.
func NewOverlay() *Overlay {
	return &Overlay{values: make(map[string]string)}
}

// Set records an option value and returns the overlay for chaining.
func (o *Overlay) Set(key, value string) *Overlay {
	o.values[key] = value
	return o
}

// Get returns an overlay value.
func (o *Overlay) Get(key string) (string, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Workspace is an isolated container binding one materialized solution to
// one option table. The materialized tree is shared between workspaces;
// the option table is private, so mutating an option in one workspace is
// never observable from another.
type Workspace struct {
	root *MaterializedNode
	sum  Checksum

	branch atomic.Value // BranchID

	mu      sync.RWMutex
	options map[string]string
}

// newWorkspace wraps a shared materialized root. Base options come from the
// solution's option-set child; overlay values are layered on top into a
// workspace-private copy. Shared nodes are never touched.
func newWorkspace(root *MaterializedNode, overlay *Overlay) *Workspace {
	w := &Workspace{
		root:    root,
		sum:     root.Checksum(),
		options: make(map[string]string),
	}

	for _, child := range root.Children() {
		if child.Kind() == KindOptionSet {
			for k, v := range child.attrs {
				w.options[k] = v
			}
		}
	}
	if overlay != nil {
		for k, v := range overlay.values {
			w.options[k] = v
		}
	}

	return w
}

// Root returns the shared materialized solution root.
func (w *Workspace) Root() *MaterializedNode { return w.root }

// RootChecksum returns the checksum the workspace was materialized from.
// Every workspace over the same root reports the same checksum regardless
// of overlays.
func (w *Workspace) RootChecksum() Checksum { return w.sum }

// Branch returns the branch identity this workspace is currently tagged
// with. It equals the tracker's primary id iff the workspace's root
// checksum is the current primary checksum.
func (w *Workspace) Branch() BranchID {
	v := w.branch.Load()
	if v == nil {
		return ""
	}
	return v.(BranchID)
}

func (w *Workspace) setBranch(id BranchID) {
	w.branch.Store(id)
}

// Projects returns the solution's project nodes in order.
func (w *Workspace) Projects() []*MaterializedNode {
	var out []*MaterializedNode
	for _, child := range w.root.Children() {
		if child.Kind() == KindProject {
			out = append(out, child)
		}
	}
	return out
}

// Project returns a project node by name.
func (w *Workspace) Project(name string) (*MaterializedNode, bool) {
	return w.root.Child(KindProject, name)
}

// Option reads an option from the workspace's private table.
func (w *Workspace) Option(key string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.options[key]
	return v, ok
}

// SetOption mutates the workspace's private option table. Other workspaces
// over the same root are unaffected.
func (w *Workspace) SetOption(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.options[key] = value
}

// Options returns a copy of the effective option table.
func (w *Workspace) Options() map[string]string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]string, len(w.options))
	for k, v := range w.options {
		out[k] = v
	}
	return out
}
