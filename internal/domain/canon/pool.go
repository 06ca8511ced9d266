package canon

import (
	"sync"
	"sync/atomic"

	"github.com/turtacn/molident/internal/domain/molecule"
)

type observerBox struct{ o Observer }

var (
	pool = sync.Pool{New: func() any { return NewWorkspace() }}

	defaultObserver atomic.Pointer[observerBox]
)

// SetDefaultObserver installs the observer given to pooled workspaces.
func SetDefaultObserver(o Observer) {
	defaultObserver.Store(&observerBox{o: o})
}

// Acquire takes a workspace from the shared pool. Return it with Release.
func Acquire() *Workspace {
	w := pool.Get().(*Workspace)
	if box := defaultObserver.Load(); box != nil {
		w.observer = box.o
	} else {
		w.observer = nil
	}
	return w
}

// Release returns w to the pool. w must not be used afterwards.
func Release(w *Workspace) {
	pool.Put(w)
}

// Canonicalize is Workspace.Canonicalize with variant 0 on a pooled workspace.
func Canonicalize(g *molecule.Graph, exact bool) (uint32, []int, error) {
	w := Acquire()
	defer Release(w)
	res, err := w.Canonicalize(g, exact, 0)
	return res.Hash, res.Permutation, err
}

// AreEqual is Workspace.AreEqual on a pooled workspace.
func AreEqual(a, b *molecule.Record, exact bool) bool {
	w := Acquire()
	defer Release(w)
	return w.AreEqual(a, b, exact)
}

// HashRecord is Workspace.HashRecord on a pooled workspace.
func HashRecord(r *molecule.Record) error {
	w := Acquire()
	defer Release(w)
	return w.HashRecord(r)
}
