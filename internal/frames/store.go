package frames

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is an immutable view of the store. Readers hold on to a snapshot
// for the duration of a query and never observe a partial update.
type Snapshot struct {
	edges   map[Edge]Transform
	adj     map[FrameID][]FrameID // neighbours sorted ascending
	known   map[FrameID]struct{}  // every frame ever stored; never shrinks
	version uint64
}

var emptySnapshot = &Snapshot{
	edges: map[Edge]Transform{},
	adj:   map[FrameID][]FrameID{},
	known: map[FrameID]struct{}{},
}

// Version increases by one on every accepted mutation.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of stored edges.
func (s *Snapshot) Len() int { return len(s.edges) }

// HasFrame reports whether f appears on any stored edge.
func (s *Snapshot) HasFrame(f FrameID) bool {
	_, ok := s.adj[f]
	return ok
}

// Known reports whether f has ever been stored, even if all of its edges
// have since been removed or pruned.
func (s *Snapshot) Known(f FrameID) bool {
	_, ok := s.known[f]
	return ok
}

// Lookup returns the transform mapping a into b, inverting the stored
// orientation when needed.
func (s *Snapshot) Lookup(a, b FrameID) (Transform, error) {
	t, ok := s.edges[NewEdge(a, b)]
	if !ok {
		return Transform{}, fmt.Errorf("%w: %q -> %q", ErrNotFound, a, b)
	}
	if t.From == a {
		return t, nil
	}
	return t.Inverse(), nil
}

// Edges returns every stored transform in its stored orientation, ordered
// by canonical edge.
func (s *Snapshot) Edges() []Transform {
	out := make([]Transform, 0, len(s.edges))
	for _, t := range s.edges {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i].Edge(), out[j].Edge()
		if ei.A != ej.A {
			return ei.A < ej.A
		}
		return ei.B < ej.B
	})
	return out
}

// Frames returns every known frame in ascending order.
func (s *Snapshot) Frames() []FrameID {
	out := make([]FrameID, 0, len(s.adj))
	for f := range s.adj {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Store is the concurrent edge table. Writers are serialised and publish a
// fresh Snapshot; readers load the current one without locking.
type Store struct {
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(emptySnapshot)
	return s
}

// Snapshot returns the current immutable view.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Len returns the number of stored edges.
func (s *Store) Len() int { return s.Snapshot().Len() }

// Lookup reads from the current snapshot.
func (s *Store) Lookup(a, b FrameID) (Transform, error) {
	return s.Snapshot().Lookup(a, b)
}

// Upsert stores t, replacing any transform for the same pair in either
// orientation. It reports whether the pair was new. Re-inserting an
// identical transform is a no-op that does not bump the version.
func (s *Store) Upsert(t Transform) (created bool, err error) {
	if err := t.validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	key := t.Edge()
	old, existed := cur.edges[key]
	if existed && old.Equal(t) {
		return false, nil
	}
	edges := cloneEdges(cur.edges, 1)
	edges[key] = t
	next := &Snapshot{edges: edges, adj: cur.adj, known: cur.known}
	if !existed {
		next.adj = buildAdjacency(edges)
		next.known = withFrames(cur.known, t.From, t.To)
	}
	s.publish(cur, next)
	return !existed, nil
}

// Remove deletes the edge between a and b. It reports whether one existed.
func (s *Store) Remove(a, b FrameID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	key := NewEdge(a, b)
	if _, ok := cur.edges[key]; !ok {
		return false
	}
	edges := cloneEdges(cur.edges, 0)
	delete(edges, key)
	s.publish(cur, &Snapshot{edges: edges, adj: buildAdjacency(edges), known: cur.known})
	return true
}

// RemoveSource deletes every edge published by source and returns them.
func (s *Store) RemoveSource(source string) []Transform {
	return s.removeWhere(func(t Transform) bool { return t.Source == source })
}

// Prune deletes every edge whose validity window ended at or before now.
func (s *Store) Prune(now time.Time) []Transform {
	return s.removeWhere(func(t Transform) bool {
		return !t.ValidUntil.IsZero() && !now.Before(t.ValidUntil)
	})
}

func (s *Store) removeWhere(match func(Transform) bool) []Transform {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	var removed []Transform
	edges := make(map[Edge]Transform, len(cur.edges))
	for k, t := range cur.edges {
		if match(t) {
			removed = append(removed, t)
			continue
		}
		edges[k] = t
	}
	if len(removed) == 0 {
		return nil
	}
	s.publish(cur, &Snapshot{edges: edges, adj: buildAdjacency(edges), known: cur.known})
	sort.Slice(removed, func(i, j int) bool {
		ei, ej := removed[i].Edge(), removed[j].Edge()
		if ei.A != ej.A {
			return ei.A < ej.A
		}
		return ei.B < ej.B
	})
	return removed
}

func (s *Store) publish(cur, next *Snapshot) {
	next.version = cur.version + 1
	s.snap.Store(next)
	storeEdges.Set(float64(len(next.edges)))
}

// withFrames returns known extended by fs, or known itself when nothing
// is new.
func withFrames(known map[FrameID]struct{}, fs ...FrameID) map[FrameID]struct{} {
	var out map[FrameID]struct{}
	for _, f := range fs {
		if _, ok := known[f]; ok {
			continue
		}
		if out == nil {
			out = make(map[FrameID]struct{}, len(known)+len(fs))
			for k := range known {
				out[k] = struct{}{}
			}
		}
		out[f] = struct{}{}
	}
	if out == nil {
		return known
	}
	return out
}

func cloneEdges(src map[Edge]Transform, extra int) map[Edge]Transform {
	out := make(map[Edge]Transform, len(src)+extra)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func buildAdjacency(edges map[Edge]Transform) map[FrameID][]FrameID {
	adj := make(map[FrameID][]FrameID)
	for e := range edges {
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}
	for f := range adj {
		ns := adj[f]
		sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
	}
	return adj
}
