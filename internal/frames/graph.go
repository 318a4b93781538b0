package frames

import "time"

// Graph is the undirected view of a snapshot at a point in time. Edges whose
// validity window does not cover the query time are invisible. A zero time
// disables the window check.
type Graph struct {
	snap *Snapshot
	at   time.Time
}

// NewGraph builds a view over snap as of at.
func NewGraph(snap *Snapshot, at time.Time) *Graph {
	return &Graph{snap: snap, at: at}
}

// At returns the time the view was taken for.
func (g *Graph) At() time.Time { return g.at }

// Snapshot returns the underlying snapshot.
func (g *Graph) Snapshot() *Snapshot { return g.snap }

// HasEdge reports whether a visible edge joins a and b.
func (g *Graph) HasEdge(a, b FrameID) bool {
	t, ok := g.snap.edges[NewEdge(a, b)]
	return ok && g.visible(t)
}

// Neighbors returns the frames sharing a visible edge with f, ascending.
// The slice is the caller's to modify.
func (g *Graph) Neighbors(f FrameID) []FrameID {
	all := g.snap.adj[f]
	out := make([]FrameID, 0, len(all))
	for _, n := range all {
		if g.visible(g.snap.edges[NewEdge(f, n)]) {
			out = append(out, n)
		}
	}
	return out
}

// HasFrame reports whether f has at least one visible edge.
func (g *Graph) HasFrame(f FrameID) bool {
	for _, n := range g.snap.adj[f] {
		if g.visible(g.snap.edges[NewEdge(f, n)]) {
			return true
		}
	}
	return false
}

// Frames lists frames with at least one visible edge, ascending.
func (g *Graph) Frames() []FrameID {
	all := g.snap.Frames()
	out := all[:0]
	for _, f := range all {
		if g.HasFrame(f) {
			out = append(out, f)
		}
	}
	return out
}

// Edges lists visible edges in stored orientation.
func (g *Graph) Edges() []Transform {
	all := g.snap.Edges()
	out := all[:0]
	for _, t := range all {
		if g.visible(t) {
			out = append(out, t)
		}
	}
	return out
}

func (g *Graph) visible(t Transform) bool {
	return g.at.IsZero() || t.ValidAt(g.at)
}

// ShortestPath returns the minimum-hop path from a to b. Neighbours are
// expanded in ascending order, so among equal-length paths the
// lexicographically smallest sequence of frame ids wins.
func (g *Graph) ShortestPath(a, b FrameID) (Path, bool) {
	if a == b {
		return Path{a}, true
	}
	parent := map[FrameID]FrameID{a: a}
	queue := []FrameID{a}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.Neighbors(cur) {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == b {
				return backtrack(parent, a, b), true
			}
			queue = append(queue, next)
		}
	}
	return nil, false
}

func backtrack(parent map[FrameID]FrameID, a, b FrameID) Path {
	var rev Path
	for f := b; f != a; f = parent[f] {
		rev = append(rev, f)
	}
	rev = append(rev, a)
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}
