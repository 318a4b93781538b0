package frames

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// FrameID is a human-readable name like "sensor/hesai-01" or "site/main-st-001".
type FrameID string

// Shape of every transform matrix handled by the engine.
const (
	Rows = 4
	Cols = 4
)

// Transform is a rigid transform carrying points expressed in From into To.
// T is 4x4 row-major (m00..m03, m10..m13, m20..m23, m30..m33).
type Transform struct {
	From FrameID
	To   FrameID
	T    [16]float64

	// Timestamp is the observation time. Zero marks a static transform
	// (e.g. a calibration extrinsic) that does not age composed results.
	Timestamp time.Time
	// ValidFrom and ValidUntil bound the validity window; zero is unbounded.
	ValidFrom  time.Time
	ValidUntil time.Time

	// Source names the producer, e.g. "calibration/3" or "ArUco.4".
	Source string
}

// Edge returns the canonical key for the frame pair.
func (t Transform) Edge() Edge {
	return NewEdge(t.From, t.To)
}

// Inverse returns the transform oriented To -> From.
func (t Transform) Inverse() Transform {
	inv := t
	inv.From, inv.To = t.To, t.From
	inv.T = InvertRigid(t.T)
	return inv
}

// ValidAt reports whether at falls inside the validity window.
func (t Transform) ValidAt(at time.Time) bool {
	if !t.ValidFrom.IsZero() && at.Before(t.ValidFrom) {
		return false
	}
	if !t.ValidUntil.IsZero() && !at.Before(t.ValidUntil) {
		return false
	}
	return true
}

// Equal reports whether two transforms carry the same observation.
func (t Transform) Equal(o Transform) bool {
	return t.From == o.From && t.To == o.To && t.T == o.T &&
		t.Timestamp.Equal(o.Timestamp) &&
		t.ValidFrom.Equal(o.ValidFrom) &&
		t.ValidUntil.Equal(o.ValidUntil) &&
		t.Source == o.Source
}

func (t Transform) validate() error {
	if t.From == "" || t.To == "" {
		return fmt.Errorf("%w: empty frame id (%q -> %q)", ErrInvalidTransform, t.From, t.To)
	}
	if t.From == t.To {
		return fmt.Errorf("%w: %q maps onto itself", ErrInvalidTransform, t.From)
	}
	for i, v := range t.T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %q -> %q has non-finite entry at index %d", ErrInvalidTransform, t.From, t.To, i)
		}
	}
	if !t.ValidFrom.IsZero() && !t.ValidUntil.IsZero() && !t.ValidUntil.After(t.ValidFrom) {
		return fmt.Errorf("%w: %q -> %q has empty validity window", ErrInvalidTransform, t.From, t.To)
	}
	return nil
}

// Edge is an unordered pair of frames, stored with A <= B.
type Edge struct {
	A FrameID
	B FrameID
}

// NewEdge returns the canonical edge for the pair.
func NewEdge(a, b FrameID) Edge {
	if b < a {
		a, b = b, a
	}
	return Edge{A: a, B: b}
}

func (e Edge) String() string {
	return fmt.Sprintf("%s <-> %s", e.A, e.B)
}

// Query asks for the transform from From to To passing through Hints in order.
type Query struct {
	From  FrameID
	Hints []FrameID
	To    FrameID
}

// Checkpoints returns [From, Hints..., To].
func (q Query) Checkpoints() []FrameID {
	out := make([]FrameID, 0, len(q.Hints)+2)
	out = append(out, q.From)
	out = append(out, q.Hints...)
	return append(out, q.To)
}

// Key renders the query as dotted identifiers ("FROM.H1.TO").
func (q Query) Key() string {
	parts := q.Checkpoints()
	ids := make([]string, len(parts))
	for i, p := range parts {
		ids[i] = string(p)
	}
	return strings.Join(ids, ".")
}

// Path is an ordered walk through the graph; consecutive frames share an edge.
type Path []FrameID

// Edges returns the canonical edges traversed by the path.
func (p Path) Edges() []Edge {
	if len(p) < 2 {
		return nil
	}
	out := make([]Edge, 0, len(p)-1)
	for i := 1; i < len(p); i++ {
		out = append(out, NewEdge(p[i-1], p[i]))
	}
	return out
}

// Hops is the number of edges on the path.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}

func (p Path) String() string {
	ids := make([]string, len(p))
	for i, f := range p {
		ids[i] = string(f)
	}
	return strings.Join(ids, " -> ")
}

// Result is the composed transform for a query.
type Result struct {
	From FrameID
	To   FrameID
	Path Path
	T    [16]float64

	// Timestamp is the oldest non-static edge timestamp, or the query time
	// when every edge on the path is static.
	Timestamp time.Time
	// ValidUntil is the earliest expiry among the edges; zero when none expire.
	ValidUntil time.Time
	// EdgeTimestamps holds one entry per traversed edge in path order.
	EdgeTimestamps []time.Time
}

// Translation returns the top-right 3x1 block.
func (r Result) Translation() [3]float64 {
	return Translation(r.T)
}
