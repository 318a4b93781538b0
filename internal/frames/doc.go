// Package frames owns the coordinate frame graph and the transform engine.
//
// Responsibilities: holding the latest known rigid transform for each pair of
// frames (Store), exposing an undirected graph view over it (Graph), turning a
// (from, hints, to) query into an ordered path of frames (Resolve) and
// multiplying the transforms along that path into a single 4x4 matrix
// (Compose). Engine ties the steps together and retries once when an edge
// disappears between resolution and composition.
//
// Key types: FrameID, Transform, Edge, Query, Path, Result.
//
// Matrices are 4x4 row-major [16]float64 (m00..m03, m10..m13, m20..m23,
// m30..m33). A Transform from A to B carries points expressed in A into B, so
// translation sits at indices 3, 7 and 11.
//
// Dependency rule: frames depends only on gonum, prometheus and the small
// internal helpers (timeutil, monitoring). Transports live elsewhere.
package frames
