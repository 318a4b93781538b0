package frames

import (
	"errors"
	"fmt"
	"time"
)

// EdgeSource supplies oriented transforms for composition. *Store and
// *Snapshot both satisfy it.
type EdgeSource interface {
	Lookup(a, b FrameID) (Transform, error)
}

// Compose multiplies the transforms along path into a single matrix mapping
// points in path[0] into path[len-1]: acc = T(fi -> fi+1) · acc for each hop.
// The rotation block of the product is re-orthonormalised.
//
// Edges are read from src at call time; a missing or expired edge yields
// ErrEdgeMissing and a non-rigid edge yields ErrIllFormedTransform. A
// single-frame path returns the identity.
func Compose(src EdgeSource, path Path, at time.Time) (Result, error) {
	if len(path) == 0 {
		return Result{}, fmt.Errorf("%w: empty path", ErrEdgeMissing)
	}
	res := Result{
		From: path[0],
		To:   path[len(path)-1],
		Path: path,
		T:    Identity(),
	}
	if len(path) == 1 {
		res.Timestamp = at
		return res, nil
	}

	acc := Identity()
	res.EdgeTimestamps = make([]time.Time, 0, len(path)-1)
	for i := 1; i < len(path); i++ {
		a, b := path[i-1], path[i]
		t, err := src.Lookup(a, b)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Result{}, fmt.Errorf("%w: %q -> %q", ErrEdgeMissing, a, b)
			}
			return Result{}, err
		}
		if !at.IsZero() && !t.ValidAt(at) {
			return Result{}, fmt.Errorf("%w: %q -> %q expired", ErrEdgeMissing, a, b)
		}
		if err := CheckRigid(t.T); err != nil {
			return Result{}, fmt.Errorf("%w: %q -> %q: %v", ErrIllFormedTransform, a, b, err)
		}
		acc = Mul(t.T, acc)

		res.EdgeTimestamps = append(res.EdgeTimestamps, t.Timestamp)
		if !t.Timestamp.IsZero() && (res.Timestamp.IsZero() || t.Timestamp.Before(res.Timestamp)) {
			res.Timestamp = t.Timestamp
		}
		if !t.ValidUntil.IsZero() && (res.ValidUntil.IsZero() || t.ValidUntil.Before(res.ValidUntil)) {
			res.ValidUntil = t.ValidUntil
		}
	}
	if res.Timestamp.IsZero() {
		res.Timestamp = at
	}
	res.T = Orthonormalize(acc)
	return res, nil
}
