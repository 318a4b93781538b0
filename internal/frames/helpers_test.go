package frames

import (
	"math"
	"testing"
	"time"
)

const testTolerance = 1e-9

func assertMatrixNear(t *testing.T, got, want [16]float64, tol float64) {
	t.Helper()
	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("matrix mismatch at index %d: got %v, want %v\ngot  %v\nwant %v", i, got[i], want[i], got, want)
		}
	}
}

// rotX mirrors a rotation about X plus translation, the shape the pose
// producers emit for tilted sensors.
func rotX(theta, x, y, z float64) [16]float64 {
	c, s := math.Cos(theta), math.Sin(theta)
	return [16]float64{
		1, 0, 0, x,
		0, c, -s, y,
		0, s, c, z,
		0, 0, 0, 1,
	}
}

func mustUpsert(t *testing.T, s *Store, from, to FrameID, m [16]float64, ts time.Time) {
	t.Helper()
	if _, err := s.Upsert(Transform{From: from, To: to, T: m, Timestamp: ts}); err != nil {
		t.Fatalf("Upsert(%s -> %s): %v", from, to, err)
	}
}
