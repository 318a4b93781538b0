package frames

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// RigidTolerance bounds the deviation accepted by CheckRigid: entries of
// R·Rᵀ - I, det(R) - 1 and the bottom row.
const RigidTolerance = 1e-3

// Identity returns the 4x4 identity matrix.
func Identity() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translate returns a pure translation.
func Translate(x, y, z float64) [16]float64 {
	t := Identity()
	t[3], t[7], t[11] = x, y, z
	return t
}

// RotateZ returns a rotation of theta radians about Z followed by (x, y, z).
func RotateZ(theta, x, y, z float64) [16]float64 {
	c, s := math.Cos(theta), math.Sin(theta)
	return [16]float64{
		c, -s, 0, x,
		s, c, 0, y,
		0, 0, 1, z,
		0, 0, 0, 1,
	}
}

// Mul returns a·b.
func Mul(a, b [16]float64) [16]float64 {
	var out [16]float64
	am := mat.NewDense(Rows, Cols, a[:])
	bm := mat.NewDense(Rows, Cols, b[:])
	om := mat.NewDense(Rows, Cols, out[:])
	om.Mul(am, bm)
	return out
}

// InvertRigid inverts [R|t] as [Rᵀ | -Rᵀt]. The input is assumed rigid.
func InvertRigid(t [16]float64) [16]float64 {
	var out [16]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*4+j] = t[j*4+i]
		}
	}
	for i := 0; i < 3; i++ {
		out[i*4+3] = -(out[i*4]*t[3] + out[i*4+1]*t[7] + out[i*4+2]*t[11])
	}
	out[15] = 1
	return out
}

// Translation returns (m03, m13, m23).
func Translation(t [16]float64) [3]float64 {
	return [3]float64{t[3], t[7], t[11]}
}

// ApplyPose maps a point through T.
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

func rotation(t [16]float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	})
}

// CheckRigid reports why t is not a rigid transform, or nil when it is.
func CheckRigid(t [16]float64) error {
	for i, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite entry at index %d", i)
		}
	}
	if math.Abs(t[12]) > RigidTolerance || math.Abs(t[13]) > RigidTolerance ||
		math.Abs(t[14]) > RigidTolerance || math.Abs(t[15]-1) > RigidTolerance {
		return fmt.Errorf("bottom row %v is not [0 0 0 1]", t[12:16])
	}

	r := rotation(t)
	if det := mat.Det(r); math.Abs(det-1) > RigidTolerance {
		return fmt.Errorf("rotation determinant %.6f is not 1", det)
	}
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if d := math.Abs(rrt.At(i, j) - want); d > RigidTolerance {
				return fmt.Errorf("rotation is not orthonormal (R·Rᵀ[%d][%d] off by %.6f)", i, j, d)
			}
		}
	}
	return nil
}

// IsValidTransformMatrix reports whether t is rigid within RigidTolerance.
func IsValidTransformMatrix(t [16]float64) bool {
	return CheckRigid(t) == nil
}

// Orthonormalize projects the rotation block onto the nearest proper
// rotation (R = U·Vᵀ from the SVD) and resets the bottom row. Translation is
// left untouched.
func Orthonormalize(t [16]float64) [16]float64 {
	var svd mat.SVD
	if !svd.Factorize(rotation(t), mat.SVDFull) {
		return t
	}
	var u, v, r mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	out := t
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*4+j] = r.At(i, j)
		}
	}
	out[12], out[13], out[14], out[15] = 0, 0, 0, 1
	return out
}
