package protocol

import (
	"errors"
	"fmt"

	"github.com/banshee-data/frametransform/internal/frames"
)

// ErrInvalidTensor is returned when a tensor cannot be read as a 4x4 matrix.
var ErrInvalidTensor = errors.New("invalid tensor")

// Dim is one tensor dimension.
type Dim struct {
	Size int    `json:"size" yaml:"size"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Shape lists tensor dimensions, outermost first.
type Shape struct {
	Dims []Dim `json:"dims" yaml:"dims"`
}

// Tensor is the generic numeric payload: a shape plus row-major values.
type Tensor struct {
	Shape   Shape     `json:"shape" yaml:"shape"`
	Doubles []float64 `json:"doubles" yaml:"doubles"`
}

// NumElements is the product of the dimension sizes.
func (t Tensor) NumElements() int {
	if len(t.Shape.Dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape.Dims {
		n *= d.Size
	}
	return n
}

// EncodeMatrix wraps a 4x4 row-major matrix.
func EncodeMatrix(m [16]float64) Tensor {
	values := make([]float64, len(m))
	copy(values, m[:])
	return Tensor{
		Shape: Shape{Dims: []Dim{
			{Size: frames.Rows, Name: "rows"},
			{Size: frames.Cols, Name: "cols"},
		}},
		Doubles: values,
	}
}

// EncodeResult wraps the composed matrix of r.
func EncodeResult(r frames.Result) Tensor {
	return EncodeMatrix(r.T)
}

// DecodeMatrix reshapes a 4x4 tensor back into a matrix without loss.
func DecodeMatrix(t Tensor) ([16]float64, error) {
	var m [16]float64
	dims := t.Shape.Dims
	if len(dims) != 2 || dims[0].Size != frames.Rows || dims[1].Size != frames.Cols {
		return m, fmt.Errorf("%w: shape %v is not %dx%d", ErrInvalidTensor, dims, frames.Rows, frames.Cols)
	}
	if len(t.Doubles) != len(m) {
		return m, fmt.Errorf("%w: %d values for a %dx%d matrix", ErrInvalidTensor, len(t.Doubles), frames.Rows, frames.Cols)
	}
	copy(m[:], t.Doubles)
	return m, nil
}

// Reshape returns the values of a 2-D tensor as rows.
func Reshape(t Tensor) ([][]float64, error) {
	if len(t.Shape.Dims) != 2 {
		return nil, fmt.Errorf("%w: expected 2 dims, got %d", ErrInvalidTensor, len(t.Shape.Dims))
	}
	rows, cols := t.Shape.Dims[0].Size, t.Shape.Dims[1].Size
	if rows <= 0 || cols <= 0 || len(t.Doubles) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrInvalidTensor, len(t.Doubles), rows, cols)
	}
	out := make([][]float64, rows)
	for i := range out {
		out[i] = t.Doubles[i*cols : (i+1)*cols]
	}
	return out, nil
}
