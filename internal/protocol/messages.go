package protocol

import (
	"fmt"
	"time"

	"github.com/banshee-data/frametransform/internal/frames"
	"github.com/banshee-data/frametransform/internal/timeutil"
)

// FrameTransformation is the wire form of a single transform, either an
// observation or a composed result. Times are unix nanoseconds; zero is unset.
type FrameTransformation struct {
	From            string   `json:"from" yaml:"from"`
	To              string   `json:"to" yaml:"to"`
	TF              Tensor   `json:"tf" yaml:"tf"`
	TimestampNanos  int64    `json:"timestamp_ns,omitempty" yaml:"timestamp_ns,omitempty"`
	ValidFromNanos  int64    `json:"valid_from_ns,omitempty" yaml:"valid_from_ns,omitempty"`
	ValidUntilNanos int64    `json:"valid_until_ns,omitempty" yaml:"valid_until_ns,omitempty"`
	Path            []string `json:"path,omitempty" yaml:"path,omitempty"`
}

// FrameTransformations is a batch of observations from one producer.
type FrameTransformations struct {
	Tfs []FrameTransformation `json:"tfs" yaml:"tfs"`
}

// FromTransform encodes a stored transform.
func FromTransform(t frames.Transform) FrameTransformation {
	return FrameTransformation{
		From:            string(t.From),
		To:              string(t.To),
		TF:              EncodeMatrix(t.T),
		TimestampNanos:  timeutil.UnixNanos(t.Timestamp),
		ValidFromNanos:  timeutil.UnixNanos(t.ValidFrom),
		ValidUntilNanos: timeutil.UnixNanos(t.ValidUntil),
	}
}

// FromResult encodes a composed result, including the traversed path.
func FromResult(r frames.Result) FrameTransformation {
	m := FrameTransformation{
		From:            string(r.From),
		To:              string(r.To),
		TF:              EncodeResult(r),
		TimestampNanos:  timeutil.UnixNanos(r.Timestamp),
		ValidUntilNanos: timeutil.UnixNanos(r.ValidUntil),
	}
	for _, f := range r.Path {
		m.Path = append(m.Path, string(f))
	}
	return m
}

// Transform decodes an observation attributed to source.
func (m FrameTransformation) Transform(source string) (frames.Transform, error) {
	from, err := normalize(m.From)
	if err != nil {
		return frames.Transform{}, err
	}
	to, err := normalize(m.To)
	if err != nil {
		return frames.Transform{}, err
	}
	mat, err := DecodeMatrix(m.TF)
	if err != nil {
		return frames.Transform{}, fmt.Errorf("%s -> %s: %w", from, to, err)
	}
	return frames.Transform{
		From:       from,
		To:         to,
		T:          mat,
		Timestamp:  timeutil.FromUnixNanos(m.TimestampNanos),
		ValidFrom:  timeutil.FromUnixNanos(m.ValidFromNanos),
		ValidUntil: timeutil.FromUnixNanos(m.ValidUntilNanos),
		Source:     source,
	}, nil
}

// Timestamp returns the message time, zero when unset.
func (m FrameTransformation) Timestamp() time.Time {
	return timeutil.FromUnixNanos(m.TimestampNanos)
}
