package protocol

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/frametransform/internal/frames"
)

// Protobuf forms use structpb so the gRPC service needs no generated code.
// Doubles map to NumberValue and survive exactly; nanosecond times exceed
// float64 precision and travel as decimal strings.

// TensorToStruct encodes t as a protobuf Struct.
func TensorToStruct(t Tensor) *structpb.Struct {
	dims := make([]*structpb.Value, len(t.Shape.Dims))
	for i, d := range t.Shape.Dims {
		dims[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"size": structpb.NewNumberValue(float64(d.Size)),
			"name": structpb.NewStringValue(d.Name),
		}})
	}
	values := make([]*structpb.Value, len(t.Doubles))
	for i, v := range t.Doubles {
		values[i] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"shape": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"dims": structpb.NewListValue(&structpb.ListValue{Values: dims}),
		}}),
		"doubles": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}
}

// TensorFromStruct decodes a Struct produced by TensorToStruct.
func TensorFromStruct(s *structpb.Struct) (Tensor, error) {
	var t Tensor
	if s == nil {
		return t, fmt.Errorf("%w: missing tensor", ErrInvalidTensor)
	}
	for _, v := range s.GetFields()["shape"].GetStructValue().GetFields()["dims"].GetListValue().GetValues() {
		f := v.GetStructValue().GetFields()
		t.Shape.Dims = append(t.Shape.Dims, Dim{
			Size: int(f["size"].GetNumberValue()),
			Name: f["name"].GetStringValue(),
		})
	}
	for _, v := range s.GetFields()["doubles"].GetListValue().GetValues() {
		if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
			return Tensor{}, fmt.Errorf("%w: non-numeric value", ErrInvalidTensor)
		}
		t.Doubles = append(t.Doubles, v.GetNumberValue())
	}
	return t, nil
}

// ToStruct encodes a FrameTransformation.
func ToStruct(m FrameTransformation) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"from": structpb.NewStringValue(m.From),
		"to":   structpb.NewStringValue(m.To),
		"tf":   structpb.NewStructValue(TensorToStruct(m.TF)),
	}
	putNanos(fields, "timestamp_ns", m.TimestampNanos)
	putNanos(fields, "valid_from_ns", m.ValidFromNanos)
	putNanos(fields, "valid_until_ns", m.ValidUntilNanos)
	if len(m.Path) > 0 {
		fields["path"] = stringList(m.Path)
	}
	return &structpb.Struct{Fields: fields}
}

// FromStruct decodes a Struct produced by ToStruct.
func FromStruct(s *structpb.Struct) (FrameTransformation, error) {
	f := s.GetFields()
	m := FrameTransformation{
		From: f["from"].GetStringValue(),
		To:   f["to"].GetStringValue(),
	}
	var err error
	if m.TF, err = TensorFromStruct(f["tf"].GetStructValue()); err != nil {
		return FrameTransformation{}, err
	}
	if m.TimestampNanos, err = getNanos(f, "timestamp_ns"); err != nil {
		return FrameTransformation{}, err
	}
	if m.ValidFromNanos, err = getNanos(f, "valid_from_ns"); err != nil {
		return FrameTransformation{}, err
	}
	if m.ValidUntilNanos, err = getNanos(f, "valid_until_ns"); err != nil {
		return FrameTransformation{}, err
	}
	for _, v := range f["path"].GetListValue().GetValues() {
		m.Path = append(m.Path, v.GetStringValue())
	}
	return m, nil
}

// BatchToStruct encodes a batch of observations from source.
func BatchToStruct(source string, b FrameTransformations) *structpb.Struct {
	tfs := make([]*structpb.Value, len(b.Tfs))
	for i, m := range b.Tfs {
		tfs[i] = structpb.NewStructValue(ToStruct(m))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"source": structpb.NewStringValue(source),
		"tfs":    structpb.NewListValue(&structpb.ListValue{Values: tfs}),
	}}
}

// BatchFromStruct decodes a Struct produced by BatchToStruct.
func BatchFromStruct(s *structpb.Struct) (string, FrameTransformations, error) {
	f := s.GetFields()
	var b FrameTransformations
	for i, v := range f["tfs"].GetListValue().GetValues() {
		m, err := FromStruct(v.GetStructValue())
		if err != nil {
			return "", FrameTransformations{}, fmt.Errorf("tfs[%d]: %w", i, err)
		}
		b.Tfs = append(b.Tfs, m)
	}
	return f["source"].GetStringValue(), b, nil
}

// QueryToStruct encodes q as {from, hints, to}.
func QueryToStruct(q frames.Query) *structpb.Struct {
	hints := make([]string, len(q.Hints))
	for i, h := range q.Hints {
		hints[i] = string(h)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"from":  structpb.NewStringValue(string(q.From)),
		"hints": stringList(hints),
		"to":    structpb.NewStringValue(string(q.To)),
	}}
}

// QueryFromStruct accepts either {from, hints, to} or {query: "A.H.B"}.
func QueryFromStruct(s *structpb.Struct) (frames.Query, error) {
	f := s.GetFields()
	if dotted := f["query"].GetStringValue(); dotted != "" {
		return ParseQuery(dotted)
	}
	var hints []string
	for _, v := range f["hints"].GetListValue().GetValues() {
		hints = append(hints, v.GetStringValue())
	}
	return NewQuery(f["from"].GetStringValue(), hints, f["to"].GetStringValue())
}

func stringList(ss []string) *structpb.Value {
	values := make([]*structpb.Value, len(ss))
	for i, s := range ss {
		values[i] = structpb.NewStringValue(s)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

func putNanos(fields map[string]*structpb.Value, key string, n int64) {
	if n != 0 {
		fields[key] = structpb.NewStringValue(strconv.FormatInt(n, 10))
	}
}

func getNanos(fields map[string]*structpb.Value, key string) (int64, error) {
	s := fields[key].GetStringValue()
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, key, err)
	}
	return n, nil
}
