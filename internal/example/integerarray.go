// Package example provides the IntegerArray data kind and the analytics
// that import, transform and export it.
package example

import (
	"github.com/SystemsGenetics/ACE-sub002/pkg/analytic"
	"github.com/SystemsGenetics/ACE-sub002/pkg/data"
	"github.com/SystemsGenetics/ACE-sub002/pkg/errors"
	"github.com/SystemsGenetics/ACE-sub002/pkg/stream"
)

// IntegerArrayID is the type tag of integer arrays.
const IntegerArrayID uint16 = 1

// IntegerArrayKind stores a count followed by int32 values.
var IntegerArrayKind = data.Kind{
	ID:        IntegerArrayID,
	Name:      "integer_array",
	Extension: "num",
	New:       func() data.Payload { return &IntegerArray{} },
}

// IntegerArray is the payload of an integer array object. Numbers is
// written to the payload on Finish.
type IntegerArray struct {
	Numbers []int32
}

func (a *IntegerArray) ReadData(o *data.Object) error {
	if o.Size() == 0 {
		a.Numbers = nil
		return nil
	}
	s := stream.New(o.Stream().Medium())
	n := s.ReadUint32()
	if s.Ok() && int64(n)*4 > s.Remaining() {
		return errors.Newf(errors.ErrorTypeCorruptData, "integer array declares %d values in %d bytes", n, s.Remaining())
	}
	a.Numbers = make([]int32, 0, n)
	for i := uint32(0); i < n && s.Ok(); i++ {
		a.Numbers = append(a.Numbers, s.ReadInt32())
	}
	return s.Err()
}

func (a *IntegerArray) WriteNewData(*data.Object) error {
	a.Numbers = nil
	return nil
}

func (a *IntegerArray) Finish(o *data.Object) error {
	if err := o.Allocate(4 + 4*int64(len(a.Numbers))); err != nil {
		return err
	}
	s := stream.New(o.Stream().Medium())
	s.WriteUint32(uint32(len(a.Numbers)))
	for _, v := range a.Numbers {
		s.WriteInt32(v)
	}
	return s.Err()
}

// Kinds returns a kind registry holding IntegerArrayKind.
func Kinds() (*data.Kinds, error) {
	return data.NewKinds(IntegerArrayKind)
}

// Register adds the example analytics to r.
func Register(r *analytic.Registry) error {
	for _, reg := range []struct {
		name, description string
		factory           analytic.Factory
	}{
		{ImportName, "Import a text file of integers into an integer array.", func() analytic.Analytic { return &Import{} }},
		{ExportName, "Export an integer array to a text file.", func() analytic.Analytic { return &Export{} }},
		{MathTransformName, "Apply an arithmetic operation to every integer of an array.", func() analytic.Analytic { return &MathTransform{} }},
	} {
		if err := r.Register(reg.name, reg.description, reg.factory); err != nil {
			return err
		}
	}
	return nil
}

func encodeInts(values []int32) []byte {
	buf := &stream.Buffer{}
	s := stream.New(buf)
	for _, v := range values {
		s.WriteInt32(v)
	}
	return buf.Bytes()
}

func decodeInts(b []byte) ([]int32, error) {
	if len(b)%4 != 0 {
		return nil, errors.Newf(errors.ErrorTypeCorruptData, "block of %d bytes is not a whole number of integers", len(b))
	}
	s := stream.New(stream.NewBuffer(b))
	out := make([]int32, len(b)/4)
	for i := range out {
		out[i] = s.ReadInt32()
	}
	return out, s.Err()
}

// blocks returns how many blocks of size inc cover n values.
func blocks(n, inc int) int {
	return (n + inc - 1) / inc
}

func slice(values []int32, index, inc int) []int32 {
	start := index * inc
	end := start + inc
	if end > len(values) {
		end = len(values)
	}
	return values[start:end]
}

func outputArray(env *analytic.Env, name string) (*IntegerArray, error) {
	if !env.HasOutputs() {
		return nil, nil
	}
	obj, err := env.Output(name)
	if err != nil {
		return nil, err
	}
	arr, ok := obj.Payload().(*IntegerArray)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeTypeMismatch, "output %q is not an integer array", name)
	}
	return arr, nil
}

func inputArray(env *analytic.Env, name string) (*IntegerArray, error) {
	obj, err := env.Input(name)
	if err != nil {
		return nil, err
	}
	arr, ok := obj.Payload().(*IntegerArray)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeTypeMismatch, "input %q is not an integer array", name)
	}
	return arr, nil
}
