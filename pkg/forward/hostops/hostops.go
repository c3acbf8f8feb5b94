// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package hostops implements a forward.Backend on the host CPU, using gonum.
//
// Values are computed in float64 (or int64 for bitwise operations) and converted to the element
// type of the first array operand. Operands must have the same shape, or be scalars.
package hostops

import (
	"math"
	"slices"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/gomlx/mdarray/pkg/forward"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Backend implements forward.Backend.
type Backend struct{}

var _ forward.Backend = Backend{}

// New returns the host backend.
func New() Backend { return Backend{} }

// Name implements forward.Backend.
func (Backend) Name() string { return "hostops" }

// operand decoded to float64.
type operand struct {
	isScalar bool
	scalar   float64
	values   []float64
	shape    []int
	dtype    dtypes.DType
}

func decode(op forward.Operand) (operand, error) {
	if op.Kind == forward.KindScalar {
		return operand{isScalar: true, scalar: op.Scalar}, nil
	}
	view := op.View
	format := view.Format
	if format == "" {
		format = "B"
	}
	dtype, err := formats.FromFormat(format)
	if err != nil {
		return operand{}, err
	}
	if !view.IsContiguous() {
		return operand{}, errors.Wrapf(exchange.ErrForeignDescriptorInvalid, "hostops requires contiguous views, got %s", view)
	}
	shape := view.Shape
	if shape == nil {
		shape = []int{view.Len / view.ItemSize}
	}
	values := make([]float64, view.Len/view.ItemSize)
	data := view.Data()
	switch dtype {
	case dtypes.Float32:
		toFloat64(cast[float32](data), values)
	case dtypes.Int32:
		toFloat64(cast[int32](data), values)
	case dtypes.Int16:
		toFloat64(cast[int16](data), values)
	case dtypes.Int8:
		toFloat64(cast[int8](data), values)
	case dtypes.Uint8:
		toFloat64(data, values)
	}
	return operand{values: values, shape: slices.Clone(shape), dtype: dtype}, nil
}

type element interface {
	float32 | int32 | int16 | int8 | uint8
}

func cast[T element](data []byte) []T {
	var v T
	n := len(data) / int(unsafe.Sizeof(v))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
}

func toFloat64[T element](src []T, dst []float64) {
	for ii, v := range src {
		dst[ii] = float64(v)
	}
}

func fromFloat64[T element](src []float64, dst []T) {
	var zero T
	_, isFloat := any(zero).(float32)
	for ii, v := range src {
		if isFloat {
			dst[ii] = T(v)
		} else {
			// Integer conversion wraps around, like a C cast from int64.
			dst[ii] = T(int64(v))
		}
	}
}

func encode(values []float64, dtype dtypes.DType, dst []byte) {
	switch dtype {
	case dtypes.Float32:
		fromFloat64(values, cast[float32](dst))
	case dtypes.Int32:
		fromFloat64(values, cast[int32](dst))
	case dtypes.Int16:
		fromFloat64(values, cast[int16](dst))
	case dtypes.Int8:
		fromFloat64(values, cast[int8](dst))
	case dtypes.Uint8:
		fromFloat64(values, dst)
	}
}

// Compute implements forward.Backend.
func (Backend) Compute(op forward.Op, operands []forward.Operand, out *exchange.Descriptor) (*exchange.Descriptor, error) {
	decoded := make([]operand, 0, len(operands))
	var first *operand
	for _, o := range operands {
		if o.Kind == forward.KindNone {
			continue
		}
		d, err := decode(o)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, d)
	}
	for ii := range decoded {
		if !decoded[ii].isScalar {
			first = &decoded[ii]
			break
		}
	}
	if first == nil {
		return nil, errors.Errorf("hostops: %s requires an array operand", op)
	}

	var (
		values []float64
		shape  []int
		err    error
	)
	if op == forward.MatrixMultiply {
		values, shape, err = matMul(decoded)
	} else {
		values, shape, err = elementwise(op, decoded, first)
	}
	if err != nil {
		return nil, err
	}

	if out != nil {
		if !slices.Equal(out.Shape, shape) {
			return nil, errors.Errorf("hostops: in-place %s result has shape %v, but output has shape %v", op, shape, out.Shape)
		}
		if out.ReadOnly {
			return nil, errors.Errorf("hostops: in-place %s into read-only view", op)
		}
		encode(values, first.dtype, out.Data())
		return nil, nil
	}
	return newResult(values, first.dtype, shape)
}

// newResult stores values in a new host buffer and returns a view of it, which holds the
// only reference to the buffer.
func newResult(values []float64, dtype dtypes.DType, shape []int) (*exchange.Descriptor, error) {
	format, err := formats.Format(dtype)
	if err != nil {
		return nil, err
	}
	data := make([]byte, len(values)*int(dtype.Memory()))
	encode(values, dtype, data)
	hb, err := exchange.NewHostBuffer(data, format, shape...)
	if err != nil {
		return nil, err
	}
	defer hb.DecRef()
	return exchange.Acquire(hb, exchange.FlagFormat|exchange.FlagStrides)
}

func elementwise(op forward.Op, operands []operand, first *operand) ([]float64, []int, error) {
	n := len(first.values)
	for _, o := range operands {
		if !o.isScalar && !slices.Equal(o.shape, first.shape) {
			return nil, nil, errors.Errorf("hostops: %s of incompatible shapes %v and %v", op, first.shape, o.shape)
		}
	}
	expand := func(o operand) []float64 {
		if !o.isScalar {
			return o.values
		}
		values := make([]float64, n)
		for ii := range values {
			values[ii] = o.scalar
		}
		return values
	}
	isInteger := first.dtype != dtypes.Float32
	dst := make([]float64, n)

	switch op {
	case forward.Negative:
		copy(dst, first.values)
		floats.Scale(-1, dst)
	case forward.Positive:
		copy(dst, first.values)
	case forward.Absolute:
		for ii, v := range first.values {
			dst[ii] = math.Abs(v)
		}
	case forward.Add:
		if operands[1].isScalar {
			copy(dst, expand(operands[0]))
			floats.AddConst(operands[1].scalar, dst)
		} else {
			floats.AddTo(dst, expand(operands[0]), operands[1].values)
		}
	case forward.Subtract:
		floats.SubTo(dst, expand(operands[0]), expand(operands[1]))
	case forward.Multiply:
		if operands[1].isScalar {
			floats.ScaleTo(dst, operands[1].scalar, expand(operands[0]))
		} else {
			floats.MulTo(dst, expand(operands[0]), operands[1].values)
		}
	case forward.TrueDivide, forward.FloorDivide, forward.Remainder:
		x, y := expand(operands[0]), expand(operands[1])
		if isInteger && slices.Contains(y, 0) {
			return nil, nil, errors.Errorf("hostops: integer %s by zero", op)
		}
		switch op {
		case forward.TrueDivide:
			floats.DivTo(dst, x, y)
		case forward.FloorDivide:
			floats.DivTo(dst, x, y)
			for ii, v := range dst {
				dst[ii] = math.Floor(v)
			}
		default:
			for ii := range dst {
				dst[ii] = remainder(x[ii], y[ii])
			}
		}
	case forward.Power:
		if len(operands) > 2 {
			return nil, nil, errors.Wrapf(forward.ErrUnsupportedOp, "hostops: %s with modulo", op)
		}
		x, y := expand(operands[0]), expand(operands[1])
		for ii := range dst {
			dst[ii] = math.Pow(x[ii], y[ii])
		}
	case forward.Invert, forward.And, forward.Or, forward.Xor, forward.LeftShift, forward.RightShift:
		if !isInteger {
			return nil, nil, errors.Wrapf(forward.ErrUnsupportedOp, "hostops: %s of %s", op, first.dtype)
		}
		if op == forward.Invert {
			for ii, v := range first.values {
				dst[ii] = float64(^int64(v))
			}
			break
		}
		x, y := expand(operands[0]), expand(operands[1])
		for ii := range dst {
			a, b := int64(x[ii]), int64(y[ii])
			var r int64
			switch op {
			case forward.And:
				r = a & b
			case forward.Or:
				r = a | b
			case forward.Xor:
				r = a ^ b
			case forward.LeftShift, forward.RightShift:
				if b < 0 {
					return nil, nil, errors.Errorf("hostops: negative shift count %d", b)
				}
				if op == forward.LeftShift {
					r = a << uint(b)
				} else {
					r = a >> uint(b)
				}
			}
			dst[ii] = float64(r)
		}
	default:
		return nil, nil, errors.Wrapf(forward.ErrUnsupportedOp, "hostops: %s", op)
	}
	return dst, slices.Clone(first.shape), nil
}

// remainder has the sign of the divisor.
func remainder(x, y float64) float64 {
	r := math.Mod(x, y)
	if r != 0 && (r < 0) != (y < 0) {
		r += y
	}
	return r
}

func matMul(operands []operand) ([]float64, []int, error) {
	if len(operands) != 2 || operands[0].isScalar || operands[1].isScalar {
		return nil, nil, errors.New("hostops: MatrixMultiply requires two array operands")
	}
	x, y := operands[0], operands[1]
	if len(x.shape) != 2 || len(y.shape) != 2 {
		return nil, nil, errors.Wrapf(forward.ErrUnsupportedOp, "hostops: MatrixMultiply of shapes %v and %v, only matrices are supported",
			x.shape, y.shape)
	}
	if x.shape[1] != y.shape[0] {
		return nil, nil, errors.Errorf("hostops: MatrixMultiply of incompatible shapes %v and %v", x.shape, y.shape)
	}
	a := mat.NewDense(x.shape[0], x.shape[1], x.values)
	b := mat.NewDense(y.shape[0], y.shape[1], y.values)
	var c mat.Dense
	c.Mul(a, b)
	return c.RawMatrix().Data, []int{x.shape[0], y.shape[1]}, nil
}
