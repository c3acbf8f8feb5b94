// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package forward forwards arithmetic operators on arrays to a generic array-processing Backend.
//
// Each array operand is exported in its canonical layout (see mdarray.Export), the Backend
// computes the operation on the exported views, and the result is ingested back as a new array.
// For in-place operators the first operand is exported writable, the Backend writes the result
// into it, and it is synchronized back into the array when the view is released.
//
// The Backend implements the numeric kernels, see package hostops for one.
package forward

import (
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/gomlx/mdarray/pkg/mdarray"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrUnsupportedOp is returned for operators not forwarded, or not implemented by the backend
// for the given operands.
var ErrUnsupportedOp = errors.New("unsupported operation")

// Kind of operand.
type Kind int

const (
	// KindNone is an absent operand, like the modulo of Power.
	KindNone Kind = iota
	KindArray
	KindScalar
)

// Arg is an argument of an operator: an array, a scalar or none. The zero value is none.
type Arg struct {
	kind   Kind
	array  *mdarray.Array
	scalar float64
}

// ArrayArg returns an array argument.
func ArrayArg(a *mdarray.Array) Arg { return Arg{kind: KindArray, array: a} }

// ScalarArg returns a scalar argument.
func ScalarArg(value float64) Arg { return Arg{kind: KindScalar, scalar: value} }

// None is the absent argument.
var None = Arg{}

// Kind returns the kind of argument.
func (arg Arg) Kind() Kind { return arg.kind }

// Operand as given to the Backend: the exported view of an array argument, or a scalar.
type Operand struct {
	Kind   Kind
	View   *exchange.Descriptor
	Scalar float64
}

// Backend implements the numeric operations on exported views.
type Backend interface {
	// Name of the backend.
	Name() string

	// Compute op over operands.
	//
	// If out is nil, it returns a new descriptor with the result, owned by the caller, whose
	// element format is the format of the first array operand.
	// Otherwise, op is computed in place: the result is written into out (which is also
	// operands[0].View) and the returned descriptor is nil.
	Compute(op Op, operands []Operand, out *exchange.Descriptor) (*exchange.Descriptor, error)
}

// Unary forwards op (Negative, Positive, Absolute, Invert) on a.
func Unary(backend Backend, op Op, a *mdarray.Array) (*mdarray.Array, error) {
	return Apply(backend, op, ArrayArg(a))
}

// Binary forwards a binary op. At least one of left or right must be an array.
// For in-place ops, left must be an array and it is returned.
func Binary(backend Backend, op Op, left, right Arg) (*mdarray.Array, error) {
	return Apply(backend, op, left, right)
}

// Ternary forwards Power or InPlacePower. modulo is usually None.
func Ternary(backend Backend, op Op, base, exponent, modulo Arg) (*mdarray.Array, error) {
	return Apply(backend, op, base, exponent, modulo)
}

// Apply forwards op with the given arguments to backend.
//
// Out-of-place ops return a new array, with the role of the first array argument. In-place ops
// return the first argument, after the result has been written back into it.
func Apply(backend Backend, op Op, args ...Arg) (result *mdarray.Array, err error) {
	e, found := dispatch[op]
	if !found {
		return nil, errors.Wrapf(ErrUnsupportedOp, "operator %s is not forwarded", op)
	}
	if len(args) != e.arity {
		return nil, errors.Errorf("operator %s takes %d operands, %d given", op, e.arity, len(args))
	}
	var first *mdarray.Array
	for ii, arg := range args {
		if arg.kind == KindArray {
			if arg.array == nil {
				return nil, errors.Errorf("operator %s: operand #%d is a nil array", op, ii)
			}
			if first == nil {
				first = arg.array
			}
		} else if arg.kind == KindNone && ii < 2 {
			return nil, errors.Errorf("operator %s: operand #%d is missing", op, ii)
		}
	}
	if first == nil {
		return nil, errors.Errorf("operator %s requires at least one array operand", op)
	}
	if e.inPlace && args[0].kind != KindArray {
		return nil, errors.Errorf("in-place operator %s requires an array as first operand", op)
	}

	// Export the views, and release them on every exit path: writable views are synced back
	// on release.
	operands := make([]Operand, len(args))
	defer func() {
		for ii := len(operands) - 1; ii >= 0; ii-- {
			if operands[ii].View == nil {
				continue
			}
			if releaseErr := operands[ii].View.Release(); releaseErr != nil {
				if err == nil {
					result, err = nil, releaseErr
				} else {
					klog.Errorf("forward: failed to release operand #%d of %s: %+v", ii, op, releaseErr)
				}
			}
		}
	}()
	for ii, arg := range args {
		operands[ii] = Operand{Kind: arg.kind, Scalar: arg.scalar}
		if arg.kind != KindArray {
			continue
		}
		flags := exchange.FlagFormat | exchange.FlagStrides
		if e.inPlace && ii == 0 {
			flags |= exchange.FlagWritable
		}
		view, err := mdarray.Export(arg.array, flags)
		if err != nil {
			return nil, errors.WithMessagef(err, "forward: exporting operand #%d of %s", ii, op)
		}
		operands[ii].View = view
	}

	if klog.V(2).Enabled() {
		klog.Infof("forward: %s -> %s.%s", op, backend.Name(), e.target)
	}
	if e.inPlace {
		if _, err := backend.Compute(e.target, operands, operands[0].View); err != nil {
			return nil, err
		}
		return args[0].array, nil
	}
	out, err := backend.Compute(e.target, operands, nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.Errorf("forward: backend %s returned no result for %s", backend.Name(), op)
	}
	role := first.Role()
	if len(out.Shape) != first.Rank() {
		// Rank changed (e.g. matrix multiplication of vectors): use the default role.
		role = layouts.Data
	}
	return mdarray.FromDescriptor(out, role)
}
