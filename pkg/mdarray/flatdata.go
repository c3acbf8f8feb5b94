// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/pkg/errors"
)

// Element lists the Go types of the supported element types.
type Element interface {
	float32 | int32 | int16 | int8 | uint8
}

// DTypeOf returns the dtype corresponding to the Go type T.
func DTypeOf[T Element]() dtypes.DType {
	var v T
	switch any(v).(type) {
	case float32:
		return dtypes.Float32
	case int32:
		return dtypes.Int32
	case int16:
		return dtypes.Int16
	case int8:
		return dtypes.Int8
	case uint8:
		return dtypes.Uint8
	}
	return dtypes.InvalidDType
}

func castFlat[T Element](data []byte) []T {
	var v T
	n := len(data) / int(unsafe.Sizeof(v))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), n)
}

func checkElement[T Element](a *Array, fnName string) error {
	if a.IsReleased() {
		return ErrReleased
	}
	if want := DTypeOf[T](); a.desc.DType != want {
		var v T
		return errors.Errorf("%s[%T] is incompatible with array's dtype %s -- expected dtype %s",
			fnName, v, a.desc.DType, want)
	}
	return nil
}

// FromFlatData creates an array in the canonical layout for dims and role, with a copy of data
// in row-major order.
func FromFlatData[T Element](data []T, role layouts.Role, dims ...int) (*Array, error) {
	a, err := New(dims, DTypeOf[T](), role)
	if err != nil {
		return nil, err
	}
	if len(data) != a.Size() {
		a.Release()
		return nil, errors.Errorf("FromFlatData: %d values given for dimensions %v, which requires %d values",
			len(data), dims, a.Size())
	}
	copy(castFlat[T](a.Bytes()), data)
	return a, nil
}

// ConstFlatData calls accessFn with the contents of the array in row-major order.
// For arrays in a non-canonical layout, flat is a converted copy, and changes to it are lost.
//
// flat is only valid until accessFn returns.
func ConstFlatData[T Element](a *Array, accessFn func(flat []T)) error {
	if err := checkElement[T](a, "ConstFlatData"); err != nil {
		return err
	}
	r, err := a.CanonicalView()
	if err != nil {
		return err
	}
	defer r.Release()
	accessFn(castFlat[T](r.Data()))
	return nil
}

// MutableFlatData calls accessFn with the contents of the array in row-major order, which can be
// changed until accessFn returns. For arrays in a non-canonical layout, the changes are converted
// back into the array after accessFn returns.
//
// The array should not be otherwise used while accessFn runs.
func MutableFlatData[T Element](a *Array, accessFn func(flat []T)) error {
	if err := checkElement[T](a, "MutableFlatData"); err != nil {
		return err
	}
	if a.readOnly {
		return errors.Wrapf(ErrReadOnly, "MutableFlatData of %s", a.desc)
	}
	r, err := a.CanonicalView()
	if err != nil {
		return err
	}
	defer r.Release()
	accessFn(castFlat[T](r.Data()))
	return r.Sync()
}

// CopyFlatData returns a copy of the contents of the array in row-major order.
func CopyFlatData[T Element](a *Array) ([]T, error) {
	var flatCopy []T
	err := ConstFlatData(a, func(flat []T) {
		flatCopy = make([]T, len(flat))
		copy(flatCopy, flat)
	})
	return flatCopy, err
}

// AssignFlatData copies fromFlat, in row-major order, into the array.
func AssignFlatData[T Element](a *Array, fromFlat []T) error {
	if len(fromFlat) != a.Size() {
		var v T
		return errors.Errorf("AssignFlatData[%T] is trying to store %d values into shape %s, which requires %d values",
			v, len(fromFlat), a.desc.Shape, a.Size())
	}
	return MutableFlatData(a, func(flat []T) {
		copy(flat, fromFlat)
	})
}
