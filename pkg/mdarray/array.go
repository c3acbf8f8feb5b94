// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package mdarray implements Array, a multidimensional array whose memory may be stored in an
// optimized internal layout of the compute engine, and that can be published to foreign runtimes
// in the canonical row-major layout through the buffer-exchange protocol (see package exchange).
//
// The memory of an Array is held by a reference counted Buffer, which is either allocated (and
// owned) by the package, or borrowed from a foreign runtime. Clones of an array share the same
// Buffer.
//
// There are various ways to construct an Array:
//
//   - New(dims, dtype, role): a zero-filled array in the canonical layout for its rank and role.
//   - NewWithLayout(dtype, layout, dims...): a zero-filled array in the given layout.
//   - Wrap(desc, data): an array aliasing memory owned by the caller.
//   - FromDescriptor(view, role) and FromExporter(exporter, role): from a foreign buffer. Foreign
//     memory whose base pointer is aligned is borrowed, otherwise it is copied.
//   - FromFlatData(data, role, dims...): from a Go slice, copied.
//
// The canonical view of an array is obtained with a Reorderer (see Array.CanonicalView): if the
// layout is already canonical it aliases the array memory, otherwise it converts it to a cache,
// and Reorderer.Sync converts modifications back.
//
// Arrays should be released with Array.Release when no longer needed. Arrays collected by the
// garbage collector without being released are released then, with a warning.
//
// An Array is not safe for concurrent use when its canonical view is being modified: at most one
// writable view (see MutableFlatData and Export) should be in use at a time.
package mdarray

import (
	"fmt"
	"runtime"
	"slices"
	"sync/atomic"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mdarray/backends"
	"github.com/gomlx/mdarray/pkg/config"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/gomlx/mdarray/pkg/core/shapes"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Array is a multidimensional array with Float32, Int32, Int16, Int8 or Uint8 elements, of rank 1, 2 or 4.
type Array struct {
	desc     backends.Descriptor
	role     layouts.Role
	engine   backends.Engine
	readOnly bool

	// refs is separate from the Array, so the cleanup can release it.
	refs *arrayRefs
}

// arrayRefs holds the references an Array has to its memory.
type arrayRefs struct {
	buf      *Buffer
	view     *viewBinding
	released atomic.Bool
	exports  atomic.Int64
}

// release drops the references. It returns false if they were already released.
func (r *arrayRefs) release() bool {
	if !r.released.CompareAndSwap(false, true) {
		return false
	}
	r.buf.decRef()
	r.view.release()
	return true
}

func newArray(desc backends.Descriptor, role layouts.Role, engine backends.Engine, buf *Buffer, view *viewBinding) *Array {
	a := &Array{
		desc:   desc,
		role:   role,
		engine: engine,
		refs:   &arrayRefs{buf: buf, view: view},
	}
	if view != nil {
		a.readOnly = view.descriptor().ReadOnly
	}
	runtime.AddCleanup(a, func(refs *arrayRefs) {
		if refs.release() {
			klog.Warningf("mdarray: array %s garbage collected without being released", desc)
		}
	}, a.refs)
	return a
}

func checkDType(dtype dtypes.DType) error {
	if !formats.IsSupported(dtype) {
		return errors.Wrapf(ErrUnsupportedDataType, "dtype %s", dtype)
	}
	return nil
}

// New allocates a zero-filled array with the given dimensions and dtype, in the canonical
// layout for its rank and role: X for rank 1, NC/OI for rank 2 and NCHW/OIHW for rank 4.
//
// It fails with ErrUnsupportedRank for other ranks and with ErrUnsupportedDataType for
// dtypes other than Float32, Int32, Int16, Int8 and Uint8.
func New(dims []int, dtype dtypes.DType, role layouts.Role) (*Array, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	layout, err := layouts.ForRank(len(dims), role)
	if err != nil {
		return nil, errors.WithMessagef(err, "mdarray.New(%v, %s)", dims, dtype)
	}
	return newWithLayout(dtype, layout, role, dims)
}

// NewWithLayout allocates a zero-filled array in the given internal layout.
// The role of the array is the role of the layout.
func NewWithLayout(dtype dtypes.DType, layout layouts.Layout, dims ...int) (*Array, error) {
	if err := checkDType(dtype); err != nil {
		return nil, err
	}
	return newWithLayout(dtype, layout, layout.Role(), dims)
}

func newWithLayout(dtype dtypes.DType, layout layouts.Layout, role layouts.Role, dims []int) (*Array, error) {
	desc, err := backends.NewDescriptor(dtype, layout, dims...)
	if err != nil {
		return nil, err
	}
	engine, err := backends.Default()
	if err != nil {
		return nil, err
	}
	buf, err := newOwnedBuffer(desc.Size())
	if err != nil {
		return nil, errors.WithMessagef(err, "mdarray: allocating %s", desc)
	}
	return newArray(desc, role, engine, buf, nil), nil
}

// Wrap returns an array aliasing data, described by desc. The array doesn't own data, and the
// caller must keep it valid (and not reuse it) while the array or its clones are in use.
//
// data must be large enough for desc (see backends.Descriptor.Size) and aligned to the element size.
func Wrap(desc backends.Descriptor, data []byte) (*Array, error) {
	if err := checkDType(desc.DType); err != nil {
		return nil, err
	}
	if err := desc.Layout.CheckDims(desc.Dimensions); err != nil {
		return nil, err
	}
	if len(data) < desc.Size() {
		return nil, errors.Errorf("mdarray.Wrap: %s requires %d bytes, got %d", desc, desc.Size(), len(data))
	}
	if itemSize := int(desc.DType.Memory()); uintptr(unsafe.Pointer(unsafe.SliceData(data)))%uintptr(itemSize) != 0 {
		return nil, errors.Errorf("mdarray.Wrap: data for %s not aligned to %d bytes", desc, itemSize)
	}
	engine, err := backends.Default()
	if err != nil {
		return nil, err
	}
	desc = backends.Descriptor{Shape: desc.Shape.Clone(), Layout: desc.Layout}
	return newArray(desc, desc.Layout.Role(), engine, newBorrowedBuffer(data[:desc.Size()]), nil), nil
}

// FromDescriptor returns an array from a foreign buffer described by view, with the
// given role for rank 2 and rank 4 arrays.
//
// The element type is taken from the view format, see formats.FromFormat. If the base pointer of
// the view is aligned to config.Get().Alignment the memory is borrowed and the view stays bound to
// the array (and its clones) until released. Otherwise, the memory is copied and the view is
// released immediately.
//
// It takes ownership of view: on error the view is released.
func FromDescriptor(view *exchange.Descriptor, role layouts.Role) (array *Array, err error) {
	ingested := false
	defer func() {
		if !ingested {
			if releaseErr := view.Release(); releaseErr != nil {
				klog.Errorf("mdarray: failed to release foreign view: %+v", releaseErr)
			}
		}
	}()

	format := view.Format
	if format == "" {
		format = "B"
	}
	dtype, err := formats.FromFormat(format)
	if err != nil {
		return nil, err
	}
	if err = view.Validate(); err != nil {
		return nil, err
	}
	if itemSize := int(dtype.Memory()); view.ItemSize != itemSize {
		return nil, errors.Wrapf(ErrForeignDescriptorInvalid, "format %q has item size %d, descriptor has %d",
			view.Format, itemSize, view.ItemSize)
	}
	dims := view.Shape
	if dims == nil {
		dims = []int{view.Len / view.ItemSize}
	}
	if !view.IsContiguous() {
		return nil, errors.Wrapf(ErrForeignDescriptorInvalid, "strides %v of shape %v are not C-contiguous", view.Strides, dims)
	}
	layout, err := layouts.ForRank(len(dims), role)
	if err != nil {
		return nil, err
	}
	desc, err := backends.NewDescriptor(dtype, layout, dims...)
	if err != nil {
		return nil, errors.Wrapf(ErrForeignDescriptorInvalid, "%v", err)
	}
	engine, err := backends.Default()
	if err != nil {
		return nil, err
	}

	ingested = true
	buf, binding, err := ingest(view, desc.Size(), config.Get().Alignment)
	if err != nil {
		return nil, err
	}
	return newArray(desc, role, engine, buf, binding), nil
}

// FromExporter acquires a read-only, format and strides view from exporter and returns
// FromDescriptor of it.
func FromExporter(exporter exchange.Exporter, role layouts.Role) (*Array, error) {
	view, err := exchange.Acquire(exporter, exchange.FlagFormat|exchange.FlagStrides)
	if err != nil {
		return nil, err
	}
	return FromDescriptor(view, role)
}

// Clone returns a new array sharing the memory of a. If a is bound to a foreign view,
// the clone holds its own binding to it.
func (a *Array) Clone() (*Array, error) {
	if a.IsReleased() {
		return nil, ErrReleased
	}
	var view *viewBinding
	if a.refs.view != nil {
		view = a.refs.view.duplicate()
	}
	clone := newArray(a.desc, a.role, a.engine, a.refs.buf.incRef(), view)
	clone.readOnly = a.readOnly
	return clone, nil
}

// Release the memory references held by the array. The memory is freed (or the foreign view
// released) once all its clones are also released.
//
// It is safe to call it more than once.
func (a *Array) Release() {
	if a == nil {
		return
	}
	if exports := a.refs.exports.Load(); exports > 0 {
		klog.Warningf("mdarray: array %s released with %d views still exported", a.desc, exports)
	}
	a.refs.release()
}

// IsReleased returns whether Release has been called.
func (a *Array) IsReleased() bool { return a.refs.released.Load() }

// Reorder returns a new array with the contents of a stored in layout, which must have the
// same rank. The new array has the role of the layout.
func (a *Array) Reorder(layout layouts.Layout) (*Array, error) {
	if a.IsReleased() {
		return nil, ErrReleased
	}
	out, err := newWithLayout(a.desc.DType, layout, layout.Role(), a.desc.Dimensions)
	if err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("mdarray: reorder %s -> %s", a.desc, out.desc)
	}
	if err := a.engine.Reorder(a.memory(), out.memory()); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Reshape returns an array sharing the memory of a with new dimensions, with the same number of
// elements.
//
// Only arrays in a canonical layout that own (or were wrapped around) their memory can be
// reshaped: arrays bound to a foreign view fail with ErrViewBound, since the foreign side
// would not see the new shape, and arrays in other layouts fail with ErrLayoutMismatch.
func (a *Array) Reshape(dims ...int) (*Array, error) {
	if a.IsReleased() {
		return nil, ErrReleased
	}
	if a.refs.view != nil {
		return nil, errors.Wrapf(ErrViewBound, "can't reshape %s", a.desc)
	}
	if !a.IsCanonical() {
		return nil, errors.Wrapf(ErrLayoutMismatch, "can't reshape %s, reorder it to a canonical layout first", a.desc)
	}
	layout, err := layouts.ForRank(len(dims), a.role)
	if err != nil {
		return nil, err
	}
	desc, err := backends.NewDescriptor(a.desc.DType, layout, dims...)
	if err != nil {
		return nil, err
	}
	if desc.Size() != a.desc.Size() {
		return nil, errors.Errorf("can't reshape %s to %v: the number of elements differ", a.desc, dims)
	}
	reshaped := newArray(desc, a.role, a.engine, a.refs.buf.incRef(), nil)
	reshaped.readOnly = a.readOnly
	return reshaped, nil
}

// memory returns the internal memory of the array.
func (a *Array) memory() backends.Memory {
	return backends.Memory{Descriptor: a.desc, Data: a.refs.buf.data}
}

// IncRef implements exchange.Owner, counting the views exported.
func (a *Array) IncRef() { a.refs.exports.Add(1) }

// DecRef implements exchange.Owner.
func (a *Array) DecRef() { a.refs.exports.Add(-1) }

// Exports returns the number of views of the array currently exported.
func (a *Array) Exports() int64 { return a.refs.exports.Load() }

// Shape returns the logical shape of the array.
func (a *Array) Shape() shapes.Shape { return a.desc.Shape.Clone() }

// DType returns the element type.
func (a *Array) DType() dtypes.DType { return a.desc.DType }

// Dims returns a copy of the dimensions.
func (a *Array) Dims() []int { return slices.Clone(a.desc.Dimensions) }

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return a.desc.Rank() }

// Layout returns the internal layout.
func (a *Array) Layout() layouts.Layout { return a.desc.Layout }

// Role returns whether the array holds data or weights.
func (a *Array) Role() layouts.Role { return a.role }

// Descriptor returns the engine descriptor of the array.
func (a *Array) Descriptor() backends.Descriptor {
	return a.desc.WithLayout(a.desc.Layout)
}

// Engine used to reorder the array.
func (a *Array) Engine() backends.Engine { return a.engine }

// Size returns the number of elements.
func (a *Array) Size() int { return a.desc.Shape.Size() }

// Memory returns the number of bytes of the elements, not including the padding of blocked layouts.
func (a *Array) Memory() uintptr { return a.desc.Shape.Memory() }

// Bytes returns the internal memory of the array, in its internal layout. It is nil after Release.
func (a *Array) Bytes() []byte {
	if a.IsReleased() {
		return nil
	}
	return a.refs.buf.data
}

// DataPtr returns the address of the first byte of the internal memory, or nil after Release.
func (a *Array) DataPtr() unsafe.Pointer {
	if a.IsReleased() {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(a.refs.buf.data))
}

// Buffer returns the buffer holding the memory of the array.
func (a *Array) Buffer() *Buffer { return a.refs.buf }

// IsCanonical returns whether the internal layout is canonical.
func (a *Array) IsCanonical() bool { return a.desc.Layout.IsCanonical() }

// HasView returns whether the array aliases the memory of a bound foreign view.
func (a *Array) HasView() bool { return a.refs.view != nil }

// OwnsMemory returns whether the memory of the array is owned by its buffer.
func (a *Array) OwnsMemory() bool { return a.refs.buf.OwnsMemory() }

// IsReadOnly returns whether the array aliases read-only foreign memory.
func (a *Array) IsReadOnly() bool { return a.readOnly }

// String implements fmt.Stringer.
func (a *Array) String() string {
	if a.IsReleased() {
		return fmt.Sprintf("mdarray.Array(%s, released)", a.desc)
	}
	return fmt.Sprintf("mdarray.Array(%s, %s, %s)", a.desc, a.role, humanize.Bytes(uint64(a.desc.Size())))
}
