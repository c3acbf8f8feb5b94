// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exchange implements the buffer-exchange protocol used to share array memory with
// foreign runtimes without copies.
//
// A consumer asks an Exporter for a view of its memory with Acquire, and gets a Descriptor
// with the base memory, the shape, the byte strides and the element format. The descriptor
// holds a reference to its Owner until Descriptor.Release is called, which must happen exactly
// once per acquired descriptor.
//
// Element formats are single character codes, see package formats.
package exchange

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/mdarray/pkg/core/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrForeignDescriptorInvalid is returned when a descriptor given by a foreign exporter is malformed.
var ErrForeignDescriptorInvalid = errors.New("invalid foreign buffer descriptor")

// Flags requested by the consumer of a buffer.
type Flags int

const (
	// FlagSimple requests only the base memory and its length.
	FlagSimple Flags = 0

	// FlagWritable requests a view the consumer can write to.
	FlagWritable Flags = 0x0001

	// FlagFormat requests the element format to be filled.
	FlagFormat Flags = 0x0004

	// FlagND requests the shape to be filled.
	FlagND Flags = 0x0008

	// FlagStrides requests the strides (and the shape) to be filled.
	FlagStrides Flags = 0x0010 | FlagND

	// FlagFull is the usual request of array consumers.
	FlagFull = FlagWritable | FlagFormat | FlagStrides
)

// Has returns whether all the bits of mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Owner is the object whose memory is exported. Each Descriptor holds one reference to its owner.
type Owner interface {
	IncRef()
	DecRef()
}

// Exporter is implemented by objects that can export their memory.
type Exporter interface {
	// GetBuffer fills view according to flags. On success the view must hold a reference to the
	// owner of the memory (see Fill). On failure the view must be left without owner.
	GetBuffer(view *Descriptor, flags Flags) error

	// ReleaseBuffer is called once when the consumer is done with view, before the reference to
	// the owner is dropped.
	ReleaseBuffer(view *Descriptor) error
}

// Descriptor of an exported view of memory.
type Descriptor struct {
	// Buf is the exported memory. Its first byte is the base pointer.
	Buf []byte

	// Len is the length of the view in bytes: product(Shape) * ItemSize.
	Len int

	// ItemSize is the size in bytes of each element.
	ItemSize int

	// Format is the element format code. Empty means unsigned bytes ("B").
	Format string

	// NDim is the number of dimensions of the view.
	NDim int

	// Shape holds the dimensions of the view. It is nil if FlagND was not requested.
	Shape []int

	// Strides in bytes of each dimension. nil means C-contiguous.
	Strides []int

	// ReadOnly is set if the consumer must not write to the view.
	ReadOnly bool

	// Owner of the memory, which stays alive until Release.
	Owner Owner

	// Flags requested when the view was acquired.
	Flags Flags

	// Internal is reserved for the exporter.
	Internal any

	exporter Exporter
	released bool
}

// Acquire asks exporter for a view of its memory with the given flags.
//
// The returned descriptor is validated, and it must be released with Descriptor.Release.
// A descriptor failing validation is released and ErrForeignDescriptorInvalid is returned.
func Acquire(exporter Exporter, flags Flags) (*Descriptor, error) {
	view := &Descriptor{Flags: flags}
	if err := exporter.GetBuffer(view, flags); err != nil {
		if view.Owner != nil {
			klog.Warningf("exchange: exporter %T failed but left an owner in the view, dropping it", exporter)
			view.Owner.DecRef()
			view.Owner = nil
		}
		return nil, errors.WithMessagef(err, "exchange: failed to acquire buffer from %T", exporter)
	}
	view.exporter = exporter
	if err := view.Validate(); err != nil {
		if releaseErr := view.Release(); releaseErr != nil {
			klog.Errorf("exchange: failed to release invalid view: %+v", releaseErr)
		}
		return nil, err
	}
	return view, nil
}

// Fill is used by exporters in GetBuffer to fill a view of a contiguous block of memory.
// It takes a reference to owner (if not nil).
//
// If shape is nil, the view is 1D with one element per byte.
func Fill(view *Descriptor, owner Owner, buf []byte, readOnly bool, format string, itemSize int, shape []int, flags Flags) error {
	if flags.Has(FlagWritable) && readOnly {
		return errors.New("exchange: writable view requested for read-only memory")
	}
	if shape == nil {
		shape, itemSize = []int{len(buf)}, 1
	}
	view.Buf = buf
	view.ItemSize = itemSize
	view.Len = product(shape) * itemSize
	view.ReadOnly = readOnly
	view.Flags = flags
	view.NDim = len(shape)
	if flags.Has(FlagFormat) {
		view.Format = format
	}
	if flags.Has(FlagND) {
		view.Shape = slices.Clone(shape)
	}
	if flags.Has(FlagStrides) {
		view.Strides = ContiguousStrides(shape, itemSize)
	}
	if owner != nil {
		owner.IncRef()
	}
	view.Owner = owner
	return nil
}

// Release the view: it calls the exporter's ReleaseBuffer and drops the reference to the owner.
//
// Only the first call has any effect, following calls return nil.
// The owner reference is dropped even if ReleaseBuffer fails, and its error is returned.
func (view *Descriptor) Release() error {
	if view == nil || view.released {
		return nil
	}
	view.released = true
	var err error
	if view.exporter != nil {
		err = view.exporter.ReleaseBuffer(view)
		view.exporter = nil
	}
	if view.Owner != nil {
		view.Owner.DecRef()
		view.Owner = nil
	}
	return err
}

// IsReleased returns whether Release has already been called.
func (view *Descriptor) IsReleased() bool { return view.released }

// Validate checks that the fields of the descriptor are consistent.
// All errors wrap ErrForeignDescriptorInvalid.
func (view *Descriptor) Validate() error {
	if view.ItemSize <= 0 {
		return errors.Wrapf(ErrForeignDescriptorInvalid, "item size %d", view.ItemSize)
	}
	if view.Len < 0 || view.Len > len(view.Buf) {
		return errors.Wrapf(ErrForeignDescriptorInvalid, "length %d but %d bytes available", view.Len, len(view.Buf))
	}
	if view.Shape == nil {
		// Simple 1D view.
		if view.Len%view.ItemSize != 0 {
			return errors.Wrapf(ErrForeignDescriptorInvalid, "length %d not a multiple of item size %d", view.Len, view.ItemSize)
		}
		return nil
	}
	if view.NDim != len(view.Shape) {
		return errors.Wrapf(ErrForeignDescriptorInvalid, "ndim %d but shape %v", view.NDim, view.Shape)
	}
	size := 1
	for axis, dim := range view.Shape {
		if dim <= 0 {
			return errors.Wrapf(ErrForeignDescriptorInvalid, "axis %d has dimension %d in shape %v", axis, dim, view.Shape)
		}
		if size > math.MaxInt/dim {
			return errors.Wrapf(ErrForeignDescriptorInvalid, "shape %v overflows", view.Shape)
		}
		size *= dim
	}
	if size*view.ItemSize != view.Len {
		return errors.Wrapf(ErrForeignDescriptorInvalid, "length %d doesn't match shape %v with item size %d",
			view.Len, view.Shape, view.ItemSize)
	}
	if view.Strides != nil {
		if len(view.Strides) != view.NDim {
			return errors.Wrapf(ErrForeignDescriptorInvalid, "strides %v for shape %v", view.Strides, view.Shape)
		}
		maxOffset := 0
		for axis, stride := range view.Strides {
			if stride < 0 {
				return errors.Wrapf(ErrForeignDescriptorInvalid, "negative stride %d at axis %d", stride, axis)
			}
			maxOffset += stride * (view.Shape[axis] - 1)
		}
		if maxOffset+view.ItemSize > len(view.Buf) {
			return errors.Wrapf(ErrForeignDescriptorInvalid, "strides %v reach outside the %d bytes of the buffer",
				view.Strides, len(view.Buf))
		}
	}
	return nil
}

// IsContiguous returns whether the view is C-contiguous (row-major without gaps).
func (view *Descriptor) IsContiguous() bool {
	if view.Strides == nil || view.Shape == nil {
		return true
	}
	want := ContiguousStrides(view.Shape, view.ItemSize)
	for axis, stride := range view.Strides {
		// Strides of axes of dimension 1 are irrelevant.
		if view.Shape[axis] > 1 && stride != want[axis] {
			return false
		}
	}
	return true
}

// Data returns the Len bytes of the view.
func (view *Descriptor) Data() []byte {
	return view.Buf[:view.Len]
}

// String implements fmt.Stringer.
func (view *Descriptor) String() string {
	return fmt.Sprintf("exchange.Descriptor{format=%q, itemsize=%d, shape=%v, strides=%v, len=%d, readonly=%v}",
		view.Format, view.ItemSize, view.Shape, view.Strides, view.Len, view.ReadOnly)
}

// ContiguousStrides returns the C-contiguous byte strides for shape.
func ContiguousStrides(shape []int, itemSize int) []int {
	return shapes.RowMajorStrides(shape, itemSize)
}

func product(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}
