// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"fmt"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/gomlx/mdarray/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Descriptor binds the logical shape of an array to the layout of its memory.
type Descriptor struct {
	shapes.Shape
	Layout layouts.Layout
}

// NewDescriptor returns a descriptor for an array of dtype and dims stored with layout.
//
// It fails (wrapping layouts.ErrUnsupportedRank) if the layout doesn't have the rank of dims,
// or if any dimension is not positive.
func NewDescriptor(dtype dtypes.DType, layout layouts.Layout, dims ...int) (Descriptor, error) {
	if err := layout.CheckDims(dims); err != nil {
		return Descriptor{}, err
	}
	shape, err := shapes.MakeChecked(dtype, dims...)
	if err != nil {
		return Descriptor{}, err
	}
	return Descriptor{Shape: shape, Layout: layout}, nil
}

// Size returns the number of bytes used by the array in memory, including padding
// of blocked layouts.
func (d Descriptor) Size() int {
	return d.Layout.PhysicalSize(d.Dimensions) * int(d.DType.Memory())
}

// IsPublic returns whether the layout is canonical, and hence the memory can be published as is.
func (d Descriptor) IsPublic() bool {
	return d.Layout.IsCanonical()
}

// WithLayout returns a copy of the descriptor with a different layout.
func (d Descriptor) WithLayout(layout layouts.Layout) Descriptor {
	return Descriptor{Shape: d.Shape.Clone(), Layout: layout}
}

// String implements fmt.Stringer.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s@%s", d.Shape, d.Layout)
}

// Memory is a block of bytes holding an array described by Descriptor.
type Memory struct {
	Descriptor
	Data []byte
}

// Check returns an error if Data is too small for the descriptor.
func (m Memory) Check() error {
	if size := m.Size(); len(m.Data) < size {
		return errors.Errorf("memory for %s requires %d bytes, only %d available", m.Descriptor, size, len(m.Data))
	}
	return nil
}
