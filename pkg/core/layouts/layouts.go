// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layouts defines the memory layouts an array can have inside the compute engine.
//
// A layout is the order in which the logical axes are stored (outermost first), plus optional
// inner blocks: a blocked axis is split in an outer part, stored in the axes order, and an
// inner block of fixed size stored after all outer axes. Blocked axes are padded up to a
// multiple of the block size.
//
// The canonical layouts (X, NC, OI, NCHW, OIHW) are dense row-major, and they are the only ones
// published to consumers of the buffer-exchange protocol.
package layouts

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupportedRank is returned when no layout is defined for the rank of an array.
var ErrUnsupportedRank = errors.New("unsupported rank")

// Role distinguishes arrays holding data (activations) from arrays holding weights: they
// have different axes semantics and different optimized layouts.
type Role int

const (
	Data Role = iota
	Weight
)

// RoleFromTag converts the single character tag used by callers: 'd' is Data, anything else
// is Weight.
func RoleFromTag(tag byte) Role {
	if tag == 'd' {
		return Data
	}
	return Weight
}

// String implements fmt.Stringer.
func (r Role) String() string {
	switch r {
	case Data:
		return "data"
	case Weight:
		return "weight"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// Layout of an array in memory.
type Layout int

const (
	Undefined Layout = iota

	// X is the layout of rank-1 arrays.
	X

	// NC is the canonical layout of rank-2 data: batch, channels.
	NC
	// OI is the canonical layout of rank-2 weights: output channels, input channels.
	OI
	CN
	IO

	// NCHW is the canonical layout of rank-4 data: batch, channels, height, width.
	NCHW
	NHWC
	NChw8c
	NChw16c

	// OIHW is the canonical layout of rank-4 weights.
	OIHW
	HWIO
	OIhw8i8o
	OIhw16i16o

	numLayouts
)

// Block of an axis stored innermost.
type Block struct {
	Axis, Size int
}

type layoutInfo struct {
	name      string
	rank      int
	role      Role
	canonical bool
	order     []int
	blocks    []Block
}

var layoutInfos = [numLayouts]layoutInfo{
	Undefined:  {name: "undefined"},
	X:          {name: "x", rank: 1, role: Data, canonical: true, order: []int{0}},
	NC:         {name: "nc", rank: 2, role: Data, canonical: true, order: []int{0, 1}},
	OI:         {name: "oi", rank: 2, role: Weight, canonical: true, order: []int{0, 1}},
	CN:         {name: "cn", rank: 2, role: Data, order: []int{1, 0}},
	IO:         {name: "io", rank: 2, role: Weight, order: []int{1, 0}},
	NCHW:       {name: "nchw", rank: 4, role: Data, canonical: true, order: []int{0, 1, 2, 3}},
	NHWC:       {name: "nhwc", rank: 4, role: Data, order: []int{0, 2, 3, 1}},
	NChw8c:     {name: "nChw8c", rank: 4, role: Data, order: []int{0, 1, 2, 3}, blocks: []Block{{1, 8}}},
	NChw16c:    {name: "nChw16c", rank: 4, role: Data, order: []int{0, 1, 2, 3}, blocks: []Block{{1, 16}}},
	OIHW:       {name: "oihw", rank: 4, role: Weight, canonical: true, order: []int{0, 1, 2, 3}},
	HWIO:       {name: "hwio", rank: 4, role: Weight, order: []int{2, 3, 1, 0}},
	OIhw8i8o:   {name: "OIhw8i8o", rank: 4, role: Weight, order: []int{0, 1, 2, 3}, blocks: []Block{{1, 8}, {0, 8}}},
	OIhw16i16o: {name: "OIhw16i16o", rank: 4, role: Weight, order: []int{0, 1, 2, 3}, blocks: []Block{{1, 16}, {0, 16}}},
}

// All returns all defined layouts, excluding Undefined.
func All() []Layout {
	all := make([]Layout, 0, numLayouts-1)
	for l := X; l < numLayouts; l++ {
		all = append(all, l)
	}
	return all
}

// IsValid returns whether l is a defined layout.
func (l Layout) IsValid() bool {
	return l > Undefined && l < numLayouts
}

func (l Layout) info() *layoutInfo {
	if l < 0 || l >= numLayouts {
		return &layoutInfos[Undefined]
	}
	return &layoutInfos[l]
}

// String implements fmt.Stringer. It returns the layout name in the usual compute-library
// notation: lower case letters for outer axes, numbers plus letter for inner blocks.
func (l Layout) String() string {
	if l < 0 || l >= numLayouts {
		return fmt.Sprintf("Layout(%d)", int(l))
	}
	return layoutInfos[l].name
}

// Parse the name of a layout, as returned by Layout.String. Matching is exact, except that
// canonical and transposed layouts (which have no blocks) can be given in any case.
func Parse(name string) (Layout, error) {
	for l := X; l < numLayouts; l++ {
		if layoutInfos[l].name == name {
			return l, nil
		}
	}
	for l := X; l < numLayouts; l++ {
		if len(layoutInfos[l].blocks) == 0 && strings.EqualFold(layoutInfos[l].name, name) {
			return l, nil
		}
	}
	return Undefined, errors.Errorf("unknown layout %q", name)
}

// Rank of arrays stored with this layout. Undefined has rank 0.
func (l Layout) Rank() int { return l.info().rank }

// Role of arrays stored with this layout.
func (l Layout) Role() Role { return l.info().role }

// IsCanonical returns whether l is dense row-major.
func (l Layout) IsCanonical() bool { return l.info().canonical }

// IsBlocked returns whether l has inner blocks, and hence may be padded.
func (l Layout) IsBlocked() bool { return len(l.info().blocks) > 0 }

// Blocks returns a copy of the inner blocks of the layout.
func (l Layout) Blocks() []Block {
	return append([]Block(nil), l.info().blocks...)
}

// ForRank returns the canonical layout for arrays of the given rank and role:
// X for rank 1, NC or OI for rank 2 and NCHW or OIHW for rank 4.
//
// Other ranks fail with ErrUnsupportedRank.
func ForRank(rank int, role Role) (Layout, error) {
	switch rank {
	case 1:
		return X, nil
	case 2:
		if role == Data {
			return NC, nil
		}
		return OI, nil
	case 4:
		if role == Data {
			return NCHW, nil
		}
		return OIHW, nil
	}
	return Undefined, errors.Wrapf(ErrUnsupportedRank, "rank %d (only ranks 1, 2 and 4 are supported)", rank)
}

// PublicCompatible returns the canonical layout with the same rank and role as l.
// Canonical layouts return themselves.
func PublicCompatible(l Layout) Layout {
	if !l.IsValid() {
		return Undefined
	}
	public, err := ForRank(l.Rank(), l.Role())
	if err != nil {
		return Undefined
	}
	return public
}

// CheckDims returns an error if dims can't be stored with layout l.
func (l Layout) CheckDims(dims []int) error {
	if !l.IsValid() {
		return errors.Errorf("invalid layout %s", l)
	}
	if len(dims) != l.Rank() {
		return errors.Wrapf(ErrUnsupportedRank, "layout %s requires rank %d, got dimensions %v", l, l.Rank(), dims)
	}
	for axis, dim := range dims {
		if dim <= 0 {
			return errors.Errorf("layout %s: axis %d has dimension %d, it must be > 0", l, axis, dim)
		}
	}
	return nil
}

// PhysicalDims returns the dimensions of the array as stored in memory: first the outer axes in
// storage order (blocked axes divided by the block size, rounded up), then the inner blocks.
//
// dims are assumed to be valid for the layout (see CheckDims).
func (l Layout) PhysicalDims(dims []int) []int {
	s := l.info()
	physical := make([]int, 0, len(s.order)+len(s.blocks))
	for _, axis := range s.order {
		dim := dims[axis]
		if blk := s.blockSize(axis); blk > 1 {
			dim = (dim + blk - 1) / blk
		}
		physical = append(physical, dim)
	}
	for _, b := range s.blocks {
		physical = append(physical, b.Size)
	}
	return physical
}

// PhysicalSize returns the number of elements needed to store an array of dims in layout l,
// including padding.
func (l Layout) PhysicalSize(dims []int) int {
	size := 1
	for _, dim := range l.PhysicalDims(dims) {
		size *= dim
	}
	return size
}

func (s *layoutInfo) blockSize(axis int) int {
	for _, b := range s.blocks {
		if b.Axis == axis {
			return b.Size
		}
	}
	return 1
}

// OffsetTables returns, for each logical axis, the element offset contribution of each index
// along that axis. The offset of the element at indices (i0, i1, ...) is the sum of
// tables[axis][i_axis] over the axes.
//
// For canonical layouts tables[axis][i] == i * Strides[axis].
func (l Layout) OffsetTables(dims []int) [][]int {
	s := l.info()
	physical := l.PhysicalDims(dims)
	strides := make([]int, len(physical))
	stride := 1
	for ii := len(physical) - 1; ii >= 0; ii-- {
		strides[ii] = stride
		stride *= physical[ii]
	}

	tables := make([][]int, len(dims))
	for outerPos, axis := range s.order {
		outerStride := strides[outerPos]
		innerStride, blk := 0, 1
		for blockPos, b := range s.blocks {
			if b.Axis == axis {
				innerStride = strides[len(s.order)+blockPos]
				blk = b.Size
			}
		}
		table := make([]int, dims[axis])
		for i := range table {
			if blk > 1 {
				table[i] = (i/blk)*outerStride + (i%blk)*innerStride
			} else {
				table[i] = i * outerStride
			}
		}
		tables[axis] = table
	}
	return tables
}
