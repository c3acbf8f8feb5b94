// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/gomlx/mdarray/backends"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// minParallelElements is the minimum number of elements per goroutine when splitting a reorder.
const minParallelElements = 32 * 1024

type tablesKey struct {
	layout layouts.Layout
	dims   string
}

// offsetTables returns the (cached) offset tables for layout and dims.
func (e *Engine) offsetTables(layout layouts.Layout, dims []int) [][]int {
	key := tablesKey{layout: layout, dims: fmt.Sprint(dims)}
	if tables, found := e.tables.Load(key); found {
		return tables.([][]int)
	}
	tables, _ := e.tables.LoadOrStore(key, layout.OffsetTables(dims))
	return tables.([][]int)
}

// Reorder implements backends.Engine.
func (e *Engine) Reorder(src, dst backends.Memory) error {
	if e.IsFinalized() {
		return errors.New("simplego: engine already finalized")
	}
	if src.DType != dst.DType {
		return errors.Errorf("simplego: reorder from %s to %s: dtypes don't match", src.Descriptor, dst.Descriptor)
	}
	if !slices.Equal(src.Dimensions, dst.Dimensions) {
		return errors.Errorf("simplego: reorder from %s to %s: dimensions don't match", src.Descriptor, dst.Descriptor)
	}
	if err := src.Layout.CheckDims(src.Dimensions); err != nil {
		return errors.WithMessage(err, "simplego: reorder source")
	}
	if err := dst.Layout.CheckDims(dst.Dimensions); err != nil {
		return errors.WithMessage(err, "simplego: reorder destination")
	}
	if err := src.Check(); err != nil {
		return errors.WithMessage(err, "simplego: reorder source")
	}
	if err := dst.Check(); err != nil {
		return errors.WithMessage(err, "simplego: reorder destination")
	}
	if klog.V(2).Enabled() {
		klog.Infof("simplego: reorder %s -> %s", src.Descriptor, dst.Descriptor)
	}

	if src.Layout == dst.Layout {
		size := src.Size()
		if size > 0 && unsafe.SliceData(src.Data) == unsafe.SliceData(dst.Data) {
			return nil
		}
		copy(dst.Data[:size], src.Data[:size])
		return nil
	}

	itemSize := int(src.DType.Memory())
	r := &reorderer{
		dims:      src.Dimensions,
		srcTables: e.offsetTables(src.Layout, src.Dimensions),
		dstTables: e.offsetTables(dst.Layout, dst.Dimensions),
	}
	var kernel func(start, end int)
	switch {
	case itemSize == 4 && isAligned(src.Data, 4) && isAligned(dst.Data, 4):
		kernel = func(start, end int) { reorderAxis0(r, castSlice[uint32](src.Data), castSlice[uint32](dst.Data), start, end) }
	case itemSize == 2 && isAligned(src.Data, 2) && isAligned(dst.Data, 2):
		kernel = func(start, end int) { reorderAxis0(r, castSlice[uint16](src.Data), castSlice[uint16](dst.Data), start, end) }
	case itemSize == 1:
		kernel = func(start, end int) { reorderAxis0(r, src.Data, dst.Data, start, end) }
	default:
		kernel = func(start, end int) { reorderBytes(r, itemSize, src.Data, dst.Data, start, end) }
	}

	numElements := src.Shape.Size()
	outer := r.dims[0]
	minChunk := 1
	if perOuter := numElements / outer; perOuter < minParallelElements {
		minChunk = (minParallelElements + perOuter - 1) / perOuter
	}
	e.workers.ParallelFor(outer, minChunk, kernel)
	return nil
}

type reorderer struct {
	dims                 []int
	srcTables, dstTables [][]int
}

// reorderAxis0 copies the elements whose index in the first axis is in [start, end).
func reorderAxis0[T any](r *reorderer, src, dst []T, start, end int) {
	if len(r.dims) == 1 {
		srcT, dstT := r.srcTables[0], r.dstTables[0]
		for i := start; i < end; i++ {
			dst[dstT[i]] = src[srcT[i]]
		}
		return
	}
	for i := start; i < end; i++ {
		reorderRecursive(r, src, dst, 1, r.srcTables[0][i], r.dstTables[0][i])
	}
}

func reorderRecursive[T any](r *reorderer, src, dst []T, axis, srcOffset, dstOffset int) {
	srcT, dstT := r.srcTables[axis], r.dstTables[axis]
	if axis == len(r.dims)-1 {
		for i := range srcT {
			dst[dstOffset+dstT[i]] = src[srcOffset+srcT[i]]
		}
		return
	}
	for i := range srcT {
		reorderRecursive(r, src, dst, axis+1, srcOffset+srcT[i], dstOffset+dstT[i])
	}
}

// reorderBytes is the fallback for unaligned memory: it copies itemSize bytes per element.
func reorderBytes(r *reorderer, itemSize int, src, dst []byte, start, end int) {
	var walk func(axis, srcOffset, dstOffset int)
	walk = func(axis, srcOffset, dstOffset int) {
		srcT, dstT := r.srcTables[axis], r.dstTables[axis]
		first, last := 0, len(srcT)
		if axis == 0 {
			first, last = start, end
		}
		for i := first; i < last; i++ {
			so, do := srcOffset+srcT[i], dstOffset+dstT[i]
			if axis == len(r.dims)-1 {
				copy(dst[do*itemSize:(do+1)*itemSize], src[so*itemSize:(so+1)*itemSize])
			} else {
				walk(axis+1, so, do)
			}
		}
	}
	walk(0, 0, 0)
}

func isAligned(data []byte, alignment uintptr) bool {
	return uintptr(unsafe.Pointer(unsafe.SliceData(data)))%alignment == 0
}

// castSlice reinterprets the bytes of data as a slice of T. data must be aligned to T.
func castSlice[T uint16 | uint32](data []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	if len(data) < size {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(data))), len(data)/size)
}
