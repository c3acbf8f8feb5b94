// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"testing"
	"unsafe"

	"github.com/gomlx/gopjrt/dtypes"
	_ "github.com/gomlx/mdarray/backends/default"
	"github.com/gomlx/mdarray/internal/alignedalloc"
	"github.com/gomlx/mdarray/pkg/config"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dimsPerRank = map[int][]int{
	1: {5},
	2: {3, 7},
	4: {2, 3, 4, 5},
}

// alignedBytes returns n zero bytes whose first byte is offset bytes past a multiple of 256.
func alignedBytes(n, offset int) []byte {
	buf := make([]byte, n+512)
	start := 0
	if mod := int(uintptr(unsafe.Pointer(&buf[0])) % 256); mod != 0 {
		start = 256 - mod
	}
	start += offset
	return buf[start : start+n]
}

func TestNew(t *testing.T) {
	for _, dtype := range formats.Supported() {
		for rank, dims := range dimsPerRank {
			for _, role := range []layouts.Role{layouts.Data, layouts.Weight} {
				a, err := New(dims, dtype, role)
				require.NoError(t, err)
				require.True(t, a.IsCanonical())
				require.True(t, a.OwnsMemory())
				require.False(t, a.HasView())
				require.Equal(t, rank, a.Rank())
				want := must.M1(layouts.ForRank(rank, role))
				require.Equal(t, want, a.Layout())

				view, err := Export(a, exchange.FlagFull)
				require.NoError(t, err)
				require.Equal(t, dims, view.Shape, "dtype=%s, dims=%v", dtype, dims)
				require.Equal(t, int(dtype.Memory()), view.ItemSize)
				require.Equal(t, must.M1(formats.Format(dtype)), view.Format)
				// Canonical arrays are exported without copies.
				require.Equal(t, a.DataPtr(), unsafe.Pointer(&view.Buf[0]))
				require.Equal(t, int64(1), a.Exports())
				require.NoError(t, view.Release())
				require.Equal(t, int64(0), a.Exports())
				a.Release()
			}
		}
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New([]int{3, 3, 3}, dtypes.Float32, layouts.Data)
	require.True(t, errors.Is(err, ErrUnsupportedRank), "got %v", err)
	_, err = New(nil, dtypes.Float32, layouts.Data)
	require.True(t, errors.Is(err, ErrUnsupportedRank), "got %v", err)
	_, err = New([]int{3}, dtypes.Float64, layouts.Data)
	require.True(t, errors.Is(err, ErrUnsupportedDataType), "got %v", err)
	_, err = New([]int{3, 0}, dtypes.Int8, layouts.Data)
	require.Error(t, err)
	_, err = NewWithLayout(dtypes.Float32, layouts.NChw8c, 3, 3)
	require.True(t, errors.Is(err, ErrUnsupportedRank), "got %v", err)

	previous := must.M1(config.Update(func(c *config.Config) { c.MaxAllocation = 1024 }))
	defer func() { require.NoError(t, config.Set(previous)) }()
	_, err = New([]int{1024}, dtypes.Float32, layouts.Data)
	require.True(t, errors.Is(err, ErrAllocationFailure), "got %v", err)
}

func TestClone(t *testing.T) {
	blocks0 := alignedalloc.BlocksAlive()
	a := must.M1(FromFlatData([]int32{1, 2, 3, 4, 5, 6}, layouts.Data, 2, 3))
	require.Equal(t, blocks0+1, alignedalloc.BlocksAlive())

	clone := must.M1(a.Clone())
	require.Same(t, a.Buffer(), clone.Buffer())
	require.Equal(t, int64(2), a.Buffer().Refs())
	require.Equal(t, a.DataPtr(), clone.DataPtr())

	// Releasing the original must not free the memory used by the clone.
	a.Release()
	require.True(t, a.IsReleased())
	require.Equal(t, blocks0+1, alignedalloc.BlocksAlive())
	require.Equal(t, []int32{1, 2, 3, 4, 5, 6}, must.M1(CopyFlatData[int32](clone)))
	_, err := a.Clone()
	require.True(t, errors.Is(err, ErrReleased))
	_, err = CopyFlatData[int32](a)
	require.True(t, errors.Is(err, ErrReleased))

	// Releasing both frees exactly once: a second free would panic in alignedalloc.Free.
	clone.Release()
	require.Equal(t, blocks0, alignedalloc.BlocksAlive())
	require.Equal(t, int64(0), clone.Buffer().Refs())
	a.Release()
	clone.Release()
	require.Equal(t, blocks0, alignedalloc.BlocksAlive())
}

func TestFromExporterAligned(t *testing.T) {
	data := alignedBytes(2*3*4, 0)
	for ii := range data {
		data[ii] = byte(ii)
	}
	hb := must.M1(exchange.NewHostBuffer(data, "<f", 2, 3))
	a, err := FromExporter(hb, layouts.RoleFromTag('d'))
	require.NoError(t, err)
	assert.True(t, a.HasView())
	assert.False(t, a.OwnsMemory())
	assert.Equal(t, unsafe.Pointer(&data[0]), a.DataPtr())
	assert.Equal(t, dtypes.Float32, a.DType())
	assert.Equal(t, layouts.NC, a.Layout())
	// One reference for the binding.
	assert.Equal(t, int64(2), hb.Refs())
	assert.Equal(t, int64(1), hb.Exports())

	clone := must.M1(a.Clone())
	assert.Equal(t, int64(3), hb.Refs())
	assert.True(t, clone.HasView())
	assert.Equal(t, int64(1), hb.Exports())

	a.Release()
	assert.Equal(t, int64(2), hb.Refs())
	assert.Equal(t, int64(1), hb.Exports())
	// The clone still aliases the foreign memory.
	data[0] = 17
	assert.Equal(t, byte(17), clone.Bytes()[0])

	clone.Release()
	assert.Equal(t, int64(1), hb.Refs())
	assert.Equal(t, int64(0), hb.Exports())
}

func TestFromExporterMisaligned(t *testing.T) {
	blocks0 := alignedalloc.BlocksAlive()
	data := alignedBytes(4*6*2, 1)
	for ii := range data {
		data[ii] = byte(255 - ii)
	}
	hb := must.M1(exchange.NewHostBuffer(data, "h", 4, 6))
	a, err := FromExporter(hb, layouts.Weight)
	require.NoError(t, err)
	assert.False(t, a.HasView())
	assert.True(t, a.OwnsMemory())
	assert.NotEqual(t, unsafe.Pointer(&data[0]), a.DataPtr())
	assert.Equal(t, data, a.Bytes())
	assert.Equal(t, layouts.OI, a.Layout())
	assert.True(t, alignedalloc.IsAligned(a.DataPtr(), config.Get().Alignment))
	// The view was released after the copy.
	assert.Equal(t, int64(1), hb.Refs())
	assert.Equal(t, int64(0), hb.Exports())
	assert.Equal(t, blocks0+1, alignedalloc.BlocksAlive())

	// Changes to the foreign memory are not seen after the copy.
	data[0] = 0
	assert.Equal(t, byte(255), a.Bytes()[0])
	a.Release()
	assert.Equal(t, blocks0, alignedalloc.BlocksAlive())
}

func TestFromExporterErrors(t *testing.T) {
	// Unrecognized format.
	hb := must.M1(exchange.NewHostBuffer(alignedBytes(8, 0), "x", 8))
	_, err := FromExporter(hb, layouts.Data)
	require.True(t, errors.Is(err, ErrUnsupportedDataType), "got %v", err)
	require.Equal(t, int64(1), hb.Refs())
	require.Equal(t, int64(0), hb.Exports())

	// Rank 3, for both aligned and misaligned memory.
	for _, offset := range []int{0, 3} {
		blocks0 := alignedalloc.BlocksAlive()
		hb = must.M1(exchange.NewHostBuffer(alignedBytes(27, offset), "B", 3, 3, 3))
		_, err = FromExporter(hb, layouts.Data)
		require.True(t, errors.Is(err, ErrUnsupportedRank), "got %v", err)
		require.Equal(t, int64(1), hb.Refs())
		require.Equal(t, int64(0), hb.Exports())
		require.Equal(t, blocks0, alignedalloc.BlocksAlive())
	}

	// Item size inconsistent with the format.
	hb = must.M1(exchange.NewHostBuffer(alignedBytes(8, 0), "i", 4))
	_, err = FromExporter(hb, layouts.Data)
	require.True(t, errors.Is(err, ErrForeignDescriptorInvalid), "got %v", err)
	require.Equal(t, int64(1), hb.Refs())

	// Non-contiguous strides.
	hb = must.M1(exchange.NewHostBuffer(alignedBytes(24, 0), "f", 2, 3))
	view := must.M1(exchange.Acquire(hb, exchange.FlagFormat|exchange.FlagStrides))
	view.Strides = []int{4, 8}
	_, err = FromDescriptor(view, layouts.Data)
	require.True(t, errors.Is(err, ErrForeignDescriptorInvalid), "got %v", err)
	require.True(t, view.IsReleased())
	require.Equal(t, int64(1), hb.Refs())
}

func TestFromExporterReadOnly(t *testing.T) {
	hb := must.M1(exchange.NewHostBuffer(alignedBytes(16, 0), "f", 4))
	hb.SetReadOnly(true)
	a := must.M1(FromExporter(hb, layouts.Data))
	defer a.Release()
	require.True(t, a.IsReadOnly())
	err := MutableFlatData(a, func(flat []float32) { flat[0] = 1 })
	require.True(t, errors.Is(err, ErrReadOnly), "got %v", err)
	_, err = Export(a, exchange.FlagFull)
	require.Error(t, err)
	view := must.M1(Export(a, exchange.FlagFormat|exchange.FlagStrides))
	require.True(t, view.ReadOnly)
	require.NoError(t, view.Release())
}

func TestReshape(t *testing.T) {
	a := must.M1(FromFlatData([]float32{1, 2, 3, 4, 5, 6, 7, 8}, layouts.Data, 8))
	defer a.Release()
	b := must.M1(a.Reshape(2, 4))
	defer b.Release()
	require.Equal(t, layouts.NC, b.Layout())
	require.Same(t, a.Buffer(), b.Buffer())
	require.NoError(t, MutableFlatData(b, func(flat []float32) { flat[7] = 80 }))
	require.Equal(t, float32(80), must.M1(CopyFlatData[float32](a))[7])

	_, err := a.Reshape(3, 3)
	require.Error(t, err)
	_, err = a.Reshape(2, 2, 2)
	require.True(t, errors.Is(err, ErrUnsupportedRank))

	blocked := must.M1(b.Reshape(1, 8, 1, 1))
	defer blocked.Release()
	reordered := must.M1(blocked.Reorder(layouts.NChw8c))
	defer reordered.Release()
	_, err = reordered.Reshape(8)
	require.True(t, errors.Is(err, ErrLayoutMismatch), "got %v", err)

	hb := must.M1(exchange.NewHostBuffer(alignedBytes(16, 0), "f", 4))
	bound := must.M1(FromExporter(hb, layouts.Data))
	defer bound.Release()
	_, err = bound.Reshape(2, 2)
	require.True(t, errors.Is(err, ErrViewBound), "got %v", err)
}

func TestDescribe(t *testing.T) {
	a := must.M1(NewWithLayout(dtypes.Int16, layouts.NChw16c, 2, 3, 4, 5))
	defer a.Release()
	desc := must.M1(Describe(a))
	assert.Equal(t, Description{
		NDim:     4,
		Shape:    []int{2, 3, 4, 5},
		Strides:  []int{120, 40, 10, 2},
		Format:   "h",
		ItemSize: 2,
	}, desc)
	assert.Equal(t, layouts.Data, a.Role())
	assert.Contains(t, a.String(), "nChw16c")

	a.Release()
	_, err := Describe(a)
	require.True(t, errors.Is(err, ErrReleased))
}

func TestWrap(t *testing.T) {
	a0 := must.M1(NewWithLayout(dtypes.Uint8, layouts.CN, 2, 3))
	defer a0.Release()
	data := make([]byte, a0.Descriptor().Size())
	for ii := range data {
		data[ii] = byte(ii)
	}
	a := must.M1(Wrap(a0.Descriptor(), data))
	defer a.Release()
	assert.False(t, a.OwnsMemory())
	assert.False(t, a.HasView())
	// CN: element (i, j) is at j*2+i.
	assert.Equal(t, []uint8{0, 2, 4, 1, 3, 5}, must.M1(CopyFlatData[uint8](a)))

	_, err := Wrap(a0.Descriptor(), data[:5])
	require.Error(t, err)
}
