// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"testing"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	hb := must.M1(NewHostBuffer(make([]byte, 2*3*4), "<f", 2, 3))
	require.Equal(t, int64(1), hb.Refs())

	view := must.M1(Acquire(hb, FlagFull))
	assert.Equal(t, int64(2), hb.Refs())
	assert.Equal(t, int64(1), hb.Exports())
	assert.Equal(t, "<f", view.Format)
	assert.Equal(t, 4, view.ItemSize)
	assert.Equal(t, 2, view.NDim)
	assert.Equal(t, []int{2, 3}, view.Shape)
	assert.Equal(t, []int{12, 4}, view.Strides)
	assert.Equal(t, 24, view.Len)
	assert.True(t, view.IsContiguous())
	assert.Same(t, &hb.Bytes()[0], &view.Data()[0])

	require.NoError(t, view.Release())
	assert.True(t, view.IsReleased())
	assert.Equal(t, int64(1), hb.Refs())
	assert.Equal(t, int64(0), hb.Exports())

	// Releasing again is a no-op.
	require.NoError(t, view.Release())
	assert.Equal(t, int64(1), hb.Refs())
	hb.DecRef()
	require.Panics(t, func() { hb.DecRef() })
}

func TestAcquireSimple(t *testing.T) {
	hb := must.M1(NewHostBuffer(make([]byte, 8), "h", 4))
	view := must.M1(Acquire(hb, FlagSimple))
	assert.Nil(t, view.Shape)
	assert.Nil(t, view.Strides)
	assert.Empty(t, view.Format)
	assert.Equal(t, 2, view.ItemSize)
	require.NoError(t, view.Release())
}

func TestAcquireReadOnly(t *testing.T) {
	hb := must.M1(NewHostBuffer(make([]byte, 4), "b", 4))
	hb.SetReadOnly(true)
	_, err := Acquire(hb, FlagFull)
	require.Error(t, err)
	require.Equal(t, int64(1), hb.Refs())

	view := must.M1(Acquire(hb, FlagFormat|FlagND))
	assert.True(t, view.ReadOnly)
	require.NoError(t, view.Release())
}

// badExporter fills inconsistent descriptors.
type badExporter struct {
	*HostBuffer
	shape    []int
	released int
}

func (b *badExporter) GetBuffer(view *Descriptor, flags Flags) error {
	if err := b.HostBuffer.GetBuffer(view, flags); err != nil {
		return err
	}
	view.Shape = b.shape
	return nil
}

func (b *badExporter) ReleaseBuffer(view *Descriptor) error {
	b.released++
	return b.HostBuffer.ReleaseBuffer(view)
}

func TestAcquireInvalid(t *testing.T) {
	for _, shape := range [][]int{{2, 0}, {3, 3}, {2}, {-2, -3}} {
		hb := must.M1(NewHostBuffer(make([]byte, 6*4), "f", 2, 3))
		bad := &badExporter{HostBuffer: hb, shape: shape}
		_, err := Acquire(bad, FlagFull)
		require.Truef(t, errors.Is(err, ErrForeignDescriptorInvalid), "shape %v: %v", shape, err)
		// The invalid view must have been released.
		require.Equal(t, 1, bad.released)
		require.Equal(t, int64(1), bad.Refs())
	}
}

func TestValidate(t *testing.T) {
	view := &Descriptor{Buf: make([]byte, 24), Len: 24, ItemSize: 4, NDim: 2, Shape: []int{2, 3}, Strides: []int{12, 4}}
	require.NoError(t, view.Validate())

	// Fortran order is valid, but not contiguous.
	view.Strides = []int{4, 8}
	require.NoError(t, view.Validate())
	require.False(t, view.IsContiguous())

	view.Strides = []int{12, 40}
	require.True(t, errors.Is(view.Validate(), ErrForeignDescriptorInvalid))
	view.Strides = []int{12}
	require.True(t, errors.Is(view.Validate(), ErrForeignDescriptorInvalid))
	view.Strides = nil
	view.ItemSize = 0
	require.True(t, errors.Is(view.Validate(), ErrForeignDescriptorInvalid))
	view.ItemSize = 4
	view.Len = 48
	require.True(t, errors.Is(view.Validate(), ErrForeignDescriptorInvalid))
}

func TestNewHostBuffer(t *testing.T) {
	_, err := NewHostBuffer(make([]byte, 10), "f", 3)
	require.Error(t, err)
	_, err = NewHostBuffer(make([]byte, 10), "f", 0)
	require.Error(t, err)
	hb := must.M1(NewHostBuffer(make([]byte, 12), "f", 3))
	require.Equal(t, 4, hb.ItemSize())
	require.Equal(t, []int{3}, hb.Shape())
}
