// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/stretchr/testify/assert"
)

func TestDecideAlignment(t *testing.T) {
	data := alignedBytes(64, 0)
	view := &exchange.Descriptor{Buf: data, Len: 64, ItemSize: 1}
	assert.Equal(t, Borrow, DecideAlignment(view, 32))
	assert.Equal(t, Borrow, DecideAlignment(view, 256))

	view.Buf = alignedBytes(64, 16)
	assert.Equal(t, Borrow, DecideAlignment(view, 16))
	assert.Equal(t, Copy, DecideAlignment(view, 32))

	view.Buf = alignedBytes(64, 1)
	assert.Equal(t, Copy, DecideAlignment(view, 8))

	view.Buf = nil
	assert.Equal(t, Copy, DecideAlignment(view, 8))
	assert.Equal(t, "borrow", Borrow.String())
	assert.Equal(t, "copy", Copy.String())
}

func TestFlatDataTypes(t *testing.T) {
	assert.Equal(t, dtypes.Float32, DTypeOf[float32]())
	assert.Equal(t, dtypes.Int32, DTypeOf[int32]())
	assert.Equal(t, dtypes.Int16, DTypeOf[int16]())
	assert.Equal(t, dtypes.Int8, DTypeOf[int8]())
	assert.Equal(t, dtypes.Uint8, DTypeOf[uint8]())
}
