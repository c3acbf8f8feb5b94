// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hostops

import (
	"testing"

	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/gomlx/mdarray/pkg/forward"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func viewOf(t *testing.T, data []byte, format string, shape ...int) forward.Operand {
	hb := must.M1(exchange.NewHostBuffer(data, format, shape...))
	defer hb.DecRef()
	view := must.M1(exchange.Acquire(hb, exchange.FlagFormat|exchange.FlagStrides))
	t.Cleanup(func() { require.NoError(t, view.Release()) })
	return forward.Operand{Kind: forward.KindArray, View: view}
}

func compute(t *testing.T, op forward.Op, operands ...forward.Operand) []byte {
	out, err := New().Compute(op, operands, nil)
	require.NoError(t, err)
	defer func() { require.NoError(t, out.Release()) }()
	return append([]byte(nil), out.Data()...)
}

func scalar(v float64) forward.Operand {
	return forward.Operand{Kind: forward.KindScalar, Scalar: v}
}

func TestIntegerOps(t *testing.T) {
	x := viewOf(t, []byte{1, 2, 3, 200}, "B", 4)
	assert.Equal(t, []byte{2, 4, 6, 144}, compute(t, forward.Add, x, x))
	assert.Equal(t, []byte{255, 254, 253, 56}, compute(t, forward.Negative, x))
	assert.Equal(t, []byte{4, 8, 12, 32}, compute(t, forward.LeftShift, x, scalar(2)))
	assert.Equal(t, []byte{0, 1, 1, 100}, compute(t, forward.RightShift, x, scalar(1)))
	assert.Equal(t, []byte{1, 0, 1, 0}, compute(t, forward.And, x, scalar(1)))
	assert.Equal(t, []byte{0, 0, 1, 66}, compute(t, forward.TrueDivide, x, scalar(3)))
	assert.Equal(t, []byte{1, 2, 0, 2}, compute(t, forward.Remainder, x, scalar(3)))

	_, err := New().Compute(forward.FloorDivide, []forward.Operand{x, scalar(0)}, nil)
	require.Error(t, err)
	_, err = New().Compute(forward.LeftShift, []forward.Operand{x, scalar(-1)}, nil)
	require.Error(t, err)
}

func TestInt8Wraps(t *testing.T) {
	x := viewOf(t, []byte{0x80, 0x7f}, "b", 2)
	// -(-128) wraps to -128, 127+1 wraps to -128.
	assert.Equal(t, []byte{0x80, 0x81}, compute(t, forward.Negative, x))
	assert.Equal(t, []byte{0x81, 0x80}, compute(t, forward.Add, x, scalar(1)))
}

func TestInPlaceOutput(t *testing.T) {
	hb := must.M1(exchange.NewHostBuffer([]byte{1, 2, 3, 4}, "B", 2, 2))
	defer hb.DecRef()
	out := must.M1(exchange.Acquire(hb, exchange.FlagFull))
	defer func() { require.NoError(t, out.Release()) }()
	x := forward.Operand{Kind: forward.KindArray, View: out}
	result, err := New().Compute(forward.Multiply, []forward.Operand{x, scalar(3)}, out)
	require.NoError(t, err)
	require.Nil(t, result)
	assert.Equal(t, []byte{3, 6, 9, 12}, hb.Bytes())

	other := viewOf(t, []byte{1, 2, 3, 4}, "B", 4)
	_, err = New().Compute(forward.Add, []forward.Operand{other, scalar(3)}, out)
	require.Error(t, err)
}

func TestRemainder(t *testing.T) {
	assert.Equal(t, 1.0, remainder(7, 3))
	assert.Equal(t, 2.0, remainder(-7, 3))
	assert.Equal(t, -2.0, remainder(7, -3))
	assert.Equal(t, -1.0, remainder(-7, -3))
}
