// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package forward_test

import (
	"testing"
	"unsafe"

	_ "github.com/gomlx/mdarray/backends/default"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/gomlx/mdarray/pkg/exchange"
	. "github.com/gomlx/mdarray/pkg/forward"
	"github.com/gomlx/mdarray/pkg/forward/hostops"
	"github.com/gomlx/mdarray/pkg/mdarray"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchTable(t *testing.T) {
	assert.Equal(t, TrueDivide, Divide.Target())
	assert.Equal(t, TrueDivide, InPlaceDivide.Target())
	assert.True(t, InPlaceDivide.IsInPlace())
	assert.False(t, Divide.IsInPlace())
	assert.Equal(t, Add, InPlaceAdd.Target())
	assert.Equal(t, 1, Negative.Arity())
	assert.Equal(t, 2, MatrixMultiply.Arity())
	assert.Equal(t, 3, Power.Arity())
	assert.Equal(t, 0, Invalid.Arity())
	assert.Equal(t, "InPlaceMatrixMultiply", InPlaceMatrixMultiply.String())
}

func TestBinary(t *testing.T) {
	backend := hostops.New()
	a := must.M1(mdarray.FromFlatData([]float32{1, 2, 3, 4, 5, 6}, layouts.Data, 2, 3))
	defer a.Release()
	b := must.M1(mdarray.FromFlatData([]float32{6, 5, 4, 3, 2, 1}, layouts.Data, 2, 3))
	defer b.Release()

	sum := must.M1(Binary(backend, Add, ArrayArg(a), ArrayArg(b)))
	defer sum.Release()
	assert.Equal(t, []float32{7, 7, 7, 7, 7, 7}, must.M1(mdarray.CopyFlatData[float32](sum)))
	assert.Equal(t, []int{2, 3}, sum.Dims())
	assert.Equal(t, layouts.NC, sum.Layout())

	quotient := must.M1(Binary(backend, Divide, ArrayArg(a), ScalarArg(2)))
	defer quotient.Release()
	assert.Equal(t, []float32{0.5, 1, 1.5, 2, 2.5, 3}, must.M1(mdarray.CopyFlatData[float32](quotient)))

	diff := must.M1(Binary(backend, Subtract, ScalarArg(10), ArrayArg(a)))
	defer diff.Release()
	assert.Equal(t, []float32{9, 8, 7, 6, 5, 4}, must.M1(mdarray.CopyFlatData[float32](diff)))

	mod := must.M1(Binary(backend, Remainder, ArrayArg(a), ScalarArg(-4)))
	defer mod.Release()
	assert.Equal(t, []float32{-3, -2, -1, 0, -3, -2}, must.M1(mdarray.CopyFlatData[float32](mod)))

	square := must.M1(Ternary(backend, Power, ArrayArg(a), ScalarArg(2), None))
	defer square.Release()
	assert.Equal(t, []float32{1, 4, 9, 16, 25, 36}, must.M1(mdarray.CopyFlatData[float32](square)))

	// Operands are not changed, and no views are left exported.
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, must.M1(mdarray.CopyFlatData[float32](a)))
	assert.Equal(t, int64(0), a.Exports())
	assert.Equal(t, int64(0), b.Exports())
}

func TestUnaryNonCanonical(t *testing.T) {
	backend := hostops.New()
	canonical := must.M1(mdarray.FromFlatData([]int16{1, -2, 3, -4, 5, -6, 7, -8, 9, -10, 11, -12}, layouts.Data, 1, 3, 2, 2))
	a := must.M1(canonical.Reorder(layouts.NChw8c))
	canonical.Release()
	defer a.Release()

	abs := must.M1(Unary(backend, Absolute, a))
	defer abs.Release()
	assert.Equal(t, []int16{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, must.M1(mdarray.CopyFlatData[int16](abs)))
	assert.Equal(t, layouts.NCHW, abs.Layout())

	inverted := must.M1(Unary(backend, Invert, a))
	defer inverted.Release()
	assert.Equal(t, int16(-2), must.M1(mdarray.CopyFlatData[int16](inverted))[0])
}

func TestInPlace(t *testing.T) {
	backend := hostops.New()
	canonical := must.M1(mdarray.FromFlatData([]float32{1, 2, 3, 4, 5, 6, 7, 8}, layouts.Weight, 2, 4, 1, 1))
	a := must.M1(canonical.Reorder(layouts.OIhw8i8o))
	canonical.Release()
	defer a.Release()

	result := must.M1(Binary(backend, InPlaceMultiply, ArrayArg(a), ScalarArg(10)))
	require.Same(t, a, result)
	assert.Equal(t, []float32{10, 20, 30, 40, 50, 60, 70, 80}, must.M1(mdarray.CopyFlatData[float32](a)))

	// Aliased operands.
	result = must.M1(Binary(backend, InPlaceAdd, ArrayArg(a), ArrayArg(a)))
	require.Same(t, a, result)
	assert.Equal(t, []float32{20, 40, 60, 80, 100, 120, 140, 160}, must.M1(mdarray.CopyFlatData[float32](a)))
	assert.Equal(t, int64(0), a.Exports())

	_, err := Binary(backend, InPlaceAdd, ScalarArg(1), ArrayArg(a))
	require.Error(t, err)
}

func TestInPlaceReadOnly(t *testing.T) {
	backend := hostops.New()
	// Borrowed memory must be aligned, so the read-only view stays bound to the array.
	buf := make([]byte, 2048)
	start := 0
	if mod := int(uintptr(unsafe.Pointer(&buf[0])) % 1024); mod != 0 {
		start = 1024 - mod
	}
	hb := must.M1(exchange.NewHostBuffer(buf[start:start+1024], "B", 1024))
	hb.SetReadOnly(true)
	a := must.M1(mdarray.FromExporter(hb, layouts.Data))
	defer a.Release()
	require.True(t, a.IsReadOnly())
	_, err := Binary(backend, InPlaceAdd, ArrayArg(a), ScalarArg(1))
	require.True(t, errors.Is(err, mdarray.ErrReadOnly), "got %v", err)
	assert.Equal(t, int64(0), a.Exports())
}

func TestMatrixMultiply(t *testing.T) {
	backend := hostops.New()
	a := must.M1(mdarray.FromFlatData([]int32{1, 2, 3, 4, 5, 6}, layouts.Data, 2, 3))
	defer a.Release()
	b := must.M1(mdarray.FromFlatData([]int32{1, 0, 0, 1, 1, 1}, layouts.Weight, 3, 2))
	defer b.Release()
	c := must.M1(Binary(backend, MatrixMultiply, ArrayArg(a), ArrayArg(b)))
	defer c.Release()
	assert.Equal(t, []int{2, 2}, c.Dims())
	assert.Equal(t, []int32{4, 5, 10, 11}, must.M1(mdarray.CopyFlatData[int32](c)))
	assert.Equal(t, layouts.Data, c.Role())

	_, err := Binary(backend, MatrixMultiply, ArrayArg(a), ArrayArg(a))
	require.Error(t, err)
	_, err = Binary(backend, InPlaceMatrixMultiply, ArrayArg(a), ArrayArg(b))
	require.Error(t, err)
}

func TestErrors(t *testing.T) {
	backend := hostops.New()
	a := must.M1(mdarray.FromFlatData([]float32{1, 2, 3, 4}, layouts.Data, 4))
	defer a.Release()
	b := must.M1(mdarray.FromFlatData([]float32{1, 2}, layouts.Data, 2))
	defer b.Release()

	_, err := Apply(backend, Invalid, ArrayArg(a))
	require.True(t, errors.Is(err, ErrUnsupportedOp))
	_, err = Binary(backend, And, ArrayArg(a), ArrayArg(a))
	require.True(t, errors.Is(err, ErrUnsupportedOp), "got %v", err)
	_, err = Ternary(backend, Power, ArrayArg(a), ScalarArg(2), ScalarArg(3))
	require.True(t, errors.Is(err, ErrUnsupportedOp), "got %v", err)
	_, err = Binary(backend, Add, ArrayArg(a), ArrayArg(b))
	require.Error(t, err)
	_, err = Binary(backend, Add, ScalarArg(1), ScalarArg(2))
	require.Error(t, err)
	_, err = Apply(backend, Add, ArrayArg(a))
	require.Error(t, err)
	assert.Equal(t, int64(0), a.Exports())
	assert.Equal(t, int64(0), b.Exports())
}

// noResultBackend returns neither a result nor an error.
type noResultBackend struct{}

func (noResultBackend) Name() string { return "noresult" }

func (noResultBackend) Compute(Op, []Operand, *exchange.Descriptor) (*exchange.Descriptor, error) {
	return nil, nil
}

func TestBackendWithoutResult(t *testing.T) {
	a := must.M1(mdarray.FromFlatData([]float32{1, 2, 3, 4}, layouts.Data, 4))
	defer a.Release()
	result, err := Binary(noResultBackend{}, Add, ArrayArg(a), ScalarArg(1))
	require.Error(t, err)
	require.Nil(t, result)
	assert.Equal(t, int64(0), a.Exports())

	// In-place ops don't expect a result.
	result, err = Binary(noResultBackend{}, InPlaceAdd, ArrayArg(a), ScalarArg(1))
	require.NoError(t, err)
	require.Same(t, a, result)
}
