// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// HostBuffer is a reference counted, C-contiguous array of bytes owned by the host runtime.
// It implements Exporter and Owner.
//
// It is created with one reference, owned by the caller, which should eventually call DecRef.
type HostBuffer struct {
	data     []byte
	format   string
	itemSize int
	shape    []int
	readOnly bool

	refs    atomic.Int64
	exports atomic.Int64
}

var (
	_ Exporter = (*HostBuffer)(nil)
	_ Owner    = (*HostBuffer)(nil)
)

// NewHostBuffer wraps data as an array with the given element format and shape.
// The item size is len(data) / product(shape).
func NewHostBuffer(data []byte, format string, shape ...int) (*HostBuffer, error) {
	size := product(shape)
	if size <= 0 {
		return nil, errors.Errorf("exchange: invalid shape %v for host buffer", shape)
	}
	if len(data) == 0 || len(data)%size != 0 {
		return nil, errors.Errorf("exchange: %d bytes can't hold shape %v", len(data), shape)
	}
	hb := &HostBuffer{
		data:     data,
		format:   format,
		itemSize: len(data) / size,
		shape:    slices.Clone(shape),
	}
	hb.refs.Store(1)
	return hb, nil
}

// IncRef implements Owner.
func (hb *HostBuffer) IncRef() { hb.refs.Add(1) }

// DecRef implements Owner. It panics if the reference count goes negative.
func (hb *HostBuffer) DecRef() {
	if hb.refs.Add(-1) < 0 {
		exceptions.Panicf("exchange.HostBuffer.DecRef: reference count below zero")
	}
}

// Refs returns the current reference count.
func (hb *HostBuffer) Refs() int64 { return hb.refs.Load() }

// Exports returns the number of views currently exported.
func (hb *HostBuffer) Exports() int64 { return hb.exports.Load() }

// SetReadOnly marks the buffer as read-only: writable views will be refused.
func (hb *HostBuffer) SetReadOnly(readOnly bool) { hb.readOnly = readOnly }

// Bytes returns the underlying memory.
func (hb *HostBuffer) Bytes() []byte { return hb.data }

// Format returns the element format code.
func (hb *HostBuffer) Format() string { return hb.format }

// Shape returns a copy of the dimensions of the buffer.
func (hb *HostBuffer) Shape() []int { return slices.Clone(hb.shape) }

// ItemSize returns the size in bytes of each element.
func (hb *HostBuffer) ItemSize() int { return hb.itemSize }

// GetBuffer implements Exporter.
func (hb *HostBuffer) GetBuffer(view *Descriptor, flags Flags) error {
	if hb.refs.Load() <= 0 {
		return errors.New("exchange: host buffer already freed")
	}
	if err := Fill(view, hb, hb.data, hb.readOnly, hb.format, hb.itemSize, hb.shape, flags); err != nil {
		return err
	}
	hb.exports.Add(1)
	return nil
}

// ReleaseBuffer implements Exporter.
func (hb *HostBuffer) ReleaseBuffer(_ *Descriptor) error {
	hb.exports.Add(-1)
	return nil
}

// String implements fmt.Stringer.
func (hb *HostBuffer) String() string {
	return fmt.Sprintf("HostBuffer(format=%q, shape=%v, refs=%d, exports=%d)", hb.format, hb.shape, hb.Refs(), hb.Exports())
}
