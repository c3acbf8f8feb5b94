// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/mdarray/internal/alignedalloc"
	"github.com/gomlx/mdarray/pkg/config"
	"k8s.io/klog/v2"
)

// Buffer is a reference counted block of memory shared by all the arrays derived from the same
// allocation (see Array.Clone).
//
// If it owns its memory, the memory is freed when the last reference is dropped. Otherwise,
// the memory is borrowed (from a foreign runtime, or from the caller of Wrap) and dropping the
// last reference does nothing to it.
type Buffer struct {
	data []byte
	owns bool
	refs atomic.Int64
}

// newOwnedBuffer allocates an aligned, zero-filled buffer with size bytes, with the alignment and
// limits taken from config.Get().
func newOwnedBuffer(size int) (*Buffer, error) {
	cfg := config.Get()
	data, err := alignedalloc.Alloc(size, cfg.Alignment, cfg.MaxAllocation)
	if err != nil {
		return nil, err
	}
	b := &Buffer{data: data, owns: true}
	b.refs.Store(1)
	if klog.V(1).Enabled() {
		klog.Infof("mdarray: allocated buffer of %d bytes", size)
	}
	return b, nil
}

// newBorrowedBuffer returns a buffer that aliases data without owning it.
func newBorrowedBuffer(data []byte) *Buffer {
	b := &Buffer{data: data}
	b.refs.Store(1)
	return b
}

// incRef adds a reference to the buffer. It panics if the buffer was already freed.
func (b *Buffer) incRef() *Buffer {
	if b.refs.Add(1) <= 1 {
		exceptions.Panicf("mdarray.Buffer: reference taken to a freed buffer")
	}
	return b
}

// decRef drops a reference, and frees the memory (if owned) when it was the last one.
func (b *Buffer) decRef() {
	refs := b.refs.Add(-1)
	if refs > 0 {
		return
	}
	if refs < 0 {
		exceptions.Panicf("mdarray.Buffer: reference count below zero")
	}
	if b.owns {
		alignedalloc.Free(b.data)
		if klog.V(1).Enabled() {
			klog.Infof("mdarray: freed buffer of %d bytes", len(b.data))
		}
	}
	b.data = nil
}

// Refs returns the number of references to the buffer. A freed buffer has 0 references.
func (b *Buffer) Refs() int64 { return b.refs.Load() }

// OwnsMemory returns whether the memory is freed when the last reference is dropped.
func (b *Buffer) OwnsMemory() bool { return b.owns }

// Len returns the size of the memory in bytes, or 0 if it was already freed.
func (b *Buffer) Len() int { return len(b.data) }
