// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package alignedalloc allocates zero-filled byte blocks whose first byte is aligned to a
// power-of-2 boundary, and keeps accounting of the blocks alive.
//
// The memory comes from the Go heap: the block is carved out of a slightly larger slice, so it is
// reclaimed by the GC once unreferenced. Free doesn't return memory to the system, it only takes
// the block out of the live accounting, and it catches double frees.
package alignedalloc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrAllocationFailure is returned when an allocation cannot be satisfied.
var ErrAllocationFailure = errors.New("allocation failure")

var (
	blocksAlive atomic.Int64
	bytesAlive  atomic.Int64

	// live maps the address of the first byte of each live block to its size.
	live sync.Map
)

// Alloc returns a zero-filled block of size bytes aligned to alignment bytes.
//
// alignment must be a power of 2. If maxAllocation > 0 and size is larger, it fails
// with ErrAllocationFailure.
//
// Blocks of size 0 are not tracked and don't need to be freed.
func Alloc(size, alignment int, maxAllocation uint64) (block []byte, err error) {
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, errors.Errorf("alignedalloc: alignment must be a power of 2, got %d", alignment)
	}
	if size < 0 {
		return nil, errors.Wrapf(ErrAllocationFailure, "negative size %d requested", size)
	}
	if maxAllocation > 0 && uint64(size) > maxAllocation {
		return nil, errors.Wrapf(ErrAllocationFailure, "%d bytes requested, limit is %d bytes", size, maxAllocation)
	}
	if size == 0 {
		return []byte{}, nil
	}
	total := size + alignment - 1
	if total < size {
		return nil, errors.Wrapf(ErrAllocationFailure, "size %d overflows with alignment %d", size, alignment)
	}

	// make panics (with a runtime.Error) if the size is out of range.
	defer func() {
		if r := recover(); r != nil {
			block = nil
			err = errors.Wrapf(ErrAllocationFailure, "allocating %d bytes: %v", size, r)
		}
	}()
	buf := make([]byte, total)
	offset := 0
	if mod := int(uintptr(unsafe.Pointer(&buf[0])) % uintptr(alignment)); mod != 0 {
		offset = alignment - mod
	}
	block = buf[offset : offset+size : offset+size]
	live.Store(uintptr(unsafe.Pointer(&block[0])), size)
	blocksAlive.Add(1)
	bytesAlive.Add(int64(size))
	if klog.V(3).Enabled() {
		klog.Infof("alignedalloc: allocated %d bytes at %p (alignment %d)", size, &block[0], alignment)
	}
	return block, nil
}

// Free takes a block returned by Alloc out of the live accounting.
//
// It panics if the block is not alive: never allocated with Alloc, or already freed.
func Free(block []byte) {
	if len(block) == 0 {
		return
	}
	addr := uintptr(unsafe.Pointer(&block[0]))
	size, found := live.LoadAndDelete(addr)
	if !found {
		exceptions.Panicf("alignedalloc.Free(%s): block is not alive (double free?)", fmt.Sprintf("%#x", addr))
	}
	blocksAlive.Add(-1)
	bytesAlive.Add(-int64(size.(int)))
}

// IsAligned returns whether ptr is a multiple of alignment.
func IsAligned(ptr unsafe.Pointer, alignment int) bool {
	return uintptr(ptr)%uintptr(alignment) == 0
}

// Misalignment returns how many bytes ptr is past the previous alignment boundary.
func Misalignment(ptr unsafe.Pointer, alignment int) uintptr {
	return uintptr(ptr) % uintptr(alignment)
}

// BlocksAlive returns the number of blocks allocated and not yet freed.
func BlocksAlive() int64 {
	return blocksAlive.Load()
}

// BytesAlive returns the total size of the blocks allocated and not yet freed.
func BytesAlive() int64 {
	return bytesAlive.Load()
}
