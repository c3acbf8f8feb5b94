// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"fmt"
	"unsafe"

	"github.com/gomlx/mdarray/internal/alignedalloc"
	"github.com/gomlx/mdarray/pkg/exchange"
	"k8s.io/klog/v2"
)

// Decision of the alignment guard for a foreign buffer.
type Decision int

const (
	// Borrow the foreign memory: the array aliases it and keeps the foreign view bound.
	Borrow Decision = iota

	// Copy the foreign memory into an aligned allocation owned by the array, and release the view.
	Copy
)

// String implements fmt.Stringer.
func (d Decision) String() string {
	switch d {
	case Borrow:
		return "borrow"
	case Copy:
		return "copy"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// DecideAlignment returns whether the memory of view must be copied, because its base pointer is
// not a multiple of alignment, or it can be borrowed.
//
// It has no side effects.
func DecideAlignment(view *exchange.Descriptor, alignment int) Decision {
	if len(view.Buf) == 0 {
		return Copy
	}
	if alignedalloc.IsAligned(unsafe.Pointer(unsafe.SliceData(view.Buf)), alignment) {
		return Borrow
	}
	return Copy
}

// ingest applies the alignment decision to a validated view of size bytes, and returns the buffer
// for the array and the view binding, if any.
//
// It takes ownership of view: on return the view is either bound, or already released.
func ingest(view *exchange.Descriptor, size, alignment int) (*Buffer, *viewBinding, error) {
	decision := DecideAlignment(view, alignment)
	if klog.V(2).Enabled() {
		klog.Infof("mdarray: foreign buffer %p (%d bytes) alignment %d: %s",
			unsafe.SliceData(view.Buf), size, alignment, decision)
	}
	if decision == Borrow {
		return newBorrowedBuffer(view.Buf[:size]), bindView(view), nil
	}

	buf, err := newOwnedBuffer(size)
	if err == nil {
		copy(buf.data, view.Buf[:size])
	}
	if releaseErr := view.Release(); releaseErr != nil {
		klog.Errorf("mdarray: failed to release foreign view after copy: %+v", releaseErr)
	}
	if err != nil {
		return nil, nil, err
	}
	return buf, nil, nil
}
