// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"github.com/gomlx/mdarray/internal/alignedalloc"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/pkg/errors"
)

// Error kinds returned by the package. Use errors.Is to check for them.
var (
	// ErrUnsupportedRank is returned for arrays whose rank is not 1, 2 or 4.
	ErrUnsupportedRank = layouts.ErrUnsupportedRank

	// ErrUnsupportedDataType is returned for element types other than Float32, Int32, Int16, Int8 and Uint8,
	// and for unknown foreign element formats.
	ErrUnsupportedDataType = formats.ErrUnsupportedDataType

	// ErrAllocationFailure is returned when memory can't be allocated.
	ErrAllocationFailure = alignedalloc.ErrAllocationFailure

	// ErrForeignDescriptorInvalid is returned for malformed foreign buffer descriptors.
	ErrForeignDescriptorInvalid = exchange.ErrForeignDescriptorInvalid

	// ErrReleased is returned when using an array after Release.
	ErrReleased = errors.New("array already released")

	// ErrViewBound is returned for operations not allowed on arrays aliasing foreign memory.
	ErrViewBound = errors.New("array is bound to a foreign view")

	// ErrLayoutMismatch is returned for operations that require a canonical layout.
	ErrLayoutMismatch = errors.New("array layout mismatch")

	// ErrReadOnly is returned when trying to write to an array borrowed from read-only foreign memory.
	ErrReadOnly = errors.New("array is read-only")
)
