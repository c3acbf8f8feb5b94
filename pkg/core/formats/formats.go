// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package formats maps element data types to the single-character type codes used by the
// buffer-exchange protocol (a subset of the struct-module syntax: "f", "i", "h", "b", "B").
//
// Only five element types are supported: Float32, Int32, Int16, Int8 and Uint8.
package formats

import (
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// ErrUnsupportedDataType is returned for element types or format codes not among the supported ones.
var ErrUnsupportedDataType = errors.New("unsupported data type")

type entry struct {
	code     byte
	dtype    dtypes.DType
	itemSize int
}

// table is ordered by the priority used when scanning a format string.
var table = []entry{
	{'f', dtypes.Float32, 4},
	{'i', dtypes.Int32, 4},
	{'h', dtypes.Int16, 2},
	{'b', dtypes.Int8, 1},
	{'B', dtypes.Uint8, 1},
}

// FromFormat returns the element type for the given format string.
//
// Format strings may carry byte-order or size prefixes ("<f", "=i"), so the string is scanned for
// the first type code, in priority order f, i, h, b, B, present anywhere in it.
// It returns ErrUnsupportedDataType if none is found.
func FromFormat(format string) (dtypes.DType, error) {
	for _, e := range table {
		if strings.IndexByte(format, e.code) >= 0 {
			return e.dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Wrapf(ErrUnsupportedDataType, "format %q", format)
}

// Format returns the format code for dtype.
func Format(dtype dtypes.DType) (string, error) {
	for _, e := range table {
		if e.dtype == dtype {
			return string(e.code), nil
		}
	}
	return "", errors.Wrapf(ErrUnsupportedDataType, "dtype %s has no format code", dtype)
}

// ItemSize returns the size in bytes of one element of dtype.
func ItemSize(dtype dtypes.DType) (int, error) {
	for _, e := range table {
		if e.dtype == dtype {
			return e.itemSize, nil
		}
	}
	return 0, errors.Wrapf(ErrUnsupportedDataType, "dtype %s", dtype)
}

// IsSupported returns whether dtype is one of the supported element types.
func IsSupported(dtype dtypes.DType) bool {
	_, err := ItemSize(dtype)
	return err == nil
}

// Supported returns the list of supported element types.
func Supported() []dtypes.DType {
	all := make([]dtypes.DType, 0, len(table))
	for _, e := range table {
		all = append(all, e.dtype)
	}
	return all
}

// Parse accepts either a dtype name (as printed by dtypes.DType.String, or lower case, e.g. "float32")
// or its short form ("f32", "s32", "s16", "s8", "u8"), or a format code, and returns the dtype.
func Parse(name string) (dtypes.DType, error) {
	switch strings.ToLower(name) {
	case "f32", "float32":
		return dtypes.Float32, nil
	case "s32", "i32", "int32":
		return dtypes.Int32, nil
	case "s16", "i16", "int16":
		return dtypes.Int16, nil
	case "s8", "i8", "int8":
		return dtypes.Int8, nil
	case "u8", "uint8":
		return dtypes.Uint8, nil
	}
	if len(name) == 1 {
		return FromFormat(name)
	}
	return dtypes.InvalidDType, errors.Wrapf(ErrUnsupportedDataType, "unknown dtype %q", name)
}
