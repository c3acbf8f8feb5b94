// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package forward

import "fmt"

// Op is an arithmetic operator that can be forwarded.
type Op int

const (
	Invalid Op = iota

	// Unary.
	Negative
	Positive
	Absolute
	Invert

	// Binary.
	Add
	Subtract
	Multiply
	Divide
	TrueDivide
	FloorDivide
	Remainder
	MatrixMultiply
	LeftShift
	RightShift
	And
	Or
	Xor

	// Ternary: base, exponent and an optional modulo.
	Power

	// In-place binary: the result is stored in the first operand.
	InPlaceAdd
	InPlaceSubtract
	InPlaceMultiply
	InPlaceDivide
	InPlaceTrueDivide
	InPlaceFloorDivide
	InPlaceRemainder
	InPlaceMatrixMultiply
	InPlaceLeftShift
	InPlaceRightShift
	InPlaceAnd
	InPlaceOr
	InPlaceXor

	// InPlacePower is ternary.
	InPlacePower

	numOps
)

var opNames = [numOps]string{
	Invalid:               "Invalid",
	Negative:              "Negative",
	Positive:              "Positive",
	Absolute:              "Absolute",
	Invert:                "Invert",
	Add:                   "Add",
	Subtract:              "Subtract",
	Multiply:              "Multiply",
	Divide:                "Divide",
	TrueDivide:            "TrueDivide",
	FloorDivide:           "FloorDivide",
	Remainder:             "Remainder",
	MatrixMultiply:        "MatrixMultiply",
	LeftShift:             "LeftShift",
	RightShift:            "RightShift",
	And:                   "And",
	Or:                    "Or",
	Xor:                   "Xor",
	Power:                 "Power",
	InPlaceAdd:            "InPlaceAdd",
	InPlaceSubtract:       "InPlaceSubtract",
	InPlaceMultiply:       "InPlaceMultiply",
	InPlaceDivide:         "InPlaceDivide",
	InPlaceTrueDivide:     "InPlaceTrueDivide",
	InPlaceFloorDivide:    "InPlaceFloorDivide",
	InPlaceRemainder:      "InPlaceRemainder",
	InPlaceMatrixMultiply: "InPlaceMatrixMultiply",
	InPlaceLeftShift:      "InPlaceLeftShift",
	InPlaceRightShift:     "InPlaceRightShift",
	InPlaceAnd:            "InPlaceAnd",
	InPlaceOr:             "InPlaceOr",
	InPlaceXor:            "InPlaceXor",
	InPlacePower:          "InPlacePower",
}

// String implements fmt.Stringer.
func (op Op) String() string {
	if op < 0 || op >= numOps {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// entry of the dispatch table.
type entry struct {
	arity   int
	inPlace bool
	// target is the operation requested to the backend.
	target Op
}

// dispatch maps each forwarded operator to the backend operation.
// Divide is always the true division, and in-place operators are computed by their out-of-place
// counterparts, the result being written back into the first operand.
var dispatch = map[Op]entry{
	Negative: {arity: 1, target: Negative},
	Positive: {arity: 1, target: Positive},
	Absolute: {arity: 1, target: Absolute},
	Invert:   {arity: 1, target: Invert},

	Add:            {arity: 2, target: Add},
	Subtract:       {arity: 2, target: Subtract},
	Multiply:       {arity: 2, target: Multiply},
	Divide:         {arity: 2, target: TrueDivide},
	TrueDivide:     {arity: 2, target: TrueDivide},
	FloorDivide:    {arity: 2, target: FloorDivide},
	Remainder:      {arity: 2, target: Remainder},
	MatrixMultiply: {arity: 2, target: MatrixMultiply},
	LeftShift:      {arity: 2, target: LeftShift},
	RightShift:     {arity: 2, target: RightShift},
	And:            {arity: 2, target: And},
	Or:             {arity: 2, target: Or},
	Xor:            {arity: 2, target: Xor},
	Power:          {arity: 3, target: Power},

	InPlaceAdd:            {arity: 2, inPlace: true, target: Add},
	InPlaceSubtract:       {arity: 2, inPlace: true, target: Subtract},
	InPlaceMultiply:       {arity: 2, inPlace: true, target: Multiply},
	InPlaceDivide:         {arity: 2, inPlace: true, target: TrueDivide},
	InPlaceTrueDivide:     {arity: 2, inPlace: true, target: TrueDivide},
	InPlaceFloorDivide:    {arity: 2, inPlace: true, target: FloorDivide},
	InPlaceRemainder:      {arity: 2, inPlace: true, target: Remainder},
	InPlaceMatrixMultiply: {arity: 2, inPlace: true, target: MatrixMultiply},
	InPlaceLeftShift:      {arity: 2, inPlace: true, target: LeftShift},
	InPlaceRightShift:     {arity: 2, inPlace: true, target: RightShift},
	InPlaceAnd:            {arity: 2, inPlace: true, target: And},
	InPlaceOr:             {arity: 2, inPlace: true, target: Or},
	InPlaceXor:            {arity: 2, inPlace: true, target: Xor},
	InPlacePower:          {arity: 3, inPlace: true, target: Power},
}

// Arity returns the number of operands of op, or 0 if op is not forwarded.
func (op Op) Arity() int { return dispatch[op].arity }

// IsInPlace returns whether op stores its result in its first operand.
func (op Op) IsInPlace() bool { return dispatch[op].inPlace }

// Target returns the operation requested to the backend when forwarding op.
func (op Op) Target() Op { return dispatch[op].target }
