// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package keepalive pins references to objects owned by a foreign runtime while some memory
// they own is being used, and lists what is still pinned to investigate leaks.
//
// Example:
//
//	pin := keepalive.Acquire(owner)
//	defer pin.Release()
//	data := owner.Bytes()
//	...
package keepalive

import (
	"sync"

	"github.com/gomlx/exceptions"
)

// Pin identifies a reference being kept alive. The zero value is not a valid Pin.
type Pin int

// NoPin is returned by Acquire(nil) and Release is a no-op on it.
const NoPin = Pin(0)

// InitialFreeSlots is the number of slots pre-allocated for pins.
const InitialFreeSlots = 128

type slot struct {
	ref      any
	nextFree int
	inUse    bool
}

var (
	mu sync.Mutex

	// slots[0] is unused, so that the zero Pin is invalid.
	slots = make([]slot, 1, InitialFreeSlots+1)

	// freeHead is the index of the first free slot, or 0 if none is available.
	freeHead int

	numPinned int
)

// Acquire keeps reference alive until the returned Pin is released.
func Acquire(reference any) Pin {
	if reference == nil {
		return NoPin
	}
	mu.Lock()
	defer mu.Unlock()
	numPinned++
	if freeHead == 0 {
		slots = append(slots, slot{ref: reference, inUse: true})
		return Pin(len(slots) - 1)
	}
	idx := freeHead
	freeHead = slots[idx].nextFree
	slots[idx] = slot{ref: reference, inUse: true}
	return Pin(idx)
}

// Release the reference pinned by p. It panics if p is not currently pinned.
func (p Pin) Release() {
	if p == NoPin {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	idx := int(p)
	if idx <= 0 || idx >= len(slots) || !slots[idx].inUse {
		exceptions.Panicf("keepalive: releasing pin %d which is not acquired", idx)
	}
	slots[idx] = slot{nextFree: freeHead}
	freeHead = idx
	numPinned--
}

// Reference returns the pinned reference, or nil if p is not pinned.
func (p Pin) Reference() any {
	mu.Lock()
	defer mu.Unlock()
	idx := int(p)
	if idx <= 0 || idx >= len(slots) || !slots[idx].inUse {
		return nil
	}
	return slots[idx].ref
}

// NumPinned returns the number of references currently pinned.
func NumPinned() int {
	mu.Lock()
	defer mu.Unlock()
	return numPinned
}

// ListAcquired returns the references currently pinned. Used to investigate leaks.
func ListAcquired() []any {
	mu.Lock()
	defer mu.Unlock()
	refs := make([]any, 0, numPinned)
	for _, s := range slots {
		if s.inUse {
			refs = append(refs, s.ref)
		}
	}
	return refs
}
