// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"sync/atomic"

	"github.com/gomlx/mdarray/internal/keepalive"
	"github.com/gomlx/mdarray/pkg/exchange"
	"k8s.io/klog/v2"
)

// viewRoot holds a foreign descriptor shared by all the bindings derived from it.
// The descriptor itself holds one reference to the foreign owner, used by the first binding.
type viewRoot struct {
	desc     *exchange.Descriptor
	bindings atomic.Int64
}

// viewBinding keeps a foreign descriptor, and hence its owner, alive while an array aliases its
// memory. Each binding holds one reference to the owner, and the descriptor is released
// (calling the foreign release hook) when the last binding is released.
type viewBinding struct {
	root     *viewRoot
	pin      keepalive.Pin
	released atomic.Bool
}

// bindView takes ownership of desc and returns its first binding.
func bindView(desc *exchange.Descriptor) *viewBinding {
	root := &viewRoot{desc: desc}
	root.bindings.Store(1)
	return &viewBinding{root: root, pin: keepalive.Acquire(desc.Owner)}
}

// duplicate returns a new binding to the same descriptor, taking a new reference to its owner.
func (v *viewBinding) duplicate() *viewBinding {
	v.root.bindings.Add(1)
	if owner := v.root.desc.Owner; owner != nil {
		owner.IncRef()
	}
	return &viewBinding{root: v.root, pin: keepalive.Acquire(v.root.desc.Owner)}
}

// release the binding. Only the first call has an effect.
func (v *viewBinding) release() {
	if v == nil || !v.released.CompareAndSwap(false, true) {
		return
	}
	v.pin.Release()
	if v.root.bindings.Add(-1) > 0 {
		if owner := v.root.desc.Owner; owner != nil {
			owner.DecRef()
		}
		return
	}
	if klog.V(2).Enabled() {
		klog.Infof("mdarray: releasing foreign view %s", v.root.desc)
	}
	if err := v.root.desc.Release(); err != nil {
		klog.Errorf("mdarray: failed to release foreign view: %+v", err)
	}
}

// descriptor returns the bound foreign descriptor.
func (v *viewBinding) descriptor() *exchange.Descriptor { return v.root.desc }
