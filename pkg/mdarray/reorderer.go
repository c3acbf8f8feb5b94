// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"github.com/gomlx/mdarray/backends"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Reorderer provides the canonical view of an array.
//
// If the array layout is canonical (trivial reorderer) the view aliases the array memory, and
// Fire and Sync do nothing. Otherwise, the reorderer owns a cache in the canonical layout:
// Fire converts the array contents into the cache, and Sync converts the cache back into the
// array memory.
//
// Fire must be called before reading the view, and Sync after modifying it, or the modifications
// are lost. Each reorderer serves a single request: create a new one to see later changes
// of the array.
//
// The reorderer holds its own references to the array memory, so the view stays valid until
// Release, even if the array is released first.
type Reorderer struct {
	src        *Array
	public     backends.Descriptor
	nonTrivial bool
	cache      *Buffer
	released   bool
}

// NewReorderer returns the reorderer for the canonical view of a. It allocates the cache if
// the layout of a is not canonical. It must be released with Release.
func NewReorderer(a *Array) (*Reorderer, error) {
	src, err := a.Clone()
	if err != nil {
		return nil, err
	}
	public := a.engine.PublicCompatible(a.desc)
	r := &Reorderer{
		src:        src,
		public:     public,
		nonTrivial: public.Layout != a.desc.Layout,
	}
	if !r.nonTrivial {
		r.cache = src.refs.buf
		return r, nil
	}
	r.cache, err = newOwnedBuffer(public.Size())
	if err != nil {
		src.Release()
		return nil, errors.WithMessagef(err, "mdarray: allocating reorder cache for %s", a.desc)
	}
	return r, nil
}

// NonTrivial returns whether the array layout is not canonical, and hence the view is a cache.
func (r *Reorderer) NonTrivial() bool { return r.nonTrivial }

func (r *Reorderer) cacheMemory() backends.Memory {
	return backends.Memory{Descriptor: r.public, Data: r.cache.data}
}

// Fire converts the array contents into the canonical view. A no-op for trivial reorderers.
func (r *Reorderer) Fire() error {
	if r.released {
		return ErrReleased
	}
	if !r.nonTrivial {
		return nil
	}
	if klog.V(1).Enabled() {
		klog.Infof("mdarray: reorder fire %s -> %s", r.src.desc, r.public)
	}
	return r.src.engine.Reorder(r.src.memory(), r.cacheMemory())
}

// Sync converts the canonical view back into the array memory. A no-op for trivial reorderers.
func (r *Reorderer) Sync() error {
	if r.released {
		return ErrReleased
	}
	if !r.nonTrivial {
		return nil
	}
	if r.src.readOnly {
		return errors.Wrapf(ErrReadOnly, "can't sync back into %s", r.src.desc)
	}
	if klog.V(1).Enabled() {
		klog.Infof("mdarray: reorder sync %s -> %s", r.public, r.src.desc)
	}
	return r.src.engine.Reorder(r.cacheMemory(), r.src.memory())
}

// Data returns the memory of the canonical view, in row-major order.
func (r *Reorderer) Data() []byte {
	if r.released {
		return nil
	}
	return r.cache.data[:r.public.Size()]
}

// Descriptor of the canonical view.
func (r *Reorderer) Descriptor() backends.Descriptor { return r.public.WithLayout(r.public.Layout) }

// Shape returns the dimensions of the view.
func (r *Reorderer) Shape() []int { return r.public.Shape.Clone().Dimensions }

// Strides returns the row-major strides of the view, in bytes.
func (r *Reorderer) Strides() []int { return r.public.ByteStrides() }

// ItemSize returns the size of the elements in bytes.
func (r *Reorderer) ItemSize() int { return int(r.public.DType.Memory()) }

// Format returns the element format code of the view.
func (r *Reorderer) Format() (string, error) { return formats.Format(r.public.DType) }

// Release the cache (if any) and the references to the array memory. It is safe to call it more than once.
func (r *Reorderer) Release() {
	if r.released {
		return
	}
	r.released = true
	if r.nonTrivial {
		r.cache.decRef()
	}
	r.cache = nil
	r.src.Release()
}
