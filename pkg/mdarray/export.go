// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package mdarray

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/mdarray/pkg/config"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Description of the canonical view of an array, as published through the buffer-exchange protocol.
type Description struct {
	NDim     int
	Shape    []int
	Strides  []int
	Format   string
	ItemSize int
}

// formatOf returns the format code of dtype of a. With config.Get().DebugChecks a missing format
// is a bug, and it panics.
func formatOf(a *Array) (string, error) {
	format, err := formats.Format(a.desc.DType)
	if err != nil && config.Get().DebugChecks {
		exceptions.Panicf("mdarray: array %s has no format code: %+v", a.desc, err)
	}
	return format, err
}

// Describe returns the canonical description of a, without materializing it.
func Describe(a *Array) (Description, error) {
	if a.IsReleased() {
		return Description{}, ErrReleased
	}
	format, err := formatOf(a)
	if err != nil {
		return Description{}, err
	}
	public := a.engine.PublicCompatible(a.desc)
	return Description{
		NDim:     public.Rank(),
		Shape:    public.Shape.Clone().Dimensions,
		Strides:  public.ByteStrides(),
		Format:   format,
		ItemSize: int(public.DType.Memory()),
	}, nil
}

// CanonicalView returns a fired Reorderer for a: its Data holds the contents of a in the
// canonical layout. It must be released with Reorderer.Release.
func (a *Array) CanonicalView() (*Reorderer, error) {
	r, err := NewReorderer(a)
	if err != nil {
		return nil, err
	}
	if err := r.Fire(); err != nil {
		r.Release()
		return nil, err
	}
	return r, nil
}

// Export publishes the canonical view of a through the buffer-exchange protocol.
// See Array.GetBuffer for details.
func Export(a *Array, flags exchange.Flags) (*exchange.Descriptor, error) {
	return exchange.Acquire(a, flags)
}

var _ exchange.Exporter = (*Array)(nil)

// GetBuffer implements exchange.Exporter: it fills view with the canonical view of the array.
//
// Arrays in a canonical layout are exported without copies. Otherwise, the contents are
// converted to a cache, kept alive until the view is released. If exchange.FlagWritable is
// requested, the cache is converted back into the array when the view is released.
func (a *Array) GetBuffer(view *exchange.Descriptor, flags exchange.Flags) error {
	if a.IsReleased() {
		return ErrReleased
	}
	if flags.Has(exchange.FlagWritable) && a.readOnly {
		return errors.Wrapf(ErrReadOnly, "writable view of %s requested", a.desc)
	}
	format, err := formatOf(a)
	if err != nil {
		return err
	}
	r, err := a.CanonicalView()
	if err != nil {
		return err
	}
	readOnly := a.readOnly || !flags.Has(exchange.FlagWritable)
	if err := exchange.Fill(view, a, r.Data(), readOnly, format, r.ItemSize(), r.Shape(), flags); err != nil {
		r.Release()
		return err
	}
	view.Internal = r
	if klog.V(2).Enabled() {
		klog.Infof("mdarray: exported %s (non-trivial=%v, writable=%v)", a.desc, r.NonTrivial(), !readOnly)
	}
	return nil
}

// ReleaseBuffer implements exchange.Exporter. Writable views of non-canonical arrays are
// synchronized back into the array.
func (a *Array) ReleaseBuffer(view *exchange.Descriptor) error {
	r, ok := view.Internal.(*Reorderer)
	if !ok {
		return errors.Errorf("mdarray: releasing a view not exported by an array")
	}
	view.Internal = nil
	defer r.Release()
	if view.Flags.Has(exchange.FlagWritable) && !view.ReadOnly {
		if err := r.Sync(); err != nil {
			return errors.WithMessagef(err, "mdarray: syncing writable view back into %s", a.desc)
		}
	}
	return nil
}
