// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"time"

	"github.com/gomlx/mdarray/pkg/exchange"
	"github.com/gomlx/mdarray/pkg/mdarray"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Stats collected by stress.
type Stats struct {
	Iterations, NonTrivial, Failures int
	BytesReordered                   int64
	Elapsed                          time.Duration
}

// PerIteration returns the mean duration of one round trip.
func (s *Stats) PerIteration() time.Duration {
	if s.Iterations == 0 {
		return 0
	}
	return s.Elapsed / time.Duration(s.Iterations)
}

// stress runs iterations round trips of a canonical array through opts.target.
//
// Each round trip checks that the canonical view of the reordered array matches the source, and
// that changes written through a writable export are converted back into the array.
func stress(opts options, iterations int, showBar bool) (*Stats, error) {
	stats := &Stats{}
	var bar *progressbar.ProgressBar
	if showBar {
		bar = progressbar.NewOptions(iterations,
			progressbar.OptionSetDescription("Round trips"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("trips"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish())
	}
	start := time.Now()
	for iter := range iterations {
		nonTrivial, n, err := roundTrip(opts, iter)
		if err != nil {
			return nil, err
		}
		stats.Iterations++
		if n < 0 {
			stats.Failures++
			klog.Warningf("Round trip #%d to %s returned unexpected contents", iter, opts.target)
		}
		if nonTrivial {
			stats.NonTrivial++
			stats.BytesReordered += int64(max(n, 0))
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	stats.Elapsed = time.Since(start)
	if bar != nil {
		_ = bar.Finish()
	}
	return stats, nil
}

// roundTrip returns whether the conversion was non-trivial and the number of bytes reordered,
// or -1 if the contents didn't survive the round trip.
func roundTrip(opts options, iter int) (nonTrivial bool, reordered int, err error) {
	src, err := mdarray.New(opts.dims, opts.dtype, opts.role)
	if err != nil {
		return
	}
	defer src.Release()
	want := src.Bytes()
	for ii := range want {
		want[ii] = byte(ii*7 + iter)
	}

	dst, err := src.Reorder(opts.target)
	if err != nil {
		return
	}
	defer dst.Release()
	view, err := dst.CanonicalView()
	if err != nil {
		return
	}
	nonTrivial = view.NonTrivial()
	ok := bytes.Equal(view.Data(), want)
	view.Release()

	// Invert every byte through a writable export: on release it must be synced back into dst.
	exported, err := mdarray.Export(dst, exchange.FlagFull)
	if err != nil {
		return
	}
	for ii, b := range exported.Data() {
		exported.Data()[ii] = ^b
	}
	if err = exported.Release(); err != nil {
		err = errors.WithMessage(err, "releasing writable export")
		return
	}
	view, err = dst.CanonicalView()
	if err != nil {
		return
	}
	defer view.Release()
	for ii, b := range view.Data() {
		if b != ^want[ii] {
			ok = false
			break
		}
	}
	if !ok {
		reordered = -1
		return
	}
	if nonTrivial {
		// Source to target, canonical view, writable sync and the final canonical view.
		reordered = 4 * len(want)
	}
	return
}
