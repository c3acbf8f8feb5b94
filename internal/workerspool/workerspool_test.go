// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package workerspool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelFor(t *testing.T) {
	for _, parallelism := range []int{0, 1, 3, -1} {
		pool := New(parallelism)
		for _, n := range []int{0, 1, 7, 1000} {
			seen := make([]int32, n)
			var calls atomic.Int32
			pool.ParallelFor(n, 10, func(start, end int) {
				calls.Add(1)
				for ii := start; ii < end; ii++ {
					atomic.AddInt32(&seen[ii], 1)
				}
			})
			for ii, count := range seen {
				if count != 1 {
					t.Fatalf("parallelism=%d, n=%d: index %d visited %d times", parallelism, n, ii, count)
				}
			}
			if n == 0 {
				assert.Zero(t, calls.Load())
			} else if parallelism == 0 || n < 20 {
				// Inline, in a single chunk.
				assert.Equal(t, int32(1), calls.Load())
			} else if parallelism > 0 {
				assert.LessOrEqual(t, int(calls.Load()), parallelism)
			}
		}
	}
}

func TestWaitToStart(t *testing.T) {
	// Disabled parallelism runs inline.
	pool := New(0)
	ran := false
	pool.WaitToStart(func() { ran = true })
	assert.True(t, ran)

	pool = New(2)
	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	release := make(chan struct{})
	for range 6 {
		wg.Add(1)
		go pool.WaitToStart(func() {
			defer wg.Done()
			current := running.Add(1)
			for {
				old := maxRunning.Load()
				if current <= old || maxRunning.CompareAndSwap(old, current) {
					break
				}
			}
			<-release
			running.Add(-1)
		})
	}
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, maxRunning.Load(), int32(2))
	assert.Greater(t, maxRunning.Load(), int32(0))
}
