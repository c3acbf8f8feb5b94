// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the process-wide configuration of the mdarray packages.
//
// The defaults can be changed with environment variables (read once, at first use):
//
//   - MDARRAY_ALIGNMENT: alignment in bytes of internal allocations and the boundary below
//     which borrowed foreign buffers are copied. Default 64.
//   - MDARRAY_MAX_ALLOCATION: upper bound of a single allocation, in a human-readable format
//     ("512MiB", "2GB"). Empty or "0" means unlimited.
//   - MDARRAY_DEBUG: if true, enables internal consistency checks that panic on programming errors.
//   - MDARRAY_PARALLELISM: max parallelism used by engines that support it. 0 disables parallelism,
//     -1 is unlimited. Default is runtime.NumCPU().
package config

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Environment variables read by FromEnv.
const (
	EnvAlignment     = "MDARRAY_ALIGNMENT"
	EnvMaxAllocation = "MDARRAY_MAX_ALLOCATION"
	EnvDebug         = "MDARRAY_DEBUG"
	EnvParallelism   = "MDARRAY_PARALLELISM"
)

// DefaultAlignment is the alignment used for vectorized access by the compute kernels.
const DefaultAlignment = 64

// Config of the mdarray packages.
type Config struct {
	// Alignment in bytes, a power of 2 >= 8.
	Alignment int

	// MaxAllocation is the largest single allocation allowed, in bytes. 0 means unlimited.
	MaxAllocation uint64

	// DebugChecks turns on consistency checks that panic on programming errors.
	DebugChecks bool

	// Parallelism is the max parallelism for engines: 0 disables it, -1 means unlimited.
	Parallelism int
}

// Default returns the default configuration, not taking the environment into account.
func Default() Config {
	return Config{
		Alignment:   DefaultAlignment,
		Parallelism: runtime.NumCPU(),
	}
}

// FromEnv returns the Default configuration updated with the environment variables that are set.
func FromEnv() (Config, error) {
	c := Default()
	if v, found := os.LookupEnv(EnvAlignment); found && v != "" {
		alignment, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.Wrapf(err, "failed to parse $%s=%q", EnvAlignment, v)
		}
		c.Alignment = alignment
	}
	if v, found := os.LookupEnv(EnvMaxAllocation); found && v != "" {
		maxAlloc, err := humanize.ParseBytes(v)
		if err != nil {
			return c, errors.Wrapf(err, "failed to parse $%s=%q", EnvMaxAllocation, v)
		}
		c.MaxAllocation = maxAlloc
	}
	if v, found := os.LookupEnv(EnvDebug); found && v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return c, errors.Wrapf(err, "failed to parse $%s=%q", EnvDebug, v)
		}
		c.DebugChecks = debug
	}
	if v, found := os.LookupEnv(EnvParallelism); found && v != "" {
		parallelism, err := strconv.Atoi(v)
		if err != nil {
			return c, errors.Wrapf(err, "failed to parse $%s=%q", EnvParallelism, v)
		}
		c.Parallelism = parallelism
	}
	return c, c.Validate()
}

// Validate returns an error if the configuration is not usable.
func (c Config) Validate() error {
	if c.Alignment < 8 || c.Alignment&(c.Alignment-1) != 0 {
		return errors.Errorf("alignment must be a power of 2 >= 8, got %d", c.Alignment)
	}
	if c.Parallelism < -1 {
		return errors.Errorf("parallelism must be >= -1, got %d", c.Parallelism)
	}
	return nil
}

var (
	current  atomic.Pointer[Config]
	loadOnce sync.Once
)

// Get returns the current configuration.
//
// The first call reads the environment (see FromEnv). If the environment is invalid, it logs a
// warning and falls back to Default.
func Get() Config {
	loadOnce.Do(func() {
		if current.Load() != nil {
			// Set was called before the first Get.
			return
		}
		c, err := FromEnv()
		if err != nil {
			klog.Warningf("mdarray: invalid configuration from environment, using defaults: %+v", err)
			c = Default()
		}
		current.Store(&c)
	})
	return *current.Load()
}

// Set replaces the current configuration. It returns an error, and keeps the current one,
// if the configuration is not valid.
//
// Changes are only seen by operations started after Set returns.
func Set(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	current.Store(&c)
	return nil
}

// Update applies fn to a copy of the current configuration and sets the result.
// It returns the previous configuration, convenient to restore it later.
func Update(fn func(c *Config)) (previous Config, err error) {
	previous = Get()
	c := previous
	fn(&c)
	err = Set(c)
	return
}
