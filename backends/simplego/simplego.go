// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package simplego implements a simple, portable, pure Go compute engine for mdarray.
//
// It implements reorders between all the layouts defined in package layouts, for the element
// types supported by package formats. Large reorders are split across goroutines.
//
// Configuration string: "parallelism=N", where N=0 disables parallelism and N=-1 means unlimited.
// The default comes from config.Get().Parallelism.
package simplego

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gomlx/mdarray/backends"
	"github.com/gomlx/mdarray/internal/workerspool"
	"github.com/gomlx/mdarray/pkg/config"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/pkg/errors"
)

// EngineName to be used in MDARRAY_ENGINE to specify this engine.
const EngineName = "go"

// Registers New() as the constructor for the "go" engine.
func init() {
	backends.Register(EngineName, New)
}

// New constructs a new SimpleGo Engine.
func New(config string) (backends.Engine, error) {
	return NewEngine(config)
}

// NewEngine is like New, but returns the concrete type.
func NewEngine(configuration string) (*Engine, error) {
	parallelism := config.Get().Parallelism
	for _, part := range strings.Split(configuration, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "parallelism":
			var err error
			parallelism, err = strconv.Atoi(value)
			if err != nil || parallelism < -1 {
				return nil, errors.Errorf("simplego: invalid parallelism in configuration %q", configuration)
			}
		default:
			return nil, errors.Errorf("simplego: unknown configuration option %q in %q", key, configuration)
		}
	}
	return &Engine{
		workers: workerspool.New(parallelism),
	}, nil
}

// Engine implements the backends.Engine interface.
type Engine struct {
	workers   *workerspool.Pool
	finalized atomic.Bool

	// tables caches the offset tables per layout and dimensions.
	// The underlying type is map[tablesKey][][]int.
	tables sync.Map
}

// Compile-time check that simplego.Engine implements backends.Engine.
var _ backends.Engine = &Engine{}

// Name returns the short name of the engine.
func (e *Engine) Name() string {
	return "SimpleGo (go)"
}

// String implements fmt.Stringer.
func (e *Engine) String() string { return EngineName }

// Description is a longer description of the Engine that can be used to pretty-print.
func (e *Engine) Description() string {
	return "Simple Go Portable Engine"
}

// Parallelism returns the max parallelism used for reorders.
func (e *Engine) Parallelism() int {
	return e.workers.MaxParallelism()
}

// PublicCompatible implements backends.Engine.
func (e *Engine) PublicCompatible(desc backends.Descriptor) backends.Descriptor {
	return desc.WithLayout(layouts.PublicCompatible(desc.Layout))
}

// Finalize releases the cached tables and makes the engine invalid.
func (e *Engine) Finalize() {
	e.finalized.Store(true)
	e.tables.Clear()
}

// IsFinalized returns true if the engine is finalized.
func (e *Engine) IsFinalized() bool {
	return e.finalized.Load()
}
