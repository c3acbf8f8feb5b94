// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface to the compute engine (the tensor library) used by
// the mdarray package to convert arrays between memory layouts.
//
// An Engine knows which canonical layout corresponds to any internal layout
// (PublicCompatible), and how to reorder memory from one layout to another (Reorder).
// Engines are registered by name, and the default one can be selected with the environment
// variable MDARRAY_ENGINE.
//
// Errors from engines are returned, but programming errors (like asking for an engine that
// was never registered) panic. See package github.com/gomlx/exceptions.
package backends

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/maps"
)

// Engine is the API that needs to be implemented by a compute engine.
type Engine interface {
	// Name returns the short name of the engine. E.g.: "go" for the pure Go reference engine.
	Name() string

	// Description is a longer description of the Engine that can be used to pretty-print.
	Description() string

	// PublicCompatible returns the descriptor of the same array stored in the canonical
	// layout that can be published to external consumers.
	PublicCompatible(desc Descriptor) Descriptor

	// Reorder converts the contents of src into dst, which must have the same dtype and
	// logical dimensions, but may have a different layout.
	//
	// It is synchronous: when it returns dst holds the converted values.
	Reorder(src, dst Memory) error

	// Finalize releases all the associated resources immediately, and makes the engine invalid.
	Finalize()

	// IsFinalized returns true if the engine is finalized.
	IsFinalized() bool
}

// Constructor takes a config string (optionally empty) and returns an Engine.
type Constructor func(config string) (Engine, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register engine with the given name, and a default constructor that takes as input a configuration string that is
// passed along to the engine constructor.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List the names of the registered engines, sorted.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	names := maps.Keys(registeredConstructors)
	slices.Sort(names)
	return names
}

// DefaultConfig is the name of the default engine configuration to use if specified.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default engine configuration to use.
//
// The format of config is "<engine_name>:<engine_configuration>".
// The "<engine_name>" is the name of a registered engine (e.g.: "go") and
// "<engine_configuration>" is engine specific (e.g.: "parallelism=4").
const ConfigEnvVar = "MDARRAY_ENGINE"

// New returns a new default Engine.
//
// The default is:
//
// 1. The environment MDARRAY_ENGINE is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered engine is used with an empty configuration.
//
// It panics if no engine was registered.
func New() (Engine, error) {
	config, found := os.LookupEnv(ConfigEnvVar)
	if found {
		return NewWithConfig(config)
	}
	if DefaultConfig != "" {
		return NewWithConfig(DefaultConfig)
	}
	return NewWithConfig("")
}

// NewWithConfig takes a configuration string formatted as "<engine_name>:<engine_configuration>",
// or simply "<engine_name>".
//
// An empty engine name selects the first registered engine, and the whole string is
// passed to it as configuration if it has no ":".
func NewWithConfig(config string) (Engine, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		exceptions.Panicf(`no registered engines for mdarray -- maybe import the default one with import _ "github.com/gomlx/mdarray/backends/default"?`)
	}
	engineName := firstRegistered
	engineConfig := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		engineName = config[:idx]
		engineConfig = config[idx+1:]
	} else if _, found := registeredConstructors[config]; found {
		engineName = config
	} else {
		engineConfig = config
	}
	if engineName == "" {
		engineName = firstRegistered
	}
	constructor, found := registeredConstructors[engineName]
	muRegistry.Unlock()
	if !found {
		exceptions.Panicf("can't find engine %q for configuration %q given", engineName, config)
	}
	return constructor(engineConfig)
}

var (
	muDefault     sync.Mutex
	defaultEngine Engine
)

// Default returns a process-wide Engine created with New on first use.
//
// If the default engine has been finalized, a new one is created.
func Default() (Engine, error) {
	muDefault.Lock()
	defer muDefault.Unlock()
	if defaultEngine != nil && !defaultEngine.IsFinalized() {
		return defaultEngine, nil
	}
	engine, err := New()
	if err != nil {
		return nil, err
	}
	defaultEngine = engine
	return engine, nil
}

// MustDefault returns Default, and panics if it fails.
func MustDefault() Engine {
	engine, err := Default()
	if err != nil {
		exceptions.Panicf("failed to create default engine: %+v", err)
	}
	return engine
}
