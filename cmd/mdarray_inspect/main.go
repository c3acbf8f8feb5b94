// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mdarray_inspect describes how an array is laid out in the engine's layouts, and stresses
// round trips between the canonical layout and a target layout.
//
// Example:
//
//	mdarray_inspect -dims=2,16,7,7 -dtype=f32 -layout=nChw8c -iterations=100
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/mdarray/backends"
	_ "github.com/gomlx/mdarray/backends/default"
	"github.com/gomlx/mdarray/pkg/config"
	"github.com/gomlx/mdarray/pkg/core/formats"
	"github.com/gomlx/mdarray/pkg/core/layouts"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagDims       = flag.String("dims", "2,16,7,7", "Comma-separated dimensions of the array.")
	flagDType      = flag.String("dtype", "f32", "Element type: a format code (f, i, h, b, B) or a name like float32 or u8.")
	flagRole       = flag.String("role", "d", "Role of the array: 'd' for data, anything else for weights.")
	flagLayout     = flag.String("layout", "", "Target layout. Defaults to the first blocked layout of the array's rank and role.")
	flagIterations = flag.Int("iterations", 20, "Number of round trips to the target layout and back. Set to 0 to skip.")
	flagAlignment  = flag.Int("alignment", 0, "If > 0, overrides the buffer alignment in bytes.")
	flagColor      = flag.String("color", "auto", "Color output: auto, always or never.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	setColorProfile(*flagColor)

	if *flagAlignment > 0 {
		previous := must.M1(setAlignment(*flagAlignment))
		klog.V(1).Infof("Alignment set to %d bytes (was %d)", *flagAlignment, previous.Alignment)
	}
	opts, err := parseOptions()
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	engine := backends.MustDefault()
	klog.V(1).Infof("Using engine %q", engine.Name())

	fmt.Println(titleStyle.Render("Layout"))
	fmt.Println(layoutTable(opts, engine).Render())

	if *flagIterations <= 0 {
		return
	}
	stats := must.M1(stress(opts, *flagIterations, true))
	fmt.Println(titleStyle.Render("Round trips"))
	fmt.Println(statsTable(stats).Render())
	if stats.Failures > 0 {
		os.Exit(1)
	}
}

// options selected by the flags.
type options struct {
	dims   []int
	dtype  dtypes.DType
	role   layouts.Role
	target layouts.Layout
}

func parseOptions() (opts options, err error) {
	opts.dims, err = parseDims(*flagDims)
	if err != nil {
		return
	}
	opts.dtype, err = formats.Parse(*flagDType)
	if err != nil {
		return
	}
	if *flagRole == "" {
		err = errors.New("-role cannot be empty")
		return
	}
	opts.role = layouts.RoleFromTag((*flagRole)[0])
	if *flagLayout == "" {
		opts.target = defaultTarget(len(opts.dims), opts.role)
	} else {
		opts.target, err = layouts.Parse(*flagLayout)
		if err != nil {
			return
		}
	}
	err = opts.target.CheckDims(opts.dims)
	return
}

func parseDims(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	dims := make([]int, 0, len(parts))
	for _, part := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid -dims=%q", s)
		}
		if d <= 0 {
			return nil, errors.Errorf("invalid -dims=%q: dimensions must be > 0", s)
		}
		dims = append(dims, d)
	}
	return dims, nil
}

// defaultTarget returns the first blocked layout for rank and role, or the canonical one if
// there is none.
func defaultTarget(rank int, role layouts.Role) layouts.Layout {
	for _, l := range layouts.All() {
		if l.Rank() == rank && l.Role() == role && l.IsBlocked() {
			return l
		}
	}
	l, err := layouts.ForRank(rank, role)
	if err != nil {
		return layouts.Undefined
	}
	return l
}

// setAlignment overrides the buffer alignment, and returns the previous configuration.
func setAlignment(alignment int) (previous config.Config, err error) {
	return config.Update(func(c *config.Config) { c.Alignment = alignment })
}

func setColorProfile(mode string) {
	switch mode {
	case "always":
		lipgloss.SetColorProfile(termenv.ANSI256)
	case "never":
		lipgloss.SetColorProfile(termenv.Ascii)
	default:
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).ColorProfile())
	}
}
