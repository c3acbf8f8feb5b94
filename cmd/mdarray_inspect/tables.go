// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/mdarray/backends"
	"github.com/gomlx/mdarray/pkg/config"
	"github.com/gomlx/mdarray/pkg/core/layouts"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func layoutTable(opts options, engine backends.Engine) *lgtable.Table {
	table := newPlainTable()
	canonical, _ := layouts.ForRank(len(opts.dims), opts.role)
	target := opts.target
	itemSize := int(opts.dtype.Memory())
	table.Row("engine", engine.Name())
	table.Row("dims", fmt.Sprintf("%v", opts.dims))
	table.Row("dtype", opts.dtype.String())
	table.Row("role", opts.role.String())
	table.Row("canonical layout", canonical.String())
	table.Row("target layout", target.String())
	table.Row("physical dims", fmt.Sprintf("%v", target.PhysicalDims(opts.dims)))
	table.Row("canonical bytes", humanize.Bytes(uint64(canonical.PhysicalSize(opts.dims)*itemSize)))
	table.Row("target bytes", humanize.Bytes(uint64(target.PhysicalSize(opts.dims)*itemSize)))
	desc, err := backends.NewDescriptor(opts.dtype, target, opts.dims...)
	if err == nil {
		table.Row("exported as", engine.PublicCompatible(desc).String())
	}
	table.Row("alignment", humanize.Comma(int64(config.Get().Alignment)))
	return table
}

func statsTable(stats *Stats) *lgtable.Table {
	table := newPlainTable()
	table.Row("iterations", humanize.Comma(int64(stats.Iterations)))
	table.Row("non-trivial reorders", humanize.Comma(int64(stats.NonTrivial)))
	table.Row("bytes reordered", humanize.Bytes(uint64(stats.BytesReordered)))
	table.Row("failures", humanize.Comma(int64(stats.Failures)))
	table.Row("time per round trip", stats.PerIteration().String())
	return table
}
