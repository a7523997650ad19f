// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/cell.go
// Summary: Cell-resolution color grid the bridge renders into, plus the
//          narrow sink interface the surrounding terminal provides.

package graphics

// RGB is one opaque cell background color.
type RGB struct {
	R, G, B uint8
}

// CellColor is the bridge's verdict for one cell. Set stays false for cells
// the image never touched so the host can leave its own content alone.
// Opaque marks full coverage, letting the host blank the glyph underneath.
type CellColor struct {
	Color  RGB
	Set    bool
	Opaque bool
}

// Grid is a row-major cell rectangle.
type Grid struct {
	Cols, Rows int
	cells      []CellColor
}

// NewGrid allocates a cleared grid. Zero or negative dimensions yield an
// empty grid that ignores writes.
func NewGrid(cols, rows int) *Grid {
	if cols < 0 {
		cols = 0
	}
	if rows < 0 {
		rows = 0
	}
	return &Grid{Cols: cols, Rows: rows, cells: make([]CellColor, cols*rows)}
}

// At returns the cell at col,row; out-of-bounds reads come back unset.
func (g *Grid) At(col, row int) CellColor {
	if col < 0 || row < 0 || col >= g.Cols || row >= g.Rows {
		return CellColor{}
	}
	return g.cells[row*g.Cols+col]
}

func (g *Grid) set(col, row int, c RGB, opaque bool) {
	if col < 0 || row < 0 || col >= g.Cols || row >= g.Rows {
		return
	}
	g.cells[row*g.Cols+col] = CellColor{Color: c, Set: true, Opaque: opaque}
}

// SetCount reports how many cells the bridge actually painted.
func (g *Grid) SetCount() int {
	n := 0
	for _, c := range g.cells {
		if c.Set {
			n++
		}
	}
	return n
}

// CellSink is the write half of the host's screen buffer. The engine only
// ever pushes a background color and, optionally, a replacement glyph.
type CellSink interface {
	SetCellBackground(col, row int, c RGB)
	SetCellContent(col, row int, glyph rune)
}

// BackgroundFn resolves the current background of a cell so partially
// transparent pixels blend against what is really on screen.
type BackgroundFn func(col, row int) RGB
