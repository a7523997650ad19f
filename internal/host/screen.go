// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/host/screen.go
// Summary: Minimal cell screen behind the demo host: plain text layer,
//          cursor tracking, and the graphics overlay the engine paints
//          through the CellSink interface.
// Notes: Text is monochrome on purpose. Color and attribute rendition
//        belong to a full terminal emulator; this screen exists to give
//        graphics placements a live cursor and something to draw over.

package host

import (
	"bytes"
	"strconv"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/framegrace/texelgfx/graphics"
)

type overlayCell struct {
	bg    graphics.RGB
	glyph rune
	set   bool
}

// Screen is the host's cell buffer. The pty reader writes the text layer
// through the dispatcher while the engine paints the overlay during
// RenderInto; both sides serialize on one mutex.
type Screen struct {
	mu sync.Mutex

	cols, rows int
	cells      [][]rune
	over       []overlayCell

	curX, curY    int
	title         string
	appCursor     bool
	cursorVisible bool
}

func NewScreen(cols, rows int) *Screen {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	s := &Screen{cursorVisible: true}
	s.alloc(cols, rows)
	return s
}

func (s *Screen) alloc(cols, rows int) {
	s.cols, s.rows = cols, rows
	s.cells = make([][]rune, rows)
	for y := range s.cells {
		s.cells[y] = make([]rune, cols)
	}
	s.over = make([]overlayCell, cols*rows)
}

// Resize reallocates the buffer, keeping whatever content still fits.
func (s *Screen) Resize(cols, rows int) {
	if cols < 1 || rows < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cells
	s.alloc(cols, rows)
	for y := 0; y < rows && y < len(old); y++ {
		copy(s.cells[y], old[y])
	}
	s.clampCursor()
}

func (s *Screen) Size() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Cursor reports the current cell position. The engine uses it to anchor
// cursor-relative placements.
func (s *Screen) Cursor() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.curX, s.curY
}

func (s *Screen) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// AppCursorKeys reports DECCKM state so key encoding can pick the right
// arrow sequences.
func (s *Screen) AppCursorKeys() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appCursor
}

// Print places a rune at the cursor, wrapping at the right edge.
func (s *Screen) Print(r rune) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := runewidth.RuneWidth(r)
	if w == 0 {
		return
	}
	if s.curX+w > s.cols {
		s.curX = 0
		s.lineFeed()
	}
	if s.curY >= 0 && s.curY < s.rows && s.curX >= 0 && s.curX+w <= s.cols {
		s.cells[s.curY][s.curX] = r
		if w == 2 {
			s.cells[s.curY][s.curX+1] = 0
		}
	}
	s.curX += w
	if s.curX > s.cols {
		s.curX = s.cols
	}
}

func (s *Screen) LineFeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineFeed()
}

func (s *Screen) lineFeed() {
	s.curY++
	if s.curY >= s.rows {
		s.scrollUp()
		s.curY = s.rows - 1
	}
}

func (s *Screen) CarriageReturn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curX = 0
}

func (s *Screen) Backspace() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curX > 0 {
		s.curX--
	}
}

// Tab advances to the next 8-column stop.
func (s *Screen) Tab() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curX = (s.curX/8 + 1) * 8
	if s.curX >= s.cols {
		s.curX = s.cols - 1
	}
}

func (s *Screen) ReverseIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curY > 0 {
		s.curY--
	}
}

// Reset clears the buffer and homes the cursor. The title survives.
func (s *Screen) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for y := range s.cells {
		clearRunes(s.cells[y])
	}
	for i := range s.over {
		s.over[i] = overlayCell{}
	}
	s.curX, s.curY = 0, 0
	s.appCursor = false
	s.cursorVisible = true
}

func (s *Screen) scrollUp() {
	first := s.cells[0]
	copy(s.cells, s.cells[1:])
	clearRunes(first)
	s.cells[s.rows-1] = first
}

func clearRunes(row []rune) {
	for i := range row {
		row[i] = 0
	}
}

func (s *Screen) clampCursor() {
	if s.curX < 0 {
		s.curX = 0
	}
	if s.curX >= s.cols {
		s.curX = s.cols - 1
	}
	if s.curY < 0 {
		s.curY = 0
	}
	if s.curY >= s.rows {
		s.curY = s.rows - 1
	}
}

// ProcessCSI applies the cursor-movement and erase subset this screen
// understands. Everything else is ignored without complaint; the demo is
// not a terminal emulator.
func (s *Screen) ProcessCSI(final rune, params []int, private bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if private {
		s.privateMode(final, params)
		return
	}

	n := func(i, def int) int {
		if i < len(params) && params[i] > 0 {
			return params[i]
		}
		return def
	}
	mode := 0
	if len(params) > 0 {
		mode = params[0]
	}

	switch final {
	case 'A':
		s.curY -= n(0, 1)
	case 'B':
		s.curY += n(0, 1)
	case 'C':
		s.curX += n(0, 1)
	case 'D':
		s.curX -= n(0, 1)
	case 'G':
		s.curX = n(0, 1) - 1
	case 'd':
		s.curY = n(0, 1) - 1
	case 'H', 'f':
		s.curY = n(0, 1) - 1
		s.curX = n(1, 1) - 1
	case 'J':
		s.eraseDisplay(mode)
	case 'K':
		s.eraseLine(mode)
	case 'm':
		// Rendition is out of scope; text stays monochrome.
	}
	s.clampCursor()
}

func (s *Screen) privateMode(final rune, params []int) {
	if final != 'h' && final != 'l' {
		return
	}
	set := final == 'h'
	for _, p := range params {
		switch p {
		case 1:
			s.appCursor = set
		case 25:
			s.cursorVisible = set
		}
	}
}

func (s *Screen) eraseDisplay(mode int) {
	switch mode {
	case 0:
		s.eraseLine(0)
		for y := s.curY + 1; y < s.rows; y++ {
			clearRunes(s.cells[y])
		}
	case 1:
		s.eraseLine(1)
		for y := 0; y < s.curY; y++ {
			clearRunes(s.cells[y])
		}
	case 2, 3:
		for y := range s.cells {
			clearRunes(s.cells[y])
		}
	}
}

func (s *Screen) eraseLine(mode int) {
	if s.curY < 0 || s.curY >= s.rows {
		return
	}
	row := s.cells[s.curY]
	switch mode {
	case 0:
		for x := s.curX; x < s.cols; x++ {
			row[x] = 0
		}
	case 1:
		for x := 0; x <= s.curX && x < s.cols; x++ {
			row[x] = 0
		}
	case 2:
		clearRunes(row)
	}
}

// HandleOSC picks the window title out of OSC 0/2 and drops the rest.
func (s *Screen) HandleOSC(body []byte) {
	parts := bytes.SplitN(body, []byte{';'}, 2)
	if len(parts) < 2 {
		return
	}
	command, err := strconv.Atoi(string(parts[0]))
	if err != nil {
		return
	}
	switch command {
	case 0, 2:
		s.mu.Lock()
		s.title = string(parts[1])
		s.mu.Unlock()
	}
}

// BeginFrame clears the graphics overlay before the engine repaints it.
func (s *Screen) BeginFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.over {
		s.over[i] = overlayCell{}
	}
}

// SetCellBackground implements graphics.CellSink.
func (s *Screen) SetCellBackground(col, row int, c graphics.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col < 0 || row < 0 || col >= s.cols || row >= s.rows {
		return
	}
	oc := &s.over[row*s.cols+col]
	oc.bg = c
	oc.set = true
}

// SetCellContent implements graphics.CellSink.
func (s *Screen) SetCellContent(col, row int, glyph rune) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if col < 0 || row < 0 || col >= s.cols || row >= s.rows {
		return
	}
	s.over[row*s.cols+col].glyph = glyph
}

// Flush copies the composed buffer to a tcell screen. Graphics
// backgrounds win over text backgrounds; an opaque image cell also
// replaces the glyph underneath.
func (s *Screen) Flush(to tcell.Screen) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for y := 0; y < s.rows; y++ {
		skip := false
		for x := 0; x < s.cols; x++ {
			if skip {
				skip = false
				continue
			}
			ch := s.cells[y][x]
			if ch == 0 {
				ch = ' '
			}
			style := tcell.StyleDefault
			oc := s.over[y*s.cols+x]
			if oc.set {
				style = style.Background(tcell.NewRGBColor(int32(oc.bg.R), int32(oc.bg.G), int32(oc.bg.B)))
			}
			if oc.glyph != 0 {
				ch = oc.glyph
			}
			if s.cursorVisible && x == s.curX && y == s.curY {
				style = style.Reverse(true)
			}
			to.SetContent(x, y, ch, nil, style)
			if runewidth.RuneWidth(ch) == 2 {
				skip = true
			}
		}
	}
}
