// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/host/present.go
// Summary: Interactive loop of the demo host: tcell screen, redraw on
//          refresh pokes, key forwarding into the pty, animation ticks,
//          and a status line summarizing engine state.

package host

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/framegrace/texelgfx/graphics"
)

// Config describes one demo session.
type Config struct {
	// Shell is the command run under the pty.
	Shell string

	// EngineOptions carry the caller's limits, cell metrics, and
	// recorder. Cursor and response wiring are added here.
	EngineOptions []graphics.EngineOption

	// TickInterval is the animation poll cadence. Default: 25ms.
	TickInterval time.Duration
}

var screenFactory = tcell.NewScreen

// SetScreenFactory overrides the screen factory used by Run. Passing nil
// restores the default.
func SetScreenFactory(factory func() (tcell.Screen, error)) {
	if factory == nil {
		screenFactory = tcell.NewScreen
		return
	}
	screenFactory = factory
}

// Run wires shell, dispatcher, engine, and tcell screen together and
// blocks until the shell exits.
func Run(cfg Config) error {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 25 * time.Millisecond
	}

	tscreen, err := screenFactory()
	if err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	if err := tscreen.Init(); err != nil {
		return fmt.Errorf("screen init: %w", err)
	}
	defer tscreen.Fini()
	tscreen.Clear()

	width, height := tscreen.Size()
	textRows := height - 1
	if textRows < 1 {
		textRows = 1
	}

	screen := NewScreen(width, textRows)
	session := NewSession(cfg.Shell, width, textRows)

	opts := append([]graphics.EngineOption{}, cfg.EngineOptions...)
	opts = append(opts,
		graphics.WithCursor(screen.Cursor),
		graphics.WithResponseWriter(session.Write),
	)
	engine := graphics.New(opts...)
	dispatcher := NewDispatcher(screen, engine)

	refreshCh := make(chan bool, 1)
	engine.SetRefreshNotifier(refreshCh)
	session.SetRefreshNotifier(refreshCh)

	draw := func() {
		screen.BeginFrame()
		cols, rows := screen.Size()
		engine.RenderInto(screen, cols, rows, nil)
		screen.Flush(tscreen)
		drawStatus(tscreen, screen, engine)
		tscreen.Show()
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- session.Run(dispatcher)
		// Wake the event loop so the exit is noticed.
		tscreen.PostEvent(tcell.NewEventInterrupt(nil))
	}()
	defer session.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-done:
				return
			case <-refreshCh:
				tscreen.PostEvent(tcell.NewEventInterrupt(nil))
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				engine.Tick(now)
			}
		}
	}()

	draw()

	for {
		select {
		case err := <-runErr:
			return err
		default:
		}

		ev := tscreen.PollEvent()
		switch tev := ev.(type) {
		case *tcell.EventInterrupt:
			draw()
		case *tcell.EventResize:
			w, h := tev.Size()
			rows := h - 1
			if rows < 1 {
				rows = 1
			}
			screen.Resize(w, rows)
			session.Resize(w, rows)
			draw()
		case *tcell.EventKey:
			if b := encodeKey(tev, screen.AppCursorKeys()); b != nil {
				session.Write(b)
			}
		}
	}
}

// drawStatus paints the reserved bottom row: title on the left, store
// pressure and the latest diagnostic on the right.
func drawStatus(to tcell.Screen, s *Screen, e *graphics.Engine) {
	w, h := to.Size()
	if h < 2 {
		return
	}
	row := h - 1

	title := s.Title()
	if title == "" {
		title = "gfxterm"
	}
	left := " " + title

	store := e.Store()
	right := fmt.Sprintf("imgs %d | %s ", store.Len(), humanize.IBytes(uint64(store.TotalBytes())))

	if recent := e.Diagnostics().Recent(); len(recent) > 0 {
		left += " | " + recent[len(recent)-1]
	}

	avail := w - runewidth.StringWidth(right)
	if avail < 0 {
		avail = 0
	}
	left = runewidth.Truncate(left, avail, "…")
	left = runewidth.FillRight(left, avail)
	line := left + right

	style := tcell.StyleDefault.Reverse(true)
	x := 0
	for _, r := range line {
		if x >= w {
			break
		}
		to.SetContent(x, row, r, nil, style)
		x += runewidth.RuneWidth(r)
	}
	for ; x < w; x++ {
		to.SetContent(x, row, ' ', nil, style)
	}
}

// encodeKey translates a tcell key event into the byte sequence the
// application inside the pty expects.
func encodeKey(ev *tcell.EventKey, appMode bool) []byte {
	switch ev.Key() {
	case tcell.KeyUp:
		if appMode {
			return []byte("\x1bOA")
		}
		return []byte("\x1b[A")
	case tcell.KeyDown:
		if appMode {
			return []byte("\x1bOB")
		}
		return []byte("\x1b[B")
	case tcell.KeyRight:
		if appMode {
			return []byte("\x1bOC")
		}
		return []byte("\x1b[C")
	case tcell.KeyLeft:
		if appMode {
			return []byte("\x1bOD")
		}
		return []byte("\x1b[D")
	case tcell.KeyHome:
		return []byte("\x1b[H")
	case tcell.KeyEnd:
		return []byte("\x1b[F")
	case tcell.KeyInsert:
		return []byte("\x1b[2~")
	case tcell.KeyDelete:
		return []byte("\x1b[3~")
	case tcell.KeyPgUp:
		return []byte("\x1b[5~")
	case tcell.KeyPgDn:
		return []byte("\x1b[6~")
	case tcell.KeyF1:
		return []byte("\x1bOP")
	case tcell.KeyF2:
		return []byte("\x1bOQ")
	case tcell.KeyF3:
		return []byte("\x1bOR")
	case tcell.KeyF4:
		return []byte("\x1bOS")
	case tcell.KeyEnter:
		return []byte("\r")
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		return []byte{'\b'}
	case tcell.KeyTab:
		return []byte("\t")
	case tcell.KeyEsc:
		return []byte("\x1b")
	default:
		if ev.Rune() != 0 {
			return []byte(string(ev.Rune()))
		}
	}
	return nil
}
