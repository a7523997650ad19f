// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/host/dispatch.go
// Summary: Splits one pty output stream three ways: graphics escape
//          sequences go to the engine, recognized text controls go to the
//          screen model, everything else is dropped.
// Notes: State survives across Advance calls, so a sequence may arrive
//        split at any byte boundary.

package host

import (
	"log"
	"unicode/utf8"

	"github.com/framegrace/texelgfx/graphics"
)

type dispatchState int

const (
	stateGround dispatchState = iota
	stateEscape
	stateCSI
	stateOSC
	stateAPC
	stateAPCEscape
	stateDCS
	stateDCSEscape
	stateCharset
	stateDiscard
	stateDiscardEscape
)

const (
	defaultMaxSequence = 64 << 20
	maxOSC             = 4096
)

// GraphicsHandler consumes demultiplexed graphics sequence bodies.
// *graphics.Engine satisfies it.
type GraphicsHandler interface {
	HandleSequence(p graphics.Protocol, body []byte) graphics.Result
}

// Dispatcher feeds a terminal output stream through a small state
// machine. APC bodies starting with 'G' and sixel DCS bodies are
// diverted to the graphics handler; plain text and the cursor-movement
// subset of CSI land on the screen.
type Dispatcher struct {
	state  dispatchState
	screen *Screen
	gfx    GraphicsHandler

	params       []int
	currentParam int
	private      bool

	oscBuf []byte
	apcBuf []byte
	dcsBuf []byte

	maxSeq int
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxSequence caps how many bytes a single APC or DCS sequence may
// accumulate before the rest of it is discarded.
func WithMaxSequence(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxSeq = n
		}
	}
}

func NewDispatcher(screen *Screen, gfx GraphicsHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		state:  stateGround,
		screen: screen,
		gfx:    gfx,
		params: make([]int, 0, 16),
		oscBuf: make([]byte, 0, 128),
		apcBuf: make([]byte, 0, 4096),
		dcsBuf: make([]byte, 0, 4096),
		maxSeq: defaultMaxSequence,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Advance processes a single rune from the pty.
func (d *Dispatcher) Advance(r rune) {
	switch d.state {
	case stateGround:
		switch r {
		case '\x1b':
			d.state = stateEscape
		case '\n':
			d.screen.LineFeed()
		case '\r':
			d.screen.CarriageReturn()
		case '\b':
			d.screen.Backspace()
		case '\t':
			d.screen.Tab()
		default:
			if r >= ' ' {
				d.screen.Print(r)
			}
		}
	case stateEscape:
		switch r {
		case '[':
			d.state = stateCSI
			d.params = d.params[:0]
			d.currentParam = 0
			d.private = false
		case ']':
			d.state = stateOSC
			d.oscBuf = d.oscBuf[:0]
		case '_':
			d.state = stateAPC
			d.apcBuf = d.apcBuf[:0]
		case 'P':
			d.state = stateDCS
			d.dcsBuf = d.dcsBuf[:0]
		case 'c':
			d.screen.Reset()
			d.state = stateGround
		case '(':
			d.state = stateCharset
		case 'M':
			d.screen.ReverseIndex()
			d.state = stateGround
		case '=', '>', '\\':
			d.state = stateGround
		default:
			log.Printf("Dispatcher: unhandled ESC sequence: %q", r)
			d.state = stateGround
		}
	case stateCSI:
		switch {
		case r >= '0' && r <= '9':
			d.currentParam = d.currentParam*10 + int(r-'0')
		case r == ';':
			d.params = append(d.params, d.currentParam)
			d.currentParam = 0
		case r >= '<' && r <= '?':
			d.private = true
		case r >= ' ' && r <= '/':
			// Intermediate bytes carry no meaning for this screen.
		case r >= '@' && r <= '~':
			d.params = append(d.params, d.currentParam)
			d.screen.ProcessCSI(r, d.params, d.private)
			d.state = stateGround
		}
	case stateOSC:
		if r == '\x07' || r == '\x1b' {
			d.screen.HandleOSC(d.oscBuf)
			d.state = stateGround
			if r == '\x1b' {
				d.state = stateEscape
			}
		} else if len(d.oscBuf) < maxOSC {
			d.oscBuf = utf8.AppendRune(d.oscBuf, r)
		}
	case stateAPC:
		if r == '\x1b' {
			d.state = stateAPCEscape
		} else {
			d.apcBuf = d.accumulate(d.apcBuf, r)
		}
	case stateAPCEscape:
		if r == '\\' {
			d.dispatchAPC()
			d.state = stateGround
		} else {
			d.state = stateAPC
			d.apcBuf = d.accumulate(append(d.apcBuf, '\x1b'), r)
		}
	case stateDCS:
		if r == '\x1b' {
			d.state = stateDCSEscape
		} else {
			d.dcsBuf = d.accumulate(d.dcsBuf, r)
		}
	case stateDCSEscape:
		if r == '\\' {
			d.dispatchDCS()
			d.state = stateGround
		} else {
			d.state = stateDCS
			d.dcsBuf = d.accumulate(append(d.dcsBuf, '\x1b'), r)
		}
	case stateCharset:
		d.state = stateGround
	case stateDiscard:
		if r == '\x1b' {
			d.state = stateDiscardEscape
		}
	case stateDiscardEscape:
		if r == '\\' {
			d.state = stateGround
		} else {
			d.state = stateDiscard
		}
	}
}

// accumulate appends one rune to a sequence buffer, switching to discard
// mode when the sequence refuses to end.
func (d *Dispatcher) accumulate(buf []byte, r rune) []byte {
	if len(buf) >= d.maxSeq {
		log.Printf("Dispatcher: sequence exceeded %d bytes, discarding", d.maxSeq)
		d.state = stateDiscard
		return buf[:0]
	}
	return utf8.AppendRune(buf, r)
}

func (d *Dispatcher) dispatchAPC() {
	if len(d.apcBuf) == 0 || d.apcBuf[0] != 'G' {
		// Only kitty graphics APCs are understood.
		return
	}
	d.gfx.HandleSequence(graphics.ProtocolKitty, d.apcBuf[1:])
}

func (d *Dispatcher) dispatchDCS() {
	if !isSixel(d.dcsBuf) {
		log.Printf("Dispatcher: ignoring non-sixel DCS (%d bytes)", len(d.dcsBuf))
		return
	}
	d.gfx.HandleSequence(graphics.ProtocolSixel, d.dcsBuf)
}

// isSixel reports whether a DCS body selects the sixel final ('q') after
// its numeric parameter prefix.
func isSixel(body []byte) bool {
	for _, b := range body {
		if (b >= '0' && b <= '9') || b == ';' {
			continue
		}
		return b == 'q'
	}
	return false
}
