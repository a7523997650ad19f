// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/host/pty.go
// Summary: Runs the demo shell under a pty and feeds its output rune by
//          rune into the dispatcher.
// Usage: Present owns the lifecycle; Write carries both keyboard input
//        and engine wire responses back to the application.

package host

import (
	"bufio"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Session is one shell process attached to a pty.
type Session struct {
	command    string
	cols, rows int

	cmd *exec.Cmd
	pty *os.File

	mu          sync.Mutex
	stop        chan struct{}
	refreshChan chan<- bool
	wg          sync.WaitGroup
}

func NewSession(command string, cols, rows int) *Session {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	return &Session{
		command: command,
		cols:    cols,
		rows:    rows,
		stop:    make(chan struct{}),
	}
}

// SetRefreshNotifier registers the channel poked after output is
// processed so the presenter knows to redraw.
func (s *Session) SetRefreshNotifier(ch chan<- bool) {
	s.refreshChan = ch
}

// Write forwards bytes to the application side of the pty. Keyboard
// input and engine responses both travel this path.
func (s *Session) Write(b []byte) {
	s.mu.Lock()
	p := s.pty
	s.mu.Unlock()
	if p != nil {
		p.Write(b)
	}
}

// Run starts the shell and blocks until it exits. Output is read rune by
// rune so UTF-8 split across pty reads stays intact.
func (s *Session) Run(d *Dispatcher) error {
	s.mu.Lock()
	cols, rows := s.cols, s.rows
	s.mu.Unlock()

	cmd := exec.Command(s.command)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
	)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		log.Printf("Session: failed to start pty with size: %v", err)
		return err
	}

	s.mu.Lock()
	s.pty = ptmx
	s.cmd = cmd
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ptmx.Close()

		reader := bufio.NewReader(ptmx)
		for {
			select {
			case <-s.stop:
				return
			default:
			}

			r, _, err := reader.ReadRune()
			if err != nil {
				if err != io.EOF {
					log.Printf("Session: error reading from pty: %v", err)
				}
				return
			}

			d.Advance(r)
			s.notify()
		}
	}()

	return cmd.Wait()
}

func (s *Session) notify() {
	if s.refreshChan != nil {
		select {
		case s.refreshChan <- true:
		default:
		}
	}
}

// Resize propagates a new terminal size to the pty.
func (s *Session) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cols, s.rows = cols, rows
	if s.pty != nil {
		pty.Setsize(s.pty, &pty.Winsize{
			Rows: uint16(rows),
			Cols: uint16(cols),
		})
	}
}

// Stop tears the session down: the reader goroutine exits, the pty
// closes, and the shell gets a SIGTERM.
func (s *Session) Stop() {
	close(s.stop)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pty != nil {
		s.pty.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Signal(syscall.SIGTERM)
	}
}
