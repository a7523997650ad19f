// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: internal/host/probe.go
// Summary: Asks the hosting terminal whether it speaks the kitty
//          graphics protocol by sending a query and capturing the reply.

package host

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

// ProbeResult reports what the hosting terminal answered.
type ProbeResult struct {
	// Kitty is true when the terminal answered the graphics query.
	Kitty bool
	// Raw holds everything captured up to the DA1 reply.
	Raw []byte
}

// kittyProbe is a query for a 1x1 RGB sample; terminals without graphics
// support ignore it silently.
const kittyProbe = "\x1b_Gi=31,a=q,t=d,f=24,s=1,v=1;AAAA\x1b\\"

// da1 is answered by every terminal, which bounds the wait for the
// graphics reply.
const da1 = "\x1b[c"

// Probe writes the graphics query followed by DA1 and reads until the
// DA1 reply, the deadline, or stream end. The terminal goes into raw
// mode for the duration so replies are not echoed back as input.
func Probe(in, out *os.File, timeout time.Duration) (ProbeResult, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return ProbeResult{}, fmt.Errorf("make raw: %w", err)
		}
		defer term.Restore(fd, oldState)
	}

	if _, err := out.Write([]byte(kittyProbe + da1)); err != nil {
		return ProbeResult{}, fmt.Errorf("write probe: %w", err)
	}

	in.SetReadDeadline(time.Now().Add(timeout))
	defer in.SetReadDeadline(time.Time{})

	var raw []byte
	buf := make([]byte, 256)
	for {
		n, err := in.Read(buf)
		raw = append(raw, buf[:n]...)
		if da1Answered(raw) || err != nil {
			break
		}
	}

	return ProbeResult{
		Kitty: bytes.Contains(raw, []byte("\x1b_G")),
		Raw:   raw,
	}, nil
}

// da1Answered reports whether the capture already contains a primary
// device attributes reply (ESC [ ? ... c).
func da1Answered(raw []byte) bool {
	i := bytes.Index(raw, []byte("\x1b[?"))
	if i < 0 {
		return false
	}
	for _, b := range raw[i+3:] {
		if b == 'c' {
			return true
		}
	}
	return false
}
