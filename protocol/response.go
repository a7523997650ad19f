// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/response.go
// Summary: Wire responses echoed back to the sending application.

package protocol

import (
	"fmt"
	"strings"
)

const (
	apcIntro      = "\x1b_G"
	apcTerminator = "\x1b\\"
)

// QuietLevel gates which responses a sender wants to receive.
const (
	QuietNone    = 0 // everything
	QuietSuccess = 1 // suppress OK responses
	QuietAll     = 2 // suppress OK and error responses
)

// FormatOK builds the success reply for a command. Returns nil when the
// sender's quiet level suppresses it.
func FormatOK(imageID, placementID uint32, quiet int) []byte {
	if quiet >= QuietSuccess {
		return nil
	}
	return []byte(apcIntro + idFields(imageID, placementID) + ";OK" + apcTerminator)
}

// FormatError builds the failure reply for a command. Returns nil when the
// sender's quiet level suppresses error chatter (q=2).
func FormatError(imageID, placementID uint32, e *EngineError, quiet int) []byte {
	if quiet >= QuietAll || e == nil {
		return nil
	}
	body := string(e.Code)
	if e.Reason != "" {
		body += ":" + sanitizeReason(e.Reason)
	}
	return []byte(apcIntro + idFields(imageID, placementID) + ";" + body + apcTerminator)
}

func idFields(imageID, placementID uint32) string {
	s := fmt.Sprintf("i=%d", imageID)
	if placementID != 0 {
		s += fmt.Sprintf(",p=%d", placementID)
	}
	return s
}

// sanitizeReason strips bytes that would terminate or corrupt the reply
// sequence; the reason travels inside an escape sequence.
func sanitizeReason(reason string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, reason)
}
