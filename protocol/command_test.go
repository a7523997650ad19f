// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/command_test.go
// Summary: Exercises the shared command model and error taxonomy.
// Usage: Executed during `go test` to guard against regressions.

package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestFormatBytesPerPixel verifies packed pixel sizes per format.
func TestFormatBytesPerPixel(t *testing.T) {
	cases := []struct {
		format Format
		want   int
	}{
		{FormatRGB24, 3},
		{FormatRGBA32, 4},
		{FormatPNG, 0},
		{FormatUnknown, 0},
	}
	for _, tc := range cases {
		if got := tc.format.BytesPerPixel(); got != tc.want {
			t.Errorf("%s: expected %d bytes per pixel, got %d", tc.format, tc.want, got)
		}
	}
}

// TestActionExpectsPayload verifies which actions carry pixel data.
func TestActionExpectsPayload(t *testing.T) {
	withPayload := []Action{ActionTransmit, ActionTransmitDisplay, ActionFrame}
	for _, a := range withPayload {
		if !a.ExpectsPayload() {
			t.Errorf("%s should expect payload", a)
		}
	}
	withoutPayload := []Action{ActionDisplay, ActionDelete, ActionQuery, ActionAnimate}
	for _, a := range withoutPayload {
		if a.ExpectsPayload() {
			t.Errorf("%s should not expect payload", a)
		}
	}
}

// TestCodeForMapsTaxonomy verifies that every sentinel maps to its wire code,
// including when wrapped.
func TestCodeForMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{ErrEncoding, CodeBadEncoding},
		{ErrDecompression, CodeBadDeflate},
		{ErrControlData, CodeBadControl},
		{ErrSizeMismatch, CodeSizeMismatch},
		{ErrImageNotFound, CodeNotFound},
		{ErrPlacementNotFound, CodeNotFound},
		{ErrQuotaExceeded, CodeQuota},
		{ErrStreamTimeout, CodeTimeout},
		{ErrUnsupported, CodeUnsupported},
		{errors.New("something else"), CodeInternal},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("context: %w", tc.err)
		if got := CodeFor(wrapped); got != tc.want {
			t.Errorf("CodeFor(%v): expected %s, got %s", tc.err, tc.want, got)
		}
	}
}

// TestWrapEngineErrorPreservesExisting verifies an EngineError passes through
// unchanged instead of being re-wrapped with a derived code.
func TestWrapEngineErrorPreservesExisting(t *testing.T) {
	orig := &EngineError{Code: CodeQuota, Reason: "store full"}
	wrapped := fmt.Errorf("apply: %w", orig)
	if got := WrapEngineError(wrapped); got != orig {
		t.Fatalf("expected original EngineError back, got %+v", got)
	}
}

// TestFormatResponsesQuietGating verifies q=1 drops OK and q=2 drops errors.
func TestFormatResponsesQuietGating(t *testing.T) {
	if got := FormatOK(7, 0, QuietNone); string(got) != "\x1b_Gi=7;OK\x1b\\" {
		t.Errorf("unexpected OK response: %q", got)
	}
	if got := FormatOK(7, 0, QuietSuccess); got != nil {
		t.Errorf("q=1 should suppress OK, got %q", got)
	}
	ee := &EngineError{Code: CodeNotFound, Reason: "no such image"}
	if got := FormatError(7, 3, ee, QuietSuccess); string(got) != "\x1b_Gi=7,p=3;ENOENT:no such image\x1b\\" {
		t.Errorf("unexpected error response: %q", got)
	}
	if got := FormatError(7, 3, ee, QuietAll); got != nil {
		t.Errorf("q=2 should suppress errors, got %q", got)
	}
}

// TestSanitizeReasonStripsControlBytes ensures reasons cannot break out of
// the reply escape sequence.
func TestSanitizeReasonStripsControlBytes(t *testing.T) {
	ee := &EngineError{Code: CodeBadControl, Reason: "bad\x1b\\sequence\npart"}
	got := string(FormatError(1, 0, ee, QuietNone))
	if strings.Contains(got[len(apcIntro):len(got)-len(apcTerminator)], "\x1b") {
		t.Errorf("reason leaked an escape byte: %q", got)
	}
	if !strings.Contains(got, "bad \\sequence part") {
		t.Errorf("expected sanitized reason, got %q", got)
	}
}
