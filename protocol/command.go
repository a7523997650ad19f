// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/command.go
// Summary: Shared command model for the in-band graphics protocols.
// Usage: Produced by the kitty and sixel parsers, consumed by the engine.
// Notes: Key letters follow the Kitty graphics vocabulary; sixel output is
//        normalised into the same Command shape.

package protocol

import (
	"fmt"
	"time"
)

// Action identifies what a completed graphics command does.
type Action uint8

const (
	ActionNone Action = iota
	ActionTransmit
	ActionTransmitDisplay
	ActionDisplay
	ActionDelete
	ActionQuery
	ActionFrame
	ActionAnimate
)

// String returns the human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionTransmit:
		return "transmit"
	case ActionTransmitDisplay:
		return "transmit+display"
	case ActionDisplay:
		return "display"
	case ActionDelete:
		return "delete"
	case ActionQuery:
		return "query"
	case ActionFrame:
		return "frame"
	case ActionAnimate:
		return "animate"
	}
	return "invalid"
}

// ExpectsPayload reports whether payload bytes are meaningful for the action.
// Queries carry a sample payload that gets validated and discarded. Display,
// delete and animate are control-data only; payload on those is tolerated but
// recorded as a warning by the parser.
func (a Action) ExpectsPayload() bool {
	switch a {
	case ActionTransmit, ActionTransmitDisplay, ActionFrame, ActionQuery:
		return true
	}
	return false
}

// Format describes the pixel encoding of transmitted data.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatRGB24          // f=24, tightly packed RGB
	FormatRGBA32         // f=32, tightly packed RGBA
	FormatPNG            // f=100, PNG container
)

func (f Format) String() string {
	switch f {
	case FormatRGB24:
		return "rgb24"
	case FormatRGBA32:
		return "rgba32"
	case FormatPNG:
		return "png"
	}
	return "unknown"
}

// BytesPerPixel returns the packed size of one pixel, or 0 for container
// formats whose dimensions come from the decoded data.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGB24:
		return 3
	case FormatRGBA32:
		return 4
	}
	return 0
}

// Compression describes the payload compression scheme.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZlib             // o=z
)

func (c Compression) String() string {
	if c == CompressionZlib {
		return "zlib"
	}
	return "none"
}

// Transmission describes where the payload bytes live.
type Transmission uint8

const (
	TransmitDirect    Transmission = iota // t=d, payload inline
	TransmitFile                          // t=f, payload is a file path
	TransmitTempFile                      // t=t, file path removed after reading
	TransmitSharedMem                     // t=s, recognised but unsupported
)

func (t Transmission) String() string {
	switch t {
	case TransmitDirect:
		return "direct"
	case TransmitFile:
		return "file"
	case TransmitTempFile:
		return "tempfile"
	case TransmitSharedMem:
		return "sharedmem"
	}
	return "invalid"
}

// ControlData is the typed decode of one control segment. Integer keys are
// stored raw; their meaning is action-scoped (on a=f, s/v are the frame rect
// size and z is the frame gap; on placements z is the z-index). Unrecognised
// keys are preserved verbatim in Unknown so newer senders keep working.
type ControlData struct {
	Action      Action       // a
	Format      Format       // f
	Compression Compression  // o
	Medium      Transmission // t

	ImageID     uint32 // i (0 = engine assigns)
	PlacementID uint32 // p (0 = engine assigns)

	Width  int // s
	Height int // v

	OffsetX int // x
	OffsetY int // y

	CellOffsetX int // X, pixel offset inside the destination cell
	CellOffsetY int // Y

	CropW int // w, source crop size on display
	CropH int // h

	Columns int // c, destination size hint in cells
	Rows    int // r, also the frame index on a=f / a=a

	ZIndex int32 // z

	Delete byte // d, delete specifier on a=d

	Quiet int  // q: 0 full, 1 drop OK, 2 drop everything
	More  bool // m, chunked transfer continues

	Unknown map[string]string
}

// Command is a completed graphics command ready for the engine to apply.
// Pixels holds decoded, uncompressed RGBA for direct transmissions; for the
// file mediums Path carries the location and the engine finishes assembly.
type Command struct {
	Action Action
	Format Format
	Medium Transmission

	// Compression of a file-medium payload. Direct payloads reach the
	// engine already inflated.
	Compression Compression

	ImageID     uint32
	PlacementID uint32

	// Pixel dimensions of Pixels. For PNG transmissions these come from the
	// decoded container, not the control data.
	Width  int
	Height int

	// Decoded RGBA bytes (4 per pixel), nil when the action carries none.
	Pixels []byte

	// Path of a file-medium transmission, empty otherwise.
	Path string

	// Placement geometry.
	ZIndex       int32
	CellOffsetX  int
	CellOffsetY  int
	Columns      int
	Rows         int
	CropX, CropY int
	CropW, CropH int

	// Animation fields (a=f, a=a).
	FrameIndex int           // 1-based frame to edit, 0 = append
	FrameGap   time.Duration // per-frame delay, 0 = engine default
	Playback   int           // a=a s: 1 stop, 2 pause, 3 run
	Loops      int           // a=a v: 0 = infinite

	Delete byte
	Quiet  int

	// Soft parse problems that did not abort the command.
	Warnings []string
}

// Describe returns a compact one-line summary for diagnostics.
func (c *Command) Describe() string {
	return fmt.Sprintf("%s i=%d p=%d %s %dx%d (%d bytes)",
		c.Action, c.ImageID, c.PlacementID, c.Format, c.Width, c.Height, len(c.Pixels))
}
