// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: kitty/parser.go
// Summary: Resumable state machine for APC graphics control sequences.
// Usage: The engine feeds it one demultiplexed sequence body per call.
// Notes: Sits on the interactive input path. Never blocks, never does I/O;
//        file-medium payloads are resolved later by the engine.

package kitty

import (
	"bytes"
	"fmt"
	"time"

	"github.com/framegrace/texelgfx/payload"
	"github.com/framegrace/texelgfx/protocol"
)

// State tracks one in-flight control sequence.
type State int

const (
	StateAwaitingControlData State = iota
	StateAwaitingPayload
	StateAccumulating
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingControlData:
		return "awaiting-control-data"
	case StateAwaitingPayload:
		return "awaiting-payload"
	case StateAccumulating:
		return "accumulating"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	}
	return "invalid"
}

// Limits bound a chunked transfer so a sender that never finishes cannot
// grow memory without end.
type Limits struct {
	MaxAccumulator int64         // decoded payload bytes across all chunks
	MaxInflated    int64         // post-decompression size
	ChunkTimeout   time.Duration // max wall time spent accumulating
}

// DefaultLimits returns the compiled-in transfer bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxAccumulator: 64 << 20,
		MaxInflated:    256 << 20,
		ChunkTimeout:   10 * time.Second,
	}
}

// pending is the accumulator for one chunked command.
type pending struct {
	control  *protocol.ControlData
	acc      bytes.Buffer
	b64rem   []byte // undecoded base64 tail carried between chunks
	started  time.Time
	warnings []string
}

// errContext is what error responses get keyed with after a failed sequence.
type errContext struct {
	imageID     uint32
	placementID uint32
	quiet       int
}

// Parser consumes successive chunks of one control sequence and yields a
// completed command or an error. It holds no image state; id allocation and
// store mutation belong to the engine.
type Parser struct {
	state      State
	cur        *pending
	lastFail   errContext
	limits     Limits
	now        func() time.Time
	pngDecoder payload.PNGDecoder
}

// Option configures a Parser.
type Option func(*Parser)

// WithLimits overrides the transfer bounds.
func WithLimits(l Limits) Option {
	return func(p *Parser) { p.limits = l }
}

// WithClock overrides the time source. Tests use this to drive timeouts.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// WithPNGDecoder plugs a custom PNG decoder into payload assembly.
func WithPNGDecoder(dec payload.PNGDecoder) Option {
	return func(p *Parser) { p.pngDecoder = dec }
}

// NewParser creates a parser in the awaiting-control-data state.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		state:  StateAwaitingControlData,
		limits: DefaultLimits(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State reports the parser's resting state between Feed calls.
func (p *Parser) State() State { return p.state }

// Reset abandons any in-flight transfer.
func (p *Parser) Reset() {
	p.state = StateAwaitingControlData
	p.cur = nil
}

// Expired describes a chunked transfer that was forcibly failed.
type Expired struct {
	ImageID uint32
	Quiet   int
	Age     time.Duration
}

// Expire forcibly fails an accumulating transfer that has outlived the chunk
// timeout, releasing its memory. The engine calls this from its tick so a
// stream that simply goes silent still gets cleaned up.
func (p *Parser) Expire(now time.Time) *Expired {
	if p.state != StateAccumulating || p.limits.ChunkTimeout <= 0 {
		return nil
	}
	age := now.Sub(p.cur.started)
	if age <= p.limits.ChunkTimeout {
		return nil
	}
	ex := &Expired{ImageID: p.cur.control.ImageID, Quiet: p.cur.control.Quiet, Age: age}
	p.Reset()
	return ex
}

// Feed consumes one demultiplexed sequence body ("k=v,...;payload"). It
// returns a completed command once the final chunk lands, nil while more
// chunks are expected, or an error that terminates the sequence. Errors are
// single-sequence failures: the parser resets and the next sequence starts
// clean.
func (p *Parser) Feed(body []byte) (*protocol.Command, error) {
	ctl, data := splitBody(body)

	if p.state == StateAccumulating {
		return p.feedContinuation(ctl, data)
	}
	return p.feedFresh(ctl, data)
}

// splitBody separates the control segment from the payload at the first ';'.
func splitBody(body []byte) (ctl, data []byte) {
	if i := bytes.IndexByte(body, ';'); i >= 0 {
		return body[:i], body[i+1:]
	}
	return body, nil
}

func (p *Parser) feedFresh(ctl, data []byte) (*protocol.Command, error) {
	if isContinuationShape(ctl) {
		return nil, p.fail(nil, fmt.Errorf("kitty: chunk arrived with no control data in flight: %w", protocol.ErrControlData))
	}

	cd, warnings, err := ParseControlData(ctl)
	if err != nil {
		return nil, p.fail(nil, err)
	}
	p.state = StateAwaitingPayload
	pend := &pending{control: cd, started: p.now(), warnings: warnings}

	switch {
	case !cd.Action.ExpectsPayload():
		if len(data) > 0 {
			pend.warn(fmt.Sprintf("unexpected payload on %s ignored", cd.Action))
		}
		if cd.More {
			pend.warn(fmt.Sprintf("m=1 on %s ignored", cd.Action))
		}
		return p.complete(pend, nil, 0, 0)

	case cd.Medium != protocol.TransmitDirect:
		// Payload is a base64 file path; the engine resolves it off the
		// parse path. Shared memory is carried through for the engine to
		// reject so the sender still gets a coded response.
		path, perr := payload.DecodeBase64(data)
		if perr != nil {
			return nil, p.fail(pend, perr)
		}
		if cd.More {
			pend.warn("chunking ignored for file transmission")
		}
		cmd := buildCommand(pend)
		cmd.Path = string(path)
		cmd.Width, cmd.Height = cd.Width, cd.Height
		p.state = StateComplete
		p.Reset()
		return cmd, nil
	}

	if err := p.appendChunk(pend, data); err != nil {
		return nil, p.fail(pend, err)
	}
	if cd.More {
		p.cur = pend
		p.state = StateAccumulating
		return nil, nil
	}
	return p.finalize(pend)
}

func (p *Parser) feedContinuation(ctl, data []byte) (*protocol.Command, error) {
	pend := p.cur

	if p.limits.ChunkTimeout > 0 {
		if age := p.now().Sub(pend.started); age > p.limits.ChunkTimeout {
			return nil, p.fail(pend, fmt.Errorf("kitty: transfer idle for %v: %w", age, protocol.ErrStreamTimeout))
		}
	}

	cd, _, err := ParseControlData(ctl)
	if err != nil {
		return nil, p.fail(pend, err)
	}
	if !isContinuationShape(ctl) {
		pend.warn("non-chunking keys ignored in continuation chunk")
	}
	// Only the more/quiet flags are honoured mid-transfer; everything else
	// was fixed by the first chunk.
	pend.control.More = cd.More
	pend.control.Quiet = cd.Quiet

	if err := p.appendChunk(pend, data); err != nil {
		return nil, p.fail(pend, err)
	}
	if cd.More {
		return nil, nil
	}
	return p.finalize(pend)
}

// appendChunk base64-decodes a chunk and appends it to the accumulator,
// carrying any partial 4-character group over to the next chunk so payload
// splits can land anywhere.
func (p *Parser) appendChunk(pend *pending, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	joined := data
	if len(pend.b64rem) > 0 {
		joined = append(append([]byte{}, pend.b64rem...), data...)
	}
	cut := len(joined) / 4 * 4
	decoded, err := payload.DecodeBase64(joined[:cut])
	if err != nil {
		return err
	}
	pend.b64rem = append(pend.b64rem[:0], joined[cut:]...)
	pend.acc.Write(decoded)
	if p.limits.MaxAccumulator > 0 && int64(pend.acc.Len()) > p.limits.MaxAccumulator {
		return fmt.Errorf("kitty: accumulated payload exceeds %d bytes: %w",
			p.limits.MaxAccumulator, protocol.ErrStreamTimeout)
	}
	return nil
}

// finalize decodes the accumulated payload into pixels and emits the
// completed command. Compressed data is only ever inflated here, once the
// final chunk has arrived.
func (p *Parser) finalize(pend *pending) (*protocol.Command, error) {
	if len(pend.b64rem) > 0 {
		tail, err := payload.DecodeBase64(pend.b64rem)
		if err != nil {
			return nil, p.fail(pend, err)
		}
		pend.acc.Write(tail)
	}
	raw, err := payload.Decompress(pend.acc.Bytes(), pend.control.Compression, p.limits.MaxInflated)
	if err != nil {
		return nil, p.fail(pend, err)
	}
	pixels, w, h, err := payload.AssembleRGBA(raw, pend.control.Format, pend.control.Width, pend.control.Height, p.pngDecoder)
	if err != nil {
		return nil, p.fail(pend, err)
	}
	return p.complete(pend, pixels, w, h)
}

func (p *Parser) complete(pend *pending, pixels []byte, w, h int) (*protocol.Command, error) {
	cmd := buildCommand(pend)
	cmd.Pixels = pixels
	cmd.Width = w
	cmd.Height = h
	p.state = StateComplete
	p.Reset()
	return cmd, nil
}

// fail abandons the sequence but keeps its response keys so the engine can
// still address the wire error to the right transfer.
func (p *Parser) fail(pend *pending, err error) error {
	p.lastFail = errContext{}
	if pend != nil {
		p.lastFail = errContext{
			imageID:     pend.control.ImageID,
			placementID: pend.control.PlacementID,
			quiet:       pend.control.Quiet,
		}
	}
	p.state = StateFailed
	p.Reset()
	return err
}

// ErrorContext reports the image id, placement id and quiet level of the
// sequence whose Feed most recently returned an error. All zero when the
// failure happened before the control data parsed.
func (p *Parser) ErrorContext() (imageID, placementID uint32, quiet int) {
	return p.lastFail.imageID, p.lastFail.placementID, p.lastFail.quiet
}

func (pend *pending) warn(msg string) {
	pend.warnings = append(pend.warnings, msg)
}

// buildCommand maps the action-scoped control keys onto the command. On
// Frame commands CropX/CropY carry the rect offset inside the image and the
// z value is the frame gap; on Animate the s/v/r values are the playback
// state, loop count and frame index.
func buildCommand(pend *pending) *protocol.Command {
	cd := pend.control
	cmd := &protocol.Command{
		Action:      cd.Action,
		Format:      cd.Format,
		Medium:      cd.Medium,
		Compression: cd.Compression,
		ImageID:     cd.ImageID,
		PlacementID: cd.PlacementID,
		Quiet:       cd.Quiet,
		Delete:      cd.Delete,
		CellOffsetX: cd.CellOffsetX,
		CellOffsetY: cd.CellOffsetY,
		Columns:     cd.Columns,
		Rows:        cd.Rows,
		CropX:       cd.OffsetX,
		CropY:       cd.OffsetY,
		CropW:       cd.CropW,
		CropH:       cd.CropH,
		Warnings:    pend.warnings,
	}
	switch cd.Action {
	case protocol.ActionFrame:
		cmd.FrameIndex = cd.Rows
		if cd.ZIndex > 0 {
			cmd.FrameGap = time.Duration(cd.ZIndex) * time.Millisecond
		}
	case protocol.ActionAnimate:
		cmd.Playback = cd.Width
		cmd.Loops = cd.Height
		cmd.FrameIndex = cd.Rows
	default:
		cmd.ZIndex = cd.ZIndex
	}
	return cmd
}
