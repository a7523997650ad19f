// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/engine.go
// Summary: End-to-end command execution: feeds sequence bodies to the
//          protocol parsers, applies completed commands to the store,
//          answers the sender, and materializes placements into cells.
// Usage: One Engine per terminal session. The host demultiplexer calls
//        HandleSequence, the render loop calls Tick and RenderInto.
// Notes: One mutex owns everything. File-medium transmissions are the only
//        I/O on the command path and are explicit local reads.

package graphics

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/framegrace/texelgfx/kitty"
	"github.com/framegrace/texelgfx/payload"
	"github.com/framegrace/texelgfx/protocol"
	"github.com/framegrace/texelgfx/sixel"
)

// Protocol selects which in-band grammar a sequence body uses.
type Protocol uint8

const (
	ProtocolKitty Protocol = iota
	ProtocolSixel
)

func (p Protocol) String() string {
	switch p {
	case ProtocolKitty:
		return "kitty"
	case ProtocolSixel:
		return "sixel"
	}
	return "invalid"
}

// Result is the outcome of one HandleSequence call. Command is nil while a
// chunked transfer is still accumulating. Response holds the wire reply
// that was written (also when no response writer is attached), nil when the
// sender's quiet level suppressed it.
type Result struct {
	Command  *protocol.Command
	Response []byte
	Err      error
}

// ImageMetadata is the queryable shape of one stored image.
type ImageMetadata struct {
	ID         uint32
	Format     protocol.Format
	Width      int
	Height     int
	SizeBytes  int64
	Frames     int
	Placements int
}

const defaultFileSizeCap = 64 << 20

// Engine executes graphics commands for one session.
type Engine struct {
	mu sync.Mutex

	store  *ImageStore
	sched  *Scheduler
	bridge *CellBridge
	parser *kitty.Parser
	diag   *Diagnostics

	cursor   func() (col, row int)
	respond  func([]byte)
	notifier chan<- bool
	recorder EventRecorder

	frameDelay     time.Duration
	fileSizeCap    int64
	inflateCap     int64
	reportTimeouts bool
	now            func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStore supplies a pre-built image store.
func WithStore(s *ImageStore) EngineOption {
	return func(e *Engine) { e.store = s }
}

// WithParser supplies a pre-built kitty parser, used by tests to inject
// limits and clocks.
func WithParser(p *kitty.Parser) EngineOption {
	return func(e *Engine) { e.parser = p }
}

// WithCellMetrics sets the pixel size of one terminal cell.
func WithCellMetrics(w, h int) EngineOption {
	return func(e *Engine) { e.bridge = NewCellBridge(w, h) }
}

// WithFrameDelay sets the per-frame fallback delay for animations.
func WithFrameDelay(d time.Duration) EngineOption {
	return func(e *Engine) { e.frameDelay = d }
}

// WithResponseWriter attaches the sink wire replies are written to,
// typically the pty master so the sending application reads them.
func WithResponseWriter(fn func([]byte)) EngineOption {
	return func(e *Engine) { e.respond = fn }
}

// WithCursor attaches the host's cursor position source. Displays without
// an explicit cell position land at the cursor.
func WithCursor(fn func() (col, row int)) EngineOption {
	return func(e *Engine) { e.cursor = fn }
}

// WithFileSizeCap bounds how large a file-medium transmission may be.
func WithFileSizeCap(n int64) EngineOption {
	return func(e *Engine) { e.fileSizeCap = n }
}

// WithTimeoutReports controls whether forcibly expired transfers get an
// ETIMEDOUT reply (subject to the sequence's own quiet level).
func WithTimeoutReports(on bool) EngineOption {
	return func(e *Engine) { e.reportTimeouts = on }
}

// WithRecorder attaches an optional event recorder.
func WithRecorder(r EventRecorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func New(opts ...EngineOption) *Engine {
	e := &Engine{
		fileSizeCap:    defaultFileSizeCap,
		inflateCap:     256 << 20,
		reportTimeouts: true,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = NewImageStore()
	}
	if e.bridge == nil {
		e.bridge = NewCellBridge(0, 0)
	}
	if e.parser == nil {
		e.parser = kitty.NewParser()
	}
	if e.diag == nil {
		e.diag = NewDiagnostics(0)
	}
	e.sched = NewScheduler(e.store, e.frameDelay)
	return e
}

// SetRefreshNotifier registers the channel poked (non-blocking) whenever
// rendered state changed and the host should redraw.
func (e *Engine) SetRefreshNotifier(ch chan<- bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = ch
}

// Diagnostics exposes the bounded message ring.
func (e *Engine) Diagnostics() *Diagnostics { return e.diag }

// Store exposes the image store. Callers must treat it as read-only unless
// they serialize with the engine themselves.
func (e *Engine) Store() *ImageStore { return e.store }

func (e *Engine) notifyRefresh() {
	if e.notifier == nil {
		return
	}
	select {
	case e.notifier <- true:
	default:
	}
}

func (e *Engine) cursorPos() (int, int) {
	if e.cursor != nil {
		return e.cursor()
	}
	return 0, 0
}

func (e *Engine) send(resp []byte) {
	if resp != nil && e.respond != nil {
		e.respond(resp)
	}
}

func (e *Engine) record(ev Event) {
	if e.recorder != nil {
		ev.Time = e.now()
		e.recorder.Record(ev)
	}
}

// HandleSequence is the single entry point for demultiplexed sequence
// bodies. Commands for one image id apply in arrival order; a failing
// command never corrupts the store or aborts the session.
func (e *Engine) HandleSequence(p Protocol, body []byte) Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch p {
	case ProtocolKitty:
		return e.handleKitty(body)
	case ProtocolSixel:
		return e.handleSixel(body)
	}
	return Result{Err: fmt.Errorf("engine: unknown protocol %d: %w", p, protocol.ErrUnsupported)}
}

func (e *Engine) handleKitty(body []byte) Result {
	cmd, err := e.parser.Feed(body)
	if err != nil {
		id, pid, quiet := e.parser.ErrorContext()
		ee := protocol.WrapEngineError(err)
		resp := protocol.FormatError(id, pid, ee, quiet)
		e.send(resp)
		e.diag.Record("kitty: %v", err)
		log.Printf("GraphicsEngine: kitty parse error: %v", err)
		e.record(Event{Protocol: "kitty", ImageID: id, Code: string(ee.Code), Detail: ee.Reason})
		return Result{Response: resp, Err: err}
	}
	if cmd == nil {
		return Result{}
	}
	return e.apply(cmd)
}

func (e *Engine) handleSixel(body []byte) Result {
	img, err := sixel.Decode(body)
	if err != nil {
		ee := protocol.WrapEngineError(err)
		e.diag.Record("sixel: %v", err)
		log.Printf("GraphicsEngine: sixel decode error: %v", err)
		e.record(Event{Protocol: "sixel", Code: string(ee.Code), Detail: ee.Reason})
		return Result{Err: err}
	}
	if img.Width == 0 || img.Height == 0 {
		return Result{}
	}
	if img.Ignored > 0 {
		e.diag.Record("sixel: %d noise bytes skipped", img.Ignored)
	}
	stored := &StoredImage{Format: protocol.FormatRGBA32, Width: img.Width, Height: img.Height, Pixels: img.Pixels}
	id, err := e.store.Insert(stored)
	if err != nil {
		e.diag.Record("sixel: %v", err)
		return Result{Err: err}
	}
	col, row := e.cursorPos()
	cols, rows := e.bridge.CellsFor(img.Width, img.Height)
	if _, err := e.store.Place(&Placement{ImageID: id, Col: col, Row: row, Cols: cols, Rows: rows}); err != nil {
		return Result{Err: err}
	}
	e.record(Event{Protocol: "sixel", Action: protocol.ActionTransmitDisplay.String(), ImageID: id, Bytes: len(img.Pixels)})
	e.notifyRefresh()
	return Result{Command: &protocol.Command{
		Action:  protocol.ActionTransmitDisplay,
		Format:  protocol.FormatRGBA32,
		ImageID: id,
		Width:   img.Width,
		Height:  img.Height,
	}}
}

// apply executes one completed kitty command and answers the sender.
func (e *Engine) apply(cmd *protocol.Command) Result {
	for _, w := range cmd.Warnings {
		e.diag.Record("kitty: %s", w)
	}

	err := e.resolveMedium(cmd)
	imageID := cmd.ImageID
	placementID := cmd.PlacementID

	if err == nil {
		switch cmd.Action {
		case protocol.ActionTransmit:
			imageID, err = e.applyTransmit(cmd)
		case protocol.ActionTransmitDisplay:
			if imageID, err = e.applyTransmit(cmd); err == nil {
				placementID, err = e.applyDisplay(cmd, imageID)
			}
		case protocol.ActionDisplay:
			placementID, err = e.applyDisplay(cmd, cmd.ImageID)
		case protocol.ActionDelete:
			err = e.applyDelete(cmd)
		case protocol.ActionQuery:
			// sample payload already decoded and discarded by the parser

		case protocol.ActionFrame:
			err = e.applyFrame(cmd)
		case protocol.ActionAnimate:
			err = e.applyAnimate(cmd)
		default:
			err = fmt.Errorf("engine: action %s not executable: %w", cmd.Action, protocol.ErrControlData)
		}
	}

	ev := Event{Protocol: "kitty", Action: cmd.Action.String(), ImageID: imageID, Bytes: len(cmd.Pixels)}
	if err != nil {
		ee := protocol.WrapEngineError(err)
		resp := protocol.FormatError(imageID, placementID, ee, cmd.Quiet)
		e.send(resp)
		e.diag.Record("kitty %s: %v", cmd.Action, err)
		log.Printf("GraphicsEngine: %s failed: %v", cmd.Action, err)
		ev.Code, ev.Detail = string(ee.Code), ee.Reason
		e.record(ev)
		return Result{Command: cmd, Response: resp, Err: err}
	}

	resp := protocol.FormatOK(imageID, placementID, cmd.Quiet)
	e.send(resp)
	e.record(ev)
	switch cmd.Action {
	case protocol.ActionTransmitDisplay, protocol.ActionDisplay, protocol.ActionDelete,
		protocol.ActionFrame, protocol.ActionAnimate:
		e.notifyRefresh()
	}
	return Result{Command: cmd, Response: resp}
}

// resolveMedium turns a file-medium command into pixel data. Shared memory
// is recognized but refused so the sender gets a coded reply instead of
// silence.
func (e *Engine) resolveMedium(cmd *protocol.Command) error {
	if !cmd.Action.ExpectsPayload() || cmd.Medium == protocol.TransmitDirect {
		return nil
	}
	if cmd.Medium == protocol.TransmitSharedMem {
		return &protocol.EngineError{Code: protocol.CodeUnsupported, Reason: "shared memory transmission not supported"}
	}
	if cmd.Path == "" {
		return fmt.Errorf("engine: file transmission without a path: %w", protocol.ErrControlData)
	}
	fi, err := os.Stat(cmd.Path)
	if err != nil {
		return &protocol.EngineError{Code: protocol.CodeNotFound, Reason: "cannot read file: " + err.Error(), Err: err}
	}
	if !fi.Mode().IsRegular() {
		return &protocol.EngineError{Code: protocol.CodeBadControl, Reason: "not a regular file"}
	}
	if e.fileSizeCap > 0 && fi.Size() > e.fileSizeCap {
		return fmt.Errorf("engine: file of %d bytes exceeds transmission cap: %w", fi.Size(), protocol.ErrQuotaExceeded)
	}
	data, err := os.ReadFile(cmd.Path)
	if err != nil {
		return &protocol.EngineError{Code: protocol.CodeNotFound, Reason: "cannot read file: " + err.Error(), Err: err}
	}
	if cmd.Medium == protocol.TransmitTempFile && pathLooksTemporary(cmd.Path) {
		if rmErr := os.Remove(cmd.Path); rmErr != nil {
			e.diag.Record("kitty: temp file not removed: %v", rmErr)
		}
	}
	raw, err := payload.Decompress(data, cmd.Compression, e.inflateCap)
	if err != nil {
		return err
	}
	px, w, h, err := payload.AssembleRGBA(raw, cmd.Format, cmd.Width, cmd.Height, nil)
	if err != nil {
		return err
	}
	cmd.Pixels, cmd.Width, cmd.Height = px, w, h
	return nil
}

// pathLooksTemporary guards t=t deletion: only files in recognized scratch
// locations are removed after reading.
func pathLooksTemporary(path string) bool {
	if strings.Contains(filepath.Base(path), "tty-graphics-protocol") {
		return true
	}
	for _, dir := range []string{os.TempDir(), "/tmp", "/dev/shm"} {
		if dir == "" {
			continue
		}
		if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (e *Engine) applyTransmit(cmd *protocol.Command) (uint32, error) {
	return e.store.Insert(&StoredImage{
		ID:     cmd.ImageID,
		Format: cmd.Format,
		Width:  cmd.Width,
		Height: cmd.Height,
		Pixels: cmd.Pixels,
	})
}

func (e *Engine) applyDisplay(cmd *protocol.Command, imageID uint32) (uint32, error) {
	img, ok := e.store.Lookup(imageID)
	if !ok {
		return 0, fmt.Errorf("engine: display of image %d: %w", imageID, protocol.ErrImageNotFound)
	}
	cellW, cellH := e.bridge.CellSize()
	offX := clampInt(cmd.CellOffsetX, 0, cellW-1)
	offY := clampInt(cmd.CellOffsetY, 0, cellH-1)

	cols, rows := cmd.Columns, cmd.Rows
	if cols <= 0 || rows <= 0 {
		_, sw, sh := cropRGBA(img.ActivePixels(), img.Width, img.Height, cmd.CropX, cmd.CropY, cmd.CropW, cmd.CropH)
		dcols, drows := e.bridge.CellsFor(sw+offX, sh+offY)
		if cols <= 0 {
			cols = dcols
		}
		if rows <= 0 {
			rows = drows
		}
	}
	col, row := e.cursorPos()
	return e.store.Place(&Placement{
		ID:      cmd.PlacementID,
		ImageID: imageID,
		Col:     col,
		Row:     row,
		Cols:    cols,
		Rows:    rows,
		OffsetX: offX,
		OffsetY: offY,
		CropX:   cmd.CropX,
		CropY:   cmd.CropY,
		CropW:   cmd.CropW,
		CropH:   cmd.CropH,
		Z:       cmd.ZIndex,
	})
}

// applyDelete dispatches the delete specifier. Without one, an explicit id
// removes that image outright and no id clears every placement.
func (e *Engine) applyDelete(cmd *protocol.Command) error {
	if cmd.Delete == 0 {
		if cmd.ImageID != 0 {
			return e.store.Delete(cmd.ImageID)
		}
		e.store.DeleteAll(false)
		return nil
	}
	drop := cmd.Delete >= 'A' && cmd.Delete <= 'Z'
	switch cmd.Delete | 0x20 { // lowercase
	case 'a':
		e.store.DeleteAll(drop)
	case 'i':
		if cmd.ImageID == 0 {
			return fmt.Errorf("engine: delete by id needs i: %w", protocol.ErrControlData)
		}
		if _, ok := e.store.Lookup(cmd.ImageID); !ok {
			return fmt.Errorf("engine: delete image %d: %w", cmd.ImageID, protocol.ErrImageNotFound)
		}
		e.store.ClearPlacements(cmd.ImageID, drop)
	case 'p':
		if cmd.ImageID == 0 || cmd.PlacementID == 0 {
			return fmt.Errorf("engine: delete by placement needs i and p: %w", protocol.ErrControlData)
		}
		return e.store.DeletePlacement(cmd.ImageID, cmd.PlacementID, drop)
	case 'z':
		e.store.DeleteByZ(cmd.ZIndex, drop)
	case 'c':
		e.store.DeleteAt(cmd.CropX, cmd.CropY, drop)
	default:
		return fmt.Errorf("engine: delete specifier %q: %w", cmd.Delete, protocol.ErrControlData)
	}
	return nil
}

func (e *Engine) applyFrame(cmd *protocol.Command) error {
	if cmd.ImageID == 0 {
		return fmt.Errorf("engine: frame needs an image id: %w", protocol.ErrControlData)
	}
	gap := cmd.FrameGap
	if gap <= 0 {
		gap = e.sched.DefaultDelay()
	}
	if _, err := e.store.AddFrame(cmd.ImageID, cmd.FrameIndex, cmd.Pixels, cmd.Width, cmd.Height, cmd.CropX, cmd.CropY, gap); err != nil {
		return err
	}
	img, _ := e.store.Lookup(cmd.ImageID)
	if img.Anim == nil {
		img.Anim = NewAnimationState()
	}
	return nil
}

// applyAnimate maps the a=a keys onto the animation state: s is playback
// (1 stop, 2 pause, 3 run), v the loop budget (negative means unlimited),
// r a 1-based frame jump, and c an engine extension selecting the loop
// mode (1 ping-pong, 2 infinite, 3 once).
func (e *Engine) applyAnimate(cmd *protocol.Command) error {
	if cmd.ImageID == 0 {
		return fmt.Errorf("engine: animation control needs an image id: %w", protocol.ErrControlData)
	}
	img, ok := e.store.Lookup(cmd.ImageID)
	if !ok {
		return fmt.Errorf("engine: animate image %d: %w", cmd.ImageID, protocol.ErrImageNotFound)
	}
	if img.Anim == nil {
		img.Anim = NewAnimationState()
	}
	a := img.Anim

	switch cmd.Columns {
	case 0:
	case 1:
		a.Mode = LoopPingPong
	case 2:
		a.Mode = LoopInfinite
	case 3:
		a.Mode = LoopOnce
	default:
		return fmt.Errorf("engine: loop mode %d: %w", cmd.Columns, protocol.ErrControlData)
	}
	if cmd.Loops != 0 {
		a.SetLoops(cmd.Loops)
	}
	if cmd.FrameIndex > 0 {
		a.SetFrame(cmd.FrameIndex-1, len(img.Frames))
	}
	switch cmd.Playback {
	case 0:
	case 1:
		a.Stop()
	case 2:
		a.Pause()
	case 3:
		a.Play(e.now())
	default:
		return fmt.Errorf("engine: playback state %d: %w", cmd.Playback, protocol.ErrControlData)
	}
	e.store.Touch(cmd.ImageID)
	return nil
}

// Query returns stored metadata without touching LRU state.
func (e *Engine) Query(id uint32) (ImageMetadata, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	img, ok := e.store.Lookup(id)
	if !ok {
		return ImageMetadata{}, false
	}
	return ImageMetadata{
		ID:         img.ID,
		Format:     img.Format,
		Width:      img.Width,
		Height:     img.Height,
		SizeBytes:  img.SizeBytes,
		Frames:     len(img.Frames),
		Placements: e.store.placementCount(img.ID),
	}, true
}

// Tick drives time-based work from the host's render loop: expiring a
// silent chunked transfer and advancing animations. Returns true when
// rendered state changed.
func (e *Engine) Tick(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ex := e.parser.Expire(now); ex != nil {
		e.diag.Record("kitty: chunked transfer for image %d expired after %v", ex.ImageID, ex.Age.Round(time.Millisecond))
		log.Printf("GraphicsEngine: expired stale transfer, image %d", ex.ImageID)
		if e.reportTimeouts {
			ee := &protocol.EngineError{
				Code:   protocol.CodeTimeout,
				Reason: fmt.Sprintf("chunked transfer idle for %v", ex.Age.Round(time.Millisecond)),
			}
			e.send(protocol.FormatError(ex.ImageID, 0, ee, ex.Quiet))
		}
		e.record(Event{Protocol: "kitty", Action: "expire", ImageID: ex.ImageID, Code: string(protocol.CodeTimeout)})
	}
	dirty := e.sched.Tick(now)
	if dirty {
		e.notifyRefresh()
	}
	return dirty
}

// RenderInto composites every placement back-to-front and pushes touched
// cells into the host's sink. Fully covered cells also get their glyph
// blanked so stale text does not shine through opaque images.
func (e *Engine) RenderInto(sink CellSink, cols, rows int, bg BackgroundFn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	grid := e.renderGrid(cols, rows, bg)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			cell := grid.At(col, row)
			if !cell.Set {
				continue
			}
			sink.SetCellBackground(col, row, cell.Color)
			if cell.Opaque {
				sink.SetCellContent(col, row, ' ')
			}
		}
	}
}

// RenderGrid composites every placement into a fresh grid without a sink.
func (e *Engine) RenderGrid(cols, rows int, bg BackgroundFn) *Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderGrid(cols, rows, bg)
}

func (e *Engine) renderGrid(cols, rows int, bg BackgroundFn) *Grid {
	grid := NewGrid(cols, rows)
	for _, p := range e.store.ActivePlacements() {
		img, ok := e.store.Lookup(p.ImageID)
		if !ok {
			continue // invalidated placement renders blank, never errors
		}
		e.compositePlacement(grid, img, p, bg)
	}
	return grid
}

// RenderPlacement renders one placement in isolation. A missing image or
// placement yields an empty grid: deletion must never break a render pass.
func (e *Engine) RenderPlacement(imageID, placementID uint32, bg BackgroundFn) *Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.store.ActivePlacements() {
		if p.ImageID != imageID || p.ID != placementID {
			continue
		}
		img, ok := e.store.Lookup(p.ImageID)
		if !ok {
			break
		}
		grid := NewGrid(p.Cols, p.Rows)
		shifted := *p
		shifted.Col, shifted.Row = 0, 0
		e.compositePlacement(grid, img, &shifted, bg)
		return grid
	}
	return NewGrid(0, 0)
}

func (e *Engine) compositePlacement(grid *Grid, img *StoredImage, p *Placement, bg BackgroundFn) {
	sub, sw, sh := cropRGBA(img.ActivePixels(), img.Width, img.Height, p.CropX, p.CropY, p.CropW, p.CropH)
	sub, sw, sh = padRGBA(sub, sw, sh, p.OffsetX, p.OffsetY)
	if sw == 0 || sh == 0 {
		return
	}
	cols, rows := p.Cols, p.Rows
	if cols <= 0 || rows <= 0 {
		cols, rows = e.bridge.CellsFor(sw, sh)
	}
	local := RenderRegion(sub, sw, sh, cols, rows, func(c, r int) RGB {
		gc, gr := p.Col+c, p.Row+r
		if cell := grid.At(gc, gr); cell.Set {
			return cell.Color
		}
		if bg != nil {
			return bg(gc, gr)
		}
		return RGB{}
	})
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if cell := local.At(c, r); cell.Set {
				grid.set(p.Col+c, p.Row+r, cell.Color, cell.Opaque)
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
