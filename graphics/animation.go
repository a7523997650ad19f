// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/animation.go
// Summary: Per-image animation state machine and the tick-driven scheduler
//          that advances playing animations one frame at a time.

package graphics

import "time"

// Direction is the frame traversal direction.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// LoopMode decides what happens at the end of the frame sequence.
type LoopMode uint8

const (
	LoopOnce LoopMode = iota
	LoopInfinite
	LoopPingPong
)

func (m LoopMode) String() string {
	switch m {
	case LoopOnce:
		return "once"
	case LoopInfinite:
		return "infinite"
	case LoopPingPong:
		return "ping-pong"
	}
	return "invalid"
}

// Playback is the run state of one animation.
type Playback uint8

const (
	Stopped Playback = iota
	Playing
	Paused
)

func (p Playback) String() string {
	switch p {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "invalid"
}

// AnimationState lives inside a StoredImage. All mutation happens under the
// engine lock, either from the command path or from Scheduler.Tick.
type AnimationState struct {
	Frame     int
	Dir       Direction
	Mode      LoopMode
	LoopsLeft int // remaining passes, negative means unlimited
	State     Playback

	lastAdvance time.Time
}

// NewAnimationState returns a stopped, forward, endlessly-looping state.
func NewAnimationState() *AnimationState {
	return &AnimationState{Mode: LoopInfinite, LoopsLeft: -1}
}

// Play starts or resumes playback. The timing baseline resets so the
// current frame gets its full delay before the first advance.
func (a *AnimationState) Play(now time.Time) {
	a.State = Playing
	a.lastAdvance = now
}

// Pause freezes playback on the current frame.
func (a *AnimationState) Pause() {
	if a.State == Playing {
		a.State = Paused
	}
}

// Stop halts playback. Idempotent; any tick arriving afterwards is a no-op.
func (a *AnimationState) Stop() {
	a.State = Stopped
}

// SetFrame jumps to a frame, clamped into the valid range.
func (a *AnimationState) SetFrame(i, frameCount int) {
	if frameCount <= 0 {
		a.Frame = 0
		return
	}
	if i < 0 {
		i = 0
	}
	if i >= frameCount {
		i = frameCount - 1
	}
	a.Frame = i
}

// SetLoops configures how many passes remain; zero means unlimited.
func (a *AnimationState) SetLoops(v int) {
	if v <= 0 {
		a.LoopsLeft = -1
		return
	}
	a.LoopsLeft = v
}

// completePass burns one loop pass and stops playback when the budget
// runs out.
func (a *AnimationState) completePass() {
	if a.LoopsLeft > 0 {
		a.LoopsLeft--
		if a.LoopsLeft == 0 {
			a.State = Stopped
		}
	}
}

// advance moves exactly one frame, handling the sequence boundaries per
// loop mode. Callers guarantee frameCount >= 2 and State == Playing.
func (a *AnimationState) advance(frameCount int) {
	last := frameCount - 1
	if a.Frame > last {
		a.Frame = last
	}
	switch a.Dir {
	case Forward:
		if a.Frame < last {
			a.Frame++
			return
		}
		switch a.Mode {
		case LoopOnce:
			a.State = Stopped
		case LoopInfinite:
			a.completePass()
			if a.State == Playing {
				a.Frame = 0
			}
		case LoopPingPong:
			a.completePass()
			if a.State == Playing {
				a.Dir = Backward
				a.Frame = last - 1
			}
		}
	case Backward:
		if a.Frame > 0 {
			a.Frame--
			return
		}
		switch a.Mode {
		case LoopOnce:
			a.State = Stopped
		case LoopInfinite:
			a.completePass()
			if a.State == Playing {
				a.Frame = last
			}
		case LoopPingPong:
			a.completePass()
			if a.State == Playing {
				a.Dir = Forward
				a.Frame = 1
			}
		}
	}
}

// Scheduler advances every playing animation from the host's render tick.
// It never touches pixel data; the store resolves everything by id.
type Scheduler struct {
	store        *ImageStore
	defaultDelay time.Duration
}

func NewScheduler(store *ImageStore, defaultDelay time.Duration) *Scheduler {
	if defaultDelay <= 0 {
		defaultDelay = 100 * time.Millisecond
	}
	return &Scheduler{store: store, defaultDelay: defaultDelay}
}

// DefaultDelay is the per-frame fallback when a frame carries no gap.
func (sc *Scheduler) DefaultDelay() time.Duration { return sc.defaultDelay }

// Tick advances at most one frame per playing animation. A starved caller
// catches up one frame per tick instead of skipping ahead, bounding the
// visual jump. Returns true when anything moved and needs re-rendering.
func (sc *Scheduler) Tick(now time.Time) bool {
	dirty := false
	for _, img := range sc.store.Animated() {
		a := img.Anim
		if a.State != Playing || len(img.Frames) < 2 {
			continue
		}
		cur := a.Frame
		if cur < 0 || cur >= len(img.Frames) {
			cur = 0
		}
		delay := img.Frames[cur].Delay
		if delay <= 0 {
			delay = sc.defaultDelay
		}
		if now.Sub(a.lastAdvance) < delay {
			continue
		}
		a.advance(len(img.Frames))
		a.lastAdvance = now
		sc.store.Touch(img.ID)
		dirty = true
	}
	return dirty
}
