// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/animation_test.go
// Summary: Frame state machine traversal per loop mode, pause/stop
//          transitions, and the scheduler's one-frame-per-tick pacing.

package graphics

import (
	"testing"
	"time"
)

// play returns a playing state in the given mode.
func play(mode LoopMode) *AnimationState {
	a := NewAnimationState()
	a.Mode = mode
	a.Play(time.Unix(1700000000, 0))
	return a
}

func TestAdvanceInfiniteWraps(t *testing.T) {
	a := play(LoopInfinite)
	want := []int{1, 2, 0, 1, 2, 0}
	for i, w := range want {
		a.advance(3)
		if a.Frame != w {
			t.Fatalf("advance %d: frame = %d, want %d", i, a.Frame, w)
		}
	}
	if a.State != Playing {
		t.Errorf("state = %v after wrapping, want playing", a.State)
	}
}

func TestAdvanceOnceStopsOnLastFrame(t *testing.T) {
	a := play(LoopOnce)
	a.advance(3) // 1
	a.advance(3) // 2
	if a.Frame != 2 || a.State != Playing {
		t.Fatalf("mid-run: frame=%d state=%v", a.Frame, a.State)
	}
	a.advance(3)
	if a.State != Stopped {
		t.Errorf("state = %v at sequence end, want stopped", a.State)
	}
	if a.Frame != 2 {
		t.Errorf("frame = %d after stop, want to hold last frame 2", a.Frame)
	}
}

func TestAdvancePingPongBouncesWithoutRepeatingEnds(t *testing.T) {
	a := play(LoopPingPong)
	want := []int{1, 2, 1, 0, 1, 2, 1, 0}
	for i, w := range want {
		a.advance(3)
		if a.Frame != w {
			t.Fatalf("advance %d: frame = %d, want %d (so far ok: %v)", i, a.Frame, w, want[:i])
		}
	}
}

func TestAdvancePingPongTwoFrames(t *testing.T) {
	a := play(LoopPingPong)
	want := []int{1, 0, 1, 0}
	for i, w := range want {
		a.advance(2)
		if a.Frame != w {
			t.Fatalf("advance %d: frame = %d, want %d", i, a.Frame, w)
		}
	}
}

func TestCountedLoopsStopAfterBudget(t *testing.T) {
	a := play(LoopInfinite)
	a.SetLoops(2)

	a.advance(2) // 1
	a.advance(2) // pass 1 complete, back to 0
	if a.LoopsLeft != 1 || a.State != Playing {
		t.Fatalf("after pass 1: loops=%d state=%v", a.LoopsLeft, a.State)
	}
	a.advance(2) // 1
	a.advance(2) // pass 2 complete, budget exhausted
	if a.State != Stopped {
		t.Errorf("state = %v after budget, want stopped", a.State)
	}
	if a.LoopsLeft != 0 {
		t.Errorf("LoopsLeft = %d, want 0", a.LoopsLeft)
	}
}

func TestSetLoopsZeroMeansUnlimited(t *testing.T) {
	a := NewAnimationState()
	a.SetLoops(0)
	if a.LoopsLeft != -1 {
		t.Errorf("LoopsLeft = %d, want -1", a.LoopsLeft)
	}
	a.SetLoops(3)
	if a.LoopsLeft != 3 {
		t.Errorf("LoopsLeft = %d, want 3", a.LoopsLeft)
	}
}

func TestPauseOnlyFreezesPlaying(t *testing.T) {
	a := NewAnimationState()
	a.Pause()
	if a.State != Stopped {
		t.Errorf("pausing a stopped animation moved it to %v", a.State)
	}
	a.Play(time.Unix(1700000000, 0))
	a.Pause()
	if a.State != Paused {
		t.Errorf("state = %v, want paused", a.State)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	a := NewAnimationState()
	a.Play(time.Unix(1700000000, 0))
	a.Stop()
	a.Stop()
	if a.State != Stopped {
		t.Errorf("state = %v, want stopped", a.State)
	}
}

func TestSetFrameClamps(t *testing.T) {
	a := NewAnimationState()
	a.SetFrame(10, 3)
	if a.Frame != 2 {
		t.Errorf("frame = %d, want 2 (clamped high)", a.Frame)
	}
	a.SetFrame(-4, 3)
	if a.Frame != 0 {
		t.Errorf("frame = %d, want 0 (clamped low)", a.Frame)
	}
}

// animatedImage stores a w=1 h=1 image with n frames of the given delay
// and returns its id.
func animatedImage(t *testing.T, s *ImageStore, n int, delay time.Duration) uint32 {
	t.Helper()
	id, err := s.Insert(solidImage(0, 1, 1, 0x10))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	for i := 1; i < n; i++ {
		if _, err := s.AddFrame(id, 0, []byte{byte(i), 0, 0, 0xff}, 1, 1, 0, 0, delay); err != nil {
			t.Fatalf("AddFrame %d: %v", i, err)
		}
	}
	img, _ := s.Lookup(id)
	img.Frames[0].Delay = delay
	img.Anim = NewAnimationState()
	return id
}

func TestSchedulerWaitsForFrameDelay(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithStoreClock(clk.now))
	sc := NewScheduler(s, 0)
	id := animatedImage(t, s, 2, 40*time.Millisecond)

	img, _ := s.Lookup(id)
	img.Anim.Play(clk.t)

	if sc.Tick(clk.t.Add(10 * time.Millisecond)) {
		t.Fatal("tick before the frame delay advanced the animation")
	}
	if !sc.Tick(clk.t.Add(50 * time.Millisecond)) {
		t.Fatal("tick after the frame delay did not advance")
	}
	if img.Anim.Frame != 1 {
		t.Errorf("frame = %d, want 1", img.Anim.Frame)
	}
}

func TestSchedulerAdvancesOneFramePerTick(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithStoreClock(clk.now))
	sc := NewScheduler(s, 0)
	id := animatedImage(t, s, 4, 10*time.Millisecond)

	img, _ := s.Lookup(id)
	img.Anim.Play(clk.t)

	// a starved caller ticking seconds late still moves a single frame
	if !sc.Tick(clk.t.Add(3 * time.Second)) {
		t.Fatal("late tick did not advance")
	}
	if img.Anim.Frame != 1 {
		t.Errorf("frame = %d after one late tick, want 1", img.Anim.Frame)
	}
}

func TestSchedulerIgnoresSingleFrameAndStopped(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithStoreClock(clk.now))
	sc := NewScheduler(s, time.Millisecond)

	// single frame, playing
	one, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	img, _ := s.Lookup(one)
	if _, err := s.AddFrame(one, 1, []byte{1, 2, 3, 4}, 1, 1, 0, 0, time.Millisecond); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	img.Anim = NewAnimationState()
	img.Anim.Play(clk.t)

	// multiple frames, stopped
	animatedImage(t, s, 3, time.Millisecond)

	if sc.Tick(clk.t.Add(time.Hour)) {
		t.Error("tick reported dirty with nothing advanceable")
	}
}

func TestSchedulerUsesFallbackDelay(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithStoreClock(clk.now))
	sc := NewScheduler(s, 25*time.Millisecond)
	id := animatedImage(t, s, 2, 0) // frames carry no delay of their own

	img, _ := s.Lookup(id)
	img.Anim.Play(clk.t)

	if sc.Tick(clk.t.Add(10 * time.Millisecond)) {
		t.Fatal("advanced before the fallback delay")
	}
	if !sc.Tick(clk.t.Add(30 * time.Millisecond)) {
		t.Fatal("fallback delay did not trigger an advance")
	}
}

func TestSchedulerDefaultDelayFloor(t *testing.T) {
	sc := NewScheduler(NewImageStore(), 0)
	if sc.DefaultDelay() != 100*time.Millisecond {
		t.Errorf("DefaultDelay = %v, want 100ms", sc.DefaultDelay())
	}
}
