// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/store_test.go
// Summary: Image store behavior: id allocation, replacement, quota
//          eviction with the in-use grace window, placement lifecycle,
//          delete specifiers, and frame accounting.

package graphics

import (
	"errors"
	"testing"
	"time"

	"github.com/framegrace/texelgfx/protocol"
)

// solidImage builds a w*h RGBA image filled with one gray level.
func solidImage(id uint32, w, h int, v byte) *StoredImage {
	px := make([]byte, w*h*4)
	for i := 0; i < len(px); i += 4 {
		px[i], px[i+1], px[i+2], px[i+3] = v, v, v, 0xff
	}
	return &StoredImage{ID: id, Format: protocol.FormatRGBA32, Width: w, Height: h, Pixels: px}
}

// testClock is a hand-cranked time source.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1700000000, 0)}
}

func TestInsertAssignsSequentialIDs(t *testing.T) {
	s := NewImageStore()
	for want := uint32(1); want <= 3; want++ {
		id, err := s.Insert(solidImage(0, 1, 1, 0x10))
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if id != want {
			t.Errorf("id = %d, want %d", id, want)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
}

func TestInsertRefusesEmptyImage(t *testing.T) {
	s := NewImageStore()
	cases := []*StoredImage{
		{Width: 0, Height: 1, Pixels: []byte{1, 2, 3, 4}},
		{Width: 1, Height: 1, Pixels: nil},
	}
	for _, img := range cases {
		if _, err := s.Insert(img); !errors.Is(err, protocol.ErrControlData) {
			t.Errorf("Insert(%dx%d, %d bytes): err = %v, want ErrControlData",
				img.Width, img.Height, len(img.Pixels), err)
		}
	}
}

func TestInsertReplaceKeepsPlacementsDropsFrames(t *testing.T) {
	s := NewImageStore()
	if _, err := s.Insert(solidImage(7, 2, 2, 0x20)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := s.Place(&Placement{ImageID: 7, Cols: 2, Rows: 1}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if _, err := s.AddFrame(7, 0, []byte{1, 2, 3, 4}, 1, 1, 0, 0, time.Millisecond); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	// base 16 + seeded frame 0 + appended frame, both full-size copies
	before := s.TotalBytes()
	if before != 48 {
		t.Fatalf("TotalBytes = %d before replace, want 48", before)
	}

	if _, err := s.Insert(solidImage(7, 1, 1, 0x30)); err != nil {
		t.Fatalf("replace Insert: %v", err)
	}
	img, ok := s.Lookup(7)
	if !ok {
		t.Fatal("image 7 missing after replace")
	}
	if img.Width != 1 || len(img.Frames) != 0 {
		t.Errorf("after replace: %dx%d with %d frames, want 1x1 with none",
			img.Width, img.Height, len(img.Frames))
	}
	if got := s.placementCount(7); got != 1 {
		t.Errorf("placements = %d after replace, want 1", got)
	}
	if s.TotalBytes() != 4 {
		t.Errorf("TotalBytes = %d after replace, want 4", s.TotalBytes())
	}
}

func TestInsertRejectsImageLargerThanQuota(t *testing.T) {
	s := NewImageStore(WithQuota(32))
	_, err := s.Insert(solidImage(0, 4, 4, 0x10)) // 64 bytes
	if !errors.Is(err, protocol.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if s.Len() != 0 || s.TotalBytes() != 0 {
		t.Errorf("store not empty after rejected insert: %d images, %d bytes", s.Len(), s.TotalBytes())
	}
}

func TestQuotaEvictsLeastRecentlyUsed(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithQuota(40), WithEvictionGrace(time.Second), WithStoreClock(clk.now))

	a, _ := s.Insert(solidImage(0, 2, 2, 0x10)) // 16 bytes
	clk.advance(2 * time.Second)
	b, _ := s.Insert(solidImage(0, 2, 2, 0x20))
	clk.advance(2 * time.Second)
	if _, err := s.Insert(solidImage(0, 2, 2, 0x30)); err != nil {
		t.Fatalf("third Insert: %v", err)
	}

	if _, ok := s.Lookup(a); ok {
		t.Error("oldest image survived, expected eviction")
	}
	if _, ok := s.Lookup(b); !ok {
		t.Error("second image evicted, expected to survive")
	}
	if s.TotalBytes() > s.Quota() {
		t.Errorf("TotalBytes = %d over quota %d after eviction", s.TotalBytes(), s.Quota())
	}
}

func TestQuotaEvictionBlockedInsideGraceWindow(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithQuota(40), WithEvictionGrace(time.Minute), WithStoreClock(clk.now))

	for i := 0; i < 3; i++ {
		if _, err := s.Insert(solidImage(0, 2, 2, byte(i))); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
		clk.advance(time.Second)
	}
	// every image was used within the grace window, so the store runs
	// over quota rather than evicting something in use
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3 (eviction should be blocked)", s.Len())
	}
	if s.TotalBytes() != 48 {
		t.Errorf("TotalBytes = %d, want 48", s.TotalBytes())
	}
}

func TestTouchProtectsFromEviction(t *testing.T) {
	clk := newTestClock()
	s := NewImageStore(WithQuota(40), WithEvictionGrace(time.Second), WithStoreClock(clk.now))

	a, _ := s.Insert(solidImage(0, 2, 2, 0x10))
	clk.advance(time.Second)
	b, _ := s.Insert(solidImage(0, 2, 2, 0x20))
	clk.advance(5 * time.Second)

	s.Touch(a) // a becomes most recent, b is now the eviction candidate
	if _, err := s.Insert(solidImage(0, 2, 2, 0x30)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, ok := s.Lookup(a); !ok {
		t.Error("touched image evicted")
	}
	if _, ok := s.Lookup(b); ok {
		t.Error("stale image survived, expected eviction")
	}
}

func TestPlaceScopesIDsPerImage(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	b, _ := s.Insert(solidImage(0, 1, 1, 0x20))

	p1, _ := s.Place(&Placement{ImageID: a, Cols: 1, Rows: 1})
	p2, _ := s.Place(&Placement{ImageID: a, Cols: 1, Rows: 1})
	p3, _ := s.Place(&Placement{ImageID: b, Cols: 1, Rows: 1})
	if p1 != 1 || p2 != 2 {
		t.Errorf("image %d placements = %d,%d, want 1,2", a, p1, p2)
	}
	if p3 != 1 {
		t.Errorf("image %d first placement = %d, want 1", b, p3)
	}
}

func TestPlaceExplicitIDReplaces(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	if _, err := s.Place(&Placement{ID: 5, ImageID: a, Col: 1, Cols: 1, Rows: 1}); err != nil {
		t.Fatalf("Place: %v", err)
	}
	if _, err := s.Place(&Placement{ID: 5, ImageID: a, Col: 9, Cols: 1, Rows: 1}); err != nil {
		t.Fatalf("re-Place: %v", err)
	}
	got := s.ActivePlacements()
	if len(got) != 1 {
		t.Fatalf("placements = %d, want 1 (replaced in place)", len(got))
	}
	if got[0].Col != 9 {
		t.Errorf("Col = %d after move, want 9", got[0].Col)
	}
}

func TestPlaceUnknownImage(t *testing.T) {
	s := NewImageStore()
	if _, err := s.Place(&Placement{ImageID: 99, Cols: 1, Rows: 1}); !errors.Is(err, protocol.ErrImageNotFound) {
		t.Fatalf("err = %v, want ErrImageNotFound", err)
	}
}

func TestDeleteCascadesToPlacements(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	b, _ := s.Insert(solidImage(0, 1, 1, 0x20))
	s.Place(&Placement{ImageID: a, Cols: 1, Rows: 1})
	s.Place(&Placement{ImageID: b, Cols: 1, Rows: 1})

	if err := s.Delete(a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(a); !errors.Is(err, protocol.ErrImageNotFound) {
		t.Errorf("second Delete err = %v, want ErrImageNotFound", err)
	}
	left := s.ActivePlacements()
	if len(left) != 1 || left[0].ImageID != b {
		t.Errorf("placements after delete = %+v, want only image %d", left, b)
	}
}

func TestDeletePlacementNotFound(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	err := s.DeletePlacement(a, 3, false)
	if !errors.Is(err, protocol.ErrPlacementNotFound) {
		t.Fatalf("err = %v, want ErrPlacementNotFound", err)
	}
}

func TestDeletePlacementDropsOrphanData(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	pid, _ := s.Place(&Placement{ImageID: a, Cols: 1, Rows: 1})

	if err := s.DeletePlacement(a, pid, true); err != nil {
		t.Fatalf("DeletePlacement: %v", err)
	}
	if _, ok := s.Lookup(a); ok {
		t.Error("orphaned image data survived uppercase delete")
	}
}

func TestDeleteAllKeepsDataUnlessDropped(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	s.Place(&Placement{ImageID: a, Cols: 1, Rows: 1})

	s.DeleteAll(false)
	if len(s.ActivePlacements()) != 0 {
		t.Error("placements survived DeleteAll")
	}
	if _, ok := s.Lookup(a); !ok {
		t.Error("image data dropped by lowercase DeleteAll")
	}

	s.DeleteAll(true)
	if s.Len() != 0 || s.TotalBytes() != 0 {
		t.Errorf("store not empty after DeleteAll(true): %d images, %d bytes", s.Len(), s.TotalBytes())
	}
}

func TestDeleteByZ(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	b, _ := s.Insert(solidImage(0, 1, 1, 0x20))
	s.Place(&Placement{ImageID: a, Z: 5, Cols: 1, Rows: 1})
	s.Place(&Placement{ImageID: b, Z: 2, Cols: 1, Rows: 1})

	s.DeleteByZ(5, true)
	if _, ok := s.Lookup(a); ok {
		t.Error("z=5 image survived delete-with-data")
	}
	if _, ok := s.Lookup(b); !ok {
		t.Error("z=2 image dropped by unrelated delete")
	}
}

func TestDeleteAtUsesCellContainment(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	s.Place(&Placement{ImageID: a, Col: 2, Row: 3, Cols: 2, Rows: 2})

	s.DeleteAt(4, 4, false) // just right of the rectangle
	if len(s.ActivePlacements()) != 1 {
		t.Fatal("miss deleted the placement")
	}
	s.DeleteAt(3, 4, false) // bottom-right covered cell
	if len(s.ActivePlacements()) != 0 {
		t.Fatal("covered cell did not delete the placement")
	}
}

func TestActivePlacementsOrder(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))

	s.Place(&Placement{ImageID: a, Col: 1, Z: 3, Cols: 1, Rows: 1})
	s.Place(&Placement{ImageID: a, Col: 2, Z: -1, Cols: 1, Rows: 1})
	s.Place(&Placement{ImageID: a, Col: 3, Z: 3, Cols: 1, Rows: 1})

	got := s.ActivePlacements()
	if len(got) != 3 {
		t.Fatalf("placements = %d, want 3", len(got))
	}
	// z ascending, and the later z=3 placement draws after the earlier one
	if got[0].Col != 2 || got[1].Col != 1 || got[2].Col != 3 {
		t.Errorf("order = %d,%d,%d, want 2,1,3", got[0].Col, got[1].Col, got[2].Col)
	}
}

func TestAddFrameSeedsBaseAndAppends(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 2, 1, 0x10))

	red := []byte{0xff, 0, 0, 0xff}
	idx, err := s.AddFrame(a, 0, red, 1, 1, 1, 0, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	if idx != 1 {
		t.Errorf("appended frame index = %d, want 1", idx)
	}
	img, _ := s.Lookup(a)
	if len(img.Frames) != 2 {
		t.Fatalf("frames = %d, want 2 (seeded base + new)", len(img.Frames))
	}
	if img.Frames[0].Pixels[0] != 0x10 {
		t.Error("frame 0 is not a copy of the base image")
	}
	// the new frame starts as frame 0 with the rect pasted at x=1
	f1 := img.Frames[1].Pixels
	if f1[0] != 0x10 || f1[4] != 0xff || f1[5] != 0x00 {
		t.Errorf("frame 1 pixels = % x, want base pixel then red", f1)
	}
	if img.Frames[1].Delay != 30*time.Millisecond {
		t.Errorf("frame delay = %v, want 30ms", img.Frames[1].Delay)
	}
}

func TestAddFrameEditsInPlace(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 1, 1, 0x10))
	if _, err := s.AddFrame(a, 0, []byte{1, 1, 1, 0xff}, 1, 1, 0, 0, time.Millisecond); err != nil {
		t.Fatalf("append: %v", err)
	}

	idx, err := s.AddFrame(a, 2, []byte{9, 9, 9, 0xff}, 1, 1, 0, 0, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if idx != 1 {
		t.Errorf("edited index = %d, want 1", idx)
	}
	img, _ := s.Lookup(a)
	if len(img.Frames) != 2 {
		t.Fatalf("edit grew the frame list to %d", len(img.Frames))
	}
	if img.Frames[1].Pixels[0] != 9 || img.Frames[1].Delay != 5*time.Millisecond {
		t.Errorf("frame 1 = % x delay %v after edit", img.Frames[1].Pixels, img.Frames[1].Delay)
	}

	if _, err := s.AddFrame(a, 7, []byte{1, 2, 3, 4}, 1, 1, 0, 0, 0); !errors.Is(err, protocol.ErrControlData) {
		t.Errorf("out-of-range frame err = %v, want ErrControlData", err)
	}
}

func TestAddFrameCountsTowardQuota(t *testing.T) {
	s := NewImageStore()
	a, _ := s.Insert(solidImage(0, 2, 2, 0x10))
	base := s.TotalBytes()

	if _, err := s.AddFrame(a, 0, []byte{1, 2, 3, 4}, 1, 1, 0, 0, 0); err != nil {
		t.Fatalf("AddFrame: %v", err)
	}
	// seeded frame 0 (16) plus the appended frame (16)
	if got := s.TotalBytes(); got != base+32 {
		t.Errorf("TotalBytes = %d, want %d", got, base+32)
	}
}
