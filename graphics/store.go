// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/store.go
// Summary: Session-scoped image store: identity, placements, animation
//          frames, and quota enforcement with LRU eviction.
// Notes: The store is not internally locked. The engine owns it behind one
//        mutex so parser-driven deletes and scheduler ticks cannot race.

package graphics

import (
	"container/list"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/framegrace/texelgfx/protocol"
)

const (
	DefaultQuotaBytes    = 100 << 20
	DefaultEvictionGrace = 10 * time.Second
)

// Frame is one animation frame. Frame zero is seeded from the base image
// the first time a frame command arrives.
type Frame struct {
	Pixels []byte
	Delay  time.Duration
}

// StoredImage is decoded RGBA pixel data held under a session-unique id.
type StoredImage struct {
	ID     uint32
	Format protocol.Format
	Width  int
	Height int
	Pixels []byte

	SizeBytes  int64
	CreatedAt  time.Time
	LastUsedAt time.Time

	Frames []Frame
	Anim   *AnimationState
}

func (img *StoredImage) recalcSize() {
	n := int64(len(img.Pixels))
	for _, f := range img.Frames {
		n += int64(len(f.Pixels))
	}
	img.SizeBytes = n
}

// ActivePixels returns the buffer a renderer should draw right now: the
// current animation frame when one exists, the base image otherwise.
func (img *StoredImage) ActivePixels() []byte {
	if img.Anim != nil && len(img.Frames) > 0 {
		if i := img.Anim.Frame; i >= 0 && i < len(img.Frames) {
			return img.Frames[i].Pixels
		}
	}
	return img.Pixels
}

// Placement is one positioned, z-ordered instance of a stored image. It
// holds only the image id; renderers re-resolve it every pass and treat a
// missing image as blank.
type Placement struct {
	ID      uint32
	ImageID uint32

	Col, Row int // destination cell position
	Cols     int // destination size in cells, resolved at placement time
	Rows     int

	OffsetX int // pixel offset inside the first cell
	OffsetY int

	CropX, CropY int // source window, zero CropW/CropH means whole image
	CropW, CropH int

	Z   int32
	seq uint64
}

func (p *Placement) contains(col, row int) bool {
	return col >= p.Col && col < p.Col+p.Cols && row >= p.Row && row < p.Row+p.Rows
}

// ImageStore owns every StoredImage and Placement for one session.
type ImageStore struct {
	quota int64
	grace time.Duration
	now   func() time.Time

	images     map[uint32]*StoredImage
	lru        *list.List // front = most recently used
	elems      map[uint32]*list.Element
	placements []*Placement

	total     int64
	nextImage uint32
	nextSeq   uint64
}

// StoreOption configures an ImageStore.
type StoreOption func(*ImageStore)

// WithQuota caps total stored bytes; zero disables eviction.
func WithQuota(bytes int64) StoreOption {
	return func(s *ImageStore) { s.quota = bytes }
}

// WithEvictionGrace sets how long an image counts as recently active after
// its last use. Images inside the grace window are never evicted.
func WithEvictionGrace(d time.Duration) StoreOption {
	return func(s *ImageStore) { s.grace = d }
}

// WithStoreClock overrides the time source.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *ImageStore) { s.now = now }
}

func NewImageStore(opts ...StoreOption) *ImageStore {
	s := &ImageStore{
		quota:  DefaultQuotaBytes,
		grace:  DefaultEvictionGrace,
		now:    time.Now,
		images: make(map[uint32]*StoredImage),
		lru:    list.New(),
		elems:  make(map[uint32]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TotalBytes reports current usage across all images and frames.
func (s *ImageStore) TotalBytes() int64 { return s.total }

// Quota reports the configured byte cap.
func (s *ImageStore) Quota() int64 { return s.quota }

// Len reports how many images are stored.
func (s *ImageStore) Len() int { return len(s.images) }

// Lookup resolves an image without refreshing its LRU position.
func (s *ImageStore) Lookup(id uint32) (*StoredImage, bool) {
	img, ok := s.images[id]
	return img, ok
}

// Touch marks an image as just used, protecting it from eviction for the
// grace window and moving it to the front of the LRU order.
func (s *ImageStore) Touch(id uint32) {
	img, ok := s.images[id]
	if !ok {
		return
	}
	img.LastUsedAt = s.now()
	if e, ok := s.elems[id]; ok {
		s.lru.MoveToFront(e)
	}
}

func (s *ImageStore) allocImageID() uint32 {
	for {
		s.nextImage++
		if s.nextImage == 0 {
			s.nextImage = 1
		}
		if _, taken := s.images[s.nextImage]; !taken {
			return s.nextImage
		}
	}
}

// Insert stores an image, assigning an id when the sender left it to the
// engine. Re-transmitting an existing id replaces its pixel data and drops
// any frames; placements survive and pick up the new data. Returns the
// final id.
func (s *ImageStore) Insert(img *StoredImage) (uint32, error) {
	if img.Width <= 0 || img.Height <= 0 || len(img.Pixels) == 0 {
		return 0, fmt.Errorf("store: refusing empty image: %w", protocol.ErrControlData)
	}
	img.recalcSize()
	if s.quota > 0 && img.SizeBytes > s.quota {
		return 0, fmt.Errorf("store: image of %s cannot fit quota %s even alone: %w",
			humanize.IBytes(uint64(img.SizeBytes)), humanize.IBytes(uint64(s.quota)),
			protocol.ErrQuotaExceeded)
	}
	if img.ID == 0 {
		img.ID = s.allocImageID()
	} else if old, ok := s.images[img.ID]; ok {
		s.total -= old.SizeBytes
		if e, ok := s.elems[img.ID]; ok {
			s.lru.Remove(e)
			delete(s.elems, img.ID)
		}
		delete(s.images, img.ID)
	}
	t := s.now()
	img.CreatedAt, img.LastUsedAt = t, t
	s.images[img.ID] = img
	s.elems[img.ID] = s.lru.PushFront(img)
	s.total += img.SizeBytes
	s.enforceQuota()
	return img.ID, nil
}

// Place adds or updates a placement. Placement ids are scoped to their
// image; an explicit id that already exists on the image is replaced in
// place, which is how senders move an image around.
func (s *ImageStore) Place(p *Placement) (uint32, error) {
	if _, ok := s.images[p.ImageID]; !ok {
		return 0, fmt.Errorf("store: place on image %d: %w", p.ImageID, protocol.ErrImageNotFound)
	}
	if p.ID == 0 {
		var max uint32
		for _, q := range s.placements {
			if q.ImageID == p.ImageID && q.ID > max {
				max = q.ID
			}
		}
		p.ID = max + 1
	} else {
		s.dropPlacements(func(q *Placement) bool {
			return q.ImageID == p.ImageID && q.ID == p.ID
		})
	}
	s.nextSeq++
	p.seq = s.nextSeq
	s.placements = append(s.placements, p)
	s.Touch(p.ImageID)
	return p.ID, nil
}

// Delete removes an image and every placement referencing it.
func (s *ImageStore) Delete(id uint32) error {
	if _, ok := s.images[id]; !ok {
		return fmt.Errorf("store: delete image %d: %w", id, protocol.ErrImageNotFound)
	}
	s.removeImage(id)
	return nil
}

func (s *ImageStore) removeImage(id uint32) {
	img, ok := s.images[id]
	if !ok {
		return
	}
	s.total -= img.SizeBytes
	delete(s.images, id)
	if e, ok := s.elems[id]; ok {
		s.lru.Remove(e)
		delete(s.elems, id)
	}
	s.dropPlacements(func(p *Placement) bool { return p.ImageID == id })
}

func (s *ImageStore) dropPlacements(match func(*Placement) bool) int {
	kept := s.placements[:0]
	dropped := 0
	for _, p := range s.placements {
		if match(p) {
			dropped++
			continue
		}
		kept = append(kept, p)
	}
	s.placements = kept
	return dropped
}

// affectedImages collects the image ids of placements matching the
// predicate before they are dropped.
func (s *ImageStore) affectedImages(match func(*Placement) bool) map[uint32]bool {
	ids := make(map[uint32]bool)
	for _, p := range s.placements {
		if match(p) {
			ids[p.ImageID] = true
		}
	}
	return ids
}

func (s *ImageStore) placementCount(imageID uint32) int {
	n := 0
	for _, p := range s.placements {
		if p.ImageID == imageID {
			n++
		}
	}
	return n
}

// dropOrphans removes image data for the given ids when nothing places
// them anymore. Used by the uppercase delete specifiers.
func (s *ImageStore) dropOrphans(ids map[uint32]bool) {
	for id := range ids {
		if s.placementCount(id) == 0 {
			s.removeImage(id)
		}
	}
}

// ClearPlacements removes every placement of one image; dropData also
// removes the image itself.
func (s *ImageStore) ClearPlacements(imageID uint32, dropData bool) {
	s.dropPlacements(func(p *Placement) bool { return p.ImageID == imageID })
	if dropData {
		s.removeImage(imageID)
	}
}

// DeletePlacement removes one placement of one image.
func (s *ImageStore) DeletePlacement(imageID, placementID uint32, dropData bool) error {
	n := s.dropPlacements(func(p *Placement) bool {
		return p.ImageID == imageID && p.ID == placementID
	})
	if n == 0 {
		return fmt.Errorf("store: placement %d/%d: %w", imageID, placementID, protocol.ErrPlacementNotFound)
	}
	if dropData {
		s.dropOrphans(map[uint32]bool{imageID: true})
	}
	return nil
}

// DeleteAll removes every placement; dropData empties the store entirely.
func (s *ImageStore) DeleteAll(dropData bool) {
	s.placements = s.placements[:0]
	if dropData {
		for id := range s.images {
			s.removeImage(id)
		}
	}
}

// DeleteByZ removes placements on one z layer.
func (s *ImageStore) DeleteByZ(z int32, dropData bool) {
	match := func(p *Placement) bool { return p.Z == z }
	affected := s.affectedImages(match)
	s.dropPlacements(match)
	if dropData {
		s.dropOrphans(affected)
	}
}

// DeleteAt removes placements whose cell rectangle covers the given cell.
func (s *ImageStore) DeleteAt(col, row int, dropData bool) {
	match := func(p *Placement) bool { return p.contains(col, row) }
	affected := s.affectedImages(match)
	s.dropPlacements(match)
	if dropData {
		s.dropOrphans(affected)
	}
}

// ActivePlacements returns every placement ordered back to front: z
// ascending, and for equal z the later placement wins by drawing last.
func (s *ImageStore) ActivePlacements() []*Placement {
	out := make([]*Placement, len(s.placements))
	copy(out, s.placements)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// PlacementsAt filters ActivePlacements down to one cell, same ordering.
func (s *ImageStore) PlacementsAt(col, row int) []*Placement {
	var out []*Placement
	for _, p := range s.ActivePlacements() {
		if p.contains(col, row) {
			out = append(out, p)
		}
	}
	return out
}

// Animated returns the images carrying animation state, for the scheduler.
func (s *ImageStore) Animated() []*StoredImage {
	var out []*StoredImage
	for _, img := range s.images {
		if img.Anim != nil && len(img.Frames) > 0 {
			out = append(out, img)
		}
	}
	return out
}

// AddFrame appends or edits one animation frame. frameIndex is 1-based; 0
// appends. The first frame command seeds frame zero from the base image so
// the base keeps showing as frame 0 of the animation. New frames start as a
// copy of frame zero with the rect pasted at x,y. Returns the index of the
// touched frame.
func (s *ImageStore) AddFrame(imageID uint32, frameIndex int, rect []byte, w, h, x, y int, gap time.Duration) (int, error) {
	img, ok := s.images[imageID]
	if !ok {
		return 0, fmt.Errorf("store: frame for image %d: %w", imageID, protocol.ErrImageNotFound)
	}
	if len(img.Frames) == 0 {
		base := make([]byte, len(img.Pixels))
		copy(base, img.Pixels)
		img.Frames = append(img.Frames, Frame{Pixels: base, Delay: gap})
	}
	var idx int
	switch {
	case frameIndex == 0:
		px := make([]byte, len(img.Frames[0].Pixels))
		copy(px, img.Frames[0].Pixels)
		overlayRGBA(px, img.Width, img.Height, rect, w, h, x, y)
		img.Frames = append(img.Frames, Frame{Pixels: px, Delay: gap})
		idx = len(img.Frames) - 1
	case frameIndex >= 1 && frameIndex <= len(img.Frames):
		idx = frameIndex - 1
		overlayRGBA(img.Frames[idx].Pixels, img.Width, img.Height, rect, w, h, x, y)
		img.Frames[idx].Delay = gap
	default:
		return 0, fmt.Errorf("store: image %d has no frame %d: %w", imageID, frameIndex, protocol.ErrControlData)
	}
	s.total -= img.SizeBytes
	img.recalcSize()
	s.total += img.SizeBytes
	s.Touch(imageID)
	s.enforceQuota()
	return idx, nil
}

// overlayRGBA pastes a source rect into a destination buffer, clipping to
// the destination bounds.
func overlayRGBA(dst []byte, dw, dh int, src []byte, sw, sh, x, y int) {
	for row := 0; row < sh; row++ {
		dy := y + row
		if dy < 0 || dy >= dh {
			continue
		}
		for col := 0; col < sw; col++ {
			dx := x + col
			if dx < 0 || dx >= dw {
				continue
			}
			si := (row*sw + col) * 4
			di := (dy*dw + dx) * 4
			if si+4 <= len(src) && di+4 <= len(dst) {
				copy(dst[di:di+4], src[si:si+4])
			}
		}
	}
}

// enforceQuota evicts least-recently-used images until usage fits, skipping
// anything used inside the grace window. When everything left is recently
// active it stops short rather than evict an in-use image.
func (s *ImageStore) enforceQuota() {
	if s.quota <= 0 {
		return
	}
	now := s.now()
	for s.total > s.quota {
		var victim *StoredImage
		for e := s.lru.Back(); e != nil; e = e.Prev() {
			img := e.Value.(*StoredImage)
			if now.Sub(img.LastUsedAt) > s.grace {
				victim = img
				break
			}
		}
		if victim == nil {
			log.Printf("ImageStore: usage %s over quota %s but every image recently active, eviction blocked",
				humanize.IBytes(uint64(s.total)), humanize.IBytes(uint64(s.quota)))
			return
		}
		log.Printf("ImageStore: evicting image %d (%s) to satisfy quota %s",
			victim.ID, humanize.IBytes(uint64(victim.SizeBytes)), humanize.IBytes(uint64(s.quota)))
		s.removeImage(victim.ID)
	}
}
