// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: sixel/decoder.go
// Summary: Sixel DCS body decoder: palette ops, repeat runs, 6-pixel bands.
// Usage: The host demultiplexer hands Decode one complete body, params
//        through final data byte, with the DCS introducer and ST stripped.
// Notes: Registers follow the last definition wins rule. Hue values use the
//        DEC convention where 0 degrees is blue, so they are rotated before
//        conversion.

package sixel

import (
	"fmt"
	"math/bits"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/framegrace/texelgfx/protocol"
)

const (
	introducer  = 'q'
	rasterAttr  = '"'
	colorOp     = '#'
	repeatOp    = '!'
	carriageRet = '$'
	nextBand    = '-'
	dataFloor   = 0x3f // '?', empty column
	dataCeil    = 0x7e
	bandHeight  = 6

	// hueOffset rotates DEC HLS hue (0 = blue) onto the standard wheel
	// (0 = red).
	hueOffset = 240

	maxDimension = 10000
	maxPixels    = 25 << 20
)

// Image is one decoded sixel raster in premultiplied-free RGBA.
type Image struct {
	Width, Height int
	Pixels        []byte
	Transparent   bool // P2=1: unpainted pixels stay fully transparent
	Ignored       int  // count of bytes skipped as noise
}

type rgb struct{ r, g, b uint8 }

type canvas struct {
	w, h int
	px   []byte
}

func (c *canvas) ensure(w, h int) {
	if w <= c.w && h <= c.h {
		return
	}
	nw, nh := c.w, c.h
	if w > nw {
		nw = w
		if doubled := 2 * c.w; nw < doubled && doubled <= maxDimension {
			nw = doubled
		}
	}
	if h > nh {
		nh = h
	}
	np := make([]byte, nw*nh*4)
	for row := 0; row < c.h; row++ {
		copy(np[row*nw*4:], c.px[row*c.w*4:(row+1)*c.w*4])
	}
	c.w, c.h, c.px = nw, nh, np
}

func (c *canvas) set(x, y int, col rgb) {
	i := (y*c.w + x) * 4
	c.px[i] = col.r
	c.px[i+1] = col.g
	c.px[i+2] = col.b
	c.px[i+3] = 0xff
}

type decoder struct {
	canvas           canvas
	palette          map[int]rgb
	current          rgb
	x, y             int
	extentW, extentH int
	transparent      bool
	ignored          int
}

// Decode runs the full body through the band machine and returns the
// assembled raster. A zero-size result is not an error; the caller decides
// whether an empty image is worth keeping.
func Decode(body []byte) (*Image, error) {
	params, rest, err := splitParams(body)
	if err != nil {
		return nil, err
	}
	d := &decoder{palette: make(map[int]rgb)}
	if len(params) >= 2 && params[1] == 1 {
		d.transparent = true
	}

	i := 0
	for i < len(rest) {
		b := rest[i]
		switch {
		case b == rasterAttr:
			nums, n := readNumbers(rest[i+1:])
			i += 1 + n
			if err := d.applyRaster(nums); err != nil {
				return nil, err
			}
		case b == colorOp:
			nums, n := readNumbers(rest[i+1:])
			i += 1 + n
			d.applyColor(nums)
		case b == repeatOp:
			nums, n := readNumbers(rest[i+1:])
			i += 1 + n
			count := 1
			if len(nums) > 0 {
				count = nums[0]
			}
			if i < len(rest) && rest[i] >= dataFloor && rest[i] <= dataCeil {
				if err := d.writeRun(rest[i], count); err != nil {
					return nil, err
				}
				i++
			} else {
				d.ignored++
			}
		case b == carriageRet:
			d.x = 0
			i++
		case b == nextBand:
			d.x = 0
			d.y += bandHeight
			i++
		case b >= dataFloor && b <= dataCeil:
			if err := d.writeRun(b, 1); err != nil {
				return nil, err
			}
			i++
		default:
			// Control bytes pass silently, anything else counts as noise.
			if b > 0x20 {
				d.ignored++
			}
			i++
		}
	}
	return d.assemble(), nil
}

// splitParams consumes "P1;P2;P3" up to the q introducer.
func splitParams(body []byte) (params []int, rest []byte, err error) {
	nums, n := readNumbers(body)
	if n >= len(body) || body[n] != introducer {
		return nil, nil, fmt.Errorf("sixel: missing q introducer: %w", protocol.ErrControlData)
	}
	return nums, body[n+1:], nil
}

// readNumbers parses a run of semicolon-separated decimal groups, returning
// the values and how many bytes were consumed. Empty groups read as zero.
func readNumbers(data []byte) ([]int, int) {
	var nums []int
	cur, started := 0, false
	i := 0
	for ; i < len(data); i++ {
		switch b := data[i]; {
		case b >= '0' && b <= '9':
			started = true
			if cur < 1<<20 {
				cur = cur*10 + int(b-'0')
			}
		case b == ';':
			nums = append(nums, cur)
			cur, started = 0, false
		default:
			if started || len(nums) > 0 {
				nums = append(nums, cur)
			}
			return nums, i
		}
	}
	if started || len(nums) > 0 {
		nums = append(nums, cur)
	}
	return nums, i
}

func (d *decoder) applyRaster(nums []int) error {
	// Pan;Pad aspect hints are ignored, Ph;Pv pre-size the raster.
	if len(nums) < 4 {
		return nil
	}
	ph, pv := nums[2], nums[3]
	if ph <= 0 || pv <= 0 {
		return nil
	}
	if err := checkBudget(ph, pv); err != nil {
		return err
	}
	d.canvas.ensure(ph, roundBand(pv))
	if ph > d.extentW {
		d.extentW = ph
	}
	if pv > d.extentH {
		d.extentH = pv
	}
	return nil
}

// applyColor handles both the select form #Pc and the define form
// #Pc;Pu;Px;Py;Pz. Malformed records are skipped rather than failing the
// whole image.
func (d *decoder) applyColor(nums []int) {
	if len(nums) == 0 {
		d.ignored++
		return
	}
	reg := nums[0]
	if len(nums) == 1 {
		d.current = d.palette[reg]
		return
	}
	if len(nums) < 5 {
		d.ignored++
		return
	}
	var col rgb
	switch nums[1] {
	case 1:
		h := float64((nums[2] + hueOffset) % 360)
		l := float64(clampPct(nums[3])) / 100
		s := float64(clampPct(nums[4])) / 100
		r, g, b := colorful.Hsl(h, s, l).RGB255()
		col = rgb{r, g, b}
	case 2:
		col = rgb{scalePct(nums[2]), scalePct(nums[3]), scalePct(nums[4])}
	default:
		d.ignored++
		return
	}
	d.palette[reg] = col
	d.current = col
}

func clampPct(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func scalePct(v int) uint8 {
	return uint8((clampPct(v)*255 + 50) / 100)
}

func roundBand(v int) int {
	return (v + bandHeight - 1) / bandHeight * bandHeight
}

func checkBudget(w, h int) error {
	if w > maxDimension || h > maxDimension || w*h > maxPixels {
		return fmt.Errorf("sixel: raster exceeds %dx%d pixel bound: %w",
			maxDimension, maxDimension, protocol.ErrQuotaExceeded)
	}
	return nil
}

// writeRun paints one data character count times. The empty column '?'
// still advances and widens the raster; it just leaves nothing behind.
// Height grows only as far as the lowest painted row so partial final
// bands keep exact image dimensions.
func (d *decoder) writeRun(b byte, count int) error {
	if count < 1 {
		count = 1
	}
	endX := d.x + count
	if err := checkBudget(endX, d.y+bandHeight); err != nil {
		return err
	}
	pat := b - dataFloor
	if pat != 0 {
		d.canvas.ensure(endX, d.y+bandHeight)
		for n := d.x; n < endX; n++ {
			for row := 0; row < bandHeight; row++ {
				if pat&(1<<row) != 0 {
					d.canvas.set(n, d.y+row, d.current)
				}
			}
		}
		if bottom := d.y + bits.Len8(pat); bottom > d.extentH {
			d.extentH = bottom
		}
	}
	d.x = endX
	if endX > d.extentW {
		d.extentW = endX
	}
	return nil
}

// assemble crops the working canvas down to the touched extent and, for
// opaque images, backfills unpainted pixels with register zero.
func (d *decoder) assemble() *Image {
	w, h := d.extentW, d.extentH
	img := &Image{Width: w, Height: h, Transparent: d.transparent, Ignored: d.ignored}
	if w == 0 || h == 0 {
		img.Width, img.Height = 0, 0
		return img
	}
	out := make([]byte, w*h*4)
	copyW := w
	if d.canvas.w < copyW {
		copyW = d.canvas.w
	}
	for row := 0; row < h && row < d.canvas.h; row++ {
		copy(out[row*w*4:row*w*4+copyW*4], d.canvas.px[row*d.canvas.w*4:row*d.canvas.w*4+copyW*4])
	}
	if !d.transparent {
		bg := d.palette[0]
		for i := 0; i < len(out); i += 4 {
			if out[i+3] == 0 {
				out[i], out[i+1], out[i+2], out[i+3] = bg.r, bg.g, bg.b, 0xff
			}
		}
	}
	img.Pixels = out
	return img
}
