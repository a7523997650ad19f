// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: graphics/cellbridge.go
// Summary: Pixel-to-cell conversion: nearest-pixel downsampling of an RGBA
//          region onto a cell grid with alpha blending over the existing
//          background.
// Notes: One sample per destination cell. Terminal cells are far coarser
//        than pixels, so no interpolation is promised or attempted.

package graphics

import (
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
)

const (
	DefaultCellWidthPx  = 8
	DefaultCellHeightPx = 16
)

// CellBridge carries the terminal's cell metrics, used to derive how many
// cells a pixel rectangle should cover.
type CellBridge struct {
	cellW, cellH int
}

func NewCellBridge(cellW, cellH int) *CellBridge {
	if cellW <= 0 {
		cellW = DefaultCellWidthPx
	}
	if cellH <= 0 {
		cellH = DefaultCellHeightPx
	}
	return &CellBridge{cellW: cellW, cellH: cellH}
}

// CellSize reports the configured pixel metrics of one cell.
func (b *CellBridge) CellSize() (w, h int) { return b.cellW, b.cellH }

// CellsFor converts a pixel extent to the covering cell extent.
func (b *CellBridge) CellsFor(pxW, pxH int) (cols, rows int) {
	if pxW <= 0 || pxH <= 0 {
		return 0, 0
	}
	return (pxW + b.cellW - 1) / b.cellW, (pxH + b.cellH - 1) / b.cellH
}

// RenderRegion samples an RGBA buffer down to one color per destination
// cell and blends each sample over the background the caller reports for
// that cell. Zero-alpha samples leave their cell untouched. The function is
// pure: same inputs, same grid, no hidden state.
func RenderRegion(pixels []byte, w, h, cols, rows int, bg BackgroundFn) *Grid {
	grid := NewGrid(cols, rows)
	if w <= 0 || h <= 0 || cols <= 0 || rows <= 0 || len(pixels) < w*h*4 {
		return grid
	}
	src := &image.NRGBA{Pix: pixels, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}
	sampled := toNRGBA(resize.Resize(uint(cols), uint(rows), src, resize.NearestNeighbor))

	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			i := row*sampled.Stride + col*4
			r, g, b, a := sampled.Pix[i], sampled.Pix[i+1], sampled.Pix[i+2], sampled.Pix[i+3]
			if a == 0 {
				continue
			}
			base := RGB{}
			if bg != nil {
				base = bg(col, row)
			}
			grid.set(col, row, blend(RGB{r, g, b}, base, a), a == 0xff)
		}
	}
	return grid
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.SetNRGBA(x, y, color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA))
		}
	}
	return out
}

// blend mixes foreground over background: fg*a + bg*(1-a) per channel,
// rounded to nearest and clamped.
func blend(fg, bg RGB, alpha uint8) RGB {
	if alpha == 0xff {
		return fg
	}
	a := float64(alpha) / 255
	mix := func(f, b uint8) uint8 {
		v := math.Round(float64(f)*a + float64(b)*(1-a))
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		return uint8(v)
	}
	return RGB{R: mix(fg.R, bg.R), G: mix(fg.G, bg.G), B: mix(fg.B, bg.B)}
}

// cropRGBA cuts a source window out of a pixel buffer, clipping it to the
// image bounds. Zero crop dimensions mean the whole image.
func cropRGBA(pixels []byte, w, h, cx, cy, cw, ch int) ([]byte, int, int) {
	if cw <= 0 || ch <= 0 {
		return pixels, w, h
	}
	x0, y0 := cx, cy
	if x0 < 0 {
		cw += x0
		x0 = 0
	}
	if y0 < 0 {
		ch += y0
		y0 = 0
	}
	x1, y1 := x0+cw, y0+ch
	if x1 > w {
		x1 = w
	}
	if y1 > h {
		y1 = h
	}
	if x0 >= x1 || y0 >= y1 {
		return nil, 0, 0
	}
	ow, oh := x1-x0, y1-y0
	out := make([]byte, ow*oh*4)
	for row := 0; row < oh; row++ {
		si := ((y0+row)*w + x0) * 4
		copy(out[row*ow*4:(row+1)*ow*4], pixels[si:si+ow*4])
	}
	return out, ow, oh
}

// padRGBA shifts a buffer right/down by a transparent margin, implementing
// the within-cell pixel offset of a placement.
func padRGBA(pixels []byte, w, h, padX, padY int) ([]byte, int, int) {
	if padX <= 0 && padY <= 0 {
		return pixels, w, h
	}
	if padX < 0 {
		padX = 0
	}
	if padY < 0 {
		padY = 0
	}
	ow, oh := w+padX, h+padY
	out := make([]byte, ow*oh*4)
	for row := 0; row < h; row++ {
		di := ((padY+row)*ow + padX) * 4
		copy(out[di:di+w*4], pixels[row*w*4:(row+1)*w*4])
	}
	return out, ow, oh
}
