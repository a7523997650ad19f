// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: payload/pixels.go
// Summary: Pixel assembly: raw format validation, RGB expansion, PNG plug.

package payload

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/framegrace/texelgfx/protocol"
)

// PNGDecoder turns an encoded PNG into straight-alpha RGBA bytes. Hosts can
// swap in their own decoder; the engine only ever sees the RGBA result.
type PNGDecoder func(data []byte) (pixels []byte, width, height int, err error)

// DecodePNG is the default PNGDecoder, backed by the standard library.
func DecodePNG(data []byte) ([]byte, int, int, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("payload: png decode: %v: %w", err, protocol.ErrEncoding)
	}
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	if nrgba.Stride == b.Dx()*4 {
		return nrgba.Pix, b.Dx(), b.Dy(), nil
	}
	// Repack rows when the decoder left padding in the stride.
	out := make([]byte, b.Dx()*b.Dy()*4)
	for y := 0; y < b.Dy(); y++ {
		copy(out[y*b.Dx()*4:], nrgba.Pix[y*nrgba.Stride:y*nrgba.Stride+b.Dx()*4])
	}
	return out, b.Dx(), b.Dy(), nil
}

// ExpandRGB widens packed RGB bytes to RGBA with full alpha.
func ExpandRGB(rgb []byte) []byte {
	out := make([]byte, len(rgb)/3*4)
	for i, j := 0, 0; i+2 < len(rgb); i, j = i+3, j+4 {
		out[j+0] = rgb[i+0]
		out[j+1] = rgb[i+1]
		out[j+2] = rgb[i+2]
		out[j+3] = 0xFF
	}
	return out
}

// AssembleRGBA turns a decoded (uncompressed) payload into RGBA pixels.
// Raw formats require declared dimensions and the byte count must match them
// exactly; a mismatch refuses the whole payload rather than truncating.
// PNG dimensions come from the container via dec (nil uses DecodePNG).
func AssembleRGBA(data []byte, format protocol.Format, width, height int, dec PNGDecoder) ([]byte, int, int, error) {
	switch format {
	case protocol.FormatPNG:
		if dec == nil {
			dec = DecodePNG
		}
		return dec(data)
	case protocol.FormatRGB24, protocol.FormatRGBA32:
		if width <= 0 || height <= 0 {
			return nil, 0, 0, fmt.Errorf("payload: %s requires s and v dimensions: %w", format, protocol.ErrControlData)
		}
		want := width * height * format.BytesPerPixel()
		if len(data) != want {
			return nil, 0, 0, fmt.Errorf("payload: %s %dx%d wants %d bytes, have %d: %w",
				format, width, height, want, len(data), protocol.ErrSizeMismatch)
		}
		if format == protocol.FormatRGB24 {
			return ExpandRGB(data), width, height, nil
		}
		out := make([]byte, len(data))
		copy(out, data)
		return out, width, height, nil
	}
	return nil, 0, 0, fmt.Errorf("payload: cannot assemble pixels for format %d: %w", format, protocol.ErrControlData)
}
