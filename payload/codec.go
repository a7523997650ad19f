// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: payload/codec.go
// Summary: Base64 and zlib decoding of graphics payload bytes.
// Usage: Called by the protocol parsers; pure functions, no state.
// Notes: Input is remote-controlled. Corrupt data must fail cleanly, never panic.

package payload

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/framegrace/texelgfx/protocol"
)

// DecodeBase64 decodes a standard base64 payload. Invalid alphabet or padding
// is rejected outright rather than silently truncated.
func DecodeBase64(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
	n, err := base64.StdEncoding.Decode(out, data)
	if err != nil {
		return nil, fmt.Errorf("payload: base64 decode: %v: %w", err, protocol.ErrEncoding)
	}
	return out[:n], nil
}

// Decompress inflates data according to scheme. CompressionNone is identity.
// limit bounds the inflated size (<=0 means no bound); a stream that would
// exceed it is refused, which keeps a hostile sender from ballooning memory
// with a tiny compressed payload.
func Decompress(data []byte, scheme protocol.Compression, limit int64) ([]byte, error) {
	switch scheme {
	case protocol.CompressionNone:
		return data, nil
	case protocol.CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("payload: zlib header: %v: %w", err, protocol.ErrDecompression)
		}
		defer r.Close()
		var src io.Reader = r
		if limit > 0 {
			src = io.LimitReader(r, limit+1)
		}
		out, err := io.ReadAll(src)
		if err != nil {
			return nil, fmt.Errorf("payload: zlib inflate: %v: %w", err, protocol.ErrDecompression)
		}
		if limit > 0 && int64(len(out)) > limit {
			return nil, fmt.Errorf("payload: inflated payload exceeds %d bytes: %w", limit, protocol.ErrDecompression)
		}
		return out, nil
	}
	return nil, fmt.Errorf("payload: unknown compression scheme %d: %w", scheme, protocol.ErrDecompression)
}
