// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: kitty/controldata.go
// Summary: Tokenizer for the comma-separated key=value control segment.
// Usage: Consumed by the chunk parser; also usable standalone for tests.
// Notes: Known keys are type-checked hard; unknown keys ride along in a side
//        map so sequences from newer clients stay parseable.

package kitty

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/framegrace/texelgfx/protocol"
)

// deleteSpecifiers are the accepted values of the d key on a=d. Uppercase
// variants also drop the image data once its placements are gone.
const deleteSpecifiers = "aAiIpPcCzZ"

// ParseControlData decodes one control segment into a typed record.
// Key meanings are action-scoped: on a=f, s/v are the frame rect size, r is
// the frame to edit and z is the frame gap in milliseconds; on a=a, s is the
// playback state, v the loop count and r the frame to jump to; everywhere
// else they keep their transmit/display meanings.
//
// Parsing is pure and idempotent: the same segment always yields the same
// record and warning list. A malformed known key fails hard; unknown keys
// land in Unknown untouched.
func ParseControlData(segment []byte) (*protocol.ControlData, []string, error) {
	cd := &protocol.ControlData{
		Action: protocol.ActionTransmit,
		Format: protocol.FormatRGBA32,
		Medium: protocol.TransmitDirect,
	}
	var warnings []string

	s := string(segment)
	if strings.TrimSpace(s) == "" {
		return cd, warnings, nil
	}

	for _, token := range strings.Split(s, ",") {
		if token == "" {
			warnings = append(warnings, "empty control token skipped")
			continue
		}
		key, value, _ := strings.Cut(token, "=")
		if err := applyKey(cd, key, value, &warnings); err != nil {
			return nil, warnings, err
		}
	}
	return cd, warnings, nil
}

func applyKey(cd *protocol.ControlData, key, value string, warnings *[]string) error {
	switch key {
	case "a":
		action, err := parseAction(value)
		if err != nil {
			return err
		}
		cd.Action = action
	case "f":
		format, err := parseFormat(value)
		if err != nil {
			return err
		}
		cd.Format = format
	case "o":
		switch value {
		case "z":
			cd.Compression = protocol.CompressionZlib
		case "":
			return badKey(key, value, "compression scheme required")
		default:
			return badKey(key, value, "unknown compression scheme")
		}
	case "t":
		switch value {
		case "d":
			cd.Medium = protocol.TransmitDirect
		case "f":
			cd.Medium = protocol.TransmitFile
		case "t":
			cd.Medium = protocol.TransmitTempFile
		case "s":
			cd.Medium = protocol.TransmitSharedMem
		default:
			return badKey(key, value, "unknown transmission medium")
		}
	case "i":
		n, err := parseUint32(key, value)
		if err != nil {
			return err
		}
		cd.ImageID = n
	case "p":
		n, err := parseUint32(key, value)
		if err != nil {
			return err
		}
		cd.PlacementID = n
	case "s", "v", "x", "y", "X", "Y", "w", "h", "c", "r", "q":
		n, err := parseInt(key, value)
		if err != nil {
			return err
		}
		switch key {
		case "s":
			cd.Width = n
		case "v":
			cd.Height = n
		case "x":
			cd.OffsetX = n
		case "y":
			cd.OffsetY = n
		case "X":
			cd.CellOffsetX = n
		case "Y":
			cd.CellOffsetY = n
		case "w":
			cd.CropW = n
		case "h":
			cd.CropH = n
		case "c":
			cd.Columns = n
		case "r":
			cd.Rows = n
		case "q":
			if n < 0 {
				return badKey(key, value, "quiet level must be non-negative")
			}
			if n > protocol.QuietAll {
				*warnings = append(*warnings, fmt.Sprintf("quiet level %d clamped to 2", n))
				n = protocol.QuietAll
			}
			cd.Quiet = n
		}
	case "z":
		n, err := parseInt(key, value)
		if err != nil {
			return err
		}
		cd.ZIndex = int32(n)
	case "m":
		n, err := parseInt(key, value)
		if err != nil {
			return err
		}
		cd.More = n != 0
	case "d":
		if len(value) != 1 || !strings.ContainsRune(deleteSpecifiers, rune(value[0])) {
			return badKey(key, value, "unknown delete specifier")
		}
		cd.Delete = value[0]
	default:
		if cd.Unknown == nil {
			cd.Unknown = make(map[string]string)
		}
		cd.Unknown[key] = value
	}
	return nil
}

func parseAction(value string) (protocol.Action, error) {
	switch value {
	case "t":
		return protocol.ActionTransmit, nil
	case "T":
		return protocol.ActionTransmitDisplay, nil
	case "p":
		return protocol.ActionDisplay, nil
	case "d":
		return protocol.ActionDelete, nil
	case "q":
		return protocol.ActionQuery, nil
	case "f":
		return protocol.ActionFrame, nil
	case "a":
		return protocol.ActionAnimate, nil
	}
	return protocol.ActionNone, badKey("a", value, "unknown action")
}

func parseFormat(value string) (protocol.Format, error) {
	switch value {
	case "24":
		return protocol.FormatRGB24, nil
	case "32":
		return protocol.FormatRGBA32, nil
	case "100":
		return protocol.FormatPNG, nil
	}
	return protocol.FormatUnknown, badKey("f", value, "unknown format")
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, badKey(key, value, "integer required")
	}
	return n, nil
}

func parseUint32(key, value string) (uint32, error) {
	n, err := strconv.ParseUint(value, 10, 32)
	if err != nil {
		return 0, badKey(key, value, "non-negative id required")
	}
	return uint32(n), nil
}

func badKey(key, value, why string) error {
	return fmt.Errorf("kitty: key %q value %q: %s: %w", key, value, why, protocol.ErrControlData)
}

// isContinuationShape reports whether a control record could only be a
// continuation chunk: nothing set except the more/quiet flags. Used to catch
// out-of-order chunks that arrive with no transfer in flight.
func isContinuationShape(segment []byte) bool {
	s := strings.TrimSpace(string(segment))
	if s == "" {
		return true
	}
	for _, token := range strings.Split(s, ",") {
		if token == "" {
			continue
		}
		key, _, _ := strings.Cut(token, "=")
		if key != "m" && key != "q" {
			return false
		}
	}
	return true
}
