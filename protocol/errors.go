// Copyright © 2025 Texelation contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
//
// File: protocol/errors.go
// Summary: Error taxonomy shared by the parsers, the store and the engine.
// Usage: Wrap the sentinels with fmt.Errorf("...: %w", ...); match with errors.Is.

package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for every recoverable failure class. All of them are
// single-command failures: none may corrupt the image store or abort
// unrelated commands.
var (
	ErrEncoding          = errors.New("protocol: invalid base64 payload")
	ErrDecompression     = errors.New("protocol: corrupt compressed payload")
	ErrControlData       = errors.New("protocol: malformed control data")
	ErrSizeMismatch      = errors.New("protocol: payload size does not match declared dimensions")
	ErrImageNotFound     = errors.New("protocol: image not found")
	ErrPlacementNotFound = errors.New("protocol: placement not found")
	ErrQuotaExceeded     = errors.New("protocol: image does not fit in store quota")
	ErrStreamTimeout     = errors.New("protocol: chunked transfer exceeded bounds")
	ErrUnsupported       = errors.New("protocol: unsupported transmission medium")
)

// ErrorCode is the errno-style string embedded in wire responses.
type ErrorCode string

const (
	CodeBadEncoding  ErrorCode = "EBASE64"
	CodeBadDeflate   ErrorCode = "EZLIB"
	CodeBadControl   ErrorCode = "EINVAL"
	CodeSizeMismatch ErrorCode = "ESIZE"
	CodeNotFound     ErrorCode = "ENOENT"
	CodeQuota        ErrorCode = "EFBIG"
	CodeTimeout      ErrorCode = "ETIMEDOUT"
	CodeUnsupported  ErrorCode = "ENOTSUP"
	CodeInternal     ErrorCode = "EINTERNAL"
)

// CodeFor maps an error chain onto its wire code. Unknown errors report as
// EINTERNAL; they should be rare and indicate an engine bug, not bad input.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrEncoding):
		return CodeBadEncoding
	case errors.Is(err, ErrDecompression):
		return CodeBadDeflate
	case errors.Is(err, ErrControlData):
		return CodeBadControl
	case errors.Is(err, ErrSizeMismatch):
		return CodeSizeMismatch
	case errors.Is(err, ErrImageNotFound), errors.Is(err, ErrPlacementNotFound):
		return CodeNotFound
	case errors.Is(err, ErrQuotaExceeded):
		return CodeQuota
	case errors.Is(err, ErrStreamTimeout):
		return CodeTimeout
	case errors.Is(err, ErrUnsupported):
		return CodeUnsupported
	}
	return CodeInternal
}

// EngineError is the structured failure surfaced to the host: a stable code
// for the wire plus a human-readable reason for the diagnostic channel.
type EngineError struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return string(e.Code)
}

func (e *EngineError) Unwrap() error { return e.Err }

// WrapEngineError builds an EngineError from any error, deriving the code
// from the sentinel taxonomy.
func WrapEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return &EngineError{Code: CodeFor(err), Reason: err.Error(), Err: err}
}
