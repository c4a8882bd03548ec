// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package finalize

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why a finalize-store operation failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindMappingAlreadyExists
	KindMappingNotInitialized
	KindKeyAlreadyExists
	KindKeyNotFound
	KindProgramNotFound
	KindInconsistentState
	KindEncodingError
	KindBackendError
)

func (k Kind) String() string {
	switch k {
	case KindMappingAlreadyExists:
		return "MappingAlreadyExists"
	case KindMappingNotInitialized:
		return "MappingNotInitialized"
	case KindKeyAlreadyExists:
		return "KeyAlreadyExists"
	case KindKeyNotFound:
		return "KeyNotFound"
	case KindProgramNotFound:
		return "ProgramNotFound"
	case KindInconsistentState:
		return "InconsistentState"
	case KindEncodingError:
		return "EncodingError"
	case KindBackendError:
		return "BackendError"
	default:
		return "Unknown"
	}
}

// Error wraps an operation failure with the Kind a caller needs to decide
// how to react, and the underlying cause (carrying a stack trace via
// github.com/pkg/errors, mirroring the anyhow context chains the original
// implementation builds).
type Error struct {
	Kind Kind
	Op   string
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("finalize: %s: %s: %v", e.Op, e.Kind, e.err)
}

func (e *Error) Unwrap() error { return e.err }

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, err: errors.Errorf(format, args...)}
}

func wrapError(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, err: errors.Wrapf(cause, format, args...)}
}
