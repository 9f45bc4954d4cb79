// Copyright 2025 The Graphstore Authors
// This file is part of Graphstore.
//
// Graphstore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Graphstore is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Graphstore. If not, see <http://www.gnu.org/licenses/>.

package engine

import "fmt"

// ErrorKind tags every error surfaced across the Engine API with the
// kind from §7, so callers can apply the propagation policy ("recover
// per-transaction" vs. "panic the health monitor") without string
// matching.
type ErrorKind uint8

const (
	KindValidation ErrorKind = iota
	KindConstraint
	KindLockTimeout
	KindDeadlock
	KindUpgradeConflict
	KindStorageIO
	KindFormatMismatch
	KindApplyFailure
	KindConfigurationError
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindConstraint:
		return "Constraint"
	case KindLockTimeout:
		return "LockTimeout"
	case KindDeadlock:
		return "Deadlock"
	case KindUpgradeConflict:
		return "UpgradeConflict"
	case KindStorageIO:
		return "StorageIO"
	case KindFormatMismatch:
		return "FormatMismatch"
	case KindApplyFailure:
		return "ApplyFailure"
	case KindConfigurationError:
		return "ConfigurationError"
	default:
		return "Unknown"
	}
}

// Fatal reports whether this error kind is one of the fatal kinds of
// the §7 propagation policy. The Engine does not consult it: Healthy()
// turns false only when Apply fails with KindApplyFailure, and errors
// of the other fatal kinds are returned without changing Healthy().
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindStorageIO, KindFormatMismatch, KindApplyFailure, KindConfigurationError:
		return true
	default:
		return false
	}
}

// Error is the uniform error type returned across the Engine API.
type Error struct {
	Kind  ErrorKind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}
