// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package errs defines the error taxonomy shared by the bicluster engine
// and its external collaborators (gemstore, rank, gem).
package errs

import "fmt"

// Kind classifies an Error and determines how callers react to it.
type Kind int

const (
	// Other is the zero value; avoid constructing errors with it.
	Other Kind = iota
	// InvalidArgument marks a programming bug: universe mismatch, oversize
	// dimension, duplicate element in an ordered set constructor.
	InvalidArgument
	// PreconditionViolation marks a programming bug: chaining without
	// prior indexing, a chain() call with a mismatched link element.
	PreconditionViolation
	// Corruption marks a persistent store whose row arrays disagree in
	// length, or whose bitsets have non-zero tail bits, or whose checksum
	// does not match its contents.
	Corruption
	// NotFound marks a query for a width that has no group. It is not an
	// error at a cache lookup; see widthcache.
	NotFound
	// Cancelled marks a cooperative cancel observed at a chain-outer-loop
	// boundary.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case PreconditionViolation:
		return "PreconditionViolation"
	case Corruption:
		return "Corruption"
	case NotFound:
		return "NotFound"
	case Cancelled:
		return "Cancelled"
	default:
		return "Other"
	}
}

// Error is the concrete error type raised by this module's packages.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "bitset.Union", "pool.Append"
	Err  error  // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap constructs an *Error wrapping cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
