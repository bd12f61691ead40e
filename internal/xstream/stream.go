// Package xstream implements the rstream/stream capability objects from
// spec §3/§4.1: read-only and duplex streams with a single await callback
// that fires exactly once, idempotent cancellation, and a family of
// wrappers (borrow, limit, chunked, concat) that compose over a shared base
// stream without copying data through extra buffers where avoidable.
//
// Unlike the C original, wrapper streams here never spin up a goroutine of
// their own: Read/Cancel/Await are pure reactive state transitions driven
// entirely by the base stream's callbacks, which is what lets an arbitrary
// stack of wrappers share one underlying connection safely. Only a true
// I/O source (see duvhttp, which adapts a net.Conn) needs a goroutine to
// turn blocking I/O into callbacks; everything in this package is
// goroutine-free by construction.
package xstream

import "github.com/emx-mail/mailcore/internal/errs"

// ReadCB is invoked exactly once per Read call, with n > 0 bytes read, a
// non-nil error (io.EOF included), or n == 0 and a nil error. Limit,
// Chunked and Borrow report end of stream the last way (EOF then reports
// true); Chunked also does so when a base read yielded no decoded bytes.
type ReadCB func(n int, err error)

// AwaitCB is invoked exactly once per stream, after EOF or cancellation,
// carrying the final error if any.
type AwaitCB func(err error)

// RStream is a read-only capability object. Read may be called again
// immediately after a callback fires (no outstanding-read limit is implied
// by the interface itself; wrappers that need at-most-one-in-flight enforce
// it internally).
type RStream interface {
	// Read requests up to len(buf) bytes; cb fires once with the result.
	Read(buf []byte, cb ReadCB)
	// Cancel is idempotent and safe at any time before Awaited.
	Cancel()
	// Await registers the (only) await callback for this stream's lifetime.
	Await(cb AwaitCB)
	EOF() bool
	Canceled() bool
	Awaited() bool
}

// Stream is a duplex capability object: read plus write.
type Stream interface {
	RStream
	Write(buf []byte, cb func(n int, err error))
}

// ErrCanceled is delivered to Await when Cancel preempted a pending read
// and no other error already applied.
var ErrCanceled = errs.New(errs.KindCanceled, "stream canceled")

// ErrResponseInvalid is used by wrappers (limit, chunked) to report a
// transport that ended somewhere other than a valid framing boundary.
var ErrResponseInvalid = errs.New(errs.KindResponse, "response-invalid: transport ended mid-frame")
