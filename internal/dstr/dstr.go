// Package dstr provides the dynamic byte buffer and offset-view primitives
// that every parser and marshaller in this repository builds on: an owned
// or borrowed byte range, and a lightweight (start, end) view into a base
// buffer so parsers can hand back AST string nodes without copying until a
// deliberate copy is made.
//
// Go's slices already give us growth and sub-slicing, so Buf is a thin,
// explicit wrapper rather than a hand-rolled allocator: the point of the
// type is the "fixed" invariant (a buffer that must never reallocate) and
// the Off view type, not memory management Go already does for us.
package dstr

import "github.com/emx-mail/mailcore/internal/errs"

// Buf is an owned or borrowed byte range. A Buf obtained via Borrow shares
// the caller's backing array; appending to it may or may not reallocate
// depending on capacity, exactly like a plain Go slice — Buf's only added
// behavior is the Fixed flag, which forbids that reallocation.
type Buf struct {
	data  []byte
	fixed bool
}

// New wraps a freshly allocated, growable buffer with the given capacity
// hint.
func New(capHint int) *Buf {
	return &Buf{data: make([]byte, 0, capHint)}
}

// Fixed wraps a caller-supplied slice as a fixed-size buffer: Append past
// cap(buf) returns a KindFixedSize error rather than reallocating.
func Fixed(buf []byte) *Buf {
	return &Buf{data: buf[:0], fixed: true}
}

// Borrow wraps an existing slice (its full length counts as already
// written) without copying; the caller retains ownership of the backing
// array.
func Borrow(b []byte) *Buf {
	return &Buf{data: b}
}

// Bytes returns the written portion of the buffer.
func (b *Buf) Bytes() []byte { return b.data }

// Len is the number of bytes currently written.
func (b *Buf) Len() int { return len(b.data) }

// Cap is the buffer's capacity; for a Fixed buffer this is its ceiling.
func (b *Buf) Cap() int { return cap(b.data) }

// Append adds p to the buffer, growing it unless the buffer is Fixed and
// the append would exceed its capacity.
func (b *Buf) Append(p []byte) error {
	if b.fixed && len(b.data)+len(p) > cap(b.data) {
		return errs.Newf(errs.KindFixedSize,
			"fixed buffer overflow: have %d, need %d", cap(b.data), len(b.data)+len(p))
	}
	b.data = append(b.data, p...)
	return nil
}

// AppendByte is Append for a single byte.
func (b *Buf) AppendByte(c byte) error {
	return b.Append([]byte{c})
}

// AppendString is Append for a string, avoiding an intermediate []byte copy
// on the fixed-size fast path.
func (b *Buf) AppendString(s string) error {
	if b.fixed && len(b.data)+len(s) > cap(b.data) {
		return errs.Newf(errs.KindFixedSize,
			"fixed buffer overflow: have %d, need %d", cap(b.data), len(b.data)+len(s))
	}
	b.data = append(b.data, s...)
	return nil
}

// Reset truncates the buffer to zero length without releasing capacity.
func (b *Buf) Reset() { b.data = b.data[:0] }

// Truncate sets the buffer's length, discarding any data beyond n. It is
// the caller's responsibility that n <= Len().
func (b *Buf) Truncate(n int) { b.data = b.data[:n] }

// LeftShift discards the first n bytes, moving the remainder to the front.
// Used by the HTTP/IMAP readers after consuming a prefix of a refillable
// buffer so the next read reuses the freed space.
func (b *Buf) LeftShift(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}

// Off is a (start, len) view into a Buf's backing array, used by parsers so
// AST nodes can reference positions in the original input without copying.
// The base buffer's ownership remains with whoever constructed the Off.
type Off struct {
	Base  *Buf
	Start int
	Size  int
}

// Slice returns the byte range the view refers to.
func (o Off) Slice() []byte {
	if o.Base == nil {
		return nil
	}
	return o.Base.data[o.Start : o.Start+o.Size]
}

// Copy materializes the view into an independent, owned string, the
// "deliberate copy" the AST makes when a token must outlive its base
// buffer.
func (o Off) Copy() string {
	return string(o.Slice())
}
