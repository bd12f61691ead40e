// Package httpwire implements an HTTP/1.1 status-line and header reader
// plus a re-entrant request marshaller (spec §4.2), both driven over a
// refillable buffer rather than net/http's blocking Reader — the wire
// format the rest of the module's callback engine needs.
package httpwire

import (
	"strconv"

	"github.com/emx-mail/mailcore/internal/dstr"
	"github.com/emx-mail/mailcore/internal/errs"
)

// Event is the result of one Reader.Read call.
type Event int

const (
	// NeedMoreData means the caller must append bytes to the buffer and
	// call Read again; the buffer may have been left-shifted.
	NeedMoreData Event = iota
	// HaveHeader means Header holds one freshly parsed field.
	HaveHeader
	// EndOfHeaders means the blank line terminating headers was found;
	// BodyOffset is the index into the buffer where the body begins.
	EndOfHeaders
)

// Header is one parsed header field. Key and Value are offset views into
// the reader's buffer and are only valid until the next left-shift.
type Header struct {
	Key   dstr.Off
	Value dstr.Off
}

type readerState int

const (
	stateStatusLine readerState = iota
	stateHeaders
	stateDone
)

// StatusLine holds the parsed response start-line.
type StatusLine struct {
	Version string
	Code    int
	Reason  string
}

// Reader parses a status line then headers from a buffer the caller
// refills incrementally. It never blocks: every call to Read returns
// immediately with one Event.
type Reader struct {
	buf   *dstr.Buf
	pos   int
	state readerState

	Status StatusLine
	cur    Header
}

// NewReader creates a Reader over buf. The caller owns buf and appends
// newly received bytes to it between Read calls.
func NewReader(buf *dstr.Buf) *Reader {
	return &Reader{buf: buf}
}

// BodyOffset is valid once EndOfHeaders has been returned.
func (r *Reader) BodyOffset() int { return r.pos }

// Header returns the most recently parsed header after a HaveHeader event.
func (r *Reader) Header() Header { return r.cur }

// Read advances the parse as far as the buffer allows, returning the
// result of at most one parsed element (one status line pass, one header,
// or end-of-headers). On NeedMoreData, it left-shifts the consumed prefix
// out of buf so the caller can append without unbounded growth.
func (r *Reader) Read() (Event, error) {
	switch r.state {
	case stateStatusLine:
		return r.readStatusLine()
	case stateHeaders:
		return r.readHeader()
	default:
		return EndOfHeaders, nil
	}
}

func (r *Reader) data() []byte { return r.buf.Bytes() }

// findCRLF returns the index of the first "\r\n" at or after from, or -1.
func findCRLF(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func (r *Reader) readStatusLine() (Event, error) {
	b := r.data()
	end := findCRLF(b, r.pos)
	if end < 0 {
		r.shiftAndWait()
		return NeedMoreData, nil
	}
	line := b[r.pos:end]
	sp1 := indexByte(line, ' ')
	if sp1 < 0 {
		return NeedMoreData, r.syntaxErr(b, r.pos, "missing version/status separator")
	}
	version := string(line[:sp1])
	rest := line[sp1+1:]
	sp2 := indexByte(rest, ' ')
	var codeStr, reason string
	if sp2 < 0 {
		codeStr = string(rest)
	} else {
		codeStr = string(rest[:sp2])
		reason = string(rest[sp2+1:])
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return NeedMoreData, r.syntaxErr(b, r.pos, "non-numeric status code")
	}
	r.Status = StatusLine{Version: version, Code: code, Reason: reason}
	r.pos = end + 2
	r.state = stateHeaders
	return r.readHeader()
}

func (r *Reader) readHeader() (Event, error) {
	b := r.data()
	end := findCRLF(b, r.pos)
	if end < 0 {
		r.shiftAndWait()
		return NeedMoreData, nil
	}
	if end == r.pos {
		// blank line: end of headers
		r.pos = end + 2
		r.state = stateDone
		return EndOfHeaders, nil
	}
	line := b[r.pos:end]
	colon := indexByte(line, ':')
	if colon < 0 {
		return NeedMoreData, r.syntaxErr(b, r.pos, "header missing colon")
	}
	keyStart := r.pos
	keyEnd := r.pos + colon
	valStart, valEnd := trimOWS(b, keyEnd+1, end)
	r.cur = Header{
		Key:   dstr.Off{Base: r.buf, Start: keyStart, Size: keyEnd - keyStart},
		Value: dstr.Off{Base: r.buf, Start: valStart, Size: valEnd - valStart},
	}
	r.pos = end + 2
	return HaveHeader, nil
}

// trimOWS trims optional whitespace (SP/HTAB) from both ends of b[from:to].
func trimOWS(b []byte, from, to int) (int, int) {
	for from < to && isOWS(b[from]) {
		from++
	}
	for to > from && isOWS(b[to-1]) {
		to--
	}
	return from, to
}

func isOWS(c byte) bool { return c == ' ' || c == '\t' }

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

// shiftAndWait left-shifts consumed bytes out of buf so an unbounded
// stream of partial reads doesn't grow the buffer forever; offsets already
// handed out via Header fields must not be referenced past this point.
func (r *Reader) shiftAndWait() {
	if r.pos == 0 {
		return
	}
	r.buf.LeftShift(r.pos)
	r.pos = 0
}

// syntaxErr renders up to ~80 bytes of context around the fault, per
// spec §4.2's error-message requirement.
func (r *Reader) syntaxErr(b []byte, at int, msg string) error {
	lo := at - 40
	if lo < 0 {
		lo = 0
	}
	hi := at + 40
	if hi > len(b) {
		hi = len(b)
	}
	return errs.Newf(errs.KindResponse, "%s: near %q", msg, string(b[lo:hi]))
}
