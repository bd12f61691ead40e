package httpwire

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// HeaderField is one request header, emitted in the order supplied to
// Request.Headers (reversed per spec §4.2's PAIR_CHAIN note: the last
// element of the slice lands closest to the start-line).
type HeaderField struct {
	Name  string
	Value string
}

// Request is the input to the marshaller: enough of an HTTP/1.1 request to
// generate the wire form deterministically.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Host    string
	Headers []HeaderField
	Body    []byte // nil for no body
}

// Marshaller emits a Request to the wire in a skip/passed/want accounting
// model (spec §4.2): each Fill call supplies an output buffer of some
// size; Fill emits as many bytes as fit, and on the next call skips bytes
// already emitted. Calling Fill repeatedly with buffers of any size,
// concatenating the outputs, is required to equal a single Fill call with
// an unbounded buffer (spec §8 property 2).
type Marshaller struct {
	wire []byte // the full request rendered once, lazily
	skip int
}

// NewMarshaller renders req into the full wire form up front; Fill then
// only needs to account for skip/passed/want over that fixed byte slice.
// This keeps the "re-entrant" contract (repeated partial Fill calls behave
// exactly like one full call) trivial to satisfy: the emission order is
// computed once and Fill is pure slicing.
func NewMarshaller(req Request) *Marshaller {
	return &Marshaller{wire: render(req)}
}

// Fill writes up to len(buf) unemitted bytes into buf, returning the
// number written and the number of bytes still wanted (0 once done).
func (m *Marshaller) Fill(buf []byte) (passed int, want int) {
	remain := m.wire[m.skip:]
	n := copy(buf, remain)
	m.skip += n
	want = len(remain) - n
	return n, want
}

// Done reports whether the entire request has been emitted.
func (m *Marshaller) Done() bool { return m.skip >= len(m.wire) }

func render(req Request) []byte {
	var b strings.Builder

	path := req.Path
	if path == "" {
		path = "/"
	}
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(path)
	if len(req.Query) > 0 {
		b.WriteByte('?')
		b.WriteString(formURLEncode(req.Query))
	}
	b.WriteString(" HTTP/1.1\r\n")

	b.WriteString("Host: ")
	b.WriteString(req.Host)
	b.WriteString("\r\n")

	if req.Body != nil {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(req.Body)))
		b.WriteString("\r\n")
	}

	// Headers chain in reverse: the last supplied header lands closest to
	// the start-line, matching HTTP_PAIR_CHAIN(prev, a, b, c) emitting c
	// first.
	for i := len(req.Headers) - 1; i >= 0; i-- {
		h := req.Headers[i]
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}

	b.WriteString("\r\n")
	if req.Body != nil {
		b.Write(req.Body)
	}
	return []byte(b.String())
}

// formURLEncode renders v per HTML5 form-urlencoding (space -> '+'), with
// keys sorted, as url.Values.Encode emits them (spec calls only for
// "&"-separated pairs, so sorted order is fine).
func formURLEncode(v url.Values) string {
	return v.Encode()
}
