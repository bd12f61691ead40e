package xstream

import (
	"bytes"
	"strconv"
)

type chunkedState int

const (
	chunkedSize chunkedState = iota
	chunkedSizeCR
	chunkedData
	chunkedDataCR
	chunkedDataLF
	chunkedTrailer
	chunkedDone
)

// Chunked decodes an RFC 7230 §4.1 chunked transfer-coded body read from
// base, exposing the decoded octets through Read and swallowing chunk-size
// lines, chunk-data CRLFs, and trailer headers. Trailer header lines are
// accumulated and made available via Trailers after Await fires.
//
// Chunked is a re-entrant scanner: Read may be handed as few as 1 byte of
// base data at a time (spec §8 property 4) and still produce the correct
// decoded stream, because all scan position is held in the struct rather
// than a call stack.
type Chunked struct {
	base     RStream
	state    chunkedState
	sizeBuf  []byte
	remain   int
	trailers [][]byte
	line     []byte

	canceled  bool
	awaited   bool
	awaitCB   AwaitCB
	err       error
	done      bool
	detached  bool
	origAwait AwaitCB

	pending []byte // decoded bytes not yet delivered to caller
}

// SetDetachAwait registers the await callback to reinstall on base once
// the chunked body ends cleanly (a terminating zero-size chunk, trailers
// consumed), letting the underlying connection be reused by the next
// request (spec §4.1's "on success try_detach hands back the base").
func (c *Chunked) SetDetachAwait(cb AwaitCB) { c.origAwait = cb }

func (c *Chunked) tryDetach() {
	if c.detached {
		return
	}
	c.detached = true
	if c.origAwait != nil {
		c.base.Await(c.origAwait)
	}
}

// NewChunked wraps base, decoding its chunked framing.
func NewChunked(base RStream) *Chunked {
	c := &Chunked{base: base}
	base.Await(c.onBaseAwait)
	return c
}

func (c *Chunked) Read(buf []byte, cb ReadCB) {
	if c.canceled {
		cb(0, ErrCanceled)
		return
	}
	if len(c.pending) > 0 {
		n := copy(buf, c.pending)
		c.pending = c.pending[n:]
		cb(n, nil)
		return
	}
	if c.done {
		cb(0, nil)
		return
	}
	raw := make([]byte, len(buf))
	if len(raw) == 0 {
		raw = make([]byte, 1)
	}
	c.base.Read(raw, func(n int, err error) {
		if n > 0 {
			if scanErr := c.scan(raw[:n]); scanErr != nil {
				c.fail(scanErr)
				cb(0, scanErr)
				return
			}
			if c.state == chunkedDone {
				c.done = true
				c.tryDetach()
			}
		}
		if err != nil {
			// Base ended; valid only if we were sitting exactly at chunkedDone.
			if c.state != chunkedDone {
				c.fail(ErrResponseInvalid)
				cb(0, ErrResponseInvalid)
				return
			}
		}
		if len(c.pending) > 0 {
			m := copy(buf, c.pending)
			c.pending = c.pending[m:]
			cb(m, nil)
			return
		}
		if c.done {
			cb(0, nil)
			return
		}
		// No decoded bytes yet (e.g. we only consumed a size line); ask
		// again immediately by reporting zero progress without an error so
		// callers that loop on n==0,err==nil treat it as "try again".
		cb(0, nil)
	})
}

// scan advances the chunked state machine over newly arrived base bytes,
// appending any decoded payload bytes to c.pending.
func (c *Chunked) scan(in []byte) error {
	for _, b := range in {
		switch c.state {
		case chunkedSize:
			if b == '\r' {
				c.state = chunkedSizeCR
				continue
			}
			if b == ';' {
				// chunk extension: consume rest of line verbatim until CRLF
				c.state = chunkedSizeCR
				continue
			}
			c.sizeBuf = append(c.sizeBuf, b)
		case chunkedSizeCR:
			if b != '\n' {
				// extension bytes before CR; stay tolerant, just keep
				// waiting for LF (already in CR state means we saw \r or ;)
				continue
			}
			size, err := parseChunkSize(c.sizeBuf)
			if err != nil {
				return err
			}
			c.sizeBuf = c.sizeBuf[:0]
			if size == 0 {
				c.state = chunkedTrailer
				c.line = c.line[:0]
			} else {
				c.remain = size
				c.state = chunkedData
			}
		case chunkedData:
			c.pending = append(c.pending, b)
			c.remain--
			if c.remain == 0 {
				c.state = chunkedDataCR
			}
		case chunkedDataCR:
			if b != '\r' {
				return ErrResponseInvalid
			}
			c.state = chunkedDataLF
		case chunkedDataLF:
			if b != '\n' {
				return ErrResponseInvalid
			}
			c.state = chunkedSize
		case chunkedTrailer:
			if b == '\n' {
				line := bytes.TrimSuffix(c.line, []byte{'\r'})
				c.line = nil
				if len(line) == 0 {
					c.state = chunkedDone
				} else {
					c.trailers = append(c.trailers, line)
					c.line = []byte{}
				}
				continue
			}
			c.line = append(c.line, b)
		case chunkedDone:
			return ErrResponseInvalid
		}
	}
	return nil
}

func parseChunkSize(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, ErrResponseInvalid
	}
	n, err := strconv.ParseInt(string(b), 16, 64)
	if err != nil || n < 0 {
		return 0, ErrResponseInvalid
	}
	return int(n), nil
}

// Trailers returns the decoded trailer header lines once Await has fired.
func (c *Chunked) Trailers() [][]byte { return c.trailers }

func (c *Chunked) Cancel() {
	if c.canceled || c.awaited {
		return
	}
	c.canceled = true
	if !c.detached {
		c.base.Cancel()
	}
}

func (c *Chunked) Await(cb AwaitCB) {
	c.awaitCB = cb
	if c.done || c.err != nil {
		c.fire()
	}
}

func (c *Chunked) EOF() bool      { return c.done && len(c.pending) == 0 }
func (c *Chunked) Canceled() bool { return c.canceled }
func (c *Chunked) Awaited() bool  { return c.awaited }

func (c *Chunked) onBaseAwait(err error) {
	if c.detached {
		// Base already handed back to the next consumer; not our error.
		return
	}
	if err != nil {
		c.fail(err)
		return
	}
	if c.state != chunkedDone {
		c.fail(ErrResponseInvalid)
		return
	}
	c.done = true
	c.fire()
}

func (c *Chunked) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.done = true
	c.fire()
}

func (c *Chunked) fire() {
	if c.awaited || c.awaitCB == nil {
		return
	}
	c.awaited = true
	c.awaitCB(c.err)
}
