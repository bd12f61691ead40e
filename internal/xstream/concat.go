package xstream

import "io"

var ioEOF = io.EOF

// Concat reads head to completion before falling through to tail. It
// grounds the "initial body" case from spec §4.1: a header reader may
// accidentally consume a few bytes of body while scanning for the
// end-of-headers marker, and those bytes (wrapped in a DBuf) need to be
// replayed ahead of the live connection stream without copying the
// connection's bytes into the same buffer.
type Concat struct {
	head RStream
	tail RStream
	onTail bool

	canceled bool
	awaited  bool
	awaitCB  AwaitCB
	err      error
}

// NewConcat reads head first, then tail.
func NewConcat(head, tail RStream) *Concat {
	c := &Concat{head: head, tail: tail}
	head.Await(c.onHeadAwait)
	return c
}

func (c *Concat) Read(buf []byte, cb ReadCB) {
	if c.canceled {
		cb(0, ErrCanceled)
		return
	}
	if !c.onTail {
		if c.head.EOF() {
			c.switchToTail()
			c.Read(buf, cb)
			return
		}
		c.head.Read(buf, func(n int, err error) {
			if n > 0 {
				cb(n, nil)
				return
			}
			if err != nil && err != ioEOF {
				cb(0, err)
				return
			}
			c.switchToTail()
			c.Read(buf, cb)
		})
		return
	}
	c.tail.Read(buf, cb)
}

func (c *Concat) switchToTail() {
	if c.onTail {
		return
	}
	c.onTail = true
	c.tail.Await(c.onTailAwait)
}

func (c *Concat) Cancel() {
	if c.canceled || c.awaited {
		return
	}
	c.canceled = true
	if c.onTail {
		c.tail.Cancel()
	} else {
		c.head.Cancel()
	}
}

func (c *Concat) Await(cb AwaitCB) {
	c.awaitCB = cb
	if c.awaited {
		return
	}
	if c.onTail && c.tail.Awaited() {
		c.fire(c.err)
	}
}

func (c *Concat) EOF() bool      { return c.onTail && c.tail.EOF() }
func (c *Concat) Canceled() bool { return c.canceled }
func (c *Concat) Awaited() bool  { return c.awaited }

func (c *Concat) onHeadAwait(err error) {
	if err != nil {
		c.err = err
		c.fire(err)
		return
	}
	c.switchToTail()
}

func (c *Concat) onTailAwait(err error) {
	c.err = err
	c.fire(err)
}

func (c *Concat) fire(err error) {
	if c.awaited || c.awaitCB == nil {
		return
	}
	c.awaited = true
	c.awaitCB(err)
}
