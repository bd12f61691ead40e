package duvhttp

import (
	"io"
	"net"
	"sync"

	"github.com/emx-mail/mailcore/internal/xstream"
)

// loop serializes every callback this package invokes onto one goroutine,
// the Go stand-in for the "single event-loop thread per engine" the C
// original gets from libuv (spec §5). netStream is the one true I/O
// source in this module (xstream's wrappers are goroutine-free by
// construction, per that package's doc comment): each Read/Write spawns a
// worker goroutine to perform the blocking net.Conn call, then posts the
// result back onto the loop so callbacks never race each other.
type loop struct {
	tasks chan func()
	once  sync.Once
	done  chan struct{}
}

func newLoop() *loop {
	l := &loop{tasks: make(chan func(), 64), done: make(chan struct{})}
	go l.run()
	return l
}

func (l *loop) run() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.done:
			return
		}
	}
}

func (l *loop) post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.done) })
}

// netStream adapts a net.Conn into an xstream.Stream. It is the base of
// every wrapper stack a Client builds (borrow, limit, chunked, concat).
type netStream struct {
	conn net.Conn
	l    *loop

	mu        sync.Mutex
	canceled  bool
	eof       bool
	awaited   bool
	awaitCB   xstream.AwaitCB
	err       error
	closeOnce sync.Once
}

func newNetStream(conn net.Conn, l *loop) *netStream {
	return &netStream{conn: conn, l: l}
}

func (n *netStream) Read(buf []byte, cb xstream.ReadCB) {
	n.mu.Lock()
	if n.canceled {
		n.mu.Unlock()
		cb(0, xstream.ErrCanceled)
		return
	}
	if n.eof {
		n.mu.Unlock()
		cb(0, nil)
		return
	}
	n.mu.Unlock()
	go func() {
		nr, err := n.conn.Read(buf)
		n.l.post(func() {
			if err != nil {
				n.finish(err)
			}
			cb(nr, err)
		})
	}()
}

func (n *netStream) Write(buf []byte, cb func(int, error)) {
	n.mu.Lock()
	if n.canceled {
		n.mu.Unlock()
		cb(0, xstream.ErrCanceled)
		return
	}
	n.mu.Unlock()
	go func() {
		nw, err := n.conn.Write(buf)
		n.l.post(func() {
			if err != nil {
				n.finish(err)
			}
			cb(nw, err)
		})
	}()
}

func (n *netStream) Cancel() {
	n.mu.Lock()
	if n.canceled || n.awaited {
		n.mu.Unlock()
		return
	}
	n.canceled = true
	n.mu.Unlock()
	n.closeOnce.Do(func() { _ = n.conn.Close() })
	n.finish(xstream.ErrCanceled)
}

func (n *netStream) Await(cb xstream.AwaitCB) {
	n.mu.Lock()
	n.awaitCB = cb
	already := n.awaited
	err := n.err
	n.mu.Unlock()
	if already {
		cb(err)
	}
}

func (n *netStream) EOF() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.eof
}
func (n *netStream) Canceled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.canceled
}
func (n *netStream) Awaited() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.awaited
}

// finish records the stream's terminal error (io.EOF normalizes to a
// non-error close) and fires the await callback exactly once.
func (n *netStream) finish(err error) {
	n.mu.Lock()
	if n.awaited {
		n.mu.Unlock()
		return
	}
	if err == io.EOF {
		n.eof = true
		err = nil
	}
	n.err = err
	n.awaited = true
	cb := n.awaitCB
	n.mu.Unlock()
	n.closeOnce.Do(func() { _ = n.conn.Close() })
	if cb != nil {
		cb(err)
	}
}
