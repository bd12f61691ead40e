// Package xsync bridges the module's callback-driven streams and HTTP
// client onto blocking calls, for callers (the ACME state machine, the
// CLIs) that want a synchronous request/response shape on top of the
// async engine rather than threading continuations through every layer.
// It is a thin convenience, not a second I/O model: under the hood every
// call still goes through xstream's Read/Await contract and duvhttp's
// Do/onReady callback.
package xsync

import (
	"github.com/emx-mail/mailcore/internal/duvhttp"
	"github.com/emx-mail/mailcore/internal/xstream"
)

// ReadAll drains rs, blocking the calling goroutine until a Read callback
// carries an error, which it returns as is (io.EOF included), or until a
// zero-byte Read is followed by rs's Await firing, whose error it returns.
func ReadAll(rs xstream.RStream) ([]byte, error) {
	var out []byte
	done := make(chan error, 1)
	buf := make([]byte, 4096)
	var step func()
	step = func() {
		rs.Read(buf, func(n int, err error) {
			if n > 0 {
				out = append(out, buf[:n]...)
			}
			if err != nil {
				done <- err
				return
			}
			if n == 0 {
				rs.Await(func(awaitErr error) { done <- awaitErr })
				return
			}
			step()
		})
	}
	step()
	err := <-done
	return out, err
}

// Do runs req synchronously against c, returning once headers have
// arrived (or a transport error occurred).
func Do(c *duvhttp.Client, req *duvhttp.Request) error {
	done := make(chan error, 1)
	c.Do(req, func(err error) { done <- err })
	return <-done
}
