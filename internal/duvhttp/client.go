// Package duvhttp implements the non-persistent HTTP/1.1 client (spec
// §4.3): one connection per origin, request queueing, connection reuse
// via an idle timer, and the layered body-stream pipeline
// (borrow/concat/limit/chunked) the ACME layer reads responses through.
// The name mirrors the C original's duv_http (duv = "dumb uv", its
// libuv wrapper); this package adapts the same design onto a net.Conn
// plus a private single-goroutine loop standing in for the reactor.
package duvhttp

import (
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emx-mail/mailcore/internal/dstr"
	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/httpwire"
	"github.com/emx-mail/mailcore/internal/metrics"
	"github.com/emx-mail/mailcore/internal/statuslog"
	"github.com/emx-mail/mailcore/internal/xstream"
)

// IdleTimeout is the design value from spec §4.3: an idle persistent
// connection is closed after this long with no new request.
const IdleTimeout = 3 * time.Second

// httpMem is the reusable per-host resource set (spec §3's http_mem):
// the one TCP(+TLS) connection currently bound to this client.
type httpMem struct {
	conn   *netStream
	scheme string
	host   string
	port   int
}

// Client is a per-host HTTP/1.1 client: one pending FIFO, one active
// request, one reused connection (spec §4.3).
type Client struct {
	l         *loop
	tlsConfig *tls.Config
	metrics   metrics.Collector
	log       statuslog.Sink

	mu        sync.Mutex
	mem       *httpMem
	pending   []*Request
	active    *Request
	closing   bool
	idleTimer *time.Timer
}

// Option configures a Client.
type Option func(*Client)

// WithTLSConfig overrides the default (nil, meaning crypto/tls defaults)
// TLS configuration used for https origins.
func WithTLSConfig(cfg *tls.Config) Option { return func(c *Client) { c.tlsConfig = cfg } }

// WithMetrics injects a metrics.Collector; the default is a no-op.
func WithMetrics(m metrics.Collector) Option { return func(c *Client) { c.metrics = m } }

// WithLog injects a statuslog.Sink; the default discards everything.
func WithLog(s statuslog.Sink) Option { return func(c *Client) { c.log = s } }

// NewClient returns an idle Client ready to accept requests via Do.
func NewClient(opts ...Option) *Client {
	c := &Client{
		l:       newLoop(),
		metrics: metrics.NoopCollector{},
		log:     statuslog.NoopSink,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do queues req and, if the client is idle, immediately begins serving
// it. onReady is invoked exactly once: with a non-nil error if the
// request could not be started or completed up through response
// headers, or with nil once req.Status/RespHeaders/BodyStream are
// populated.
func (c *Client) Do(req *Request, onReady func(error)) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.onReady = onReady
	req.client = c
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		onReady(xstream.ErrCanceled)
		return
	}
	c.pending = append(c.pending, req)
	c.mu.Unlock()
	c.l.post(c.advance)
}

// Close cancels every pending and active request, tears down the
// connection, stops the idle timer, and invokes cb once cleanup is
// queued (spec §4.3 step 1, spec §5's cancellation guarantees).
func (c *Client) Close(cb func()) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}
	c.closing = true
	pending := c.pending
	c.pending = nil
	mem := c.mem
	c.mem = nil
	c.mu.Unlock()

	c.stopIdleTimer()
	for _, p := range pending {
		if p.onReady != nil {
			p.onReady(xstream.ErrCanceled)
		}
	}
	if mem != nil {
		mem.conn.Cancel()
	}
	c.l.post(func() {
		c.l.stop()
		if cb != nil {
			cb()
		}
	})
}

// advance implements spec §4.3's per-tick logic: pop the next pending
// request once the client is idle and drive it to completion.
func (c *Client) advance() {
	c.mu.Lock()
	if c.closing || c.active != nil || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	req := c.pending[0]
	c.pending = c.pending[1:]
	c.active = req
	c.mu.Unlock()

	c.stopIdleTimer()
	c.metrics.HTTPRequestStarted(req.Host)
	c.ensureConn(req, func(err error) {
		if err != nil {
			c.failActive(req, err)
			return
		}
		c.sendRequest(req)
	})
}

// ensureConn compares req's scheme/host/port against the live connection
// and tears it down first if they differ or it is already dead
// (spec §4.3 step 3's need_conn_cleanup).
func (c *Client) ensureConn(req *Request, cb func(error)) {
	c.mu.Lock()
	mem := c.mem
	c.mu.Unlock()

	if mem != nil {
		if mem.scheme == req.Scheme && mem.host == req.Host && mem.port == req.Port &&
			!mem.conn.Canceled() && !mem.conn.Awaited() {
			c.metrics.HTTPConnectionReused(req.Host)
			cb(nil)
			return
		}
		mem.conn.Cancel()
		c.mu.Lock()
		c.mem = nil
		c.mu.Unlock()
	}

	addr := net.JoinHostPort(req.Host, strconv.Itoa(req.Port))
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			c.l.post(func() { cb(errs.Wrapf(errs.KindConn, err, "dial %s", addr)) })
			return
		}
		if req.Scheme == "https" {
			tlsConn := tls.Client(conn, c.tlsConfigFor(req.Host))
			if err := tlsConn.Handshake(); err != nil {
				_ = conn.Close()
				c.l.post(func() { cb(errs.Wrapf(errs.KindSSL, err, "tls handshake %s", addr)) })
				return
			}
			conn = tlsConn
		}
		ns := newNetStream(conn, c.l)
		c.l.post(func() {
			c.mu.Lock()
			c.mem = &httpMem{conn: ns, scheme: req.Scheme, host: req.Host, port: req.Port}
			c.mu.Unlock()
			cb(nil)
		})
	}()
}

func (c *Client) tlsConfigFor(host string) *tls.Config {
	if c.tlsConfig != nil {
		cfg := c.tlsConfig.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = host
		}
		return cfg
	}
	return &tls.Config{ServerName: host}
}

// sendRequest marshals req and streams it to the connection (spec §4.3
// step 4), auto-injecting Connection: TE / TE: trailers for non-HEAD
// requests.
func (c *Client) sendRequest(req *Request) {
	headers := append([]httpwire.HeaderField(nil), req.Headers...)
	if req.Method != "HEAD" {
		headers = append(headers, httpwire.HeaderField{Name: "Connection", Value: "TE"})
		headers = append(headers, httpwire.HeaderField{Name: "TE", Value: "trailers"})
	}
	m := httpwire.NewMarshaller(httpwire.Request{
		Method:  req.Method,
		Path:    req.Path,
		Query:   req.Query,
		Host:    req.Host,
		Headers: headers,
		Body:    req.Body,
	})
	buf := make([]byte, 4096)
	c.writeStep(req, m, buf)
}

func (c *Client) writeStep(req *Request, m *httpwire.Marshaller, buf []byte) {
	c.mu.Lock()
	mem := c.mem
	c.mu.Unlock()
	passed, _ := m.Fill(buf)
	if passed == 0 {
		c.startReadingHeaders(req)
		return
	}
	mem.conn.Write(buf[:passed], func(n int, err error) {
		if err != nil {
			c.failActive(req, errs.Wrap(errs.KindConn, err, "write request"))
			return
		}
		if m.Done() {
			c.startReadingHeaders(req)
			return
		}
		c.writeStep(req, m, buf)
	})
}

// startReadingHeaders drives the reader to end-of-headers (spec §4.3
// step 5), pumping the connection one chunk at a time.
func (c *Client) startReadingHeaders(req *Request) {
	buf := dstr.New(4096)
	reader := httpwire.NewReader(buf)
	chunk := make([]byte, 4096)

	var pump func()
	pump = func() {
		c.mu.Lock()
		mem := c.mem
		c.mu.Unlock()
		mem.conn.Read(chunk, func(n int, err error) {
			if n > 0 {
				if appendErr := buf.Append(chunk[:n]); appendErr != nil {
					c.failActive(req, appendErr)
					return
				}
				c.drainHeaderEvents(req, reader, buf, pump)
				return
			}
			if err != nil {
				c.failActive(req, errs.Wrap(errs.KindConn, err, "read response headers"))
				return
			}
			pump()
		})
	}
	pump()
}

func (c *Client) drainHeaderEvents(req *Request, reader *httpwire.Reader, buf *dstr.Buf, pump func()) {
	for {
		ev, err := reader.Read()
		if err != nil {
			c.failActive(req, err)
			return
		}
		switch ev {
		case httpwire.NeedMoreData:
			pump()
			return
		case httpwire.HaveHeader:
			h := reader.Header()
			req.RespHeaders = append(req.RespHeaders, httpwire.HeaderField{
				Name:  h.Key.Copy(),
				Value: h.Value.Copy(),
			})
		case httpwire.EndOfHeaders:
			req.Status = reader.Status.Code
			req.Reason = reader.Status.Reason
			leftover := append([]byte(nil), buf.Bytes()[reader.BodyOffset():]...)
			c.finishHeaders(req, leftover)
			return
		}
	}
}

// headerValues returns every response header value matching name
// (case-insensitive), preserving wire order.
func headerValues(req *Request, name string) []string {
	var out []string
	for _, h := range req.RespHeaders {
		if equalFold(h.Name, name) {
			out = append(out, strings.TrimSpace(h.Value))
		}
	}
	return out
}

func allEqual(vs []string) bool {
	for _, v := range vs[1:] {
		if v != vs[0] {
			return false
		}
	}
	return true
}

// finishHeaders validates framing headers, builds the body stream
// pipeline, and releases req to the caller (spec §4.3 steps 5-6).
func (c *Client) finishHeaders(req *Request, leftover []byte) {
	cls := headerValues(req, "Content-Length")
	tes := headerValues(req, "Transfer-Encoding")
	chunked := false
	for _, te := range tes {
		if strings.EqualFold(te, "chunked") {
			chunked = true
		}
	}
	if len(cls) > 0 && !allEqual(cls) {
		c.failActive(req, errs.New(errs.KindResponse, "conflicting Content-Length headers"))
		return
	}
	if len(cls) > 0 && chunked {
		c.failActive(req, errs.New(errs.KindResponse, "response has both Content-Length and chunked Transfer-Encoding"))
		return
	}

	zeroBody := req.Method == "HEAD" ||
		(req.Status >= 100 && req.Status < 200) ||
		req.Status == 204 || req.Status == 304

	var base xstream.RStream
	c.mu.Lock()
	mem := c.mem
	c.mu.Unlock()
	if len(leftover) > 0 {
		base = xstream.NewConcat(xstream.NewDBuf(leftover), mem.conn)
	} else {
		base = mem.conn
	}

	var bodyOuter xstream.RStream
	switch {
	case zeroBody:
		req.LengthType = LengthContentLength
		lim := xstream.NewLimit(base, 0)
		lim.SetDetachAwait(c.idleAwaitFor(mem))
		// A zero-length body never gets a Read call from the caller, so
		// nothing would otherwise trigger the limit's try-detach; force it
		// now so the body's Await fires immediately.
		lim.Read(nil, func(int, error) {})
		bodyOuter = lim
	case chunked:
		req.LengthType = LengthChunked
		ch := xstream.NewChunked(base)
		ch.SetDetachAwait(c.idleAwaitFor(mem))
		bodyOuter = ch
	case len(cls) > 0:
		n, err := strconv.Atoi(cls[0])
		if err != nil || n < 0 {
			c.failActive(req, errs.Newf(errs.KindResponse, "invalid Content-Length %q", cls[0]))
			return
		}
		req.LengthType = LengthContentLength
		lim := xstream.NewLimit(base, n)
		lim.SetDetachAwait(c.idleAwaitFor(mem))
		bodyOuter = lim
	default:
		req.LengthType = LengthUnknown
		bodyOuter = base
	}

	closeHeader := false
	for _, v := range headerValues(req, "Connection") {
		if strings.EqualFold(v, "close") {
			closeHeader = true
		}
	}
	keepAlive := !closeHeader && req.LengthType != LengthUnknown

	watcher := newBodyWatcher(bodyOuter, func(err error) {
		c.onBodyDone(req, mem, keepAlive, err)
	})
	req.BodyStream = watcher

	c.metrics.HTTPRequestCompleted(req.Host, req.Status)
	if req.onReady != nil {
		req.onReady(nil)
	}
}

// idleAwaitFor builds the callback Limit/Chunked reinstall on the
// connection once they detach cleanly; it only matters if the
// connection dies while idle, in which case the client forgets it.
func (c *Client) idleAwaitFor(mem *httpMem) xstream.AwaitCB {
	return func(err error) {
		if err == nil {
			return
		}
		c.mu.Lock()
		if c.mem == mem {
			c.mem = nil
		}
		c.mu.Unlock()
	}
}

// onBodyDone runs once the body stream's await fires (spec §4.3 step 7):
// either cancel the connection (close-delineated or advertised close) or
// arm the idle timer so the next request to this origin can reuse it.
func (c *Client) onBodyDone(req *Request, mem *httpMem, keepAlive bool, err error) {
	c.mu.Lock()
	c.active = nil
	stillCurrent := c.mem == mem
	c.mu.Unlock()

	if !keepAlive || err != nil || !stillCurrent {
		if stillCurrent {
			mem.conn.Cancel()
			c.mu.Lock()
			c.mem = nil
			c.mu.Unlock()
		}
	} else {
		c.armIdleTimer()
	}
	c.l.post(c.advance)
}

func (c *Client) armIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	mem := c.mem
	c.idleTimer = time.AfterFunc(IdleTimeout, func() {
		c.l.post(func() {
			c.mu.Lock()
			if c.mem == mem && mem != nil {
				c.mem = nil
				c.metrics.HTTPIdleTimeout(mem.host)
			}
			c.mu.Unlock()
			if mem != nil {
				mem.conn.Cancel()
			}
		})
	})
}

func (c *Client) stopIdleTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
}

// failActive finishes req with err and resumes the pending queue.
func (c *Client) failActive(req *Request, err error) {
	c.mu.Lock()
	c.active = nil
	mem := c.mem
	c.mem = nil
	c.mu.Unlock()
	if mem != nil {
		mem.conn.Cancel()
	}
	if req.onReady != nil {
		req.onReady(err)
	}
	c.l.post(c.advance)
}
