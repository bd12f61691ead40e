// Package acme implements the RFC 8555 ACME client state machine (spec
// §4.6): directory fetch, nonce management, new-account, new-order,
// get-order, list-orders (with Link-header paging), get-authz, challenge,
// and finalize. Each public operation is the resumption point the C
// original calls advance_state: it re-derives what to do next (fetch a
// directory, fetch a nonce, send, retry on bad-nonce) from the Client's
// own cached state every time it's invoked, exactly as spec §4.6
// describes, just expressed as Go closures chained through duvhttp's
// callback-style Do instead of a single re-entrant function pointer.
//
// A Client holds at most one operation in flight at a time (spec §5's
// shared-resource policy); callers that need overlap use multiple
// Clients over the same duvhttp.Client, which queues them.
package acme

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/emx-mail/mailcore/internal/duvhttp"
	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/jws"
	"github.com/emx-mail/mailcore/internal/metrics"
	"github.com/emx-mail/mailcore/internal/statuslog"
	"github.com/emx-mail/mailcore/internal/weblink"
)

// LetsEncrypt is the default production directory URL (spec §6).
const LetsEncrypt = "https://acme-v02.api.letsencrypt.org/directory"

// Account is (key, kid, orders-collection-url) (spec §3's acme_account_t).
type Account struct {
	Key    jws.Key
	KID    string
	Orders string
}

// directoryDoc is the subset of RFC 8555 §7.1.1's directory object this
// client needs.
type directoryDoc struct {
	NewNonce        string
	NewAccount      string
	NewOrder        string
	RevokeCert      string
	KeyChange       string
	TermsOfService  string
}

// Client is one ACME session against one directory over one duvhttp
// client (spec §3's acme_t). It caches the directory document and the
// most recent Replay-Nonce, and serializes operations one at a time.
type Client struct {
	http      *duvhttp.Client
	directory string
	metrics   metrics.Collector
	log       statuslog.Sink

	mu      sync.Mutex
	dir     *directoryDoc
	nonce   string
	pending []func()
	running bool
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics injects a metrics.Collector; the default is a no-op.
func WithMetrics(m metrics.Collector) Option { return func(c *Client) { c.metrics = m } }

// WithLog injects a statuslog.Sink; the default discards everything.
func WithLog(s statuslog.Sink) Option { return func(c *Client) { c.log = s } }

// NewClient returns a Client that will fetch directoryURL lazily on its
// first operation.
func NewClient(http *duvhttp.Client, directoryURL string, opts ...Option) *Client {
	c := &Client{
		http:      http,
		directory: directoryURL,
		metrics:   metrics.NoopCollector{},
		log:       statuslog.NoopSink,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Close drops every queued-but-not-yet-started operation. The Client
// owns no network resources of its own (those belong to the duvhttp.Client
// it was built over, see spec §5's shared-resource policy), so Close has
// nothing else to tear down.
func (c *Client) Close() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// run enqueues op, the body of one public operation, and starts it
// immediately if the client is idle (spec §5: acme_t holds one operation
// at a time). op must call c.opDone exactly once, directly or through one
// of the completion helpers below.
func (c *Client) run(op func()) {
	c.mu.Lock()
	c.pending = append(c.pending, op)
	busy := c.running
	c.mu.Unlock()
	if !busy {
		c.pump()
	}
}

func (c *Client) pump() {
	c.mu.Lock()
	if c.running || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	op := c.pending[0]
	c.pending = c.pending[1:]
	c.running = true
	c.mu.Unlock()
	op()
}

// opDone releases the one-operation-at-a-time slot and starts the next
// queued operation, if any.
func (c *Client) opDone() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	c.pump()
}

// ensureReady fetches the directory and a nonce if either is missing,
// then invokes cb(nil); any fetch error short-circuits straight to cb.
func (c *Client) ensureReady(cb func(error)) {
	c.ensureDirectory(func(err error) {
		if err != nil {
			cb(err)
			return
		}
		c.ensureNonce(cb)
	})
}

func (c *Client) ensureDirectory(cb func(error)) {
	c.mu.Lock()
	have := c.dir != nil
	c.mu.Unlock()
	if have {
		cb(nil)
		return
	}

	req, err := duvhttp.NewRequest("GET", c.directory)
	if err != nil {
		cb(errs.Wrap(errs.KindParam, err, "parse acme directory url"))
		return
	}
	req.ID = uuid.NewString()
	c.http.Do(req, func(err error) {
		if err != nil {
			cb(errs.Wrap(errs.KindConn, err, "fetch acme directory"))
			return
		}
		readAll(req, func(body []byte, err error) {
			if err != nil {
				cb(err)
				return
			}
			if req.Status != 200 {
				cb(responseError("fetching directory urls", req.Status, body))
				return
			}
			root := gjson.ParseBytes(body)
			d := &directoryDoc{
				NewNonce:       root.Get("newNonce").String(),
				NewAccount:     root.Get("newAccount").String(),
				NewOrder:       root.Get("newOrder").String(),
				RevokeCert:     root.Get("revokeCert").String(),
				KeyChange:      root.Get("keyChange").String(),
				TermsOfService: root.Get("meta.termsOfService").String(),
			}
			if d.NewNonce == "" || d.NewAccount == "" || d.NewOrder == "" {
				cb(errs.New(errs.KindResponse, "acme directory missing required urls"))
				return
			}
			c.mu.Lock()
			c.dir = d
			c.mu.Unlock()
			cb(nil)
		})
	})
}

func (c *Client) ensureNonce(cb func(error)) {
	c.mu.Lock()
	have := c.nonce != ""
	dir := c.dir
	c.mu.Unlock()
	if have {
		cb(nil)
		return
	}

	req, err := duvhttp.NewRequest("HEAD", dir.NewNonce)
	if err != nil {
		cb(errs.Wrap(errs.KindParam, err, "parse new-nonce url"))
		return
	}
	req.ID = uuid.NewString()
	c.http.Do(req, func(err error) {
		if err != nil {
			cb(errs.Wrap(errs.KindConn, err, "fetch new nonce"))
			return
		}
		c.captureNonce(req)
		if req.Status != 200 {
			cb(responseError("fetching new nonce", req.Status, nil))
			return
		}
		c.mu.Lock()
		got := c.nonce != ""
		c.mu.Unlock()
		if !got {
			cb(errs.New(errs.KindResponse, "did not see Replay-Nonce header"))
			return
		}
		cb(nil)
	})
}

func (c *Client) captureNonce(req *duvhttp.Request) {
	if v := req.Header("Replay-Nonce"); v != "" {
		c.mu.Lock()
		c.nonce = v
		c.mu.Unlock()
	}
}

// signedResult is one completed signed request: status, parsed body, and
// the raw request (for header lookups like Location/Link).
type signedResult struct {
	Status int
	Body   []byte
	Req    *duvhttp.Request
}

// signedRequest ensures directory+nonce, signs payload over rawURL (by
// kid if kid != "", by embedded JWK otherwise — the one new-account POST
// that precedes having a kid), POSTs it, and transparently retries once
// per bad-nonce response (spec §4.6's badNonce handling). The caller's cb
// only ever sees the final (possibly retried) outcome.
func (c *Client) signedRequest(key jws.Key, kid, rawURL string, payload []byte, doingWhat string, cb func(signedResult, error)) {
	c.ensureReady(func(err error) {
		if err != nil {
			cb(signedResult{}, err)
			return
		}
		c.send(key, kid, rawURL, payload, doingWhat, cb)
	})
}

func (c *Client) send(key jws.Key, kid, rawURL string, payload []byte, doingWhat string, cb func(signedResult, error)) {
	c.mu.Lock()
	nonce := c.nonce
	c.nonce = ""
	c.mu.Unlock()

	var flat jws.Flattened
	var err error
	if kid == "" {
		flat, err = jws.AcmeJWSNewAccount(key, nonce, rawURL, payload)
	} else {
		flat, err = jws.AcmeJWS(key, nonce, rawURL, kid, payload)
	}
	if err != nil {
		cb(signedResult{}, err)
		return
	}
	body, err := json.Marshal(flat)
	if err != nil {
		cb(signedResult{}, errs.Wrap(errs.KindValue, err, "marshal jws envelope"))
		return
	}

	req, err := duvhttp.NewRequest("POST", rawURL)
	if err != nil {
		cb(signedResult{}, errs.Wrap(errs.KindParam, err, "parse request url"))
		return
	}
	req.ID = uuid.NewString()
	req.Body = body
	req.AddHeader("Content-Type", "application/jose+json")

	c.metrics.ACMEOperation(doingWhat, false)
	c.http.Do(req, func(err error) {
		if err != nil {
			cb(signedResult{}, errs.Wrapf(errs.KindConn, err, "%s", doingWhat))
			return
		}
		c.captureNonce(req)
		readAll(req, func(respBody []byte, err error) {
			if err != nil {
				cb(signedResult{}, err)
				return
			}
			if isBadNonce(req.Status, respBody) {
				c.log.Log(statuslog.Event{Type: "nonce", Level: "info", Message: "bad nonce, retrying " + doingWhat})
				c.ensureNonce(func(err error) {
					if err != nil {
						cb(signedResult{}, err)
						return
					}
					c.send(key, kid, rawURL, payload, doingWhat, cb)
				})
				return
			}
			cb(signedResult{Status: req.Status, Body: respBody, Req: req}, nil)
		})
	})
}

// readAll drains req's body stream to completion (duvhttp requests are
// non-persistent-per-read rstreams; every ACME response body is small
// enough to buffer whole).
func readAll(req *duvhttp.Request, cb func([]byte, error)) {
	var buf []byte
	chunk := make([]byte, 4096)
	var step func()
	step = func() {
		req.BodyStream.Read(chunk, func(n int, err error) {
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if err != nil {
				cb(buf, nil)
				return
			}
			if req.BodyStream.EOF() {
				cb(buf, nil)
				return
			}
			step()
		})
	}
	step()
}

// linkNext extracts the rel="next" URL from a response's Link headers,
// per spec §4.4/§4.6's list-orders pagination.
func linkNext(req *duvhttp.Request) (string, error) {
	for _, h := range req.RespHeaders {
		if !equalFoldHeader(h.Name, "Link") {
			continue
		}
		entries, err := weblink.ParseLinkHeader(h.Value)
		if err != nil {
			return "", errs.Wrap(errs.KindResponse, err, "parse Link header")
		}
		for _, e := range entries {
			if e.Rel() == "next" {
				return e.URL, nil
			}
		}
	}
	return "", nil
}

func equalFoldHeader(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// retryAfterFrom resolves a response's Retry-After header, if present, to
// an absolute time; zero time if absent or unparseable (spec's getOrder/
// getAuthz return tuples carry "might be zero").
func retryAfterFrom(req *duvhttp.Request, now time.Time) time.Time {
	v := req.Header("Retry-After")
	if v == "" {
		return time.Time{}
	}
	t, err := weblink.ParseRetryAfter(v, now)
	if err != nil {
		return time.Time{}
	}
	return t
}
