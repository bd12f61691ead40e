package acme

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emx-mail/mailcore/internal/duvhttp"
	"github.com/emx-mail/mailcore/internal/jws"
)

// fakeRequest is one parsed HTTP/1.1 request the fake server handed to a
// handler.
type fakeRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// startFakeACME runs an accept loop on a loopback listener, handing each
// connection's single request to handler and writing back whatever string
// it returns; the connection always closes after, so every ACME call in a
// test gets its own TCP connection (mirrors a CA that doesn't bother with
// keep-alive, and keeps this fake trivial).
func startFakeACME(t *testing.T, handler func(fakeRequest) string) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(conn, handler)
		}
	}()
	return "http://" + l.Addr().String()
}

func serveFakeConn(conn net.Conn, handler func(fakeRequest) string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return
	}
	req := fakeRequest{Method: parts[0], Path: parts[1], Headers: map[string]string{}}
	for {
		hline, err := r.ReadString('\n')
		if err != nil {
			return
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		idx := strings.Index(hline, ":")
		if idx < 0 {
			continue
		}
		req.Headers[strings.ToLower(strings.TrimSpace(hline[:idx]))] = strings.TrimSpace(hline[idx+1:])
	}
	if cl, ok := req.Headers["content-length"]; ok {
		n, _ := strconv.Atoi(cl)
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return
		}
		req.Body = body
	}
	resp := handler(req)
	conn.Write([]byte(resp))
}

// httpResponse renders a minimal non-keep-alive response: the fake
// server never needs keep-alive, so every response carries
// Connection: close and an exact Content-Length.
func httpResponse(status int, reason string, headers map[string]string, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, reason)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n\r\n")
	b.WriteString(body)
	return b.String()
}

func testKey(t *testing.T) jws.Key {
	t.Helper()
	k, err := jws.GenerateEd25519()
	if err != nil {
		t.Fatal(err)
	}
	return k
}

// awaiter collects a single callback's result with a timeout, since every
// Client operation completes asynchronously off the calling goroutine.
type awaiter[T any] struct {
	wg  sync.WaitGroup
	val T
	err error
}

func newAwaiter[T any]() *awaiter[T] {
	a := &awaiter[T]{}
	a.wg.Add(1)
	return a
}

func (a *awaiter[T]) cb(v T, err error) {
	a.val, a.err = v, err
	a.wg.Done()
}

func (a *awaiter[T]) wait(t *testing.T) (T, error) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for acme callback")
	}
	return a.val, a.err
}

func directoryBody(base string) string {
	return `{"newNonce":"` + base + `/new-nonce","newAccount":"` + base + `/new-acct","newOrder":"` + base + `/new-order","revokeCert":"` + base + `/revoke-cert","keyChange":"` + base + `/key-change"}`
}

func TestNewAccount(t *testing.T) {
	var base string
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/new-acct":
			return httpResponse(201, "Created", map[string]string{
				"Replay-Nonce": "nonce-2",
				"Location":     base + "/acct/1",
			}, `{"status":"valid","orders":"`+base+`/acct/1/orders"}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	key := testKey(t)

	a := newAwaiter[Account]()
	c.NewAccount(key, "admin@example.com", nil, a.cb)
	acct, err := a.wait(t)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if acct.KID != base+"/acct/1" {
		t.Fatalf("kid = %q", acct.KID)
	}
	if acct.Orders != base+"/acct/1/orders" {
		t.Fatalf("orders = %q", acct.Orders)
	}
}

func TestNewAccountWithEAB(t *testing.T) {
	var base string
	var sawEAB bool
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/new-acct":
			sawEAB = strings.Contains(string(req.Body), "externalAccountBinding")
			return httpResponse(201, "Created", map[string]string{
				"Replay-Nonce": "nonce-2",
				"Location":     base + "/acct/1",
			}, `{"status":"valid","orders":"`+base+`/acct/1/orders"}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	key := testKey(t)

	a := newAwaiter[Account]()
	c.NewAccount(key, "admin@example.com", &EAB{KID: "kid-123", HMACKey: []byte("super-secret-hmac-key")}, a.cb)
	if _, err := a.wait(t); err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if !sawEAB {
		t.Fatal("new-account payload did not carry externalAccountBinding")
	}
}

func TestNewAccountBadNonceRetries(t *testing.T) {
	var base string
	var attempts int
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/new-acct":
			attempts++
			if attempts == 1 {
				return httpResponse(400, "Bad Request", map[string]string{"Replay-Nonce": "nonce-2"},
					`{"type":"urn:ietf:params:acme:error:badNonce","detail":"try again"}`)
			}
			return httpResponse(201, "Created", map[string]string{
				"Replay-Nonce": "nonce-3",
				"Location":     base + "/acct/1",
			}, `{"status":"valid","orders":"`+base+`/acct/1/orders"}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	key := testKey(t)

	a := newAwaiter[Account]()
	c.NewAccount(key, "admin@example.com", nil, a.cb)
	acct, err := a.wait(t)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if acct.KID != base+"/acct/1" {
		t.Fatalf("kid = %q", acct.KID)
	}
}

func TestNewOrderRejectsMismatchedIdentifiers(t *testing.T) {
	var base string
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/new-order":
			return httpResponse(201, "Created", map[string]string{
				"Replay-Nonce": "nonce-2",
				"Location":     base + "/order/1",
			}, `{"status":"pending","identifiers":[{"type":"dns","value":"wrong.example.com"}],"authorizations":["`+base+`/authz/1"],"finalize":"`+base+`/order/1/finalize","expires":"2026-08-01T00:00:00Z"}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	acct := Account{Key: testKey(t), KID: base + "/acct/1", Orders: base + "/acct/1/orders"}

	a := newAwaiter[Order]()
	c.NewOrder(acct, "right.example.com", a.cb)
	_, err := a.wait(t)
	if err == nil {
		t.Fatal("expected error for mismatched identifiers")
	}
	if !strings.Contains(err.Error(), "identifiers") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewOrderSuccess(t *testing.T) {
	var base string
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/new-order":
			return httpResponse(201, "Created", map[string]string{
				"Replay-Nonce": "nonce-2",
				"Location":     base + "/order/1",
			}, `{"status":"pending","identifiers":[{"type":"dns","value":"right.example.com"}],"authorizations":["`+base+`/authz/1"],"finalize":"`+base+`/order/1/finalize","expires":"2026-08-01T00:00:00Z"}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	acct := Account{Key: testKey(t), KID: base + "/acct/1", Orders: base + "/acct/1/orders"}

	a := newAwaiter[Order]()
	c.NewOrder(acct, "right.example.com", a.cb)
	o, err := a.wait(t)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if o.URL != base+"/order/1" || o.Status != StatusPending || o.Authorization != base+"/authz/1" {
		t.Fatalf("order = %+v", o)
	}
}

func TestGetAuthzFiltersDNS01(t *testing.T) {
	var base string
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/authz/1":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-2"},
				`{"identifier":{"type":"dns","value":"right.example.com"},"status":"pending","expires":"2026-08-01T00:00:00Z",`+
					`"challenges":[{"type":"http-01","url":"`+base+`/chal/http","token":"ignored"},`+
					`{"type":"dns-01","url":"`+base+`/chal/dns","token":"abc123","status":"pending"}]}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	acct := Account{Key: testKey(t), KID: base + "/acct/1"}

	a := newAwaiter[Authz]()
	c.GetAuthz(acct, base+"/authz/1", a.cb)
	az, err := a.wait(t)
	if err != nil {
		t.Fatalf("GetAuthz: %v", err)
	}
	if az.ChallengeURL != base+"/chal/dns" || az.ChallengeToken != "abc123" {
		t.Fatalf("authz = %+v", az)
	}
}

func TestChallenge(t *testing.T) {
	var base string
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/chal/dns":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-2"}, `{"status":"processing"}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	acct := Account{Key: testKey(t), KID: base + "/acct/1"}

	a := newAwaiter[struct{}]()
	c.Challenge(acct, base+"/chal/dns", func(err error) { a.cb(struct{}{}, err) })
	if _, err := a.wait(t); err != nil {
		t.Fatalf("Challenge: %v", err)
	}
}

func TestListOrdersFollowsLinkPagination(t *testing.T) {
	var base string
	base = startFakeACME(t, func(req fakeRequest) string {
		switch {
		case req.Method == "GET" && req.Path == "/directory":
			return httpResponse(200, "OK", nil, directoryBody(base))
		case req.Method == "HEAD" && req.Path == "/new-nonce":
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-1"}, "")
		case req.Method == "POST" && req.Path == "/acct/1/orders":
			return httpResponse(200, "OK", map[string]string{
				"Replay-Nonce": "nonce-2",
				"Link":         "<" + base + "/acct/1/orders?cursor=2>; rel=\"next\"",
			}, `{"orders":["`+base+`/order/1","`+base+`/order/2"]}`)
		case req.Method == "POST" && strings.Contains(req.Path, "cursor=2"):
			return httpResponse(200, "OK", map[string]string{"Replay-Nonce": "nonce-3"}, `{"orders":["`+base+`/order/3"]}`)
		}
		return httpResponse(404, "Not Found", nil, "")
	})

	hc := duvhttp.NewClient()
	c := NewClient(hc, base+"/directory")
	acct := Account{Key: testKey(t), KID: base + "/acct/1", Orders: base + "/acct/1/orders"}

	a := newAwaiter[[]string]()
	c.ListOrders(acct, a.cb)
	orders, err := a.wait(t)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	want := []string{base + "/order/1", base + "/order/2", base + "/order/3"}
	if len(orders) != len(want) {
		t.Fatalf("orders = %v, want %v", orders, want)
	}
	for i := range want {
		if orders[i] != want[i] {
			t.Fatalf("orders[%d] = %q, want %q", i, orders[i], want[i])
		}
	}
}

func TestResponseErrorIncludesProblemDetail(t *testing.T) {
	err := responseError("getting order", 403, []byte(`{"type":"urn:ietf:params:acme:error:unauthorized","detail":"account not authorized"}`))
	if !strings.Contains(err.Error(), "unauthorized") || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("error = %v", err)
	}
}

func TestIsBadNonce(t *testing.T) {
	if !isBadNonce(400, []byte(`{"type":"urn:ietf:params:acme:error:badNonce"}`)) {
		t.Fatal("expected badNonce detection")
	}
	if isBadNonce(400, []byte(`{"type":"urn:ietf:params:acme:error:malformed"}`)) {
		t.Fatal("malformed type should not be treated as badNonce")
	}
	if isBadNonce(403, []byte(`{"type":"urn:ietf:params:acme:error:badNonce"}`)) {
		t.Fatal("badNonce only applies to status 400")
	}
}
