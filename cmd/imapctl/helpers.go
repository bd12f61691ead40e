package main

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"

	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapclient"
	"github.com/emx-mail/mailcore/internal/statuslog"
)

// conn bundles a live IMAP session with the network connection it reads
// from, so a command can select/fetch/list and then tear both down.
type conn struct {
	net  net.Conn
	sess *imapclient.Session
}

// dial opens a TLS connection to a.addr and negotiates a Session up
// through the greeting (and LOGIN, if a.user is set). The connection is
// opened with a single blocking tls.Dial.
func (a *app) dial() (*conn, error) {
	if a.addr == "" {
		return nil, errs.New(errs.KindParam, "-a/--addr is required")
	}

	tlsCfg := &tls.Config{ServerName: hostOnly(a.addr)}
	if a.insecure {
		tlsCfg.InsecureSkipVerify = true
	}
	if a.caPath != "" {
		pem, err := os.ReadFile(a.caPath)
		if err != nil {
			return nil, errs.Wrapf(errs.KindFS, err, "read CA bundle %q", a.caPath)
		}
		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errs.Newf(errs.KindParam, "no certificates found in %q", a.caPath)
		}
		tlsCfg.RootCAs = pool
	}

	nc, err := tls.Dial("tcp", a.addr, tlsCfg)
	if err != nil {
		return nil, errs.Wrapf(errs.KindConn, err, "dial %s", a.addr)
	}

	opts := imapclient.Options{StrictCapability: true}
	greeted := make(chan error, 1)
	sess := imapclient.NewSession(nc, opts, func(err error) { greeted <- err })
	if a.verbose {
		sess = sess.WithLog(statuslog.NewJSONLines(os.Stderr))
	}

	c := &conn{net: nc, sess: sess}
	go c.pump()

	if err := <-greeted; err != nil {
		_ = nc.Close()
		return nil, err
	}

	if a.user != "" {
		if err := awaitErr(func(cb func(error)) { sess.Login(a.user, a.pass, cb) }); err != nil {
			_ = nc.Close()
			return nil, err
		}
	}
	return c, nil
}

// pump feeds inbound bytes into the session until the connection closes
// or Feed reports a protocol error; the session itself has no read loop
// of its own (see internal/imapclient's package doc).
func (c *conn) pump() {
	buf := make([]byte, 4096)
	for {
		n, err := c.net.Read(buf)
		if n > 0 {
			if ferr := c.sess.Feed(buf[:n]); ferr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (c *conn) close() {
	_ = awaitErr(func(cb func(error)) { c.sess.Logout(cb) })
	_ = c.net.Close()
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type result[T any] struct {
	val T
	err error
}

func await[T any](start func(func(T, error))) (T, error) {
	ch := make(chan result[T], 1)
	start(func(v T, err error) { ch <- result[T]{v, err} })
	r := <-ch
	return r.val, r.err
}

func awaitErr(start func(func(error))) error {
	ch := make(chan error, 1)
	start(func(err error) { ch <- err })
	return <-ch
}
