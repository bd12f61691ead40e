package main

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"os"

	"github.com/emx-mail/mailcore/internal/acctfile"
	"github.com/emx-mail/mailcore/internal/acme"
	"github.com/emx-mail/mailcore/internal/duvhttp"
	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/statuslog"
)

// newHTTPClient builds the duvhttp.Client every subcommand issues its
// ACME requests through, wiring --ca/--pebble into its TLS config and,
// with -v, a stderr status stream (the same statuslog.JSONLines the
// IMAP/HTTP engines use).
func (a *app) newHTTPClient() (*duvhttp.Client, error) {
	var tlsCfg *tls.Config
	switch {
	case a.pebble:
		tlsCfg = &tls.Config{InsecureSkipVerify: true}
	case a.caPath != "":
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
		tlsCfg = &tls.Config{RootCAs: pool}
	}

	opts := []duvhttp.Option{}
	if tlsCfg != nil {
		opts = append(opts, duvhttp.WithTLSConfig(tlsCfg))
	}
	if a.verbose {
		opts = append(opts, duvhttp.WithLog(statuslog.NewJSONLines(os.Stderr)))
	}
	return duvhttp.NewClient(opts...), nil
}

func (a *app) newACMEClient(http *duvhttp.Client) *acme.Client {
	opts := []acme.Option{}
	if a.verbose {
		opts = append(opts, acme.WithLog(statuslog.NewJSONLines(os.Stderr)))
	}
	return acme.NewClient(http, a.dirURL, opts...)
}

// result pairs an async callback's two arguments for the blocking
// adapter below.
type result[T any] struct {
	val T
	err error
}

// await turns one async call of the acme.Client/duvhttp.Client shape
// into a blocking value, which is all a short-lived CLI process needs:
// there is exactly one operation in flight per invocation.
func await[T any](start func(func(T, error))) (T, error) {
	ch := make(chan result[T], 1)
	start(func(v T, err error) { ch <- result[T]{v, err} })
	r := <-ch
	return r.val, r.err
}

// awaitErr is await for callbacks that only carry an error.
func awaitErr(start func(func(error))) error {
	ch := make(chan error, 1)
	start(func(err error) { ch <- err })
	return <-ch
}

// loadAccount reads and validates an account file, rehydrating its
// signing key and wrapping it as an acme.Account.
func loadAccount(path string) (acme.Account, error) {
	f, err := acctfile.Load(path)
	if err != nil {
		return acme.Account{}, err
	}
	key, err := acctfile.ToKey(f.Key)
	if err != nil {
		return acme.Account{}, err
	}
	return acme.Account{Key: key, KID: f.Kid, Orders: f.Orders}, nil
}

// printJSON marshals v as indented JSON to stdout, the format every
// JSON-emitting subcommand shares.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errs.Wrap(errs.KindValue, err, "encode json output")
	}
	return nil
}
