package acme

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/emx-mail/mailcore/internal/errs"
)

// Finalize POSTs csrDER (a DER-encoded PKCS#10 certificate request) to
// the order's finalize URL, then polls the order until it leaves
// "processing" and downloads the issued certificate (spec §4.6's
// "referenced by external callers" finalize operation; fully implemented
// per SPEC_FULL.md §4, grounded on original_source/libacme/finalize.c's
// get-order-then-finalize-or-continue flow).
func (c *Client) Finalize(acct Account, orderURL, finalizeURL string, csrDER []byte, cb func(cert []byte, err error)) {
	c.run(func() {
		payload, err := json.Marshal(map[string]string{
			"csr": base64.RawURLEncoding.EncodeToString(csrDER),
		})
		if err != nil {
			c.opDone()
			cb(nil, errs.Wrap(errs.KindValue, err, "marshal finalize payload"))
			return
		}
		c.ensureReady(func(err error) {
			if err != nil {
				c.opDone()
				cb(nil, err)
				return
			}
			c.signedRequest(acct.Key, acct.KID, finalizeURL, payload, "finalize", func(res signedResult, err error) {
				if err != nil {
					c.opDone()
					cb(nil, err)
					return
				}
				if res.Status != 200 {
					c.opDone()
					cb(nil, responseError("posting finalize", res.Status, res.Body))
					return
				}
				c.pollOrder(acct, orderURL, cb)
			})
		})
	})
}

// FinalizeFromProcessing resumes a finalize that was already submitted in
// a previous process (order.Status == "processing"): skip straight to
// polling (spec's acme_finalize_from_processing).
func (c *Client) FinalizeFromProcessing(acct Account, orderURL string, retryAfter time.Time, cb func(cert []byte, err error)) {
	c.run(func() {
		time.AfterFunc(delayUntil(retryAfter), func() {
			c.pollOrder(acct, orderURL, cb)
		})
	})
}

// FinalizeFromValid resumes a finalize that already reached
// status=="valid" in a previous process: only the certificate download
// remains (spec's acme_finalize_from_valid).
func (c *Client) FinalizeFromValid(acct Account, certURL string, cb func(cert []byte, err error)) {
	c.run(func() {
		c.ensureReady(func(err error) {
			if err != nil {
				c.opDone()
				cb(nil, err)
				return
			}
			c.fetchCert(acct, certURL, cb)
		})
	})
}

// pollOrder repeatedly fetches orderURL (assumes the operation slot is
// already held) until it leaves "processing"/"ready"/"pending", then
// downloads the cert on "valid" or reports an error on anything else.
func (c *Client) pollOrder(acct Account, orderURL string, cb func([]byte, error)) {
	c.getOrderInner(acct, orderURL, func(o Order, err error) {
		if err != nil {
			c.opDone()
			cb(nil, err)
			return
		}
		switch o.Status {
		case StatusValid:
			c.fetchCert(acct, o.CertURL, cb)
		case StatusProcessing, StatusReady, StatusPending:
			time.AfterFunc(delayUntil(o.RetryAfter), func() {
				c.pollOrder(acct, orderURL, cb)
			})
		default:
			c.opDone()
			cb(nil, errs.Newf(errs.KindResponse, "order status = %q while finalizing", o.Status))
		}
	})
}

// fetchCert downloads the issued certificate chain via POST-as-GET
// (RFC 8555 §7.4.2); assumes the operation slot is already held and
// releases it before invoking cb.
func (c *Client) fetchCert(acct Account, certURL string, cb func([]byte, error)) {
	if certURL == "" {
		c.opDone()
		cb(nil, errs.New(errs.KindResponse, "order valid but no certificate url"))
		return
	}
	c.signedRequest(acct.Key, acct.KID, certURL, nil, "finalize", func(res signedResult, err error) {
		defer c.opDone()
		if err != nil {
			cb(nil, err)
			return
		}
		if res.Status != 200 {
			cb(nil, responseError("fetching certificate", res.Status, res.Body))
			return
		}
		c.metrics.ACMEOperation("finalize", true)
		cb(res.Body, nil)
	})
}
