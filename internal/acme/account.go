package acme

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/jws"
)

// EAB carries the CA-issued key ID / HMAC key pair ZeroSSL-style external
// account binding requires (spec §6, SPEC_FULL §4).
type EAB struct {
	KID     string
	HMACKey []byte
}

// NewAccount creates (or, per RFC 8555 §7.3.1, looks up by key) an ACME
// account. The request is signed over the account's own public JWK since
// no kid exists yet. When eab is non-nil, the payload carries a nested
// HS256 JWS under "externalAccountBinding" (spec §6).
func (c *Client) NewAccount(key jws.Key, contactEmail string, eab *EAB, cb func(Account, error)) {
	c.run(func() {
		c.ensureReady(func(err error) {
			if err != nil {
				c.opDone()
				cb(Account{}, err)
				return
			}
			c.newAccountSend(key, contactEmail, eab, cb)
		})
	})
}

type newAccountPayload struct {
	Contact               []string        `json:"contact"`
	TermsOfServiceAgreed  bool            `json:"termsOfServiceAgreed"`
	ExternalAccountBind   json.RawMessage `json:"externalAccountBinding,omitempty"`
}

func (c *Client) newAccountSend(key jws.Key, contactEmail string, eab *EAB, cb func(Account, error)) {
	c.mu.Lock()
	dir := c.dir
	c.mu.Unlock()

	p := newAccountPayload{
		Contact:              []string{"mailto:" + contactEmail},
		TermsOfServiceAgreed: true,
	}
	if eab != nil {
		flat, err := jws.EAB(key, eab.KID, eab.HMACKey, dir.NewAccount)
		if err != nil {
			c.opDone()
			cb(Account{}, err)
			return
		}
		raw, err := json.Marshal(flat)
		if err != nil {
			c.opDone()
			cb(Account{}, errs.Wrap(errs.KindValue, err, "marshal external account binding"))
			return
		}
		p.ExternalAccountBind = raw
	}
	payload, err := json.Marshal(p)
	if err != nil {
		c.opDone()
		cb(Account{}, errs.Wrap(errs.KindValue, err, "marshal new-account payload"))
		return
	}

	c.signedRequest(key, "", dir.NewAccount, payload, "new-account", func(res signedResult, err error) {
		defer c.opDone()
		if err != nil {
			cb(Account{}, err)
			return
		}
		if res.Status != 201 {
			cb(Account{}, responseError("posting new account", res.Status, res.Body))
			return
		}
		root := gjson.ParseBytes(res.Body)
		status := root.Get("status").String()
		if status != "valid" {
			cb(Account{}, errs.Newf(errs.KindResponse, "new account status != valid (status = %q)", status))
			return
		}
		kid := res.Req.Header("Location")
		if kid == "" {
			cb(Account{}, errs.New(errs.KindResponse, "did not see Location header"))
			return
		}
		c.metrics.ACMEOperation("new-account", true)
		cb(Account{Key: key, KID: kid, Orders: root.Get("orders").String()}, nil)
	})
}
