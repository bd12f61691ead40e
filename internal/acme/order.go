package acme

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"github.com/emx-mail/mailcore/internal/errs"
)

// Order is the subset of RFC 8555 §7.1.3's order object the client
// surfaces (spec §4.6's getOrder return tuple).
type Order struct {
	URL           string
	Status        Status
	Domain        string
	Expires       string
	Authorization string
	Finalize      string
	CertURL       string
	RetryAfter    time.Time
}

// NewOrder requests a new order for domain (spec §4.6's newOrder):
// exactly one identifier is submitted, so exactly one authorization URL
// is expected back.
func (c *Client) NewOrder(acct Account, domain string, cb func(Order, error)) {
	c.run(func() {
		dirCB := func(err error) {
			if err != nil {
				c.opDone()
				cb(Order{}, err)
				return
			}
			c.newOrderSend(acct, domain, cb)
		}
		c.ensureReady(dirCB)
	})
}

func (c *Client) newOrderSend(acct Account, domain string, cb func(Order, error)) {
	c.mu.Lock()
	dir := c.dir
	c.mu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"identifiers": []map[string]string{{"type": "dns", "value": domain}},
	})
	if err != nil {
		c.opDone()
		cb(Order{}, errs.Wrap(errs.KindValue, err, "marshal new-order payload"))
		return
	}

	c.signedRequest(acct.Key, acct.KID, dir.NewOrder, payload, "new-order", func(res signedResult, err error) {
		defer c.opDone()
		if err != nil {
			cb(Order{}, err)
			return
		}
		if res.Status != 201 {
			cb(Order{}, responseError("posting new order", res.Status, res.Body))
			return
		}
		root := gjson.ParseBytes(res.Body)
		if st := root.Get("status").String(); st != "pending" {
			cb(Order{}, errs.Newf(errs.KindResponse, "new order status != pending (status = %q)", st))
			return
		}
		ids := root.Get("identifiers")
		if !ids.IsArray() || len(ids.Array()) != 1 {
			cb(Order{}, errs.New(errs.KindResponse, "new order identifiers != 1 entry"))
			return
		}
		id := ids.Array()[0]
		if id.Get("type").String() != "dns" || id.Get("value").String() != domain {
			cb(Order{}, errs.New(errs.KindResponse, "new order echoed identifiers do not match submitted domain"))
			return
		}
		authzs := root.Get("authorizations")
		if !authzs.IsArray() || len(authzs.Array()) != 1 {
			cb(Order{}, errs.New(errs.KindResponse, "new order authorizations != 1 entry"))
			return
		}
		orderURL := res.Req.Header("Location")
		if orderURL == "" {
			cb(Order{}, errs.New(errs.KindResponse, "did not see Location header"))
			return
		}
		c.metrics.ACMEOperation("new-order", true)
		cb(Order{
			URL:           orderURL,
			Status:        StatusPending,
			Domain:        domain,
			Expires:       root.Get("expires").String(),
			Authorization: authzs.Array()[0].String(),
			Finalize:      root.Get("finalize").String(),
		}, nil)
	})
}

// GetOrder is a POST-as-GET fetch of an existing order (spec §4.6).
func (c *Client) GetOrder(acct Account, orderURL string, cb func(Order, error)) {
	c.run(func() {
		c.getOrderInner(acct, orderURL, func(o Order, err error) {
			c.opDone()
			cb(o, err)
		})
	})
}

// getOrderInner is GetOrder's body without the run()/opDone() wrapper, so
// Finalize can poll an order while already holding the operation slot.
func (c *Client) getOrderInner(acct Account, orderURL string, cb func(Order, error)) {
	c.ensureReady(func(err error) {
		if err != nil {
			cb(Order{}, err)
			return
		}
		c.signedRequest(acct.Key, acct.KID, orderURL, nil, "get-order", func(res signedResult, err error) {
			if err != nil {
				cb(Order{}, err)
				return
			}
			if res.Status != 200 {
				cb(Order{}, responseError("getting order", res.Status, res.Body))
				return
			}
			root := gjson.ParseBytes(res.Body)
			ids := root.Get("identifiers")
			if !ids.IsArray() || len(ids.Array()) != 1 {
				cb(Order{}, errs.New(errs.KindResponse, "order identifiers != 1 entry"))
				return
			}
			id := ids.Array()[0]
			if id.Get("type").String() != "dns" {
				cb(Order{}, errs.New(errs.KindResponse, "order identifier type != dns"))
				return
			}
			authzs := root.Get("authorizations")
			if !authzs.IsArray() || len(authzs.Array()) != 1 {
				cb(Order{}, errs.New(errs.KindResponse, "order authorizations != 1 entry"))
				return
			}
			c.metrics.ACMEOperation("get-order", true)
			cb(Order{
				URL:           orderURL,
				Status:        Status(root.Get("status").String()),
				Domain:        id.Get("value").String(),
				Expires:       root.Get("expires").String(),
				Authorization: authzs.Array()[0].String(),
				Finalize:      root.Get("finalize").String(),
				CertURL:       root.Get("certificate").String(),
				RetryAfter:    retryAfterFrom(res.Req, time.Now()),
			}, nil)
		})
	})
}

// ListOrders fetches every order URL bound to acct, following
// Link: rel="next" pagination and retrying the current page on bad-nonce
// (spec §4.6's listOrders).
func (c *Client) ListOrders(acct Account, cb func([]string, error)) {
	c.run(func() {
		c.ensureReady(func(err error) {
			if err != nil {
				c.opDone()
				cb(nil, err)
				return
			}
			c.listOrdersPage(acct, acct.Orders, nil, cb)
		})
	})
}

func (c *Client) listOrdersPage(acct Account, pageURL string, acc []string, cb func([]string, error)) {
	if pageURL == "" {
		c.opDone()
		c.metrics.ACMEOperation("list-orders", true)
		cb(acc, nil)
		return
	}
	c.signedRequest(acct.Key, acct.KID, pageURL, nil, "list-orders", func(res signedResult, err error) {
		if err != nil {
			c.opDone()
			cb(nil, err)
			return
		}
		if res.Status != 200 {
			c.opDone()
			cb(nil, responseError("listing orders", res.Status, res.Body))
			return
		}
		root := gjson.ParseBytes(res.Body)
		for _, o := range root.Get("orders").Array() {
			acc = append(acc, o.String())
		}
		next, err := linkNext(res.Req)
		if err != nil {
			c.opDone()
			cb(nil, err)
			return
		}
		c.listOrdersPage(acct, next, acc, cb)
	})
}
