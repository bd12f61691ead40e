package acme

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/emx-mail/mailcore/internal/errs"
)

// Authz is the subset of RFC 8555 §7.1.4's authorization object the
// client surfaces: only the dns-01 challenge is consumed (spec §4.6).
type Authz struct {
	Domain          string
	Status          Status
	Expires         string
	ChallengeURL    string
	ChallengeToken  string
	ChallengeStatus Status
	RetryAfter      time.Time
}

// GetAuthz is a POST-as-GET fetch of an authorization resource, returning
// the dns-01 challenge URL/token if present (spec §4.6).
func (c *Client) GetAuthz(acct Account, authzURL string, cb func(Authz, error)) {
	c.run(func() {
		c.ensureReady(func(err error) {
			if err != nil {
				c.opDone()
				cb(Authz{}, err)
				return
			}
			c.signedRequest(acct.Key, acct.KID, authzURL, nil, "get-authz", func(res signedResult, err error) {
				defer c.opDone()
				if err != nil {
					cb(Authz{}, err)
					return
				}
				if res.Status != 200 {
					cb(Authz{}, responseError("getting authorization", res.Status, res.Body))
					return
				}
				root := gjson.ParseBytes(res.Body)
				id := root.Get("identifier")
				if id.Get("type").String() != "dns" {
					cb(Authz{}, errs.New(errs.KindResponse, "authorization identifier type != dns"))
					return
				}
				a := Authz{
					Domain:     id.Get("value").String(),
					Status:     Status(root.Get("status").String()),
					Expires:    root.Get("expires").String(),
					RetryAfter: retryAfterFrom(res.Req, time.Now()),
				}
				for _, ch := range root.Get("challenges").Array() {
					if ch.Get("type").String() != "dns-01" {
						continue
					}
					token := ch.Get("token")
					if !token.Exists() {
						cb(Authz{}, errs.New(errs.KindResponse, "type=dns-01 challenge has no token"))
						return
					}
					a.ChallengeURL = ch.Get("url").String()
					a.ChallengeToken = token.String()
					a.ChallengeStatus = Status(ch.Get("status").String())
				}
				c.metrics.ACMEOperation("get-authz", true)
				cb(a, nil)
			})
		})
	})
}

// Challenge POSTs {} to challengeURL to tell the server to begin
// validating the dns-01 challenge (spec §4.6). It does not itself wait
// for the challenge to finish validating; call ChallengeFinish (or poll
// GetAuthz) once the caller has published the DNS record.
func (c *Client) Challenge(acct Account, challengeURL string, cb func(error)) {
	c.run(func() {
		c.ensureReady(func(err error) {
			if err != nil {
				c.opDone()
				cb(err)
				return
			}
			c.signedRequest(acct.Key, acct.KID, challengeURL, []byte("{}"), "challenge", func(res signedResult, err error) {
				defer c.opDone()
				if err != nil {
					cb(err)
					return
				}
				if res.Status != 200 {
					cb(responseError("responding to challenge", res.Status, res.Body))
					return
				}
				c.metrics.ACMEOperation("challenge", true)
				cb(nil)
			})
		})
	})
}

// ChallengeFinish polls GetAuthz (honoring retryAfter as the initial
// delay) until the dns-01 challenge leaves "pending"/"processing", then
// reports success (valid) or failure (spec §4.6, §4 getOrder's retry_after use,
// the "automatically await a challenge result" behavior of acme_challenge
// in original_source/libacme/reqs.h).
func (c *Client) ChallengeFinish(acct Account, authzURL string, retryAfter time.Time, cb func(error)) {
	delay := delayUntil(retryAfter)
	time.AfterFunc(delay, func() {
		c.GetAuthz(acct, authzURL, func(a Authz, err error) {
			if err != nil {
				cb(err)
				return
			}
			switch a.ChallengeStatus {
			case StatusValid:
				cb(nil)
			case StatusProcessing, StatusPending:
				c.ChallengeFinish(acct, authzURL, a.RetryAfter, cb)
			default:
				cb(errs.Newf(errs.KindResponse, "dns-01 challenge status = %q", a.ChallengeStatus))
			}
		})
	})
}

// delayUntil is time.Until(t) floored at a sane minimum poll interval, or
// that minimum itself when t is the zero value (no Retry-After seen).
func delayUntil(t time.Time) time.Duration {
	const minPoll = 2 * time.Second
	if t.IsZero() {
		return minPoll
	}
	d := time.Until(t)
	if d < minPoll {
		return minPoll
	}
	return d
}
