package acme

import (
	"github.com/tidwall/gjson"

	"github.com/emx-mail/mailcore/internal/errs"
)

// badNonceType is the one problem type the client ever retries locally
// (spec §4.6).
const badNonceType = "urn:ietf:params:acme:error:badNonce"

// problem is an RFC 7807 problem document as ACME servers emit it: a
// fixed "type"/"detail" pair plus arbitrary CA-specific extra fields we
// don't need a private struct per CA to tolerate (spec's DOMAIN STACK
// wiring for tidwall/gjson).
type problem struct {
	Type   string
	Detail string
}

// parseProblem extracts type/detail with gjson's get-by-path accessors,
// tolerating bodies that aren't problem documents at all (returns ok=false
// rather than an error, since "this wasn't a recognizable error body" is
// itself useful information to the caller).
func parseProblem(body []byte) (problem, bool) {
	if !gjson.ValidBytes(body) {
		return problem{}, false
	}
	root := gjson.ParseBytes(body)
	typ := root.Get("type")
	if !typ.Exists() {
		return problem{}, false
	}
	return problem{Type: typ.String(), Detail: root.Get("detail").String()}, true
}

// isBadNonce reports whether status/body describe the one locally
// retried ACME error (spec §4.6).
func isBadNonce(status int, body []byte) bool {
	if status != 400 {
		return false
	}
	p, ok := parseProblem(body)
	return ok && p.Type == badNonceType
}

// responseError renders a non-expected status as a KindResponse error,
// including the decoded problem detail (or the raw body) in the trace
// (spec §4.6, §7).
func responseError(doingWhat string, status int, body []byte) error {
	if p, ok := parseProblem(body); ok {
		if p.Detail != "" {
			return errs.Newf(errs.KindResponse, "%s: unexpected status %d: %s: %s", doingWhat, status, p.Type, p.Detail)
		}
		return errs.Newf(errs.KindResponse, "%s: unexpected status %d: %s", doingWhat, status, p.Type)
	}
	return errs.Newf(errs.KindResponse, "%s: unexpected status %d: %s", doingWhat, status, string(body))
}
