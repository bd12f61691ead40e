package duvhttp

import (
	"net/url"

	"github.com/emx-mail/mailcore/internal/httpwire"
	"github.com/emx-mail/mailcore/internal/weblink"
	"github.com/emx-mail/mailcore/internal/xstream"
)

// LengthType classifies how a response body is delineated (spec §3's
// duv_http_req.length_type).
type LengthType int

const (
	LengthUnknown LengthType = iota // close-delineated
	LengthContentLength
	LengthChunked
)

// Request is a pending request attached to a Client (spec §3). It owns
// its own reason/host/port/header state; the body rstream it exposes is
// populated once headers have been parsed.
type Request struct {
	Method  string
	Scheme  string
	Host    string
	Port    int
	Path    string
	Query   url.Values
	Headers []httpwire.HeaderField
	Body    []byte

	// ID correlates this request's status events and metrics across its
	// lifetime (not part of the wire protocol); Client.Do assigns a fresh
	// UUID when it is empty.
	ID string

	// Populated once headers are parsed.
	Status      int
	Reason      string
	RespHeaders []httpwire.HeaderField
	LengthType  LengthType
	BodyStream  xstream.RStream

	onReady func(error)
	client  *Client
}

// NewRequest parses rawURL and builds a Request ready to hand to
// Client.Do. The scheme/host/port drive connection reuse; Path/Query are
// what the marshaller emits.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := weblink.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	port, err := u.PortOrDefault(defaultPortFor(u.Scheme))
	if err != nil {
		return nil, err
	}
	q, err := url.ParseQuery(u.Query)
	if err != nil {
		q = url.Values{}
	}
	return &Request{
		Method: method,
		Scheme: u.Scheme,
		Host:   u.Host,
		Port:   port,
		Path:   u.Path,
		Query:  q,
	}, nil
}

func defaultPortFor(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// AddHeader appends one request header. Order matters only for
// determinism (spec §4.2's PAIR_CHAIN note); it has no IMAP/HTTP
// semantic effect.
func (r *Request) AddHeader(name, value string) {
	r.Headers = append(r.Headers, httpwire.HeaderField{Name: name, Value: value})
}

// Header returns the first response header matching name
// (case-insensitive), or "" if absent.
func (r *Request) Header(name string) string {
	for _, h := range r.RespHeaders {
		if equalFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func equalFold(a, b string) bool {
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
