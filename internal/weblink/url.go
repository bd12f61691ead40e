// Package weblink implements the non-DNS-resolving URL/Link/Retry-After
// parsers the HTTP and ACME layers need: RFC 3986 URL decomposition, an
// RFC 8288 Link-header parser, and Retry-After resolution to an
// absolute time (spec §4.3).
package weblink

import (
	"strconv"
	"strings"

	"github.com/emx-mail/mailcore/internal/errs"
)

// URL holds the eight RFC 3986 offsets as materialized strings (the
// buffer this parses from is typically short-lived header text, so there
// is little to gain from an Off-style zero-copy view here).
type URL struct {
	Scheme   string
	User     string
	Pass     string
	Host     string
	Port     string
	Path     string
	Query    string
	Fragment string
}

// ParseURL decomposes raw per RFC 3986: scheme "://" [user[":"pass]"@"]
// host [":"port] path ["?"query] ["#"fragment].
func ParseURL(raw string) (URL, error) {
	var u URL
	rest := raw

	i := strings.Index(rest, "://")
	if i < 0 {
		return u, errs.Newf(errs.KindParam, "url missing scheme: %q", raw)
	}
	u.Scheme = rest[:i]
	rest = rest[i+3:]

	authEnd := strings.IndexAny(rest, "/?#")
	var authority string
	if authEnd < 0 {
		authority = rest
		rest = ""
	} else {
		authority = rest[:authEnd]
		rest = rest[authEnd:]
	}

	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo := authority[:at]
		authority = authority[at+1:]
		if colon := strings.Index(userinfo, ":"); colon >= 0 {
			u.User = userinfo[:colon]
			u.Pass = userinfo[colon+1:]
		} else {
			u.User = userinfo
		}
	}

	if strings.HasPrefix(authority, "[") {
		// IPv6 literal
		end := strings.Index(authority, "]")
		if end < 0 {
			return u, errs.Newf(errs.KindParam, "unterminated ipv6 host: %q", raw)
		}
		u.Host = authority[:end+1]
		remainder := authority[end+1:]
		if strings.HasPrefix(remainder, ":") {
			u.Port = remainder[1:]
		}
	} else if colon := strings.LastIndex(authority, ":"); colon >= 0 {
		u.Host = authority[:colon]
		u.Port = authority[colon+1:]
	} else {
		u.Host = authority
	}

	if rest == "" {
		return u, nil
	}

	if frag := strings.Index(rest, "#"); frag >= 0 {
		u.Fragment = rest[frag+1:]
		rest = rest[:frag]
	}
	if q := strings.Index(rest, "?"); q >= 0 {
		u.Query = rest[q+1:]
		rest = rest[:q]
	}
	u.Path = rest
	return u, nil
}

// AddrSpec parses the simpler "scheme://host:port" form used for
// listen/dial strings, where path/query/fragment and userinfo are absent.
type AddrSpec struct {
	Scheme string
	Host   string
	Port   string
}

// ParseAddrSpec parses raw as scheme://host:port.
func ParseAddrSpec(raw string) (AddrSpec, error) {
	u, err := ParseURL(raw)
	if err != nil {
		return AddrSpec{}, err
	}
	if u.User != "" || u.Pass != "" || u.Path != "" || u.Query != "" || u.Fragment != "" {
		return AddrSpec{}, errs.Newf(errs.KindParam, "addrspec must be scheme://host:port: %q", raw)
	}
	return AddrSpec{Scheme: u.Scheme, Host: u.Host, Port: u.Port}, nil
}

// PortOrDefault returns Port parsed as an integer, or def if Port is empty.
func (u URL) PortOrDefault(def int) (int, error) {
	if u.Port == "" {
		return def, nil
	}
	n, err := strconv.Atoi(u.Port)
	if err != nil {
		return 0, errs.Newf(errs.KindParam, "invalid port %q", u.Port)
	}
	return n, nil
}
