package weblink

import (
	"strings"

	"github.com/emx-mail/mailcore/internal/errs"
)

// LinkParam is one (key, value) parameter attached to a Link-header URL.
type LinkParam struct {
	Key   string
	Value string
}

// LinkEntry is one "<url>; param=value; ..." member of a Link header.
type LinkEntry struct {
	URL    string
	Params []LinkParam
}

// Rel returns the value of the "rel" parameter, or "" if absent.
func (e LinkEntry) Rel() string {
	for _, p := range e.Params {
		if p.Key == "rel" {
			return p.Value
		}
	}
	return ""
}

// maxQuotedParam bounds a single quoted-string parameter value; RFC 8288
// doesn't itself impose a limit, but an unbounded peer-controlled buffer
// is not something this parser will allocate without a ceiling.
const maxQuotedParam = 4096

// ParseLinkHeader parses the full value of one or more combined
// (comma-joined, per RFC 7230 §3.2.2) Link header lines into entries, per
// RFC 8288's grammar: bare and quoted parameter values, with
// backslash-escaped characters in quoted strings unescaped in place.
func ParseLinkHeader(raw string) ([]LinkEntry, error) {
	var entries []LinkEntry
	s := raw
	for {
		s = strings.TrimLeft(s, " \t,")
		if s == "" {
			break
		}
		if s[0] != '<' {
			return nil, errs.Newf(errs.KindParam, "link header missing '<': %q", s)
		}
		end := strings.IndexByte(s, '>')
		if end < 0 {
			return nil, errs.Newf(errs.KindParam, "link header missing '>': %q", s)
		}
		entry := LinkEntry{URL: s[1:end]}
		s = s[end+1:]

		for {
			s = strings.TrimLeft(s, " \t")
			if strings.HasPrefix(s, ";") {
				s = strings.TrimLeft(s[1:], " \t")
				key, rest, err := scanToken(s)
				if err != nil {
					return nil, err
				}
				s = rest
				if !strings.HasPrefix(s, "=") {
					return nil, errs.Newf(errs.KindParam, "link param %q missing value", key)
				}
				s = s[1:]
				var val string
				if strings.HasPrefix(s, "\"") {
					val, s, err = scanQuoted(s)
					if err != nil {
						return nil, err
					}
				} else {
					val, s, err = scanToken(s)
					if err != nil {
						return nil, err
					}
				}
				entry.Params = append(entry.Params, LinkParam{Key: key, Value: val})
				continue
			}
			break
		}
		entries = append(entries, entry)
		s = strings.TrimLeft(s, " \t")
		if strings.HasPrefix(s, ",") {
			s = s[1:]
			continue
		}
		break
	}
	return entries, nil
}

func scanToken(s string) (token, rest string, err error) {
	i := 0
	for i < len(s) && !strings.ContainsRune(" \t;,=", rune(s[i])) {
		i++
	}
	if i == 0 {
		return "", s, errs.Newf(errs.KindParam, "expected token at %q", s)
	}
	return s[:i], s[i:], nil
}

// scanQuoted parses a quoted-string starting at s[0]=='"', unescaping
// backslash-escapes into a bounded buffer (spec §4.3: fixed-size error on
// overflow).
func scanQuoted(s string) (value, rest string, err error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '"' {
			return b.String(), s[i+1:], nil
		}
		if c == '\\' && i+1 < len(s) {
			c = s[i+1]
			i++
		}
		if b.Len() >= maxQuotedParam {
			return "", "", errs.Newf(errs.KindFixedSize, "quoted link param exceeds %d bytes", maxQuotedParam)
		}
		b.WriteByte(c)
		i++
	}
	return "", "", errs.Newf(errs.KindParam, "unterminated quoted string: %q", s)
}
