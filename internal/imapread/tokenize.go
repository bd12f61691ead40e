package imapread

import (
	"strconv"
	"strings"

	"github.com/emx-mail/mailcore/internal/errs"
)

// tokenize splits b[pos:] into whitespace-delimited tokens, honoring
// quoted strings, literals ("{N}\r\n" followed by N raw bytes), and
// parenthesized/bracketed groups (which nest recursively into tok.paren).
// closeByte is the byte that ends the current group (')' or ']'), or -1
// at the top level, where tokenize runs to the end of b.
func tokenize(b []byte, pos int, closeByte int) ([]tok, int, error) {
	var toks []tok
	for pos < len(b) {
		c := b[pos]
		if c == ' ' {
			pos++
			continue
		}
		if closeByte != -1 && int(c) == closeByte {
			return toks, pos + 1, nil
		}
		switch c {
		case '(':
			inner, next, err := tokenize(b, pos+1, int(')'))
			if err != nil {
				return nil, 0, err
			}
			toks = append(toks, tok{isGroup: true, paren: inner})
			pos = next
		case '[':
			inner, next, err := tokenize(b, pos+1, int(']'))
			if err != nil {
				return nil, 0, err
			}
			toks = append(toks, tok{isGroup: true, paren: inner})
			pos = next
		case '"':
			text, next, err := scanQuoted(b, pos+1)
			if err != nil {
				return nil, 0, err
			}
			toks = append(toks, tok{text: text})
			pos = next
		case '{':
			lit, next, err := scanLiteral(b, pos)
			if err != nil {
				return nil, 0, err
			}
			toks = append(toks, tok{literal: lit})
			pos = next
		default:
			start := pos
			for pos < len(b) {
				switch b[pos] {
				case ' ', '(', ')', '[', ']':
					goto doneAtom
				}
				pos++
			}
		doneAtom:
			toks = append(toks, tok{text: string(b[start:pos])})
		}
	}
	if closeByte != -1 {
		return nil, 0, errs.New(errs.KindResponse, "unterminated group in response")
	}
	return toks, pos, nil
}

func scanQuoted(b []byte, pos int) (string, int, error) {
	var sb strings.Builder
	for pos < len(b) {
		c := b[pos]
		if c == '"' {
			return sb.String(), pos + 1, nil
		}
		if c == '\\' && pos+1 < len(b) {
			pos++
			c = b[pos]
		}
		sb.WriteByte(c)
		pos++
	}
	return "", 0, errs.New(errs.KindResponse, "unterminated quoted string")
}

func scanLiteral(b []byte, pos int) ([]byte, int, error) {
	end := pos + 1
	for end < len(b) && b[end] != '}' {
		end++
	}
	if end >= len(b) {
		return nil, 0, errs.New(errs.KindResponse, "unterminated literal size marker")
	}
	numStr := strings.TrimSuffix(string(b[pos+1:end]), "+")
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return nil, 0, errs.Newf(errs.KindResponse, "invalid literal size %q", numStr)
	}
	dataStart := end + 1
	if dataStart+1 >= len(b) || b[dataStart] != '\r' || b[dataStart+1] != '\n' {
		return nil, 0, errs.New(errs.KindResponse, "literal size marker not followed by CRLF")
	}
	dataStart += 2
	if dataStart+n > len(b) {
		return nil, 0, errs.New(errs.KindResponse, "literal runs past end of response")
	}
	return b[dataStart : dataStart+n], dataStart + n, nil
}

// flattenGroup renders a parenthesized token list back to the bracket
// text a FETCH section specifier carries (e.g. "HEADER.FIELDS (To
// From)"), the reverse of internal/imapwrite's Section.Name emission.
func flattenGroup(toks []tok) string {
	parts := make([]string, 0, len(toks))
	for _, t := range toks {
		if t.isGroup {
			parts = append(parts, "("+flattenGroup(t.paren)+")")
		} else {
			parts = append(parts, t.text)
		}
	}
	return strings.Join(parts, " ")
}
