// Package imapread parses IMAP server responses from a refillable buffer
// into imapexpr.Resp values, the mirror image of internal/imapwrite
// (spec §4.7/§4.8's "generated-grammar-style reader").
//
// The retrieved original_source pack contains the AST builder functions
// (imap_expression.c) and the pretty-printer (imap_expression_print.c/.h)
// but no bison/flex grammar or hand-written scanner: the IMAP client's
// actual tokenizer was not part of the filtered source set. This reader's
// lexical rules therefore come from RFC 3501's grammar directly, and its
// field order/shape per response type is grounded on
// imap_expression_print.c's print_st_resp/print_list_resp/
// print_status_resp/print_fetch_resp/print_imap_resp (read as the
// canonical description of what each response carries, since printing
// and parsing a line are mirror operations over the same grammar).
package imapread

import (
	"strconv"
	"strings"

	"github.com/emx-mail/mailcore/internal/dstr"
	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapexpr"
)

// Event is the result of one Reader.Read call.
type Event int

const (
	// NeedMoreData means the caller must append bytes to the buffer and
	// call Read again; the buffer may have been left-shifted.
	NeedMoreData Event = iota
	// HaveResponse means Resp() holds one freshly parsed response.
	HaveResponse
)

// Reader parses one imapexpr.Resp at a time from a buffer the caller
// refills incrementally. It never blocks.
type Reader struct {
	buf *dstr.Buf
	pos int
	cur *imapexpr.Resp
}

// NewReader creates a Reader over buf. The caller owns buf and appends
// newly received bytes between Read calls.
func NewReader(buf *dstr.Buf) *Reader {
	return &Reader{buf: buf}
}

// Resp returns the most recently parsed response after a HaveResponse
// event.
func (r *Reader) Resp() *imapexpr.Resp { return r.cur }

// Read advances the parse as far as the buffer allows, returning at most
// one response.
func (r *Reader) Read() (Event, error) {
	b := r.buf.Bytes()
	end, ok := scanResponseEnd(b, r.pos)
	if !ok {
		r.shiftAndWait()
		return NeedMoreData, nil
	}
	line := b[r.pos:end]
	resp, err := parseResponse(trimCRLF(line))
	r.pos = end
	if err != nil {
		return NeedMoreData, err
	}
	r.cur = resp
	return HaveResponse, nil
}

func (r *Reader) shiftAndWait() {
	if r.pos == 0 {
		return
	}
	r.buf.LeftShift(r.pos)
	r.pos = 0
}

func trimCRLF(b []byte) []byte {
	if len(b) >= 2 && b[len(b)-2] == '\r' && b[len(b)-1] == '\n' {
		return b[:len(b)-2]
	}
	return b
}

func findCRLF(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

// scanResponseEnd returns the index just past the CRLF terminating the
// one response starting at start, skipping over any embedded literals'
// raw bytes (which may themselves contain CR/LF) along the way.
//
// Known simplification: a literal marker is recognized anywhere a line
// ends in "{N}" immediately before CRLF, without distinguishing a
// genuine literal announcement from the same three bytes occurring
// inside a quoted string. Real IMAP servers don't emit literal-shaped
// text inside quoted strings at the end of a line, so this holds in
// practice; a byte-exact grammar would track quote state instead.
func scanResponseEnd(b []byte, start int) (int, bool) {
	i := start
	for {
		crlf := findCRLF(b, i)
		if crlf < 0 {
			return 0, false
		}
		if n, ok := trailingLiteralSize(b[i:crlf]); ok {
			litStart := crlf + 2
			need := litStart + n
			if len(b) < need {
				return 0, false
			}
			i = need
			continue
		}
		return crlf + 2, true
	}
}

// trailingLiteralSize reports the N in a trailing "{N}" (or "{N+}", the
// LITERAL+ non-synchronizing form, whose trailing '+' is just skipped).
func trailingLiteralSize(line []byte) (int, bool) {
	if len(line) == 0 || line[len(line)-1] != '}' {
		return 0, false
	}
	end := len(line) - 1
	start := end
	if start > 0 && line[start-1] == '+' {
		start--
	}
	digitsEnd := start
	digitsStart := digitsEnd
	for digitsStart > 0 && line[digitsStart-1] >= '0' && line[digitsStart-1] <= '9' {
		digitsStart--
	}
	if digitsStart == digitsEnd || digitsStart == 0 || line[digitsStart-1] != '{' {
		return 0, false
	}
	n, err := strconv.Atoi(string(line[digitsStart:digitsEnd]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// tok is one whitespace/paren-delimited lexical token extracted from a
// response line, tracking enough position info to recover embedded
// literal payloads and parenthesized groups.
type tok struct {
	text    string // unquoted/unescaped value for atoms and quoted strings
	literal []byte // non-nil for a literal token; text is empty
	isGroup bool   // true for a "(...)" or "[...]" group; paren holds its contents
	paren   []tok
}

func parseResponse(line []byte) (*imapexpr.Resp, error) {
	toks, _, err := tokenize(line, 0, -1)
	if err != nil {
		return nil, err
	}
	if len(toks) < 2 {
		return nil, errs.Newf(errs.KindResponse, "short response: %q", line)
	}
	tag := toks[0].text
	if tag == "*" {
		tag = ""
	}
	second := strings.ToUpper(toks[1].text)
	switch second {
	case "OK", "NO", "BAD", "BYE", "PREAUTH":
		st, err := parseStatusTail(tag, second, toks[2:])
		if err != nil {
			return nil, err
		}
		return &imapexpr.Resp{Type: imapexpr.RespStatusType, St: st}, nil
	}
	if tag != "" {
		return nil, errs.Newf(errs.KindResponse, "unexpected tagged response: %q", line)
	}
	// Untagged data response: toks[1] is either a bare keyword or, for
	// "<n> EXISTS/RECENT/EXPUNGE/FETCH", a number.
	if n, ok := parseUint(toks[1].text); ok {
		if len(toks) < 3 {
			return nil, errs.Newf(errs.KindResponse, "missing response type after number: %q", line)
		}
		switch strings.ToUpper(toks[2].text) {
		case "EXISTS":
			return &imapexpr.Resp{Type: imapexpr.RespExists, Num: n}, nil
		case "RECENT":
			return &imapexpr.Resp{Type: imapexpr.RespRecent, Num: n}, nil
		case "EXPUNGE":
			return &imapexpr.Resp{Type: imapexpr.RespExpunge, Num: n}, nil
		case "FETCH":
			if len(toks) < 4 || !toks[3].isGroup {
				return nil, errs.Newf(errs.KindResponse, "malformed FETCH response: %q", line)
			}
			fr, err := parseFetchResp(n, toks[3].paren)
			if err != nil {
				return nil, err
			}
			return &imapexpr.Resp{Type: imapexpr.RespFetch, Fetch: fr}, nil
		}
		return nil, errs.Newf(errs.KindResponse, "unknown numbered response: %q", line)
	}
	switch strings.ToUpper(toks[1].text) {
	case "CAPABILITY":
		return &imapexpr.Resp{Type: imapexpr.RespCapability, Caps: atomTexts(toks[2:])}, nil
	case "FLAGS":
		if len(toks) < 3 || !toks[2].isGroup {
			return nil, errs.Newf(errs.KindResponse, "malformed FLAGS response: %q", line)
		}
		f := parseFlags(toks[2].paren)
		return &imapexpr.Resp{Type: imapexpr.RespFlags, Flags: &f}, nil
	case "LIST", "LSUB":
		lr, err := parseListResp(toks[2:])
		if err != nil {
			return nil, err
		}
		typ := imapexpr.RespList
		if strings.ToUpper(toks[1].text) == "LSUB" {
			typ = imapexpr.RespLSub
		}
		return &imapexpr.Resp{Type: typ, List: lr}, nil
	case "STATUS":
		sr, err := parseStatusResp(toks[2:])
		if err != nil {
			return nil, err
		}
		return &imapexpr.Resp{Type: imapexpr.RespStatus, StatusResp: sr}, nil
	case "SEARCH":
		nums, err := parseNums(toks[2:])
		if err != nil {
			return nil, err
		}
		return &imapexpr.Resp{Type: imapexpr.RespSearch, SearchNums: nums}, nil
	case "ENABLED":
		return &imapexpr.Resp{Type: imapexpr.RespEnabled, Enabled: atomTexts(toks[2:])}, nil
	}
	return nil, errs.Newf(errs.KindResponse, "unrecognized response: %q", line)
}

func parseUint(s string) (uint32, bool) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func atomTexts(toks []tok) []string {
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		out = append(out, t.text)
	}
	return out
}

func parseNums(toks []tok) ([]uint32, error) {
	out := make([]uint32, 0, len(toks))
	for _, t := range toks {
		n, ok := parseUint(t.text)
		if !ok {
			return nil, errs.Newf(errs.KindResponse, "expected number, got %q", t.text)
		}
		out = append(out, n)
	}
	return out, nil
}

func parseStatusTail(tag, status string, rest []tok) (*imapexpr.StResp, error) {
	st := statusFromWord(status)
	var code *imapexpr.StCode
	i := 0
	if i < len(rest) && rest[i].isGroup {
		c, err := parseStCode(rest[i].paren)
		if err != nil {
			return nil, err
		}
		code = c
		i++
	}
	var text []string
	for ; i < len(rest); i++ {
		text = append(text, rest[i].text)
	}
	return &imapexpr.StResp{Tag: tag, St: st, Code: code, Text: strings.Join(text, " ")}, nil
}

func statusFromWord(s string) imapexpr.Status {
	switch strings.ToUpper(s) {
	case "OK":
		return imapexpr.StatusOK
	case "NO":
		return imapexpr.StatusNo
	case "BAD":
		return imapexpr.StatusBad
	case "PREAUTH":
		return imapexpr.StatusPreauth
	case "BYE":
		return imapexpr.StatusBye
	}
	return imapexpr.StatusBad
}

// parseStCode parses the contents of a "[CODE ...]" bracketed group; the
// group delimiters themselves were stripped by the caller via the square-
// bracket paren form tokenize produces.
func parseStCode(toks []tok) (*imapexpr.StCode, error) {
	if len(toks) == 0 {
		return nil, errs.New(errs.KindResponse, "empty status code")
	}
	name := strings.ToUpper(toks[0].text)
	code := &imapexpr.StCode{}
	switch name {
	case "ALERT":
		code.Type = imapexpr.StCodeAlert
	case "PARSE":
		code.Type = imapexpr.StCodeParse
	case "READ-ONLY":
		code.Type = imapexpr.StCodeReadOnly
	case "READ-WRITE":
		code.Type = imapexpr.StCodeReadWrite
	case "TRYCREATE":
		code.Type = imapexpr.StCodeTryCreate
	case "UIDNEXT":
		code.Type = imapexpr.StCodeUIDNext
		if n, ok := numAt(toks, 1); ok {
			code.Num = n
		}
	case "UIDVALIDITY":
		code.Type = imapexpr.StCodeUIDValidity
		if n, ok := numAt(toks, 1); ok {
			code.Num = n
		}
	case "UNSEEN":
		code.Type = imapexpr.StCodeUnseen
		if n, ok := numAt(toks, 1); ok {
			code.Num = n
		}
	case "HIGHESTMODSEQ":
		code.Type = imapexpr.StCodeHighestModSeq
		if n, ok := numAt(toks, 1); ok {
			code.Num = uint32(n)
		}
	case "NOMODSEQ":
		code.Type = imapexpr.StCodeNoModSeq
	case "PERMANENTFLAGS":
		code.Type = imapexpr.StCodePermFlags
		if len(toks) > 1 && toks[1].isGroup {
			code.PermFlags = parsePFlags(toks[1].paren)
		}
	case "CAPABILITY":
		code.Type = imapexpr.StCodeCapability
		code.Caps = atomTexts(toks[1:])
	case "APPENDUID":
		code.Type = imapexpr.StCodeAppendUID
		if n, ok := numAt(toks, 1); ok {
			code.AppendUID.UIDValidity = n
		}
		if n, ok := numAt(toks, 2); ok {
			code.AppendUID.UID = n
		}
	case "COPYUID":
		code.Type = imapexpr.StCodeCopyUID
		if n, ok := numAt(toks, 1); ok {
			code.CopyUID.UIDValidity = n
		}
		if len(toks) > 2 {
			code.CopyUID.SrcUIDs = parseSeqSet(toks[2].text)
		}
		if len(toks) > 3 {
			code.CopyUID.DstUIDs = parseSeqSet(toks[3].text)
		}
	default:
		code.Type = imapexpr.StCodeNone
		code.Text = name
	}
	return code, nil
}

func numAt(toks []tok, i int) (uint32, bool) {
	if i >= len(toks) {
		return 0, false
	}
	return parseUint(toks[i].text)
}

func parsePFlags(toks []tok) imapexpr.PFlags {
	var p imapexpr.PFlags
	for _, t := range toks {
		if t.text == `\*` {
			p.AllowsNew = true
			continue
		}
		applyFlagName(&p.Flags, t.text)
	}
	return p
}

func parseFlags(toks []tok) imapexpr.Flags {
	var f imapexpr.Flags
	for _, t := range toks {
		applyFlagName(&f, t.text)
	}
	return f
}

func applyFlagName(f *imapexpr.Flags, name string) {
	switch strings.ToLower(name) {
	case `\answered`:
		f.Answered = true
	case `\flagged`:
		f.Flagged = true
	case `\deleted`:
		f.Deleted = true
	case `\seen`:
		f.Seen = true
	case `\draft`:
		f.Draft = true
	case `\recent`:
		f.Recent = true
	default:
		if strings.HasPrefix(name, `\`) {
			f.Extensions = append(f.Extensions, strings.TrimPrefix(name, `\`))
		} else {
			f.Keywords = append(f.Keywords, name)
		}
	}
}

func parseListResp(toks []tok) (*imapexpr.ListResp, error) {
	if len(toks) < 3 || !toks[0].isGroup {
		return nil, errs.New(errs.KindResponse, "malformed LIST response")
	}
	var mf imapexpr.MFlags
	for _, t := range toks[0].paren {
		switch strings.ToLower(t.text) {
		case `\noinferiors`:
			mf.Noinferiors = true
		case `\noselect`:
			mf.Noselect = true
		case `\marked`:
			mf.Marked = true
		case `\unmarked`:
			mf.Unmarked = true
		case `\haschildren`:
			mf.HasChildren = true
		case `\hasnochildren`:
			mf.HasNoChildren = true
		default:
			mf.Extensions = append(mf.Extensions, strings.TrimPrefix(t.text, `\`))
		}
	}
	var delim rune
	if toks[1].text != "NIL" && len(toks[1].text) > 0 {
		delim = rune(toks[1].text[0])
	}
	mbox := imapexpr.NewMailbox(toks[2].text)
	return &imapexpr.ListResp{Flags: mf, Delimiter: delim, Mailbox: mbox}, nil
}

func parseStatusResp(toks []tok) (*imapexpr.StatusResp, error) {
	if len(toks) < 2 || !toks[1].isGroup {
		return nil, errs.New(errs.KindResponse, "malformed STATUS response")
	}
	sr := &imapexpr.StatusResp{Mailbox: imapexpr.NewMailbox(toks[0].text)}
	attrs := toks[1].paren
	for i := 0; i+1 < len(attrs); i += 2 {
		n, ok := parseUint(attrs[i+1].text)
		if !ok {
			return nil, errs.Newf(errs.KindResponse, "expected number after %q", attrs[i].text)
		}
		v := n
		switch strings.ToUpper(attrs[i].text) {
		case "MESSAGES":
			sr.Messages = &v
		case "RECENT":
			sr.Recent = &v
		case "UIDNEXT":
			sr.UIDNext = &v
		case "UIDVALIDITY":
			sr.UIDValidity = &v
		case "UNSEEN":
			sr.Unseen = &v
		}
	}
	return sr, nil
}

func parseFetchResp(seqNum uint32, toks []tok) (*imapexpr.FetchResp, error) {
	fr := &imapexpr.FetchResp{SeqNum: seqNum}
	for i := 0; i < len(toks); i++ {
		name := strings.ToUpper(toks[i].text)
		switch name {
		case "UID":
			i++
			if n, ok := numAt(toks, i); ok {
				fr.UID = &n
			}
		case "FLAGS":
			i++
			if i < len(toks) && toks[i].isGroup {
				f := parseFlags(toks[i].paren)
				fr.Flags = &f
			}
		case "RFC822.SIZE":
			i++
			if n, ok := numAt(toks, i); ok {
				fr.RFC822Size = &n
			}
		case "MODSEQ":
			i++
			if i < len(toks) && toks[i].isGroup && len(toks[i].paren) == 1 {
				if n, err := strconv.ParseUint(toks[i].paren[0].text, 10, 64); err == nil {
					fr.ModSeq = &n
				}
			}
		case "INTERNALDATE":
			i++
			// the value token is skipped and not kept:
			// FetchResp.InternalDate is never populated by this reader.
		default:
			if name == "BODY" || name == "BODY.PEEK" {
				i++
				if i >= len(toks) || !toks[i].isGroup {
					return nil, errs.Newf(errs.KindResponse, "%s missing [section]", name)
				}
				sec := imapexpr.Section{Name: flattenGroup(toks[i].paren)}
				i++
				var origin uint32
				if i < len(toks) && strings.HasPrefix(toks[i].text, "<") {
					if n, ok := parseUint(strings.Trim(toks[i].text, "<>")); ok {
						origin = n
						i++
					}
				}
				var data []byte
				if i < len(toks) {
					data = toks[i].literal
				}
				fr.Sections = append(fr.Sections, imapexpr.FetchBodySection{
					Section: sec, Origin: origin, Data: data,
				})
			}
		}
	}
	return fr, nil
}

// parseSeqSet parses a comma-separated "n1:n2,n3" sequence set, the wire
// form internal/imapwrite emits (writeSeqSet's mirror).
func parseSeqSet(s string) imapexpr.SeqSet {
	var set imapexpr.SeqSet
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		var n1, n2 uint32
		if idx := strings.IndexByte(part, ':'); idx >= 0 {
			n1 = parseSeqNum(part[:idx])
			n2 = parseSeqNum(part[idx+1:])
		} else {
			n1 = parseSeqNum(part)
			n2 = n1
		}
		set = append(set, imapexpr.SeqSpec{N1: n1, N2: n2})
	}
	return set
}

func parseSeqNum(s string) uint32 {
	if s == "*" {
		return 0
	}
	n, _ := parseUint(s)
	return n
}
