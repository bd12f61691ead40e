package imapwrite

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapexpr"
)

// writeLiteral always emits the {N}\r\n<bytes> form, the one encoding
// that can carry arbitrary bytes (CR, LF, NUL) without escaping. The C
// original prefers a bare atom or quoted string when the content allows
// it and falls back to a literal otherwise; writeAString below makes
// that same choice for short strings. APPEND content is never atom- or
// quoted-string-eligible in practice (message bodies routinely contain
// CRLF), so it always goes out as a literal.
func writeLiteral(b *strings.Builder, content []byte) {
	fmt.Fprintf(b, "{%d}\r\n", len(content))
	b.Write(content)
}

// needsLiteral reports whether s contains a byte a quoted string cannot
// carry (CR, LF, NUL) or is long enough that the C original's skip_fill
// preferred a literal over a quoted string (72 bytes, imap_write.c's
// QUOTED_MAX).
const quotedMax = 72

func needsLiteral(s string) bool {
	if len(s) > quotedMax {
		return true
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\r', '\n', 0:
			return true
		}
	}
	return false
}

// writeAString emits s as a bare atom when every rune qualifies, else a
// quoted string (escaping \ and "), else a literal — the astring rule
// IMAP uses for free-form strings like LOGIN's username/password
// (ie_dstr_t's wire form).
func writeAString(b *strings.Builder, s string) error {
	if imapexpr.ValidateAtom(s) == nil {
		b.WriteString(s)
		return nil
	}
	writeAStringRaw(b, s)
	return nil
}

// writeAStringRaw is writeAString without the bare-atom fast path,
// for values the caller knows may contain wildcard characters ('*',
// '%' in LIST patterns) that are legal in a quoted string but not a
// bare atom.
func writeAStringRaw(b *strings.Builder, s string) {
	if needsLiteral(s) {
		writeLiteral(b, []byte(s))
		return
	}
	writeQuoted(b, s)
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
}

func writeMailbox(b *strings.Builder, m imapexpr.Mailbox) error {
	return writeAString(b, m.String())
}

func writeFlagNames(answered, flagged, deleted, seen, draft, recent bool, keywords, extensions []string) []string {
	var names []string
	if answered {
		names = append(names, `\Answered`)
	}
	if flagged {
		names = append(names, `\Flagged`)
	}
	if deleted {
		names = append(names, `\Deleted`)
	}
	if seen {
		names = append(names, `\Seen`)
	}
	if draft {
		names = append(names, `\Draft`)
	}
	if recent {
		names = append(names, `\Recent`)
	}
	for _, e := range extensions {
		names = append(names, `\`+e)
	}
	names = append(names, keywords...)
	return names
}

func writeAppendFlagsBody(b *strings.Builder, f imapexpr.AppendFlags) {
	names := writeFlagNames(f.Answered, f.Flagged, f.Deleted, f.Seen, f.Draft, false, f.Keywords, f.Extensions)
	b.WriteString(strings.Join(names, " "))
}

func writeSearchKey(b *strings.Builder, k *imapexpr.SearchKey) error {
	first := true
	for cur := k; cur != nil; cur = cur.Next {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		if err := writeOneSearchKey(b, cur); err != nil {
			return err
		}
	}
	return nil
}

func writeOneSearchKey(b *strings.Builder, k *imapexpr.SearchKey) error {
	switch k.Type {
	case imapexpr.SearchAll:
		b.WriteString("ALL")
	case imapexpr.SearchAnswered:
		b.WriteString("ANSWERED")
	case imapexpr.SearchDeleted:
		b.WriteString("DELETED")
	case imapexpr.SearchFlagged:
		b.WriteString("FLAGGED")
	case imapexpr.SearchNew:
		b.WriteString("NEW")
	case imapexpr.SearchOld:
		b.WriteString("OLD")
	case imapexpr.SearchRecent:
		b.WriteString("RECENT")
	case imapexpr.SearchSeen:
		b.WriteString("SEEN")
	case imapexpr.SearchDraft:
		b.WriteString("DRAFT")
	case imapexpr.SearchUndraft:
		b.WriteString("UNDRAFT")
	case imapexpr.SearchUnanswered:
		b.WriteString("UNANSWERED")
	case imapexpr.SearchUndeleted:
		b.WriteString("UNDELETED")
	case imapexpr.SearchUnflagged:
		b.WriteString("UNFLAGGED")
	case imapexpr.SearchUnseen:
		b.WriteString("UNSEEN")
	case imapexpr.SearchSubject:
		b.WriteString("SUBJECT ")
		return writeAString(b, k.Str)
	case imapexpr.SearchBcc:
		b.WriteString("BCC ")
		return writeAString(b, k.Str)
	case imapexpr.SearchBody:
		b.WriteString("BODY ")
		return writeAString(b, k.Str)
	case imapexpr.SearchCc:
		b.WriteString("CC ")
		return writeAString(b, k.Str)
	case imapexpr.SearchFrom:
		b.WriteString("FROM ")
		return writeAString(b, k.Str)
	case imapexpr.SearchKeyword:
		b.WriteString("KEYWORD ")
		return writeAString(b, k.Str)
	case imapexpr.SearchText:
		b.WriteString("TEXT ")
		return writeAString(b, k.Str)
	case imapexpr.SearchTo:
		b.WriteString("TO ")
		return writeAString(b, k.Str)
	case imapexpr.SearchUnkeyword:
		b.WriteString("UNKEYWORD ")
		return writeAString(b, k.Str)
	case imapexpr.SearchHeader:
		b.WriteString("HEADER ")
		if err := writeAString(b, k.Header.Name); err != nil {
			return err
		}
		b.WriteByte(' ')
		return writeAString(b, k.Header.Value)
	case imapexpr.SearchBefore:
		b.WriteString("BEFORE ")
		return writeSearchDate(b, k.Date)
	case imapexpr.SearchOn:
		b.WriteString("ON ")
		return writeSearchDate(b, k.Date)
	case imapexpr.SearchSince:
		b.WriteString("SINCE ")
		return writeSearchDate(b, k.Date)
	case imapexpr.SearchSentBefore:
		b.WriteString("SENTBEFORE ")
		return writeSearchDate(b, k.Date)
	case imapexpr.SearchSentOn:
		b.WriteString("SENTON ")
		return writeSearchDate(b, k.Date)
	case imapexpr.SearchSentSince:
		b.WriteString("SENTSINCE ")
		return writeSearchDate(b, k.Date)
	case imapexpr.SearchLarger:
		b.WriteString("LARGER ")
		b.WriteString(strconv.FormatUint(uint64(k.Num), 10))
	case imapexpr.SearchSmaller:
		b.WriteString("SMALLER ")
		b.WriteString(strconv.FormatUint(uint64(k.Num), 10))
	case imapexpr.SearchUID:
		b.WriteString("UID ")
		writeSeqSet(b, k.SeqSet)
	case imapexpr.SearchSeqSet:
		writeSeqSet(b, k.SeqSet)
	case imapexpr.SearchNot:
		b.WriteString("NOT ")
		return writeSearchKey(b, k.Sub)
	case imapexpr.SearchOr:
		b.WriteString("OR ")
		if err := writeSearchKey(b, k.A); err != nil {
			return err
		}
		b.WriteByte(' ')
		return writeSearchKey(b, k.B)
	case imapexpr.SearchAnd:
		b.WriteByte('(')
		if err := writeSearchKey(b, k.A); err != nil {
			return err
		}
		b.WriteByte(' ')
		if err := writeSearchKey(b, k.B); err != nil {
			return err
		}
		b.WriteByte(')')
	default:
		return errs.Newf(errs.KindInternal, "unknown search key type %d", k.Type)
	}
	return nil
}

// writeSearchDate emits SEARCH's date-only form ("01-Jan-2024"), distinct
// from INTERNALDATE's full timestamp (writeTime in writer.go).
func writeSearchDate(b *strings.Builder, t imapexpr.Time) error {
	if t.Month < 1 || t.Month > 12 {
		return errs.Newf(errs.KindParam, "invalid month %d", t.Month)
	}
	months := [...]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun",
		"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
	fmt.Fprintf(b, "%d-%s-%04d", t.Day, months[t.Month-1], t.Year)
	return nil
}
