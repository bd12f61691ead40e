package imapread

import (
	"testing"

	"github.com/emx-mail/mailcore/internal/dstr"
	"github.com/emx-mail/mailcore/internal/imapexpr"
)

func mustRead(t *testing.T, wire string) *imapexpr.Resp {
	t.Helper()
	buf := dstr.New(256)
	if err := buf.AppendString(wire); err != nil {
		t.Fatalf("append: %v", err)
	}
	r := NewReader(buf)
	ev, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != HaveResponse {
		t.Fatalf("expected HaveResponse, got event %v", ev)
	}
	return r.Resp()
}

func TestReadTaggedOK(t *testing.T) {
	resp := mustRead(t, "a1 OK LOGIN completed\r\n")
	if resp.Type != imapexpr.RespStatusType {
		t.Fatalf("wrong type: %v", resp.Type)
	}
	if resp.St.Tag != "a1" || resp.St.St != imapexpr.StatusOK {
		t.Fatalf("got %+v", resp.St)
	}
	if resp.St.Text != "LOGIN completed" {
		t.Fatalf("got text %q", resp.St.Text)
	}
}

func TestReadUntaggedOKWithCode(t *testing.T) {
	resp := mustRead(t, "* OK [UIDVALIDITY 3857529045] UIDs valid\r\n")
	if resp.St.Tag != "" || resp.St.St != imapexpr.StatusOK {
		t.Fatalf("got %+v", resp.St)
	}
	if resp.St.Code == nil || resp.St.Code.Type != imapexpr.StCodeUIDValidity || resp.St.Code.Num != 3857529045 {
		t.Fatalf("got code %+v", resp.St.Code)
	}
	if resp.St.Text != "UIDs valid" {
		t.Fatalf("got text %q", resp.St.Text)
	}
}

func TestReadPermanentFlagsCode(t *testing.T) {
	resp := mustRead(t, `a1 OK [PERMANENTFLAGS (\Deleted \Seen \*)] Limited`+"\r\n")
	code := resp.St.Code
	if code == nil || code.Type != imapexpr.StCodePermFlags {
		t.Fatalf("got %+v", code)
	}
	if !code.PermFlags.Deleted || !code.PermFlags.Seen || !code.PermFlags.AllowsNew {
		t.Fatalf("got %+v", code.PermFlags)
	}
}

func TestReadCapability(t *testing.T) {
	resp := mustRead(t, "* CAPABILITY IMAP4rev1 STARTTLS AUTH=PLAIN\r\n")
	if resp.Type != imapexpr.RespCapability {
		t.Fatalf("wrong type: %v", resp.Type)
	}
	want := []string{"IMAP4rev1", "STARTTLS", "AUTH=PLAIN"}
	if len(resp.Caps) != len(want) {
		t.Fatalf("got %v", resp.Caps)
	}
	for i, c := range want {
		if resp.Caps[i] != c {
			t.Fatalf("index %d: got %q want %q", i, resp.Caps[i], c)
		}
	}
}

func TestReadExistsRecentExpunge(t *testing.T) {
	if r := mustRead(t, "* 172 EXISTS\r\n"); r.Type != imapexpr.RespExists || r.Num != 172 {
		t.Fatalf("got %+v", r)
	}
	if r := mustRead(t, "* 1 RECENT\r\n"); r.Type != imapexpr.RespRecent || r.Num != 1 {
		t.Fatalf("got %+v", r)
	}
	if r := mustRead(t, "* 5 EXPUNGE\r\n"); r.Type != imapexpr.RespExpunge || r.Num != 5 {
		t.Fatalf("got %+v", r)
	}
}

func TestReadListResp(t *testing.T) {
	resp := mustRead(t, `* LIST (\HasNoChildren) "/" INBOX.Sent`+"\r\n")
	if resp.Type != imapexpr.RespList {
		t.Fatalf("wrong type: %v", resp.Type)
	}
	if !resp.List.Flags.HasNoChildren {
		t.Fatalf("got %+v", resp.List.Flags)
	}
	if resp.List.Delimiter != '/' {
		t.Fatalf("got delimiter %q", resp.List.Delimiter)
	}
	if resp.List.Mailbox.Name != "INBOX.Sent" {
		t.Fatalf("got mailbox %+v", resp.List.Mailbox)
	}
}

func TestReadStatusResp(t *testing.T) {
	resp := mustRead(t, "* STATUS INBOX (MESSAGES 231 UIDNEXT 44292)\r\n")
	sr := resp.StatusResp
	if sr == nil || sr.Messages == nil || *sr.Messages != 231 {
		t.Fatalf("got %+v", sr)
	}
	if sr.UIDNext == nil || *sr.UIDNext != 44292 {
		t.Fatalf("got %+v", sr)
	}
}

func TestReadSearch(t *testing.T) {
	resp := mustRead(t, "* SEARCH 2 84 882\r\n")
	want := []uint32{2, 84, 882}
	if len(resp.SearchNums) != len(want) {
		t.Fatalf("got %v", resp.SearchNums)
	}
	for i := range want {
		if resp.SearchNums[i] != want[i] {
			t.Fatalf("got %v want %v", resp.SearchNums, want)
		}
	}
}

func TestReadFetchWithLiteralSection(t *testing.T) {
	body := "Subject: hi\r\n\r\nhello\r\n"
	wire := "* 12 FETCH (UID 99 FLAGS (\\Seen) BODY[TEXT] {" +
		itoa(len(body)) + "}\r\n" + body + ")\r\n"
	resp := mustRead(t, wire)
	if resp.Type != imapexpr.RespFetch {
		t.Fatalf("wrong type: %v", resp.Type)
	}
	fr := resp.Fetch
	if fr.SeqNum != 12 {
		t.Fatalf("got seqnum %d", fr.SeqNum)
	}
	if fr.UID == nil || *fr.UID != 99 {
		t.Fatalf("got uid %+v", fr.UID)
	}
	if fr.Flags == nil || !fr.Flags.Seen {
		t.Fatalf("got flags %+v", fr.Flags)
	}
	if len(fr.Sections) != 1 || fr.Sections[0].Section.Name != "TEXT" {
		t.Fatalf("got sections %+v", fr.Sections)
	}
	if string(fr.Sections[0].Data) != body {
		t.Fatalf("got body %q", fr.Sections[0].Data)
	}
}

func TestReadFetchHeaderFieldsSection(t *testing.T) {
	data := "From: a@b\r\n"
	wire := "* 1 FETCH (BODY.PEEK[HEADER.FIELDS (From To)]<0> {" +
		itoa(len(data)) + "}\r\n" + data + ")\r\n"
	resp := mustRead(t, wire)
	fr := resp.Fetch
	if len(fr.Sections) != 1 {
		t.Fatalf("got %+v", fr.Sections)
	}
	sec := fr.Sections[0]
	if sec.Section.Name != "HEADER.FIELDS (From To)" {
		t.Fatalf("got section name %q", sec.Section.Name)
	}
	if sec.Origin != 0 {
		t.Fatalf("got origin %d", sec.Origin)
	}
	if string(sec.Data) != data {
		t.Fatalf("got data %q", sec.Data)
	}
}

func TestReadEnabled(t *testing.T) {
	resp := mustRead(t, "* ENABLED CONDSTORE QRESYNC\r\n")
	if resp.Type != imapexpr.RespEnabled {
		t.Fatalf("wrong type: %v", resp.Type)
	}
	if len(resp.Enabled) != 2 || resp.Enabled[0] != "CONDSTORE" || resp.Enabled[1] != "QRESYNC" {
		t.Fatalf("got %v", resp.Enabled)
	}
}

func TestReaderNeedsMoreDataAcrossLiteral(t *testing.T) {
	body := "hello world"
	wire := "* 1 FETCH (BODY[TEXT] {" + itoa(len(body)) + "}\r\n" + body + ")\r\n"
	buf := dstr.New(256)
	r := NewReader(buf)

	// Feed everything up to five bytes into the literal's payload.
	splitAt := len(wire) - len(body) - len(")\r\n") + 5 // mid-literal
	if err := buf.AppendString(wire[:splitAt]); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev, err := r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != NeedMoreData {
		t.Fatalf("expected NeedMoreData before literal completes, got %v", ev)
	}
	if err := buf.AppendString(wire[splitAt:]); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev, err = r.Read()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != HaveResponse {
		t.Fatalf("expected HaveResponse once literal completes, got %v", ev)
	}
	if string(r.Resp().Fetch.Sections[0].Data) != body {
		t.Fatalf("got %q", r.Resp().Fetch.Sections[0].Data)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	if neg {
		return "-" + string(digits)
	}
	return string(digits)
}
