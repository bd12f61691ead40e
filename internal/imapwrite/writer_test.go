package imapwrite

import (
	"strconv"
	"strings"
	"testing"

	"github.com/emx-mail/mailcore/internal/imapext"
	"github.com/emx-mail/mailcore/internal/imapexpr"
)

func TestPrintLogin(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdLogin,
		Login: &imapexpr.Login{
			User: "alice",
			Pass: "s3cret",
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a1 LOGIN alice s3cret\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrintLoginQuotesPassword(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdLogin,
		Login: &imapexpr.Login{
			User: "alice",
			Pass: `pass "word"`,
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `a1 LOGIN alice "pass \"word\""` + "\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrintSelectInbox(t *testing.T) {
	mbox := imapexpr.NewMailbox("inbox")
	cmd := &imapexpr.Cmd{Tag: "a1", Type: imapexpr.CmdSelect, Mailbox: &mbox}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 SELECT INBOX\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintSelectLongMailboxNameUsesLiteral(t *testing.T) {
	name := strings.Repeat("a b ", 20) // contains spaces, so never atom-eligible, and > quotedMax bytes
	mbox := imapexpr.NewMailbox(name)
	cmd := &imapexpr.Cmd{Tag: "a1", Type: imapexpr.CmdSelect, Mailbox: &mbox}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a1 SELECT {" + strconv.Itoa(len(name)) + "}\r\n" + name + "\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrintAppendWithFlagsAndTime(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdAppend,
		Append: &imapexpr.Append{
			Mailbox: imapexpr.NewMailbox("Drafts"),
			Flags:   &imapexpr.AppendFlags{Seen: true, Draft: true},
			Time: &imapexpr.Time{
				Year: 2024, Month: 3, Day: 1,
				Hour: 12, Min: 0, Sec: 0,
				ZoneSign: 1, ZoneHour: 0, ZoneMin: 0,
			},
			Content: []byte("Subject: hi\r\n\r\nbody\r\n"),
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `a1 APPEND Drafts (\Seen \Draft) "01-Mar-2024 12:00:00 +0000" {21}` + "\r\n" +
		"Subject: hi\r\n\r\nbody\r\n\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestPrintFetchAttrs(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdFetch,
		Fetch: &imapexpr.Fetch{
			Seqs:  imapexpr.SeqSet{{N1: 1, N2: 3}},
			Attrs: imapexpr.FetchAttrs{Fixed: imapexpr.FetchUID | imapexpr.FetchFlags},
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 FETCH 1:3 (UID FLAGS)\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintFetchBodyPeekSection(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdUIDFetch,
		Fetch: &imapexpr.Fetch{
			Seqs: imapexpr.SeqSet{{N1: 0, N2: 0}},
			Attrs: imapexpr.FetchAttrs{
				Extras: []imapexpr.BodyExtra{{
					Section: imapexpr.Section{Name: "1.TEXT", PartialSet: true, Offset: 0, Length: 1024},
					Peek:    true,
				}},
			},
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 UID FETCH * BODY.PEEK[1.TEXT]<0.1024>\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintFetchChangedSinceRequiresCondstore(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdFetch,
		Fetch: &imapexpr.Fetch{
			Seqs:      imapexpr.SeqSet{{N1: 1, N2: 1}},
			Attrs:     imapexpr.FetchAttrs{Fixed: imapexpr.FetchFlags},
			ModSeqSet: true,
			ModSeq:    42,
		},
	}
	if _, err := Print(cmd, nil); err == nil {
		t.Fatal("expected error when CONDSTORE is Disabled")
	}

	exts := &imapext.Set{CONDSTORE: imapext.Off}
	got, err := Print(cmd, exts)
	if err != nil {
		t.Fatalf("unexpected error once CONDSTORE is Off: %v", err)
	}
	if string(got) != "a1 FETCH 1 FLAGS (CHANGEDSINCE 42)\r\n" {
		t.Fatalf("got %q", got)
	}
	if exts.CONDSTORE != imapext.On {
		t.Fatalf("expected Trigger to flip CONDSTORE on, got %v", exts.CONDSTORE)
	}
}

func TestPrintUIDExpungeRequiresUIDPlus(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:         "a1",
		Type:        imapexpr.CmdUIDExpunge,
		ExpungeSeqs: imapexpr.SeqSet{{N1: 1, N2: 5}},
	}
	if _, err := Print(cmd, nil); err == nil {
		t.Fatal("expected error when UIDPLUS is Disabled")
	}
	exts := &imapext.Set{UIDPLUS: imapext.On}
	got, err := Print(cmd, exts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 UID EXPUNGE 1:5\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintEnableRequiresEnableCapability(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:        "a1",
		Type:       imapexpr.CmdEnable,
		EnableExts: []string{"CONDSTORE", "QRESYNC"},
	}
	if _, err := Print(cmd, nil); err == nil {
		t.Fatal("expected error when ENABLE is Disabled")
	}
	exts := &imapext.Set{ENABLE: imapext.On, CONDSTORE: imapext.Off, QRESYNC: imapext.Off}
	got, err := Print(cmd, exts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 ENABLE CONDSTORE QRESYNC\r\n" {
		t.Fatalf("got %q", got)
	}
	if exts.CONDSTORE != imapext.On || exts.QRESYNC != imapext.On {
		t.Fatalf("expected ENABLE to trigger both, got %+v", exts)
	}
}

func TestPrintStoreSilent(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdStore,
		Store: &imapexpr.Store{
			Seqs:   imapexpr.SeqSet{{N1: 1, N2: 1}},
			Sign:   imapexpr.StoreAdd,
			Silent: true,
			Flags:  imapexpr.AppendFlags{Deleted: true},
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `a1 STORE 1 +FLAGS.SILENT (\Deleted)`+"\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintSearchOrAndNot(t *testing.T) {
	key := &imapexpr.SearchKey{
		Type: imapexpr.SearchOr,
		A:    &imapexpr.SearchKey{Type: imapexpr.SearchSeen},
		B: &imapexpr.SearchKey{
			Type: imapexpr.SearchNot,
			Sub:  &imapexpr.SearchKey{Type: imapexpr.SearchDeleted},
		},
	}
	cmd := &imapexpr.Cmd{
		Tag:    "a1",
		Type:   imapexpr.CmdSearch,
		Search: &imapexpr.Search{Key: key},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 SEARCH OR SEEN NOT DELETED\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestPrintSearchImplicitAndChain(t *testing.T) {
	key := &imapexpr.SearchKey{
		Type: imapexpr.SearchFrom,
		Str:  "boss@example.com",
		Next: &imapexpr.SearchKey{Type: imapexpr.SearchUnseen},
	}
	cmd := &imapexpr.Cmd{
		Tag:    "a1",
		Type:   imapexpr.CmdUIDSearch,
		Search: &imapexpr.Search{Key: key},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 UID SEARCH FROM boss@example.com UNSEEN\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestCmdWriterFillAcrossChunkSizes(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdList,
		List: &imapexpr.List{Ref: imapexpr.NewMailbox(""), Pattern: "*"},
	}
	full, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for chunk := 1; chunk <= len(full)+2; chunk++ {
		w, err := NewCmdWriter(cmd, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var out []byte
		buf := make([]byte, chunk)
		for !w.Done() {
			n, _ := w.Fill(buf)
			if n == 0 {
				t.Fatalf("chunk=%d: Fill made no progress before Done", chunk)
			}
			out = append(out, buf[:n]...)
		}
		if string(out) != string(full) {
			t.Fatalf("chunk=%d: got %q, want %q", chunk, out, full)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	cmd := &imapexpr.Cmd{
		Tag:  "a1",
		Type: imapexpr.CmdStatus,
		Status: &imapexpr.Status{
			Mailbox: imapexpr.NewMailbox("INBOX"),
			Attrs:   imapexpr.StatusAttrSet(imapexpr.StatusAttrMessages | imapexpr.StatusAttrUnseen),
		},
	}
	got, err := Print(cmd, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "a1 STATUS INBOX (MESSAGES UNSEEN)\r\n" {
		t.Fatalf("got %q", got)
	}
}
