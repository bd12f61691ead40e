package mime

import (
	"strings"
	"testing"
)

func TestParsePlainText(t *testing.T) {
	raw := "From: Alice <alice@example.com>\r\n" +
		"To: Bob <bob@example.com>\r\n" +
		"Subject: hello\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"hi there"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Subject != "hello" {
		t.Errorf("unexpected Subject: %q", msg.Subject)
	}
	if msg.TextBody != "hi there" {
		t.Errorf("unexpected TextBody: %q", msg.TextBody)
	}
	if len(msg.From) != 1 || msg.From[0].Email != "alice@example.com" {
		t.Errorf("unexpected From: %+v", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0].Email != "bob@example.com" {
		t.Errorf("unexpected To: %+v", msg.To)
	}
}

func TestParseMultipartMixedWithAttachment(t *testing.T) {
	raw := "MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"B1\"\r\n" +
		"\r\n" +
		"--B1\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"body text\r\n" +
		"--B1\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"doc.pdf\"\r\n\r\n" +
		"PDF-BYTES\r\n" +
		"--B1--\r\n"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(msg.TextBody, "body text") {
		t.Errorf("unexpected TextBody: %q", msg.TextBody)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "doc.pdf" {
		t.Errorf("unexpected filename: %q", msg.Attachments[0].Filename)
	}
}

func TestParseNestedMultipart(t *testing.T) {
	raw := "MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"OUTER\"\r\n\r\n" +
		"--OUTER\r\n" +
		"Content-Type: multipart/alternative; boundary=\"INNER\"\r\n\r\n" +
		"--INNER\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"plain body\r\n" +
		"--INNER\r\n" +
		"Content-Type: text/html\r\n\r\n" +
		"<p>html body</p>\r\n" +
		"--INNER--\r\n" +
		"--OUTER--\r\n"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !strings.Contains(msg.TextBody, "plain body") {
		t.Errorf("unexpected TextBody: %q", msg.TextBody)
	}
	if !strings.Contains(msg.HTMLBody, "html body") {
		t.Errorf("unexpected HTMLBody: %q", msg.HTMLBody)
	}
}

func TestParseReferencesAndMessageID(t *testing.T) {
	raw := "Message-Id: <abc@example.com>\r\n" +
		"In-Reply-To: <parent@example.com>\r\n" +
		"References: <one@example.com> <two@example.com>\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"body"

	msg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.MessageID != "<abc@example.com>" {
		t.Errorf("unexpected MessageID: %q", msg.MessageID)
	}
	if msg.InReplyTo != "<parent@example.com>" {
		t.Errorf("unexpected InReplyTo: %q", msg.InReplyTo)
	}
	if len(msg.References) != 2 {
		t.Errorf("unexpected References: %+v", msg.References)
	}
}
