// Package mime turns the raw octets an IMAP FETCH BODY[] (or RFC822)
// response section returns into a structured Message, the same
// go-message/go-message-mail-based parse pkgs/email's pop3EntityToMessage
// and parseEntityBody use for POP3 and IMAP bodies.
package mime

import (
	"bytes"
	"io"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/emx-mail/mailcore/internal/errs"
)

// Address is one parsed mailbox from a From/To/Cc header.
type Address struct {
	Name  string
	Email string
}

// Attachment is one part of a multipart message other than the first
// text/plain part, the first text/html part and nested multiparts; later
// text parts land here too.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Message is one parsed RFC 5322 message: its envelope headers plus the
// decoded text/HTML bodies and any attachment parts.
type Message struct {
	From    []Address
	To      []Address
	Cc      []Address
	Subject string
	Date    time.Time

	MessageID  string
	References []string
	InReplyTo  string

	TextBody    string
	HTMLBody    string
	Attachments []Attachment
}

// Parse decodes raw into a Message. raw is the full octet stream of one
// message, as returned by an IMAP "BODY[]" or "RFC822" fetch section.
func Parse(raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, errs.Wrap(errs.KindResponse, err, "parse message")
	}

	msg := &Message{}
	h := mail.Header{Header: entity.Header}

	msg.Subject, _ = h.Subject()
	msg.Date, _ = h.Date()
	msg.MessageID = h.Get("Message-Id")
	msg.InReplyTo = h.Get("In-Reply-To")
	if refs := h.Get("References"); refs != "" {
		msg.References = strings.Fields(refs)
	}

	if from, err := h.AddressList("From"); err == nil {
		msg.From = addrsToAddresses(from)
	}
	if to, err := h.AddressList("To"); err == nil {
		msg.To = addrsToAddresses(to)
	}
	if cc, err := h.AddressList("Cc"); err == nil {
		msg.Cc = addrsToAddresses(cc)
	}

	parseEntityBody(msg, entity)
	return msg, nil
}

func addrsToAddresses(addrs []*mail.Address) []Address {
	out := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Address{Name: a.Name, Email: a.Address})
	}
	return out
}

// parseEntityBody fills in msg's TextBody, HTMLBody and Attachments from
// entity, recursing into nested multiparts (parseEntityBody/parseMultipart).
func parseEntityBody(msg *Message, entity *gomessage.Entity) {
	if mr := entity.MultipartReader(); mr != nil {
		parseMultipart(msg, mr)
	} else {
		parseSinglePart(msg, entity)
	}
}

func parseMultipart(msg *Message, mr gomessage.MultipartReader) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			break
		}
		ct, _, _ := part.Header.ContentType()

		switch {
		case strings.HasPrefix(ct, "text/plain") && msg.TextBody == "":
			if body, err := io.ReadAll(part.Body); err == nil {
				msg.TextBody = string(body)
			}

		case strings.HasPrefix(ct, "text/html") && msg.HTMLBody == "":
			if body, err := io.ReadAll(part.Body); err == nil {
				msg.HTMLBody = string(body)
			}

		case strings.HasPrefix(ct, "multipart/"):
			if nested := part.MultipartReader(); nested != nil {
				parseMultipart(msg, nested)
			}

		default:
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			h := mail.AttachmentHeader{Header: part.Header}
			filename, _ := h.Filename()
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: ct,
				Size:        int64(len(body)),
				Data:        body,
			})
		}
	}
}

func parseSinglePart(msg *Message, entity *gomessage.Entity) {
	ct, _, _ := entity.Header.ContentType()
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		return
	}
	if strings.HasPrefix(ct, "text/html") {
		msg.HTMLBody = string(body)
	} else {
		msg.TextBody = string(body)
	}
}
