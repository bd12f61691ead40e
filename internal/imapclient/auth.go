// SASL authentication support, layered on AUTHENTICATE the same way
// Login layers on bare LOGIN. Only mechanisms that complete in a single
// round trip via RFC 4959 SASL-IR are supported (see imapexpr.Authenticate);
// internal/imapread has no continuation-response ("+") parsing, so a
// mechanism that needs a server challenge cannot be driven here.
package imapclient

import (
	"github.com/emersion/go-sasl"

	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapexpr"
)

// authenticate sends AUTHENTICATE for one already-started SASL client,
// requiring it to produce its initial response without a server challenge.
func (s *Session) authenticate(mech string, client sasl.Client, done func(error)) {
	_, ir, err := client.Start()
	if err != nil {
		done(errs.Wrap(errs.KindSSL, err, "start sasl client"))
		return
	}
	s.send(&imapexpr.Cmd{
		Type: imapexpr.CmdAuthenticate,
		Authenticate: &imapexpr.Authenticate{
			Mechanism:       mech,
			InitialResponse: ir,
		},
	}, nil, func(_ *imapexpr.StResp, err error) {
		if err == nil {
			s.mu.Lock()
			s.state = StateAuthenticated
			s.mu.Unlock()
		}
		done(err)
	})
}

// AuthenticatePlain authenticates with SASL PLAIN (RFC 4616), sent as a
// single AUTHENTICATE command carrying the whole mechanism response via
// SASL-IR rather than waiting for a server continuation.
func (s *Session) AuthenticatePlain(identity, user, pass string, done func(error)) {
	s.authenticate("PLAIN", sasl.NewPlainClient(identity, user, pass), done)
}
