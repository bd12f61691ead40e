// Package imapext implements the tri-state extension gating the IMAP
// writer consults before emitting anything tied to an optional capability
// (spec §4.10): UIDPLUS (RFC 4315), ENABLE (RFC 5161), CONDSTORE and
// QRESYNC (RFC 7162). Grounded on original_source/imap_extension.c.
package imapext

import "github.com/emx-mail/mailcore/internal/errs"

// Extension identifies one of the four gated capabilities.
type Extension int

const (
	UIDPLUS Extension = iota
	ENABLE
	CONDSTORE
	QRESYNC
)

func (e Extension) String() string {
	switch e {
	case UIDPLUS:
		return "UIDPLUS"
	case ENABLE:
		return "ENABLE"
	case CONDSTORE:
		return "CONDSTORE"
	case QRESYNC:
		return "QRESYNC"
	default:
		return "UNKNOWN"
	}
}

// State is one extension's current gate.
type State int

const (
	// Disabled means the feature must never be emitted: the writer
	// hasn't seen the server advertise it (or the caller turned it off
	// for good).
	Disabled State = iota
	// Off means the capability is available but not yet engaged (e.g.
	// CONDSTORE before the first CONDSTORE-tagged command).
	Off
	// On means the capability is in active use; some extensions are
	// auto-enabled by the server advertising them, so Off does not
	// always precede On.
	On
)

// Set holds the live gate for every extension this client understands.
// A zero Set has everything Disabled, the safe default before CAPABILITY
// has been seen.
type Set struct {
	UIDPLUS   State
	ENABLE    State
	CONDSTORE State
	QRESYNC   State
}

func (s *Set) stateFor(ext Extension) *State {
	switch ext {
	case UIDPLUS:
		return &s.UIDPLUS
	case ENABLE:
		return &s.ENABLE
	case CONDSTORE:
		return &s.CONDSTORE
	case QRESYNC:
		return &s.QRESYNC
	default:
		return nil
	}
}

// AssertOn fails with a KindParam error unless ext is already On. Used by
// the writer before emitting a command that only makes sense under an
// active extension (UID EXPUNGE under UIDPLUS, and ENABLE itself).
func (s *Set) AssertOn(ext Extension) error {
	st := s.stateFor(ext)
	if st == nil {
		return errs.New(errs.KindInternal, "invalid extension type")
	}
	if *st != On {
		return errs.Newf(errs.KindParam, "%s extension for IMAP is not available", ext)
	}
	return nil
}

// Trigger advances ext from Off to On, or fails if it is Disabled. Used by
// the writer when emitting the command that itself turns an extension on
// (e.g. CONDSTORE is triggered by any command carrying a CONDSTORE
// parameter; QRESYNC by ENABLE QRESYNC).
func (s *Set) Trigger(ext Extension) error {
	st := s.stateFor(ext)
	if st == nil {
		return errs.New(errs.KindInternal, "invalid extension type")
	}
	if *st == Disabled {
		return errs.Newf(errs.KindParam, "%s extension for IMAP is not available", ext)
	}
	*st = On
	return nil
}
