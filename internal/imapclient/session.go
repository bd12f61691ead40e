// Package imapclient implements the IMAP client session state machine:
// greeting negotiation, CAPABILITY, LOGIN, SELECT/EXAMINE/CLOSE, LIST,
// STATUS, APPEND, SEARCH, FETCH, STORE, COPY, and ENABLE, built over
// internal/imapwrite and internal/imapread (spec §4.8).
//
// Unlike internal/duvhttp, which must juggle many concurrent origin
// connections and therefore drives every byte through a non-blocking
// reactor, one Session owns exactly one already-established connection
// and spec §5 serializes IMAP commands on it one at a time anyway. This
// package keeps duvhttp's queued-operation discipline (see run/pump/
// opDone, mirroring internal/acme.Client) but writes a fully rendered
// command with a single blocking conn.Write, and expects the owner to
// pump inbound bytes into Feed from its own read loop — the same
// feed-driven shape internal/xstream's streams use on the read side,
// without also reactorizing the write side where an IMAP session gains
// nothing from it.
package imapclient

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/emx-mail/mailcore/internal/dstr"
	"github.com/emx-mail/mailcore/internal/errs"
	"github.com/emx-mail/mailcore/internal/imapext"
	"github.com/emx-mail/mailcore/internal/imapexpr"
	"github.com/emx-mail/mailcore/internal/imapread"
	"github.com/emx-mail/mailcore/internal/imapwrite"
	"github.com/emx-mail/mailcore/internal/metrics"
	"github.com/emx-mail/mailcore/internal/statuslog"
)

// State is one node of the session's PREGREET→…→SELECTED progression
// (spec §4.8's state table).
type State int

const (
	StatePregreet State = iota
	StatePrecapa
	StatePreauth
	StateAuthenticated
	StatePreselect
	StateSelected
	StatePreclose
	StateLogout
)

func (s State) String() string {
	switch s {
	case StatePregreet:
		return "PREGREET"
	case StatePrecapa:
		return "PRECAPA"
	case StatePreauth:
		return "PREAUTH"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StatePreselect:
		return "PRESELECT"
	case StateSelected:
		return "SELECTED"
	case StatePreclose:
		return "PRECLOSE"
	case StateLogout:
		return "LOGOUT"
	default:
		return "UNKNOWN"
	}
}

// Options configures a Session.
type Options struct {
	// StrictCapability requires an explicit CAPABILITY round-trip before
	// LOGIN whenever the greeting didn't carry a CAPABILITY response code,
	// rather than assuming an IMAP4rev1 baseline. The zero value is false
	// (relaxed); cmd/imapctl sets it true. A caller that knows its server
	// omits capabilities entirely in both the greeting and a later
	// CAPABILITY response may leave this false to avoid hanging on that
	// round-trip (a supplemented behavior beyond strict RFC 3501 reading —
	// see SPEC_FULL.md's relaxed-CAPABILITY note).
	StrictCapability bool
}

// SelectedMailbox is the server-reported state of the currently SELECTed
// or EXAMINEd mailbox.
type SelectedMailbox struct {
	Name        string
	ReadOnly    bool
	Exists      uint32
	Recent      uint32
	UIDNext     uint32
	UIDValidity uint32
	Unseen      uint32
	Flags       imapexpr.Flags
	PermFlags   imapexpr.PFlags
}

type pendingCmd struct {
	tag     string
	collect func(*imapexpr.Resp)
	done    func(*imapexpr.StResp, error)
}

// Session is one IMAP connection's client-side state machine.
type Session struct {
	conn io.Writer
	opts Options

	log     statuslog.Sink
	metrics metrics.Collector

	rbuf   *dstr.Buf
	reader *imapread.Reader

	mu      sync.Mutex
	state   State
	caps    []string
	exts    imapext.Set
	nextTag int

	running bool
	queue   []func()
	inFlite *pendingCmd

	mbox *SelectedMailbox

	onGreeting func(error)
}

// NewSession wraps conn (already connected, TLS negotiated if needed) in
// a fresh Session awaiting the server's greeting.
func NewSession(conn io.Writer, opts Options, onGreeting func(error)) *Session {
	buf := dstr.New(4096)
	return &Session{
		conn:       conn,
		opts:       opts,
		log:        statuslog.NoopSink,
		metrics:    metrics.NoopCollector{},
		rbuf:       buf,
		reader:     imapread.NewReader(buf),
		state:      StatePregreet,
		onGreeting: onGreeting,
	}
}

// WithLog injects a statuslog.Sink.
func (s *Session) WithLog(l statuslog.Sink) *Session { s.log = l; return s }

// WithMetrics injects a metrics.Collector.
func (s *Session) WithMetrics(m metrics.Collector) *Session { s.metrics = m; return s }

// State reports the session's current position in the state table.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Capabilities returns the most recently learned CAPABILITY list.
func (s *Session) Capabilities() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.caps...)
}

// Mailbox returns the currently selected mailbox's state, or nil if
// nothing is selected.
func (s *Session) Mailbox() *SelectedMailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mbox == nil {
		return nil
	}
	m := *s.mbox
	return &m
}

// Feed appends newly received bytes and drains every complete response
// currently in the buffer. The caller owns the read loop (a net.Conn
// Read in production, a fake transport in tests).
func (s *Session) Feed(data []byte) error {
	if err := s.rbuf.Append(data); err != nil {
		return err
	}
	for {
		ev, err := s.reader.Read()
		if err != nil {
			return err
		}
		if ev == imapread.NeedMoreData {
			return nil
		}
		if err := s.dispatch(s.reader.Resp()); err != nil {
			return err
		}
	}
}

func (s *Session) dispatch(resp *imapexpr.Resp) error {
	s.mu.Lock()
	if s.state == StatePregreet {
		s.mu.Unlock()
		return s.handleGreeting(resp)
	}
	defer s.mu.Unlock()

	if resp.Type == imapexpr.RespStatusType && resp.St.Tag != "" {
		return s.completeTagged(resp.St)
	}
	s.applyUntagged(resp)
	if s.inFlite != nil && s.inFlite.collect != nil {
		s.inFlite.collect(resp)
	}
	return nil
}

func (s *Session) handleGreeting(resp *imapexpr.Resp) error {
	if resp.Type != imapexpr.RespStatusType {
		err := errs.New(errs.KindResponse, "expected a greeting status response")
		s.onGreeting(err)
		return err
	}
	s.mu.Lock()
	switch resp.St.St {
	case imapexpr.StatusOK:
		s.state = StatePrecapa
	case imapexpr.StatusPreauth:
		s.state = StateAuthenticated
	case imapexpr.StatusBye:
		s.mu.Unlock()
		err := errs.Newf(errs.KindConn, "server refused connection: %s", resp.St.Text)
		s.onGreeting(err)
		return err
	default:
		s.mu.Unlock()
		err := errs.Newf(errs.KindResponse, "unexpected greeting status %v", resp.St.St)
		s.onGreeting(err)
		return err
	}
	if resp.St.Code != nil && resp.St.Code.Type == imapexpr.StCodeCapability {
		s.caps = resp.St.Code.Caps
		s.applyCaps()
		if s.state == StatePrecapa {
			s.state = StatePreauth
		}
	}
	s.mu.Unlock()
	s.onGreeting(nil)
	return nil
}

// applyCaps sets extension gates from a freshly learned capability list;
// caller holds s.mu.
func (s *Session) applyCaps() {
	for _, c := range s.caps {
		switch strings.ToUpper(c) {
		case "UIDPLUS":
			// UIDPLUS and ENABLE need no engagement step: advertising
			// them turns them On.
			s.exts.UIDPLUS = imapext.On
		case "ENABLE":
			s.exts.ENABLE = imapext.On
		case "CONDSTORE":
			if s.exts.CONDSTORE == imapext.Disabled {
				s.exts.CONDSTORE = imapext.Off
			}
		case "QRESYNC":
			if s.exts.QRESYNC == imapext.Disabled {
				s.exts.QRESYNC = imapext.Off
			}
		}
	}
}

func (s *Session) applyUntagged(resp *imapexpr.Resp) {
	switch resp.Type {
	case imapexpr.RespCapability:
		s.caps = resp.Caps
		s.applyCaps()
	case imapexpr.RespExists:
		if s.mbox != nil {
			s.mbox.Exists = resp.Num
		}
	case imapexpr.RespRecent:
		if s.mbox != nil {
			s.mbox.Recent = resp.Num
		}
	case imapexpr.RespFlags:
		if s.mbox != nil && resp.Flags != nil {
			s.mbox.Flags = *resp.Flags
		}
	case imapexpr.RespEnabled:
		for _, name := range resp.Enabled {
			switch strings.ToUpper(name) {
			case "CONDSTORE":
				s.exts.CONDSTORE = imapext.On
			case "QRESYNC":
				s.exts.QRESYNC = imapext.On
			}
		}
	case imapexpr.RespStatusType:
		if resp.St.Code != nil {
			s.applyStatusCode(resp.St.Code)
		}
	}
}

func (s *Session) applyStatusCode(code *imapexpr.StCode) {
	if s.mbox == nil {
		return
	}
	switch code.Type {
	case imapexpr.StCodeUIDNext:
		s.mbox.UIDNext = code.Num
	case imapexpr.StCodeUIDValidity:
		s.mbox.UIDValidity = code.Num
	case imapexpr.StCodeUnseen:
		s.mbox.Unseen = code.Num
	case imapexpr.StCodePermFlags:
		s.mbox.PermFlags = code.PermFlags
	case imapexpr.StCodeReadOnly:
		s.mbox.ReadOnly = true
	case imapexpr.StCodeReadWrite:
		s.mbox.ReadOnly = false
	}
}

func (s *Session) completeTagged(st *imapexpr.StResp) error {
	p := s.inFlite
	if p == nil || p.tag != st.Tag {
		return errs.Newf(errs.KindResponse, "unexpected tagged response %q (no matching command)", st.Tag)
	}
	s.inFlite = nil
	var err error
	word := "OK"
	if st.St != imapexpr.StatusOK {
		word = statusWord(st.St)
		err = errs.Newf(errs.KindResponse, "%s %s", word, st.Text)
	}
	s.metrics.IMAPTaggedResponse(word)
	s.running = false
	done := p.done
	s.mu.Unlock()
	done(st, err)
	s.mu.Lock()
	s.popNext()
	return nil
}

func statusWord(st imapexpr.Status) string {
	switch st {
	case imapexpr.StatusNo:
		return "NO"
	case imapexpr.StatusBad:
		return "BAD"
	case imapexpr.StatusBye:
		return "BYE"
	default:
		return "ERROR"
	}
}

// send queues cmd, writing it as soon as no other command is outstanding.
// collect, if non-nil, receives every untagged response that arrives
// while cmd is in flight; done is called exactly once with the tagged
// status response (or a transport error).
func (s *Session) send(cmd *imapexpr.Cmd, collect func(*imapexpr.Resp), done func(*imapexpr.StResp, error)) {
	s.mu.Lock()
	s.nextTag++
	cmd.Tag = fmt.Sprintf("a%d", s.nextTag)
	op := func() {
		s.writeCmd(cmd, collect, done)
	}
	s.queue = append(s.queue, op)
	busy := s.running
	s.mu.Unlock()
	if !busy {
		s.mu.Lock()
		s.popNext()
		s.mu.Unlock()
	}
}

// popNext starts the next queued command if the session is idle. Caller
// holds s.mu.
func (s *Session) popNext() {
	if s.running || len(s.queue) == 0 {
		return
	}
	op := s.queue[0]
	s.queue = s.queue[1:]
	s.running = true
	s.mu.Unlock()
	op()
	s.mu.Lock()
}

func (s *Session) writeCmd(cmd *imapexpr.Cmd, collect func(*imapexpr.Resp), done func(*imapexpr.StResp, error)) {
	s.mu.Lock()
	wire, err := imapwrite.Print(cmd, &s.exts)
	if err != nil {
		s.running = false
		s.mu.Unlock()
		done(nil, err)
		s.mu.Lock()
		s.popNext()
		s.mu.Unlock()
		return
	}
	s.inFlite = &pendingCmd{tag: cmd.Tag, collect: collect, done: done}
	s.mu.Unlock()
	// The command name is the wire token after "<tag> "; UID commands
	// count under "UID".
	name := wire[len(cmd.Tag)+1:]
	for i, c := range name {
		if c == ' ' || c == '\r' {
			name = name[:i]
			break
		}
	}
	s.metrics.IMAPCommandSent(string(name))

	if _, err := s.conn.Write(wire); err != nil {
		s.mu.Lock()
		s.inFlite = nil
		s.running = false
		s.mu.Unlock()
		done(nil, err)
		s.mu.Lock()
		s.popNext()
		s.mu.Unlock()
	}
}

// Capability sends CAPABILITY and reports the learned list.
func (s *Session) Capability(done func([]string, error)) {
	var caps []string
	s.send(&imapexpr.Cmd{Type: imapexpr.CmdCapability}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespCapability {
			caps = r.Caps
		}
	}, func(_ *imapexpr.StResp, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		s.mu.Lock()
		if s.state == StatePrecapa {
			s.state = StatePreauth
		}
		s.mu.Unlock()
		done(caps, nil)
	})
}

// Login authenticates with a bare LOGIN command. With
// Options.StrictCapability set and no capabilities learned yet, it first
// sends CAPABILITY and issues LOGIN once that completes.
func (s *Session) Login(user, pass string, done func(error)) {
	s.mu.Lock()
	needCaps := s.opts.StrictCapability && s.state == StatePrecapa
	s.mu.Unlock()
	if needCaps {
		s.Capability(func(_ []string, err error) {
			if err != nil {
				done(err)
				return
			}
			s.Login(user, pass, done)
		})
		return
	}
	s.send(&imapexpr.Cmd{
		Type:  imapexpr.CmdLogin,
		Login: &imapexpr.Login{User: user, Pass: pass},
	}, nil, func(_ *imapexpr.StResp, err error) {
		if err == nil {
			s.mu.Lock()
			s.state = StateAuthenticated
			s.mu.Unlock()
		}
		done(err)
	})
}

// Logout sends LOGOUT; the server's BYE is consumed as an ordinary
// untagged response, and done fires on the tagged OK that follows it.
func (s *Session) Logout(done func(error)) {
	s.send(&imapexpr.Cmd{Type: imapexpr.CmdLogout}, nil, func(_ *imapexpr.StResp, err error) {
		s.mu.Lock()
		s.state = StateLogout
		s.mu.Unlock()
		done(err)
	})
}

func (s *Session) selectLike(cmdType imapexpr.CmdType, name string, readOnly bool, done func(*SelectedMailbox, error)) {
	mbox := imapexpr.NewMailbox(name)
	box := &SelectedMailbox{Name: mbox.String(), ReadOnly: readOnly}
	s.mu.Lock()
	s.mbox = box
	s.state = StatePreselect
	s.mu.Unlock()
	s.send(&imapexpr.Cmd{Type: cmdType, Mailbox: &mbox}, nil, func(_ *imapexpr.StResp, err error) {
		s.mu.Lock()
		if err != nil {
			s.mbox = nil
			s.state = StateAuthenticated
			s.mu.Unlock()
			done(nil, err)
			return
		}
		s.state = StateSelected
		result := *s.mbox
		s.mu.Unlock()
		done(&result, nil)
	})
}

// Select issues SELECT.
func (s *Session) Select(name string, done func(*SelectedMailbox, error)) {
	s.selectLike(imapexpr.CmdSelect, name, false, done)
}

// Examine issues EXAMINE (read-only SELECT).
func (s *Session) Examine(name string, done func(*SelectedMailbox, error)) {
	s.selectLike(imapexpr.CmdExamine, name, true, done)
}

// Close issues CLOSE, returning the session from SELECTED to
// AUTHENTICATED (spec's supplemented "IMAP CLOSE" operation).
func (s *Session) Close(done func(error)) {
	s.send(&imapexpr.Cmd{Type: imapexpr.CmdClose}, nil, func(_ *imapexpr.StResp, err error) {
		s.mu.Lock()
		if err == nil {
			s.mbox = nil
			s.state = StateAuthenticated
		}
		s.mu.Unlock()
		done(err)
	})
}

// ListEntry is one LIST/LSUB response folded into the mailbox tree.
type ListEntry struct {
	imapexpr.ListResp
	Children []*ListEntry
}

// List issues LIST and assembles the flat response set into a sorted
// hierarchy tree, split on each entry's reported delimiter (spec §4.8's
// "folder LIST accumulation").
func (s *Session) List(ref, pattern string, done func([]*ListEntry, error)) {
	var flat []imapexpr.ListResp
	s.send(&imapexpr.Cmd{
		Type: imapexpr.CmdList,
		List: &imapexpr.List{Ref: imapexpr.NewMailbox(ref), Pattern: pattern},
	}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespList && r.List != nil {
			flat = append(flat, *r.List)
		}
	}, func(_ *imapexpr.StResp, err error) {
		if err != nil {
			done(nil, err)
			return
		}
		done(buildTree(flat), nil)
	})
}

func buildTree(flat []imapexpr.ListResp) []*ListEntry {
	sort.Slice(flat, func(i, j int) bool {
		return flat[i].Mailbox.String() < flat[j].Mailbox.String()
	})
	byPath := make(map[string]*ListEntry, len(flat))
	var roots []*ListEntry
	for _, lr := range flat {
		name := lr.Mailbox.String()
		node := &ListEntry{ListResp: lr}
		byPath[name] = node
		if lr.Delimiter == 0 {
			roots = append(roots, node)
			continue
		}
		idx := strings.LastIndexByte(name, byte(lr.Delimiter))
		if idx < 0 {
			roots = append(roots, node)
			continue
		}
		parentName := name[:idx]
		if parent, ok := byPath[parentName]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}

// Status issues STATUS.
func (s *Session) Status(name string, attrs imapexpr.StatusAttrSet, done func(*imapexpr.StatusResp, error)) {
	var result *imapexpr.StatusResp
	s.send(&imapexpr.Cmd{
		Type:   imapexpr.CmdStatus,
		Status: &imapexpr.Status{Mailbox: imapexpr.NewMailbox(name), Attrs: attrs},
	}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespStatus {
			result = r.StatusResp
		}
	}, func(_ *imapexpr.StResp, err error) {
		done(result, err)
	})
}

// Append issues APPEND.
func (s *Session) Append(mailbox string, flags *imapexpr.AppendFlags, when *imapexpr.Time, content []byte, done func(error)) {
	s.send(&imapexpr.Cmd{
		Type: imapexpr.CmdAppend,
		Append: &imapexpr.Append{
			Mailbox: imapexpr.NewMailbox(mailbox),
			Flags:   flags,
			Time:    when,
			Content: content,
		},
	}, nil, func(_ *imapexpr.StResp, err error) {
		done(err)
	})
}

// Search issues SEARCH or, if uid is true, UID SEARCH.
func (s *Session) Search(uid bool, key *imapexpr.SearchKey, done func([]uint32, error)) {
	cmdType := imapexpr.CmdSearch
	if uid {
		cmdType = imapexpr.CmdUIDSearch
	}
	var nums []uint32
	s.send(&imapexpr.Cmd{
		Type:   cmdType,
		Search: &imapexpr.Search{UIDMode: uid, Key: key},
	}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespSearch {
			nums = r.SearchNums
		}
	}, func(_ *imapexpr.StResp, err error) {
		done(nums, err)
	})
}

// Fetch issues FETCH or, if uid is true, UID FETCH.
func (s *Session) Fetch(uid bool, seqs imapexpr.SeqSet, attrs imapexpr.FetchAttrs, done func([]*imapexpr.FetchResp, error)) {
	cmdType := imapexpr.CmdFetch
	if uid {
		cmdType = imapexpr.CmdUIDFetch
	}
	var results []*imapexpr.FetchResp
	s.send(&imapexpr.Cmd{
		Type:  cmdType,
		Fetch: &imapexpr.Fetch{UIDMode: uid, Seqs: seqs, Attrs: attrs},
	}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespFetch {
			results = append(results, r.Fetch)
		}
	}, func(_ *imapexpr.StResp, err error) {
		done(results, err)
	})
}

// Store issues STORE or, if uid is true, UID STORE.
func (s *Session) Store(uid bool, seqs imapexpr.SeqSet, sign imapexpr.StoreSign, silent bool, flags imapexpr.AppendFlags, done func([]*imapexpr.FetchResp, error)) {
	cmdType := imapexpr.CmdStore
	if uid {
		cmdType = imapexpr.CmdUIDStore
	}
	var results []*imapexpr.FetchResp
	s.send(&imapexpr.Cmd{
		Type: cmdType,
		Store: &imapexpr.Store{
			UIDMode: uid, Seqs: seqs, Sign: sign, Silent: silent, Flags: flags,
		},
	}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespFetch {
			results = append(results, r.Fetch)
		}
	}, func(_ *imapexpr.StResp, err error) {
		done(results, err)
	})
}

// Copy issues COPY or, if uid is true, UID COPY.
func (s *Session) Copy(uid bool, seqs imapexpr.SeqSet, dest string, done func(error)) {
	cmdType := imapexpr.CmdCopy
	if uid {
		cmdType = imapexpr.CmdUIDCopy
	}
	s.send(&imapexpr.Cmd{
		Type: cmdType,
		Copy: &imapexpr.Copy{UIDMode: uid, Seqs: seqs, Dest: imapexpr.NewMailbox(dest)},
	}, nil, func(_ *imapexpr.StResp, err error) {
		done(err)
	})
}

// Enable issues ENABLE.
func (s *Session) Enable(exts []string, done func([]string, error)) {
	var enabled []string
	s.send(&imapexpr.Cmd{Type: imapexpr.CmdEnable, EnableExts: exts}, func(r *imapexpr.Resp) {
		if r.Type == imapexpr.RespEnabled {
			enabled = r.Enabled
		}
	}, func(_ *imapexpr.StResp, err error) {
		done(enabled, err)
	})
}

// SetFolder is a documented stub: the ambient client/directory-manager
// pairing in SPEC_FULL.md's "IMAP CLOSE and SET_FOLDER" section leaves
// SET_FOLDER's maildir-rename semantics unimplemented pending a concrete
// local-rename API on internal/dirmgr. Select/Examine cover the protocol
// side; this is intentionally not wired up yet.
func (s *Session) SetFolder(_ string, done func(error)) {
	done(errs.New(errs.KindInternal, "SetFolder is not implemented"))
}
