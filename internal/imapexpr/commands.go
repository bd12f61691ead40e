package imapexpr

// CmdType enumerates every client-role command this AST can represent
// (imap_cmd_type_t, narrowed to the client-only subset: no IMAP server
// commands).
type CmdType int

const (
	CmdCapability CmdType = iota
	CmdNoop
	CmdLogout
	CmdStartTLS
	CmdLogin
	CmdSelect
	CmdExamine
	CmdCreate
	CmdDelete
	CmdRename
	CmdSubscribe
	CmdUnsubscribe
	CmdList
	CmdLSub
	CmdStatus
	CmdAppend
	CmdCheck
	CmdClose
	CmdExpunge
	CmdSearch
	CmdFetch
	CmdStore
	CmdCopy
	CmdEnable
	CmdUIDSearch
	CmdUIDFetch
	CmdUIDStore
	CmdUIDCopy
	CmdUIDExpunge // UIDPLUS
	CmdAuthenticate
)

// Authenticate is AUTHENTICATE's arguments: a SASL mechanism name and its
// initial response, already computed by the caller (ie_login_cmd_t's
// SASL sibling). Only mechanisms that complete in one round trip via
// RFC 4959 SASL-IR are representable this way; a mechanism needing a
// server challenge would need continuation-response support this AST
// does not carry.
type Authenticate struct {
	Mechanism       string
	InitialResponse []byte
}

// Login is LOGIN's arguments (ie_login_cmd_t).
type Login struct {
	User, Pass string
}

// Rename is RENAME's arguments (ie_rename_cmd_t).
type Rename struct {
	Old, New Mailbox
}

// List is LIST/LSUB's arguments: a reference mailbox plus a pattern that
// may itself contain '*'/'%' wildcards, so it is carried as a raw string
// rather than a Mailbox (ie_list_cmd_t).
type List struct {
	Ref     Mailbox
	Pattern string
}

// Status is STATUS's arguments (ie_status_cmd_t).
type Status struct {
	Mailbox Mailbox
	Attrs   StatusAttrSet
}

// Append is APPEND's arguments. Flags and Time are optional (Flags nil,
// Time the zero value means "omit") (ie_append_cmd_t).
type Append struct {
	Mailbox Mailbox
	Flags   *AppendFlags
	Time    *Time
	Content []byte
}

// Search is SEARCH/UID SEARCH's arguments. Charset is usually empty
// (meaning US-ASCII, the default) (ie_search_cmd_t).
type Search struct {
	UIDMode bool
	Charset string
	Key     *SearchKey
}

// Fetch is FETCH/UID FETCH's arguments. ModSeq, when ModSeqSet, requests
// CONDSTORE's "(CHANGEDSINCE n)" modifier (ie_fetch_cmd_t).
type Fetch struct {
	UIDMode  bool
	Seqs     SeqSet
	Attrs    FetchAttrs
	ModSeqSet bool
	ModSeq    uint64
}

// Store is STORE/UID STORE's arguments. Sign selects add (+FLAGS),
// remove (-FLAGS), or replace (FLAGS); Silent suppresses the untagged
// FETCH response the server would otherwise send back (ie_store_cmd_t).
type Store struct {
	UIDMode   bool
	Seqs      SeqSet
	Sign      StoreSign
	Silent    bool
	Flags     AppendFlags
	ModSeqSet bool
	UnchangedSince uint64
}

// StoreSign selects STORE's flag operation.
type StoreSign int

const (
	StoreReplace StoreSign = iota
	StoreAdd
	StoreRemove
)

// Copy is COPY/UID COPY's arguments (ie_copy_cmd_t).
type Copy struct {
	UIDMode bool
	Seqs    SeqSet
	Dest    Mailbox
}

// Cmd is one client command: a tag plus a type tag selecting which of
// the payload fields is meaningful (imap_cmd_t, a tagged union in the C
// original; Go represents the union as a set of optional pointer/value
// fields instead of an actual union, since the memory-layout sharing
// that motivates a C union has no analogue here).
type Cmd struct {
	Tag  string
	Type CmdType

	Login      *Login
	Mailbox    *Mailbox // SELECT/EXAMINE/CREATE/DELETE/SUBSCRIBE/UNSUBSCRIBE
	Rename     *Rename
	List       *List
	Status     *Status
	Append     *Append
	Search     *Search
	Fetch      *Fetch
	Store      *Store
	Copy       *Copy
	EnableExts []string // ENABLE's argument list
	ExpungeSeqs SeqSet  // UID EXPUNGE's sequence set (UIDPLUS)
	Authenticate *Authenticate
}
