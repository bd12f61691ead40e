package imapexpr

// RespType enumerates every server-role response this AST can represent
// (imap_resp_type_t, narrowed to what a client needs to understand).
type RespType int

const (
	RespStatusType RespType = iota // OK/NO/BAD/BYE/PREAUTH, tagged or untagged
	RespCapability
	RespList
	RespLSub
	RespStatus // STATUS response (the mailbox-attributes one, not RespStatusType)
	RespFlags
	RespExists
	RespRecent
	RespExpunge
	RespFetch
	RespSearch
	RespEnabled // ENABLED response to a client's ENABLE command
)

// Status is one of the five IMAP status response kinds (ie_status_t).
type Status int

const (
	StatusOK Status = iota
	StatusNo
	StatusBad
	StatusPreauth
	StatusBye
)

// StResp is a tagged or untagged status response ("* OK ..." / "a1 OK
// ..."); Tag == "" means untagged (ie_st_resp_t).
type StResp struct {
	Tag    string
	St     Status
	Code   *StCode
	Text   string
}

// ListResp is one LIST/LSUB response: mailbox attribute flags, the
// server's hierarchy delimiter (0 means NIL, i.e. flat namespace), and
// the mailbox name (ie_list_resp_t).
type ListResp struct {
	Flags     MFlags
	Delimiter rune
	Mailbox   Mailbox
}

// StatusResp is a STATUS response: the mailbox plus whichever attributes
// were requested, each optionally present (ie_status_resp_t).
type StatusResp struct {
	Mailbox     Mailbox
	Messages    *uint32
	Recent      *uint32
	UIDNext     *uint32
	UIDValidity *uint32
	Unseen      *uint32
}

// FetchResp is one FETCH response: the message sequence number plus
// whichever attributes the server chose to include (which may be a
// superset of what was requested, e.g. servers often tack on FLAGS)
// (ie_fetch_resp_t).
type FetchResp struct {
	SeqNum uint32

	UID            *uint32
	Flags          *Flags
	InternalDate   *Time
	RFC822Size     *uint32
	ModSeq         *uint64
	Sections       []FetchBodySection
}

// FetchBodySection is one BODY[section]<origin> literal returned in a
// FETCH response, paired with the section specifier that was requested.
type FetchBodySection struct {
	Section Section
	Origin  uint32 // byte offset of Data within the full section, for partial fetches
	Data    []byte
}

// Resp is one server response: either a status response or one of the
// untagged data responses, selected by Type (imap_resp_t).
type Resp struct {
	Type RespType

	St         *StResp
	Caps       []string
	List       *ListResp
	Flags      *Flags
	Num        uint32 // EXISTS/RECENT/EXPUNGE's count or sequence number
	Fetch      *FetchResp
	StatusResp *StatusResp
	SearchNums []uint32
	Enabled    []string
}
