package acme

// Status is one of RFC 8555's object statuses. Order objects and
// authorization objects share the same string space; not every status
// is reachable from every object type (spec §3's acme_status_e).
type Status string

const (
	StatusInvalid      Status = "invalid"
	StatusRevoked      Status = "revoked"
	StatusDeactivated  Status = "deactivated"
	StatusExpired      Status = "expired"
	StatusPending      Status = "pending"
	StatusReady        Status = "ready"
	StatusProcessing   Status = "processing"
	StatusValid        Status = "valid"
	StatusUnrecognized Status = ""
)
