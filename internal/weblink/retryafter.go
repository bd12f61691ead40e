package weblink

import (
	"strconv"
	"strings"
	"time"

	"github.com/emx-mail/mailcore/internal/errs"
)

// imfFixdate is the one wire format Retry-After is required to accept
// beside delay-seconds (RFC 7231 §7.1.1.1).
const imfFixdate = "Mon, 02 Jan 2006 15:04:05 GMT"

// ParseRetryAfter accepts either a delay-seconds integer or an IMF-fixdate
// and resolves it to an absolute time relative to now.
func ParseRetryAfter(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errs.New(errs.KindParam, "empty Retry-After value")
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if secs < 0 {
			return time.Time{}, errs.Newf(errs.KindParam, "negative Retry-After delay: %d", secs)
		}
		return now.Add(time.Duration(secs) * time.Second), nil
	}
	t, err := time.Parse(imfFixdate, raw)
	if err != nil {
		return time.Time{}, errs.Wrapf(errs.KindParam, err, "invalid Retry-After value %q", raw)
	}
	return t, nil
}
