package httpwire

import (
	"testing"

	"github.com/emx-mail/mailcore/internal/dstr"
)

func drainHeaders(t *testing.T, raw string) ([]string, []string, int) {
	t.Helper()
	buf := dstr.New(64)
	if err := buf.AppendString(raw); err != nil {
		t.Fatal(err)
	}
	r := NewReader(buf)
	var keys, vals []string
	for {
		ev, err := r.Read()
		if err != nil {
			t.Fatalf("unexpected parse error: %v", err)
		}
		switch ev {
		case HaveHeader:
			h := r.Header()
			keys = append(keys, h.Key.Copy())
			vals = append(vals, h.Value.Copy())
		case EndOfHeaders:
			return keys, vals, r.BodyOffset()
		case NeedMoreData:
			t.Fatal("ran out of input before end-of-headers")
		}
	}
}

func TestReaderParsesStatusAndHeaders(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nX-Empty: \r\n\r\nbody"
	buf := dstr.New(64)
	buf.AppendString(raw)
	r := NewReader(buf)

	keys, vals := []string{}, []string{}
	for {
		ev, err := r.Read()
		if err != nil {
			t.Fatal(err)
		}
		if ev == HaveHeader {
			keys = append(keys, r.Header().Key.Copy())
			vals = append(vals, r.Header().Value.Copy())
			continue
		}
		if ev == EndOfHeaders {
			break
		}
	}
	if r.Status.Code != 200 || r.Status.Reason != "OK" {
		t.Fatalf("unexpected status: %+v", r.Status)
	}
	if len(keys) != 2 || keys[0] != "Content-Type" || vals[0] != "text/plain" {
		t.Fatalf("unexpected headers: %v %v", keys, vals)
	}
	if keys[1] != "X-Empty" || vals[1] != "" {
		t.Fatalf("unexpected empty-value header: %q", vals[1])
	}
}

// TestReaderTotality exercises spec §8 property 1: feeding every
// byte-prefix of a golden response must either report NeedMoreData or
// yield the same headers as the full input; each header is copied out
// before a later Read can left-shift the buffer under its offsets.
func TestReaderTotality(t *testing.T) {
	full := "HTTP/1.1 201 Created\r\nLink: <next>; rel=\"next\"\r\nETag: \"abc\"\r\n\r\n"
	wantKeys, wantVals, wantBody := drainHeaders(t, full)

	for n := 1; n <= len(full); n++ {
		prefix := full[:n]
		buf := dstr.New(64)
		buf.AppendString(prefix)
		r := NewReader(buf)
		var keys, vals []string
		ok := false
		for {
			ev, err := r.Read()
			if err != nil {
				t.Fatalf("prefix len %d: unexpected error %v", n, err)
			}
			if ev == NeedMoreData {
				break
			}
			if ev == HaveHeader {
				keys = append(keys, r.Header().Key.Copy())
				vals = append(vals, r.Header().Value.Copy())
				continue
			}
			if ev == EndOfHeaders {
				ok = true
				break
			}
		}
		if ok {
			if len(keys) != len(wantKeys) {
				t.Fatalf("prefix len %d: header count mismatch: %v vs %v", n, keys, wantKeys)
			}
			for i := range keys {
				if keys[i] != wantKeys[i] || vals[i] != wantVals[i] {
					t.Fatalf("prefix len %d: header %d mismatch: (%q,%q) vs (%q,%q)",
						n, i, keys[i], vals[i], wantKeys[i], wantVals[i])
				}
			}
			if r.BodyOffset() != wantBody {
				t.Fatalf("prefix len %d: body offset %d vs %d", n, r.BodyOffset(), wantBody)
			}
		} else {
			// partial result so far must be a prefix of the full header list
			for i := range keys {
				if keys[i] != wantKeys[i] || vals[i] != wantVals[i] {
					t.Fatalf("prefix len %d: partial header %d mismatch", n, i)
				}
			}
		}
	}
}

func TestReaderMissingColonIsError(t *testing.T) {
	buf := dstr.New(64)
	buf.AppendString("HTTP/1.1 200 OK\r\nbroken-header-no-colon\r\n\r\n")
	r := NewReader(buf)
	for {
		ev, err := r.Read()
		if err != nil {
			return // expected
		}
		if ev == EndOfHeaders {
			t.Fatal("expected a syntax error, got clean end-of-headers")
		}
	}
}
