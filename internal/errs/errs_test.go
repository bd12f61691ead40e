package errs

import (
	"strings"
	"testing"
)

func TestWrapPreservesKind(t *testing.T) {
	base := New(KindParam, "bad domain")
	wrapped := Wrap(KindInternal, base, "while building new-order")

	if !Is(wrapped, KindParam) {
		t.Fatalf("expected KindParam to survive wrapping, got %s", GetKind(wrapped))
	}
	trace := Trace(wrapped)
	if !strings.Contains(trace, "bad domain") || !strings.Contains(trace, "new-order") {
		t.Fatalf("trace missing expected frames: %s", trace)
	}
}

func TestWrapStdlibError(t *testing.T) {
	err := Wrap(KindFS, errAt("open failed"), "reading maildir")
	if !Is(err, KindFS) {
		t.Fatalf("expected KindFS, got %s", GetKind(err))
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(KindOS, nil, "noop") != nil {
		t.Fatal("Wrap(nil) must return nil")
	}
}

type plainErr string

func (p plainErr) Error() string { return string(p) }

func errAt(msg string) error { return plainErr(msg) }
