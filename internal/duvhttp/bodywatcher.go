package duvhttp

import "github.com/emx-mail/mailcore/internal/xstream"

// bodyWatcher wraps a request's outermost body stream, claiming its Await
// slot (the same "wrapper claims the base's await_cb" contract every
// xstream wrapper follows) so the Client learns when the body finishes
// before handing that same event on to the caller. This is what lets
// step 7 of spec §4.3 ("when the user awaits the body rstream...") run
// its idle-timer/close decision without racing the caller's own Await.
type bodyWatcher struct {
	base   xstream.RStream
	onDone func(error)

	fired  bool
	err    error
	userCB xstream.AwaitCB
}

func newBodyWatcher(base xstream.RStream, onDone func(error)) *bodyWatcher {
	w := &bodyWatcher{base: base, onDone: onDone}
	base.Await(w.onBaseAwait)
	return w
}

func (w *bodyWatcher) onBaseAwait(err error) {
	w.fired = true
	w.err = err
	if w.onDone != nil {
		w.onDone(err)
	}
	if w.userCB != nil {
		w.userCB(err)
	}
}

func (w *bodyWatcher) Read(buf []byte, cb xstream.ReadCB) { w.base.Read(buf, cb) }
func (w *bodyWatcher) Cancel()                            { w.base.Cancel() }

func (w *bodyWatcher) Await(cb xstream.AwaitCB) {
	w.userCB = cb
	if w.fired {
		cb(w.err)
	}
}

func (w *bodyWatcher) EOF() bool      { return w.base.EOF() }
func (w *bodyWatcher) Canceled() bool { return w.base.Canceled() }
func (w *bodyWatcher) Awaited() bool  { return w.base.Awaited() }
