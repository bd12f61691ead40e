package xstream

// Limit reads at most N bytes from base then signals EOF (spec §4.1). On
// reaching N it tries to hand the base back to the caller (tryDetach) so a
// persistent connection can serve the next request. An early EOF from base
// (fewer than N bytes delivered) is reported as ErrResponseInvalid, per
// spec §8 property 5.
type Limit struct {
	base      RStream
	limit     int
	nread     int
	canceled  bool
	detached  bool
	awaited   bool
	awaitCB   AwaitCB
	err       error
	baseErr   error
	origAwait AwaitCB
}

// NewLimit wraps base, capping reads at limit bytes.
func NewLimit(base RStream, limit int) *Limit {
	l := &Limit{base: base, limit: limit}
	base.Await(l.onBaseAwait)
	return l
}

func (l *Limit) Read(buf []byte, cb ReadCB) {
	if l.canceled {
		cb(0, ErrCanceled)
		return
	}
	if l.nread >= l.limit {
		cb(0, nil)
		l.tryDetach()
		return
	}
	want := len(buf)
	if remain := l.limit - l.nread; want > remain {
		want = remain
	}
	l.base.Read(buf[:want], func(n int, err error) {
		l.nread += n
		if err != nil {
			// Base ended (EOF or real error) before we reached limit.
			if l.nread < l.limit {
				l.err = ErrResponseInvalid
				cb(n, ErrResponseInvalid)
				l.finish(ErrResponseInvalid)
				return
			}
			l.err = err
			cb(n, err)
			return
		}
		cb(n, nil)
		if l.nread >= l.limit {
			l.tryDetach()
		}
	})
}

func (l *Limit) tryDetach() {
	if l.detached {
		return
	}
	l.detached = true
	// Hand the base stream back to whoever reinstates origAwait; the
	// caller owning the persistent connection is responsible for giving it
	// to the next consumer.
	if l.origAwait != nil {
		l.base.Await(l.origAwait)
	}
	l.finish(nil)
}

func (l *Limit) Cancel() {
	if l.canceled || l.awaited {
		return
	}
	l.canceled = true
	if !l.detached {
		l.base.Cancel()
	}
}

func (l *Limit) Await(cb AwaitCB) {
	l.awaitCB = cb
	if l.awaited {
		return
	}
	if l.detached || l.baseErr != nil {
		l.finish(l.err)
	}
}

// SetDetachAwait registers the await callback to reinstall on base once
// this Limit detaches, letting base be reused by a subsequent wrapper.
func (l *Limit) SetDetachAwait(cb AwaitCB) { l.origAwait = cb }

func (l *Limit) EOF() bool      { return l.nread >= l.limit || l.detached }
func (l *Limit) Canceled() bool { return l.canceled }
func (l *Limit) Awaited() bool  { return l.awaited }

func (l *Limit) onBaseAwait(err error) {
	l.baseErr = err
	if l.detached {
		return // base already handed back to the next consumer
	}
	if err == nil && l.nread < l.limit {
		err = ErrResponseInvalid
	}
	l.finish(err)
}

func (l *Limit) finish(err error) {
	if l.awaited || l.awaitCB == nil {
		return
	}
	l.awaited = true
	l.awaitCB(err)
}
