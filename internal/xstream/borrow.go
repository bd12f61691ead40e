package xstream

// Borrow forwards reads 1:1 to base, but exposes its own Await so that a
// request-scoped consumer can be handed a clipped view of a persistent
// connection (spec §4.1). Borrow claims the base's await slot on
// construction and restores nothing on its own — a Borrow is not detached,
// only "given up" by cancellation or the base reaching EOF/erroring, at
// which point the base's connection is no longer reusable by design (the
// thing that IS reusable, Limit/Chunked, implement their own try-detach).
type Borrow struct {
	base     RStream
	canceled bool
	awaited  bool
	awaitCB  AwaitCB
	err      error
	done     bool
}

// NewBorrow wraps base, installing Borrow as the only holder of base's
// await callback.
func NewBorrow(base RStream) *Borrow {
	b := &Borrow{base: base}
	base.Await(b.onBaseAwait)
	return b
}

func (b *Borrow) Read(buf []byte, cb ReadCB) {
	if b.canceled {
		cb(0, ErrCanceled)
		return
	}
	if b.base.EOF() {
		cb(0, nil)
		return
	}
	b.base.Read(buf, func(n int, err error) {
		if err != nil {
			b.err = err
		}
		cb(n, err)
	})
}

func (b *Borrow) Cancel() {
	if b.canceled || b.awaited {
		return
	}
	b.canceled = true
	b.base.Cancel()
}

func (b *Borrow) Await(cb AwaitCB) {
	b.awaitCB = cb
	if b.done {
		b.fire()
	}
}

func (b *Borrow) EOF() bool      { return b.base.EOF() }
func (b *Borrow) Canceled() bool { return b.canceled }
func (b *Borrow) Awaited() bool  { return b.awaited }

func (b *Borrow) onBaseAwait(err error) {
	b.done = true
	if err != nil {
		b.err = err
	}
	b.fire()
}

func (b *Borrow) fire() {
	if b.awaited || b.awaitCB == nil {
		return
	}
	b.awaited = true
	b.awaitCB(b.err)
}
