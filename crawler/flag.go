package crawler

import (
	"sync"
	"sync/atomic"
)

// Flag is a one-way cancellation signal shared between a crawl run and
// whoever may stop it. Setting it is idempotent and safe from any goroutine.
type Flag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewFlag returns an unset Flag.
func NewFlag() *Flag {
	return &Flag{done: make(chan struct{})}
}

// Cancel sets the flag and wakes every goroutine waiting on Done.
func (f *Flag) Cancel() {
	f.once.Do(func() {
		f.set.Store(true)
		close(f.done)
	})
}

// Cancelled reports whether Cancel has been called.
func (f *Flag) Cancelled() bool {
	return f.set.Load()
}

// Done is closed once the flag is set.
func (f *Flag) Done() <-chan struct{} {
	return f.done
}
