package bus

import (
	"sync"

	"github.com/casualjim/rookery/messages"
)

// pendingReply is a single-resolution future for one outstanding request. The
// buffered channel means resolve never blocks, even when the waiter already
// gave up; the Once makes a second resolve a no-op rather than a silent
// overwrite.
type pendingReply struct {
	ch   chan messages.Envelope
	once sync.Once
}

func newPendingReply() *pendingReply {
	return &pendingReply{ch: make(chan messages.Envelope, 1)}
}

func (p *pendingReply) resolve(env messages.Envelope) {
	p.once.Do(func() { p.ch <- env })
}
