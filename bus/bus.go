package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/google/uuid"

	"github.com/casualjim/rookery/messages"
	"github.com/casualjim/rookery/pkg/slogx"
)

var (
	// ErrRecipientNotSubscribed reports a publish to an identity without a
	// queue. This is an immediate, loud failure: silently dropping the message
	// would leave any waiting correlation hanging forever.
	ErrRecipientNotSubscribed = errors.New("recipient not subscribed")

	// ErrRequestTimeout reports that a send-and-wait deadline elapsed before
	// the matching response arrived.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrRecipientSlow reports a queue that stayed full past the slow-recipient
	// timeout. Queues are bounded; this is the only backpressure the bus has.
	ErrRecipientSlow = errors.New("recipient queue full")
)

const (
	defaultQueueDepth           = 64
	defaultSlowRecipientTimeout = 100 * time.Millisecond
)

// Bus routes envelopes to per-identity FIFO queues and correlates responses
// back to blocked senders. Both internal tables are concurrent maps; Publish
// and CompleteRequest are safe from any number of goroutines.
type Bus struct {
	queues               *haxmap.Map[string, *Subscription]
	pending              *haxmap.Map[string, *pendingReply]
	queueDepth           int
	slowRecipientTimeout time.Duration
}

func New() *Bus {
	return &Bus{
		queues:               haxmap.New[string, *Subscription](),
		pending:              haxmap.New[string, *pendingReply](),
		queueDepth:           defaultQueueDepth,
		slowRecipientTimeout: defaultSlowRecipientTimeout,
	}
}

// WithQueueDepth sets the inbound queue capacity used by later Subscribe calls.
func (b *Bus) WithQueueDepth(n int) *Bus {
	b.queueDepth = n
	return b
}

// WithSlowRecipientTimeout configures how long Publish waits on a full queue
// before giving up.
func (b *Bus) WithSlowRecipientTimeout(timeout time.Duration) *Bus {
	b.slowRecipientTimeout = timeout
	return b
}

// Subscribe creates the inbound queue for identity, replacing any previous
// one. Nothing can be delivered to an identity before it subscribes. A
// replaced queue is orphaned together with whatever it still held; the
// previous owner's loop is expected to be gone.
func (b *Bus) Subscribe(identity string) *Subscription {
	sub := &Subscription{
		identity: identity,
		channel:  make(chan messages.Envelope, b.queueDepth),
	}
	sub.onClose = func() {
		// Only drop the mapping if it still points at this subscription; a
		// replacement must not be torn down by the queue it displaced.
		if current, ok := b.queues.Get(identity); ok && current == sub {
			b.queues.Del(identity)
		}
	}
	b.queues.Set(identity, sub)
	return sub
}

// Publish enqueues env onto the recipient's queue, preserving FIFO order per
// recipient. It fails with ErrRecipientNotSubscribed when no queue exists and
// with ErrRecipientSlow when the queue stays full past the slow-recipient
// timeout.
func (b *Bus) Publish(ctx context.Context, env messages.Envelope) error {
	sub, ok := b.queues.Get(env.Recipient)
	if !ok {
		return fmt.Errorf("deliver %s to %q: %w", env.Kind(), env.Recipient, ErrRecipientNotSubscribed)
	}

	select {
	case sub.channel <- env:
		slog.Debug("bus delivered message",
			slogx.MessageID("message_id", env.ID),
			slogx.Kind(env.Kind()),
			slog.String("recipient", env.Recipient),
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.slowRecipientTimeout):
		return fmt.Errorf("deliver %s to %q: %w", env.Kind(), env.Recipient, ErrRecipientSlow)
	}
}

// SendAndWait publishes env and blocks the calling goroutine until the
// matching response is completed or timeout elapses. Only this goroutine
// blocks; other agents keep draining their own queues. The correlation entry
// is keyed by the envelope id and removed on every exit path, so a response
// arriving after a timeout finds nothing and is discarded.
func (b *Bus) SendAndWait(ctx context.Context, env messages.Envelope, timeout time.Duration) (messages.Envelope, error) {
	reply := newPendingReply()
	key := env.ID.String()
	b.pending.Set(key, reply)

	if err := b.Publish(ctx, env); err != nil {
		b.pending.Del(key)
		return messages.Envelope{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-reply.ch:
		return resp, nil
	case <-timer.C:
		b.pending.Del(key)
		return messages.Envelope{}, fmt.Errorf("no reply to %s from %q within %s: %w", env.ID, env.Recipient, timeout, ErrRequestTimeout)
	case <-ctx.Done():
		b.pending.Del(key)
		return messages.Envelope{}, ctx.Err()
	}
}

// CompleteRequest resolves the pending correlation for correlationID with
// response. Each correlation resolves at most once; a duplicate or late
// response (the waiter may have timed out and moved on) is expected traffic
// and is dropped without error.
func (b *Bus) CompleteRequest(correlationID uuid.UUID, response messages.Envelope) {
	key := correlationID.String()
	reply, ok := b.pending.Get(key)
	if !ok {
		slog.Debug("bus dropped uncorrelated response",
			slogx.MessageID("correlation_id", correlationID),
			slog.String("sender", response.Sender),
		)
		return
	}
	b.pending.Del(key)
	reply.resolve(response)
}

// PendingRequests reports the number of outstanding correlations.
func (b *Bus) PendingRequests() int {
	return int(b.pending.Len())
}

// Subscription is one identity's handle on its inbound queue.
type Subscription struct {
	identity  string
	channel   chan messages.Envelope
	closeOnce sync.Once
	onClose   func()
}

// Identity returns the identity this queue belongs to.
func (s *Subscription) Identity() string { return s.identity }

// C returns the receive side of the queue. The channel is never closed;
// consumers stop by abandoning it after Unsubscribe.
func (s *Subscription) C() <-chan messages.Envelope { return s.channel }

// Unsubscribe detaches the queue from the bus. In-flight publishes into the
// old channel are lost with it, which is why subscribers unsubscribe only
// after their loop has exited.
func (s *Subscription) Unsubscribe() {
	s.closeOnce.Do(s.onClose)
}
