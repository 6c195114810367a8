package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roboleague/collab/metrics"
)

// outboxSize bounds the notifications queued for one participant. A peer that
// falls this far behind is disconnected.
const outboxSize = 256

type outbound struct {
	method string
	params any
	hold   *hold
}

// hold pauses an outbox at a fixed point of its stream. reached closes once
// everything queued before it was delivered; nothing after it is delivered
// until release.
type hold struct {
	reached chan struct{}
	resume  chan struct{}
	once    sync.Once
}

func newHold() *hold {
	return &hold{reached: make(chan struct{}), resume: make(chan struct{})}
}

func (h *hold) release() {
	h.once.Do(func() { close(h.resume) })
}

// outbox delivers one participant's notifications in order on its own
// goroutine, so a slow socket never stalls the session loop.
type outbox struct {
	peer  Peer
	queue chan outbound
	stop  chan struct{}
	once  sync.Once
	log   *slog.Logger
}

func newOutbox(ctx context.Context, peer Peer, log *slog.Logger) *outbox {
	o := &outbox{
		peer:  peer,
		queue: make(chan outbound, outboxSize),
		stop:  make(chan struct{}),
		log:   log,
	}
	go o.run(ctx)
	return o
}

// push queues msg without blocking. False means the queue is full.
func (o *outbox) push(msg outbound) bool {
	select {
	case o.queue <- msg:
		return true
	default:
		return false
	}
}

// close stops delivery. Queued notifications are discarded.
func (o *outbox) close() {
	o.once.Do(func() { close(o.stop) })
}

// disconnect stops delivery and closes the peer's connection when it has one.
func (o *outbox) disconnect() {
	o.close()
	if c, ok := o.peer.(interface{ Close() error }); ok {
		go func() {
			if err := c.Close(); err != nil {
				o.log.Debug("failed to close stalled peer", "error", err)
			}
		}()
	}
}

func (o *outbox) run(ctx context.Context) {
	for {
		select {
		case <-o.stop:
			return
		case msg := <-o.queue:
			if msg.hold != nil {
				close(msg.hold.reached)
				select {
				case <-msg.hold.resume:
				case <-o.stop:
					return
				}
				continue
			}
			err := o.peer.Notify(ctx, msg.method, msg.params)
			metrics.RecordNotification(msg.method, err == nil)
			if err != nil {
				o.log.Debug("notify failed", "error", err, "method", msg.method)
			}
		}
	}
}
