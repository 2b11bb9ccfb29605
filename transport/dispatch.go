package transport

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// InboundQueueCapacity is the bound on the inbound frame queue; once full,
// the oldest queued frame is dropped to make room for the newest (spec
// section 6: "bounded inbound queue, ~16 frames, dropping oldest on
// overflow").
const InboundQueueCapacity = 16

// EnvelopeHandler is the single callback a transport invokes for every
// received envelope frame. Exactly one handler is active at a time; calls
// into it are serialized by the dispatcher's single drain goroutine so a
// caller never observes two envelopes processed concurrently from the same
// transport. The dispatcher's mutex guards the handler field only and is
// not held while the handler runs.
type EnvelopeHandler func(senderHint net.Addr, envelope []byte)

// dispatcher owns the single EnvelopeHandler callback contract and the
// bounded inbound frame queue shared by every concrete transport
// implementation in this package.
type dispatcher struct {
	mu      sync.Mutex
	handler EnvelopeHandler

	queueMu sync.Mutex
	queue   []queuedFrame
	notify  chan struct{}
}

type queuedFrame struct {
	from net.Addr
	data []byte
}

func newDispatcher() *dispatcher {
	d := &dispatcher{notify: make(chan struct{}, 1)}
	go d.drain()
	return d
}

// SetHandler installs the callback invoked for every received envelope.
// Passing nil suspends delivery; queued frames accumulate (and drop oldest
// on overflow) until a handler is installed again.
func (d *dispatcher) SetHandler(h EnvelopeHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// enqueue admits a freshly received frame, dropping the oldest queued frame
// if the queue is already at capacity.
func (d *dispatcher) enqueue(from net.Addr, data []byte) {
	d.queueMu.Lock()
	if len(d.queue) >= InboundQueueCapacity {
		logrus.WithFields(logrus.Fields{
			"function": "dispatcher.enqueue", "package": "transport",
		}).Warn("inbound queue full, dropping oldest frame")
		d.queue = d.queue[1:]
	}
	d.queue = append(d.queue, queuedFrame{from: from, data: data})
	d.queueMu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// drain delivers queued frames to the installed handler one at a time,
// serializing calls into it regardless of how many goroutines are
// producing frames.
func (d *dispatcher) drain() {
	for range d.notify {
		for {
			d.mu.Lock()
			h := d.handler
			d.mu.Unlock()
			if h == nil {
				break // leave frames queued until a handler is installed
			}

			d.queueMu.Lock()
			if len(d.queue) == 0 {
				d.queueMu.Unlock()
				break
			}
			next := d.queue[0]
			d.queue = d.queue[1:]
			d.queueMu.Unlock()

			h(next.from, next.data)
		}
	}
}
