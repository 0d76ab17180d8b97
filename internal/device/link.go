package device

import (
	"context"
	"sync"
	"time"

	"go.pairlink.org/internal/metric"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/transport"
)

const writeTimeout = 30 * time.Second

type outgoing struct {
	p *packet.Packet
	// origin is nil for packets of the session itself.
	origin *pluginSlot
}

// link is one attached channel with its FIFO outbox.
type link struct {
	ch     transport.Channel
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	queue []outgoing
	wake  chan struct{}
}

func newLink(ch transport.Channel) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		ch:     ch,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
}

func (l *link) enqueue(o outgoing) {
	l.mu.Lock()
	l.queue = append(l.queue, o)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// next blocks until a packet is queued or the link is cancelled.
func (l *link) next() (outgoing, bool) {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			o := l.queue[0]
			l.queue[0] = outgoing{}
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return o, true
		}
		l.mu.Unlock()
		select {
		case <-l.ctx.Done():
			return outgoing{}, false
		case <-l.wake:
		}
	}
}

// drain removes and returns the packets not written yet.
func (l *link) drain() []outgoing {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queue
	l.queue = nil
	return q
}

func (s *Session) writeLoop(l *link) {
	for {
		o, ok := l.next()
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
		err := l.ch.WritePacket(ctx, o.p)
		cancel()
		if err != nil {
			if l.ctx.Err() != nil {
				err = ErrNotConnected
			} else {
				s.loggerInfo.Printf("warning: write %s failed: %s", o.p, err)
				// the reader sees the closed channel and detaches
				l.ch.Close()
			}
			s.reportFailure(o, err)
			return
		}
		s.metrics.Sent(o.p.Type())
		s.loggerDebug.Printf("sent %s", o.p)
	}
}

func (s *Session) readLoop(l *link) {
	for {
		p, err := l.ch.ReadPacket()
		if err != nil {
			if isMalformed(err) {
				s.loggerInfo.Printf("warning: dropping packet: %s", err)
				s.metrics.Dropped(metric.DropMalformed)
				continue
			}
			if l.ctx.Err() == nil {
				s.loggerDebug.Printf("channel %s closed: %s", l.ch.RemoteAddr(), err)
			}
			s.seq.post(func() { s.detach(l) })
			return
		}
		s.seq.post(func() { s.receive(l, p) })
	}
}
