package channel

import (
	"context"
	"sync"

	"github.com/danmuck/confirmationui/internal/protocol/packet"
)

const pipeDepth = 64

type pipeHalf struct {
	msgs chan []byte
	done chan struct{}
	once sync.Once
}

func newPipeHalf() *pipeHalf {
	return &pipeHalf{msgs: make(chan []byte, pipeDepth), done: make(chan struct{})}
}

func (h *pipeHalf) shut() {
	h.once.Do(func() { close(h.done) })
}

// PipeEnd is one side of an in-memory channel pair.
type PipeEnd struct {
	mtu     int
	in      *pipeHalf
	out     *pipeHalf
	pending []byte
}

// Pipe returns two connected in-memory channels with the given mtu.
func Pipe(mtu int) (*PipeEnd, *PipeEnd) {
	ab, ba := newPipeHalf(), newPipeHalf()
	return &PipeEnd{mtu: mtu, in: ba, out: ab}, &PipeEnd{mtu: mtu, in: ab, out: ba}
}

func (p *PipeEnd) Wait(ctx context.Context) (Event, error) {
	if p.pending != nil {
		return EventMessage, nil
	}
	// queued packets are delivered before a hangup is observed
	select {
	case msg := <-p.in.msgs:
		p.pending = msg
		return EventMessage, nil
	default:
	}
	select {
	case msg := <-p.in.msgs:
		p.pending = msg
		return EventMessage, nil
	case <-p.in.done:
		select {
		case msg := <-p.in.msgs:
			p.pending = msg
			return EventMessage, nil
		default:
		}
		return EventHangup, nil
	case <-p.out.done:
		return EventHangup, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *PipeEnd) Recv(dst []byte) (packet.Header, int, error) {
	if p.pending == nil {
		return packet.Header{}, 0, ErrNoMessage
	}
	wire := p.pending
	p.pending = nil
	return consume(wire, dst)
}

func (p *PipeEnd) Send(h packet.Header, payload []byte) error {
	wire, err := packet.Encode(h, payload, p.mtu)
	if err != nil {
		return err
	}
	select {
	case <-p.out.done:
		return ErrClosed
	case <-p.in.done:
		return ErrClosed
	default:
	}
	select {
	case p.out.msgs <- wire:
		return nil
	case <-p.out.done:
		return ErrClosed
	case <-p.in.done:
		return ErrClosed
	}
}

// SendRaw queues arbitrary bytes as one packet, bypassing header encoding.
// Tests use it to inject malformed traffic.
func (p *PipeEnd) SendRaw(wire []byte) error {
	select {
	case p.out.msgs <- append([]byte(nil), wire...):
		return nil
	case <-p.out.done:
		return ErrClosed
	}
}

// Close hangs up both directions; the peer observes EventHangup once its
// queue drains.
func (p *PipeEnd) Close() error {
	p.out.shut()
	return nil
}

// MemoryListener hands out the server side of in-memory pipes created by Dial.
type MemoryListener struct {
	mtu     int
	pending chan Channel
	done    chan struct{}
	once    sync.Once
}

func NewMemoryListener(mtu int) *MemoryListener {
	return &MemoryListener{mtu: mtu, pending: make(chan Channel, pipeDepth), done: make(chan struct{})}
}

// Dial queues a new connection and returns the peer side. It fails with
// ErrClosed once the listener is closed.
func (l *MemoryListener) Dial() (*PipeEnd, error) {
	select {
	case <-l.done:
		return nil, ErrClosed
	default:
	}
	client, server := Pipe(l.mtu)
	select {
	case <-l.done:
		return nil, ErrClosed
	case l.pending <- server:
	}
	// Close may have drained the queue before server landed in it.
	select {
	case <-l.done:
		l.drain()
		_ = client.Close()
		return nil, ErrClosed
	default:
		return client, nil
	}
}

func (l *MemoryListener) Accept(ctx context.Context) (Channel, error) {
	select {
	case <-l.done:
		return nil, ErrClosed
	default:
	}
	select {
	case ch := <-l.pending:
		return ch, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the listener and hangs up every connection still queued.
func (l *MemoryListener) Close() error {
	l.once.Do(func() { close(l.done) })
	l.drain()
	return nil
}

func (l *MemoryListener) drain() {
	for {
		select {
		case ch := <-l.pending:
			_ = ch.Close()
		default:
			return
		}
	}
}

func (l *MemoryListener) Addr() string {
	return "memory"
}
