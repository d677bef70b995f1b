// Package channel is the message-oriented IPC primitive between the trusted
// service and its untrusted peer.
//
// A Channel delivers whole packets (header plus payload) and reports
// connection state through Wait. Wait is the only suspension point of a
// session.
package channel

import (
	"context"
	"errors"

	"github.com/danmuck/confirmationui/internal/protocol/packet"
)

var (
	ErrClosed         = errors.New("channel: closed")
	ErrNoMessage      = errors.New("channel: no message pending")
	ErrShortPacket    = errors.New("channel: packet shorter than header")
	ErrPacketTooLarge = errors.New("channel: packet exceeds buffer")
)

// Event is a bitmask of conditions reported by Wait.
type Event uint32

const (
	EventMessage Event = 1 << iota
	EventHangup
	EventError
)

func (e Event) Has(flag Event) bool {
	return e&flag != 0
}

// Channel is one accepted connection.
type Channel interface {
	// Wait blocks until a packet is ready, the peer hangs up, or the
	// channel fails.
	Wait(ctx context.Context) (Event, error)
	// Recv consumes the pending packet, copying its payload into dst.
	// A payload larger than dst fails with ErrPacketTooLarge.
	Recv(dst []byte) (packet.Header, int, error)
	// Send transmits one packet.
	Send(h packet.Header, payload []byte) error
	Close() error
}

// Listener hands out connections one at a time.
type Listener interface {
	Accept(ctx context.Context) (Channel, error)
	Close() error
	Addr() string
}

// consume copies a buffered wire packet into dst.
func consume(wire []byte, dst []byte) (packet.Header, int, error) {
	h, payload, err := packet.Decode(wire)
	if err != nil {
		return packet.Header{}, 0, ErrShortPacket
	}
	if len(payload) > len(dst) {
		return h, 0, ErrPacketTooLarge
	}
	return h, copy(dst, payload), nil
}
