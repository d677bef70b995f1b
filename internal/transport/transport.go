// Package transport reassembles requests from and fragments responses into
// fixed-size packets over a Channel.
//
// The peer drives the exchange. It pushes a request as SND packets, each
// answered with an ACK carrying the bytes still owed, then pulls the
// response with RCV packets, each answered with an ACK carrying the next
// chunk. Anything out of phase moves the transport to DESYNC, which is
// terminal.
package transport

import (
	"errors"
	"fmt"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/observability"
	"github.com/danmuck/confirmationui/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

var (
	ErrDesync          = errors.New("transport: protocol out of sync")
	ErrMessageTooLarge = errors.New("transport: message exceeds buffer capacity")
	ErrInvalidConfig   = errors.New("transport: invalid configuration")
)

// DefaultCapacity bounds the largest request or response.
const DefaultCapacity = 0x2000

type State int

const (
	StateReceiving State = iota
	StateSending
	StateDesync
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "RECEIVING"
	case StateSending:
		return "SENDING"
	case StateDesync:
		return "DESYNC"
	default:
		return "UNKNOWN"
	}
}

// Progress reports what a handled packet accomplished.
type Progress int

const (
	ProgressNone Progress = iota
	ProgressAcked
	ProgressRequestComplete
	ProgressChunkSent
	ProgressResponseComplete
)

// Transport is the per-connection packet state machine. It owns the message
// buffer; position and size always satisfy 0 <= position <= size <= capacity.
type Transport struct {
	ch         channel.Channel
	buf        []byte
	scratch    []byte
	maxPayload int

	state    State
	position uint32
	size     uint32
	// owed is the remaining count last acknowledged to the peer while a
	// request is in flight.
	owed     uint32
	inFlight bool
}

func New(ch channel.Channel, capacity int, mtu int) (*Transport, error) {
	maxPayload, err := packet.MaxPayload(mtu)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidConfig, capacity)
	}
	return &Transport{
		ch:         ch,
		buf:        make([]byte, capacity),
		scratch:    make([]byte, maxPayload),
		maxPayload: maxPayload,
		state:      StateReceiving,
	}, nil
}

func (t *Transport) State() State      { return t.state }
func (t *Transport) Position() uint32  { return t.position }
func (t *Transport) Size() uint32      { return t.size }
func (t *Transport) Capacity() int     { return len(t.buf) }
func (t *Transport) MaxPayload() int   { return t.maxPayload }
func (t *Transport) Remaining() uint32 { return t.size - t.position }

// HandlePacket consumes the pending packet from the channel and advances the
// state machine. Channel failures are returned unwrapped and are fatal.
func (t *Transport) HandlePacket() (Progress, error) {
	h, n, err := t.ch.Recv(t.scratch)
	if err != nil {
		return ProgressNone, err
	}
	log.Debug().
		Stringer("type", h.Type).
		Uint32("remaining", h.Remaining).
		Int("payload", n).
		Stringer("state", t.state).
		Msg("transport.HandlePacket")
	label := h.Type.String()
	if h.Type > packet.TypeAck {
		label = "unknown"
	}
	observability.RecordPacket(label)

	switch h.Type {
	case packet.TypeSend:
		complete, err := t.ReceiveChunk(h, t.scratch[:n])
		if err != nil {
			return ProgressNone, err
		}
		if complete {
			return ProgressRequestComplete, nil
		}
		return ProgressAcked, nil
	case packet.TypeReceive:
		complete, err := t.SendChunk(h)
		if err != nil {
			return ProgressNone, err
		}
		if complete {
			return ProgressResponseComplete, nil
		}
		return ProgressChunkSent, nil
	default:
		// this side never expects to receive an acknowledgement
		return ProgressNone, t.desync("unexpected %s packet", h.Type)
	}
}

// ReceiveChunk appends one SND payload to the request and acknowledges it.
// It reports true once the request is complete, at which point the
// transport has switched to SENDING and awaits StageResponse.
func (t *Transport) ReceiveChunk(h packet.Header, payload []byte) (bool, error) {
	if t.state != StateReceiving {
		return false, t.desync("SND while %s", t.state)
	}
	if !t.inFlight {
		if uint64(h.Remaining) > uint64(len(t.buf)) {
			t.state = StateDesync
			return false, fmt.Errorf("%w: announced %d bytes, capacity %d", ErrMessageTooLarge, h.Remaining, len(t.buf))
		}
		t.position = 0
		t.size = h.Remaining
		t.owed = h.Remaining
		t.inFlight = true
	}
	if h.Remaining != t.owed {
		return false, t.desync("SND remaining %d, expected %d", h.Remaining, t.owed)
	}
	if uint64(len(payload)) > uint64(h.Remaining) {
		return false, t.desync("SND payload %d exceeds remaining %d", len(payload), h.Remaining)
	}

	copy(t.buf[t.position:], payload)
	t.position += uint32(len(payload))
	t.owed = h.Remaining - uint32(len(payload))

	if err := t.ch.Send(packet.Header{Type: packet.TypeAck, Remaining: t.owed}, nil); err != nil {
		t.state = StateDesync
		return false, fmt.Errorf("transport: send ack: %w", err)
	}
	if t.owed > 0 {
		return false, nil
	}

	// full request: the response is staged from the start of the buffer
	t.inFlight = false
	t.size = t.position
	t.position = 0
	t.state = StateSending
	log.Debug().Uint32("size", t.size).Msg("transport.ReceiveChunk request complete")
	return true, nil
}

// Request returns the most recently completed request. It aliases the
// message buffer and is only valid until StageResponse.
func (t *Transport) Request() []byte {
	if t.state != StateSending {
		return nil
	}
	return t.buf[:t.size]
}

// StageResponse places resp in the message buffer for SendChunk.
func (t *Transport) StageResponse(resp []byte) error {
	if t.state != StateSending || t.position != 0 {
		return t.desync("response staged while %s at %d", t.state, t.position)
	}
	if len(resp) > len(t.buf) {
		t.state = StateDesync
		return fmt.Errorf("%w: response %d bytes, capacity %d", ErrMessageTooLarge, len(resp), len(t.buf))
	}
	copy(t.buf, resp)
	t.size = uint32(len(resp))
	return nil
}

// SendChunk answers one RCV packet with the next response chunk. The ACK
// header carries the bytes left before this chunk. It reports true once the
// response is fully sent and the transport is RECEIVING again.
func (t *Transport) SendChunk(h packet.Header) (bool, error) {
	if t.state != StateSending {
		return false, t.desync("RCV while %s", t.state)
	}
	left := t.size - t.position
	body := left
	if body > uint32(t.maxPayload) {
		body = uint32(t.maxPayload)
	}
	chunk := t.buf[t.position : t.position+body]
	if err := t.ch.Send(packet.Header{Type: packet.TypeAck, Remaining: left}, chunk); err != nil {
		t.state = StateDesync
		return false, fmt.Errorf("transport: send chunk: %w", err)
	}
	t.position += body
	if t.position < t.size {
		return false, nil
	}
	log.Debug().Uint32("size", t.size).Msg("transport.SendChunk response complete")
	t.state = StateReceiving
	t.position = 0
	t.size = 0
	return true, nil
}

// Reset scrubs the message buffer. The transport is unusable afterwards.
func (t *Transport) Reset() {
	clear(t.buf)
	clear(t.scratch)
	t.position = 0
	t.size = 0
	t.owed = 0
	t.inFlight = false
	t.state = StateDesync
}

func (t *Transport) desync(format string, args ...any) error {
	t.state = StateDesync
	err := fmt.Errorf("%w: %s", ErrDesync, fmt.Sprintf(format, args...))
	observability.RecordDesync()
	log.Warn().Err(err).Msg("transport desync")
	return err
}
