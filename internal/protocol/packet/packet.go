package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout shared with the non-secure peer: two native (little-endian)
// u32 words followed by at most MTU-HeaderLen payload bytes.
const (
	HeaderLen  = 8
	DefaultMTU = 0x1000 - 32
)

var (
	ErrShortHeader     = errors.New("packet: short header")
	ErrPayloadTooLarge = errors.New("packet: payload exceeds mtu")
	ErrInvalidMTU      = errors.New("packet: mtu smaller than header")
)

// Type is the packet kind carried in the first header word.
type Type uint32

const (
	TypeSend    Type = 0
	TypeReceive Type = 1
	TypeAck     Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeSend:
		return "SND"
	case TypeReceive:
		return "RCV"
	case TypeAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

// Header is the fixed packet header.
//
// Remaining counts the bytes still owed for the current logical message:
// request bytes while the trusted side receives, response bytes while it
// sends.
type Header struct {
	Type      Type
	Remaining uint32
}

// MaxPayload returns the largest payload a packet can carry under mtu.
func MaxPayload(mtu int) (int, error) {
	if mtu <= HeaderLen {
		return 0, ErrInvalidMTU
	}
	return mtu - HeaderLen, nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into the first HeaderLen bytes of b.
func PutHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], uint32(h.Type))
	binary.LittleEndian.PutUint32(b[4:8], h.Remaining)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, ErrShortHeader
	}
	return Header{
		Type:      Type(binary.LittleEndian.Uint32(b[0:4])),
		Remaining: binary.LittleEndian.Uint32(b[4:8]),
	}, nil
}

// Encode returns one wire packet. The payload must fit within mtu.
func Encode(h Header, payload []byte, mtu int) ([]byte, error) {
	if HeaderLen+len(payload) > mtu {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, HeaderLen+len(payload), mtu)
	}
	buf := make([]byte, HeaderLen+len(payload))
	PutHeader(buf, h)
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// Decode splits a wire packet into header and payload. The payload aliases b.
func Decode(b []byte) (Header, []byte, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return Header{}, nil, err
	}
	return h, b[HeaderLen:], nil
}
