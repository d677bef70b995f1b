package packet

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := Header{Type: TypeAck, Remaining: 144}
	wire, err := Encode(in, []byte("chunk"), 64)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) != HeaderLen+5 {
		t.Fatalf("unexpected wire length: %d", len(wire))
	}
	out, payload, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("header mismatch: got=%+v want=%+v", out, in)
	}
	if !bytes.Equal(payload, []byte("chunk")) {
		t.Fatalf("payload mismatch: %q", payload)
	}
}

func TestHeaderIsLittleEndian(t *testing.T) {
	b := EncodeHeader(Header{Type: TypeReceive, Remaining: 0x01020304})
	want := []byte{1, 0, 0, 0, 4, 3, 2, 1}
	if !bytes.Equal(b, want) {
		t.Fatalf("unexpected header bytes: %x", b)
	}
}

func TestDecodeShortHeaderIsDeterministic(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Header{Type: TypeSend}, make([]byte, 57), 64)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestMaxPayload(t *testing.T) {
	n, err := MaxPayload(64)
	if err != nil || n != 56 {
		t.Fatalf("MaxPayload(64) = %d,%v", n, err)
	}
	if _, err := MaxPayload(HeaderLen); !errors.Is(err, ErrInvalidMTU) {
		t.Fatalf("expected ErrInvalidMTU, got %v", err)
	}
	if TypeSend.String() != "SND" || Type(9).String() != "UNKNOWN(9)" {
		t.Fatalf("unexpected type names")
	}
}
