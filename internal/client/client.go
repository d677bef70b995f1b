// Package client is the caller side of the packet protocol: it pushes a
// request as SND packets and pulls the response back with RCV packets.
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/protocol/packet"
	"github.com/danmuck/confirmationui/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrProtocol        = errors.New("client: unexpected reply")
	ErrHangup          = errors.New("client: server hung up")
	ErrRequestTooLarge = errors.New("client: request exceeds capacity")
)

type Client struct {
	ch         channel.Channel
	maxPayload int
	capacity   int
	buf        []byte
}

func New(ch channel.Channel, mtu int) (*Client, error) {
	maxPayload, err := packet.MaxPayload(mtu)
	if err != nil {
		return nil, err
	}
	return &Client{ch: ch, maxPayload: maxPayload, capacity: transport.DefaultCapacity, buf: make([]byte, maxPayload)}, nil
}

// Call sends req and returns the full response.
func (c *Client) Call(ctx context.Context, req []byte) ([]byte, error) {
	if len(req) > c.capacity {
		return nil, fmt.Errorf("%w: %d > %d", ErrRequestTooLarge, len(req), c.capacity)
	}
	pos := 0
	for {
		left := len(req) - pos
		n := min(left, c.maxPayload)
		if err := c.ch.Send(packet.Header{Type: packet.TypeSend, Remaining: uint32(left)}, req[pos:pos+n]); err != nil {
			return nil, err
		}
		pos += n
		h, _, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		if h.Type != packet.TypeAck || h.Remaining != uint32(len(req)-pos) {
			return nil, fmt.Errorf("%w: %s remaining %d after sending %d/%d", ErrProtocol, h.Type, h.Remaining, pos, len(req))
		}
		if pos == len(req) {
			break
		}
	}

	var resp []byte
	total := -1
	for total < 0 || len(resp) < total {
		if err := c.ch.Send(packet.Header{Type: packet.TypeReceive}, nil); err != nil {
			return nil, err
		}
		h, n, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		if h.Type != packet.TypeAck {
			return nil, fmt.Errorf("%w: %s while receiving", ErrProtocol, h.Type)
		}
		if total < 0 {
			if int(h.Remaining) > c.capacity {
				return nil, fmt.Errorf("%w: response of %d bytes", ErrProtocol, h.Remaining)
			}
			total = int(h.Remaining)
			resp = make([]byte, 0, total)
		}
		if int(h.Remaining) != total-len(resp) || n > int(h.Remaining) || (n == 0 && h.Remaining > 0) {
			return nil, fmt.Errorf("%w: chunk %d with remaining %d at %d/%d", ErrProtocol, n, h.Remaining, len(resp), total)
		}
		resp = append(resp, c.buf[:n]...)
	}
	log.Debug().Int("request", len(req)).Int("response", len(resp)).Msg("client.Call")
	return resp, nil
}

func (c *Client) next(ctx context.Context) (packet.Header, int, error) {
	ev, err := c.ch.Wait(ctx)
	if err != nil {
		return packet.Header{}, 0, err
	}
	if !ev.Has(channel.EventMessage) {
		return packet.Header{}, 0, ErrHangup
	}
	return c.ch.Recv(c.buf)
}

func (c *Client) Close() error {
	return c.ch.Close()
}
