package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/danmuck/confirmationui/internal/protocol/packet"
	"github.com/rs/zerolog/log"
)

// UnixChannel is a Channel over a SOCK_SEQPACKET unix socket, which keeps
// packet boundaries intact.
type UnixChannel struct {
	conn    *net.UnixConn
	mtu     int
	rbuf    []byte
	pending []byte
	mu      sync.Mutex
	closed  bool
}

func newUnixChannel(conn *net.UnixConn, mtu int) *UnixChannel {
	return &UnixChannel{
		conn: conn,
		mtu:  mtu,
		// one spare byte detects peers that overrun the mtu
		rbuf: make([]byte, mtu+1),
	}
}

// DialUnix connects to a seqpacket socket at path.
func DialUnix(ctx context.Context, path string, mtu int) (*UnixChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unixpacket", path)
	if err != nil {
		return nil, fmt.Errorf("channel: dial %s: %w", path, err)
	}
	return newUnixChannel(conn.(*net.UnixConn), mtu), nil
}

func (c *UnixChannel) Wait(ctx context.Context) (Event, error) {
	if c.pending != nil {
		return EventMessage, nil
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return EventError, fmt.Errorf("channel: clear deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := c.conn.Read(c.rbuf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return EventHangup, nil
		}
		return EventError, fmt.Errorf("channel: read: %w", err)
	}
	if n == 0 {
		// zero-length read on seqpacket means orderly shutdown
		return EventHangup, nil
	}
	if n > c.mtu {
		return EventError, ErrPacketTooLarge
	}
	c.pending = c.rbuf[:n]
	return EventMessage, nil
}

func (c *UnixChannel) Recv(dst []byte) (packet.Header, int, error) {
	if c.pending == nil {
		return packet.Header{}, 0, ErrNoMessage
	}
	wire := c.pending
	c.pending = nil
	return consume(wire, dst)
}

func (c *UnixChannel) Send(h packet.Header, payload []byte) error {
	wire, err := packet.Encode(h, payload, c.mtu)
	if err != nil {
		return err
	}
	n, err := c.conn.Write(wire)
	if err != nil {
		return fmt.Errorf("channel: write: %w", err)
	}
	if n != len(wire) {
		return fmt.Errorf("channel: short write %d/%d", n, len(wire))
	}
	return nil
}

func (c *UnixChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// UnixListener accepts seqpacket connections on a filesystem socket.
type UnixListener struct {
	ln   *net.UnixListener
	path string
	mtu  int
}

// ListenUnix binds path, replacing a stale socket file left by a previous run.
func ListenUnix(path string, mtu int) (*UnixListener, error) {
	if _, err := packet.MaxPayload(mtu); err != nil {
		return nil, err
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("channel: remove stale socket: %w", err)
		}
	}
	ln, err := net.ListenUnix("unixpacket", &net.UnixAddr{Name: path, Net: "unixpacket"})
	if err != nil {
		return nil, fmt.Errorf("channel: listen %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("mtu", mtu).Msg("channel.ListenUnix listening")
	return &UnixListener{ln: ln, path: path, mtu: mtu}, nil
}

func (l *UnixListener) Accept(ctx context.Context) (Channel, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stop()

	conn, err := l.ln.AcceptUnix()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("channel: accept: %w", err)
	}
	return newUnixChannel(conn, l.mtu), nil
}

func (l *UnixListener) Close() error {
	return l.ln.Close()
}

func (l *UnixListener) Addr() string {
	return l.path
}
