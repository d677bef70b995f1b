// Package session drives one peer connection at a time: fetch the session
// key, reassemble each request, hand it to the operation handler, stream the
// response back, and tear everything down on the way out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/observability"
	"github.com/danmuck/confirmationui/internal/protocol/packet"
	"github.com/danmuck/confirmationui/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrKeyUnavailable = errors.New("session: auth token key unavailable")
	ErrHandler        = errors.New("session: handler failed")
	ErrChannel        = errors.New("session: channel error")
)

// Handler interprets complete requests for one connection.
type Handler interface {
	SetAuthTokenKey(k *keys.Key)
	// Handle returns the full response for req. req aliases the session
	// buffer and is only valid during the call.
	Handle(req []byte) ([]byte, error)
	// Abort releases everything the handler holds. It must be idempotent.
	Abort()
}

// HandlerFactory creates the handler for a new connection.
type HandlerFactory func() Handler

// Config holds per-session limits.
type Config struct {
	MTU        int
	Capacity   int
	KeyTimeout time.Duration
	// IdleTimeout ends a session whose peer goes quiet. Zero disables it.
	IdleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MTU:        packet.DefaultMTU,
		Capacity:   transport.DefaultCapacity,
		KeyTimeout: 5 * time.Second,
	}
}

// Outcome labels how a session ended.
type Outcome string

const (
	OutcomeHangup      Outcome = "hangup"
	OutcomeDesync      Outcome = "desync"
	OutcomeChannel     Outcome = "channel_error"
	OutcomeHandler     Outcome = "handler_error"
	OutcomeKey         Outcome = "key_error"
	OutcomeCanceled    Outcome = "canceled"
	OutcomeIdleTimeout Outcome = "idle_timeout"
)

var nextID atomic.Uint64

// Session is the per-connection context: channel, transport, handler and key.
type Session struct {
	id      uint64
	cfg     Config
	ch      channel.Channel
	tr      *transport.Transport
	handler Handler
	key     *keys.Key
	done    bool
}

func New(ch channel.Channel, handler Handler, cfg Config) (*Session, error) {
	tr, err := transport.New(ch, cfg.Capacity, cfg.MTU)
	if err != nil {
		return nil, err
	}
	return &Session{id: nextID.Add(1), cfg: cfg, ch: ch, tr: tr, handler: handler}, nil
}

func (s *Session) ID() uint64 { return s.id }

// Transport exposes the session transport for inspection.
func (s *Session) Transport() *transport.Transport { return s.tr }

// Run serves the connection until the peer hangs up or something fails.
// The handler is aborted, the key scrubbed and the channel closed on every
// return path.
func (s *Session) Run(ctx context.Context, kp keys.Provider) (Outcome, error) {
	start := time.Now()
	outcome, err := s.run(ctx, kp)
	s.teardown()
	observability.RecordSession(string(outcome), time.Since(start))
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Uint64("session", s.id).Str("outcome", string(outcome)).Dur("duration", time.Since(start)).Msg("session.Run done")
	return outcome, err
}

func (s *Session) run(ctx context.Context, kp keys.Provider) (Outcome, error) {
	kctx, cancel := context.WithTimeout(ctx, s.cfg.KeyTimeout)
	key, err := kp.AuthTokenKey(kctx)
	cancel()
	if err != nil {
		return OutcomeKey, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
	}
	s.key = key
	s.handler.SetAuthTokenKey(key)
	log.Debug().Uint64("session", s.id).Msg("session.Run key ready")

	for {
		ev, err := s.wait(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return OutcomeCanceled, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				return OutcomeIdleTimeout, err
			default:
				return OutcomeChannel, fmt.Errorf("%w: %w", ErrChannel, err)
			}
		}
		if ev.Has(channel.EventMessage) {
			if outcome, err := s.step(); err != nil {
				return outcome, err
			}
			continue
		}
		if ev.Has(channel.EventError) {
			return OutcomeChannel, ErrChannel
		}
		if ev.Has(channel.EventHangup) {
			return OutcomeHangup, nil
		}
	}
}

func (s *Session) wait(ctx context.Context) (channel.Event, error) {
	if s.cfg.IdleTimeout <= 0 {
		return s.ch.Wait(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, s.cfg.IdleTimeout)
	defer cancel()
	return s.ch.Wait(wctx)
}

// step handles one inbound packet and, when it completes a request, runs the
// handler and stages its response.
func (s *Session) step() (Outcome, error) {
	progress, err := s.tr.HandlePacket()
	if err != nil {
		if errors.Is(err, transport.ErrDesync) {
			return OutcomeDesync, err
		}
		return OutcomeChannel, fmt.Errorf("%w: %w", ErrChannel, err)
	}
	if progress != transport.ProgressRequestComplete {
		return "", nil
	}
	req := s.tr.Request()
	log.Debug().Uint64("session", s.id).Int("bytes", len(req)).Msg("session.step request complete")
	resp, err := s.handler.Handle(req)
	if err != nil {
		return OutcomeHandler, fmt.Errorf("%w: %w", ErrHandler, err)
	}
	if err := s.tr.StageResponse(resp); err != nil {
		return OutcomeHandler, fmt.Errorf("%w: %w", ErrHandler, err)
	}
	return "", nil
}

// teardown is idempotent.
func (s *Session) teardown() {
	if s.done {
		return
	}
	s.done = true
	s.handler.Abort()
	s.key.Scrub()
	s.key = nil
	s.tr.Reset()
	if err := s.ch.Close(); err != nil {
		log.Debug().Uint64("session", s.id).Err(err).Msg("session.teardown close")
	}
}
