package session

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/rs/zerolog/log"
)

// Server accepts connections and serves them one after another. A new
// connection is not accepted until the previous session has fully exited.
type Server struct {
	cfg     Config
	keys    keys.Provider
	handler HandlerFactory
	served  atomic.Uint64
}

func NewServer(cfg Config, kp keys.Provider, factory HandlerFactory) *Server {
	return &Server{cfg: cfg, keys: kp, handler: factory}
}

// Served reports how many sessions have completed.
func (s *Server) Served() uint64 { return s.served.Load() }

// Serve runs the accept loop until ctx is done or the listener fails. The
// listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln channel.Listener) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr()).Int("mtu", s.cfg.MTU).Int("capacity", s.cfg.Capacity).Msg("session.Serve listening")
	for {
		ch, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, channel.ErrClosed) {
				return nil
			}
			return err
		}
		s.serveOne(ctx, ch)
	}
}

func (s *Server) serveOne(ctx context.Context, ch channel.Channel) {
	defer s.served.Add(1)
	h := s.handler()
	sess, err := New(ch, h, s.cfg)
	if err != nil {
		log.Error().Err(err).Msg("session.Serve new session")
		h.Abort()
		_ = ch.Close()
		return
	}
	log.Debug().Uint64("session", sess.ID()).Msg("session.Serve accepted")
	_, _ = sess.Run(ctx, s.keys)
}
