// Package service wires the confirmation daemon together: device table,
// framebuffers, key source, session server and the optional ops endpoint.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/confirmationui/internal/auth"
	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/config"
	"github.com/danmuck/confirmationui/internal/device"
	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/layouts"
	"github.com/danmuck/confirmationui/internal/observability"
	"github.com/danmuck/confirmationui/internal/operation"
	"github.com/danmuck/confirmationui/internal/secfb"
	"github.com/danmuck/confirmationui/internal/session"
	"github.com/danmuck/confirmationui/internal/ui"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidKeySource = errors.New("service: invalid key source")
	ErrInvalidHeartbeat = errors.New("service: invalid heartbeat interval")
	ErrNotBootstrapped  = errors.New("service: not bootstrapped")
)

const (
	KeySourceTest = "test"
	KeySourceFile = "file"

	KeyEncodingRaw = "raw"
	KeyEncodingHex = "hex"
)

// Config configures the daemon.
type Config struct {
	SocketPath  string
	MTU         int
	Capacity    int
	KeyTimeout  time.Duration
	IdleTimeout time.Duration
	KeySource   string
	KeyFile     string
	// KeyEncoding is raw or hex; it only applies to the file source.
	KeyEncoding string
	// DeviceTable is a TOML device table; empty uses the emulator.
	DeviceTable string
	SnapshotDir string
	// MetricsAddr enables /health and /metrics when set.
	MetricsAddr string
	// MetricsToken, when set, is required as a bearer token on /metrics.
	MetricsToken string
	Heartbeat    time.Duration
}

func DefaultConfig() Config {
	sc := session.DefaultConfig()
	return Config{
		SocketPath:  "/tmp/confirmationui.sock",
		MTU:         sc.MTU,
		Capacity:    sc.Capacity,
		KeyTimeout:  sc.KeyTimeout,
		KeySource:   KeySourceTest,
		KeyEncoding: KeyEncodingRaw,
		Heartbeat:   time.Minute,
	}
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		MTU:         c.MTU,
		Capacity:    c.Capacity,
		KeyTimeout:  c.KeyTimeout,
		IdleTimeout: c.IdleTimeout,
	}
}

type Service struct {
	cfg Config

	mu      sync.Mutex
	devices *device.Table
	fbs     *secfb.Memory
	keys    keys.Provider
	server  *session.Server
	started time.Time
}

func New(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Run listens on the configured socket and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		return err
	}
	ln, err := channel.ListenUnix(s.cfg.SocketPath, s.cfg.MTU)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Service) bootstrap() error {
	if s.cfg.Heartbeat <= 0 {
		return ErrInvalidHeartbeat
	}
	kp, err := keyProvider(s.cfg)
	if err != nil {
		return err
	}

	table := config.DefaultDeviceTable()
	if strings.TrimSpace(s.cfg.DeviceTable) != "" {
		table, err = config.LoadDeviceTable(s.cfg.DeviceTable)
		if err != nil {
			return err
		}
	}
	devices, err := config.DeviceTable(table, layouts.Factory)
	if err != nil {
		return err
	}
	fbCfgs, err := config.FramebufferConfigs(table, s.cfg.SnapshotDir)
	if err != nil {
		return err
	}
	fbs := secfb.NewMemory(fbCfgs...)

	srv := session.NewServer(s.cfg.sessionConfig(), kp, func() session.Handler {
		return operation.New(ui.New(devices, fbs))
	})

	s.mu.Lock()
	s.devices, s.fbs, s.keys, s.server = devices, fbs, kp, srv
	s.mu.Unlock()

	log.Info().Int("displays", devices.DisplayCount()).Str("key_source", s.cfg.KeySource).
		Str("device_table", s.cfg.DeviceTable).Msg("service.bootstrap ready")
	return nil
}

func keyProvider(cfg Config) (keys.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.KeySource)) {
	case KeySourceTest, "":
		log.Warn().Msg("service.bootstrap using the fixed test auth token key")
		return keys.TestKeyProvider{}, nil
	case KeySourceFile:
		if strings.TrimSpace(cfg.KeyFile) == "" {
			return nil, fmt.Errorf("%w: file source without key_file", ErrInvalidKeySource)
		}
		var hexEncoded bool
		switch strings.ToLower(strings.TrimSpace(cfg.KeyEncoding)) {
		case KeyEncodingRaw, "":
		case KeyEncodingHex:
			hexEncoded = true
		default:
			return nil, fmt.Errorf("%w: key encoding %q", ErrInvalidKeySource, cfg.KeyEncoding)
		}
		return keys.FileProvider{Path: cfg.KeyFile, Hex: hexEncoded}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKeySource, cfg.KeySource)
	}
}

// Serve runs the session server on ln alongside the ops endpoint and the
// heartbeat log. It returns when ctx is done or a component fails.
func (s *Service) Serve(ctx context.Context, ln channel.Listener) error {
	s.mu.Lock()
	srv := s.server
	s.started = time.Now()
	s.mu.Unlock()
	if srv == nil {
		_ = ln.Close()
		return ErrNotBootstrapped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ctx, ln) }()

	opsErr := make(chan error, 1)
	if strings.TrimSpace(s.cfg.MetricsAddr) != "" {
		go func() { opsErr <- s.serveOps(ctx, s.cfg.MetricsAddr) }()
	}

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("service.Serve shutdown")
			return <-serveErr
		case err := <-serveErr:
			return err
		case err := <-opsErr:
			if err != nil {
				cancel()
				<-serveErr
				return err
			}
		case <-ticker.C:
			log.Info().Uint64("sessions", srv.Served()).Dur("uptime", time.Since(s.started)).Msg("service.heartbeat")
		}
	}
}

func (s *Service) opsHandler() http.Handler {
	var guards []gin.HandlerFunc
	if s.cfg.MetricsToken != "" {
		guards = append(guards, auth.RequireToken(auth.StaticToken{Token: s.cfg.MetricsToken}))
	}
	return observability.NewRouter(s.Status, guards...)
}

func (s *Service) serveOps(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.opsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("service.serveOps listening")
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("service: ops endpoint: %w", err)
	}
	return nil
}

// Status is reported on /health.
func (s *Service) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{"socket": s.cfg.SocketPath}
	if s.server != nil {
		out["sessions"] = s.server.Served()
		out["displays"] = s.devices.DisplayCount()
	}
	if !s.started.IsZero() {
		out["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	}
	return out
}

// Framebuffers exposes the emulated displays.
func (s *Service) Framebuffers() *secfb.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fbs
}
