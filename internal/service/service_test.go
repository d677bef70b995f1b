package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/client"
	"github.com/danmuck/confirmationui/internal/config"
	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/protocol/schema"
	"github.com/danmuck/confirmationui/internal/testutil/testlog"
)

func TestServiceServesConfirmation(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	tablePath := filepath.Join(dir, "devices.toml")
	if err := config.WriteTemplate(tablePath, false); err != nil {
		t.Fatalf("write device table: %v", err)
	}
	cfg := DefaultConfig()
	cfg.DeviceTable = tablePath
	cfg.SnapshotDir = dir
	svc := New(cfg)
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	ln := channel.NewMemoryListener(cfg.MTU)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- svc.Serve(ctx, ln) }()

	peer, err := ln.Dial()
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c, _ := client.New(peer, cfg.MTU)
	if resp, err := c.Prompt(ctx, "Unlock the door?", []byte{1, 2, 3}, "es", 0); err != nil || resp.Code != schema.OK {
		t.Fatalf("prompt: %+v %v", resp, err)
	}
	fbs := svc.Framebuffers()
	if fbs.Frames(0) != 1 || fbs.Frames(1) != 1 {
		t.Fatalf("frames %d %d", fbs.Frames(0), fbs.Frames(1))
	}
	if _, err := os.Stat(filepath.Join(dir, "display-1-frame-1.png")); err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if resp, _ := c.DeliverInput(ctx, schema.InputCancel); resp.Code != schema.OK {
		t.Fatalf("cancel: %s", resp.Code)
	}
	if resp, _ := c.FetchResult(ctx); resp.Code != schema.Canceled {
		t.Fatalf("fetch: %s", resp.Code)
	}
	_ = c.Close()

	status := svc.Status()
	if status["displays"] != 2 {
		t.Fatalf("status %v", status)
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestBootstrapRejectsBadConfig(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.KeySource = "hsm"
	if err := New(cfg).bootstrap(); !errors.Is(err, ErrInvalidKeySource) {
		t.Fatalf("expected ErrInvalidKeySource, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.KeySource = KeySourceFile
	if err := New(cfg).bootstrap(); !errors.Is(err, ErrInvalidKeySource) {
		t.Fatalf("expected ErrInvalidKeySource without key file, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.KeySource = KeySourceFile
	cfg.KeyFile = "secret"
	cfg.KeyEncoding = "base64"
	if err := New(cfg).bootstrap(); !errors.Is(err, ErrInvalidKeySource) {
		t.Fatalf("expected ErrInvalidKeySource for key encoding, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Heartbeat = 0
	if err := New(cfg).bootstrap(); !errors.Is(err, ErrInvalidHeartbeat) {
		t.Fatalf("expected ErrInvalidHeartbeat, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.DeviceTable = filepath.Join(t.TempDir(), "missing.toml")
	if err := New(cfg).bootstrap(); err == nil {
		t.Fatalf("expected missing device table error")
	}
}

func TestServeRequiresBootstrap(t *testing.T) {
	ln := channel.NewMemoryListener(64)
	if err := New(DefaultConfig()).Serve(context.Background(), ln); !errors.Is(err, ErrNotBootstrapped) {
		t.Fatalf("expected ErrNotBootstrapped, got %v", err)
	}
	if _, err := ln.Dial(); !errors.Is(err, channel.ErrClosed) {
		t.Fatalf("listener left open")
	}
}

func TestFileKeySourceEndsSessionWhenSecretMissing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeySource = KeySourceFile
	cfg.KeyFile = filepath.Join(t.TempDir(), "absent")
	svc := New(cfg)
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	ln := channel.NewMemoryListener(cfg.MTU)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx, ln) }()

	peer, _ := ln.Dial()
	ev, err := peer.Wait(ctx)
	if err != nil || !ev.Has(channel.EventHangup) {
		t.Fatalf("expected hangup, got %v %v", ev, err)
	}
}

func TestKeyProviderHonoursEncoding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeySource = KeySourceFile
	cfg.KeyFile = "secret"
	cfg.KeyEncoding = "HEX"
	kp, err := keyProvider(cfg)
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	if fp, ok := kp.(keys.FileProvider); !ok || !fp.Hex || fp.Path != "secret" {
		t.Fatalf("unexpected provider %#v", kp)
	}
	cfg.KeyEncoding = ""
	kp, err = keyProvider(cfg)
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	if fp, ok := kp.(keys.FileProvider); !ok || fp.Hex {
		t.Fatalf("empty encoding should read raw bytes, got %#v", kp)
	}
}

func TestOpsHandlerGuardsMetrics(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultConfig()
	cfg.MetricsToken = "scrape"
	svc := New(cfg)
	if err := svc.bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	h := svc.opsHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unguarded metrics: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer scrape")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("guarded metrics: status %d", rec.Code)
	}
}
