package main

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/confirmationui/internal/channel"
	"github.com/danmuck/confirmationui/internal/client"
	"github.com/danmuck/confirmationui/internal/device"
	"github.com/danmuck/confirmationui/internal/keys"
	"github.com/danmuck/confirmationui/internal/layouts"
	"github.com/danmuck/confirmationui/internal/operation"
	"github.com/danmuck/confirmationui/internal/secfb"
	"github.com/danmuck/confirmationui/internal/session"
	"github.com/danmuck/confirmationui/internal/ui"
)

func TestStepsRunOnOneConnection(t *testing.T) {
	table, err := device.NewTable([]string{"emulator"}, device.BuiltinGeometries(), layouts.Factory)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	mem := secfb.NewMemory(secfb.DisplayConfig{Width: 360, Height: 640})
	peer, local := channel.Pipe(256)
	cfg := session.DefaultConfig()
	cfg.MTU = 256
	sess, err := session.New(local, operation.New(ui.New(table, mem)), cfg)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	go func() { _, _ = sess.Run(context.Background(), keys.TestKeyProvider{}) }()

	c, _ := client.New(peer, 256)
	defer c.Close()
	opts := options{text: "Sign in?", locale: "en", magnified: true}
	for _, step := range []string{"params", "prompt", "input=7", "confirm", "fetch"} {
		if err := runStep(context.Background(), c, step, opts); err != nil {
			t.Fatalf("%s: %v", step, err)
		}
	}
	if err := runStep(context.Background(), c, "dance", opts); !errors.Is(err, errUnknownStep) {
		t.Fatalf("expected errUnknownStep, got %v", err)
	}
	if err := runStep(context.Background(), c, "input=x", opts); err == nil {
		t.Fatalf("expected parse error")
	}
}
