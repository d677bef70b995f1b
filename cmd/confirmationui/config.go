package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/confirmationui/internal/service"
)

type fileConfig struct {
	Socket       string `toml:"socket"`
	MTU          int    `toml:"mtu"`
	Capacity     int    `toml:"capacity"`
	KeyTimeout   string `toml:"key_timeout"`
	IdleTimeout  string `toml:"idle_timeout"`
	KeySource    string `toml:"key_source"`
	KeyFile      string `toml:"key_file"`
	KeyEncoding  string `toml:"key_encoding"`
	DeviceTable  string `toml:"device_table"`
	SnapshotDir  string `toml:"snapshot_dir"`
	MetricsAddr  string `toml:"metrics_addr"`
	MetricsToken string `toml:"metrics_token"`
	Heartbeat    string `toml:"heartbeat"`
}

func loadServiceConfig(path string) (service.Config, error) {
	cfg := service.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.Config{}, fmt.Errorf("load service config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.Config{}, fmt.Errorf("load service config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("socket") {
		cfg.SocketPath = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("mtu") {
		cfg.MTU = raw.MTU
	}
	if meta.IsDefined("capacity") {
		cfg.Capacity = raw.Capacity
	}
	if meta.IsDefined("key_timeout") {
		d, err := parseDuration("key_timeout", raw.KeyTimeout)
		if err != nil {
			return service.Config{}, err
		}
		cfg.KeyTimeout = d
	}
	if meta.IsDefined("idle_timeout") {
		d, err := parseDuration("idle_timeout", raw.IdleTimeout)
		if err != nil {
			return service.Config{}, err
		}
		cfg.IdleTimeout = d
	}
	if meta.IsDefined("key_source") {
		cfg.KeySource = strings.TrimSpace(raw.KeySource)
	}
	if meta.IsDefined("key_file") {
		cfg.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("key_encoding") {
		cfg.KeyEncoding = strings.TrimSpace(raw.KeyEncoding)
	}
	if meta.IsDefined("device_table") {
		cfg.DeviceTable = strings.TrimSpace(raw.DeviceTable)
	}
	if meta.IsDefined("snapshot_dir") {
		cfg.SnapshotDir = strings.TrimSpace(raw.SnapshotDir)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("metrics_token") {
		cfg.MetricsToken = strings.TrimSpace(raw.MetricsToken)
	}
	if meta.IsDefined("heartbeat") {
		d, err := parseDuration("heartbeat", raw.Heartbeat)
		if err != nil {
			return service.Config{}, err
		}
		cfg.Heartbeat = d
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
