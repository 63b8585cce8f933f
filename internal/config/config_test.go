// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/photoarena/winnerd/internal/eventbus"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr = %s", cfg.HTTP.Addr)
	}
	if cfg.Broker.DurableName != "winner-service" {
		t.Errorf("durable name = %s", cfg.Broker.DurableName)
	}
	if cfg.Broker.ConnectMaxAttempts != 10 || cfg.Broker.ConnectRetryWait != 5*time.Second {
		t.Errorf("connect retry defaults = %d/%s", cfg.Broker.ConnectMaxAttempts, cfg.Broker.ConnectRetryWait)
	}
	if cfg.Broker.OnHandlerError != eventbus.PolicyDeadLetter {
		t.Errorf("failure policy = %s", cfg.Broker.OnHandlerError)
	}
	if cfg.Sweep.Interval != time.Minute {
		t.Errorf("sweep interval = %s", cfg.Sweep.Interval)
	}
	if cfg.Store.Backend != "badger" {
		t.Errorf("store backend = %s", cfg.Store.Backend)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("BROKER_URL", "nats://broker.internal:4222")
	t.Setenv("BROKER_ON_HANDLER_ERROR", "drop")
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.URL != "nats://broker.internal:4222" {
		t.Errorf("broker.url = %s", cfg.Broker.URL)
	}
	if cfg.Broker.OnHandlerError != eventbus.PolicyDrop {
		t.Errorf("failure policy = %s", cfg.Broker.OnHandlerError)
	}
	if cfg.Sweep.Interval != 30*time.Second {
		t.Errorf("sweep interval = %s", cfg.Sweep.Interval)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("store backend = %s", cfg.Store.Backend)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http.addr = %s", cfg.HTTP.Addr)
	}
}

func TestConfigFileLayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("broker:\n  url: nats://from-file:4222\nsweep:\n  interval: 2m\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.URL != "nats://from-file:4222" {
		t.Errorf("broker.url = %s", cfg.Broker.URL)
	}
	if cfg.Sweep.Interval != 2*time.Minute {
		t.Errorf("sweep interval = %s", cfg.Sweep.Interval)
	}
	// Untouched settings keep their defaults.
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("http.addr = %s", cfg.HTTP.Addr)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("broker:\n  url: nats://from-file:4222\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("BROKER_URL", "nats://from-env:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.URL != "nats://from-env:4222" {
		t.Errorf("broker.url = %s, env must beat file", cfg.Broker.URL)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("BROKER_ON_HANDLER_ERROR", "requeue")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown failure policy")
	}
}

func TestValidateRequiresBadgerPath(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Path = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for badger backend without path")
	}

	cfg.Store.Backend = "memory"
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory backend should not require a path: %v", err)
	}
}

func TestDispatcherConfigMapping(t *testing.T) {
	cfg := defaultConfig()
	cfg.Broker.DurableName = "svc-a"
	cfg.Broker.QueueGroup = "grp-a"
	cfg.Broker.AckWait = 45 * time.Second

	dc := cfg.DispatcherConfig()
	if dc.DurableName != "svc-a" || dc.QueueGroup != "grp-a" || dc.AckWait != 45*time.Second {
		t.Errorf("dispatcher config = %+v", dc)
	}
	if err := dc.Validate(); err != nil {
		t.Errorf("mapped config invalid: %v", err)
	}
}
