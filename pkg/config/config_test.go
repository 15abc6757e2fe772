package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	content := `
[stream]
  monitor           = 2
  grid_size         = 16
  resample          = "nearest"
  discovery_port    = 5210
  response_port     = 5211
  network_range     = "10.51.240.0/23"
  broadcast_address = "10.51.241.255"
  probe_timeout     = "1s"
  restart_cooldown  = "2s"
  poll_interval     = "100ms"
  tos               = 184
  control_socket    = "/tmp/test.sock"
  log_level         = "debug"

[device]
  grid_size       = 12
  probe_limit     = 5
  report_interval = "10s"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Stream.Monitor != 2 {
		t.Errorf("Stream.Monitor: got %d, want 2", cfg.Stream.Monitor)
	}
	if cfg.Stream.GridSize != 16 {
		t.Errorf("Stream.GridSize: got %d, want 16", cfg.Stream.GridSize)
	}
	if cfg.Stream.Resample != "nearest" {
		t.Errorf("Stream.Resample: got %s, want nearest", cfg.Stream.Resample)
	}
	if cfg.Stream.NetworkRange != "10.51.240.0/23" {
		t.Errorf("Stream.NetworkRange: got %s, want 10.51.240.0/23", cfg.Stream.NetworkRange)
	}
	if cfg.Stream.TOS != 184 {
		t.Errorf("Stream.TOS: got %d, want 184", cfg.Stream.TOS)
	}
	if cfg.Stream.ControlSocket != "/tmp/test.sock" {
		t.Errorf("Stream.ControlSocket: got %s, want /tmp/test.sock", cfg.Stream.ControlSocket)
	}
	if cfg.Stream.LogLevel != "debug" {
		t.Errorf("Stream.LogLevel: got %s, want debug", cfg.Stream.LogLevel)
	}
	if cfg.Device.GridSize != 12 {
		t.Errorf("Device.GridSize: got %d, want 12", cfg.Device.GridSize)
	}
	if cfg.Device.ProbeLimit != 5 {
		t.Errorf("Device.ProbeLimit: got %d, want 5", cfg.Device.ProbeLimit)
	}
	// Unset device keys still pick up defaults.
	if cfg.Device.DiscoveryPort != 4210 {
		t.Errorf("Device.DiscoveryPort: got %d, want 4210", cfg.Device.DiscoveryPort)
	}
	if cfg.Device.LogLevel != "debug" {
		t.Errorf("Device.LogLevel: got %s, want debug", cfg.Device.LogLevel)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	// Minimal config, all defaults should apply
	content := `
[stream]
  monitor = 1
`
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Stream.GridSize != 10 {
		t.Errorf("default GridSize: got %d, want 10", cfg.Stream.GridSize)
	}
	if cfg.Stream.DiscoveryPort != 4210 {
		t.Errorf("default DiscoveryPort: got %d, want 4210", cfg.Stream.DiscoveryPort)
	}
	if cfg.Stream.ResponsePort != 4211 {
		t.Errorf("default ResponsePort: got %d, want 4211", cfg.Stream.ResponsePort)
	}
	if cfg.Stream.ProbeTimeout != "3s" {
		t.Errorf("default ProbeTimeout: got %s, want 3s", cfg.Stream.ProbeTimeout)
	}
	if cfg.Stream.RestartCooldown != "6s" {
		t.Errorf("default RestartCooldown: got %s, want 6s", cfg.Stream.RestartCooldown)
	}
	if cfg.Stream.Resample != "bilinear" {
		t.Errorf("default Resample: got %s, want bilinear", cfg.Stream.Resample)
	}
	if cfg.Stream.LogLevel != "info" {
		t.Errorf("default LogLevel: got %s, want info", cfg.Stream.LogLevel)
	}
	if cfg.Device.ProbeLimit != 30 {
		t.Errorf("default ProbeLimit: got %d, want 30", cfg.Device.ProbeLimit)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Stream.Monitor != 1 {
		t.Errorf("default Monitor: got %d, want 1", cfg.Stream.Monitor)
	}
	if cfg.Stream.ControlSocket != "/tmp/visage/control.sock" {
		t.Errorf("default ControlSocket: got %s", cfg.Stream.ControlSocket)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")

	if err := os.WriteFile(cfgPath, []byte("invalid [[[ toml"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestParseProbeTimeout(t *testing.T) {
	cfg := &StreamConfig{ProbeTimeout: "500ms"}
	d, err := cfg.ParseProbeTimeout()
	if err != nil {
		t.Fatalf("parse timeout: %v", err)
	}
	if d != 500*time.Millisecond {
		t.Errorf("ProbeTimeout: got %v, want 500ms", d)
	}
}

func TestParseDurations_Defaults(t *testing.T) {
	cfg := &StreamConfig{}
	if d, _ := cfg.ParseProbeTimeout(); d != 3*time.Second {
		t.Errorf("default probe timeout: got %v, want 3s", d)
	}
	if d, _ := cfg.ParseRestartCooldown(); d != 6*time.Second {
		t.Errorf("default cooldown: got %v, want 6s", d)
	}
	if d, _ := cfg.ParsePollInterval(); d != 200*time.Millisecond {
		t.Errorf("default poll interval: got %v, want 200ms", d)
	}
	dev := &DeviceConfig{}
	if d, _ := dev.ParseReportInterval(); d != 5*time.Second {
		t.Errorf("default report interval: got %v, want 5s", d)
	}
}

func TestParseDurations_Invalid(t *testing.T) {
	for _, s := range []string{"soon", "-1s", "0s"} {
		cfg := &StreamConfig{RestartCooldown: s}
		if _, err := cfg.ParseRestartCooldown(); err == nil {
			t.Errorf("cooldown %q: expected error", s)
		}
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/tmp/x.sock"); got != "/tmp/x.sock" {
		t.Errorf("absolute path: got %s, want /tmp/x.sock", got)
	}
	got := ExpandPath("~/visage.sock")
	if got == "~/visage.sock" || !filepath.IsAbs(got) {
		t.Errorf("tilde path not expanded: got %s", got)
	}
}
