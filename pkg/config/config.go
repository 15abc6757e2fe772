// Package config provides TOML configuration loading for visage.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Stream StreamConfig `toml:"stream"`
	Device DeviceConfig `toml:"device"`
}

// StreamConfig holds settings for the capturing and transmitting side.
type StreamConfig struct {
	Monitor          int    `toml:"monitor"`
	GridSize         int    `toml:"grid_size"`
	Resample         string `toml:"resample"`
	DiscoveryPort    int    `toml:"discovery_port"`
	ResponsePort     int    `toml:"response_port"`
	NetworkRange     string `toml:"network_range"`
	BroadcastAddress string `toml:"broadcast_address"`
	ProbeTimeout     string `toml:"probe_timeout"`
	RestartCooldown  string `toml:"restart_cooldown"`
	PollInterval     string `toml:"poll_interval"`
	TOS              int    `toml:"tos"`
	ControlSocket    string `toml:"control_socket"`
	LogLevel         string `toml:"log_level"`
}

// DeviceConfig holds settings for the device emulator.
type DeviceConfig struct {
	GridSize       int    `toml:"grid_size"`
	DiscoveryPort  int    `toml:"discovery_port"`
	ResponsePort   int    `toml:"response_port"`
	ProbeLimit     int    `toml:"probe_limit"`
	ReportInterval string `toml:"report_interval"`
	LogLevel       string `toml:"log_level"`
}

// ParseProbeTimeout parses the discovery read timeout.
func (s *StreamConfig) ParseProbeTimeout() (time.Duration, error) {
	return parseDuration(s.ProbeTimeout, 3*time.Second)
}

// ParseRestartCooldown parses the pause between stop and start on restart.
func (s *StreamConfig) ParseRestartCooldown() (time.Duration, error) {
	return parseDuration(s.RestartCooldown, 6*time.Second)
}

// ParsePollInterval parses the status poll interval.
func (s *StreamConfig) ParsePollInterval() (time.Duration, error) {
	return parseDuration(s.PollInterval, 200*time.Millisecond)
}

// ParseReportInterval parses the emulator stats interval.
func (d *DeviceConfig) ParseReportInterval() (time.Duration, error) {
	return parseDuration(d.ReportInterval, 5*time.Second)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return d, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg
}

// Load reads and parses a TOML config file, applying defaults for unset values.
// An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.Stream.ControlSocket = ExpandPath(cfg.Stream.ControlSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Stream defaults
	if cfg.Stream.Monitor == 0 {
		cfg.Stream.Monitor = 1
	}
	if cfg.Stream.GridSize == 0 {
		cfg.Stream.GridSize = 10
	}
	if cfg.Stream.Resample == "" {
		cfg.Stream.Resample = "bilinear"
	}
	if cfg.Stream.DiscoveryPort == 0 {
		cfg.Stream.DiscoveryPort = 4210
	}
	if cfg.Stream.ResponsePort == 0 {
		cfg.Stream.ResponsePort = 4211
	}
	if cfg.Stream.ProbeTimeout == "" {
		cfg.Stream.ProbeTimeout = "3s"
	}
	if cfg.Stream.RestartCooldown == "" {
		cfg.Stream.RestartCooldown = "6s"
	}
	if cfg.Stream.PollInterval == "" {
		cfg.Stream.PollInterval = "200ms"
	}
	if cfg.Stream.ControlSocket == "" {
		cfg.Stream.ControlSocket = "/tmp/visage/control.sock"
	}
	if cfg.Stream.LogLevel == "" {
		cfg.Stream.LogLevel = "info"
	}

	// Device defaults
	if cfg.Device.GridSize == 0 {
		cfg.Device.GridSize = 10
	}
	if cfg.Device.DiscoveryPort == 0 {
		cfg.Device.DiscoveryPort = 4210
	}
	if cfg.Device.ResponsePort == 0 {
		cfg.Device.ResponsePort = 4211
	}
	if cfg.Device.ProbeLimit == 0 {
		cfg.Device.ProbeLimit = 30
	}
	if cfg.Device.ReportInterval == "" {
		cfg.Device.ReportInterval = "5s"
	}
	if cfg.Device.LogLevel == "" {
		cfg.Device.LogLevel = cfg.Stream.LogLevel
	}
}
