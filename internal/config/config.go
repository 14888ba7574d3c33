// Package config provides configuration loading for the camera gateway
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListen is the default API listen address
	DefaultListen = ":5000"
	// DefaultRTSPPort is the relay's default RTSP port
	DefaultRTSPPort = 8554
	// DefaultPlaybackPort is the relay's default playback server port
	DefaultPlaybackPort = 9996
	// DefaultControlCommand is the default control agent executable
	DefaultControlCommand = "thingino-control"

	systemConfigDir = "/etc/eneverre"
)

// DefaultPTZActions are the PTZ actions forwarded to the control agent
var DefaultPTZActions = []string{
	"up", "down", "left", "right",
	"upleft", "upright", "downleft", "downright",
	"zoomin", "zoomout", "home", "stop",
}

// Config represents the gateway configuration
type Config struct {
	Server     ServerConfig  `yaml:"server"`
	Relay      RelayConfig   `yaml:"relay"`
	Control    ControlConfig `yaml:"control"`
	Events     EventsConfig  `yaml:"events"`
	Audit      AuditConfig   `yaml:"audit"`
	Logging    LoggingConfig `yaml:"logging"`
	CamerasDir string        `yaml:"cameras_dir"`

	path string `yaml:"-"`
}

// ServerConfig holds the gateway's own HTTP settings
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"` // plain text or bcrypt hash
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
	WatchConfig bool     `yaml:"watch_config"`
}

// RelayConfig holds the streaming relay settings.
// An empty Host disables the relay integration.
//
// Recordings are listed through ListAddress and fetched from
// Host:PlaybackPort. ListAddress defaults to 127.0.0.1:<PlaybackPort>, the
// same port as retrieval on the loopback interface, because the relay's
// playback server answers both. Set it when the relay exposes listing on a
// separate port.
type RelayConfig struct {
	Host           string        `yaml:"host"`
	RTSPScheme     string        `yaml:"rtsp_scheme"`
	RTSPPort       int           `yaml:"rtsp_port"`
	PlaybackScheme string        `yaml:"playback_scheme"`
	PlaybackPort   int           `yaml:"playback_port"`
	ListAddress    string        `yaml:"list_address"` // host:port, defaults to 127.0.0.1:<playback_port>
	ListTimeout    time.Duration `yaml:"list_timeout"`
	GetTimeout     time.Duration `yaml:"get_timeout"`
}

// Enabled reports whether a relay server is configured
func (r RelayConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

// ControlConfig holds control agent settings
type ControlConfig struct {
	Command string        `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
	Actions []string      `yaml:"actions,omitempty"`
}

// EventsConfig holds embedded event bus settings
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"` // 0 picks a random port
}

// AuditConfig holds control audit store settings.
// An empty Path disables the store.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:      DefaultListen,
			WatchConfig: true,
		},
		Relay: RelayConfig{
			RTSPScheme:     "rtsp",
			RTSPPort:       DefaultRTSPPort,
			PlaybackScheme: "http",
			PlaybackPort:   DefaultPlaybackPort,
			ListTimeout:    5 * time.Second,
			GetTimeout:     60 * time.Second,
		},
		Control: ControlConfig{
			Command: DefaultControlCommand,
			Timeout: 5 * time.Second,
			Actions: append([]string(nil), DefaultPTZActions...),
		},
		Events: EventsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		CamerasDir: defaultCamerasDir(),
	}
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path returns the file the config was loaded from
func (c *Config) Path() string {
	return c.path
}

// Validate checks settings that cannot be defaulted
func (c *Config) Validate() error {
	if c.Server.Username == "" || c.Server.Password == "" {
		return fmt.Errorf("server.username and server.password are required")
	}
	if c.Relay.Enabled() {
		if c.Relay.RTSPPort <= 0 || c.Relay.RTSPPort > 65535 {
			return fmt.Errorf("invalid relay.rtsp_port: %d", c.Relay.RTSPPort)
		}
		if c.Relay.PlaybackPort <= 0 || c.Relay.PlaybackPort > 65535 {
			return fmt.Errorf("invalid relay.playback_port: %d", c.Relay.PlaybackPort)
		}
	}
	// the audit store is fed from the event bus
	if c.Audit.Path != "" && !c.Events.Enabled {
		return fmt.Errorf("audit.path requires events.enabled")
	}
	return nil
}

// setDefaults fills zero values left by the file and derived fields
func (c *Config) setDefaults() {
	d := Default()

	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Relay.RTSPScheme == "" {
		c.Relay.RTSPScheme = d.Relay.RTSPScheme
	}
	if c.Relay.PlaybackScheme == "" {
		c.Relay.PlaybackScheme = d.Relay.PlaybackScheme
	}
	if c.Relay.ListAddress == "" {
		c.Relay.ListAddress = fmt.Sprintf("127.0.0.1:%d", c.Relay.PlaybackPort)
	}
	if c.Relay.ListTimeout <= 0 {
		c.Relay.ListTimeout = d.Relay.ListTimeout
	}
	if c.Relay.GetTimeout <= 0 {
		c.Relay.GetTimeout = d.Relay.GetTimeout
	}
	if c.Control.Command == "" {
		c.Control.Command = d.Control.Command
	}
	if c.Control.Timeout <= 0 {
		c.Control.Timeout = d.Control.Timeout
	}
	if len(c.Control.Actions) == 0 {
		c.Control.Actions = d.Control.Actions
	}
	if c.Events.Host == "" {
		c.Events.Host = d.Events.Host
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
	if c.CamerasDir == "" {
		c.CamerasDir = d.CamerasDir
	}
}

// FindConfigFile looks for the config file in the usual locations.
// An explicit path wins, then ENEVERRE_CONFIG.
func FindConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("ENEVERRE_CONFIG"); p != "" {
		return p
	}

	locations := []string{
		filepath.Join(systemConfigDir, "eneverre.yaml"),
		"./eneverre.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return "./eneverre.yaml"
}

func defaultCamerasDir() string {
	if dir := os.Getenv("ENEVERRE_CAMERAS_DIR"); dir != "" {
		return dir
	}
	systemDir := filepath.Join(systemConfigDir, "cameras.d")
	if info, err := os.Stat(systemDir); err == nil && info.IsDir() {
		return systemDir
	}
	return "./cameras.d"
}
