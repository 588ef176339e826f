// Package config loads the YAML configuration tree for a timingcore
// deployment: the HTTP/WebSocket server, the set of events to run, and
// per-event feed endpoints. Shape and loading style (XDG default path,
// Load/LoadOrDefault, a Diff helper for hot-reload logging) follow the
// teacher's internal/config package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Events  []EventConfig `yaml:"events"`
}

// ServerConfig controls the HTTP/WebSocket listener (internal/broadcast).
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
	MaxConnections int      `yaml:"max_connections"`
}

// MonitorConfig controls internal/ingest's poll loop and health reporting,
// shared across every configured event.
type MonitorConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval"`
	HealthWarningThreshold int           `yaml:"health_warning_threshold"`
}

// EventConfig describes one event's session pipeline: its identifiers and
// the upstream feeds it should ingest from.
type EventConfig struct {
	EventId     int         `yaml:"event_id"`
	SessionId   int         `yaml:"session_id"`
	SessionName string      `yaml:"session_name"`
	Feeds       FeedsConfig `yaml:"feeds"`

	// Simulate runs internal/simfeed instead of (or alongside, if any feed
	// URL is also set) the configured feeds — useful for demos and for
	// bringing up the broadcast surface with no live relay available.
	Simulate bool `yaml:"simulate"`
}

// FeedsConfig names the upstream WebSocket relay for each of the feed
// kinds §1 lists as external collaborators. An empty URL disables that
// feed for the event.
type FeedsConfig struct {
	RMonitorURL  string `yaml:"rmonitor_url"`
	MultiloopURL string `yaml:"multiloop_url"`
	X2PassURL    string `yaml:"x2pass_url"`
	FlagsURL     string `yaml:"flags_url"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config if
// path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultConfig(), nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			Host:           "127.0.0.1",
			MaxConnections: 1000,
		},
		Monitor: MonitorConfig{
			PollInterval:           200 * time.Millisecond,
			HealthWarningThreshold: 3,
		},
		Events: []EventConfig{
			{EventId: 1, SessionId: 1, SessionName: "Untitled session", Simulate: true},
		},
	}
}

func defaultStateDir() string {
	if value := os.Getenv("XDG_STATE_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".local", "state")
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "timingcore", "config.yaml")
}

// DefaultStateDir returns the XDG-compliant state directory, for
// deployments that need a filesystem location for persistence backends.
func DefaultStateDir() string {
	return filepath.Join(defaultStateDir(), "timingcore")
}

// EventById returns the configured EventConfig for id, if present.
func (c *Config) EventById(id int) (EventConfig, bool) {
	for _, e := range c.Events {
		if e.EventId == id {
			return e, true
		}
	}
	return EventConfig{}, false
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for logging on a config reload. It compares server
// port/host/max_connections, monitor timings, and the event roster (added
// or removed events, and each kept event's feeds and simulate flag); a
// change that needs a restart to take effect is reported as such.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Server.Port != new.Server.Port {
		changes = append(changes, fmt.Sprintf("server.port: %d → %d (requires restart)", old.Server.Port, new.Server.Port))
	}
	if old.Server.Host != new.Server.Host {
		changes = append(changes, fmt.Sprintf("server.host: %s → %s (requires restart)", old.Server.Host, new.Server.Host))
	}
	if old.Server.MaxConnections != new.Server.MaxConnections {
		changes = append(changes, fmt.Sprintf("server.max_connections: %d → %d", old.Server.MaxConnections, new.Server.MaxConnections))
	}

	if old.Monitor.PollInterval != new.Monitor.PollInterval {
		changes = append(changes, fmt.Sprintf("monitor.poll_interval: %s → %s", old.Monitor.PollInterval, new.Monitor.PollInterval))
	}
	if old.Monitor.HealthWarningThreshold != new.Monitor.HealthWarningThreshold {
		changes = append(changes, fmt.Sprintf("monitor.health_warning_threshold: %d → %d", old.Monitor.HealthWarningThreshold, new.Monitor.HealthWarningThreshold))
	}

	oldEvents := make(map[int]EventConfig, len(old.Events))
	for _, e := range old.Events {
		oldEvents[e.EventId] = e
	}
	newEvents := make(map[int]EventConfig, len(new.Events))
	for _, e := range new.Events {
		newEvents[e.EventId] = e
	}
	for id, ne := range newEvents {
		oe, ok := oldEvents[id]
		if !ok {
			changes = append(changes, fmt.Sprintf("events: added event_id=%d (requires restart)", id))
			continue
		}
		if oe.Feeds != ne.Feeds {
			changes = append(changes, fmt.Sprintf("events[%d].feeds: changed (requires restart)", id))
		}
		if oe.Simulate != ne.Simulate {
			changes = append(changes, fmt.Sprintf("events[%d].simulate: %v → %v (requires restart)", id, oe.Simulate, ne.Simulate))
		}
	}
	for id := range oldEvents {
		if _, ok := newEvents[id]; !ok {
			changes = append(changes, fmt.Sprintf("events: removed event_id=%d (requires restart)", id))
		}
	}

	return changes
}
