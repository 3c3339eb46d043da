package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/constellation-io/constellation/pkg/types"
)

// DefaultPath is where settings are looked up when no --config flag is given
const DefaultPath = "./constellation.json"

// Settings holds the full controller and worker configuration
type Settings struct {
	Webserver WebserverSettings `json:"Webserver" yaml:"webserver"`
	Socket    SocketSettings    `json:"Socket" yaml:"socket"`
	Heartbeat HeartbeatSettings `json:"Heartbeat" yaml:"heartbeat"`
	Proxy     ProxySettings     `json:"Proxy" yaml:"proxy"`
	Worker    WorkerSettings    `json:"Worker" yaml:"worker"`
	Admin     AdminSettings     `json:"Admin" yaml:"admin"`
	Logging   LoggingSettings   `json:"Logging" yaml:"logging"`
}

// WebserverSettings configures the public HTTP listener
type WebserverSettings struct {
	Hostname string `json:"Hostname" yaml:"hostname"`
	Port     int    `json:"Port" yaml:"port"`
}

// SocketSettings configures the worker-facing frame channel listener
type SocketSettings struct {
	Hostnames []string `json:"Hostnames" yaml:"hostnames"`
	Port      int      `json:"Port" yaml:"port"`
	Ssl       bool     `json:"Ssl" yaml:"ssl"`
}

// HeartbeatSettings tunes the per-worker health probes
type HeartbeatSettings struct {
	IntervalMs  int `json:"IntervalMs" yaml:"intervalMs"`
	MaxFailures int `json:"MaxFailures" yaml:"maxFailures"`
}

// ProxySettings tunes request dispatch and response retention
type ProxySettings struct {
	TimeoutMs           int `json:"TimeoutMs" yaml:"timeoutMs"`
	ResponseRetentionMs int `json:"ResponseRetentionMs" yaml:"responseRetentionMs"`
}

// WorkerSettings tunes the worker-side reconnection loop
type WorkerSettings struct {
	ConnectionCheckIntervalMs int `json:"ConnectionCheckIntervalMs" yaml:"connectionCheckIntervalMs"`
}

// AdminSettings gates the admin HTTP surface
type AdminSettings struct {
	ApiKeyHeader string   `json:"ApiKeyHeader" yaml:"apiKeyHeader"`
	ApiKeys      []string `json:"ApiKeys" yaml:"apiKeys"`
}

// LoggingSettings configures the zerolog sink
type LoggingSettings struct {
	Level   string `json:"Level" yaml:"level"`
	Json    bool   `json:"Json" yaml:"json"`
	Colors  bool   `json:"Colors" yaml:"colors"`
	File    string `json:"File" yaml:"file"`
	Console bool   `json:"Console" yaml:"console"`
}

// Default returns settings with every option at its documented default
func Default() *Settings {
	return &Settings{
		Webserver: WebserverSettings{
			Hostname: "0.0.0.0",
			Port:     8080,
		},
		Socket: SocketSettings{
			Hostnames: []string{"0.0.0.0"},
			Port:      9000,
			Ssl:       false,
		},
		Heartbeat: HeartbeatSettings{
			IntervalMs:  types.DefaultHeartbeatIntervalMs,
			MaxFailures: types.DefaultMaxFailures,
		},
		Proxy: ProxySettings{
			TimeoutMs:           types.DefaultProxyTimeoutMs,
			ResponseRetentionMs: types.DefaultResponseRetentionMs,
		},
		Worker: WorkerSettings{
			ConnectionCheckIntervalMs: types.DefaultConnectionCheckIntervalMs,
		},
		Admin: AdminSettings{
			ApiKeyHeader: types.DefaultAPIKeyHeader,
			ApiKeys:      []string{"constellation-admin"},
		},
		Logging: LoggingSettings{
			Level:   "info",
			Json:    true,
			Colors:  false,
			Console: true,
		},
	}
}

// Validate enforces the documented minima. Settings failing validation are
// rejected at construction, never clamped silently.
func (s *Settings) Validate() error {
	if s.Webserver.Port <= 0 || s.Webserver.Port > 65535 {
		return fmt.Errorf("webserver port %d out of range", s.Webserver.Port)
	}
	if s.Socket.Port <= 0 || s.Socket.Port > 65535 {
		return fmt.Errorf("socket port %d out of range", s.Socket.Port)
	}
	if len(s.Socket.Hostnames) == 0 {
		return fmt.Errorf("socket hostnames must not be empty")
	}
	if s.Heartbeat.IntervalMs < types.MinHeartbeatIntervalMs {
		return fmt.Errorf("heartbeat interval %dms below minimum %dms", s.Heartbeat.IntervalMs, types.MinHeartbeatIntervalMs)
	}
	if s.Heartbeat.MaxFailures < types.MinMaxFailures {
		return fmt.Errorf("heartbeat max failures %d below minimum %d", s.Heartbeat.MaxFailures, types.MinMaxFailures)
	}
	if s.Proxy.TimeoutMs < types.MinProxyTimeoutMs {
		return fmt.Errorf("proxy timeout %dms below minimum %dms", s.Proxy.TimeoutMs, types.MinProxyTimeoutMs)
	}
	if s.Proxy.ResponseRetentionMs < types.MinResponseRetentionMs {
		return fmt.Errorf("response retention %dms below minimum %dms", s.Proxy.ResponseRetentionMs, types.MinResponseRetentionMs)
	}
	if s.Worker.ConnectionCheckIntervalMs < types.MinConnectionCheckIntervalMs {
		return fmt.Errorf("connection check interval %dms below minimum %dms", s.Worker.ConnectionCheckIntervalMs, types.MinConnectionCheckIntervalMs)
	}
	if s.Admin.ApiKeyHeader == "" {
		return fmt.Errorf("admin API key header must not be empty")
	}
	if len(s.Admin.ApiKeys) == 0 {
		return fmt.Errorf("admin API key list must not be empty")
	}
	return nil
}

// Load reads settings from path. An empty path means DefaultPath. A missing
// file at the default path is created with defaults; a missing file at an
// explicit path is an error. Files ending in .yaml or .yml are decoded as
// YAML, anything else as JSON. Environment overrides are applied last.
func Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("settings file %s not found", path)
		}
		settings := Default()
		if writeErr := writeDefault(path, settings); writeErr != nil {
			return nil, fmt.Errorf("failed to create default settings: %w", writeErr)
		}
		applyEnvOverrides(settings)
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	settings := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, settings); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(settings)
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

func writeDefault(path string, settings *Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides layers CONSTELLATION_* variables over the file values.
// A .env file in the working directory is honored when present.
func applyEnvOverrides(settings *Settings) {
	_ = godotenv.Load()

	if v := os.Getenv("CONSTELLATION_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			settings.Webserver.Port = port
		}
	}
	if v := os.Getenv("CONSTELLATION_SOCKET_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			settings.Socket.Port = port
		}
	}
	if v := os.Getenv("CONSTELLATION_ADMIN_KEYS"); v != "" {
		var keys []string
		for _, key := range strings.Split(v, ",") {
			if key = strings.TrimSpace(key); key != "" {
				keys = append(keys, key)
			}
		}
		if len(keys) > 0 {
			settings.Admin.ApiKeys = keys
		}
	}
	if v := os.Getenv("CONSTELLATION_LOG_LEVEL"); v != "" {
		settings.Logging.Level = v
	}
}
