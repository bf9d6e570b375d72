package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"dropwire/models"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "dropwire"
	// DefaultListenPort is the broker HTTP/WebSocket port.
	DefaultListenPort = 3000
	// DefaultRoomExpiryHours bounds room lifetime when the host requests none.
	DefaultRoomExpiryHours = 24
	// DefaultInactivitySeconds is the idle window before the sweep deletes a room.
	DefaultInactivitySeconds = 30 * 60
	// DefaultSweepIntervalSeconds is how often the inactivity sweep runs.
	DefaultSweepIntervalSeconds = 5 * 60
	// DefaultLivenessIntervalSeconds is how often the broker pings connections.
	DefaultLivenessIntervalSeconds = 30
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// BrokerConfig contains persistent broker settings.
type BrokerConfig struct {
	DeviceID                string             `json:"device_id"`
	DeviceName              string             `json:"device_name"`
	ListenPort              int                `json:"listen_port"`
	RoomExpiryHours         int                `json:"room_expiry_hours"`
	InactivitySeconds       int                `json:"inactivity_seconds"`
	SweepIntervalSeconds    int                `json:"sweep_interval_seconds"`
	LivenessIntervalSeconds int                `json:"liveness_interval_seconds"`
	ICEServers              []models.ICEServer `json:"ice_servers"`
}

// DefaultICEServers is the relay/traversal list served to clients when the
// operator has not configured TURN credentials.
func DefaultICEServers() []models.ICEServer {
	return []models.ICEServer{
		{URLs: []string{"stun:stun.relay.metered.ca:80"}},
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If DROPWIRE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("DROPWIRE_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*BrokerConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg BrokerConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *BrokerConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*BrokerConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig() *BrokerConfig {
	return &BrokerConfig{
		DeviceID:                uuid.NewString(),
		DeviceName:              defaultDeviceName(),
		ListenPort:              DefaultListenPort,
		RoomExpiryHours:         DefaultRoomExpiryHours,
		InactivitySeconds:       DefaultInactivitySeconds,
		SweepIntervalSeconds:    DefaultSweepIntervalSeconds,
		LivenessIntervalSeconds: DefaultLivenessIntervalSeconds,
		ICEServers:              DefaultICEServers(),
	}
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "Dropwire Broker"
}

func normalizeDefaults(cfg *BrokerConfig) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}

	if cfg.ListenPort <= 0 {
		cfg.ListenPort = DefaultListenPort
		updated = true
	}

	if cfg.RoomExpiryHours <= 0 {
		cfg.RoomExpiryHours = DefaultRoomExpiryHours
		updated = true
	}

	if cfg.InactivitySeconds <= 0 {
		cfg.InactivitySeconds = DefaultInactivitySeconds
		updated = true
	}

	if cfg.SweepIntervalSeconds <= 0 {
		cfg.SweepIntervalSeconds = DefaultSweepIntervalSeconds
		updated = true
	}

	if cfg.LivenessIntervalSeconds <= 0 {
		cfg.LivenessIntervalSeconds = DefaultLivenessIntervalSeconds
		updated = true
	}

	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = DefaultICEServers()
		updated = true
	}

	return updated
}
