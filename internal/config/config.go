// Package config centralizes the environment variables and optional YAML
// overlay that configure a zincsync node.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every externally-tunable setting.
type Config struct {
	DebugSync        bool   `yaml:"debug_sync"`
	DisableDiscovery bool   `yaml:"disable_discovery"`
	DBPath           string `yaml:"db_path"`
	AttachmentsDir   string `yaml:"attachments_dir"`
	DeviceName       string `yaml:"device_name"`
	ListenPort       int    `yaml:"listen_port"`
}

// FromEnv loads configuration from the environment, following spec's
// fixed variable names, applying XDG-style defaults for paths left unset.
func FromEnv() Config {
	dataHome := xdgDataHome()
	cfg := Config{
		DebugSync:        boolEnv("ZINC_DEBUG_SYNC", false),
		DisableDiscovery: boolEnv("ZINC_SYNC_DISABLE_DISCOVERY", false),
		DBPath:           envOr("ZINC_DB_PATH", filepath.Join(dataHome, "zincsync", "zincsync.db")),
		AttachmentsDir:   envOr("ZINC_ATTACHMENTS_DIR", filepath.Join(dataHome, "zincsync", "attachments")),
		DeviceName:       envOr("ZINC_DEVICE_NAME", defaultDeviceName()),
		ListenPort:       0,
	}
	if port := os.Getenv("ZINC_LISTEN_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.ListenPort = n
		}
	}
	return cfg
}

// LoadYAMLOverlay reads a YAML file and overlays any set fields onto base,
// returning the merged Config. A missing file is not an error: it simply
// means no overlay applies.
func LoadYAMLOverlay(base Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return base, nil
	}
	if err != nil {
		return base, err
	}
	overlay := base
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return base, err
	}
	return overlay, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func boolEnv(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func xdgDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share"
	}
	return filepath.Join(home, ".local", "share")
}

func defaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "zincsync-device"
	}
	return host
}
