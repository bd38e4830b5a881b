// Package config loads per-tier configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/caarlos0/env/v7"
	"github.com/joho/godotenv"
)

// DirectoryConfig configures the Central Directory server.
type DirectoryConfig struct {
	HTTPAddr string `env:"QUAYGATE_HTTP_ADDR" envDefault:":8080"`
	DBPath   string `env:"QUAYGATE_DB_PATH"   envDefault:"./data/directory.db"`
	LogLevel string `env:"QUAYGATE_LOG_LEVEL" envDefault:"info"`

	// Fan-out targets: "portID=baseURL" pairs, comma separated, e.g.
	// "halifax=http://port-halifax:8081,montreal=http://port-montreal:8081".
	PortServers []string `env:"QUAYGATE_PORT_SERVERS" envSeparator:","`

	OutboxInterval time.Duration `env:"QUAYGATE_OUTBOX_INTERVAL"      envDefault:"5s"`
	OutboxBatch    int           `env:"QUAYGATE_OUTBOX_BATCH"         envDefault:"64"`
	MaxStaleness   time.Duration `env:"QUAYGATE_OUTBOX_MAX_STALENESS" envDefault:"24h"`
}

// PortConfig configures a port server.
type PortConfig struct {
	HTTPAddr string `env:"QUAYGATE_HTTP_ADDR" envDefault:":8081"`
	DBPath   string `env:"QUAYGATE_DB_PATH"   envDefault:"./data/port.db"`
	LogLevel string `env:"QUAYGATE_LOG_LEVEL" envDefault:"info"`

	PortID       string `env:"QUAYGATE_PORT_ID"`
	DirectoryURL string `env:"QUAYGATE_DIRECTORY_URL"`

	// Checkpoint push targets: "checkpointID=baseURL" pairs.
	Checkpoints []string `env:"QUAYGATE_CHECKPOINTS" envSeparator:","`

	OutboxInterval time.Duration `env:"QUAYGATE_OUTBOX_INTERVAL"      envDefault:"5s"`
	OutboxBatch    int           `env:"QUAYGATE_OUTBOX_BATCH"         envDefault:"64"`
	MaxStaleness   time.Duration `env:"QUAYGATE_OUTBOX_MAX_STALENESS" envDefault:"24h"`
}

// CheckpointConfig configures a checkpoint device agent.
type CheckpointConfig struct {
	HTTPAddr string `env:"QUAYGATE_HTTP_ADDR" envDefault:":8082"`
	LogLevel string `env:"QUAYGATE_LOG_LEVEL" envDefault:"info"`

	CheckpointID string `env:"QUAYGATE_CHECKPOINT_ID"`
	PortID       string `env:"QUAYGATE_PORT_ID"`
	Location     string `env:"QUAYGATE_LOCATION"`

	// AllowedRoles provisions the lane policy on startup.
	AllowedRoles []string `env:"QUAYGATE_ALLOWED_ROLES" envSeparator:","`

	PortServerURL string `env:"QUAYGATE_PORT_SERVER_URL"`

	// CachePath is the sealed cache file; the passphrase derives its
	// encryption key and must come from the device's secret store.
	CachePath       string `env:"QUAYGATE_CACHE_PATH" envDefault:"./data/checkpoint.cache"`
	CachePassphrase string `env:"QUAYGATE_CACHE_PASSPHRASE"`

	LookupTimeout     time.Duration `env:"QUAYGATE_LOOKUP_TIMEOUT"    envDefault:"3s"`
	AuditInterval     time.Duration `env:"QUAYGATE_AUDIT_INTERVAL"    envDefault:"5s"`
	HeartbeatInterval time.Duration `env:"QUAYGATE_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// Attempt throttle per credential; 0 disables.
	ThrottleAttempts int           `env:"QUAYGATE_THROTTLE_ATTEMPTS" envDefault:"5"`
	ThrottleWindow   time.Duration `env:"QUAYGATE_THROTTLE_WINDOW"   envDefault:"1m"`
}

func Directory(envPath string) (DirectoryConfig, error) {
	var c DirectoryConfig
	if err := load(envPath, &c); err != nil {
		return DirectoryConfig{}, err
	}
	return c, nil
}

func Port(envPath string) (PortConfig, error) {
	var c PortConfig
	if err := load(envPath, &c); err != nil {
		return PortConfig{}, err
	}
	if strings.TrimSpace(c.PortID) == "" {
		return PortConfig{}, fmt.Errorf("QUAYGATE_PORT_ID is required")
	}
	return c, nil
}

func Checkpoint(envPath string) (CheckpointConfig, error) {
	var c CheckpointConfig
	if err := load(envPath, &c); err != nil {
		return CheckpointConfig{}, err
	}
	switch {
	case strings.TrimSpace(c.CheckpointID) == "":
		return CheckpointConfig{}, fmt.Errorf("QUAYGATE_CHECKPOINT_ID is required")
	case strings.TrimSpace(c.PortID) == "":
		return CheckpointConfig{}, fmt.Errorf("QUAYGATE_PORT_ID is required")
	case strings.TrimSpace(c.CachePassphrase) == "":
		return CheckpointConfig{}, fmt.Errorf("QUAYGATE_CACHE_PASSPHRASE is required")
	}
	return c, nil
}

func load(envPath string, dst any) error {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return env.Parse(dst)
}

// ParseTargets splits "id=baseURL" pairs into a map.
func ParseTargets(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, url, ok := strings.Cut(p, "=")
		id, url = strings.TrimSpace(id), strings.TrimSpace(url)
		if !ok || id == "" || url == "" {
			return nil, fmt.Errorf("bad target %q, want id=baseURL", p)
		}
		out[id] = url
	}
	return out, nil
}
