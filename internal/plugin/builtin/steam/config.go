// Package steam monitors a fixed set of Steam HTTP endpoints, notifies
// configured groups when reachability flips, and answers /steamstatus
// queries behind a group permission policy.
package steam

import (
	"fmt"
	"strings"
	"time"

	"steamwatch/internal/config"
)

const (
	defaultInterval     = 5 * time.Minute
	defaultGrace        = 10 * time.Second
	defaultProbeTimeout = 10 * time.Second
	defaultCmdTimeout   = 60 * time.Second
)

type Endpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type PermissionMode string

const (
	ModeWhitelist PermissionMode = "whitelist"
	ModeBlacklist PermissionMode = "blacklist"
)

type PermissionConfig struct {
	Mode   PermissionMode `json:"mode"`
	Groups []string       `json:"groups"`
}

type TimeoutConfig struct {
	// Operation bounds a single probe; Command bounds the /steamstatus
	// handler end to end.
	Operation string `json:"operation,omitempty"`
	Command   string `json:"command,omitempty"`
}

type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "0 9 * * *"
}

type rawConfig struct {
	AutoCheck     bool             `json:"auto_check"`
	PushGroups    []string         `json:"push_groups"`
	CheckInterval string           `json:"check_interval,omitempty"`
	StartupGrace  string           `json:"startup_grace,omitempty"`
	Permission    PermissionConfig `json:"permission"`
	Endpoints     []Endpoint       `json:"endpoints,omitempty"`
	Timeouts      TimeoutConfig    `json:"timeouts,omitempty"`
	Digest        DigestConfig     `json:"digest,omitempty"`
}

// Config is the resolved monitor configuration, one immutable snapshot.
// The monitor re-reads it every tick so hot reloads apply on the next
// sleep, never mid-tick.
type Config struct {
	AutoCheck    bool
	PushGroups   []string
	Interval     time.Duration
	StartupGrace time.Duration
	Permission   PermissionConfig
	Endpoints    []Endpoint
	ProbeTimeout time.Duration
	CmdTimeout   time.Duration
	Digest       DigestConfig
}

// ConfigSource returns the current config snapshot. Injected into the
// monitor so tests can drive deterministic config sequences.
type ConfigSource func() Config

// DefaultEndpoints is the monitored set when the config lists none.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Name: "Steam Store", URL: "https://store.steampowered.com"},
		{Name: "Steam Community", URL: "https://steamcommunity.com"},
		{Name: "Steam Web API", URL: "https://api.steampowered.com/ISteamWebAPIUtil/GetServerInfo/v1/"},
	}
}

func resolveConfig(raw *rawConfig) (Config, error) {
	cfg := Config{
		AutoCheck:    raw.AutoCheck,
		Permission:   raw.Permission,
		Digest:       raw.Digest,
		Interval:     defaultInterval,
		StartupGrace: defaultGrace,
		ProbeTimeout: defaultProbeTimeout,
		CmdTimeout:   defaultCmdTimeout,
	}

	for _, g := range raw.PushGroups {
		if g = strings.TrimSpace(g); g != "" {
			cfg.PushGroups = append(cfg.PushGroups, g)
		}
	}

	var err error
	if cfg.Interval, err = config.ParseDurationOrDefault("check_interval", raw.CheckInterval, defaultInterval); err != nil {
		return Config{}, err
	}
	if cfg.Interval < time.Second {
		return Config{}, fmt.Errorf("check_interval too short: %s", cfg.Interval)
	}
	if cfg.StartupGrace, err = config.ParseDurationOrDefault("startup_grace", raw.StartupGrace, defaultGrace); err != nil {
		return Config{}, err
	}
	if cfg.ProbeTimeout, err = config.ParseDurationOrDefault("timeouts.operation", raw.Timeouts.Operation, defaultProbeTimeout); err != nil {
		return Config{}, err
	}
	if cfg.CmdTimeout, err = config.ParseDurationOrDefault("timeouts.command", raw.Timeouts.Command, defaultCmdTimeout); err != nil {
		return Config{}, err
	}

	switch cfg.Permission.Mode {
	case "", ModeWhitelist:
		cfg.Permission.Mode = ModeWhitelist
	case ModeBlacklist:
	default:
		return Config{}, fmt.Errorf("permission.mode: unknown mode %q", cfg.Permission.Mode)
	}

	cfg.Endpoints = raw.Endpoints
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultEndpoints()
	}
	seen := make(map[string]bool, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		if strings.TrimSpace(ep.Name) == "" {
			return Config{}, fmt.Errorf("endpoints[%d]: name is empty", i)
		}
		if strings.TrimSpace(ep.URL) == "" {
			return Config{}, fmt.Errorf("endpoints[%d] (%s): url is empty", i, ep.Name)
		}
		if seen[ep.Name] {
			return Config{}, fmt.Errorf("endpoints: duplicate name %q", ep.Name)
		}
		seen[ep.Name] = true
	}

	if cfg.Digest.Enabled && strings.TrimSpace(cfg.Digest.Schedule) == "" {
		cfg.Digest.Schedule = "0 9 * * *"
	}
	return cfg, nil
}
