package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the TOML layout. Durations are strings ("50ms").
type fileConfig struct {
	Role              string   `toml:"role"`
	ListenAddr        string   `toml:"listen_addr"`
	ServerURL         string   `toml:"server_url"`
	Username          string   `toml:"username"`
	Version           string   `toml:"version"`
	TickRate          int      `toml:"tick_rate"`
	SendInterval      string   `toml:"send_interval"`
	SendRate          int      `toml:"send_rate"`
	MinSendGap        string   `toml:"min_send_gap"`
	MoveThreshold     float32  `toml:"move_threshold"`
	SmoothingRate     float32  `toml:"smoothing_rate"`
	TeleportThreshold float32  `toml:"teleport_threshold"`
	AvatarTemplate    string   `toml:"avatar_template"`
	StunServers       []string `toml:"stun_servers"`
	StatsInterval     string   `toml:"stats_interval"`
}

// Load reads a TOML file and overlays every key it defines on Default().
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(Default(), raw, meta)
}

// Parse is Load for an in-memory document.
func Parse(doc string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(doc, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(Default(), raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}

	if meta.IsDefined("role") {
		cfg.Role = Role(strings.ToLower(strings.TrimSpace(raw.Role)))
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}

	if meta.IsDefined("server_url") {
		cfg.ServerURL = strings.TrimSpace(raw.ServerURL)
	}

	if meta.IsDefined("username") {
		cfg.Username = strings.TrimSpace(raw.Username)
	}

	if meta.IsDefined("version") {
		cfg.Version = strings.TrimSpace(raw.Version)
	}

	if meta.IsDefined("tick_rate") {
		cfg.TickRate = raw.TickRate
	}

	if meta.IsDefined("send_rate") {
		if raw.SendRate <= 0 {
			return Config{}, fmt.Errorf("send_rate must be positive")
		}
		cfg.SendInterval = time.Second / time.Duration(raw.SendRate)
	}

	if meta.IsDefined("send_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.SendInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse send_interval: %w", err)
		}
		cfg.SendInterval = d
	}

	if meta.IsDefined("min_send_gap") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MinSendGap))
		if err != nil {
			return Config{}, fmt.Errorf("parse min_send_gap: %w", err)
		}
		cfg.MinSendGap = d
	}

	if meta.IsDefined("move_threshold") {
		cfg.MoveThreshold = raw.MoveThreshold
	}

	if meta.IsDefined("smoothing_rate") {
		cfg.SmoothingRate = raw.SmoothingRate
	}

	if meta.IsDefined("teleport_threshold") {
		cfg.TeleportThreshold = raw.TeleportThreshold
	}

	if meta.IsDefined("avatar_template") {
		cfg.AvatarTemplate = strings.TrimSpace(raw.AvatarTemplate)
	}

	if meta.IsDefined("stun_servers") {
		cfg.StunServers = raw.StunServers
	}

	if meta.IsDefined("stats_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.StatsInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse stats_interval: %w", err)
		}
		cfg.StatsInterval = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
