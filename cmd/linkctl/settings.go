package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgelink/internal/logging"
	"github.com/rs/zerolog"
)

// settings tune the linkctl process itself; channel behaviour lives in the
// channel file.
type settings struct {
	LogLevel     zerolog.Level
	AdminAddr    string
	AdminToken   string
	CORSOrigins  []string
	PingInterval time.Duration
	PingPayload  string
	Echo         bool
}

type settingsFile struct {
	LogLevel     string   `toml:"log_level"`
	AdminAddr    string   `toml:"admin_addr"`
	AdminToken   string   `toml:"admin_token"`
	CORSOrigins  []string `toml:"cors_origins"`
	PingInterval string   `toml:"ping_interval"`
	PingPayload  string   `toml:"ping_payload"`
	Echo         bool     `toml:"echo"`
}

func defaultSettings() settings {
	return settings{
		LogLevel:    zerolog.InfoLevel,
		AdminAddr:   "127.0.0.1:7020",
		PingPayload: "ping",
	}
}

func loadSettings(path string) (settings, error) {
	cfg := defaultSettings()

	var raw settingsFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return settings{}, fmt.Errorf("load settings: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return settings{}, fmt.Errorf("load settings: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("log_level") {
		lvl, ok := logging.ParseLevel(raw.LogLevel)
		if !ok {
			return settings{}, fmt.Errorf("parse log_level: unknown level %q", raw.LogLevel)
		}
		cfg.LogLevel = lvl
	}

	if meta.IsDefined("admin_addr") {
		// empty disables the admin listener
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}

	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}

	if meta.IsDefined("ping_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PingInterval))
		if err != nil {
			return settings{}, fmt.Errorf("parse ping_interval: %w", err)
		}
		if d < 0 {
			return settings{}, fmt.Errorf("parse ping_interval: negative duration %v", d)
		}
		cfg.PingInterval = d
	}

	if meta.IsDefined("ping_payload") {
		cfg.PingPayload = raw.PingPayload
	}

	if meta.IsDefined("echo") {
		cfg.Echo = raw.Echo
	}

	return cfg, nil
}
