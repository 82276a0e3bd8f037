package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/twinctl/internal/config"
	"github.com/danmuck/twinctl/internal/twin"
)

// twinctl config.toml key mapping to service settings.
type fileConfig struct {
	Addr            string   `toml:"addr"`
	Node            string   `toml:"node"`
	AdminListenAddr string   `toml:"admin_listen_addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	QueueDepth      int      `toml:"queue_depth"`
	OneShot         bool     `toml:"one_shot"`
	ManifestPath    string   `toml:"manifest_path"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	HostTimeout     string   `toml:"host_timeout"`
	MaxPayloadBytes uint64   `toml:"max_payload_bytes"`
}

// envConfig overrides file values; unset variables leave them untouched.
type envConfig struct {
	Addr            *string `env:"TWINCTL_ADDR"`
	AdminListenAddr *string `env:"TWINCTL_ADMIN_ADDR"`
	OneShot         *bool   `env:"TWINCTL_ONE_SHOT"`
	ManifestPath    *string `env:"TWINCTL_MANIFEST"`
}

type runtimeConfig struct {
	Service      twin.ServiceConfig
	ManifestPath string
}

func defaultRuntimeConfig() runtimeConfig {
	return runtimeConfig{Service: twin.DefaultServiceConfig()}
}

// loadRuntimeConfig overlays path (when non-empty) and then the environment on defaults.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()
	if strings.TrimSpace(path) != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return runtimeConfig{}, err
		}
	}
	if err := overlayEnv(&cfg); err != nil {
		return runtimeConfig{}, fmt.Errorf("load twinctl config: %w", err)
	}
	if cfg.Service.Server.QueueDepth < 0 {
		return runtimeConfig{}, fmt.Errorf("load twinctl config: queue_depth must be >= 0")
	}
	return cfg, nil
}

func overlayFile(cfg *runtimeConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load twinctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load twinctl config: unknown keys %v", undecoded)
	}

	svc := &cfg.Service
	if meta.IsDefined("addr") {
		svc.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("node") {
		svc.Server.Node = strings.TrimSpace(raw.Node)
	}
	if meta.IsDefined("admin_listen_addr") {
		svc.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		svc.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("queue_depth") {
		svc.Server.QueueDepth = raw.QueueDepth
	}
	if meta.IsDefined("one_shot") {
		svc.Server.OneShot = raw.OneShot
	}
	if meta.IsDefined("max_payload_bytes") {
		svc.Server.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, &svc.Server.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &svc.Server.Session.WriteTimeout},
		{"host_timeout", raw.HostTimeout, &svc.Server.Session.HostTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("load twinctl config: %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("manifest_path") {
		cfg.ManifestPath = resolvePath(path, raw.ManifestPath)
	}
	return nil
}

func overlayEnv(cfg *runtimeConfig) error {
	var raw envConfig
	if err := config.ParseEnv(&raw); err != nil {
		return err
	}
	if raw.Addr != nil {
		cfg.Service.ListenAddr = strings.TrimSpace(*raw.Addr)
	}
	if raw.AdminListenAddr != nil {
		cfg.Service.AdminListenAddr = strings.TrimSpace(*raw.AdminListenAddr)
	}
	if raw.OneShot != nil {
		cfg.Service.Server.OneShot = *raw.OneShot
	}
	if raw.ManifestPath != nil {
		cfg.ManifestPath = strings.TrimSpace(*raw.ManifestPath)
	}
	return nil
}

// resolvePath makes a manifest path relative to the config file that names it.
func resolvePath(configPath, target string) string {
	target = strings.TrimSpace(target)
	if target == "" || filepath.IsAbs(target) {
		return target
	}
	return filepath.Join(filepath.Dir(configPath), target)
}
