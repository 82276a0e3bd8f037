package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/twinctl/internal/host/memory"
	"github.com/danmuck/twinctl/internal/logging"
	"github.com/danmuck/twinctl/internal/protocol/message"
	"github.com/danmuck/twinctl/internal/twin"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to twinctl config.toml")
	flag.Parse()

	logging.ConfigureRuntime("twinctl")
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "twinctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadRuntimeConfig(configPath)
	if err != nil {
		return err
	}
	manifest := memory.DefaultManifest()
	if cfg.ManifestPath != "" {
		if manifest, err = memory.LoadManifest(cfg.ManifestPath); err != nil {
			return err
		}
	}
	registry, err := message.NewRegistry()
	if err != nil {
		return err
	}
	log.Info().
		Str("addr", cfg.Service.ListenAddr).
		Str("admin", cfg.Service.AdminListenAddr).
		Str("model", manifest.Name).
		Bool("one_shot", cfg.Service.Server.OneShot).
		Msg("twinctl starting")
	return twin.NewService(cfg.Service, memory.New(manifest), registry).Run()
}
