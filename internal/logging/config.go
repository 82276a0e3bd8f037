package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/twinctl/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "TWINCTL_LOG_LEVEL"
	EnvLogTimestamp = "TWINCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "TWINCTL_LOG_NOCOLOR"
	EnvLogJSON      = "TWINCTL_LOG_JSON"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config selects the global logger output shape.
type Config struct {
	App       string
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	JSON      bool
	Out       io.Writer
}

type envOverrides struct {
	Level     string `env:"TWINCTL_LOG_LEVEL"`
	Timestamp *bool  `env:"TWINCTL_LOG_TIMESTAMP"`
	NoColor   *bool  `env:"TWINCTL_LOG_NOCOLOR"`
	JSON      *bool  `env:"TWINCTL_LOG_JSON"`
}

var configureOnce sync.Once

func ConfigureRuntime(app string) {
	Configure(ProfileRuntime, app)
}

func ConfigureTests() {
	Configure(ProfileTest, "test")
}

// Configure installs the process logger once; later calls are no-ops.
func Configure(profile Profile, app string) {
	configureOnce.Do(func() {
		cfg := DefaultConfig(profile)
		cfg.App = app
		applyEnvOverrides(&cfg)
		log.Logger = New(cfg)
		zerolog.SetGlobalLevel(cfg.Level)
	})
}

func DefaultConfig(profile Profile) Config {
	cfg := Config{Out: os.Stdout}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
		cfg.Out = os.Stderr
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

// New builds a logger from cfg without touching global state.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	if !cfg.JSON {
		out = zerolog.ConsoleWriter{
			Out:        out,
			NoColor:    cfg.NoColor,
			TimeFormat: time.RFC3339,
		}
	}
	ctx := zerolog.New(out).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	if cfg.App != "" {
		ctx = ctx.Str("app", cfg.App)
	}
	return ctx.Logger()
}

func applyEnvOverrides(cfg *Config) {
	var raw envOverrides
	if err := config.ParseEnv(&raw); err != nil {
		return
	}
	if lvl, ok := ParseLevel(raw.Level); ok {
		cfg.Level = lvl
	}
	if raw.Timestamp != nil {
		cfg.Timestamp = *raw.Timestamp
	}
	if raw.NoColor != nil {
		cfg.NoColor = *raw.NoColor
	}
	if raw.JSON != nil {
		cfg.JSON = *raw.JSON
	}
}

func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
