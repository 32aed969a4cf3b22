package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rollbar/rollbar-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lshigami/safetycert/config"
)

// Init configures the global zerolog logger. Called once, before fx starts.
func Init() {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Configure applies level, console output and the Rollbar hook once the config is known.
func Configure(cfg *config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	base := zerolog.New(os.Stdout)
	if cfg.Debug {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}
	base = base.With().Timestamp().Str("env", cfg.Env).Logger()

	if cfg.RollbarToken != "" {
		rollbar.SetToken(cfg.RollbarToken)
		rollbar.SetEnvironment(cfg.Env)
		rollbar.SetEnabled(true)
		base = base.Hook(RollbarHook{})
	} else {
		rollbar.SetEnabled(false)
	}
	log.Logger = base
}

// RollbarHook forwards error-level events to Rollbar.
type RollbarHook struct{}

func (RollbarHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	switch level {
	case zerolog.ErrorLevel:
		rollbar.Error(msg)
	case zerolog.FatalLevel, zerolog.PanicLevel:
		rollbar.Critical(msg)
	}
}

// Close flushes pending Rollbar items.
func Close() {
	rollbar.Close()
}
