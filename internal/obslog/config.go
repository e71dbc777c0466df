// Package obslog wraps zerolog with a console writer whose coloring is
// TTY-aware and the single Configure(Profile) entry point used throughout
// this codebase, so every subsystem logs through one place.
package obslog

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "CBPP_LOG_LEVEL"
	EnvLogTimestamp = "CBPP_LOG_TIMESTAMP"
	EnvLogNoColor   = "CBPP_LOG_NOCOLOR"
)

// Profile selects the default posture Configure starts from before env
// overrides are applied.
type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var (
	configureOnce sync.Once
	base          zerolog.Logger
)

// ConfigureRuntime is Configure(ProfileRuntime).
func ConfigureRuntime() { Configure(ProfileRuntime) }

// ConfigureTests is Configure(ProfileTest).
func ConfigureTests() { Configure(ProfileTest) }

// Configure sets up the process-wide base logger exactly once; later
// calls are no-ops so test packages and the runtime entrypoint can both
// call it defensively.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		timestamp := true
		if profile == ProfileTest {
			level = zerolog.DebugLevel
			timestamp = false
		}
		noColor := !isatty.IsTerminal(os.Stdout.Fd())

		applyEnvLevel(&level)
		applyEnvBool(EnvLogTimestamp, &timestamp)
		applyEnvBool(EnvLogNoColor, &noColor)

		out := colorable.NewColorable(os.Stdout)
		writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: noColor}

		b := zerolog.New(writer).With()
		if timestamp {
			b = b.Timestamp()
		}
		base = b.Logger().Level(level)
	})
}

// Get returns the configured base logger, calling Configure(ProfileRuntime)
// first if nothing configured it yet.
func Get() zerolog.Logger {
	Configure(ProfileRuntime)
	return base
}

// With returns a child logger tagged with a component name, the
// convention every package under internal/ uses to scope its logging.
func With(component string) zerolog.Logger {
	return Get().With().Str("component", component).Logger()
}

func applyEnvLevel(level *zerolog.Level) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(EnvLogLevel)))
	switch raw {
	case "":
		return
	case "trace":
		*level = zerolog.TraceLevel
	case "debug":
		*level = zerolog.DebugLevel
	case "info":
		*level = zerolog.InfoLevel
	case "warn", "warning":
		*level = zerolog.WarnLevel
	case "error":
		*level = zerolog.ErrorLevel
	case "disabled", "off", "none":
		*level = zerolog.Disabled
	}
}

func applyEnvBool(name string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return
	}
	if v, err := strconv.ParseBool(raw); err == nil {
		*dst = v
	}
}
