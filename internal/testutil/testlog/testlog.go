// Package testlog configures structured logging for a test's lifetime
// and emits a marker line identifying which test is running.
package testlog

import (
	"testing"

	"github.com/arcflux/cbppcore/internal/obslog"
)

func Start(t *testing.T) {
	t.Helper()
	obslog.ConfigureTests()
	logger := obslog.Get()
	logger.Info().Str("test", t.Name()).Msg("test start")
}
