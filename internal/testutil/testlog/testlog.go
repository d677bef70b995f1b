// Package testlog gives package tests the quiet test logging profile.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/confirmationui/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging and brackets the test with begin and end
// lines so interleaved session logs can be attributed.
func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	start := time.Now()
	log.Debug().Str("test", t.Name()).Msg("testlog.Start")
	t.Cleanup(func() {
		log.Debug().Str("test", t.Name()).Bool("failed", t.Failed()).Dur("elapsed", time.Since(start)).Msg("testlog.Done")
	})
}
