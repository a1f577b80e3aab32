package logging

import (
	"log/slog"
	"path/filepath"

	"doppel/internal/config"
)

// NewFromConfig builds the daemon logger: stdout plus a log file under the
// configured log directory.
func NewFromConfig(cfg *config.Config) (*slog.Logger, error) {
	return New(Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "doppeld.log")},
	})
}
