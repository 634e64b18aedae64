package setup

import (
	"log/slog"

	"github.com/cochaviz/uupiso/internal/logging"
)

var packageLogger *slog.Logger

// SetLogger replaces the logger used by the host checks. Nil restores the
// process default.
func SetLogger(logger *slog.Logger) {
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger)
}
