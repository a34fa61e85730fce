// Package mapper logging infrastructure
package mapper

import (
	"log/slog"
	"sync"

	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/logging"
)

// Package-level logger for resolution operations
var (
	mapperLogger    *slog.Logger
	mapperLevelVar  = new(slog.LevelVar) // Dynamic level control
	loggerCloseFunc func() error         // Function to close the logger
	loggerOnce      sync.Once            // Ensures logger is initialized only once
	loggerMu        sync.RWMutex         // Protects logger access

	defaultLogPath = "logs/mapper.log"
)

// InitializeLogger initializes the mapper logger with the specified log
// file path. Safe to call multiple times; initialization happens only once.
func InitializeLogger(logFilePath string) error {
	var initErr error

	loggerOnce.Do(func() {
		if logFilePath == "" {
			logFilePath = defaultLogPath
		}

		mapperLevelVar.Set(slog.LevelInfo)

		var err error
		mapperLogger, loggerCloseFunc, err = logging.NewFileLogger(logFilePath, "mapper", mapperLevelVar)
		if err != nil {
			// Fall back to the default logger instead of failing
			mapperLogger = slog.Default().With("service", "mapper")
			loggerCloseFunc = func() error { return nil }

			initErr = errors.Newf("mapper: failed to initialize file logger: %v", err).
				Component("mapper").
				Category(errors.CategoryConfiguration).
				Context("log_file", logFilePath).
				Context("operation", "logger_initialization").
				Build()
		}
	})

	return initErr
}

// getLogger returns the logger, initializing it with the default path if needed
func getLogger() *slog.Logger {
	loggerMu.RLock()
	if mapperLogger != nil {
		defer loggerMu.RUnlock()
		return mapperLogger
	}
	loggerMu.RUnlock()

	_ = InitializeLogger(defaultLogPath)

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return mapperLogger
}

// CloseLogger closes the mapper logger
func CloseLogger() error {
	if loggerCloseFunc != nil {
		return loggerCloseFunc()
	}
	return nil
}

// SetLogLevel sets the log level for the mapper logger
func SetLogLevel(level slog.Level) {
	mapperLevelVar.Set(level)
}
