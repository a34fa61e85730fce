// Package registry provides logging infrastructure for registry operations
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mwittgen/obs-base/internal/errors"
	"github.com/mwittgen/obs-base/internal/logging"
	"github.com/mwittgen/obs-base/internal/observability/metrics"
)

// Package-level logger for registry operations
var (
	registryLogger   *slog.Logger
	registryLevelVar = new(slog.LevelVar) // Dynamic level control
	loggerCloseFunc  func() error         // Function to close the logger
	loggerOnce       sync.Once            // Ensures logger is initialized only once
	loggerMu         sync.RWMutex         // Protects logger access

	// Log files live under logs/ like every other component.
	defaultLogPath = "logs/registry.log"
)

// InitializeLogger initializes the registry logger with the specified log
// file path. Safe to call multiple times; initialization happens only once.
func InitializeLogger(logFilePath string) error {
	var initErr error

	loggerOnce.Do(func() {
		if logFilePath == "" {
			logFilePath = defaultLogPath
		}

		registryLevelVar.Set(slog.LevelInfo)

		var err error
		registryLogger, loggerCloseFunc, err = logging.NewFileLogger(logFilePath, "registry", registryLevelVar)
		if err != nil {
			// Fall back to the default logger instead of failing
			registryLogger = slog.Default().With("service", "registry")
			loggerCloseFunc = func() error { return nil }

			initErr = errors.Newf("registry: failed to initialize file logger: %v", err).
				Component("registry").
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
	if registryLogger != nil {
		defer loggerMu.RUnlock()
		return registryLogger
	}
	loggerMu.RUnlock()

	_ = InitializeLogger(defaultLogPath)

	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return registryLogger
}

// CloseLogger closes the registry logger
func CloseLogger() error {
	if loggerCloseFunc != nil {
		return loggerCloseFunc()
	}
	return nil
}

// SetLogLevel sets the log level for the registry logger
func SetLogLevel(level slog.Level) {
	registryLevelVar.Set(level)
}

// GormLogger implements GORM's logger interface with structured logging and metrics
type GormLogger struct {
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
	metrics       *metrics.RegistryMetrics
}

// createGormLogger builds the GORM logger used by the registry connections.
func createGormLogger(m *metrics.RegistryMetrics) *GormLogger {
	return &GormLogger{
		SlowThreshold: time.Second,
		LogLevel:      logger.Warn,
		metrics:       m,
	}
}

// LogMode implements logger.Interface
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

// Info implements logger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		getLogger().InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Warn implements logger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		getLogger().WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Error implements logger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		getLogger().ErrorContext(ctx, "GORM error",
			"msg", fmt.Sprintf(msg, data...))

		if l.metrics != nil {
			l.metrics.RecordLookupError("gorm_internal", "gorm_error")
		}
	}
}

// Trace implements logger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		getLogger().ErrorContext(ctx, "Registry query failed",
			"error", err,
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)

	case elapsed > l.SlowThreshold && l.SlowThreshold != 0:
		getLogger().WarnContext(ctx, "Slow registry query",
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows,
			"threshold", l.SlowThreshold)

	case l.LogLevel >= logger.Info:
		getLogger().DebugContext(ctx, "Registry query executed",
			"sql", sql,
			"duration", elapsed,
			"rows_affected", rows)
	}
}
