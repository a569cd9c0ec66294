package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logger configuration
type Config struct {
	ServiceName string
	Environment string // development, staging, production
	Debug       bool
}

var (
	global *zap.Logger
	mu     sync.RWMutex
)

// Init initializes the global logger. Call once at startup before Get.
func Init(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &Config{ServiceName: "app", Environment: "development", Debug: true}
	}

	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Debug {
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	log, err := zapCfg.Build(zap.AddCallerSkip(0))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	log = log.With(zap.String("service", cfg.ServiceName))

	mu.Lock()
	global = log
	mu.Unlock()

	return log, nil
}

// Get returns the global logger. Falls back to a no-op logger when Init
// has not been called, so library code can always log safely.
func Get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return zap.NewNop()
	}
	return global
}

// Sync flushes any buffered log entries
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if global == nil {
		return nil
	}
	return global.Sync()
}
