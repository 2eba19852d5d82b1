package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Manager holds the current configuration and reloads it when the config
// file changes.
type Manager struct {
	v      *viper.Viper
	logger *zap.Logger

	mu       sync.RWMutex
	current  *Config
	handlers []func(old, updated *Config)
}

// NewManager loads the configuration at path (see Load).
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, logger: logger, current: cfg}, nil
}

// SetLogger replaces the logger used for reload messages.
func (m *Manager) SetLogger(logger *zap.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Config returns the active configuration. Callers must not modify it.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// OnChange registers fn to run after a successful reload.
func (m *Manager) OnChange(fn func(old, updated *Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, fn)
}

// Watch starts watching the config file. It does nothing without a file.
func (m *Manager) Watch() {
	if m.v.ConfigFileUsed() == "" {
		m.logger.Debug("No config file in use, hot reload disabled")
		return
	}
	m.v.OnConfigChange(func(ev fsnotify.Event) {
		m.reload(ev.Name, ev.Op.String())
	})
	m.v.WatchConfig()
	m.logger.Info("Watching config file", zap.String("file", m.v.ConfigFileUsed()))
}

// reload keeps the previous configuration when the new one does not validate.
func (m *Manager) reload(file, op string) {
	updated, err := decode(m.v)
	if err != nil {
		m.logger.Error("Config reload rejected, keeping previous configuration",
			zap.String("file", file),
			zap.String("op", op),
			zap.Error(err),
		)
		return
	}

	m.mu.Lock()
	old := m.current
	m.current = updated
	handlers := append([]func(old, updated *Config){}, m.handlers...)
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded", zap.String("file", file), zap.String("op", op))
	for _, h := range handlers {
		h(old, updated)
	}
}

// NewLogger builds a zap logger from cfg. The returned level can be changed
// at run time, e.g. from an OnChange handler.
func NewLogger(cfg LoggingConfig) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, level, err
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level

	logger, err := zc.Build()
	if err != nil {
		return nil, level, err
	}
	return logger, level, nil
}

// ApplyLogLevel updates level when the configured level changed.
func ApplyLogLevel(level zap.AtomicLevel, logger *zap.Logger) func(old, updated *Config) {
	return func(old, updated *Config) {
		if old != nil && old.Logging.Level == updated.Logging.Level {
			return
		}
		if err := level.UnmarshalText([]byte(updated.Logging.Level)); err != nil {
			logger.Warn("Ignoring invalid log level", zap.String("level", updated.Logging.Level), zap.Error(err))
			return
		}
		logger.Info("Log level changed", zap.String("level", updated.Logging.Level))
	}
}
