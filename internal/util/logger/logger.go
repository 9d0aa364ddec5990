package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	mu           sync.RWMutex
)

// Config defines logging configuration
type Config struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "console"
}

// DefaultConfig returns default logger config
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "console"}
}

// Init builds the global zap logger from config. Calling it again replaces
// the previous logger.
func Init(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = build(cfg)
}

func build(cfg *Config) *zap.SugaredLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = "level"
	encoderCfg.CallerKey = "caller"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zapLevel)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// GetLogger returns the global logger instance, initializing it with
// defaults if Init was never called.
func GetLogger() *zap.SugaredLogger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger = build(DefaultConfig())
	}
	return globalLogger
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

// Debugf logs debug level messages with formatting
func Debugf(msg string, args ...interface{}) {
	GetLogger().Debugf(msg, args...)
}

// Infof logs info level messages with formatting
func Infof(msg string, args ...interface{}) {
	GetLogger().Infof(msg, args...)
}

// Warnf logs warning level messages with formatting
func Warnf(msg string, args ...interface{}) {
	GetLogger().Warnf(msg, args...)
}

// Errorf logs error level messages with formatting
func Errorf(msg string, args ...interface{}) {
	GetLogger().Errorf(msg, args...)
}

// Fatalf logs fatal level messages with formatting and exits
func Fatalf(msg string, args ...interface{}) {
	GetLogger().Fatalf(msg, args...)
}
