package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/rs/zerolog"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// chatLogger implements the ILogger interface on top of zerolog
type chatLogger struct {
	mu    sync.RWMutex
	level logger.LogLevel
	zl    zerolog.Logger
}

func (l *chatLogger) SetLevel(level logger.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *chatLogger) enabled(level logger.LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level >= level
}

func (l *chatLogger) Debugf(format string, args ...interface{}) {
	if l.enabled(logger.DEBUG) {
		l.zl.Debug().Msgf(format, args...)
	}
}

func (l *chatLogger) Infof(format string, args ...interface{}) {
	if l.enabled(logger.INFO) {
		l.zl.Info().Msgf(format, args...)
	}
}

func (l *chatLogger) Warningf(format string, args ...interface{}) {
	if l.enabled(logger.WARNING) {
		l.zl.Warn().Msgf(format, args...)
	}
}

func (l *chatLogger) Errorf(format string, args ...interface{}) {
	if l.enabled(logger.ERROR) {
		l.zl.Error().Msgf(format, args...)
	}
}

func (l *chatLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.zl.Error().Msg(msg)
	panic(msg)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	outputMu sync.RWMutex
	output   io.Writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
)

// setOutput selects the log encoding for loggers created afterwards.
func setOutput(format string) {
	outputMu.Lock()
	defer outputMu.Unlock()
	switch strings.ToLower(format) {
	case "json":
		output = os.Stdout
	default:
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}
	}
}

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	outputMu.RLock()
	out := output
	outputMu.RUnlock()

	return &chatLogger{
		level: logger.INFO,
		zl:    zerolog.New(out).With().Timestamp().Str("pkg", pkgName).Logger(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a string level to logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return logger.INFO, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerNames are all packages that log through the dragonboat logger registry
var loggerNames = []string{
	"chat",
	"delivery",
	"persist",
	"replication",
	"rpc",
	"rpc/client",
	"transport/rpc",
}

var factoryOnce sync.Once

// InitLoggers installs the zerolog backed logger factory and sets the level of all
// package loggers.
func InitLoggers(config ServerConfig) error {
	level, err := ParseLogLevel(config.LogLevel)
	if err != nil {
		return err
	}

	factoryOnce.Do(func() {
		setOutput(config.LogFormat)
		logger.SetLoggerFactory(CreateLogger)
	})

	for _, name := range loggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
