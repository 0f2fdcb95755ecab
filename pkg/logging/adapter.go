package logging

import (
	"fmt"
	"strings"
	"sync"
)

// PrintlnAdapter exposes a Logger through the Println-style interface that
// promhttp and similar libraries accept for their own error reporting.
type PrintlnAdapter struct {
	logger    Logger
	level     Level
	component string
}

// NewPrintlnAdapter creates an adapter that logs at the given level
func NewPrintlnAdapter(logger Logger, level Level, component string) *PrintlnAdapter {
	return &PrintlnAdapter{
		logger:    logger.WithFields(String("component", component)),
		level:     level,
		component: component,
	}
}

// Println implements promhttp.Logger
func (a *PrintlnAdapter) Println(v ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintln(v...), "\n")
	switch a.level {
	case DebugLevel:
		a.logger.Debug(msg)
	case WarnLevel:
		a.logger.Warn(msg)
	case ErrorLevel, FatalLevel:
		a.logger.Error(msg)
	default:
		a.logger.Info(msg)
	}
}

// Printf logs a formatted message
func (a *PrintlnAdapter) Printf(format string, v ...interface{}) {
	a.Println(fmt.Sprintf(format, v...))
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger
)

func init() {
	globalLogger = New(nil, NewTextFormatter())
}

// SetGlobalLogger sets the process-wide default logger
func SetGlobalLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
}

// GetGlobalLogger returns the process-wide default logger
func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Warn logs using the global logger, for code that runs before or outside
// any component holding its own
func Warn(msg string, fields ...Field) {
	GetGlobalLogger().Warn(msg, fields...)
}
