package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"gopkg.in/natefinch/lumberjack.v2"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// muxLogger implements the ILogger interface with custom formatting
type muxLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *muxLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *muxLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *muxLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *muxLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *muxLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *muxLogger) Panicf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *muxLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stdout
)

// CreateLogger implements the dragonboat logger.Factory
func CreateLogger(pkgName string) logger.ILogger {
	outputMu.Lock()
	w := output
	outputMu.Unlock()

	return &muxLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(w, "", log.Ldate|log.Ltime),
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

// LoggerNames lists every logger used by this module
var LoggerNames = []string{"transport/rpc", "rpc", "server", "cmd"}

// InitLoggers installs the custom logger factory and sets the level of all loggers.
// If file is not empty, log output is written to a size-rotated file instead of stdout.
func InitLoggers(level string, file string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	outputMu.Lock()
	if file != "" {
		output = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    64, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
	} else {
		output = os.Stdout
	}
	outputMu.Unlock()

	// Set as the global logger factory
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
