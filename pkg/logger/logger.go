// Package logger provides component-scoped structured logging on top of
// log/slog. Records fan out to a text handler on stderr and, when
// configured, a JSON handler writing to a log file.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	slogmulti "github.com/samber/slog-multi"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

func (l LogLevel) slog() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel maps a config string to a level. Unknown values map to INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN", "warning":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

var (
	level   = new(slog.LevelVar)
	current atomic.Pointer[slog.Logger]
	fileMu  sync.Mutex
	logFile *os.File
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// SetLevel changes the minimum level for every handler.
func SetLevel(l LogLevel) {
	level.Set(l.slog())
}

// Setup replaces the process logger. An empty filePath logs to stderr only.
func Setup(filePath string) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if filePath == "" {
		SetupWithWriters(os.Stderr, nil)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	SetupWithWriters(os.Stderr, f)
	return nil
}

// SetupWithWriters wires the text and JSON handlers to arbitrary writers.
// A nil jsonOut disables the JSON handler. Used by tests.
func SetupWithWriters(textOut io.Writer, jsonOut io.Writer) {
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{slog.NewTextHandler(textOut, opts)}
	if jsonOut != nil {
		handlers = append(handlers, slog.NewJSONHandler(jsonOut, opts))
	}
	current.Store(slog.New(slogmulti.Fanout(handlers...)))
}

// Close releases the log file opened by Setup.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	SetupWithWriters(os.Stderr, nil)
}

// Logger returns the underlying slog logger.
func Logger() *slog.Logger {
	return current.Load()
}

func logCF(l LogLevel, component, msg string, fields map[string]interface{}) {
	lg := current.Load()
	if !lg.Enabled(context.Background(), l.slog()) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields)+1)
	if component != "" {
		attrs = append(attrs, slog.String("component", component))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, fieldAttrs(k, fields[k])...)
	}
	lg.LogAttrs(context.Background(), l.slog(), msg, attrs...)
}

// fieldAttrs expands goerr context values carried by an error field.
func fieldAttrs(key string, v interface{}) []slog.Attr {
	err, ok := v.(error)
	if !ok {
		return []slog.Attr{slog.Any(key, v)}
	}
	out := []slog.Attr{slog.String(key, err.Error())}
	var ge *goerr.Error
	if errors.As(err, &ge) {
		values := ge.Values()
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			out = append(out, slog.Any(key+"."+name, values[name]))
		}
	}
	return out
}

func Debug(msg string) { logCF(DEBUG, "", msg, nil) }
func Info(msg string)  { logCF(INFO, "", msg, nil) }
func Warn(msg string)  { logCF(WARN, "", msg, nil) }
func Error(msg string) { logCF(ERROR, "", msg, nil) }

func DebugC(component, msg string) { logCF(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { logCF(INFO, component, msg, nil) }
func WarnC(component, msg string)  { logCF(WARN, component, msg, nil) }
func ErrorC(component, msg string) { logCF(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	logCF(DEBUG, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	logCF(INFO, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	logCF(WARN, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logCF(ERROR, component, msg, fields)
}
