package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log file names, one per level.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (debug/info/warning/error) to files and stdout/stderr.
type Logger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	prefix     string
	debug      bool
	files      []*os.File
	mu         *sync.Mutex
}

// New creates a Logger writing to logDir. When logDir is empty only
// stdout/stderr are used.
func New(logDir, level string) (*Logger, error) {
	l := &Logger{
		logDir: logDir,
		debug:  strings.EqualFold(level, "debug"),
		mu:     &sync.Mutex{},
	}

	infoOut, warningOut, errorOut := io.Writer(os.Stdout), io.Writer(os.Stdout), io.Writer(os.Stderr)
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		infoFile, err := l.openLogFile(InfoFile)
		if err != nil {
			return nil, err
		}
		warningFile, err := l.openLogFile(WarningFile)
		if err != nil {
			l.Close()
			return nil, err
		}
		errorFile, err := l.openLogFile(ErrorFile)
		if err != nil {
			l.Close()
			return nil, err
		}

		infoOut = io.MultiWriter(os.Stdout, infoFile)
		warningOut = io.MultiWriter(os.Stdout, warningFile)
		errorOut = io.MultiWriter(os.Stderr, errorFile)
	}

	l.setupLoggers(infoOut, warningOut, errorOut)
	return l, nil
}

// Discard returns a Logger that drops every entry.
func Discard() *Logger {
	l := &Logger{mu: &sync.Mutex{}}
	l.setupLoggers(io.Discard, io.Discard, io.Discard)
	return l
}

// setupLoggers initializes per-level loggers on top of the given writers.
func (l *Logger) setupLoggers(infoOut, warningOut, errorOut io.Writer) {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	l.debugLog = log.New(infoOut, "DEBUG   ", flags)
	l.infoLog = log.New(infoOut, "INFO    ", flags)
	l.warningLog = log.New(warningOut, "WARNING ", flags)
	l.errorLog = log.New(errorOut, "ERROR   ", flags)
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(name string) (*os.File, error) {
	file, err := os.OpenFile(filepath.Join(l.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	l.files = append(l.files, file)
	return file, nil
}

// WithPrefix returns a Logger sharing the same outputs that prepends prefix
// to every message.
func (l *Logger) WithPrefix(prefix string) *Logger {
	child := *l
	child.prefix = l.prefix + "[" + prefix + "] "
	return &child
}

// Dir returns the directory log files are written to, or "" for console only.
func (l *Logger) Dir() string {
	return l.logDir
}

// Debug writes a formatted debug-level entry when debug logging is enabled.
func (l *Logger) Debug(format string, v ...interface{}) {
	if !l.debug {
		return
	}
	l.write(l.debugLog, format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.write(l.infoLog, format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.write(l.warningLog, format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.write(l.errorLog, format, v...)
}

func (l *Logger) write(target *log.Logger, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	target.Output(3, l.prefix+fmt.Sprintf(format, v...))
}

// CleanLogs truncates the specified log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(filepath.Join(l.logDir, filepath.Base(fileName)), os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error opening log file: %w", err)
	}
	return file.Close()
}

// Close closes the underlying log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}
