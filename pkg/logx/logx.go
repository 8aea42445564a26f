// Package logx provides structured logging with env-driven debug control.
package logx

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger writes timestamped, component-tagged log lines to stderr.
type Logger struct {
	component string
	logger    *log.Logger
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled     bool
	FileLogging bool
	LogDir      string
	Domains     map[string]bool // Which domains to enable debug for (nil = all)
}

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	fileMutex sync.Mutex
	logFiles  = map[string]*os.File{}
)

// Initialize debug configuration from environment variables.
func init() { //nolint:gochecknoinits // Required for env var initialization
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	if debugFile := os.Getenv("DEBUG_FILE"); debugFile == "1" || strings.EqualFold(debugFile, "true") {
		debugConfig.FileLogging = true
	}

	if dir := os.Getenv("DEBUG_LOG_DIR"); dir != "" {
		debugConfig.LogDir = dir
	} else if debugConfig.LogDir == "" {
		debugConfig.LogDir = "logs"
	}

	// Parse domain filtering from DEBUG_DOMAINS=loop,shell,hook
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

// NewLogger creates a logger tagged with the given component name.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0), // Log to stderr for CLI compatibility
	}
}

// SetDebugConfig configures global debug logging settings.
func SetDebugConfig(enabled, fileLogging bool, logDir string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	debugConfig.Enabled = enabled
	debugConfig.FileLogging = fileLogging
	if logDir != "" {
		debugConfig.LogDir = logDir
	}

	if fileLogging && debugConfig.LogDir != "" {
		if err := os.MkdirAll(debugConfig.LogDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to create log directory %s: %v\n", debugConfig.LogDir, err)
		}
	}
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabledForDomain(l.component) {
		return
	}
	l.log(LevelDebug, format, args...)
	l.writeDebugFile(fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// writeDebugFile appends a debug line to the component's debug file when
// file logging is enabled.
func (l *Logger) writeDebugFile(message string) {
	debugMutex.RLock()
	fileLogging := debugConfig.FileLogging
	logDir := debugConfig.LogDir
	debugMutex.RUnlock()

	if !fileLogging {
		return
	}

	fileMutex.Lock()
	defer fileMutex.Unlock()

	file, ok := logFiles[l.component]
	if !ok {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return
		}
		path := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", l.component))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		logFiles[l.component] = f
		file = f
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	fmt.Fprintf(file, "[%s] %s\n", timestamp, message)
}

// CloseDebugFiles closes any open per-component debug files.
func CloseDebugFiles() {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	for component, file := range logFiles {
		_ = file.Close()
		delete(logFiles, component)
	}
}
