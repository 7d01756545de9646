// Package logging provides config-driven categorized file-based logging for kiln.
// Logs are written to .kiln/logs/ with a separate file per category.
// Logging is controlled by debug_mode in .kiln/config.yaml - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	// Core categories
	CategoryBoot      Category = "boot"      // Boot/initialization
	CategoryLifecycle Category = "lifecycle" // Phase lifecycle transitions, checkpoints
	CategoryScheduler Category = "scheduler" // Levelization and level execution
	CategoryGovernor  Category = "governor"  // Resource snapshots and budgets

	// Loop categories
	CategoryConvergence Category = "convergence" // Quality convergence decisions
	CategorySprint      Category = "sprint"      // Sprint/build runner
	CategoryCollab      Category = "collab"      // Generation/test/review collaborator calls
	CategoryChat        Category = "chat"        // LLM chat transport
	CategoryStore       Category = "store"       // Build archive operations
)

// Config controls what gets logged. It mirrors config.LoggingConfig to
// avoid a circular import with the config package.
type Config struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	Categories map[string]bool
}

var (
	mu          sync.RWMutex
	loggers     = make(map[Category]*zap.SugaredLogger)
	nop         = zap.NewNop().Sugar()
	logsDir     string
	cfg         Config
	initialized bool
)

// Initialize sets up the logging directory for the given workspace.
// Should be called once at startup. When debug mode is off this is a
// silent no-op and every category logs to a nop logger.
func Initialize(workspace string, c Config) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	mu.Lock()
	defer mu.Unlock()

	cfg = c
	logsDir = filepath.Join(workspace, ".kiln", "logs")
	loggers = make(map[Category]*zap.SugaredLogger)
	initialized = true

	if !cfg.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := get(CategoryBoot)
	boot.Infof("=== kiln logging initialized ===")
	boot.Infof("logs directory: %s", logsDir)
	boot.Infof("level: %s", cfg.Level)
	return nil
}

// Close flushes and detaches every category logger.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, l := range loggers {
		_ = l.Sync()
	}
	loggers = make(map[Category]*zap.SugaredLogger)
	initialized = false
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	return get(cat)
}

// get assumes mu is held.
func get(cat Category) *zap.SugaredLogger {
	if !initialized || !cfg.DebugMode {
		return nop
	}
	if enabled, ok := cfg.Categories[string(cat)]; ok && !enabled {
		return nop
	}
	if l, ok := loggers[cat]; ok {
		return l
	}

	path := filepath.Join(logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] cannot open %s: %v\n", path, err)
		loggers[cat] = nop
		return nop
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(f)),
		parseLevel(cfg.Level),
	)

	l := zap.New(core).Sugar().Named(string(cat))
	loggers[cat] = l
	return l
}

// Convenience helpers, one family per category. Info-level unless the
// name carries a Debug/Error suffix.

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Infof(format, args...) }
func Lifecycle(format string, args ...interface{}) {
	Get(CategoryLifecycle).Infof(format, args...)
}
func LifecycleDebug(format string, args ...interface{}) {
	Get(CategoryLifecycle).Debugf(format, args...)
}
func Scheduler(format string, args ...interface{}) {
	Get(CategoryScheduler).Infof(format, args...)
}
func SchedulerDebug(format string, args ...interface{}) {
	Get(CategoryScheduler).Debugf(format, args...)
}
func SchedulerError(format string, args ...interface{}) {
	Get(CategoryScheduler).Errorf(format, args...)
}
func Governor(format string, args ...interface{}) {
	Get(CategoryGovernor).Infof(format, args...)
}
func GovernorDebug(format string, args ...interface{}) {
	Get(CategoryGovernor).Debugf(format, args...)
}
func Convergence(format string, args ...interface{}) {
	Get(CategoryConvergence).Infof(format, args...)
}
func ConvergenceDebug(format string, args ...interface{}) {
	Get(CategoryConvergence).Debugf(format, args...)
}
func Sprint(format string, args ...interface{}) {
	Get(CategorySprint).Infof(format, args...)
}
func SprintDebug(format string, args ...interface{}) {
	Get(CategorySprint).Debugf(format, args...)
}
func SprintError(format string, args ...interface{}) {
	Get(CategorySprint).Errorf(format, args...)
}
func Collab(format string, args ...interface{}) {
	Get(CategoryCollab).Infof(format, args...)
}
func CollabDebug(format string, args ...interface{}) {
	Get(CategoryCollab).Debugf(format, args...)
}
func Chat(format string, args ...interface{}) { Get(CategoryChat).Infof(format, args...) }
func ChatDebug(format string, args ...interface{}) {
	Get(CategoryChat).Debugf(format, args...)
}
func Store(format string, args ...interface{}) { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debugf(format, args...)
}
