package vexdb

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vexdb-specific helpers so operations log with
// consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// A nil handler falls back to a text handler on stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that writes JSON records to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that writes human-readable text to stderr.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// LogAdd logs a vector add.
func (l *Logger) LogAdd(id uint64, dimension int, err error) {
	if err != nil {
		l.Error("add failed", "id", id, "dimension", dimension, "error", err)
	} else {
		l.Debug("add completed", "id", id, "dimension", dimension)
	}
}

// LogBatchAdd logs a batch add.
func (l *Logger) LogBatchAdd(count int, err error) {
	if err != nil {
		l.Error("batch add failed", "count", count, "error", err)
	} else {
		l.Info("batch add completed", "count", count)
	}
}

// LogSearch logs a search.
func (l *Logger) LogSearch(k, resultsFound int, err error) {
	if err != nil {
		l.Error("search failed", "k", k, "error", err)
	} else {
		l.Debug("search completed", "k", k, "results", resultsFound)
	}
}

// LogRemove logs a remove.
func (l *Logger) LogRemove(id uint64, err error) {
	if err != nil {
		l.Error("remove failed", "id", id, "error", err)
	} else {
		l.Debug("remove completed", "id", id)
	}
}

// LogBuild logs an index build.
func (l *Logger) LogBuild(size int, err error) {
	if err != nil {
		l.Error("index build failed", "size", size, "error", err)
	} else {
		l.Info("index build completed", "size", size)
	}
}

// LogSave logs a save.
func (l *Logger) LogSave(path string, err error) {
	if err != nil {
		l.Error("save failed", "path", path, "error", err)
	} else {
		l.Info("database saved", "path", path)
	}
}

// LogLoad logs a load.
func (l *Logger) LogLoad(path string, size int, err error) {
	if err != nil {
		l.Error("load failed", "path", path, "error", err)
	} else {
		l.Info("database loaded", "path", path, "size", size)
	}
}

// LogOrphanedMetadata logs metadata that could not be attached to its vector.
func (l *Logger) LogOrphanedMetadata(id uint64, err error) {
	l.Warn("orphaned metadata", "id", id, "error", err)
}
