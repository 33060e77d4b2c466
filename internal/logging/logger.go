// Package logging provides structured logging for the control plane using slog.
//
// Usage:
//
//	if err := logging.InitSession(sessionID); err != nil {
//	    // handle error
//	}
//	defer logging.CloseSession(sessionID)
//
//	ctx = logging.WithSession(ctx, sessionID)
//	logging.Info(ctx, "worktree created", slog.String("branch", branch))
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentzhq/controlplane/internal/paths"
	"github.com/agentzhq/controlplane/internal/validation"
)

// LogLevelEnvVar is the environment variable that controls log level.
const LogLevelEnvVar = "AGENTZ_LOG_LEVEL"

var (
	processLogger *slog.Logger
	processOnce   sync.Once

	mu          sync.RWMutex
	sessionLogs = make(map[string]*sessionLog)
)

type sessionLog struct {
	logger *slog.Logger
	file   *os.File
	buf    *bufio.Writer
}

// Process returns the process-wide fallback logger, used for anything
// outside a session's scope (API server startup/shutdown, config validation
// failures). It writes JSON lines to stderr.
func Process() *slog.Logger {
	processOnce.Do(func() {
		processLogger = createLogger(os.Stderr, currentLevel())
	})
	return processLogger
}

// InitSession opens (or reopens) the per-session JSON log file at
// <repoRoot>/.control-plane/logs/<sessionId>.log.
//
// If the log file cannot be created, the session silently falls back to the
// process logger rather than failing the caller's operation.
func InitSession(repoRoot, sessionID string) error {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session id for logging: %w", err)
	}

	logsDir := filepath.Join(repoRoot, paths.LogsDir)
	if err := paths.EnsureDir(logsDir); err != nil {
		mu.Lock()
		sessionLogs[sessionID] = &sessionLog{logger: createLogger(os.Stderr, currentLevel())}
		mu.Unlock()
		return nil //nolint:nilerr // fallback to stderr is deliberate, not an error condition for the caller
	}

	logFilePath := filepath.Join(logsDir, sessionID+".log")
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // sessionID validated above
	if err != nil {
		mu.Lock()
		sessionLogs[sessionID] = &sessionLog{logger: createLogger(os.Stderr, currentLevel())}
		mu.Unlock()
		return nil //nolint:nilerr // fallback to stderr is deliberate
	}

	bufw := bufio.NewWriterSize(f, 8192)
	entry := &sessionLog{
		logger: createLogger(bufw, currentLevel()),
		file:   f,
		buf:    bufw,
	}

	mu.Lock()
	if old, ok := sessionLogs[sessionID]; ok {
		flushAndClose(old)
	}
	sessionLogs[sessionID] = entry
	mu.Unlock()

	return nil
}

// CloseSession flushes and closes the per-session log file. Safe to call
// multiple times or for a session that was never initialised.
func CloseSession(sessionID string) {
	mu.Lock()
	defer mu.Unlock()
	if entry, ok := sessionLogs[sessionID]; ok {
		flushAndClose(entry)
		delete(sessionLogs, sessionID)
	}
}

func flushAndClose(entry *sessionLog) {
	if entry.buf != nil {
		_ = entry.buf.Flush()
	}
	if entry.file != nil {
		_ = entry.file.Close()
	}
}

func loggerFor(sessionID string) *slog.Logger {
	if sessionID == "" {
		return Process()
	}
	mu.RLock()
	entry, ok := sessionLogs[sessionID]
	mu.RUnlock()
	if !ok {
		return Process()
	}
	return entry.logger
}

func currentLevel() slog.Level {
	return parseLogLevel(os.Getenv(LogLevelEnvVar))
}

func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contextAttrs(ctx context.Context) []any {
	var attrs []any
	if sid := SessionIDFromContext(ctx); sid != "" {
		attrs = append(attrs, slog.String("session_id", sid))
	}
	if tc := ToolCallIDFromContext(ctx); tc != "" {
		attrs = append(attrs, slog.String("tool_call_id", tc))
	}
	if c := ComponentFromContext(ctx); c != "" {
		attrs = append(attrs, slog.String("component", c))
	}
	if a := AgentTypeFromContext(ctx); a != "" {
		attrs = append(attrs, slog.String("agent_type", a))
	}
	return attrs
}

func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := loggerFor(SessionIDFromContext(ctx))
	l.Log(ctx, level, msg, append(contextAttrs(ctx), attrs...)...)
}

// Debug logs at DEBUG level, routed to the calling session's log file if ctx carries one.
func Debug(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelDebug, msg, attrs...) }

// Info logs at INFO level, routed to the calling session's log file if ctx carries one.
func Info(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelInfo, msg, attrs...) }

// Warn logs at WARN level, routed to the calling session's log file if ctx carries one.
func Warn(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelWarn, msg, attrs...) }

// Error logs at ERROR level, routed to the calling session's log file if ctx carries one.
func Error(ctx context.Context, msg string, attrs ...any) { log(ctx, slog.LevelError, msg, attrs...) }

// LogDuration logs msg with a duration_ms attribute computed from start.
// Designed for use with defer:
//
//	defer logging.LogDuration(ctx, slog.LevelInfo, "merge completed", time.Now())
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	attrs = append(attrs, slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	log(ctx, level, msg, attrs...)
}
