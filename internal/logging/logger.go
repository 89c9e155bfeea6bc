package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/magnitude-protocol/internal/config"
)

// FileName is the structured log inside .protocol/logs.
const FileName = "protocol.log"

// Logger writes JSON lines to .protocol/logs/protocol.log so operators can
// inspect a run after the terminal session closes.
type Logger struct {
	z     *zap.Logger
	close func()
}

// New creates (or reuses) the log file for the current project directory.
func New(projectDir string, verbose bool) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.ProtocolDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	return NewFile(filepath.Join(logDir, FileName), verbose)
}

// NewFile opens a logger appending to path.
func NewFile(path string, verbose bool) (*Logger, error) {
	sink, closeSink, err := zap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	return &Logger{z: zap.New(core), close: closeSink}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// Zap exposes the underlying logger for structured fields.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil || l.z == nil {
		return Nop()
	}
	return &Logger{z: l.z.With(fields...)}
}

// Printf writes a single formatted info line.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.z == nil {
		return
	}
	l.z.Info(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.z == nil {
		return nil
	}
	return l.z.Sync()
}

// Close flushes and releases the file handle. Children created with With
// share the parent's file and must not be used afterwards.
func (l *Logger) Close() error {
	if l == nil || l.z == nil {
		return nil
	}
	err := l.z.Sync()
	if l.close != nil {
		l.close()
		l.close = nil
	}
	return err
}
