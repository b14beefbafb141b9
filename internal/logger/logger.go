// Copyright 2025 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger is the structured logging facade used by both envfsd and
// envfs. It wraps log/slog with the severity ladder and text/json output
// formats the rest of the daemon's callers expect.
package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, ordered coarser than slog's four built-in levels so that
// TRACE sits below DEBUG and OFF sits above ERROR.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)
)

// Severity name constants accepted in configuration. Unexported: the
// exported names Trace/Debug/Info/Warn/Error below are the logging
// functions themselves, so the severity strings can't reuse them.
const (
	severityTrace   = "TRACE"
	severityDebug   = "DEBUG"
	severityInfo    = "INFO"
	severityWarning = "WARNING"
	severityError   = "ERROR"
	severityOff     = "OFF"
)

// LogRotateConfig mirrors the on-disk rotation knobs exposed through cfg.
type LogRotateConfig struct {
	MaxFileSizeMB  int
	BackupFileCnt  int
	Compress       bool
}

func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{MaxFileSizeMB: 512, BackupFileCnt: 10, Compress: true}
}

// Config is the subset of cfg.LoggingConfig the logger cares about.
type Config struct {
	FilePath string
	Format   string // "text" or "json"
	Severity string
	Rotate   LogRotateConfig
}

type loggerFactory struct {
	file            *lumberjack.Logger
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig LogRotateConfig
	programLevel    *slog.LevelVar
}

var (
	defaultLoggerFactory = &loggerFactory{
		sysWriter:       os.Stderr,
		format:          "text",
		level:           severityInfo,
		logRotateConfig: DefaultLogRotateConfig(),
		programLevel:    new(slog.LevelVar),
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, defaultLoggerFactory.programLevel, ""))
)

func init() {
	setLoggingLevel(severityInfo, defaultLoggerFactory.programLevel)
}

// InitLogFile points the default logger at an on-disk, rotated log file.
// If cfg.FilePath is empty, logs continue to go to stderr.
func InitLogFile(cfg Config) error {
	factory := &loggerFactory{
		format:          cfg.Format,
		level:           cfg.Severity,
		logRotateConfig: cfg.Rotate,
		programLevel:    new(slog.LevelVar),
	}
	if factory.format == "" {
		factory.format = "json"
	}

	var w io.Writer
	if cfg.FilePath != "" {
		factory.file = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.Rotate.MaxFileSizeMB,
			MaxBackups: cfg.Rotate.BackupFileCnt,
			Compress:   cfg.Rotate.Compress,
		}
		w = factory.file
	} else {
		factory.sysWriter = os.Stderr
		w = os.Stderr
	}

	setLoggingLevel(factory.level, factory.programLevel)
	defaultLoggerFactory = factory
	defaultLogger = slog.New(factory.createJsonOrTextHandler(w, factory.programLevel, ""))
	return nil
}

// SetLogFormat switches the default logger between "text" and "json" output
// without touching the destination writer or severity.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	var w io.Writer = defaultLoggerFactory.sysWriter
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, defaultLoggerFactory.programLevel, ""))
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch strings.ToUpper(level) {
	case severityTrace:
		programLevel.Set(LevelTrace)
	case severityDebug:
		programLevel.Set(LevelDebug)
	case severityInfo, "":
		programLevel.Set(LevelInfo)
	case severityWarning:
		programLevel.Set(LevelWarn)
	case severityError:
		programLevel.Set(LevelError)
	case severityOff:
		programLevel.Set(LevelOff)
	}
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return severityTrace
	case l < LevelInfo:
		return severityDebug
	case l < LevelWarn:
		return severityInfo
	case l < LevelError:
		return severityWarning
	case l < LevelOff:
		return severityError
	default:
		return severityOff
	}
}

// textOrJSONHandler renders a single log record as either
// `time="..." severity=LEVEL message="..."` or a JSON object with a
// {seconds,nanos} timestamp, matching the two output modes the daemon's
// operators expect from a systemd-adjacent process.
type textOrJSONHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	format string
	prefix string
}

func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, level *slog.LevelVar, prefix string) slog.Handler {
	return &textOrJSONHandler{w: w, level: level, format: f.format, prefix: prefix}
}

func (h *textOrJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textOrJSONHandler) Handle(_ context.Context, r slog.Record) error {
	msg := h.prefix + r.Message
	severity := severityName(r.Level)

	if strings.EqualFold(h.format, "json") || h.format == "" {
		sec := r.Time.Unix()
		nsec := r.Time.Nanosecond()
		_, err := fmt.Fprintf(h.w, "{\"timestamp\":{\"seconds\":%d,\"nanos\":%d},\"severity\":%q,\"message\":%q}\n",
			sec, nsec, severity, msg)
		return err
	}

	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n", r.Time.Format(time.RFC3339Nano), severity, msg)
	return err
}

func (h *textOrJSONHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textOrJSONHandler) WithGroup(_ string) slog.Handler      { return h }

func logf(level slog.Level, format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Tracef(format string, v ...interface{}) { logf(LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { logf(LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }

func Trace(v ...interface{}) { logf(LevelTrace, "%s", fmt.Sprint(v...)) }
func Debug(v ...interface{}) { logf(LevelDebug, "%s", fmt.Sprint(v...)) }
func Info(v ...interface{})  { logf(LevelInfo, "%s", fmt.Sprint(v...)) }
func Warn(v ...interface{})  { logf(LevelWarn, "%s", fmt.Sprint(v...)) }
func Error(v ...interface{}) { logf(LevelError, "%s", fmt.Sprint(v...)) }

// levelWriter routes everything written to it through the package logger at
// a fixed level, with prefix prepended. It backs NewLegacyLogger, which
// adapts this facade to the standard *log.Logger jacobsa/fuse's
// MountConfig.ErrorLogger and DebugLogger expect.
type levelWriter struct {
	level  slog.Level
	prefix string
}

func (w levelWriter) Write(p []byte) (int, error) {
	logf(w.level, "%s%s", w.prefix, strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewLegacyLogger adapts the package's structured logger to a *log.Logger,
// for the handful of third-party APIs (jacobsa/fuse's mount configuration)
// that still expect the standard library type.
func NewLegacyLogger(level slog.Level, prefix string) *log.Logger {
	return log.New(levelWriter{level: level, prefix: prefix}, "", 0)
}

type legacyWriteCloser struct {
	levelWriter
}

func (legacyWriteCloser) Close() error { return nil }

// NewLegacyWriteCloser adapts the package logger to an io.WriteCloser, for
// piping a spawned child process's stdout/stderr through it (see
// AsyncLogger).
func NewLegacyWriteCloser(level slog.Level, prefix string) io.WriteCloser {
	return legacyWriteCloser{levelWriter{level: level, prefix: prefix}}
}
