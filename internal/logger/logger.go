// Copyright 2026 Google LLC
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

package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"sync"

	"github.com/gvfs-go/gvfsd/cfg"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ProgrammeName is the syslog tag, used to filter gvfsd messages out of the
// system log.
const ProgrammeName string = "gvfsd"

var (
	defaultLoggerFactory *loggerFactory
	defaultLogger        *slog.Logger
	programLevel         = new(slog.LevelVar)
	mu                   sync.Mutex
)

// init logs to stdout at INFO in text format until InitLogFile or
// SetLogFormat says otherwise.
func init() {
	defaultLoggerFactory = &loggerFactory{
		file:            nil,
		format:          cfg.TextLogFormat,
		level:           cfg.INFO,
		logRotateConfig: defaultLogRotateConfig(),
	}
	defaultLogger = defaultLoggerFactory.newLogger(cfg.INFO)
}

func defaultLogRotateConfig() cfg.LogRotateLoggingConfig {
	return cfg.LogRotateLoggingConfig{
		MaxFileSizeMb:   512,
		BackupFileCount: 10,
		Compress:        true,
	}
}

// InitLogFile points the default logger at the configured file, rotated by
// lumberjack. With no file path the logs go to syslog.
func InitLogFile(newLogConfig cfg.LoggingConfig) error {
	mu.Lock()
	defer mu.Unlock()

	var f io.WriteCloser
	var sysWriter *syslog.Writer
	var err error
	if newLogConfig.FilePath != "" {
		// Fail early on an unwritable path; lumberjack opens lazily.
		probe, err := os.OpenFile(string(newLogConfig.FilePath), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		probe.Close()
		f = NewAsyncLogger(&lumberjack.Logger{
			Filename:   string(newLogConfig.FilePath),
			MaxSize:    int(newLogConfig.LogRotate.MaxFileSizeMb),
			MaxBackups: int(newLogConfig.LogRotate.BackupFileCount),
			Compress:   newLogConfig.LogRotate.Compress,
		}, defaultAsyncBufferSize)
	} else {
		sysWriter, err = syslog.New(syslog.LOG_ALERT, ProgrammeName)
		if err != nil {
			return fmt.Errorf("error while creating syswriter: %w", err)
		}
	}

	defaultLoggerFactory = &loggerFactory{
		file:            f,
		filePath:        string(newLogConfig.FilePath),
		sysWriter:       sysWriter,
		format:          newLogConfig.Format,
		level:           string(newLogConfig.Severity),
		logRotateConfig: newLogConfig.LogRotate,
	}
	defaultLogger = defaultLoggerFactory.newLogger(string(newLogConfig.Severity))

	return nil
}

// SetLogFormat updates the format of the default logger.
func SetLogFormat(format string) {
	mu.Lock()
	defer mu.Unlock()
	defaultLoggerFactory.format = format
	defaultLogger = defaultLoggerFactory.newLogger(defaultLoggerFactory.level)
}

// SetLogSeverity updates the level of the default logger.
func SetLogSeverity(level string) {
	mu.Lock()
	defer mu.Unlock()
	defaultLoggerFactory.level = level
	setLoggingLevel(level, programLevel)
}

// Close flushes and closes the log file, if any.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if f := defaultLoggerFactory.file; f != nil {
		f.Close()
		defaultLoggerFactory.file = nil
	}
	if w := defaultLoggerFactory.sysWriter; w != nil {
		w.Close()
		defaultLoggerFactory.sysWriter = nil
	}
}

// Tracef prints the message with TRACE severity in the specified format.
func Tracef(format string, v ...interface{}) {
	defaultLogger.Log(context.Background(), LevelTrace, fmt.Sprintf(format, v...))
}

// Debugf prints the message with DEBUG severity in the specified format.
func Debugf(format string, v ...interface{}) {
	defaultLogger.Debug(fmt.Sprintf(format, v...))
}

// Infof prints the message with INFO severity in the specified format.
func Infof(format string, v ...interface{}) {
	defaultLogger.Info(fmt.Sprintf(format, v...))
}

// Info prints the message with info severity.
func Info(message string, args ...any) {
	defaultLogger.Info(message, args...)
}

// Warnf prints the message with WARNING severity in the specified format.
func Warnf(format string, v ...interface{}) {
	defaultLogger.Warn(fmt.Sprintf(format, v...))
}

// Errorf prints the message with ERROR severity in the specified format.
func Errorf(format string, v ...interface{}) {
	defaultLogger.Error(fmt.Sprintf(format, v...))
}

// Fatal prints an error log and exits with non-zero exit code.
func Fatal(format string, v ...interface{}) {
	Errorf(format, v...)
	Close()
	os.Exit(1)
}

type loggerFactory struct {
	// If nil, log to stdout or stderr. Otherwise, log to this file.
	file            io.WriteCloser
	filePath        string
	sysWriter       *syslog.Writer
	format          string
	level           string
	logRotateConfig cfg.LogRotateLoggingConfig
}

func (f *loggerFactory) newLogger(level string) *slog.Logger {
	// Create a new logger with the given level and format.
	logger := slog.New(f.handler(programLevel, ""))
	setLoggingLevel(level, programLevel)
	return logger
}

func (f *loggerFactory) writer() io.Writer {
	if f.file != nil {
		return f.file
	}
	if f.sysWriter != nil {
		return f.sysWriter
	}
	return os.Stdout
}

func (f *loggerFactory) handler(levelVar *slog.LevelVar, prefix string) slog.Handler {
	return f.createJsonOrTextHandler(f.writer(), levelVar, prefix)
}
