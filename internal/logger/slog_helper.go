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
	"io"
	"log/slog"

	"github.com/gvfs-go/gvfsd/cfg"
)

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(12)

	timestampKey = "timestamp"
	severityKey  = "severity"
	messageKey   = "message"
	textTimeFmt  = "02/01/2006 15:04:05.000000"
)

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	// logs having severity >= the configured value will be logged.
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.INFO:
		programLevel.Set(LevelInfo)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	}
}

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return cfg.TRACE
	case l < LevelInfo:
		return cfg.DEBUG
	case l < LevelWarn:
		return cfg.INFO
	case l < LevelError:
		return cfg.WARNING
	default:
		return cfg.ERROR
	}
}

// createJsonOrTextHandler returns a handler writing either
//
//	time="02/01/2006 15:04:05.000000" severity=INFO message="prefix..."
//
// or, for the json format,
//
//	{"timestamp":{"seconds":..,"nanos":..},"severity":"INFO","message":"prefix..."}
func (f *loggerFactory) createJsonOrTextHandler(writer io.Writer, levelVar *slog.LevelVar, prefix string) slog.Handler {
	text := f.format == cfg.TextLogFormat
	opts := &slog.HandlerOptions{
		Level: levelVar,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				t := a.Value.Time().Round(0)
				if text {
					a.Value = slog.StringValue(t.Format(textTimeFmt))
					return a
				}
				return slog.Attr{
					Key: timestampKey,
					Value: slog.GroupValue(
						slog.Int64("seconds", t.Unix()),
						slog.Int64("nanos", int64(t.Nanosecond())),
					),
				}
			case slog.LevelKey:
				return slog.String(severityKey, severityName(a.Value.Any().(slog.Level)))
			case slog.MessageKey:
				return slog.String(messageKey, prefix+a.Value.String())
			}
			return a
		},
	}

	if text {
		return slog.NewTextHandler(writer, opts)
	}
	return slog.NewJSONHandler(writer, opts)
}
