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

// GENERATED CODE - DO NOT EDIT config.go FILE MANUALLY.

package cfg

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	AppName string `yaml:"app-name"`

	Daemon DaemonConfig `yaml:"daemon"`

	Debug DebugConfig `yaml:"debug"`

	Foreground bool `yaml:"foreground"`

	Gcs GcsConfig `yaml:"gcs"`

	Logging LoggingConfig `yaml:"logging"`

	Metrics MetricsConfig `yaml:"metrics"`
}

type DaemonConfig struct {
	BusName string `yaml:"bus-name"`

	IdleTimeout time.Duration `yaml:"idle-timeout"`

	MaxThreads int64 `yaml:"max-threads"`

	ReadAheadBudgetMb int64 `yaml:"read-ahead-budget-mb"`

	RegisterWithTracker bool `yaml:"register-with-tracker"`

	SocketDir ResolvedPath `yaml:"socket-dir"`
}

type DebugConfig struct {
	ExitOnInvariantViolation bool `yaml:"exit-on-invariant-violation"`

	LogMutex bool `yaml:"log-mutex"`
}

type GcsConfig struct {
	AnonymousAccess bool `yaml:"anonymous-access"`

	Endpoint string `yaml:"endpoint"`

	ReadLimitBytesPerSec float64 `yaml:"read-limit-bytes-per-sec"`

	StatCacheTtl time.Duration `yaml:"stat-cache-ttl"`
}

type LogRotateLoggingConfig struct {
	BackupFileCount int64 `yaml:"backup-file-count"`

	Compress bool `yaml:"compress"`

	MaxFileSizeMb int64 `yaml:"max-file-size-mb"`
}

type LoggingConfig struct {
	FilePath ResolvedPath `yaml:"file-path"`

	Format string `yaml:"format"`

	LogRotate LogRotateLoggingConfig `yaml:"log-rotate"`

	Severity LogSeverity `yaml:"severity"`
}

type MetricsConfig struct {
	PrometheusPort int64 `yaml:"prometheus-port"`
}

func BindFlags(v *viper.Viper, flagSet *pflag.FlagSet) error {
	var err error

	flagSet.BoolP("anonymous-access", "", false, "Access Cloud Storage without credentials.")

	err = v.BindPFlag("gcs.anonymous-access", flagSet.Lookup("anonymous-access"))
	if err != nil {
		return err
	}

	flagSet.StringP("app-name", "", "", "The application name reported by the daemon.")

	err = v.BindPFlag("app-name", flagSet.Lookup("app-name"))
	if err != nil {
		return err
	}

	flagSet.StringP("bus-name", "", "", "Well-known session bus name to own. When empty, only the unique name is used.")

	err = v.BindPFlag("daemon.bus-name", flagSet.Lookup("bus-name"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_invariants", "", false, "Exit when internal invariants are violated.")

	err = v.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug_invariants"))
	if err != nil {
		return err
	}

	flagSet.BoolP("debug_mutex", "", false, "Print debug messages when a mutex is held too long.")

	err = v.BindPFlag("debug.log-mutex", flagSet.Lookup("debug_mutex"))
	if err != nil {
		return err
	}

	flagSet.BoolP("foreground", "", false, "Stay in the foreground after mounting.")

	err = v.BindPFlag("foreground", flagSet.Lookup("foreground"))
	if err != nil {
		return err
	}

	flagSet.StringP("gcs-endpoint", "", "", "Alternate Cloud Storage endpoint, mostly for testing.")

	err = v.BindPFlag("gcs.endpoint", flagSet.Lookup("gcs-endpoint"))
	if err != nil {
		return err
	}

	flagSet.DurationP("idle-timeout", "", 1000000000*time.Nanosecond, "How long the daemon lingers after its last channel or mount is gone.")

	err = v.BindPFlag("daemon.idle-timeout", flagSet.Lookup("idle-timeout"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-file", "", "", "The file for storing logs. When not provided, logs are printed to stdout when gvfsd runs in the foreground, or to syslog when it runs in the background.")

	err = v.BindPFlag("logging.file-path", flagSet.Lookup("log-file"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-format", "", "text", "The format of the log file: 'text' or 'json'.")

	err = v.BindPFlag("logging.format", flagSet.Lookup("log-format"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-backup-file-count", "", 10, "The maximum number of backup log files to retain after they have been rotated. 0 retains all of them.")

	err = v.BindPFlag("logging.log-rotate.backup-file-count", flagSet.Lookup("log-rotate-backup-file-count"))
	if err != nil {
		return err
	}

	flagSet.BoolP("log-rotate-compress", "", true, "Compress rotated log files with gzip.")

	err = v.BindPFlag("logging.log-rotate.compress", flagSet.Lookup("log-rotate-compress"))
	if err != nil {
		return err
	}

	flagSet.IntP("log-rotate-max-file-size-mb", "", 512, "The maximum size in megabytes that a log file can reach before it is rotated.")

	err = v.BindPFlag("logging.log-rotate.max-file-size-mb", flagSet.Lookup("log-rotate-max-file-size-mb"))
	if err != nil {
		return err
	}

	flagSet.StringP("log-severity", "", "info", "Specifies the logging severity expressed as one of [trace, debug, info, warning, error, off]")

	err = v.BindPFlag("logging.severity", flagSet.Lookup("log-severity"))
	if err != nil {
		return err
	}

	flagSet.IntP("max-threads", "", 1, "Number of jobs the daemon runs concurrently.")

	err = v.BindPFlag("daemon.max-threads", flagSet.Lookup("max-threads"))
	if err != nil {
		return err
	}

	flagSet.IntP("prometheus-port", "", 0, "Expose Prometheus metrics endpoint on this port. 0 disables it.")

	err = v.BindPFlag("metrics.prometheus-port", flagSet.Lookup("prometheus-port"))
	if err != nil {
		return err
	}

	flagSet.IntP("read-ahead-budget-mb", "", 16, "Upper bound on the data read ahead across all channels. 0 disables read-ahead.")

	err = v.BindPFlag("daemon.read-ahead-budget-mb", flagSet.Lookup("read-ahead-budget-mb"))
	if err != nil {
		return err
	}

	flagSet.Float64P("read-limit-bytes-per-sec", "", -1, "Bandwidth limit for Cloud Storage reads. -1 means no limit.")

	err = v.BindPFlag("gcs.read-limit-bytes-per-sec", flagSet.Lookup("read-limit-bytes-per-sec"))
	if err != nil {
		return err
	}

	flagSet.BoolP("register-with-tracker", "", true, "Announce mounts to the mount tracker on the session bus.")

	err = v.BindPFlag("daemon.register-with-tracker", flagSet.Lookup("register-with-tracker"))
	if err != nil {
		return err
	}

	flagSet.StringP("socket-dir", "", "", "Directory for the private connection sockets when abstract sockets are unavailable. Defaults to $XDG_RUNTIME_DIR/gvfsd.")

	err = v.BindPFlag("daemon.socket-dir", flagSet.Lookup("socket-dir"))
	if err != nil {
		return err
	}

	flagSet.DurationP("stat-cache-ttl", "", 10000000000*time.Nanosecond, "How long Cloud Storage object attributes are cached. 0 disables the cache.")

	err = v.BindPFlag("gcs.stat-cache-ttl", flagSet.Lookup("stat-cache-ttl"))
	if err != nil {
		return err
	}

	return nil
}
