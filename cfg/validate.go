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

package cfg

import (
	"fmt"
	"net/url"
)

const (
	MaxThreadsInvalidValueError  = "max-threads should be atleast 1"
	IdleTimeoutInvalidValueError = "idle-timeout can't be negative"
	ReadAheadBudgetInvalidError  = "read-ahead-budget-mb can't be negative"
	StatCacheTTLInvalidError     = "stat-cache-ttl can't be negative"
)

func isValidLogRotateConfig(config *LogRotateLoggingConfig) error {
	if config.MaxFileSizeMb <= 0 {
		return fmt.Errorf("max-file-size-mb should be atleast 1")
	}
	if config.BackupFileCount < 0 {
		return fmt.Errorf("backup-file-count should be 0 (to retain all backup files) or a positive value")
	}
	return nil
}

func isValidLogFormat(format string) error {
	if format != TextLogFormat && format != JSONLogFormat {
		return fmt.Errorf("unsupported log format %q, expected %q or %q", format, TextLogFormat, JSONLogFormat)
	}
	return nil
}

func isValidDaemonConfig(c *DaemonConfig) error {
	if c.MaxThreads < 1 {
		return fmt.Errorf(MaxThreadsInvalidValueError)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf(IdleTimeoutInvalidValueError)
	}
	if c.ReadAheadBudgetMb < 0 {
		return fmt.Errorf(ReadAheadBudgetInvalidError)
	}
	return nil
}

func isValidMetricsConfig(c *MetricsConfig) error {
	if c.PrometheusPort < 0 || c.PrometheusPort > 65535 {
		return fmt.Errorf("prometheus-port %d is out of range [0, 65535]", c.PrometheusPort)
	}
	return nil
}

func isValidURL(u string) error {
	_, err := url.Parse(u)
	return err
}

// ValidateConfig returns a non-nil error if the config is invalid.
func ValidateConfig(config *Config) error {
	var err error

	if err = isValidLogRotateConfig(&config.Logging.LogRotate); err != nil {
		return fmt.Errorf("error parsing log-rotate config: %w", err)
	}

	if err = isValidLogFormat(config.Logging.Format); err != nil {
		return fmt.Errorf("error parsing logging config: %w", err)
	}

	if err = isValidDaemonConfig(&config.Daemon); err != nil {
		return fmt.Errorf("error parsing daemon config: %w", err)
	}

	if err = isValidMetricsConfig(&config.Metrics); err != nil {
		return fmt.Errorf("error parsing metrics config: %w", err)
	}

	if err = isValidURL(config.Gcs.Endpoint); err != nil {
		return fmt.Errorf("error parsing gcs endpoint config: %w", err)
	}

	if config.Gcs.StatCacheTtl < 0 {
		return fmt.Errorf(StatCacheTTLInvalidError)
	}

	return nil
}
