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

package cmd

import (
	"fmt"
	"os"

	"github.com/gvfs-go/gvfsd/cfg"
	"github.com/gvfs-go/gvfsd/common"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type daemonFn func(c *cfg.Config, specs []string) error

type trackerFn func(c *cfg.Config) error

// NewRootCmd accepts the functions that run the daemon and the mount
// tracker, and returns the command that parses flags and config into a
// cfg.Config before calling them.
func NewRootCmd(runDaemon daemonFn, runTracker trackerFn) (*cobra.Command, error) {
	var (
		configObj cfg.Config
		cfgFile   string
		cfgErr    error
	)
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "gvfsd [flags] [mount-spec...]",
		Short: "Serve virtual file system mounts to desktop clients",
		Long: `gvfsd serves mounts to clients over private D-Bus connections and
per-file stream channels. Each mount-spec argument, written as
key=value pairs separated by commas (for example
type=gcs,bucket=my-bucket), is mounted at start-up.`,
		Version:      common.GetVersion(),
		Args:         cobra.ArbitraryArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			return runDaemon(&configObj, args)
		},
	}

	trackerCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Run the mount tracker that clients query for live mounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return cfgErr
			}
			return runTracker(&configObj)
		},
	}
	rootCmd.AddCommand(trackerCmd)

	initConfig := func() {
		if cfgErr = readConfig(v, cfgFile, &configObj); cfgErr != nil {
			return
		}
		if cfgErr = cfg.Rationalize(v, &configObj); cfgErr != nil {
			return
		}
		cfgErr = cfg.ValidateConfig(&configObj)
	}
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "The path to the config file where all gvfsd related config needs to be specified. "+
		"Refer to the documentation for the supported config keys.")
	if err := cfg.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		return nil, err
	}
	return rootCmd, nil
}

// readConfig merges the config file, if any, under the flags and decodes
// the result.
func readConfig(v *viper.Viper, cfgFile string, c *cfg.Config) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error while reading the config file: %w", err)
		}
	}

	err := v.Unmarshal(c, viper.DecodeHook(cfg.DecodeHook()), func(decoderConfig *mapstructure.DecoderConfig) {
		// By default, viper supports mapstructure tags for unmarshalling. Override that to support yaml tag.
		decoderConfig.TagName = "yaml"
		// Reject unknown keys in the config file.
		decoderConfig.ErrorUnused = true
	})
	if err != nil {
		return fmt.Errorf("error while parsing config: %w", err)
	}
	return nil
}

// Execute runs the gvfsd command line.
func Execute() {
	rootCmd, err := NewRootCmd(ServeDaemon, ServeTracker)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while building the root command: %v\n", err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
