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
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/godbus/dbus/v5"
	"github.com/gvfs-go/gvfsd/cfg"
	"github.com/gvfs-go/gvfsd/common"
	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/backend/gcs"
	"github.com/gvfs-go/gvfsd/internal/backend/localtest"
	"github.com/gvfs-go/gvfsd/internal/daemon"
	"github.com/gvfs-go/gvfsd/internal/locker"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/monitor"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/mounttracker"
	"github.com/gvfs-go/gvfsd/metrics"
	"github.com/jacobsa/daemonize"
	"github.com/jacobsa/syncutil"
	"github.com/kardianos/osext"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	SuccessfulStartMessage         = "gvfsd is serving mounts."
	UnsuccessfulStartMessagePrefix = "Error while starting gvfsd"

	// InBackgroundModeEnv is set for the child started by daemonize.
	InBackgroundModeEnv = "GVFSD_IN_BACKGROUND_MODE"

	metricsWorkers    = 3
	metricsBufferSize = 256
)

// errIdle ends the run loop once the daemon has been idle long enough.
var errIdle = errors.New("daemon is idle")

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func inBackgroundMode() bool {
	return os.Getenv(InBackgroundModeEnv) != ""
}

// signalOutcome tells the parent process started by daemonize how start-up
// went. It does nothing in the foreground.
func signalOutcome(err error) {
	if !inBackgroundMode() {
		return
	}
	if err != nil {
		err = fmt.Errorf("%s: %w", UnsuccessfulStartMessagePrefix, err)
	}
	if err2 := daemonize.SignalOutcome(err); err2 != nil {
		logger.Errorf("Failed to signal outcome to parent-process from daemon: %v", err2)
	}
}

// runInBackground starts this program again in the foreground under
// daemonize and waits for it to report its start-up outcome.
func runInBackground(c *cfg.Config) error {
	path, err := osext.Executable()
	if err != nil {
		return fmt.Errorf("osext.Executable: %w", err)
	}
	args := append([]string{"--foreground"}, os.Args[1:]...)

	env := []string{fmt.Sprintf("%s=true", InBackgroundModeEnv)}
	for _, name := range []string{
		"PATH",
		"HOME",
		"DBUS_SESSION_BUS_ADDRESS",
		"XDG_RUNTIME_DIR",
		"GOOGLE_APPLICATION_CREDENTIALS",
		"https_proxy",
		"http_proxy",
		"no_proxy",
	} {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, fmt.Sprintf("%s=%s", name, v))
		}
	}
	// Relative paths in the config resolve against the invoking directory.
	if wd, err := os.Getwd(); err == nil {
		env = append(env, fmt.Sprintf("%s=%s", cfg.ParentProcessDirEnv, wd))
	}

	// logfile.stderr captures the standard error of the background process.
	var stderrFile *os.File
	if c.Logging.FilePath != "" {
		stderrFileName := string(c.Logging.FilePath) + ".stderr"
		if stderrFile, err = os.OpenFile(stderrFileName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644); err != nil {
			return err
		}
		defer stderrFile.Close()
	}

	if err := daemonize.Run(path, args, env, os.Stdout, stderrFile); err != nil {
		return fmt.Errorf("daemonize.Run: %w", err)
	}
	logger.Infof(SuccessfulStartMessage)
	return nil
}

func initLogging(c *cfg.Config) error {
	logger.SetLogFormat(c.Logging.Format)
	if c.Logging.FilePath != "" || inBackgroundMode() {
		if err := logger.InitLogFile(c.Logging); err != nil {
			return fmt.Errorf("init log file: %w", err)
		}
		return nil
	}
	logger.SetLogSeverity(string(c.Logging.Severity))
	return nil
}

func enableDebugging(c *cfg.Config) {
	if c.Debug.ExitOnInvariantViolation {
		locker.EnableInvariantsCheck()
		syncutil.EnableInvariantChecking()
	}
	if c.Debug.LogMutex {
		locker.EnableDebugMessages()
	}
}

// setupMetrics returns the noop handle unless a prometheus port is set.
func setupMetrics(ctx context.Context, c *cfg.Config) (metrics.MetricHandle, common.ShutdownFn) {
	if c.Metrics.PrometheusPort <= 0 {
		return metrics.NewNoopMetrics(), nil
	}
	shutdownFn := monitor.SetupOTelMetricExporters(ctx, c)
	mh, err := metrics.NewOTelMetrics(ctx, metricsWorkers, metricsBufferSize)
	if err != nil {
		logger.Errorf("Failed to create OTel metric handle, metrics are disabled: %v", err)
		return metrics.NewNoopMetrics(), shutdownFn
	}
	return mh, shutdownFn
}

// newRegistry returns the backends this binary serves.
func newRegistry(c *cfg.Config) *backend.Registry {
	r := backend.NewRegistry()
	r.Register(localtest.Type, localtest.New)
	r.Register(gcs.Type, gcs.NewFactory(gcs.NewClientFunc(c.Gcs), c.Gcs.ReadLimitBytesPerSec, c.Gcs.StatCacheTtl))
	return r
}

func parseSpecs(args []string) ([]*mountspec.MountSpec, error) {
	specs := make([]*mountspec.MountSpec, 0, len(args))
	for _, arg := range args {
		spec, err := mountspec.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("parsing mount spec %q: %w", arg, err)
		}
		if spec.Type() == "" {
			return nil, fmt.Errorf("mount spec %q has no %s", arg, mountspec.TypeKey)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func daemonConfig(c *cfg.Config, mh metrics.MetricHandle) daemon.Config {
	return daemon.Config{
		MaxThreads:      uint32(c.Daemon.MaxThreads),
		IdleTimeout:     c.Daemon.IdleTimeout,
		ReadAheadBudget: c.Daemon.ReadAheadBudgetMb << 20,
		SocketDir:       string(c.Daemon.SocketDir),
		Registry:        newRegistry(c),
		Metrics:         mh,
	}
}

func shutdown(fn common.ShutdownFn) {
	if fn == nil {
		return
	}
	if err := fn(context.Background()); err != nil {
		logger.Errorf("Error while shutting down metrics exporter: %v", err)
	}
}

////////////////////////////////////////////////////////////////////////
// main logic
////////////////////////////////////////////////////////////////////////

// ServeDaemon mounts specArgs and serves them, and any mount requested
// later, until interrupted or idle.
func ServeDaemon(c *cfg.Config, specArgs []string) error {
	specs, err := parseSpecs(specArgs)
	if err != nil {
		return err
	}
	if !c.Foreground {
		return runInBackground(c)
	}

	if err := initLogging(c); err != nil {
		return err
	}
	defer logger.Close()
	enableDebugging(c)
	logger.Infof("Start gvfsd/%s for app %q", common.GetVersion(), c.AppName)
	if s, err := cfg.Stringify(c); err == nil {
		logger.Debugf("gvfsd config:\n%s", s)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	mh, shutdownFn := setupMetrics(ctx, c)
	defer shutdown(shutdownFn)

	d, bus, err := startDaemon(ctx, c, mh, specs)
	if err != nil {
		logger.Errorf("%s: %v", UnsuccessfulStartMessagePrefix, err)
		signalOutcome(err)
		return err
	}
	defer d.Close()
	logger.Info(SuccessfulStartMessage)
	signalOutcome(nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Watch(gctx)
	})
	g.Go(func() error {
		select {
		case <-d.Done():
			return errIdle
		case <-gctx.Done():
			return nil
		}
	})

	err = g.Wait()
	if errors.Is(err, errIdle) {
		err = nil
	}
	if ctx.Err() != nil {
		logger.Infof("Received a terminating signal, exiting")
	}
	return err
}

// startDaemon connects to the session bus, exports the daemon and mounts
// specs.
func startDaemon(ctx context.Context, c *cfg.Config, mh metrics.MetricHandle, specs []*mountspec.MountSpec) (*daemon.Daemon, *daemon.Bus, error) {
	d, err := daemon.New(daemonConfig(c, mh))
	if err != nil {
		return nil, nil, err
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		d.Close()
		return nil, nil, fmt.Errorf("connecting to the session bus: %w", err)
	}
	bus := daemon.NewBus(d, conn, c.Daemon.BusName)
	if err := bus.Start(c.Daemon.RegisterWithTracker); err != nil {
		conn.Close()
		d.Close()
		return nil, nil, err
	}

	for _, spec := range specs {
		path, err := d.Mount(ctx, spec, false, "", 0)
		if err != nil {
			conn.Close()
			d.Close()
			return nil, nil, fmt.Errorf("mounting %v: %w", spec, err)
		}
		logger.Infof("Serving %v at %s", spec, path)
	}
	d.ArmIdleExit()
	return d, bus, nil
}

// ServeTracker owns the mount tracker name on the session bus and serves
// the tracker until interrupted.
func ServeTracker(c *cfg.Config) error {
	if !c.Foreground {
		return runInBackground(c)
	}

	if err := initLogging(c); err != nil {
		return err
	}
	defer logger.Close()
	enableDebugging(c)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	defer stop()

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		err = fmt.Errorf("connecting to the session bus: %w", err)
		signalOutcome(err)
		return err
	}
	defer conn.Close()

	reply, err := conn.RequestName(mounttracker.BusName, dbus.NameFlagDoNotQueue)
	if err == nil && reply != dbus.RequestNameReplyPrimaryOwner {
		err = fmt.Errorf("bus name %s is already taken", mounttracker.BusName)
	}
	if err != nil {
		signalOutcome(err)
		return err
	}

	svc := mounttracker.NewService()
	logger.Infof("Serving the mount tracker as %s", mounttracker.BusName)
	signalOutcome(nil)
	return svc.Serve(ctx, conn)
}
