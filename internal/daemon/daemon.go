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

// Package daemon serves mounts: it runs the jobs of backends and channels,
// hands out private connections to clients and exits once idle.
package daemon

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/channel"
	"github.com/gvfs-go/gvfsd/internal/clock"
	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/locker"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mounttracker"
	"github.com/gvfs-go/gvfsd/internal/workerpool"
	"github.com/gvfs-go/gvfsd/metrics"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultIdleTimeout = time.Second
	DefaultMaxThreads  = 1
)

type Config struct {
	// MaxThreads bounds the jobs running at once across all channels.
	MaxThreads uint32

	// IdleTimeout is how long the daemon lingers after its last job source
	// closed.
	IdleTimeout time.Duration

	// ReadAheadBudget bounds the bytes of speculative reads in flight.
	// Zero disables read-ahead.
	ReadAheadBudget int64

	// SocketDir holds the private connection sockets. Empty selects
	// abstract sockets on Linux.
	SocketDir string

	Registry  *backend.Registry
	Registrar mounttracker.Registrar
	Clock     clock.Clock
	Metrics   metrics.MetricHandle
}

type Daemon struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	idleTimeout time.Duration
	socketDir   string
	registry    *backend.Registry
	clock       clock.Clock
	metrics     metrics.MetricHandle
	pool        workerpool.WorkerPool
	readAhead   *semaphore.Weighted

	registrarMu sync.Mutex
	registrar   mounttracker.Registrar
	busID       string

	threadsMu  sync.Mutex
	maxThreads uint32

	// Numbers the private connections.
	peerCounter atomic.Uint32

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu locker.RWLocker

	// Jobs that have not finished yet.
	//
	// GUARDED_BY(mu)
	jobs []*job.Job

	// Mounts and channels currently producing jobs.
	//
	// GUARDED_BY(mu)
	sources []job.Source

	// GUARDED_BY(mu)
	mounts map[string]*mount

	// The mount each open channel belongs to.
	//
	// GUARDED_BY(mu)
	channels map[*channel.Channel]*mount

	// Numbers the mount object paths.
	//
	// GUARDED_BY(mu)
	mountCounter uint32

	// Bumped whenever a pending idle exit must not happen.
	//
	// GUARDED_BY(mu)
	idleGeneration uint64

	// GUARDED_BY(mu)
	exited bool

	done chan struct{}
}

// New creates a daemon and starts its worker pool.
func New(c Config) (*Daemon, error) {
	if c.MaxThreads == 0 {
		c.MaxThreads = DefaultMaxThreads
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.Registry == nil {
		return nil, fmt.Errorf("daemon needs a backend registry")
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoopMetrics()
	}

	pool, err := workerpool.NewStaticWorkerPool(c.MaxThreads)
	if err != nil {
		return nil, fmt.Errorf("creating worker pool: %w", err)
	}
	pool.Start()

	d := &Daemon{
		idleTimeout: c.IdleTimeout,
		socketDir:   c.SocketDir,
		registry:    c.Registry,
		clock:       c.Clock,
		metrics:     c.Metrics,
		pool:        pool,
		maxThreads:  c.MaxThreads,
		registrar:   c.Registrar,
		mounts:      make(map[string]*mount),
		channels:    make(map[*channel.Channel]*mount),
		done:        make(chan struct{}),
	}
	if c.ReadAheadBudget > 0 {
		d.readAhead = semaphore.NewWeighted(c.ReadAheadBudget)
	}
	d.mu = locker.NewRW("Daemon", d.checkInvariants)
	return d, nil
}

func (d *Daemon) checkInvariants() {
	if d.exited && len(d.sources) > 0 {
		panic(fmt.Sprintf("daemon exited with %d job sources", len(d.sources)))
	}
	for path, m := range d.mounts {
		if m.path != path {
			panic(fmt.Sprintf("mount %s filed under %s", m.path, path))
		}
	}
	for ch, m := range d.channels {
		if _, ok := d.mounts[m.path]; !ok {
			panic(fmt.Sprintf("%v outlived its mount %s", ch, m.path))
		}
	}
}

// SetRegistrar sets where mounts are announced and the bus id they are
// announced under.
func (d *Daemon) SetRegistrar(r mounttracker.Registrar, busID string) {
	d.registrarMu.Lock()
	defer d.registrarMu.Unlock()
	d.registrar = r
	d.busID = busID
}

func (d *Daemon) currentRegistrar() (mounttracker.Registrar, string) {
	d.registrarMu.Lock()
	defer d.registrarMu.Unlock()
	return d.registrar, d.busID
}

// SetMaxThreads resizes the worker pool.
func (d *Daemon) SetMaxThreads(n uint32) error {
	d.threadsMu.Lock()
	defer d.threadsMu.Unlock()
	if err := d.pool.SetMaxWorkers(n); err != nil {
		return err
	}
	d.maxThreads = n
	return nil
}

// growThreads raises the worker pool to at least n workers. It never shrinks
// the pool.
func (d *Daemon) growThreads(n uint32) error {
	d.threadsMu.Lock()
	defer d.threadsMu.Unlock()
	if n <= d.maxThreads {
		return nil
	}
	if err := d.pool.SetMaxWorkers(n); err != nil {
		return err
	}
	logger.Infof("Worker pool grown to %d threads", n)
	d.maxThreads = n
	return nil
}

// MaxThreads returns the current size of the worker pool.
func (d *Daemon) MaxThreads() uint32 {
	d.threadsMu.Lock()
	defer d.threadsMu.Unlock()
	return d.maxThreads
}

// Done is closed when the daemon has been idle for the idle timeout.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Close stops the worker pool after the queued jobs ran.
func (d *Daemon) Close() {
	d.pool.Stop()
}

////////////////////////////////////////////////////////////////////////
// Job sources
////////////////////////////////////////////////////////////////////////

// AddJobSource starts tracking src and calls off a pending idle exit. New
// channels start serving here.
func (d *Daemon) AddJobSource(src job.Source) {
	d.mu.Lock()
	d.sources = append(d.sources, src)
	d.idleGeneration++
	d.mu.Unlock()

	logger.Tracef("Added job source %v", src)
	if ch, ok := src.(*channel.Channel); ok {
		ch.Start()
	}
}

// SourceClosed forgets src. Once no source is left the idle timer is armed.
func (d *Daemon) SourceClosed(src job.Source) {
	d.mu.Lock()
	d.sources = slices.DeleteFunc(d.sources, func(s job.Source) bool { return s == src })
	if ch, ok := src.(*channel.Channel); ok {
		delete(d.channels, ch)
	}
	if len(d.sources) == 0 && !d.exited {
		d.scheduleIdleExitLocked()
	}
	d.mu.Unlock()

	logger.Tracef("Job source %v closed", src)
}

// ArmIdleExit starts the idle timer when the daemon has no job source yet. It
// is called once startup is over, so that a daemon nobody uses still exits.
func (d *Daemon) ArmIdleExit() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sources) == 0 && !d.exited {
		d.scheduleIdleExitLocked()
	}
}

// LOCKS_REQUIRED(d.mu)
func (d *Daemon) scheduleIdleExitLocked() {
	d.idleGeneration++
	gen := d.idleGeneration
	fired := d.clock.After(d.idleTimeout)
	go func() {
		<-fired
		d.idleTimerFired(gen)
	}()
}

func (d *Daemon) idleTimerFired(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.idleGeneration || len(d.sources) > 0 || d.exited {
		return
	}
	logger.Infof("No job sources left for %v, exiting", d.idleTimeout)
	d.exited = true
	close(d.done)
}

////////////////////////////////////////////////////////////////////////
// Jobs
////////////////////////////////////////////////////////////////////////

// NewJob queues a job reported by a job source.
func (d *Daemon) NewJob(j *job.Job) {
	d.QueueJob(j)
}

// isUrgent reports whether jobs of kind go ahead of queued work. Closes free
// backend handles and error jobs only send a reply, so neither should wait
// behind slow reads or mounts.
func isUrgent(kind string) bool {
	switch kind {
	case metrics.JobKindClose, metrics.JobKindError:
		return true
	default:
		return false
	}
}

// QueueJob tracks j and runs it: inline when its try step completes it,
// otherwise on the worker pool.
func (d *Daemon) QueueJob(j *job.Job) {
	d.mu.Lock()
	d.jobs = append(d.jobs, j)
	d.mu.Unlock()

	d.metrics.JobsCount(1, j.Kind)
	j.OnNewSource(d.AddJobSource)
	j.OnFinished(d.jobFinished)

	if j.Try() {
		return
	}
	d.pool.Schedule(isUrgent(j.Kind), j)
}

func (d *Daemon) jobFinished(j *job.Job) {
	d.mu.Lock()
	d.jobs = slices.DeleteFunc(d.jobs, func(other *job.Job) bool { return other == j })
	d.mu.Unlock()

	d.metrics.JobLatency(context.Background(), time.Since(j.Created()), j.Kind)
}

// Cancel cancels the unfinished bus job with the given serial sent by
// sender. It reports whether there was one.
func (d *Daemon) Cancel(sender string, serial uint32) bool {
	d.mu.RLock()
	var target *job.Job
	for _, j := range d.jobs {
		if j.Sender == sender && j.Serial == serial {
			target = j
			break
		}
	}
	d.mu.RUnlock()

	if target == nil {
		return false
	}
	logger.Debugf("Cancelling %v", target)
	target.Cancel()
	return true
}

// cancelSender cancels every unfinished job sent by sender.
func (d *Daemon) cancelSender(sender string) {
	d.mu.RLock()
	var targets []*job.Job
	for _, j := range d.jobs {
		if j.Sender == sender {
			targets = append(targets, j)
		}
	}
	d.mu.RUnlock()

	for _, j := range targets {
		j.Cancel()
	}
}

// call runs op as a bus job from sender and waits for its outcome. The caller
// replies on the bus and then calls finishCall.
func (d *Daemon) call(ctx context.Context, sender string, serial uint32, kind string, op job.Operation) (*job.Job, error) {
	replied := make(chan struct{})
	j := job.New(ctx, kind, op, func(*job.Job) { close(replied) })
	j.Sender = sender
	j.Serial = serial

	d.QueueJob(j)
	<-replied
	return j, j.Err()
}

// sourceOpener is a bus operation that produced a new job source, such as
// an open channel.
type sourceOpener interface {
	openedSource() job.Source
}

// finishCall runs after the reply of j went out. New sources are reported
// only now, once the client holds its end.
func (d *Daemon) finishCall(j *job.Job) {
	if so, ok := j.Operation().(sourceOpener); ok && j.Err() == nil {
		if src := so.openedSource(); src != nil {
			j.EmitNewSource(src)
		}
	}
	j.EmitFinished()
}
