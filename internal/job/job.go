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

// Package job wraps one unit of backend work and enforces its lifecycle:
// a job reports exactly one outcome and emits finished exactly once.
package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/protocol"
)

type State int

const (
	Queued State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Operation is the kind specific part of a job. Run blocks and must report
// the outcome through Succeeded or Failed on j.
type Operation interface {
	Run(ctx context.Context, j *Job)
}

// Tryer is implemented by operations that can sometimes complete without
// blocking. Try returns false when the job must be run on a worker; when it
// returns true it has taken charge of reporting the outcome.
type Tryer interface {
	Try(ctx context.Context, j *Job) bool
}

// Canceller is implemented by operations that want to be told about
// cancellation in addition to the context being cancelled.
type Canceller interface {
	Cancelled(j *Job)
}

// ReplyFunc delivers the outcome of j. It runs once per job and is
// responsible for eventually calling j.EmitFinished.
type ReplyFunc func(j *Job)

type Job struct {
	// Kind names the operation for logs and metrics.
	Kind string

	// Serial and Sender identify the bus call that created the job, if any.
	Serial uint32
	Sender string

	op      Operation
	reply   ReplyFunc
	created time.Time

	ctx    context.Context
	cancel context.CancelFunc

	cancelled atomic.Bool

	mu           sync.Mutex
	state        State
	replied      bool
	err          error
	onFinished   []func(*Job)
	onNewSources []func(Source)
}

// New returns a queued job. reply is called with the job once an outcome is
// known.
func New(ctx context.Context, kind string, op Operation, reply ReplyFunc) *Job {
	j := &Job{
		Kind:    kind,
		op:      op,
		reply:   reply,
		created: time.Now(),
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	return j
}

func (j *Job) String() string {
	if j.Serial != 0 {
		return fmt.Sprintf("%s job (serial %d from %s)", j.Kind, j.Serial, j.Sender)
	}
	return j.Kind + " job"
}

func (j *Job) Operation() Operation {
	return j.op
}

func (j *Job) Context() context.Context {
	return j.ctx
}

// Created is when the job was built.
func (j *Job) Created() time.Time {
	return j.created
}

func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err is the reported failure, nil on success or before an outcome exists.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// HasReplied reports whether an outcome was recorded.
func (j *Job) HasReplied() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.replied
}

func (j *Job) IsCancelled() bool {
	return j.cancelled.Load()
}

// start moves a queued job to running. It returns false for jobs that
// already left the queue.
func (j *Job) start() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != Queued {
		return false
	}
	j.state = Running
	return true
}

// Try gives the operation a chance to complete on the calling goroutine.
// It returns true when the job needs no worker.
func (j *Job) Try() bool {
	t, ok := j.op.(Tryer)
	if !ok {
		return false
	}

	j.mu.Lock()
	queued := j.state == Queued
	j.mu.Unlock()
	if !queued {
		return true
	}

	if !t.Try(j.ctx, j) {
		return false
	}
	j.start()
	return true
}

// Run executes the operation. A job cancelled before a worker picked it up
// fails with the cancellation error without running.
func (j *Job) Run() {
	if !j.start() {
		return
	}
	if j.HasReplied() {
		return
	}
	if j.IsCancelled() {
		j.Failed(protocol.ErrCancelled)
		return
	}
	j.op.Run(j.ctx, j)
}

// Execute makes a job a worker pool task.
func (j *Job) Execute() {
	j.Run()
}

// Cancel asks the job to stop. Cancellation is cooperative: the operation
// sees it through its context or IsCancelled and may still complete
// normally.
func (j *Job) Cancel() {
	if j.State() == Finished {
		return
	}
	if j.cancelled.Swap(true) {
		return
	}
	j.cancel()
	if c, ok := j.op.(Canceller); ok {
		c.Cancelled(j)
	}
}

// Succeeded records a successful outcome and sends the reply.
func (j *Job) Succeeded() {
	j.setOutcome(nil)
}

// Failed records err as the outcome and sends the reply.
func (j *Job) Failed(err error) {
	if err == nil {
		err = fmt.Errorf("%s failed without an error", j.Kind)
	}
	j.setOutcome(err)
}

func (j *Job) setOutcome(err error) {
	j.mu.Lock()
	if j.replied {
		j.mu.Unlock()
		logger.Warnf("%v: ignoring second outcome (%v)", j, err)
		return
	}
	j.replied = true
	j.err = err
	j.mu.Unlock()

	if j.reply != nil {
		j.reply(j)
	}
}

// OnFinished registers fn to run after EmitFinished.
func (j *Job) OnFinished(fn func(*Job)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onFinished = append(j.onFinished, fn)
}

// OnNewSource registers fn to be told about job sources the job creates,
// such as the channel of an open.
func (j *Job) OnNewSource(fn func(Source)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onNewSources = append(j.onNewSources, fn)
}

// EmitNewSource hands src to the OnNewSource listeners.
func (j *Job) EmitNewSource(src Source) {
	j.mu.Lock()
	fns := append([]func(Source){}, j.onNewSources...)
	j.mu.Unlock()

	for _, fn := range fns {
		fn(src)
	}
}

// EmitFinished marks the job finished and runs the OnFinished listeners.
// Calling it twice is a programming error and panics.
func (j *Job) EmitFinished() {
	j.mu.Lock()
	if j.state == Finished {
		j.mu.Unlock()
		panic(fmt.Sprintf("%v: finished emitted twice", j))
	}
	j.state = Finished
	fns := append([]func(*Job){}, j.onFinished...)
	j.mu.Unlock()

	j.cancel()
	for _, fn := range fns {
		fn(j)
	}
}
