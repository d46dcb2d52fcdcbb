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

package workerpool

import (
	"fmt"
	"sync"

	"github.com/gvfs-go/gvfsd/common"
	"github.com/gvfs-go/gvfsd/internal/logger"
)

// staticWorkerPool runs tasks on at most maxWorkers goroutines. Tasks wait in
// two FIFO lanes; the urgent lane is always drained first.
type staticWorkerPool struct {
	mu   sync.Mutex
	cond *sync.Cond

	// GUARDED_BY(mu)
	urgent *common.Queue[Task]
	normal *common.Queue[Task]

	// GUARDED_BY(mu)
	maxWorkers uint32
	running    uint32
	started    bool
	stopped    bool

	wg sync.WaitGroup
}

// NewStaticWorkerPool creates a pool that runs at most maxWorkers tasks at a
// time. The pool does nothing until Start is called.
func NewStaticWorkerPool(maxWorkers uint32) (*staticWorkerPool, error) {
	if maxWorkers == 0 {
		return nil, fmt.Errorf("worker pool needs at least one worker")
	}

	p := &staticWorkerPool{
		urgent:     common.NewQueue[Task](),
		normal:     common.NewQueue[Task](),
		maxWorkers: maxWorkers,
	}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

func (p *staticWorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.spawnLocked()
}

// LOCKS_REQUIRED(p.mu)
func (p *staticWorkerPool) spawnLocked() {
	for p.running < p.maxWorkers {
		p.running++
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *staticWorkerPool) SetMaxWorkers(n uint32) error {
	if n == 0 {
		return fmt.Errorf("worker pool needs at least one worker")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxWorkers = n
	if p.started && !p.stopped {
		p.spawnLocked()
	}
	// Surplus workers notice the new limit when they wake.
	p.cond.Broadcast()
	return nil
}

func (p *staticWorkerPool) Schedule(urgent bool, task Task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		logger.Warnf("Worker pool is stopped, dropping task")
		return
	}
	if urgent {
		p.urgent.Push(task)
	} else {
		p.normal.Push(task)
	}
	p.cond.Signal()
}

func (p *staticWorkerPool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *staticWorkerPool) worker() {
	defer p.wg.Done()
	for {
		task := p.next()
		if task == nil {
			return
		}
		task.Execute()
	}
}

// next blocks until a task is available. It returns nil when this worker
// should exit, either because the pool is stopped and drained or because the
// pool shrank.
func (p *staticWorkerPool) next() Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.running > p.maxWorkers {
			p.running--
			return nil
		}
		if !p.urgent.IsEmpty() {
			return p.urgent.Pop()
		}
		if !p.normal.IsEmpty() {
			return p.normal.Pop()
		}
		if p.stopped {
			p.running--
			return nil
		}
		p.cond.Wait()
	}
}

// Pending returns the number of queued tasks not yet picked by a worker.
func (p *staticWorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.urgent.Len() + p.normal.Len()
}
