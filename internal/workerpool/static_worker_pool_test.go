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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcTask func()

func (f funcTask) Execute() { f() }

type dummyTask struct {
	executed atomic.Bool
}

func (d *dummyTask) Execute() {
	d.executed.Store(true)
}

// blockingTasks returns n tasks that block until release is closed, along
// with a counter of tasks currently inside Execute.
func blockingTasks(n int, release <-chan struct{}) ([]Task, *atomic.Int32, *atomic.Int32) {
	var active, peak atomic.Int32
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = funcTask(func() {
			cur := active.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			<-release
			active.Add(-1)
		})
	}
	return tasks, &active, &peak
}

func TestNewStaticWorkerPool_Failure(t *testing.T) {
	pool, err := NewStaticWorkerPool(0)

	assert.Error(t, err)
	assert.Nil(t, pool)
}

func TestStaticWorkerPool_ScheduleTask(t *testing.T) {
	for _, urgent := range []bool{true, false} {
		pool, err := NewStaticWorkerPool(2)
		require.NoError(t, err)
		pool.Start()

		dt := &dummyTask{}
		pool.Schedule(urgent, dt)

		assert.Eventually(t, dt.executed.Load, 100*time.Millisecond, time.Millisecond, "Task was not executed in time.")
		pool.Stop()
	}
}

func TestStaticWorkerPool_TasksWaitForStart(t *testing.T) {
	pool, err := NewStaticWorkerPool(1)
	require.NoError(t, err)
	dt := &dummyTask{}

	pool.Schedule(false, dt)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, dt.executed.Load())
	assert.Equal(t, 1, pool.Pending())

	pool.Start()
	defer pool.Stop()
	assert.Eventually(t, dt.executed.Load, 100*time.Millisecond, time.Millisecond)
}

func TestStaticWorkerPool_RespectsMaxWorkers(t *testing.T) {
	pool, err := NewStaticWorkerPool(3)
	require.NoError(t, err)
	pool.Start()
	release := make(chan struct{})
	tasks, active, peak := blockingTasks(10, release)

	for _, task := range tasks {
		pool.Schedule(false, task)
	}

	assert.Eventually(t, func() bool { return active.Load() == 3 }, 100*time.Millisecond, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, 7, pool.Pending())
	close(release)
	pool.Stop()
	assert.Equal(t, 0, pool.Pending())
}

func TestStaticWorkerPool_UrgentFirst(t *testing.T) {
	pool, err := NewStaticWorkerPool(1)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()
	release := make(chan struct{})
	blockers, active, _ := blockingTasks(1, release)
	var mu sync.Mutex
	var order []string
	record := func(name string) Task {
		return funcTask(func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		})
	}

	pool.Schedule(false, blockers[0])
	require.Eventually(t, func() bool { return active.Load() == 1 }, 100*time.Millisecond, time.Millisecond)
	pool.Schedule(false, record("normal-1"))
	pool.Schedule(true, record("urgent"))
	pool.Schedule(false, record("normal-2"))
	close(release)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 100*time.Millisecond, time.Millisecond)
	assert.Equal(t, []string{"urgent", "normal-1", "normal-2"}, order)
}

func TestStaticWorkerPool_SetMaxWorkers(t *testing.T) {
	pool, err := NewStaticWorkerPool(1)
	require.NoError(t, err)
	pool.Start()
	release := make(chan struct{})
	tasks, active, _ := blockingTasks(4, release)
	for _, task := range tasks {
		pool.Schedule(false, task)
	}
	require.Eventually(t, func() bool { return active.Load() == 1 }, 100*time.Millisecond, time.Millisecond)

	require.NoError(t, pool.SetMaxWorkers(4))

	assert.Eventually(t, func() bool { return active.Load() == 4 }, 100*time.Millisecond, time.Millisecond)
	assert.Error(t, pool.SetMaxWorkers(0))
	close(release)
	pool.Stop()
}

func TestStaticWorkerPool_ShrinkLetsRunningTasksFinish(t *testing.T) {
	pool, err := NewStaticWorkerPool(2)
	require.NoError(t, err)
	pool.Start()
	release := make(chan struct{})
	tasks, active, peak := blockingTasks(2, release)
	pool.Schedule(false, tasks[0])
	pool.Schedule(false, tasks[1])
	require.Eventually(t, func() bool { return active.Load() == 2 }, 100*time.Millisecond, time.Millisecond)

	require.NoError(t, pool.SetMaxWorkers(1))
	close(release)
	followUps, followActive, followPeak := blockingTasks(3, closedChan())
	for _, task := range followUps {
		pool.Schedule(false, task)
	}

	pool.Stop()
	assert.Equal(t, int32(0), active.Load())
	assert.Equal(t, int32(2), peak.Load())
	assert.Equal(t, int32(0), followActive.Load())
	assert.Equal(t, int32(1), followPeak.Load())
}

func TestStaticWorkerPool_StopDrainsQueue(t *testing.T) {
	pool, err := NewStaticWorkerPool(2)
	require.NoError(t, err)
	pool.Start()
	var count atomic.Int32
	for range 100 {
		pool.Schedule(false, funcTask(func() { count.Add(1) }))
	}

	pool.Stop()

	assert.Equal(t, int32(100), count.Load())
}

func TestStaticWorkerPool_ScheduleAfterStopIsDropped(t *testing.T) {
	pool, err := NewStaticWorkerPool(2)
	require.NoError(t, err)
	pool.Start()
	pool.Stop()
	dt := &dummyTask{}

	pool.Schedule(true, dt)

	time.Sleep(10 * time.Millisecond)
	assert.False(t, dt.executed.Load())
	assert.Equal(t, 0, pool.Pending())
}

func closedChan() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
