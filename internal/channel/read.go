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

package channel

import (
	"io"

	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/gvfs-go/gvfsd/metrics"
)

const maxReadSize = 128 * 1024

// readAheadSize is the smallest speculative read.
const readAheadSize = 8 * 1024

// readSize bounds a client READ by maxReadSize. The client's count is an
// upper bound on the reply body.
func readSize(requested uint32) uint32 {
	return min(requested, maxReadSize)
}

// readAheadSizeLocked grows the read-ahead size with the number of
// consecutive reads, from 4k up to maxReadSize, never below readAheadSize.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) readAheadSizeLocked() uint32 {
	var size uint32
	switch {
	case c.readCount <= 1:
		size = 4 * 1024
	case c.readCount <= 2:
		size = 8 * 1024
	case c.readCount <= 3:
		size = 16 * 1024
	case c.readCount <= 4:
		size = 32 * 1024
	case c.readCount <= 5:
		size = 64 * 1024
	default:
		size = maxReadSize
	}
	return max(size, readAheadSize)
}

func whence(cmd protocol.Command) int {
	switch cmd {
	case protocol.CommandSeekCur:
		return io.SeekCurrent
	case protocol.CommandSeekEnd:
		return io.SeekEnd
	default:
		return io.SeekStart
	}
}

// decodeReadLocked builds the job for a request on a read channel.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) decodeReadLocked(r *request) (*job.Job, error) {
	h := r.header
	switch h.Command {
	case protocol.CommandRead:
		c.readCount++
		op := &readOp{handle: c.handle, size: readSize(h.Arg1), generation: c.seekGeneration}
		return c.newJob(metrics.JobKindRead, h.SeqNr, op), nil

	case protocol.CommandSeekCur, protocol.CommandSeekSet, protocol.CommandSeekEnd:
		c.seekGeneration++
		c.readCount = 0
		op := &seekOp{handle: c.handle, offset: h.Offset(), whence: whence(h.Command)}
		return c.newJob(metrics.JobKindSeek, h.SeqNr, op), nil

	case protocol.CommandClose:
		return c.newJob(metrics.JobKindClose, h.SeqNr, &closeOp{handle: c.handle}), nil

	case protocol.CommandQueryInfo:
		op := &queryInfoOp{handle: c.handle, attributes: string(r.data)}
		return c.newJob(metrics.JobKindChannelQueryInfo, h.SeqNr, op), nil
	}

	return nil, protocol.NewError(protocol.CodeNotSupported, "Unknown stream command %d", uint32(h.Command))
}

// readAheadLocked issues a speculative read after prev returned data, within
// the shared read-ahead budget. Read-ahead uses sequence number 0, so any
// CANCEL may drop it while queued.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) readAheadLocked(prev *job.Job) *job.Job {
	if c.kind != Read || c.readAhead == nil || c.handle == nil || c.currentJob != nil {
		return nil
	}
	op, ok := prev.Operation().(*readOp)
	if !ok || prev.Err() != nil || len(op.data) == 0 {
		return nil
	}

	c.readCount++
	size := c.readAheadSizeLocked()
	if !c.readAhead.TryAcquire(int64(size)) {
		logger.Tracef("%v: read-ahead budget exhausted", c)
		return nil
	}

	j := c.newJob(metrics.JobKindRead, 0, &readOp{handle: c.handle, size: size, generation: c.seekGeneration})
	j.OnFinished(func(*job.Job) { c.readAhead.Release(int64(size)) })
	c.currentJob = j
	c.currentSeq = 0
	c.metrics.ReadAheadCount(1)
	return j
}
