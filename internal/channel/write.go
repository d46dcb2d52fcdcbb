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
	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/gvfs-go/gvfsd/metrics"
)

// decodeWriteLocked builds the job for a request on a write channel.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) decodeWriteLocked(r *request) (*job.Job, error) {
	h := r.header
	switch h.Command {
	case protocol.CommandWrite:
		return c.newJob(metrics.JobKindWrite, h.SeqNr, &writeOp{handle: c.handle, data: r.data}), nil

	case protocol.CommandSeekCur, protocol.CommandSeekSet, protocol.CommandSeekEnd:
		op := &seekOp{handle: c.handle, offset: h.Offset(), whence: whence(h.Command), write: true}
		return c.newJob(metrics.JobKindSeek, h.SeqNr, op), nil

	case protocol.CommandTruncate:
		size := h.Offset()
		if size < 0 {
			return nil, protocol.NewError(protocol.CodeInvalidArgument, "Invalid truncate size %d", size)
		}
		return c.newJob(metrics.JobKindTruncate, h.SeqNr, &truncateOp{handle: c.handle, size: size}), nil

	case protocol.CommandClose:
		return c.newJob(metrics.JobKindClose, h.SeqNr, &closeOp{handle: c.handle, write: true}), nil

	case protocol.CommandQueryInfo:
		op := &queryInfoOp{handle: c.handle, attributes: string(r.data), write: true}
		return c.newJob(metrics.JobKindChannelQueryInfo, h.SeqNr, op), nil
	}

	return nil, protocol.NewError(protocol.CodeNotSupported, "Unknown stream command %d", uint32(h.Command))
}
