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
	"context"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/protocol"
)

// channelOp is the operation of a job created by a channel. reply builds the
// success reply; failures are turned into ERROR replies by the channel.
type channelOp interface {
	job.Operation
	base() *opBase
	reply() (protocol.ReplyHeader, []byte)
}

type opBase struct {
	c   *Channel
	seq uint32
}

func (b *opBase) base() *opBase { return b }

func (b *opBase) init(c *Channel, seq uint32) {
	b.c = c
	b.seq = seq
}

// errorOp answers a request that could not be turned into a real job.
type errorOp struct {
	opBase
	err error
}

func (o *errorOp) Try(ctx context.Context, j *job.Job) bool {
	j.Failed(o.err)
	return true
}

func (o *errorOp) Run(ctx context.Context, j *job.Job) {
	j.Failed(o.err)
}

func (o *errorOp) reply() (protocol.ReplyHeader, []byte) {
	return protocol.ReplyHeader{Type: protocol.ReplyError}, nil
}

type readOp struct {
	opBase
	handle     backend.Handle
	size       uint32
	generation uint32
	data       []byte
}

func (o *readOp) Try(ctx context.Context, j *job.Job) bool {
	tr, ok := o.c.backend.(backend.TryReader)
	if !ok {
		return false
	}
	buf := make([]byte, o.size)
	n, ok, err := tr.TryRead(o.handle, buf)
	if !ok {
		return false
	}
	o.finish(j, buf, n, err)
	return true
}

func (o *readOp) Run(ctx context.Context, j *job.Job) {
	r, ok := o.c.backend.(backend.Reader)
	if !ok {
		j.Failed(protocol.ErrNotSupported)
		return
	}
	buf := make([]byte, o.size)
	n, err := r.Read(ctx, o.handle, buf)
	o.finish(j, buf, n, err)
}

func (o *readOp) finish(j *job.Job, buf []byte, n int, err error) {
	if err != nil {
		j.Failed(err)
		return
	}
	o.data = buf[:max(0, min(n, len(buf)))]
	j.Succeeded()
}

func (o *readOp) reply() (protocol.ReplyHeader, []byte) {
	return protocol.ReplyHeader{
		Type: protocol.ReplyData,
		Arg1: uint32(len(o.data)),
		Arg2: o.generation,
	}, o.data
}

type seekOp struct {
	opBase
	handle backend.Handle
	offset int64
	whence int
	write  bool
	pos    int64
}

func (o *seekOp) Run(ctx context.Context, j *job.Job) {
	var pos int64
	var err error
	if o.write {
		s, ok := o.c.backend.(backend.WriteSeeker)
		if !ok {
			j.Failed(protocol.ErrNotSupported)
			return
		}
		pos, err = s.SeekOnWrite(ctx, o.handle, o.offset, o.whence)
	} else {
		s, ok := o.c.backend.(backend.ReadSeeker)
		if !ok {
			j.Failed(protocol.ErrNotSupported)
			return
		}
		pos, err = s.SeekOnRead(ctx, o.handle, o.offset, o.whence)
	}
	if err != nil {
		j.Failed(err)
		return
	}
	o.pos = pos
	j.Succeeded()
}

func (o *seekOp) reply() (protocol.ReplyHeader, []byte) {
	low, high := protocol.SplitOffset(o.pos)
	return protocol.ReplyHeader{Type: protocol.ReplySeekPos, Arg1: low, Arg2: high}, nil
}

// closeOp releases the backend handle. Backends without a close capability
// have nothing to release.
type closeOp struct {
	opBase
	handle backend.Handle
	write  bool
	etag   string
}

func (o *closeOp) Run(ctx context.Context, j *job.Job) {
	var err error
	if o.write {
		if cl, ok := o.c.backend.(backend.WriteCloser); ok {
			o.etag, err = cl.CloseWrite(ctx, o.handle)
		}
	} else {
		if cl, ok := o.c.backend.(backend.ReadCloser); ok {
			err = cl.CloseRead(ctx, o.handle)
		}
	}
	if err != nil {
		j.Failed(err)
		return
	}
	j.Succeeded()
}

func (o *closeOp) reply() (protocol.ReplyHeader, []byte) {
	if o.etag == "" {
		return protocol.ReplyHeader{Type: protocol.ReplyClosed}, nil
	}
	return protocol.ReplyHeader{Type: protocol.ReplyClosed, Arg2: uint32(len(o.etag))}, []byte(o.etag)
}

type queryInfoOp struct {
	opBase
	handle     backend.Handle
	attributes string
	write      bool
	info       *fileinfo.FileInfo
}

func (o *queryInfoOp) Run(ctx context.Context, j *job.Job) {
	matcher := fileinfo.ParseMatcher(o.attributes)

	var info *fileinfo.FileInfo
	var err error
	if o.write {
		q, ok := o.c.backend.(backend.WriteInfoQuerier)
		if !ok {
			j.Failed(protocol.ErrNotSupported)
			return
		}
		info, err = q.QueryInfoOnWrite(ctx, o.handle, matcher)
	} else {
		q, ok := o.c.backend.(backend.ReadInfoQuerier)
		if !ok {
			j.Failed(protocol.ErrNotSupported)
			return
		}
		info, err = q.QueryInfoOnRead(ctx, o.handle, matcher)
	}
	if err != nil {
		j.Failed(err)
		return
	}
	o.info = info
	j.Succeeded()
}

func (o *queryInfoOp) reply() (protocol.ReplyHeader, []byte) {
	blob := fileinfo.Marshal(o.info)
	return protocol.ReplyHeader{Type: protocol.ReplyInfo, Arg2: uint32(len(blob))}, blob
}

type writeOp struct {
	opBase
	handle  backend.Handle
	data    []byte
	written int
}

func (o *writeOp) Run(ctx context.Context, j *job.Job) {
	w, ok := o.c.backend.(backend.Writer)
	if !ok {
		j.Failed(protocol.ErrNotSupported)
		return
	}
	n, err := w.Write(ctx, o.handle, o.data)
	if err != nil {
		j.Failed(err)
		return
	}
	o.written = n
	j.Succeeded()
}

func (o *writeOp) reply() (protocol.ReplyHeader, []byte) {
	return protocol.ReplyHeader{Type: protocol.ReplyWritten, Arg1: uint32(o.written)}, nil
}

type truncateOp struct {
	opBase
	handle backend.Handle
	size   int64
}

func (o *truncateOp) Run(ctx context.Context, j *job.Job) {
	t, ok := o.c.backend.(backend.Truncater)
	if !ok {
		j.Failed(protocol.ErrNotSupported)
		return
	}
	if err := t.Truncate(ctx, o.handle, o.size); err != nil {
		j.Failed(err)
		return
	}
	j.Succeeded()
}

func (o *truncateOp) reply() (protocol.ReplyHeader, []byte) {
	return protocol.ReplyHeader{Type: protocol.ReplyTruncated}, nil
}
