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
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/gvfs-go/gvfsd/metrics"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

const replyTimeout = 5 * time.Second

////////////////////////////////////////////////////////////////////////
// Fakes
////////////////////////////////////////////////////////////////////////

// fakeReadBackend serves content from memory and records how many reads run
// at once.
type fakeReadBackend struct {
	*backend.Base

	mu       sync.Mutex
	content  []byte
	pos      int64
	closes   int
	readHook func(ctx context.Context)

	running    atomic.Int32
	maxRunning atomic.Int32
}

func newFakeReadBackend(content string) *fakeReadBackend {
	return &fakeReadBackend{Base: backend.NewBase(), content: []byte(content)}
}

func (b *fakeReadBackend) String() string { return "fake read backend" }

func (b *fakeReadBackend) Read(ctx context.Context, h backend.Handle, buf []byte) (int, error) {
	now := b.running.Add(1)
	defer b.running.Add(-1)
	for {
		old := b.maxRunning.Load()
		if now <= old || b.maxRunning.CompareAndSwap(old, now) {
			break
		}
	}

	if b.readHook != nil {
		b.readHook(ctx)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos >= int64(len(b.content)) {
		return 0, nil
	}
	n := copy(buf, b.content[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *fakeReadBackend) SeekOnRead(ctx context.Context, h backend.Handle, offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch whence {
	case io.SeekCurrent:
		offset += b.pos
	case io.SeekEnd:
		offset += int64(len(b.content))
	}
	b.pos = offset
	return offset, nil
}

func (b *fakeReadBackend) CloseRead(ctx context.Context, h backend.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

func (b *fakeReadBackend) QueryInfoOnRead(ctx context.Context, h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	fi := fileinfo.New()
	fi.SetUint64(fileinfo.StandardSize, uint64(len(b.content)))
	fi.SetString(fileinfo.StandardName, "file")
	return matcher.Filter(fi), nil
}

func (b *fakeReadBackend) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// fakeWriteBackend supports writes and truncation but not seeking.
type fakeWriteBackend struct {
	*backend.Base
	mu   sync.Mutex
	data bytes.Buffer
}

func (b *fakeWriteBackend) String() string { return "fake write backend" }

func (b *fakeWriteBackend) Write(ctx context.Context, h backend.Handle, data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.data.Write(data)
}

func (b *fakeWriteBackend) Truncate(ctx context.Context, h backend.Handle, size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data.Truncate(int(size))
	return nil
}

func (b *fakeWriteBackend) CloseWrite(ctx context.Context, h backend.Handle) (string, error) {
	return "etag-1", nil
}

func (b *fakeWriteBackend) QueryInfoOnWrite(ctx context.Context, h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fi := fileinfo.New()
	fi.SetUint64(fileinfo.StandardSize, uint64(b.data.Len()))
	return matcher.Filter(fi), nil
}

// testSink runs jobs the way the daemon does: try first, then a goroutine.
type testSink struct {
	closed chan job.Source
}

func newTestSink() *testSink {
	return &testSink{closed: make(chan job.Source, 1)}
}

func (s *testSink) NewJob(j *job.Job) {
	if !j.Try() {
		go j.Run()
	}
}

func (s *testSink) SourceClosed(src job.Source) {
	s.closed <- src
}

func (s *testSink) waitClosed(t *testing.T) job.Source {
	t.Helper()
	select {
	case src := <-s.closed:
		return src
	case <-time.After(replyTimeout):
		require.FailNow(t, "source was not closed")
		return nil
	}
}

type countingMetrics struct {
	metrics.MetricHandle
	cancellations atomic.Int64
	readAheads    atomic.Int64
}

func (m *countingMetrics) CancellationsCount(inc int64, cancelTarget string) {
	m.cancellations.Add(inc)
}

func (m *countingMetrics) ReadAheadCount(inc int64) {
	m.readAheads.Add(inc)
}

// client is the other end of a channel.
type client struct {
	t    *testing.T
	conn net.Conn
	wmu  sync.Mutex
}

func (cl *client) send(h protocol.RequestHeader, payload []byte) error {
	cl.wmu.Lock()
	defer cl.wmu.Unlock()
	return protocol.WriteRequest(cl.conn, h, payload)
}

func (cl *client) mustSend(h protocol.RequestHeader, payload []byte) {
	cl.t.Helper()
	require.NoError(cl.t, cl.send(h, payload))
}

func (cl *client) nextReply() (protocol.ReplyHeader, []byte, error) {
	if err := cl.conn.SetReadDeadline(time.Now().Add(replyTimeout)); err != nil {
		return protocol.ReplyHeader{}, nil, err
	}
	return protocol.ReadReply(cl.conn)
}

func (cl *client) mustReply() (protocol.ReplyHeader, []byte) {
	cl.t.Helper()
	h, body, err := cl.nextReply()
	require.NoError(cl.t, err)
	return h, body
}

// mustReplyFor skips read-ahead replies.
func (cl *client) mustReplyFor(seq uint32) (protocol.ReplyHeader, []byte) {
	cl.t.Helper()
	for {
		h, body := cl.mustReply()
		if h.SeqNr == 0 && seq != 0 {
			continue
		}
		require.Equal(cl.t, seq, h.SeqNr, "reply of type %v", h.Type)
		return h, body
	}
}

type setup struct {
	kind      Kind
	readAhead int64
	metrics   metrics.MetricHandle
}

func newTestChannel(t *testing.T, be backend.Backend, s setup) (*Channel, *testSink, *client) {
	t.Helper()
	sink := newTestSink()
	c := Config{
		Kind:    s.kind,
		Backend: be,
		Handle:  "open file",
		Sink:    sink,
		Metrics: s.metrics,
	}
	if s.readAhead > 0 {
		c.ReadAhead = semaphore.NewWeighted(s.readAhead)
	}
	ch, err := New(c)
	require.NoError(t, err)

	fd := ch.StealRemoteFD()
	require.GreaterOrEqual(t, fd, 0)
	f := os.NewFile(uintptr(fd), "client")
	conn, err := net.FileConn(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	t.Cleanup(func() { conn.Close() })

	ch.Start()
	return ch, sink, &client{t: t, conn: conn}
}

func readReq(seq, count uint32) protocol.RequestHeader {
	return protocol.RequestHeader{Command: protocol.CommandRead, SeqNr: seq, Arg1: count}
}

func cancelReq(target uint32) protocol.RequestHeader {
	return protocol.RequestHeader{Command: protocol.CommandCancel, Arg1: target}
}

func decodeError(t *testing.T, h protocol.ReplyHeader, body []byte) *protocol.Error {
	t.Helper()
	require.Equal(t, protocol.ReplyError, h.Type)
	perr, err := protocol.DecodeErrorPayload(h.Arg1, body)
	require.NoError(t, err)
	return perr
}
