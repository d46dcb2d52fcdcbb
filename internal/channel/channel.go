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

// Package channel implements the data channel between one open file and its
// client: a socket pair carrying framed requests and replies, with at most one
// job running per channel.
//
// Requests are read by a dedicated goroutine so that CANCEL frames are seen
// while a job runs. Replies are written in FIFO order by a second goroutine,
// which also advances the queue once a reply is out.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/gvfs-go/gvfsd/common"
	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/gvfs-go/gvfsd/metrics"
	"github.com/jacobsa/syncutil"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// Kind selects the request set a channel understands.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "write"
	}
	return "read"
}

type Config struct {
	Kind    Kind
	Backend backend.Backend

	// Handle is the open file the channel serves. It is released by the
	// close job.
	Handle backend.Handle

	// Sink runs the jobs of the channel and is told when it closes.
	Sink job.Sink

	// ReadAhead bounds the bytes in flight for speculative reads across
	// channels. Nil disables read-ahead.
	ReadAhead *semaphore.Weighted

	Metrics metrics.MetricHandle
}

type request struct {
	header    protocol.RequestHeader
	data      []byte
	cancelled bool

	// Set when the frame could not be taken in; the request is answered
	// with this error.
	err error
}

type outgoing struct {
	job    *job.Job
	header protocol.ReplyHeader
	body   []byte
}

type Channel struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	kind      Kind
	backend   backend.Backend
	sink      job.Sink
	readAhead *semaphore.Weighted
	metrics   metrics.MetricHandle
	conn      net.Conn

	remoteMu sync.Mutex
	remoteFD int

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu syncutil.InvariantMutex

	// The open file. Nil once the close job has finished.
	//
	// GUARDED_BY(mu)
	handle backend.Handle

	// The job whose reply has not been written yet, and the sequence number
	// of the request it serves.
	//
	// INVARIANT: currentJob == nil implies currentSeq == 0
	//
	// GUARDED_BY(mu)
	currentJob *job.Job
	currentSeq uint32

	// GUARDED_BY(mu)
	queue *common.Queue[*request]

	// Set once the client side is gone.
	//
	// GUARDED_BY(mu)
	connectionClosed bool

	// GUARDED_BY(mu)
	sourceClosed bool

	// Bumped on every seek so the client can drop stale read-ahead data.
	//
	// GUARDED_BY(mu)
	seekGeneration uint32

	// Consecutive reads since the last seek; drives the read size.
	//
	// GUARDED_BY(mu)
	readCount uint32

	outMu  sync.Mutex
	outbox *common.Queue[*outgoing]
	wake   chan struct{}
	done   chan struct{}

	startOnce sync.Once
}

// New creates the socket pair of a channel. The remote end is kept until
// StealRemoteFD hands it out; Start begins serving the local end.
func New(c Config) (*Channel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}

	f := os.NewFile(uintptr(fds[0]), "gvfs-channel")
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		unix.Close(fds[1])
		return nil, fmt.Errorf("wrapping channel socket: %w", err)
	}

	m := c.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	ch := &Channel{
		kind:      c.Kind,
		backend:   c.Backend,
		sink:      c.Sink,
		readAhead: c.ReadAhead,
		metrics:   m,
		conn:      conn,
		remoteFD:  fds[1],
		handle:    c.Handle,
		queue:     common.NewQueue[*request](),
		outbox:    common.NewQueue[*outgoing](),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	ch.mu = syncutil.NewInvariantMutex(ch.checkInvariants)
	m.ActiveChannels(1)
	return ch, nil
}

func (c *Channel) checkInvariants() {
	if c.currentJob == nil && c.currentSeq != 0 {
		panic(fmt.Sprintf("no current job but current sequence number %d", c.currentSeq))
	}
	if c.sourceClosed && c.handle != nil {
		panic("channel closed with a backend handle")
	}
}

func (c *Channel) String() string {
	return fmt.Sprintf("%s channel of %v", c.kind, c.backend)
}

func (c *Channel) Kind() Kind {
	return c.kind
}

func (c *Channel) Backend() backend.Backend {
	return c.backend
}

// StealRemoteFD hands the client end of the socket pair to the caller, who
// owns it from then on. Later calls return -1.
func (c *Channel) StealRemoteFD() int {
	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()
	fd := c.remoteFD
	c.remoteFD = -1
	return fd
}

// Start begins reading requests and writing replies.
func (c *Channel) Start() {
	c.startOnce.Do(func() {
		go c.writeLoop()
		go c.readLoop()
	})
}

// BackendHandle returns the open file, or nil once closed.
func (c *Channel) BackendHandle() backend.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

////////////////////////////////////////////////////////////////////////
// Requests
////////////////////////////////////////////////////////////////////////

func (c *Channel) readLoop() {
	for {
		h, data, err := protocol.ReadRequest(c.conn)
		if errors.Is(err, protocol.ErrPayloadTooLarge) {
			logger.Warnf("%v: request %d: %v", c, h.SeqNr, err)
			c.gotRequest(h, nil, protocol.NewError(protocol.CodeInvalidArgument, "Request payload of %d bytes is too large", h.DataLen))
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debugf("%v: reading request: %v", c, err)
			}
			c.connectionClosedEvent()
			return
		}
		c.gotRequest(h, data, nil)
	}
}

// gotRequest takes in one frame. A non-nil reqErr is the reply of a frame
// that could not be read whole.
func (c *Channel) gotRequest(h protocol.RequestHeader, data []byte, reqErr error) {
	c.mu.Lock()

	if h.Command == protocol.CommandCancel {
		toCancel := c.cancelLocked(h.Arg1)
		c.mu.Unlock()
		if toCancel != nil {
			toCancel.Cancel()
		}
		return
	}

	c.queue.Push(&request{header: h, data: data, err: reqErr})
	next := c.dispatchLocked()
	c.mu.Unlock()

	c.submit(next)
}

// cancelLocked handles a CANCEL for seqNr. A running target is returned so
// that it can be cancelled outside the lock. Otherwise queued read-ahead and
// the target itself are marked; they reply Cancelled when dequeued.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) cancelLocked(seqNr uint32) *job.Job {
	if c.currentJob != nil && c.currentSeq == seqNr {
		c.metrics.CancellationsCount(1, metrics.CancelTargetRunning)
		return c.currentJob
	}

	c.queue.Range(func(r *request) bool {
		if r.header.SeqNr == 0 {
			r.cancelled = true
		}
		if r.header.SeqNr == seqNr {
			r.cancelled = true
			c.metrics.CancellationsCount(1, metrics.CancelTargetQueued)
			return false
		}
		return true
	})
	return nil
}

// dispatchLocked turns the head of the queue into the current job when the
// channel is idle. The returned job, if any, must be submitted to the sink
// after unlocking.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) dispatchLocked() *job.Job {
	if c.currentJob != nil || c.connectionClosed || c.sourceClosed {
		return nil
	}
	if c.queue.IsEmpty() {
		return nil
	}

	r := c.queue.Pop()

	var j *job.Job
	var err error
	switch {
	case c.backend.BackendBase().IsBlocked():
		err = protocol.NewError(protocol.CodeClosed, "Channel blocked")
	case r.err != nil:
		err = r.err
		if r.cancelled {
			err = protocol.ErrCancelled
		}
	default:
		// Decoding runs even for cancelled requests so that seek
		// bookkeeping stays in step with the client.
		j, err = c.decodeLocked(r)
		if err == nil && r.cancelled {
			j = nil
			err = protocol.ErrCancelled
		}
	}
	if j == nil {
		j = c.newJob(metrics.JobKindError, r.header.SeqNr, &errorOp{err: err})
	}

	c.currentJob = j
	c.currentSeq = r.header.SeqNr
	return j
}

func (c *Channel) decodeLocked(r *request) (*job.Job, error) {
	if c.kind == Write {
		return c.decodeWriteLocked(r)
	}
	return c.decodeReadLocked(r)
}

func (c *Channel) newJob(kind string, seqNr uint32, op channelOp) *job.Job {
	op.base().init(c, seqNr)
	return job.New(context.Background(), kind, op, c.sendJobReply)
}

func (c *Channel) submit(j *job.Job) {
	if j != nil {
		c.sink.NewJob(j)
	}
}

////////////////////////////////////////////////////////////////////////
// Replies
////////////////////////////////////////////////////////////////////////

// sendJobReply is the reply function of every channel job. It may run on any
// goroutine.
func (c *Channel) sendJobReply(j *job.Job) {
	op := j.Operation().(channelOp)
	seq := op.base().seq

	out := &outgoing{job: j}
	if err := j.Err(); err != nil {
		perr := protocol.ToError(err)
		out.body = perr.EncodeErrorPayload()
		out.header = protocol.ReplyHeader{
			Type:  protocol.ReplyError,
			SeqNr: seq,
			Arg1:  uint32(perr.Code),
			Arg2:  uint32(len(out.body)),
		}
	} else {
		out.header, out.body = op.reply()
		out.header.SeqNr = seq
	}
	c.enqueueReply(out)
}

func (c *Channel) enqueueReply(out *outgoing) {
	c.outMu.Lock()
	c.outbox.Push(out)
	c.outMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) writeLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}

		for {
			c.outMu.Lock()
			out := c.outbox.Pop()
			c.outMu.Unlock()
			if out == nil {
				break
			}
			c.writeReply(out)
			c.replySent(out.job)
		}
	}
}

// writeReply writes the header and then the body. A failed write abandons
// the rest of the reply; the client is gone and the read loop will notice.
func (c *Channel) writeReply(out *outgoing) {
	c.metrics.RepliesCount(1, out.header.Type.String())
	if _, err := c.conn.Write(out.header.Encode()); err != nil {
		logger.Debugf("%v: writing reply header: %v", c, err)
		return
	}
	if len(out.body) == 0 {
		return
	}
	if _, err := c.conn.Write(out.body); err != nil {
		logger.Debugf("%v: writing reply body: %v", c, err)
	}
}

// replySent runs once the reply of j is out. It finishes j and starts
// whatever comes next: the source close, the synthetic close job, the next
// queued request or a read-ahead.
func (c *Channel) replySent(j *job.Job) {
	j.EmitFinished()

	op := j.Operation().(channelOp)

	c.mu.Lock()
	if c.currentJob == j {
		c.currentJob = nil
		c.currentSeq = 0
	}

	if _, isClose := op.(*closeOp); isClose {
		c.handle = nil
		closed := c.closeSourceLocked()
		c.mu.Unlock()
		if closed {
			c.sink.SourceClosed(c)
		}
		return
	}

	var next *job.Job
	var closed bool
	if c.connectionClosed {
		next, closed = c.closeJobLocked()
	} else {
		next = c.dispatchLocked()
		if next == nil && c.queue.IsEmpty() {
			next = c.readAheadLocked(j)
		}
	}
	c.mu.Unlock()

	c.afterUnlock(next, closed)
}

// closeJobLocked makes the synthetic close job current. When there is no
// handle left to release it closes the source instead and reports true; the
// caller must then tell the sink after unlocking.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) closeJobLocked() (*job.Job, bool) {
	if c.currentJob != nil || c.sourceClosed {
		return nil, false
	}
	if c.handle == nil {
		return nil, c.closeSourceLocked()
	}

	j := c.newJob(metrics.JobKindClose, 0, &closeOp{handle: c.handle, write: c.kind == Write})
	c.currentJob = j
	c.currentSeq = 0
	return j, false
}

// afterUnlock submits next and reports a closed source.
func (c *Channel) afterUnlock(next *job.Job, closed bool) {
	if closed {
		c.sink.SourceClosed(c)
	}
	c.submit(next)
}

// closeSourceLocked shuts the socket and drops pending requests. It returns
// true the first time, when the caller must tell the sink.
//
// LOCKS_REQUIRED(c.mu)
func (c *Channel) closeSourceLocked() bool {
	if c.sourceClosed {
		return false
	}
	c.sourceClosed = true
	c.connectionClosed = true
	for !c.queue.IsEmpty() {
		c.queue.Pop()
	}
	c.conn.Close()
	close(c.done)
	c.metrics.ActiveChannels(-1)
	return true
}

func (c *Channel) connectionClosedEvent() {
	c.mu.Lock()
	if c.connectionClosed {
		c.mu.Unlock()
		return
	}
	c.connectionClosed = true

	next, closed := c.closeJobLocked()
	c.mu.Unlock()

	c.afterUnlock(next, closed)
}

// ForceClose tears the channel down, as on unmount. Queued requests are
// dropped and the running job, if any, is cancelled. The backend handle is
// still released through the close job.
func (c *Channel) ForceClose() {
	c.mu.Lock()
	c.connectionClosed = true
	for !c.queue.IsEmpty() {
		c.queue.Pop()
	}
	running := c.currentJob
	next, closed := c.closeJobLocked()
	c.mu.Unlock()

	c.conn.Close()
	if running != nil {
		running.Cancel()
	}
	c.afterUnlock(next, closed)
}
