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

package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/channel"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/job"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/gvfs-go/gvfsd/metrics"
	"golang.org/x/sys/unix"
)

// MountPathPrefix starts the object path of every mount.
const MountPathPrefix = "/org/gtk/vfs/mount/"

// mount is one backend instance served under an object path. It is a job
// source from the Mount call until it is unmounted or fails to mount.
type mount struct {
	d       *Daemon
	path    string
	backend backend.Backend

	mu sync.Mutex

	// Set once mounted.
	//
	// GUARDED_BY(mu)
	info *mountspec.MountInfo
}

func (m *mount) String() string {
	return fmt.Sprintf("mount %s (%v)", m.path, m.backend)
}

func (m *mount) mountInfo() *mountspec.MountInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.info == nil {
		return nil
	}
	return m.info.Clone()
}

func (m *mount) setInfo(info *mountspec.MountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.info = info
}

// Mount creates a backend for spec, serves it under a fresh object path and
// runs its Mount job. It returns the object path once the job succeeded.
func (d *Daemon) Mount(ctx context.Context, spec *mountspec.MountSpec, automount bool, sender string, serial uint32) (string, error) {
	be, err := d.registry.New(spec.Type())
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.mountCounter++
	m := &mount{
		d:       d,
		path:    fmt.Sprintf("%s%d", MountPathPrefix, d.mountCounter),
		backend: be,
	}
	d.mounts[m.path] = m
	d.mu.Unlock()

	be.BackendBase().SetObjectPath(m.path)
	d.AddJobSource(m)

	j, err := d.call(ctx, sender, serial, metrics.JobKindMount, &mountOp{m: m, spec: spec.Copy(), automount: automount})
	d.finishCall(j)
	if err != nil {
		return "", err
	}
	return m.path, nil
}

// lookupMount returns the mounted mount at path.
func (d *Daemon) lookupMount(path string) (*mount, error) {
	d.mu.RLock()
	m, ok := d.mounts[path]
	d.mu.RUnlock()

	if !ok || m.mountInfo() == nil {
		return nil, protocol.NewError(protocol.CodeNotMounted, "No mount at %s", path)
	}
	return m, nil
}

// Mounts returns the info of every mounted mount.
func (d *Daemon) Mounts() []*mountspec.MountInfo {
	d.mu.RLock()
	mounts := make([]*mount, 0, len(d.mounts))
	for _, m := range d.mounts {
		mounts = append(mounts, m)
	}
	d.mu.RUnlock()

	var infos []*mountspec.MountInfo
	for _, m := range mounts {
		if info := m.mountInfo(); info != nil {
			infos = append(infos, info)
		}
	}
	return infos
}

// dropMount forgets m and reports it closed.
func (d *Daemon) dropMount(m *mount) {
	d.mu.Lock()
	delete(d.mounts, m.path)
	for ch, owner := range d.channels {
		if owner == m {
			delete(d.channels, ch)
		}
	}
	d.mu.Unlock()
	d.SourceClosed(m)
}

// channelsOf returns the open channels of m.
func (d *Daemon) channelsOf(m *mount) []*channel.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*channel.Channel
	for ch, owner := range d.channels {
		if owner == m {
			out = append(out, ch)
		}
	}
	return out
}

// OpenForRead opens path on the mount at mountPath and returns the client
// end of the new channel. The caller owns the returned fd and must call
// finish once the fd has been handed over.
func (d *Daemon) OpenForRead(ctx context.Context, mountPath, path string, sender string, serial uint32) (fd int, canSeek bool, finish func(), err error) {
	m, err := d.lookupMount(mountPath)
	if err != nil {
		return -1, false, func() {}, err
	}
	op := &openForReadOp{m: m, path: path}
	j, err := d.call(ctx, sender, serial, metrics.JobKindOpenForRead, op)
	if err != nil {
		return -1, false, func() { d.finishCall(j) }, err
	}
	return op.open.fd, op.canSeek, op.open.finisher(d, j), nil
}

// OpenForWrite opens req.Path for writing on the mount at mountPath. See
// OpenForRead for the handling of the fd.
func (d *Daemon) OpenForWrite(ctx context.Context, mountPath string, req backend.WriteRequest, sender string, serial uint32) (fd int, canSeek bool, offset int64, finish func(), err error) {
	m, err := d.lookupMount(mountPath)
	if err != nil {
		return -1, false, 0, func() {}, err
	}
	op := &openForWriteOp{m: m, req: req}
	j, err := d.call(ctx, sender, serial, metrics.JobKindOpenForWrite, op)
	if err != nil {
		return -1, false, 0, func() { d.finishCall(j) }, err
	}
	return op.open.fd, op.canSeek, op.offset, op.open.finisher(d, j), nil
}

// QueryInfo returns the serialized info of path on the mount at mountPath.
func (d *Daemon) QueryInfo(ctx context.Context, mountPath, path, attributes string, sender string, serial uint32) ([]byte, error) {
	m, err := d.lookupMount(mountPath)
	if err != nil {
		return nil, err
	}
	op := &queryInfoOp{m: m, path: path, attributes: attributes}
	j, err := d.call(ctx, sender, serial, metrics.JobKindQueryInfo, op)
	defer d.finishCall(j)
	if err != nil {
		return nil, err
	}
	return fileinfo.Marshal(op.info), nil
}

// Unmount blocks new requests on the mount, tears down its channels and
// withdraws it from the mount tracker.
func (d *Daemon) Unmount(ctx context.Context, mountPath string, sender string, serial uint32) error {
	m, err := d.lookupMount(mountPath)
	if err != nil {
		return err
	}
	j, err := d.call(ctx, sender, serial, metrics.JobKindUnmount, &unmountOp{m: m})
	d.finishCall(j)
	return err
}

////////////////////////////////////////////////////////////////////////
// Operations
////////////////////////////////////////////////////////////////////////

type mountOp struct {
	m         *mount
	spec      *mountspec.MountSpec
	automount bool
}

func (o *mountOp) Run(ctx context.Context, j *job.Job) {
	m := o.m
	base := m.backend.BackendBase()

	if mounter, ok := m.backend.(backend.Mounter); ok {
		if err := mounter.Mount(ctx, o.spec, o.automount); err != nil {
			logger.Warnf("Mounting %v failed: %v", o.spec, err)
			m.d.dropMount(m)
			j.Failed(err)
			return
		}
	}
	if base.MountSpec().Type() == "" {
		base.SetMountSpec(o.spec)
	}
	if n := base.MaxThreads(); n > 0 {
		if err := m.d.growThreads(n); err != nil {
			logger.Warnf("%v: growing worker pool: %v", m, err)
		}
	}

	registrar, busID := m.d.currentRegistrar()
	info := base.MountInfo(busID)
	if registrar != nil {
		if err := registrar.RegisterMount(ctx, info); err != nil {
			m.d.dropMount(m)
			j.Failed(err)
			return
		}
	}

	m.setInfo(info)
	logger.Infof("Mounted %v at %s", info.Spec, m.path)
	j.Succeeded()
}

type unmountOp struct {
	m *mount
}

func (o *unmountOp) Run(ctx context.Context, j *job.Job) {
	m := o.m
	base := m.backend.BackendBase()

	base.BlockRequests()
	if u, ok := m.backend.(backend.Unmounter); ok {
		if err := u.Unmount(ctx); err != nil {
			base.UnblockRequests()
			j.Failed(err)
			return
		}
	}

	for _, ch := range m.d.channelsOf(m) {
		ch.ForceClose()
	}

	if registrar, _ := m.d.currentRegistrar(); registrar != nil {
		if err := registrar.UnregisterMount(ctx, m.mountInfo()); err != nil {
			logger.Warnf("Unregistering %s: %v", m.path, err)
		}
	}
	j.Succeeded()

	m.d.dropMount(m)
}

// openedChannel is the part shared by the two open operations.
type openedChannel struct {
	ch *channel.Channel
	fd int
}

func (oc *openedChannel) start(m *mount, kind channel.Kind, h backend.Handle) error {
	ch, err := channel.New(channel.Config{
		Kind:      kind,
		Backend:   m.backend,
		Handle:    h,
		Sink:      m.d,
		ReadAhead: m.d.readAhead,
		Metrics:   m.d.metrics,
	})
	if err != nil {
		return err
	}

	m.d.mu.Lock()
	m.d.channels[ch] = m
	m.d.mu.Unlock()

	oc.ch = ch
	oc.fd = ch.StealRemoteFD()
	return nil
}

func (oc *openedChannel) openedSource() job.Source {
	if oc.ch == nil {
		return nil
	}
	return oc.ch
}

// finisher closes our copy of the client fd and reports the channel.
func (oc *openedChannel) finisher(d *Daemon, j *job.Job) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			unix.Close(oc.fd)
			d.finishCall(j)
		})
	}
}

type openForReadOp struct {
	m       *mount
	path    string
	canSeek bool
	open    openedChannel
}

func (o *openForReadOp) openedSource() job.Source { return o.open.openedSource() }

func (o *openForReadOp) Run(ctx context.Context, j *job.Job) {
	opener, ok := o.m.backend.(backend.ReadOpener)
	if !ok {
		j.Failed(protocol.ErrNotSupported)
		return
	}
	h, canSeek, err := opener.OpenForRead(ctx, o.path)
	if err != nil {
		j.Failed(err)
		return
	}
	if err := o.open.start(o.m, channel.Read, h); err != nil {
		if c, ok := o.m.backend.(backend.ReadCloser); ok {
			c.CloseRead(ctx, h)
		}
		j.Failed(err)
		return
	}
	o.canSeek = canSeek
	j.Succeeded()
}

type openForWriteOp struct {
	m       *mount
	req     backend.WriteRequest
	canSeek bool
	offset  int64
	open    openedChannel
}

func (o *openForWriteOp) openedSource() job.Source { return o.open.openedSource() }

func (o *openForWriteOp) Run(ctx context.Context, j *job.Job) {
	opener, ok := o.m.backend.(backend.WriteOpener)
	if !ok {
		j.Failed(protocol.ErrNotSupported)
		return
	}
	h, canSeek, offset, err := opener.OpenForWrite(ctx, o.req)
	if err != nil {
		j.Failed(err)
		return
	}
	if err := o.open.start(o.m, channel.Write, h); err != nil {
		if c, ok := o.m.backend.(backend.WriteCloser); ok {
			c.CloseWrite(ctx, h)
		}
		j.Failed(err)
		return
	}
	o.canSeek = canSeek
	o.offset = offset
	j.Succeeded()
}

type queryInfoOp struct {
	m          *mount
	path       string
	attributes string
	info       *fileinfo.FileInfo
}

func (o *queryInfoOp) Run(ctx context.Context, j *job.Job) {
	q, ok := o.m.backend.(backend.InfoQuerier)
	if !ok {
		j.Failed(protocol.ErrNotSupported)
		return
	}
	info, err := q.QueryInfo(ctx, o.path, fileinfo.ParseMatcher(o.attributes))
	if err != nil {
		j.Failed(err)
		return
	}
	o.info = info
	j.Succeeded()
}

// writeMode maps the bus mode number of OpenForWrite.
func writeMode(mode uint16) (backend.WriteMode, error) {
	switch mode {
	case 0:
		return backend.WriteCreate, nil
	case 1:
		return backend.WriteAppend, nil
	case 2:
		return backend.WriteReplace, nil
	case 3:
		return backend.WriteEdit, nil
	}
	return 0, protocol.NewError(protocol.CodeInvalidArgument, "Invalid open for write mode %d", mode)
}

// cleanPath turns a NUL terminated bus byte string into a path.
func cleanPath(b []byte) string {
	return strings.TrimSuffix(string(b), "\x00")
}
