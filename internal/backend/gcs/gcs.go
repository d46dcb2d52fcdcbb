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

// Package gcs serves a Cloud Storage bucket as a mount. Objects are read with
// range readers and written with resumable uploads; there is no random write
// access.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/gvfs-go/gvfsd/cfg"
	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/clock"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/gvfs-go/gvfsd/internal/ratelimit"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// Type is the mount spec type served by this package.
	Type = "gcs"

	// BucketKey is the mount spec item naming the bucket.
	BucketKey = "bucket"

	// MaxThreadsKey optionally sets how many jobs the daemon should run at
	// once for this mount.
	MaxThreadsKey = "max-threads"

	// Requests to a bucket are independent, so a gcs mount is served by a
	// few threads unless the mount spec says otherwise.
	defaultMaxThreads = 4

	// throttleWindow bounds how far reads may burst above the configured rate.
	throttleWindow = 100 * time.Millisecond
)

// ClientFunc returns the storage client a backend uses.
type ClientFunc func(ctx context.Context) (*storage.Client, error)

// NewClientFunc builds clients from the gcs section of the config.
func NewClientFunc(c cfg.GcsConfig) ClientFunc {
	return func(ctx context.Context) (*storage.Client, error) {
		var opts []option.ClientOption
		if c.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(c.Endpoint))
		}
		if c.AnonymousAccess {
			opts = append(opts, option.WithoutAuthentication())
		}
		sc, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("go storage client creation failed: %w", err)
		}
		return sc, nil
	}
}

// NewFactory returns a backend.Factory for gcs mounts. readLimit is in bytes
// per second; a negative value disables throttling. Object attributes are
// cached for statTTL.
func NewFactory(clientFn ClientFunc, readLimit float64, statTTL time.Duration) backend.Factory {
	return func() backend.Backend {
		return &Backend{
			Base:      backend.NewBase(),
			clientFn:  clientFn,
			readLimit: readLimit,
			stats:     newStatCache(statTTL, clock.RealClock{}),
		}
	}
}

type Backend struct {
	*backend.Base

	clientFn  ClientFunc
	readLimit float64
	stats     *statCache

	client   *storage.Client
	bucket   *storage.BucketHandle
	name     string
	throttle ratelimit.Throttle
}

var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.Mounter     = (*Backend)(nil)
	_ backend.ReadOpener  = (*Backend)(nil)
	_ backend.WriteOpener = (*Backend)(nil)
	_ backend.InfoQuerier = (*Backend)(nil)
)

func (b *Backend) String() string {
	return "gcs backend for gs://" + b.name
}

func (b *Backend) Mount(ctx context.Context, spec *mountspec.MountSpec, automount bool) error {
	name, ok := spec.Get(BucketKey)
	if !ok || name == "" {
		return protocol.NewError(protocol.CodeInvalidArgument, "No bucket specified")
	}

	maxThreads := uint32(defaultMaxThreads)
	if v, ok := spec.Get(MaxThreadsKey); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return protocol.NewError(protocol.CodeInvalidArgument, "Invalid %s value %q", MaxThreadsKey, v)
		}
		maxThreads = uint32(n)
	}

	client, err := b.clientFn(ctx)
	if err != nil {
		return err
	}
	bucket := client.Bucket(name)
	if _, err := bucket.Attrs(ctx); err != nil {
		client.Close()
		return toError(fmt.Errorf("bucket %s: %w", name, err))
	}

	if b.readLimit >= 0 {
		capacity, err := ratelimit.ChooseLimiterCapacity(b.readLimit, throttleWindow)
		if err != nil {
			client.Close()
			return fmt.Errorf("choosing read throttle capacity: %w", err)
		}
		b.throttle = ratelimit.NewThrottle(b.readLimit, int(capacity))
	}

	b.client = client
	b.bucket = bucket
	b.name = name
	b.SetMountSpec(spec)
	b.SetDisplayName("gs://" + name)
	b.SetStableName(Type + ":" + name)
	b.SetIcon("folder-remote", "folder-remote-symbolic")
	b.SetMaxThreads(maxThreads)
	logger.Infof("Mounted bucket %s", name)
	return nil
}

func (b *Backend) Unmount(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func objectName(p string) string {
	return strings.TrimPrefix(p, "/")
}

// toError maps storage errors to the protocol error space.
func toError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return protocol.NewError(protocol.CodeNotFound, "%v", err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return protocol.NewError(protocol.CodeNotFound, "%v", err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return protocol.NewError(protocol.CodePermissionDenied, "%v", err)
		case http.StatusPreconditionFailed:
			return protocol.NewError(protocol.CodeExists, "%v", err)
		}
	}
	return err
}

func rootInfo(bucket string) *fileinfo.FileInfo {
	fi := fileinfo.New()
	fi.SetByteString(fileinfo.StandardName, "/")
	fi.SetString(fileinfo.StandardDisplayName, bucket)
	fi.SetUint32(fileinfo.StandardType, fileinfo.FileTypeDirectory)
	fi.SetIcon(fileinfo.StandardIcon, "folder-remote")
	fi.SetBool(fileinfo.AccessCanRead, true)
	return fi
}

func objectInfo(attrs *storage.ObjectAttrs) *fileinfo.FileInfo {
	name := attrs.Name
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	fi := fileinfo.New()
	fi.SetByteString(fileinfo.StandardName, name)
	fi.SetString(fileinfo.StandardDisplayName, name)
	fi.SetUint32(fileinfo.StandardType, fileinfo.FileTypeRegular)
	fi.SetUint64(fileinfo.StandardSize, uint64(attrs.Size))
	if attrs.ContentType != "" {
		fi.SetString(fileinfo.StandardContentType, attrs.ContentType)
	}
	fi.SetIcon(fileinfo.StandardIcon, "text-x-generic")
	fi.SetUint64(fileinfo.TimeModified, uint64(attrs.Updated.Unix()))
	fi.SetUint32(fileinfo.TimeModifiedUsec, uint32(attrs.Updated.Nanosecond()/1000))
	if attrs.Etag != "" {
		fi.SetString(fileinfo.EtagValue, attrs.Etag)
	}
	fi.SetBool(fileinfo.AccessCanRead, true)
	fi.SetBool(fileinfo.AccessCanWrite, true)
	return fi
}

func (b *Backend) QueryInfo(ctx context.Context, path string, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	name := objectName(path)
	if name == "" {
		return matcher.Filter(rootInfo(b.name)), nil
	}
	attrs, err := b.statObject(ctx, name)
	if err != nil {
		return nil, toError(err)
	}
	return matcher.Filter(objectInfo(attrs)), nil
}

// readHandle is an open object. The range reader is opened lazily at offset
// and dropped on seek. It lives under its own context since jobs release
// theirs when they finish.
type readHandle struct {
	obj    *storage.ObjectHandle
	attrs  *storage.ObjectAttrs
	offset int64

	ctx    context.Context
	cancel context.CancelFunc
	rc     *storage.Reader
	stream io.Reader
}

func (h *readHandle) dropReader() {
	if h.rc != nil {
		h.rc.Close()
		h.rc = nil
		h.stream = nil
	}
}

func readFile(h backend.Handle) (*readHandle, error) {
	rh, ok := h.(*readHandle)
	if !ok || rh == nil {
		return nil, protocol.NewError(protocol.CodeClosed, "Stream is closed")
	}
	return rh, nil
}

func (b *Backend) OpenForRead(ctx context.Context, path string) (backend.Handle, bool, error) {
	name := objectName(path)
	if name == "" {
		return nil, false, protocol.NewError(protocol.CodeIsDirectory, "Can't open directory")
	}
	obj := b.bucket.Object(name)
	attrs, err := b.statObject(ctx, name)
	if err != nil {
		return nil, false, toError(err)
	}

	hctx, cancel := context.WithCancel(context.Background())
	return &readHandle{obj: obj, attrs: attrs, ctx: hctx, cancel: cancel}, true, nil
}

func (b *Backend) Read(ctx context.Context, h backend.Handle, buf []byte) (int, error) {
	rh, err := readFile(h)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if rh.offset >= rh.attrs.Size {
		return 0, nil
	}

	if rh.stream == nil {
		rc, err := rh.obj.NewRangeReader(rh.ctx, rh.offset, -1)
		if err != nil {
			return 0, toError(err)
		}
		rh.rc = rc
		rh.stream = rc
		if b.throttle != nil {
			rh.stream = ratelimit.ThrottledReader(rh.ctx, rc, b.throttle)
		}
	}

	n, err := rh.stream.Read(buf)
	rh.offset += int64(n)
	if errors.Is(err, io.EOF) {
		rh.dropReader()
		return n, nil
	}
	return n, toError(err)
}

func (b *Backend) SeekOnRead(ctx context.Context, h backend.Handle, offset int64, whence int) (int64, error) {
	rh, err := readFile(h)
	if err != nil {
		return 0, err
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = rh.offset + offset
	case io.SeekEnd:
		pos = rh.attrs.Size + offset
	default:
		return 0, protocol.NewError(protocol.CodeInvalidArgument, "Unsupported seek type")
	}
	if pos < 0 {
		return 0, protocol.NewError(protocol.CodeInvalidArgument, "Invalid seek position")
	}

	if pos != rh.offset {
		rh.dropReader()
		rh.offset = pos
	}
	return pos, nil
}

func (b *Backend) CloseRead(ctx context.Context, h backend.Handle) error {
	rh, err := readFile(h)
	if err != nil {
		return err
	}
	rh.dropReader()
	rh.cancel()
	return nil
}

func (b *Backend) QueryInfoOnRead(ctx context.Context, h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	rh, err := readFile(h)
	if err != nil {
		return nil, err
	}
	return matcher.Filter(objectInfo(rh.attrs)), nil
}

type writeHandle struct {
	name    string
	w       *storage.Writer
	written int64
	cancel  context.CancelFunc
}

func writeFile(h backend.Handle) (*writeHandle, error) {
	wh, ok := h.(*writeHandle)
	if !ok || wh == nil {
		return nil, protocol.NewError(protocol.CodeClosed, "Stream is closed")
	}
	return wh, nil
}

func (b *Backend) OpenForWrite(ctx context.Context, req backend.WriteRequest) (backend.Handle, bool, int64, error) {
	name := objectName(req.Path)
	if name == "" {
		return nil, false, 0, protocol.NewError(protocol.CodeIsDirectory, "Can't write to the bucket root")
	}
	obj := b.bucket.Object(name)
	b.stats.erase(name)

	switch req.Mode {
	case backend.WriteCreate:
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	case backend.WriteReplace:
		if req.Etag != "" {
			attrs, err := obj.Attrs(ctx)
			if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return nil, false, 0, toError(err)
			}
			if err == nil && attrs.Etag != req.Etag {
				return nil, false, 0, protocol.NewError(protocol.CodeWrongEtag, "The file was externally modified")
			}
		}
	default:
		return nil, false, 0, protocol.ErrNotSupported
	}

	hctx, cancel := context.WithCancel(context.Background())
	w := obj.NewWriter(hctx)
	return &writeHandle{name: name, w: w, cancel: cancel}, false, 0, nil
}

func (b *Backend) Write(ctx context.Context, h backend.Handle, data []byte) (int, error) {
	wh, err := writeFile(h)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := wh.w.Write(data)
	wh.written += int64(n)
	return n, toError(err)
}

func (b *Backend) CloseWrite(ctx context.Context, h backend.Handle) (string, error) {
	wh, err := writeFile(h)
	if err != nil {
		return "", err
	}
	defer wh.cancel()
	defer b.stats.erase(wh.name)
	if err := wh.w.Close(); err != nil {
		return "", toError(err)
	}
	if attrs := wh.w.Attrs(); attrs != nil {
		return attrs.Etag, nil
	}
	return "", nil
}

func (b *Backend) QueryInfoOnWrite(ctx context.Context, h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	wh, err := writeFile(h)
	if err != nil {
		return nil, err
	}
	return matcher.Filter(objectInfo(&storage.ObjectAttrs{Name: wh.name, Size: wh.written, Updated: time.Now()})), nil
}
