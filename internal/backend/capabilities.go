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

package backend

import (
	"context"

	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
)

type Mounter interface {
	Mount(ctx context.Context, spec *mountspec.MountSpec, automount bool) error
}

type Unmounter interface {
	Unmount(ctx context.Context) error
}

// InfoQuerier answers path based QueryInfo calls on the mount.
type InfoQuerier interface {
	QueryInfo(ctx context.Context, path string, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error)
}

type ReadOpener interface {
	OpenForRead(ctx context.Context, path string) (h Handle, canSeek bool, err error)
}

// Reader fills buf from the current position. A zero count with a nil error
// means end of file.
type Reader interface {
	Read(ctx context.Context, h Handle, buf []byte) (int, error)
}

// TryReader serves reads that can complete without blocking, such as those
// hitting a cache. ok is false when the read must go to a worker.
type TryReader interface {
	TryRead(h Handle, buf []byte) (n int, ok bool, err error)
}

// ReadSeeker seeks with io.Seeker whence values and returns the new offset.
type ReadSeeker interface {
	SeekOnRead(ctx context.Context, h Handle, offset int64, whence int) (int64, error)
}

type ReadCloser interface {
	CloseRead(ctx context.Context, h Handle) error
}

type ReadInfoQuerier interface {
	QueryInfoOnRead(ctx context.Context, h Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error)
}

// WriteMode selects how OpenForWrite treats an existing file.
type WriteMode uint16

const (
	WriteCreate WriteMode = iota
	WriteAppend
	WriteReplace
	WriteEdit
)

// WriteRequest carries the arguments of an OpenForWrite call.
type WriteRequest struct {
	Path       string
	Mode       WriteMode
	Etag       string
	MakeBackup bool
	Flags      uint32
}

type WriteOpener interface {
	OpenForWrite(ctx context.Context, req WriteRequest) (h Handle, canSeek bool, initialOffset int64, err error)
}

type Writer interface {
	Write(ctx context.Context, h Handle, data []byte) (int, error)
}

type WriteSeeker interface {
	SeekOnWrite(ctx context.Context, h Handle, offset int64, whence int) (int64, error)
}

type Truncater interface {
	Truncate(ctx context.Context, h Handle, size int64) error
}

// WriteCloser finishes a write and returns the etag of the result, which
// may be empty.
type WriteCloser interface {
	CloseWrite(ctx context.Context, h Handle) (etag string, err error)
}

type WriteInfoQuerier interface {
	QueryInfoOnWrite(ctx context.Context, h Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error)
}
