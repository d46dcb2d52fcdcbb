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

// Package localtest serves a local directory tree. It exists to exercise
// the daemon and channel layers end to end without a remote service.
package localtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"golang.org/x/sys/unix"
)

// Type is the mount spec type served by this package.
const Type = "localtest"

// RootKey is the mount spec item naming the served directory.
const RootKey = "root"

type Backend struct {
	*backend.Base
	root string
}

var (
	_ backend.Backend     = (*Backend)(nil)
	_ backend.Mounter     = (*Backend)(nil)
	_ backend.ReadOpener  = (*Backend)(nil)
	_ backend.WriteOpener = (*Backend)(nil)
	_ backend.Truncater   = (*Backend)(nil)
	_ backend.WriteSeeker = (*Backend)(nil)
	_ backend.InfoQuerier = (*Backend)(nil)
)

// New is a backend.Factory.
func New() backend.Backend {
	return &Backend{Base: backend.NewBase()}
}

func (b *Backend) String() string {
	return "localtest backend at " + b.root
}

func (b *Backend) Mount(ctx context.Context, spec *mountspec.MountSpec, automount bool) error {
	root, ok := spec.Get(RootKey)
	if !ok || root == "" {
		return protocol.NewError(protocol.CodeInvalidArgument, "No root directory specified")
	}
	root = filepath.Clean(root)
	st, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !st.IsDir() {
		return protocol.NewError(protocol.CodeNotDirectory, "%s is not a directory", root)
	}

	b.root = root
	b.SetMountSpec(spec)
	b.SetDisplayName(fmt.Sprintf("Local test on %s", filepath.Base(root)))
	b.SetStableName(Type + ":" + root)
	b.SetIcon("folder", "folder-symbolic")
	logger.Infof("Mounted %s", root)
	return nil
}

func (b *Backend) Unmount(ctx context.Context) error {
	logger.Infof("Unmounted %s", b.root)
	return nil
}

// resolve maps a mount relative path into the served tree. Paths cannot
// escape the root.
func (b *Backend) resolve(p string) string {
	return filepath.Join(b.root, filepath.Clean("/"+p))
}

func file(h backend.Handle) (*os.File, error) {
	f, ok := h.(*os.File)
	if !ok || f == nil {
		return nil, protocol.NewError(protocol.CodeClosed, "Stream is closed")
	}
	return f, nil
}

func (b *Backend) QueryInfo(ctx context.Context, path string, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	full := b.resolve(path)
	st, err := os.Lstat(full)
	if err != nil {
		return nil, err
	}
	return matcher.Filter(infoFromStat(full, st)), nil
}

func (b *Backend) OpenForRead(ctx context.Context, path string) (backend.Handle, bool, error) {
	f, err := os.Open(b.resolve(path))
	if err != nil {
		return nil, false, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, err
	}
	if st.IsDir() {
		f.Close()
		return nil, false, protocol.NewError(protocol.CodeIsDirectory, "Can't open directory")
	}
	return f, true, nil
}

func (b *Backend) Read(ctx context.Context, h backend.Handle, buf []byte) (int, error) {
	f, err := file(h)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := f.Read(buf)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (b *Backend) SeekOnRead(ctx context.Context, h backend.Handle, offset int64, whence int) (int64, error) {
	f, err := file(h)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, whence)
}

func (b *Backend) CloseRead(ctx context.Context, h backend.Handle) error {
	f, err := file(h)
	if err != nil {
		return err
	}
	return f.Close()
}

func (b *Backend) QueryInfoOnRead(ctx context.Context, h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	return queryOpen(h, matcher)
}

func (b *Backend) OpenForWrite(ctx context.Context, req backend.WriteRequest) (backend.Handle, bool, int64, error) {
	full := b.resolve(req.Path)

	flags := os.O_WRONLY | os.O_CREATE
	switch req.Mode {
	case backend.WriteCreate:
		flags |= os.O_EXCL
	case backend.WriteAppend:
		flags |= os.O_APPEND
	case backend.WriteReplace:
		if req.Etag != "" {
			if st, err := os.Stat(full); err == nil && etag(st) != req.Etag {
				return nil, false, 0, protocol.NewError(protocol.CodeWrongEtag, "The file was externally modified")
			}
		}
		flags |= os.O_TRUNC
	case backend.WriteEdit:
	default:
		return nil, false, 0, protocol.NewError(protocol.CodeInvalidArgument, "Unknown write mode %d", req.Mode)
	}

	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return nil, false, 0, err
	}

	var offset int64
	if req.Mode == backend.WriteAppend {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return nil, false, 0, err
		}
	}
	return f, req.Mode != backend.WriteAppend, offset, nil
}

func (b *Backend) Write(ctx context.Context, h backend.Handle, data []byte) (int, error) {
	f, err := file(h)
	if err != nil {
		return 0, err
	}
	return f.Write(data)
}

func (b *Backend) SeekOnWrite(ctx context.Context, h backend.Handle, offset int64, whence int) (int64, error) {
	f, err := file(h)
	if err != nil {
		return 0, err
	}
	return f.Seek(offset, whence)
}

func (b *Backend) Truncate(ctx context.Context, h backend.Handle, size int64) error {
	f, err := file(h)
	if err != nil {
		return err
	}
	return f.Truncate(size)
}

func (b *Backend) CloseWrite(ctx context.Context, h backend.Handle) (string, error) {
	f, err := file(h)
	if err != nil {
		return "", err
	}
	st, statErr := f.Stat()
	if err := f.Close(); err != nil {
		return "", err
	}
	if statErr != nil {
		return "", nil
	}
	return etag(st), nil
}

func (b *Backend) QueryInfoOnWrite(ctx context.Context, h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	return queryOpen(h, matcher)
}

func queryOpen(h backend.Handle, matcher *fileinfo.Matcher) (*fileinfo.FileInfo, error) {
	f, err := file(h)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return matcher.Filter(infoFromStat(f.Name(), st)), nil
}

// etag is the modification time as seconds:microseconds.
func etag(st os.FileInfo) string {
	mt := st.ModTime()
	return fmt.Sprintf("%d:%d", mt.Unix(), mt.Nanosecond()/1000)
}

func infoFromStat(full string, st os.FileInfo) *fileinfo.FileInfo {
	fi := fileinfo.New()
	fi.SetByteString(fileinfo.StandardName, st.Name())
	fi.SetString(fileinfo.StandardDisplayName, st.Name())
	fi.SetUint64(fileinfo.StandardSize, uint64(st.Size()))
	fi.SetUint64(fileinfo.TimeModified, uint64(st.ModTime().Unix()))
	fi.SetUint32(fileinfo.TimeModifiedUsec, uint32(st.ModTime().Nanosecond()/1000))
	fi.SetString(fileinfo.EtagValue, etag(st))
	fi.SetUint32(fileinfo.UnixMode, uint32(st.Mode().Perm()))

	switch {
	case st.IsDir():
		fi.SetUint32(fileinfo.StandardType, fileinfo.FileTypeDirectory)
		fi.SetIcon(fileinfo.StandardIcon, "folder")
	case st.Mode()&os.ModeSymlink != 0:
		fi.SetUint32(fileinfo.StandardType, fileinfo.FileTypeSymbolicLink)
	case st.Mode().IsRegular():
		fi.SetUint32(fileinfo.StandardType, fileinfo.FileTypeRegular)
		fi.SetIcon(fileinfo.StandardIcon, "text-x-generic")
	default:
		fi.SetUint32(fileinfo.StandardType, fileinfo.FileTypeSpecial)
	}

	fi.SetBool(fileinfo.AccessCanRead, unix.Access(full, unix.R_OK) == nil)
	fi.SetBool(fileinfo.AccessCanWrite, unix.Access(full, unix.W_OK) == nil)
	return fi
}
