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

package localtest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type LocalTestSuite struct {
	suite.Suite
	ctx  context.Context
	root string
	b    *Backend
}

func TestLocalTestSuite(t *testing.T) {
	suite.Run(t, new(LocalTestSuite))
}

func (s *LocalTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.root = s.T().TempDir()
	require.NoError(s.T(), os.WriteFile(filepath.Join(s.root, "hello.txt"), []byte("hello, world"), 0o644))
	require.NoError(s.T(), os.Mkdir(filepath.Join(s.root, "dir"), 0o755))

	spec := mountspec.New(Type)
	spec.Set(RootKey, s.root)
	s.b = New().(*Backend)
	require.NoError(s.T(), s.b.Mount(s.ctx, spec, false))
}

func (s *LocalTestSuite) TestMountSetsIdentity() {
	info := s.b.MountInfo(":1.1")

	assert.Equal(s.T(), "folder", info.Icon)
	assert.Equal(s.T(), Type+":"+s.root, info.StableName)
	assert.Equal(s.T(), Type, info.Spec.Type())
}

func (s *LocalTestSuite) TestMountErrors() {
	noRoot := mountspec.New(Type)
	err := New().(*Backend).Mount(s.ctx, noRoot, false)
	assert.ErrorIs(s.T(), err, protocol.NewError(protocol.CodeInvalidArgument, ""))

	onFile := mountspec.New(Type)
	onFile.Set(RootKey, filepath.Join(s.root, "hello.txt"))
	err = New().(*Backend).Mount(s.ctx, onFile, false)
	assert.ErrorIs(s.T(), err, protocol.NewError(protocol.CodeNotDirectory, ""))
}

func (s *LocalTestSuite) TestReadSeekClose() {
	h, canSeek, err := s.b.OpenForRead(s.ctx, "/hello.txt")
	require.NoError(s.T(), err)
	assert.True(s.T(), canSeek)

	buf := make([]byte, 5)
	n, err := s.b.Read(s.ctx, h, buf)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "hello", string(buf[:n]))

	pos, err := s.b.SeekOnRead(s.ctx, h, -5, io.SeekEnd)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(7), pos)

	n, err = s.b.Read(s.ctx, h, make([]byte, 64))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 5, n)

	n, err = s.b.Read(s.ctx, h, buf)
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), 0, n)

	assert.NoError(s.T(), s.b.CloseRead(s.ctx, h))
}

func (s *LocalTestSuite) TestReadHonoursCancellation() {
	h, _, err := s.b.OpenForRead(s.ctx, "hello.txt")
	require.NoError(s.T(), err)
	defer s.b.CloseRead(s.ctx, h)
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err = s.b.Read(ctx, h, make([]byte, 4))

	assert.Equal(s.T(), protocol.CodeCancelled, protocol.ToError(err).Code)
}

func (s *LocalTestSuite) TestOpenForReadErrors() {
	_, _, err := s.b.OpenForRead(s.ctx, "/dir")
	assert.Equal(s.T(), protocol.CodeIsDirectory, protocol.ToError(err).Code)

	_, _, err = s.b.OpenForRead(s.ctx, "/missing")
	assert.Equal(s.T(), protocol.CodeNotFound, protocol.ToError(err).Code)
}

func (s *LocalTestSuite) TestPathsStayUnderRoot() {
	assert.Equal(s.T(), filepath.Join(s.root, "etc/passwd"), s.b.resolve("../../etc/passwd"))
}

func (s *LocalTestSuite) TestWriteTruncateClose() {
	h, canSeek, offset, err := s.b.OpenForWrite(s.ctx, backend.WriteRequest{Path: "/new.txt", Mode: backend.WriteCreate})
	require.NoError(s.T(), err)
	assert.True(s.T(), canSeek)
	assert.Zero(s.T(), offset)

	n, err := s.b.Write(s.ctx, h, []byte("0123456789"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 10, n)
	require.NoError(s.T(), s.b.Truncate(s.ctx, h, 4))
	info, err := s.b.QueryInfoOnWrite(s.ctx, h, fileinfo.ParseMatcher("standard::size"))
	require.NoError(s.T(), err)
	size, _ := info.Uint64(fileinfo.StandardSize)
	assert.Equal(s.T(), uint64(4), size)

	tag, err := s.b.CloseWrite(s.ctx, h)
	require.NoError(s.T(), err)
	assert.NotEmpty(s.T(), tag)

	data, err := os.ReadFile(filepath.Join(s.root, "new.txt"))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "0123", string(data))
}

func (s *LocalTestSuite) TestOpenForWriteModes() {
	_, _, _, err := s.b.OpenForWrite(s.ctx, backend.WriteRequest{Path: "hello.txt", Mode: backend.WriteCreate})
	assert.Equal(s.T(), protocol.CodeExists, protocol.ToError(err).Code)

	h, canSeek, offset, err := s.b.OpenForWrite(s.ctx, backend.WriteRequest{Path: "hello.txt", Mode: backend.WriteAppend})
	require.NoError(s.T(), err)
	assert.False(s.T(), canSeek)
	assert.Equal(s.T(), int64(12), offset)
	_, err = s.b.CloseWrite(s.ctx, h)
	require.NoError(s.T(), err)

	_, _, _, err = s.b.OpenForWrite(s.ctx, backend.WriteRequest{Path: "hello.txt", Mode: backend.WriteReplace, Etag: "1:2"})
	assert.Equal(s.T(), protocol.CodeWrongEtag, protocol.ToError(err).Code)
}

func (s *LocalTestSuite) TestQueryInfo() {
	info, err := s.b.QueryInfo(s.ctx, "/hello.txt", fileinfo.ParseMatcher("*"))
	require.NoError(s.T(), err)

	size, ok := info.Uint64(fileinfo.StandardSize)
	assert.True(s.T(), ok)
	assert.Equal(s.T(), uint64(12), size)
	a, ok := info.Get(fileinfo.StandardType)
	require.True(s.T(), ok)
	assert.Equal(s.T(), fileinfo.FileTypeRegular, a.Value)

	dirInfo, err := s.b.QueryInfo(s.ctx, "/dir", fileinfo.ParseMatcher("standard::type"))
	require.NoError(s.T(), err)
	a, _ = dirInfo.Get(fileinfo.StandardType)
	assert.Equal(s.T(), fileinfo.FileTypeDirectory, a.Value)
	assert.Equal(s.T(), 1, dirInfo.Len())
}

func (s *LocalTestSuite) TestClosedHandle() {
	_, err := s.b.Read(s.ctx, nil, make([]byte, 1))

	assert.Equal(s.T(), protocol.CodeClosed, protocol.ToError(err).Code)
}
