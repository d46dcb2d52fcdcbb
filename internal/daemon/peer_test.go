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
	"bufio"
	"context"
	"encoding/hex"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/gvfs-go/gvfsd/internal/fileinfo"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type peerClient struct {
	bus     *dbus.Conn
	fdConn  *net.UnixConn
	serials *serialCounter
}

// serialCounter hands out increasing serials and remembers the last one.
type serialCounter struct {
	last atomic.Uint32
}

func (s *serialCounter) GetSerial() uint32    { return s.last.Add(1) }
func (s *serialCounter) RetireSerial(uint32) {}

func socketPath(t *testing.T, addr string) string {
	t.Helper()
	p, ok := strings.CutPrefix(addr, "unix:path=")
	require.True(t, ok, "address %q", addr)
	return p
}

// dialRaw connects to both addresses of a new private connection.
func dialRaw(t *testing.T, d *Daemon) (net.Conn, *net.UnixConn) {
	t.Helper()
	addr1, addr2, err := d.GetConnection(context.Background())
	require.NoError(t, err)

	raw, err := net.Dial("unix", socketPath(t, addr1))
	require.NoError(t, err)
	fdRaw, err := net.Dial("unix", socketPath(t, addr2))
	require.NoError(t, err)
	t.Cleanup(func() {
		raw.Close()
		fdRaw.Close()
	})
	return raw, fdRaw.(*net.UnixConn)
}

func mustDialPeer(t *testing.T, d *Daemon) *peerClient {
	t.Helper()
	raw, fdConn := dialRaw(t, d)
	serials := &serialCounter{}

	bus, err := dbus.NewConn(raw, dbus.WithSerialGenerator(serials))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	require.NoError(t, bus.Auth([]dbus.Auth{dbus.AuthExternal(strconv.Itoa(os.Getuid()))}))

	return &peerClient{bus: bus, fdConn: fdConn, serials: serials}
}

func (c *peerClient) mount(path string) dbus.BusObject {
	return c.bus.Object("org.gtk.vfs.Daemon", dbus.ObjectPath(path))
}

// receiveFD reads one passed fd off the fd socket.
func (c *peerClient) receiveFD(t *testing.T) *os.File {
	t.Helper()
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	c.fdConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, oobn, _, _, err := c.fdConn.ReadMsgUnix(buf, oob)
	require.NoError(t, err)

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	fds, err := unix.ParseUnixRights(&msgs[0])
	require.NoError(t, err)
	require.Len(t, fds, 1)
	return os.NewFile(uintptr(fds[0]), "channel")
}

func byteString(s string) []byte {
	return append([]byte(s), 0)
}

func TestPeer_OpenForReadPassesChannel(t *testing.T) {
	env := newTestEnv(t)
	path := env.mountLocal(t)
	c := mustDialPeer(t, env.d)

	var idx dbus.UnixFDIndex
	var canSeek bool
	err := c.mount(path).Call(MountInterface+".OpenForRead", 0, byteString("/hello.txt"), uint32(os.Getpid())).Store(&idx, &canSeek)
	require.NoError(t, err)
	f := c.receiveFD(t)
	conn, err := net.FileConn(f)
	f.Close()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.WriteRequest(conn, protocol.RequestHeader{Command: protocol.CommandRead, SeqNr: 1, Arg1: 3}, nil))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	h, body, err := protocol.ReadReply(conn)

	require.NoError(t, err)
	assert.Equal(t, dbus.UnixFDIndex(0), idx)
	assert.True(t, canSeek)
	assert.Equal(t, protocol.ReplyData, h.Type)
	assert.Equal(t, "hel", string(body))
}

func TestPeer_FDIndexesIncrease(t *testing.T) {
	env := newTestEnv(t)
	path := env.mountLocal(t)
	c := mustDialPeer(t, env.d)

	for want := range 2 {
		var idx dbus.UnixFDIndex
		var canSeek bool
		err := c.mount(path).Call(MountInterface+".OpenForRead", 0, byteString("/hello.txt"), uint32(0)).Store(&idx, &canSeek)
		require.NoError(t, err)
		c.receiveFD(t).Close()

		assert.Equal(t, dbus.UnixFDIndex(want), idx)
	}
}

func TestPeer_QueryInfo(t *testing.T) {
	env := newTestEnv(t)
	path := env.mountLocal(t)
	c := mustDialPeer(t, env.d)

	var blob []byte
	err := c.mount(path).Call(MountInterface+".QueryInfo", 0, byteString("/hello.txt"), "standard::name", uint32(0)).Store(&blob)
	require.NoError(t, err)
	info, err := fileinfo.Unmarshal(blob)
	require.NoError(t, err)

	assert.Equal(t, []string{fileinfo.StandardName}, info.Names())
}

func TestPeer_ErrorsCarryDomainAndCode(t *testing.T) {
	env := newTestEnv(t)
	c := mustDialPeer(t, env.d)

	err := c.mount(MountPathPrefix+"9").Call(MountInterface+".QueryInfo", 0, byteString("/"), "*", uint32(0)).Err

	var derr dbus.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errorName(protocol.IOErrorDomain, protocol.CodeNotMounted), derr.Name)
}

func TestPeer_UnknownMethodAndBadArguments(t *testing.T) {
	env := newTestEnv(t)
	path := env.mountLocal(t)
	c := mustDialPeer(t, env.d)

	err := c.mount(path).Call(MountInterface+".Frobnicate", 0).Err
	var derr dbus.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errUnknownMethod, derr.Name)

	err = c.mount(path).Call(MountInterface+".QueryInfo", 0, "not bytes").Err
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, errInvalidArgs, derr.Name)
}

func TestPeer_Unmount(t *testing.T) {
	env := newTestEnv(t)
	path := env.mountLocal(t)
	c := mustDialPeer(t, env.d)

	require.NoError(t, c.mount(path).Call(MountInterface+".Unmount", 0, uint32(0)).Err)

	assert.Empty(t, env.d.Mounts())
}

func TestPeer_CancelByDaemonCall(t *testing.T) {
	env := newTestEnv(t)
	path, err := env.d.Mount(context.Background(), mountspec.New(stallType), false, "", 0)
	require.NoError(t, err)
	c := mustDialPeer(t, env.d)

	call := c.mount(path).Go(MountInterface+".QueryInfo", 0, nil, byteString("/"), "*", uint32(0))
	env.waitStarted(t, "query-info")
	serial := c.serials.last.Load()
	require.NoError(t, c.bus.Object("org.gtk.vfs.Daemon", DaemonPath).Call(DaemonInterface+".Cancel", 0, serial).Err)

	select {
	case <-call.Done:
	case <-time.After(5 * time.Second):
		t.Fatal("query was not cancelled")
	}
	var derr dbus.Error
	require.ErrorAs(t, call.Err, &derr)
	assert.Equal(t, errorName(protocol.IOErrorDomain, protocol.CodeCancelled), derr.Name)
}

func TestPeer_DisconnectCancelsJobs(t *testing.T) {
	env := newTestEnv(t)
	path, err := env.d.Mount(context.Background(), mountspec.New(stallType), false, "", 0)
	require.NoError(t, err)
	c := mustDialPeer(t, env.d)

	c.mount(path).Go(MountInterface+".QueryInfo", 0, nil, byteString("/"), "*", uint32(0))
	env.waitStarted(t, "query-info")
	require.Equal(t, 1, pendingJobs(env.d))
	c.bus.Close()

	assert.Eventually(t, func() bool { return pendingJobs(env.d) == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPeer_Handshake(t *testing.T) {
	hexUID := func(uid int) string { return hex.EncodeToString([]byte(strconv.Itoa(uid))) }
	testCases := []struct {
		name     string
		lines    []string
		expected []string
	}{
		{
			name:     "mechanism list",
			lines:    []string{"AUTH"},
			expected: []string{"REJECTED EXTERNAL"},
		},
		{
			name:     "unsupported mechanism",
			lines:    []string{"AUTH DBUS_COOKIE_SHA1 31303030"},
			expected: []string{"REJECTED EXTERNAL"},
		},
		{
			name:     "other user",
			lines:    []string{"AUTH EXTERNAL " + hexUID(os.Getuid()+1)},
			expected: []string{"REJECTED EXTERNAL"},
		},
		{
			name:     "own user",
			lines:    []string{"AUTH EXTERNAL " + hexUID(os.Getuid()), "NEGOTIATE_UNIX_FD"},
			expected: []string{"OK ", "ERROR"},
		},
		{
			name:     "identity from socket credentials",
			lines:    []string{"AUTH EXTERNAL", "DATA"},
			expected: []string{"DATA", "OK "},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			raw, _ := dialRaw(t, env.d)
			raw.SetDeadline(time.Now().Add(5 * time.Second))
			in := bufio.NewReader(raw)
			_, err := raw.Write([]byte{0})
			require.NoError(t, err)

			var got []string
			for _, line := range tc.lines {
				_, err := io.WriteString(raw, line+"\r\n")
				require.NoError(t, err)
				reply, err := in.ReadString('\n')
				require.NoError(t, err)
				got = append(got, strings.TrimSuffix(reply, "\r\n"))
			}

			require.Len(t, got, len(tc.expected))
			for i := range got {
				assert.True(t, strings.HasPrefix(got[i], tc.expected[i]), "reply %d is %q", i, got[i])
			}
		})
	}
}

func TestPeer_SocketDirectoryRemovedAfterHandshake(t *testing.T) {
	env := newTestEnv(t)

	mustDialPeer(t, env.d)

	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(env.d.socketDir)
		return err == nil && len(entries) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGetConnection_DirectoryIsPrivate(t *testing.T) {
	env := newTestEnv(t)

	addr1, addr2, err := env.d.GetConnection(context.Background())
	require.NoError(t, err)

	dir := filepath.Dir(socketPath(t, addr1))
	assert.Equal(t, dir, filepath.Dir(socketPath(t, addr2)))
	assert.Regexp(t, `^socket-[0-9a-f]{8}$`, filepath.Base(dir))
	st, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), st.Mode().Perm())
}

func TestGetConnection_AbstractSockets(t *testing.T) {
	env := newTestEnv(t)
	env.d.socketDir = ""

	addr1, addr2, err := env.d.GetConnection(context.Background())

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr1, "unix:abstract=/dbus-vfs-daemon/socket-"))
	assert.True(t, strings.HasPrefix(addr2, "unix:abstract=/dbus-vfs-daemon/socket-"))
	assert.NotEqual(t, addr1, addr2)
}
