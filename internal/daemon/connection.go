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
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/perms"
	"golang.org/x/sync/errgroup"
)

// acceptTimeout bounds the wait for a client to dial the addresses handed
// out by GetConnection.
var acceptTimeout = 30 * time.Second

// randomName returns n random lowercase hex digits.
func randomName(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// privateListeners is the listening side of one GetConnection call.
type privateListeners struct {
	peer    *net.UnixListener
	fds     *net.UnixListener
	addr1   string
	addr2   string
	dir     string
	cleanup sync.Once
}

// remove closes the listeners and deletes the socket directory, if any.
func (pl *privateListeners) remove() {
	pl.cleanup.Do(func() {
		pl.peer.Close()
		pl.fds.Close()
		if pl.dir != "" {
			if err := os.RemoveAll(pl.dir); err != nil {
				logger.Warnf("Removing socket directory %s: %v", pl.dir, err)
			}
		}
	})
}

func listenUnix(name string) (*net.UnixListener, error) {
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: name, Net: "unix"})
	if err != nil {
		return nil, err
	}
	l.SetUnlinkOnClose(true)
	return l, nil
}

// listenPrivate creates the two listening sockets. Without a socket
// directory on Linux they live in the abstract namespace. Otherwise they are
// created inside a fresh owner-only directory that is checked again after
// creation.
func (d *Daemon) listenPrivate() (*privateListeners, error) {
	pl := &privateListeners{}

	if d.socketDir == "" && runtime.GOOS == "linux" {
		name1 := "/dbus-vfs-daemon/socket-" + randomName(8)
		name2 := "/dbus-vfs-daemon/socket-" + randomName(8)
		l1, err := listenUnix("@" + name1)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", name1, err)
		}
		l2, err := listenUnix("@" + name2)
		if err != nil {
			l1.Close()
			return nil, fmt.Errorf("listening on %s: %w", name2, err)
		}
		pl.peer, pl.fds = l1, l2
		pl.addr1 = "unix:abstract=" + name1
		pl.addr2 = "unix:abstract=" + name2
		return pl, nil
	}

	if d.socketDir == "" {
		return nil, errors.New("no socket directory configured")
	}
	if err := os.MkdirAll(d.socketDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := perms.CheckOwnedDir(d.socketDir); err != nil {
		return nil, err
	}

	dir := filepath.Join(d.socketDir, "socket-"+randomName(8))
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	// Someone may have swapped the directory between creation and use.
	if err := perms.CheckOwnedDir(dir); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	path1 := filepath.Join(dir, "peer")
	path2 := filepath.Join(dir, "fds")
	l1, err := listenUnix(path1)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("listening on %s: %w", path1, err)
	}
	l2, err := listenUnix(path2)
	if err != nil {
		l1.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("listening on %s: %w", path2, err)
	}
	pl.peer, pl.fds, pl.dir = l1, l2, dir
	pl.addr1 = "unix:path=" + path1
	pl.addr2 = "unix:path=" + path2
	return pl, nil
}

// GetConnection prepares a private connection for one client. It returns
// the address of the bus link and the address that fds are passed on; the
// client has acceptTimeout to dial both.
func (d *Daemon) GetConnection(ctx context.Context) (string, string, error) {
	pl, err := d.listenPrivate()
	if err != nil {
		return "", "", err
	}
	go d.acceptPeer(pl)
	return pl.addr1, pl.addr2, nil
}

func acceptOne(l *net.UnixListener) (*net.UnixConn, error) {
	if err := l.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
		return nil, err
	}
	return l.AcceptUnix()
}

func (d *Daemon) acceptPeer(pl *privateListeners) {
	defer pl.remove()

	var peerConn, fdConn *net.UnixConn
	var g errgroup.Group
	g.Go(func() (err error) {
		peerConn, err = acceptOne(pl.peer)
		return
	})
	g.Go(func() (err error) {
		fdConn, err = acceptOne(pl.fds)
		return
	})
	if err := g.Wait(); err != nil {
		logger.Warnf("Accepting private connection on %s: %v", pl.addr1, err)
		if peerConn != nil {
			peerConn.Close()
		}
		if fdConn != nil {
			fdConn.Close()
		}
		return
	}

	p := newPeer(d, peerConn, fdConn)
	err := p.authenticate()
	pl.remove()
	if err != nil {
		logger.Warnf("%v: authentication failed: %v", p, err)
		p.close()
		return
	}

	logger.Debugf("%v: connected", p)
	p.serve()
}
