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

	"github.com/godbus/dbus/v5"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
	"github.com/gvfs-go/gvfsd/internal/mounttracker"
	"github.com/gvfs-go/gvfsd/internal/protocol"
)

const (
	DaemonPath         dbus.ObjectPath = "/org/gtk/vfs/Daemon"
	DaemonInterface                    = "org.gtk.vfs.Daemon"
	MountableInterface                 = "org.gtk.vfs.Mountable"
	MountablePath      dbus.ObjectPath = "/org/gtk/vfs/mountable"
	MountInterface                     = "org.gtk.vfs.Mount"

	mountRoot dbus.ObjectPath = "/org/gtk/vfs/mount"
)

// MountSource names the client object that asked for a mount.
type MountSource struct {
	DBusID     string
	ObjectPath dbus.ObjectPath
}

// Bus serves a daemon on the session bus.
type Bus struct {
	d    *Daemon
	conn *dbus.Conn
	name string

	// Set by Start.
	registrar mounttracker.Registrar
}

// NewBus serves d on conn. A non-empty name is requested as a well-known
// name by Start.
func NewBus(d *Daemon, conn *dbus.Conn, name string) *Bus {
	return &Bus{d: d, conn: conn, name: name}
}

// callerOf returns the sender and serial that identify a bus job.
func callerOf(msg dbus.Message) (string, uint32) {
	sender, _ := msg.Headers[dbus.FieldSender].Value().(string)
	return sender, msg.Serial()
}

// Start claims the well-known name, if any, and exports the daemon
// objects. With registerWithTracker set, mounts are announced to the mount
// tracker from now on.
func (b *Bus) Start(registerWithTracker bool) error {
	if b.name != "" {
		reply, err := b.conn.RequestName(b.name, dbus.NameFlagDoNotQueue)
		if err != nil {
			return fmt.Errorf("requesting %s: %w", b.name, err)
		}
		if reply != dbus.RequestNameReplyPrimaryOwner {
			return fmt.Errorf("bus name %s is already taken", b.name)
		}
	}

	if err := b.conn.Export(&daemonObject{b}, DaemonPath, DaemonInterface); err != nil {
		return fmt.Errorf("exporting daemon: %w", err)
	}
	if err := b.conn.Export(&mountableObject{b}, MountablePath, MountableInterface); err != nil {
		return fmt.Errorf("exporting mountable: %w", err)
	}
	if err := b.conn.ExportSubtree(&mountObject{b}, mountRoot, MountInterface); err != nil {
		return fmt.Errorf("exporting mounts: %w", err)
	}

	if registerWithTracker {
		b.registrar = mounttracker.NewBusRegistrar(b.conn)
		b.d.SetRegistrar(b.registrar, b.conn.Names()[0])
	}
	return nil
}

// Watch follows the bus until ctx is done. It fails when the well-known
// name is lost or the connection drops. Mounts are announced again
// whenever the mount tracker restarts.
func (b *Bus) Watch(ctx context.Context) error {
	match := []dbus.MatchOption{
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, mounttracker.BusName),
	}
	if err := b.conn.AddMatchSignalContext(ctx, match...); err != nil {
		return fmt.Errorf("watching the mount tracker: %w", err)
	}
	signals := make(chan *dbus.Signal, 32)
	b.conn.Signal(signals)
	defer b.conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("session bus connection closed")
			}
			switch sig.Name {
			case "org.freedesktop.DBus.NameLost":
				if b.name != "" && len(sig.Body) == 1 && sig.Body[0] == b.name {
					return fmt.Errorf("lost bus name %s", b.name)
				}
			case "org.freedesktop.DBus.NameOwnerChanged":
				if b.registrar == nil || len(sig.Body) != 3 {
					continue
				}
				name, _ := sig.Body[0].(string)
				newOwner, _ := sig.Body[2].(string)
				if name == mounttracker.BusName && newOwner != "" {
					go b.reregister(ctx)
				}
			}
		}
	}
}

// reregister announces every live mount again to a restarted tracker.
func (b *Bus) reregister(ctx context.Context) {
	for _, info := range b.d.Mounts() {
		if err := b.registrar.RegisterMount(ctx, info); err != nil {
			logger.Warnf("Registering %s again: %v", info.ObjectPath, err)
		}
	}
}

////////////////////////////////////////////////////////////////////////
// Exported objects
////////////////////////////////////////////////////////////////////////

type daemonObject struct {
	b *Bus
}

// GetConnection returns the addresses of a new private connection.
func (o *daemonObject) GetConnection() (string, string, *dbus.Error) {
	addr1, addr2, err := o.b.d.GetConnection(context.Background())
	if err != nil {
		logger.Warnf("GetConnection: %v", err)
		return "", "", toDBusError(err)
	}
	return addr1, addr2, nil
}

func (o *daemonObject) Cancel(msg dbus.Message, serial uint32) *dbus.Error {
	sender, _ := callerOf(msg)
	o.b.d.Cancel(sender, serial)
	return nil
}

type mountableObject struct {
	b *Bus
}

// Mount mounts spec and returns the object path of the new mount.
func (o *mountableObject) Mount(msg dbus.Message, spec mountspec.SpecWire, automount bool, source MountSource) (dbus.ObjectPath, *dbus.Error) {
	s, err := mountspec.SpecFromDBus(spec)
	if err != nil {
		return "", dbus.NewError(errInvalidArgs, []interface{}{err.Error()})
	}
	sender, serial := callerOf(msg)
	logger.Infof("Mount of %v requested by %s (source %s %s)", s, sender, source.DBusID, source.ObjectPath)

	path, err := o.b.d.Mount(context.Background(), s, automount, sender, serial)
	if err != nil {
		return "", toDBusError(err)
	}
	return dbus.ObjectPath(path), nil
}

// mountObject serves every /org/gtk/vfs/mount/N path. Opens need fd
// passing after the reply and are served on private connections only.
type mountObject struct {
	b *Bus
}

func mountPathOf(msg dbus.Message) string {
	p, _ := msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)
	return string(p)
}

func (o *mountObject) OpenForRead(path []byte, pid uint32) (dbus.UnixFD, bool, *dbus.Error) {
	return -1, false, toDBusError(protocol.NewError(protocol.CodeNotSupported, "Open is only served on private connections"))
}

func (o *mountObject) OpenForWrite(path []byte, mode uint16, etag string, makeBackup bool, flags uint32, pid uint32) (dbus.UnixFD, bool, uint64, *dbus.Error) {
	return -1, false, 0, toDBusError(protocol.NewError(protocol.CodeNotSupported, "Open is only served on private connections"))
}

func (o *mountObject) QueryInfo(msg dbus.Message, path []byte, attributes string, flags uint32) ([]byte, *dbus.Error) {
	sender, serial := callerOf(msg)
	info, err := o.b.d.QueryInfo(context.Background(), mountPathOf(msg), cleanPath(path), attributes, sender, serial)
	if err != nil {
		return nil, toDBusError(err)
	}
	return info, nil
}

func (o *mountObject) Unmount(msg dbus.Message, flags uint32) *dbus.Error {
	sender, serial := callerOf(msg)
	if err := o.b.d.Unmount(context.Background(), mountPathOf(msg), sender, serial); err != nil {
		return toDBusError(err)
	}
	return nil
}
