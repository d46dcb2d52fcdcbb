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

package mounttracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
)

const (
	// BusName is owned by the main daemon, which serves the mount tracker.
	BusName    = "org.gtk.vfs.Daemon"
	ObjectPath = dbus.ObjectPath("/org/gtk/vfs/mounttracker")
	Interface  = "org.gtk.vfs.MountTracker"

	signalMounted   = Interface + ".Mounted"
	signalUnmounted = Interface + ".Unmounted"

	errUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
)

func isUnknownMethod(err error) bool {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name == errUnknownMethod
	}
	var dbusErrPtr *dbus.Error
	return errors.As(err, &dbusErrPtr) && dbusErrPtr.Name == errUnknownMethod
}

func infosFromDBus(wires []mountspec.InfoWire) []*mountspec.MountInfo {
	infos := make([]*mountspec.MountInfo, 0, len(wires))
	for _, w := range wires {
		info, err := mountspec.InfoFromDBus(w)
		if err != nil {
			logger.Warnf("Skipping mount %s of %s: %v", w.ObjectPath, w.DBusID, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

func infosToDBus(infos []*mountspec.MountInfo) []mountspec.InfoWire {
	wires := make([]mountspec.InfoWire, 0, len(infos))
	for _, info := range infos {
		wires = append(wires, info.ToDBus())
	}
	return wires
}

// busClient talks to the mount tracker service on the session bus.
type busClient struct {
	conn *dbus.Conn
}

// NewBusLister returns a Lister that asks the main daemon. Daemons without
// ListMounts2 are asked with ListMounts, which does not filter.
func NewBusLister(conn *dbus.Conn) Lister {
	return &busClient{conn: conn}
}

func (c *busClient) ListMounts(ctx context.Context, userVisibleOnly bool) ([]*mountspec.MountInfo, error) {
	obj := c.conn.Object(BusName, ObjectPath)

	var wires []mountspec.InfoWire
	err := obj.CallWithContext(ctx, Interface+".ListMounts2", 0, userVisibleOnly).Store(&wires)
	if isUnknownMethod(err) {
		err = obj.CallWithContext(ctx, Interface+".ListMounts", 0).Store(&wires)
	}
	if err != nil {
		return nil, fmt.Errorf("ListMounts: %w", err)
	}
	return infosFromDBus(wires), nil
}

// Connect returns a tracker filled from the mount tracker service on conn
// and kept current from its signals until Close.
func Connect(ctx context.Context, conn *dbus.Conn, userVisibleOnly bool) (*Tracker, error) {
	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
	}
	// Subscribe before listing so that no mount falls in between.
	if err := conn.AddMatchSignalContext(ctx, match...); err != nil {
		return nil, fmt.Errorf("subscribing to mount signals: %w", err)
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	t := New(ctx, NewBusLister(conn), userVisibleOnly)

	done := make(chan struct{})
	go t.watch(signals, done)
	t.stop = func() {
		conn.RemoveSignal(signals)
		if err := conn.RemoveMatchSignal(match...); err != nil {
			logger.Debugf("Removing mount signal match: %v", err)
		}
		close(done)
	}
	return t, nil
}

func (t *Tracker) watch(signals <-chan *dbus.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			t.handleSignal(sig)
		}
	}
}

func (t *Tracker) handleSignal(sig *dbus.Signal) {
	if sig.Path != ObjectPath || (sig.Name != signalMounted && sig.Name != signalUnmounted) {
		return
	}

	var w mountspec.InfoWire
	if err := dbus.Store(sig.Body, &w); err != nil {
		logger.Warnf("Malformed %s signal: %v", sig.Name, err)
		return
	}
	info, err := mountspec.InfoFromDBus(w)
	if err != nil {
		logger.Warnf("Malformed %s signal: %v", sig.Name, err)
		return
	}

	if sig.Name == signalMounted {
		t.Mounted(info)
	} else {
		t.Unmounted(info)
	}
}

// Registrar announces the mounts of a backend daemon.
type Registrar interface {
	RegisterMount(ctx context.Context, info *mountspec.MountInfo) error
	UnregisterMount(ctx context.Context, info *mountspec.MountInfo) error
}

// NewBusRegistrar returns a Registrar that calls the main daemon. The bus
// fills in the caller's unique name as the mount's bus id.
func NewBusRegistrar(conn *dbus.Conn) Registrar {
	return &busClient{conn: conn}
}

func (c *busClient) RegisterMount(ctx context.Context, info *mountspec.MountInfo) error {
	w := info.ToDBus()
	call := c.conn.Object(BusName, ObjectPath).CallWithContext(ctx, Interface+".RegisterMount", 0,
		w.ObjectPath,
		w.DisplayName,
		w.StableName,
		w.XContentTypes,
		w.Icon,
		w.SymbolicIcon,
		w.PreferredFilenameEncoding,
		w.UserVisible,
		w.FuseMountpoint,
		w.Spec,
		w.DefaultLocation)
	if call.Err != nil {
		return fmt.Errorf("RegisterMount %s: %w", info.ObjectPath, call.Err)
	}
	return nil
}

func (c *busClient) UnregisterMount(ctx context.Context, info *mountspec.MountInfo) error {
	call := c.conn.Object(BusName, ObjectPath).CallWithContext(ctx, Interface+".UnregisterMount", 0,
		dbus.ObjectPath(info.ObjectPath))
	if call.Err != nil {
		return fmt.Errorf("UnregisterMount %s: %w", info.ObjectPath, call.Err)
	}
	return nil
}
