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
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"github.com/gvfs-go/gvfsd/internal/mountspec"
)

const errFailed = "org.freedesktop.DBus.Error.Failed"

// Service is the mount tracker of the main daemon. Backend daemons register
// their mounts with it; clients list them and follow its signals.
type Service struct {
	tracker *Tracker

	connMu sync.Mutex
	conn   *dbus.Conn
}

func NewService() *Service {
	s := &Service{tracker: New(context.Background(), nil, false)}
	s.tracker.OnMounted(func(info *mountspec.MountInfo) { s.emit(signalMounted, info) })
	s.tracker.OnUnmounted(func(info *mountspec.MountInfo) { s.emit(signalUnmounted, info) })
	return s
}

// Tracker returns the registry behind the service.
func (s *Service) Tracker() *Tracker {
	return s.tracker
}

func (s *Service) emit(name string, info *mountspec.MountInfo) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Emit(ObjectPath, name, info.ToDBus()); err != nil {
		logger.Warnf("Emitting %s for %s: %v", name, info.ObjectPath, err)
	}
}

// Register adds a mount. A mount is registered at most once.
func (s *Service) Register(info *mountspec.MountInfo) error {
	probe := &mountspec.MountInfo{DBusID: info.DBusID, ObjectPath: info.ObjectPath}
	if s.find(probe) != nil {
		return fmt.Errorf("mountpoint %s of %s already registered", info.ObjectPath, info.DBusID)
	}
	s.tracker.Mounted(info)
	return nil
}

// Unregister removes the mount at objectPath served by dbusID.
func (s *Service) Unregister(dbusID, objectPath string) error {
	info := s.find(&mountspec.MountInfo{DBusID: dbusID, ObjectPath: objectPath})
	if info == nil {
		return fmt.Errorf("mountpoint %s of %s not registered", objectPath, dbusID)
	}
	s.tracker.Unmounted(info)
	return nil
}

// DropOwner removes every mount served by the bus name that went away.
func (s *Service) DropOwner(dbusID string) {
	for _, info := range s.tracker.ListMounts() {
		if info.DBusID == dbusID {
			logger.Infof("Daemon %s vanished, dropping mount %s", dbusID, info.ObjectPath)
			s.tracker.Unmounted(info)
		}
	}
}

func (s *Service) find(probe *mountspec.MountInfo) *mountspec.MountInfo {
	for _, info := range s.tracker.ListMounts() {
		if info.Equal(probe) {
			return info
		}
	}
	return nil
}

// inProcess registers the mounts of a backend daemon that shares the
// process with the service.
type inProcess struct {
	s      *Service
	dbusID string
}

// Registrar returns a Registrar for mounts served by dbusID in this process.
func (s *Service) Registrar(dbusID string) Registrar {
	return &inProcess{s: s, dbusID: dbusID}
}

func (r *inProcess) RegisterMount(ctx context.Context, info *mountspec.MountInfo) error {
	c := info.Clone()
	c.DBusID = r.dbusID
	return r.s.Register(c)
}

func (r *inProcess) UnregisterMount(ctx context.Context, info *mountspec.MountInfo) error {
	return r.s.Unregister(r.dbusID, info.ObjectPath)
}

////////////////////////////////////////////////////////////////////////
// Bus methods
////////////////////////////////////////////////////////////////////////

func (s *Service) RegisterMount(
	sender dbus.Sender,
	objectPath dbus.ObjectPath,
	displayName string,
	stableName string,
	xContentTypes string,
	icon string,
	symbolicIcon string,
	preferredFilenameEncoding string,
	userVisible bool,
	fuseMountpoint []byte,
	spec mountspec.SpecWire,
	defaultLocation []byte) *dbus.Error {
	info, err := mountspec.InfoFromDBus(mountspec.InfoWire{
		DBusID:                    string(sender),
		ObjectPath:                objectPath,
		DisplayName:               displayName,
		StableName:                stableName,
		XContentTypes:             xContentTypes,
		Icon:                      icon,
		SymbolicIcon:              symbolicIcon,
		PreferredFilenameEncoding: preferredFilenameEncoding,
		UserVisible:               userVisible,
		FuseMountpoint:            fuseMountpoint,
		Spec:                      spec,
		DefaultLocation:           defaultLocation,
	})
	if err != nil {
		return dbus.NewError(errFailed, []interface{}{err.Error()})
	}
	if err := s.Register(info); err != nil {
		return dbus.NewError(errFailed, []interface{}{err.Error()})
	}
	return nil
}

func (s *Service) UnregisterMount(sender dbus.Sender, objectPath dbus.ObjectPath) *dbus.Error {
	if err := s.Unregister(string(sender), string(objectPath)); err != nil {
		return dbus.NewError(errFailed, []interface{}{err.Error()})
	}
	return nil
}

func (s *Service) ListMounts() ([]mountspec.InfoWire, *dbus.Error) {
	return infosToDBus(s.tracker.ListMounts()), nil
}

func (s *Service) ListMounts2(userVisibleOnly bool) ([]mountspec.InfoWire, *dbus.Error) {
	var infos []*mountspec.MountInfo
	for _, info := range s.tracker.ListMounts() {
		if !userVisibleOnly || info.UserVisible {
			infos = append(infos, info)
		}
	}
	return infosToDBus(infos), nil
}

// Serve exports the service on conn and drops the mounts of daemons that
// leave the bus, until ctx is done.
func (s *Service) Serve(ctx context.Context, conn *dbus.Conn) error {
	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		return fmt.Errorf("exporting mount tracker: %w", err)
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	match := []dbus.MatchOption{
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	}
	if err := conn.AddMatchSignalContext(ctx, match...); err != nil {
		return fmt.Errorf("watching bus names: %w", err)
	}
	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
				continue
			}
			name, _ := sig.Body[0].(string)
			newOwner, _ := sig.Body[2].(string)
			if newOwner == "" {
				s.DropOwner(name)
			}
		}
	}
}
