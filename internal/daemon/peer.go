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
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/gvfs-go/gvfsd/internal/backend"
	"github.com/gvfs-go/gvfsd/internal/logger"
	"golang.org/x/sys/unix"
)

const (
	errUnknownMethod = "org.freedesktop.DBus.Error.UnknownMethod"
	errInvalidArgs   = "org.freedesktop.DBus.Error.InvalidArgs"
)

// maxAuthLines bounds the handshake of a private connection.
const maxAuthLines = 16

// peer is one private connection: a bus link carrying method calls and a
// second socket that client fds are passed on.
type peer struct {
	d      *Daemon
	id     string
	guid   string
	conn   *net.UnixConn
	fdConn *net.UnixConn
	in     *bufio.Reader

	writeMu sync.Mutex
	serial  uint32 // GUARDED_BY(writeMu)

	fdMu   sync.Mutex
	nextFD uint32 // GUARDED_BY(fdMu)

	calls     sync.WaitGroup
	closeOnce sync.Once
}

func newPeer(d *Daemon, conn, fdConn *net.UnixConn) *peer {
	return &peer{
		d:      d,
		id:     fmt.Sprintf("peer:%d", d.peerCounter.Add(1)),
		guid:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		conn:   conn,
		fdConn: fdConn,
		in:     bufio.NewReader(conn),
	}
}

func (p *peer) String() string {
	return p.id
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		p.conn.Close()
		p.fdConn.Close()
	})
}

////////////////////////////////////////////////////////////////////////
// Authentication
////////////////////////////////////////////////////////////////////////

func (p *peer) writeLine(words ...string) error {
	_, err := io.WriteString(p.conn, strings.Join(words, " ")+"\r\n")
	return err
}

func (p *peer) readLine() ([]string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return strings.Fields(strings.TrimSuffix(line, "\r\n")), nil
}

// authenticate runs the server side of the SASL handshake. Only the
// EXTERNAL mechanism is offered and only our own user is let in.
func (p *peer) authenticate() error {
	p.conn.SetDeadline(time.Now().Add(acceptTimeout))
	defer p.conn.SetDeadline(time.Time{})

	nul, err := p.in.ReadByte()
	if err != nil {
		return err
	}
	if nul != 0 {
		return errors.New("handshake does not start with a NUL byte")
	}

	authed := false
	for range maxAuthLines {
		words, err := p.readLine()
		if err != nil {
			return err
		}
		if len(words) == 0 {
			if err := p.writeLine("ERROR", "empty", "command"); err != nil {
				return err
			}
			continue
		}

		switch words[0] {
		case "AUTH":
			if len(words) < 2 || words[1] != "EXTERNAL" {
				err = p.writeLine("REJECTED", "EXTERNAL")
				break
			}
			identity := ""
			if len(words) > 2 {
				identity = words[2]
			} else {
				if identity, err = p.challenge(); err != nil {
					return err
				}
			}
			if p.allowed(identity) {
				authed = true
				err = p.writeLine("OK", p.guid)
			} else {
				err = p.writeLine("REJECTED", "EXTERNAL")
			}

		case "NEGOTIATE_UNIX_FD":
			err = p.writeLine("ERROR", "fds are passed on the second socket")

		case "CANCEL", "ERROR":
			authed = false
			err = p.writeLine("REJECTED", "EXTERNAL")

		case "BEGIN":
			if !authed {
				return errors.New("BEGIN before authentication")
			}
			return nil

		default:
			err = p.writeLine("ERROR", "unknown", "command")
		}
		if err != nil {
			return err
		}
	}
	return errors.New("too many handshake lines")
}

// challenge asks for the identity that the client left out of its AUTH
// line. An empty answer means the credentials of the socket.
func (p *peer) challenge() (string, error) {
	if err := p.writeLine("DATA"); err != nil {
		return "", err
	}
	words, err := p.readLine()
	if err != nil {
		return "", err
	}
	if len(words) == 0 || words[0] != "DATA" {
		return "", fmt.Errorf("expected DATA, got %q", strings.Join(words, " "))
	}
	if len(words) > 1 {
		return words[1], nil
	}
	return "", nil
}

// allowed checks the hex encoded uid the client claims, if any, and the
// credentials of the socket against our own uid.
func (p *peer) allowed(identity string) bool {
	me := os.Getuid()
	if identity != "" {
		raw, err := hex.DecodeString(identity)
		if err != nil {
			return false
		}
		if string(raw) != strconv.Itoa(me) {
			logger.Warnf("%v claims uid %q", p, raw)
			return false
		}
	}

	uid, known, err := peerUID(p.conn)
	if err != nil {
		logger.Warnf("%v: reading peer credentials: %v", p, err)
		return false
	}
	if known && uid != me {
		logger.Warnf("%v belongs to uid %d", p, uid)
		return false
	}
	return true
}

////////////////////////////////////////////////////////////////////////
// Messages
////////////////////////////////////////////////////////////////////////

// serve reads method calls until the client goes away. Every call runs in
// its own goroutine so that Cancel is read while other calls block.
func (p *peer) serve() {
	for {
		msg, err := dbus.DecodeMessage(p.in)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debugf("%v: reading message: %v", p, err)
			}
			break
		}
		if msg.Type != dbus.TypeMethodCall {
			continue
		}
		p.calls.Add(1)
		go func() {
			defer p.calls.Done()
			p.handleCall(msg)
		}()
	}

	logger.Debugf("%v: disconnected", p)
	p.d.cancelSender(p.id)
	p.calls.Wait()
	p.close()
}

// send writes msg with the next serial of this connection.
func (p *peer) send(msg *dbus.Message) error {
	var buf bytes.Buffer
	if err := msg.EncodeTo(&buf, binary.LittleEndian); err != nil {
		return err
	}
	b := buf.Bytes()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.serial++
	binary.LittleEndian.PutUint32(b[8:12], p.serial)
	_, err := p.conn.Write(b)
	return err
}

func (p *peer) reply(call *dbus.Message, body ...interface{}) {
	if call.Flags&dbus.FlagNoReplyExpected != 0 {
		return
	}
	msg := &dbus.Message{
		Type: dbus.TypeMethodReply,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldReplySerial: dbus.MakeVariant(call.Serial()),
		},
		Body: body,
	}
	if len(body) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(body...))
	}
	if err := p.send(msg); err != nil {
		logger.Debugf("%v: sending reply: %v", p, err)
	}
}

func (p *peer) replyError(call *dbus.Message, e *dbus.Error) {
	if call.Flags&dbus.FlagNoReplyExpected != 0 {
		return
	}
	msg := &dbus.Message{
		Type: dbus.TypeError,
		Headers: map[dbus.HeaderField]dbus.Variant{
			dbus.FieldReplySerial: dbus.MakeVariant(call.Serial()),
			dbus.FieldErrorName:   dbus.MakeVariant(e.Name),
		},
		Body: e.Body,
	}
	if len(e.Body) > 0 {
		msg.Headers[dbus.FieldSignature] = dbus.MakeVariant(dbus.SignatureOf(e.Body...))
	}
	if err := p.send(msg); err != nil {
		logger.Debugf("%v: sending error: %v", p, err)
	}
}

// sendFD passes fd on the fd socket and returns the index the client
// uses to match it with the reply.
func (p *peer) sendFD(fd int) (uint32, error) {
	p.fdMu.Lock()
	defer p.fdMu.Unlock()

	if _, _, err := p.fdConn.WriteMsgUnix([]byte{0}, unix.UnixRights(fd), nil); err != nil {
		return 0, fmt.Errorf("passing fd: %w", err)
	}
	idx := p.nextFD
	p.nextFD++
	return idx, nil
}

func headerString(msg *dbus.Message, f dbus.HeaderField) string {
	v, ok := msg.Headers[f]
	if !ok {
		return ""
	}
	switch s := v.Value().(type) {
	case string:
		return s
	case dbus.ObjectPath:
		return string(s)
	}
	return ""
}

func (p *peer) handleCall(call *dbus.Message) {
	path := headerString(call, dbus.FieldPath)
	iface := headerString(call, dbus.FieldInterface)
	member := headerString(call, dbus.FieldMember)
	logger.Tracef("%v: call %s.%s on %s (serial %d)", p, iface, member, path, call.Serial())

	var derr *dbus.Error
	switch {
	case iface == DaemonInterface && member == "Cancel" && path == string(DaemonPath):
		derr = p.cancel(call)
	case iface == MountInterface && member == "OpenForRead":
		derr = p.openForRead(call, path)
	case iface == MountInterface && member == "OpenForWrite":
		derr = p.openForWrite(call, path)
	case iface == MountInterface && member == "QueryInfo":
		derr = p.queryInfo(call, path)
	case iface == MountInterface && member == "Unmount":
		derr = p.unmount(call, path)
	default:
		derr = dbus.NewError(errUnknownMethod, []interface{}{
			fmt.Sprintf("No such method %s.%s on %s", iface, member, path),
		})
	}
	if derr != nil {
		p.replyError(call, derr)
	}
}

func invalidArgs(err error) *dbus.Error {
	return dbus.NewError(errInvalidArgs, []interface{}{err.Error()})
}

func (p *peer) cancel(call *dbus.Message) *dbus.Error {
	var serial uint32
	if err := dbus.Store(call.Body, &serial); err != nil {
		return invalidArgs(err)
	}
	p.d.Cancel(p.id, serial)
	p.reply(call)
	return nil
}

// handOver passes fd to the client. The caller replies with the index.
func (p *peer) handOver(fd int) (dbus.UnixFDIndex, *dbus.Error) {
	idx, err := p.sendFD(fd)
	if err != nil {
		return 0, toDBusError(err)
	}
	return dbus.UnixFDIndex(idx), nil
}

func (p *peer) openForRead(call *dbus.Message, mountPath string) *dbus.Error {
	var (
		path []byte
		pid  uint32
	)
	if err := dbus.Store(call.Body, &path, &pid); err != nil {
		return invalidArgs(err)
	}

	fd, canSeek, finish, err := p.d.OpenForRead(context.Background(), mountPath, cleanPath(path), p.id, call.Serial())
	defer finish()
	if err != nil {
		return toDBusError(err)
	}
	idx, derr := p.handOver(fd)
	if derr != nil {
		return derr
	}
	p.reply(call, idx, canSeek)
	return nil
}

func (p *peer) openForWrite(call *dbus.Message, mountPath string) *dbus.Error {
	var (
		path       []byte
		mode       uint16
		etag       string
		makeBackup bool
		flags      uint32
		pid        uint32
	)
	if err := dbus.Store(call.Body, &path, &mode, &etag, &makeBackup, &flags, &pid); err != nil {
		return invalidArgs(err)
	}
	wm, err := writeMode(mode)
	if err != nil {
		return toDBusError(err)
	}

	req := backend.WriteRequest{
		Path:       cleanPath(path),
		Mode:       wm,
		Etag:       etag,
		MakeBackup: makeBackup,
		Flags:      flags,
	}
	fd, canSeek, offset, finish, err := p.d.OpenForWrite(context.Background(), mountPath, req, p.id, call.Serial())
	defer finish()
	if err != nil {
		return toDBusError(err)
	}
	idx, derr := p.handOver(fd)
	if derr != nil {
		return derr
	}
	p.reply(call, idx, canSeek, uint64(offset))
	return nil
}

func (p *peer) queryInfo(call *dbus.Message, mountPath string) *dbus.Error {
	var (
		path       []byte
		attributes string
		flags      uint32
	)
	if err := dbus.Store(call.Body, &path, &attributes, &flags); err != nil {
		return invalidArgs(err)
	}

	info, err := p.d.QueryInfo(context.Background(), mountPath, cleanPath(path), attributes, p.id, call.Serial())
	if err != nil {
		return toDBusError(err)
	}
	p.reply(call, info)
	return nil
}

func (p *peer) unmount(call *dbus.Message, mountPath string) *dbus.Error {
	var flags uint32
	if err := dbus.Store(call.Body, &flags); err != nil {
		return invalidArgs(err)
	}
	if err := p.d.Unmount(context.Background(), mountPath, p.id, call.Serial()); err != nil {
		return toDBusError(err)
	}
	p.reply(call)
	return nil
}
