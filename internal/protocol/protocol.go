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

// Package protocol defines the binary framing spoken over the private data
// socket that a client receives when it opens a file on a mount.
//
// Every request starts with a fixed RequestSize header, optionally followed by
// DataLen bytes of payload. Every reply starts with a fixed ReplySize header,
// optionally followed by a body whose length depends on the reply type. All
// integers are big-endian.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// RequestSize is the size in bytes of an encoded RequestHeader.
	RequestSize = 20

	// ReplySize is the size in bytes of an encoded ReplyHeader.
	ReplySize = 16
)

// ErrMalformedFrame is returned when fewer bytes than a full header were
// supplied to a decoder.
var ErrMalformedFrame = errors.New("malformed frame")

// Command identifies the operation carried by a request.
type Command uint32

const (
	CommandRead Command = iota
	CommandClose
	CommandCancel
	CommandSeekCur
	CommandSeekSet
	CommandSeekEnd
	CommandWrite
	CommandQueryInfo
	CommandTruncate
)

var commandNames = map[Command]string{
	CommandRead:      "READ",
	CommandClose:     "CLOSE",
	CommandCancel:    "CANCEL",
	CommandSeekCur:   "SEEK_CUR",
	CommandSeekSet:   "SEEK_SET",
	CommandSeekEnd:   "SEEK_END",
	CommandWrite:     "WRITE",
	CommandQueryInfo: "QUERY_INFO",
	CommandTruncate:  "TRUNCATE",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}

// IsSeek reports whether c is one of the three seek commands.
func (c Command) IsSeek() bool {
	return c == CommandSeekCur || c == CommandSeekSet || c == CommandSeekEnd
}

// ReplyType identifies the kind of a reply.
type ReplyType uint32

const (
	ReplyData ReplyType = iota
	ReplyError
	ReplySeekPos
	ReplyWritten
	ReplyClosed
	ReplyInfo
	ReplyTruncated
)

var replyNames = map[ReplyType]string{
	ReplyData:      "DATA",
	ReplyError:     "ERROR",
	ReplySeekPos:   "SEEK_POS",
	ReplyWritten:   "WRITTEN",
	ReplyClosed:    "CLOSED",
	ReplyInfo:      "INFO",
	ReplyTruncated: "TRUNCATED",
}

func (t ReplyType) String() string {
	if name, ok := replyNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ReplyType(%d)", uint32(t))
}

// RequestHeader is the fixed part of a request frame.
//
// SeqNr 0 is reserved for requests the daemon issues to itself (read-ahead and
// the close issued when the client goes away). CANCEL carries the sequence
// number of its target in Arg1.
type RequestHeader struct {
	Command Command
	SeqNr   uint32
	Arg1    uint32
	Arg2    uint32
	DataLen uint32
}

// DecodeRequestHeader parses the first RequestSize bytes of b.
func DecodeRequestHeader(b []byte) (h RequestHeader, err error) {
	if len(b) < RequestSize {
		err = fmt.Errorf("%w: request header needs %d bytes, got %d", ErrMalformedFrame, RequestSize, len(b))
		return
	}

	h.Command = Command(binary.BigEndian.Uint32(b[0:]))
	h.SeqNr = binary.BigEndian.Uint32(b[4:])
	h.Arg1 = binary.BigEndian.Uint32(b[8:])
	h.Arg2 = binary.BigEndian.Uint32(b[12:])
	h.DataLen = binary.BigEndian.Uint32(b[16:])
	return
}

// Encode returns the wire form of h.
func (h RequestHeader) Encode() []byte {
	b := make([]byte, RequestSize)
	binary.BigEndian.PutUint32(b[0:], uint32(h.Command))
	binary.BigEndian.PutUint32(b[4:], h.SeqNr)
	binary.BigEndian.PutUint32(b[8:], h.Arg1)
	binary.BigEndian.PutUint32(b[12:], h.Arg2)
	binary.BigEndian.PutUint32(b[16:], h.DataLen)
	return b
}

// Offset joins Arg1 (low word) and Arg2 (high word) into a 64-bit value, the
// layout used by seek and truncate requests.
func (h RequestHeader) Offset() int64 {
	return int64(uint64(h.Arg1) | uint64(h.Arg2)<<32)
}

// ReplyHeader is the fixed part of a reply frame.
type ReplyHeader struct {
	Type  ReplyType
	SeqNr uint32
	Arg1  uint32
	Arg2  uint32
}

// Encode returns the wire form of h.
func (h ReplyHeader) Encode() []byte {
	b := make([]byte, ReplySize)
	binary.BigEndian.PutUint32(b[0:], uint32(h.Type))
	binary.BigEndian.PutUint32(b[4:], h.SeqNr)
	binary.BigEndian.PutUint32(b[8:], h.Arg1)
	binary.BigEndian.PutUint32(b[12:], h.Arg2)
	return b
}

// DecodeReplyHeader parses the first ReplySize bytes of b.
func DecodeReplyHeader(b []byte) (h ReplyHeader, err error) {
	if len(b) < ReplySize {
		err = fmt.Errorf("%w: reply header needs %d bytes, got %d", ErrMalformedFrame, ReplySize, len(b))
		return
	}

	h.Type = ReplyType(binary.BigEndian.Uint32(b[0:]))
	h.SeqNr = binary.BigEndian.Uint32(b[4:])
	h.Arg1 = binary.BigEndian.Uint32(b[8:])
	h.Arg2 = binary.BigEndian.Uint32(b[12:])
	return
}

// BodyLen returns how many bytes follow a reply with header h.
func (h ReplyHeader) BodyLen() uint32 {
	switch h.Type {
	case ReplyData:
		return h.Arg1
	case ReplyError, ReplyInfo, ReplyClosed:
		return h.Arg2
	default:
		return 0
	}
}

// Offset joins Arg1 (low word) and Arg2 (high word), the layout of SEEK_POS
// replies.
func (h ReplyHeader) Offset() int64 {
	return int64(uint64(h.Arg1) | uint64(h.Arg2)<<32)
}

// SplitOffset is the inverse of Offset.
func SplitOffset(off int64) (low, high uint32) {
	return uint32(uint64(off) & 0xffffffff), uint32(uint64(off) >> 32)
}
