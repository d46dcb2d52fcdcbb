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

package protocol

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDecodeRequestHeader_NetworkByteOrder(t *testing.T) {
	b := []byte{
		0, 0, 0, 7, // command
		0, 0, 1, 0, // seq_nr
		0, 0, 0x10, 0, // arg1
		0xff, 0, 0, 1, // arg2
		0, 0, 0, 9, // data_len
	}

	h, err := DecodeRequestHeader(b)

	require.NoError(t, err)
	assert.Equal(t, RequestHeader{Command: CommandQueryInfo, SeqNr: 256, Arg1: 4096, Arg2: 0xff000001, DataLen: 9}, h)
}

func TestDecodeRequestHeader_ShortInput(t *testing.T) {
	for _, n := range []int{0, 1, RequestSize - 1} {
		t.Run(fmt.Sprintf("len=%d", n), func(t *testing.T) {
			_, err := DecodeRequestHeader(make([]byte, n))

			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecodeRequestHeader_IgnoresUnknownCommand(t *testing.T) {
	h := RequestHeader{Command: 999, SeqNr: 3}

	got, err := DecodeRequestHeader(h.Encode())

	require.NoError(t, err)
	assert.Equal(t, Command(999), got.Command)
	assert.Equal(t, "Command(999)", got.Command.String())
}

func TestReplyHeaderEncode(t *testing.T) {
	h := ReplyHeader{Type: ReplyData, SeqNr: 2, Arg1: 4096, Arg2: 1}

	b := h.Encode()

	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 2, 0, 0, 0x10, 0, 0, 0, 0, 1}, b)
	back, err := DecodeReplyHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, back)
}

func TestReplyBodyLen(t *testing.T) {
	testCases := []struct {
		h        ReplyHeader
		expected uint32
	}{
		{ReplyHeader{Type: ReplyData, Arg1: 10, Arg2: 3}, 10},
		{ReplyHeader{Type: ReplyError, Arg1: 19, Arg2: 40}, 40},
		{ReplyHeader{Type: ReplyInfo, Arg2: 12}, 12},
		{ReplyHeader{Type: ReplyClosed, Arg2: 5}, 5},
		{ReplyHeader{Type: ReplySeekPos, Arg1: 1, Arg2: 1}, 0},
		{ReplyHeader{Type: ReplyWritten, Arg1: 100}, 0},
		{ReplyHeader{Type: ReplyTruncated}, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.h.Type.String(), func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.h.BodyLen())
		})
	}
}

func TestOffsetSplitAndJoin(t *testing.T) {
	for _, off := range []int64{0, 1, 1<<32 - 1, 1 << 32, 1<<40 + 17} {
		low, high := SplitOffset(off)
		h := RequestHeader{Arg1: low, Arg2: high}

		assert.Equal(t, off, h.Offset())
	}
}

func TestWriteAndReadRequest(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, WriteRequest(&buf, RequestHeader{Command: CommandWrite, SeqNr: 4}, []byte("hello")))
	require.NoError(t, WriteRequest(&buf, RequestHeader{Command: CommandCancel, SeqNr: 5, Arg1: 4}, nil))

	h, payload, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, CommandWrite, h.Command)
	assert.Equal(t, uint32(5), h.DataLen)
	assert.Equal(t, "hello", string(payload))

	h, payload, err = ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, CommandCancel, h.Command)
	assert.Equal(t, uint32(4), h.Arg1)
	assert.Empty(t, payload)

	_, _, err = ReadRequest(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestReadRequest_OversizedPayloadIsSkipped(t *testing.T) {
	big := RequestHeader{Command: CommandQueryInfo, SeqNr: 7, DataLen: MaxPayload + 1}
	var next bytes.Buffer
	require.NoError(t, WriteRequest(&next, RequestHeader{Command: CommandRead, SeqNr: 8, Arg1: 10}, nil))
	r := io.MultiReader(
		bytes.NewReader(big.Encode()),
		io.LimitReader(zeroReader{}, MaxPayload+1),
		&next)

	h, payload, err := ReadRequest(r)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Equal(t, uint32(7), h.SeqNr)
	assert.Nil(t, payload)

	h, _, err = ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, CommandRead, h.Command)
	assert.Equal(t, uint32(8), h.SeqNr)
}

func TestReadRequest_TruncatedPayload(t *testing.T) {
	testCases := []struct {
		name    string
		dataLen uint32
	}{
		{"small", 10},
		{"oversized", MaxPayload + 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := RequestHeader{Command: CommandWrite, SeqNr: 1, DataLen: tc.dataLen}
			r := io.MultiReader(bytes.NewReader(h.Encode()), bytes.NewReader([]byte("abc")))

			_, _, err := ReadRequest(r)

			assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		})
	}
}

func TestReadReply_WithBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(ReplyHeader{Type: ReplyData, SeqNr: 2, Arg1: 3}.Encode())
	buf.WriteString("abc")

	h, body, err := ReadReply(&buf)

	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.SeqNr)
	assert.Equal(t, "abc", string(body))
}

func TestReadReply_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(ReplyHeader{Type: ReplyData, SeqNr: 2, Arg1: 30}.Encode())
	buf.WriteString("abc")

	_, _, err := ReadReply(&buf)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestErrorPayloadRoundTrip(t *testing.T) {
	e := NewError(CodeNotFound, "No such file %q", "a.txt")

	decoded, err := DecodeErrorPayload(uint32(e.Code), e.EncodeErrorPayload())

	require.NoError(t, err)
	assert.Equal(t, e, decoded)
	assert.Equal(t, []byte("g-io-error-quark\x00No such file \"a.txt\"\x00"), e.EncodeErrorPayload())
}

func TestDecodeErrorPayload_Malformed(t *testing.T) {
	_, err := DecodeErrorPayload(0, []byte("only-domain"))

	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestErrorIs(t *testing.T) {
	decoded := &Error{Domain: IOErrorDomain, Code: CodeCancelled, Message: "stopped"}

	assert.ErrorIs(t, decoded, ErrCancelled)
	assert.NotErrorIs(t, decoded, ErrNotSupported)
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", decoded), ErrCancelled)
}

func TestToError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"context canceled", context.Canceled, CodeCancelled},
		{"deadline", context.DeadlineExceeded, CodeTimedOut},
		{"not exist", os.ErrNotExist, CodeNotFound},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: unix.ENOENT}, CodeNotFound},
		{"is dir", unix.EISDIR, CodeIsDirectory},
		{"no space", fmt.Errorf("write: %w", unix.ENOSPC), CodeNoSpace},
		{"permission", os.ErrPermission, CodePermissionDenied},
		{"unknown errno", unix.EXDEV, CodeFailed},
		{"plain", errors.New("boom"), CodeFailed},
		{"passthrough", NewError(CodeWrongEtag, "etag"), CodeWrongEtag},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := ToError(tc.err)

			require.NotNil(t, e)
			assert.Equal(t, IOErrorDomain, e.Domain)
			assert.Equal(t, tc.expected, e.Code)
		})
	}
	assert.Nil(t, ToError(nil))
}
