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
	"errors"
	"fmt"
	"io"
)

// MaxPayload bounds the payload a peer may announce in a single frame.
const MaxPayload = 64 << 20

// ErrPayloadTooLarge is returned by ReadRequest for a frame announcing more
// than MaxPayload bytes. The header is valid and the payload has already been
// skipped, so the stream can still be read.
var ErrPayloadTooLarge = errors.New("payload too large")

// WriteRequest writes a request frame. DataLen is taken from len(payload).
func WriteRequest(w io.Writer, h RequestHeader, payload []byte) error {
	h.DataLen = uint32(len(payload))
	if _, err := w.Write(h.Encode()); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadRequest reads one request frame: the header, then exactly DataLen
// payload bytes. An oversized payload is read and dropped, and the header is
// returned along with ErrPayloadTooLarge.
func ReadRequest(r io.Reader) (h RequestHeader, payload []byte, err error) {
	buf := make([]byte, RequestSize)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}

	if h, err = DecodeRequestHeader(buf); err != nil {
		return
	}

	if h.DataLen > MaxPayload {
		if _, err = io.CopyN(io.Discard, r, int64(h.DataLen)); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return
		}
		err = fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, h.DataLen)
		return
	}

	if h.DataLen > 0 {
		payload = make([]byte, h.DataLen)
		if _, err = io.ReadFull(r, payload); err != nil {
			return
		}
	}
	return
}

// ReadReply reads one reply frame and its body, if the reply type has one.
func ReadReply(r io.Reader) (h ReplyHeader, body []byte, err error) {
	buf := make([]byte, ReplySize)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}

	if h, err = DecodeReplyHeader(buf); err != nil {
		return
	}

	if n := h.BodyLen(); n > 0 {
		if n > MaxPayload {
			err = fmt.Errorf("%w: reply body of %d bytes", ErrMalformedFrame, n)
			return
		}
		body = make([]byte, n)
		if _, err = io.ReadFull(r, body); err != nil {
			return
		}
	}
	return
}
