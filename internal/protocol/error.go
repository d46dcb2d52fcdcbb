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
	"io/fs"

	"golang.org/x/sys/unix"
)

// IOErrorDomain is the error domain of every error code below.
const IOErrorDomain = "g-io-error-quark"

// ErrorCode is a code within IOErrorDomain.
type ErrorCode uint32

const (
	CodeFailed ErrorCode = iota
	CodeNotFound
	CodeExists
	CodeIsDirectory
	CodeNotDirectory
	CodeNotEmpty
	CodeNotRegularFile
	CodeNotSymbolicLink
	CodeNotMountableFile
	CodeFilenameTooLong
	CodeInvalidFilename
	CodeTooManyLinks
	CodeNoSpace
	CodeInvalidArgument
	CodePermissionDenied
	CodeNotSupported
	CodeNotMounted
	CodeAlreadyMounted
	CodeClosed
	CodeCancelled
	CodePending
	CodeReadOnly
	CodeCantCreateBackup
	CodeWrongEtag
	CodeTimedOut
	CodeWouldRecurse
	CodeBusy
	CodeWouldBlock
	CodeHostNotFound
	CodeWouldMerge
	CodeFailedHandled
	CodeTooManyOpenFiles
)

// Error is a domain/code/message triple. It is what travels in ERROR replies
// and what daemon bootstrap errors are converted into.
type Error struct {
	Domain  string
	Code    ErrorCode
	Message string
}

// NewError returns an IOErrorDomain error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Domain:  IOErrorDomain,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same domain and code, so that
// errors.Is(err, ErrCancelled) works on errors decoded off the wire.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Domain == t.Domain && e.Code == t.Code
}

// ErrCancelled is the error reported for cancelled requests.
var ErrCancelled = NewError(CodeCancelled, "Operation was cancelled")

// ErrNotSupported is the error reported when a backend lacks the capability a
// request needs.
var ErrNotSupported = NewError(CodeNotSupported, "Operation not supported")

// EncodeErrorPayload returns the body of an ERROR reply: the domain and the
// message, each NUL terminated.
func (e *Error) EncodeErrorPayload() []byte {
	var b bytes.Buffer
	b.WriteString(e.Domain)
	b.WriteByte(0)
	b.WriteString(e.Message)
	b.WriteByte(0)
	return b.Bytes()
}

// DecodeErrorPayload rebuilds the error carried by an ERROR reply from its
// code (the reply's Arg1) and body.
func DecodeErrorPayload(code uint32, body []byte) (*Error, error) {
	parts := bytes.SplitN(body, []byte{0}, 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: error payload is not two NUL terminated strings", ErrMalformedFrame)
	}

	return &Error{
		Domain:  string(parts[0]),
		Code:    ErrorCode(code),
		Message: string(parts[1]),
	}, nil
}

var errnoCodes = map[unix.Errno]ErrorCode{
	unix.ENOENT:       CodeNotFound,
	unix.EEXIST:       CodeExists,
	unix.EISDIR:       CodeIsDirectory,
	unix.ENOTDIR:      CodeNotDirectory,
	unix.ENOTEMPTY:    CodeNotEmpty,
	unix.ENAMETOOLONG: CodeFilenameTooLong,
	unix.EMLINK:       CodeTooManyLinks,
	unix.ENOSPC:       CodeNoSpace,
	unix.EINVAL:       CodeInvalidArgument,
	unix.EACCES:       CodePermissionDenied,
	unix.EPERM:        CodePermissionDenied,
	unix.ENOTSUP:      CodeNotSupported,
	unix.EROFS:        CodeReadOnly,
	unix.ETIMEDOUT:    CodeTimedOut,
	unix.ELOOP:        CodeTooManyLinks,
	unix.EBUSY:        CodeBusy,
	unix.EAGAIN:       CodeWouldBlock,
	unix.EMFILE:       CodeTooManyOpenFiles,
	unix.ENFILE:       CodeTooManyOpenFiles,
	unix.ECANCELED:    CodeCancelled,
}

// ToError converts an arbitrary error into an *Error suitable for an ERROR
// reply. Backend errors that already are *Error values pass through
// unchanged.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(CodeTimedOut, "%v", err)
	}

	var errno unix.Errno
	if errors.As(err, &errno) {
		if code, ok := errnoCodes[errno]; ok {
			return NewError(code, "%v", err)
		}
		return NewError(CodeFailed, "%v", err)
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return NewError(CodeNotFound, "%v", err)
	case errors.Is(err, fs.ErrExist):
		return NewError(CodeExists, "%v", err)
	case errors.Is(err, fs.ErrPermission):
		return NewError(CodePermissionDenied, "%v", err)
	case errors.Is(err, fs.ErrClosed):
		return NewError(CodeClosed, "%v", err)
	case errors.Is(err, fs.ErrInvalid):
		return NewError(CodeInvalidArgument, "%v", err)
	}

	return NewError(CodeFailed, "%v", err)
}
