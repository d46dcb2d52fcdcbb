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

package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

const defaultAsyncBufferSize = 1024

// asyncLogger hands writes to a background goroutine so that logging never
// blocks the request path. When the buffer is full the message is dropped.
type asyncLogger struct {
	w    io.Writer
	ch   chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsyncLogger wraps w. Close flushes the buffered messages and closes w
// if it is an io.Closer.
func NewAsyncLogger(w io.Writer, bufferSize int) *asyncLogger {
	a := &asyncLogger{
		w:    w,
		ch:   make(chan []byte, bufferSize),
		done: make(chan struct{}),
	}
	go a.loop()
	return a
}

func (a *asyncLogger) loop() {
	defer close(a.done)
	for msg := range a.ch {
		if _, err := a.w.Write(msg); err != nil {
			fmt.Fprintf(os.Stderr, "asynclogger: write failed: %v\n", err)
		}
	}
}

func (a *asyncLogger) Write(p []byte) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, os.ErrClosed
	}

	// p may be reused by the caller once Write returns.
	msg := make([]byte, len(p))
	copy(msg, p)
	select {
	case a.ch <- msg:
	default:
		fmt.Fprintln(os.Stderr, "asynclogger: log buffer is full, dropping message.")
	}
	return len(p), nil
}

func (a *asyncLogger) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()

		<-a.done
		if c, ok := a.w.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
