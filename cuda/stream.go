// Copyright 2026 The Tensorpipe-Go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cuda

import (
	"sync"

	"github.com/lw/tensorpipe/internal/loop"
)

// Stream executes enqueued work items one at a time in enqueue order,
// the ordering contract device streams give.  Items may block, which
// stalls the stream but never the caller.
type Stream struct {
	l *loop.Loop
}

// NewStream creates a stream and starts its worker.
func NewStream() *Stream {
	return &Stream{l: loop.New()}
}

// Enqueue appends one work item.
func (s *Stream) Enqueue(fn func()) {
	s.l.Defer(fn)
}

// Synchronize blocks until every item enqueued so far has run.
func (s *Stream) Synchronize() {
	s.l.RunInLoop(func() {})
}

// Destroy drains the stream and stops its worker.
func (s *Stream) Destroy() {
	s.l.Join()
}

// Event is a one-shot marker recorded on one stream and awaited on
// others, possibly in another process via its IPC handle.
type Event struct {
	id   uint64
	once sync.Once
	done chan struct{}
}

// Record enqueues the event's firing on s: the event becomes set once
// all work enqueued on s before this call has run.
func (e *Event) Record(s *Stream) {
	s.Enqueue(func() { e.fire() })
}

func (e *Event) fire() {
	e.once.Do(func() { close(e.done) })
}

// WaitOn stalls s until the event has been set.
func (e *Event) WaitOn(s *Stream) {
	s.Enqueue(func() { <-e.done })
}

// Wait blocks the caller until the event has been set.
func (e *Event) Wait() {
	<-e.done
}

// IpcHandle returns the opaque handle a peer passes to OpenIpcEvent.
func (e *Event) IpcHandle() []byte {
	return encodeHandle(e.id)
}
