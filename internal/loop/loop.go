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

// Package loop provides the single-goroutine serializer that owns all
// mutable channel and listener state.  Tasks are either deferred
// (fire-and-forget) or run synchronously, blocking the caller until the
// loop has executed them.  The loop goroutine never blocks on I/O;
// asynchronous completions post back into it.
package loop

import (
	"sync"

	"github.com/eapache/queue"
)

// Loop is a single-goroutine task serializer.
type Loop struct {
	mu     sync.Mutex
	cv     *sync.Cond
	tasks  *queue.Queue
	gid    uint64
	closed bool
	joined chan struct{}
}

// New creates a Loop and starts its goroutine.
func New() *Loop {
	l := &Loop{
		tasks:  queue.New(),
		joined: make(chan struct{}),
	}
	l.cv = sync.NewCond(&l.mu)
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *Loop) run(started chan<- struct{}) {
	l.mu.Lock()
	l.gid = curGoroutineID()
	l.mu.Unlock()
	close(started)

	l.mu.Lock()
	for {
		for l.tasks.Length() == 0 && !l.closed {
			l.cv.Wait()
		}
		if l.tasks.Length() == 0 {
			// Closed and fully drained.
			break
		}
		fn := l.tasks.Remove().(func())
		l.mu.Unlock()
		fn()
		l.mu.Lock()
	}
	l.mu.Unlock()
	close(l.joined)
}

// Defer enqueues fn to run on the loop goroutine.  Tasks run in the
// order they were deferred.  Deferring after Join has completed is a
// programming error; the task is silently dropped.
func (l *Loop) Defer(fn func()) {
	l.mu.Lock()
	if l.closed && l.drained() {
		l.mu.Unlock()
		return
	}
	l.tasks.Add(fn)
	l.cv.Signal()
	l.mu.Unlock()
}

func (l *Loop) drained() bool {
	select {
	case <-l.joined:
		return true
	default:
		return false
	}
}

// RunInLoop runs fn on the loop, blocking the caller until it returns.
// When called from the loop goroutine itself it runs fn immediately;
// deferring would deadlock.
func (l *Loop) RunInLoop(fn func()) {
	if l.InLoop() {
		fn()
		return
	}
	done := make(chan struct{})
	l.Defer(func() {
		fn()
		close(done)
	})
	<-done
}

// InLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) InLoop() bool {
	l.mu.Lock()
	gid := l.gid
	l.mu.Unlock()
	return curGoroutineID() == gid
}

// Close stops the loop after the already-queued tasks have run.  It
// does not wait; use Join for that.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cv.Signal()
	l.mu.Unlock()
}

// Join closes the loop and blocks until every queued task has run and
// the loop goroutine has exited.  Must not be called from the loop.
func (l *Loop) Join() {
	if l.InLoop() {
		panic("loop: Join called from the loop goroutine")
	}
	l.Close()
	<-l.joined
}
