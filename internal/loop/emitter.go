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

package loop

import "sync"

// ClosingEmitter is a one-shot broadcast fired when the owning context
// shuts down.  Channels and listeners subscribe so that a context-wide
// close converts into a per-object error.  Subscribing after the
// emitter has fired invokes the callback immediately.
type ClosingEmitter struct {
	mu    sync.Mutex
	fired bool
	err   error
	next  uint64
	subs  map[uint64]func(error)
}

// Subscribe registers fn and returns a token for Unsubscribe.  fn is
// invoked at most once.
func (e *ClosingEmitter) Subscribe(fn func(error)) uint64 {
	e.mu.Lock()
	if e.fired {
		err := e.err
		e.mu.Unlock()
		fn(err)
		return 0
	}
	if e.subs == nil {
		e.subs = make(map[uint64]func(error))
	}
	e.next++
	id := e.next
	e.subs[id] = fn
	e.mu.Unlock()
	return id
}

// Unsubscribe removes a previously registered callback.  Safe to call
// with a token that already fired or was never issued.
func (e *ClosingEmitter) Unsubscribe(id uint64) {
	e.mu.Lock()
	delete(e.subs, id)
	e.mu.Unlock()
}

// Close fires every registered callback with err.  Only the first call
// has any effect.
func (e *ClosingEmitter) Close(err error) {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		return
	}
	e.fired = true
	e.err = err
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}
