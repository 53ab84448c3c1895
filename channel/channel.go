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

// Package channel holds the boilerplate shared by every channel
// backend: the sticky error slot, close and context-close handling,
// the logging identity, and the context enrollment.  Backends embed a
// Base and supply the per-direction state machines.
package channel

import (
	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
)

// Base is the backend-independent half of a channel.  Init, Ctx,
// FailLater, SetID and Close may be called from any goroutine; the
// other methods must run on the owning context's loop.
type Base struct {
	ctx     *tensorpipe.Context
	id      string
	err     error
	onError func()
	unsub   uint64
	release func()
}

// Init attaches the base to ctx.  onError is the backend's drain: it
// runs once, on the loop, as its own task after the error slot has
// been set, and is expected to advance both queues through their error
// transitions and close the control connections.
func (b *Base) Init(ctx *tensorpipe.Context, onError func()) {
	b.ctx = ctx
	b.onError = onError
	b.release = ctx.Enroll()
	b.unsub = ctx.Closing().Subscribe(func(err error) {
		ctx.Loop().Defer(func() { b.SetError(err) })
	})
}

// Ctx returns the owning context.
func (b *Base) Ctx() *tensorpipe.Context { return b.ctx }

// SetError writes the sticky error slot.  The first error wins; later
// calls are no-ops.  The backend drain is scheduled as a separate loop
// task, so a SetError from inside a transition action never reenters
// the queue walk that triggered it.  Loop only.
func (b *Base) SetError(err error) {
	if b.err != nil || err == nil {
		return
	}
	b.err = err
	b.ctx.Logf("channel %s: failed: %v", b.id, err)
	b.ctx.Loop().Defer(func() {
		b.onError()
		b.ctx.Closing().Unsubscribe(b.unsub)
		b.release()
	})
}

// FailLater schedules SetError from anywhere.
func (b *Base) FailLater(err error) {
	b.ctx.Loop().Defer(func() { b.SetError(err) })
}

// Error returns the sticky error, nil while the channel is healthy.
// Loop only.
func (b *Base) Error() error { return b.err }

// Failed reports whether the error slot is set.  Loop only.
func (b *Base) Failed() bool { return b.err != nil }

// SetID renames the channel for logging.  Takes effect on the loop.
func (b *Base) SetID(id string) {
	b.ctx.Loop().Defer(func() {
		b.id = id
		b.ctx.Logf("channel %s: renamed", id)
	})
}

// ID returns the logging name.  Loop only.
func (b *Base) ID() string { return b.id }

// Close fails the channel with ErrChannelClosed, draining every
// pending and future operation with that error.  Idempotent.
func (b *Base) Close() {
	b.ctx.Loop().Defer(func() { b.SetError(errors.ErrChannelClosed) })
}
