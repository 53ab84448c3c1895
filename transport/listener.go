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

package transport

import (
	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/list"
)

// ListenerImpl is the backend half a concrete transport supplies to
// ListenerBase: a blocking accept plus the bound address.  AcceptConn
// must unblock with an error once Close has been called.
type ListenerImpl interface {
	AcceptConn() (tensorpipe.Connection, error)
	Addr() string
	Close()
}

// ListenerBase serializes accept requests through the owning context's
// event loop, assigns each an increasing sequence number, invokes their
// callbacks strictly in that order, and converts close or failure into
// a terminal error delivered to every pending accept.
//
// Concrete transports embed a ListenerBase and call Start once their
// address is bound.
type ListenerBase struct {
	ctx     *tensorpipe.Context
	release func()
	unsub   uint64

	// Remaining fields are owned by the loop.
	impl      ListenerImpl
	id        string
	err       error
	nextSeq   uint64
	nextFire  uint64
	pending   list.List
	accepting bool
}

type acceptReq struct {
	seq  uint64
	cb   func(tensorpipe.Connection, error)
	node list.Node
}

// NewListenerBase creates the boilerplate bound to ctx.  The listener
// participates in context close from this point on, even before Start.
func NewListenerBase(ctx *tensorpipe.Context) *ListenerBase {
	b := &ListenerBase{ctx: ctx, release: ctx.Enroll()}
	b.pending.Init()
	b.unsub = ctx.Closing().Subscribe(func(err error) {
		ctx.Loop().Defer(func() { b.failFromLoop(err) })
	})
	return b
}

// Start hands the bound backend to the boilerplate and begins serving
// any accepts queued before the bind completed.
func (b *ListenerBase) Start(impl ListenerImpl) {
	b.ctx.Loop().RunInLoop(func() {
		b.impl = impl
		if b.err != nil {
			impl.Close()
			return
		}
		b.maybeAccept()
	})
}

// Accept registers cb for the next incoming connection.  Callbacks
// fire in registration order.
func (b *ListenerBase) Accept(cb func(tensorpipe.Connection, error)) {
	b.ctx.Loop().Defer(func() {
		seq := b.nextSeq
		b.nextSeq++
		if b.err != nil {
			b.fire(seq, cb, nil, b.err)
			return
		}
		req := &acceptReq{seq: seq, cb: cb}
		req.node.Value = req
		b.pending.InsertTail(&req.node)
		b.maybeAccept()
	})
}

// maybeAccept starts one backend accept when requests are waiting and
// none is in flight.  Runs on the loop.
func (b *ListenerBase) maybeAccept() {
	if b.impl == nil || b.accepting || b.pending.Empty() {
		return
	}
	b.accepting = true
	impl := b.impl
	go func() {
		conn, err := impl.AcceptConn()
		b.ctx.Loop().Defer(func() { b.accepted(conn, err) })
	}()
}

// accepted consumes one backend accept completion.  Runs on the loop.
func (b *ListenerBase) accepted(conn tensorpipe.Connection, err error) {
	b.accepting = false
	if b.err != nil {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		b.failFromLoop(errors.ConnectionError{Err: err})
		return
	}
	n := b.pending.RemoveHead()
	req := n.Value.(*acceptReq)
	b.fire(req.seq, req.cb, conn, nil)
	b.maybeAccept()
}

// fire invokes one accept callback, checking that callbacks leave in
// sequence order.  Runs on the loop.
func (b *ListenerBase) fire(seq uint64, cb func(tensorpipe.Connection, error), conn tensorpipe.Connection, err error) {
	if seq != b.nextFire {
		panic("transport: accept callback out of order")
	}
	b.nextFire++
	cb(conn, err)
}

// failFromLoop sets the sticky error and drains.  First error wins.
func (b *ListenerBase) failFromLoop(err error) {
	if b.err != nil {
		return
	}
	b.err = err
	for {
		n := b.pending.RemoveHead()
		if n == nil {
			break
		}
		req := n.Value.(*acceptReq)
		b.fire(req.seq, req.cb, nil, err)
	}
	if b.impl != nil {
		b.impl.Close()
	}
	b.ctx.Closing().Unsubscribe(b.unsub)
	b.release()
}

// Addr returns the bound address, empty before Start.
func (b *ListenerBase) Addr() string {
	var addr string
	b.ctx.Loop().RunInLoop(func() {
		if b.impl != nil {
			addr = b.impl.Addr()
		}
	})
	return addr
}

// SetID renames the listener for logging.  Takes effect on the loop.
func (b *ListenerBase) SetID(id string) {
	b.ctx.Loop().Defer(func() {
		b.id = id
		b.ctx.Logf("listener %s: renamed", id)
	})
}

// Close drains pending accepts with ErrListenerClosed.  Idempotent.
func (b *ListenerBase) Close() {
	b.ctx.Loop().Defer(func() { b.failFromLoop(errors.ErrListenerClosed) })
}
