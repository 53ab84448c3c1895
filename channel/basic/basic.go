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

// Package basic implements the fallback channel: host buffers move as
// payload messages over the single control connection.  It works over
// any transport and needs no descriptor contents, which makes it the
// reference backend for the operation pipeline.
package basic

import (
	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/channel"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/opqueue"
)

const (
	sendUninit opqueue.State = iota
	sendWritingPayload
	sendFinished
)

const (
	recvUninit opqueue.State = iota
	recvReadingPayload
	recvFinished
)

type sendOp struct {
	opqueue.OpBase
	cb          func(error)
	buf         tensorpipe.HostBuffer
	doneWriting bool
}

type recvOp struct {
	opqueue.OpBase
	cb          func(error)
	buf         tensorpipe.HostBuffer
	doneReading bool
}

type channelImpl struct {
	base    channel.Base
	conn    tensorpipe.Connection
	sendOps *opqueue.Queue
	recvOps *opqueue.Queue
}

// New creates a basic channel endpoint over conn.  Both endpoints must
// pass the two ends of the same connection.
func New(ctx *tensorpipe.Context, conn tensorpipe.Connection) tensorpipe.Channel {
	ch := &channelImpl{conn: conn}
	ch.sendOps = opqueue.New(sendFinished, ch.advanceSend)
	ch.recvOps = opqueue.New(recvFinished, ch.advanceRecv)
	ch.base.Init(ctx, ch.handleError)
	return ch
}

// Send submits buf for transfer.  The descriptor is empty: the payload
// itself travels on the control connection, matched to the receive by
// submission order.
func (ch *channelImpl) Send(buf tensorpipe.Buffer, cb func(error)) ([]byte, error) {
	hbuf, ok := buf.(tensorpipe.HostBuffer)
	if !ok {
		return nil, errors.ErrBadBuffer
	}
	var err error
	ch.base.Ctx().Loop().RunInLoop(func() {
		op := &sendOp{cb: cb, buf: hbuf}
		ch.sendOps.EmplaceBack(op)
		if ch.base.Failed() {
			err = ch.base.Error()
		}
		ch.sendOps.Advance(op)
	})
	if err != nil {
		return nil, err
	}
	return []byte{}, nil
}

func (ch *channelImpl) Recv(desc []byte, buf tensorpipe.Buffer, cb func(error)) {
	ch.base.Ctx().Loop().Defer(func() {
		op := &recvOp{cb: cb}
		ch.recvOps.EmplaceBack(op)
		hbuf, ok := buf.(tensorpipe.HostBuffer)
		if !ok {
			ch.base.SetError(errors.ErrBadBuffer)
		} else if len(desc) != 0 {
			ch.base.SetError(errors.ErrProtocol)
		} else {
			op.buf = hbuf
		}
		ch.recvOps.Advance(op)
	})
}

func (ch *channelImpl) advanceSend(o opqueue.Operation, prev opqueue.State) {
	op := o.(*sendOp)
	ch.sendOps.AttemptTransition(op, sendUninit, sendFinished,
		ch.base.Failed() && prev >= sendFinished,
		func() { ch.callSendCallback(op) })
	ch.sendOps.AttemptTransition(op, sendUninit, sendWritingPayload,
		!ch.base.Failed() && prev >= sendWritingPayload,
		func() { ch.writePayload(op) })
	ch.sendOps.AttemptTransition(op, sendWritingPayload, sendFinished,
		op.doneWriting && prev >= sendFinished,
		func() { ch.callSendCallback(op) })
}

func (ch *channelImpl) advanceRecv(o opqueue.Operation, prev opqueue.State) {
	op := o.(*recvOp)
	ch.recvOps.AttemptTransition(op, recvUninit, recvFinished,
		ch.base.Failed() && prev >= recvFinished,
		func() { ch.callRecvCallback(op) })
	ch.recvOps.AttemptTransition(op, recvUninit, recvReadingPayload,
		!ch.base.Failed() && prev >= recvReadingPayload,
		func() { ch.readPayload(op) })
	ch.recvOps.AttemptTransition(op, recvReadingPayload, recvFinished,
		op.doneReading && prev >= recvFinished,
		func() { ch.callRecvCallback(op) })
}

func (ch *channelImpl) writePayload(op *sendOp) {
	ch.conn.Write(op.buf.Data, func(err error) {
		ch.base.Ctx().Loop().Defer(func() {
			op.doneWriting = true
			if err != nil {
				ch.base.SetError(errors.ConnectionError{Err: err})
			}
			ch.sendOps.Advance(op)
		})
	})
}

func (ch *channelImpl) readPayload(op *recvOp) {
	ch.conn.Read(func(data []byte, err error) {
		ch.base.Ctx().Loop().Defer(func() {
			op.doneReading = true
			if err != nil {
				ch.base.SetError(errors.ConnectionError{Err: err})
			} else if len(data) != len(op.buf.Data) {
				ch.base.SetError(errors.ErrProtocol)
			} else {
				copy(op.buf.Data, data)
			}
			ch.recvOps.Advance(op)
		})
	})
}

func (ch *channelImpl) callSendCallback(op *sendOp) {
	cb := op.cb
	op.cb = nil
	if cb != nil {
		cb(ch.base.Error())
	}
}

func (ch *channelImpl) callRecvCallback(op *recvOp) {
	cb := op.cb
	op.cb = nil
	if cb != nil {
		cb(ch.base.Error())
	}
}

func (ch *channelImpl) handleError() {
	ch.sendOps.AdvanceAll()
	ch.recvOps.AdvanceAll()
	ch.conn.Close()
}

func (ch *channelImpl) SetID(id string) { ch.base.SetID(id) }

func (ch *channelImpl) Close() { ch.base.Close() }
