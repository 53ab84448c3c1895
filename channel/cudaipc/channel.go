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

// Package cudaipc implements a channel that moves device buffers
// between two processes on the same machine through CUDA IPC memory
// handles, without staging through host memory.  The descriptor carries
// the source allocation's IPC handle and a start event; the receiver
// maps the allocation, waits for the start event on its own stream,
// enqueues a device-to-device copy, and replies with a stop event the
// sender's stream waits on before the source buffer may be reused.
//
// The channel uses two control connections.  The reply connection
// carries replies for this endpoint's sends (read side) and for the
// peer's sends (write side); the ack connection carries the matching
// acknowledgements the other way.  Both endpoints pass the same pair,
// each connection serving one direction's replies and the other's acks.
package cudaipc

import (
	"fmt"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/channel"
	"github.com/lw/tensorpipe/cuda"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/opqueue"
)

const (
	sendUninit opqueue.State = iota
	sendReadingReply
	sendFinished
)

const (
	recvUninit opqueue.State = iota
	recvReadingAck
	recvFinished
)

type sendOp struct {
	opqueue.OpBase
	cb               func(error)
	buf              cuda.Buffer
	device           int
	stopEvHandle     []byte
	doneReadingReply bool
}

type recvOp struct {
	opqueue.OpBase
	cb            func(error)
	buf           cuda.Buffer
	device        int
	allocationID  string
	memHandle     []byte
	offset        uint64
	startEvHandle []byte
	stopEv        *cuda.Event
	doneReadingAck bool
}

type channelImpl struct {
	base      channel.Base
	lib       cuda.Lib
	replyConn tensorpipe.Connection
	ackConn   tensorpipe.Connection
	sendOps   *opqueue.Queue
	recvOps   *opqueue.Queue

	// Allocations opened through IpcOpenMemHandle, keyed by the
	// peer's allocation identifier.  Opening a handle twice for the
	// same allocation is an error in the driver, so the first open
	// is reused for the allocation's lifetime.
	allocCache map[string]cuda.Ptr
}

// New creates a CUDA IPC channel endpoint over the given pair of
// control connections, driven by lib.  Both endpoints must pass the
// same two connections, reply first.
func New(ctx *tensorpipe.Context, lib cuda.Lib, replyConn, ackConn tensorpipe.Connection) tensorpipe.Channel {
	ch := &channelImpl{
		lib:        lib,
		replyConn:  replyConn,
		ackConn:    ackConn,
		allocCache: make(map[string]cuda.Ptr),
	}
	ch.sendOps = opqueue.New(sendFinished, ch.advanceSend)
	ch.recvOps = opqueue.New(recvFinished, ch.advanceRecv)
	ch.base.Init(ctx, ch.handleError)
	return ch
}

// Send submits buf and synchronously builds the descriptor.  The
// descriptor creation records a start event on the buffer's stream and
// exports the allocation's IPC handle, which must happen before the
// caller conveys the descriptor, so it runs inline on the loop.
func (ch *channelImpl) Send(buf tensorpipe.Buffer, cb func(error)) ([]byte, error) {
	cbuf, ok := buf.(cuda.Buffer)
	if !ok {
		return nil, errors.ErrBadBuffer
	}
	var desc []byte
	var err error
	ch.base.Ctx().Loop().RunInLoop(func() {
		desc, err = ch.sendFromLoop(cbuf, cb)
	})
	return desc, err
}

func (ch *channelImpl) sendFromLoop(buf cuda.Buffer, cb func(error)) ([]byte, error) {
	op := &sendOp{cb: cb, buf: buf}
	ch.sendOps.EmplaceBack(op)
	if ch.base.Failed() {
		err := ch.base.Error()
		ch.sendOps.Advance(op)
		return nil, err
	}
	desc, err := ch.makeDescriptor(op)
	if err != nil {
		ch.base.SetError(err)
		ch.sendOps.Advance(op)
		return nil, err
	}
	ch.sendOps.Advance(op)
	return desc, nil
}

func (ch *channelImpl) makeDescriptor(op *sendOp) ([]byte, error) {
	startEv, err := ch.lib.NewEvent()
	if err != nil {
		return nil, errors.DeviceError{Err: err}
	}
	startEv.Record(op.buf.Stream)
	base, _, err := ch.lib.GetAddressRange(op.buf.Ptr)
	if err != nil {
		return nil, errors.DeviceError{Err: err}
	}
	bufID, err := ch.lib.BufferID(base)
	if err != nil {
		return nil, errors.DeviceError{Err: err}
	}
	memHandle, err := ch.lib.IpcGetMemHandle(base)
	if err != nil {
		return nil, errors.DeviceError{Err: err}
	}
	op.device, err = ch.lib.DeviceForPointer(op.buf.Ptr)
	if err != nil {
		return nil, errors.DeviceError{Err: err}
	}
	d := descriptor{
		allocationID:  fmt.Sprintf("%s_%d", ch.base.Ctx().ProcessIdentifier(), bufID),
		memHandle:     memHandle,
		offset:        uint64(op.buf.Ptr) - uint64(base),
		startEvHandle: startEv.IpcHandle(),
	}
	return encodeDescriptor(d), nil
}

// Recv submits a receive matching the given descriptor.
func (ch *channelImpl) Recv(desc []byte, buf tensorpipe.Buffer, cb func(error)) {
	ch.base.Ctx().Loop().Defer(func() {
		op := &recvOp{cb: cb}
		ch.recvOps.EmplaceBack(op)
		cbuf, ok := buf.(cuda.Buffer)
		if !ok {
			ch.base.SetError(errors.ErrBadBuffer)
			ch.recvOps.Advance(op)
			return
		}
		op.buf = cbuf
		d, err := decodeDescriptor(desc)
		if err != nil {
			ch.base.SetError(err)
			ch.recvOps.Advance(op)
			return
		}
		op.allocationID = d.allocationID
		op.memHandle = d.memHandle
		op.offset = d.offset
		op.startEvHandle = d.startEvHandle
		op.device, err = ch.lib.DeviceForPointer(cbuf.Ptr)
		if err != nil {
			ch.base.SetError(errors.DeviceError{Err: err})
		}
		ch.recvOps.Advance(op)
	})
}

func (ch *channelImpl) advanceSend(o opqueue.Operation, prev opqueue.State) {
	op := o.(*sendOp)
	ch.sendOps.AttemptTransition(op, sendUninit, sendFinished,
		ch.base.Failed() && prev >= sendFinished,
		func() { ch.callSendCallback(op) })
	ch.sendOps.AttemptTransition(op, sendUninit, sendReadingReply,
		!ch.base.Failed() && prev >= sendReadingReply,
		func() { ch.readReply(op) })
	ch.sendOps.AttemptTransition(op, sendReadingReply, sendFinished,
		ch.base.Failed() && op.doneReadingReply && prev >= sendFinished,
		func() { ch.callSendCallback(op) })
	ch.sendOps.AttemptTransition(op, sendReadingReply, sendFinished,
		!ch.base.Failed() && op.doneReadingReply && prev >= sendFinished,
		func() { ch.waitOnStopEvent(op) },
		func() { ch.callSendCallback(op) },
		func() { ch.writeAck(op) })
}

func (ch *channelImpl) advanceRecv(o opqueue.Operation, prev opqueue.State) {
	op := o.(*recvOp)
	ch.recvOps.AttemptTransition(op, recvUninit, recvFinished,
		ch.base.Failed() && prev >= recvReadingAck,
		func() { ch.callRecvCallback(op) })
	ch.recvOps.AttemptTransition(op, recvUninit, recvReadingAck,
		!ch.base.Failed() && prev >= recvReadingAck,
		func() { ch.copyFromPeer(op) },
		func() { ch.callRecvCallback(op) },
		func() { ch.writeReplyAndReadAck(op) })
	ch.recvOps.AttemptTransition(op, recvReadingAck, recvFinished,
		op.doneReadingAck)
}

func (ch *channelImpl) readReply(op *sendOp) {
	ch.replyConn.Read(func(data []byte, err error) {
		ch.base.Ctx().Loop().Defer(func() {
			op.doneReadingReply = true
			if err != nil {
				ch.base.SetError(errors.ConnectionError{Err: err})
			} else if h, derr := decodeReply(data); derr != nil {
				ch.base.SetError(derr)
			} else {
				op.stopEvHandle = h
			}
			ch.sendOps.Advance(op)
		})
	})
}

func (ch *channelImpl) waitOnStopEvent(op *sendOp) {
	ev, err := ch.lib.OpenIpcEvent(op.stopEvHandle)
	if err != nil {
		ch.base.SetError(errors.DeviceError{Err: err})
		return
	}
	ev.WaitOn(op.buf.Stream)
}

func (ch *channelImpl) writeAck(op *sendOp) {
	ch.ackConn.Write(encodeAck(), func(err error) {
		if err != nil {
			ch.base.FailLater(errors.ConnectionError{Err: err})
		}
	})
}

// copyFromPeer maps the peer allocation, orders the copy after the
// peer's start event, enqueues the device-to-device copy on the
// destination stream and records the stop event behind it.
func (ch *channelImpl) copyFromPeer(op *recvOp) {
	startEv, err := ch.lib.OpenIpcEvent(op.startEvHandle)
	if err != nil {
		ch.base.SetError(errors.DeviceError{Err: err})
		return
	}
	startEv.WaitOn(op.buf.Stream)
	base, ok := ch.allocCache[op.allocationID]
	if !ok {
		base, err = ch.lib.IpcOpenMemHandle(op.memHandle)
		if err != nil {
			ch.base.SetError(errors.DeviceError{Err: err})
			return
		}
		ch.allocCache[op.allocationID] = base
	}
	src := base + cuda.Ptr(op.offset)
	if err := ch.lib.MemcpyAsync(op.buf.Ptr, src, op.buf.Length, op.buf.Stream); err != nil {
		ch.base.SetError(errors.DeviceError{Err: err})
		return
	}
	stopEv, err := ch.lib.NewEvent()
	if err != nil {
		ch.base.SetError(errors.DeviceError{Err: err})
		return
	}
	stopEv.Record(op.buf.Stream)
	op.stopEv = stopEv
}

func (ch *channelImpl) writeReplyAndReadAck(op *recvOp) {
	var h []byte
	if op.stopEv != nil {
		h = op.stopEv.IpcHandle()
	}
	ch.replyConn.Write(encodeReply(h), func(err error) {
		if err != nil {
			ch.base.FailLater(errors.ConnectionError{Err: err})
		}
	})
	ch.ackConn.Read(func(data []byte, err error) {
		ch.base.Ctx().Loop().Defer(func() {
			op.doneReadingAck = true
			if err != nil {
				ch.base.SetError(errors.ConnectionError{Err: err})
			} else if derr := decodeAck(data); derr != nil {
				ch.base.SetError(derr)
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
	ch.replyConn.Close()
	ch.ackConn.Close()
}

func (ch *channelImpl) SetID(id string) { ch.base.SetID(id) }

func (ch *channelImpl) Close() { ch.base.Close() }
