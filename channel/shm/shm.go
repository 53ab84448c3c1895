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

//go:build linux

// Package shm implements a channel that stages host buffers through
// per-operation shared memory segments under /dev/shm.  The descriptor
// carries only the segment name and length, and the control connection
// carries only an empty reply per transfer, so large buffers never
// transit a socket.  The sender keeps each segment alive
// until the receiver's reply confirms the copy, then unlinks it.
package shm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/channel"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/opqueue"
)

const shmDir = "/dev/shm/"

const (
	sendUninit opqueue.State = iota
	sendReadingReply
	sendFinished
)

const (
	recvUninit opqueue.State = iota
	recvFinished
)

type sendOp struct {
	opqueue.OpBase
	cb               func(error)
	name             string
	doneReadingReply bool
}

type recvOp struct {
	opqueue.OpBase
	cb     func(error)
	buf    tensorpipe.HostBuffer
	name   string
	length uint64
}

type channelImpl struct {
	base    channel.Base
	conn    tensorpipe.Connection
	sendOps *opqueue.Queue
	recvOps *opqueue.Queue
	nextSeg uint64
}

// New creates a shared memory channel endpoint over conn.  Both
// endpoints must run on the same machine with a common /dev/shm.
func New(ctx *tensorpipe.Context, conn tensorpipe.Connection) tensorpipe.Channel {
	ch := &channelImpl{conn: conn}
	ch.sendOps = opqueue.New(sendFinished, ch.advanceSend)
	ch.recvOps = opqueue.New(recvFinished, ch.advanceRecv)
	ch.base.Init(ctx, ch.handleError)
	return ch
}

// Send copies buf into a fresh segment and returns a descriptor naming
// it.  The buffer itself is reusable once the callback fires, when the
// peer has drained the segment.
func (ch *channelImpl) Send(buf tensorpipe.Buffer, cb func(error)) ([]byte, error) {
	hbuf, ok := buf.(tensorpipe.HostBuffer)
	if !ok {
		return nil, errors.ErrBadBuffer
	}
	var desc []byte
	var err error
	ch.base.Ctx().Loop().RunInLoop(func() {
		desc, err = ch.sendFromLoop(hbuf, cb)
	})
	return desc, err
}

func (ch *channelImpl) sendFromLoop(buf tensorpipe.HostBuffer, cb func(error)) ([]byte, error) {
	op := &sendOp{cb: cb}
	ch.sendOps.EmplaceBack(op)
	if ch.base.Failed() {
		err := ch.base.Error()
		ch.sendOps.Advance(op)
		return nil, err
	}
	name := fmt.Sprintf("tensorpipe_%s_%d", ch.base.Ctx().ProcessIdentifier(), ch.nextSeg)
	ch.nextSeg++
	if err := writeSegment(name, buf.Data); err != nil {
		ch.base.SetError(err)
		ch.sendOps.Advance(op)
		return nil, err
	}
	op.name = name
	desc := tensorpipe.AppendString(nil, name)
	desc = tensorpipe.AppendUint64(desc, uint64(len(buf.Data)))
	ch.sendOps.Advance(op)
	return desc, nil
}

func (ch *channelImpl) Recv(desc []byte, buf tensorpipe.Buffer, cb func(error)) {
	ch.base.Ctx().Loop().Defer(func() {
		op := &recvOp{cb: cb}
		ch.recvOps.EmplaceBack(op)
		hbuf, ok := buf.(tensorpipe.HostBuffer)
		if !ok {
			ch.base.SetError(errors.ErrBadBuffer)
			ch.recvOps.Advance(op)
			return
		}
		op.buf = hbuf
		var err error
		rest := desc
		if op.name, rest, err = tensorpipe.ConsumeString(rest); err != nil {
			ch.base.SetError(errors.ErrProtocol)
		} else if op.length, rest, err = tensorpipe.ConsumeUint64(rest); err != nil || len(rest) != 0 {
			ch.base.SetError(errors.ErrProtocol)
		} else if op.length != uint64(len(hbuf.Data)) {
			ch.base.SetError(errors.ErrProtocol)
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
		op.doneReadingReply && prev >= sendFinished,
		func() { ch.unlinkSegment(op) },
		func() { ch.callSendCallback(op) })
}

func (ch *channelImpl) advanceRecv(o opqueue.Operation, prev opqueue.State) {
	op := o.(*recvOp)
	ch.recvOps.AttemptTransition(op, recvUninit, recvFinished,
		ch.base.Failed() && prev >= recvFinished,
		func() { ch.callRecvCallback(op) })
	ch.recvOps.AttemptTransition(op, recvUninit, recvFinished,
		!ch.base.Failed() && prev >= recvFinished,
		func() { ch.copyFromSegment(op) },
		func() { ch.callRecvCallback(op) },
		func() { ch.writeReply(op) })
}

func (ch *channelImpl) readReply(op *sendOp) {
	ch.conn.Read(func(data []byte, err error) {
		ch.base.Ctx().Loop().Defer(func() {
			op.doneReadingReply = true
			if err != nil {
				ch.base.SetError(errors.ConnectionError{Err: err})
			} else if len(data) != 0 {
				ch.base.SetError(errors.ErrProtocol)
			}
			ch.sendOps.Advance(op)
		})
	})
}

func (ch *channelImpl) copyFromSegment(op *recvOp) {
	if err := readSegment(op.name, op.buf.Data); err != nil {
		ch.base.FailLater(err)
	}
}

func (ch *channelImpl) writeReply(op *recvOp) {
	ch.conn.Write([]byte{}, func(err error) {
		if err != nil {
			ch.base.FailLater(errors.ConnectionError{Err: err})
		}
	})
}

func (ch *channelImpl) unlinkSegment(op *sendOp) {
	if op.name != "" {
		unix.Unlink(shmDir + op.name)
	}
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

// writeSegment creates the named segment, sizes it and fills it.
func writeSegment(name string, data []byte) error {
	fd, err := unix.Open(shmDir+name, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0600)
	if err != nil {
		return errors.ConnectionError{Err: err}
	}
	defer unix.Close(fd)
	if len(data) == 0 {
		return nil
	}
	if err := unix.Ftruncate(fd, int64(len(data))); err != nil {
		unix.Unlink(shmDir + name)
		return errors.ConnectionError{Err: err}
	}
	mem, err := unix.Mmap(fd, 0, len(data), unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Unlink(shmDir + name)
		return errors.ConnectionError{Err: err}
	}
	copy(mem, data)
	return unix.Munmap(mem)
}

// readSegment maps the named segment and copies it out.
func readSegment(name string, dst []byte) error {
	fd, err := unix.Open(shmDir+name, unix.O_RDONLY, 0)
	if err != nil {
		return errors.ConnectionError{Err: err}
	}
	defer unix.Close(fd)
	if len(dst) == 0 {
		return nil
	}
	mem, err := unix.Mmap(fd, 0, len(dst), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return errors.ConnectionError{Err: err}
	}
	copy(dst, mem)
	return unix.Munmap(mem)
}
