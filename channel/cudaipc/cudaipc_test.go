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

package cudaipc

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/cuda"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/transport"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDescriptorCodec(t *testing.T) {
	in := descriptor{
		allocationID:  "host-123_7",
		memHandle:     []byte{1, 2, 3, 4, 5, 6, 7, 8},
		offset:        4096,
		startEvHandle: []byte{8, 7, 6, 5, 4, 3, 2, 1},
	}
	out, err := decodeDescriptor(encodeDescriptor(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.allocationID != in.allocationID ||
		!bytes.Equal(out.memHandle, in.memHandle) ||
		out.offset != in.offset ||
		!bytes.Equal(out.startEvHandle, in.startEvHandle) {
		t.Errorf("descriptor did not survive the round trip: %+v", out)
	}
}

func TestDescriptorCodecRejectsMalformed(t *testing.T) {
	good := encodeDescriptor(descriptor{
		allocationID:  "a_1",
		memHandle:     make([]byte, 8),
		startEvHandle: make([]byte, 8),
	})
	for cut := 0; cut < len(good); cut++ {
		if _, err := decodeDescriptor(good[:cut]); err != errors.ErrProtocol {
			t.Errorf("truncation at %d: expected ErrProtocol, got %v", cut, err)
		}
	}
	if _, err := decodeDescriptor(append(good[:len(good):len(good)], 0)); err != errors.ErrProtocol {
		t.Errorf("trailing byte: expected ErrProtocol, got %v", err)
	}
}

func TestReplyAndAckCodec(t *testing.T) {
	h, err := decodeReply(encodeReply([]byte{9, 9, 9}))
	if err != nil || !bytes.Equal(h, []byte{9, 9, 9}) {
		t.Errorf("reply round trip: %v %v", h, err)
	}
	if _, err := decodeReply([]byte{0xff}); err != errors.ErrProtocol {
		t.Errorf("short reply: expected ErrProtocol, got %v", err)
	}
	if err := decodeAck(encodeAck()); err != nil {
		t.Errorf("ack round trip: %v", err)
	}
	if err := decodeAck([]byte{1}); err != errors.ErrProtocol {
		t.Errorf("non-empty ack: expected ErrProtocol, got %v", err)
	}
}

// endpoints builds two channel endpoints over in-process connection
// pairs, each on its own context the way two processes would run.
func endpoints(t *testing.T) (*tensorpipe.Context, *tensorpipe.Context, tensorpipe.Channel, tensorpipe.Channel) {
	r1, r2, err := transport.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	a1, a2, err := transport.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	ctx1 := tensorpipe.NewContext()
	ctx2 := tensorpipe.NewContext()
	ep1 := New(ctx1, cuda.Emulated(), r1, a1)
	ep2 := New(ctx2, cuda.Emulated(), r2, a2)
	return ctx1, ctx2, ep1, ep2
}

func deviceBuffer(t *testing.T, lib cuda.Lib, device, size int) (cuda.Buffer, func()) {
	p, err := lib.Alloc(device, size)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	s := cuda.NewStream()
	buf := cuda.Buffer{Ptr: p, Length: size, Stream: s}
	return buf, func() {
		s.Destroy()
		lib.Free(p)
	}
}

func TestCudaIpcTransfer(t *testing.T) {
	lib := cuda.Emulated()
	ctx1, ctx2, ep1, ep2 := endpoints(t)
	defer ctx1.Join()
	defer ctx2.Join()
	defer ep1.Close()
	defer ep2.Close()

	const size = 1 << 20
	src, freeSrc := deviceBuffer(t, lib, 0, size)
	defer freeSrc()
	dst, freeDst := deviceBuffer(t, lib, 1, size)
	defer freeDst()

	payload := make([]byte, size)
	rand.Read(payload)
	if err := lib.CopyToDevice(src.Ptr, payload); err != nil {
		t.Fatalf("CopyToDevice: %v", err)
	}

	sendDone := make(chan error, 1)
	desc, err := ep1.Send(src, func(err error) { sendDone <- err })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	recvDone := make(chan error, 1)
	ep2.Recv(desc, dst, func(err error) { recvDone <- err })

	if err := <-recvDone; err != nil {
		t.Fatalf("recv callback: %v", err)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("send callback: %v", err)
	}

	dst.Stream.Synchronize()
	out := make([]byte, size)
	if err := lib.CopyFromDevice(out, dst.Ptr); err != nil {
		t.Fatalf("CopyFromDevice: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Errorf("device payload corrupted in transit")
	}
}

func TestCudaIpcSeveralTransfersReuseAllocation(t *testing.T) {
	lib := cuda.Emulated()
	ctx1, ctx2, ep1, ep2 := endpoints(t)
	defer ctx1.Join()
	defer ctx2.Join()
	defer ep1.Close()
	defer ep2.Close()

	src, freeSrc := deviceBuffer(t, lib, 0, 64)
	defer freeSrc()
	dst, freeDst := deviceBuffer(t, lib, 0, 64)
	defer freeDst()

	for round := 0; round < 3; round++ {
		payload := make([]byte, 64)
		rand.Read(payload)
		if err := lib.CopyToDevice(src.Ptr, payload); err != nil {
			t.Fatalf("CopyToDevice: %v", err)
		}

		sendDone := make(chan error, 1)
		desc, err := ep1.Send(src, func(err error) { sendDone <- err })
		if err != nil {
			t.Fatalf("round %d Send: %v", round, err)
		}
		recvDone := make(chan error, 1)
		ep2.Recv(desc, dst, func(err error) { recvDone <- err })
		if err := <-recvDone; err != nil {
			t.Fatalf("round %d recv: %v", round, err)
		}
		if err := <-sendDone; err != nil {
			t.Fatalf("round %d send: %v", round, err)
		}

		dst.Stream.Synchronize()
		out := make([]byte, 64)
		if err := lib.CopyFromDevice(out, dst.Ptr); err != nil {
			t.Fatalf("CopyFromDevice: %v", err)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("round %d corrupted", round)
		}
	}
}

func TestCudaIpcRejectsHostBuffer(t *testing.T) {
	ctx1, ctx2, ep1, ep2 := endpoints(t)
	defer ctx1.Join()
	defer ctx2.Join()
	defer ep1.Close()
	defer ep2.Close()

	if _, err := ep1.Send(tensorpipe.HostBuffer{Data: []byte("x")}, func(error) {}); err != errors.ErrBadBuffer {
		t.Errorf("expected ErrBadBuffer, got %v", err)
	}
}

func TestCudaIpcScenarios(t *testing.T) {
	lib := cuda.Emulated()

	Convey("Given a sender whose peer misbehaves", t, func() {
		r1, r2, err := transport.NewPair()
		So(err, ShouldBeNil)
		a1, a2, err := transport.NewPair()
		So(err, ShouldBeNil)
		defer r2.Close()
		defer a2.Close()

		ctx := tensorpipe.NewContext()
		defer ctx.Join()
		ep := New(ctx, lib, r1, a1)
		defer ep.Close()

		src, freeSrc := deviceBuffer(t, lib, 0, 16)
		defer freeSrc()

		Convey("A malformed reply fails the channel with ErrProtocol", func() {
			done := make(chan error, 1)
			_, err := ep.Send(src, func(err error) { done <- err })
			So(err, ShouldBeNil)

			r2.Write([]byte{0xff}, func(error) {})
			select {
			case err := <-done:
				So(err, ShouldEqual, errors.ErrProtocol)
			case <-time.After(5 * time.Second):
				t.Errorf("send callback never fired")
			}

			Convey("And the error sticks for later sends", func() {
				done2 := make(chan error, 1)
				_, err := ep.Send(src, func(err error) { done2 <- err })
				So(err, ShouldEqual, errors.ErrProtocol)
				So(<-done2, ShouldEqual, errors.ErrProtocol)
			})
		})

		Convey("A malformed descriptor fails the receiver with ErrProtocol", func() {
			dst, freeDst := deviceBuffer(t, lib, 0, 16)
			defer freeDst()

			done := make(chan error, 1)
			ep.Recv([]byte{1, 2}, dst, func(err error) { done <- err })
			select {
			case err := <-done:
				So(err, ShouldEqual, errors.ErrProtocol)
			case <-time.After(5 * time.Second):
				t.Errorf("recv callback never fired")
			}
		})

		Convey("Closing the channel drains an in-flight send", func() {
			done := make(chan error, 1)
			_, err := ep.Send(src, func(err error) { done <- err })
			So(err, ShouldBeNil)

			ep.Close()
			select {
			case err := <-done:
				So(err, ShouldEqual, errors.ErrChannelClosed)
			case <-time.After(5 * time.Second):
				t.Errorf("send callback never fired")
			}
		})
	})
}
