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

package shm

import (
	"bytes"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/transport"

	. "github.com/smartystreets/goconvey/convey"
)

func newPair(t *testing.T, ctx *tensorpipe.Context) (tensorpipe.Channel, tensorpipe.Channel) {
	c1, c2, err := transport.NewPair()
	if err != nil {
		t.Fatalf("NewPair: %v", err)
	}
	return New(ctx, c1), New(ctx, c2)
}

func TestShmRoundTrip(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tx, rx := newPair(t, ctx)
	defer tx.Close()
	defer rx.Close()

	payload := make([]byte, 4096)
	rand.Read(payload)

	sendDone := make(chan error, 1)
	desc, err := tx.Send(tensorpipe.HostBuffer{Data: payload},
		func(err error) { sendDone <- err })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	out := tensorpipe.HostBuffer{Data: make([]byte, 4096)}
	recvDone := make(chan error, 1)
	rx.Recv(desc, out, func(err error) { recvDone <- err })

	if err := <-recvDone; err != nil {
		t.Errorf("recv callback: %v", err)
	}
	if err := <-sendDone; err != nil {
		t.Errorf("send callback: %v", err)
	}
	if !bytes.Equal(out.Data, payload) {
		t.Errorf("payload corrupted in transit")
	}
}

func TestShmUnlinksSegmentAfterReply(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tx, rx := newPair(t, ctx)
	defer tx.Close()
	defer rx.Close()

	payload := []byte("short lived segment")
	sendDone := make(chan error, 1)
	desc, err := tx.Send(tensorpipe.HostBuffer{Data: payload},
		func(err error) { sendDone <- err })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	name, _, err := tensorpipe.ConsumeString(desc)
	if err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	if _, err := os.Stat("/dev/shm/" + name); err != nil {
		t.Fatalf("segment missing while transfer pending: %v", err)
	}

	out := tensorpipe.HostBuffer{Data: make([]byte, len(payload))}
	recvDone := make(chan error, 1)
	rx.Recv(desc, out, func(err error) { recvDone <- err })
	if err := <-recvDone; err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-sendDone; err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := os.Stat("/dev/shm/" + name); !os.IsNotExist(err) {
		t.Errorf("segment not unlinked after reply: %v", err)
	}
	if !bytes.Equal(out.Data, payload) {
		t.Errorf("payload corrupted in transit")
	}
}

func TestShmScenarios(t *testing.T) {
	Convey("Given a connected pair of shm channels", t, func() {
		ctx := tensorpipe.NewContext()
		defer ctx.Join()

		tx, rx := newPair(t, ctx)
		defer tx.Close()
		defer rx.Close()

		Convey("A length mismatch fails the receiver with ErrProtocol", func() {
			done := make(chan error, 1)
			desc, err := tx.Send(tensorpipe.HostBuffer{Data: make([]byte, 32)},
				func(err error) { done <- err })
			So(err, ShouldBeNil)

			rdone := make(chan error, 1)
			rx.Recv(desc, tensorpipe.HostBuffer{Data: make([]byte, 16)},
				func(err error) { rdone <- err })
			So(<-rdone, ShouldEqual, errors.ErrProtocol)
		})

		Convey("Closing completes an in-flight send with ErrChannelClosed", func() {
			done := make(chan error, 1)
			_, err := tx.Send(tensorpipe.HostBuffer{Data: make([]byte, 8)},
				func(err error) { done <- err })
			So(err, ShouldBeNil)

			tx.Close()
			select {
			case err := <-done:
				So(err, ShouldEqual, errors.ErrChannelClosed)
			case <-time.After(5 * time.Second):
				t.Errorf("send callback never fired")
			}
		})
	})
}
