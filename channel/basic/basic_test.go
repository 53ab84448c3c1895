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

package basic

import (
	"bytes"
	"math/rand"
	"sync"
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

func TestBasicRoundTrip(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tx, rx := newPair(t, ctx)
	defer tx.Close()
	defer rx.Close()

	payload := make([]byte, 256)
	rand.Read(payload)

	sendDone := make(chan error, 1)
	desc, err := tx.Send(tensorpipe.HostBuffer{Data: payload},
		func(err error) { sendDone <- err })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	out := tensorpipe.HostBuffer{Data: make([]byte, 256)}
	recvDone := make(chan error, 1)
	rx.Recv(desc, out, func(err error) { recvDone <- err })

	if err := <-sendDone; err != nil {
		t.Errorf("send callback: %v", err)
	}
	if err := <-recvDone; err != nil {
		t.Errorf("recv callback: %v", err)
	}
	if !bytes.Equal(out.Data, payload) {
		t.Errorf("payload corrupted in transit")
	}
}

func TestBasicCallbacksFireInSubmissionOrder(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tx, rx := newPair(t, ctx)
	defer tx.Close()
	defer rx.Close()

	payloads := [][]byte{[]byte("AAAA"), []byte("BBBB"), []byte("CCCC")}

	var mu sync.Mutex
	var sendOrder, recvOrder []int
	var wg sync.WaitGroup
	wg.Add(2 * len(payloads))

	var descs [][]byte
	for i, p := range payloads {
		i := i
		desc, err := tx.Send(tensorpipe.HostBuffer{Data: p}, func(err error) {
			if err != nil {
				t.Errorf("send %d: %v", i, err)
			}
			mu.Lock()
			sendOrder = append(sendOrder, i)
			mu.Unlock()
			wg.Done()
		})
		if err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		descs = append(descs, desc)
	}

	outs := make([]tensorpipe.HostBuffer, len(payloads))
	for i, desc := range descs {
		i := i
		outs[i] = tensorpipe.HostBuffer{Data: make([]byte, 4)}
		rx.Recv(desc, outs[i], func(err error) {
			if err != nil {
				t.Errorf("recv %d: %v", i, err)
			}
			mu.Lock()
			recvOrder = append(recvOrder, i)
			mu.Unlock()
			wg.Done()
		})
	}
	wg.Wait()

	for i := range payloads {
		if sendOrder[i] != i {
			t.Errorf("send callbacks out of order: %v", sendOrder)
			break
		}
	}
	for i := range payloads {
		if recvOrder[i] != i {
			t.Errorf("recv callbacks out of order: %v", recvOrder)
			break
		}
	}
	for i, p := range payloads {
		if !bytes.Equal(outs[i].Data, p) {
			t.Errorf("payload %d corrupted: %q", i, outs[i].Data)
		}
	}
}

func TestBasicRejectsForeignBuffer(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tx, rx := newPair(t, ctx)
	defer tx.Close()
	defer rx.Close()

	if _, err := tx.Send(nil, func(error) {}); err != errors.ErrBadBuffer {
		t.Errorf("expected ErrBadBuffer, got %v", err)
	}
}

func TestBasicScenarios(t *testing.T) {
	Convey("Given a connected pair of basic channels", t, func() {
		ctx := tensorpipe.NewContext()
		defer ctx.Join()

		tx, rx := newPair(t, ctx)
		defer tx.Close()
		defer rx.Close()

		Convey("Closing completes an in-flight send with ErrChannelClosed", func() {
			// Nothing reads the peer end, so the payload write
			// stays blocked and the operation stays in flight.
			done := make(chan error, 1)
			_, err := tx.Send(tensorpipe.HostBuffer{Data: make([]byte, 16)},
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

		Convey("Closing completes an in-flight recv with ErrChannelClosed", func() {
			done := make(chan error, 1)
			rx.Recv([]byte{}, tensorpipe.HostBuffer{Data: make([]byte, 16)},
				func(err error) { done <- err })

			rx.Close()
			select {
			case err := <-done:
				So(err, ShouldEqual, errors.ErrChannelClosed)
			case <-time.After(5 * time.Second):
				t.Errorf("recv callback never fired")
			}
		})

		Convey("A send after close reports the channel error", func() {
			tx.Close()
			done := make(chan error, 1)
			_, err := tx.Send(tensorpipe.HostBuffer{Data: []byte("x")},
				func(err error) { done <- err })
			So(err, ShouldEqual, errors.ErrChannelClosed)
			So(<-done, ShouldEqual, errors.ErrChannelClosed)
		})

		Convey("A non-empty descriptor fails the receiving channel", func() {
			done := make(chan error, 1)
			rx.Recv([]byte("bogus"), tensorpipe.HostBuffer{Data: make([]byte, 5)},
				func(err error) { done <- err })
			So(<-done, ShouldEqual, errors.ErrProtocol)
		})
	})
}
