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

package ws

import (
	"bytes"
	"testing"
	"time"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
)

func TestWsListenAndDial(t *testing.T) {
	ctx := tensorpipe.NewContext()
	ctx.AddTransport(NewTransport())
	defer ctx.Join()

	l, err := ctx.Listen("ws://127.0.0.1:0/")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	accepted := make(chan tensorpipe.Connection, 1)
	l.Accept(func(conn tensorpipe.Connection, err error) {
		if err != nil {
			t.Errorf("Accept: %v", err)
			accepted <- nil
			return
		}
		accepted <- conn
	})

	dconn, err := ctx.Dial(l.Addr())
	if err != nil {
		t.Fatalf("Dial %s: %v", l.Addr(), err)
	}
	defer dconn.Close()

	aconn := <-accepted
	if aconn == nil {
		return
	}
	defer aconn.Close()

	msg := []byte("binary websocket frame")
	got := make(chan []byte, 1)
	aconn.Read(func(data []byte, err error) {
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		got <- data
	})
	dconn.Write(msg, func(err error) {
		if err != nil {
			t.Errorf("Write: %v", err)
		}
	})
	select {
	case data := <-got:
		if !bytes.Equal(data, msg) {
			t.Errorf("payload mismatch: %q != %q", data, msg)
		}
	case <-time.After(5 * time.Second):
		t.Errorf("timed out waiting for message")
	}
}

func TestWsBadAddress(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tran := NewTransport()
	if _, err := tran.NewDialer(ctx, "tcp://127.0.0.1:80"); err != errors.ErrBadTran {
		t.Errorf("expected ErrBadTran, got %v", err)
	}
	if _, err := tran.NewListener(ctx, "tcp://127.0.0.1:80"); err != errors.ErrBadTran {
		t.Errorf("expected ErrBadTran, got %v", err)
	}
}

func TestWsOptions(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tran := NewTransport()
	l, err := tran.NewListener(ctx, "ws://127.0.0.1:0/")
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.SetOption(OptionCheckOrigin, false); err != nil {
		t.Errorf("SetOption CheckOrigin: %v", err)
	}
	if err := l.SetOption(OptionCheckOrigin, "yes"); err != errors.ErrBadValue {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
	if _, err := l.GetOption("GARBAGE-OPTION"); err != errors.ErrBadOption {
		t.Errorf("expected ErrBadOption, got %v", err)
	}
	l.Close()
}
