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

package tcp

import (
	"bytes"
	"testing"
	"time"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/transport"
)

func TestTCPListenAndDial(t *testing.T) {
	ctx := tensorpipe.NewContext()
	ctx.AddTransport(NewTransport())
	defer ctx.Join()

	l, err := ctx.Listen("tcp://127.0.0.1:0")
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

	msg := []byte("over the wire")
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
		t.Errorf("timed out waiting for frame")
	}
}

func TestTCPBadScheme(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tran := NewTransport()
	if _, err := tran.NewDialer(ctx, "bogus://127.0.0.1:80"); err != errors.ErrBadTran {
		t.Errorf("expected ErrBadTran, got %v", err)
	}
	if _, err := tran.NewListener(ctx, "bogus://127.0.0.1:80"); err != errors.ErrBadTran {
		t.Errorf("expected ErrBadTran, got %v", err)
	}
}

func TestTCPOptions(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tran := NewTransport()
	d, err := tran.NewDialer(ctx, "tcp://127.0.0.1:80")
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}

	if err := d.SetOption(transport.OptionNoDelay, false); err != nil {
		t.Errorf("SetOption NoDelay: %v", err)
	}
	if v, err := d.GetOption(transport.OptionNoDelay); err != nil || v != false {
		t.Errorf("GetOption NoDelay: %v %v", v, err)
	}
	if err := d.SetOption(transport.OptionNoDelay, 42); err != errors.ErrBadValue {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
	if err := d.SetOption(transport.OptionMaxRecvSize, -1); err != errors.ErrBadValue {
		t.Errorf("expected ErrBadValue, got %v", err)
	}
	if err := d.SetOption("GARBAGE-OPTION", 1); err != errors.ErrBadOption {
		t.Errorf("expected ErrBadOption, got %v", err)
	}
	if _, err := d.GetOption("GARBAGE-OPTION"); err != errors.ErrBadOption {
		t.Errorf("expected ErrBadOption, got %v", err)
	}
}

func TestTCPListenTwice(t *testing.T) {
	ctx := tensorpipe.NewContext()
	defer ctx.Join()

	tran := NewTransport()
	l, err := tran.NewListener(ctx, "tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	if err := l.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	if err := l.Listen(); err != errors.ErrAddrInUse {
		t.Errorf("expected ErrAddrInUse, got %v", err)
	}
}
