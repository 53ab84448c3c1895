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

// tpcat pushes one payload through a tensorpipe channel, or pulls one
// out and prints it.  One side binds, the other connects; the pair
// establishes a descriptor connection and a channel connection, the
// sender moves its payload through the chosen channel backend and the
// descriptor crosses on the first connection.
package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

import (
	"github.com/droundy/goopt"
	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/channel/basic"
	"github.com/lw/tensorpipe/transport/ipc"
	"github.com/lw/tensorpipe/transport/tcp"
	"github.com/lw/tensorpipe/transport/ws"
)

var verbose int
var backendSet bool
var backend string
var bindAddr string
var connectAddr string
var sendData []byte
var recvSize int
var printFormat string

func setBackend(b string) error {
	if backendSet {
		return errors.New("channel backend already selected")
	}
	backend = b
	backendSet = true
	return nil
}

func setBind(addr string) error {
	if !strings.Contains(addr, "://") {
		return errors.New("invalid address format")
	}
	if len(bindAddr) > 0 || len(connectAddr) > 0 {
		return errors.New("address already set")
	}
	bindAddr = addr
	return nil
}

func setConnect(addr string) error {
	if !strings.Contains(addr, "://") {
		return errors.New("invalid address format")
	}
	if len(bindAddr) > 0 || len(connectAddr) > 0 {
		return errors.New("address already set")
	}
	connectAddr = addr
	return nil
}

func setSendData(data string) error {
	if sendData != nil {
		return errors.New("data or file already set")
	}
	sendData = []byte(data)
	return nil
}

func setSendFile(path string) error {
	if sendData != nil {
		return errors.New("data or file already set")
	}
	var err error
	sendData, err = os.ReadFile(path)
	return err
}

func setFormat(f string) error {
	if len(printFormat) > 0 {
		return errors.New("output format already set")
	}
	switch f {
	case "raw":
	case "ascii":
	case "quoted":
	default:
		return errors.New("invalid format type")
	}
	printFormat = f
	return nil
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func init() {

	goopt.NoArg([]string{"--verbose", "-v"}, "Increase verbosity",
		func() error {
			verbose++
			return nil
		})
	goopt.NoArg([]string{"--silent", "-q"}, "Decrease verbosity",
		func() error {
			verbose--
			return nil
		})

	goopt.NoArg([]string{"--basic"}, "Use the basic channel backend",
		func() error {
			return setBackend("basic")
		})
	goopt.NoArg([]string{"--shm"}, "Use the shared memory channel backend",
		func() error {
			return setBackend("shm")
		})

	goopt.ReqArg([]string{"--bind"}, "ADDR", "Listen on ADDR",
		setBind)
	goopt.ReqArg([]string{"--connect"}, "ADDR", "Connect to ADDR",
		setConnect)
	goopt.ReqArg([]string{"--bind-local", "-L"}, "PORT",
		"Listen on TCP localhost PORT",
		func(port string) error {
			return setBind("tcp://127.0.0.1:" + port)
		})
	goopt.ReqArg([]string{"--connect-local", "-l"}, "PORT",
		"Connect to TCP localhost PORT",
		func(port string) error {
			return setConnect("tcp://127.0.0.1:" + port)
		})

	goopt.ReqArg([]string{"--data", "-D"}, "DATA", "Data to send",
		setSendData)
	goopt.ReqArg([]string{"--file", "-F"}, "FILE", "Send contents of FILE",
		setSendFile)
	goopt.ReqArg([]string{"--recv", "-R"}, "SIZE",
		"Receive SIZE bytes and print them",
		func(s string) error {
			var err error
			if recvSize, err = strconv.Atoi(s); err != nil || recvSize < 0 {
				return errors.New("value not a non-negative integer")
			}
			return nil
		})

	goopt.NoArg([]string{"--raw"}, "Raw output, no delimiters",
		func() error {
			return setFormat("raw")
		})
	goopt.NoArg([]string{"--ascii", "-A"}, "ASCII output, one per line",
		func() error {
			return setFormat("ascii")
		})
	goopt.NoArg([]string{"--quoted", "-Q"}, "Quoted output, one per line",
		func() error {
			return setFormat("quoted")
		})

	goopt.Description = func() string {
		return "tpcat sends or receives one buffer through a " +
			"tensorpipe channel."
	}
	goopt.Author = "The Tensorpipe-Go Authors"
	goopt.Suite = "tensorpipe"
	goopt.Summary = "command line interface to tensorpipe channels"
}

func newContext() *tensorpipe.Context {
	ctx := tensorpipe.NewContext()
	ctx.AddTransport(tcp.NewTransport())
	ctx.AddTransport(ipc.NewTransport())
	ctx.AddTransport(ws.NewTransport())
	if verbose > 0 {
		ctx.SetLogSink(stderrLog{})
	}
	return ctx
}

type stderrLog struct{}

func (stderrLog) Logf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
}

// accept synchronously takes the next connection from l.
func accept(l tensorpipe.Listener) (tensorpipe.Connection, error) {
	type result struct {
		conn tensorpipe.Connection
		err  error
	}
	ch := make(chan result, 1)
	l.Accept(func(conn tensorpipe.Connection, err error) {
		ch <- result{conn, err}
	})
	r := <-ch
	return r.conn, r.err
}

// connectPair establishes the descriptor and channel connections, in
// that order on both sides so they pair up correctly.
func connectPair(ctx *tensorpipe.Context) (tensorpipe.Connection, tensorpipe.Connection, error) {
	if len(bindAddr) > 0 {
		l, err := ctx.Listen(bindAddr)
		if err != nil {
			return nil, nil, err
		}
		defer l.Close()
		descConn, err := accept(l)
		if err != nil {
			return nil, nil, err
		}
		chanConn, err := accept(l)
		if err != nil {
			return nil, nil, err
		}
		return descConn, chanConn, nil
	}
	descConn, err := ctx.Dial(connectAddr)
	if err != nil {
		return nil, nil, err
	}
	chanConn, err := ctx.Dial(connectAddr)
	if err != nil {
		descConn.Close()
		return nil, nil, err
	}
	return descConn, chanConn, nil
}

func newChannel(ctx *tensorpipe.Context, conn tensorpipe.Connection) tensorpipe.Channel {
	switch backend {
	case "shm":
		return newShmChannel(ctx, conn)
	default:
		return basic.New(ctx, conn)
	}
}

func send(ctx *tensorpipe.Context, descConn, chanConn tensorpipe.Connection) {
	ch := newChannel(ctx, chanConn)
	defer ch.Close()
	done := make(chan error, 1)
	start := time.Now()
	desc, err := ch.Send(tensorpipe.HostBuffer{Data: sendData},
		func(err error) { done <- err })
	if err != nil {
		fatalf("send: %v", err)
	}
	msg := tensorpipe.AppendUint64(nil, uint64(len(sendData)))
	msg = tensorpipe.AppendBytes(msg, desc)
	werr := make(chan error, 1)
	descConn.Write(msg, func(err error) { werr <- err })
	if err := <-werr; err != nil {
		fatalf("descriptor write: %v", err)
	}
	if err := <-done; err != nil {
		fatalf("send: %v", err)
	}
	if verbose > 0 {
		fmt.Fprintf(os.Stderr, "sent %d bytes in %v\n",
			len(sendData), time.Since(start))
	}
}

func recv(ctx *tensorpipe.Context, descConn, chanConn tensorpipe.Connection) {
	type descMsg struct {
		data []byte
		err  error
	}
	dch := make(chan descMsg, 1)
	descConn.Read(func(data []byte, err error) {
		dch <- descMsg{data, err}
	})
	dm := <-dch
	if dm.err != nil {
		fatalf("descriptor read: %v", dm.err)
	}
	length, rest, err := tensorpipe.ConsumeUint64(dm.data)
	if err != nil {
		fatalf("descriptor read: %v", err)
	}
	desc, _, err := tensorpipe.ConsumeBytes(rest)
	if err != nil {
		fatalf("descriptor read: %v", err)
	}
	if recvSize > 0 && uint64(recvSize) != length {
		fatalf("expected %d bytes, peer is sending %d", recvSize, length)
	}
	buf := tensorpipe.HostBuffer{Data: make([]byte, length)}
	ch := newChannel(ctx, chanConn)
	defer ch.Close()
	done := make(chan error, 1)
	ch.Recv(desc, buf, func(err error) { done <- err })
	if err := <-done; err != nil {
		fatalf("recv: %v", err)
	}
	printPayload(buf.Data)
}

func printPayload(data []byte) {
	switch printFormat {
	case "quoted":
		fmt.Printf("%q\n", data)
	case "ascii":
		out := make([]byte, len(data))
		for i, b := range data {
			if b >= 32 && b < 127 {
				out[i] = b
			} else {
				out[i] = '.'
			}
		}
		fmt.Printf("%s\n", out)
	default:
		os.Stdout.Write(data)
	}
}

func main() {
	goopt.Parse(nil)

	if len(bindAddr) == 0 && len(connectAddr) == 0 {
		fatalf("no address specified")
	}
	if sendData == nil && recvSize == 0 && len(printFormat) == 0 {
		fatalf("nothing to do: give --data, --file or --recv")
	}
	if sendData != nil && recvSize > 0 {
		fatalf("cannot both send and receive")
	}

	ctx := newContext()
	defer ctx.Join()

	descConn, chanConn, err := connectPair(ctx)
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer descConn.Close()

	if sendData != nil {
		send(ctx, descConn, chanConn)
	} else {
		recv(ctx, descConn, chanConn)
	}
}
