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

// Package ipc implements the inter-process transport, carried over
// UNIX domain sockets on POSIX systems and named pipes on Windows.
package ipc

import (
	"net"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/transport"
)

type options map[string]interface{}

func newOptions() options {
	o := options{transport.OptionMaxRecvSize: 0}
	platformDefaults(o)
	return o
}

func (o options) set(name string, v interface{}) error {
	if name == transport.OptionMaxRecvSize {
		if i, ok := v.(int); ok && i >= 0 {
			o[name] = i
			return nil
		}
		return errors.ErrBadValue
	}
	return platformSet(o, name, v)
}

func (o options) get(name string) (interface{}, error) {
	if v, ok := o[name]; ok {
		return v, nil
	}
	return nil, errors.ErrBadOption
}

type dialer struct {
	path string
	opts options
}

func (d *dialer) Dial() (tensorpipe.Connection, error) {
	c, err := dialPipe(d.path)
	if err != nil {
		return nil, err
	}
	return transport.NewConn(c, d.opts[transport.OptionMaxRecvSize].(int))
}

func (d *dialer) SetOption(name string, v interface{}) error {
	return d.opts.set(name, v)
}

func (d *dialer) GetOption(name string) (interface{}, error) {
	return d.opts.get(name)
}

type accepter struct {
	l    net.Listener
	path string
	opts options
}

func (a *accepter) AcceptConn() (tensorpipe.Connection, error) {
	c, err := a.l.Accept()
	if err != nil {
		return nil, err
	}
	return transport.NewConn(c, a.opts[transport.OptionMaxRecvSize].(int))
}

func (a *accepter) Addr() string { return "ipc://" + a.path }

func (a *accepter) Close() { a.l.Close() }

type listener struct {
	*transport.ListenerBase
	path  string
	opts  options
	bound net.Listener
}

func (l *listener) Listen() error {
	if l.bound != nil {
		return errors.ErrAddrInUse
	}
	b, err := listenPipe(l.path, l.opts)
	if err != nil {
		return err
	}
	l.bound = b
	l.Start(&accepter{l: b, path: l.path, opts: l.opts})
	return nil
}

func (l *listener) SetOption(name string, v interface{}) error {
	return l.opts.set(name, v)
}

func (l *listener) GetOption(name string) (interface{}, error) {
	return l.opts.get(name)
}

type ipcTran struct{}

func (ipcTran) Scheme() string { return "ipc" }

func (ipcTran) NewDialer(ctx *tensorpipe.Context, addr string) (tensorpipe.Dialer, error) {
	path, err := transport.StripScheme("ipc", addr)
	if err != nil {
		return nil, err
	}
	return &dialer{path: path, opts: newOptions()}, nil
}

func (ipcTran) NewListener(ctx *tensorpipe.Context, addr string) (tensorpipe.Listener, error) {
	path, err := transport.StripScheme("ipc", addr)
	if err != nil {
		return nil, err
	}
	return &listener{
		ListenerBase: transport.NewListenerBase(ctx),
		path:         path,
		opts:         newOptions(),
	}, nil
}

// NewTransport allocates a new inter-process transport.
func NewTransport() tensorpipe.Transport {
	return ipcTran{}
}
