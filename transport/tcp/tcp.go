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

// Package tcp implements the TCP transport.
package tcp

import (
	"net"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/transport"
)

type options map[string]interface{}

func newOptions() options {
	return options{
		transport.OptionNoDelay:     true,
		transport.OptionKeepAlive:   true,
		transport.OptionMaxRecvSize: 0,
	}
}

func (o options) set(name string, v interface{}) error {
	switch name {
	case transport.OptionNoDelay, transport.OptionKeepAlive:
		if b, ok := v.(bool); ok {
			o[name] = b
			return nil
		}
		return errors.ErrBadValue
	case transport.OptionMaxRecvSize:
		if i, ok := v.(int); ok && i >= 0 {
			o[name] = i
			return nil
		}
		return errors.ErrBadValue
	}
	return errors.ErrBadOption
}

func (o options) get(name string) (interface{}, error) {
	if v, ok := o[name]; ok {
		return v, nil
	}
	return nil, errors.ErrBadOption
}

func (o options) configure(c *net.TCPConn) {
	c.SetNoDelay(o[transport.OptionNoDelay].(bool))
	c.SetKeepAlive(o[transport.OptionKeepAlive].(bool))
}

type dialer struct {
	addr *net.TCPAddr
	opts options
}

func (d *dialer) Dial() (tensorpipe.Connection, error) {
	c, err := net.DialTCP("tcp", nil, d.addr)
	if err != nil {
		return nil, err
	}
	d.opts.configure(c)
	return transport.NewConn(c, d.opts[transport.OptionMaxRecvSize].(int))
}

func (d *dialer) SetOption(name string, v interface{}) error {
	return d.opts.set(name, v)
}

func (d *dialer) GetOption(name string) (interface{}, error) {
	return d.opts.get(name)
}

// accepter is the backend half handed to the listener boilerplate.
type accepter struct {
	l    *net.TCPListener
	opts options
}

func (a *accepter) AcceptConn() (tensorpipe.Connection, error) {
	c, err := a.l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	a.opts.configure(c)
	return transport.NewConn(c, a.opts[transport.OptionMaxRecvSize].(int))
}

func (a *accepter) Addr() string { return "tcp://" + a.l.Addr().String() }

func (a *accepter) Close() { a.l.Close() }

type listener struct {
	*transport.ListenerBase
	addr  *net.TCPAddr
	opts  options
	bound *net.TCPListener
}

func (l *listener) Listen() error {
	if l.bound != nil {
		return errors.ErrAddrInUse
	}
	b, err := net.ListenTCP("tcp", l.addr)
	if err != nil {
		return err
	}
	l.bound = b
	l.Start(&accepter{l: b, opts: l.opts})
	return nil
}

func (l *listener) SetOption(name string, v interface{}) error {
	return l.opts.set(name, v)
}

func (l *listener) GetOption(name string) (interface{}, error) {
	return l.opts.get(name)
}

type tcpTran struct{}

func (tcpTran) Scheme() string { return "tcp" }

func (tcpTran) NewDialer(ctx *tensorpipe.Context, addr string) (tensorpipe.Dialer, error) {
	rest, err := transport.StripScheme("tcp", addr)
	if err != nil {
		return nil, err
	}
	a, err := transport.ResolveTCPAddr(rest)
	if err != nil {
		return nil, err
	}
	return &dialer{addr: a, opts: newOptions()}, nil
}

func (tcpTran) NewListener(ctx *tensorpipe.Context, addr string) (tensorpipe.Listener, error) {
	rest, err := transport.StripScheme("tcp", addr)
	if err != nil {
		return nil, err
	}
	a, err := transport.ResolveTCPAddr(rest)
	if err != nil {
		return nil, err
	}
	return &listener{
		ListenerBase: transport.NewListenerBase(ctx),
		addr:         a,
		opts:         newOptions(),
	}, nil
}

// NewTransport allocates a new TCP transport.
func NewTransport() tensorpipe.Transport {
	return tcpTran{}
}
