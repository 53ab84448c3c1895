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

// Package ws implements a WebSocket transport.  Binary websocket
// messages provide the framing, so connections here do not use the
// stream framer.
package ws

import (
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/loop"
	"github.com/lw/tensorpipe/transport"
)

// subprotocol negotiated during the websocket upgrade.  Peers speaking
// anything else are refused.
const subprotocol = "tensorpipe.v0"

const (
	// OptionCheckOrigin controls the origin check of the upgrader
	// (bool).  Setting it to false allows connections from any
	// origin.  Listener only.
	OptionCheckOrigin = "WEBSOCKET-CHECKORIGIN"
)

const defaultMaxRecvSize = 1024 * 1024

type options map[string]interface{}

func newOptions() options {
	return options{
		transport.OptionMaxRecvSize: 0,
		OptionCheckOrigin:           true,
	}
}

func (o options) set(name string, v interface{}) error {
	switch name {
	case transport.OptionMaxRecvSize:
		if i, ok := v.(int); ok && i >= 0 {
			o[name] = i
			return nil
		}
		return errors.ErrBadValue
	case OptionCheckOrigin:
		if b, ok := v.(bool); ok {
			o[name] = b
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

func (o options) maxrx() int64 {
	if i := o[transport.OptionMaxRecvSize].(int); i > 0 {
		return int64(i)
	}
	return defaultMaxRecvSize
}

// wsConn implements the Connection surface on a websocket.  Each
// direction is serialized on its own goroutine, matching the stream
// framer's callback discipline.
type wsConn struct {
	ws *websocket.Conn
	rd *loop.Loop
	wr *loop.Loop

	mu     sync.Mutex
	id     string
	closed bool
	err    error
}

func newConn(ws *websocket.Conn, maxrx int64) *wsConn {
	ws.SetReadLimit(maxrx)
	return &wsConn{ws: ws, rd: loop.New(), wr: loop.New()}
}

func (w *wsConn) Read(cb func([]byte, error)) {
	w.rd.Defer(func() {
		if err := w.failure(); err != nil {
			cb(nil, err)
			return
		}
		_, body, err := w.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = errors.ErrEOF
			}
			cb(nil, w.fail(err))
			return
		}
		cb(body, nil)
	})
}

func (w *wsConn) Write(data []byte, cb func(error)) {
	w.wr.Defer(func() {
		if err := w.failure(); err != nil {
			cb(err)
			return
		}
		if err := w.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			cb(w.fail(err))
			return
		}
		cb(nil)
	})
}

func (w *wsConn) fail(err error) error {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	err = w.err
	w.mu.Unlock()
	return err
}

func (w *wsConn) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *wsConn) SetID(id string) {
	w.mu.Lock()
	w.id = id
	w.mu.Unlock()
}

func (w *wsConn) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.err == nil {
		w.err = errors.ErrClosed
	}
	w.mu.Unlock()
	w.ws.Close()
	w.rd.Close()
	w.wr.Close()
}

type dialer struct {
	addr string
	opts options
}

func (d *dialer) Dial() (tensorpipe.Connection, error) {
	wd := &websocket.Dialer{Subprotocols: []string{subprotocol}}
	ws, _, err := wd.Dial(d.addr, nil)
	if err != nil {
		return nil, err
	}
	if ws.Subprotocol() != subprotocol {
		ws.Close()
		return nil, errors.ErrProtocol
	}
	return newConn(ws, d.opts.maxrx()), nil
}

func (d *dialer) SetOption(name string, v interface{}) error {
	return d.opts.set(name, v)
}

func (d *dialer) GetOption(name string) (interface{}, error) {
	return d.opts.get(name)
}

// accepter owns the http server side.  Upgraded connections queue up
// until the listener boilerplate pulls them out.
type accepter struct {
	mu      sync.Mutex
	cv      *sync.Cond
	pending []*wsConn
	closed  bool

	addr string
	l    net.Listener
	svr  *http.Server
	ug   websocket.Upgrader
	opts options
}

func (a *accepter) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	ws, err := a.ug.Upgrade(rw, req, nil)
	if err != nil {
		return
	}
	if ws.Subprotocol() != subprotocol {
		ws.Close()
		return
	}
	c := newConn(ws, a.opts.maxrx())
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		c.Close()
		return
	}
	a.pending = append(a.pending, c)
	a.cv.Broadcast()
	a.mu.Unlock()
}

func (a *accepter) AcceptConn() (tensorpipe.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if a.closed {
			return nil, errors.ErrClosed
		}
		if len(a.pending) > 0 {
			c := a.pending[0]
			a.pending = a.pending[1:]
			return c, nil
		}
		a.cv.Wait()
	}
}

func (a *accepter) Addr() string { return a.addr }

func (a *accepter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	pending := a.pending
	a.pending = nil
	a.cv.Broadcast()
	a.mu.Unlock()
	for _, c := range pending {
		c.Close()
	}
	a.svr.Close()
	a.l.Close()
}

type listener struct {
	*transport.ListenerBase
	u     *url.URL
	opts  options
	bound bool
}

func (l *listener) Listen() error {
	if l.bound {
		return errors.ErrAddrInUse
	}
	taddr, err := transport.ResolveTCPAddr(l.u.Host)
	if err != nil {
		return err
	}
	tl, err := net.ListenTCP("tcp", taddr)
	if err != nil {
		return err
	}
	a := &accepter{
		addr: "ws://" + tl.Addr().String() + l.u.Path,
		l:    tl,
		opts: l.opts,
		ug:   websocket.Upgrader{Subprotocols: []string{subprotocol}},
	}
	a.cv = sync.NewCond(&a.mu)
	if !l.opts[OptionCheckOrigin].(bool) {
		a.ug.CheckOrigin = func(*http.Request) bool { return true }
	}
	path := l.u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, a)
	a.svr = &http.Server{Handler: mux}
	go a.svr.Serve(tl)
	l.bound = true
	l.Start(a)
	return nil
}

func (l *listener) SetOption(name string, v interface{}) error {
	return l.opts.set(name, v)
}

func (l *listener) GetOption(name string) (interface{}, error) {
	return l.opts.get(name)
}

type wsTran struct{}

func (wsTran) Scheme() string { return "ws" }

func (wsTran) NewDialer(ctx *tensorpipe.Context, addr string) (tensorpipe.Dialer, error) {
	if _, err := transport.StripScheme("ws", addr); err != nil {
		return nil, err
	}
	if _, err := url.Parse(addr); err != nil {
		return nil, errors.ErrBadAddr
	}
	return &dialer{addr: addr, opts: newOptions()}, nil
}

func (wsTran) NewListener(ctx *tensorpipe.Context, addr string) (tensorpipe.Listener, error) {
	if _, err := transport.StripScheme("ws", addr); err != nil {
		return nil, err
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.ErrBadAddr
	}
	return &listener{
		ListenerBase: transport.NewListenerBase(ctx),
		u:            u,
		opts:         newOptions(),
	}, nil
}

// NewTransport allocates a new WebSocket transport.
func NewTransport() tensorpipe.Transport {
	return wsTran{}
}
