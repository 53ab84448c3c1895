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

package tensorpipe

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/loop"
)

// Context owns the event loop that serializes all channel and listener
// state, the closing broadcast that tears them down together, the
// process identifier used to name allocations on the wire, and the set
// of registered transports.
type Context struct {
	l       *loop.Loop
	closing loop.ClosingEmitter
	procID  string

	mu         sync.Mutex
	transports map[string]Transport
	closed     bool
	live       sync.WaitGroup

	logMu sync.Mutex
	log   LogSink
}

// NewContext creates a context and starts its event loop.
func NewContext() *Context {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return &Context{
		l:          loop.New(),
		procID:     fmt.Sprintf("%s-%d", host, os.Getpid()),
		transports: make(map[string]Transport),
		log:        nopLog{},
	}
}

// ProcessIdentifier returns the context's stable process name,
// hostname and pid joined.  Both peers of a channel must use the same
// identifier scheme so that allocation names match.
func (c *Context) ProcessIdentifier() string { return c.procID }

// Loop returns the context's event loop.  Channel and listener
// implementations run all their state manipulation on it.
func (c *Context) Loop() *loop.Loop { return c.l }

// Closing returns the context's closing broadcast.  Channels and
// listeners subscribe so that Close on the context becomes a
// per-object error.
func (c *Context) Closing() *loop.ClosingEmitter { return &c.closing }

// AddTransport registers t under its scheme, replacing any previous
// transport for the same scheme.
func (c *Context) AddTransport(t Transport) {
	c.mu.Lock()
	c.transports[t.Scheme()] = t
	c.mu.Unlock()
}

func (c *Context) transportFor(addr string) (Transport, error) {
	i := strings.Index(addr, "://")
	if i < 0 {
		return nil, errors.ErrBadAddr
	}
	c.mu.Lock()
	t := c.transports[addr[:i]]
	c.mu.Unlock()
	if t == nil {
		return nil, errors.ErrBadTran
	}
	return t, nil
}

// Dial establishes an outgoing connection to addr, which must carry a
// scheme registered with AddTransport.
func (c *Context) Dial(addr string) (Connection, error) {
	t, err := c.transportFor(addr)
	if err != nil {
		return nil, err
	}
	d, err := t.NewDialer(c, addr)
	if err != nil {
		return nil, err
	}
	return d.Dial()
}

// Listen binds addr and returns a listener ready to Accept.
func (c *Context) Listen(addr string) (Listener, error) {
	t, err := c.transportFor(addr)
	if err != nil {
		return nil, err
	}
	l, err := t.NewListener(c, addr)
	if err != nil {
		return nil, err
	}
	if err := l.Listen(); err != nil {
		return nil, err
	}
	return l, nil
}

// Enroll records one live channel or listener.  The returned release
// function must be called exactly once, after the object has fully
// closed; Join blocks until every enrolled object has released.
func (c *Context) Enroll() (release func()) {
	c.live.Add(1)
	var once sync.Once
	return func() { once.Do(c.live.Done) }
}

// Close fires the closing broadcast with ErrClosed.  Every enrolled
// channel and listener converts that into its own close.  Idempotent;
// it does not wait, use Join for that.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.closing.Close(errors.ErrClosed)
}

// Join closes the context, waits for every enrolled object to finish
// closing, then drains and stops the event loop.  Must not be called
// from the loop.
func (c *Context) Join() {
	c.Close()
	c.live.Wait()
	c.l.Join()
}
