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

package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/lw/tensorpipe/errors"
	"github.com/lw/tensorpipe/internal/loop"
)

// defaultMaxRecvSize keeps a bogus peer from making us allocate
// ridiculous amounts of memory.  Control messages are small; transports
// may raise it through OptionMaxRecvSize.
const defaultMaxRecvSize = 1024 * 1024

// Conn frames messages over a net.Conn: each message is a 64-bit size
// in network byte order followed by the payload.  Reads and writes are
// issued asynchronously and each direction is serialized on its own
// goroutine, so completion callbacks in one direction fire in issue
// order and never block the caller.
//
// Stream oriented transports use this as their Connection
// implementation; message oriented ones (websocket) provide their own.
type Conn struct {
	c     net.Conn
	rd    *loop.Loop
	wr    *loop.Loop
	maxrx int64

	mu     sync.Mutex
	id     string
	closed bool
	err    error
}

// NewConn wraps c in a framed connection, performing the version
// handshake with the peer before returning.  maxrx of zero applies the
// framing default.
func NewConn(c net.Conn, maxrx int) (*Conn, error) {
	p := &Conn{c: c, maxrx: int64(maxrx)}
	if p.maxrx == 0 {
		p.maxrx = defaultMaxRecvSize
	}
	if err := p.handshake(); err != nil {
		return nil, err
	}
	p.rd = loop.New()
	p.wr = loop.New()
	return p, nil
}

// connHeader is exchanged when the connection is established.  Both
// sides send it, then both wait for the peer's.
type connHeader struct {
	Zero    byte // must be zero
	T       byte // 'T'
	P       byte // 'P'
	Version byte // only zero at present
	Rsvd    uint32
}

func (p *Conn) handshake() error {
	h := connHeader{T: 'T', P: 'P'}

	// The write runs concurrently with the read so that rendezvous
	// conns with no buffering (net.Pipe) cannot deadlock with a peer
	// doing the same.
	werr := make(chan error, 1)
	go func() { werr <- binary.Write(p.c, binary.BigEndian, &h) }()

	if err := binary.Read(p.c, binary.BigEndian, &h); err != nil {
		p.c.Close()
		<-werr
		return err
	}
	if err := <-werr; err != nil {
		p.c.Close()
		return err
	}
	if h.Zero != 0 || h.T != 'T' || h.P != 'P' || h.Rsvd != 0 {
		p.c.Close()
		return errors.ErrProtocol
	}
	if h.Version != 0 {
		p.c.Close()
		return errors.ErrProtocol
	}
	return nil
}

// Read issues a read for the next framed message.  cb fires on the
// connection's read goroutine.
func (p *Conn) Read(cb func([]byte, error)) {
	p.rd.Defer(func() {
		if err := p.failure(); err != nil {
			cb(nil, err)
			return
		}
		data, err := p.readFrame()
		if err != nil {
			cb(nil, p.fail(err))
			return
		}
		cb(data, nil)
	})
}

// Write issues a write of one framed message.  cb fires on the
// connection's write goroutine, in issue order.
func (p *Conn) Write(data []byte, cb func(error)) {
	p.wr.Defer(func() {
		if err := p.failure(); err != nil {
			cb(err)
			return
		}
		if err := p.writeFrame(data); err != nil {
			cb(p.fail(err))
			return
		}
		cb(nil)
	})
}

func (p *Conn) readFrame() ([]byte, error) {
	var sz int64
	if err := binary.Read(p.c, binary.BigEndian, &sz); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = errors.ErrEOF
		}
		return nil, err
	}
	if sz < 0 || sz > p.maxrx {
		p.c.Close()
		return nil, errors.ErrTooLong
	}
	data := make([]byte, sz)
	if _, err := io.ReadFull(p.c, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			err = errors.ErrEOF
		}
		return nil, err
	}
	return data, nil
}

func (p *Conn) writeFrame(data []byte) error {
	if err := binary.Write(p.c, binary.BigEndian, uint64(len(data))); err != nil {
		return err
	}
	_, err := p.c.Write(data)
	return err
}

// fail records the first error and returns the sticky one, so that
// I/O failures caused by Close surface as ErrClosed rather than the
// raw network error.
func (p *Conn) fail(err error) error {
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	err = p.err
	p.mu.Unlock()
	return err
}

func (p *Conn) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// SetID renames the connection for logging.
func (p *Conn) SetID(id string) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

// ID returns the logging name.
func (p *Conn) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Close aborts outstanding and future operations with ErrClosed and
// closes the underlying conn.  Idempotent.
func (p *Conn) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.err == nil {
		p.err = errors.ErrClosed
	}
	p.mu.Unlock()
	p.c.Close()
	p.rd.Close()
	p.wr.Close()
}

// NewPair returns two connected in-process connections, one per end of
// a rendezvous pipe.  Useful for tests and loopback wiring.
func NewPair() (*Conn, *Conn, error) {
	a, b := net.Pipe()
	type result struct {
		c   *Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := NewConn(a, 0)
		ch <- result{c, err}
	}()
	cb, err := NewConn(b, 0)
	ra := <-ch
	if ra.err != nil {
		if cb != nil {
			cb.Close()
		}
		return nil, nil, ra.err
	}
	if err != nil {
		ra.c.Close()
		return nil, nil, err
	}
	return ra.c, cb, nil
}
