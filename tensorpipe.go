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

// Package tensorpipe moves bytes, including device-resident bytes,
// between two cooperating processes over one or more byte-stream
// connections, hiding from the caller which physical mechanism carries
// them.  A sender submits a buffer and gets back an opaque descriptor;
// the descriptor travels to the peer out-of-band; the peer submits the
// descriptor with a destination buffer and both sides complete with a
// callback.
package tensorpipe

// Buffer describes a region of memory handed to a channel.  Concrete
// buffer types identify where the bytes live; the channel backend
// decides how to move them.
type Buffer interface {
	// Size returns the number of bytes in the region.
	Size() int
}

// HostBuffer is a region of ordinary process memory.
type HostBuffer struct {
	Data []byte
}

// Size implements Buffer.
func (b HostBuffer) Size() int { return len(b.Data) }

// Channel transfers buffers between exactly two endpoints.  A channel
// is created over one or more Connections by a backend package; the
// two endpoints must use the same backend.
//
// Within one direction, callbacks fire in submission order.  Between
// the send and receive directions, and across channels, there is no
// ordering guarantee.
type Channel interface {

	// Send submits buf for transfer and synchronously returns the
	// serialized descriptor that the receiving side must pass to
	// Recv.  The descriptor is conveyed out-of-band, typically by a
	// higher layer on its own control connection.  cb fires exactly
	// once, when the peer has finished reading the buffer or when
	// the channel fails; until then the caller must not reuse buf.
	Send(buf Buffer, cb func(error)) ([]byte, error)

	// Recv submits a receive matching the given descriptor.  cb
	// fires exactly once, when buf holds the peer's bytes or when
	// the channel fails.
	Recv(descriptor []byte, buf Buffer, cb func(error))

	// SetID renames the channel for logging.  Takes effect
	// asynchronously.
	SetID(id string)

	// Close tears the channel down.  Every pending and subsequently
	// submitted operation completes with ErrChannelClosed.  Close is
	// idempotent.
	Close()
}

// Connection is a reliable, ordered, message-framed byte stream used
// by channels to carry their control messages.  Reads and writes are
// asynchronous; completion callbacks may fire on an arbitrary
// goroutine and must not block.
type Connection interface {

	// Read issues a read for the next framed message.  Reads are
	// serialized and complete in issue order.
	Read(cb func(data []byte, err error))

	// Write issues a write of one framed message.  Writes issued
	// from a single goroutine are delivered in order.
	Write(data []byte, cb func(err error))

	// SetID renames the connection for logging.
	SetID(id string)

	// Close aborts outstanding operations with ErrClosed.
	Close()
}

// Dialer initiates outgoing connections for one transport and address.
type Dialer interface {

	// Dial establishes a new connection to the remote peer.
	Dial() (Connection, error)

	// SetOption sets a local option on the dialer.  ErrBadOption is
	// returned for unrecognized options, ErrBadValue for incorrect
	// value types.
	SetOption(name string, value interface{}) error

	// GetOption retrieves a local option.  ErrBadOption is returned
	// for unrecognized options.
	GetOption(name string) (interface{}, error)
}

// Listener accepts incoming connections for one transport and address.
// Accept callbacks fire in submission order; closing the listener
// completes every pending accept with ErrListenerClosed and a nil
// connection.
type Listener interface {

	// Listen binds the underlying address and begins listening.  It
	// must be called before Accept.
	Listen() error

	// Accept registers cb to receive the next incoming connection.
	// Multiple accepts may be pending; their callbacks fire in the
	// order the accepts were submitted.
	Accept(cb func(Connection, error))

	// Addr returns the bound address.  Not meaningful before Listen.
	Addr() string

	// SetID renames the listener for logging.
	SetID(id string)

	// SetOption sets a local option on the listener.
	SetOption(name string, value interface{}) error

	// GetOption retrieves a local option.
	GetOption(name string) (interface{}, error)

	// Close stops listening and drains pending accepts.  Idempotent.
	Close()
}

// Transport supplies dialers and listeners for one address scheme,
// such as "tcp", "ipc" or "ws".
type Transport interface {

	// Scheme returns the address prefix this transport serves, the
	// part before "://".
	Scheme() string

	// NewDialer creates a dialer for the given full address.
	NewDialer(ctx *Context, addr string) (Dialer, error)

	// NewListener creates a listener for the given full address.
	// The address is not bound until Listen is called.
	NewListener(ctx *Context, addr string) (Listener, error)
}
