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

// Package cuda defines the device driver surface the GPU channel
// backend consumes: allocations addressed by opaque device pointers,
// streams that order asynchronous work, events exchanged between
// processes through IPC handles, and asynchronous copies.
//
// The package ships with an in-process emulation (see Emulated) that
// implements the whole surface on host memory, so the event and handle
// exchange protocol runs unmodified without a GPU.  A cgo-backed
// driver can be substituted without touching the channel code.
package cuda

import "encoding/binary"

type cudaErr string

func (e cudaErr) Error() string { return string(e) }

const (
	// ErrBadPointer is returned when a pointer does not fall inside
	// any live allocation.
	ErrBadPointer = cudaErr("cuda: pointer outside any allocation")

	// ErrBadHandle is returned when an IPC handle does not name a
	// live allocation or event.
	ErrBadHandle = cudaErr("cuda: invalid ipc handle")

	// ErrBadSize is returned for non-positive allocation sizes.
	ErrBadSize = cudaErr("cuda: invalid size")

	// ErrRange is returned when a copy extends past the end of an
	// allocation.
	ErrRange = cudaErr("cuda: copy out of range")
)

// Ptr is an opaque device pointer.  Pointers within one allocation
// are ordered and support offset arithmetic.
type Ptr uint64

// HandleSize is the size of every IPC handle produced by this driver
// surface, in bytes.
const HandleSize = 8

func encodeHandle(id uint64) []byte {
	h := make([]byte, HandleSize)
	binary.BigEndian.PutUint64(h, id)
	return h
}

func decodeHandle(h []byte) (uint64, error) {
	if len(h) != HandleSize {
		return 0, ErrBadHandle
	}
	return binary.BigEndian.Uint64(h), nil
}

// Lib is the driver surface.  All methods are safe for concurrent use.
type Lib interface {

	// Alloc reserves size bytes on the given device and returns the
	// base pointer.
	Alloc(device, size int) (Ptr, error)

	// Free releases an allocation by its base pointer.
	Free(base Ptr) error

	// DeviceForPointer reports the device owning the allocation that
	// contains p.
	DeviceForPointer(p Ptr) (int, error)

	// GetAddressRange reports the base pointer and total size of the
	// allocation containing p.
	GetAddressRange(p Ptr) (Ptr, int, error)

	// BufferID returns a process-stable identifier for the
	// allocation with the given base pointer.
	BufferID(base Ptr) (uint64, error)

	// IpcGetMemHandle produces a handle for the allocation that a
	// peer process can open.
	IpcGetMemHandle(base Ptr) ([]byte, error)

	// IpcOpenMemHandle maps a peer allocation into the local address
	// space and returns its base pointer.
	IpcOpenMemHandle(handle []byte) (Ptr, error)

	// MemcpyAsync enqueues a copy of n bytes from src to dst on the
	// stream.  The copy happens when the stream reaches it.
	MemcpyAsync(dst, src Ptr, n int, s *Stream) error

	// CopyToDevice writes host bytes into device memory at dst,
	// synchronously.
	CopyToDevice(dst Ptr, src []byte) error

	// CopyFromDevice reads device memory at src into host bytes,
	// synchronously.
	CopyFromDevice(dst []byte, src Ptr) error

	// NewEvent creates an unrecorded event.
	NewEvent() (*Event, error)

	// OpenIpcEvent resolves a peer's event handle.
	OpenIpcEvent(handle []byte) (*Event, error)
}

// Buffer is a region of device memory plus the stream the caller's
// work is ordered on.  It satisfies the channel Buffer surface.
type Buffer struct {
	Ptr    Ptr
	Length int
	Stream *Stream
}

// Size returns the number of bytes in the region.
func (b Buffer) Size() int { return b.Length }
