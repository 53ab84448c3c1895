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

package cuda

import "sync"

// emulation implements Lib on host memory.  The registry is shared by
// every caller in the process, so two contexts in one process exchange
// IPC handles exactly the way two processes would against a real
// driver.
type emulation struct {
	mu       sync.Mutex
	nextAddr uint64
	nextID   uint64
	allocs   map[Ptr]*allocation
	events   map[uint64]*Event
}

type allocation struct {
	base   Ptr
	id     uint64
	device int
	data   []byte
}

var emu = &emulation{
	// Leave address zero unused so the zero Ptr stays invalid.
	nextAddr: 1 << 12,
	allocs:   make(map[Ptr]*allocation),
	events:   make(map[uint64]*Event),
}

// Emulated returns the process-wide emulated driver.
func Emulated() Lib { return emu }

func (e *emulation) Alloc(device, size int) (Ptr, error) {
	if size <= 0 {
		return 0, ErrBadSize
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	base := Ptr(e.nextAddr)
	// Keep a guard gap between allocations so off-by-one pointers
	// never resolve to a neighbor.
	e.nextAddr += uint64(size) + (1 << 12)
	e.nextID++
	e.allocs[base] = &allocation{
		base:   base,
		id:     e.nextID,
		device: device,
		data:   make([]byte, size),
	}
	return base, nil
}

func (e *emulation) Free(base Ptr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.allocs[base]; !ok {
		return ErrBadPointer
	}
	delete(e.allocs, base)
	return nil
}

// find returns the allocation containing p.  Caller holds the lock.
func (e *emulation) find(p Ptr) *allocation {
	for _, a := range e.allocs {
		if p >= a.base && uint64(p) < uint64(a.base)+uint64(len(a.data)) {
			return a
		}
	}
	return nil
}

func (e *emulation) DeviceForPointer(p Ptr) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.find(p)
	if a == nil {
		return 0, ErrBadPointer
	}
	return a.device, nil
}

func (e *emulation) GetAddressRange(p Ptr) (Ptr, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.find(p)
	if a == nil {
		return 0, 0, ErrBadPointer
	}
	return a.base, len(a.data), nil
}

func (e *emulation) BufferID(base Ptr) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.allocs[base]
	if a == nil {
		return 0, ErrBadPointer
	}
	return a.id, nil
}

func (e *emulation) IpcGetMemHandle(base Ptr) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.allocs[base]
	if a == nil {
		return nil, ErrBadPointer
	}
	return encodeHandle(uint64(a.base)), nil
}

func (e *emulation) IpcOpenMemHandle(handle []byte) (Ptr, error) {
	id, err := decodeHandle(handle)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.allocs[Ptr(id)]
	if a == nil {
		return 0, ErrBadHandle
	}
	return a.base, nil
}

func (e *emulation) MemcpyAsync(dst, src Ptr, n int, s *Stream) error {
	e.mu.Lock()
	da := e.find(dst)
	sa := e.find(src)
	e.mu.Unlock()
	if da == nil || sa == nil {
		return ErrBadPointer
	}
	doff := uint64(dst) - uint64(da.base)
	soff := uint64(src) - uint64(sa.base)
	if doff+uint64(n) > uint64(len(da.data)) || soff+uint64(n) > uint64(len(sa.data)) {
		return ErrRange
	}
	s.Enqueue(func() {
		copy(da.data[doff:doff+uint64(n)], sa.data[soff:soff+uint64(n)])
	})
	return nil
}

func (e *emulation) CopyToDevice(dst Ptr, src []byte) error {
	e.mu.Lock()
	a := e.find(dst)
	e.mu.Unlock()
	if a == nil {
		return ErrBadPointer
	}
	off := uint64(dst) - uint64(a.base)
	if off+uint64(len(src)) > uint64(len(a.data)) {
		return ErrRange
	}
	copy(a.data[off:], src)
	return nil
}

func (e *emulation) CopyFromDevice(dst []byte, src Ptr) error {
	e.mu.Lock()
	a := e.find(src)
	e.mu.Unlock()
	if a == nil {
		return ErrBadPointer
	}
	off := uint64(src) - uint64(a.base)
	if off+uint64(len(dst)) > uint64(len(a.data)) {
		return ErrRange
	}
	copy(dst, a.data[off:])
	return nil
}

func (e *emulation) NewEvent() (*Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	ev := &Event{id: e.nextID, done: make(chan struct{})}
	e.events[ev.id] = ev
	return ev, nil
}

func (e *emulation) OpenIpcEvent(handle []byte) (*Event, error) {
	id, err := decodeHandle(handle)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ev := e.events[id]
	if ev == nil {
		return nil, ErrBadHandle
	}
	return ev, nil
}
