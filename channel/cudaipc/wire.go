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

package cudaipc

import (
	"github.com/lw/tensorpipe"
	"github.com/lw/tensorpipe/errors"
)

// descriptor is the out-of-band message a Send produces.  The
// allocation identifier names the source allocation uniquely across
// processes, so the receiver can cache the opened memory handle and
// skip reopening it for later transfers from the same allocation.
type descriptor struct {
	allocationID  string
	memHandle     []byte
	offset        uint64
	startEvHandle []byte
}

func encodeDescriptor(d descriptor) []byte {
	b := tensorpipe.AppendString(nil, d.allocationID)
	b = tensorpipe.AppendBytes(b, d.memHandle)
	b = tensorpipe.AppendUint64(b, d.offset)
	b = tensorpipe.AppendBytes(b, d.startEvHandle)
	return b
}

func decodeDescriptor(b []byte) (descriptor, error) {
	var d descriptor
	var err error
	if d.allocationID, b, err = tensorpipe.ConsumeString(b); err != nil {
		return descriptor{}, errors.ErrProtocol
	}
	if d.memHandle, b, err = tensorpipe.ConsumeBytes(b); err != nil {
		return descriptor{}, errors.ErrProtocol
	}
	if d.offset, b, err = tensorpipe.ConsumeUint64(b); err != nil {
		return descriptor{}, errors.ErrProtocol
	}
	if d.startEvHandle, b, err = tensorpipe.ConsumeBytes(b); err != nil {
		return descriptor{}, errors.ErrProtocol
	}
	if len(b) != 0 {
		return descriptor{}, errors.ErrProtocol
	}
	return d, nil
}

// reply travels from receiver to sender on the reply connection once
// the copy has been enqueued, carrying the handle of the event the
// sender's stream must wait on before the source buffer is reusable.
func encodeReply(stopEvHandle []byte) []byte {
	return tensorpipe.AppendBytes(nil, stopEvHandle)
}

func decodeReply(b []byte) ([]byte, error) {
	h, rest, err := tensorpipe.ConsumeBytes(b)
	if err != nil || len(rest) != 0 {
		return nil, errors.ErrProtocol
	}
	return h, nil
}

// ack travels from sender to receiver on the ack connection once the
// sender has consumed the stop event, releasing the receiver's
// reference to it.  It carries no payload.
func encodeAck() []byte { return []byte{} }

func decodeAck(b []byte) error {
	if len(b) != 0 {
		return errors.ErrProtocol
	}
	return nil
}
