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
	"encoding/binary"

	"github.com/lw/tensorpipe/errors"
)

// Codec helpers for the fixed-schema control messages (descriptors,
// replies, acks).  All integers are big-endian; byte strings and
// strings carry a 32-bit length prefix.  Producers and consumers must
// agree bit-for-bit, so every field is appended and consumed through
// these helpers, never ad hoc.

// AppendUint64 appends v in big-endian order.
func AppendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}

// ConsumeUint64 reads a big-endian uint64 from the front of b and
// returns the remainder.
func ConsumeUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errors.ErrTooShort
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

// AppendBytes appends p with a 32-bit big-endian length prefix.
func AppendBytes(b, p []byte) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(len(p)))
	b = append(b, tmp[:]...)
	return append(b, p...)
}

// ConsumeBytes reads a length-prefixed byte string from the front of b
// and returns it along with the remainder.  The returned slice aliases
// b.
func ConsumeBytes(b []byte) ([]byte, []byte, error) {
	if len(b) < 4 {
		return nil, nil, errors.ErrTooShort
	}
	n := binary.BigEndian.Uint32(b)
	b = b[4:]
	if uint64(len(b)) < uint64(n) {
		return nil, nil, errors.ErrTooShort
	}
	return b[:n:n], b[n:], nil
}

// AppendString appends s with a 32-bit big-endian length prefix.
func AppendString(b []byte, s string) []byte {
	return AppendBytes(b, []byte(s))
}

// ConsumeString reads a length-prefixed string from the front of b and
// returns it along with the remainder.
func ConsumeString(b []byte) (string, []byte, error) {
	p, rest, err := ConsumeBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(p), rest, nil
}
