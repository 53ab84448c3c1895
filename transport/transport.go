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

// Package transport provides the building blocks shared by the
// concrete transports: message framing over a net.Conn, the listener
// boilerplate that serializes accepts through the owning context's
// event loop, address helpers, and common option names.
package transport

import (
	"net"
	"strings"

	"github.com/lw/tensorpipe/errors"
)

// Common option names.  Individual transports document which of these
// they support.
const (
	// OptionMaxRecvSize is the largest inbound message a connection
	// will accept, in bytes (int).  Zero means the framing default.
	OptionMaxRecvSize = "MAX-RECV-SIZE"

	// OptionNoDelay disables Nagle batching on TCP-like transports
	// (bool).
	OptionNoDelay = "NO-DELAY"

	// OptionKeepAlive enables TCP keep-alive probes (bool).
	OptionKeepAlive = "KEEP-ALIVE"
)

// SplitScheme separates an address of the form "scheme://rest" into
// its two parts.
func SplitScheme(addr string) (scheme, rest string, err error) {
	i := strings.Index(addr, "://")
	if i < 0 {
		return "", "", errors.ErrBadAddr
	}
	return addr[:i], addr[i+3:], nil
}

// StripScheme removes the given scheme prefix from addr, failing if
// addr carries a different scheme.
func StripScheme(scheme, addr string) (string, error) {
	prefix := scheme + "://"
	if !strings.HasPrefix(addr, prefix) {
		return "", errors.ErrBadTran
	}
	return addr[len(prefix):], nil
}

// ResolveTCPAddr is like net.ResolveTCPAddr, but it accepts the "*"
// wildcard host, replacing it with an empty string to indicate all
// local interfaces.
func ResolveTCPAddr(addr string) (*net.TCPAddr, error) {
	if strings.HasPrefix(addr, "*") {
		addr = addr[1:]
	}
	return net.ResolveTCPAddr("tcp", addr)
}
