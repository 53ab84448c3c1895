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

//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"

	"github.com/lw/tensorpipe/errors"
)

// The options here are specific to Windows Named Pipes.
const (
	// OptionSecurityDescriptor represents a Windows security
	// descriptor in SDDL format (string).  This can only be set on
	// a listener, before Listen is called.
	OptionSecurityDescriptor = "WIN-IPC-SECURITY-DESCRIPTOR"

	// OptionInputBufferSize is the named pipe input buffer size in
	// bytes (int32).  Listener only, before Listen.
	OptionInputBufferSize = "WIN-IPC-INPUT-BUFFER-SIZE"

	// OptionOutputBufferSize is the named pipe output buffer size in
	// bytes (int32).  Listener only, before Listen.
	OptionOutputBufferSize = "WIN-IPC-OUTPUT-BUFFER-SIZE"
)

func dialPipe(path string) (net.Conn, error) {
	return winio.DialPipe("\\\\.\\pipe\\"+path, nil)
}

func listenPipe(path string, o options) (net.Listener, error) {
	config := &winio.PipeConfig{
		InputBufferSize:    o[OptionInputBufferSize].(int32),
		OutputBufferSize:   o[OptionOutputBufferSize].(int32),
		SecurityDescriptor: o[OptionSecurityDescriptor].(string),
		MessageMode:        false,
	}
	return winio.ListenPipe("\\\\.\\pipe\\"+path, config)
}

func platformDefaults(o options) {
	o[OptionSecurityDescriptor] = ""
	o[OptionInputBufferSize] = int32(4096)
	o[OptionOutputBufferSize] = int32(4096)
}

func platformSet(o options, name string, v interface{}) error {
	switch name {
	case OptionSecurityDescriptor:
		if s, ok := v.(string); ok {
			o[name] = s
			return nil
		}
		return errors.ErrBadValue
	case OptionInputBufferSize, OptionOutputBufferSize:
		if i, ok := v.(int32); ok {
			o[name] = i
			return nil
		}
		return errors.ErrBadValue
	}
	return errors.ErrBadOption
}
