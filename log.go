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
	"bytes"
	"fmt"
	"sync"
)

// LogSink consumes the context's debug lines.  The default sink
// discards them.
type LogSink interface {
	Logf(format string, a ...interface{})
}

type nopLog struct{}

func (nopLog) Logf(string, ...interface{}) {}

// SetLogSink installs s as the context's debug sink.  Pass nil to
// restore the discarding default.
func (c *Context) SetLogSink(s LogSink) {
	c.logMu.Lock()
	if s == nil {
		s = nopLog{}
	}
	c.log = s
	c.logMu.Unlock()
}

// Logf emits one debug line on the context's sink.
func (c *Context) Logf(format string, a ...interface{}) {
	c.logMu.Lock()
	s := c.log
	c.logMu.Unlock()
	s.Logf(format, a...)
}

// BufferedLog is a LogSink that accumulates lines in memory.  Tests
// install one to inspect the order of events.
type BufferedLog struct {
	sync.Mutex
	buf bytes.Buffer
}

// Logf implements LogSink.
func (l *BufferedLog) Logf(format string, a ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.buf.WriteString(fmt.Sprintf(format, a...))
	l.buf.WriteByte('\n')
}

// String returns everything logged so far.
func (l *BufferedLog) String() string {
	l.Lock()
	defer l.Unlock()
	return l.buf.String()
}

// Clear discards the accumulated lines.
func (l *BufferedLog) Clear() {
	l.Lock()
	defer l.Unlock()
	l.buf.Reset()
}
