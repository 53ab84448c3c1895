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

package list

import (
	"testing"
)

func TestInsertRemoveOrder(t *testing.T) {
	var l List
	l.Init()

	nodes := make([]Node, 4)
	for i := range nodes {
		nodes[i].Value = i
		l.InsertTail(&nodes[i])
	}

	if l.HeadNode() != &nodes[0] {
		t.Errorf("head is not the first inserted node")
	}
	if l.TailNode() != &nodes[3] {
		t.Errorf("tail is not the last inserted node")
	}

	// Removing an interior node must keep neighbors linked.
	l.Remove(&nodes[1])
	if l.Next(&nodes[0]) != &nodes[2] {
		t.Errorf("neighbor links broken after interior removal")
	}
	if l.Prev(&nodes[2]) != &nodes[0] {
		t.Errorf("prev link broken after interior removal")
	}

	want := []int{0, 2, 3}
	i := 0
	for n := l.HeadNode(); n != nil; n = l.Next(n) {
		if n.Value.(int) != want[i] {
			t.Errorf("position %d: got %v, want %d", i, n.Value, want[i])
		}
		i++
	}
	if i != len(want) {
		t.Errorf("walked %d nodes, want %d", i, len(want))
	}

	for l.RemoveHead() != nil {
	}
	if !l.Empty() {
		t.Errorf("list not empty after draining")
	}
}

func TestReinsertKeepsPosition(t *testing.T) {
	var l List
	l.Init()

	nodes := make([]Node, 2)
	l.InsertTail(&nodes[0])
	l.InsertTail(&nodes[1])
	l.InsertTail(&nodes[0]) // no-op: already on the list

	if l.HeadNode() != &nodes[0] || l.TailNode() != &nodes[1] {
		t.Errorf("reinsertion changed node positions")
	}
}

func BenchmarkQueuePush(b *testing.B) {
	var l List
	nodes := make([]Node, b.N)
	l.Init()

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		l.InsertTail(&nodes[i])
	}
}

func BenchmarkQueuePop(b *testing.B) {
	var l List
	nodes := make([]Node, b.N)
	l.Init()

	for i := 0; i < b.N; i++ {
		l.InsertTail(&nodes[i])
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.RemoveHead()
	}
}
