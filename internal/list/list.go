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

// Package list provides an intrusive doubly linked list.  Unlike
// container/list, this version relies on the consumer to preallocate
// nodes, typically by embedding them in the structures being linked.
// Nodes stay valid while neighbors are inserted and removed, which is
// what the operation queues need: an operation record is referenced by
// several pending completions while earlier records are popped.
package list

// Node represents a node in a doubly linked list.  It is suitable for
// embedding directly into structures.
type Node struct {
	next *Node
	prev *Node
	list *List
	// Value should contain a pointer back to the enclosing structure.
	Value interface{}
}

// List represents a doubly linked list with a sentinel head node.
type List struct {
	Node
}

func (l *List) Init() {
	if l.list == nil {
		l.next = &l.Node
		l.prev = &l.Node
		l.list = l
	}
}

func (l *List) InsertTail(n *Node) {
	if n.list == l {
		// Already on the list; don't change position.
		return
	}
	n.prev = l.prev
	n.next = l.prev.next
	n.next.prev = n
	n.prev.next = n
	n.list = l
}

func (l *List) HeadNode() *Node {
	if l.next == &l.Node {
		return nil
	}
	return l.next
}

func (l *List) TailNode() *Node {
	if l.prev == &l.Node {
		return nil
	}
	return l.prev
}

// Next returns the node following n, or nil if n is the tail or is
// not on the list.
func (l *List) Next(n *Node) *Node {
	if n.list != l || n.next == &l.Node {
		return nil
	}
	return n.next
}

// Prev returns the node preceding n, or nil if n is the head or is
// not on the list.
func (l *List) Prev(n *Node) *Node {
	if n.list != l || n.prev == &l.Node {
		return nil
	}
	return n.prev
}

func (l *List) RemoveHead() *Node {
	n := l.next
	if n == &l.Node {
		return nil
	}
	l.Remove(n)
	return n
}

func (l *List) Remove(n *Node) {
	if n.list != l {
		if n.list != nil {
			panic("attempt to remove from wrong list")
		}
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
	n.list = nil
}

// Empty reports whether the list has no nodes.
func (l *List) Empty() bool {
	return l.list == nil || l.next == &l.Node
}
