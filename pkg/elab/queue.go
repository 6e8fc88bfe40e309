package elab

import (
	"github.com/kanon-lang/kanon/pkg/kernel"
)

type cnstrList struct {
	head *kernel.Constraint
	tail *cnstrList
}

func (l *cnstrList) push(c *kernel.Constraint) *cnstrList {
	return &cnstrList{head: c, tail: l}
}

func (l *cnstrList) reverse() *cnstrList {
	var out *cnstrList
	for cur := l; cur != nil; cur = cur.tail {
		out = out.push(cur.head)
	}
	return out
}

// Queue is a persistent double-ended queue of unification constraints.
// Every operation returns a new queue sharing structure with the old one,
// so saving the queue into a case split is a field copy. The classic
// two-stack representation gives amortized O(1) pushes and pops.
type Queue struct {
	front *cnstrList // popped from here
	back  *cnstrList // pushed here, reversed on demand
	size  int
}

// Size returns the number of queued constraints.
func (q Queue) Size() int { return q.size }

// Empty reports whether the queue has no constraints.
func (q Queue) Empty() bool { return q.size == 0 }

// PushFront queues c as the next constraint to process.
func (q Queue) PushFront(c *kernel.Constraint) Queue {
	return Queue{front: q.front.push(c), back: q.back, size: q.size + 1}
}

// PushBack queues c to be revisited after everything else.
func (q Queue) PushBack(c *kernel.Constraint) Queue {
	return Queue{front: q.front, back: q.back.push(c), size: q.size + 1}
}

// PopFront removes and returns the next constraint.
func (q Queue) PopFront() (*kernel.Constraint, Queue) {
	if q.size == 0 {
		return nil, q
	}
	if q.front == nil {
		q.front = q.back.reverse()
		q.back = nil
	}
	c := q.front.head
	return c, Queue{front: q.front.tail, back: q.back, size: q.size - 1}
}

// ForEach visits the queued constraints front to back.
func (q Queue) ForEach(f func(c *kernel.Constraint)) {
	for cur := q.front; cur != nil; cur = cur.tail {
		f(cur.head)
	}
	var rev []*kernel.Constraint
	for cur := q.back; cur != nil; cur = cur.tail {
		rev = append(rev, cur.head)
	}
	for i := len(rev) - 1; i >= 0; i-- {
		f(rev[i])
	}
}
