package index

import (
	"math/rand/v2"
	"testing"
)

func TestPriorityQueue_PopOrder(t *testing.T) {
	q := NewPriorityQueue()
	q.Push(3, "bob")
	q.Push(1, "amy")
	q.Push(1, "al")

	want := []Entry{{1, "al"}, {1, "amy"}, {3, "bob"}}
	for i, w := range want {
		got, ok := q.Pop()
		if !ok || got != w {
			t.Errorf("pop %d = (%v, %v), want (%v, true)", i, got, ok, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop on empty queue should return false")
	}
}

func TestPriorityQueue_PeekAndLen(t *testing.T) {
	q := NewPriorityQueue()
	if _, ok := q.Peek(); ok {
		t.Error("Peek on empty queue should return false")
	}
	q.Push(5, "e")
	q.Push(2, "b")
	if e, _ := q.Peek(); e != (Entry{2, "b"}) {
		t.Errorf("Peek() = %v, want {2 b}", e)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestPriorityQueue_Duplicates(t *testing.T) {
	q := NewPriorityQueue()
	for i := 0; i < 3; i++ {
		q.Push(1, "same")
	}
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
	for i := 0; i < 3; i++ {
		e, ok := q.Pop()
		if !ok || e != (Entry{1, "same"}) {
			t.Errorf("pop %d = (%v, %v), want ({1 same}, true)", i, e, ok)
		}
	}
}

func TestPriorityQueue_RandomOrder(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	q := NewPriorityQueue()
	names := []string{"al", "amy", "bob", "cy", "dee"}
	const n = 2000
	for i := 0; i < n; i++ {
		q.Push(rng.Int64N(20)-10, names[rng.IntN(len(names))])
		// Interleave pops to exercise sift-down on partially built heaps.
		if i%7 == 0 {
			q.Pop()
		}
	}

	prev, ok := q.Pop()
	if !ok {
		t.Fatal("queue unexpectedly empty")
	}
	popped := 1
	for q.Len() > 0 {
		e, _ := q.Pop()
		if e.less(prev) {
			t.Fatalf("popped %v after %v, want non-decreasing (priority, name)", e, prev)
		}
		prev = e
		popped++
	}
	if want := n - (n+6)/7; popped != want {
		t.Errorf("popped %d entries, want %d", popped, want)
	}
}
