package index

// Entry is an element of a PriorityQueue.
type Entry struct {
	Priority int64
	Name     string
}

// less orders entries by priority, then by name.
func (e Entry) less(o Entry) bool {
	if e.Priority != o.Priority {
		return e.Priority < o.Priority
	}
	return e.Name < o.Name
}

// PriorityQueue is an array-backed binary min-heap of entries. Equal
// priorities pop in name order; duplicates are kept and popped
// independently.
type PriorityQueue struct {
	buf []Entry
}

// NewPriorityQueue creates an empty queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Len reports the number of queued entries.
func (q *PriorityQueue) Len() int {
	return len(q.buf)
}

// Push adds an entry.
// The complexity is O(log n) where n = q.Len().
func (q *PriorityQueue) Push(priority int64, name string) {
	q.buf = append(q.buf, Entry{Priority: priority, Name: name})
	q.up(len(q.buf) - 1)
}

// Peek returns the minimum entry without removing it.
func (q *PriorityQueue) Peek() (Entry, bool) {
	if len(q.buf) == 0 {
		return Entry{}, false
	}
	return q.buf[0], true
}

// Pop removes and returns the minimum entry. Returns false when empty.
// The complexity is O(log n) where n = q.Len().
func (q *PriorityQueue) Pop() (Entry, bool) {
	if len(q.buf) == 0 {
		return Entry{}, false
	}
	top := q.buf[0]
	n := len(q.buf) - 1
	q.buf[0], q.buf[n] = q.buf[n], q.buf[0]
	q.down(0, n)
	q.buf[n] = Entry{}
	q.buf = q.buf[:n]
	return top, true
}

func (q *PriorityQueue) up(j int) {
	for j > 0 {
		i := (j - 1) / 2 // parent
		if !q.buf[j].less(q.buf[i]) {
			break
		}
		q.buf[i], q.buf[j] = q.buf[j], q.buf[i]
		j = i
	}
}

func (q *PriorityQueue) down(i, n int) {
	for {
		j := 2*i + 1
		if j >= n {
			break
		}
		if j2 := j + 1; j2 < n && q.buf[j2].less(q.buf[j]) {
			j = j2 // right child
		}
		if !q.buf[j].less(q.buf[i]) {
			break
		}
		q.buf[i], q.buf[j] = q.buf[j], q.buf[i]
		i = j
	}
}
