package window

import "time"

// Entry is one accepted event held by the window.
type Entry struct {
	Signature string
	At        time.Time
}

// queue is a growable ring buffer: push at the tail, pop from the head.
type queue struct {
	buf  []Entry
	head int
	n    int
}

const minQueueCap = 16

func (q *queue) len() int { return q.n }

func (q *queue) push(e Entry) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = e
	q.n++
}

func (q *queue) front() Entry { return q.buf[q.head] }

func (q *queue) pop() Entry {
	e := q.buf[q.head]
	q.buf[q.head] = Entry{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	if q.n == 0 {
		q.head = 0
	}
	return e
}

func (q *queue) grow() {
	size := len(q.buf) * 2
	if size < minQueueCap {
		size = minQueueCap
	}
	buf := make([]Entry, size)
	for i := 0; i < q.n; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// each visits entries oldest first.
func (q *queue) each(fn func(Entry)) {
	for i := 0; i < q.n; i++ {
		fn(q.buf[(q.head+i)%len(q.buf)])
	}
}

func (q *queue) reset() {
	q.buf = nil
	q.head = 0
	q.n = 0
}
