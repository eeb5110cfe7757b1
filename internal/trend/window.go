package trend

import "time"

type sample struct {
	at  time.Time
	mid float64
}

// window is a time-ordered ring of samples split into a first and second
// half. Running sums for both halves make every operation O(1) amortized.
type window struct {
	buf   []sample
	head  int
	n     int
	split int // number of samples in the first half

	sumFirst  float64
	sumSecond float64
	last      time.Time
}

func newWindow(capacity int) *window {
	if capacity < 4 {
		capacity = 4
	}
	return &window{buf: make([]sample, capacity)}
}

func (w *window) at(i int) sample {
	return w.buf[(w.head+i)%len(w.buf)]
}

func (w *window) len() int { return w.n }

func (w *window) push(s sample) {
	if w.n == len(w.buf) {
		w.popFront()
	}
	w.buf[(w.head+w.n)%len(w.buf)] = s
	w.n++
	w.sumSecond += s.mid
	w.last = s.at
	w.rebalance()
}

func (w *window) popFront() {
	if w.n == 0 {
		return
	}
	s := w.buf[w.head]
	w.buf[w.head] = sample{}
	w.head = (w.head + 1) % len(w.buf)
	w.n--
	if w.split > 0 {
		w.split--
		w.sumFirst -= s.mid
	} else {
		w.sumSecond -= s.mid
	}
	if w.n == 0 {
		w.head, w.split = 0, 0
		w.sumFirst, w.sumSecond = 0, 0
		return
	}
	w.rebalance()
}

// evictBefore drops samples observed before cutoff.
func (w *window) evictBefore(cutoff time.Time) int {
	removed := 0
	for w.n > 0 && w.at(0).at.Before(cutoff) {
		w.popFront()
		removed++
	}
	return removed
}

// rebalance keeps split == n/2 so the second half holds the extra sample
// when n is odd.
func (w *window) rebalance() {
	want := w.n / 2
	for w.split < want {
		s := w.at(w.split)
		w.sumFirst += s.mid
		w.sumSecond -= s.mid
		w.split++
	}
	for w.split > want {
		w.split--
		s := w.at(w.split)
		w.sumFirst -= s.mid
		w.sumSecond += s.mid
	}
}

// means returns the mean of each half. ok is false when a half is empty.
func (w *window) means() (first, second float64, ok bool) {
	if w.split == 0 || w.n-w.split == 0 {
		return 0, 0, false
	}
	return w.sumFirst / float64(w.split), w.sumSecond / float64(w.n-w.split), true
}
