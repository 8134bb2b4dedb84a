package codec

import "time"

// inputSlots is a fixed pool of input buffers.
type inputSlots struct {
	bufs []*InputBuffer
	free []int
	lent []bool
}

func newInputSlots(n, size int) *inputSlots {
	s := &inputSlots{
		bufs: make([]*InputBuffer, n),
		free: make([]int, 0, n),
		lent: make([]bool, n),
	}
	for i := range s.bufs {
		s.bufs[i] = &InputBuffer{Index: i, Data: make([]byte, size)}
		s.free = append(s.free, i)
	}
	return s
}

func (s *inputSlots) available() bool { return len(s.free) > 0 }

func (s *inputSlots) take() *InputBuffer {
	i := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.lent[i] = true
	return s.bufs[i]
}

func (s *inputSlots) give(in *InputBuffer) error {
	if in == nil || in.Index < 0 || in.Index >= len(s.bufs) || !s.lent[in.Index] || s.bufs[in.Index] != in {
		return ErrBadBuffer
	}
	s.lent[in.Index] = false
	s.free = append(s.free, in.Index)
	return nil
}

// outQueue holds encoded packets until the caller dequeues them.
type outQueue struct {
	packets        []*OutputBuffer
	nextIndex      int
	lent           map[int]*OutputBuffer
	formatReported bool
}

func newOutQueue() *outQueue {
	return &outQueue{lent: make(map[int]*OutputBuffer)}
}

func (q *outQueue) push(data []byte, ptsUs int64, flags Flags) {
	q.packets = append(q.packets, &OutputBuffer{
		Index: q.nextIndex,
		Data:  data,
		Info:  BufferInfo{Size: len(data), PresentationTimeUs: ptsUs, Flags: flags},
	})
	q.nextIndex++
}

func (q *outQueue) len() int { return len(q.packets) }

// pop returns the oldest packet, reporting ErrFormatChanged once before the
// first one and ErrTryAgainLater when the queue is empty.
func (q *outQueue) pop() (*OutputBuffer, error) {
	if len(q.packets) == 0 {
		return nil, ErrTryAgainLater
	}
	if !q.formatReported {
		q.formatReported = true
		return nil, ErrFormatChanged
	}
	out := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	q.lent[out.Index] = out
	return out, nil
}

func (q *outQueue) release(out *OutputBuffer) error {
	if out == nil || q.lent[out.Index] != out {
		return ErrBadBuffer
	}
	delete(q.lent, out.Index)
	return nil
}

func (q *outQueue) reset() {
	q.packets = nil
	clear(q.lent)
}

// signal is a broadcast that waiters can select on with a deadline.
type signal struct {
	ch chan struct{}
}

func newSignal() *signal { return &signal{ch: make(chan struct{})} }

// notify wakes every current waiter. Callers hold the owner's lock.
func (s *signal) notify() {
	close(s.ch)
	s.ch = make(chan struct{})
}

// wait blocks on a channel captured under the owner's lock until it is
// notified or the timer fires. It reports false on timeout.
func wait(ch <-chan struct{}, timer *time.Timer) bool {
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
