package stream

// framer regroups variable-size PCM frames into fixed-size frames.
type framer struct {
	size int
	buf  []int16
}

func newFramer(size int) *framer {
	return &framer{size: size, buf: make([]int16, 0, size*2)}
}

// push appends samples and calls emit for every complete frame. The frame
// passed to emit is only valid during the call.
func (f *framer) push(samples []int16, emit func([]int16) error) error {
	f.buf = append(f.buf, samples...)
	off := 0
	for len(f.buf)-off >= f.size {
		if err := emit(f.buf[off : off+f.size]); err != nil {
			return err
		}
		off += f.size
	}
	f.buf = f.buf[:copy(f.buf, f.buf[off:])]
	return nil
}

// buffered returns the number of samples waiting for a full frame.
func (f *framer) buffered() int { return len(f.buf) }
