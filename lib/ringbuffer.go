package lib

// RingBuffer is a fixed-capacity byte ring addressed by absolute sequence
// numbers. It stores the bytes in [head, tail); one slot is kept empty so a
// full ring is distinguishable from an empty one.
type RingBuffer struct {
	buf  []byte
	head uint32
	tail uint32
}

// NewRingBuffer returns a ring that can hold size bytes, starting at seq
func NewRingBuffer(size int, seq uint32) *RingBuffer {
	return &RingBuffer{
		buf:  make([]byte, size+1),
		head: seq,
		tail: seq,
	}
}

// Reset empties the ring and moves both cursors to seq
func (r *RingBuffer) Reset(seq uint32) {
	r.head = seq
	r.tail = seq
}

func (r *RingBuffer) Head() uint32 { return r.head }
func (r *RingBuffer) Tail() uint32 { return r.tail }

// Len is the number of stored bytes
func (r *RingBuffer) Len() int { return int(r.tail - r.head) }

// Cap is the usable capacity
func (r *RingBuffer) Cap() int { return len(r.buf) - 1 }

// Free is the number of bytes that can still be written
func (r *RingBuffer) Free() int { return r.Cap() - r.Len() }

// Write appends as much of p as fits and returns the count
func (r *RingBuffer) Write(p []byte) int {
	n := min(len(p), r.Free())
	if n == 0 {
		return 0
	}
	i := int(r.tail % uint32(len(r.buf)))
	c := copy(r.buf[i:], p[:n])
	if c < n {
		copy(r.buf, p[c:n])
	}
	r.tail += uint32(n)
	return n
}

// Peek copies stored bytes starting at seq into p without consuming them.
// Bytes outside [head, tail) are never returned.
func (r *RingBuffer) Peek(seq uint32, p []byte) int {
	if seq < r.head || seq >= r.tail {
		return 0
	}
	n := min(len(p), int(r.tail-seq))
	i := int(seq % uint32(len(r.buf)))
	c := copy(p[:n], r.buf[i:])
	if c < n {
		copy(p[c:n], r.buf)
	}
	return n
}

// Read consumes up to len(p) bytes from the head
func (r *RingBuffer) Read(p []byte) int {
	n := r.Peek(r.head, p)
	r.head += uint32(n)
	return n
}

// AdvanceTo drops every byte below seq. seq is capped at the tail.
func (r *RingBuffer) AdvanceTo(seq uint32) {
	if seq <= r.head {
		return
	}
	if seq > r.tail {
		seq = r.tail
	}
	r.head = seq
}
