package hostif

// ring is a byte ring buffer over a fixed, caller provided slice.
type ring struct {
	buf  []byte
	head int
	size int
}

func newRing(buf []byte) *ring {
	return &ring{buf: buf}
}

// Len returns the number of buffered bytes.
func (r *ring) Len() int { return r.size }

// Free returns the number of bytes that can still be written.
func (r *ring) Free() int { return len(r.buf) - r.size }

// Write copies as much of p as fits and returns the number of bytes copied.
func (r *ring) Write(p []byte) int {
	written := 0
	for len(p) > 0 && r.size < len(r.buf) {
		tail := (r.head + r.size) % len(r.buf)
		end := len(r.buf)
		if tail < r.head {
			end = r.head
		}

		n := copy(r.buf[tail:end], p)
		r.size += n
		written += n
		p = p[n:]
	}

	return written
}

// Read moves up to len(p) bytes out of the buffer.
func (r *ring) Read(p []byte) int {
	read := 0
	for len(p) > 0 && r.size > 0 {
		end := r.head + r.size
		if end > len(r.buf) {
			end = len(r.buf)
		}

		n := copy(p, r.buf[r.head:end])
		r.head = (r.head + n) % len(r.buf)
		r.size -= n
		read += n
		p = p[n:]
	}

	if r.size == 0 {
		r.head = 0
	}

	return read
}

// Reset drops the buffered bytes.
func (r *ring) Reset() {
	r.head = 0
	r.size = 0
}
