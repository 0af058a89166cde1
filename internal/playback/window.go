package playback

// window is the rolling decode window. Bytes are appended at the tail and
// consumed from the head; the live region is moved to the front when the
// tail runs out of room.
type window struct {
	buf  []byte
	r, w int
}

func newWindow(size int) *window {
	return &window{buf: make([]byte, size)}
}

func (b *window) Len() int {
	return b.w - b.r
}

func (b *window) Free() int {
	return len(b.buf) - b.Len()
}

func (b *window) Bytes() []byte {
	return b.buf[b.r:b.w]
}

// Append copies as much of p as fits and returns how many bytes it took.
func (b *window) Append(p []byte) int {
	if len(b.buf)-b.w < len(p) && b.r > 0 {
		n := copy(b.buf, b.buf[b.r:b.w])
		b.r, b.w = 0, n
	}
	n := copy(b.buf[b.w:], p)
	b.w += n
	return n
}

func (b *window) Consume(n int) {
	b.r += n
	if b.r >= b.w {
		b.r, b.w = 0, 0
	}
}

func (b *window) Reset() {
	b.r, b.w = 0, 0
}
