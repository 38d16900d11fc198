package frame

// Buffer accumulates received fragments until complete frames can be
// extracted. It is not safe for concurrent use; the owning transport
// serializes access.
type Buffer struct {
	data []byte
}

// NewBuffer creates an empty receive buffer
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a fragment to the end of the buffer
func (b *Buffer) Append(fragment []byte) {
	b.data = append(b.data, fragment...)
}

// Bytes returns the buffered bytes. The slice is only valid until the next mutation.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	return len(b.data)
}

// Consume removes the first n bytes
func (b *Buffer) Consume(n int) {
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	b.data = append(b.data[:0], b.data[n:]...)
}

// Reset discards everything, including any partially received frame
func (b *Buffer) Reset() {
	b.data = nil
}
