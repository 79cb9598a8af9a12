package imageproxy

import (
	"fmt"
	"io"
	"math"
)

// BoundedReader wraps a stream and fails with ErrOriginTooLarge as soon as the
// cumulative byte count passes the limit. It never pulls more than limit+1
// bytes from the underlying reader, so memory stays bounded by the limit no
// matter what the source claims about its size.
type BoundedReader struct {
	r        io.Reader
	limit    int64
	n        int64
	exceeded bool
}

// NewBoundedReader wraps r with a byte cap.
func NewBoundedReader(r io.Reader, limit int64) *BoundedReader {
	return &BoundedReader{r: r, limit: limit}
}

func (b *BoundedReader) Read(p []byte) (int, error) {
	if b.exceeded {
		return 0, b.err()
	}
	if remaining := b.limit - b.n; remaining < math.MaxInt64 && int64(len(p)) > remaining+1 {
		p = p[:remaining+1]
	}
	n, err := b.r.Read(p)
	b.n += int64(n)
	if b.n > b.limit {
		b.exceeded = true
		return n - int(b.n-b.limit), b.err()
	}
	return n, err
}

// Count returns the number of bytes read from the underlying stream.
func (b *BoundedReader) Count() int64 {
	return b.n
}

// Exceeded reports whether the stream went past the limit.
func (b *BoundedReader) Exceeded() bool {
	return b.exceeded
}

func (b *BoundedReader) err() error {
	return fmt.Errorf("%w: stream exceeded %d bytes", ErrOriginTooLarge, b.limit)
}
