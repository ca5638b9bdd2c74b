package encoding

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks words that no encoder could have produced: an unknown tag,
// an out-of-range enum or a length that overruns the record.
var ErrCorrupt = errors.New("corrupt record")

// ErrShortRead is returned when a record ends before a decoder is done with it.
var ErrShortRead = fmt.Errorf("%w: short read", ErrCorrupt)

// Writer appends words in encode order.
type Writer struct {
	words []uint64
}

func NewWriter(capacity int) *Writer {
	return &Writer{words: make([]uint64, 0, capacity)}
}

func (w *Writer) Put(v uint64) { w.words = append(w.words, v) }

func (w *Writer) PutAll(vs ...uint64) { w.words = append(w.words, vs...) }

func (w *Writer) Len() int { return len(w.words) }

// Words returns the encoded record. The slice aliases the writer's buffer.
func (w *Writer) Words() []uint64 { return w.words }

// Reader is a cursor over an encoded record.
type Reader struct {
	words []uint64
	pos   int
}

func NewReader(words []uint64) *Reader {
	return &Reader{words: words}
}

func (r *Reader) Next() (uint64, error) {
	if r.pos >= len(r.words) {
		return 0, ErrShortRead
	}
	v := r.words[r.pos]
	r.pos++
	return v, nil
}

// Len reads a collection length and rejects lengths that cannot fit in the
// remaining words, given each entry takes at least minWords.
func (r *Reader) Len(minWords int) (int, error) {
	n, err := r.Next()
	if err != nil {
		return 0, err
	}
	if minWords < 1 {
		minWords = 1
	}
	if n > uint64(r.Remaining()/minWords) {
		return 0, fmt.Errorf("%w: length %d exceeds remaining %d words", ErrCorrupt, n, r.Remaining())
	}
	return int(n), nil
}

func (r *Reader) Remaining() int { return len(r.words) - r.pos }

func (r *Reader) Done() bool { return r.pos >= len(r.words) }

// Expect fails unless every word was consumed.
func (r *Reader) Expect() error {
	if !r.Done() {
		return fmt.Errorf("%w: %d trailing words", ErrCorrupt, r.Remaining())
	}
	return nil
}
