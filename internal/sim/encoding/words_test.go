package encoding

import (
	"errors"
	"testing"
)

func TestReader_ShortReadIsCorrupt(t *testing.T) {
	r := NewReader([]uint64{7})
	if v, err := r.Next(); err != nil || v != 7 {
		t.Fatalf("first word: v=%d err=%v", v, err)
	}
	_, err := r.Next()
	if !errors.Is(err, ErrShortRead) || !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected short read wrapped as corrupt, got %v", err)
	}
}

func TestReader_LenRejectsOverrun(t *testing.T) {
	r := NewReader([]uint64{5, 1, 2})
	if _, err := r.Len(1); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt length, got %v", err)
	}

	r = NewReader([]uint64{2, 1, 2, 3, 4})
	n, err := r.Len(2)
	if err != nil || n != 2 {
		t.Fatalf("Len: n=%d err=%v", n, err)
	}
}

func TestReader_ExpectTrailing(t *testing.T) {
	w := NewWriter(4)
	w.PutAll(1, 2, 3)
	r := NewReader(w.Words())
	_, _ = r.Next()
	if err := r.Expect(); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected trailing words error, got %v", err)
	}
	_, _ = r.Next()
	_, _ = r.Next()
	if err := r.Expect(); err != nil {
		t.Fatalf("Expect after full read: %v", err)
	}
}
