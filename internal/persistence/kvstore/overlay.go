package kvstore

import "slices"

// Overlay buffers writes over a base store. Reads see buffered writes first.
// Nothing reaches the base until Commit.
type Overlay struct {
	base    Store
	pending map[Key][]uint64
}

func NewOverlay(base Store) *Overlay {
	return &Overlay{base: base, pending: map[Key][]uint64{}}
}

func (o *Overlay) Get(k Key) ([]uint64, error) {
	if v, ok := o.pending[k]; ok {
		return slices.Clone(v), nil
	}
	return o.base.Get(k)
}

func (o *Overlay) Set(k Key, words []uint64) error {
	o.pending[k] = slices.Clone(words)
	return nil
}

func (o *Overlay) Len() int { return len(o.pending) }

// Entries returns the buffered writes in ascending key order.
func (o *Overlay) Entries() []Entry {
	out := make([]Entry, 0, len(o.pending))
	for k, v := range o.pending {
		out = append(out, Entry{Key: k, Words: v})
	}
	slices.SortFunc(out, func(a, b Entry) int { return compareKeys(a.Key, b.Key) })
	return out
}

// Commit writes the buffer to the base in key order, as one batch when the
// base supports it, and clears the buffer.
func (o *Overlay) Commit() error {
	entries := o.Entries()
	if len(entries) == 0 {
		return nil
	}
	if err := Load(o.base, entries); err != nil {
		return err
	}
	o.Discard()
	return nil
}

func (o *Overlay) Discard() { clear(o.pending) }
