// Package kvstore is the word-oriented key-value store the engine persists to.
package kvstore

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
)

// Key is a fixed 4-limb store key.
type Key [4]uint64

func (k Key) String() string {
	return fmt.Sprintf("%016x:%016x:%016x:%016x", k[0], k[1], k[2], k[3])
}

func (k Key) Less(o Key) bool {
	for i := range k {
		if k[i] != o[i] {
			return k[i] < o[i]
		}
	}
	return false
}

func compareKeys(a, b Key) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// Store is the get/set contract. Get returns an empty slice for absent keys.
type Store interface {
	Get(k Key) ([]uint64, error)
	Set(k Key, words []uint64) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys() ([]Key, error)
}

// Batcher is implemented by stores that can apply several writes atomically.
type Batcher interface {
	SetBatch(entries []Entry) error
}

type Entry struct {
	Key   Key
	Words []uint64
}

// Memory is an in-process Store, safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[Key][]uint64
}

func NewMemory() *Memory {
	return &Memory{data: map[Key][]uint64{}}
}

func (m *Memory) Get(k Key) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.data[k]), nil
}

func (m *Memory) Set(k Key, words []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[k] = slices.Clone(words)
	return nil
}

func (m *Memory) SetBatch(entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		m.data[e.Key] = slices.Clone(e.Words)
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (m *Memory) Keys() ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Key, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sortKeys(out)
	return out, nil
}

// Dump reads every entry of a listable store in key order.
func Dump(s Store) ([]Entry, error) {
	l, ok := s.(Lister)
	if !ok {
		return nil, fmt.Errorf("store %T cannot list keys", s)
	}
	keys, err := l.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		words, err := s.Get(k)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: k, Words: words})
	}
	return out, nil
}

// Load writes entries into s, in one batch when supported.
func Load(s Store, entries []Entry) error {
	if b, ok := s.(Batcher); ok {
		return b.SetBatch(entries)
	}
	for _, e := range entries {
		if err := s.Set(e.Key, e.Words); err != nil {
			return err
		}
	}
	return nil
}

func sortKeys(ks []Key) { slices.SortFunc(ks, compareKeys) }

// EncodeWords packs words little endian, 8 bytes each.
func EncodeWords(words []uint64) []byte {
	b := make([]byte, 0, len(words)*8)
	for _, v := range words {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	return b
}

func DecodeWords(b []byte) ([]uint64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("word blob of %d bytes is not a multiple of 8", len(b))
	}
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return out, nil
}
