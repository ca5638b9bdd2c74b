package world

import (
	"slices"

	"towerdefense.ai/internal/sim/tile"
)

// Entry is one placed object. ID is the stable handle.
type Entry[T any] struct {
	ID     uint64          `json:"id"`
	Pos    tile.Coordinate `json:"pos"`
	Object T               `json:"object"`
}

// Arena keeps entries in ascending id order. Ids come from a monotonic
// allocator, so appends keep the order. Lookups go through an id to slot
// index that is rebuilt lazily after a compaction; other handles stay valid.
type Arena[T any] struct {
	entries []Entry[T]
	slot    map[uint64]int
}

func (a *Arena[T]) Len() int { return len(a.entries) }

// Entries exposes the backing slice in id order. Callers must not append.
func (a *Arena[T]) Entries() []Entry[T] { return a.entries }

func (a *Arena[T]) find(id uint64) (int, bool) {
	if a.slot == nil {
		a.slot = make(map[uint64]int, len(a.entries))
		for i, e := range a.entries {
			a.slot[e.ID] = i
		}
	}
	i, ok := a.slot[id]
	return i, ok
}

// insertPos is where id belongs in the ordered slice.
func (a *Arena[T]) insertPos(id uint64) int {
	i, _ := slices.BinarySearchFunc(a.entries, id, func(e Entry[T], id uint64) int {
		switch {
		case e.ID < id:
			return -1
		case e.ID > id:
			return 1
		}
		return 0
	})
	return i
}

func (a *Arena[T]) reset(entries []Entry[T]) {
	a.entries = entries
	a.slot = nil
}

// Get returns a pointer into the arena, valid until the next insert or removal.
func (a *Arena[T]) Get(id uint64) (*Entry[T], bool) {
	i, ok := a.find(id)
	if !ok {
		return nil, false
	}
	return &a.entries[i], true
}

// Insert adds e in id order. Duplicate ids replace the existing entry.
func (a *Arena[T]) Insert(e Entry[T]) {
	if n := len(a.entries); n == 0 || a.entries[n-1].ID < e.ID {
		a.entries = append(a.entries, e)
		if a.slot != nil {
			a.slot[e.ID] = n
		}
		return
	}
	if i, ok := a.find(e.ID); ok {
		a.entries[i] = e
		return
	}
	a.reset(slices.Insert(a.entries, a.insertPos(e.ID), e))
}

func (a *Arena[T]) Remove(id uint64) (Entry[T], bool) {
	i, ok := a.find(id)
	if !ok {
		return Entry[T]{}, false
	}
	e := a.entries[i]
	a.reset(slices.Delete(a.entries, i, i+1))
	return e, true
}

// RemoveSet drops every entry whose id is in ids with a single compaction.
func (a *Arena[T]) RemoveSet(ids map[uint64]struct{}) int {
	if len(ids) == 0 {
		return 0
	}
	before := len(a.entries)
	a.reset(slices.DeleteFunc(a.entries, func(e Entry[T]) bool {
		_, ok := ids[e.ID]
		return ok
	}))
	return before - len(a.entries)
}

func (a *Arena[T]) clone() Arena[T] {
	return Arena[T]{entries: slices.Clone(a.entries)}
}
