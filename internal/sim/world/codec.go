package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"towerdefense.ai/internal/sim/encoding"
	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
)

// Minimum words per entry: id and packed position, plus the inventory link
// for towers.
const (
	monsterEntryWords   = 2 + object.MonsterWords
	spawnerEntryWords   = 2 + object.SpawnerWords
	collectorEntryWords = 2 + object.CollectorWords
	towerEntryWords     = 3 + object.TowerWords
	dropEntryWords      = 2 + object.DroppedWords
)

// Encode appends the snapshot:
//
//	[idAlloc, tick, nMonsters, nSpawners, nCollectors, nTowers,
//	 monsters, spawners, collectors, towers, nDrops, drops]
//
// Each entry is [id, packed pos, object words]; tower entries carry the
// inventory id between pos and the tower.
func (w *World) Encode(out *encoding.Writer) {
	out.PutAll(
		w.idAlloc,
		w.tick,
		uint64(w.monsters.Len()),
		uint64(w.spawners.Len()),
		uint64(w.collectors.Len()),
		uint64(w.towers.Len()),
	)
	for _, e := range w.monsters.entries {
		out.PutAll(e.ID, e.Pos.Pack())
		e.Object.Encode(out)
	}
	for _, e := range w.spawners.entries {
		out.PutAll(e.ID, e.Pos.Pack())
		e.Object.Encode(out)
	}
	for _, e := range w.collectors.entries {
		out.PutAll(e.ID, e.Pos.Pack())
		e.Object.Encode(out)
	}
	for _, e := range w.towers.entries {
		out.PutAll(e.ID, e.Pos.Pack(), e.Object.Inventory)
		e.Object.Tower.Encode(out)
	}
	out.Put(uint64(w.drops.Len()))
	for _, e := range w.drops.entries {
		out.PutAll(e.ID, e.Pos.Pack())
		e.Object.Encode(out)
	}
}

func (w *World) Words() []uint64 {
	out := encoding.NewWriter(6 +
		w.monsters.Len()*monsterEntryWords +
		w.spawners.Len()*spawnerEntryWords +
		w.collectors.Len()*collectorEntryWords +
		w.towers.Len()*towerEntryWords +
		1 + w.drops.Len()*dropEntryWords)
	w.Encode(out)
	return out.Words()
}

// Decode restores a snapshot on top of a copy of base, which supplies the
// grid size and path features. Occupancy is rebuilt from the stationary
// objects. A missing drops section decodes as no drops.
func Decode(words []uint64, base *tile.Map, tiers []tuning.MonsterTier) (*World, error) {
	r := encoding.NewReader(words)
	var hdr [6]uint64
	for i := range hdr {
		v, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("world header: %w", err)
		}
		hdr[i] = v
	}
	nm, ns, nc, nt := hdr[2], hdr[3], hdr[4], hdr[5]
	need := uint64(0)
	for _, c := range [][2]uint64{
		{nm, monsterEntryWords},
		{ns, spawnerEntryWords},
		{nc, collectorEntryWords},
		{nt, towerEntryWords},
	} {
		if c[0] > uint64(r.Remaining())/c[1] {
			return nil, fmt.Errorf("%w: world collection length %d overruns %d words", encoding.ErrCorrupt, c[0], r.Remaining())
		}
		need += c[0] * c[1]
	}
	if need > uint64(r.Remaining()) {
		return nil, fmt.Errorf("%w: world body needs %d words, have %d", encoding.ErrCorrupt, need, r.Remaining())
	}

	m := base.Clone()
	m.ClearOccupancy()
	w := New(m, tiers)
	w.idAlloc, w.tick = hdr[0], hdr[1]

	if err := decodeInto(r, &w.monsters, int(nm), w.idAlloc, object.DecodeMonster); err != nil {
		return nil, fmt.Errorf("monsters: %w", err)
	}
	if err := decodeInto(r, &w.spawners, int(ns), w.idAlloc, object.DecodeSpawner); err != nil {
		return nil, fmt.Errorf("spawners: %w", err)
	}
	if err := decodeInto(r, &w.collectors, int(nc), w.idAlloc, object.DecodeCollector); err != nil {
		return nil, fmt.Errorf("collectors: %w", err)
	}
	if err := decodeInto(r, &w.towers, int(nt), w.idAlloc, decodePlacedTower); err != nil {
		return nil, fmt.Errorf("towers: %w", err)
	}
	if !r.Done() {
		nd, err := r.Len(dropEntryWords)
		if err != nil {
			return nil, fmt.Errorf("drops: %w", err)
		}
		if err := decodeInto(r, &w.drops, nd, w.idAlloc, object.DecodeDropped); err != nil {
			return nil, fmt.Errorf("drops: %w", err)
		}
	}
	if err := r.Expect(); err != nil {
		return nil, err
	}

	for _, e := range w.monsters.entries {
		if !w.Map.InBounds(e.Pos) {
			return nil, fmt.Errorf("%w: monster %d at %s outside grid", encoding.ErrCorrupt, e.ID, e.Pos)
		}
	}
	for _, e := range w.drops.entries {
		if !w.Map.InBounds(e.Pos) {
			return nil, fmt.Errorf("%w: drop %d at %s outside grid", encoding.ErrCorrupt, e.ID, e.Pos)
		}
	}
	for _, e := range w.spawners.entries {
		if err := w.occupy(e.Pos); err != nil {
			return nil, err
		}
	}
	for _, e := range w.collectors.entries {
		if err := w.occupy(e.Pos); err != nil {
			return nil, err
		}
	}
	for _, e := range w.towers.entries {
		if err := w.occupy(e.Pos); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *World) occupy(p tile.Coordinate) error {
	if !w.Map.InBounds(p) {
		return fmt.Errorf("%w: stationary object at %s outside grid", encoding.ErrCorrupt, p)
	}
	if w.Map.Occupied(p) {
		return fmt.Errorf("%w: two stationary objects at %s", encoding.ErrCorrupt, p)
	}
	w.Map.SetOccupied(p, true)
	return nil
}

func decodePlacedTower(r *encoding.Reader) (PlacedTower, error) {
	inv, err := r.Next()
	if err != nil {
		return PlacedTower{}, err
	}
	t, err := object.DecodeTower(r)
	if err != nil {
		return PlacedTower{}, err
	}
	return PlacedTower{Inventory: inv, Tower: t}, nil
}

func decodeInto[T any](r *encoding.Reader, a *Arena[T], n int, idAlloc uint64, dec func(*encoding.Reader) (T, error)) error {
	a.reset(make([]Entry[T], 0, n))
	var last uint64
	for i := 0; i < n; i++ {
		id, err := r.Next()
		if err != nil {
			return err
		}
		if id == 0 || id <= last || id > idAlloc {
			return fmt.Errorf("%w: id %d out of order (prev %d, allocator %d)", encoding.ErrCorrupt, id, last, idAlloc)
		}
		last = id
		pos, err := r.Next()
		if err != nil {
			return err
		}
		obj, err := dec(r)
		if err != nil {
			return err
		}
		a.entries = append(a.entries, Entry[T]{ID: id, Pos: tile.Unpack(pos), Object: obj})
	}
	return nil
}

// Digest is the hex sha256 of the snapshot words, little endian.
func (w *World) Digest() string {
	return DigestWords(w.Words())
}

func DigestWords(words []uint64) string {
	h := sha256.New()
	var tmp [8]byte
	for _, v := range words {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}
