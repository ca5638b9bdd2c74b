// Package world holds the authoritative placed-object state and the tick.
//
// A World is not safe for concurrent use; the engine runner is its only writer.
package world

import (
	"errors"
	"fmt"

	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
)

var (
	ErrPositionOccupied = errors.New("position occupied")
	ErrNotMobile        = errors.New("object cannot be spawned")
	ErrOutOfBounds      = errors.New("position outside grid")
)

// PlacedTower is the on-map copy of a tower. Inventory is the id of the
// InventoryObject it was placed from; zero marks a map fixture.
type PlacedTower struct {
	Inventory uint64       `json:"inventory,string"`
	Tower     object.Tower `json:"tower"`
}

type AttackEvent struct {
	Tower  tile.Coordinate `json:"tower"`
	Target tile.Coordinate `json:"target"`
	Power  uint64          `json:"power"`
}

type World struct {
	idAlloc uint64
	tick    uint64

	Map   *tile.Map
	tiers []tuning.MonsterTier

	monsters   Arena[object.Monster]
	drops      Arena[object.Dropped]
	collectors Arena[object.Collector]
	spawners   Arena[object.Spawner]
	towers     Arena[PlacedTower]

	events []AttackEvent
}

// New returns an empty world over m. tiers must hold three entries.
func New(m *tile.Map, tiers []tuning.MonsterTier) *World {
	return &World{Map: m, tiers: tiers}
}

// Build lays out the map features, spawners and collectors from t.
func Build(t tuning.Tuning) (*World, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	w := New(BaseMap(t), t.MonsterTiers)
	for _, s := range t.Spawners {
		w.PlaceSpawnerAt(tile.C(s.X, s.Y), object.NewSpawner(s.Rate, s.Count))
	}
	for _, c := range t.Collectors {
		w.PlaceCollectorAt(tile.C(c.X, c.Y), object.NewCollector(c.Buffer))
	}
	return w, nil
}

// BaseMap is the tile grid with path features and no occupancy.
func BaseMap(t tuning.Tuning) *tile.Map {
	m := tile.NewMap(t.Width, t.Height)
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			if d, ok := t.PathAt(x, y); ok {
				m.SetFeature(tile.C(int64(x), int64(y)), &d)
			}
		}
	}
	return m
}

func (w *World) Tick() uint64        { return w.tick }
func (w *World) IDAllocator() uint64 { return w.idAlloc }

func (w *World) Monsters() []Entry[object.Monster]     { return w.monsters.Entries() }
func (w *World) Drops() []Entry[object.Dropped]        { return w.drops.Entries() }
func (w *World) Collectors() []Entry[object.Collector] { return w.collectors.Entries() }
func (w *World) Spawners() []Entry[object.Spawner]     { return w.spawners.Entries() }
func (w *World) Towers() []Entry[PlacedTower]          { return w.towers.Entries() }

// Events are the attacks of the most recent tick.
func (w *World) Events() []AttackEvent { return w.events }

func (w *World) nextID() uint64 {
	w.idAlloc++
	return w.idAlloc
}

func (w *World) PlaceSpawnerAt(pos tile.Coordinate, s object.Spawner) uint64 {
	w.Map.SetOccupied(pos, true)
	id := w.nextID()
	w.spawners.Insert(Entry[object.Spawner]{ID: id, Pos: pos, Object: s})
	return id
}

func (w *World) PlaceCollectorAt(pos tile.Coordinate, c object.Collector) uint64 {
	w.Map.SetOccupied(pos, true)
	id := w.nextID()
	w.collectors.Insert(Entry[object.Collector]{ID: id, Pos: pos, Object: c})
	return id
}

// CanPlace reports whether a tower may be placed at pos. Path tiles are
// refused so towers never block the monster route.
func (w *World) CanPlace(pos tile.Coordinate) error {
	if !w.Map.InBounds(pos) {
		return fmt.Errorf("%w: %s outside %dx%d", ErrPositionOccupied, pos, w.Map.Width, w.Map.Height)
	}
	if w.Map.Occupied(pos) {
		return fmt.Errorf("%w: %s", ErrPositionOccupied, pos)
	}
	if w.Map.IsPath(pos) {
		return fmt.Errorf("%w: %s is a path tile", ErrPositionOccupied, pos)
	}
	return nil
}

// PlaceTowerAt copies t onto the map at pos.
func (w *World) PlaceTowerAt(inventory uint64, t object.Tower, pos tile.Coordinate) (uint64, error) {
	if err := w.CanPlace(pos); err != nil {
		return 0, err
	}
	w.Map.SetOccupied(pos, true)
	id := w.nextID()
	w.towers.Insert(Entry[PlacedTower]{ID: id, Pos: pos, Object: PlacedTower{Inventory: inventory, Tower: t}})
	return id, nil
}

// RemoveTower clears the tile and returns the removed entry so the caller can
// write its state back to the owning inventory record.
func (w *World) RemoveTower(id uint64) (Entry[PlacedTower], bool) {
	e, ok := w.towers.Remove(id)
	if !ok {
		return e, false
	}
	w.Map.SetOccupied(e.Pos, false)
	return e, true
}

func (w *World) Tower(id uint64) (*Entry[PlacedTower], bool) { return w.towers.Get(id) }

// TowerByInventory finds the on-map copy of an inventory object.
func (w *World) TowerByInventory(inventory uint64) (*Entry[PlacedTower], bool) {
	if inventory == 0 {
		return nil, false
	}
	es := w.towers.entries
	for i := range es {
		if es[i].Object.Inventory == inventory {
			return &es[i], true
		}
	}
	return nil, false
}

// Spawn inserts a mobile object at pos, which must be on the grid.
func (w *World) Spawn(o object.Object, pos tile.Coordinate) (uint64, error) {
	if !w.Map.InBounds(pos) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfBounds, pos)
	}
	switch v := o.(type) {
	case object.Monster:
		id := w.nextID()
		w.monsters.Insert(Entry[object.Monster]{ID: id, Pos: pos, Object: v})
		return id, nil
	case object.Dropped:
		id := w.nextID()
		w.drops.Insert(Entry[object.Dropped]{ID: id, Pos: pos, Object: v})
		return id, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotMobile, o.Kind())
}

func (w *World) RemoveMonster(id uint64) bool {
	_, ok := w.monsters.Remove(id)
	return ok
}

func (w *World) RemoveDrop(id uint64) bool {
	_, ok := w.drops.Remove(id)
	return ok
}

// Clone returns a deep copy; the engine uses it to stage a tick.
func (w *World) Clone() *World {
	c := *w
	c.Map = w.Map.Clone()
	c.monsters = w.monsters.clone()
	c.drops = w.drops.clone()
	c.collectors = w.collectors.clone()
	c.spawners = w.spawners.clone()
	c.towers = w.towers.clone()
	c.events = append([]AttackEvent(nil), w.events...)
	return &c
}
