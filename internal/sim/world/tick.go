package world

import (
	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/tile"
)

// Credit is reward earned by one placed tower during a tick.
type Credit struct {
	Tower     uint64 `json:"tower,string"`
	Inventory uint64 `json:"inventory,string"`
	Amount    uint64 `json:"amount"`
}

// TickReport summarises one Run. Credits are in tower id order.
type TickReport struct {
	Tick    uint64        `json:"tick"`
	Damage  uint64        `json:"damage"`
	Loot    uint64        `json:"loot"`
	Kills   uint64        `json:"kills"`
	Spawned int           `json:"spawned"`
	Credits []Credit      `json:"credits,omitempty"`
	Attacks []AttackEvent `json:"attacks,omitempty"`
}

// Run advances the world by one tick.
//
// Monsters and drops standing on a collector are consumed; the rest follow the
// path feature of their tile. Spawners count down, then every tower whose
// cooldown has elapsed fires at the nearest monster on its axis. Killed
// monsters are recycled in place with their HP restored.
func (w *World) Run() TickReport {
	w.tick++
	rep := TickReport{Tick: w.tick}

	sink := make([]bool, len(w.Map.Tiles))
	for _, c := range w.collectors.entries {
		if w.Map.InBounds(c.Pos) {
			sink[w.Map.Index(c.Pos)] = true
		}
	}
	onSink := func(p tile.Coordinate) bool {
		return w.Map.InBounds(p) && sink[w.Map.Index(p)]
	}

	deadMonsters := map[uint64]struct{}{}
	for i := range w.monsters.entries {
		e := &w.monsters.entries[i]
		if onSink(e.Pos) {
			deadMonsters[e.ID] = struct{}{}
			rep.Damage += e.Object.HP
			continue
		}
		e.Pos = w.step(e.Pos)
	}

	deadDrops := map[uint64]struct{}{}
	for i := range w.drops.entries {
		e := &w.drops.entries[i]
		if onSink(e.Pos) {
			deadDrops[e.ID] = struct{}{}
			rep.Loot += e.Object.Delta
			continue
		}
		e.Pos = w.step(e.Pos)
	}

	type pending struct {
		pos tile.Coordinate
		m   object.Monster
	}
	var born []pending
	for i := range w.spawners.entries {
		e := &w.spawners.entries[i]
		if m, ok := e.Object.Tick(w.tiers); ok {
			born = append(born, pending{pos: e.Pos, m: m})
		}
	}

	cols := make([][]int, w.Map.Width)
	rows := make([][]int, w.Map.Height)
	for i, e := range w.monsters.entries {
		if _, dead := deadMonsters[e.ID]; dead || !w.Map.InBounds(e.Pos) {
			continue
		}
		cols[e.Pos.X] = append(cols[e.Pos.X], i)
		rows[e.Pos.Y] = append(rows[e.Pos.Y], i)
	}

	var attacks []AttackEvent
	for i := range w.towers.entries {
		te := &w.towers.entries[i]
		t := &te.Object.Tower
		if t.Count > 0 {
			t.Count--
			continue
		}
		if !w.Map.InBounds(te.Pos) {
			continue
		}
		bucket := rows[te.Pos.Y]
		if t.Vertical() {
			bucket = cols[te.Pos.X]
		}
		best, bestDist := -1, uint64(0)
		for _, mi := range bucket {
			d, ok := t.AxisDistance(te.Pos, w.monsters.entries[mi].Pos)
			if !ok {
				continue
			}
			if best < 0 || d < bestDist {
				best, bestDist = mi, d
			}
		}
		if best < 0 {
			continue
		}
		target := &w.monsters.entries[best]
		earned := target.Object.Hit
		if target.Object.Damage(t.Power) {
			earned += target.Object.Kill
			target.Object.Recycle()
			rep.Kills++
		}
		if te.Object.Inventory != 0 && earned > 0 {
			rep.Credits = append(rep.Credits, Credit{Tower: te.ID, Inventory: te.Object.Inventory, Amount: earned})
		}
		attacks = append(attacks, AttackEvent{Tower: te.Pos, Target: target.Pos, Power: t.Power})
		t.Count = t.Cooldown
	}

	w.monsters.RemoveSet(deadMonsters)
	w.drops.RemoveSet(deadDrops)

	for _, b := range born {
		id := w.nextID()
		w.monsters.Insert(Entry[object.Monster]{ID: id, Pos: b.pos, Object: b.m})
	}
	rep.Spawned = len(born)

	w.events = attacks
	rep.Attacks = attacks
	return rep
}

// step moves p one cell along its tile's path feature. Features pointing off
// the grid leave the object in place.
func (w *World) step(p tile.Coordinate) tile.Coordinate {
	d, ok := w.Map.Feature(p)
	if !ok {
		return p
	}
	next := p.Adjacent(d)
	if !w.Map.InBounds(next) {
		return p
	}
	return next
}
