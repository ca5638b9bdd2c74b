package world

import (
	"errors"
	"testing"

	"towerdefense.ai/internal/sim/encoding"
	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
)

func lane(width int, path int) *tile.Map {
	m := tile.NewMap(width, 1)
	right := tile.Right
	for x := 0; x < path; x++ {
		m.SetFeature(tile.C(int64(x), 0), &right)
	}
	return m
}

func tiers() []tuning.MonsterTier { return tuning.Defaults().MonsterTiers }

func TestArena_OrderAndRemoval(t *testing.T) {
	var a Arena[int]
	for _, id := range []uint64{5, 1, 9, 3} {
		a.Insert(Entry[int]{ID: id, Object: int(id)})
	}
	var got []uint64
	for _, e := range a.Entries() {
		got = append(got, e.ID)
	}
	if len(got) != 4 || got[0] != 1 || got[1] != 3 || got[2] != 5 || got[3] != 9 {
		t.Fatalf("ids not ordered: %v", got)
	}
	p, ok := a.Get(5)
	if !ok || p.Object != 5 {
		t.Fatalf("get 5: %v %v", p, ok)
	}
	if _, ok := a.Remove(3); !ok {
		t.Fatalf("remove 3 failed")
	}
	if _, ok := a.Get(3); ok {
		t.Fatalf("3 still present")
	}
	if p, ok := a.Get(9); !ok || p.Object != 9 {
		t.Fatalf("removal disturbed other handles")
	}
	if n := a.RemoveSet(map[uint64]struct{}{1: {}, 9: {}, 77: {}}); n != 2 {
		t.Fatalf("RemoveSet removed %d", n)
	}
	if a.Len() != 1 || a.Entries()[0].ID != 5 {
		t.Fatalf("left %+v", a.Entries())
	}
	a.Insert(Entry[int]{ID: 12, Object: 12})
	a.Insert(Entry[int]{ID: 2, Object: 2})
	for _, id := range []uint64{2, 5, 12} {
		if p, ok := a.Get(id); !ok || p.ID != id {
			t.Fatalf("get %d after compaction: %v %v", id, p, ok)
		}
	}
}

func TestPlaceTowerAt_Rejections(t *testing.T) {
	w, err := Build(tuning.Defaults())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tw := object.NewTower(1, 3, 1, 3, [2]uint64{1, 1}, tile.Right)

	for name, pos := range map[string]tile.Coordinate{
		"spawner":   tile.C(0, 0),
		"collector": tile.C(19, 19),
		"path":      tile.C(1, 1),
		"outside":   tile.C(20, 0),
		"negative":  tile.C(-1, 3),
	} {
		if _, err := w.PlaceTowerAt(1, tw, pos); !errors.Is(err, ErrPositionOccupied) {
			t.Fatalf("%s: expected ErrPositionOccupied, got %v", name, err)
		}
	}
	id, err := w.PlaceTowerAt(1, tw, tile.C(2, 0))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := w.PlaceTowerAt(2, tw, tile.C(2, 0)); !errors.Is(err, ErrPositionOccupied) {
		t.Fatalf("second placement: %v", err)
	}
	if e, ok := w.TowerByInventory(1); !ok || e.ID != id {
		t.Fatalf("TowerByInventory: %v %v", e, ok)
	}
}

func TestOccupancyInvariant(t *testing.T) {
	w, err := Build(tuning.Defaults())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tw := object.NewTower(1, 3, 1, 3, [2]uint64{1, 1}, tile.Left)
	var placed []uint64
	for x := int64(2); x < 10; x++ {
		id, err := w.PlaceTowerAt(uint64(x), tw, tile.C(x, 0))
		if err != nil {
			t.Fatalf("place %d: %v", x, err)
		}
		placed = append(placed, id)
	}
	for i, id := range placed {
		if i%2 == 0 {
			if _, ok := w.RemoveTower(id); !ok {
				t.Fatalf("remove %d", id)
			}
		}
	}
	if _, err := w.PlaceTowerAt(99, tw, tile.C(2, 0)); err != nil {
		t.Fatalf("re-place on freed tile: %v", err)
	}
	checkOccupancy(t, w)
}

func checkOccupancy(t *testing.T, w *World) {
	t.Helper()
	count := make([]int, len(w.Map.Tiles))
	for _, e := range w.Spawners() {
		count[w.Map.Index(e.Pos)]++
	}
	for _, e := range w.Collectors() {
		count[w.Map.Index(e.Pos)]++
	}
	for _, e := range w.Towers() {
		count[w.Map.Index(e.Pos)]++
	}
	for i, tl := range w.Map.Tiles {
		if tl.Occupied != (count[i] == 1) || count[i] > 1 {
			t.Fatalf("tile %v occupied=%v with %d stationary objects", w.Map.Coordinate(i), tl.Occupied, count[i])
		}
	}
}

func TestIDsUniqueAndMonotonic(t *testing.T) {
	w, err := Build(tuning.Defaults())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tw := object.NewTower(1, 3, 1, 0, [2]uint64{1, 1}, tile.Bottom)
	if _, err := w.PlaceTowerAt(1, tw, tile.C(0, 1)); err != nil {
		t.Fatalf("place: %v", err)
	}
	last := w.IDAllocator()
	for i := 0; i < 300; i++ {
		w.Run()
		if w.IDAllocator() < last {
			t.Fatalf("allocator went backwards: %d < %d", w.IDAllocator(), last)
		}
		last = w.IDAllocator()
		seen := map[uint64]bool{}
		mark := func(id uint64) {
			if seen[id] {
				t.Fatalf("tick %d: duplicate id %d", w.Tick(), id)
			}
			if id > last {
				t.Fatalf("id %d beyond allocator %d", id, last)
			}
			seen[id] = true
		}
		for _, e := range w.Monsters() {
			mark(e.ID)
		}
		for _, e := range w.Spawners() {
			mark(e.ID)
		}
		for _, e := range w.Collectors() {
			mark(e.ID)
		}
		for _, e := range w.Towers() {
			mark(e.ID)
		}
	}
}

func TestRun_SpawnWalksToCollector(t *testing.T) {
	w := New(lane(5, 4), tiers())
	w.PlaceSpawnerAt(tile.C(0, 0), object.NewSpawner(3, 0))
	w.PlaceCollectorAt(tile.C(4, 0), object.NewCollector(5))

	rep := w.Run()
	if rep.Spawned != 1 || len(w.Monsters()) != 1 {
		t.Fatalf("expected one spawn, report %+v", rep)
	}
	first := w.Monsters()[0]
	if first.Pos != tile.C(0, 0) || first.Object.HP != tiers()[0].HP {
		t.Fatalf("spawned %+v", first)
	}

	for i := 1; i <= 4; i++ {
		rep = w.Run()
		if rep.Damage != 0 {
			t.Fatalf("tick %d: premature leak damage %d", rep.Tick, rep.Damage)
		}
		m, ok := w.monsters.Get(first.ID)
		if !ok {
			t.Fatalf("tick %d: monster gone early", rep.Tick)
		}
		if m.Pos != tile.C(int64(i), 0) {
			t.Fatalf("tick %d: monster at %v want (%d,0)", rep.Tick, m.Pos, i)
		}
	}

	rep = w.Run()
	if _, ok := w.monsters.Get(first.ID); ok {
		t.Fatalf("monster on collector was not consumed")
	}
	if rep.Damage != first.Object.HP {
		t.Fatalf("damage=%d want %d", rep.Damage, first.Object.HP)
	}
}

func TestRun_TowerKillRecyclesAndCredits(t *testing.T) {
	w := New(tile.NewMap(5, 1), tiers())
	tw := object.NewTower(1, 3, 10, 0, [2]uint64{1, 2}, tile.Right)
	tid, err := w.PlaceTowerAt(7, tw, tile.C(0, 0))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	mid, _ := w.Spawn(object.NewMonster(10, 1, 5), tile.C(3, 0))

	rep := w.Run()
	if len(rep.Credits) != 1 {
		t.Fatalf("credits %+v", rep.Credits)
	}
	c := rep.Credits[0]
	if c.Inventory != 7 || c.Tower != tid || c.Amount != 6 {
		t.Fatalf("credit %+v want inventory 7 amount 6", c)
	}
	m, ok := w.monsters.Get(mid)
	if !ok {
		t.Fatalf("killed monster was removed instead of recycled")
	}
	if m.Object.HP != m.Object.Born {
		t.Fatalf("hp=%d want born %d", m.Object.HP, m.Object.Born)
	}
	if rep.Kills != 1 {
		t.Fatalf("kills=%d", rep.Kills)
	}
	ev := w.Events()
	if len(ev) != 1 || ev[0].Tower != tile.C(0, 0) || ev[0].Target != tile.C(3, 0) || ev[0].Power != 10 {
		t.Fatalf("events %+v", ev)
	}
}

func TestRun_TargetsNearestOnAxis(t *testing.T) {
	build := func() *World {
		w := New(tile.NewMap(8, 3), tiers())
		tw := object.NewTower(1, 3, 1, 0, [2]uint64{1, 1}, tile.Right)
		if _, err := w.PlaceTowerAt(1, tw, tile.C(2, 1)); err != nil {
			t.Fatalf("place: %v", err)
		}
		w.Spawn(object.NewMonster(30, 1, 6), tile.C(6, 1))
		w.Spawn(object.NewMonster(30, 1, 6), tile.C(0, 1)) // behind
		w.Spawn(object.NewMonster(30, 1, 6), tile.C(3, 0)) // off row
		w.Spawn(object.NewMonster(30, 1, 6), tile.C(4, 1))
		w.Spawn(object.NewMonster(30, 1, 6), tile.C(4, 1))
		return w
	}
	var firstTarget uint64
	for i := 0; i < 3; i++ {
		w := build()
		w.Run()
		var hit []uint64
		for _, e := range w.Monsters() {
			if e.Object.HP != e.Object.Born {
				hit = append(hit, e.ID)
				if e.Pos != tile.C(4, 1) {
					t.Fatalf("hit monster at %v, want (4,1)", e.Pos)
				}
			}
		}
		if len(hit) != 1 {
			t.Fatalf("expected exactly one hit, got %v", hit)
		}
		if i == 0 {
			firstTarget = hit[0]
		} else if hit[0] != firstTarget {
			t.Fatalf("target changed between runs: %d vs %d", hit[0], firstTarget)
		}
	}
}

func TestRun_CooldownAndIdleTower(t *testing.T) {
	w := New(tile.NewMap(6, 1), tiers())
	tw := object.NewTower(1, 3, 1, 2, [2]uint64{1, 1}, tile.Left)
	tw.Count = 0
	tid, _ := w.PlaceTowerAt(1, tw, tile.C(5, 0))

	// Nothing to shoot: the tower stays armed.
	w.Run()
	if e, _ := w.Tower(tid); e.Object.Tower.Count != 0 {
		t.Fatalf("idle tower count=%d", e.Object.Tower.Count)
	}

	w.Spawn(object.NewMonster(100, 1, 0), tile.C(1, 0))
	var fired []uint64
	for i := 0; i < 7; i++ {
		rep := w.Run()
		if len(rep.Attacks) > 0 {
			fired = append(fired, rep.Tick)
		}
	}
	want := []uint64{2, 5, 8}
	if len(fired) != len(want) {
		t.Fatalf("fired on %v want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Fatalf("fired on %v want %v", fired, want)
		}
	}
}

func TestRun_DropsCollectedAsLoot(t *testing.T) {
	w := New(lane(3, 2), tiers())
	w.PlaceCollectorAt(tile.C(2, 0), object.NewCollector(0))
	w.Spawn(object.NewDropped(4), tile.C(1, 0))
	if rep := w.Run(); rep.Loot != 0 {
		t.Fatalf("loot before arrival: %d", rep.Loot)
	}
	rep := w.Run()
	if rep.Loot != 4 || len(w.Drops()) != 0 {
		t.Fatalf("loot=%d drops=%d", rep.Loot, len(w.Drops()))
	}
}

func TestSpawn_RejectsStationary(t *testing.T) {
	w := New(tile.NewMap(2, 2), tiers())
	if _, err := w.Spawn(object.NewCollector(1), tile.C(0, 0)); !errors.Is(err, ErrNotMobile) {
		t.Fatalf("expected ErrNotMobile, got %v", err)
	}
}

func TestSpawn_RejectsOffGrid(t *testing.T) {
	w := New(tile.NewMap(4, 4), tiers())
	for _, p := range []tile.Coordinate{tile.C(-1, 2), tile.C(2, -1), tile.C(4, 0), tile.C(0, 4)} {
		if _, err := w.Spawn(object.NewMonster(5, 1, 1), p); !errors.Is(err, ErrOutOfBounds) {
			t.Fatalf("spawn at %s: expected ErrOutOfBounds, got %v", p, err)
		}
	}
	if _, err := w.Spawn(object.NewDropped(1), tile.C(3, 3)); err != nil {
		t.Fatalf("spawn on grid: %v", err)
	}
	if len(w.Monsters()) != 0 || len(w.Drops()) != 1 {
		t.Fatalf("monsters=%d drops=%d", len(w.Monsters()), len(w.Drops()))
	}
}

func populated(t *testing.T) *World {
	t.Helper()
	w, err := Build(tuning.Defaults())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	tw := object.NewTower(3, 7, 10, 1, [2]uint64{5, 6}, tile.Bottom)
	if _, err := w.PlaceTowerAt(11, tw, tile.C(0, 1)); err != nil {
		t.Fatalf("place: %v", err)
	}
	fixture := object.NewTower(1, 3, 1, 3, [2]uint64{}, tile.Top)
	if _, err := w.PlaceTowerAt(0, fixture, tile.C(2, 4)); err != nil {
		t.Fatalf("place fixture: %v", err)
	}
	for i := 0; i < 40; i++ {
		w.Run()
	}
	w.Spawn(object.NewDropped(3), tile.C(1, 1))
	return w
}

func TestSnapshot_RoundTrip(t *testing.T) {
	for name, w := range map[string]*World{
		"empty":     New(tile.NewMap(4, 4), tiers()),
		"populated": populated(t),
	} {
		words := w.Words()
		got, err := Decode(words, w.Map, tiers())
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		again := got.Words()
		if len(again) != len(words) {
			t.Fatalf("%s: length %d vs %d", name, len(again), len(words))
		}
		for i := range words {
			if words[i] != again[i] {
				t.Fatalf("%s: word %d differs: %d vs %d", name, i, words[i], again[i])
			}
		}
		for i := range w.Map.Tiles {
			if w.Map.Tiles[i].Occupied != got.Map.Tiles[i].Occupied {
				t.Fatalf("%s: occupancy differs at %v", name, w.Map.Coordinate(i))
			}
		}
		if got.Digest() != w.Digest() {
			t.Fatalf("%s: digest mismatch", name)
		}
	}
}

func TestSnapshot_LayoutHeader(t *testing.T) {
	w := populated(t)
	words := w.Words()
	if words[0] != w.IDAllocator() || words[1] != w.Tick() {
		t.Fatalf("header %v", words[:2])
	}
	if words[2] != uint64(len(w.Monsters())) || words[3] != 1 || words[4] != 1 || words[5] != 2 {
		t.Fatalf("counts %v", words[2:6])
	}
}

func TestSnapshot_DecodesWithoutDropsSection(t *testing.T) {
	w := New(tile.NewMap(4, 4), tiers())
	w.PlaceSpawnerAt(tile.C(1, 1), object.NewSpawner(2, 2))
	words := w.Words()
	legacy := words[:len(words)-1] // strip the zero drop count
	got, err := Decode(legacy, w.Map, tiers())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Drops()) != 0 || len(got.Spawners()) != 1 {
		t.Fatalf("decoded %+v", got)
	}
}

func TestSnapshot_RejectsCorruption(t *testing.T) {
	w := populated(t)
	good := w.Words()

	overrun := append([]uint64(nil), good...)
	overrun[2] = 1 << 40

	truncated := good[:len(good)-3]

	dupID := append([]uint64(nil), good[:6]...)
	dupID[2], dupID[3], dupID[4], dupID[5] = 2, 0, 0, 0
	m := object.NewMonster(1, 1, 1)
	for i := 0; i < 2; i++ {
		dupID = append(dupID, 1, 0, m.Born, m.HP, m.Hit, m.Kill)
	}

	offGrid := append([]uint64(nil), good[:6]...)
	offGrid[2], offGrid[3], offGrid[4], offGrid[5] = 1, 0, 0, 0
	offGrid = append(offGrid, 1, tile.C(-1, 2).Pack(), m.Born, m.HP, m.Hit, m.Kill)

	for name, words := range map[string][]uint64{
		"overrun":   overrun,
		"truncated": truncated,
		"dup id":    dupID,
		"off grid":  offGrid,
		"trailing":  append(append([]uint64(nil), good...), 7),
		"header":    good[:3],
	} {
		if _, err := Decode(words, w.Map, tiers()); !errors.Is(err, encoding.ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestDeterminism_SameCommandsSameDigest(t *testing.T) {
	a, b := populated(t), populated(t)
	for i := 0; i < 100; i++ {
		ra, rb := a.Run(), b.Run()
		if len(ra.Credits) != len(rb.Credits) || ra.Damage != rb.Damage {
			t.Fatalf("tick %d reports diverged", ra.Tick)
		}
	}
	if a.Digest() != b.Digest() {
		t.Fatalf("digests diverged")
	}
	c := a.Clone()
	c.Run()
	if c.Digest() == a.Digest() {
		t.Fatalf("clone shares state with the original")
	}
}
