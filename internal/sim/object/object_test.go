package object

import (
	"errors"
	"testing"

	"towerdefense.ai/internal/sim/encoding"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
)

func TestMonster_DamageFloorsAndRecycles(t *testing.T) {
	m := NewMonster(10, 1, 5)
	if m.Damage(4) {
		t.Fatalf("4 damage should not kill 10hp")
	}
	if m.HP != 6 {
		t.Fatalf("hp=%d want 6", m.HP)
	}
	if !m.Damage(100) {
		t.Fatalf("overkill should be lethal")
	}
	if m.HP != 0 {
		t.Fatalf("hp underflowed: %d", m.HP)
	}
	m.Recycle()
	if m.HP != m.Born {
		t.Fatalf("recycle hp=%d want %d", m.HP, m.Born)
	}
}

func TestTower_AxisDistance(t *testing.T) {
	src := tile.C(5, 5)
	cases := []struct {
		dir    tile.Direction
		target tile.Coordinate
		dist   uint64
		ok     bool
	}{
		{tile.Right, tile.C(8, 5), 3, true},
		{tile.Right, tile.C(2, 5), 0, false},
		{tile.Right, tile.C(8, 6), 0, false},
		{tile.Right, tile.C(5, 5), 0, false},
		{tile.Left, tile.C(1, 5), 4, true},
		{tile.Left, tile.C(6, 5), 0, false},
		{tile.Top, tile.C(5, 0), 5, true},
		{tile.Top, tile.C(5, 7), 0, false},
		{tile.Bottom, tile.C(5, 7), 2, true},
		{tile.Bottom, tile.C(4, 7), 0, false},
	}
	for _, tc := range cases {
		tw := NewTower(1, 3, 1, 3, [2]uint64{}, tc.dir)
		d, ok := tw.AxisDistance(src, tc.target)
		if ok != tc.ok || d != tc.dist {
			t.Fatalf("%s -> %v: got (%d,%v) want (%d,%v)", tc.dir, tc.target, d, ok, tc.dist, tc.ok)
		}
	}
}

func TestNewTower_CountStartsAtCooldown(t *testing.T) {
	tw := NewTower(2, 5, 3, 2, [2]uint64{1, 2}, tile.Left)
	if tw.Count != 2 {
		t.Fatalf("count=%d want 2", tw.Count)
	}
	if tw.Unclaimed() {
		t.Fatalf("owned tower reported unclaimed")
	}
}

func TestStandardTower_UsesLevelTable(t *testing.T) {
	tun := tuning.Defaults()
	owner := [2]uint64{9, 9}
	for i, st := range tun.StandardTowers {
		tw, err := StandardTower(tun, uint64(i), owner)
		if err != nil {
			t.Fatalf("standard %d: %v", i, err)
		}
		row, _ := tun.Level(st.Level)
		if tw.Range != row.Range || tw.Power != row.Power || tw.Cooldown != row.Cooldown {
			t.Fatalf("standard %d stats %+v want %+v", i, tw, row)
		}
		if tw.Owner != owner {
			t.Fatalf("owner=%v", tw.Owner)
		}
	}
	if _, err := StandardTower(tun, uint64(len(tun.StandardTowers)), owner); err == nil {
		t.Fatalf("expected out-of-range feature to fail")
	}
}

func TestTierFor(t *testing.T) {
	want := map[uint64]int{1: 0, 2: 0, 3: 1, 6: 1, 9: 1, 10: 2, 20: 2, 30: 2, 11: 0}
	for seq, tier := range want {
		if got := TierFor(seq); got != tier {
			t.Fatalf("seq %d tier=%d want %d", seq, got, tier)
		}
	}
}

func TestSpawner_TickCountsDownThenReloads(t *testing.T) {
	tiers := tuning.Defaults().MonsterTiers
	s := NewSpawner(2, 1)
	if _, ok := s.Tick(tiers); ok {
		t.Fatalf("spawned with count 1")
	}
	m, ok := s.Tick(tiers)
	if !ok {
		t.Fatalf("expected spawn at count 0")
	}
	if m.HP != tiers[0].HP || m.Born != m.HP {
		t.Fatalf("first spawn should be tier 1: %+v", m)
	}
	if s.Count != 2 || s.Spawned != 1 {
		t.Fatalf("spawner after spawn: %+v", s)
	}
}

func TestObjectCodec_RoundTrip(t *testing.T) {
	objs := []Object{
		NewMonster(750, 1, 56),
		Monster{Born: 30, HP: 0, Hit: 1, Kill: 6},
		NewTower(3, 7, 10, 1, [2]uint64{^uint64(0), 42}, tile.Bottom),
		NewTower(1, 3, 1, 3, [2]uint64{}, tile.Top),
		Spawner{Rate: 6, Count: 2, Spawned: 11},
		NewCollector(5),
		NewDropped(0),
	}
	for _, o := range objs {
		w := encoding.NewWriter(0)
		EncodeObject(o, w)
		r := encoding.NewReader(w.Words())
		got, err := DecodeObject(r)
		if err != nil {
			t.Fatalf("decode %T: %v", o, err)
		}
		if got != o {
			t.Fatalf("round trip %#v -> %#v", o, got)
		}
		if err := r.Expect(); err != nil {
			t.Fatalf("%T: %v", o, err)
		}
	}
}

func TestObjectCodec_RejectsCorruption(t *testing.T) {
	cases := map[string][]uint64{
		"unknown tag":   {9, 1},
		"bad direction": {uint64(KindTower), 1, 3, 1, 3, 3, 0, 0, 4},
		"short tower":   {uint64(KindTower), 1, 3, 1},
		"empty":         {},
	}
	for name, words := range cases {
		_, err := DecodeObject(encoding.NewReader(words))
		if !errors.Is(err, encoding.ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestInventoryObject_RoundTrip(t *testing.T) {
	io := NewInventoryObject(77, NewTower(3, 7, 10, 1, [2]uint64{1, 2}, tile.Right))
	io.Reward = 0
	words := io.Words()
	if words[0] != uint64(KindTower) {
		t.Fatalf("record should start with tower tag: %v", words)
	}
	if words[len(words)-1] != 77 || words[len(words)-2] != 0 {
		t.Fatalf("trailer should be [reward, id]: %v", words)
	}
	got, err := ParseInventoryObject(words)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != io {
		t.Fatalf("round trip %#v -> %#v", io, got)
	}
	if _, err := ParseInventoryObject(append(words, 1)); !errors.Is(err, encoding.ErrCorrupt) {
		t.Fatalf("expected trailing words to be rejected, got %v", err)
	}
	if InventoryKey(77) != [4]uint64{77, 0xffff, 0xff01, 0xff02} {
		t.Fatalf("key=%v", InventoryKey(77))
	}
}
