// Package object holds the placeable entity kinds and their pure behaviour.
package object

import (
	"fmt"

	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
)

// Kind is the wire tag of an Object variant. Values are persisted; append only.
type Kind uint64

const (
	KindMonster   Kind = 0
	KindTower     Kind = 1
	KindSpawner   Kind = 2
	KindDropped   Kind = 3
	KindCollector Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindMonster:
		return "MONSTER"
	case KindTower:
		return "TOWER"
	case KindSpawner:
		return "SPAWNER"
	case KindDropped:
		return "DROPPED"
	case KindCollector:
		return "COLLECTOR"
	}
	return fmt.Sprintf("KIND(%d)", uint64(k))
}

// Object is the closed set of entity variants.
type Object interface {
	Kind() Kind
	isObject()
}

type Monster struct {
	Born uint64 `json:"born"`
	HP   uint64 `json:"hp"`
	Hit  uint64 `json:"hit"`
	Kill uint64 `json:"kill"`
}

func NewMonster(hp, hit, kill uint64) Monster {
	return Monster{Born: hp, HP: hp, Hit: hit, Kill: kill}
}

func (Monster) Kind() Kind { return KindMonster }
func (Monster) isObject()  {}

// Damage subtracts power from HP, flooring at zero. It reports whether the
// hit was lethal.
func (m *Monster) Damage(power uint64) bool {
	if m.HP <= power {
		m.HP = 0
	} else {
		m.HP -= power
	}
	return m.HP == 0
}

// Recycle restores a killed monster in place.
func (m *Monster) Recycle() { m.HP = m.Born }

type Tower struct {
	Level     uint64         `json:"lvl"`
	Range     uint64         `json:"range"`
	Power     uint64         `json:"power"`
	Cooldown  uint64         `json:"cooldown"`
	Count     uint64         `json:"count"`
	Owner     [2]uint64      `json:"-"`
	Direction tile.Direction `json:"direction"`
}

func NewTower(level, rng, power, cooldown uint64, owner [2]uint64, dir tile.Direction) Tower {
	return Tower{
		Level:     level,
		Range:     rng,
		Power:     power,
		Cooldown:  cooldown,
		Count:     cooldown,
		Owner:     owner,
		Direction: dir,
	}
}

// BuildTower creates a tower from the level table.
func BuildTower(t tuning.Tuning, level uint64, owner [2]uint64, dir tile.Direction) (Tower, error) {
	row, ok := t.Level(level)
	if !ok {
		return Tower{}, fmt.Errorf("tower level %d out of range 1..%d", level, t.MaxLevel())
	}
	return NewTower(level, row.Range, row.Power, row.Cooldown, owner, dir), nil
}

// StandardTower builds the template selected by a mint feature byte.
func StandardTower(t tuning.Tuning, feature uint64, owner [2]uint64) (Tower, error) {
	if feature >= uint64(len(t.StandardTowers)) {
		return Tower{}, fmt.Errorf("standard tower %d out of range", feature)
	}
	st := t.StandardTowers[feature]
	dir, err := tuning.ParseDirectionName(st.Direction)
	if err != nil {
		return Tower{}, err
	}
	return BuildTower(t, st.Level, owner, dir)
}

func (Tower) Kind() Kind { return KindTower }
func (Tower) isObject()  {}

// Unclaimed towers are map fixtures.
func (t Tower) Unclaimed() bool { return t.Owner == [2]uint64{} }

// ApplyLevel sets the level and copies range, power and cooldown from row.
func (t *Tower) ApplyLevel(level uint64, row tuning.TowerLevel) {
	t.Level = level
	t.Range = row.Range
	t.Power = row.Power
	t.Cooldown = row.Cooldown
}

// AxisDistance is the distance from src to target along the tower's firing
// axis. ok is false when the target is off-axis or on the wrong side.
func (t Tower) AxisDistance(src, target tile.Coordinate) (uint64, bool) {
	switch t.Direction {
	case tile.Left:
		if src.Y == target.Y && target.X < src.X {
			return uint64(src.X - target.X), true
		}
	case tile.Right:
		if src.Y == target.Y && target.X > src.X {
			return uint64(target.X - src.X), true
		}
	case tile.Top:
		if src.X == target.X && target.Y < src.Y {
			return uint64(src.Y - target.Y), true
		}
	case tile.Bottom:
		if src.X == target.X && target.Y > src.Y {
			return uint64(target.Y - src.Y), true
		}
	}
	return 0, false
}

// Vertical reports whether the tower scans its column (Top/Bottom) rather than its row.
func (t Tower) Vertical() bool {
	return t.Direction == tile.Top || t.Direction == tile.Bottom
}

type Spawner struct {
	Rate    uint64 `json:"rate"`
	Count   uint64 `json:"count"`
	// Spawned counts monsters produced so far; it picks the tier.
	Spawned uint64 `json:"spawned"`
}

func NewSpawner(rate, count uint64) Spawner {
	return Spawner{Rate: rate, Count: count}
}

func (Spawner) Kind() Kind { return KindSpawner }
func (Spawner) isObject()  {}

// Tick advances the countdown. When it fires, the returned monster should be
// placed at the spawner's position.
func (s *Spawner) Tick(tiers []tuning.MonsterTier) (Monster, bool) {
	if s.Count > 0 {
		s.Count--
		return Monster{}, false
	}
	s.Spawned++
	s.Count = s.Rate
	return SpawnMonster(s.Spawned, tiers), true
}

// TierFor maps a 1-based spawn sequence number to a tier index: every 10th
// spawn is tier 3, every 3rd otherwise tier 2, the rest tier 1.
func TierFor(seq uint64) int {
	switch {
	case seq%10 == 0:
		return 2
	case seq%3 == 0:
		return 1
	}
	return 0
}

func SpawnMonster(seq uint64, tiers []tuning.MonsterTier) Monster {
	tier := tiers[TierFor(seq)]
	return NewMonster(tier.HP, tier.Hit, tier.Kill)
}

type Collector struct {
	Buffer uint64 `json:"buf"`
}

func NewCollector(buffer uint64) Collector { return Collector{Buffer: buffer} }

func (Collector) Kind() Kind { return KindCollector }
func (Collector) isObject()  {}

type Dropped struct {
	Delta uint64 `json:"delta"`
}

func NewDropped(delta uint64) Dropped { return Dropped{Delta: delta} }

func (Dropped) Kind() Kind { return KindDropped }
func (Dropped) isObject()  {}
