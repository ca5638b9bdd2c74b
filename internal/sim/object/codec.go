package object

import (
	"fmt"

	"towerdefense.ai/internal/sim/encoding"
	"towerdefense.ai/internal/sim/tile"
)

// Words per encoded variant, tag excluded.
const (
	MonsterWords   = 4
	TowerWords     = 8
	SpawnerWords   = 3
	CollectorWords = 1
	DroppedWords   = 1
)

func (m Monster) Encode(w *encoding.Writer) {
	w.PutAll(m.Born, m.HP, m.Hit, m.Kill)
}

func DecodeMonster(r *encoding.Reader) (Monster, error) {
	var v [MonsterWords]uint64
	if err := readInto(r, v[:]); err != nil {
		return Monster{}, err
	}
	return Monster{Born: v[0], HP: v[1], Hit: v[2], Kill: v[3]}, nil
}

func (t Tower) Encode(w *encoding.Writer) {
	w.PutAll(t.Level, t.Range, t.Power, t.Cooldown, t.Count, t.Owner[0], t.Owner[1], uint64(t.Direction))
}

func DecodeTower(r *encoding.Reader) (Tower, error) {
	var v [TowerWords]uint64
	if err := readInto(r, v[:]); err != nil {
		return Tower{}, err
	}
	dir, err := tile.ParseDirection(v[7])
	if err != nil {
		return Tower{}, err
	}
	return Tower{
		Level:     v[0],
		Range:     v[1],
		Power:     v[2],
		Cooldown:  v[3],
		Count:     v[4],
		Owner:     [2]uint64{v[5], v[6]},
		Direction: dir,
	}, nil
}

func (s Spawner) Encode(w *encoding.Writer) {
	w.PutAll(s.Rate, s.Count, s.Spawned)
}

func DecodeSpawner(r *encoding.Reader) (Spawner, error) {
	var v [SpawnerWords]uint64
	if err := readInto(r, v[:]); err != nil {
		return Spawner{}, err
	}
	return Spawner{Rate: v[0], Count: v[1], Spawned: v[2]}, nil
}

func (c Collector) Encode(w *encoding.Writer) { w.Put(c.Buffer) }

func DecodeCollector(r *encoding.Reader) (Collector, error) {
	v, err := r.Next()
	if err != nil {
		return Collector{}, err
	}
	return Collector{Buffer: v}, nil
}

func (d Dropped) Encode(w *encoding.Writer) { w.Put(d.Delta) }

func DecodeDropped(r *encoding.Reader) (Dropped, error) {
	v, err := r.Next()
	if err != nil {
		return Dropped{}, err
	}
	return Dropped{Delta: v}, nil
}

// EncodeObject writes the variant tag followed by the variant body.
func EncodeObject(o Object, w *encoding.Writer) {
	w.Put(uint64(o.Kind()))
	switch v := o.(type) {
	case Monster:
		v.Encode(w)
	case Tower:
		v.Encode(w)
	case Spawner:
		v.Encode(w)
	case Dropped:
		v.Encode(w)
	case Collector:
		v.Encode(w)
	default:
		panic(fmt.Sprintf("object: unencodable variant %T", o))
	}
}

// DecodeObject reads a tagged variant. An unknown tag is corruption.
func DecodeObject(r *encoding.Reader) (Object, error) {
	tag, err := r.Next()
	if err != nil {
		return nil, err
	}
	switch Kind(tag) {
	case KindMonster:
		return DecodeMonster(r)
	case KindTower:
		return DecodeTower(r)
	case KindSpawner:
		return DecodeSpawner(r)
	case KindDropped:
		return DecodeDropped(r)
	case KindCollector:
		return DecodeCollector(r)
	}
	return nil, fmt.Errorf("%w: object tag %d", encoding.ErrCorrupt, tag)
}

func readInto(r *encoding.Reader, dst []uint64) error {
	for i := range dst {
		v, err := r.Next()
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}
