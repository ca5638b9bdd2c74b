package tile

import "towerdefense.ai/internal/sim/encoding"

// Tile holds the optional path feature and the stationary-occupancy flag.
type Tile struct {
	Feature  *Direction
	Occupied bool
}

// Map is the fixed-size tile grid.
type Map struct {
	Width  int
	Height int
	Tiles  []Tile
}

func NewMap(width, height int) *Map {
	return &Map{
		Width:  width,
		Height: height,
		Tiles:  make([]Tile, width*height),
	}
}

func (m *Map) InBounds(c Coordinate) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < int64(m.Width) && c.Y < int64(m.Height)
}

func (m *Map) Coordinate(index int) Coordinate { return CoordinateOf(index, m.Width) }

func (m *Map) Index(c Coordinate) int { return c.Index(m.Width) }

func (m *Map) SetFeature(c Coordinate, d *Direction) {
	if !m.InBounds(c) {
		return
	}
	if d == nil {
		m.Tiles[m.Index(c)].Feature = nil
		return
	}
	v := *d
	m.Tiles[m.Index(c)].Feature = &v
}

func (m *Map) Feature(c Coordinate) (Direction, bool) {
	if !m.InBounds(c) {
		return 0, false
	}
	f := m.Tiles[m.Index(c)].Feature
	if f == nil {
		return 0, false
	}
	return *f, true
}

func (m *Map) IsPath(c Coordinate) bool {
	_, ok := m.Feature(c)
	return ok
}

func (m *Map) SetOccupied(c Coordinate, v bool) {
	if m.InBounds(c) {
		m.Tiles[m.Index(c)].Occupied = v
	}
}

func (m *Map) Occupied(c Coordinate) bool {
	if !m.InBounds(c) {
		return false
	}
	return m.Tiles[m.Index(c)].Occupied
}

// ClearOccupancy resets every occupied flag, keeping path features.
func (m *Map) ClearOccupancy() {
	for i := range m.Tiles {
		m.Tiles[i].Occupied = false
	}
}

// Clone copies the grid; features are value-copied.
func (m *Map) Clone() *Map {
	out := NewMap(m.Width, m.Height)
	for i, t := range m.Tiles {
		out.Tiles[i].Occupied = t.Occupied
		if t.Feature != nil {
			v := *t.Feature
			out.Tiles[i].Feature = &v
		}
	}
	return out
}

// FeatureLayer returns one code per tile: 0 for no feature, 1+direction otherwise.
func (m *Map) FeatureLayer() []uint8 {
	out := make([]uint8, len(m.Tiles))
	for i, t := range m.Tiles {
		if t.Feature != nil {
			out[i] = 1 + uint8(*t.Feature)
		}
	}
	return out
}

// EncodeFeatures run-length encodes the path layer for state views.
func (m *Map) EncodeFeatures() string {
	return encoding.EncodeRLE(m.FeatureLayer())
}

// DecodeFeatures restores a path layer produced by EncodeFeatures.
func (m *Map) DecodeFeatures(s string) error {
	codes, err := encoding.DecodeRLE(s, len(m.Tiles))
	if err != nil {
		return err
	}
	for i := range m.Tiles {
		m.Tiles[i].Feature = nil
		if i >= len(codes) || codes[i] == 0 {
			continue
		}
		d, err := ParseDirection(uint64(codes[i] - 1))
		if err != nil {
			return err
		}
		m.Tiles[i].Feature = &d
	}
	return nil
}
