package tile

import (
	"fmt"

	"towerdefense.ai/internal/sim/encoding"
)

// Direction is one of the four grid directions. The numeric values are wire
// tags and must not be reordered.
type Direction uint8

const (
	Top Direction = iota
	Right
	Bottom
	Left
)

var directionNames = [...]string{"TOP", "RIGHT", "BOTTOM", "LEFT"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("DIRECTION(%d)", uint8(d))
}

func (d Direction) Valid() bool { return d <= Left }

// ParseDirection maps a wire tag to a Direction.
func ParseDirection(tag uint64) (Direction, error) {
	if tag > uint64(Left) {
		return 0, fmt.Errorf("%w: direction tag %d", encoding.ErrCorrupt, tag)
	}
	return Direction(tag), nil
}

// Directions lists every direction in tag order.
func Directions() [4]Direction { return [4]Direction{Top, Right, Bottom, Left} }

// Coordinate addresses a grid cell. Y grows downwards, so Top is y-1.
type Coordinate struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

func C(x, y int64) Coordinate { return Coordinate{X: x, Y: y} }

func (c Coordinate) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

func (c Coordinate) Adjacent(d Direction) Coordinate {
	switch d {
	case Top:
		return Coordinate{X: c.X, Y: c.Y - 1}
	case Bottom:
		return Coordinate{X: c.X, Y: c.Y + 1}
	case Left:
		return Coordinate{X: c.X - 1, Y: c.Y}
	case Right:
		return Coordinate{X: c.X + 1, Y: c.Y}
	}
	return c
}

// Less orders by X, then Y.
func (c Coordinate) Less(o Coordinate) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// Index is the linear tile index in a grid of the given width.
func (c Coordinate) Index(width int) int {
	return int(c.X) + int(c.Y)*width
}

func CoordinateOf(index, width int) Coordinate {
	return Coordinate{X: int64(index % width), Y: int64(index / width)}
}

// Pack stores a coordinate in one word as (x << 32) | uint32(y).
func (c Coordinate) Pack() uint64 {
	return uint64(c.X)<<32 | uint64(uint32(c.Y))
}

func Unpack(v uint64) Coordinate {
	return Coordinate{X: int64(v >> 32), Y: int64(v & 0xffffffff)}
}
