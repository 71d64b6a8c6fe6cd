package grid

import "fmt"

// Position is a tile coordinate inside a space.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Bounds are the dimensions of a space.
type Bounds struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether p lies in [0,Width] x [0,Height], both ends inclusive.
func (b Bounds) Contains(p Position) bool {
	return p.X >= 0 && p.X <= b.Width && p.Y >= 0 && p.Y <= b.Height
}

// Valid reports whether both dimensions are positive.
func (b Bounds) Valid() bool {
	return b.Width > 0 && b.Height > 0
}

// ManhattanDistance calculates the Manhattan distance between two positions
func ManhattanDistance(from, to Position) int {
	dx := from.X - to.X
	if dx < 0 {
		dx = -dx
	}
	dy := from.Y - to.Y
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}

// IsUnitStep reports whether to is exactly one orthogonal tile away from from.
func IsUnitStep(from, to Position) bool {
	return ManhattanDistance(from, to) == 1
}

// Rand is the subset of math/rand/v2 used for spawning.
type Rand interface {
	IntN(n int) int
}

// Spawn picks a uniformly random position in [0,Width) x [0,Height).
// Non-positive dimensions collapse to 0 on that axis.
func Spawn(r Rand, b Bounds) Position {
	var p Position
	if b.Width > 0 {
		p.X = r.IntN(b.Width)
	}
	if b.Height > 0 {
		p.Y = r.IntN(b.Height)
	}
	return p
}
