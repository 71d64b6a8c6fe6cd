package grid

import "fmt"

// Direction is one of the four orthogonal moves.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Directions lists every direction in a stable order.
var Directions = []Direction{Up, Down, Left, Right}

// ParseDirection converts a string into a Direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case Up, Down, Left, Right:
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Step returns the position one tile away from p in direction d.
// Y grows downwards, matching screen coordinates.
func Step(p Position, d Direction) Position {
	switch d {
	case Up:
		p.Y--
	case Down:
		p.Y++
	case Left:
		p.X--
	case Right:
		p.X++
	}
	return p
}

// Neighbors returns the orthogonal neighbours of p that lie inside b.
func Neighbors(p Position, b Bounds) []Position {
	out := make([]Position, 0, len(Directions))
	for _, d := range Directions {
		if next := Step(p, d); b.Contains(next) {
			out = append(out, next)
		}
	}
	return out
}
