// Package grid holds the integer geometry shared by the presence core.
//
// Coordinates are plain (x, y) pairs on a rectangular space of a given
// width and height. Two conventions coexist and both are intentional:
//
//   - Spawn picks a position in the half-open range [0,width) x [0,height).
//   - Bounds.Contains accepts the closed range [0,width] x [0,height], which
//     is what move validation checks against.
//
// A move is legal only when it is a single orthogonal step (IsUnitStep).
// Diagonal moves, zero moves and jumps of more than one tile are rejected.
//
// Usage:
//
//	b := grid.Bounds{Width: 10, Height: 10}
//	p := grid.Spawn(rng, b)
//	next := grid.Step(p, grid.Right)
//	if b.Contains(next) && grid.IsUnitStep(p, next) {
//		p = next
//	}
package grid
