package floorplan

import "math"

// Overlap detection for rotated rectangles via the separating axis
// theorem: two convex shapes are disjoint iff some edge normal of either
// shape separates their projections.

type point struct {
	x, y float64
}

// corners returns the placement's four corners after rotating around its
// center.
func corners(p Placement) [4]point {
	cx := p.X + p.W/2
	cy := p.Y + p.H/2
	rad := p.Rotation * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)

	raw := [4]point{
		{p.X, p.Y},
		{p.X + p.W, p.Y},
		{p.X + p.W, p.Y + p.H},
		{p.X, p.Y + p.H},
	}
	var out [4]point
	for i, c := range raw {
		dx, dy := c.x-cx, c.y-cy
		out[i] = point{cx + dx*cos - dy*sin, cy + dx*sin + dy*cos}
	}
	return out
}

// axes returns the two distinct edge normals of a rectangle.
func axes(c [4]point) [2]point {
	return [2]point{
		{c[1].x - c[0].x, c[1].y - c[0].y},
		{c[3].x - c[0].x, c[3].y - c[0].y},
	}
}

func project(c [4]point, axis point) (min, max float64) {
	min = math.Inf(1)
	max = math.Inf(-1)
	for _, p := range c {
		d := p.x*axis.x + p.y*axis.y
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return min, max
}

// overlaps reports whether two placements intersect. Shared edges do not
// count as overlap, so items can sit flush against each other.
func overlaps(a, b Placement) bool {
	ca := corners(a)
	cb := corners(b)
	axesA := axes(ca)
	axesB := axes(cb)
	for _, axis := range []point{axesA[0], axesA[1], axesB[0], axesB[1]} {
		minA, maxA := project(ca, axis)
		minB, maxB := project(cb, axis)
		if maxA <= minB || maxB <= minA {
			return false
		}
	}
	return true
}

// firstCollision returns the ids of the first overlapping pair, if any.
func firstCollision(items []Placement) (a, b Placement, found bool) {
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			if overlaps(items[i], items[j]) {
				return items[i], items[j], true
			}
		}
	}
	return Placement{}, Placement{}, false
}
