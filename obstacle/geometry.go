package obstacle

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r2"
)

// crossings walks the segment s->r against every polygon edge. It returns the
// number of wall crossings and the fraction of the segment's length that lies
// inside the polygon.
func (o *Obstacle) crossings(s, r r2.Vec) (cuts int, fractionInside float64) {
	ts := segmentPolygonIntersections(s, r, o.Shape)
	inside := pointInPolygon(s, o.Shape)
	if len(ts) == 0 {
		if inside {
			return 0, 1
		}
		return 0, 0
	}

	sort.Float64s(ts)
	last := 0.0
	for _, t := range ts {
		if inside {
			fractionInside += t - last
		}
		inside = !inside
		last = t
	}
	if inside {
		fractionInside += 1 - last
	}
	return len(ts), fractionInside
}

// segmentPolygonIntersections returns the segment parameters t in [0,1] at
// which s->r crosses an edge of the closed polygon. Edges are half-open so a
// vertex shared by two edges is counted once.
func segmentPolygonIntersections(s, r r2.Vec, shape []r2.Vec) []float64 {
	d := r2.Sub(r, s)
	var out []float64
	for i := range shape {
		a := shape[i]
		b := shape[(i+1)%len(shape)]
		e := r2.Sub(b, a)

		denom := r2.Cross(d, e)
		if denom == 0 {
			// Parallel or collinear edges never count as a cut.
			continue
		}
		as := r2.Sub(a, s)
		t := r2.Cross(as, e) / denom
		u := r2.Cross(as, d) / denom
		if t < 0 || t > 1 || u < 0 || u >= 1 {
			continue
		}
		out = append(out, t)
	}
	return out
}

// pointInPolygon is the even-odd ray casting test.
func pointInPolygon(p r2.Vec, shape []r2.Vec) bool {
	in := false
	for i, j := 0, len(shape)-1; i < len(shape); j, i = i, i+1 {
		a, b := shape[i], shape[j]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				in = !in
			}
		}
	}
	return in
}
