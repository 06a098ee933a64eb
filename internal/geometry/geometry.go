// Package geometry implements tabletop measurement: edge-to-edge distances
// between model bases, zone containment, and base overlap checks.
package geometry

import (
	"math"
	"strconv"
	"strings"

	"github.com/openwargame/wargame-server-go/internal/game"
)

const mmPerInch = 25.4

// ellipseSamples is the perimeter resolution used for oval bases. 36 points
// keeps the worst-case distance error under a hundredth of an inch for the
// base sizes in play.
const ellipseSamples = 36

// Calculator is the canonical Measurement implementation. It is stateless
// and safe for concurrent use.
type Calculator struct{}

// NewCalculator returns the shared measurement calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Distance returns the edge-to-edge distance in inches between two model
// bases. Overlapping bases report zero.
func (c *Calculator) Distance(a, b game.Model) float64 {
	d := c.signedDistance(a, b)
	if d < 0 {
		return 0
	}
	return d
}

// IsInEngagementRange reports whether two bases are within the given range.
func (c *Calculator) IsInEngagementRange(a, b game.Model, rangeInches float64) bool {
	return c.signedDistance(a, b) <= rangeInches
}

// ModelsOverlap reports whether two bases physically intersect.
func (c *Calculator) ModelsOverlap(a, b game.Model) bool {
	return c.signedDistance(a, b) < 0
}

// PointInZone reports whether a point lies inside a polygonal zone using the
// even-odd ray casting rule. Points on an edge count as inside.
func (c *Calculator) PointInZone(p game.Point, zone []game.Point) bool {
	if len(zone) < 3 {
		return false
	}
	inside := false
	j := len(zone) - 1
	for i := 0; i < len(zone); i++ {
		zi, zj := zone[i], zone[j]
		if onSegment(p, zi, zj) {
			return true
		}
		if (zi.Y > p.Y) != (zj.Y > p.Y) {
			slope := (zj.X - zi.X) * (p.Y - zi.Y) / (zj.Y - zi.Y)
			if p.X < zi.X+slope {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// signedDistance is negative when the bases overlap. Circular pairs are
// exact; ovals are resolved by perimeter sampling.
func (c *Calculator) signedDistance(a, b game.Model) float64 {
	aw, al, aOval := baseDims(a)
	bw, bl, bOval := baseDims(b)
	if !aOval && !bOval {
		center := hypot(a.Position, b.Position)
		return center - aw/2 - bw/2
	}
	pa := perimeter(a, aw, al, aOval)
	pb := perimeter(b, bw, bl, bOval)
	best := math.Inf(1)
	for _, p1 := range pa {
		for _, p2 := range pb {
			if d := hypot(p1, p2); d < best {
				best = d
			}
		}
	}
	// Sampled edges cannot detect containment, so check centers explicitly.
	if containsPoint(a, aw, al, aOval, b.Position) || containsPoint(b, bw, bl, bOval, a.Position) {
		return -best
	}
	return best
}

// baseDims returns the base width and length in inches. Ovals encode their
// footprint in BaseType as "oval:WxL" (millimeters); anything else is a
// circle of BaseMM diameter.
func baseDims(m game.Model) (width, length float64, oval bool) {
	if rest, ok := strings.CutPrefix(m.BaseType, "oval:"); ok {
		parts := strings.SplitN(rest, "x", 2)
		if len(parts) == 2 {
			w, errW := strconv.ParseFloat(parts[0], 64)
			l, errL := strconv.ParseFloat(parts[1], 64)
			if errW == nil && errL == nil && w > 0 && l > 0 {
				return w / mmPerInch, l / mmPerInch, true
			}
		}
	}
	d := m.BaseMM / mmPerInch
	if d <= 0 {
		// Unbased models measure from their center point.
		d = 0
	}
	return d, d, false
}

// perimeter samples the outline of a base in table coordinates, honoring the
// model's rotation for ovals.
func perimeter(m game.Model, width, length float64, oval bool) []game.Point {
	rw, rl := width/2, length/2
	sin, cos := 0.0, 1.0
	if oval {
		sin, cos = math.Sincos(m.Rotation)
	}
	points := make([]game.Point, 0, ellipseSamples)
	for i := 0; i < ellipseSamples; i++ {
		t := 2 * math.Pi * float64(i) / ellipseSamples
		lx := rw * math.Cos(t)
		ly := rl * math.Sin(t)
		points = append(points, game.Point{
			X: m.Position.X + lx*cos - ly*sin,
			Y: m.Position.Y + lx*sin + ly*cos,
		})
	}
	return points
}

// containsPoint reports whether a table point lies inside the base footprint.
func containsPoint(m game.Model, width, length float64, oval bool, p game.Point) bool {
	dx := p.X - m.Position.X
	dy := p.Y - m.Position.Y
	if !oval {
		r := width / 2
		return dx*dx+dy*dy < r*r
	}
	// Rotate into the base's local frame.
	sin, cos := math.Sincos(-m.Rotation)
	lx := dx*cos - dy*sin
	ly := dx*sin + dy*cos
	rw, rl := width/2, length/2
	if rw == 0 || rl == 0 {
		return false
	}
	return (lx*lx)/(rw*rw)+(ly*ly)/(rl*rl) < 1
}

func hypot(a, b game.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func onSegment(p, a, b game.Point) bool {
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > 1e-9 {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-1e-9 && p.X <= math.Max(a.X, b.X)+1e-9 &&
		p.Y >= math.Min(a.Y, b.Y)-1e-9 && p.Y <= math.Max(a.Y, b.Y)+1e-9
}
