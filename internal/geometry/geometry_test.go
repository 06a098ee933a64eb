package geometry

import (
	"math"
	"testing"

	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func circle(x, y, baseMM float64) game.Model {
	return game.Model{Position: game.Point{X: x, Y: y}, BaseMM: baseMM, Alive: true}
}

func oval(x, y, rotation float64, base string) game.Model {
	return game.Model{Position: game.Point{X: x, Y: y}, Rotation: rotation, BaseType: base, Alive: true}
}

func TestDistanceCircularBases(t *testing.T) {
	c := NewCalculator()

	// Two 25mm bases 3" apart center to center: edge-to-edge loses one full
	// base diameter.
	a := circle(0, 0, 25.4)
	b := circle(3, 0, 25.4)
	assert.InDelta(t, 2.0, c.Distance(a, b), 1e-9)

	// Point models (no base) measure center to center.
	assert.InDelta(t, 5.0, c.Distance(circle(0, 0, 0), circle(3, 4, 0)), 1e-9)
}

func TestDistanceClampsOverlapToZero(t *testing.T) {
	c := NewCalculator()
	a := circle(0, 0, 50.8)
	b := circle(0.5, 0, 50.8)
	assert.Zero(t, c.Distance(a, b))
	assert.True(t, c.ModelsOverlap(a, b))
}

func TestEngagementRangeEdgeToEdge(t *testing.T) {
	c := NewCalculator()
	// 25mm bases, centers 1.9" apart: edges are 0.9" apart, inside 1".
	a := circle(0, 0, 25.4)
	b := circle(1.9, 0, 25.4)
	assert.True(t, c.IsInEngagementRange(a, b, 1.0))
	// Centers 2.1" apart: edges 1.1", out of range.
	assert.False(t, c.IsInEngagementRange(a, circle(2.1, 0, 25.4), 1.0))
}

func TestOvalBaseRotationMatters(t *testing.T) {
	c := NewCalculator()
	// A 60x35mm oval: the long axis spans ~2.36", the short ~1.38".
	probe := circle(2, 0, 0)

	// Long axis pointed at the probe.
	alongX := oval(0, 0, 0, "oval:60x35")
	// Long axis perpendicular to the probe.
	acrossX := oval(0, 0, math.Pi/2, "oval:60x35")

	dNear := c.Distance(alongX, probe)
	dFar := c.Distance(acrossX, probe)
	assert.Less(t, dNear, dFar, "rotating the long axis away must increase the distance")
	assert.InDelta(t, 2.0-60.0/25.4/2, dNear, 0.02)
	assert.InDelta(t, 2.0-35.0/25.4/2, dFar, 0.02)
}

func TestOvalOverlapDetectsContainment(t *testing.T) {
	c := NewCalculator()
	big := oval(0, 0, 0, "oval:170x105")
	small := circle(0.2, 0, 25.4)
	assert.True(t, c.ModelsOverlap(big, small), "a base inside another overlaps even with no edge crossing")
}

func TestMalformedOvalFallsBackToCircle(t *testing.T) {
	c := NewCalculator()
	bad := game.Model{Position: game.Point{X: 0, Y: 0}, BaseType: "oval:sixtyx35", BaseMM: 25.4}
	b := circle(3, 0, 25.4)
	assert.InDelta(t, 2.0, c.Distance(bad, b), 1e-9)
}

func TestPointInZone(t *testing.T) {
	c := NewCalculator()
	square := []game.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}, {X: 0, Y: 10}}

	assert.True(t, c.PointInZone(game.Point{X: 5, Y: 5}, square))
	assert.False(t, c.PointInZone(game.Point{X: 15, Y: 5}, square))
	assert.True(t, c.PointInZone(game.Point{X: 0, Y: 5}, square), "edge points count as inside")
	assert.True(t, c.PointInZone(game.Point{X: 10, Y: 10}, square), "vertices count as inside")
	assert.False(t, c.PointInZone(game.Point{X: 5, Y: 5}, square[:2]), "degenerate zones contain nothing")
}

func TestPointInZoneConcavePolygon(t *testing.T) {
	c := NewCalculator()
	// A U-shaped zone: the notch between the arms is outside.
	u := []game.Point{
		{X: 0, Y: 0}, {X: 9, Y: 0}, {X: 9, Y: 9},
		{X: 6, Y: 9}, {X: 6, Y: 3}, {X: 3, Y: 3},
		{X: 3, Y: 9}, {X: 0, Y: 9},
	}
	assert.True(t, c.PointInZone(game.Point{X: 1, Y: 8}, u))
	assert.True(t, c.PointInZone(game.Point{X: 8, Y: 8}, u))
	assert.False(t, c.PointInZone(game.Point{X: 4.5, Y: 8}, u))
}

// TestDistanceSymmetryProperty: distance and overlap are symmetric in their
// arguments for any mix of circular and oval bases.
func TestDistanceSymmetryProperty(t *testing.T) {
	c := NewCalculator()
	rapid.Check(t, func(rt *rapid.T) {
		mk := func(label string) game.Model {
			m := game.Model{
				Position: game.Point{
					X: rapid.Float64Range(-20, 20).Draw(rt, label+"x"),
					Y: rapid.Float64Range(-20, 20).Draw(rt, label+"y"),
				},
				Rotation: rapid.Float64Range(0, 2*math.Pi).Draw(rt, label+"rot"),
			}
			if rapid.Bool().Draw(rt, label+"oval") {
				m.BaseType = "oval:60x35"
			} else {
				m.BaseMM = rapid.Float64Range(0, 60).Draw(rt, label+"mm")
			}
			return m
		}
		a, b := mk("a"), mk("b")
		if math.Abs(c.Distance(a, b)-c.Distance(b, a)) > 1e-6 {
			rt.Fatalf("distance is not symmetric")
		}
		if c.ModelsOverlap(a, b) != c.ModelsOverlap(b, a) {
			rt.Fatalf("overlap is not symmetric")
		}
	})
}
