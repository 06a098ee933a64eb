package game

import (
	"fmt"
	"math"

	"github.com/openwargame/wargame-server-go/internal/state"
)

// Movement caps in inches for the bounded melee repositioning moves.
const (
	pileInCap      = 3.0
	consolidateCap = 3.0
	scoutMoveCap   = 6.0
)

// unitsEngaged reports whether any alive model of a is within engagement
// range of any alive model of b.
func unitsEngaged(a, b *Unit, m Measurement, rangeInches float64) bool {
	for _, ma := range a.AliveModels() {
		for _, mb := range b.AliveModels() {
			if m.IsInEngagementRange(ma, mb, rangeInches) {
				return true
			}
		}
	}
	return false
}

// enemiesInEngagement lists enemy units currently engaged with u.
func enemiesInEngagement(root map[string]any, u *Unit, m Measurement, rangeInches float64) []*Unit {
	var out []*Unit
	for _, other := range AllUnits(root) {
		if other.Owner == u.Owner || other.IsDestroyed() || other.Status != UnitDeployed {
			continue
		}
		if unitsEngaged(u, other, m, rangeInches) {
			out = append(out, other)
		}
	}
	return out
}

// isInCombat reports whether u is engaged with at least one enemy unit.
func isInCombat(root map[string]any, u *Unit, m Measurement, rangeInches float64) bool {
	return len(enemiesInEngagement(root, u, m, rangeInches)) > 0
}

// withMoves returns a copy of u with the proposed moves applied. Unknown
// model IDs are reported as errors so callers fail validation early.
func withMoves(u *Unit, moves []ModelMove) (*Unit, error) {
	moved := *u
	moved.Models = append([]Model(nil), u.Models...)
	byID := make(map[string]int, len(moved.Models))
	for i, mdl := range moved.Models {
		byID[mdl.ID] = i
	}
	for _, mv := range moves {
		i, ok := byID[mv.ModelID]
		if !ok {
			return nil, fmt.Errorf("model %q is not part of unit %s", mv.ModelID, u.ID)
		}
		if !moved.Models[i].Alive {
			return nil, fmt.Errorf("model %q is a casualty and cannot move", mv.ModelID)
		}
		moved.Models[i].Position = mv.To
		moved.Models[i].Rotation = mv.Rotation
	}
	return &moved, nil
}

// newlyEngagedUnits runs the re-eligibility scan: given the mover's
// hypothetical post-move shape (diffs not yet committed), it returns enemy
// units that are now engaged with the mover. It is a pure function of the
// unmoved unit set plus the proposed movement; the exclude callback filters
// units already tracked by the sequencer.
func newlyEngagedUnits(root map[string]any, mover *Unit, m Measurement, rangeInches float64, exclude func(unitID string) bool) []*Unit {
	var out []*Unit
	for _, other := range AllUnits(root) {
		if other.ID == mover.ID || other.Owner == mover.Owner {
			continue
		}
		if other.IsDestroyed() || other.Status != UnitDeployed {
			continue
		}
		if exclude != nil && exclude(other.ID) {
			continue
		}
		if unitsEngaged(mover, other, m, rangeInches) {
			out = append(out, other)
		}
	}
	return out
}

// pointDistance is the straight-line distance between two points in inches.
func pointDistance(a, b Point) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// nearestEnemyDistance returns the smallest edge-to-edge distance from any
// alive model of u to any alive enemy model.
func nearestEnemyDistance(root map[string]any, u *Unit, m Measurement) (float64, bool) {
	best := math.MaxFloat64
	found := false
	for _, other := range AllUnits(root) {
		if other.Owner == u.Owner || other.IsDestroyed() || other.Status != UnitDeployed {
			continue
		}
		for _, ma := range u.AliveModels() {
			for _, mb := range other.AliveModels() {
				if d := m.Distance(ma, mb); d < best {
					best = d
					found = true
				}
			}
		}
	}
	return best, found
}

// nearestObjective returns the closest objective marker to the unit's
// centroid of alive models.
func nearestObjective(root map[string]any, u *Unit) (Objective, bool) {
	alive := u.AliveModels()
	if len(alive) == 0 {
		return Objective{}, false
	}
	var cx, cy float64
	for _, mdl := range alive {
		cx += mdl.Position.X
		cy += mdl.Position.Y
	}
	centroid := Point{X: cx / float64(len(alive)), Y: cy / float64(len(alive))}
	best := Objective{}
	bestDist := math.MaxFloat64
	found := false
	for _, obj := range Objectives(root) {
		if d := pointDistance(centroid, obj.Position); d < bestDist {
			best = obj
			bestDist = d
			found = true
		}
	}
	return best, found
}

// engagementReachable reports whether the unit could end a bounded move of
// moveCap inches within engagement range of an enemy. Evaluated from the
// unit's original positions, never from an attempted destination.
func engagementReachable(root map[string]any, u *Unit, m Measurement, moveCap, rangeInches float64) bool {
	d, ok := nearestEnemyDistance(root, u, m)
	if !ok {
		return false
	}
	return d <= moveCap+rangeInches
}

// validateBoundedMove checks the shared constraints of pile-in, consolidate
// and scout moves: per-model cap, no overlap with any other model, and the
// unit must keep its own models within coherency distance (2") of each other.
// It returns every violated rule.
func validateBoundedMove(root map[string]any, u *Unit, moves []ModelMove, m Measurement, cap float64) []string {
	var reasons []string
	moved, err := withMoves(u, moves)
	if err != nil {
		return []string{err.Error()}
	}
	original := make(map[string]Point, len(u.Models))
	for _, mdl := range u.Models {
		original[mdl.ID] = mdl.Position
	}
	for _, mv := range moves {
		from := original[mv.ModelID]
		if d := pointDistance(from, mv.To); d > cap+1e-9 {
			reasons = append(reasons, fmt.Sprintf("model %s moves %.2f\", cap is %.1f\"", mv.ModelID, d, cap))
		}
	}
	// No overlap with any model outside the moving unit, or within it.
	for i, a := range moved.AliveModels() {
		for j, b := range moved.AliveModels() {
			if j <= i {
				continue
			}
			if m.ModelsOverlap(a, b) {
				reasons = append(reasons, fmt.Sprintf("models %s and %s overlap", a.ID, b.ID))
			}
		}
	}
	for _, other := range AllUnits(root) {
		if other.ID == u.ID || other.Status != UnitDeployed {
			continue
		}
		for _, a := range moved.AliveModels() {
			for _, b := range other.AliveModels() {
				if m.ModelsOverlap(a, b) {
					reasons = append(reasons, fmt.Sprintf("model %s overlaps enemy model %s", a.ID, b.ID))
				}
			}
		}
	}
	// Coherency: every alive model within 2" of at least one other, when the
	// unit has more than one alive model.
	alive := moved.AliveModels()
	if len(alive) > 1 {
		for _, a := range alive {
			ok := false
			for _, b := range alive {
				if a.ID == b.ID {
					continue
				}
				if m.Distance(a, b) <= 2.0 {
					ok = true
					break
				}
			}
			if !ok {
				reasons = append(reasons, fmt.Sprintf("model %s breaks unit coherency", a.ID))
			}
		}
	}
	return reasons
}

// moveDiffs converts accepted model moves into state diffs.
func moveDiffs(u *Unit, moves []ModelMove) []state.Diff {
	byID := make(map[string]int, len(u.Models))
	for i, mdl := range u.Models {
		byID[mdl.ID] = i
	}
	var diffs []state.Diff
	for _, mv := range moves {
		i := byID[mv.ModelID]
		diffs = append(diffs,
			state.Set(modelField(u.ID, i, "position.x"), mv.To.X),
			state.Set(modelField(u.ID, i, "position.y"), mv.To.Y),
			state.Set(modelField(u.ID, i, "rotation"), mv.Rotation),
		)
	}
	return diffs
}
