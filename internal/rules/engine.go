// Package rules implements the combat-math capability: hit and wound rolls,
// save and damage resolution, death abilities, and targeting queries.
package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/openwargame/wargame-server-go/internal/library"
	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// deathThroesRadius is the blast radius in inches of a death explosion.
const deathThroesRadius = 3.0

// Engine resolves combat math against datasheets from the library. It
// satisfies game.RulesEngine.
type Engine struct {
	logger  *zap.Logger
	lib     *library.Library
	measure game.Measurement
	dice    Roller
}

// NewEngine wires a rules engine to its datasheet library, measurement
// capability, and dice source.
func NewEngine(lib *library.Library, measure game.Measurement, dice Roller, logger *zap.Logger) *Engine {
	return &Engine{logger: logger, lib: lib, measure: measure, dice: dice}
}

// GetWeaponProfile resolves a weapon ID to the slice of its profile the
// sequencing core needs.
func (e *Engine) GetWeaponProfile(id string) (game.WeaponProfile, error) {
	w, err := e.lib.Weapon(id)
	if err != nil {
		return game.WeaponProfile{}, err
	}
	return game.WeaponProfile{
		ID:      w.ID,
		Name:    w.Name,
		Ranged:  w.Ranged,
		Range:   w.Range,
		Attacks: w.Attacks,
	}, nil
}

// unitStat reads a defender statline value from the unit's tree metadata.
func unitStat(root map[string]any, unitID, field string, fallback int) int {
	if v, ok := state.GetInt(root, "units."+unitID+".meta."+field); ok {
		return v
	}
	return fallback
}

// woundTarget is the strength versus toughness comparison table.
func woundTarget(strength, toughness int) int {
	switch {
	case strength >= 2*toughness:
		return 2
	case strength > toughness:
		return 3
	case strength == toughness:
		return 4
	case 2*strength <= toughness:
		return 6
	default:
		return 5
	}
}

// saveTarget folds armor penetration and invulnerable saves into the single
// die target the defender rolls against. Values above 6 cannot be passed.
func saveTarget(armor, ap, invuln int) int {
	target := armor + ap
	if invuln > 0 && invuln < target {
		target = invuln
	}
	if target > 7 {
		target = 7
	}
	return target
}

// ResolveUntilWounds rolls attacks, hits, and wounds for one merged
// assignment, stopping at the save boundary. Every die is returned so the
// caller can persist it.
func (e *Engine) ResolveUntilWounds(assign game.AttackAssignment, root map[string]any) (game.WoundResolution, error) {
	weapon, err := e.lib.Weapon(assign.WeaponID)
	if err != nil {
		return game.WoundResolution{}, err
	}
	notation, err := ParseNotation(weapon.Attacks)
	if err != nil {
		return game.WoundResolution{}, fmt.Errorf("weapon %s: %w", weapon.ID, err)
	}

	var res game.WoundResolution
	attacks := 0
	for i := 0; i < assign.ModelCount; i++ {
		n, rolls := notation.Roll(e.dice)
		attacks += n
		for _, v := range rolls {
			res.Dice = append(res.Dice, game.DiceRoll{Sides: notation.Sides, Value: v, Purpose: "attacks"})
		}
	}

	for i := 0; i < attacks; i++ {
		v := e.dice.Roll(6)
		res.Dice = append(res.Dice, game.DiceRoll{Sides: 6, Value: v, Purpose: "hit"})
		// Unmodified 1 always misses, 6 always hits.
		if v == 6 || (v != 1 && v >= weapon.Skill) {
			res.Hits++
		}
	}

	toughness := unitStat(root, assign.TargetID, "toughness", 4)
	needed := woundTarget(weapon.Strength, toughness)
	for i := 0; i < res.Hits; i++ {
		v := e.dice.Roll(6)
		res.Dice = append(res.Dice, game.DiceRoll{Sides: 6, Value: v, Purpose: "wound"})
		if v == 6 || (v != 1 && v >= needed) {
			res.Wounds++
		}
	}

	if res.Wounds > 0 {
		armor := unitStat(root, assign.TargetID, "save", 7)
		invuln := unitStat(root, assign.TargetID, "invuln", 0)
		res.SaveData = []game.SaveData{{
			TargetUnitID: assign.TargetID,
			WeaponID:     assign.WeaponID,
			Wounds:       res.Wounds,
			AP:           weapon.AP,
			Damage:       weapon.Damage,
			SaveTarget:   saveTarget(armor, weapon.AP, invuln),
		}}
	}
	res.Log = fmt.Sprintf("%s at %s: %d attacks, %d hits, %d wounds",
		weapon.Name, assign.TargetID, attacks, res.Hits, res.Wounds)
	if e.logger != nil {
		e.logger.Debug("attack resolved to save boundary",
			zap.String("weapon", weapon.ID),
			zap.String("target", assign.TargetID),
			zap.Int("attacks", attacks),
			zap.Int("hits", res.Hits),
			zap.Int("wounds", res.Wounds),
		)
	}
	return res, nil
}

// ApplySaveDamage checks the defender's save dice against the pending save
// request and converts the failures into damage diffs. One failed save's
// damage applies to a single model; excess is lost.
func (e *Engine) ApplySaveDamage(saves []game.SaveRoll, data game.SaveData, root map[string]any) (game.SaveOutcome, error) {
	if len(saves) != data.Wounds {
		return game.SaveOutcome{}, fmt.Errorf("expected %d save rolls, got %d", data.Wounds, len(saves))
	}
	weapon, err := e.lib.Weapon(data.WeaponID)
	if err != nil {
		return game.SaveOutcome{}, err
	}
	damage, err := ParseNotation(weapon.Damage)
	if err != nil {
		return game.SaveOutcome{}, fmt.Errorf("weapon %s: %w", weapon.ID, err)
	}

	var outcome game.SaveOutcome
	target, err := game.UnitFromState(root, data.TargetUnitID)
	if err != nil {
		return game.SaveOutcome{}, err
	}
	alloc := newAllocator(target, unitStat(root, data.TargetUnitID, "wounds", 0))
	for _, roll := range saves {
		// Unmodified 1 always fails; targets above 6 cannot be passed.
		passed := roll.Value != 1 && data.SaveTarget <= 6 && roll.Value >= data.SaveTarget
		if passed {
			continue
		}
		outcome.SavesFailed++
		dmg, _ := damage.Roll(e.dice)
		if alloc.wound(dmg) {
			outcome.Casualties++
		}
	}
	outcome.Diffs = alloc.diffs()
	outcome.Log = fmt.Sprintf("%s on %s: %d failed saves, %d slain",
		weapon.Name, data.TargetUnitID, outcome.SavesFailed, outcome.Casualties)
	return outcome, nil
}

// ResolveOnDeath resolves a destroyed unit's death explosion: on a 4+ every
// enemy unit within the blast radius suffers D3 mortal wounds.
func (e *Engine) ResolveOnDeath(unitID string, root map[string]any) (game.AutoAttackOutcome, error) {
	dead, err := game.UnitFromState(root, unitID)
	if err != nil {
		return game.AutoAttackOutcome{}, err
	}
	var out game.AutoAttackOutcome
	trigger := e.dice.Roll(6)
	out.Dice = append(out.Dice, game.DiceRoll{Sides: 6, Value: trigger, Purpose: "death_throes"})
	if trigger < 4 {
		out.Log = fmt.Sprintf("%s death throes fizzles", unitID)
		return out, nil
	}
	var hit []string
	for _, enemy := range game.AllUnits(root) {
		if enemy.Owner == dead.Owner || enemy.IsDestroyed() || enemy.Status != game.UnitDeployed {
			continue
		}
		if e.unitDistance(dead, enemy) > deathThroesRadius {
			continue
		}
		wounds := e.dice.Roll(3)
		out.Dice = append(out.Dice, game.DiceRoll{Sides: 3, Value: wounds, Purpose: "death_throes_damage"})
		alloc := newAllocator(enemy, unitStat(root, enemy.ID, "wounds", 0))
		for i := 0; i < wounds; i++ {
			alloc.wound(1)
		}
		out.Diffs = append(out.Diffs, alloc.diffs()...)
		hit = append(hit, fmt.Sprintf("%s (%d)", enemy.ID, wounds))
	}
	if len(hit) == 0 {
		out.Log = fmt.Sprintf("%s death throes finds no one in range", unitID)
	} else {
		out.Log = fmt.Sprintf("%s death throes wounds %s", unitID, strings.Join(hit, ", "))
	}
	return out, nil
}

// ResolveAutoAttack is the interrupt mini-attack: one die per alive attacker
// model, each 4+ inflicting a mortal wound on the target.
func (e *Engine) ResolveAutoAttack(unitID, targetID string, root map[string]any) (game.AutoAttackOutcome, error) {
	attacker, err := game.UnitFromState(root, unitID)
	if err != nil {
		return game.AutoAttackOutcome{}, err
	}
	target, err := game.UnitFromState(root, targetID)
	if err != nil {
		return game.AutoAttackOutcome{}, err
	}
	var out game.AutoAttackOutcome
	alloc := newAllocator(target, unitStat(root, targetID, "wounds", 0))
	inflicted := 0
	for range attacker.AliveModels() {
		v := e.dice.Roll(6)
		out.Dice = append(out.Dice, game.DiceRoll{Sides: 6, Value: v, Purpose: "auto_attack"})
		if v >= 4 {
			inflicted++
			alloc.wound(1)
		}
	}
	out.Diffs = alloc.diffs()
	out.Log = fmt.Sprintf("%s strikes %s for %d mortal wounds", unitID, targetID, inflicted)
	return out, nil
}

// RollOff rolls one die for the pre-game roll-off.
func (e *Engine) RollOff(p game.Player) game.DiceRoll {
	return game.DiceRoll{Sides: 6, Value: e.dice.Roll(6), Purpose: "roll_off"}
}

// EligibleTargets lists enemy units the given unit may shoot: deployed, not
// destroyed, inside the range of at least one of the shooter's ranged
// weapons, and not locked in melee with the shooter's own side.
func (e *Engine) EligibleTargets(unitID string, root map[string]any) ([]string, error) {
	shooter, err := game.UnitFromState(root, unitID)
	if err != nil {
		return nil, err
	}
	var reaches []float64
	for _, wid := range shooter.Weapons {
		w, err := e.lib.Weapon(wid)
		if err != nil {
			return nil, err
		}
		if w.Ranged {
			reaches = append(reaches, w.Range)
		}
	}
	if len(reaches) == 0 {
		return nil, nil
	}
	maxRange := 0.0
	for _, r := range reaches {
		maxRange = math.Max(maxRange, r)
	}

	var out []string
	for _, enemy := range game.AllUnits(root) {
		if enemy.Owner == shooter.Owner || enemy.IsDestroyed() || enemy.Status != game.UnitDeployed {
			continue
		}
		if e.unitDistance(shooter, enemy) > maxRange {
			continue
		}
		if e.engagedWithSide(enemy, shooter.Owner, root) {
			continue
		}
		out = append(out, enemy.ID)
	}
	sort.Strings(out)
	return out, nil
}

// unitDistance is the closest alive-model pair distance between two units.
func (e *Engine) unitDistance(a, b *game.Unit) float64 {
	best := math.Inf(1)
	for _, m1 := range a.AliveModels() {
		for _, m2 := range b.AliveModels() {
			if d := e.measure.Distance(m1, m2); d < best {
				best = d
			}
		}
	}
	return best
}

// engagedWithSide reports whether a unit is in melee with any unit of the
// given side. Shooting into such fights is not allowed.
func (e *Engine) engagedWithSide(u *game.Unit, side game.Player, root map[string]any) bool {
	for _, friend := range game.AllUnits(root) {
		if friend.Owner != side || friend.IsDestroyed() || friend.Status != game.UnitDeployed {
			continue
		}
		for _, m1 := range u.AliveModels() {
			for _, m2 := range friend.AliveModels() {
				if e.measure.IsInEngagementRange(m1, m2, 1.0) {
					return true
				}
			}
		}
	}
	return false
}

// allocator assigns damage to a unit's models, wounded model first, and
// accumulates the resulting diffs.
type allocator struct {
	unit   *game.Unit
	max    int
	start  []int
	wounds []int
	alive  []bool
	dirty  map[int]bool
}

// newAllocator captures the unit's per-model wound state. max is the
// datasheet wound characteristic, zero when the tree does not carry one.
func newAllocator(u *game.Unit, max int) *allocator {
	a := &allocator{
		unit:   u,
		max:    max,
		start:  make([]int, len(u.Models)),
		wounds: make([]int, len(u.Models)),
		alive:  make([]bool, len(u.Models)),
		dirty:  make(map[int]bool),
	}
	for i, m := range u.Models {
		a.start[i] = m.Wounds
		a.wounds[i] = m.Wounds
		a.alive[i] = m.Alive
	}
	return a
}

// pick chooses the model to suffer the next failed save: a model damaged
// during this allocation first, then one carrying wounds from an earlier
// attack. Pre-existing wounds are judged per model against the datasheet
// characteristic, never against the other models, so a full-health
// low-wound model is never mistaken for a wounded one.
func (a *allocator) pick() int {
	for i := range a.unit.Models {
		if a.alive[i] && a.wounds[i] < a.start[i] {
			return i
		}
	}
	if a.max > 0 {
		for i := range a.unit.Models {
			if a.alive[i] && a.wounds[i] < a.max {
				return i
			}
		}
	}
	for i := range a.unit.Models {
		if a.alive[i] {
			return i
		}
	}
	return -1
}

// wound applies one failed save's damage to a single model. Excess damage is
// lost. Reports whether the model died.
func (a *allocator) wound(damage int) bool {
	i := a.pick()
	if i < 0 {
		return false
	}
	a.dirty[i] = true
	a.wounds[i] -= damage
	if a.wounds[i] <= 0 {
		a.wounds[i] = 0
		a.alive[i] = false
		return true
	}
	return false
}

func (a *allocator) diffs() []state.Diff {
	var out []state.Diff
	for i := range a.unit.Models {
		if !a.dirty[i] {
			continue
		}
		prefix := fmt.Sprintf("units.%s.models.%d.", a.unit.ID, i)
		out = append(out, state.Set(prefix+"wounds", a.wounds[i]))
		if !a.alive[i] {
			out = append(out, state.Set(prefix+"alive", false))
		}
	}
	return out
}
