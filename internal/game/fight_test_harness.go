package game

import (
	"fmt"
	"math"
	"testing"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap/zaptest"
)

// FightTestHarness wires a fight phase over a scripted rules engine and a
// flat-circle measurement stub so scenarios control every dice outcome.
type FightTestHarness struct {
	t       *testing.T
	phase   *FightPhase
	rules   *scriptedRules
	measure *flatMeasure
	ctx     TurnContext
	tree    map[string]any
}

// NewFightTestHarness builds the harness and enters the fight phase over the
// given tree. The active player defaults to Player1, so Player2 defends.
func NewFightTestHarness(t *testing.T, tree map[string]any) *FightTestHarness {
	logger := zaptest.NewLogger(t)
	rules := newScriptedRules()
	measure := &flatMeasure{}
	phase := NewFightPhase(measure, rules, logger)
	ctx := TurnContext{Turn: 1, ActivePlayer: Player1, EngagementRange: 1.0}
	if _, err := phase.Enter(state.Clone(tree), ctx); err != nil {
		t.Fatalf("entering fight phase: %v", err)
	}
	return &FightTestHarness{t: t, phase: phase, rules: rules, measure: measure, ctx: ctx, tree: tree}
}

// Submit validates and processes one action, failing the test on a
// validation error.
func (h *FightTestHarness) Submit(action Action) ActionResult {
	h.t.Helper()
	if res := h.phase.ValidateAction(h.ctx, action); !res.Valid {
		h.t.Fatalf("action %s rejected: %v", action.ActionType(), res.Errors)
	}
	result := h.phase.ProcessAction(h.ctx, action)
	if !result.Success {
		h.t.Fatalf("action %s failed: %s", action.ActionType(), result.Error)
	}
	return result
}

// Reject asserts the action fails validation and returns the reasons.
func (h *FightTestHarness) Reject(action Action) []string {
	h.t.Helper()
	res := h.phase.ValidateAction(h.ctx, action)
	if res.Valid {
		h.t.Fatalf("action %s unexpectedly valid", action.ActionType())
	}
	return res.Errors
}

// Root returns the phase's mirrored tree.
func (h *FightTestHarness) Root() map[string]any { return h.phase.mirror.Root() }

// UnitSpec describes one test unit placed on the table.
type UnitSpec struct {
	ID        string
	Owner     Player
	Models    int
	Wounds    int
	At        Point
	Spacing   float64
	Weapons   []string
	Abilities []string
	Effects   map[string]any
	Status    UnitStatus
}

// BuildTree assembles a world state tree from unit specs. Models are laid out
// in a row starting at the spec's anchor point.
func BuildTree(specs ...UnitSpec) map[string]any {
	units := map[string]any{}
	for _, spec := range specs {
		if spec.Models == 0 {
			spec.Models = 1
		}
		if spec.Wounds == 0 {
			spec.Wounds = 1
		}
		if spec.Spacing == 0 {
			spec.Spacing = 1.0
		}
		if spec.Status == "" {
			spec.Status = UnitDeployed
		}
		models := make([]any, 0, spec.Models)
		for i := 0; i < spec.Models; i++ {
			models = append(models, map[string]any{
				"id": fmt.Sprintf("%s-m%d", spec.ID, i+1),
				"position": map[string]any{
					"x": spec.At.X + float64(i)*spec.Spacing,
					"y": spec.At.Y,
				},
				"rotation": 0.0,
				"base_mm":  0.0,
				"alive":    true,
				"wounds":   spec.Wounds,
			})
		}
		abilities := make([]any, 0, len(spec.Abilities))
		for _, a := range spec.Abilities {
			abilities = append(abilities, a)
		}
		weapons := make([]any, 0, len(spec.Weapons))
		for _, w := range spec.Weapons {
			weapons = append(weapons, w)
		}
		effects := map[string]any{}
		for k, v := range spec.Effects {
			effects[k] = v
		}
		units[spec.ID] = map[string]any{
			"owner":  int(spec.Owner),
			"status": string(spec.Status),
			"meta": map[string]any{
				"name":      spec.ID,
				"abilities": abilities,
			},
			"weapons": weapons,
			"models":  models,
			"effects": effects,
		}
	}
	return map[string]any{
		"units": units,
		"players": map[string]any{
			"1": map[string]any{"command_points": 3, "counter_offensive_used": false},
			"2": map[string]any{"command_points": 3, "counter_offensive_used": false},
		},
		"meta": map[string]any{"active_player": 1, "turn": 1},
	}
}

// flatMeasure treats every model as a point: center distance, no base size.
type flatMeasure struct{}

func (*flatMeasure) Distance(a, b Model) float64 {
	return math.Hypot(a.Position.X-b.Position.X, a.Position.Y-b.Position.Y)
}

func (m *flatMeasure) IsInEngagementRange(a, b Model, rangeInches float64) bool {
	return m.Distance(a, b) <= rangeInches
}

func (*flatMeasure) PointInZone(p Point, zone []Point) bool {
	if len(zone) < 3 {
		return false
	}
	inside := false
	j := len(zone) - 1
	for i := 0; i < len(zone); i++ {
		zi, zj := zone[i], zone[j]
		if (zi.Y > p.Y) != (zj.Y > p.Y) &&
			p.X < zi.X+(zj.X-zi.X)*(p.Y-zi.Y)/(zj.Y-zi.Y) {
			inside = !inside
		}
		j = i
	}
	return inside
}

func (m *flatMeasure) ModelsOverlap(a, b Model) bool {
	return m.Distance(a, b) < 0.25
}

// scriptedRules is a deterministic RulesEngine: wound resolutions come from a
// per-assignment script, saves fail when the supplied die is under the
// target, and each failed save kills one model outright.
type scriptedRules struct {
	profiles map[string]WeaponProfile
	// wounds scripts ResolveUntilWounds by assignment key.
	wounds map[string]WoundResolution
	// autoAttacks scripts ResolveAutoAttack by attacker ID.
	autoAttacks map[string]AutoAttackOutcome
	// deaths scripts ResolveOnDeath by unit ID.
	deaths map[string]AutoAttackOutcome
	// rollQueue feeds RollOff.
	rollQueue []int
}

func newScriptedRules() *scriptedRules {
	return &scriptedRules{
		profiles:    map[string]WeaponProfile{},
		wounds:      map[string]WoundResolution{},
		autoAttacks: map[string]AutoAttackOutcome{},
		deaths:      map[string]AutoAttackOutcome{},
	}
}

// AddWeapon registers a melee or ranged profile.
func (r *scriptedRules) AddWeapon(id string, ranged bool, reach float64) {
	r.profiles[id] = WeaponProfile{ID: id, Name: id, Ranged: ranged, Range: reach, Attacks: "1"}
}

// ScriptWounds fixes the outcome of one weapon/target assignment.
func (r *scriptedRules) ScriptWounds(weaponID, targetID string, wounds, saveTarget int) {
	key := weaponID + "->" + targetID
	res := WoundResolution{Hits: wounds, Wounds: wounds}
	if wounds > 0 {
		res.SaveData = []SaveData{{
			TargetUnitID: targetID,
			WeaponID:     weaponID,
			Wounds:       wounds,
			Damage:       "1",
			SaveTarget:   saveTarget,
		}}
	}
	r.wounds[key] = res
}

func (r *scriptedRules) GetWeaponProfile(id string) (WeaponProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return WeaponProfile{}, fmt.Errorf("unknown weapon %s", id)
	}
	return p, nil
}

func (r *scriptedRules) ResolveUntilWounds(assign AttackAssignment, root map[string]any) (WoundResolution, error) {
	if res, ok := r.wounds[assign.Key()]; ok {
		return res, nil
	}
	return WoundResolution{}, nil
}

func (r *scriptedRules) ApplySaveDamage(saves []SaveRoll, data SaveData, root map[string]any) (SaveOutcome, error) {
	if len(saves) != data.Wounds {
		return SaveOutcome{}, fmt.Errorf("expected %d save rolls, got %d", data.Wounds, len(saves))
	}
	target, err := UnitFromState(root, data.TargetUnitID)
	if err != nil {
		return SaveOutcome{}, err
	}
	outcome := SaveOutcome{}
	next := 0
	for _, roll := range saves {
		if roll.Value != 1 && data.SaveTarget <= 6 && roll.Value >= data.SaveTarget {
			continue
		}
		outcome.SavesFailed++
		for next < len(target.Models) && !target.Models[next].Alive {
			next++
		}
		if next >= len(target.Models) {
			continue
		}
		prefix := fmt.Sprintf("units.%s.models.%d.", data.TargetUnitID, next)
		outcome.Diffs = append(outcome.Diffs,
			state.Set(prefix+"wounds", 0),
			state.Set(prefix+"alive", false),
		)
		outcome.Casualties++
		next++
	}
	return outcome, nil
}

func (r *scriptedRules) ResolveOnDeath(unitID string, root map[string]any) (AutoAttackOutcome, error) {
	return r.deaths[unitID], nil
}

func (r *scriptedRules) ResolveAutoAttack(unitID, targetID string, root map[string]any) (AutoAttackOutcome, error) {
	return r.autoAttacks[unitID], nil
}

func (r *scriptedRules) RollOff(p Player) DiceRoll {
	if len(r.rollQueue) == 0 {
		return DiceRoll{Sides: 6, Value: 1, Purpose: "roll_off"}
	}
	v := r.rollQueue[0]
	r.rollQueue = r.rollQueue[1:]
	return DiceRoll{Sides: 6, Value: v, Purpose: "roll_off"}
}

func (r *scriptedRules) EligibleTargets(unitID string, root map[string]any) ([]string, error) {
	shooter, err := UnitFromState(root, unitID)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, u := range AllUnits(root) {
		if u.Owner != shooter.Owner && u.Status == UnitDeployed && !u.IsDestroyed() {
			out = append(out, u.ID)
		}
	}
	return out, nil
}
