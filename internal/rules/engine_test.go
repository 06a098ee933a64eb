package rules

import (
	"math"
	"testing"

	"github.com/openwargame/wargame-server-go/internal/game"
	"github.com/openwargame/wargame-server-go/internal/library"
	"github.com/openwargame/wargame-server-go/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// queueRoller feeds predetermined dice so every combat outcome is exact.
type queueRoller struct {
	t     *testing.T
	queue []int
}

func (r *queueRoller) Roll(sides int) int {
	if len(r.queue) == 0 {
		r.t.Fatalf("dice queue exhausted")
	}
	v := r.queue[0]
	r.queue = r.queue[1:]
	return v
}

// pointMeasure treats models as points, matching how the test trees place
// single-model units.
type pointMeasure struct{}

func (pointMeasure) Distance(a, b game.Model) float64 {
	return math.Hypot(a.Position.X-b.Position.X, a.Position.Y-b.Position.Y)
}

func (m pointMeasure) IsInEngagementRange(a, b game.Model, r float64) bool {
	return m.Distance(a, b) <= r
}

func (pointMeasure) PointInZone(game.Point, []game.Point) bool { return false }
func (pointMeasure) ModelsOverlap(a, b game.Model) bool        { return false }

const testLibraryYAML = `
weapons:
  - id: bolt_rifle
    name: Bolt Rifle
    ranged: true
    range: 24
    attacks: "2"
    skill: 3
    strength: 4
    ap: 1
    damage: "1"
  - id: chainsword
    name: Chainsword
    attacks: "3"
    skill: 3
    strength: 4
    ap: 0
    damage: "1"
  - id: melta
    name: Melta
    ranged: true
    range: 12
    attacks: "1"
    skill: 3
    strength: 9
    ap: 4
    damage: "D6"
`

func newTestEngine(t *testing.T, dice []int) (*Engine, *queueRoller) {
	lib := library.New(zaptest.NewLogger(t))
	require.NoError(t, lib.LoadBytes([]byte(testLibraryYAML)))
	roller := &queueRoller{t: t, queue: dice}
	return NewEngine(lib, pointMeasure{}, roller, zaptest.NewLogger(t)), roller
}

// unitNode builds a minimal unit tree node at a position.
func unitNode(owner int, x, y float64, models, wounds, toughness, save, invuln int) map[string]any {
	list := make([]any, 0, models)
	for i := 0; i < models; i++ {
		list = append(list, map[string]any{
			"id":       "m",
			"position": map[string]any{"x": x + float64(i), "y": y},
			"alive":    true,
			"wounds":   wounds,
		})
	}
	return map[string]any{
		"owner":  owner,
		"status": "DEPLOYED",
		"meta": map[string]any{
			"toughness": toughness,
			"save":      save,
			"invuln":    invuln,
			"wounds":    wounds,
		},
		"models": list,
	}
}

func TestWoundTarget(t *testing.T) {
	cases := []struct {
		s, tgh, want int
	}{
		{8, 4, 2},  // double or more
		{5, 4, 3},  // greater
		{4, 4, 4},  // equal
		{3, 4, 5},  // lower
		{2, 4, 6},  // half or less
		{1, 4, 6},
		{10, 5, 2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, woundTarget(tc.s, tc.tgh), "S%d vs T%d", tc.s, tc.tgh)
	}
}

func TestSaveTarget(t *testing.T) {
	assert.Equal(t, 4, saveTarget(3, 1, 0), "armor degraded by AP")
	assert.Equal(t, 4, saveTarget(2, 4, 4), "invuln beats the degraded armor")
	assert.Equal(t, 3, saveTarget(3, 0, 5), "armor beats a worse invuln")
	assert.Equal(t, 7, saveTarget(6, 3, 0), "targets above 6 are unpassable")
}

func TestResolveUntilWounds(t *testing.T) {
	// bolt_rifle: 2 fixed attacks per model, skill 3, S4 vs T4 wounds on 4+.
	// Hits: 6 (auto-hit) and 1 (auto-miss). Wound: 4.
	engine, roller := newTestEngine(t, []int{6, 1, 4})
	root := map[string]any{
		"units": map[string]any{
			"tgt": unitNode(2, 0, 0, 2, 2, 4, 3, 0),
		},
	}
	res, err := engine.ResolveUntilWounds(game.AttackAssignment{
		WeaponID: "bolt_rifle", TargetID: "tgt", ModelCount: 1,
	}, root)
	require.NoError(t, err)
	assert.Empty(t, roller.queue, "every scripted die is consumed")
	assert.Equal(t, 1, res.Hits)
	assert.Equal(t, 1, res.Wounds)
	require.Len(t, res.SaveData, 1)
	data := res.SaveData[0]
	assert.Equal(t, "tgt", data.TargetUnitID)
	assert.Equal(t, 1, data.Wounds)
	assert.Equal(t, 4, data.SaveTarget, "3+ armor degraded by AP 1")
	assert.Equal(t, "1", data.Damage)
	// Three dice were rolled and all are carried for replay.
	assert.Len(t, res.Dice, 3)
}

func TestResolveUntilWoundsZeroWoundsOmitsSaveData(t *testing.T) {
	engine, _ := newTestEngine(t, []int{1, 1})
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 1, 1, 4, 3, 0)}}
	res, err := engine.ResolveUntilWounds(game.AttackAssignment{
		WeaponID: "bolt_rifle", TargetID: "tgt", ModelCount: 1,
	}, root)
	require.NoError(t, err)
	assert.Zero(t, res.Wounds)
	assert.Empty(t, res.SaveData)
}

func TestApplySaveDamage(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 2, 1, 4, 3, 0)}}
	data := game.SaveData{
		TargetUnitID: "tgt", WeaponID: "bolt_rifle", Wounds: 3, Damage: "1", SaveTarget: 4,
	}
	// 5 passes, 1 always fails, 2 fails: two single-wound models die.
	outcome, err := engine.ApplySaveDamage([]game.SaveRoll{{Value: 5}, {Value: 1}, {Value: 2}}, data, root)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.SavesFailed)
	assert.Equal(t, 2, outcome.Casualties)
	assert.Len(t, outcome.Diffs, 4, "wounds and alive flags for both models")
}

func TestApplySaveDamageUnpassableTarget(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 1, 1, 4, 3, 0)}}
	data := game.SaveData{
		TargetUnitID: "tgt", WeaponID: "bolt_rifle", Wounds: 1, Damage: "1", SaveTarget: 7,
	}
	outcome, err := engine.ApplySaveDamage([]game.SaveRoll{{Value: 6}}, data, root)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.SavesFailed, "a 7+ target cannot be passed even on a 6")
}

func TestApplySaveDamageRollsVariableDamage(t *testing.T) {
	// Melta damage is D6; the scripted 4 exceeds the 3-wound model: excess
	// is lost, one casualty.
	engine, roller := newTestEngine(t, []int{4})
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 2, 3, 4, 3, 0)}}
	data := game.SaveData{
		TargetUnitID: "tgt", WeaponID: "melta", Wounds: 1, Damage: "D6", SaveTarget: 7,
	}
	outcome, err := engine.ApplySaveDamage([]game.SaveRoll{{Value: 3}}, data, root)
	require.NoError(t, err)
	assert.Empty(t, roller.queue)
	assert.Equal(t, 1, outcome.Casualties)

	require.NoError(t, state.Apply(root, outcome.Diffs))
	u, err := game.UnitFromState(root, "tgt")
	require.NoError(t, err)
	assert.Len(t, u.AliveModels(), 1)
	assert.Equal(t, 3, u.AliveModels()[0].Wounds, "excess damage never spills over")
}

func TestApplySaveDamageWrongRollCount(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 1, 1, 4, 3, 0)}}
	data := game.SaveData{TargetUnitID: "tgt", WeaponID: "bolt_rifle", Wounds: 2, Damage: "1", SaveTarget: 4}
	_, err := engine.ApplySaveDamage([]game.SaveRoll{{Value: 4}}, data, root)
	require.Error(t, err)
}

func TestAllocatorWoundedFirst(t *testing.T) {
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 3, 2, 4, 3, 0)}}
	u, err := game.UnitFromState(root, "tgt")
	require.NoError(t, err)
	// Model 1 is already wounded.
	u.Models[1].Wounds = 1

	alloc := newAllocator(u, 2)
	// The wounded model suffers first and dies.
	assert.True(t, alloc.wound(1))
	assert.False(t, alloc.alive[1])
	// Only then does damage move on to a fresh model.
	assert.False(t, alloc.wound(1))
	assert.Equal(t, 1, alloc.wounds[0])
}

func TestAllocatorMixedProfilesSparesFreshModels(t *testing.T) {
	root := map[string]any{"units": map[string]any{"tgt": unitNode(2, 0, 0, 3, 1, 4, 3, 0)}}
	u, err := game.UnitFromState(root, "tgt")
	require.NoError(t, err)
	// A three-wound leader at full health alongside single-wound troopers.
	// No model is wounded, so no wound characteristic is passed.
	u.Models[0].Wounds = 3

	alloc := newAllocator(u, 0)
	// Damage lands on the first alive model and stays there until it dies; a
	// full-health trooper is never treated as the wounded model just because
	// its profile carries fewer wounds than the leader's.
	assert.False(t, alloc.wound(1))
	assert.Equal(t, 2, alloc.wounds[0])
	assert.False(t, alloc.wound(1))
	assert.True(t, alloc.wound(1))
	assert.False(t, alloc.alive[0])
	assert.Equal(t, 1, alloc.wounds[1], "troopers untouched while the leader stands")
	assert.Equal(t, 1, alloc.wounds[2])
}

func TestResolveAutoAttack(t *testing.T) {
	engine, roller := newTestEngine(t, []int{4, 3, 6})
	root := map[string]any{"units": map[string]any{
		"att": unitNode(1, 0, 0, 3, 1, 4, 3, 0),
		"tgt": unitNode(2, 0, 1, 3, 1, 4, 3, 0),
	}}
	out, err := engine.ResolveAutoAttack("att", "tgt", root)
	require.NoError(t, err)
	assert.Empty(t, roller.queue)
	assert.Len(t, out.Dice, 3)

	require.NoError(t, state.Apply(root, out.Diffs))
	u, err := game.UnitFromState(root, "tgt")
	require.NoError(t, err)
	assert.Len(t, u.AliveModels(), 1, "two dice at 4+ kill two single-wound models")
}

func TestResolveOnDeathInRadius(t *testing.T) {
	// Trigger 5 succeeds; the near enemy takes a scripted D3 of 2; the far
	// enemy is outside the blast.
	engine, roller := newTestEngine(t, []int{5, 2})
	root := map[string]any{"units": map[string]any{
		"bomb": unitNode(1, 0, 0, 1, 1, 4, 3, 0),
		"near": unitNode(2, 0, 2, 1, 3, 4, 3, 0),
		"far":  unitNode(2, 0, 10, 1, 3, 4, 3, 0),
	}}
	out, err := engine.ResolveOnDeath("bomb", root)
	require.NoError(t, err)
	assert.Empty(t, roller.queue)

	require.NoError(t, state.Apply(root, out.Diffs))
	near, err := game.UnitFromState(root, "near")
	require.NoError(t, err)
	assert.Equal(t, 1, near.AliveModels()[0].Wounds)
	far, err := game.UnitFromState(root, "far")
	require.NoError(t, err)
	assert.Equal(t, 3, far.AliveModels()[0].Wounds)
}

func TestResolveOnDeathFizzles(t *testing.T) {
	engine, _ := newTestEngine(t, []int{2})
	root := map[string]any{"units": map[string]any{
		"bomb": unitNode(1, 0, 0, 1, 1, 4, 3, 0),
		"near": unitNode(2, 0, 2, 1, 3, 4, 3, 0),
	}}
	out, err := engine.ResolveOnDeath("bomb", root)
	require.NoError(t, err)
	assert.Empty(t, out.Diffs, "a failed trigger wounds no one")
}

func TestEligibleTargets(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	root := map[string]any{"units": map[string]any{
		"shooter": map[string]any{
			"owner": 1, "status": "DEPLOYED",
			"weapons": []any{"bolt_rifle"},
			"models": []any{map[string]any{
				"id": "s1", "position": map[string]any{"x": 0.0, "y": 0.0},
				"alive": true, "wounds": 1,
			}},
		},
		"near":   unitNode(2, 0, 10, 1, 1, 4, 3, 0),
		"far":    unitNode(2, 0, 40, 1, 1, 4, 3, 0),
		"locked": unitNode(2, 20, 0, 1, 1, 4, 3, 0),
		// A friendly unit in melee with "locked": shooting into that fight
		// is forbidden.
		"friend": unitNode(1, 20, 0.5, 1, 1, 4, 3, 0),
	}}
	targets, err := engine.EligibleTargets("shooter", root)
	require.NoError(t, err)
	assert.Equal(t, []string{"near"}, targets)
}

func TestEligibleTargetsNoRangedWeapons(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	root := map[string]any{"units": map[string]any{
		"brawler": map[string]any{
			"owner": 1, "status": "DEPLOYED",
			"weapons": []any{"chainsword"},
			"models": []any{map[string]any{
				"id": "b1", "position": map[string]any{"x": 0.0, "y": 0.0},
				"alive": true, "wounds": 1,
			}},
		},
		"near": unitNode(2, 0, 5, 1, 1, 4, 3, 0),
	}}
	targets, err := engine.EligibleTargets("brawler", root)
	require.NoError(t, err)
	assert.Empty(t, targets)
}
