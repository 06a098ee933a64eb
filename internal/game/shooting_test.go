package game

import (
	"testing"

	"github.com/openwargame/wargame-server-go/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type shootingHarness struct {
	t     *testing.T
	phase *ShootingPhase
	rules *scriptedRules
	ctx   TurnContext
}

func newShootingHarness(t *testing.T, tree map[string]any) *shootingHarness {
	rules := newScriptedRules()
	phase := NewShootingPhase(&flatMeasure{}, rules, zaptest.NewLogger(t))
	ctx := TurnContext{Turn: 1, ActivePlayer: Player1, EngagementRange: 1.0}
	if _, err := phase.Enter(tree, ctx); err != nil {
		t.Fatalf("entering shooting phase: %v", err)
	}
	return &shootingHarness{t: t, phase: phase, rules: rules, ctx: ctx}
}

func (h *shootingHarness) Submit(action Action) ActionResult {
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

func (h *shootingHarness) Reject(action Action) []string {
	h.t.Helper()
	res := h.phase.ValidateAction(h.ctx, action)
	if res.Valid {
		h.t.Fatalf("action %s unexpectedly valid", action.ActionType())
	}
	return res.Errors
}

// shootingTree: one shooter with a gun, one distant enemy, plus a melee pair
// locked in combat.
func shootingTree() map[string]any {
	return BuildTree(
		UnitSpec{ID: "shooter", Owner: Player1, Models: 2, At: Point{X: 0, Y: 0}, Weapons: []string{"gun"}},
		UnitSpec{ID: "target", Owner: Player2, Models: 3, At: Point{X: 0, Y: 12}},
		UnitSpec{ID: "brawler", Owner: Player1, At: Point{X: 20, Y: 0}, Weapons: []string{"gun"}},
		UnitSpec{ID: "grappler", Owner: Player2, At: Point{X: 20, Y: 0.8}},
	)
}

func TestShootingEligibility(t *testing.T) {
	h := newShootingHarness(t, shootingTree())
	h.rules.AddWeapon("gun", true, 24)

	// Engaged units cannot shoot.
	reasons := h.Reject(SelectShooter{Player: Player1, UnitID: "brawler"})
	assert.Contains(t, reasons[0], "engagement range")

	// Units without ranged weapons cannot shoot.
	reasons = h.Reject(SelectShooter{Player: Player2, UnitID: "target"})
	assert.NotEmpty(t, reasons)

	// Only the active player shoots.
	reasons = h.Reject(SelectShooter{Player: Player2, UnitID: "grappler"})
	assert.Contains(t, reasons[0], "active player")

	res := h.phase.ValidateAction(h.ctx, SelectShooter{Player: Player1, UnitID: "shooter"})
	assert.True(t, res.Valid)
}

func TestShootingHasShotPersists(t *testing.T) {
	tree := BuildTree(
		UnitSpec{ID: "spent", Owner: Player1, At: Point{X: 0, Y: 0}, Weapons: []string{"gun"},
			Effects: map[string]any{"has_shot": true}},
		UnitSpec{ID: "target", Owner: Player2, At: Point{X: 0, Y: 12}},
	)
	h := newShootingHarness(t, tree)
	h.rules.AddWeapon("gun", true, 24)

	reasons := h.Reject(SelectShooter{Player: Player1, UnitID: "spent"})
	assert.Contains(t, reasons[0], "already shot")
}

func TestShootingFastFlow(t *testing.T) {
	h := newShootingHarness(t, shootingTree())
	h.rules.AddWeapon("gun", true, 24)
	h.rules.ScriptWounds("gun", "target", 2, 4)

	result := h.Submit(SelectShooter{Player: Player1, UnitID: "shooter"})
	pause := result.Flow.(FlowAwaitingInput)
	assert.Equal(t, InputAssignAttacks, pause.Kind)

	h.Submit(AssignTarget{Player: Player1, UnitID: "shooter", WeaponID: "gun", TargetID: "target", ModelCount: 2})

	// A single merged assignment confirms without an ordering decision.
	result = h.Submit(ConfirmTargets{Player: Player1, UnitID: "shooter"})
	_, isContinue := result.Flow.(FlowContinue)
	assert.True(t, isContinue)
	assert.Nil(t, result.Metadata["weapon_order_required"])

	result = h.Submit(ResolveShooting{Player: Player1, UnitID: "shooter"})
	pause = result.Flow.(FlowAwaitingInput)
	require.Equal(t, InputSaveRolls, pause.Kind)
	assert.Equal(t, Player2, pause.Player)
	assert.Equal(t, 2, pause.Payload["wounds"])

	result = h.Submit(ApplySaves{Player: Player2, Saves: []SaveRoll{{Value: 5}, {Value: 2}}})
	_, complete := result.Flow.(FlowComplete)
	assert.True(t, complete)

	target, err := UnitFromState(h.phase.mirror.Root(), "target")
	require.NoError(t, err)
	assert.Len(t, target.AliveModels(), 2)

	shooter, err := UnitFromState(h.phase.mirror.Root(), "shooter")
	require.NoError(t, err)
	assert.True(t, shooter.Effects.HasShot)

	// Spent units cannot be selected again.
	reasons := h.Reject(SelectShooter{Player: Player1, UnitID: "shooter"})
	assert.Contains(t, reasons[0], "already shot")
}

func TestShootingSequentialWithReorder(t *testing.T) {
	tree := BuildTree(
		UnitSpec{ID: "shooter", Owner: Player1, Models: 3, At: Point{X: 0, Y: 0},
			Weapons: []string{"gun", "launcher", "pistol"}},
		UnitSpec{ID: "target", Owner: Player2, Models: 4, At: Point{X: 0, Y: 12}},
	)
	h := newShootingHarness(t, tree)
	h.rules.AddWeapon("gun", true, 24)
	h.rules.AddWeapon("launcher", true, 36)
	h.rules.AddWeapon("pistol", true, 12)
	h.rules.ScriptWounds("gun", "target", 0, 0)
	h.rules.ScriptWounds("launcher", "target", 1, 5)
	h.rules.ScriptWounds("pistol", "target", 0, 0)

	h.Submit(SelectShooter{Player: Player1, UnitID: "shooter"})
	h.Submit(AssignTarget{Player: Player1, UnitID: "shooter", WeaponID: "gun", TargetID: "target", ModelCount: 1})
	h.Submit(AssignTarget{Player: Player1, UnitID: "shooter", WeaponID: "launcher", TargetID: "target", ModelCount: 1})
	h.Submit(AssignTarget{Player: Player1, UnitID: "shooter", WeaponID: "pistol", TargetID: "target", ModelCount: 1})

	result := h.Submit(ConfirmTargets{Player: Player1, UnitID: "shooter"})
	require.True(t, result.Metadata["weapon_order_required"].(bool))
	pause := result.Flow.(FlowAwaitingInput)
	assert.Equal(t, InputWeaponOrder, pause.Kind)

	result = h.Submit(ResolveShooting{Player: Player1, UnitID: "shooter",
		Mode:        ResolutionSequential,
		WeaponOrder: []string{"gun->target", "launcher->target", "pistol->target"}})
	// The zero-wound gun still pauses for review.
	require.True(t, result.Metadata["sequential_pause"].(bool))
	assert.Equal(t, []string{"launcher->target", "pistol->target"}, result.Metadata["remaining_weapons"].([]string))

	// The remaining tail may be reordered; an order naming resolved weapons is
	// rejected.
	reasons := h.Reject(ContinueSequence{Player: Player1, Reorder: []string{"gun->target", "pistol->target"}})
	assert.NotEmpty(t, reasons)

	result = h.Submit(ContinueSequence{Player: Player1, Reorder: []string{"pistol->target", "launcher->target"}})
	require.True(t, result.Metadata["sequential_pause"].(bool))
	assert.Equal(t, []string{"launcher->target"}, result.Metadata["remaining_weapons"].([]string))

	result = h.Submit(ContinueSequence{Player: Player1})
	pause = result.Flow.(FlowAwaitingInput)
	require.Equal(t, InputSaveRolls, pause.Kind)

	result = h.Submit(ApplySaves{Player: Player2, Saves: []SaveRoll{{Value: 6}}})
	_, complete := result.Flow.(FlowComplete)
	assert.True(t, complete)
}

func TestShootingSkipSpendsUnit(t *testing.T) {
	h := newShootingHarness(t, shootingTree())
	h.rules.AddWeapon("gun", true, 24)

	result := h.Submit(SkipUnit{Player: Player1, UnitID: "shooter"})
	_, complete := result.Flow.(FlowComplete)
	assert.True(t, complete)

	reasons := h.Reject(SelectShooter{Player: Player1, UnitID: "shooter"})
	assert.Contains(t, reasons[0], "already shot")
}

func TestShootingTargetMustBeEligible(t *testing.T) {
	h := newShootingHarness(t, shootingTree())
	h.rules.AddWeapon("gun", true, 24)

	h.Submit(SelectShooter{Player: Player1, UnitID: "shooter"})
	// Friendly units are never eligible targets.
	reasons := h.Reject(AssignTarget{Player: Player1, UnitID: "shooter",
		WeaponID: "gun", TargetID: "brawler", ModelCount: 1})
	assert.Contains(t, reasons[0], "not an eligible target")
}

func TestShootingEndBlockedMidActivation(t *testing.T) {
	h := newShootingHarness(t, shootingTree())
	h.rules.AddWeapon("gun", true, 24)

	h.Submit(SelectShooter{Player: Player1, UnitID: "shooter"})
	reasons := h.Reject(EndShooting{Player: Player1})
	assert.Contains(t, reasons[0], "still shooting")

	h.Submit(SkipUnit{Player: Player1, UnitID: "shooter"})
	res := h.phase.ValidateAction(h.ctx, EndShooting{Player: Player1})
	assert.True(t, res.Valid)
}

func TestShootingStaleResolutionDiscarded(t *testing.T) {
	h := newShootingHarness(t, shootingTree())
	h.ctx.DebugMode = true
	h.rules.AddWeapon("gun", true, 24)
	h.rules.ScriptWounds("gun", "target", 2, 4)

	h.Submit(SelectShooter{Player: Player1, UnitID: "shooter"})
	h.Submit(AssignTarget{Player: Player1, UnitID: "shooter", WeaponID: "gun", TargetID: "target", ModelCount: 2})
	h.Submit(ConfirmTargets{Player: Player1, UnitID: "shooter"})
	result := h.Submit(ResolveShooting{Player: Player1, UnitID: "shooter"})
	require.Equal(t, InputSaveRolls, result.Flow.(FlowAwaitingInput).Kind)

	// A sandbox override destroys the target while saves are suspended.
	h.Submit(DebugSetState{Player: Player1, Diffs: []state.Diff{
		state.Set(unitField("target", "status"), string(UnitDestroyed)),
	}})

	saves := ApplySaves{Player: Player2, Saves: []SaveRoll{{Value: 5}, {Value: 2}}}
	result = h.phase.ProcessAction(h.ctx, saves)
	require.False(t, result.Success)
	assert.Contains(t, result.Error, "destroyed")
	assert.Nil(t, h.phase.current, "the stale activation is dropped, not resumed")
}
