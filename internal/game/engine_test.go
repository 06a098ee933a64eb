package game

import (
	"testing"

	"github.com/openwargame/wargame-server-go/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newEngine(t *testing.T, rules *scriptedRules) *BattleEngine {
	return NewBattleEngine(&flatMeasure{}, rules, zaptest.NewLogger(t))
}

func (e *BattleEngine) mustSubmit(t *testing.T, battleID string, action Action) ActionResult {
	t.Helper()
	result, err := e.SubmitAction(battleID, action)
	require.NoError(t, err)
	require.True(t, result.Success, "action %s: %s", action.ActionType(), result.Error)
	return result
}

func (e *BattleEngine) phaseName(t *testing.T, battleID string) string {
	t.Helper()
	name, err := e.PhaseName(battleID)
	require.NoError(t, err)
	return name
}

// progressionTree has every unit already on the table and no scout abilities,
// so deployment and scout auto-complete.
func progressionTree() map[string]any {
	return BuildTree(
		UnitSpec{ID: "alpha", Owner: Player1, At: Point{X: 0, Y: 0}, Weapons: []string{"gun"}},
		UnitSpec{ID: "bravo", Owner: Player2, At: Point{X: 0, Y: 30}, Weapons: []string{"gun"}},
	)
}

func TestEnginePhaseProgression(t *testing.T) {
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	rules.rollQueue = []int{3, 5}
	engine := newEngine(t, rules)

	require.NoError(t, engine.StartBattle("b1", progressionTree(), BattleOptions{}))
	assert.Equal(t, "ROLL_OFF", engine.phaseName(t, "b1"))

	engine.mustSubmit(t, "b1", RollOff{Player: Player1})
	assert.Equal(t, "ROLL_OFF", engine.phaseName(t, "b1"))

	// Player2 wins the roll-off; deployment and scout have nothing to do, so
	// the battle lands in the shooting phase.
	result := engine.mustSubmit(t, "b1", RollOff{Player: Player2})
	assert.Equal(t, 2, result.Metadata["winner"])
	assert.Equal(t, "SHOOTING", engine.phaseName(t, "b1"))

	snap, err := engine.Snapshot("b1")
	require.NoError(t, err)
	assert.Equal(t, Player2, ActivePlayer(snap))

	// Player2's turn: shooting then fight, both manually ended.
	engine.mustSubmit(t, "b1", EndShooting{Player: Player2})
	assert.Equal(t, "FIGHT", engine.phaseName(t, "b1"))
	engine.mustSubmit(t, "b1", EndFight{Player: Player2})

	// Player1 takes the second half of the battle round.
	assert.Equal(t, "SHOOTING", engine.phaseName(t, "b1"))
	snap, err = engine.Snapshot("b1")
	require.NoError(t, err)
	assert.Equal(t, Player1, ActivePlayer(snap))

	engine.mustSubmit(t, "b1", EndShooting{Player: Player1})
	engine.mustSubmit(t, "b1", EndFight{Player: Player1})

	// Both players have had a turn: a new battle round begins.
	snap, err = engine.Snapshot("b1")
	require.NoError(t, err)
	assert.Equal(t, Player2, ActivePlayer(snap))
	turn, _ := state.GetInt(snap, "meta.turn")
	assert.Equal(t, 2, turn)
}

func TestEngineRollOffTie(t *testing.T) {
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	rules.rollQueue = []int{4, 4, 2, 6}
	engine := newEngine(t, rules)
	require.NoError(t, engine.StartBattle("b1", progressionTree(), BattleOptions{}))

	engine.mustSubmit(t, "b1", RollOff{Player: Player1})
	result := engine.mustSubmit(t, "b1", RollOff{Player: Player2})
	assert.Equal(t, true, result.Metadata["tie"])
	assert.Equal(t, "ROLL_OFF", engine.phaseName(t, "b1"))

	engine.mustSubmit(t, "b1", RollOff{Player: Player1})
	result = engine.mustSubmit(t, "b1", RollOff{Player: Player2})
	assert.Equal(t, 2, result.Metadata["winner"])
	assert.Equal(t, "SHOOTING", engine.phaseName(t, "b1"))
}

func TestEngineDeploymentAlternates(t *testing.T) {
	tree := BuildTree(
		UnitSpec{ID: "a1", Owner: Player1, At: Point{X: 0, Y: 0}, Status: UnitUndeployed, Weapons: []string{"gun"}},
		UnitSpec{ID: "d1", Owner: Player2, At: Point{X: 0, Y: 40}, Status: UnitUndeployed, Weapons: []string{"gun"}},
	)
	tree["zones"] = map[string]any{
		"1": []any{
			map[string]any{"x": 0.0, "y": 0.0},
			map[string]any{"x": 20.0, "y": 0.0},
			map[string]any{"x": 20.0, "y": 10.0},
			map[string]any{"x": 0.0, "y": 10.0},
		},
		"2": []any{
			map[string]any{"x": 0.0, "y": 30.0},
			map[string]any{"x": 20.0, "y": 30.0},
			map[string]any{"x": 20.0, "y": 40.0},
			map[string]any{"x": 0.0, "y": 40.0},
		},
	}
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	rules.rollQueue = []int{6, 1}
	engine := newEngine(t, rules)
	require.NoError(t, engine.StartBattle("b1", tree, BattleOptions{}))

	engine.mustSubmit(t, "b1", RollOff{Player: Player1})
	engine.mustSubmit(t, "b1", RollOff{Player: Player2})
	require.Equal(t, "DEPLOYMENT", engine.phaseName(t, "b1"))

	// Player1 won, so Player2 places first.
	result, err := engine.SubmitAction("b1", DeployUnit{Player: Player1, UnitID: "a1",
		Positions: []ModelMove{{ModelID: "a1-m1", To: Point{X: 5, Y: 5}}}})
	require.NoError(t, err)
	assert.False(t, result.Success)

	engine.mustSubmit(t, "b1", DeployUnit{Player: Player2, UnitID: "d1",
		Positions: []ModelMove{{ModelID: "d1-m1", To: Point{X: 5, Y: 35}}}})
	assert.Equal(t, "DEPLOYMENT", engine.phaseName(t, "b1"))

	// The last placement completes the phase; scout auto-skips.
	engine.mustSubmit(t, "b1", DeployUnit{Player: Player1, UnitID: "a1",
		Positions: []ModelMove{{ModelID: "a1-m1", To: Point{X: 5, Y: 5}}}})
	assert.Equal(t, "SHOOTING", engine.phaseName(t, "b1"))

	snap, err := engine.Snapshot("b1")
	require.NoError(t, err)
	a1, err := UnitFromState(snap, "a1")
	require.NoError(t, err)
	assert.Equal(t, UnitDeployed, a1.Status)
	assert.Equal(t, 5.0, a1.Models[0].Position.X)
}

func TestEngineRejectsOutOfPhaseAction(t *testing.T) {
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	rules.rollQueue = []int{3, 5}
	engine := newEngine(t, rules)
	require.NoError(t, engine.StartBattle("b1", progressionTree(), BattleOptions{}))

	result, err := engine.SubmitAction("b1", EndFight{Player: Player1})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Metadata["validation_errors"])
	assert.Equal(t, "ROLL_OFF", engine.phaseName(t, "b1"))

	log, err := engine.Log("b1")
	require.NoError(t, err)
	assert.Zero(t, log.Len(), "rejected actions are never logged")
}

func TestEngineSkipPreGame(t *testing.T) {
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	engine := newEngine(t, rules)

	tree := progressionTree()
	require.NoError(t, engine.StartBattle("b1", tree, BattleOptions{SkipPreGame: true}))
	assert.Equal(t, "SHOOTING", engine.phaseName(t, "b1"))

	snap, err := engine.Snapshot("b1")
	require.NoError(t, err)
	assert.Equal(t, Player1, ActivePlayer(snap))
}

func TestEngineReplayRoundTrip(t *testing.T) {
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	rules.rollQueue = []int{3, 5}
	rules.ScriptWounds("gun", "bravo", 1, 4)
	engine := newEngine(t, rules)

	tree := progressionTree()
	initial := state.Clone(tree)
	require.NoError(t, engine.StartBattle("b1", tree, BattleOptions{}))

	engine.mustSubmit(t, "b1", RollOff{Player: Player1})
	engine.mustSubmit(t, "b1", RollOff{Player: Player2})

	// A full shooting activation so the log carries damage diffs.
	engine.mustSubmit(t, "b1", SelectShooter{Player: Player2, UnitID: "bravo"})
	engine.mustSubmit(t, "b1", SkipUnit{Player: Player2, UnitID: "bravo"})
	engine.mustSubmit(t, "b1", EndShooting{Player: Player2})
	engine.mustSubmit(t, "b1", EndFight{Player: Player2})

	engine.mustSubmit(t, "b1", SelectShooter{Player: Player1, UnitID: "alpha"})
	engine.mustSubmit(t, "b1", AssignTarget{Player: Player1, UnitID: "alpha",
		WeaponID: "gun", TargetID: "bravo", ModelCount: 1})
	engine.mustSubmit(t, "b1", ConfirmTargets{Player: Player1, UnitID: "alpha"})
	engine.mustSubmit(t, "b1", ResolveShooting{Player: Player1, UnitID: "alpha"})
	engine.mustSubmit(t, "b1", ApplySaves{Player: Player2, Saves: []SaveRoll{{Value: 1}}})
	engine.mustSubmit(t, "b1", EndShooting{Player: Player1})
	engine.mustSubmit(t, "b1", EndFight{Player: Player1})

	final, err := engine.Snapshot("b1")
	require.NoError(t, err)
	log, err := engine.Log("b1")
	require.NoError(t, err)
	require.NoError(t, VerifyReplay(initial, final, log.Entries()))

	// The rebuilt tree carries the casualty, not just the checksum match.
	rebuilt, err := Rebuild(initial, log.Entries())
	require.NoError(t, err)
	bravo, err := UnitFromState(rebuilt, "bravo")
	require.NoError(t, err)
	assert.Empty(t, bravo.AliveModels())
	assert.Equal(t, UnitDestroyed, bravo.Status)
}

// driftingPhase mirrors a different value than it reports to the driver,
// simulating a phase whose local state drifts from its committed diffs.
type driftingPhase struct {
	mirror *state.Mirror
}

func (p *driftingPhase) Name() string { return "DRIFTING" }

func (p *driftingPhase) Enter(snapshot map[string]any, ctx TurnContext) (bool, error) {
	p.mirror = state.NewMirror(snapshot)
	return false, nil
}

func (p *driftingPhase) ValidateAction(ctx TurnContext, action Action) ValidationResult {
	return valid()
}

func (p *driftingPhase) ProcessAction(ctx TurnContext, action Action) ActionResult {
	if err := p.mirror.Replay([]state.Diff{state.Set("meta.turn", 1)}); err != nil {
		return failure(err.Error())
	}
	return success([]state.Diff{state.Set("meta.turn", 99)})
}

func (p *driftingPhase) AvailableActions(ctx TurnContext) []ActionDescriptor { return nil }
func (p *driftingPhase) ShouldCompletePhase() bool                           { return false }

func (p *driftingPhase) Reconcile(authoritative map[string]any) error {
	return p.mirror.Reconcile(authoritative)
}

func (p *driftingPhase) Exit() error { return nil }

func TestEngineReconcileCatchesDivergence(t *testing.T) {
	rules := newScriptedRules()
	rules.AddWeapon("gun", true, 24)
	engine := newEngine(t, rules)
	require.NoError(t, engine.StartBattle("b1", progressionTree(), BattleOptions{SkipPreGame: true}))

	b := engine.battles["b1"]
	drift := &driftingPhase{}
	_, err := drift.Enter(b.authority.CreateSnapshot(), b.ctx)
	require.NoError(t, err)
	b.phase = drift

	_, err = engine.SubmitAction("b1", SkipUnit{Player: Player1, UnitID: "alpha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverged")
}
