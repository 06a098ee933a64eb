package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// FightPhase sequences melee combat: multi-tier alternating activations with
// pile-in, attack assignment, interruptible dice resolution, and
// consolidation. The phase is always manually ended.
type FightPhase struct {
	logger  *zap.Logger
	measure Measurement
	rules   RulesEngine

	pipeline        *ResolutionPipeline
	engagementRange float64

	mirror    *state.Mirror
	sequencer *ActivationSequencer
	current   *Activation
}

// NewFightPhase composes a fight phase from its capability collaborators.
func NewFightPhase(measure Measurement, rules RulesEngine, logger *zap.Logger) *FightPhase {
	return &FightPhase{
		logger:   logger,
		measure:  measure,
		rules:    rules,
		pipeline: NewResolutionPipeline(rules, logger),
	}
}

func (f *FightPhase) Name() string { return "FIGHT" }

// Enter computes the activation tiers from the snapshot. A unit must be
// engaged with an enemy to be eligible at all. Charging units (except those
// whose charge came from a reactive intervention) and fights-first units go
// to FIGHTS_FIRST; fights-last status effects go to FIGHTS_LAST; a unit
// qualifying for both cancels down to NORMAL.
func (f *FightPhase) Enter(snapshot map[string]any, ctx TurnContext) (bool, error) {
	f.mirror = state.NewMirror(snapshot)
	f.engagementRange = ctx.EngagementRange
	f.sequencer = NewActivationSequencer(ctx.ActivePlayer.Opponent(), f.logger)
	f.current = nil

	for _, u := range AllUnits(f.mirror.Root()) {
		if u.Status != UnitDeployed || u.IsDestroyed() {
			continue
		}
		if !isInCombat(f.mirror.Root(), u, f.measure, f.engagementRange) {
			continue
		}
		tier := fightTier(u)
		if err := f.sequencer.Assign(tier, u.Owner, u.ID); err != nil {
			return false, err
		}
	}
	if f.logger != nil {
		f.logger.Info("fight phase entered",
			zap.String("selecting_player", f.sequencer.SelectingPlayer().String()),
		)
	}
	// Manually-completing: even with zero eligible units the phase waits for
	// an explicit END_FIGHT.
	return false, nil
}

// fightTier derives a unit's priority tier from its effect fields.
func fightTier(u *Unit) Tier {
	first := (u.Effects.ChargedThisTurn && !u.Effects.ChargeFromIntervention) ||
		u.HasAbility(abilityFightsFirst)
	last := u.Effects.FightsLast
	switch {
	case first && last:
		return TierNormal
	case first:
		return TierFightsFirst
	case last:
		return TierFightsLast
	}
	return TierNormal
}

// Record exposes the phase's sequencing state.
func (f *FightPhase) Record() ActivationRecord { return f.sequencer.Record() }

// ShouldCompletePhase is always false: ending the fight phase requires an
// explicit END_FIGHT so no player is forced into a transition.
func (f *FightPhase) ShouldCompletePhase() bool { return false }

// Reconcile checks the phase mirror against the authoritative snapshot.
func (f *FightPhase) Reconcile(authoritative map[string]any) error {
	return f.mirror.Reconcile(authoritative)
}

// Exit discards all transient activation state. Pending interactive-save
// state is dropped, never silently completed.
func (f *FightPhase) Exit() error {
	f.current = nil
	return nil
}

// ValidateAction checks one action against the exact expected (player, tier,
// sub-phase, not-yet-activated) state and reports every violated rule.
func (f *FightPhase) ValidateAction(ctx TurnContext, action Action) ValidationResult {
	if res, handled := validateFrontDoor(ctx, action); handled {
		return res
	}
	switch a := action.(type) {
	case SelectFighter:
		return f.validateSelect(a.Player, a.UnitID)
	case SkipUnit:
		return f.validateSkip(a)
	case AnswerChallenge:
		return f.validateActivationAction(a.Player, "", StepAwaitingChallengeAnswer, true)
	case ChooseStance:
		return f.validateActivationAction(a.Player, a.UnitID, StepAwaitingStance, false)
	case CounterOffensive:
		return f.validateCounterOffensive(a)
	case PileIn:
		return f.validatePileIn(a)
	case AssignAttacks:
		return f.validateAssignAttacks(a)
	case ConfirmAndResolve:
		return f.validateConfirm(a)
	case ApplySaves:
		return f.validateApplySaves(a)
	case ContinueSequence:
		return f.validateContinue(a)
	case Consolidate:
		return f.validateConsolidate(a)
	case EndFight:
		return f.validateEndFight(a, ctx)
	default:
		return invalid(fmt.Sprintf("action %s is not part of the fight phase", action.ActionType()))
	}
}

func (f *FightPhase) validateSelect(p Player, unitID string) ValidationResult {
	var reasons []string
	if f.current != nil {
		reasons = append(reasons, fmt.Sprintf("unit %s has an activation in progress", f.current.UnitID))
	}
	reasons = append(reasons, f.sequencer.CanSelect(p, unitID)...)
	if u, err := UnitFromState(f.mirror.Root(), unitID); err != nil {
		reasons = append(reasons, err.Error())
	} else if !isInCombat(f.mirror.Root(), u, f.measure, f.engagementRange) {
		reasons = append(reasons, fmt.Sprintf("unit %s is not within engagement range of any enemy", unitID))
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validateSkip(a SkipUnit) ValidationResult {
	// Skipping an in-progress activation is only legal before dice are
	// rolled; afterwards the activation must be completed.
	if f.current != nil {
		var reasons []string
		if f.current.UnitID != a.UnitID {
			reasons = append(reasons, fmt.Sprintf("unit %s has an activation in progress", f.current.UnitID))
		}
		if f.current.Owner != a.Player {
			reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", f.current.UnitID, a.Player))
		}
		if f.current.Resolution != nil {
			reasons = append(reasons, "dice have been rolled; the activation must be completed")
		}
		if len(reasons) > 0 {
			return invalid(reasons...)
		}
		return valid()
	}
	return f.validateSelect(a.Player, a.UnitID)
}

// validateActivationAction covers the pause-answer actions that must match
// the current activation's exact step. When opponent is true the answer comes
// from the activation owner's opponent.
func (f *FightPhase) validateActivationAction(p Player, unitID string, want ActivationStep, opponent bool) ValidationResult {
	var reasons []string
	if f.current == nil {
		return invalid("no activation in progress")
	}
	if err := f.current.expectStep(want); err != nil {
		reasons = append(reasons, err.Error())
	}
	expected := f.current.Owner
	if opponent {
		expected = f.current.Owner.Opponent()
	}
	if p != expected {
		reasons = append(reasons, fmt.Sprintf("player %s must answer, not player %s", expected, p))
	}
	if unitID != "" && unitID != f.current.UnitID {
		reasons = append(reasons, fmt.Sprintf("activation in progress is for unit %s, not %s", f.current.UnitID, unitID))
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validateCounterOffensive(a CounterOffensive) ValidationResult {
	var reasons []string
	if f.current != nil {
		reasons = append(reasons, "an activation is in progress")
	}
	if sel := f.sequencer.SelectingPlayer(); sel == a.Player {
		reasons = append(reasons, "counter-offensive is only usable when the opponent is selecting")
	}
	if state.GetBool(f.mirror.Root(), playerField(a.Player, "counter_offensive_used")) {
		reasons = append(reasons, "counter-offensive has already been used this battle")
	}
	if cp := CommandPoints(f.mirror.Root(), a.Player); cp < counterOffensiveCost {
		reasons = append(reasons, fmt.Sprintf("counter-offensive costs %d command points, player %s has %d", counterOffensiveCost, a.Player, cp))
	}
	if tier, ok := f.sequencer.TierOf(a.UnitID); !ok {
		reasons = append(reasons, fmt.Sprintf("unit %s is not eligible to fight this phase", a.UnitID))
	} else if current, any := f.sequencer.CurrentTier(); any && tier != current {
		reasons = append(reasons, fmt.Sprintf("unit %s is in tier %s, current tier is %s", a.UnitID, tier, current))
	}
	if f.sequencer.IsActivated(a.UnitID) {
		reasons = append(reasons, fmt.Sprintf("unit %s has already activated this phase", a.UnitID))
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validatePileIn(a PileIn) ValidationResult {
	if res := f.validateActivationAction(a.Player, a.UnitID, StepPileIn, false); !res.Valid {
		return res
	}
	u, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return invalid(err.Error())
	}
	var reasons []string
	reasons = append(reasons, validateBoundedMove(f.mirror.Root(), u, a.Moves, f.measure, pileInCap)...)
	// Pile-in must move toward the nearest enemy: no moved model may end
	// farther from its nearest enemy model than it started. An empty move is
	// a legal no-op.
	reasons = append(reasons, f.validateTowardEnemy(u, a.Moves)...)
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

// validateTowardEnemy checks that each moved model ends no farther from its
// nearest enemy model than it began.
func (f *FightPhase) validateTowardEnemy(u *Unit, moves []ModelMove) []string {
	moved, err := withMoves(u, moves)
	if err != nil {
		return []string{err.Error()}
	}
	before := modelEnemyDistances(f.mirror.Root(), u, f.measure)
	after := modelEnemyDistances(f.mirror.Root(), moved, f.measure)
	var reasons []string
	for _, mv := range moves {
		b, okB := before[mv.ModelID]
		aft, okA := after[mv.ModelID]
		if okB && okA && aft > b+1e-9 {
			reasons = append(reasons, fmt.Sprintf("model %s ends farther from the nearest enemy", mv.ModelID))
		}
	}
	return reasons
}

// modelEnemyDistances maps each alive model of u to its nearest enemy model
// distance.
func modelEnemyDistances(root map[string]any, u *Unit, m Measurement) map[string]float64 {
	out := map[string]float64{}
	for _, mdl := range u.AliveModels() {
		best := -1.0
		for _, other := range AllUnits(root) {
			if other.Owner == u.Owner || other.ID == u.ID || other.IsDestroyed() || other.Status != UnitDeployed {
				continue
			}
			for _, em := range other.AliveModels() {
				if d := m.Distance(mdl, em); best < 0 || d < best {
					best = d
				}
			}
		}
		if best >= 0 {
			out[mdl.ID] = best
		}
	}
	return out
}

func (f *FightPhase) validateAssignAttacks(a AssignAttacks) ValidationResult {
	if res := f.validateActivationAction(a.Player, a.UnitID, StepAssignAttacks, false); !res.Valid {
		return res
	}
	u, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return invalid(err.Error())
	}
	var reasons []string
	if len(a.Assignments) == 0 {
		reasons = append(reasons, "at least one attack assignment is required")
	}
	weapons := map[string]bool{}
	for _, w := range u.Weapons {
		weapons[w] = true
	}
	for _, assign := range a.Assignments {
		if !weapons[assign.WeaponID] {
			reasons = append(reasons, fmt.Sprintf("unit %s does not carry weapon %s", u.ID, assign.WeaponID))
		} else if _, err := f.rules.GetWeaponProfile(assign.WeaponID); err != nil {
			// Collaborator failure folds into validation.
			reasons = append(reasons, fmt.Sprintf("weapon %s: %v", assign.WeaponID, err))
		}
		if assign.ModelCount <= 0 {
			reasons = append(reasons, fmt.Sprintf("assignment %s has no attacking models", assign.Key()))
		}
		target, err := UnitFromState(f.mirror.Root(), assign.TargetID)
		if err != nil {
			reasons = append(reasons, err.Error())
			continue
		}
		if target.Owner == u.Owner {
			reasons = append(reasons, fmt.Sprintf("target %s is a friendly unit", target.ID))
		}
		if !unitsEngaged(u, target, f.measure, f.engagementRange) {
			reasons = append(reasons, fmt.Sprintf("target %s is not within engagement range", target.ID))
		}
		if f.current.ChallengeTarget != "" && assign.TargetID != f.current.ChallengeTarget {
			reasons = append(reasons, fmt.Sprintf("attacks are locked to challenge target %s", f.current.ChallengeTarget))
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validateConfirm(a ConfirmAndResolve) ValidationResult {
	if res := f.validateActivationAction(a.Player, a.UnitID, StepAssignAttacks, false); !res.Valid {
		return res
	}
	var reasons []string
	if len(f.current.Assignments) == 0 {
		reasons = append(reasons, "no attacks have been assigned")
	}
	if f.current.Resolution != nil {
		reasons = append(reasons, "attacks are already resolving")
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validateApplySaves(a ApplySaves) ValidationResult {
	var reasons []string
	if f.current == nil || f.current.Resolution == nil {
		return invalid("no attack resolution in progress")
	}
	rs := f.current.Resolution
	if !rs.AwaitingSaves || len(rs.PendingSaveData) == 0 {
		reasons = append(reasons, "no pending save data")
	}
	if a.Player != rs.DefendingPlayer {
		reasons = append(reasons, fmt.Sprintf("player %s must roll saves, not player %s", rs.DefendingPlayer, a.Player))
	}
	if len(rs.PendingSaveData) > 0 && len(a.Saves) != rs.PendingSaveData[0].Wounds {
		reasons = append(reasons, fmt.Sprintf("save request is for %d wounds, got %d rolls", rs.PendingSaveData[0].Wounds, len(a.Saves)))
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validateContinue(a ContinueSequence) ValidationResult {
	if f.current == nil || f.current.Resolution == nil {
		return invalid("no attack resolution in progress")
	}
	var reasons []string
	rs := f.current.Resolution
	if !rs.AwaitingContinue {
		reasons = append(reasons, "resolution is not paused between weapons")
	}
	if a.Player != f.current.Owner {
		reasons = append(reasons, fmt.Sprintf("player %s must continue, not player %s", f.current.Owner, a.Player))
	}
	if len(a.Reorder) > 0 {
		if err := validateOrder(a.Reorder, rs.RemainingWeapons()); err != nil {
			reasons = append(reasons, err.Error())
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (f *FightPhase) validateConsolidate(a Consolidate) ValidationResult {
	if res := f.validateActivationAction(a.Player, a.UnitID, StepConsolidate, false); !res.Valid {
		return res
	}
	if len(a.Moves) == 0 {
		return valid()
	}
	u, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return invalid(err.Error())
	}
	var reasons []string
	reasons = append(reasons, validateBoundedMove(f.mirror.Root(), u, a.Moves, f.measure, consolidateCap)...)
	// Reachability is judged from the original pre-consolidation positions.
	if engagementReachable(f.mirror.Root(), u, f.measure, consolidateCap, f.engagementRange) {
		moved, err := withMoves(u, a.Moves)
		if err != nil {
			reasons = append(reasons, err.Error())
		} else if !isInCombat(f.mirror.Root(), moved, f.measure, f.engagementRange) {
			reasons = append(reasons, "consolidation must end within engagement range of an enemy when that is reachable")
		}
	} else if obj, ok := nearestObjective(f.mirror.Root(), u); ok {
		moved, err := withMoves(u, a.Moves)
		if err != nil {
			reasons = append(reasons, err.Error())
		} else {
			for _, mv := range a.Moves {
				before := modelByID(u, mv.ModelID)
				after := modelByID(moved, mv.ModelID)
				if before == nil || after == nil {
					continue
				}
				if pointDistance(after.Position, obj.Position) > pointDistance(before.Position, obj.Position)+1e-9 {
					reasons = append(reasons, fmt.Sprintf("model %s must move toward objective %s", mv.ModelID, obj.ID))
				}
			}
		}
	} else {
		reasons = append(reasons, "no engagement or objective is reachable; consolidation movement is not permitted")
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func modelByID(u *Unit, id string) *Model {
	for i := range u.Models {
		if u.Models[i].ID == id {
			return &u.Models[i]
		}
	}
	return nil
}

func (f *FightPhase) validateEndFight(a EndFight, ctx TurnContext) ValidationResult {
	var reasons []string
	if a.Player != ctx.ActivePlayer {
		reasons = append(reasons, fmt.Sprintf("only the active player %s may end the fight phase", ctx.ActivePlayer))
	}
	if f.current != nil {
		reasons = append(reasons, fmt.Sprintf("unit %s has an activation in progress", f.current.UnitID))
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

// ProcessAction assumes ValidateAction passed but still fails closed, with
// zero diffs, when its precondition turns out stale.
func (f *FightPhase) ProcessAction(ctx TurnContext, action Action) ActionResult {
	if result, handled := processDebugOverride(f.mirror, action); handled {
		return result
	}
	switch a := action.(type) {
	case SelectFighter:
		return f.processSelect(a)
	case SkipUnit:
		return f.processSkip(a)
	case AnswerChallenge:
		return f.processAnswerChallenge(a)
	case ChooseStance:
		return f.processChooseStance(a)
	case CounterOffensive:
		return f.processCounterOffensive(a)
	case PileIn:
		return f.processPileIn(a)
	case AssignAttacks:
		return f.processAssignAttacks(a)
	case ConfirmAndResolve:
		return f.processConfirm(a)
	case ApplySaves:
		return f.processApplySaves(a)
	case ContinueSequence:
		return f.processContinue(a)
	case Consolidate:
		return f.processConsolidate(a)
	case EndFight:
		return ActionResult{Success: true, Flow: FlowComplete{}}
	default:
		return failure(fmt.Sprintf("action %s is not part of the fight phase", action.ActionType()))
	}
}

func (f *FightPhase) processSelect(a SelectFighter) ActionResult {
	if f.current != nil {
		return failure("an activation is already in progress")
	}
	if reasons := f.sequencer.CanSelect(a.Player, a.UnitID); len(reasons) > 0 {
		return failure(reasons[0])
	}
	u, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return failure(err.Error())
	}
	act := newActivation(a.UnitID, a.Player)
	act.pendingInterrupts = queueInterrupts(u)
	f.current = act

	out, err := f.runInterrupts(act, f.mirror)
	if err != nil {
		f.current = nil
		return failure(err.Error())
	}
	result := success(out.diffs)
	if len(out.dice) > 0 {
		result = result.withMeta("dice", out.dice)
	}
	if len(out.destroyed) > 0 {
		result = result.withMeta("units_destroyed", out.destroyed)
	}
	if len(out.logs) > 0 {
		result = result.withMeta("log", out.logs)
	}
	if out.pause != nil {
		result.Flow = *out.pause
		return result
	}
	return result.withMeta("trigger_pile_in", true).awaiting(InputPileIn, act.Owner, map[string]any{
		"unit_id": act.UnitID,
	})
}

func (f *FightPhase) processSkip(a SkipUnit) ActionResult {
	if f.current != nil {
		if f.current.UnitID != a.UnitID || f.current.Resolution != nil {
			return failure("activation cannot be skipped")
		}
		f.current = nil
	}
	if err := f.sequencer.MarkActivated(a.UnitID); err != nil {
		return failure(err.Error())
	}
	return ActionResult{Success: true, Flow: FlowComplete{}}
}

func (f *FightPhase) processAnswerChallenge(a AnswerChallenge) ActionResult {
	act := f.current
	if act == nil || act.Step != StepAwaitingChallengeAnswer {
		return failure("no challenge awaiting an answer")
	}
	result, err := f.answerChallenge(act, f.mirror, a)
	if err != nil {
		return failure(err.Error())
	}
	return f.resumeInterrupts(act, result)
}

func (f *FightPhase) processChooseStance(a ChooseStance) ActionResult {
	act := f.current
	if act == nil || act.Step != StepAwaitingStance {
		return failure("no stance choice pending")
	}
	result, err := f.chooseStance(act, f.mirror, a)
	if err != nil {
		return failure(err.Error())
	}
	return f.resumeInterrupts(act, result)
}

// resumeInterrupts continues the interrupt queue after a pause was answered
// and lands on pile-in when the queue drains.
func (f *FightPhase) resumeInterrupts(act *Activation, result ActionResult) ActionResult {
	out, err := f.runInterrupts(act, f.mirror)
	if err != nil {
		return failure(err.Error())
	}
	result.Changes = append(result.Changes, out.diffs...)
	if len(out.dice) > 0 {
		result = result.withMeta("dice", out.dice)
	}
	if len(out.destroyed) > 0 {
		result = result.withMeta("units_destroyed", out.destroyed)
	}
	if out.pause != nil {
		result.Flow = *out.pause
		return result
	}
	return result.withMeta("trigger_pile_in", true).awaiting(InputPileIn, act.Owner, map[string]any{
		"unit_id": act.UnitID,
	})
}

func (f *FightPhase) processCounterOffensive(a CounterOffensive) ActionResult {
	if err := f.sequencer.SetOverride(a.Player, a.UnitID); err != nil {
		return failure(err.Error())
	}
	cp := CommandPoints(f.mirror.Root(), a.Player)
	diffs := []state.Diff{
		state.Set(playerField(a.Player, "command_points"), cp-counterOffensiveCost),
		// Flagged at the moment of use.
		state.Set(playerField(a.Player, "counter_offensive_used"), true),
	}
	if err := f.mirror.Replay(diffs); err != nil {
		return failure(err.Error())
	}
	return success(diffs).withMeta("next_selection_override", a.UnitID)
}

func (f *FightPhase) processPileIn(a PileIn) ActionResult {
	act := f.current
	if act == nil || act.Step != StepPileIn {
		return failure("no pile-in pending")
	}
	u, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return failure(err.Error())
	}
	diffs := moveDiffs(u, a.Moves)
	if err := f.mirror.Replay(diffs); err != nil {
		return failure(err.Error())
	}
	act.Step = StepAssignAttacks
	return success(diffs).awaiting(InputAssignAttacks, act.Owner, map[string]any{
		"unit_id": act.UnitID,
	})
}

func (f *FightPhase) processAssignAttacks(a AssignAttacks) ActionResult {
	act := f.current
	if act == nil || act.Step != StepAssignAttacks {
		return failure("no attack assignment pending")
	}
	act.Assignments = MergeAssignments(a.Assignments)
	return success(nil).withMeta("assignments", assignmentMeta(act.Assignments))
}

func (f *FightPhase) processConfirm(a ConfirmAndResolve) ActionResult {
	act := f.current
	if act == nil || act.Step != StepAssignAttacks || len(act.Assignments) == 0 {
		return failure("no confirmed attack assignments to resolve")
	}
	merged := MergeAssignments(act.Assignments)

	// Two or more distinct weapons need an explicit mode choice; surface the
	// weapon ordering decision instead of guessing.
	if a.Mode == "" && len(merged) >= 2 {
		keys := make([]string, 0, len(merged))
		for _, assign := range merged {
			keys = append(keys, assign.Key())
		}
		return ActionResult{Success: true, Flow: FlowContinue{}}.
			withMeta("weapon_order_required", true).
			withMeta("weapon_order", keys).
			awaiting(InputWeaponOrder, act.Owner, map[string]any{
				"weapons": keys,
			})
	}
	mode := a.Mode
	if mode == "" {
		mode = ResolutionFast
	}
	rs, err := f.pipeline.Begin(act.UnitID, act.Owner.Opponent(), merged, mode, a.WeaponOrder)
	if err != nil {
		return failure(err.Error())
	}
	act.Resolution = rs
	step, err := f.pipeline.ResolveNext(rs, f.mirror)
	if err != nil {
		act.Resolution = nil
		return failure(err.Error())
	}
	return f.pipelineResult(act, step)
}

func (f *FightPhase) processApplySaves(a ApplySaves) ActionResult {
	act := f.current
	if act == nil || act.Resolution == nil {
		return failure("no attack resolution in progress")
	}
	if err := act.Resolution.Revalidate(f.mirror.Root()); err != nil {
		return f.discardStale(act, err)
	}
	step, err := f.pipeline.ApplySaves(act.Resolution, a.Saves, f.mirror)
	if err != nil {
		return failure(err.Error())
	}
	return f.pipelineResult(act, step)
}

func (f *FightPhase) processContinue(a ContinueSequence) ActionResult {
	act := f.current
	if act == nil || act.Resolution == nil {
		return failure("no attack resolution in progress")
	}
	if err := act.Resolution.Revalidate(f.mirror.Root()); err != nil {
		return f.discardStale(act, err)
	}
	step, err := f.pipeline.Continue(act.Resolution, a.Reorder, f.mirror)
	if err != nil {
		return failure(err.Error())
	}
	return f.pipelineResult(act, step)
}

// discardStale abandons a suspended resolution whose participants no longer
// stand on the table. The activation is dropped, never silently completed.
func (f *FightPhase) discardStale(act *Activation, err error) ActionResult {
	act.Resolution = nil
	f.current = nil
	if f.logger != nil {
		f.logger.Warn("stale resolution discarded",
			zap.String("unit_id", act.UnitID),
			zap.Error(err),
		)
	}
	return failure(err.Error())
}

// pipelineResult converts a pipeline step into the phase's action result,
// advancing the activation when the weapon list is exhausted.
func (f *FightPhase) pipelineResult(act *Activation, step PipelineStep) ActionResult {
	result := success(step.Diffs)
	if len(step.Dice) > 0 {
		result = result.withMeta("dice", step.Dice)
	}
	if len(step.Logs) > 0 {
		result = result.withMeta("log", step.Logs)
	}
	if len(step.DestroyedUnits) > 0 {
		result = result.withMeta("units_destroyed", step.DestroyedUnits)
	}
	if step.Summary != nil {
		result = result.withMeta("weapon_summary", *step.Summary)
	}
	switch step.Status {
	case PipelineAwaitingSaves:
		act.Step = StepAwaitingSaves
		req := step.SaveRequest
		return result.awaiting(InputSaveRolls, act.Resolution.DefendingPlayer, map[string]any{
			"target_unit_id": req.TargetUnitID,
			"weapon_id":      req.WeaponID,
			"wounds":         req.Wounds,
			"ap":             req.AP,
			"save_target":    req.SaveTarget,
		})
	case PipelineAwaitingContinue:
		act.Step = StepAwaitingContinue
		result = result.withMeta("sequential_pause", true).
			withMeta("remaining_weapons", act.Resolution.RemainingWeapons())
		return result.awaiting(InputSequentialContinue, act.Owner, map[string]any{
			"remaining_weapons": act.Resolution.RemainingWeapons(),
		})
	default:
		// Weapon list exhausted: spend the unit's attacks and move on to
		// consolidation. The resolution state must not outlive this point.
		completed := act.Resolution.CompletedWeapons
		act.Resolution = nil
		act.Step = StepConsolidate
		diffs := []state.Diff{state.Set(effectField(act.UnitID, "has_fought"), true)}
		if err := f.mirror.Replay(diffs); err != nil {
			return failure(err.Error())
		}
		result.Changes = append(result.Changes, diffs...)
		result = result.withMeta("completed_weapons", completed).withMeta("trigger_consolidate", true)
		return result.awaiting(InputConsolidate, act.Owner, map[string]any{
			"unit_id": act.UnitID,
		})
	}
}

func (f *FightPhase) processConsolidate(a Consolidate) ActionResult {
	act := f.current
	if act == nil || act.Step != StepConsolidate {
		return failure("no consolidation pending")
	}
	u, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return failure(err.Error())
	}
	diffs := moveDiffs(u, a.Moves)
	// Per-activation effects end with the activation.
	if act.Stance != StanceNone {
		diffs = append(diffs, state.Set(effectField(act.UnitID, "stance"), string(StanceNone)))
	}
	if act.ChallengeTarget != "" {
		diffs = append(diffs, state.Set(effectField(act.UnitID, "challenge_target"), ""))
	}
	if err := f.mirror.Replay(diffs); err != nil {
		return failure(err.Error())
	}

	// Re-eligibility scan against the mirrored (not yet committed) positions.
	moved, err := UnitFromState(f.mirror.Root(), a.UnitID)
	if err != nil {
		return failure(err.Error())
	}
	var added []string
	for _, newcomer := range newlyEngagedUnits(f.mirror.Root(), moved, f.measure, f.engagementRange, func(id string) bool {
		_, tracked := f.sequencer.TierOf(id)
		return tracked
	}) {
		if f.sequencer.AddToNormal(newcomer.Owner, newcomer.ID) {
			added = append(added, newcomer.ID)
		}
	}

	if err := f.sequencer.MarkActivated(act.UnitID); err != nil {
		return failure(err.Error())
	}
	f.current = nil

	result := success(diffs)
	if len(added) > 0 {
		result = result.withMeta("newly_eligible", added)
	}
	result.Flow = FlowComplete{}
	return result.withMeta("activation_record", f.sequencer.Record())
}

// AvailableActions enumerates the legal next actions, derived entirely from
// the phase's current state.
func (f *FightPhase) AvailableActions(ctx TurnContext) []ActionDescriptor {
	var out []ActionDescriptor
	if f.current == nil {
		selecting := f.sequencer.SelectingPlayer()
		for _, unitID := range f.sequencer.EligibleUnits(selecting) {
			out = append(out,
				ActionDescriptor{Type: ActionSelectFighter, Player: selecting, UnitID: unitID},
				ActionDescriptor{Type: ActionSkipUnit, Player: selecting, UnitID: unitID},
			)
		}
		opponent := selecting.Opponent()
		if selecting != PlayerNone &&
			!state.GetBool(f.mirror.Root(), playerField(opponent, "counter_offensive_used")) &&
			CommandPoints(f.mirror.Root(), opponent) >= counterOffensiveCost {
			if tier, ok := f.sequencer.CurrentTier(); ok {
				for _, unitID := range f.sequencer.eligibleIn(tier, opponent) {
					out = append(out, ActionDescriptor{Type: ActionCounterOffensive, Player: opponent, UnitID: unitID})
				}
			}
		}
		out = append(out, ActionDescriptor{Type: ActionEndFight, Player: ctx.ActivePlayer})
		return out
	}

	act := f.current
	switch act.Step {
	case StepAwaitingChallengeAnswer:
		out = append(out, ActionDescriptor{Type: ActionAnswerChallenge, Player: act.Owner.Opponent(), UnitID: act.UnitID})
	case StepAwaitingStance:
		out = append(out, ActionDescriptor{Type: ActionChooseStance, Player: act.Owner, UnitID: act.UnitID})
	case StepPileIn:
		out = append(out, ActionDescriptor{Type: ActionPileIn, Player: act.Owner, UnitID: act.UnitID})
		out = append(out, ActionDescriptor{Type: ActionSkipUnit, Player: act.Owner, UnitID: act.UnitID})
	case StepAssignAttacks:
		out = append(out, ActionDescriptor{Type: ActionAssignAttacks, Player: act.Owner, UnitID: act.UnitID})
		if len(act.Assignments) > 0 {
			out = append(out, ActionDescriptor{Type: ActionConfirmAndResolve, Player: act.Owner, UnitID: act.UnitID})
		}
		out = append(out, ActionDescriptor{Type: ActionSkipUnit, Player: act.Owner, UnitID: act.UnitID})
	case StepAwaitingSaves:
		if rs := act.Resolution; rs != nil && len(rs.PendingSaveData) > 0 {
			out = append(out, ActionDescriptor{
				Type:   ActionApplySaves,
				Player: rs.DefendingPlayer,
				UnitID: rs.PendingSaveData[0].TargetUnitID,
				Detail: map[string]any{"wounds": rs.PendingSaveData[0].Wounds},
			})
		}
	case StepAwaitingContinue:
		if rs := act.Resolution; rs != nil {
			out = append(out, ActionDescriptor{
				Type:   ActionContinueSequence,
				Player: act.Owner,
				UnitID: act.UnitID,
				Detail: map[string]any{"remaining_weapons": rs.RemainingWeapons()},
			})
		}
	case StepConsolidate:
		out = append(out, ActionDescriptor{Type: ActionConsolidate, Player: act.Owner, UnitID: act.UnitID})
	}
	return out
}
