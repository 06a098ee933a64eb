package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// shooterState tracks the active player's in-flight shooting activation.
// Shooting reuses the resolution pipeline without the multi-tier sequencer:
// there is a single acting player and an unordered unit list.
type shooterState struct {
	UnitID      string
	Owner       Player
	Assignments []AttackAssignment
	Confirmed   bool
	Resolution  *ResolutionState
}

// ShootingPhase sequences per-unit ranged attacks with pausable interactive
// saves. The phase is manually ended.
type ShootingPhase struct {
	logger  *zap.Logger
	measure Measurement
	rules   RulesEngine

	pipeline        *ResolutionPipeline
	engagementRange float64

	mirror  *state.Mirror
	shot    map[string]bool
	current *shooterState
}

// NewShootingPhase composes a shooting phase from its collaborators.
func NewShootingPhase(measure Measurement, rules RulesEngine, logger *zap.Logger) *ShootingPhase {
	return &ShootingPhase{
		logger:   logger,
		measure:  measure,
		rules:    rules,
		pipeline: NewResolutionPipeline(rules, logger),
	}
}

func (s *ShootingPhase) Name() string { return "SHOOTING" }

// Enter adopts the snapshot. Units that already carry the has-shot flag stay
// ineligible after a reload.
func (s *ShootingPhase) Enter(snapshot map[string]any, ctx TurnContext) (bool, error) {
	s.mirror = state.NewMirror(snapshot)
	s.engagementRange = ctx.EngagementRange
	s.shot = map[string]bool{}
	s.current = nil
	for _, u := range AllUnits(s.mirror.Root()) {
		if u.Effects.HasShot {
			s.shot[u.ID] = true
		}
	}
	return false, nil
}

// ShouldCompletePhase is always false: shooting ends via END_SHOOTING.
func (s *ShootingPhase) ShouldCompletePhase() bool { return false }

// Reconcile checks the phase mirror against the authoritative snapshot.
func (s *ShootingPhase) Reconcile(authoritative map[string]any) error {
	return s.mirror.Reconcile(authoritative)
}

// Exit drops the in-flight shooter, including any pending save state.
func (s *ShootingPhase) Exit() error {
	s.current = nil
	return nil
}

// eligibleShooter reports every reason a unit cannot shoot this phase.
func (s *ShootingPhase) eligibleShooter(ctx TurnContext, p Player, unitID string) []string {
	var reasons []string
	if p != ctx.ActivePlayer {
		reasons = append(reasons, fmt.Sprintf("player %s is the active player, not player %s", ctx.ActivePlayer, p))
	}
	u, err := UnitFromState(s.mirror.Root(), unitID)
	if err != nil {
		return append(reasons, err.Error())
	}
	if u.Owner != p {
		reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", unitID, p))
	}
	if u.Status != UnitDeployed || u.IsDestroyed() {
		reasons = append(reasons, fmt.Sprintf("unit %s is not on the table", unitID))
	}
	if s.shot[unitID] {
		reasons = append(reasons, fmt.Sprintf("unit %s has already shot this phase", unitID))
	}
	if isInCombat(s.mirror.Root(), u, s.measure, s.engagementRange) {
		reasons = append(reasons, fmt.Sprintf("unit %s is within engagement range and cannot shoot", unitID))
	}
	ranged := false
	for _, w := range u.Weapons {
		if profile, err := s.rules.GetWeaponProfile(w); err == nil && profile.Ranged {
			ranged = true
			break
		}
	}
	if !ranged {
		reasons = append(reasons, fmt.Sprintf("unit %s has no ranged weapons", unitID))
	}
	return reasons
}

// ValidateAction checks one action and reports every violated rule.
func (s *ShootingPhase) ValidateAction(ctx TurnContext, action Action) ValidationResult {
	if res, handled := validateFrontDoor(ctx, action); handled {
		return res
	}
	switch a := action.(type) {
	case SelectShooter:
		var reasons []string
		if s.current != nil {
			reasons = append(reasons, fmt.Sprintf("unit %s is already shooting", s.current.UnitID))
		}
		reasons = append(reasons, s.eligibleShooter(ctx, a.Player, a.UnitID)...)
		if len(reasons) > 0 {
			return invalid(reasons...)
		}
		return valid()
	case SkipUnit:
		if s.current != nil {
			var reasons []string
			if s.current.UnitID != a.UnitID {
				reasons = append(reasons, fmt.Sprintf("unit %s is already shooting", s.current.UnitID))
			}
			if s.current.Resolution != nil {
				reasons = append(reasons, "dice have been rolled; the shooting must be completed")
			}
			if a.Player != s.current.Owner {
				reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", a.UnitID, a.Player))
			}
			if len(reasons) > 0 {
				return invalid(reasons...)
			}
			return valid()
		}
		if reasons := s.eligibleShooter(ctx, a.Player, a.UnitID); len(reasons) > 0 {
			return invalid(reasons...)
		}
		return valid()
	case AssignTarget:
		return s.validateAssignTarget(a)
	case ConfirmTargets:
		return s.validateConfirmTargets(a)
	case ResolveShooting:
		return s.validateResolve(a)
	case ApplySaves:
		return s.validateApplySaves(a)
	case ContinueSequence:
		return s.validateContinue(a)
	case EndShooting:
		var reasons []string
		if a.Player != ctx.ActivePlayer {
			reasons = append(reasons, fmt.Sprintf("only the active player %s may end the shooting phase", ctx.ActivePlayer))
		}
		if s.current != nil {
			reasons = append(reasons, fmt.Sprintf("unit %s is still shooting", s.current.UnitID))
		}
		if len(reasons) > 0 {
			return invalid(reasons...)
		}
		return valid()
	default:
		return invalid(fmt.Sprintf("action %s is not part of the shooting phase", action.ActionType()))
	}
}

func (s *ShootingPhase) validateShooterAction(p Player, unitID string) []string {
	if s.current == nil {
		return []string{"no unit is shooting"}
	}
	var reasons []string
	if unitID != "" && unitID != s.current.UnitID {
		reasons = append(reasons, fmt.Sprintf("unit %s is shooting, not %s", s.current.UnitID, unitID))
	}
	if p != s.current.Owner {
		reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", s.current.UnitID, p))
	}
	return reasons
}

func (s *ShootingPhase) validateAssignTarget(a AssignTarget) ValidationResult {
	reasons := s.validateShooterAction(a.Player, a.UnitID)
	if s.current != nil && s.current.Confirmed {
		reasons = append(reasons, "targets are already confirmed")
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	u, err := UnitFromState(s.mirror.Root(), a.UnitID)
	if err != nil {
		return invalid(err.Error())
	}
	carries := false
	for _, w := range u.Weapons {
		if w == a.WeaponID {
			carries = true
			break
		}
	}
	if !carries {
		reasons = append(reasons, fmt.Sprintf("unit %s does not carry weapon %s", a.UnitID, a.WeaponID))
	} else if profile, err := s.rules.GetWeaponProfile(a.WeaponID); err != nil {
		reasons = append(reasons, fmt.Sprintf("weapon %s: %v", a.WeaponID, err))
	} else if !profile.Ranged {
		reasons = append(reasons, fmt.Sprintf("weapon %s is not a ranged weapon", a.WeaponID))
	}
	if a.ModelCount <= 0 {
		reasons = append(reasons, "assignment has no attacking models")
	}
	targets, err := s.rules.EligibleTargets(a.UnitID, s.mirror.Root())
	if err != nil {
		reasons = append(reasons, fmt.Sprintf("target query: %v", err))
	} else {
		found := false
		for _, t := range targets {
			if t == a.TargetID {
				found = true
				break
			}
		}
		if !found {
			reasons = append(reasons, fmt.Sprintf("unit %s is not an eligible target", a.TargetID))
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (s *ShootingPhase) validateConfirmTargets(a ConfirmTargets) ValidationResult {
	reasons := s.validateShooterAction(a.Player, a.UnitID)
	if s.current != nil {
		if len(s.current.Assignments) == 0 {
			reasons = append(reasons, "no targets have been assigned")
		}
		if s.current.Confirmed {
			reasons = append(reasons, "targets are already confirmed")
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (s *ShootingPhase) validateResolve(a ResolveShooting) ValidationResult {
	reasons := s.validateShooterAction(a.Player, a.UnitID)
	if s.current != nil {
		if !s.current.Confirmed {
			reasons = append(reasons, "targets must be confirmed before resolving")
		}
		if s.current.Resolution != nil {
			reasons = append(reasons, "shooting is already resolving")
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (s *ShootingPhase) validateApplySaves(a ApplySaves) ValidationResult {
	if s.current == nil || s.current.Resolution == nil {
		return invalid("no shooting resolution in progress")
	}
	rs := s.current.Resolution
	var reasons []string
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

func (s *ShootingPhase) validateContinue(a ContinueSequence) ValidationResult {
	if s.current == nil || s.current.Resolution == nil {
		return invalid("no shooting resolution in progress")
	}
	rs := s.current.Resolution
	var reasons []string
	if !rs.AwaitingContinue {
		reasons = append(reasons, "resolution is not paused between weapons")
	}
	if a.Player != s.current.Owner {
		reasons = append(reasons, fmt.Sprintf("player %s must continue, not player %s", s.current.Owner, a.Player))
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

// ProcessAction assumes validation passed but fails closed on stale state.
func (s *ShootingPhase) ProcessAction(ctx TurnContext, action Action) ActionResult {
	if result, handled := processDebugOverride(s.mirror, action); handled {
		return result
	}
	switch a := action.(type) {
	case SelectShooter:
		if s.current != nil {
			return failure("a unit is already shooting")
		}
		s.current = &shooterState{UnitID: a.UnitID, Owner: a.Player}
		return success(nil).awaiting(InputAssignAttacks, a.Player, map[string]any{
			"unit_id": a.UnitID,
		})
	case SkipUnit:
		if s.current != nil {
			if s.current.UnitID != a.UnitID || s.current.Resolution != nil {
				return failure("shooting cannot be skipped")
			}
			s.current = nil
		}
		s.shot[a.UnitID] = true
		return ActionResult{Success: true, Flow: FlowComplete{}}
	case AssignTarget:
		if s.current == nil || s.current.Confirmed {
			return failure("no target assignment pending")
		}
		s.current.Assignments = MergeAssignments(append(s.current.Assignments, AttackAssignment{
			WeaponID:   a.WeaponID,
			TargetID:   a.TargetID,
			ModelCount: a.ModelCount,
		}))
		return success(nil).withMeta("assignments", assignmentMeta(s.current.Assignments))
	case ConfirmTargets:
		return s.processConfirmTargets(a)
	case ResolveShooting:
		return s.processResolve(a)
	case ApplySaves:
		return s.processApplySaves(a)
	case ContinueSequence:
		return s.processContinue(a)
	case EndShooting:
		return ActionResult{Success: true, Flow: FlowComplete{}}
	default:
		return failure(fmt.Sprintf("action %s is not part of the shooting phase", action.ActionType()))
	}
}

func assignmentMeta(assignments []AttackAssignment) []map[string]any {
	out := make([]map[string]any, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, map[string]any{
			"key":         a.Key(),
			"weapon_id":   a.WeaponID,
			"target_id":   a.TargetID,
			"model_count": a.ModelCount,
		})
	}
	return out
}

func (s *ShootingPhase) processConfirmTargets(a ConfirmTargets) ActionResult {
	sh := s.current
	if sh == nil || len(sh.Assignments) == 0 || sh.Confirmed {
		return failure("no target set to confirm")
	}
	sh.Confirmed = true
	merged := MergeAssignments(sh.Assignments)
	result := success(nil).withMeta("assignments", assignmentMeta(merged))
	if len(merged) >= 2 {
		keys := make([]string, 0, len(merged))
		for _, assign := range merged {
			keys = append(keys, assign.Key())
		}
		result = result.withMeta("weapon_order_required", true).withMeta("weapon_order", keys)
		return result.awaiting(InputWeaponOrder, sh.Owner, map[string]any{
			"weapons": keys,
		})
	}
	return result
}

func (s *ShootingPhase) processResolve(a ResolveShooting) ActionResult {
	sh := s.current
	if sh == nil || !sh.Confirmed || sh.Resolution != nil {
		return failure("no confirmed target set to resolve")
	}
	mode := a.Mode
	if mode == "" {
		mode = ResolutionFast
	}
	rs, err := s.pipeline.Begin(sh.UnitID, sh.Owner.Opponent(), sh.Assignments, mode, a.WeaponOrder)
	if err != nil {
		return failure(err.Error())
	}
	sh.Resolution = rs
	step, err := s.pipeline.ResolveNext(rs, s.mirror)
	if err != nil {
		sh.Resolution = nil
		return failure(err.Error())
	}
	return s.pipelineResult(step)
}

func (s *ShootingPhase) processApplySaves(a ApplySaves) ActionResult {
	sh := s.current
	if sh == nil || sh.Resolution == nil {
		return failure("no shooting resolution in progress")
	}
	if err := sh.Resolution.Revalidate(s.mirror.Root()); err != nil {
		return s.discardStale(sh, err)
	}
	step, err := s.pipeline.ApplySaves(sh.Resolution, a.Saves, s.mirror)
	if err != nil {
		return failure(err.Error())
	}
	return s.pipelineResult(step)
}

func (s *ShootingPhase) processContinue(a ContinueSequence) ActionResult {
	sh := s.current
	if sh == nil || sh.Resolution == nil {
		return failure("no shooting resolution in progress")
	}
	if err := sh.Resolution.Revalidate(s.mirror.Root()); err != nil {
		return s.discardStale(sh, err)
	}
	step, err := s.pipeline.Continue(sh.Resolution, a.Reorder, s.mirror)
	if err != nil {
		return failure(err.Error())
	}
	return s.pipelineResult(step)
}

// discardStale abandons a suspended resolution whose participants no longer
// stand on the table. The shooter's activation is dropped, never silently
// completed.
func (s *ShootingPhase) discardStale(sh *shooterState, err error) ActionResult {
	sh.Resolution = nil
	s.current = nil
	if s.logger != nil {
		s.logger.Warn("stale resolution discarded",
			zap.String("unit_id", sh.UnitID),
			zap.Error(err),
		)
	}
	return failure(err.Error())
}

func (s *ShootingPhase) pipelineResult(step PipelineStep) ActionResult {
	sh := s.current
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
		req := step.SaveRequest
		return result.awaiting(InputSaveRolls, sh.Resolution.DefendingPlayer, map[string]any{
			"target_unit_id": req.TargetUnitID,
			"weapon_id":      req.WeaponID,
			"wounds":         req.Wounds,
			"ap":             req.AP,
			"save_target":    req.SaveTarget,
		})
	case PipelineAwaitingContinue:
		result = result.withMeta("sequential_pause", true).
			withMeta("remaining_weapons", sh.Resolution.RemainingWeapons())
		return result.awaiting(InputSequentialContinue, sh.Owner, map[string]any{
			"remaining_weapons": sh.Resolution.RemainingWeapons(),
		})
	default:
		completed := sh.Resolution.CompletedWeapons
		diffs := []state.Diff{state.Set(effectField(sh.UnitID, "has_shot"), true)}
		if err := s.mirror.Replay(diffs); err != nil {
			return failure(err.Error())
		}
		s.shot[sh.UnitID] = true
		s.current = nil
		result.Changes = append(result.Changes, diffs...)
		result = result.withMeta("completed_weapons", completed)
		result.Flow = FlowComplete{}
		return result
	}
}

// AvailableActions enumerates legal next actions for the acting player.
func (s *ShootingPhase) AvailableActions(ctx TurnContext) []ActionDescriptor {
	var out []ActionDescriptor
	if s.current == nil {
		for _, u := range AllUnits(s.mirror.Root()) {
			if len(s.eligibleShooter(ctx, ctx.ActivePlayer, u.ID)) == 0 {
				out = append(out,
					ActionDescriptor{Type: ActionSelectShooter, Player: ctx.ActivePlayer, UnitID: u.ID},
					ActionDescriptor{Type: ActionSkipUnit, Player: ctx.ActivePlayer, UnitID: u.ID},
				)
			}
		}
		out = append(out, ActionDescriptor{Type: ActionEndShooting, Player: ctx.ActivePlayer})
		return out
	}

	sh := s.current
	if sh.Resolution != nil {
		rs := sh.Resolution
		if rs.AwaitingSaves && len(rs.PendingSaveData) > 0 {
			out = append(out, ActionDescriptor{
				Type:   ActionApplySaves,
				Player: rs.DefendingPlayer,
				UnitID: rs.PendingSaveData[0].TargetUnitID,
				Detail: map[string]any{"wounds": rs.PendingSaveData[0].Wounds},
			})
		}
		if rs.AwaitingContinue {
			out = append(out, ActionDescriptor{
				Type:   ActionContinueSequence,
				Player: sh.Owner,
				UnitID: sh.UnitID,
				Detail: map[string]any{"remaining_weapons": rs.RemainingWeapons()},
			})
		}
		return out
	}
	if !sh.Confirmed {
		out = append(out, ActionDescriptor{Type: ActionAssignTarget, Player: sh.Owner, UnitID: sh.UnitID})
		if len(sh.Assignments) > 0 {
			out = append(out, ActionDescriptor{Type: ActionConfirmTargets, Player: sh.Owner, UnitID: sh.UnitID})
		}
		out = append(out, ActionDescriptor{Type: ActionSkipUnit, Player: sh.Owner, UnitID: sh.UnitID})
		return out
	}
	out = append(out, ActionDescriptor{Type: ActionResolveShooting, Player: sh.Owner, UnitID: sh.UnitID})
	return out
}
