package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// scoutEnemyBuffer is the minimum distance a scout move must keep from enemy
// models.
const scoutEnemyBuffer = 9.0

// ScoutPhase lets units with the scout ability make one pre-game redeploy
// move. The phase is manually ended; with no scout units it completes at
// entry.
type ScoutPhase struct {
	logger  *zap.Logger
	measure Measurement

	mirror *state.Mirror
	moved  map[string]bool
}

// NewScoutPhase composes a scout phase.
func NewScoutPhase(measure Measurement, logger *zap.Logger) *ScoutPhase {
	return &ScoutPhase{logger: logger, measure: measure}
}

func (s *ScoutPhase) Name() string { return "SCOUT" }

func (s *ScoutPhase) Enter(snapshot map[string]any, ctx TurnContext) (bool, error) {
	s.mirror = state.NewMirror(snapshot)
	s.moved = map[string]bool{}
	return len(s.scoutUnits(Player1)) == 0 && len(s.scoutUnits(Player2)) == 0, nil
}

func (s *ScoutPhase) scoutUnits(p Player) []*Unit {
	var out []*Unit
	for _, u := range AllUnits(s.mirror.Root()) {
		if u.Owner == p && u.Status == UnitDeployed && u.HasAbility(abilityScout) && !s.moved[u.ID] {
			out = append(out, u)
		}
	}
	return out
}

func (s *ScoutPhase) ValidateAction(ctx TurnContext, action Action) ValidationResult {
	if res, handled := validateFrontDoor(ctx, action); handled {
		return res
	}
	switch a := action.(type) {
	case ScoutMove:
		var reasons []string
		u, err := UnitFromState(s.mirror.Root(), a.UnitID)
		if err != nil {
			return invalid(err.Error())
		}
		if u.Owner != a.Player {
			reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", a.UnitID, a.Player))
		}
		if !u.HasAbility(abilityScout) {
			reasons = append(reasons, fmt.Sprintf("unit %s has no scout ability", a.UnitID))
		}
		if s.moved[a.UnitID] {
			reasons = append(reasons, fmt.Sprintf("unit %s has already made its scout move", a.UnitID))
		}
		reasons = append(reasons, validateBoundedMove(s.mirror.Root(), u, a.Moves, s.measure, scoutMoveCap)...)
		if moved, err := withMoves(u, a.Moves); err == nil {
			if dist, ok := nearestEnemyDistance(s.mirror.Root(), moved, s.measure); ok && dist < scoutEnemyBuffer {
				reasons = append(reasons, fmt.Sprintf("scout move must end at least %.0f\" from enemy models", scoutEnemyBuffer))
			}
		}
		if len(reasons) > 0 {
			return invalid(reasons...)
		}
		return valid()
	case EndScout:
		if a.Player != ctx.ActivePlayer {
			return invalid(fmt.Sprintf("only the active player %s may end the scout phase", ctx.ActivePlayer))
		}
		return valid()
	default:
		return invalid(fmt.Sprintf("action %s is not part of the scout phase", action.ActionType()))
	}
}

func (s *ScoutPhase) ProcessAction(ctx TurnContext, action Action) ActionResult {
	if result, handled := processDebugOverride(s.mirror, action); handled {
		return result
	}
	switch a := action.(type) {
	case ScoutMove:
		u, err := UnitFromState(s.mirror.Root(), a.UnitID)
		if err != nil {
			return failure(err.Error())
		}
		diffs := moveDiffs(u, a.Moves)
		if err := s.mirror.Replay(diffs); err != nil {
			return failure(err.Error())
		}
		s.moved[a.UnitID] = true
		return success(diffs)
	case EndScout:
		return ActionResult{Success: true, Flow: FlowComplete{}}
	default:
		return failure(fmt.Sprintf("action %s is not part of the scout phase", action.ActionType()))
	}
}

func (s *ScoutPhase) AvailableActions(ctx TurnContext) []ActionDescriptor {
	var out []ActionDescriptor
	for _, p := range []Player{Player1, Player2} {
		for _, u := range s.scoutUnits(p) {
			out = append(out, ActionDescriptor{Type: ActionScoutMove, Player: p, UnitID: u.ID})
		}
	}
	out = append(out, ActionDescriptor{Type: ActionEndScout, Player: ctx.ActivePlayer})
	return out
}

// ShouldCompletePhase is always false: scout moves are optional, so the phase
// waits for an explicit END_SCOUT.
func (s *ScoutPhase) ShouldCompletePhase() bool { return false }

// Reconcile checks the phase mirror against the authoritative snapshot.
func (s *ScoutPhase) Reconcile(authoritative map[string]any) error {
	return s.mirror.Reconcile(authoritative)
}

func (s *ScoutPhase) Exit() error { return nil }
