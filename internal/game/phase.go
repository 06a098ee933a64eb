package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
)

// TurnContext carries the per-turn facts every phase operation needs. It is
// passed explicitly into each call; phases never read ambient globals.
type TurnContext struct {
	Turn         int
	ActivePlayer Player
	// DebugMode enables the DEBUG_SET_STATE short circuit.
	DebugMode bool
	// EngagementRange is the canonical engagement distance in inches for
	// this battle (1.0 baseline, 2.0 when terrain rules apply).
	EngagementRange float64
}

// Phase is the contract every game phase implements. One concrete phase is
// active at a time; the driver validates, processes, commits the returned
// diffs, then re-queries available actions.
type Phase interface {
	Name() string
	// Enter adopts a read snapshot and runs phase setup. It returns true
	// when the phase has nothing to do and should complete immediately.
	Enter(snapshot map[string]any, ctx TurnContext) (done bool, err error)
	// ValidateAction is pure: it inspects the action against phase state and
	// the mirrored snapshot and mutates nothing.
	ValidateAction(ctx TurnContext, action Action) ValidationResult
	// ProcessAction assumes validation passed. It computes diffs, advances
	// phase-local transient state, and returns flow metadata.
	ProcessAction(ctx TurnContext, action Action) ActionResult
	// AvailableActions enumerates the legal next actions for whichever
	// player must act, derived entirely from phase state.
	AvailableActions(ctx TurnContext) []ActionDescriptor
	// ShouldCompletePhase reports structural completion. Manually-completing
	// phases always return false and finish via their explicit end action.
	ShouldCompletePhase() bool
	// Reconcile verifies the phase's mirrored state against the authoritative
	// snapshot for every path the phase has touched. The driver calls it
	// after each commit; divergence is a driver bug.
	Reconcile(authoritative map[string]any) error
	// Exit discards transient state. Pending interactive-save state is
	// dropped, never silently completed.
	Exit() error
}

// validateFrontDoor is the universal pre-check shared by every phase: it
// handles the debug override before phase-specific validation runs. The
// second return is true when the action was fully handled here.
func validateFrontDoor(ctx TurnContext, action Action) (ValidationResult, bool) {
	if action == nil {
		return invalid("nil action"), true
	}
	if action.ActionType() == ActionDebugSetState {
		if !ctx.DebugMode {
			return invalid("debug override requires sandbox mode"), true
		}
		return valid(), true
	}
	return ValidationResult{}, false
}

// processDebugOverride applies a sandbox diff batch through the phase mirror.
func processDebugOverride(mirror *state.Mirror, action Action) (ActionResult, bool) {
	dbg, ok := action.(DebugSetState)
	if !ok {
		return ActionResult{}, false
	}
	if err := mirror.Replay(dbg.Diffs); err != nil {
		return failure(fmt.Sprintf("debug override: %v", err)), true
	}
	return success(dbg.Diffs), true
}
