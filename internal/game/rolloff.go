package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// RollOffPhase has both players roll a die; the winner becomes the active
// player. Ties clear both rolls and are re-rolled. Auto-completes once a
// winner is decided.
type RollOffPhase struct {
	logger *zap.Logger
	rules  RulesEngine

	mirror *state.Mirror
	rolls  map[Player]int
	winner Player
}

// NewRollOffPhase composes a roll-off phase.
func NewRollOffPhase(rules RulesEngine, logger *zap.Logger) *RollOffPhase {
	return &RollOffPhase{logger: logger, rules: rules}
}

func (r *RollOffPhase) Name() string { return "ROLL_OFF" }

func (r *RollOffPhase) Enter(snapshot map[string]any, ctx TurnContext) (bool, error) {
	r.mirror = state.NewMirror(snapshot)
	r.rolls = map[Player]int{}
	r.winner = PlayerNone
	return false, nil
}

func (r *RollOffPhase) ValidateAction(ctx TurnContext, action Action) ValidationResult {
	if res, handled := validateFrontDoor(ctx, action); handled {
		return res
	}
	a, ok := action.(RollOff)
	if !ok {
		return invalid(fmt.Sprintf("action %s is not part of the roll-off phase", action.ActionType()))
	}
	var reasons []string
	if a.Player != Player1 && a.Player != Player2 {
		reasons = append(reasons, fmt.Sprintf("unknown player %s", a.Player))
	}
	if _, rolled := r.rolls[a.Player]; rolled {
		reasons = append(reasons, fmt.Sprintf("player %s has already rolled", a.Player))
	}
	if r.winner != PlayerNone {
		reasons = append(reasons, "the roll-off is already decided")
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (r *RollOffPhase) ProcessAction(ctx TurnContext, action Action) ActionResult {
	if result, handled := processDebugOverride(r.mirror, action); handled {
		return result
	}
	a, ok := action.(RollOff)
	if !ok {
		return failure(fmt.Sprintf("action %s is not part of the roll-off phase", action.ActionType()))
	}
	roll := r.rules.RollOff(a.Player)
	r.rolls[a.Player] = roll.Value
	result := success(nil).withMeta("dice", []DiceRoll{roll})

	if len(r.rolls) < 2 {
		return result
	}
	if r.rolls[Player1] == r.rolls[Player2] {
		// Tie: both roll again.
		r.rolls = map[Player]int{}
		if r.logger != nil {
			r.logger.Info("roll-off tied, re-rolling")
		}
		return result.withMeta("tie", true)
	}
	r.winner = Player1
	if r.rolls[Player2] > r.rolls[Player1] {
		r.winner = Player2
	}
	diffs := []state.Diff{state.Set("meta.active_player", int(r.winner))}
	if err := r.mirror.Replay(diffs); err != nil {
		return failure(err.Error())
	}
	result.Changes = diffs
	result.Flow = FlowComplete{}
	return result.withMeta("winner", int(r.winner))
}

func (r *RollOffPhase) AvailableActions(ctx TurnContext) []ActionDescriptor {
	var out []ActionDescriptor
	for _, p := range []Player{Player1, Player2} {
		if _, rolled := r.rolls[p]; !rolled && r.winner == PlayerNone {
			out = append(out, ActionDescriptor{Type: ActionRollOff, Player: p})
		}
	}
	return out
}

// ShouldCompletePhase is structural: true once a winner is decided.
func (r *RollOffPhase) ShouldCompletePhase() bool { return r.winner != PlayerNone }

// Reconcile checks the phase mirror against the authoritative snapshot.
func (r *RollOffPhase) Reconcile(authoritative map[string]any) error {
	return r.mirror.Reconcile(authoritative)
}

func (r *RollOffPhase) Exit() error { return nil }
