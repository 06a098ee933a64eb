package server

import (
	"encoding/json"
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/game"
)

// actionEnvelope is the wire form of a player action: the type tag plus the
// concrete action's own fields at the top level.
type actionEnvelope struct {
	Type game.ActionType `json:"type"`
}

func decodeAs[T game.Action](raw []byte, t game.ActionType) (game.Action, error) {
	var a T
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, err)
	}
	return a, nil
}

// DecodeAction turns a wire message into the concrete action for its type.
func DecodeAction(raw []byte) (game.Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding action envelope: %w", err)
	}
	switch env.Type {
	case game.ActionSelectFighter:
		return decodeAs[game.SelectFighter](raw, env.Type)
	case game.ActionSkipUnit:
		return decodeAs[game.SkipUnit](raw, env.Type)
	case game.ActionAnswerChallenge:
		return decodeAs[game.AnswerChallenge](raw, env.Type)
	case game.ActionChooseStance:
		return decodeAs[game.ChooseStance](raw, env.Type)
	case game.ActionCounterOffensive:
		return decodeAs[game.CounterOffensive](raw, env.Type)
	case game.ActionPileIn:
		return decodeAs[game.PileIn](raw, env.Type)
	case game.ActionAssignAttacks:
		return decodeAs[game.AssignAttacks](raw, env.Type)
	case game.ActionConfirmAndResolve:
		return decodeAs[game.ConfirmAndResolve](raw, env.Type)
	case game.ActionApplySaves:
		return decodeAs[game.ApplySaves](raw, env.Type)
	case game.ActionContinueSequence:
		return decodeAs[game.ContinueSequence](raw, env.Type)
	case game.ActionConsolidate:
		return decodeAs[game.Consolidate](raw, env.Type)
	case game.ActionEndFight:
		return decodeAs[game.EndFight](raw, env.Type)
	case game.ActionSelectShooter:
		return decodeAs[game.SelectShooter](raw, env.Type)
	case game.ActionAssignTarget:
		return decodeAs[game.AssignTarget](raw, env.Type)
	case game.ActionConfirmTargets:
		return decodeAs[game.ConfirmTargets](raw, env.Type)
	case game.ActionResolveShooting:
		return decodeAs[game.ResolveShooting](raw, env.Type)
	case game.ActionEndShooting:
		return decodeAs[game.EndShooting](raw, env.Type)
	case game.ActionRollOff:
		return decodeAs[game.RollOff](raw, env.Type)
	case game.ActionDeployUnit:
		return decodeAs[game.DeployUnit](raw, env.Type)
	case game.ActionScoutMove:
		return decodeAs[game.ScoutMove](raw, env.Type)
	case game.ActionEndScout:
		return decodeAs[game.EndScout](raw, env.Type)
	case game.ActionDebugSetState:
		return decodeAs[game.DebugSetState](raw, env.Type)
	default:
		return nil, fmt.Errorf("unknown action type %q", env.Type)
	}
}
