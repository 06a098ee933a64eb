package game

import "github.com/openwargame/wargame-server-go/internal/state"

// ValidationResult lists every rule an action violates. An empty Errors list
// means the action is legal.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func valid() ValidationResult { return ValidationResult{Valid: true} }

func invalid(reasons ...string) ValidationResult {
	return ValidationResult{Valid: false, Errors: reasons}
}

// InputKind names the decision the engine is paused on.
type InputKind string

const (
	InputSaveRolls          InputKind = "save_rolls"
	InputSequentialContinue InputKind = "sequential_continue"
	InputPileIn             InputKind = "pile_in"
	InputAssignAttacks      InputKind = "assign_attacks"
	InputConsolidate        InputKind = "consolidate"
	InputChallengeAnswer    InputKind = "challenge_answer"
	InputStanceChoice       InputKind = "stance_choice"
	InputWeaponOrder        InputKind = "weapon_order"
)

// FlowSignal is the tagged control-flow outcome of processing an action:
// either the phase keeps accepting actions normally, or it is suspended
// waiting for a specific player's input, or the current activation finished.
type FlowSignal interface{ isFlowSignal() }

// FlowContinue means no suspension: the driver should refresh available
// actions and carry on.
type FlowContinue struct{}

func (FlowContinue) isFlowSignal() {}

// FlowAwaitingInput suspends the phase until the named player answers.
type FlowAwaitingInput struct {
	Kind    InputKind      `json:"kind"`
	Player  Player         `json:"player"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (FlowAwaitingInput) isFlowSignal() {}

// FlowComplete means the current activation (or the phase's structural work)
// finished with this action.
type FlowComplete struct{}

func (FlowComplete) isFlowSignal() {}

// ActionResult is what every action handler produces: the ordered diffs to
// commit, an optional error, and flow metadata for the driver.
type ActionResult struct {
	Success bool         `json:"success"`
	Changes []state.Diff `json:"changes,omitempty"`
	Error   string       `json:"error,omitempty"`
	// Flow tells the driver whether the phase is suspended and on whom.
	Flow FlowSignal `json:"-"`
	// Metadata carries driver-facing flags such as dice results, per-weapon
	// summaries, and destroyed-unit notifications. Dice are always included
	// here so replays never re-roll.
	Metadata map[string]any `json:"metadata,omitempty"`
}

func failure(reason string) ActionResult {
	return ActionResult{Success: false, Error: reason, Flow: FlowContinue{}}
}

func success(diffs []state.Diff) ActionResult {
	return ActionResult{Success: true, Changes: diffs, Flow: FlowContinue{}}
}

func (r ActionResult) withMeta(key string, value any) ActionResult {
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	r.Metadata[key] = value
	return r
}

func (r ActionResult) awaiting(kind InputKind, p Player, payload map[string]any) ActionResult {
	r.Flow = FlowAwaitingInput{Kind: kind, Player: p, Payload: payload}
	return r
}

// FlowName renders a flow signal for the wire.
func FlowName(f FlowSignal) map[string]any {
	switch v := f.(type) {
	case FlowAwaitingInput:
		return map[string]any{
			"kind":    "awaiting_input",
			"input":   v.Kind,
			"player":  v.Player,
			"payload": v.Payload,
		}
	case FlowComplete:
		return map[string]any{"kind": "complete"}
	default:
		return map[string]any{"kind": "continue"}
	}
}

// ActionDescriptor advertises one legal next action to the driver.
type ActionDescriptor struct {
	Type   ActionType `json:"type"`
	Player Player     `json:"player"`
	UnitID string     `json:"unit_id,omitempty"`
	// Detail carries descriptor-specific hints (eligible units, pending
	// wound counts, remaining weapons).
	Detail map[string]any `json:"detail,omitempty"`
}
