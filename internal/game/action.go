package game

import "github.com/openwargame/wargame-server-go/internal/state"

// ActionType names every player intent the engine understands.
type ActionType string

const (
	// Fight phase
	ActionSelectFighter      ActionType = "SELECT_FIGHTER"
	ActionSkipUnit           ActionType = "SKIP_UNIT"
	ActionAnswerChallenge    ActionType = "ANSWER_EPIC_CHALLENGE"
	ActionChooseStance       ActionType = "CHOOSE_STANCE"
	ActionCounterOffensive   ActionType = "USE_COUNTER_OFFENSIVE"
	ActionPileIn             ActionType = "PILE_IN"
	ActionAssignAttacks      ActionType = "ASSIGN_ATTACKS"
	ActionConfirmAndResolve  ActionType = "CONFIRM_AND_RESOLVE_ATTACKS"
	ActionApplySaves         ActionType = "APPLY_SAVES"
	ActionContinueSequence   ActionType = "CONTINUE_SEQUENCE"
	ActionConsolidate        ActionType = "CONSOLIDATE"
	ActionEndFight           ActionType = "END_FIGHT"

	// Shooting phase
	ActionSelectShooter   ActionType = "SELECT_SHOOTER"
	ActionAssignTarget    ActionType = "ASSIGN_TARGET"
	ActionConfirmTargets  ActionType = "CONFIRM_TARGETS"
	ActionResolveShooting ActionType = "RESOLVE_SHOOTING"
	ActionEndShooting     ActionType = "END_SHOOTING"

	// Pre-battle phases
	ActionRollOff    ActionType = "ROLL_OFF"
	ActionDeployUnit ActionType = "DEPLOY_UNIT"
	ActionScoutMove  ActionType = "SCOUT_MOVE"
	ActionEndScout   ActionType = "END_SCOUT"

	// Sandbox
	ActionDebugSetState ActionType = "DEBUG_SET_STATE"
)

// Action is one player intent. The concrete type carries exactly the fields
// that action needs; there is no generic payload map.
type Action interface {
	ActionType() ActionType
	ActingPlayer() Player
}

// ModelMove is a proposed new position for one model.
type ModelMove struct {
	ModelID  string  `json:"model_id"`
	To       Point   `json:"to"`
	Rotation float64 `json:"rotation"`
}

// AttackAssignment maps one weapon to one enemy target. Assignments with the
// same weapon and target merge into a single entry with summed model counts.
type AttackAssignment struct {
	WeaponID   string `json:"weapon_id"`
	TargetID   string `json:"target_id"`
	ModelCount int    `json:"model_count"`
}

// Key identifies the merged weapon/target pairing.
func (a AttackAssignment) Key() string { return a.WeaponID + "->" + a.TargetID }

// SaveRoll is one defender save die supplied from outside the engine.
type SaveRoll struct {
	Value  int  `json:"value"`
	Passed bool `json:"passed"`
}

// --- fight phase actions ---

type SelectFighter struct {
	Player Player `json:"player"`
	UnitID string `json:"unit_id"`
}

func (a SelectFighter) ActionType() ActionType { return ActionSelectFighter }
func (a SelectFighter) ActingPlayer() Player   { return a.Player }

type SkipUnit struct {
	Player Player `json:"player"`
	UnitID string `json:"unit_id"`
}

func (a SkipUnit) ActionType() ActionType { return ActionSkipUnit }
func (a SkipUnit) ActingPlayer() Player   { return a.Player }

// AnswerChallenge is the opponent's response to an Epic Challenge interrupt.
type AnswerChallenge struct {
	Player Player `json:"player"`
	Accept bool   `json:"accept"`
	// TargetID is the opposing character unit that steps forward when the
	// challenge is accepted.
	TargetID string `json:"target_id,omitempty"`
}

func (a AnswerChallenge) ActionType() ActionType { return ActionAnswerChallenge }
func (a AnswerChallenge) ActingPlayer() Player   { return a.Player }

type ChooseStance struct {
	Player Player `json:"player"`
	UnitID string `json:"unit_id"`
	Stance Stance `json:"stance"`
}

func (a ChooseStance) ActionType() ActionType { return ActionChooseStance }
func (a ChooseStance) ActingPlayer() Player   { return a.Player }

// CounterOffensive interrupts the alternation so the acting player's unit
// fights next. Costs command points; once per battle per player.
type CounterOffensive struct {
	Player Player `json:"player"`
	UnitID string `json:"unit_id"`
}

func (a CounterOffensive) ActionType() ActionType { return ActionCounterOffensive }
func (a CounterOffensive) ActingPlayer() Player   { return a.Player }

type PileIn struct {
	Player Player      `json:"player"`
	UnitID string      `json:"unit_id"`
	Moves  []ModelMove `json:"moves"`
}

func (a PileIn) ActionType() ActionType { return ActionPileIn }
func (a PileIn) ActingPlayer() Player   { return a.Player }

type AssignAttacks struct {
	Player      Player             `json:"player"`
	UnitID      string             `json:"unit_id"`
	Assignments []AttackAssignment `json:"assignments"`
}

func (a AssignAttacks) ActionType() ActionType { return ActionAssignAttacks }
func (a AssignAttacks) ActingPlayer() Player   { return a.Player }

type ConfirmAndResolve struct {
	Player Player         `json:"player"`
	UnitID string         `json:"unit_id"`
	Mode   ResolutionMode `json:"mode"`
	// WeaponOrder is required in sequential mode: the keys of the merged
	// assignments in the order they should resolve.
	WeaponOrder []string `json:"weapon_order,omitempty"`
}

func (a ConfirmAndResolve) ActionType() ActionType { return ActionConfirmAndResolve }
func (a ConfirmAndResolve) ActingPlayer() Player   { return a.Player }

// ApplySaves supplies the defender's save dice for the pending save request.
type ApplySaves struct {
	Player Player     `json:"player"`
	Saves  []SaveRoll `json:"saves"`
}

func (a ApplySaves) ActionType() ActionType { return ActionApplySaves }
func (a ApplySaves) ActingPlayer() Player   { return a.Player }

// ContinueSequence acknowledges the current weapon's result in sequential
// mode. Reorder, when present, re-sequences only the not-yet-resolved tail.
type ContinueSequence struct {
	Player  Player   `json:"player"`
	Reorder []string `json:"reorder,omitempty"`
}

func (a ContinueSequence) ActionType() ActionType { return ActionContinueSequence }
func (a ContinueSequence) ActingPlayer() Player   { return a.Player }

type Consolidate struct {
	Player Player      `json:"player"`
	UnitID string      `json:"unit_id"`
	Moves  []ModelMove `json:"moves"`
}

func (a Consolidate) ActionType() ActionType { return ActionConsolidate }
func (a Consolidate) ActingPlayer() Player   { return a.Player }

type EndFight struct {
	Player Player `json:"player"`
}

func (a EndFight) ActionType() ActionType { return ActionEndFight }
func (a EndFight) ActingPlayer() Player   { return a.Player }

// --- shooting phase actions ---

type SelectShooter struct {
	Player Player `json:"player"`
	UnitID string `json:"unit_id"`
}

func (a SelectShooter) ActionType() ActionType { return ActionSelectShooter }
func (a SelectShooter) ActingPlayer() Player   { return a.Player }

type AssignTarget struct {
	Player     Player `json:"player"`
	UnitID     string `json:"unit_id"`
	WeaponID   string `json:"weapon_id"`
	TargetID   string `json:"target_id"`
	ModelCount int    `json:"model_count"`
}

func (a AssignTarget) ActionType() ActionType { return ActionAssignTarget }
func (a AssignTarget) ActingPlayer() Player   { return a.Player }

type ConfirmTargets struct {
	Player Player `json:"player"`
	UnitID string `json:"unit_id"`
}

func (a ConfirmTargets) ActionType() ActionType { return ActionConfirmTargets }
func (a ConfirmTargets) ActingPlayer() Player   { return a.Player }

// ResolveShooting starts dice resolution for a confirmed target set.
type ResolveShooting struct {
	Player      Player         `json:"player"`
	UnitID      string         `json:"unit_id"`
	Mode        ResolutionMode `json:"mode"`
	WeaponOrder []string       `json:"weapon_order,omitempty"`
}

func (a ResolveShooting) ActionType() ActionType { return ActionResolveShooting }
func (a ResolveShooting) ActingPlayer() Player   { return a.Player }

type EndShooting struct {
	Player Player `json:"player"`
}

func (a EndShooting) ActionType() ActionType { return ActionEndShooting }
func (a EndShooting) ActingPlayer() Player   { return a.Player }

// --- pre-battle actions ---

type RollOff struct {
	Player Player `json:"player"`
}

func (a RollOff) ActionType() ActionType { return ActionRollOff }
func (a RollOff) ActingPlayer() Player   { return a.Player }

type DeployUnit struct {
	Player    Player      `json:"player"`
	UnitID    string      `json:"unit_id"`
	Positions []ModelMove `json:"positions"`
}

func (a DeployUnit) ActionType() ActionType { return ActionDeployUnit }
func (a DeployUnit) ActingPlayer() Player   { return a.Player }

type ScoutMove struct {
	Player Player      `json:"player"`
	UnitID string      `json:"unit_id"`
	Moves  []ModelMove `json:"moves"`
}

func (a ScoutMove) ActionType() ActionType { return ActionScoutMove }
func (a ScoutMove) ActingPlayer() Player   { return a.Player }

type EndScout struct {
	Player Player `json:"player"`
}

func (a EndScout) ActionType() ActionType { return ActionEndScout }
func (a EndScout) ActingPlayer() Player   { return a.Player }

// DebugSetState applies raw diffs, bypassing phase validation. Only legal
// when the battle was created with sandbox mode enabled.
type DebugSetState struct {
	Player Player       `json:"player"`
	Diffs  []state.Diff `json:"diffs"`
}

func (a DebugSetState) ActionType() ActionType { return ActionDebugSetState }
func (a DebugSetState) ActingPlayer() Player   { return a.Player }

// MergeAssignments collapses duplicate weapon/target pairs by summing their
// model counts, preserving first-seen order.
func MergeAssignments(in []AttackAssignment) []AttackAssignment {
	index := make(map[string]int, len(in))
	out := make([]AttackAssignment, 0, len(in))
	for _, a := range in {
		if i, ok := index[a.Key()]; ok {
			out[i].ModelCount += a.ModelCount
			continue
		}
		index[a.Key()] = len(out)
		out = append(out, a)
	}
	return out
}
