package game

import (
	"fmt"
	"sort"

	"github.com/openwargame/wargame-server-go/internal/state"
)

// Player identifies one of the two players in a battle.
type Player int

const (
	PlayerNone Player = 0
	Player1    Player = 1
	Player2    Player = 2
)

// Opponent returns the other player.
func (p Player) Opponent() Player {
	switch p {
	case Player1:
		return Player2
	case Player2:
		return Player1
	}
	return PlayerNone
}

func (p Player) String() string {
	if p == PlayerNone {
		return "none"
	}
	return fmt.Sprintf("%d", int(p))
}

// UnitStatus is the deployment lifecycle state of a unit.
type UnitStatus string

const (
	UnitUndeployed UnitStatus = "UNDEPLOYED"
	UnitDeployed   UnitStatus = "DEPLOYED"
	UnitInReserves UnitStatus = "IN_RESERVES"
	UnitDestroyed  UnitStatus = "DESTROYED"
)

// Ability ID constants recognized by the core sequencing logic. Datasheets may
// carry further abilities that only the rules capability interprets.
const (
	abilityFightsFirst    = "FightsFirstAbility"
	abilityEpicChallenger = "EpicChallengerAbility"
	abilityCombatStances  = "CombatStancesAbility"
	abilityDreadFoe       = "DreadFoeAbility"
	abilityDeathThroes    = "DeathThroesAbility"
	abilityScout          = "ScoutAbility"
)

// Point is a tabletop position in inches.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Model is one miniature in a unit. Alive is the unit of casualty granularity.
type Model struct {
	ID       string
	Position Point
	Rotation float64
	BaseMM   float64
	BaseType string
	Alive    bool
	Wounds   int
}

// Effects is the set of named, optional per-unit effect fields. Each field has
// an explicit lifetime; nothing here is a free-form flag bag.
type Effects struct {
	// ChargedThisTurn is set by the charge phase and cleared at end of turn.
	ChargedThisTurn bool
	// ChargeFromIntervention marks a charge granted by a reactive
	// intervention; such units do not qualify for Fights First.
	ChargeFromIntervention bool
	// FightsLast lasts until end of turn.
	FightsLast bool
	// HasFought persists for the rest of the turn once the unit's attacks
	// are spent.
	HasFought bool
	// HasShot persists for the rest of the turn once the unit has shot.
	HasShot bool
	// Stance applies to the current activation only and is cleared when the
	// activation completes.
	Stance Stance
	// ChallengeTarget restricts this activation's attack assignments to one
	// enemy unit. Cleared when the activation completes.
	ChallengeTarget string
	// EpicChallengeUsed is once per battle, flagged at the moment of use.
	EpicChallengeUsed bool
}

// Stance is a combat posture chosen for one activation.
type Stance string

const (
	StanceNone       Stance = ""
	StanceAggressive Stance = "AGGRESSIVE"
	StanceDefensive  Stance = "DEFENSIVE"
)

// Unit is a decoded view of one unit in the world state tree. Views are
// read-only: all mutation happens through diffs.
type Unit struct {
	ID        string
	Owner     Player
	Status    UnitStatus
	Name      string
	Keywords  []string
	Abilities []string
	Weapons   []string
	Models    []Model
	Effects   Effects
}

// HasAbility reports whether the unit's datasheet carries the ability ID.
func (u *Unit) HasAbility(id string) bool {
	for _, a := range u.Abilities {
		if a == id {
			return true
		}
	}
	return false
}

// AliveModels returns the unit's living models.
func (u *Unit) AliveModels() []Model {
	out := make([]Model, 0, len(u.Models))
	for _, m := range u.Models {
		if m.Alive {
			out = append(out, m)
		}
	}
	return out
}

// IsDestroyed reports whether every model in the unit is a casualty.
func (u *Unit) IsDestroyed() bool {
	return len(u.AliveModels()) == 0
}

// Objective is a scoring marker on the table.
type Objective struct {
	ID       string
	Position Point
}

// --- state tree paths ---

func unitPath(id string) string         { return "units." + id }
func unitField(id, field string) string { return "units." + id + "." + field }
func modelField(id string, i int, field string) string {
	return fmt.Sprintf("units.%s.models.%d.%s", id, i, field)
}
func effectField(id, field string) string { return "units." + id + ".effects." + field }
func playerField(p Player, field string) string {
	return fmt.Sprintf("players.%s.%s", p, field)
}

// --- decoding ---

// UnitFromState decodes the unit with the given ID from a state tree.
func UnitFromState(root map[string]any, id string) (*Unit, error) {
	node := state.GetMap(root, unitPath(id))
	if node == nil {
		return nil, fmt.Errorf("unit %q not found", id)
	}
	owner, _ := state.GetInt(node, "owner")
	u := &Unit{
		ID:        id,
		Owner:     Player(owner),
		Status:    UnitStatus(state.GetString(node, "status")),
		Name:      state.GetString(node, "meta.name"),
		Keywords:  stringList(state.GetList(node, "meta.keywords")),
		Abilities: stringList(state.GetList(node, "meta.abilities")),
		Weapons:   stringList(state.GetList(node, "weapons")),
	}
	for _, raw := range state.GetList(node, "models") {
		mnode, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unit %q has a malformed model entry", id)
		}
		x, _ := state.GetFloat(mnode, "position.x")
		y, _ := state.GetFloat(mnode, "position.y")
		rot, _ := state.GetFloat(mnode, "rotation")
		base, _ := state.GetFloat(mnode, "base_mm")
		wounds, _ := state.GetInt(mnode, "wounds")
		u.Models = append(u.Models, Model{
			ID:       state.GetString(mnode, "id"),
			Position: Point{X: x, Y: y},
			Rotation: rot,
			BaseMM:   base,
			BaseType: state.GetString(mnode, "base_type"),
			Alive:    state.GetBool(mnode, "alive"),
			Wounds:   wounds,
		})
	}
	u.Effects = Effects{
		ChargedThisTurn:        state.GetBool(node, "effects.charged_this_turn"),
		ChargeFromIntervention: state.GetBool(node, "effects.charge_from_intervention"),
		FightsLast:             state.GetBool(node, "effects.fights_last"),
		HasFought:              state.GetBool(node, "effects.has_fought"),
		HasShot:                state.GetBool(node, "effects.has_shot"),
		Stance:                 Stance(state.GetString(node, "effects.stance")),
		ChallengeTarget:        state.GetString(node, "effects.challenge_target"),
		EpicChallengeUsed:      state.GetBool(node, "effects.epic_challenge_used"),
	}
	return u, nil
}

// AllUnits decodes every unit in the tree, sorted by ID for determinism.
func AllUnits(root map[string]any) []*Unit {
	units := state.GetMap(root, "units")
	ids := make([]string, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Unit, 0, len(ids))
	for _, id := range ids {
		u, err := UnitFromState(root, id)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Objectives decodes the objective markers from the tree.
func Objectives(root map[string]any) []Objective {
	var out []Objective
	for _, raw := range state.GetList(root, "objectives") {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		x, _ := state.GetFloat(node, "position.x")
		y, _ := state.GetFloat(node, "position.y")
		out = append(out, Objective{
			ID:       state.GetString(node, "id"),
			Position: Point{X: x, Y: y},
		})
	}
	return out
}

// ActivePlayer reads the current turn's active player from the tree.
func ActivePlayer(root map[string]any) Player {
	n, _ := state.GetInt(root, "meta.active_player")
	return Player(n)
}

// CommandPoints reads a player's command point pool.
func CommandPoints(root map[string]any, p Player) int {
	n, _ := state.GetInt(root, playerField(p, "command_points"))
	return n
}

func stringList(raw []any) []string {
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
