package game

import "github.com/openwargame/wargame-server-go/internal/state"

// Measurement is the geometry capability the core consumes. Implementations
// are shape-aware: distances are edge-to-edge between model bases, not
// center-to-center.
type Measurement interface {
	// Distance returns the edge-to-edge distance between two models in inches.
	Distance(a, b Model) float64
	// IsInEngagementRange reports whether two models are within the given
	// engagement range in inches.
	IsInEngagementRange(a, b Model, rangeInches float64) bool
	// PointInZone reports whether a point lies inside a polygonal zone.
	PointInZone(p Point, zone []Point) bool
	// ModelsOverlap reports whether two model bases overlap.
	ModelsOverlap(a, b Model) bool
}

// DiceRoll is one die rolled by the rules capability. Rolls are carried in
// action results so every participant replays the same outcomes.
type DiceRoll struct {
	Sides   int    `json:"sides"`
	Value   int    `json:"value"`
	Purpose string `json:"purpose"`
}

// SaveData describes one pending save request surfaced to the defender.
type SaveData struct {
	TargetUnitID string `json:"target_unit_id"`
	WeaponID     string `json:"weapon_id"`
	Wounds       int    `json:"wounds"`
	AP           int    `json:"ap"`
	Damage       string `json:"damage"`
	SaveTarget   int    `json:"save_target"`
}

// WoundResolution is the output of rolling one weapon assignment up to, but
// not including, save rolls.
type WoundResolution struct {
	Dice     []DiceRoll `json:"dice"`
	Hits     int        `json:"hits"`
	Wounds   int        `json:"wounds"`
	SaveData []SaveData `json:"save_data,omitempty"`
	Log      string     `json:"log,omitempty"`
}

// SaveOutcome is the result of applying defender save rolls to a pending
// save request: the damage diffs plus casualty accounting.
type SaveOutcome struct {
	Diffs       []state.Diff `json:"diffs,omitempty"`
	SavesFailed int          `json:"saves_failed"`
	Casualties  int          `json:"casualties"`
	Log         string       `json:"log,omitempty"`
}

// AutoAttackOutcome is a self-contained mini-attack resolved without defender
// interaction (the Dread-Foe interrupt).
type AutoAttackOutcome struct {
	Dice  []DiceRoll   `json:"dice,omitempty"`
	Diffs []state.Diff `json:"diffs,omitempty"`
	Log   string       `json:"log,omitempty"`
}

// WeaponProfile is the slice of a datasheet the core needs for sequencing.
// Full combat math stays behind the rules capability.
type WeaponProfile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Ranged  bool    `json:"ranged"`
	Range   float64 `json:"range"`
	Attacks string  `json:"attacks"`
}

// RulesEngine is the combat-math capability the core consumes.
type RulesEngine interface {
	// GetWeaponProfile resolves a weapon ID. Unknown IDs are validation
	// failures for the enclosing action.
	GetWeaponProfile(id string) (WeaponProfile, error)
	// ResolveUntilWounds rolls hits and wounds for one merged assignment and
	// stops at the save boundary so defender input can be collected.
	ResolveUntilWounds(assign AttackAssignment, root map[string]any) (WoundResolution, error)
	// ApplySaveDamage converts defender save rolls plus the pending save
	// request into damage diffs against the given state tree.
	ApplySaveDamage(saves []SaveRoll, data SaveData, root map[string]any) (SaveOutcome, error)
	// ResolveOnDeath resolves a destroyed unit's death ability (chained
	// mortal wounds) against the tree.
	ResolveOnDeath(unitID string, root map[string]any) (AutoAttackOutcome, error)
	// ResolveAutoAttack resolves an interrupt's automatic ranged mini-attack.
	ResolveAutoAttack(unitID, targetID string, root map[string]any) (AutoAttackOutcome, error)
	// RollOff rolls one die for the roll-off phase.
	RollOff(p Player) DiceRoll
	// EligibleTargets lists enemy unit IDs a unit may shoot at.
	EligibleTargets(unitID string, root map[string]any) ([]string, error)
}

// StateAuthority is the canonical world-state owner the driver commits to.
// *state.Authority satisfies it; tests may substitute their own.
type StateAuthority interface {
	ApplyStateChanges(diffs []state.Diff) error
	CreateSnapshot() map[string]any
}
