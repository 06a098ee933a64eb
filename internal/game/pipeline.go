package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// ResolutionMode selects how a confirmed set of attack assignments resolves.
type ResolutionMode string

const (
	// ResolutionFast rolls every weapon's hits and wounds in one batch.
	ResolutionFast ResolutionMode = "fast"
	// ResolutionSequential steps through weapons one at a time, pausing
	// after every weapon for result review.
	ResolutionSequential ResolutionMode = "sequential"
)

// WeaponSummary is the immutable per-weapon record accumulated as weapons
// complete. Completed entries are history and never change.
type WeaponSummary struct {
	WeaponID    string `json:"weapon_id"`
	TargetID    string `json:"target_id"`
	Hits        int    `json:"hits"`
	Wounds      int    `json:"wounds"`
	SavesFailed int    `json:"saves_failed"`
	Casualties  int    `json:"casualties"`
}

// ResolutionState is the per-activation transient dice state. It is created
// when attacks are confirmed and must be discarded when the owning activation
// completes or is skipped.
type ResolutionState struct {
	Mode             ResolutionMode  `json:"mode"`
	AttackerID       string          `json:"attacker_id"`
	DefendingPlayer  Player          `json:"defending_player"`
	WeaponOrder      []string        `json:"weapon_order"`
	CurrentIndex     int             `json:"current_index"`
	CompletedWeapons []WeaponSummary `json:"completed_weapons"`
	AwaitingSaves    bool            `json:"awaiting_saves"`
	AwaitingContinue bool            `json:"awaiting_continue"`
	PendingSaveData  []SaveData      `json:"pending_save_data,omitempty"`

	assignments map[string]AttackAssignment
	// partial tallies for the weapon currently resolving, keyed by
	// assignment key.
	partialHits   map[string]int
	partialWounds map[string]int
}

// RemainingWeapons lists the assignment keys not yet resolved, excluding the
// one currently in flight.
func (rs *ResolutionState) RemainingWeapons() []string {
	start := rs.CurrentIndex + 1
	if start >= len(rs.WeaponOrder) {
		return nil
	}
	return append([]string(nil), rs.WeaponOrder[start:]...)
}

// Done reports whether every weapon has resolved.
func (rs *ResolutionState) Done() bool {
	return rs.CurrentIndex >= len(rs.WeaponOrder) && !rs.AwaitingSaves && !rs.AwaitingContinue
}

// Revalidate checks a restored resolution state against the current tree: the
// attacker must still be a live deployed unit and every assignment must still
// reference live units. A stale state must be discarded, not resumed.
func (rs *ResolutionState) Revalidate(root map[string]any) error {
	attacker, err := UnitFromState(root, rs.AttackerID)
	if err != nil {
		return fmt.Errorf("resolution attacker: %w", err)
	}
	if attacker.Status != UnitDeployed || attacker.IsDestroyed() {
		return fmt.Errorf("resolution attacker %s is no longer an active fighter", rs.AttackerID)
	}
	for _, a := range rs.assignments {
		target, err := UnitFromState(root, a.TargetID)
		if err != nil {
			return fmt.Errorf("resolution target: %w", err)
		}
		if target.Status == UnitDestroyed {
			return fmt.Errorf("resolution target %s is destroyed", a.TargetID)
		}
	}
	return nil
}

// PipelineStatus tags the outcome of one pipeline step.
type PipelineStatus int

const (
	// PipelineAwaitingSaves suspends until the defender supplies save rolls.
	PipelineAwaitingSaves PipelineStatus = iota
	// PipelineAwaitingContinue suspends until the attacker confirms the
	// current weapon's result.
	PipelineAwaitingContinue
	// PipelineDone means the weapon list is exhausted.
	PipelineDone
)

// PipelineStep is what one pipeline advance produced: diffs to commit, the
// dice that were rolled (carried to all participants for replay), and the
// suspension point reached.
type PipelineStep struct {
	Status         PipelineStatus
	Diffs          []state.Diff
	Dice           []DiceRoll
	SaveRequest    *SaveData
	Summary        *WeaponSummary
	DestroyedUnits []string
	Logs           []string
}

// ResolutionPipeline turns confirmed weapon/target assignments into dice
// outcomes with interactive save pauses. The fight and shooting phases share
// one pipeline instance each.
type ResolutionPipeline struct {
	rules  RulesEngine
	logger *zap.Logger
}

// NewResolutionPipeline wires a pipeline to the rules capability.
func NewResolutionPipeline(rules RulesEngine, logger *zap.Logger) *ResolutionPipeline {
	return &ResolutionPipeline{rules: rules, logger: logger}
}

// Begin validates the mode choice and creates the resolution state.
// Sequential mode requires at least two distinct weapon/target assignments;
// a single assignment always resolves in one pass.
func (p *ResolutionPipeline) Begin(attackerID string, defender Player, assignments []AttackAssignment, mode ResolutionMode, order []string) (*ResolutionState, error) {
	if len(assignments) == 0 {
		return nil, fmt.Errorf("no attack assignments to resolve")
	}
	merged := MergeAssignments(assignments)
	byKey := make(map[string]AttackAssignment, len(merged))
	keys := make([]string, 0, len(merged))
	for _, a := range merged {
		byKey[a.Key()] = a
		keys = append(keys, a.Key())
	}

	if len(merged) < 2 {
		mode = ResolutionFast
	}
	switch mode {
	case ResolutionFast:
		order = keys
	case ResolutionSequential:
		if err := validateOrder(order, keys); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown resolution mode %q", mode)
	}

	return &ResolutionState{
		Mode:            mode,
		AttackerID:      attackerID,
		DefendingPlayer: defender,
		WeaponOrder:     order,
		assignments:     byKey,
		partialHits:     map[string]int{},
		partialWounds:   map[string]int{},
	}, nil
}

// validateOrder requires order to be a permutation of keys.
func validateOrder(order, keys []string) error {
	if len(order) != len(keys) {
		return fmt.Errorf("weapon order has %d entries, expected %d", len(order), len(keys))
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if !want[k] {
			return fmt.Errorf("weapon order entry %q does not match an assignment", k)
		}
		if seen[k] {
			return fmt.Errorf("weapon order repeats entry %q", k)
		}
		seen[k] = true
	}
	return nil
}

// ResolveNext rolls the current weapon (or, in fast mode, every weapon) up to
// the save boundary and returns the suspension point.
func (p *ResolutionPipeline) ResolveNext(rs *ResolutionState, mirror *state.Mirror) (PipelineStep, error) {
	if rs == nil {
		return PipelineStep{}, fmt.Errorf("no resolution in progress")
	}
	if rs.AwaitingSaves || rs.AwaitingContinue {
		return PipelineStep{}, fmt.Errorf("resolution is suspended awaiting input")
	}
	if rs.Mode == ResolutionFast {
		return p.resolveFastBatch(rs, mirror)
	}
	return p.resolveCurrentWeapon(rs, mirror)
}

// resolveFastBatch rolls hits and wounds for every assignment in one pass.
// Zero-wound weapons complete immediately; any caused wounds queue save
// requests answered one at a time.
func (p *ResolutionPipeline) resolveFastBatch(rs *ResolutionState, mirror *state.Mirror) (PipelineStep, error) {
	step := PipelineStep{}
	for _, key := range rs.WeaponOrder {
		assign := rs.assignments[key]
		res, err := p.rules.ResolveUntilWounds(assign, mirror.Root())
		if err != nil {
			return PipelineStep{}, fmt.Errorf("resolving %s: %w", key, err)
		}
		step.Dice = append(step.Dice, res.Dice...)
		if res.Log != "" {
			step.Logs = append(step.Logs, res.Log)
		}
		rs.partialHits[key] = res.Hits
		rs.partialWounds[key] = res.Wounds
		if res.Wounds == 0 || len(res.SaveData) == 0 {
			rs.CompletedWeapons = append(rs.CompletedWeapons, WeaponSummary{
				WeaponID: assign.WeaponID,
				TargetID: assign.TargetID,
				Hits:     res.Hits,
			})
			continue
		}
		rs.PendingSaveData = append(rs.PendingSaveData, res.SaveData...)
	}
	rs.CurrentIndex = len(rs.WeaponOrder)
	if len(rs.PendingSaveData) == 0 {
		step.Status = PipelineDone
		return step, nil
	}
	rs.AwaitingSaves = true
	step.Status = PipelineAwaitingSaves
	step.SaveRequest = &rs.PendingSaveData[0]
	return step, nil
}

// resolveCurrentWeapon rolls one weapon in sequential mode. A zero-wound
// result still pauses for explicit attacker confirmation so result review is
// never skipped.
func (p *ResolutionPipeline) resolveCurrentWeapon(rs *ResolutionState, mirror *state.Mirror) (PipelineStep, error) {
	if rs.CurrentIndex >= len(rs.WeaponOrder) {
		return PipelineStep{Status: PipelineDone}, nil
	}
	key := rs.WeaponOrder[rs.CurrentIndex]
	assign := rs.assignments[key]
	res, err := p.rules.ResolveUntilWounds(assign, mirror.Root())
	if err != nil {
		return PipelineStep{}, fmt.Errorf("resolving %s: %w", key, err)
	}
	step := PipelineStep{Dice: res.Dice}
	if res.Log != "" {
		step.Logs = append(step.Logs, res.Log)
	}
	rs.partialHits[key] = res.Hits
	rs.partialWounds[key] = res.Wounds

	if res.Wounds == 0 || len(res.SaveData) == 0 {
		summary := WeaponSummary{
			WeaponID: assign.WeaponID,
			TargetID: assign.TargetID,
			Hits:     res.Hits,
		}
		rs.CompletedWeapons = append(rs.CompletedWeapons, summary)
		rs.AwaitingContinue = true
		step.Status = PipelineAwaitingContinue
		step.Summary = &summary
		return step, nil
	}

	rs.PendingSaveData = append(rs.PendingSaveData, res.SaveData...)
	rs.AwaitingSaves = true
	step.Status = PipelineAwaitingSaves
	step.SaveRequest = &rs.PendingSaveData[0]
	return step, nil
}

// ApplySaves consumes the first pending save request. Calling it with no
// pending save data fails closed with zero diffs.
func (p *ResolutionPipeline) ApplySaves(rs *ResolutionState, saves []SaveRoll, mirror *state.Mirror) (PipelineStep, error) {
	if rs == nil || !rs.AwaitingSaves || len(rs.PendingSaveData) == 0 {
		return PipelineStep{}, fmt.Errorf("no pending save data to resolve")
	}
	data := rs.PendingSaveData[0]
	if len(saves) != data.Wounds {
		return PipelineStep{}, fmt.Errorf("save request is for %d wounds, got %d rolls", data.Wounds, len(saves))
	}

	outcome, err := p.rules.ApplySaveDamage(saves, data, mirror.Root())
	if err != nil {
		return PipelineStep{}, fmt.Errorf("applying saves: %w", err)
	}
	if err := mirror.Replay(outcome.Diffs); err != nil {
		return PipelineStep{}, fmt.Errorf("applying damage diffs: %w", err)
	}

	step := PipelineStep{Diffs: outcome.Diffs}
	if outcome.Log != "" {
		step.Logs = append(step.Logs, outcome.Log)
	}

	key := data.WeaponID + "->" + data.TargetUnitID
	summary := WeaponSummary{
		WeaponID:    data.WeaponID,
		TargetID:    data.TargetUnitID,
		Hits:        rs.partialHits[key],
		Wounds:      rs.partialWounds[key],
		SavesFailed: outcome.SavesFailed,
		Casualties:  outcome.Casualties,
	}
	rs.CompletedWeapons = append(rs.CompletedWeapons, summary)
	step.Summary = &summary
	rs.PendingSaveData = rs.PendingSaveData[1:]

	// Casualties trigger secondary effects before any pause logic resumes.
	deathStep, err := p.HandleDeaths(mirror, nil)
	if err != nil {
		return PipelineStep{}, err
	}
	step.Diffs = append(step.Diffs, deathStep.Diffs...)
	step.Dice = append(step.Dice, deathStep.Dice...)
	step.Logs = append(step.Logs, deathStep.Logs...)
	step.DestroyedUnits = deathStep.DestroyedUnits

	if len(rs.PendingSaveData) > 0 {
		step.Status = PipelineAwaitingSaves
		step.SaveRequest = &rs.PendingSaveData[0]
		return step, nil
	}
	rs.AwaitingSaves = false

	if rs.Mode == ResolutionSequential && rs.CurrentIndex+1 < len(rs.WeaponOrder) {
		rs.AwaitingContinue = true
		step.Status = PipelineAwaitingContinue
		return step, nil
	}
	if rs.Mode == ResolutionSequential {
		rs.CurrentIndex = len(rs.WeaponOrder)
	}
	step.Status = PipelineDone
	return step, nil
}

// Continue acknowledges a sequential pause and advances to the next weapon.
// The reorder, when present, re-sequences only the not-yet-resolved tail.
func (p *ResolutionPipeline) Continue(rs *ResolutionState, reorder []string, mirror *state.Mirror) (PipelineStep, error) {
	if rs == nil || !rs.AwaitingContinue {
		return PipelineStep{}, fmt.Errorf("no sequential pause to continue from")
	}
	remaining := rs.RemainingWeapons()
	if len(reorder) > 0 {
		if err := validateOrder(reorder, remaining); err != nil {
			return PipelineStep{}, fmt.Errorf("reordering remaining weapons: %w", err)
		}
		copy(rs.WeaponOrder[rs.CurrentIndex+1:], reorder)
	}
	rs.AwaitingContinue = false
	rs.CurrentIndex++
	if rs.CurrentIndex >= len(rs.WeaponOrder) {
		return PipelineStep{Status: PipelineDone}, nil
	}
	return p.resolveCurrentWeapon(rs, mirror)
}

// HandleDeaths scans for units newly reduced to zero alive models, flags them
// destroyed (never removed mid-phase), and resolves chained on-death
// abilities. The recursion terminates because each pass only evaluates newly
// destroyed units.
func (p *ResolutionPipeline) HandleDeaths(mirror *state.Mirror, processed map[string]bool) (PipelineStep, error) {
	if processed == nil {
		processed = map[string]bool{}
	}
	step := PipelineStep{Status: PipelineDone}
	for {
		var newlyDead []*Unit
		for _, u := range AllUnits(mirror.Root()) {
			if u.Status == UnitDestroyed || processed[u.ID] {
				continue
			}
			if u.Status == UnitDeployed && u.IsDestroyed() {
				newlyDead = append(newlyDead, u)
			}
		}
		if len(newlyDead) == 0 {
			return step, nil
		}
		for _, u := range newlyDead {
			processed[u.ID] = true
			diffs := []state.Diff{state.Set(unitField(u.ID, "status"), string(UnitDestroyed))}
			if err := mirror.Replay(diffs); err != nil {
				return PipelineStep{}, err
			}
			step.Diffs = append(step.Diffs, diffs...)
			step.DestroyedUnits = append(step.DestroyedUnits, u.ID)
			if p.logger != nil {
				p.logger.Info("unit destroyed", zap.String("unit_id", u.ID))
			}
			if !u.HasAbility(abilityDeathThroes) {
				continue
			}
			outcome, err := p.rules.ResolveOnDeath(u.ID, mirror.Root())
			if err != nil {
				return PipelineStep{}, fmt.Errorf("resolving death ability of %s: %w", u.ID, err)
			}
			if err := mirror.Replay(outcome.Diffs); err != nil {
				return PipelineStep{}, err
			}
			step.Diffs = append(step.Diffs, outcome.Diffs...)
			step.Dice = append(step.Dice, outcome.Dice...)
			if outcome.Log != "" {
				step.Logs = append(step.Logs, outcome.Log)
			}
		}
	}
}
