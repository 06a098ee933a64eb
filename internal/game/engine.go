package game

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// defaultEngagementRange is the canonical engagement distance in inches.
// Battles fought on dense terrain override it to 2.0 at creation.
const defaultEngagementRange = 1.0

// BattleOptions tune one battle at creation time.
type BattleOptions struct {
	// DebugMode enables the sandbox DEBUG_SET_STATE override.
	DebugMode bool
	// EngagementRange overrides the canonical 1" engagement range.
	EngagementRange float64
	// SkipPreGame starts the battle directly in the shooting phase with the
	// active player taken from the initial state. Used by tests and by
	// resumed battles.
	SkipPreGame bool
}

// battlePhaseID indexes the fixed phase progression.
type battlePhaseID int

const (
	phaseRollOff battlePhaseID = iota
	phaseDeployment
	phaseScout
	phaseShooting
	phaseFight
)

// battleState holds everything for one running battle. Actions for a battle
// are strictly serialized by its mutex: exactly one action is validated and
// processed at a time.
type battleState struct {
	mu sync.Mutex

	id        string
	authority *state.Authority
	phase     Phase
	phaseID   battlePhaseID
	ctx       TurnContext
	log       *ActionLog
	// firstPlayer took the first turn of each battle round.
	firstPlayer Player
	started     time.Time
}

// BattleEngine owns every running battle and routes player actions through
// the active phase: validate, process, commit diffs, advance.
type BattleEngine struct {
	logger  *zap.Logger
	measure Measurement
	rules   RulesEngine

	mu      sync.RWMutex
	battles map[string]*battleState
}

// NewBattleEngine wires an engine to its capability collaborators.
func NewBattleEngine(measure Measurement, rules RulesEngine, logger *zap.Logger) *BattleEngine {
	return &BattleEngine{
		logger:  logger,
		measure: measure,
		rules:   rules,
		battles: make(map[string]*battleState),
	}
}

// StartBattle creates a battle over the given initial world state and enters
// the first phase.
func (e *BattleEngine) StartBattle(battleID string, initial map[string]any, opts BattleOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.battles[battleID]; exists {
		return fmt.Errorf("battle %s already exists", battleID)
	}

	rangeInches := opts.EngagementRange
	if rangeInches <= 0 {
		rangeInches = defaultEngagementRange
	}
	b := &battleState{
		id:        battleID,
		authority: state.NewAuthority(initial, e.logger),
		log:       NewActionLog(battleID),
		started:   time.Now(),
	}
	b.ctx = TurnContext{
		Turn:            1,
		DebugMode:       opts.DebugMode,
		EngagementRange: rangeInches,
	}
	b.phaseID = phaseRollOff
	if opts.SkipPreGame {
		b.phaseID = phaseShooting
		b.ctx.ActivePlayer = ActivePlayer(b.authority.CreateSnapshot())
		if b.ctx.ActivePlayer == PlayerNone {
			b.ctx.ActivePlayer = Player1
		}
		b.firstPlayer = b.ctx.ActivePlayer
	}
	b.phase = e.buildPhase(b.phaseID)
	if _, err := e.enterPhase(b); err != nil {
		return err
	}
	e.battles[battleID] = b

	if e.logger != nil {
		e.logger.Info("battle started",
			zap.String("battle_id", battleID),
			zap.String("phase", b.phase.Name()),
			zap.Bool("debug_mode", opts.DebugMode),
		)
	}
	return nil
}

func (e *BattleEngine) buildPhase(id battlePhaseID) Phase {
	switch id {
	case phaseRollOff:
		return NewRollOffPhase(e.rules, e.logger)
	case phaseDeployment:
		return NewDeploymentPhase(e.measure, e.logger)
	case phaseScout:
		return NewScoutPhase(e.measure, e.logger)
	case phaseShooting:
		return NewShootingPhase(e.measure, e.rules, e.logger)
	default:
		return NewFightPhase(e.measure, e.rules, e.logger)
	}
}

// enterPhase enters the battle's current phase, cascading past phases that
// signal immediate completion. It returns any diffs the cascade committed so
// the caller can attach them to the triggering action's log entry.
func (e *BattleEngine) enterPhase(b *battleState) ([]state.Diff, error) {
	var diffs []state.Diff
	for {
		done, err := b.phase.Enter(b.authority.CreateSnapshot(), b.ctx)
		if err != nil {
			return nil, fmt.Errorf("entering phase %s: %w", b.phase.Name(), err)
		}
		if !done && !b.phase.ShouldCompletePhase() {
			return diffs, nil
		}
		d, err := e.advancePhase(b)
		if err != nil {
			return nil, err
		}
		diffs = append(diffs, d...)
	}
}

// advancePhase exits the current phase and moves to the next one. Pre-game
// phases run once; after that shooting and fight alternate per player turn.
// Turn-rotation diffs are committed here and returned for the action log.
func (e *BattleEngine) advancePhase(b *battleState) ([]state.Diff, error) {
	if err := b.phase.Exit(); err != nil {
		return nil, fmt.Errorf("exiting phase %s: %w", b.phase.Name(), err)
	}
	var diffs []state.Diff
	switch b.phaseID {
	case phaseRollOff:
		b.ctx.ActivePlayer = ActivePlayer(b.authority.CreateSnapshot())
		b.firstPlayer = b.ctx.ActivePlayer
		b.phaseID = phaseDeployment
	case phaseDeployment:
		b.phaseID = phaseScout
	case phaseScout:
		b.phaseID = phaseShooting
	case phaseShooting:
		b.phaseID = phaseFight
	case phaseFight:
		// End of a player turn: the opponent takes theirs; after both, a
		// new battle round begins.
		if b.ctx.ActivePlayer == b.firstPlayer {
			b.ctx.ActivePlayer = b.ctx.ActivePlayer.Opponent()
		} else {
			b.ctx.ActivePlayer = b.firstPlayer
			b.ctx.Turn++
		}
		diffs = []state.Diff{
			state.Set("meta.active_player", int(b.ctx.ActivePlayer)),
			state.Set("meta.turn", b.ctx.Turn),
		}
		if err := b.authority.ApplyStateChanges(diffs); err != nil {
			return nil, err
		}
		b.phaseID = phaseShooting
	}
	b.phase = e.buildPhase(b.phaseID)
	if e.logger != nil {
		e.logger.Info("phase advanced",
			zap.String("battle_id", b.id),
			zap.String("phase", b.phase.Name()),
			zap.Int("turn", b.ctx.Turn),
		)
	}
	return diffs, nil
}

// isPhaseEndAction identifies the explicit manual phase-end actions.
func isPhaseEndAction(t ActionType) bool {
	switch t {
	case ActionEndFight, ActionEndShooting, ActionEndScout:
		return true
	}
	return false
}

// SubmitAction validates and processes one action. Invalid actions never
// reach ProcessAction and never mutate state; valid ones have their diffs
// committed to the authority and appended to the battle's action log.
func (e *BattleEngine) SubmitAction(battleID string, action Action) (ActionResult, error) {
	e.mu.RLock()
	b, ok := e.battles[battleID]
	e.mu.RUnlock()
	if !ok {
		return ActionResult{}, fmt.Errorf("battle %s not found", battleID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	validation := b.phase.ValidateAction(b.ctx, action)
	if !validation.Valid {
		if e.logger != nil {
			e.logger.Debug("action rejected",
				zap.String("battle_id", battleID),
				zap.String("action", string(action.ActionType())),
				zap.Strings("reasons", validation.Errors),
			)
		}
		return ActionResult{
			Success: false,
			Error:   strings.Join(validation.Errors, "; "),
			Flow:    FlowContinue{},
			Metadata: map[string]any{
				"validation_errors": validation.Errors,
			},
		}, nil
	}

	phaseName := b.phase.Name()
	result := b.phase.ProcessAction(b.ctx, action)
	if !result.Success {
		return result, nil
	}
	if err := b.authority.ApplyStateChanges(result.Changes); err != nil {
		// A processing/commit mismatch is a driver bug; state stays at the
		// last consistent point.
		return failure(err.Error()), nil
	}
	if err := b.phase.Reconcile(b.authority.CreateSnapshot()); err != nil {
		// Mirror/authority divergence means the phase mutated state it never
		// committed, or vice versa. Surface it instead of playing on.
		if e.logger != nil {
			e.logger.Error("mirror diverged from authority",
				zap.String("battle_id", battleID),
				zap.String("phase", phaseName),
				zap.Error(err),
			)
		}
		return ActionResult{}, fmt.Errorf("reconciling phase %s: %w", phaseName, err)
	}

	if b.phase.ShouldCompletePhase() || isPhaseEndAction(action.ActionType()) {
		advanceDiffs, err := e.advancePhase(b)
		if err != nil {
			return result, err
		}
		enterDiffs, err := e.enterPhase(b)
		if err != nil {
			return result, err
		}
		// Turn-rotation diffs ride on the triggering action's log entry so a
		// rebuild from the log reproduces them.
		result.Changes = append(result.Changes, advanceDiffs...)
		result.Changes = append(result.Changes, enterDiffs...)
		result = result.withMeta("phase", b.phase.Name())
	}
	b.log.Record(phaseName, action, result)
	return result, nil
}

// AvailableActions lists the legal next actions for the battle.
func (e *BattleEngine) AvailableActions(battleID string) ([]ActionDescriptor, error) {
	e.mu.RLock()
	b, ok := e.battles[battleID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("battle %s not found", battleID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase.AvailableActions(b.ctx), nil
}

// Snapshot returns a deep copy of the battle's canonical world state.
func (e *BattleEngine) Snapshot(battleID string) (map[string]any, error) {
	e.mu.RLock()
	b, ok := e.battles[battleID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("battle %s not found", battleID)
	}
	return b.authority.CreateSnapshot(), nil
}

// PhaseName returns the active phase of the battle.
func (e *BattleEngine) PhaseName(battleID string) (string, error) {
	e.mu.RLock()
	b, ok := e.battles[battleID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("battle %s not found", battleID)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase.Name(), nil
}

// Log returns the battle's append-only action log.
func (e *BattleEngine) Log(battleID string) (*ActionLog, error) {
	e.mu.RLock()
	b, ok := e.battles[battleID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("battle %s not found", battleID)
	}
	return b.log, nil
}
