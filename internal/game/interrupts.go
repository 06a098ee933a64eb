package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
)

// counterOffensiveCost is the command point price of the Counter-Offensive
// interrupt.
const counterOffensiveCost = 2

// queueInterrupts builds the ordered interrupt queue for a freshly selected
// unit. Synchronous interrupts run first so their casualties are settled
// before any pause is surfaced.
func queueInterrupts(u *Unit) []InterruptKind {
	var queue []InterruptKind
	if u.HasAbility(abilityDreadFoe) {
		queue = append(queue, InterruptDreadFoe)
	}
	if u.HasAbility(abilityEpicChallenger) && !u.Effects.EpicChallengeUsed {
		queue = append(queue, InterruptEpicChallenge)
	}
	if u.HasAbility(abilityCombatStances) {
		queue = append(queue, InterruptStance)
	}
	return queue
}

// interruptOutcome is what running queued interrupts produced: diffs from
// synchronous interrupts plus, when a pause is needed, the suspension point.
type interruptOutcome struct {
	diffs   []state.Diff
	dice    []DiceRoll
	logs    []string
	destroyed []string
	// pause is nil when every queued interrupt resolved synchronously and
	// the activation may proceed to pile-in.
	pause *FlowAwaitingInput
}

// runInterrupts drains the activation's interrupt queue until it empties or a
// pause is required. On completion or decline of every interrupt, control
// lands at exactly the pile-in step, never skipping or double-entering it.
func (f *FightPhase) runInterrupts(act *Activation, mirror *state.Mirror) (interruptOutcome, error) {
	out := interruptOutcome{}
	for {
		kind := act.nextInterrupt()
		if kind == "" {
			act.Step = StepPileIn
			return out, nil
		}
		switch kind {
		case InterruptDreadFoe:
			diffs, dice, logs, destroyed, err := f.resolveDreadFoe(act, mirror)
			if err != nil {
				return interruptOutcome{}, err
			}
			out.diffs = append(out.diffs, diffs...)
			out.dice = append(out.dice, dice...)
			out.logs = append(out.logs, logs...)
			out.destroyed = append(out.destroyed, destroyed...)
		case InterruptEpicChallenge:
			act.Step = StepAwaitingChallengeAnswer
			out.pause = &FlowAwaitingInput{
				Kind:   InputChallengeAnswer,
				Player: act.Owner.Opponent(),
				Payload: map[string]any{
					"challenger": act.UnitID,
				},
			}
			return out, nil
		case InterruptStance:
			act.Step = StepAwaitingStance
			out.pause = &FlowAwaitingInput{
				Kind:   InputStanceChoice,
				Player: act.Owner,
				Payload: map[string]any{
					"unit_id": act.UnitID,
					"stances": []string{string(StanceAggressive), string(StanceDefensive)},
				},
			}
			return out, nil
		default:
			return interruptOutcome{}, fmt.Errorf("unknown interrupt %q", kind)
		}
	}
}

// resolveDreadFoe fires the automatic ranged mini-attack against the nearest
// engaged enemy. Its casualties run through the kill chain before pile-in.
func (f *FightPhase) resolveDreadFoe(act *Activation, mirror *state.Mirror) ([]state.Diff, []DiceRoll, []string, []string, error) {
	u, err := UnitFromState(mirror.Root(), act.UnitID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	enemies := enemiesInEngagement(mirror.Root(), u, f.measure, f.engagementRange)
	if len(enemies) == 0 {
		return nil, nil, nil, nil, nil
	}
	target := enemies[0]
	outcome, err := f.rules.ResolveAutoAttack(u.ID, target.ID, mirror.Root())
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("dread foe attack: %w", err)
	}
	if err := mirror.Replay(outcome.Diffs); err != nil {
		return nil, nil, nil, nil, err
	}
	diffs := append([]state.Diff(nil), outcome.Diffs...)
	var logs []string
	if outcome.Log != "" {
		logs = append(logs, outcome.Log)
	}
	deaths, err := f.pipeline.HandleDeaths(mirror, nil)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	diffs = append(diffs, deaths.Diffs...)
	logs = append(logs, deaths.Logs...)
	dice := append(append([]DiceRoll(nil), outcome.Dice...), deaths.Dice...)
	return diffs, dice, logs, deaths.DestroyedUnits, nil
}

// answerChallenge handles the opponent's accept/decline. Accepting flags the
// challenger's once-per-battle use immediately and restricts this
// activation's attacks to the answering character unit.
func (f *FightPhase) answerChallenge(act *Activation, mirror *state.Mirror, answer AnswerChallenge) (ActionResult, error) {
	var diffs []state.Diff
	// Flagged at the moment of use so a later activation in the same phase
	// cannot re-trigger it.
	diffs = append(diffs, state.Set(effectField(act.UnitID, "epic_challenge_used"), true))
	if answer.Accept {
		target, err := UnitFromState(mirror.Root(), answer.TargetID)
		if err != nil {
			return ActionResult{}, fmt.Errorf("challenge target: %w", err)
		}
		if target.Owner != answer.Player {
			return ActionResult{}, fmt.Errorf("challenge target %s does not belong to player %s", target.ID, answer.Player)
		}
		act.ChallengeTarget = target.ID
		diffs = append(diffs, state.Set(effectField(act.UnitID, "challenge_target"), target.ID))
	}
	if err := mirror.Replay(diffs); err != nil {
		return ActionResult{}, err
	}
	return success(diffs), nil
}

// chooseStance records the owner's stance for this activation only.
func (f *FightPhase) chooseStance(act *Activation, mirror *state.Mirror, choice ChooseStance) (ActionResult, error) {
	switch choice.Stance {
	case StanceAggressive, StanceDefensive:
	default:
		return ActionResult{}, fmt.Errorf("unknown stance %q", choice.Stance)
	}
	act.Stance = choice.Stance
	diffs := []state.Diff{state.Set(effectField(act.UnitID, "stance"), string(choice.Stance))}
	if err := mirror.Replay(diffs); err != nil {
		return ActionResult{}, err
	}
	return success(diffs), nil
}
