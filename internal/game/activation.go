package game

import "fmt"

// ActivationStep is the per-unit sub-state within a Fight phase activation.
// Steps advance strictly in order; interrupts slot between selection and
// pile-in.
type ActivationStep int

const (
	StepSelected ActivationStep = iota
	StepAwaitingChallengeAnswer
	StepAwaitingStance
	StepPileIn
	StepAssignAttacks
	StepAwaitingSaves
	StepAwaitingContinue
	StepConsolidate
	StepDone
)

var activationStepNames = map[ActivationStep]string{
	StepSelected:                "SELECTED",
	StepAwaitingChallengeAnswer: "AWAITING_CHALLENGE_ANSWER",
	StepAwaitingStance:          "AWAITING_STANCE",
	StepPileIn:                  "PILE_IN",
	StepAssignAttacks:           "ASSIGN_ATTACKS",
	StepAwaitingSaves:           "AWAITING_SAVES",
	StepAwaitingContinue:        "AWAITING_CONTINUE",
	StepConsolidate:             "CONSOLIDATE",
	StepDone:                    "DONE",
}

func (s ActivationStep) String() string {
	if name, ok := activationStepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STEP_%d", int(s))
}

// InterruptKind names the optional one-shot flows that may slot in between
// selection and pile-in.
type InterruptKind string

const (
	// InterruptDreadFoe resolves synchronously: an automatic ranged
	// mini-attack that can cause casualties before pile-in.
	InterruptDreadFoe InterruptKind = "DREAD_FOE"
	// InterruptEpicChallenge pauses for the opponent's accept/decline.
	InterruptEpicChallenge InterruptKind = "EPIC_CHALLENGE"
	// InterruptStance pauses for the owner's stance choice.
	InterruptStance InterruptKind = "STANCE"
)

// Activation tracks one unit's progress through the fight sub-flow. It is
// transient: created on selection, discarded when the unit is marked
// activated or skipped.
type Activation struct {
	UnitID string
	Owner  Player
	Step   ActivationStep

	// pendingInterrupts is the ordered queue of interrupts still to run
	// before pile-in.
	pendingInterrupts []InterruptKind

	// Assignments are the merged weapon/target attack assignments.
	Assignments []AttackAssignment

	// Resolution exists only between attack confirmation and the end of the
	// dice sequence. It must never outlive the activation.
	Resolution *ResolutionState

	// Stance chosen for this activation, if any.
	Stance Stance
	// ChallengeTarget restricts assignments when an Epic Challenge was
	// accepted.
	ChallengeTarget string
}

func newActivation(unitID string, owner Player) *Activation {
	return &Activation{UnitID: unitID, Owner: owner, Step: StepSelected}
}

// nextInterrupt pops the next queued interrupt, or "" when none remain.
func (a *Activation) nextInterrupt() InterruptKind {
	if len(a.pendingInterrupts) == 0 {
		return ""
	}
	next := a.pendingInterrupts[0]
	a.pendingInterrupts = a.pendingInterrupts[1:]
	return next
}

// expectStep guards every fight-phase handler: the action is only legal when
// the activation sits at exactly the expected step.
func (a *Activation) expectStep(want ActivationStep) error {
	if a.Step != want {
		return fmt.Errorf("unit %s is at step %s, expected %s", a.UnitID, a.Step, want)
	}
	return nil
}
