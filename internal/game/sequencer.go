package game

import (
	"fmt"

	"go.uber.org/zap"
)

// Tier is an activation priority band within the Fight phase.
type Tier int

const (
	TierFightsFirst Tier = iota
	TierNormal
	TierFightsLast
	tierCount
)

var tierNames = map[Tier]string{
	TierFightsFirst: "FIGHTS_FIRST",
	TierNormal:      "NORMAL",
	TierFightsLast:  "FIGHTS_LAST",
}

func (t Tier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TIER_%d", int(t))
}

type tierState struct {
	units map[Player][]string
	// lastActor is the player whose unit most recently completed or skipped
	// an activation in this tier. Zero until the tier's first activation.
	lastActor Player
}

func newTierState() *tierState {
	return &tierState{units: map[Player][]string{Player1: {}, Player2: {}}}
}

// ActivationSequencer partitions in-combat units into priority tiers and
// yields a strictly alternating per-player selection order. The defending
// player selects first within each tier.
type ActivationSequencer struct {
	logger   *zap.Logger
	defender Player

	tiers     [tierCount]*tierState
	tierOf    map[string]Tier
	ownerOf   map[string]Player
	activated map[string]bool

	// overrideUnit forces the next selection (Counter-Offensive interrupt).
	overrideUnit  string
	overrideOwner Player
}

// NewActivationSequencer creates an empty sequencer. defender is the player
// who is not the current turn's active player.
func NewActivationSequencer(defender Player, logger *zap.Logger) *ActivationSequencer {
	s := &ActivationSequencer{
		logger:    logger,
		defender:  defender,
		tierOf:    make(map[string]Tier),
		ownerOf:   make(map[string]Player),
		activated: make(map[string]bool),
	}
	for t := Tier(0); t < tierCount; t++ {
		s.tiers[t] = newTierState()
	}
	return s
}

// Assign places a unit into a tier. A unit may appear in at most one tier;
// assigning it twice is an error.
func (s *ActivationSequencer) Assign(tier Tier, owner Player, unitID string) error {
	if existing, ok := s.tierOf[unitID]; ok {
		return fmt.Errorf("unit %s already assigned to tier %s", unitID, existing)
	}
	if owner != Player1 && owner != Player2 {
		return fmt.Errorf("unit %s has invalid owner %s", unitID, owner)
	}
	s.tierOf[unitID] = tier
	s.ownerOf[unitID] = owner
	ts := s.tiers[tier]
	ts.units[owner] = append(ts.units[owner], unitID)
	if s.logger != nil {
		s.logger.Debug("assigned unit to tier",
			zap.String("unit_id", unitID),
			zap.String("tier", tier.String()),
			zap.String("owner", owner.String()),
		)
	}
	return nil
}

// AddToNormal appends a newly engaged unit to the NORMAL tier for its owner.
// Used by the re-eligibility scan after consolidation moves. Units already in
// a tier or already activated are left alone.
func (s *ActivationSequencer) AddToNormal(owner Player, unitID string) bool {
	if _, ok := s.tierOf[unitID]; ok {
		return false
	}
	if s.activated[unitID] {
		return false
	}
	if err := s.Assign(TierNormal, owner, unitID); err != nil {
		return false
	}
	return true
}

// TierOf returns the tier a unit was assigned to.
func (s *ActivationSequencer) TierOf(unitID string) (Tier, bool) {
	t, ok := s.tierOf[unitID]
	return t, ok
}

// IsActivated reports whether the unit has used its activation this phase.
func (s *ActivationSequencer) IsActivated(unitID string) bool {
	return s.activated[unitID]
}

// ActivatedUnits returns the IDs of every unit that has activated, in no
// particular order.
func (s *ActivationSequencer) ActivatedUnits() []string {
	out := make([]string, 0, len(s.activated))
	for id := range s.activated {
		out = append(out, id)
	}
	return out
}

// MarkActivated records a completed or skipped activation and advances the
// alternation. Marking a unit that was never assigned is an error.
func (s *ActivationSequencer) MarkActivated(unitID string) error {
	tier, ok := s.tierOf[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not in any tier", unitID)
	}
	if s.activated[unitID] {
		return fmt.Errorf("unit %s already activated", unitID)
	}
	s.activated[unitID] = true
	s.tiers[tier].lastActor = s.ownerOf[unitID]
	if s.overrideUnit == unitID {
		s.overrideUnit = ""
		s.overrideOwner = PlayerNone
	}
	if s.logger != nil {
		s.logger.Debug("unit activated",
			zap.String("unit_id", unitID),
			zap.String("tier", tier.String()),
		)
	}
	return nil
}

// SetOverride forces unitID to be the next selection regardless of the
// alternation (stratagem interrupt). The unit must be eligible.
func (s *ActivationSequencer) SetOverride(owner Player, unitID string) error {
	tier, ok := s.tierOf[unitID]
	if !ok {
		return fmt.Errorf("unit %s is not eligible this phase", unitID)
	}
	if s.activated[unitID] {
		return fmt.Errorf("unit %s has already activated", unitID)
	}
	if s.ownerOf[unitID] != owner {
		return fmt.Errorf("unit %s does not belong to player %s", unitID, owner)
	}
	current, any := s.CurrentTier()
	if any && tier != current {
		return fmt.Errorf("unit %s is in tier %s, current tier is %s", unitID, tier, current)
	}
	s.overrideUnit = unitID
	s.overrideOwner = owner
	return nil
}

// CurrentTier returns the lowest tier that still holds an eligible unit.
// Tiers advance FIGHTS_FIRST -> NORMAL -> FIGHTS_LAST; a re-eligibility
// addition to NORMAL pulls the cursor back so the new unit still fights
// before remaining fights-last units.
func (s *ActivationSequencer) CurrentTier() (Tier, bool) {
	for t := Tier(0); t < tierCount; t++ {
		if len(s.eligibleIn(t, Player1)) > 0 || len(s.eligibleIn(t, Player2)) > 0 {
			return t, true
		}
	}
	return 0, false
}

// Done reports whether every assigned unit has activated.
func (s *ActivationSequencer) Done() bool {
	_, any := s.CurrentTier()
	return !any
}

// SelectingPlayer returns the player who must pick the next unit. Within a
// tier the defender selects first, then selection alternates after every
// activation; a player with no eligible units passes without consuming a
// turn. Returns PlayerNone when the sequencer is done.
func (s *ActivationSequencer) SelectingPlayer() Player {
	if s.overrideUnit != "" {
		return s.overrideOwner
	}
	tier, ok := s.CurrentTier()
	if !ok {
		return PlayerNone
	}
	ts := s.tiers[tier]
	var want Player
	if ts.lastActor == PlayerNone {
		want = s.defender
	} else {
		want = ts.lastActor.Opponent()
	}
	if len(s.eligibleIn(tier, want)) == 0 {
		want = want.Opponent()
	}
	if len(s.eligibleIn(tier, want)) == 0 {
		return PlayerNone
	}
	return want
}

// EligibleUnits lists the units the given player may select right now: the
// not-yet-activated units in the current tier, honoring any override.
func (s *ActivationSequencer) EligibleUnits(p Player) []string {
	if s.overrideUnit != "" {
		if p == s.overrideOwner {
			return []string{s.overrideUnit}
		}
		return nil
	}
	if s.SelectingPlayer() != p {
		return nil
	}
	tier, ok := s.CurrentTier()
	if !ok {
		return nil
	}
	return s.eligibleIn(tier, p)
}

// CanSelect validates a selection attempt and returns every violated rule.
func (s *ActivationSequencer) CanSelect(p Player, unitID string) []string {
	var reasons []string
	tier, inTier := s.tierOf[unitID]
	if !inTier {
		reasons = append(reasons, fmt.Sprintf("unit %s is not eligible to fight this phase", unitID))
	}
	if s.activated[unitID] {
		reasons = append(reasons, fmt.Sprintf("unit %s has already activated this phase", unitID))
	}
	if inTier && s.ownerOf[unitID] != p {
		reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", unitID, p))
	}
	if s.overrideUnit != "" && unitID != s.overrideUnit {
		reasons = append(reasons, fmt.Sprintf("unit %s must be selected next", s.overrideUnit))
	}
	if current, any := s.CurrentTier(); any && inTier && tier != current {
		reasons = append(reasons, fmt.Sprintf("unit %s is in tier %s, current tier is %s", unitID, tier, current))
	}
	if sel := s.SelectingPlayer(); sel != PlayerNone && sel != p {
		reasons = append(reasons, fmt.Sprintf("player %s is selecting, not player %s", sel, p))
	}
	return reasons
}

// Record exports the sequencer's transient state for drivers and clients.
func (s *ActivationSequencer) Record() ActivationRecord {
	rec := ActivationRecord{
		UnitsActivated:         s.ActivatedUnits(),
		FightsFirstSequence:    s.tierUnits(TierFightsFirst),
		NormalSequence:         s.tierUnits(TierNormal),
		FightsLastSequence:     s.tierUnits(TierFightsLast),
		CurrentSelectingPlayer: s.SelectingPlayer(),
	}
	if tier, ok := s.CurrentTier(); ok {
		rec.CurrentSubPhase = tier.String()
	} else {
		rec.CurrentSubPhase = "READY_TO_END"
	}
	return rec
}

func (s *ActivationSequencer) tierUnits(t Tier) map[string][]string {
	out := map[string][]string{}
	for p, units := range s.tiers[t].units {
		if len(units) > 0 {
			out[p.String()] = append([]string(nil), units...)
		}
	}
	return out
}

func (s *ActivationSequencer) eligibleIn(t Tier, p Player) []string {
	var out []string
	for _, id := range s.tiers[t].units[p] {
		if !s.activated[id] {
			out = append(out, id)
		}
	}
	return out
}

// ActivationRecord is the per-phase transient snapshot of sequencing state.
type ActivationRecord struct {
	UnitsActivated         []string            `json:"units_activated"`
	FightsFirstSequence    map[string][]string `json:"fights_first_sequence"`
	NormalSequence         map[string][]string `json:"normal_sequence"`
	FightsLastSequence     map[string][]string `json:"fights_last_sequence"`
	CurrentSubPhase        string              `json:"current_subphase"`
	CurrentSelectingPlayer Player              `json:"current_selecting_player"`
}
