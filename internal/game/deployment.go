package game

import (
	"fmt"

	"github.com/openwargame/wargame-server-go/internal/state"
	"go.uber.org/zap"
)

// DeploymentPhase alternates unit placement between the players and
// auto-completes once every unit not held in reserves is on the table.
type DeploymentPhase struct {
	logger  *zap.Logger
	measure Measurement

	mirror       *state.Mirror
	firstToPlace Player
	lastDeployer Player
}

// NewDeploymentPhase composes a deployment phase.
func NewDeploymentPhase(measure Measurement, logger *zap.Logger) *DeploymentPhase {
	return &DeploymentPhase{logger: logger, measure: measure}
}

func (d *DeploymentPhase) Name() string { return "DEPLOYMENT" }

// Enter adopts the snapshot. The non-active player places first. With no
// undeployed units at all the phase signals immediate completion.
func (d *DeploymentPhase) Enter(snapshot map[string]any, ctx TurnContext) (bool, error) {
	d.mirror = state.NewMirror(snapshot)
	d.firstToPlace = ctx.ActivePlayer.Opponent()
	d.lastDeployer = PlayerNone
	return d.ShouldCompletePhase(), nil
}

// deployingPlayer alternates placement, passing over a player with nothing
// left to deploy.
func (d *DeploymentPhase) deployingPlayer() Player {
	var want Player
	if d.lastDeployer == PlayerNone {
		want = d.firstToPlace
	} else {
		want = d.lastDeployer.Opponent()
	}
	if len(d.undeployed(want)) == 0 {
		want = want.Opponent()
	}
	if len(d.undeployed(want)) == 0 {
		return PlayerNone
	}
	return want
}

func (d *DeploymentPhase) undeployed(p Player) []*Unit {
	var out []*Unit
	for _, u := range AllUnits(d.mirror.Root()) {
		if u.Owner == p && u.Status == UnitUndeployed {
			out = append(out, u)
		}
	}
	return out
}

// deploymentZone reads a player's zone polygon from the tree.
func (d *DeploymentPhase) deploymentZone(p Player) []Point {
	var zone []Point
	for _, raw := range state.GetList(d.mirror.Root(), "zones."+p.String()) {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		x, _ := state.GetFloat(node, "x")
		y, _ := state.GetFloat(node, "y")
		zone = append(zone, Point{X: x, Y: y})
	}
	return zone
}

func (d *DeploymentPhase) ValidateAction(ctx TurnContext, action Action) ValidationResult {
	if res, handled := validateFrontDoor(ctx, action); handled {
		return res
	}
	a, ok := action.(DeployUnit)
	if !ok {
		return invalid(fmt.Sprintf("action %s is not part of the deployment phase", action.ActionType()))
	}
	var reasons []string
	if turn := d.deployingPlayer(); turn != a.Player {
		reasons = append(reasons, fmt.Sprintf("player %s is deploying, not player %s", turn, a.Player))
	}
	u, err := UnitFromState(d.mirror.Root(), a.UnitID)
	if err != nil {
		return invalid(append(reasons, err.Error())...)
	}
	if u.Owner != a.Player {
		reasons = append(reasons, fmt.Sprintf("unit %s does not belong to player %s", a.UnitID, a.Player))
	}
	if u.Status != UnitUndeployed {
		reasons = append(reasons, fmt.Sprintf("unit %s is not awaiting deployment (status %s)", a.UnitID, u.Status))
	}
	if len(a.Positions) != len(u.Models) {
		reasons = append(reasons, fmt.Sprintf("deployment must place all %d models, got %d", len(u.Models), len(a.Positions)))
	}
	zone := d.deploymentZone(a.Player)
	if len(zone) < 3 {
		reasons = append(reasons, fmt.Sprintf("player %s has no deployment zone", a.Player))
	} else {
		for _, pos := range a.Positions {
			if !d.measure.PointInZone(pos.To, zone) {
				reasons = append(reasons, fmt.Sprintf("model %s is outside the deployment zone", pos.ModelID))
			}
		}
	}
	placed, err := withMoves(u, a.Positions)
	if err != nil {
		reasons = append(reasons, err.Error())
	} else {
		for _, other := range AllUnits(d.mirror.Root()) {
			if other.ID == u.ID || other.Status != UnitDeployed {
				continue
			}
			for _, m1 := range placed.AliveModels() {
				for _, m2 := range other.AliveModels() {
					if d.measure.ModelsOverlap(m1, m2) {
						reasons = append(reasons, fmt.Sprintf("model %s overlaps model %s", m1.ID, m2.ID))
					}
				}
			}
		}
	}
	if len(reasons) > 0 {
		return invalid(reasons...)
	}
	return valid()
}

func (d *DeploymentPhase) ProcessAction(ctx TurnContext, action Action) ActionResult {
	if result, handled := processDebugOverride(d.mirror, action); handled {
		return result
	}
	a, ok := action.(DeployUnit)
	if !ok {
		return failure(fmt.Sprintf("action %s is not part of the deployment phase", action.ActionType()))
	}
	u, err := UnitFromState(d.mirror.Root(), a.UnitID)
	if err != nil {
		return failure(err.Error())
	}
	diffs := moveDiffs(u, a.Positions)
	diffs = append(diffs, state.Set(unitField(a.UnitID, "status"), string(UnitDeployed)))
	if err := d.mirror.Replay(diffs); err != nil {
		return failure(err.Error())
	}
	d.lastDeployer = a.Player
	if d.logger != nil {
		d.logger.Info("unit deployed",
			zap.String("unit_id", a.UnitID),
			zap.String("player", a.Player.String()),
		)
	}
	return success(diffs)
}

func (d *DeploymentPhase) AvailableActions(ctx TurnContext) []ActionDescriptor {
	turn := d.deployingPlayer()
	if turn == PlayerNone {
		return nil
	}
	var out []ActionDescriptor
	for _, u := range d.undeployed(turn) {
		out = append(out, ActionDescriptor{Type: ActionDeployUnit, Player: turn, UnitID: u.ID})
	}
	return out
}

// ShouldCompletePhase is structural: true once no unit awaits deployment.
func (d *DeploymentPhase) ShouldCompletePhase() bool {
	return len(d.undeployed(Player1)) == 0 && len(d.undeployed(Player2)) == 0
}

// Reconcile checks the phase mirror against the authoritative snapshot.
func (d *DeploymentPhase) Reconcile(authoritative map[string]any) error {
	return d.mirror.Reconcile(authoritative)
}

func (d *DeploymentPhase) Exit() error { return nil }
