package state

import (
	"fmt"
	"reflect"
)

// Mirror is a phase-local copy of the world state. A phase adopts a snapshot
// on entry and replays every diff it emits into the mirror, so validation of
// later steps in a multi-step activation sees the in-flight changes even
// before the authority commits them.
type Mirror struct {
	root    map[string]any
	applied []Diff
}

// NewMirror adopts a snapshot. The snapshot is used as-is (the authority
// already hands out deep copies).
func NewMirror(snapshot map[string]any) *Mirror {
	if snapshot == nil {
		snapshot = map[string]any{}
	}
	return &Mirror{root: snapshot}
}

// Root exposes the mirrored tree for read-only queries.
func (m *Mirror) Root() map[string]any { return m.root }

// Replay applies diffs to the mirror and records them for reconciliation.
func (m *Mirror) Replay(diffs []Diff) error {
	if err := Apply(m.root, diffs); err != nil {
		return fmt.Errorf("replaying into mirror: %w", err)
	}
	m.applied = append(m.applied, diffs...)
	return nil
}

// Applied returns every diff replayed into the mirror since adoption.
func (m *Mirror) Applied() []Diff { return m.applied }

// Reconcile verifies that for every path touched by the mirror's applied
// diffs, the authority snapshot holds the same value as the mirror. This is
// the consistency invariant between local and canonical state.
func (m *Mirror) Reconcile(authoritative map[string]any) error {
	for _, d := range m.applied {
		if d.Op == OpRemove {
			if _, ok := Get(authoritative, d.Path); ok {
				return fmt.Errorf("path %q removed locally but present in authority", d.Path)
			}
			continue
		}
		local, lok := Get(m.root, d.Path)
		remote, rok := Get(authoritative, d.Path)
		if lok != rok {
			return fmt.Errorf("path %q presence mismatch (local=%t authority=%t)", d.Path, lok, rok)
		}
		if lok && !reflect.DeepEqual(local, remote) {
			return fmt.Errorf("path %q diverged (local=%v authority=%v)", d.Path, local, remote)
		}
	}
	return nil
}
