package game

import (
	"testing"

	"github.com/openwargame/wargame-server-go/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestChecksumIgnoresKeyOrder(t *testing.T) {
	a := map[string]any{
		"units": map[string]any{"u1": map[string]any{"owner": 1, "status": "DEPLOYED"}},
		"meta":  map[string]any{"turn": 1},
	}
	b := map[string]any{
		"meta":  map[string]any{"turn": 1},
		"units": map[string]any{"u1": map[string]any{"status": "DEPLOYED", "owner": 1}},
	}
	assert.Equal(t, Checksum(a), Checksum(b))
}

func TestChecksumTreatsIntAndFloatAlike(t *testing.T) {
	// Trees round-trip through JSON, turning ints into float64; checksums of
	// the two forms must agree so persistence never breaks verification.
	asInt := map[string]any{"meta": map[string]any{"turn": 2}}
	asFloat := map[string]any{"meta": map[string]any{"turn": float64(2)}}
	assert.Equal(t, Checksum(asInt), Checksum(asFloat))
}

func TestChecksumDetectsValueChange(t *testing.T) {
	a := map[string]any{"meta": map[string]any{"turn": 1}}
	b := map[string]any{"meta": map[string]any{"turn": 2}}
	assert.NotEqual(t, Checksum(a), Checksum(b))
}

func TestChecksumListOrderMatters(t *testing.T) {
	a := map[string]any{"models": []any{"m1", "m2"}}
	b := map[string]any{"models": []any{"m2", "m1"}}
	assert.NotEqual(t, Checksum(a), Checksum(b))
}

func TestActionLogRecordsInOrder(t *testing.T) {
	log := NewActionLog("b1")
	log.Record("FIGHT", SelectFighter{Player: Player2, UnitID: "d1"}, success(nil))
	log.Record("FIGHT", PileIn{Player: Player2, UnitID: "d1"}, success([]state.Diff{
		state.Set("units.d1.models.0.position.x", 1.0),
	}))

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, 0, entries[0].Seq)
	assert.Equal(t, ActionSelectFighter, entries[0].Type)
	assert.Equal(t, Player2, entries[0].Player)
	assert.Equal(t, 1, entries[1].Seq)
	assert.Len(t, entries[1].Changes, 1)
}

func TestRebuildAppliesRecordedDiffs(t *testing.T) {
	initial := map[string]any{
		"units": map[string]any{"u1": map[string]any{"status": "DEPLOYED"}},
	}
	entries := []LogEntry{
		{Seq: 0, Type: ActionApplySaves, Changes: []state.Diff{
			state.Set("units.u1.status", "DESTROYED"),
		}},
	}
	rebuilt, err := Rebuild(initial, entries)
	require.NoError(t, err)
	assert.Equal(t, "DESTROYED", state.GetString(rebuilt, "units.u1.status"))
	// The initial tree is untouched.
	assert.Equal(t, "DEPLOYED", state.GetString(initial, "units.u1.status"))
}

func TestVerifyReplayFlagsDivergence(t *testing.T) {
	initial := map[string]any{"meta": map[string]any{"turn": 1}}
	final := map[string]any{"meta": map[string]any{"turn": 3}}
	entries := []LogEntry{
		{Seq: 0, Type: ActionEndFight, Changes: []state.Diff{state.Set("meta.turn", 2)}},
	}
	err := VerifyReplay(initial, final, entries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diverged")
}

// TestChecksumCloneProperty: a clone always hashes identically, and any
// single Set of a fresh value changes the hash.
func TestChecksumCloneProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		root := map[string]any{}
		n := rapid.IntRange(1, 8).Draw(rt, "n")
		for i := 0; i < n; i++ {
			key := rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "key")
			val := rapid.OneOf(
				rapid.Int().AsAny(),
				rapid.Float64().AsAny(),
				rapid.Bool().AsAny(),
				rapid.StringMatching(`[a-z]{0,8}`).AsAny(),
			).Draw(rt, "val")
			if f, ok := val.(float64); ok && f != f {
				val = 0.0 // NaN never appears in a state tree
			}
			root[key] = val
		}
		if Checksum(root) != Checksum(state.Clone(root)) {
			rt.Fatalf("clone hashed differently")
		}
		before := Checksum(root)
		root["zz_probe"] = "marker"
		if Checksum(root) == before {
			rt.Fatalf("mutation did not change the checksum")
		}
	})
}
