package game

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/openwargame/wargame-server-go/internal/state"
)

// LogEntry is one confirmed action as recorded by the engine. Diffs and dice
// are captured at processing time, so rebuilding from the log never re-rolls.
type LogEntry struct {
	Seq      int            `json:"seq"`
	At       time.Time      `json:"at"`
	Phase    string         `json:"phase"`
	Player   Player         `json:"player"`
	Type     ActionType     `json:"type"`
	Changes  []state.Diff   `json:"changes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ActionLog is the append-only record of every confirmed action in a battle.
type ActionLog struct {
	mu       sync.Mutex
	battleID string
	entries  []LogEntry
}

// NewActionLog starts an empty log for the battle.
func NewActionLog(battleID string) *ActionLog {
	return &ActionLog{battleID: battleID}
}

// BattleID returns the battle this log belongs to.
func (l *ActionLog) BattleID() string {
	return l.battleID
}

// Record appends one confirmed action.
func (l *ActionLog) Record(phase string, action Action, result ActionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{
		Seq:      len(l.entries),
		At:       time.Now().UTC(),
		Phase:    phase,
		Player:   action.ActingPlayer(),
		Type:     action.ActionType(),
		Changes:  result.Changes,
		Metadata: result.Metadata,
	})
}

// Entries returns a copy of the log.
func (l *ActionLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of recorded actions.
func (l *ActionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Rebuild replays the recorded diffs over a copy of the initial state and
// returns the final state. The recorded diffs already embed every dice
// outcome, so the rebuild is deterministic.
func Rebuild(initial map[string]any, entries []LogEntry) (map[string]any, error) {
	root := state.Clone(initial)
	for _, entry := range entries {
		if err := state.Apply(root, entry.Changes); err != nil {
			return nil, fmt.Errorf("replaying entry %d (%s): %w", entry.Seq, entry.Type, err)
		}
	}
	return root, nil
}

// VerifyReplay rebuilds the battle from its log and compares the result
// against the live state by checksum.
func VerifyReplay(initial, final map[string]any, entries []LogEntry) error {
	rebuilt, err := Rebuild(initial, entries)
	if err != nil {
		return err
	}
	want := Checksum(final)
	got := Checksum(rebuilt)
	if want != got {
		return fmt.Errorf("replay diverged: live checksum %s, rebuilt %s", want, got)
	}
	return nil
}

// Checksum produces a deterministic digest of a world state tree. Map keys
// are emitted in sorted order so logically equal trees always hash the same.
func Checksum(root map[string]any) string {
	h := sha256.New()
	writeCanonical(h, root)
	return hex.EncodeToString(h.Sum(nil))
}

func writeCanonical(w io.Writer, node any) {
	switch v := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		io.WriteString(w, "{")
		for _, k := range keys {
			io.WriteString(w, k)
			io.WriteString(w, ":")
			writeCanonical(w, v[k])
			io.WriteString(w, ",")
		}
		io.WriteString(w, "}")
	case []any:
		io.WriteString(w, "[")
		for _, item := range v {
			writeCanonical(w, item)
			io.WriteString(w, ",")
		}
		io.WriteString(w, "]")
	case string:
		io.WriteString(w, strconv.Quote(v))
	case float64:
		io.WriteString(w, strconv.FormatFloat(v, 'g', -1, 64))
	case int:
		io.WriteString(w, strconv.FormatFloat(float64(v), 'g', -1, 64))
	case bool:
		io.WriteString(w, strconv.FormatBool(v))
	case nil:
		io.WriteString(w, "null")
	default:
		// Uncommon types fall back to their JSON form.
		raw, err := json.Marshal(v)
		if err != nil {
			fmt.Fprintf(w, "%v", v)
			return
		}
		w.Write(raw)
	}
}
