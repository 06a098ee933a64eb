package state

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Authority owns the canonical world state for one game. All mutation goes
// through ApplyStateChanges; readers get deep-copied snapshots so no caller
// can reach into the canonical tree.
type Authority struct {
	logger *zap.Logger

	mu      sync.RWMutex
	root    map[string]any
	version uint64
}

// NewAuthority wraps an initial state tree. The tree is cloned, so the caller
// keeps no aliased reference into the authority.
func NewAuthority(initial map[string]any, logger *zap.Logger) *Authority {
	if initial == nil {
		initial = map[string]any{}
	}
	return &Authority{
		logger: logger,
		root:   Clone(initial),
	}
}

// ApplyStateChanges applies the ordered diffs atomically: they are applied to
// a clone first, and the canonical tree is only swapped when every diff
// succeeded. A failed batch leaves the authority untouched.
func (a *Authority) ApplyStateChanges(diffs []Diff) error {
	if len(diffs) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	next := Clone(a.root)
	if err := Apply(next, diffs); err != nil {
		if a.logger != nil {
			a.logger.Error("rejected state change batch",
				zap.Int("diff_count", len(diffs)),
				zap.Error(err),
			)
		}
		return fmt.Errorf("applying state changes: %w", err)
	}
	a.root = next
	a.version++
	if a.logger != nil {
		a.logger.Debug("applied state changes",
			zap.Int("diff_count", len(diffs)),
			zap.Uint64("version", a.version),
		)
	}
	return nil
}

// CreateSnapshot returns a deep copy of the canonical tree.
func (a *Authority) CreateSnapshot() map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Clone(a.root)
}

// Version returns the number of committed change batches.
func (a *Authority) Version() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.version
}
