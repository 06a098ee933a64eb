package state

import "fmt"

// DiffOp identifies the kind of mutation a Diff performs.
type DiffOp string

const (
	// OpSet writes a value at a path, creating intermediate containers as needed.
	OpSet DiffOp = "set"
	// OpRemove deletes the value at a path. Removing a missing path is an error.
	OpRemove DiffOp = "remove"
	// OpAppend appends a value to the list at a path, creating the list if absent.
	OpAppend DiffOp = "append"
)

// Diff is a single atomic mutation of the world state tree.
// Every state change in the engine flows through an ordered list of these.
type Diff struct {
	Op    DiffOp `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// Set builds an OpSet diff.
func Set(path string, value any) Diff {
	return Diff{Op: OpSet, Path: path, Value: value}
}

// Remove builds an OpRemove diff.
func Remove(path string) Diff {
	return Diff{Op: OpRemove, Path: path}
}

// Append builds an OpAppend diff.
func Append(path string, value any) Diff {
	return Diff{Op: OpAppend, Path: path, Value: value}
}

func (d Diff) String() string {
	return fmt.Sprintf("%s %s", d.Op, d.Path)
}

// Apply mutates root by applying each diff in order. Application stops at the
// first failing diff; callers that need atomicity should apply against a clone
// and swap (see Authority.ApplyStateChanges).
func Apply(root map[string]any, diffs []Diff) error {
	for i, d := range diffs {
		var err error
		switch d.Op {
		case OpSet:
			err = setPath(root, d.Path, d.Value)
		case OpRemove:
			err = removePath(root, d.Path)
		case OpAppend:
			err = appendPath(root, d.Path, d.Value)
		default:
			err = fmt.Errorf("unknown diff op %q", d.Op)
		}
		if err != nil {
			return fmt.Errorf("diff %d (%s): %w", i, d, err)
		}
	}
	return nil
}
