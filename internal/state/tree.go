package state

import (
	"fmt"
	"strconv"
	"strings"
)

// The world state is a tree of map[string]any and []any nodes addressed by
// dotted paths, e.g. "units.u1.models.0.alive". Numeric segments index lists.

// Get returns the value at path, or false when any segment is missing.
func Get(root map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var node any = root
	for _, seg := range segments {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = child
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	return node, true
}

// GetString returns the string at path, or "" when absent or not a string.
func GetString(root map[string]any, path string) string {
	v, ok := Get(root, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// GetBool returns the bool at path, defaulting to false.
func GetBool(root map[string]any, path string) bool {
	v, ok := Get(root, path)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// GetInt returns the integer at path. Accepts int and float64 nodes since
// values round-trip through JSON in transport and persistence.
func GetInt(root map[string]any, path string) (int, bool) {
	v, ok := Get(root, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// GetFloat returns the float at path.
func GetFloat(root map[string]any, path string) (float64, bool) {
	v, ok := Get(root, path)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// GetMap returns the map node at path, or nil when absent or not a map.
func GetMap(root map[string]any, path string) map[string]any {
	v, ok := Get(root, path)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

// GetList returns the list node at path, or nil.
func GetList(root map[string]any, path string) []any {
	v, ok := Get(root, path)
	if !ok {
		return nil
	}
	l, _ := v.([]any)
	return l
}

func setPath(root map[string]any, path string, value any) error {
	parent, last, err := walkToParent(root, path, true)
	if err != nil {
		return err
	}
	switch p := parent.(type) {
	case map[string]any:
		p[last] = value
	case []any:
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(p) {
			return fmt.Errorf("invalid list index %q in %q", last, path)
		}
		p[idx] = value
	default:
		return fmt.Errorf("parent of %q is not a container", path)
	}
	return nil
}

func removePath(root map[string]any, path string) error {
	parent, last, err := walkToParent(root, path, false)
	if err != nil {
		return err
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return fmt.Errorf("remove requires a map parent at %q", path)
	}
	if _, ok := m[last]; !ok {
		return fmt.Errorf("path %q not present", path)
	}
	delete(m, last)
	return nil
}

func appendPath(root map[string]any, path string, value any) error {
	parent, last, err := walkToParent(root, path, true)
	if err != nil {
		return err
	}
	m, ok := parent.(map[string]any)
	if !ok {
		return fmt.Errorf("append requires a map parent at %q", path)
	}
	existing, ok := m[last]
	if !ok {
		m[last] = []any{value}
		return nil
	}
	list, ok := existing.([]any)
	if !ok {
		return fmt.Errorf("append target %q is not a list", path)
	}
	m[last] = append(list, value)
	return nil
}

// walkToParent resolves every segment but the last, optionally creating
// missing map nodes along the way, and returns the parent container plus the
// final segment.
func walkToParent(root map[string]any, path string, create bool) (any, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("empty path")
	}
	segments := strings.Split(path, ".")
	var node any = root
	for _, seg := range segments[:len(segments)-1] {
		switch n := node.(type) {
		case map[string]any:
			child, ok := n[seg]
			if !ok {
				if !create {
					return nil, "", fmt.Errorf("path %q not present (missing %q)", path, seg)
				}
				created := map[string]any{}
				n[seg] = created
				node = created
				continue
			}
			node = child
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, "", fmt.Errorf("invalid list index %q in %q", seg, path)
			}
			node = n[idx]
		default:
			return nil, "", fmt.Errorf("segment %q of %q is not a container", seg, path)
		}
	}
	return node, segments[len(segments)-1], nil
}

// Clone deep-copies a state tree. Only the JSON-compatible node types the
// engine writes (maps, lists, strings, numbers, bools, nil) are handled.
func Clone(root map[string]any) map[string]any {
	return cloneValue(root).(map[string]any)
}

func cloneValue(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
