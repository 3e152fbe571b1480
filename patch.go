package docstore

import (
	"fmt"
	"strings"
)

// PatchOp enumerates the supported patch operations.
type PatchOp string

const (
	// PatchSet assigns Value at Path, creating intermediate objects.
	PatchSet PatchOp = "set"
	// PatchRemove deletes the field at Path.
	PatchRemove PatchOp = "remove"
	// PatchIncrement adds the numeric Value to the number at Path (missing counts as zero).
	PatchIncrement PatchOp = "increment"
	// PatchAppend appends Value to the array at Path (missing counts as empty).
	PatchAppend PatchOp = "append"
)

// PatchOperation is one field level change of a Patch command. Path is a dot separated
// field path, e.g. "address.city".
type PatchOperation struct {
	Op    PatchOp `json:"op"`
	Path  string  `json:"path"`
	Value any     `json:"value,omitempty"`
}

// ApplyPatch returns a copy of doc with ops applied in order. The @metadata section
// can't be patched.
func ApplyPatch(doc Document, ops []PatchOperation) (Document, error) {
	r := doc.Clone()
	if r == nil {
		r = Document{}
	}
	for _, op := range ops {
		parts := strings.Split(op.Path, ".")
		if op.Path == "" || parts[0] == MetadataKey {
			return nil, fmt.Errorf("patch path %q is not allowed", op.Path)
		}
		parent, err := walkToParent(r, parts)
		if err != nil {
			return nil, err
		}
		leaf := parts[len(parts)-1]
		switch op.Op {
		case PatchSet:
			parent[leaf] = CloneValue(op.Value)
		case PatchRemove:
			delete(parent, leaf)
		case PatchIncrement:
			cur := parent[leaf]
			if cur == nil {
				cur = int64(0)
			} else if !IsNumber(cur) {
				return nil, fmt.Errorf("patch increment target %q is not a number", op.Path)
			}
			sum, ok := addNumbers(cur, op.Value)
			if !ok {
				return nil, fmt.Errorf("patch increment value for %q is not a number", op.Path)
			}
			parent[leaf] = sum
		case PatchAppend:
			var arr []any
			if parent[leaf] != nil {
				a, ok := parent[leaf].([]any)
				if !ok {
					return nil, fmt.Errorf("patch append target %q is not an array", op.Path)
				}
				arr = a
			}
			parent[leaf] = append(arr, CloneValue(op.Value))
		default:
			return nil, fmt.Errorf("unsupported patch operation %q", op.Op)
		}
	}
	return r, nil
}

func walkToParent(doc Document, parts []string) (map[string]any, error) {
	cur := map[string]any(doc)
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p]
		if !ok || next == nil {
			m := map[string]any{}
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("patch path segment %q is not an object", p)
		}
		cur = m
	}
	return cur, nil
}
