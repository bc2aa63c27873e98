// Package selector implements nested-path lookups into a free-form context
// tree, the same mechanism the evaluation engine uses to read both the
// evaluation context and previously-computed flag results (so a later flag
// in a dependency chain can target on an earlier flag's variant).
package selector

// Select walks tree following path one key at a time. It returns nil if the
// path is empty, if tree is nil, if tree is not a map at any step, or if a
// key is missing. It never panics on malformed input.
func Select(tree any, path []string) any {
	if len(path) == 0 {
		return nil
	}

	current := tree
	for _, key := range path {
		if key == "" || current == nil {
			return nil
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}
