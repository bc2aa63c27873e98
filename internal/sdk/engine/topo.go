package engine

import (
	"fmt"
	"strings"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// CycleError reports a dependency cycle discovered during TopoSort. Path
// is the traversal path, in order, from the flag the traversal started at
// to the flag whose dependency closed the cycle; it can include flags that
// lead into the cycle without being on it.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("detected a cycle between flags [%s]", strings.Join(e.Path, ", "))
}

// TopoSort orders flags so that every flag appears after all of its
// Dependencies, starting the traversal from startKeys (or every key in
// flags, in map iteration order stabilized by sorting, if startKeys is
// nil). A flag named by a dependency but absent from flags is silently
// skipped rather than treated as an error, matching upstream's tolerance
// for referencing flags the caller didn't fetch.
func TopoSort(flags map[string]rules.Flag, startKeys []string) ([]rules.Flag, error) {
	available := make(map[string]rules.Flag, len(flags))
	for k, v := range flags {
		available[k] = v
	}

	keys := startKeys
	if keys == nil {
		keys = sortedKeys(flags)
	}

	var result []rules.Flag
	for _, key := range keys {
		traversal, err := parentTraversal(key, available, nil)
		if err != nil {
			return nil, err
		}
		result = append(result, traversal...)
	}
	return result, nil
}

func parentTraversal(flagKey string, available map[string]rules.Flag, path []string) ([]rules.Flag, error) {
	flag, ok := available[flagKey]
	if !ok {
		return nil, nil
	}

	if len(flag.Dependencies) == 0 {
		delete(available, flag.Key)
		return []rules.Flag{flag}, nil
	}

	path = append(path, flag.Key)
	var result []rules.Flag

	for _, parentKey := range flag.Dependencies {
		for _, onPath := range path {
			if onPath == parentKey {
				cyclePath := make([]string, len(path))
				copy(cyclePath, path)
				return nil, &CycleError{Path: cyclePath}
			}
		}

		traversal, err := parentTraversal(parentKey, available, path)
		if err != nil {
			return nil, err
		}
		result = append(result, traversal...)
	}

	result = append(result, flag)
	delete(available, flag.Key)
	return result, nil
}
