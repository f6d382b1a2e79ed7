package action

import (
	"sort"
)

type indexed struct {
	index  int
	action Action
}

// Resolve applies override and conflict rules to a list of actions and
// returns the actions that should run, sorted by (order, position).
//
// Actions sharing a discriminator are compared by include path: the action
// recorded with the shortest include path wins when that path is a strict
// prefix of every other contender's path (configuration in an including file
// overrides configuration in the files it includes). Contenders with the same
// include path, or with paths that do not extend the winner's, conflict.
func Resolve(actions []Action) ([]Action, error) {
	var output []indexed
	unique := make(map[Discriminator][]indexed)
	var keys []Discriminator

	for i, a := range actions {
		if a.Discriminator.IsZero() {
			output = append(output, indexed{index: i, action: a})
			continue
		}
		if _, seen := unique[a.Discriminator]; !seen {
			keys = append(keys, a.Discriminator)
		}
		unique[a.Discriminator] = append(unique[a.Discriminator], indexed{index: i, action: a})
	}

	conflicts := make(map[Discriminator][]string)
	for _, d := range keys {
		dups := unique[d]
		sort.SliceStable(dups, func(i, j int) bool {
			if c := comparePaths(dups[i].action.IncludePath, dups[j].action.IncludePath); c != 0 {
				return c < 0
			}
			if dups[i].action.Order != dups[j].action.Order {
				return dups[i].action.Order < dups[j].action.Order
			}
			return dups[i].index < dups[j].index
		})

		base := dups[0]
		output = append(output, base)
		basePath := base.action.IncludePath
		for _, dup := range dups[1:] {
			if !hasPrefix(dup.action.IncludePath, basePath) || equalPaths(dup.action.IncludePath, basePath) {
				if _, ok := conflicts[d]; !ok {
					conflicts[d] = []string{base.action.Info}
				}
				conflicts[d] = append(conflicts[d], dup.action.Info)
			}
		}
	}

	if len(conflicts) > 0 {
		return nil, &ConflictError{Conflicts: conflicts}
	}

	sort.SliceStable(output, func(i, j int) bool {
		if output[i].action.Order != output[j].action.Order {
			return output[i].action.Order < output[j].action.Order
		}
		return output[i].index < output[j].index
	})

	result := make([]Action, len(output))
	for i, o := range output {
		result[i] = o.action
	}
	return result, nil
}

// comparePaths orders include paths lexicographically, element by element,
// with a prefix sorting before its extensions.
func comparePaths(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

func equalPaths(a, b []string) bool {
	return len(a) == len(b) && hasPrefix(a, b)
}
