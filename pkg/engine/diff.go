package engine

import (
	"reflect"
	"sort"
)

// diffFields returns the sorted top-level keys whose values differ between
// two states. Keys present in only one side count as changed.
func diffFields(previous, next map[string]any) []string {
	changed := map[string]struct{}{}
	for field, value := range next {
		if prev, ok := previous[field]; !ok || !reflect.DeepEqual(prev, value) {
			changed[field] = struct{}{}
		}
	}
	for field := range previous {
		if _, ok := next[field]; !ok {
			changed[field] = struct{}{}
		}
	}

	fields := make([]string, 0, len(changed))
	for field := range changed {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// diffPaths returns the sorted dot-joined paths of every leaf that differs
// between two states, descending into nested objects. A subtree present in
// only one side is reported at its root rather than leaf by leaf.
func diffPaths(previous, next map[string]any) []string {
	paths := []string{}
	diffInto(&paths, "", previous, next)
	sort.Strings(paths)
	return paths
}

func diffInto(paths *[]string, prefix string, previous, next map[string]any) {
	for field, value := range next {
		path := field
		if prefix != "" {
			path = prefix + "." + field
		}
		prev, ok := previous[field]
		if !ok {
			*paths = append(*paths, path)
			continue
		}
		prevMap, prevIsMap := prev.(map[string]any)
		nextMap, nextIsMap := value.(map[string]any)
		if prevIsMap && nextIsMap {
			diffInto(paths, path, prevMap, nextMap)
			continue
		}
		if !reflect.DeepEqual(prev, value) {
			*paths = append(*paths, path)
		}
	}
	for field := range previous {
		if _, ok := next[field]; !ok {
			path := field
			if prefix != "" {
				path = prefix + "." + field
			}
			*paths = append(*paths, path)
		}
	}
}
