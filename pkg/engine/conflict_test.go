package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhinehart514/hivesync/pkg/types"
)

func TestResolveStateStrategies(t *testing.T) {
	server := map[string]any{"a": 1, "b": 2}
	client := map[string]any{"b": 3, "c": 4}

	cases := []struct {
		name     string
		strategy types.ConflictStrategy
		want     map[string]any
		used     types.ConflictStrategy
	}{
		{"latest wins", types.ConflictLatestWins, server, types.ConflictLatestWins},
		{"client wins", types.ConflictClientWins, client, types.ConflictClientWins},
		{"merge", types.ConflictMerge, map[string]any{"a": 1, "b": 3, "c": 4}, types.ConflictMerge},
		{"empty falls back", types.ConflictStrategy(""), server, types.ConflictLatestWins},
		{"unknown falls back", types.ConflictStrategy("coin_flip"), server, types.ConflictLatestWins},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolved, used := resolveState(server, client, tc.strategy)
			assert.Equal(t, tc.want, resolved)
			assert.Equal(t, tc.used, used)
		})
	}
}

func TestShallowMergeTakesNestedObjectsWhole(t *testing.T) {
	server := map[string]any{
		"settings": map[string]any{"theme": "dark", "fontSize": 12},
		"title":    "doc",
	}
	client := map[string]any{
		"settings": map[string]any{"theme": "light"},
	}

	merged := shallowMerge(server, client)

	// The client's nested object replaces the server's entirely; fontSize is
	// gone because the merge is shallow.
	assert.Equal(t, map[string]any{"theme": "light"}, merged["settings"])
	assert.Equal(t, "doc", merged["title"])
}

func TestShallowMergeDoesNotMutateInputs(t *testing.T) {
	server := map[string]any{"a": 1}
	client := map[string]any{"a": 2}

	merged := shallowMerge(server, client)
	merged["a"] = 3
	merged["new"] = true

	assert.Equal(t, map[string]any{"a": 1}, server)
	assert.Equal(t, map[string]any{"a": 2}, client)
}

func TestDescribeConflictsOnlySharedDifferingFields(t *testing.T) {
	server := map[string]any{"a": 1, "b": 2, "same": "x", "serverOnly": true}
	client := map[string]any{"a": 9, "b": 2, "same": "x", "clientOnly": true}
	resolved := map[string]any{"a": 9}

	conflicts := describeConflicts(server, client, resolved)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "a", conflicts[0].Field)
	assert.Equal(t, 1, conflicts[0].ServerValue)
	assert.Equal(t, 9, conflicts[0].ClientValue)
	assert.Equal(t, "client", conflicts[0].Resolution)
}

func TestDescribeConflictsResolutionLabels(t *testing.T) {
	server := map[string]any{"a": 1, "b": 2, "c": 3}
	client := map[string]any{"a": 10, "b": 20, "c": 30}
	resolved := map[string]any{"a": 10, "b": 2, "c": 99}

	conflicts := describeConflicts(server, client, resolved)
	require.Len(t, conflicts, 3)

	byField := map[string]ConflictDescriptor{}
	for _, c := range conflicts {
		byField[c.Field] = c
	}
	assert.Equal(t, "client", byField["a"].Resolution)
	assert.Equal(t, "server", byField["b"].Resolution)
	assert.Equal(t, "merged", byField["c"].Resolution)
}

func TestDescribeConflictsNestedPaths(t *testing.T) {
	server := map[string]any{
		"settings": map[string]any{"theme": "dark", "fontSize": 12},
	}
	client := map[string]any{
		"settings": map[string]any{"theme": "light", "fontSize": 12, "margin": 4},
	}
	resolved := client

	conflicts := describeConflicts(server, client, resolved)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "settings", conflicts[0].Field)
	assert.Equal(t, []string{"settings.margin", "settings.theme"}, conflicts[0].Paths)
}

func TestDescribeConflictsSorted(t *testing.T) {
	server := map[string]any{"z": 1, "a": 1, "m": 1}
	client := map[string]any{"z": 2, "a": 2, "m": 2}

	conflicts := describeConflicts(server, client, client)
	require.Len(t, conflicts, 3)
	assert.Equal(t, "a", conflicts[0].Field)
	assert.Equal(t, "m", conflicts[1].Field)
	assert.Equal(t, "z", conflicts[2].Field)
}
