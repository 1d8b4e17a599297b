package engine

import (
	"reflect"
	"sort"

	"github.com/rhinehart514/hivesync/pkg/types"
)

// ConflictDescriptor reports one top-level field that held different values
// on the server and the client when a sync was resolved, and which side won.
type ConflictDescriptor struct {
	Field       string   `json:"field"`
	Paths       []string `json:"paths,omitempty"`
	ServerValue any      `json:"serverValue"`
	ClientValue any      `json:"clientValue"`
	Resolution  string   `json:"resolution"`
}

// resolveState applies a conflict strategy to a divergent server/client pair
// and returns the winning state plus the strategy actually used. Under
// latest_wins the server snapshot is authoritative: it already reflects the
// newest applied write, and the stale client's attempt survives only in the
// event log. Unknown or empty strategies fall back to latest_wins.
func resolveState(server, client map[string]any, strategy types.ConflictStrategy) (map[string]any, types.ConflictStrategy) {
	switch strategy {
	case types.ConflictClientWins:
		return client, types.ConflictClientWins
	case types.ConflictMerge:
		return shallowMerge(server, client), types.ConflictMerge
	case types.ConflictLatestWins:
		return server, types.ConflictLatestWins
	default:
		return server, types.ConflictLatestWins
	}
}

// shallowMerge unions two states at the top level, client values overriding
// server values on shared keys. Nested objects are taken whole from the
// winning side.
func shallowMerge(server, client map[string]any) map[string]any {
	merged := make(map[string]any, len(server)+len(client))
	for field, value := range server {
		merged[field] = value
	}
	for field, value := range client {
		merged[field] = value
	}
	return merged
}

// describeConflicts builds descriptors for the top-level fields where server
// and client disagreed, labeling each with which side's value survived in
// the resolved state. Fields present on only one side are not conflicts.
func describeConflicts(server, client, resolved map[string]any) []ConflictDescriptor {
	fields := []string{}
	for field, clientValue := range client {
		serverValue, ok := server[field]
		if !ok || reflect.DeepEqual(serverValue, clientValue) {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	conflicts := make([]ConflictDescriptor, 0, len(fields))
	for _, field := range fields {
		serverValue := server[field]
		clientValue := client[field]

		descriptor := ConflictDescriptor{
			Field:       field,
			ServerValue: serverValue,
			ClientValue: clientValue,
			Resolution:  resolutionFor(resolved[field], serverValue, clientValue),
		}
		serverMap, serverIsMap := serverValue.(map[string]any)
		clientMap, clientIsMap := clientValue.(map[string]any)
		if serverIsMap && clientIsMap {
			paths := []string{}
			diffInto(&paths, field, serverMap, clientMap)
			sort.Strings(paths)
			descriptor.Paths = paths
		}
		conflicts = append(conflicts, descriptor)
	}
	return conflicts
}

func resolutionFor(resolvedValue, serverValue, clientValue any) string {
	switch {
	case reflect.DeepEqual(resolvedValue, clientValue):
		return "client"
	case reflect.DeepEqual(resolvedValue, serverValue):
		return "server"
	default:
		return "merged"
	}
}
