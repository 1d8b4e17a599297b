package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rhinehart514/hivesync/pkg/types"
)

func TestChannelsFor(t *testing.T) {
	tests := []struct {
		name             string
		key              types.ToolStateKey
		spaceID          string
		broadcastToSpace bool
		want             []string
	}{
		{
			name: "tool only",
			key:  types.ToolStateKey{ToolID: "tool-1"},
			want: []string{"tool:tool-1:updates"},
		},
		{
			name: "with deployment",
			key:  types.ToolStateKey{ToolID: "tool-1", DeploymentID: "dep-1"},
			want: []string{"tool:tool-1:updates", "deployment:dep-1:updates"},
		},
		{
			name:    "space without opt-in stays scoped",
			key:     types.ToolStateKey{ToolID: "tool-1"},
			spaceID: "space-9",
			want:    []string{"tool:tool-1:updates"},
		},
		{
			name:             "space broadcast",
			key:              types.ToolStateKey{ToolID: "tool-1", DeploymentID: "dep-1"},
			spaceID:          "space-9",
			broadcastToSpace: true,
			want: []string{
				"tool:tool-1:updates",
				"deployment:dep-1:updates",
				"space:space-9:tools",
			},
		},
		{
			name:             "opt-in without a space id",
			key:              types.ToolStateKey{ToolID: "tool-1"},
			broadcastToSpace: true,
			want:             []string{"tool:tool-1:updates"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChannelsFor(tt.key, tt.spaceID, tt.broadcastToSpace)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannelScope(t *testing.T) {
	assert.Equal(t, "tool", ChannelScope("tool:abc:updates"))
	assert.Equal(t, "deployment", ChannelScope("deployment:dep-1:updates"))
	assert.Equal(t, "space", ChannelScope("space:s1:tools"))
	assert.Equal(t, "other", ChannelScope("something-else"))
}
