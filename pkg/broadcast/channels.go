package broadcast

import (
	"strings"

	"github.com/rhinehart514/hivesync/pkg/types"
)

// ToolChannel returns the channel every update for a tool is published to.
func ToolChannel(toolID string) string {
	return "tool:" + toolID + ":updates"
}

// DeploymentChannel returns the channel scoped to a single deployment.
func DeploymentChannel(deploymentID string) string {
	return "deployment:" + deploymentID + ":updates"
}

// SpaceChannel returns the channel aggregating tool activity for a space.
func SpaceChannel(spaceID string) string {
	return "space:" + spaceID + ":tools"
}

// ChannelsFor computes the broadcast channels for an update on key. The tool
// channel is always included. The deployment channel is added when the key
// carries a deployment, and the space channel when a space is named and the
// caller asked for space-wide fan-out.
func ChannelsFor(key types.ToolStateKey, spaceID string, broadcastToSpace bool) []string {
	channels := []string{ToolChannel(key.ToolID)}

	if key.DeploymentID != "" {
		channels = append(channels, DeploymentChannel(key.DeploymentID))
	}

	if spaceID != "" && broadcastToSpace {
		channels = append(channels, SpaceChannel(spaceID))
	}

	return channels
}

// ChannelScope maps a channel name to its scope label ("tool", "deployment",
// "space"). Used for metrics labels, which must stay low-cardinality.
func ChannelScope(channel string) string {
	switch {
	case strings.HasPrefix(channel, "tool:"):
		return "tool"
	case strings.HasPrefix(channel, "deployment:"):
		return "deployment"
	case strings.HasPrefix(channel, "space:"):
		return "space"
	default:
		return "other"
	}
}
