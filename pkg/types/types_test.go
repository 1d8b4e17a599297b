package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToolStateKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  ToolStateKey
		want string
	}{
		{
			name: "tool only",
			key:  ToolStateKey{ToolID: "tool-1"},
			want: "tool-1",
		},
		{
			name: "tool and deployment",
			key:  ToolStateKey{ToolID: "tool-1", DeploymentID: "dep-9"},
			want: "tool-1:dep-9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.key.String())
			assert.Equal(t, tt.key, ParseKey(tt.want))
		})
	}
}

func TestUpdateTypeValid(t *testing.T) {
	valid := []UpdateType{
		UpdateStateChange,
		UpdateValueUpdate,
		UpdateConfigurationChange,
		UpdateDeploymentUpdate,
		UpdateExecutionResult,
		UpdateError,
		UpdateStatusChange,
	}
	for _, ut := range valid {
		assert.True(t, ut.Valid(), "expected %q to be valid", ut)
	}

	assert.False(t, UpdateType("").Valid())
	assert.False(t, UpdateType("delete_everything").Valid())
}

func TestUpdateEventExpired(t *testing.T) {
	now := time.Now()

	noExpiry := &UpdateEvent{ID: "e1"}
	assert.False(t, noExpiry.Expired(now))

	past := now.Add(-time.Minute)
	expired := &UpdateEvent{ID: "e2", ExpiresAt: &past}
	assert.True(t, expired.Expired(now))

	future := now.Add(time.Minute)
	live := &UpdateEvent{ID: "e3", ExpiresAt: &future}
	assert.False(t, live.Expired(now))
}

func TestElementKey(t *testing.T) {
	key := ElementKey("counter-1", "votes")
	assert.Equal(t, "counter-1:votes", key)

	elementID, name, ok := SplitElementKey(key)
	assert.True(t, ok)
	assert.Equal(t, "counter-1", elementID)
	assert.Equal(t, "votes", name)

	_, _, ok = SplitElementKey("bare")
	assert.False(t, ok)
}
