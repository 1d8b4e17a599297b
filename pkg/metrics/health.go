package metrics

import (
	"sync"
	"time"
)

// ComponentHealth is one subsystem's last reported state.
type ComponentHealth struct {
	Healthy bool
	Message string
	Updated time.Time
}

var componentRegistry = struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	startTime  time.Time
}{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// SetComponent records a subsystem's health. Components report once at
// startup and again whenever their state changes; the readiness endpoint
// folds the registry into its response.
func SetComponent(name string, healthy bool, message string) {
	componentRegistry.mu.Lock()
	defer componentRegistry.mu.Unlock()

	componentRegistry.components[name] = ComponentHealth{
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// Components returns a point-in-time copy of every reported component.
func Components() map[string]ComponentHealth {
	componentRegistry.mu.RLock()
	defer componentRegistry.mu.RUnlock()

	out := make(map[string]ComponentHealth, len(componentRegistry.components))
	for name, comp := range componentRegistry.components {
		out[name] = comp
	}
	return out
}

// Healthy reports whether every registered component is healthy. An empty
// registry counts as healthy.
func Healthy() bool {
	componentRegistry.mu.RLock()
	defer componentRegistry.mu.RUnlock()

	for _, comp := range componentRegistry.components {
		if !comp.Healthy {
			return false
		}
	}
	return true
}

// Uptime is how long the process has been running.
func Uptime() time.Duration {
	componentRegistry.mu.RLock()
	defer componentRegistry.mu.RUnlock()
	return time.Since(componentRegistry.startTime)
}
