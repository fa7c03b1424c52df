package app

import (
	"context"
	"fmt"
)

// EventModeGate decides whether a conquest resolves conflicts. Without a
// provider resolution is always active.
type EventModeGate struct {
	provider PolicyProvider
}

// NewEventModeGate wraps a policy provider.
func NewEventModeGate(provider PolicyProvider) EventModeGate {
	return EventModeGate{provider: provider}
}

// Active reports whether conflict resolution applies. Provider failures are
// returned so callers fail closed.
func (g EventModeGate) Active(ctx context.Context) (bool, error) {
	if g.provider == nil {
		return true, nil
	}
	active, err := g.provider.IsConflictResolutionActive(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}
	return active, nil
}
