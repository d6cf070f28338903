// Package navguard decides whether leaving the conversation view needs the user's confirmation.
package navguard

import (
	"context"
	"fmt"
)

// ActivitySource reports whether a turn is streaming.
type ActivitySource interface {
	Active() bool
}

// TimelineSource reports whether there is conversation content to lose.
type TimelineSource interface {
	NonEmpty() bool
}

// Confirmer asks the user whether to leave. It returns true to leave.
type Confirmer interface {
	ConfirmLeave(ctx context.Context) (bool, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context) (bool, error)

// ConfirmLeave calls f.
func (f ConfirmerFunc) ConfirmLeave(ctx context.Context) (bool, error) {
	return f(ctx)
}

// Guard is a read-only view over the session and the timeline.
type Guard struct {
	activity ActivitySource
	timeline TimelineSource
}

// New returns a guard over the given sources.
func New(activity ActivitySource, timeline TimelineSource) Guard {
	return Guard{activity: activity, timeline: timeline}
}

// ShouldBlock reports whether navigation away must be confirmed: a turn is streaming or the
// timeline has content. It is evaluated on every call.
func (g Guard) ShouldBlock() bool {
	return g.activity.Active() || g.timeline.NonEmpty()
}

// Confirm returns true when navigation may proceed. It only asks c when ShouldBlock is true.
// Declining has no side effects.
func (g Guard) Confirm(ctx context.Context, c Confirmer) (bool, error) {
	if !g.ShouldBlock() {
		return true, nil
	}
	ok, err := c.ConfirmLeave(ctx)
	if err != nil {
		return false, fmt.Errorf("error confirming navigation: %w", err)
	}
	return ok, nil
}

// Leave runs teardown once navigation is confirmed and reports whether it did.
func (g Guard) Leave(ctx context.Context, c Confirmer, teardown func()) (bool, error) {
	ok, err := g.Confirm(ctx, c)
	if err != nil || !ok {
		return false, err
	}
	if teardown != nil {
		teardown()
	}
	return true, nil
}
