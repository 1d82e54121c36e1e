// Package broadcast delivers named events to connected sessions, either
// in-process or fanned out through Redis pub/sub.
package broadcast

import (
	"context"
)

// Event is a named payload pushed to sessions.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Deliverer hands an event to every locally connected session.
type Deliverer interface {
	Deliver(ev Event)
}

// Bus publishes events to sessions.
type Bus interface {
	// Publish sends ev to all sessions.
	Publish(ctx context.Context, ev Event) error

	// Run blocks until ctx is done, pumping inbound events for buses that need it.
	Run(ctx context.Context) error
}

// Local delivers events synchronously to sessions of this process.
type Local struct {
	target Deliverer
}

// NewLocal creates an in-process bus.
func NewLocal(target Deliverer) *Local {
	return &Local{target: target}
}

// Publish delivers ev immediately.
func (l *Local) Publish(_ context.Context, ev Event) error {
	l.target.Deliver(ev)
	return nil
}

// Run blocks until ctx is done.
func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
